package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/antoniostano/streamchat/internal/archive"
	"github.com/antoniostano/streamchat/internal/assembly"
	"github.com/antoniostano/streamchat/internal/genclient"
	"github.com/antoniostano/streamchat/internal/observability"
	"github.com/antoniostano/streamchat/internal/policy"
	"github.com/antoniostano/streamchat/internal/reliability"
	"github.com/antoniostano/streamchat/internal/reveal"
	"github.com/antoniostano/streamchat/internal/session"
)

var (
	ErrNoActiveTurn       = errors.New("no active turn")
	ErrConversationEnded  = errors.New("conversation ended")
	errTurnFailedInStream = errors.New("turn failed in stream")
)

const (
	suggestionTimeout  = 10 * time.Second
	backendStopTimeout = 5 * time.Second
	archiveSaveTimeout = 2 * time.Second
)

type Options struct {
	RevealInterval     time.Duration
	RevealCharsPerTick int
	SuggestionsEnabled bool
	PreflightEnabled   bool
}

// Orchestrator owns the single active turn of every conversation.
type Orchestrator struct {
	sessions *session.Manager
	client   genclient.Client
	archive  archive.Store
	metrics  *observability.Metrics
	logger   *slog.Logger
	opts     Options

	mu     sync.Mutex
	latest map[string]*turnRun

	wg sync.WaitGroup
}

func NewOrchestrator(
	sessions *session.Manager,
	client genclient.Client,
	store archive.Store,
	metrics *observability.Metrics,
	logger *slog.Logger,
	opts Options,
) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.RevealInterval <= 0 {
		opts.RevealInterval = reveal.DefaultInterval
	}
	if opts.RevealCharsPerTick <= 0 {
		opts.RevealCharsPerTick = reveal.DefaultCharsPerTick
	}
	return &Orchestrator{
		sessions: sessions,
		client:   client,
		archive:  store,
		metrics:  metrics,
		logger:   logger,
		opts:     opts,
		latest:   make(map[string]*turnRun),
	}
}

// StartTurn submits text as a new turn, superseding any turn still running
// in the conversation. Snapshots are delivered to sink until the turn ends.
func (o *Orchestrator) StartTurn(ctx context.Context, conversationID, text string, sink Sink) (*TurnHandle, error) {
	conv, err := o.sessions.Get(conversationID)
	if err != nil {
		return nil, err
	}
	if conv.Status != session.StatusActive {
		return nil, ErrConversationEnded
	}

	turnID := uuid.NewString()
	streamCtx, cancelStream := context.WithCancel(ctx)
	run := &turnRun{
		id:             turnID,
		conversationID: conv.ID,
		userID:         conv.UserID,
		query:          text,
		startedAt:      time.Now(),
		sink:           sink,
		cancelStream:   cancelStream,
		done:           make(chan struct{}),
		asm:            assembly.NewAssembler(turnID, conv.ID),
	}
	run.scheduler = reveal.New(o.opts.RevealInterval, o.opts.RevealCharsPerTick, func(int) {
		run.publish()
	})

	if _, err := o.sessions.StartTurn(conv.ID, turnID); err != nil {
		cancelStream()
		if errors.Is(err, session.ErrEnded) {
			return nil, ErrConversationEnded
		}
		return nil, err
	}

	o.mu.Lock()
	prev := o.latest[conv.ID]
	o.latest[conv.ID] = run
	o.mu.Unlock()

	if prev != nil {
		o.supersede(prev)
	}
	o.metrics.ConversationEvents.WithLabelValues("turn_started").Inc()
	o.logger.Debug("turn started", "conversation_id", conv.ID, "turn_id", turnID)

	run.scheduler.Start(ctx)
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		defer close(run.done)
		o.runTurn(ctx, streamCtx, run, conv.RemoteConversationID)
	}()

	return &TurnHandle{ID: turnID, done: run.done}, nil
}

// CancelTurn abandons the running turn without a result.
func (o *Orchestrator) CancelTurn(conversationID string) error {
	run := o.latestRun(conversationID)
	if run == nil {
		return ErrNoActiveTurn
	}
	run.mu.Lock()
	terminal := run.asm.Terminal()
	run.mu.Unlock()
	if terminal {
		return ErrNoActiveTurn
	}
	o.supersede(run)
	return nil
}

// StopGeneration ends the running turn now, finalizing whatever has been
// accumulated so far. The backend is told to stop on a best-effort basis.
func (o *Orchestrator) StopGeneration(conversationID string) error {
	run := o.latestRun(conversationID)
	if run == nil {
		return ErrNoActiveTurn
	}

	run.mu.Lock()
	if run.asm.Terminal() {
		run.mu.Unlock()
		return ErrNoActiveTurn
	}
	run.stopRequested = true
	run.asm.Finalize()
	finalText := run.asm.FinalText()
	taskID := run.asm.TaskID()
	run.mu.Unlock()

	run.cancelStream()
	run.scheduler.SetTarget(assembly.RuneLen(finalText), true)
	run.publish()
	o.metrics.ConversationEvents.WithLabelValues("stop_requested").Inc()
	o.metrics.ObserveIndicator("stop_requested")

	if taskID != "" {
		o.wg.Add(1)
		go func() {
			defer o.wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), backendStopTimeout)
			defer cancel()
			if err := o.client.Stop(ctx, taskID, run.userID); err != nil {
				o.logger.Debug("backend stop failed", "conversation_id", run.conversationID, "turn_id", run.id, "error", err)
			}
		}()
	}
	return nil
}

// Snapshot returns the latest turn of a conversation.
func (o *Orchestrator) Snapshot(conversationID string) (assembly.Turn, error) {
	run := o.latestRun(conversationID)
	if run == nil {
		return assembly.Turn{}, ErrNoActiveTurn
	}
	return run.snapshot(), nil
}

// Forget cancels and drops the conversation's turn state.
func (o *Orchestrator) Forget(conversationID string) {
	o.mu.Lock()
	run := o.latest[conversationID]
	delete(o.latest, conversationID)
	o.mu.Unlock()
	if run != nil {
		o.supersede(run)
	}
}

// Wait blocks until every turn goroutine has returned.
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}

func (o *Orchestrator) latestRun(conversationID string) *turnRun {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.latest[conversationID]
}

// supersede cancels every activity of run. Cancellation is the last
// mutation the turn ever receives.
func (o *Orchestrator) supersede(run *turnRun) {
	run.mu.Lock()
	if run.superseded {
		run.mu.Unlock()
		return
	}
	run.superseded = true
	ch := run.asm.Cancel()
	cancelLookup := run.cancelLookup
	run.mu.Unlock()

	run.cancelStream()
	if cancelLookup != nil {
		cancelLookup()
	}
	run.scheduler.Stop()
	if ch != 0 {
		run.publish()
		o.metrics.ConversationEvents.WithLabelValues("turn_superseded").Inc()
		o.metrics.ObserveIndicator("turn_superseded")
	}
}

func (o *Orchestrator) runTurn(ctx, streamCtx context.Context, run *turnRun, remoteConversationID string) {
	body, err := o.client.Stream(streamCtx, genclient.Request{
		Query:          run.query,
		User:           run.userID,
		ConversationID: remoteConversationID,
	})
	if err == nil {
		stopClose := context.AfterFunc(streamCtx, func() { _ = body.Close() })
		err = assembly.ReadRecords(streamCtx, body, func(record string) error {
			return o.handleRecord(run, record)
		})
		if stopClose() {
			_ = body.Close()
		}
	}
	run.cancelStream()
	o.finishTurn(ctx, run, err)
}

func (o *Orchestrator) handleRecord(run *turnRun, record string) error {
	evt, reason, ok := assembly.Classify(record)
	if !ok {
		if reason != assembly.DropNoPrefix || record != "" {
			o.metrics.DroppedRecords.WithLabelValues(string(reason)).Inc()
		}
		if reason == assembly.DropMalformed {
			o.logger.Debug("dropped malformed record", "turn_id", run.id, "record", record)
		}
		return nil
	}
	if evt.Kind == assembly.KindUnrecognized {
		return nil
	}

	run.mu.Lock()
	if run.superseded || run.stopRequested {
		run.mu.Unlock()
		return context.Canceled
	}
	ch := run.asm.Apply(evt)
	turn := run.asm.Snapshot()
	firstStatus := ch.Has(assembly.ChangeStatus) && turn.Status != nil && !run.sawStatus
	firstContent := ch.Has(assembly.ChangeText) && turn.FinalText != "" && !run.sawContent
	run.sawStatus = run.sawStatus || firstStatus
	run.sawContent = run.sawContent || firstContent
	run.mu.Unlock()

	if firstStatus {
		o.metrics.ObserveStage(observability.StageFirstStatus, time.Since(run.startedAt))
	}
	if firstContent {
		o.metrics.ObserveFirstContentLatency(time.Since(run.startedAt))
	}
	if ch.Has(assembly.ChangeMode) {
		o.metrics.ProtocolModes.WithLabelValues(string(turn.Mode)).Inc()
	}
	if ch == 0 {
		return nil
	}

	run.scheduler.SetTarget(assembly.RuneLen(turn.FinalText), turn.State == assembly.StateFinalized)
	run.publish()
	if turn.State == assembly.StateFailed {
		return errTurnFailedInStream
	}
	return nil
}

func (o *Orchestrator) finishTurn(ctx context.Context, run *turnRun, streamErr error) {
	run.mu.Lock()
	var ch assembly.Change
	if !run.asm.Terminal() {
		switch {
		case ctx.Err() != nil:
			ch = run.asm.Cancel()
		case streamErr == nil:
			// Clean end of stream without a terminal event.
			ch = run.asm.Finalize()
		case errors.Is(streamErr, assembly.ErrRecordTooLong):
			o.metrics.DroppedRecords.WithLabelValues("oversized").Inc()
			ch = run.asm.Fail(assembly.TurnError{
				Code:    "record_too_long",
				Message: streamErr.Error(),
			})
		default:
			failure := reliability.ClassifyTransportError(streamErr)
			ch = run.asm.Fail(assembly.TurnError{
				Code:      failure.Code,
				Message:   streamErr.Error(),
				Retryable: failure.Retryable,
			})
		}
	}
	turn := run.asm.Snapshot()
	stopped := run.stopRequested
	superseded := run.superseded
	run.mu.Unlock()

	if superseded {
		o.metrics.Turns.WithLabelValues("cancelled").Inc()
		_ = o.sessions.FinishTurn(run.conversationID, run.id)
		return
	}

	switch turn.State {
	case assembly.StateFinalized:
		run.scheduler.SetTarget(assembly.RuneLen(turn.FinalText), true)
	default:
		run.scheduler.Stop()
	}
	if ch != 0 {
		run.publish()
	}

	outcome := string(turn.State)
	if stopped {
		outcome = "stopped"
	}
	o.metrics.Turns.WithLabelValues(outcome).Inc()
	o.metrics.ObserveStage(observability.StageFinalized, time.Since(run.startedAt))
	if turn.Error != nil {
		o.metrics.TransportErrors.WithLabelValues(turn.Error.Code).Inc()
		o.logger.Warn("turn failed",
			"conversation_id", run.conversationID,
			"turn_id", run.id,
			"code", turn.Error.Code,
			"retryable", turn.Error.Retryable,
			"error", turn.Error.Message,
		)
	}

	_ = o.sessions.FinishTurn(run.conversationID, run.id)
	_ = o.sessions.SetRemoteConversationID(run.conversationID, turn.RemoteConversationID)

	if turn.State == assembly.StateCancelled {
		return
	}
	o.saveTurn(run, turn)

	if turn.State == assembly.StateFinalized && !stopped && turn.MessageID != "" && o.opts.SuggestionsEnabled {
		o.lookupSuggestions(ctx, run, turn.MessageID)
	}

	// Let the reveal finish before the turn reports done.
	select {
	case <-run.scheduler.Done():
	case <-ctx.Done():
		run.scheduler.Stop()
	}
}

// lookupSuggestions fetches side-channel follow-ups and applies them only if
// the turn is still the latest of its conversation. Failures are swallowed.
func (o *Orchestrator) lookupSuggestions(ctx context.Context, run *turnRun, messageID string) {
	lookupCtx, cancel := context.WithTimeout(ctx, suggestionTimeout)
	defer cancel()

	run.mu.Lock()
	if run.superseded {
		run.mu.Unlock()
		o.metrics.SideChannel.WithLabelValues("discarded").Inc()
		return
	}
	run.cancelLookup = cancel
	run.mu.Unlock()

	actions, err := o.client.Suggestions(lookupCtx, messageID, run.userID)
	if err != nil {
		o.metrics.SideChannel.WithLabelValues("failed").Inc()
		o.logger.Debug("suggestion lookup failed", "turn_id", run.id, "message_id", messageID, "error", err)
		return
	}

	run.mu.Lock()
	if run.superseded {
		run.mu.Unlock()
		o.metrics.SideChannel.WithLabelValues("discarded").Inc()
		o.metrics.ObserveIndicator("late_suggestions_discarded")
		return
	}
	ch := run.asm.ReplaceSuggestions(actions)
	turn := run.asm.Snapshot()
	run.mu.Unlock()

	if ch == 0 {
		o.metrics.SideChannel.WithLabelValues("empty").Inc()
		return
	}
	o.metrics.SideChannel.WithLabelValues("applied").Inc()
	run.publish()
	o.saveTurn(run, turn)
}

func (o *Orchestrator) saveTurn(run *turnRun, turn assembly.Turn) {
	if o.archive == nil {
		return
	}
	query, _ := policy.Redact(run.query)
	ctx, cancel := context.WithTimeout(context.Background(), archiveSaveTimeout)
	defer cancel()
	if err := o.archive.Save(ctx, archive.FromTurn(turn, run.userID, query)); err != nil {
		o.metrics.ConversationEvents.WithLabelValues("archive_save_failed").Inc()
		o.logger.Warn("archive save failed", "turn_id", run.id, "error", fmt.Errorf("save turn %s: %w", run.id, err))
	}
}
