package assembly

import (
	"slices"
	"strings"
	"time"

	"github.com/antoniostano/streamchat/internal/reliability"
)

// Change is a bit set describing what an event altered on the turn.
type Change uint16

const (
	ChangeStatus Change = 1 << iota
	ChangeText
	ChangeMode
	ChangeCitations
	ChangeSuggestions
	ChangeIDs
	ChangeTerminal
)

// Has reports whether every bit of other is set.
func (c Change) Has(other Change) bool { return c&other == other }

// Assembler folds classified events into one Turn. It is not safe for
// concurrent use: events must be applied by a single consumer, in order.
type Assembler struct {
	turn Turn
	raw  strings.Builder

	answer      string
	answerFound bool

	now func() time.Time
}

// NewAssembler returns an assembler for a fresh streaming turn.
func NewAssembler(turnID, conversationID string) *Assembler {
	return newAssemblerAt(turnID, conversationID, time.Now)
}

func newAssemblerAt(turnID, conversationID string, now func() time.Time) *Assembler {
	return &Assembler{
		turn: Turn{
			ID:               turnID,
			ConversationID:   conversationID,
			Mode:             ModeUndetermined,
			Citations:        []Citation{},
			SuggestedActions: []SuggestedAction{},
			IsStreaming:      true,
			State:            StateStreaming,
			StartedAt:        now().UTC(),
		},
		now: now,
	}
}

// Snapshot returns a deep copy of the current turn.
func (a *Assembler) Snapshot() Turn {
	t := a.turn.clone()
	t.RawBuffer = a.raw.String()
	return t
}

// Terminal reports whether the turn has left StateStreaming.
func (a *Assembler) Terminal() bool {
	return a.turn.State != StateStreaming
}

func (a *Assembler) MessageID() string { return a.turn.MessageID }
func (a *Assembler) TaskID() string    { return a.turn.TaskID }
func (a *Assembler) FinalText() string { return a.turn.FinalText }
func (a *Assembler) State() State      { return a.turn.State }

// Apply folds one event into the turn and reports what changed.
func (a *Assembler) Apply(evt Event) Change {
	if a.Terminal() {
		if evt.Kind == KindContentEnd && a.turn.State == StateFinalized {
			return a.captureIDs(evt) | a.applyResources(evt.Resources)
		}
		return 0
	}

	ch := a.captureIDs(evt)
	switch evt.Kind {
	case KindNodeStarted:
		if label, ok := NarrateNode(evt.NodeType, evt.Title); ok {
			ch |= a.setStatus(&label)
		}
	case KindContent:
		ch |= a.applyContent(evt.Delta)
	case KindContentEnd:
		ch |= a.applyResources(evt.Resources)
	case KindTurnFinished:
		ch |= a.Finalize()
	case KindError:
		code := evt.ErrorCode
		if code == "" {
			code = "backend_error"
		}
		ch |= a.Fail(TurnError{
			Code:      code,
			Message:   evt.ErrorMessage,
			Retryable: reliability.IsRetryableStreamCode(code),
		})
	}
	return ch
}

func (a *Assembler) applyContent(delta string) Change {
	if delta == "" {
		return 0
	}
	a.raw.WriteString(delta)

	var ch Change
	if a.turn.Mode == ModeUndetermined {
		if m := DetectMode(a.raw.String()); m != ModeUndetermined {
			a.turn.Mode = m
			ch |= ChangeMode
		}
	}

	switch a.turn.Mode {
	case ModeRaw:
		ch |= a.setStatus(nil)
		text := strings.TrimLeft(a.raw.String(), " \t\r\n")
		if text != a.turn.FinalText {
			a.turn.FinalText = text
			ch |= ChangeText
		}
	case ModeJSON:
		buf := a.raw.String()
		value, ok := ExtractField(buf, fieldAnswer)
		if !ok {
			break
		}
		a.answerFound = true
		ch |= a.setStatus(nil)
		if len(value) > len(a.answer) {
			a.answer = value
			a.turn.FinalText = value
			ch |= ChangeText
		}
		if cites, ok := partialCitations(buf); ok && !slices.Equal(cites, a.turn.Citations) {
			a.turn.Citations = cites
			ch |= ChangeCitations
		}
		if acts, ok := partialSuggestions(buf); ok && !slices.Equal(acts, a.turn.SuggestedActions) {
			a.turn.SuggestedActions = acts
			ch |= ChangeSuggestions
		}
	}
	return ch
}

func (a *Assembler) applyResources(resources []RetrieverResource) Change {
	if len(a.turn.Citations) > 0 {
		return 0
	}
	cites := CitationsFromResources(resources)
	if len(cites) == 0 {
		return 0
	}
	a.turn.Citations = cites
	return ChangeCitations
}

func (a *Assembler) captureIDs(evt Event) Change {
	var ch Change
	if evt.MessageID != "" && evt.MessageID != a.turn.MessageID {
		a.turn.MessageID = evt.MessageID
		ch |= ChangeIDs
	}
	if evt.ConversationID != "" && evt.ConversationID != a.turn.RemoteConversationID {
		a.turn.RemoteConversationID = evt.ConversationID
		ch |= ChangeIDs
	}
	if evt.TaskID != "" && evt.TaskID != a.turn.TaskID {
		a.turn.TaskID = evt.TaskID
		ch |= ChangeIDs
	}
	return ch
}

func (a *Assembler) setStatus(label *string) Change {
	cur := a.turn.Status
	switch {
	case cur == nil && label == nil:
		return 0
	case cur != nil && label != nil && *cur == *label:
		return 0
	}
	if label == nil {
		a.turn.Status = nil
	} else {
		l := *label
		a.turn.Status = &l
	}
	return ChangeStatus
}

// Finalize resolves the accumulated buffer into the authoritative result.
// It is used for turn-finished, clean end of stream and stop-generation, and
// takes effect only once.
func (a *Assembler) Finalize() Change {
	if a.Terminal() {
		return 0
	}
	res := Resolve(a.raw.String(), a.turn.Mode, a.answer, a.answerFound)
	a.turn.FinalText = res.Text
	if res.Citations != nil {
		a.turn.Citations = res.Citations
	}
	if res.Suggestions != nil {
		a.turn.SuggestedActions = res.Suggestions
	}
	a.turn.IsFinalized = true
	a.finish(StateFinalized)
	return ChangeTerminal | ChangeText | ChangeStatus | ChangeCitations | ChangeSuggestions
}

// Fail ends the turn with an error. Citations and suggestions are dropped.
func (a *Assembler) Fail(te TurnError) Change {
	if a.Terminal() {
		return 0
	}
	a.turn.Error = &te
	a.turn.Citations = []Citation{}
	a.turn.SuggestedActions = []SuggestedAction{}
	a.finish(StateFailed)
	return ChangeTerminal | ChangeStatus | ChangeCitations | ChangeSuggestions
}

// Cancel ends the turn without a result because it was superseded.
func (a *Assembler) Cancel() Change {
	if a.Terminal() {
		return 0
	}
	a.finish(StateCancelled)
	return ChangeTerminal | ChangeStatus
}

// ReplaceSuggestions applies side-channel suggestions to a finalized turn.
// They replace, never extend, the current list.
func (a *Assembler) ReplaceSuggestions(actions []SuggestedAction) Change {
	if a.turn.State != StateFinalized || actions == nil {
		return 0
	}
	a.turn.SuggestedActions = slices.Clone(actions)
	return ChangeSuggestions
}

func (a *Assembler) finish(state State) {
	a.turn.State = state
	a.turn.Status = nil
	a.turn.IsStreaming = false
	a.turn.FinishedAt = a.now().UTC()
}
