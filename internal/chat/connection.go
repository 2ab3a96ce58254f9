package chat

import (
	"context"
	"errors"
	"time"

	"github.com/antoniostano/streamchat/internal/assembly"
	"github.com/antoniostano/streamchat/internal/policy"
	"github.com/antoniostano/streamchat/internal/protocol"
	"github.com/antoniostano/streamchat/internal/session"
)

const criticalSendTimeout = 600 * time.Millisecond

// RunConnection serves one websocket client of a conversation until ctx is
// done or inbound is closed. Parsed client messages arrive on inbound; every
// server message is written to outbound.
func (o *Orchestrator) RunConnection(ctx context.Context, conv *session.Conversation, inbound <-chan any, outbound chan<- any) error {
	sink := func(t assembly.Turn) {
		o.send(outbound, protocol.TurnSnapshot{
			Type:           protocol.TypeTurnSnapshot,
			ConversationID: conv.ID,
			RevealedText:   t.RevealedText(),
			Turn:           t,
		})
	}

	o.send(outbound, protocol.SystemEvent{
		Type:           protocol.TypeSystemEvent,
		ConversationID: conv.ID,
		Code:           "conversation_ready",
	})

	for {
		select {
		case <-ctx.Done():
			_ = o.CancelTurn(conv.ID)
			return nil
		case msg, ok := <-inbound:
			if !ok {
				_ = o.CancelTurn(conv.ID)
				return nil
			}
			_ = o.sessions.Touch(conv.ID)

			switch m := msg.(type) {
			case protocol.StartTurn:
				if o.opts.PreflightEnabled && !m.Approved {
					if report := policy.Scan(m.Text); report.HasWarning {
						for _, d := range report.Detections {
							o.metrics.PreflightWarnings.WithLabelValues(d.ID).Add(float64(d.Count))
						}
						o.send(outbound, protocol.PreflightWarning{
							Type:           protocol.TypePreflightWarning,
							ConversationID: conv.ID,
							Report:         report,
						})
						continue
					}
				}
				if _, err := o.StartTurn(ctx, conv.ID, m.Text, sink); err != nil {
					o.sendError(outbound, conv.ID, "start_turn_failed", err)
				}
			case protocol.CancelTurn:
				if err := o.CancelTurn(conv.ID); err != nil {
					o.sendError(outbound, conv.ID, "cancel_turn_failed", err)
				}
			case protocol.StopGeneration:
				if err := o.StopGeneration(conv.ID); err != nil {
					o.sendError(outbound, conv.ID, "stop_generation_failed", err)
				}
			}
		}
	}
}

func (o *Orchestrator) sendError(outbound chan<- any, conversationID, code string, err error) {
	retryable := true
	switch {
	case errors.Is(err, ErrConversationEnded), errors.Is(err, session.ErrNotFound), errors.Is(err, ErrNoActiveTurn):
		retryable = false
	}
	o.send(outbound, protocol.ErrorEvent{
		Type:           protocol.TypeErrorEvent,
		ConversationID: conversationID,
		Code:           code,
		Source:         "orchestrator",
		Retryable:      retryable,
		Detail:         err.Error(),
	})
}

// send delivers msg to outbound. Streaming and mid-reveal snapshots may be
// dropped when the client falls behind because the next snapshot carries the
// full state; settled snapshots and control events wait up to
// criticalSendTimeout.
func (o *Orchestrator) send(outbound chan<- any, msg any) {
	msgType, critical := outboundMessageMeta(msg)

	if !critical {
		select {
		case outbound <- msg:
			o.metrics.ObserveOutboundMessage(msgType, "delivered")
		default:
			o.metrics.ObserveOutboundMessage(msgType, "dropped")
			o.metrics.ConversationEvents.WithLabelValues("outbound_drop").Inc()
		}
		return
	}

	timer := time.NewTimer(criticalSendTimeout)
	defer timer.Stop()
	select {
	case outbound <- msg:
		o.metrics.ObserveOutboundMessage(msgType, "delivered")
	case <-timer.C:
		o.metrics.ObserveOutboundMessage(msgType, "timeout")
		o.metrics.ConversationEvents.WithLabelValues("outbound_drop").Inc()
	}
}

func outboundMessageMeta(msg any) (msgType string, critical bool) {
	switch m := msg.(type) {
	case protocol.TurnSnapshot:
		return string(m.Type), settledTurn(m.Turn)
	case protocol.PreflightWarning:
		return string(m.Type), true
	case protocol.ErrorEvent:
		return string(m.Type), true
	case protocol.SystemEvent:
		return string(m.Type), true
	default:
		return "unknown", false
	}
}

// settledTurn reports whether no later reveal tick will republish t: the
// turn failed, was cancelled, or is finalized with its text fully revealed.
func settledTurn(t assembly.Turn) bool {
	switch t.State {
	case assembly.StateFailed, assembly.StateCancelled:
		return true
	case assembly.StateFinalized:
		return t.RevealedLength >= assembly.RuneLen(t.FinalText)
	default:
		return false
	}
}
