package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/antoniostano/streamchat/internal/assembly"
	"github.com/antoniostano/streamchat/internal/policy"
)

// MessageType identifies websocket payload variants.
type MessageType string

const (
	TypeStartTurn        MessageType = "start_turn"
	TypeCancelTurn       MessageType = "cancel_turn"
	TypeStopGeneration   MessageType = "stop_generation"
	TypeTurnSnapshot     MessageType = "turn_snapshot"
	TypePreflightWarning MessageType = "preflight_warning"
	TypeSystemEvent      MessageType = "system_event"
	TypeErrorEvent       MessageType = "error_event"
)

var ErrUnsupportedType = errors.New("unsupported message type")

type Envelope struct {
	Type MessageType `json:"type"`
}

// StartTurn submits a user message. Approved overrides a preflight warning.
type StartTurn struct {
	Type           MessageType `json:"type"`
	ConversationID string      `json:"conversation_id"`
	Text           string      `json:"text"`
	Approved       bool        `json:"approved"`
}

type CancelTurn struct {
	Type           MessageType `json:"type"`
	ConversationID string      `json:"conversation_id"`
}

type StopGeneration struct {
	Type           MessageType `json:"type"`
	ConversationID string      `json:"conversation_id"`
}

// TurnSnapshot carries the read-only turn state after a meaningful change.
type TurnSnapshot struct {
	Type           MessageType   `json:"type"`
	ConversationID string        `json:"conversation_id"`
	RevealedText   string        `json:"revealed_text"`
	Turn           assembly.Turn `json:"turn"`
}

type PreflightWarning struct {
	Type           MessageType   `json:"type"`
	ConversationID string        `json:"conversation_id"`
	Report         policy.Report `json:"report"`
}

type SystemEvent struct {
	Type           MessageType `json:"type"`
	ConversationID string      `json:"conversation_id"`
	Code           string      `json:"code"`
	Detail         string      `json:"detail,omitempty"`
}

type ErrorEvent struct {
	Type           MessageType `json:"type"`
	ConversationID string      `json:"conversation_id"`
	Code           string      `json:"code"`
	Source         string      `json:"source"`
	Retryable      bool        `json:"retryable"`
	Detail         string      `json:"detail"`
}

func ParseClientMessage(raw []byte) (any, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("invalid envelope: %w", err)
	}

	switch env.Type {
	case TypeStartTurn:
		var msg StartTurn
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if strings.TrimSpace(msg.Text) == "" {
			return nil, errors.New("invalid start_turn: text is required")
		}
		return msg, nil
	case TypeCancelTurn:
		var msg CancelTurn
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		return msg, nil
	case TypeStopGeneration:
		var msg StopGeneration
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		return msg, nil
	default:
		return nil, ErrUnsupportedType
	}
}
