package assembly

import (
	"time"
	"unicode/utf8"
)

// Mode is the per-turn payload interpretation. It latches on the first
// visible content and never changes afterwards.
type Mode string

const (
	ModeUndetermined Mode = "undetermined"
	ModeRaw          Mode = "raw"
	ModeJSON         Mode = "json"
)

// State is the lifecycle position of a turn.
type State string

const (
	StateStreaming State = "streaming"
	StateFinalized State = "finalized"
	StateFailed    State = "failed"
	StateCancelled State = "cancelled"
)

// CitationKind tells web sources from retrieved files.
type CitationKind string

const (
	CitationWeb  CitationKind = "web"
	CitationFile CitationKind = "file"
)

// Citation is one source attached to a finalized answer.
type Citation struct {
	ID          string       `json:"id"`
	Kind        CitationKind `json:"kind"`
	SourceLabel string       `json:"sourceLabel"`
	URL         string       `json:"url,omitempty"`
}

// SuggestedAction is a follow-up the client can offer after the answer.
type SuggestedAction struct {
	Label string `json:"label"`
	Kind  string `json:"kind"`
	Icon  string `json:"icon,omitempty"`
}

// TurnError describes why a turn ended in StateFailed.
type TurnError struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
}

// Turn is a read-only snapshot of one assistant response.
type Turn struct {
	ID                   string            `json:"turn_id"`
	ConversationID       string            `json:"conversation_id,omitempty"`
	MessageID            string            `json:"message_id,omitempty"`
	RemoteConversationID string            `json:"remote_conversation_id,omitempty"`
	TaskID               string            `json:"task_id,omitempty"`
	RawBuffer            string            `json:"-"`
	Mode                 Mode              `json:"mode"`
	Status               *string           `json:"status"`
	Citations            []Citation        `json:"citations"`
	SuggestedActions     []SuggestedAction `json:"suggested_actions"`
	FinalText            string            `json:"final_text"`
	RevealedLength       int               `json:"revealed_length"`
	IsStreaming          bool              `json:"is_streaming"`
	IsFinalized          bool              `json:"is_finalized"`
	State                State             `json:"state"`
	Error                *TurnError        `json:"error,omitempty"`
	StartedAt            time.Time         `json:"started_at"`
	FinishedAt           time.Time         `json:"finished_at,omitzero"`
}

// RevealedText returns the first RevealedLength runes of FinalText.
func (t Turn) RevealedText() string {
	return runePrefix(t.FinalText, t.RevealedLength)
}

// StatusText returns the status label or "" when none is set.
func (t Turn) StatusText() string {
	if t.Status == nil {
		return ""
	}
	return *t.Status
}

func (t Turn) clone() Turn {
	c := t
	if t.Status != nil {
		s := *t.Status
		c.Status = &s
	}
	if t.Citations != nil {
		c.Citations = append([]Citation(nil), t.Citations...)
	}
	if t.SuggestedActions != nil {
		c.SuggestedActions = append([]SuggestedAction(nil), t.SuggestedActions...)
	}
	if t.Error != nil {
		e := *t.Error
		c.Error = &e
	}
	return c
}

func runePrefix(s string, n int) string {
	if n <= 0 {
		return ""
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}

// RuneLen is the unit the reveal scheduler counts in.
func RuneLen(s string) int {
	return utf8.RuneCountInString(s)
}
