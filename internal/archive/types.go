package archive

import (
	"context"
	"errors"
	"time"

	"github.com/antoniostano/streamchat/internal/assembly"
)

var ErrNotFound = errors.New("turn record not found")

// TurnRecord is the immutable history entry for one finished turn.
type TurnRecord struct {
	ID                   string                     `json:"id"`
	ConversationID       string                     `json:"conversation_id"`
	UserID               string                     `json:"user_id"`
	Query                string                     `json:"query"`
	State                assembly.State             `json:"state"`
	Mode                 assembly.Mode              `json:"mode"`
	FinalText            string                     `json:"final_text"`
	Citations            []assembly.Citation        `json:"citations"`
	SuggestedActions     []assembly.SuggestedAction `json:"suggested_actions"`
	Error                *assembly.TurnError        `json:"error,omitempty"`
	MessageID            string                     `json:"message_id,omitempty"`
	RemoteConversationID string                     `json:"remote_conversation_id,omitempty"`
	StartedAt            time.Time                  `json:"started_at"`
	FinishedAt           time.Time                  `json:"finished_at"`
}

// FromTurn builds a record from a terminal turn snapshot.
func FromTurn(t assembly.Turn, userID, query string) TurnRecord {
	return TurnRecord{
		ID:                   t.ID,
		ConversationID:       t.ConversationID,
		UserID:               userID,
		Query:                query,
		State:                t.State,
		Mode:                 t.Mode,
		FinalText:            t.FinalText,
		Citations:            t.Citations,
		SuggestedActions:     t.SuggestedActions,
		Error:                t.Error,
		MessageID:            t.MessageID,
		RemoteConversationID: t.RemoteConversationID,
		StartedAt:            t.StartedAt,
		FinishedAt:           t.FinishedAt,
	}
}

// Store persists finished turns. Saving an existing id replaces the record.
type Store interface {
	Save(ctx context.Context, record TurnRecord) error
	Get(ctx context.Context, id string) (TurnRecord, error)
	List(ctx context.Context, conversationID string, limit int) ([]TurnRecord, error)
	Close() error
}
