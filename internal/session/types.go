package session

import "time"

// CreateRequest defines payload for creating a new conversation.
type CreateRequest struct {
	UserID string `json:"user_id"`
}

// CreateResponse returns created conversation metadata.
type CreateResponse struct {
	ConversationID  string    `json:"conversation_id"`
	UserID          string    `json:"user_id"`
	Status          Status    `json:"status"`
	StartedAt       time.Time `json:"started_at"`
	LastActivityAt  time.Time `json:"last_activity_at"`
	InactivityTTLMS int64     `json:"inactivity_ttl_ms"`
}
