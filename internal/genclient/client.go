package genclient

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/antoniostano/streamchat/internal/assembly"
)

// Request is one user message sent to the generation service.
type Request struct {
	Query          string         `json:"query"`
	Inputs         map[string]any `json:"inputs"`
	ResponseMode   string         `json:"response_mode"`
	User           string         `json:"user"`
	ConversationID string         `json:"conversation_id,omitempty"`
}

// Client is the transport to the remote generation service.
type Client interface {
	// Stream opens the event stream for one turn. The caller closes the body.
	Stream(ctx context.Context, req Request) (io.ReadCloser, error)
	// Suggestions fetches follow-up questions for a finished message.
	Suggestions(ctx context.Context, messageID, user string) ([]assembly.SuggestedAction, error)
	// Stop asks the backend to abandon an in-flight generation.
	Stop(ctx context.Context, taskID, user string) error
}

// Config controls client construction.
type Config struct {
	Backend              string
	BaseURL              string
	APIKey               string
	RequestTimeout       time.Duration
	SuggestionsPerSecond float64
	MockDelay            time.Duration
}

func New(cfg Config) (Client, error) {
	backend := strings.ToLower(strings.TrimSpace(cfg.Backend))
	if backend == "" {
		backend = "auto"
	}

	switch backend {
	case "auto":
		if strings.TrimSpace(cfg.BaseURL) != "" {
			return NewHTTPClient(cfg), nil
		}
		return NewMockClient(cfg.MockDelay), nil
	case "http":
		if strings.TrimSpace(cfg.BaseURL) == "" {
			return nil, fmt.Errorf("generation service url is required for http backend")
		}
		return NewHTTPClient(cfg), nil
	case "mock":
		return NewMockClient(cfg.MockDelay), nil
	default:
		return nil, fmt.Errorf("unsupported generation backend %q", cfg.Backend)
	}
}
