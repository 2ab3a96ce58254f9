package genclient

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/antoniostano/streamchat/internal/assembly"
)

const mockDeltaBytes = 8

// MockClient streams deterministic local replies when no generation service is configured.
type MockClient struct {
	delay time.Duration

	mu      sync.Mutex
	stopped []string
}

func NewMockClient(delay time.Duration) *MockClient {
	if delay < 0 {
		delay = 0
	}
	return &MockClient{delay: delay}
}

func (c *MockClient) Stream(ctx context.Context, req Request) (io.ReadCloser, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	records := mockRecords(req)
	pr, pw := io.Pipe()
	go func() {
		for _, rec := range records {
			if c.delay > 0 {
				select {
				case <-ctx.Done():
					_ = pw.CloseWithError(ctx.Err())
					return
				case <-time.After(c.delay):
				}
			}
			if _, err := io.WriteString(pw, rec+"\n"); err != nil {
				return
			}
		}
		_ = pw.Close()
	}()
	return pr, nil
}

func (c *MockClient) Suggestions(ctx context.Context, messageID, _ string) ([]assembly.SuggestedAction, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}
	if strings.TrimSpace(messageID) == "" {
		return nil, fmt.Errorf("message id is required")
	}
	return []assembly.SuggestedAction{
		{Label: "Can you go into more detail?", Kind: "question"},
		{Label: "What are the sources?", Kind: "question"},
	}, nil
}

func (c *MockClient) Stop(_ context.Context, taskID, _ string) error {
	c.mu.Lock()
	c.stopped = append(c.stopped, taskID)
	c.mu.Unlock()
	return nil
}

// Stopped returns the task ids passed to Stop.
func (c *MockClient) Stopped() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.stopped...)
}

func mockRecords(req Request) []string {
	conversationID := strings.TrimSpace(req.ConversationID)
	if conversationID == "" {
		conversationID = uuid.NewString()
	}
	taskID := uuid.NewString()
	messageID := uuid.NewString()

	query := strings.TrimSpace(req.Query)
	if query == "" {
		query = "(empty message)"
	}
	answer := fmt.Sprintf("I heard you: %s", query)
	doc, _ := json.Marshal(map[string]any{
		"answer": answer,
		"citations": []assembly.Citation{
			{ID: "mock-1", Kind: assembly.CitationWeb, SourceLabel: "Local mock", URL: "https://example.com/mock"},
		},
		"suggestedActions": []assembly.SuggestedAction{},
	})

	records := []string{
		record(map[string]any{"event": "node_started", "task_id": taskID, "data": map[string]any{"node_type": "knowledge-retrieval", "title": "Knowledge"}}),
		record(map[string]any{"event": "node_started", "task_id": taskID, "data": map[string]any{"node_type": "llm", "title": "LLM"}}),
	}
	for _, piece := range splitDoc(string(doc), mockDeltaBytes) {
		records = append(records, record(map[string]any{
			"event":           "message",
			"answer":          piece,
			"conversation_id": conversationID,
			"task_id":         taskID,
			"message_id":      messageID,
		}))
	}
	records = append(records,
		record(map[string]any{"event": "message_end", "conversation_id": conversationID, "message_id": messageID, "task_id": taskID}),
		record(map[string]any{"event": "workflow_finished", "task_id": taskID, "data": map[string]any{"status": "succeeded"}}),
	)
	return records
}

func record(v map[string]any) string {
	b, _ := json.Marshal(v)
	return "data: " + string(b)
}

// splitDoc cuts s into pieces of roughly n bytes on rune boundaries.
func splitDoc(s string, n int) []string {
	var out []string
	for len(s) > n {
		end := n
		for end < len(s) && s[end]&0xC0 == 0x80 {
			end++
		}
		out = append(out, s[:end])
		s = s[end:]
	}
	if s != "" {
		out = append(out, s)
	}
	return out
}
