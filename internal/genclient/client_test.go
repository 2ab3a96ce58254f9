package genclient

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/antoniostano/streamchat/internal/assembly"
)

func TestNewSelectsBackend(t *testing.T) {
	c, err := New(Config{})
	require.NoError(t, err)
	assert.IsType(t, &MockClient{}, c)

	c, err = New(Config{Backend: "auto", BaseURL: "http://gen.test"})
	require.NoError(t, err)
	assert.IsType(t, &HTTPClient{}, c)

	_, err = New(Config{Backend: "http"})
	assert.Error(t, err)

	_, err = New(Config{Backend: "carrier-pigeon"})
	assert.Error(t, err)
}

func TestHTTPClientStreamSendsRequest(t *testing.T) {
	var got Request
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/chat-messages", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = io.WriteString(w, "data: {\"event\":\"message\",\"answer\":\"Hi\"}\n")
	}))
	defer srv.Close()

	c := NewHTTPClient(Config{BaseURL: srv.URL + "/v1/", APIKey: "secret"})
	body, err := c.Stream(context.Background(), Request{Query: "hello", User: "u1", ConversationID: "conv-1"})
	require.NoError(t, err)
	defer body.Close()

	raw, err := io.ReadAll(body)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"answer":"Hi"`)
	assert.Equal(t, "hello", got.Query)
	assert.Equal(t, "streaming", got.ResponseMode)
	assert.Equal(t, "conv-1", got.ConversationID)
	assert.NotNil(t, got.Inputs)
}

func TestHTTPClientStreamStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := NewHTTPClient(Config{BaseURL: srv.URL}).Stream(context.Background(), Request{Query: "x"})
	var statusErr *StatusError
	require.True(t, errors.As(err, &statusErr))
	assert.Equal(t, http.StatusServiceUnavailable, statusErr.StatusCode)
	assert.Equal(t, "overloaded", statusErr.Body)
	assert.True(t, statusErr.Retryable())
}

func TestHTTPClientSuggestions(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/messages/m-1/suggested", r.URL.Path)
		assert.Equal(t, "u1", r.URL.Query().Get("user"))
		_, _ = io.WriteString(w, `{"result":"success","data":["What next?",{"label":"Open docs","kind":"link"}]}`)
	}))
	defer srv.Close()

	got, err := NewHTTPClient(Config{BaseURL: srv.URL}).Suggestions(context.Background(), "m-1", "u1")
	require.NoError(t, err)
	assert.Equal(t, []assembly.SuggestedAction{
		{Label: "What next?", Kind: "question"},
		{Label: "Open docs", Kind: "link"},
	}, got)
}

func TestHTTPClientSuggestionsRetriesRetryableStatus(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_, _ = io.WriteString(w, `{"data":["again?"]}`)
	}))
	defer srv.Close()

	got, err := NewHTTPClient(Config{BaseURL: srv.URL, SuggestionsPerSecond: 100}).Suggestions(context.Background(), "m-1", "u1")
	require.NoError(t, err)
	assert.Len(t, got, 1)
	assert.Equal(t, int32(2), calls.Load())
}

func TestHTTPClientSuggestionsDoesNotRetryClientError(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := NewHTTPClient(Config{BaseURL: srv.URL}).Suggestions(context.Background(), "m-1", "u1")
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestHTTPClientStop(t *testing.T) {
	var path, user string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		user = body["user"]
		_, _ = io.WriteString(w, `{"result":"success"}`)
	}))
	defer srv.Close()

	c := NewHTTPClient(Config{BaseURL: srv.URL})
	require.NoError(t, c.Stop(context.Background(), "task-7", "u1"))
	assert.Equal(t, "/chat-messages/task-7/stop", path)
	assert.Equal(t, "u1", user)

	// Nothing to stop without a task id.
	require.NoError(t, c.Stop(context.Background(), "", "u1"))
}

func TestMockClientStreamAssemblesToAnswer(t *testing.T) {
	c := NewMockClient(0)
	body, err := c.Stream(context.Background(), Request{Query: "what is Go?", ConversationID: "conv-1"})
	require.NoError(t, err)
	defer body.Close()

	a := assembly.NewAssembler("t1", "conv-1")
	err = assembly.ReadRecords(context.Background(), body, func(rec string) error {
		evt, _, ok := assembly.Classify(rec)
		if ok {
			a.Apply(evt)
		}
		return nil
	})
	require.NoError(t, err)

	snap := a.Snapshot()
	assert.True(t, snap.IsFinalized)
	assert.Equal(t, assembly.ModeJSON, snap.Mode)
	assert.Equal(t, "I heard you: what is Go?", snap.FinalText)
	assert.Len(t, snap.Citations, 1)
	assert.Equal(t, "conv-1", snap.RemoteConversationID)
	assert.NotEmpty(t, snap.MessageID)
	assert.NotEmpty(t, snap.TaskID)
}

func TestMockClientRecordsStops(t *testing.T) {
	c := NewMockClient(0)
	require.NoError(t, c.Stop(context.Background(), "task-1", "u"))
	assert.Equal(t, []string{"task-1"}, c.Stopped())

	got, err := c.Suggestions(context.Background(), "m", "u")
	require.NoError(t, err)
	assert.NotEmpty(t, got)
}

func TestSplitDocKeepsRunes(t *testing.T) {
	parts := splitDoc("añb✓c", 2)
	assert.Equal(t, "añb✓c", strings.Join(parts, ""))
	for _, p := range parts {
		assert.True(t, len(p) > 0)
	}
}
