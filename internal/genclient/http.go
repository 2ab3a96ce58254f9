package genclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/antoniostano/streamchat/internal/assembly"
	"github.com/antoniostano/streamchat/internal/reliability"
)

const (
	suggestionAttempts = 3
	suggestionBackoff  = 200 * time.Millisecond
	suggestionMaxWait  = 2 * time.Second
)

// StatusError is returned when the generation service answers with a non-2xx status.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("generation service status %d", e.StatusCode)
	}
	return fmt.Sprintf("generation service status %d: %s", e.StatusCode, e.Body)
}

func (e *StatusError) HTTPStatus() int { return e.StatusCode }

// Retryable reports whether a later attempt could succeed.
func (e *StatusError) Retryable() bool {
	return reliability.IsRetryableHTTPStatus(e.StatusCode)
}

// HTTPClient talks to a chat-messages style generation API over HTTP.
type HTTPClient struct {
	baseURL string
	apiKey  string
	// stream has no overall timeout; the turn context bounds it.
	stream  *http.Client
	client  *http.Client
	limiter *rate.Limiter
}

func NewHTTPClient(cfg Config) *HTTPClient {
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	perSecond := cfg.SuggestionsPerSecond
	if perSecond <= 0 {
		perSecond = 5
	}
	burst := int(perSecond)
	if burst < 1 {
		burst = 1
	}
	return &HTTPClient{
		baseURL: strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"),
		apiKey:  strings.TrimSpace(cfg.APIKey),
		stream:  &http.Client{},
		client: &http.Client{
			Timeout: timeout,
		},
		limiter: rate.NewLimiter(rate.Limit(perSecond), burst),
	}
}

func (c *HTTPClient) Stream(ctx context.Context, req Request) (io.ReadCloser, error) {
	if req.Inputs == nil {
		req.Inputs = map[string]any{}
	}
	req.ResponseMode = "streaming"

	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat-messages", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	c.authorize(httpReq)

	res, err := c.stream.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	if err := checkStatus(res); err != nil {
		return nil, err
	}
	return res.Body, nil
}

func (c *HTTPClient) Suggestions(ctx context.Context, messageID, user string) ([]assembly.SuggestedAction, error) {
	messageID = strings.TrimSpace(messageID)
	if messageID == "" {
		return nil, errors.New("message id is required")
	}

	var lastErr error
	for attempt := 0; attempt < suggestionAttempts; attempt++ {
		if attempt > 0 {
			wait := reliability.ExponentialBackoff(attempt-1, suggestionBackoff, suggestionMaxWait)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(wait):
			}
		}
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		actions, err := c.fetchSuggestions(ctx, messageID, user)
		if err == nil {
			return actions, nil
		}
		lastErr = err
		var statusErr *StatusError
		if !errors.As(err, &statusErr) || !statusErr.Retryable() {
			return nil, err
		}
	}
	return nil, lastErr
}

func (c *HTTPClient) fetchSuggestions(ctx context.Context, messageID, user string) ([]assembly.SuggestedAction, error) {
	endpoint := fmt.Sprintf("%s/messages/%s/suggested?user=%s", c.baseURL, url.PathEscape(messageID), url.QueryEscape(user))
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Accept", "application/json")
	c.authorize(httpReq)

	res, err := c.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	defer res.Body.Close()
	if err := checkStatus(res); err != nil {
		return nil, err
	}

	var body struct {
		Data []json.RawMessage `json:"data"`
	}
	if err := json.NewDecoder(io.LimitReader(res.Body, 1<<20)).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode suggestions: %w", err)
	}
	return assembly.DecodeSuggestions(body.Data), nil
}

func (c *HTTPClient) Stop(ctx context.Context, taskID, user string) error {
	taskID = strings.TrimSpace(taskID)
	if taskID == "" {
		return nil
	}
	payload, err := json.Marshal(map[string]string{"user": user})
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	endpoint := fmt.Sprintf("%s/chat-messages/%s/stop", c.baseURL, url.PathEscape(taskID))
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	c.authorize(httpReq)

	res, err := c.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer res.Body.Close()
	if err := checkStatus(res); err != nil {
		return err
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(res.Body, 4<<10))
	return nil
}

func (c *HTTPClient) authorize(req *http.Request) {
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
}

// checkStatus closes the body and returns a StatusError for non-2xx responses.
func checkStatus(res *http.Response) error {
	if res.StatusCode >= 200 && res.StatusCode < 300 {
		return nil
	}
	body, _ := io.ReadAll(io.LimitReader(res.Body, 4<<10))
	_ = res.Body.Close()
	return &StatusError{StatusCode: res.StatusCode, Body: strings.TrimSpace(string(body))}
}
