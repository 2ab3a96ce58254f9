package reliability

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"time"
)

// IsRetryableHTTPStatus classifies retryable HTTP status codes.
func IsRetryableHTTPStatus(code int) bool {
	switch code {
	case 429, 500, 502, 503, 504:
		return true
	default:
		return false
	}
}

// IsRetryableStreamCode classifies error codes reported inside the event stream.
func IsRetryableStreamCode(code string) bool {
	switch code {
	case "rate_limited", "too_many_requests", "resource_exhausted", "overloaded":
		return true
	default:
		return false
	}
}

// Failure is the user-facing classification of a transport error.
type Failure struct {
	Code      string
	Retryable bool
}

type httpStatusError interface {
	HTTPStatus() int
}

// ClassifyTransportError maps a transport error to a stable code. Retryable
// is a hint for resubmission; nothing retries automatically.
func ClassifyTransportError(err error) Failure {
	var statusErr httpStatusError
	var netErr net.Error
	switch {
	case err == nil:
		return Failure{}
	case errors.Is(err, context.DeadlineExceeded):
		return Failure{Code: "timeout", Retryable: true}
	case errors.Is(err, context.Canceled):
		return Failure{Code: "cancelled"}
	case errors.As(err, &statusErr):
		code := statusErr.HTTPStatus()
		return Failure{Code: fmt.Sprintf("http_%d", code), Retryable: IsRetryableHTTPStatus(code)}
	case errors.Is(err, io.ErrUnexpectedEOF):
		return Failure{Code: "connection_dropped", Retryable: true}
	case errors.As(err, &netErr):
		if netErr.Timeout() {
			return Failure{Code: "timeout", Retryable: true}
		}
		return Failure{Code: "connection_error", Retryable: true}
	default:
		return Failure{Code: "transport_error", Retryable: true}
	}
}

// ExponentialBackoff computes a deterministic capped backoff duration.
func ExponentialBackoff(attempt int, base, cap time.Duration) time.Duration {
	if attempt <= 0 {
		return base
	}
	d := base
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= cap {
			return cap
		}
	}
	return d
}
