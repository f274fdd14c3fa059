package translation

import (
	"context"
	"errors"
	"fmt"
	"net"

	openai "github.com/sashabaranov/go-openai"
)

// TransientError marks a failure worth retrying: timeouts, rate limits and
// 5xx-class responses.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient language service error: %v", e.Err)
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// PermanentError marks a failure that must not be retried (auth, malformed
// input) or a transient failure whose retry budget is exhausted. The
// coordinator records it as a gap instead of aborting the session.
type PermanentError struct {
	Err error
	// RetriesExhausted distinguishes an exhausted transient failure from a
	// failure that was permanent outright.
	RetriesExhausted bool
}

func (e *PermanentError) Error() string {
	if e.RetriesExhausted {
		return fmt.Sprintf("language service failed after exhausting retries: %v", e.Err)
	}
	return fmt.Sprintf("permanent language service error: %v", e.Err)
}

func (e *PermanentError) Unwrap() error {
	return e.Err
}

// IsPermanent reports whether err is a permanent language service failure.
func IsPermanent(err error) bool {
	var p *PermanentError
	return errors.As(err, &p)
}

// classify wraps an API error into the transient/permanent taxonomy.
// Context cancellation is passed through untouched so the caller can tell
// shutdown apart from service failure.
func classify(err error) error {
	if err == nil {
		return nil
	}

	// Already classified errors pass through untouched.
	var p *PermanentError
	var t *TransientError
	if errors.As(err, &p) || errors.As(err, &t) {
		return err
	}

	if errors.Is(err, context.Canceled) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &TransientError{Err: err}
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		if apiErr.HTTPStatusCode == 429 || apiErr.HTTPStatusCode >= 500 {
			return &TransientError{Err: err}
		}
		return &PermanentError{Err: err}
	}

	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		if reqErr.HTTPStatusCode == 429 || reqErr.HTTPStatusCode >= 500 {
			return &TransientError{Err: err}
		}
		return &PermanentError{Err: err}
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return &TransientError{Err: err}
	}

	// Unknown transport failures are assumed recoverable.
	return &TransientError{Err: err}
}
