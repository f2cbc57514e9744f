package webclient

import (
	"context"
	"net/http"
	"time"
)

// AttemptFunc performs one request and reports its status and body.
type AttemptFunc func() (status int, body []byte, err error)

// DoWithRetry retries fn on transport errors, 429 and 5xx responses, doubling
// the delay between attempts up to 30s. The last attempt's result is
// returned as is.
func DoWithRetry(ctx context.Context, attempts int, initialDelay time.Duration, fn AttemptFunc) (int, []byte, error) {
	if attempts <= 0 {
		attempts = 1
	}
	if initialDelay <= 0 {
		initialDelay = 2 * time.Second
	}
	delay := initialDelay
	for i := 0; i < attempts; i++ {
		status, body, err := fn()
		if err == nil && !retryable(status) {
			return status, body, nil
		}
		if i == attempts-1 {
			return status, body, err
		}
		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return status, body, ctx.Err()
		case <-t.C:
		}
		if delay < 30*time.Second {
			delay *= 2
		}
	}
	return 0, nil, context.DeadlineExceeded
}

func retryable(status int) bool {
	return status == http.StatusTooManyRequests || status >= 500
}
