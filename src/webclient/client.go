package webclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const maxResponseBody = 64 << 10

// NewDefault returns an HTTP client with sane timeouts.
func NewDefault(timeout time.Duration) *http.Client {
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &http.Client{Timeout: timeout}
}

// StatusError reports a non-2xx response that survived the retries.
type StatusError struct {
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("webclient: unexpected status %d: %s", e.Status, e.Body)
}

// PostJSON encodes payload and POSTs it to url, retrying transient failures.
// Extra headers (for example Authorization) are applied to every attempt.
func PostJSON(ctx context.Context, client *http.Client, url string, headers map[string]string, payload any, attempts int, delay time.Duration) error {
	if client == nil {
		client = NewDefault(0)
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("webclient: encode payload: %w", err)
	}

	status, resp, err := DoWithRetry(ctx, attempts, delay, func() (int, []byte, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return 0, nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		for k, v := range headers {
			req.Header.Set(k, v)
		}
		res, err := client.Do(req)
		if err != nil {
			return 0, nil, err
		}
		defer res.Body.Close()
		data, _ := io.ReadAll(io.LimitReader(res.Body, maxResponseBody))
		return res.StatusCode, data, nil
	})
	if err != nil {
		return fmt.Errorf("webclient: post %s: %w", url, err)
	}
	if status < 200 || status > 299 {
		return &StatusError{Status: status, Body: string(resp)}
	}
	return nil
}
