package challenge

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/stake-plus/mememo/src/webclient"
)

// Notifier delivers a challenge to the third party.
type Notifier interface {
	Notify(ctx context.Context, ch Challenge) error
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, ch Challenge) error

func (f NotifierFunc) Notify(ctx context.Context, ch Challenge) error { return f(ctx, ch) }

// LogNotifier writes the challenge to the log, for operators who answer
// through the CLI.
type LogNotifier struct{}

func (LogNotifier) Notify(_ context.Context, ch Challenge) error {
	who := ch.PrincipalID
	if ch.Alias != "" {
		who = fmt.Sprintf("%s (%s)", ch.Alias, ch.PrincipalID)
	}
	log.Printf("challenge: %s requests %s, answer %s before %s", who, ch.GrantName, ch.ID, ch.ExpiresAt.Format(time.RFC3339))
	return nil
}

// Payload is the message sent to the third party.
type Payload struct {
	ChallengeID string    `json:"challenge_id"`
	Principal   string    `json:"principal"`
	Alias       string    `json:"alias,omitempty"`
	Grant       string    `json:"grant"`
	IssuedAt    time.Time `json:"issued_at"`
	ExpiresAt   time.Time `json:"expires_at"`
	RespondURL  string    `json:"respond_url,omitempty"`
}

// NewPayload builds the outbound message. respondURL is the base URL of the
// agent's API, if it is reachable by the third party.
func NewPayload(ch Challenge, respondURL string) Payload {
	p := Payload{
		ChallengeID: ch.ID,
		Principal:   ch.PrincipalID,
		Alias:       ch.Alias,
		Grant:       ch.GrantName,
		IssuedAt:    ch.IssuedAt,
		ExpiresAt:   ch.ExpiresAt,
	}
	if respondURL != "" {
		p.RespondURL = strings.TrimRight(respondURL, "/") + "/v1/auth3p/respond"
	}
	return p
}

// WebhookNotifier POSTs the challenge as JSON.
type WebhookNotifier struct {
	URL        string
	RespondURL string
	Headers    map[string]string
	Client     *http.Client
	Attempts   int
	Delay      time.Duration
}

func (w WebhookNotifier) Notify(ctx context.Context, ch Challenge) error {
	if w.URL == "" {
		return errors.New("challenge: webhook url not configured")
	}
	attempts := w.Attempts
	if attempts <= 0 {
		attempts = 3
	}
	return webclient.PostJSON(ctx, w.Client, w.URL, w.Headers, NewPayload(ch, w.RespondURL), attempts, w.Delay)
}

// DefaultStream is the Redis stream challenges are published to.
const DefaultStream = "mememo.auth3p.challenges"

// RedisStreamNotifier publishes challenges to a Redis stream consumed by
// the third party.
type RedisStreamNotifier struct {
	Redis      redis.UniversalClient
	Stream     string
	RespondURL string
	// MaxLen caps the stream length approximately; zero leaves it unbounded.
	MaxLen int64
}

func (r RedisStreamNotifier) Notify(ctx context.Context, ch Challenge) error {
	stream := r.Stream
	if stream == "" {
		stream = DefaultStream
	}
	p := NewPayload(ch, r.RespondURL)
	err := r.Redis.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		MaxLen: r.MaxLen,
		Approx: r.MaxLen > 0,
		Values: map[string]interface{}{
			"challenge_id": p.ChallengeID,
			"principal":    p.Principal,
			"alias":        p.Alias,
			"grant":        p.Grant,
			"issued_at":    p.IssuedAt.Unix(),
			"expires_at":   p.ExpiresAt.Unix(),
			"respond_url":  p.RespondURL,
		},
	}).Err()
	if err != nil {
		return fmt.Errorf("challenge: xadd %s: %w", stream, err)
	}
	return nil
}
