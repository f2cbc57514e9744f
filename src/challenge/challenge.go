// Package challenge runs the auth3p handshake: a principal asks for a grant,
// a third party is notified out of band, and its answer either issues the
// grant or closes the challenge.
//
// A challenge leaves PENDING at most once. Every later response is rejected
// with ErrStaleChallenge and has no effect.
package challenge

import (
	"errors"
	"time"
)

var (
	ErrUnknownChallenge = errors.New("challenge: unknown challenge")
	ErrStaleChallenge   = errors.New("challenge: already resolved")
	ErrChallengeExpired = errors.New("challenge: expired")
	ErrChallengeDenied  = errors.New("challenge: denied")
	ErrInvalidRequest   = errors.New("challenge: principal and grant are required")
)

// Default lifetimes for challenges and the grants they issue.
const (
	DefaultChallengeTTL = time.Hour
	DefaultGrantTTL     = 90 * 24 * time.Hour
	DefaultRetention    = 24 * time.Hour
)

// State of a challenge.
type State string

const (
	Pending  State = "PENDING"
	Answered State = "ANSWERED"
	Expired  State = "EXPIRED"
	Rejected State = "REJECTED"
)

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	return s != Pending
}

// Outcome is the third party's answer.
type Outcome string

const (
	Approved Outcome = "approved"
	Denied   Outcome = "denied"
)

// ParseOutcome accepts the wire spellings of an outcome.
func ParseOutcome(s string) (Outcome, bool) {
	switch s {
	case "approved", "approve", "yes", "y":
		return Approved, true
	case "denied", "deny", "no", "n":
		return Denied, true
	}
	return "", false
}

// Request starts a challenge.
type Request struct {
	Principal string
	// Alias is the requester's display name, shown to the third party.
	Alias string
	Grant string
	// Context is opaque platform data, e.g. the channel the request came from.
	Context string
}

// Challenge is a snapshot of one handshake.
type Challenge struct {
	ID          string    `json:"id"`
	PrincipalID string    `json:"principal_id"`
	GrantName   string    `json:"grant_name"`
	Alias       string    `json:"alias,omitempty"`
	Context     string    `json:"context,omitempty"`
	IssuedAt    time.Time `json:"issued_at"`
	ExpiresAt   time.Time `json:"expires_at"`
	State       State     `json:"state"`
	ResolvedAt  time.Time `json:"resolved_at,omitempty"`
}
