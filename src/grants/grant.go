// Package grants tracks time-limited capabilities issued to principals.
//
// A grant is valid only while now < ExpiresAt. Every check compares against
// the store's clock at the moment of the call; sweeping is housekeeping and
// never affects the answer.
package grants

import (
	"context"
	"errors"
	"time"
)

// ErrStoreUnavailable wraps infrastructure failures. Callers must not treat
// it as "no grant".
var ErrStoreUnavailable = errors.New("grants: store unavailable")

// ErrInvalidGrant is returned for empty principals, grant names or TTLs.
var ErrInvalidGrant = errors.New("grants: invalid grant")

// Grant is a capability held by a principal.
type Grant struct {
	PrincipalID string    `json:"principal_id"`
	GrantName   string    `json:"grant_name"`
	IssuedAt    time.Time `json:"issued_at"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// Valid reports whether the grant is live at now.
func (g Grant) Valid(now time.Time) bool {
	return now.Before(g.ExpiresAt)
}

// Store issues, revokes and checks grants.
type Store interface {
	HasGrant(ctx context.Context, principal, grant string) (bool, error)
	// HasAll returns the subset of grants the principal does not hold.
	HasAll(ctx context.Context, principal string, grants []string) ([]string, error)
	Issue(ctx context.Context, principal, grant string, ttl time.Duration) (Grant, error)
	Revoke(ctx context.Context, principal, grant string) error
	// List returns live grants for principal, or for everyone when principal is empty.
	List(ctx context.Context, principal string) ([]Grant, error)
	Sweep(ctx context.Context, now time.Time) (int, error)
}

func validate(principal, grant string, ttl time.Duration) error {
	if principal == "" || grant == "" {
		return ErrInvalidGrant
	}
	if ttl <= 0 {
		return ErrInvalidGrant
	}
	return nil
}

// missingFrom runs has for each grant and collects the ones not held.
func missingFrom(ctx context.Context, grants []string, has func(context.Context, string) (bool, error)) ([]string, error) {
	var missing []string
	for _, g := range grants {
		ok, err := has(ctx, g)
		if err != nil {
			return nil, err
		}
		if !ok {
			missing = append(missing, g)
		}
	}
	return missing, nil
}
