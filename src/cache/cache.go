// Package cache memoizes service results for a bounded window.
//
// An entry looked up at or after its ExpiresAt is a miss. Backends compare
// against the injected clock, so an entry is never served stale even if the
// underlying storage has not collected it yet.
package cache

import (
	"context"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"strings"
	"time"

	"github.com/OneOfOne/xxhash"
)

// ErrStoreUnavailable wraps backend failures.
var ErrStoreUnavailable = errors.New("cache: store unavailable")

// Entry is a memoized result.
type Entry struct {
	Key       string    `json:"key"`
	Value     string    `json:"value"`
	StoredAt  time.Time `json:"stored_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Live reports whether the entry may be served at now.
func (e Entry) Live(now time.Time) bool {
	return now.Before(e.ExpiresAt)
}

// Store is a time-bounded key/value store.
type Store interface {
	Get(ctx context.Context, key string) (string, bool, error)
	// Put stores value until now+ttl. A non-positive ttl stores nothing.
	Put(ctx context.Context, key, value string, ttl time.Duration) error
	Invalidate(ctx context.Context, key string) error
	// InvalidateService drops every entry fingerprinted for service.
	InvalidateService(ctx context.Context, service string) (int, error)
	Sweep(ctx context.Context, now time.Time) (int, error)
}

// Fingerprint derives the cache key for a service invocation. Arguments are
// expected to be normalized already; the key is stable across restarts.
func Fingerprint(service string, args []string) string {
	h := xxhash.NewS64(0)
	var n [4]byte
	for _, a := range args {
		binary.LittleEndian.PutUint32(n[:], uint32(len(a)))
		h.Write(n[:])
		h.Write([]byte(a))
	}
	sum := make([]byte, 8)
	binary.BigEndian.PutUint64(sum, h.Sum64())
	return servicePrefix(service) + hex.EncodeToString(sum)
}

// ServiceOf returns the service name encoded in a fingerprint.
func ServiceOf(key string) string {
	i := strings.LastIndexByte(key, ':')
	if i < 0 {
		return ""
	}
	return key[:i]
}

func servicePrefix(service string) string {
	return service + ":"
}

// globEscape quotes the characters Redis SCAN MATCH treats as wildcards.
func globEscape(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch r {
		case '*', '?', '[', ']', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}
