package registry

import (
	"time"

	"github.com/stake-plus/mememo/src/executor"
)

// Definition is an immutable service loaded at startup.
type Definition struct {
	Name           string
	Pattern        string
	IgnoreCase     bool
	Enabled        bool
	RequiredGrants []string
	CacheTTL       time.Duration // zero disables caching
	Timeout        time.Duration // zero falls back to the dispatcher default
	Doc            string
	Exec           executor.Spec
}

// Cached reports whether results of this service are memoized.
func (d Definition) Cached() bool {
	return d.CacheTTL > 0
}

// RequiresGrant reports whether name is among the required grants.
func (d Definition) RequiresGrant(name string) bool {
	for _, g := range d.RequiredGrants {
		if g == name {
			return true
		}
	}
	return false
}
