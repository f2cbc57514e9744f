// Package registry holds the service definitions an agent can dispatch to and
// resolves command text to the first matching enabled service.
package registry

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidDefinition marks a configuration error found while loading
// services. It is fatal at startup.
var ErrInvalidDefinition = errors.New("registry: invalid service definition")

type entry struct {
	def     Definition
	matcher Matcher
}

// Registry is an ordered, read-only set of services. It is safe for
// concurrent use once built.
type Registry struct {
	entries []entry
	byName  map[string]int
}

// Match is a resolved command.
type Match struct {
	Service Definition
	Args    []string
}

// New validates and compiles defs in order.
func New(defs []Definition) (*Registry, error) {
	r := &Registry{
		entries: make([]entry, 0, len(defs)),
		byName:  make(map[string]int, len(defs)),
	}
	for i, def := range defs {
		name := strings.TrimSpace(def.Name)
		if name == "" {
			return nil, fmt.Errorf("%w: service #%d has no name", ErrInvalidDefinition, i+1)
		}
		if _, dup := r.byName[name]; dup {
			return nil, fmt.Errorf("%w: duplicate service name %q", ErrInvalidDefinition, name)
		}
		if strings.TrimSpace(def.Pattern) == "" {
			return nil, fmt.Errorf("%w: service %q has no pattern", ErrInvalidDefinition, name)
		}
		if strings.TrimSpace(def.Exec.Run) == "" {
			return nil, fmt.Errorf("%w: service %q has no run template", ErrInvalidDefinition, name)
		}
		if def.CacheTTL < 0 || def.Timeout < 0 {
			return nil, fmt.Errorf("%w: service %q has a negative duration", ErrInvalidDefinition, name)
		}
		m, err := compileMatcher(def.Pattern, def.IgnoreCase)
		if err != nil {
			return nil, fmt.Errorf("%w: service %q pattern %q: %v", ErrInvalidDefinition, name, def.Pattern, err)
		}
		def.Name = name
		def.RequiredGrants = dedupe(def.RequiredGrants)
		r.byName[name] = len(r.entries)
		r.entries = append(r.entries, entry{def: def, matcher: m})
	}
	return r, nil
}

// Resolve returns the first enabled service whose pattern matches text.
func (r *Registry) Resolve(text string) (Match, bool) {
	text = NormalizeCommand(text)
	if text == "" {
		return Match{}, false
	}
	for _, e := range r.entries {
		if !e.def.Enabled {
			continue
		}
		if args, ok := e.matcher.Match(text); ok {
			return Match{Service: e.def, Args: args}, true
		}
	}
	return Match{}, false
}

// Get looks a service up by name.
func (r *Registry) Get(name string) (Definition, bool) {
	i, ok := r.byName[name]
	if !ok {
		return Definition{}, false
	}
	return r.entries[i].def, true
}

// All returns every definition in registration order.
func (r *Registry) All() []Definition {
	out := make([]Definition, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e.def)
	}
	return out
}

// ByGrant returns the services that require grant.
func (r *Registry) ByGrant(grant string) []Definition {
	var out []Definition
	for _, e := range r.entries {
		if e.def.RequiresGrant(grant) {
			out = append(out, e.def)
		}
	}
	return out
}

// Len returns the number of registered services.
func (r *Registry) Len() int {
	return len(r.entries)
}

func dedupe(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
