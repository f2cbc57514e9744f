package config

import (
	"strings"

	"github.com/stake-plus/mememo/src/executor"
	"github.com/stake-plus/mememo/src/registry"
)

// Definitions converts the services section into registry definitions, in
// document order.
func (c *Config) Definitions() []registry.Definition {
	defs := make([]registry.Definition, 0, len(c.Services))
	for _, s := range c.Services {
		defs = append(defs, registry.Definition{
			Name:           strings.TrimSpace(s.Name),
			Pattern:        s.Pattern,
			IgnoreCase:     s.IgnoreCase,
			Enabled:        s.IsEnabled(),
			RequiredGrants: s.Grants,
			CacheTTL:       s.Cache.Std(),
			Timeout:        s.Timeout.Std(),
			Doc:            strings.TrimSpace(s.Doc),
			Exec: executor.Spec{
				Setup:   s.Setup,
				Run:     s.Run,
				Env:     s.Env,
				WorkDir: s.WorkDir,
				Secrets: c.Secrets,
			},
		})
	}
	return defs
}

// Registry builds the service registry.
func (c *Config) Registry() (*registry.Registry, error) {
	return registry.New(c.Definitions())
}
