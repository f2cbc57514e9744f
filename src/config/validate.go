package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

const minSecretLen = 16

// Validate reports every problem in the document at once.
func (c *Config) Validate() error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	switch strings.ToLower(c.Agent.LogLevel) {
	case "debug", "info", "warn", "warning", "error":
	default:
		add("agent.log_level %q is not one of debug, info, warn, error", c.Agent.LogLevel)
	}
	if c.Agent.ChallengeExpiry < 0 || c.Agent.GrantExpiry < 0 || c.Agent.SweepInterval < 0 || c.Agent.DefaultTimeout < 0 {
		add("agent durations must not be negative")
	}
	if c.Agent.MaxConcurrent < 0 {
		add("agent.max_concurrent must not be negative")
	}
	if c.Agent.RateLimit.PerMinute < 0 || c.Agent.RateLimit.Burst < 0 {
		add("agent.rate_limit must not be negative")
	}

	if c.Discord.Enabled && strings.TrimSpace(c.Discord.Token) == "" {
		add("discord.token is required when discord is enabled")
	}

	switch c.Auth3p.Notifier {
	case NotifierLog:
	case NotifierWebhook:
		if u, err := url.Parse(c.Auth3p.WebhookURL); err != nil || u.Scheme == "" || u.Host == "" {
			add("auth3p.webhook_url must be an absolute URL for the webhook notifier")
		}
	case NotifierRedis:
		if c.Storage.RedisURL == "" {
			add("storage.redis_url is required for the redis notifier")
		}
	default:
		add("auth3p.notifier %q is not one of log, webhook, redis", c.Auth3p.Notifier)
	}

	if c.API.Enabled {
		if len(c.API.AdminSecret) < minSecretLen {
			add("api.admin_secret must be at least %d characters", minSecretLen)
		}
		if len(c.Auth3p.Secret) < minSecretLen {
			add("auth3p.secret must be at least %d characters when the api is enabled", minSecretLen)
		}
		if c.API.AdminSecret != "" && c.API.AdminSecret == c.Auth3p.Secret {
			add("api.admin_secret and auth3p.secret must differ")
		}
	}

	seen := map[string]bool{}
	for i, s := range c.Services {
		name := strings.TrimSpace(s.Name)
		switch {
		case name == "":
			add("services[%d]: name is required", i)
			continue
		case seen[name]:
			add("services[%d]: duplicate name %q", i, name)
		}
		seen[name] = true
		if strings.TrimSpace(s.Pattern) == "" {
			add("service %q: pattern is required", name)
		}
		if strings.TrimSpace(s.Run) == "" {
			add("service %q: run is required", name)
		}
		if s.Cache < 0 || s.Timeout < 0 {
			add("service %q: durations must not be negative", name)
		}
	}

	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrInvalid, errors.Join(errs...))
}
