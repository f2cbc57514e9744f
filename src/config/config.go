// Package config loads the agent's YAML document.
//
// Scalar values may reference secrets as ${NAME}. Names resolve from the
// secrets file (dotenv format) first, then the process environment; an
// unresolved name is a load error. Every substituted value is remembered as a
// secret so it can be redacted from service output.
package config

import (
	"errors"
	"time"
)

// ErrInvalid marks a configuration error. It is fatal at startup.
var ErrInvalid = errors.New("config: invalid configuration")

// Config is the whole agent document.
type Config struct {
	Agent    AgentConfig       `yaml:"agent"`
	Discord  DiscordConfig     `yaml:"discord"`
	Auth3p   Auth3pConfig      `yaml:"auth3p"`
	API      APIConfig         `yaml:"api"`
	Storage  StorageConfig     `yaml:"storage"`
	Env      map[string]string `yaml:"env"`
	Services []ServiceConfig   `yaml:"services"`

	// Secrets holds every value substituted from a placeholder.
	Secrets []string `yaml:"-"`
}

type AgentConfig struct {
	LogLevel        string          `yaml:"log_level"`
	ChallengeExpiry Duration        `yaml:"challenge_expiry"`
	GrantExpiry     Duration        `yaml:"grant_expiry"`
	SweepInterval   Duration        `yaml:"sweep_interval"`
	MaxConcurrent   int64           `yaml:"max_concurrent"`
	DefaultTimeout  Duration        `yaml:"default_timeout"`
	RateLimit       RateLimitConfig `yaml:"rate_limit"`
	Shell           string          `yaml:"shell"`
}

// RateLimitConfig limits commands per principal. Zero disables the limit.
type RateLimitConfig struct {
	PerMinute float64 `yaml:"per_minute"`
	Burst     int     `yaml:"burst"`
}

type DiscordConfig struct {
	Enabled bool   `yaml:"enabled"`
	Token   string `yaml:"token"`
	GuildID string `yaml:"guild_id"`
	// RoleID restricts the bot to members holding the role, when set.
	RoleID string `yaml:"role_id"`
}

// Notifier kinds for auth3p challenges.
const (
	NotifierLog     = "log"
	NotifierWebhook = "webhook"
	NotifierRedis   = "redis"
)

type Auth3pConfig struct {
	Notifier   string `yaml:"notifier"`
	WebhookURL string `yaml:"webhook_url"`
	Stream     string `yaml:"stream"`
	// Secret signs and verifies the bearer tokens of the third party.
	Secret string `yaml:"secret"`
	// PublicURL is the base URL the third party uses to answer.
	PublicURL string `yaml:"public_url"`
}

type APIConfig struct {
	Enabled     bool     `yaml:"enabled"`
	Listen      string   `yaml:"listen"`
	AdminSecret string   `yaml:"admin_secret"`
	CORSOrigins []string `yaml:"cors_origins"`
}

type StorageConfig struct {
	MySQLDSN    string `yaml:"mysql_dsn"`
	RedisURL    string `yaml:"redis_url"`
	CachePrefix string `yaml:"cache_prefix"`
}

type ServiceConfig struct {
	Name       string            `yaml:"name"`
	Enabled    *bool             `yaml:"enabled"`
	Setup      string            `yaml:"setup"`
	Run        string            `yaml:"run"`
	Pattern    string            `yaml:"pattern"`
	IgnoreCase bool              `yaml:"ignore_case"`
	Cache      Duration          `yaml:"cache"`
	Timeout    Duration          `yaml:"timeout"`
	Doc        string            `yaml:"doc"`
	Grants     []string          `yaml:"grants"`
	Env        map[string]string `yaml:"env"`
	WorkDir    string            `yaml:"workdir"`
}

// IsEnabled reports the enabled flag, which defaults to true.
func (s ServiceConfig) IsEnabled() bool {
	return s.Enabled == nil || *s.Enabled
}

const (
	defaultChallengeExpiry = time.Hour
	defaultGrantExpiry     = 90 * 24 * time.Hour
	defaultSweepInterval   = time.Minute
	defaultTimeout         = 30 * time.Second
	defaultMaxConcurrent   = 8
	defaultListen          = "127.0.0.1:8420"
)

func (c *Config) applyDefaults() {
	if c.Agent.LogLevel == "" {
		c.Agent.LogLevel = "info"
	}
	if c.Agent.ChallengeExpiry == 0 {
		c.Agent.ChallengeExpiry = Duration(defaultChallengeExpiry)
	}
	if c.Agent.GrantExpiry == 0 {
		c.Agent.GrantExpiry = Duration(defaultGrantExpiry)
	}
	if c.Agent.SweepInterval == 0 {
		c.Agent.SweepInterval = Duration(defaultSweepInterval)
	}
	if c.Agent.DefaultTimeout == 0 {
		c.Agent.DefaultTimeout = Duration(defaultTimeout)
	}
	if c.Agent.MaxConcurrent == 0 {
		c.Agent.MaxConcurrent = defaultMaxConcurrent
	}
	if c.Agent.RateLimit.PerMinute > 0 && c.Agent.RateLimit.Burst == 0 {
		c.Agent.RateLimit.Burst = 1
	}
	if c.Auth3p.Notifier == "" {
		c.Auth3p.Notifier = NotifierLog
	}
	if c.API.Listen == "" {
		c.API.Listen = defaultListen
	}
}
