package config

import (
	"log"
	"os"

	"gorm.io/gorm"

	"github.com/stake-plus/mememo/src/data"
)

// Settings table names that override the agent section.
const (
	SettingChallengeExpiry = "challenge_expiry"
	SettingGrantExpiry     = "grant_expiry"
	SettingSweepInterval   = "sweep_interval"
)

// ApplySettings overrides agent values with active rows of the settings
// table. A failed load keeps the document values.
func (c *Config) ApplySettings(db *gorm.DB) {
	if err := data.LoadSettings(db); err != nil {
		log.Printf("config: load settings: %v (keeping file values)", err)
		return
	}
	overrideDuration(SettingChallengeExpiry, &c.Agent.ChallengeExpiry)
	overrideDuration(SettingGrantExpiry, &c.Agent.GrantExpiry)
	overrideDuration(SettingSweepInterval, &c.Agent.SweepInterval)
}

// overrideDuration replaces *d with the named setting. Settings use the same
// syntax as the document, so "7d" and bare seconds are accepted.
func overrideDuration(name string, d *Duration) {
	raw := data.GetSetting(name)
	if raw == "" {
		return
	}
	v, err := ParseDuration(raw)
	if err != nil || v <= 0 {
		log.Printf("config: setting %s=%q is not a positive duration (keeping %s)", name, raw, d.Std())
		return
	}
	*d = Duration(v)
}

// ApplyEnv fills connection settings left empty in the document from the
// environment, the way the deployment scripts provide them.
func (c *Config) ApplyEnv() {
	if c.Storage.MySQLDSN == "" {
		if dsn, err := data.GetMySQLDSN(); err == nil {
			c.Storage.MySQLDSN = dsn
			c.Secrets = append(c.Secrets, dsn)
		}
	}
	if c.Storage.RedisURL == "" {
		c.Storage.RedisURL = os.Getenv("REDIS_URL")
	}
	if c.Discord.Token == "" {
		if tok := os.Getenv("DISCORD_TOKEN"); tok != "" {
			c.Discord.Token = tok
			c.Secrets = append(c.Secrets, tok)
		}
	}
}
