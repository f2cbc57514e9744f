package config

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/stake-plus/mememo/src/data"
)

func TestApplySettingsUsesDocumentDurationSyntax(t *testing.T) {
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "settings.db")), &gorm.Config{Logger: data.NewGormLogger()})
	require.NoError(t, err)
	require.NoError(t, data.Migrate(db))
	require.NoError(t, db.Create(&[]data.Setting{
		{ID: 1, Name: SettingGrantExpiry, Value: "7d", Active: 1},
		{ID: 2, Name: SettingChallengeExpiry, Value: "900", Active: 1},
		{ID: 3, Name: SettingSweepInterval, Value: "soon", Active: 1},
	}).Error)

	cfg := &Config{}
	cfg.applyDefaults()
	cfg.ApplySettings(db)

	assert.Equal(t, 7*24*time.Hour, cfg.Agent.GrantExpiry.Std())
	assert.Equal(t, 15*time.Minute, cfg.Agent.ChallengeExpiry.Std())
	assert.Equal(t, time.Minute, cfg.Agent.SweepInterval.Std(), "malformed value keeps the document value")
}
