package grants

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/stake-plus/mememo/src/clock"
	"github.com/stake-plus/mememo/src/data"
)

var epoch = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func backends(t *testing.T) map[string]func(*clock.Fake) Store {
	return map[string]func(*clock.Fake) Store{
		"memory": func(c *clock.Fake) Store { return NewMemoryStore(c) },
		"gorm": func(c *clock.Fake) Store {
			db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "grants.db")), &gorm.Config{
				Logger: logger.Default.LogMode(logger.Silent),
			})
			require.NoError(t, err)
			require.NoError(t, data.Migrate(db))
			return NewGormStore(db, c)
		},
	}
}

func TestIssueThenExpire(t *testing.T) {
	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			c := clock.NewFake(epoch)
			s := open(c)

			g, err := s.Issue(ctx, "discord-42", "bank-balance:bank_account", time.Hour)
			require.NoError(t, err)
			assert.Equal(t, epoch.Add(time.Hour), g.ExpiresAt)

			ok, err := s.HasGrant(ctx, "discord-42", "bank-balance:bank_account")
			require.NoError(t, err)
			assert.True(t, ok)

			c.Advance(time.Hour - time.Second)
			ok, err = s.HasGrant(ctx, "discord-42", "bank-balance:bank_account")
			require.NoError(t, err)
			assert.True(t, ok)

			c.Advance(time.Second)
			ok, err = s.HasGrant(ctx, "discord-42", "bank-balance:bank_account")
			require.NoError(t, err)
			assert.False(t, ok, "grant is invalid at ExpiresAt")
		})
	}
}

func TestHasAllReportsMissing(t *testing.T) {
	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := open(clock.NewFake(epoch))

			_, err := s.Issue(ctx, "p", "a", time.Hour)
			require.NoError(t, err)

			missing, err := s.HasAll(ctx, "p", []string{"a", "b", "c"})
			require.NoError(t, err)
			assert.Equal(t, []string{"b", "c"}, missing)

			missing, err = s.HasAll(ctx, "p", []string{"a"})
			require.NoError(t, err)
			assert.Empty(t, missing)

			missing, err = s.HasAll(ctx, "other", []string{"a"})
			require.NoError(t, err)
			assert.Equal(t, []string{"a"}, missing)
		})
	}
}

func TestReissueResetsExpiry(t *testing.T) {
	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			c := clock.NewFake(epoch)
			s := open(c)

			_, err := s.Issue(ctx, "p", "a", time.Hour)
			require.NoError(t, err)
			c.Advance(50 * time.Minute)
			_, err = s.Issue(ctx, "p", "a", time.Hour)
			require.NoError(t, err)
			c.Advance(30 * time.Minute)

			ok, err := s.HasGrant(ctx, "p", "a")
			require.NoError(t, err)
			assert.True(t, ok)

			list, err := s.List(ctx, "p")
			require.NoError(t, err)
			require.Len(t, list, 1)
			assert.Equal(t, epoch.Add(110*time.Minute), list[0].ExpiresAt)
		})
	}
}

func TestRevokeListAndSweep(t *testing.T) {
	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			c := clock.NewFake(epoch)
			s := open(c)

			_, err := s.Issue(ctx, "p1", "a", time.Hour)
			require.NoError(t, err)
			_, err = s.Issue(ctx, "p1", "b", 2*time.Hour)
			require.NoError(t, err)
			_, err = s.Issue(ctx, "p2", "a", time.Minute)
			require.NoError(t, err)

			all, err := s.List(ctx, "")
			require.NoError(t, err)
			assert.Len(t, all, 3)

			require.NoError(t, s.Revoke(ctx, "p1", "b"))
			ok, err := s.HasGrant(ctx, "p1", "b")
			require.NoError(t, err)
			assert.False(t, ok)

			c.Advance(10 * time.Minute)
			n, err := s.Sweep(ctx, c.Now())
			require.NoError(t, err)
			assert.Equal(t, 1, n)

			all, err = s.List(ctx, "")
			require.NoError(t, err)
			require.Len(t, all, 1)
			assert.Equal(t, "p1", all[0].PrincipalID)
			assert.Equal(t, "a", all[0].GrantName)
		})
	}
}

func TestIssueRejectsInvalid(t *testing.T) {
	s := NewMemoryStore(nil)
	_, err := s.Issue(context.Background(), "", "a", time.Hour)
	assert.ErrorIs(t, err, ErrInvalidGrant)
	_, err = s.Issue(context.Background(), "p", "a", 0)
	assert.ErrorIs(t, err, ErrInvalidGrant)
}

func TestGormStoreUnavailable(t *testing.T) {
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "closed.db")), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, data.Migrate(db))
	sqlDB, err := db.DB()
	require.NoError(t, err)
	require.NoError(t, sqlDB.Close())

	s := NewGormStore(db, clock.NewFake(epoch))
	_, err = s.HasGrant(context.Background(), "p", "a")
	assert.ErrorIs(t, err, ErrStoreUnavailable)
	_, err = s.HasAll(context.Background(), "p", []string{"a"})
	assert.ErrorIs(t, err, ErrStoreUnavailable)
}
