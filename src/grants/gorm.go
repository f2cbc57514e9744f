package grants

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/stake-plus/mememo/src/clock"
	"github.com/stake-plus/mememo/src/data"
)

// GormStore persists grants in SQL so they survive restarts.
type GormStore struct {
	db    *gorm.DB
	clock clock.Clock
}

// NewGormStore wraps an already migrated database handle.
func NewGormStore(db *gorm.DB, c clock.Clock) *GormStore {
	return &GormStore{db: db, clock: clock.OrReal(c)}
}

// dbTime normalizes timestamps to the precision MySQL DATETIME(3) keeps.
func dbTime(t time.Time) time.Time {
	return t.UTC().Truncate(time.Millisecond)
}

func (s *GormStore) HasGrant(ctx context.Context, principal, grant string) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).
		Model(&data.GrantRecord{}).
		Where("principal_id = ? AND grant_name = ? AND expires_at > ?", principal, grant, dbTime(s.clock.Now())).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("%w: check %s/%s: %v", ErrStoreUnavailable, principal, grant, err)
	}
	return count > 0, nil
}

func (s *GormStore) HasAll(ctx context.Context, principal string, grants []string) ([]string, error) {
	if len(grants) == 0 {
		return nil, nil
	}
	var held []string
	err := s.db.WithContext(ctx).
		Model(&data.GrantRecord{}).
		Where("principal_id = ? AND grant_name IN ? AND expires_at > ?", principal, grants, dbTime(s.clock.Now())).
		Pluck("grant_name", &held).Error
	if err != nil {
		return nil, fmt.Errorf("%w: check %s: %v", ErrStoreUnavailable, principal, err)
	}
	heldSet := make(map[string]struct{}, len(held))
	for _, g := range held {
		heldSet[g] = struct{}{}
	}
	var missing []string
	for _, g := range grants {
		if _, ok := heldSet[g]; !ok {
			missing = append(missing, g)
		}
	}
	return missing, nil
}

func (s *GormStore) Issue(ctx context.Context, principal, grant string, ttl time.Duration) (Grant, error) {
	if err := validate(principal, grant, ttl); err != nil {
		return Grant{}, err
	}
	now := dbTime(s.clock.Now())
	rec := data.GrantRecord{
		PrincipalID: principal,
		GrantName:   grant,
		IssuedAt:    now,
		ExpiresAt:   dbTime(now.Add(ttl)),
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "principal_id"}, {Name: "grant_name"}},
		DoUpdates: clause.AssignmentColumns([]string{"issued_at", "expires_at", "updated_at"}),
	}).Create(&rec).Error
	if err != nil {
		return Grant{}, fmt.Errorf("%w: issue %s/%s: %v", ErrStoreUnavailable, principal, grant, err)
	}
	return toGrant(rec), nil
}

func (s *GormStore) Revoke(ctx context.Context, principal, grant string) error {
	err := s.db.WithContext(ctx).
		Where("principal_id = ? AND grant_name = ?", principal, grant).
		Delete(&data.GrantRecord{}).Error
	if err != nil {
		return fmt.Errorf("%w: revoke %s/%s: %v", ErrStoreUnavailable, principal, grant, err)
	}
	return nil
}

func (s *GormStore) List(ctx context.Context, principal string) ([]Grant, error) {
	q := s.db.WithContext(ctx).Where("expires_at > ?", dbTime(s.clock.Now()))
	if principal != "" {
		q = q.Where("principal_id = ?", principal)
	}
	var recs []data.GrantRecord
	if err := q.Order("principal_id, grant_name").Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("%w: list: %v", ErrStoreUnavailable, err)
	}
	out := make([]Grant, 0, len(recs))
	for _, r := range recs {
		out = append(out, toGrant(r))
	}
	return out, nil
}

func (s *GormStore) Sweep(ctx context.Context, now time.Time) (int, error) {
	res := s.db.WithContext(ctx).Where("expires_at <= ?", dbTime(now)).Delete(&data.GrantRecord{})
	if res.Error != nil {
		return 0, fmt.Errorf("%w: sweep: %v", ErrStoreUnavailable, res.Error)
	}
	return int(res.RowsAffected), nil
}

func toGrant(r data.GrantRecord) Grant {
	return Grant{
		PrincipalID: r.PrincipalID,
		GrantName:   r.GrantName,
		IssuedAt:    r.IssuedAt.UTC(),
		ExpiresAt:   r.ExpiresAt.UTC(),
	}
}
