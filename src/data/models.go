package data

import (
	"time"

	"gorm.io/gorm"
)

// GrantRecord persists a capability grant issued to a principal.
type GrantRecord struct {
	ID          uint64    `gorm:"primaryKey;autoIncrement"`
	PrincipalID string    `gorm:"size:128;not null;uniqueIndex:idx_grants_principal_grant"`
	GrantName   string    `gorm:"size:128;not null;uniqueIndex:idx_grants_principal_grant"`
	IssuedAt    time.Time `gorm:"not null"`
	ExpiresAt   time.Time `gorm:"not null;index"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (GrantRecord) TableName() string { return "grants" }

// Setting represents a configuration setting stored in the database
type Setting struct {
	ID     uint8  `gorm:"primaryKey"`
	Name   string `gorm:"size:32;not null"`
	Value  string `gorm:"type:text;not null"`
	Active uint8  `gorm:"not null"`
}

// Migrate creates or updates the agent tables.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(&GrantRecord{}, &Setting{})
}
