package model

import "time"

// ActionRecord holds the last calendar date a guarded daily action ran.
// Key is "<unit_code>/<action>".
type ActionRecord struct {
	Key       string    `gorm:"primaryKey;size:191"`
	UnitCode  string    `gorm:"index;size:128;not null"`
	Action    string    `gorm:"size:64;not null"`
	LastRun   string    `gorm:"size:10;not null"` // YYYY-MM-DD
	UpdatedAt time.Time `gorm:"not null"`
}

// StoreMeta is a key/value row describing the store itself, such as the
// schema version.
type StoreMeta struct {
	Key   string `gorm:"primaryKey;size:64"`
	Value string `gorm:"not null"`
}

// TableName keeps the meta table name singular.
func (StoreMeta) TableName() string { return "store_meta" }
