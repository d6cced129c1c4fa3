package store

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"str-manager/config"
	"str-manager/internal/clock"
	"str-manager/internal/db"
	"str-manager/internal/model"
	"str-manager/internal/parse"
)

// SchemaVersion is the on-disk layout version recorded in store_meta.
const SchemaVersion = "1"

const schemaVersionKey = "schema_version"

// Guard records when a daily action last ran. An action is done today iff
// its record equals today's calendar date; a stale date reads as pending.
type Guard interface {
	IsDoneToday(ctx context.Context, key string) (bool, error)
	MarkDoneToday(ctx context.Context, key string) error
}

// Store is the persistent guard plus the handles the API and lifecycle
// code need.
type Store interface {
	Guard
	Records(ctx context.Context) ([]model.ActionRecord, error)
	DB() *gorm.DB
	Close() error
}

// ActionKey builds the guard key for a unit's action.
func ActionKey(unitCode, action string) string {
	return unitCode + "/" + action
}

func splitKey(key string) (unitCode, action string) {
	i := strings.LastIndex(key, "/")
	if i < 0 {
		return "", key
	}
	return key[:i], key[i+1:]
}

// gormStore implements Store using GORM.
type gormStore struct {
	db    *gorm.DB
	clock clock.Clock

	// Serializes writes so concurrent unit polls never interleave an
	// upsert of the same key.
	mu sync.Mutex
}

// NewGormStore creates a GORM-backed store. "Today" is taken from clk.
func NewGormStore(db *gorm.DB, clk clock.Clock) Store {
	return &gormStore{db: db, clock: clk}
}

// Open connects to the configured database, migrates it and checks the
// schema version. The caller owns the returned Store and must Close it.
func Open(cfg *config.DatabaseConfig, clk clock.Clock) (Store, error) {
	gormDB, err := db.Init(cfg)
	if err != nil {
		return nil, err
	}
	s := &gormStore{db: gormDB, clock: clk}
	if err := s.ensureSchemaVersion(context.Background()); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

// With opens the store, runs fn and closes the store whether or not fn
// fails.
func With(cfg *config.DatabaseConfig, clk clock.Clock, fn func(Store) error) (err error) {
	s, err := Open(cfg, clk)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := s.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("failed to close store: %w", cerr)
		}
	}()
	return fn(s)
}

func (s *gormStore) today() string {
	return parse.DateOf(s.clock.Now()).String()
}

// IsDoneToday reports whether the record for key equals today's date.
func (s *gormStore) IsDoneToday(ctx context.Context, key string) (bool, error) {
	var rec model.ActionRecord
	err := s.db.WithContext(ctx).First(&rec, "key = ?", key).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to read action record %q: %w", key, err)
	}
	return rec.LastRun == s.today(), nil
}

// MarkDoneToday overwrites the record for key with today's date.
func (s *gormStore) MarkDoneToday(ctx context.Context, key string) error {
	unitCode, action := splitKey(key)
	rec := model.ActionRecord{
		Key:      key,
		UnitCode: unitCode,
		Action:   action,
		LastRun:  s.today(),
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"last_run", "updated_at"}),
	}).Create(&rec).Error; err != nil {
		return fmt.Errorf("failed to record action %q: %w", key, err)
	}
	return nil
}

// Records returns every action record ordered by key.
func (s *gormStore) Records(ctx context.Context) ([]model.ActionRecord, error) {
	var records []model.ActionRecord
	if err := s.db.WithContext(ctx).Order("key").Find(&records).Error; err != nil {
		return nil, fmt.Errorf("failed to list action records: %w", err)
	}
	return records, nil
}

func (s *gormStore) DB() *gorm.DB {
	return s.db
}

// Close releases the underlying connection pool.
func (s *gormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *gormStore) ensureSchemaVersion(ctx context.Context) error {
	var meta model.StoreMeta
	err := s.db.WithContext(ctx).First(&meta, "key = ?", schemaVersionKey).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		log.Printf("Initializing guard store at schema version %s", SchemaVersion)
		return s.db.WithContext(ctx).Create(&model.StoreMeta{Key: schemaVersionKey, Value: SchemaVersion}).Error
	case err != nil:
		return fmt.Errorf("failed to read schema version: %w", err)
	case meta.Value != SchemaVersion:
		return fmt.Errorf("guard store schema version %q is not supported (want %q)", meta.Value, SchemaVersion)
	}
	return nil
}
