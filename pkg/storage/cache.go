package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bearslyricattack/plugman/pkg/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// CacheStore is a durable cache shared by every process using the same database.
type CacheStore interface {
	Get(ctx context.Context, key string) (string, bool, error)
	// Lookup is Get that also reports when the entry expires.
	Lookup(ctx context.Context, key string) (string, time.Time, bool, error)
	Put(ctx context.Context, key, value string, ttl time.Duration) error
	Forget(ctx context.Context, key string) error
}

// GormCacheStore keeps entries in the cache table. Expired entries read as misses.
type GormCacheStore struct {
	db  *gorm.DB
	now func() time.Time
}

func NewCacheStore(db *gorm.DB) *GormCacheStore {
	return &GormCacheStore{db: db, now: time.Now}
}

func (s *GormCacheStore) Get(ctx context.Context, key string) (string, bool, error) {
	value, _, ok, err := s.Lookup(ctx, key)
	return value, ok, err
}

func (s *GormCacheStore) Lookup(ctx context.Context, key string) (string, time.Time, bool, error) {
	var entry models.CacheEntry
	err := s.db.WithContext(ctx).Where(map[string]any{"key": key}).First(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", time.Time{}, false, nil
	}
	if err != nil {
		return "", time.Time{}, false, fmt.Errorf("%w: read cache %s: %v", ErrUnavailable, key, err)
	}
	if !entry.ExpiresAt.After(s.now()) {
		return "", time.Time{}, false, nil
	}
	return entry.Value, entry.ExpiresAt, true, nil
}

func (s *GormCacheStore) Put(ctx context.Context, key, value string, ttl time.Duration) error {
	entry := models.CacheEntry{Key: key, Value: value, ExpiresAt: s.now().Add(ttl)}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "expires_at"}),
	}).Create(&entry).Error
	if err != nil {
		return fmt.Errorf("%w: write cache %s: %v", ErrUnavailable, key, err)
	}
	return nil
}

func (s *GormCacheStore) Forget(ctx context.Context, key string) error {
	if err := s.db.WithContext(ctx).Where(map[string]any{"key": key}).Delete(&models.CacheEntry{}).Error; err != nil {
		return fmt.Errorf("%w: forget cache %s: %v", ErrUnavailable, key, err)
	}
	return nil
}
