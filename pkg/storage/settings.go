package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/bearslyricattack/plugman/pkg/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// SettingStore is the durable key/value store holding the enabled set.
type SettingStore interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
}

// GormSettingStore keeps settings in the settings table.
type GormSettingStore struct {
	db *gorm.DB
}

func NewSettingStore(db *gorm.DB) *GormSettingStore {
	return &GormSettingStore{db: db}
}

func (s *GormSettingStore) Get(ctx context.Context, key string) (string, bool, error) {
	var setting models.Setting
	err := s.db.WithContext(ctx).Where(map[string]any{"key": key}).First(&setting).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("%w: read setting %s: %v", ErrUnavailable, key, err)
	}
	return setting.Value, true, nil
}

// Set upserts a single row, relying on the unique key index for atomicity.
func (s *GormSettingStore) Set(ctx context.Context, key, value string) error {
	setting := models.Setting{Key: key, Value: value}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(&setting).Error
	if err != nil {
		return fmt.Errorf("%w: write setting %s: %v", ErrUnavailable, key, err)
	}
	return nil
}
