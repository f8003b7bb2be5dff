package models

import "time"

// Setting is one row of the durable key/value settings table.
type Setting struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Key       string    `gorm:"size:191;uniqueIndex;not null" json:"key"`
	Value     string    `gorm:"type:text" json:"value"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// CacheEntry is a durable cache value shared between processes.
type CacheEntry struct {
	Key       string    `gorm:"primaryKey;size:191" json:"key"`
	Value     string    `gorm:"type:text" json:"value"`
	ExpiresAt time.Time `gorm:"index" json:"expires_at"`
}

func (CacheEntry) TableName() string { return "cache" }

// MigrationRecord marks one applied migration file.
type MigrationRecord struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Migration string    `gorm:"size:191;uniqueIndex;not null" json:"migration"`
	Batch     int       `gorm:"not null" json:"batch"`
	CreatedAt time.Time `json:"created_at"`
}

func (MigrationRecord) TableName() string { return "migrations" }
