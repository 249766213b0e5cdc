// Package storage persists generation history in SQLite through gorm.
package storage

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"rizo-card-bot/internal/domain/card"
	"rizo-card-bot/internal/platform/errors"
)

// GenerationRecord is one finished pipeline run, successful or not.
type GenerationRecord struct {
	ID         uint           `gorm:"primaryKey"`
	RequestID  string         `gorm:"type:varchar(64);uniqueIndex;not null" json:"request_id"`
	UserID     int64          `gorm:"index;not null"                        json:"user_id"`
	ChatID     int64          `gorm:"not null"                              json:"chat_id"`
	Success    bool           `gorm:"index"                                 json:"success"`
	Attempts   datatypes.JSON `                                             json:"attempts,omitempty"`
	Error      string         `gorm:"type:text"                             json:"error,omitempty"`
	DurationMS int64          `                                             json:"duration_ms"`
	CreatedAt  time.Time      `gorm:"index"                                 json:"created_at"`
}

// HistoryStore records generation runs and answers status queries.
type HistoryStore struct {
	db *gorm.DB
}

// Open opens (or creates) the SQLite database at dsn and migrates the
// history schema.
func Open(dsn string) (*HistoryStore, error) {
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, errors.Wrap(errors.KindStorage, "storage.Open",
			"open database", err)
	}
	if err := db.AutoMigrate(&GenerationRecord{}); err != nil {
		return nil, errors.Wrap(errors.KindStorage, "storage.Open",
			"migrate history schema", err)
	}
	return &HistoryStore{db: db}, nil
}

// Record inserts one run. The attempt trail is stored as JSON so the
// schema does not change when the dispatcher gains endpoints.
func (s *HistoryStore) Record(requestID string, userID, chatID int64, success bool, attempts []card.Attempt, runErr string, duration time.Duration) error {
	var trail datatypes.JSON
	if len(attempts) > 0 {
		raw, err := json.Marshal(attempts)
		if err != nil {
			return errors.Wrap(errors.KindStorage, "storage.Record",
				"encode attempt trail", err)
		}
		trail = datatypes.JSON(raw)
	}
	rec := GenerationRecord{
		RequestID:  requestID,
		UserID:     userID,
		ChatID:     chatID,
		Success:    success,
		Attempts:   trail,
		Error:      runErr,
		DurationMS: duration.Milliseconds(),
	}
	if err := s.db.Create(&rec).Error; err != nil {
		return errors.Wrap(errors.KindStorage, "storage.Record",
			"insert generation record", err)
	}
	return nil
}

// Recent returns the latest runs, newest first.
func (s *HistoryStore) Recent(limit int) ([]GenerationRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	var records []GenerationRecord
	err := s.db.Order("created_at DESC").Limit(limit).Find(&records).Error
	if err != nil {
		return nil, errors.Wrap(errors.KindStorage, "storage.Recent",
			"query recent records", err)
	}
	return records, nil
}

// Stats summarizes runs since a cutoff.
type Stats struct {
	Total     int64 `json:"total"`
	Succeeded int64 `json:"succeeded"`
	Failed    int64 `json:"failed"`
}

// StatsSince counts runs recorded after the cutoff.
func (s *HistoryStore) StatsSince(cutoff time.Time) (*Stats, error) {
	var stats Stats
	base := s.db.Model(&GenerationRecord{}).Where("created_at > ?", cutoff)

	if err := base.Session(&gorm.Session{}).Count(&stats.Total).Error; err != nil {
		return nil, errors.Wrap(errors.KindStorage, "storage.StatsSince",
			"count records", err)
	}
	err := base.Session(&gorm.Session{}).Where("success = ?", true).Count(&stats.Succeeded).Error
	if err != nil {
		return nil, errors.Wrap(errors.KindStorage, "storage.StatsSince",
			"count successes", err)
	}
	stats.Failed = stats.Total - stats.Succeeded
	return &stats, nil
}

// Close releases the underlying connection pool.
func (s *HistoryStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
