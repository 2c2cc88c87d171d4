// Package sqlite persists self-enrolled records in a SQLite database through gorm.
package sqlite

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	sqlitedriver "gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/kozaktomas/face-id/internal/config"
	"github.com/kozaktomas/face-id/internal/database"
	"github.com/kozaktomas/face-id/internal/facematch"
)

// DefaultPath is used when SQLITE_PATH is empty.
const DefaultPath = "data/faces.db"

// FaceRecord is the gorm model for a persisted record.
type FaceRecord struct {
	ID             string    `gorm:"primaryKey;size:64"`
	DisplayName    string    `gorm:"size:255;not null"`
	NormalizedName string    `gorm:"size:255;index"`
	Role           string    `gorm:"size:120"`
	Descriptor     []float32 `gorm:"serializer:json;not null"`
	Authorized     bool
	EnrolledAt     time.Time `gorm:"index"`
	SourceImageRef string
	SelfEnrolled   bool
	Simulated      bool
	Model          string `gorm:"size:120"`
	UpdatedAt      time.Time
}

func (FaceRecord) TableName() string {
	return "face_records"
}

func fromRecord(rec facematch.FaceRecord) *FaceRecord {
	return &FaceRecord{
		ID:             rec.ID,
		DisplayName:    rec.DisplayName,
		NormalizedName: facematch.NormalizePersonName(rec.DisplayName),
		Role:           rec.Role,
		Descriptor:     []float32(rec.Descriptor),
		Authorized:     rec.Authorized,
		EnrolledAt:     rec.EnrolledAt,
		SourceImageRef: rec.SourceImageRef,
		SelfEnrolled:   rec.SelfEnrolled,
		Simulated:      rec.Simulated,
		Model:          rec.Model,
	}
}

func (m *FaceRecord) toRecord() facematch.FaceRecord {
	return facematch.FaceRecord{
		ID:             m.ID,
		DisplayName:    m.DisplayName,
		Role:           m.Role,
		Descriptor:     facematch.Descriptor(m.Descriptor),
		Authorized:     m.Authorized,
		EnrolledAt:     m.EnrolledAt,
		SourceImageRef: m.SourceImageRef,
		SelfEnrolled:   m.SelfEnrolled,
		Simulated:      m.Simulated,
		Model:          m.Model,
	}
}

// Store is a gorm-backed database.EnrollmentStore.
type Store struct {
	db *gorm.DB
}

var _ database.EnrollmentStore = (*Store)(nil)

// New wraps an open gorm handle and migrates the face_records table.
func New(db *gorm.DB) (*Store, error) {
	if db == nil {
		return nil, errors.New("sqlite store requires database handle")
	}
	if err := db.AutoMigrate(&FaceRecord{}); err != nil {
		return nil, fmt.Errorf("migrating face_records: %w", err)
	}
	return &Store{db: db}, nil
}

// OpenPath opens (creating if needed) the SQLite file at path.
func OpenPath(path string) (*Store, error) {
	if path == "" {
		path = DefaultPath
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("creating sqlite directory: %w", err)
		}
	}
	db, err := gorm.Open(sqlitedriver.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("opening sqlite %s: %w", path, err)
	}
	return New(db)
}

// Open is the database.StoreOpener for the sqlite backend.
func Open(_ context.Context, cfg *config.Config) (database.EnrollmentStore, error) {
	return OpenPath(cfg.Store.SQLitePath)
}

// Load returns all records, oldest enrollment first.
func (s *Store) Load(ctx context.Context) ([]facematch.FaceRecord, error) {
	var rows []FaceRecord
	if err := s.db.WithContext(ctx).Order("enrolled_at, id").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("loading face records: %w", err)
	}
	out := make([]facematch.FaceRecord, 0, len(rows))
	for i := range rows {
		out = append(out, rows[i].toRecord())
	}
	return out, nil
}

// Save replaces any row with the same ID inside a transaction.
func (s *Store) Save(ctx context.Context, rec facematch.FaceRecord) error {
	if rec.ID == "" {
		return errors.New("record ID is required")
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("id = ?", rec.ID).Delete(&FaceRecord{}).Error; err != nil {
			return fmt.Errorf("replacing face record %s: %w", rec.ID, err)
		}
		if err := tx.Create(fromRecord(rec)).Error; err != nil {
			return fmt.Errorf("saving face record %s: %w", rec.ID, err)
		}
		return nil
	})
}

// Delete removes a record by ID.
func (s *Store) Delete(ctx context.Context, id string) error {
	if err := s.db.WithContext(ctx).Where("id = ?", id).Delete(&FaceRecord{}).Error; err != nil {
		return fmt.Errorf("deleting face record %s: %w", id, err)
	}
	return nil
}

// Close closes the underlying connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("getting sql handle: %w", err)
	}
	return sqlDB.Close()
}
