package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"twamm_go/internal/domain"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Storage persists the command WAL and engine metadata in SQLite.
type Storage struct {
	db *gorm.DB
}

// NewStorage opens (creating if needed) the SQLite database at dbPath.
// An empty dbPath resolves to the per-user data directory.
func NewStorage(dbPath string) (*Storage, error) {
	if dbPath == "" {
		var err error
		if dbPath, err = getDBPath(); err != nil {
			return nil, fmt.Errorf("failed to resolve DB path: %w", err)
		}
	}

	// Ensure directory exists
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create DB directory: %w", err)
	}

	// Connect to SQLite (Pure Go)
	db, err := gorm.Open(sqlite.Open(dbPath), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Auto Migration
	if err := db.AutoMigrate(&domain.CommandRecord{}, &domain.AppConfig{}); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return &Storage{db: db}, nil
}

// getDBPath resolves the database file path based on OS
func getDBPath() (string, error) {
	var configDir string
	var err error

	if runtime.GOOS == "windows" {
		configDir = os.Getenv("LOCALAPPDATA")
		if configDir == "" {
			configDir, err = os.UserConfigDir()
		}
	} else {
		configDir, err = os.UserConfigDir()
	}

	if err != nil {
		return "", err
	}

	return filepath.Join(configDir, "twammd", "data", "twamm.db"), nil
}

// Close releases the underlying connection.
func (s *Storage) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// ======================================================================================
// Command WAL
// ======================================================================================

// SaveCommand appends a sequenced command. A sequence number can be written once.
func (s *Storage) SaveCommand(ctx context.Context, rec *domain.CommandRecord) error {
	if err := s.db.WithContext(ctx).Create(rec).Error; err != nil {
		return fmt.Errorf("save command %d: %w", rec.Seq, err)
	}
	return nil
}

// LoadCommands returns every command with Seq > afterSeq in sequence order.
func (s *Storage) LoadCommands(ctx context.Context, afterSeq uint64) ([]domain.CommandRecord, error) {
	var recs []domain.CommandRecord
	err := s.db.WithContext(ctx).
		Where("seq > ?", afterSeq).
		Order("seq ASC").
		Find(&recs).Error
	return recs, err
}

// LastSeq returns the highest persisted sequence number, or 0.
func (s *Storage) LastSeq(ctx context.Context) (uint64, error) {
	var rec domain.CommandRecord
	err := s.db.WithContext(ctx).Order("seq DESC").First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil // Empty log is not an error
	}
	return rec.Seq, err
}

// ======================================================================================
// Metadata
// ======================================================================================

// SaveMeta saves one metadata entry.
func (s *Storage) SaveMeta(ctx context.Context, key, value string) error {
	meta := domain.AppConfig{
		Key:   key,
		Value: value,
	}
	return s.db.WithContext(ctx).Save(&meta).Error
}

// LoadMeta returns the value for key and whether it exists.
func (s *Storage) LoadMeta(ctx context.Context, key string) (string, bool, error) {
	var meta domain.AppConfig
	err := s.db.WithContext(ctx).First(&meta, "key = ?", key).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return meta.Value, true, nil
}

// LoadMetaMap loads all metadata as a map
func (s *Storage) LoadMetaMap(ctx context.Context) (map[string]string, error) {
	var metas []domain.AppConfig
	if err := s.db.WithContext(ctx).Find(&metas).Error; err != nil {
		return nil, err
	}

	result := make(map[string]string)
	for _, m := range metas {
		result[m.Key] = m.Value
	}
	return result, nil
}
