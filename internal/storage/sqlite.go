package storage

import (
	"context"
	"errors"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// blobRecord is the KV row backing the SQLite store.
type blobRecord struct {
	Key       string `gorm:"column:blob_key;primaryKey;size:190;not null"`
	Value     []byte `gorm:"column:blob_value;type:blob;not null"`
	UpdatedAt int64  `gorm:"column:updated_at_ms;not null"`
}

// TableName provides the explicit table binding for GORM.
func (blobRecord) TableName() string {
	return "blobs"
}

// SQLiteStore is a BlobStore on a local SQLite database, the default backend
// for single-node deployments.
type SQLiteStore struct {
	db    *gorm.DB
	clock func() time.Time
}

// OpenSQLite opens (or creates) the database at path and migrates the schema.
func OpenSQLite(path string, logger *zap.Logger) (*SQLiteStore, error) {
	if path == "" {
		return nil, newStoreError("storage.sqlite.open", "missing_path", nil)
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{})
	if err != nil {
		return nil, newStoreError("storage.sqlite.open", "open_failed", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, newStoreError("storage.sqlite.open", "handle_failed", err)
	}
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(&blobRecord{}); err != nil {
		return nil, newStoreError("storage.sqlite.open", "migrate_failed", err)
	}

	if logger != nil {
		logger.Info("sqlite store initialized", zap.String("path", path))
	}

	return &SQLiteStore{db: db, clock: time.Now}, nil
}

// NewSQLiteStoreWithDB wraps an existing gorm handle, for tests.
func NewSQLiteStoreWithDB(db *gorm.DB) (*SQLiteStore, error) {
	if db == nil {
		return nil, newStoreError("storage.sqlite.new", "missing_database", nil)
	}
	if err := db.AutoMigrate(&blobRecord{}); err != nil {
		return nil, newStoreError("storage.sqlite.new", "migrate_failed", err)
	}
	return &SQLiteStore{db: db, clock: time.Now}, nil
}

func (s *SQLiteStore) Get(ctx context.Context, key string) ([]byte, error) {
	var record blobRecord
	err := s.db.WithContext(ctx).Where("blob_key = ?", key).Take(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrKeyNotFound
	}
	if err != nil {
		return nil, newStoreError("storage.sqlite.get", "query_failed", err)
	}
	return record.Value, nil
}

func (s *SQLiteStore) Put(ctx context.Context, key string, data []byte) error {
	record := blobRecord{
		Key:       key,
		Value:     data,
		UpdatedAt: s.clock().UnixMilli(),
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "blob_key"}},
		DoUpdates: clause.AssignmentColumns([]string{"blob_value", "updated_at_ms"}),
	}).Create(&record).Error
	if err != nil {
		return newStoreError("storage.sqlite.put", "upsert_failed", err)
	}
	return nil
}

func (s *SQLiteStore) Delete(ctx context.Context, key string) error {
	err := s.db.WithContext(ctx).Where("blob_key = ?", key).Delete(&blobRecord{}).Error
	if err != nil {
		return newStoreError("storage.sqlite.delete", "delete_failed", err)
	}
	return nil
}

// Close releases the underlying database handle.
func (s *SQLiteStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
