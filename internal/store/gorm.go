package store

import (
	"context"
	stderrors "errors"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/ResistanceIsUseless/ProxyJudge/internal/errors"
)

// GormStore keeps records in a SQL database through gorm
type GormStore struct {
	db *gorm.DB
}

// OpenSQLite opens (or creates) a sqlite database at path
func OpenSQLite(path string) (*GormStore, error) {
	return openGorm(sqlite.Open(path))
}

// OpenPostgres connects to postgres using a URL or keyword DSN
func OpenPostgres(dsn string) (*GormStore, error) {
	return openGorm(postgres.Open(dsn))
}

func openGorm(dialector gorm.Dialector) (*GormStore, error) {
	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, errors.NewStoreError(errors.ErrorStoreUnavailable, "open database", "", err)
	}
	return NewGormStore(db)
}

// NewGormStore wraps an open connection and migrates the proxies table
func NewGormStore(db *gorm.DB) (*GormStore, error) {
	if err := db.AutoMigrate(&Record{}); err != nil {
		return nil, errors.NewStoreError(errors.ErrorStoreUnavailable, "migrate proxies table", "", err)
	}
	return &GormStore{db: db}, nil
}

// DB exposes the underlying connection
func (s *GormStore) DB() *gorm.DB {
	return s.db
}

func (s *GormStore) Select(ctx context.Context, address string) (*Record, error) {
	var rec Record
	err := s.db.WithContext(ctx).Where("address = ?", address).Take(&rec).Error
	if stderrors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.NewStoreError(errors.ErrorStoreQueryFailed, "select proxy", address, err)
	}
	return &rec, nil
}

func (s *GormStore) UpdateData(ctx context.Context, address string, update Update) error {
	return s.upsert(ctx, address, update.apply)
}

func (s *GormStore) UpdateStatus(ctx context.Context, address string, status Status) error {
	return s.upsert(ctx, address, func(r *Record) { r.Status = status })
}

func (s *GormStore) upsert(ctx context.Context, address string, mutate func(*Record)) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var rec Record
		err := tx.Where("address = ?", address).Take(&rec).Error
		switch {
		case stderrors.Is(err, gorm.ErrRecordNotFound):
			rec = Record{Address: address}
			mutate(&rec)
			return tx.Create(&rec).Error
		case err != nil:
			return err
		}
		mutate(&rec)
		return tx.Save(&rec).Error
	})
	if err != nil {
		return errors.NewStoreError(errors.ErrorStoreWriteFailed, "write proxy", address, err)
	}
	return nil
}

func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
