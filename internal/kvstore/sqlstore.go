package kvstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	slogGorm "github.com/orandin/slog-gorm"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Entry is the single table backing SQLStore.
type Entry struct {
	Key       string `gorm:"primaryKey;size:1024"`
	Value     []byte `gorm:"not null"`
	UpdatedAt time.Time
}

func (Entry) TableName() string { return "kv_entries" }

// SQLStore provides a GORM-based Store that works with any GORM dialect
// supporting ON CONFLICT (SQLite, Postgres).
type SQLStore struct {
	db *gorm.DB
}

var (
	_ Store         = (*SQLStore)(nil)
	_ AtomicCreator = (*SQLStore)(nil)
)

// NewSQLStore takes a pre-configured GORM DB object and migrates the schema.
func NewSQLStore(db *gorm.DB) (*SQLStore, error) {
	if err := db.AutoMigrate(&Entry{}); err != nil {
		return nil, fmt.Errorf("failed to migrate kv schema: %w", err)
	}
	return &SQLStore{db: db}, nil
}

// OpenSQL opens a sqlite file or a postgres DSN and returns a migrated store.
func OpenSQL(driver, dsn string) (*SQLStore, error) {
	gormConfig := &gorm.Config{
		Logger: slogGorm.New(
			slogGorm.WithHandler(slog.Default().With("component", "gorm").Handler()),
			slogGorm.SetLogLevel(slogGorm.DefaultLogType, slog.LevelDebug),
		),
	}

	var (
		db  *gorm.DB
		err error
	)
	switch driver {
	case "sqlite":
		if !strings.HasPrefix(dsn, "file:") && dsn != ":memory:" {
			if err := os.MkdirAll(filepath.Dir(dsn), 0755); err != nil {
				return nil, fmt.Errorf("create db dir: %v", err)
			}
		}
		db, err = gorm.Open(sqlite.Open(dsn), gormConfig)
		if err != nil {
			return nil, fmt.Errorf("open sqlite: %v", err)
		}
		// SQLite allows one writer; serialise through a single connection.
		sqlDB, err := db.DB()
		if err != nil {
			return nil, fmt.Errorf("failed to get sql.DB: %w", err)
		}
		sqlDB.SetMaxOpenConns(1)
		if err := db.Exec("PRAGMA busy_timeout = 5000;").Error; err != nil {
			return nil, fmt.Errorf("apply busy_timeout: %w", err)
		}
	case "postgres":
		db, err = gorm.Open(postgres.Open(dsn), gormConfig)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to postgres: %w", err)
		}
		sqlDB, err := db.DB()
		if err != nil {
			return nil, fmt.Errorf("failed to get sql.DB: %w", err)
		}
		sqlDB.SetMaxOpenConns(25)
		sqlDB.SetMaxIdleConns(10)
		sqlDB.SetConnMaxLifetime(5 * time.Minute)
	default:
		return nil, fmt.Errorf("unsupported sql driver %q", driver)
	}

	return NewSQLStore(db)
}

func (s *SQLStore) Get(ctx context.Context, key string) ([]byte, error) {
	var e Entry
	res := s.db.WithContext(ctx).Where("? = ?", clause.Column{Name: "key"}, key).Limit(1).Find(&e)
	if res.Error != nil {
		return nil, fmt.Errorf("sql get %q: %w", key, res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, ErrNotFound
	}
	return nonNil(e.Value), nil
}

func (s *SQLStore) Set(ctx context.Context, key string, value []byte) error {
	e := Entry{Key: key, Value: nonNil(value)}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(&e).Error
	if err != nil {
		return fmt.Errorf("sql set %q: %w", key, err)
	}
	return nil
}

func (s *SQLStore) Delete(ctx context.Context, key string) error {
	if err := s.db.WithContext(ctx).Where("? = ?", clause.Column{Name: "key"}, key).Delete(&Entry{}).Error; err != nil {
		return fmt.Errorf("sql delete %q: %w", key, err)
	}
	return nil
}

// SetIfAbsent relies on INSERT ... ON CONFLICT DO NOTHING; the row count tells
// whether this call created the row.
func (s *SQLStore) SetIfAbsent(ctx context.Context, key string, value []byte) ([]byte, bool, error) {
	for attempt := 0; attempt < maxCreateAttempts; attempt++ {
		res := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).
			Create(&Entry{Key: key, Value: nonNil(value)})
		if res.Error != nil {
			return nil, false, fmt.Errorf("sql insert %q: %w", key, res.Error)
		}
		if res.RowsAffected == 1 {
			return nil, true, nil
		}

		existing, err := s.Get(ctx, key)
		if errors.Is(err, ErrNotFound) {
			// Deleted between the insert and the read; try again.
			continue
		}
		if err != nil {
			return nil, false, err
		}
		return existing, false, nil
	}
	return nil, false, fmt.Errorf("sql insert %q: %w", key, errCreateContention)
}

// DB exposes the underlying handle, mainly for tests and migrations.
func (s *SQLStore) DB() *gorm.DB {
	return s.db
}

func (s *SQLStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
