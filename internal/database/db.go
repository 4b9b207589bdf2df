// Package database opens the gorm connection and migrates the schema.
package database

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/localcity-market/messaging/internal/model"
)

// Supported drivers.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// Config selects and tunes the database connection.
type Config struct {
	Driver   string
	URL      string
	LogLevel string
}

// Open connects to the configured database and runs migrations.
func Open(cfg Config) (*gorm.DB, error) {
	gormConfig := &gorm.Config{
		// messages are hard-deleted while conversations may still point at them
		DisableForeignKeyConstraintWhenMigrating: true,
		TranslateError:                           true,
		Logger:                                   gormlogger.Default.LogMode(parseLogLevel(cfg.LogLevel)),
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	}

	var (
		db  *gorm.DB
		err error
	)

	switch strings.ToLower(cfg.Driver) {
	case DriverPostgres:
		db, err = gorm.Open(postgres.New(postgres.Config{DSN: cfg.URL}), gormConfig)
		if err != nil {
			return nil, fmt.Errorf("failed to connect postgres: %w", err)
		}
	case DriverSQLite, "":
		if err := ensureDir(cfg.URL); err != nil {
			return nil, err
		}
		db, err = gorm.Open(sqlite.Open(cfg.URL), gormConfig)
		if err != nil {
			return nil, fmt.Errorf("failed to connect sqlite: %w", err)
		}
		sqlDB, err := db.DB()
		if err != nil {
			return nil, fmt.Errorf("failed to get sqlite database object: %w", err)
		}
		// SQLite supports a single writer.
		sqlDB.SetMaxOpenConns(1)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}

	if err := Migrate(db); err != nil {
		return nil, err
	}

	return db, nil
}

// Migrate creates or updates the tables used by the service.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&model.User{},
		&model.Conversation{},
		&model.Participant{},
		&model.Message{},
	); err != nil {
		return fmt.Errorf("failed to auto migrate: %w", err)
	}
	return backfillFolded(db)
}

// backfillFolded fills content_folded for rows written before the column existed.
func backfillFolded(db *gorm.DB) error {
	var batch []model.Message
	res := db.Select("id", "content").
		Where("content_folded = ? AND content <> ?", "", "").
		FindInBatches(&batch, 500, func(_ *gorm.DB, _ int) error {
			for _, m := range batch {
				err := db.Model(&model.Message{}).
					Where("id = ?", m.ID).
					UpdateColumn("content_folded", model.FoldContent(m.Content)).Error
				if err != nil {
					return err
				}
			}
			return nil
		})
	if res.Error != nil {
		return fmt.Errorf("failed to backfill folded content: %w", res.Error)
	}
	return nil
}

// Close closes the underlying connection pool.
func Close(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// ensureDir creates the parent directory of a file backed sqlite database.
func ensureDir(dsn string) error {
	if dsn == "" || strings.HasPrefix(dsn, "file:") || strings.Contains(dsn, ":memory:") {
		return nil
	}
	path := dsn
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create database directory: %w", err)
	}
	return nil
}

func parseLogLevel(level string) gormlogger.LogLevel {
	switch strings.ToLower(level) {
	case "silent":
		return gormlogger.Silent
	case "error":
		return gormlogger.Error
	case "info", "debug":
		return gormlogger.Info
	default:
		return gormlogger.Warn
	}
}
