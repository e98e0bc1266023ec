package audit

import (
	"context"
	"fmt"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/sweeney/irrigation-controller/internal/status"
)

// Store writes cycle records to a SQL database through gorm.
type Store struct {
	db     *gorm.DB
	driver string
}

// Open connects to the database, checks the connection and migrates the
// irrigation_log table. driver is one of sqlite, postgres or mysql.
func Open(driver, dsn string) (*Store, error) {
	var dialector gorm.Dialector
	switch driver {
	case "mysql":
		dialector = mysql.Open(dsn)
	case "postgres":
		dialector = postgres.Open(dsn)
	case "sqlite":
		dialector = sqlite.Open(dsn)
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}
	sqlDB.SetMaxOpenConns(2)
	sqlDB.SetConnMaxLifetime(time.Hour)
	if driver == "sqlite" {
		// one writer; also keeps an in-memory database on a single connection
		sqlDB.SetMaxOpenConns(1)
	}
	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if err := db.AutoMigrate(&Record{}); err != nil {
		return nil, fmt.Errorf("failed to migrate: %w", err)
	}
	return &Store{db: db, driver: driver}, nil
}

// Name implements status.Sink.
func (s *Store) Name() string { return "sql:" + s.driver }

// Deliver implements status.Sink.
func (s *Store) Deliver(ctx context.Context, snap *status.Snapshot) error {
	rec := FromSnapshot(snap)
	return s.db.WithContext(ctx).Create(&rec).Error
}

// Recent returns up to limit records, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Record, error) {
	var out []Record
	err := s.db.WithContext(ctx).Order("timestamp desc").Order("id desc").Limit(limit).Find(&out).Error
	return out, err
}

// Close closes the database connection.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}
	return sqlDB.Close()
}
