// Package sqlStore implements the project, document and chat stores on Postgres through gorm.
package sqlStore

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/akolanti/GoRAG/internal/config"
	"github.com/akolanti/GoRAG/pkg/logger_i"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"
)

type Store struct {
	db     *gorm.DB
	logger *logger_i.Logger
	now    func() time.Time
}

// Open connects, migrates the schema and closes the pool when ctx is done.
func Open(ctx context.Context, cfg config.PostgresSettings) (*Store, error) {
	gormLog := gormLogger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		gormLogger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  gormLogger.Warn,
			IgnoreRecordNotFoundError: true,
		},
	)

	db, err := gorm.Open(postgres.Open(cfg.DSN), &gorm.Config{Logger: gormLog})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Postgres: %w", err)
	}
	s, err := New(db)
	if err != nil {
		return nil, err
	}

	go func() {
		<-ctx.Done()
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
		s.logger.Info("Postgres pool closed")
	}()
	return s, nil
}

// New wraps an open connection and migrates the schema.
func New(db *gorm.DB) (*Store, error) {
	if err := db.AutoMigrate(&projectRow{}, &documentRow{}, &sessionRow{}, &messageRow{}); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	s := &Store{
		db:     db,
		logger: logger_i.NewLogger("Postgres Store"),
		now:    time.Now,
	}
	s.logger.Info("Postgres store ready")
	return s, nil
}
