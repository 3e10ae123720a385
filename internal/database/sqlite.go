// Package database owns the SQLite connection and schema migrations.
package database

import (
	"fmt"

	sqlite "github.com/glebarez/sqlite"
	"github.com/inkwelldms/inkwell/internal/annotations"
	"github.com/inkwelldms/inkwell/internal/documents"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// OpenSQLite establishes a SQLite connection and performs schema migrations.
func OpenSQLite(path string, logger *zap.Logger) (*gorm.DB, error) {
	if path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{})
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)

	models := []interface{}{
		&annotations.Record{},
		&annotations.MarkupBlob{},
		&annotations.DocumentLock{},
		&migrationRecord{},
	}
	models = append(models, documents.Models()...)
	if err := db.AutoMigrate(models...); err != nil {
		return nil, err
	}

	if err := applyMigrations(db, logger); err != nil {
		return nil, err
	}

	if logger != nil {
		logger.Info("database initialized", zap.String("path", path))
	}

	return db, nil
}
