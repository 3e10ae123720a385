package database

import (
	"errors"
	"time"

	"github.com/inkwelldms/inkwell/internal/annotations"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const migrationZeroNonStickyPositions = "2026-07-18_zero_non_sticky_positions"

type migrationRecord struct {
	Name             string `gorm:"column:name;primaryKey;size:190;not null"`
	AppliedAtSeconds int64  `gorm:"column:applied_at_s;not null"`
}

func (migrationRecord) TableName() string {
	return "db_migrations"
}

type migrationDefinition struct {
	name  string
	apply func(*gorm.DB) error
}

func applyMigrations(db *gorm.DB, logger *zap.Logger) error {
	migrations := []migrationDefinition{
		{name: migrationZeroNonStickyPositions, apply: zeroNonStickyPositions},
	}

	for _, migration := range migrations {
		var record migrationRecord
		err := db.Where("name = ?", migration.name).Take(&record).Error
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		if err := migration.apply(db); err != nil {
			return err
		}
		appliedAt := time.Now().UTC().Unix()
		if err := db.Create(&migrationRecord{Name: migration.name, AppliedAtSeconds: appliedAt}).Error; err != nil {
			return err
		}
		if logger != nil {
			logger.Info("database migration applied", zap.String("migration", migration.name))
		}
	}
	return nil
}

// Early clients stored viewport coordinates on highlights and drawings even
// though only sticky notes are positioned by percentage. Those stale values
// confused overlay placement, so they are cleared once.
func zeroNonStickyPositions(db *gorm.DB) error {
	return db.Model(&annotations.Record{}).
		Where("annotation_type <> ?", string(annotations.TypeStickyNote)).
		Where("position_x <> 0 OR position_y <> 0").
		Updates(map[string]interface{}{"position_x": 0, "position_y": 0}).Error
}
