package database

import (
	"errors"
	"time"

	"github.com/valueverse/boostbot/internal/karma"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const migrationBackfillBoostCounts = "2026-04-18_backfill_karma_boost_counts"

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
		{name: migrationBackfillBoostCounts, apply: backfillBoostCounts},
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

// Rows imported from the pre-sqlite karma file carried karma totals but no
// boost counts.
func backfillBoostCounts(db *gorm.DB) error {
	return db.Model(&karma.Entity{}).
		Where("boost_count = 0 AND karma > 0").
		Update("boost_count", gorm.Expr("karma")).Error
}
