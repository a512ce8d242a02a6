package database

import (
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/MarcoPoloResearchLab/habituals/internal/habits"
)

const migrationRebuildHabitStreaks = "2026-10-01_rebuild_habit_streaks"

type migrationRecord struct {
	Name             string `gorm:"column:name;primaryKey;size:190;not null"`
	AppliedAtSeconds int64  `gorm:"column:applied_at_s;not null"`
}

func (migrationRecord) TableName() string {
	return "db_migrations"
}

type migration struct {
	name  string
	apply func(*gorm.DB, *zap.Logger) error
}

var migrations = []migration{
	{name: migrationRebuildHabitStreaks, apply: rebuildHabitStreaks},
}

// applyMigrations runs each pending migration and records it in the same transaction,
// so a failed migration is retried on the next start.
func applyMigrations(db *gorm.DB, logger *zap.Logger) error {
	var applied []string
	if err := db.Model(&migrationRecord{}).Pluck("name", &applied).Error; err != nil {
		return fmt.Errorf("database: list migrations: %w", err)
	}
	done := make(map[string]struct{}, len(applied))
	for _, name := range applied {
		done[name] = struct{}{}
	}

	for _, pending := range migrations {
		if _, ok := done[pending.name]; ok {
			continue
		}
		err := db.Transaction(func(tx *gorm.DB) error {
			if err := pending.apply(tx, logger); err != nil {
				return err
			}
			return tx.Create(&migrationRecord{Name: pending.name, AppliedAtSeconds: time.Now().UTC().Unix()}).Error
		})
		if err != nil {
			return fmt.Errorf("database: migration %s: %w", pending.name, err)
		}
		logger.Info("database migration applied", zap.String("migration", pending.name))
	}
	return nil
}

// rebuildHabitStreaks brings rows written before undo stripped completions back in line with their events.
func rebuildHabitStreaks(db *gorm.DB, logger *zap.Logger) error {
	changed, err := habits.RebuildStreaks(db, time.Now().UTC())
	if err != nil {
		return err
	}
	logger.Info("habit streaks rebuilt", zap.Int("habits_changed", changed))
	return nil
}
