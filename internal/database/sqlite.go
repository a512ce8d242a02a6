package database

import (
	"fmt"
	"strings"

	sqlite "github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/MarcoPoloResearchLab/habituals/internal/habits"
	"github.com/MarcoPoloResearchLab/habituals/internal/purchases"
	"github.com/MarcoPoloResearchLab/habituals/internal/users"
)

const (
	legacyUserPrefix  = "google:"
	busyTimeoutMillis = 5000
)

// Models lists every table owned by the API server.
func Models() []any {
	models := []any{&habits.Habit{}, &habits.HabitEvent{}, &users.Identity{}, &users.RCUserBinding{}}
	models = append(models, purchases.Models()...)
	return append(models, &migrationRecord{})
}

// OpenSQLite opens the database at path, migrates every model and applies pending
// named migrations. File databases wait up to busyTimeoutMillis for the write lock.
func OpenSQLite(path string, logger *zap.Logger) (*gorm.DB, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("database path is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	db, err := gorm.Open(sqlite.Open(sqliteDSN(path)), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("database: open %s: %w", path, err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(Models()...); err != nil {
		return nil, fmt.Errorf("database: automigrate: %w", err)
	}
	if err := stripLegacyUserPrefix(db); err != nil {
		logger.Warn("legacy user id rewrite failed", zap.Error(err))
	}
	if err := applyMigrations(db, logger); err != nil {
		return nil, err
	}

	logger.Info("database initialized", zap.String("path", path))
	return db, nil
}

func sqliteDSN(path string) string {
	if path == ":memory:" || strings.Contains(path, "?") {
		return path
	}
	return fmt.Sprintf("%s?_pragma=busy_timeout(%d)", path, busyTimeoutMillis)
}

// stripLegacyUserPrefix rewrites "google:<sub>" owners written before canonical ids.
func stripLegacyUserPrefix(db *gorm.DB) error {
	for _, model := range []any{&habits.Habit{}, &habits.HabitEvent{}} {
		err := db.Model(model).
			Where("user_id LIKE ?", legacyUserPrefix+"%").
			UpdateColumn("user_id", gorm.Expr("substr(user_id, ?)", len(legacyUserPrefix)+1)).Error
		if err != nil {
			return err
		}
	}
	return nil
}
