package database

import (
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/MarcoPoloResearchLab/gatekeeper/backend/internal/users"
	sqlite "github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func TestApplyMigrationsClearsLegacyOAuthPlaceholder(testContext *testing.T) {
	tempDir := testContext.TempDir()
	databasePath := filepath.Join(tempDir, "migration.db")

	database, err := gorm.Open(sqlite.Open(databasePath), &gorm.Config{})
	if err != nil {
		testContext.Fatalf("failed to open sqlite: %v", err)
	}

	if err := database.AutoMigrate(&users.User{}, &migrationRecord{}); err != nil {
		testContext.Fatalf("failed to migrate schema: %v", err)
	}

	legacy := users.User{ID: "user-1", Email: "fb@x.com", PasswordHash: legacyOAuthPlaceholder}
	local := users.User{ID: "user-2", Email: "local@x.com", PasswordHash: "$2a$10$hash"}
	if err := database.Create(&legacy).Error; err != nil {
		testContext.Fatalf("failed to insert legacy user: %v", err)
	}
	if err := database.Create(&local).Error; err != nil {
		testContext.Fatalf("failed to insert local user: %v", err)
	}

	if err := applyMigrations(database, zap.NewNop()); err != nil {
		testContext.Fatalf("failed to apply migrations: %v", err)
	}

	var stored users.User
	if err := database.Where("id = ?", legacy.ID).Take(&stored).Error; err != nil {
		testContext.Fatalf("failed to reload legacy user: %v", err)
	}
	if stored.PasswordHash != "" {
		testContext.Fatalf("expected placeholder to be cleared, got %q", stored.PasswordHash)
	}
	var storedLocal users.User
	if err := database.Where("id = ?", local.ID).Take(&storedLocal).Error; err != nil {
		testContext.Fatalf("failed to reload local user: %v", err)
	}
	if storedLocal.PasswordHash != local.PasswordHash {
		testContext.Fatalf("expected local hash to be untouched, got %q", storedLocal.PasswordHash)
	}

	var record migrationRecord
	if err := database.Where("name = ?", migrationClearLegacyOAuthPlaceholder).Take(&record).Error; err != nil {
		testContext.Fatalf("expected migration record to be created: %v", err)
	}
	if record.AppliedAtSeconds == 0 {
		testContext.Fatalf("expected migration timestamp to be set")
	}

	if err := applyMigrations(database, zap.NewNop()); err != nil {
		testContext.Fatalf("expected re-applying migrations to be a no-op: %v", err)
	}
}

func TestOpenSQLiteTranslatesDuplicateEmail(testContext *testing.T) {
	databasePath := filepath.Join(testContext.TempDir(), "open.db")
	database, err := OpenSQLite(databasePath, zap.NewNop())
	if err != nil {
		testContext.Fatalf("failed to open database: %v", err)
	}
	sqlDB, err := database.DB()
	if err != nil {
		testContext.Fatalf("failed to access sql db: %v", err)
	}
	defer sqlDB.Close()

	if err := database.Create(&users.User{ID: "a", Email: "dup@x.com"}).Error; err != nil {
		testContext.Fatalf("failed to insert user: %v", err)
	}
	err = database.Create(&users.User{ID: "b", Email: "dup@x.com"}).Error
	if err == nil {
		testContext.Fatalf("expected unique email violation")
	}
	if !errors.Is(err, gorm.ErrDuplicatedKey) && !strings.Contains(err.Error(), "UNIQUE constraint failed") {
		testContext.Fatalf("expected duplicate key error, got %v", err)
	}
}
