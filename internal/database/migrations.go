package database

import (
	"errors"
	"time"

	"github.com/MarcoPoloResearchLab/gatekeeper/backend/internal/users"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	migrationClearLegacyOAuthPlaceholder = "2026-09-01_clear_legacy_oauth_password_placeholder"

	// legacyOAuthPlaceholder is the password value provider-created accounts carry when imported
	// from the earlier deployment's user table; it is never written by this service.
	legacyOAuthPlaceholder = "oauth"
)

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
		{name: migrationClearLegacyOAuthPlaceholder, apply: clearLegacyOAuthPlaceholder},
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
		err = db.Transaction(func(tx *gorm.DB) error {
			if err := migration.apply(tx); err != nil {
				return err
			}
			appliedAt := time.Now().UTC().Unix()
			return tx.Create(&migrationRecord{Name: migration.name, AppliedAtSeconds: appliedAt}).Error
		})
		if err != nil {
			return err
		}
		if logger != nil {
			logger.Info("database migration applied", zap.String("migration", migration.name))
		}
	}
	return nil
}

// clearLegacyOAuthPlaceholder normalizes imported provider-created accounts onto the empty password hash.
func clearLegacyOAuthPlaceholder(db *gorm.DB) error {
	return db.Model(&users.User{}).
		Where("password_hash = ?", legacyOAuthPlaceholder).
		Update("password_hash", "").Error
}
