package users

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/gatekeeper/backend/internal/failure"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	// ErrUserNotFound indicates no user matched the lookup key.
	ErrUserNotFound = errors.New("users: user not found")
	// ErrProfileNotFound indicates the user has no profile yet.
	ErrProfileNotFound = errors.New("users: profile not found")

	errMissingDatabase = errors.New("users: database connection required")
	errDuplicateEmail  = errors.New("users: email already registered")
)

// DirectoryConfig describes the dependencies of the user directory.
type DirectoryConfig struct {
	Database   *gorm.DB
	IDProvider IDProvider
	Clock      func() time.Time
}

// Directory stores users and their profiles.
type Directory struct {
	db  *gorm.DB
	ids IDProvider
	now func() time.Time
}

// NewDirectory constructs a Directory backed by the provided database.
func NewDirectory(cfg DirectoryConfig) (*Directory, error) {
	if cfg.Database == nil {
		return nil, errMissingDatabase
	}
	ids := cfg.IDProvider
	if ids == nil {
		ids = NewUUIDProvider()
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Directory{
		db:  cfg.Database,
		ids: ids,
		now: clock,
	}, nil
}

// NewUser describes a user to create. Profile, when set, is created in the same transaction.
type NewUser struct {
	Email        string
	PasswordHash string
	DisplayName  *string
	Profile      *ProfileFields
}

// FindByEmail returns the user registered under email.
func (d *Directory) FindByEmail(ctx context.Context, email string) (User, error) {
	var user User
	err := d.db.WithContext(ctx).Where("email = ?", normalize(email)).Take(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return User{}, ErrUserNotFound
	}
	if err != nil {
		return User{}, fmt.Errorf("users: find by email: %w", err)
	}
	return user, nil
}

// FindByID returns the user with the provided identifier.
func (d *Directory) FindByID(ctx context.Context, id string) (User, error) {
	id = normalize(id)
	if id == "" {
		return User{}, ErrUserNotFound
	}
	var user User
	err := d.db.WithContext(ctx).Where("id = ?", id).Take(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return User{}, ErrUserNotFound
	}
	if err != nil {
		return User{}, fmt.Errorf("users: find by id: %w", err)
	}
	return user, nil
}

// Create inserts a new user. The unique email index is the only integrity check;
// a collision yields a failure of kind KindDuplicateEmail.
func (d *Directory) Create(ctx context.Context, request NewUser) (User, error) {
	id, err := d.ids.NewID()
	if err != nil {
		return User{}, fmt.Errorf("users: allocate id: %w", err)
	}
	now := d.now().UTC()
	user := User{
		ID:           id,
		Email:        normalize(request.Email),
		PasswordHash: request.PasswordHash,
		DisplayName:  request.DisplayName,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	err = d.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&user).Error; err != nil {
			return err
		}
		if request.Profile == nil {
			return nil
		}
		profile := Profile{
			UserID:         user.ID,
			DisplayName:    request.Profile.DisplayName,
			PhoneNumber:    request.Profile.PhoneNumber,
			MailingAddress: request.Profile.MailingAddress,
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		return tx.Create(&profile).Error
	})
	if isUniqueViolation(err) {
		return User{}, failure.New(failure.KindDuplicateEmail, errDuplicateEmail)
	}
	if err != nil {
		return User{}, fmt.Errorf("users: create: %w", err)
	}
	return user, nil
}

// FindProfile returns the profile of the user, if one exists.
func (d *Directory) FindProfile(ctx context.Context, userID string) (Profile, error) {
	var profile Profile
	err := d.db.WithContext(ctx).Where("user_id = ?", userID).Take(&profile).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Profile{}, ErrProfileNotFound
	}
	if err != nil {
		return Profile{}, fmt.Errorf("users: find profile: %w", err)
	}
	return profile, nil
}

// EnsureProfile creates a profile carrying displayName unless one already exists.
// It reports whether a profile was created. An unknown user yields ErrUserNotFound.
func (d *Directory) EnsureProfile(ctx context.Context, userID string, displayName string) (bool, error) {
	created := false
	err := d.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := requireOwner(tx, userID); err != nil {
			return err
		}
		now := d.now().UTC()
		profile := Profile{
			UserID:      userID,
			DisplayName: StringPtr(displayName),
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		result := tx.Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "user_id"}}, DoNothing: true}).
			Create(&profile)
		if result.Error != nil {
			return fmt.Errorf("users: ensure profile: %w", result.Error)
		}
		created = result.RowsAffected > 0
		return nil
	})
	if err != nil {
		return false, err
	}
	return created, nil
}

// UpsertProfile creates the profile when absent, otherwise merges the non-nil fields.
func (d *Directory) UpsertProfile(ctx context.Context, userID string, fields ProfileFields) (Profile, error) {
	var profile Profile
	err := d.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		profile, err = d.upsertProfile(tx, userID, fields)
		return err
	})
	if err != nil {
		return Profile{}, err
	}
	return profile, nil
}

// UpdateDisplayName overwrites the display name stored on the user row.
func (d *Directory) UpdateDisplayName(ctx context.Context, userID string, name string) error {
	return updateDisplayName(d.db.WithContext(ctx), userID, name, d.now().UTC())
}

// UpdateProfile applies a profile edit: the profile is upserted and, when a name is supplied,
// the user row receives the same display name.
func (d *Directory) UpdateProfile(ctx context.Context, userID string, fields ProfileFields) (Profile, error) {
	var profile Profile
	err := d.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		profile, err = d.upsertProfile(tx, userID, fields)
		if err != nil {
			return err
		}
		if fields.DisplayName == nil {
			return nil
		}
		return updateDisplayName(tx, userID, *fields.DisplayName, d.now().UTC())
	})
	if err != nil {
		return Profile{}, err
	}
	return profile, nil
}

// RecordLink stores or refreshes a provider link.
func (d *Directory) RecordLink(ctx context.Context, link ProviderLink) error {
	if link.LastSeenAt.IsZero() {
		link.LastSeenAt = d.now().UTC()
	}
	err := d.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "provider"}, {Name: "subject"}},
			DoUpdates: clause.AssignmentColumns([]string{"user_id", "user_email", "last_seen_at"}),
		}).
		Create(&link).Error
	if err != nil {
		return fmt.Errorf("users: record link: %w", err)
	}
	return nil
}

// requireOwner fails with ErrUserNotFound unless userID names a stored user.
// Profiles have no storage-level foreign key, so every profile write goes through it.
func requireOwner(tx *gorm.DB, userID string) error {
	var owner User
	err := tx.Select("id").Where("id = ?", userID).Take(&owner).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrUserNotFound
	}
	if err != nil {
		return fmt.Errorf("users: load profile owner: %w", err)
	}
	return nil
}

func (d *Directory) upsertProfile(tx *gorm.DB, userID string, fields ProfileFields) (Profile, error) {
	if err := requireOwner(tx, userID); err != nil {
		return Profile{}, err
	}

	now := d.now().UTC()
	candidate := Profile{
		UserID:         userID,
		DisplayName:    fields.DisplayName,
		PhoneNumber:    fields.PhoneNumber,
		MailingAddress: fields.MailingAddress,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	result := tx.Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "user_id"}}, DoNothing: true}).Create(&candidate)
	if result.Error != nil {
		return Profile{}, fmt.Errorf("users: upsert profile: %w", result.Error)
	}
	if result.RowsAffected == 0 && !fields.empty() {
		updates := fields.columns()
		updates["updated_at"] = now
		if err := tx.Model(&Profile{}).Where("user_id = ?", userID).Updates(updates).Error; err != nil {
			return Profile{}, fmt.Errorf("users: upsert profile: %w", err)
		}
	}

	var stored Profile
	if err := tx.Where("user_id = ?", userID).Take(&stored).Error; err != nil {
		return Profile{}, fmt.Errorf("users: reload profile: %w", err)
	}
	return stored, nil
}

func updateDisplayName(db *gorm.DB, userID string, name string, now time.Time) error {
	result := db.Model(&User{}).
		Where("id = ?", userID).
		Updates(map[string]interface{}{"display_name": name, "updated_at": now})
	if result.Error != nil {
		return fmt.Errorf("users: update display name: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrUserNotFound
	}
	return nil
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
