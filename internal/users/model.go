package users

import (
	"strings"
	"time"
)

// User is the local account record. Email is the reconciliation key and never changes after creation.
type User struct {
	ID           string    `gorm:"column:id;primaryKey;size:64;not null" json:"id"`
	Email        string    `gorm:"column:email;size:320;not null;uniqueIndex" json:"email"`
	PasswordHash string    `gorm:"column:password_hash;size:128;not null;default:''" json:"-"`
	DisplayName  *string   `gorm:"column:display_name;size:320" json:"name"`
	CreatedAt    time.Time `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

// TableName exposes the table backing local users.
func (User) TableName() string {
	return "users"
}

// HasPassword reports whether the account can sign in with local credentials.
func (u User) HasPassword() bool {
	return u.PasswordHash != ""
}

// Profile holds optional contact details, one row per user at most.
type Profile struct {
	UserID         string    `gorm:"column:user_id;primaryKey;size:64;not null" json:"user_id"`
	DisplayName    *string   `gorm:"column:display_name;size:320" json:"name"`
	PhoneNumber    *string   `gorm:"column:phone_number;size:64" json:"phone"`
	MailingAddress *string   `gorm:"column:mailing_address;size:1024" json:"address"`
	CreatedAt      time.Time `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

// TableName exposes the table backing user profiles.
func (Profile) TableName() string {
	return "user_profiles"
}

// ProviderLink records that a provider account has signed in as a local user.
type ProviderLink struct {
	Provider   string    `gorm:"column:provider;primaryKey;size:32;not null"`
	Subject    string    `gorm:"column:subject;primaryKey;size:190;not null"`
	UserID     string    `gorm:"column:user_id;size:64;not null;index"`
	Email      string    `gorm:"column:user_email;size:320"`
	LastSeenAt time.Time `gorm:"column:last_seen_at"`
	CreatedAt  time.Time `gorm:"column:created_at;autoCreateTime"`
}

// TableName exposes the table backing provider links.
func (ProviderLink) TableName() string {
	return "user_identities"
}

// ProfileFields is a partial profile update. Nil fields are left untouched; empty strings overwrite.
type ProfileFields struct {
	DisplayName    *string
	PhoneNumber    *string
	MailingAddress *string
}

func (f ProfileFields) empty() bool {
	return f.DisplayName == nil && f.PhoneNumber == nil && f.MailingAddress == nil
}

func (f ProfileFields) columns() map[string]interface{} {
	updates := map[string]interface{}{}
	if f.DisplayName != nil {
		updates["display_name"] = *f.DisplayName
	}
	if f.PhoneNumber != nil {
		updates["phone_number"] = *f.PhoneNumber
	}
	if f.MailingAddress != nil {
		updates["mailing_address"] = *f.MailingAddress
	}
	return updates
}

// ProfileView is the presentation of a user's profile data.
type ProfileView struct {
	ID      string `json:"id"`
	Email   string `json:"email"`
	Name    string `json:"name"`
	Phone   string `json:"phone"`
	Address string `json:"address"`
}

// ComposeProfileView merges the user row with its optional profile.
// The name prefers the user's display name, then the profile's, then the empty string.
func ComposeProfileView(user User, profile *Profile) ProfileView {
	view := ProfileView{
		ID:    user.ID,
		Email: user.Email,
		Name:  valueOf(user.DisplayName),
	}
	if profile == nil {
		return view
	}
	if user.DisplayName == nil {
		view.Name = valueOf(profile.DisplayName)
	}
	view.Phone = valueOf(profile.PhoneNumber)
	view.Address = valueOf(profile.MailingAddress)
	return view
}

// StringPtr returns a pointer to value.
func StringPtr(value string) *string {
	return &value
}

func valueOf(value *string) string {
	if value == nil {
		return ""
	}
	return *value
}

func normalize(value string) string {
	return strings.TrimSpace(value)
}
