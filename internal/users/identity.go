package users

import (
	"strings"
	"time"
)

// Identity maps a provider-specific login onto a canonical habituals user id.
type Identity struct {
	Provider    string    `gorm:"column:provider;primaryKey;size:32;not null"`
	Subject     string    `gorm:"column:subject;primaryKey;size:190;not null"`
	UserID      string    `gorm:"column:user_id;size:190;not null;index"`
	Email       string    `gorm:"column:user_email;size:320"`
	DisplayName string    `gorm:"column:user_display_name;size:320"`
	LastSeenAt  time.Time `gorm:"column:last_seen_at"`
	CreatedAt   time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt   time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName exposes the table backing user identities.
func (Identity) TableName() string {
	return "user_identities"
}

// RCUserBinding records the first purchase-provider account seen for a user.
type RCUserBinding struct {
	UserID      string    `gorm:"column:user_id;primaryKey;size:190;not null"`
	RCAppUserID string    `gorm:"column:rc_app_user_id;size:190;not null;index"`
	CreatedAt   time.Time `gorm:"column:created_at;not null"`
}

func (RCUserBinding) TableName() string {
	return "rc_user_map"
}

func normalize(value string) string {
	return strings.TrimSpace(value)
}
