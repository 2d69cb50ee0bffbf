package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq" // pq.StringArray for interests
	"gorm.io/gorm"
)

// AccountTier decides whether the daily message cap applies to a user.
type AccountTier string

const (
	// TierRestricted covers unverified and free accounts; subject to the daily cap.
	TierRestricted AccountTier = "restricted"
	// TierFull covers subscribed accounts.
	TierFull AccountTier = "full"
)

// Valid reports whether t is a known tier.
func (t AccountTier) Valid() bool {
	return t == TierRestricted || t == TierFull
}

// User is the profile row the messaging core reads through storage.
// Registration and profile editing live outside this service.
type User struct {
	ID           string         `gorm:"primaryKey" json:"id"`
	Username     string         `gorm:"uniqueIndex;not null" json:"username"`
	DisplayName  string         `json:"displayName"`
	AccountTier  AccountTier    `gorm:"type:text;not null;default:restricted" json:"accountTier"`
	Interests    pq.StringArray `gorm:"type:text[]" json:"interests"`
	Latitude     *float64       `json:"lat,omitempty"`
	Longitude    *float64       `json:"lng,omitempty"`
	LastActiveAt *time.Time     `json:"lastActiveAt,omitempty"`
	CreatedAt    time.Time      `json:"createdAt"`
}

// BeforeCreate is a GORM hook that assigns a UUID when ID is unset
// and defaults the tier to restricted.
func (u *User) BeforeCreate(tx *gorm.DB) (err error) {
	if u.ID == "" {
		u.ID = uuid.New().String()
	}
	if u.AccountTier == "" {
		u.AccountTier = TierRestricted
	}
	return
}

// Name is what other users see in notifications.
func (u *User) Name() string {
	if u.DisplayName != "" {
		return u.DisplayName
	}
	return u.Username
}

// Identity snapshots the fields the realtime core needs.
func (u *User) Identity() UserIdentity {
	return UserIdentity{
		ID:          u.ID,
		Username:    u.Name(),
		AccountTier: u.AccountTier,
	}
}

// UserIdentity is the verified caller of a connection. It is taken once at
// handshake time and never refreshed for the life of that connection.
type UserIdentity struct {
	ID          string      `json:"id"`
	Username    string      `json:"username"`
	AccountTier AccountTier `json:"accountTier"`
}

// Restricted reports whether the daily message cap applies.
func (i UserIdentity) Restricted() bool {
	return i.AccountTier != TierFull
}
