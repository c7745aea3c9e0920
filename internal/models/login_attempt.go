package models

import (
	"encoding/json"
	"time"
)

// LoginAttemptState is the verification state of a login attempt.
type LoginAttemptState string

const (
	LoginAttemptPending  LoginAttemptState = "pending"
	LoginAttemptApproved LoginAttemptState = "approved"
	LoginAttemptDenied   LoginAttemptState = "denied"
)

// LoginAttempt records a password-authenticated sign-in waiting for approval
// from the account's mailbox. Only the SHA-256 digest of the token is stored.
type LoginAttempt struct {
	BaseModel

	UserID string `gorm:"type:uuid;not null;index" json:"user_id"`
	User   *User  `gorm:"foreignKey:UserID;constraint:OnDelete:CASCADE" json:"-"`

	TokenHash string `gorm:"size:64;uniqueIndex;not null" json:"-"`

	City      string `gorm:"size:100" json:"city"`
	Country   string `gorm:"size:100" json:"country"`
	Browser   string `gorm:"size:100" json:"browser"`
	OS        string `gorm:"column:os;size:100" json:"os"`
	IPAddress string `gorm:"size:45" json:"ip_address"`

	State     LoginAttemptState `gorm:"size:16;not null;default:pending;index" json:"state"`
	ExpiresAt time.Time         `gorm:"index;not null" json:"expires_at"`
	DecidedAt *time.Time        `json:"decided_at,omitempty"`
}

// IsVerified reports whether a decision has been recorded.
func (a *LoginAttempt) IsVerified() bool {
	return a.State != LoginAttemptPending
}

// IsApproved reports whether the owner approved the attempt.
func (a *LoginAttempt) IsApproved() bool {
	return a.State == LoginAttemptApproved
}

// IsExpired reports whether now is strictly after the expiry instant.
func (a *LoginAttempt) IsExpired(now time.Time) bool {
	return now.After(a.ExpiresAt)
}

// MarshalJSON adds the derived is_verified and is_approved flags.
func (a LoginAttempt) MarshalJSON() ([]byte, error) {
	type attempt LoginAttempt
	return json.Marshal(struct {
		attempt
		IsVerified bool `json:"is_verified"`
		IsApproved bool `json:"is_approved"`
	}{
		attempt:    attempt(a),
		IsVerified: a.IsVerified(),
		IsApproved: a.IsApproved(),
	})
}
