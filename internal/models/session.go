package models

import "time"

// Session backs a refresh credential. The refresh JWT carries the session ID
// as its jti, so revoking the row revokes the credential.
type Session struct {
	BaseModel

	UserID         string     `gorm:"type:uuid;not null;index" json:"user_id"`
	User           *User      `gorm:"foreignKey:UserID;constraint:OnDelete:CASCADE" json:"-"`
	LoginAttemptID *string    `gorm:"type:uuid;index" json:"login_attempt_id,omitempty"`
	IPAddress      string     `json:"ip_address"`
	UserAgent      string     `json:"user_agent"`
	ExpiresAt      time.Time  `gorm:"index" json:"expires_at"`
	LastUsedAt     time.Time  `json:"last_used_at"`
	RevokedAt      *time.Time `gorm:"index" json:"revoked_at"`
}

// Active reports whether the session can still renew credentials at now.
func (s *Session) Active(now time.Time) bool {
	return s.RevokedAt == nil && now.Before(s.ExpiresAt)
}
