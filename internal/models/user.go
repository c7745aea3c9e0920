package models

import "time"

// User is a local account that signs in with a username and password.
type User struct {
	BaseModel

	Username string `gorm:"uniqueIndex;size:150;not null" json:"username"`
	Email    string `gorm:"uniqueIndex;not null" json:"email"`
	Password string `gorm:"not null" json:"-"`

	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Role      Role   `gorm:"size:32;not null;default:USER" json:"role"`

	IsActive bool `gorm:"default:true" json:"is_active"`

	LastLoginAt *time.Time `json:"last_login_at"`
	LastLoginIP string     `json:"last_login_ip"`

	FailedAttempts int        `gorm:"default:0" json:"-"`
	LockedUntil    *time.Time `json:"-"`
}

// EffectiveRole returns the stored role, treating blank or unknown values as RoleUser.
func (u *User) EffectiveRole() Role {
	if u == nil || !u.Role.Valid() {
		return RoleUser
	}
	return u.Role
}

// UserProfile is the public view of an account returned by the API.
type UserProfile struct {
	ID          string `json:"id"`
	Username    string `json:"username"`
	Email       string `json:"email"`
	FirstName   string `json:"first_name"`
	LastName    string `json:"last_name"`
	Role        Role   `json:"role"`
	RoleDisplay string `json:"role_display"`
}

// Profile renders the account for API responses.
func (u *User) Profile() UserProfile {
	if u == nil {
		return UserProfile{}
	}
	role := u.EffectiveRole()
	return UserProfile{
		ID:          u.ID,
		Username:    u.Username,
		Email:       u.Email,
		FirstName:   u.FirstName,
		LastName:    u.LastName,
		Role:        role,
		RoleDisplay: role.Display(),
	}
}
