package app

import (
	"strings"
	"time"

	"github.com/charlesng35/authgate/internal/auth"
	"github.com/charlesng35/authgate/internal/auth/providers"
	"github.com/charlesng35/authgate/internal/services"
)

const (
	defaultLockoutThreshold = 5
	defaultLockoutDuration  = 15 * time.Minute
	defaultAttemptRetention = 30 * 24 * time.Hour
)

// JWTServiceConfig converts AuthConfig into the parameters expected by the JWT service.
func (c AuthConfig) JWTServiceConfig() auth.JWTConfig {
	accessTTL := c.JWT.AccessTTL
	if accessTTL <= 0 {
		accessTTL = auth.DefaultAccessTokenTTL
	}
	refreshTTL := c.JWT.RefreshTTL
	if refreshTTL <= 0 {
		refreshTTL = auth.DefaultRefreshTokenTTL
	}

	return auth.JWTConfig{
		Secret:          c.JWT.Secret,
		RefreshSecret:   c.JWT.RefreshSecret,
		Issuer:          c.JWT.Issuer,
		AccessTokenTTL:  accessTTL,
		RefreshTokenTTL: refreshTTL,
	}
}

// LocalProviderConfig converts AuthConfig into LocalProvider parameters.
func (c AuthConfig) LocalProviderConfig() providers.LocalConfig {
	duration := c.Local.LockoutDuration
	if duration <= 0 {
		duration = defaultLockoutDuration
	}

	threshold := c.Local.LockoutThreshold
	if threshold <= 0 {
		threshold = defaultLockoutThreshold
	}

	return providers.LocalConfig{
		LockoutThreshold: threshold,
		LockoutDuration:  duration,
	}
}

// LoginVerificationOptions converts the login verification section into service options.
// Zero values are left to the service defaults.
func (c AuthConfig) LoginVerificationOptions() []services.LoginVerificationOption {
	lv := c.LoginVerification
	opts := make([]services.LoginVerificationOption, 0, 3)
	if base := strings.TrimSpace(lv.BaseURL); base != "" {
		opts = append(opts, services.WithLoginBaseURL(base))
	}
	if lv.TokenTTL > 0 {
		opts = append(opts, services.WithLoginTokenTTL(lv.TokenTTL))
	}
	if lv.TokenBytes > 0 {
		opts = append(opts, services.WithLoginTokenBytes(lv.TokenBytes))
	}
	return opts
}

// AttemptRetention reports how long finished login attempts are kept.
func (c AuthConfig) AttemptRetention() time.Duration {
	if c.LoginVerification.Retention <= 0 {
		return defaultAttemptRetention
	}
	return c.LoginVerification.Retention
}
