package app

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/charlesng35/authgate/internal/auth"
	"github.com/charlesng35/authgate/internal/auth/providers"
	"github.com/charlesng35/authgate/internal/database"
	"github.com/charlesng35/authgate/internal/services"
)

func TestLoadConfigFromFile(t *testing.T) {
	cfg, err := LoadConfig("testdata")
	require.NoError(t, err)

	require.Equal(t, 9090, cfg.Server.Port)
	require.Equal(t, "debug", cfg.Server.LogLevel)
	require.Equal(t, "console", cfg.Server.LogFormat)
	require.Equal(t, 20*time.Second, cfg.Server.ShutdownTimeout)
	require.Equal(t, []string{"https://app.example.com", "https://admin.example.com"}, cfg.Server.CORS.AllowedOrigins)

	require.Equal(t, "postgres", cfg.Database.Driver)
	require.Equal(t, "db.example.com", cfg.Database.Postgres.Host)
	require.Equal(t, 5433, cfg.Database.Postgres.Port)
	require.Equal(t, map[string]string{"sslmode": "require"}, cfg.Database.Postgres.Options)

	require.True(t, cfg.Cache.Redis.Enabled)
	require.Equal(t, "redis.example.com:6380", cfg.Cache.Redis.Address)
	require.Equal(t, 5*time.Second, cfg.Cache.Redis.Timeout)

	require.Equal(t, "jwt-secret", cfg.Auth.JWT.Secret)
	require.Equal(t, "refresh-secret", cfg.Auth.JWT.RefreshSecret)
	require.Equal(t, 30*time.Minute, cfg.Auth.JWT.AccessTTL)
	require.Equal(t, 48*time.Hour, cfg.Auth.JWT.RefreshTTL)
	require.Equal(t, 7, cfg.Auth.Local.LockoutThreshold)
	require.Equal(t, 20*time.Minute, cfg.Auth.Local.LockoutDuration)
	require.Equal(t, "https://auth.example.com", cfg.Auth.LoginVerification.BaseURL)
	require.Equal(t, 10*time.Minute, cfg.Auth.LoginVerification.TokenTTL)
	require.Equal(t, 32, cfg.Auth.LoginVerification.TokenBytes)
	require.Equal(t, 240*time.Hour, cfg.Auth.LoginVerification.Retention)

	require.False(t, cfg.Enrichment.Geo.Enabled)
	require.Equal(t, "https://ipapi.co", cfg.Enrichment.Geo.Endpoint)
	require.Equal(t, 2*time.Second, cfg.Enrichment.Geo.Timeout)

	require.True(t, cfg.Email.SMTP.Enabled)
	require.Equal(t, "smtp.example.com", cfg.Email.SMTP.Host)
	require.Equal(t, 2525, cfg.Email.SMTP.Port)
	require.Equal(t, 15*time.Second, cfg.Email.SMTP.Timeout)

	require.True(t, cfg.RateLimit.Enabled)
	require.Equal(t, 5, cfg.RateLimit.Requests)
	require.Equal(t, 30*time.Second, cfg.RateLimit.Window)

	require.True(t, cfg.Maintenance.Enabled)
	require.Equal(t, 30, cfg.Maintenance.AuditRetentionDays)

	require.Equal(t, "/var/lib/authgate/transcripts", cfg.Orientation.UploadDir)
	require.EqualValues(t, 1<<20, cfg.Orientation.MaxUploadBytes)
	require.True(t, cfg.Orientation.AI.Enabled)
	require.Equal(t, "gemini-key", cfg.Orientation.AI.APIKey)
	require.Equal(t, "gemini-test", cfg.Orientation.AI.Model)
	require.Equal(t, "https://generativelanguage.googleapis.com", cfg.Orientation.AI.Endpoint)
	require.Equal(t, 30*time.Second, cfg.Orientation.AI.Timeout)
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig(t.TempDir())
	require.NoError(t, err)

	require.Equal(t, 8000, cfg.Server.Port)
	require.Equal(t, "sqlite", cfg.Database.Driver)
	require.False(t, cfg.Cache.Redis.Enabled)
	require.Equal(t, 15*time.Minute, cfg.Auth.LoginVerification.TokenTTL)
	require.Equal(t, 48, cfg.Auth.LoginVerification.TokenBytes)
	require.Equal(t, "/metrics", cfg.Monitoring.Prometheus.Endpoint)
	require.Empty(t, cfg.Auth.JWT.Secret)
	require.Equal(t, "./data/transcripts", cfg.Orientation.UploadDir)
	require.EqualValues(t, 5<<20, cfg.Orientation.MaxUploadBytes)
	require.Empty(t, cfg.Orientation.AI.APIKey)
}

func TestLoadConfigEnvOverride(t *testing.T) {
	t.Setenv("AUTHGATE_SERVER_PORT", "7070")
	t.Setenv("AUTHGATE_AUTH_LOGIN_VERIFICATION_BASE_URL", "https://env.example.com")

	cfg, err := LoadConfig(t.TempDir())
	require.NoError(t, err)
	require.Equal(t, 7070, cfg.Server.Port)
	require.Equal(t, "https://env.example.com", cfg.Auth.LoginVerification.BaseURL)
}

func TestAuthConfigAdapters(t *testing.T) {
	cfg := AuthConfig{
		JWT: JWTSettings{
			Secret:        "secret",
			RefreshSecret: "refresh",
			Issuer:        "issuer",
			AccessTTL:     30 * time.Minute,
			RefreshTTL:    10 * time.Hour,
		},
		Local: LocalAuthSettings{
			LockoutThreshold: 4,
			LockoutDuration:  10 * time.Minute,
		},
		LoginVerification: LoginVerificationSettings{
			BaseURL:    "https://auth.example.com",
			TokenTTL:   5 * time.Minute,
			TokenBytes: 32,
			Retention:  time.Hour,
		},
	}

	require.Equal(t, auth.JWTConfig{
		Secret:          "secret",
		RefreshSecret:   "refresh",
		Issuer:          "issuer",
		AccessTokenTTL:  30 * time.Minute,
		RefreshTokenTTL: 10 * time.Hour,
	}, cfg.JWTServiceConfig())

	require.Equal(t, providers.LocalConfig{
		LockoutThreshold: 4,
		LockoutDuration:  10 * time.Minute,
	}, cfg.LocalProviderConfig())

	require.Len(t, cfg.LoginVerificationOptions(), 3)
	require.Equal(t, time.Hour, cfg.AttemptRetention())
}

func TestAuthConfigAdaptersFallback(t *testing.T) {
	var cfg AuthConfig

	jwtCfg := cfg.JWTServiceConfig()
	require.Equal(t, auth.DefaultAccessTokenTTL, jwtCfg.AccessTokenTTL)
	require.Equal(t, auth.DefaultRefreshTokenTTL, jwtCfg.RefreshTokenTTL)

	localCfg := cfg.LocalProviderConfig()
	require.Equal(t, defaultLockoutThreshold, localCfg.LockoutThreshold)
	require.Equal(t, defaultLockoutDuration, localCfg.LockoutDuration)

	require.Empty(t, cfg.LoginVerificationOptions())
	require.Equal(t, defaultAttemptRetention, cfg.AttemptRetention())
}

func TestLoginVerificationOptionsApplyToService(t *testing.T) {
	cfg := AuthConfig{LoginVerification: LoginVerificationSettings{TokenTTL: 3 * time.Minute}}

	svc := &services.LoginVerificationService{}
	for _, opt := range cfg.LoginVerificationOptions() {
		opt(svc)
	}
	require.Equal(t, 3*time.Minute, svc.TokenTTL())
}

func TestEmailConfigAdapter(t *testing.T) {
	cfg := EmailConfig{
		SMTP: SMTPConfig{
			Enabled:  true,
			Host:     "smtp.example.com",
			Port:     2525,
			Username: "user",
			Password: "pass",
			From:     "no-reply@example.com",
			UseTLS:   true,
			Timeout:  10 * time.Second,
		},
	}

	settings := cfg.SMTPSettings()
	require.True(t, settings.Enabled)
	require.Equal(t, "smtp.example.com", settings.Host)
	require.Equal(t, 2525, settings.Port)
	require.Equal(t, "no-reply@example.com", settings.From)
	require.Equal(t, 10*time.Second, settings.Timeout)
}

func TestOrientationConfigAdapters(t *testing.T) {
	cfg := OrientationConfig{
		MaxUploadBytes: 2048,
		AI: OrientationAIConfig{
			Enabled: true,
			APIKey:  "key",
			Model:   "gemini-test",
			Timeout: 5 * time.Second,
		},
	}

	gemini := cfg.GeminiConfig()
	require.True(t, gemini.Enabled)
	require.Equal(t, "key", gemini.APIKey)
	require.Equal(t, "gemini-test", gemini.Model)
	require.Equal(t, 5*time.Second, gemini.Timeout)

	svc := &services.OrientationService{}
	for _, opt := range cfg.OrientationOptions() {
		opt(svc)
	}
	require.EqualValues(t, 2048, svc.TranscriptLimit())

	require.Empty(t, OrientationConfig{}.OrientationOptions())
}

func TestDatabaseSettingsSelectsHostSection(t *testing.T) {
	cfg := DatabaseConfig{
		Driver: "MySQL",
		MySQL: DBAuthConfig{
			Host:     "mysql.internal",
			Port:     3306,
			Database: "gate",
			Username: "root",
			Password: "pw",
			Options:  map[string]string{"tls": "true"},
		},
		Postgres: DBAuthConfig{Host: "ignored"},
	}

	require.Equal(t, database.Config{
		Driver:   "mysql",
		Host:     "mysql.internal",
		Port:     3306,
		Name:     "gate",
		User:     "root",
		Password: "pw",
		Options:  map[string]string{"tls": "true"},
	}, cfg.DatabaseSettings())

	sqlite := DatabaseConfig{Driver: "sqlite", Path: "/tmp/gate.db", Postgres: DBAuthConfig{Host: "ignored"}}
	require.Equal(t, database.Config{Driver: "sqlite", Path: "/tmp/gate.db"}, sqlite.DatabaseSettings())
}

func TestRedisClientConfig(t *testing.T) {
	cfg := CacheConfig{Redis: RedisCacheConfig{Address: " localhost:6379 ", Prefix: "gate:", DB: 2}}
	redisCfg := cfg.RedisClientConfig()
	require.Equal(t, "localhost:6379", redisCfg.Address)
	require.Equal(t, "gate:", redisCfg.Prefix)
	require.Equal(t, 2, redisCfg.DB)
}
