package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/charlesng35/authgate/internal/auth"
	"github.com/charlesng35/authgate/internal/auth/providers"
	"github.com/charlesng35/authgate/internal/database/testutil"
	"github.com/charlesng35/authgate/internal/enrichment"
	"github.com/charlesng35/authgate/internal/models"
	"github.com/charlesng35/authgate/pkg/crypto"
)

const testPassword = "correct horse battery"

type testClock struct {
	mu      sync.Mutex
	current time.Time
}

func newTestClock() *testClock {
	return &testClock{current: time.Date(2024, 5, 6, 8, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

func (c *testClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = c.current.Add(d)
}

type stubGeo struct {
	res   enrichment.Resolution
	calls int
}

func (g *stubGeo) Resolve(context.Context, string) enrichment.Resolution {
	g.calls++
	return g.res
}

type recordingNotifier struct {
	mu    sync.Mutex
	sent  []LoginNotification
	err   error
	delay time.Duration
}

func (n *recordingNotifier) NotifyLogin(ctx context.Context, note LoginNotification) error {
	if n.delay > 0 {
		select {
		case <-time.After(n.delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.err != nil {
		return n.err
	}
	n.sent = append(n.sent, note)
	return nil
}

func (n *recordingNotifier) last(t *testing.T) LoginNotification {
	t.Helper()
	n.mu.Lock()
	defer n.mu.Unlock()
	require.NotEmpty(t, n.sent, "expected a notification")
	return n.sent[len(n.sent)-1]
}

type failingIssuer struct{}

func (failingIssuer) Issue(context.Context, *models.User, auth.SessionMetadata) (auth.TokenPair, *models.Session, error) {
	return auth.TokenPair{}, nil, errors.New("signing key unavailable")
}

type loginFixture struct {
	db       *gorm.DB
	clock    *testClock
	svc      *LoginVerificationService
	notifier *recordingNotifier
	geo      *stubGeo
	jwt      *auth.JWTService
	sessions *auth.SessionService
	audit    *AuditService
}

type fixtureOption func(*LoginVerificationDeps)

func newLoginFixture(t *testing.T, opts ...fixtureOption) *loginFixture {
	t.Helper()

	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate(), testutil.WithSingleConnection())
	clock := newTestClock()

	jwtService, err := auth.NewJWTService(auth.JWTConfig{
		Secret:          "access-secret",
		RefreshSecret:   "refresh-secret",
		Issuer:          "authgate-test",
		AccessTokenTTL:  15 * time.Minute,
		RefreshTokenTTL: 24 * time.Hour,
		Clock:           clock.Now,
	})
	require.NoError(t, err)

	sessions, err := auth.NewSessionService(db, jwtService, auth.SessionConfig{Clock: clock.Now})
	require.NoError(t, err)

	local, err := providers.NewLocalProvider(db, providers.LocalConfig{Clock: clock.Now})
	require.NoError(t, err)

	audit, err := NewAuditService(db, WithAuditClock(clock.Now))
	require.NoError(t, err)

	notifier := &recordingNotifier{}
	geo := &stubGeo{res: enrichment.Resolution{Reason: enrichment.ErrNonPublicIP}}

	deps := LoginVerificationDeps{
		Authenticator: local,
		Notifier:      notifier,
		Credentials:   sessions,
		Geo:           geo,
		Devices:       enrichment.NewDeviceParser(),
		Audit:         audit,
	}
	for _, opt := range opts {
		opt(&deps)
	}

	svc, err := NewLoginVerificationService(db, deps,
		WithLoginBaseURL("https://auth.example.com/"),
		WithLoginClock(clock.Now),
	)
	require.NoError(t, err)

	return &loginFixture{
		db:       db,
		clock:    clock,
		svc:      svc,
		notifier: notifier,
		geo:      geo,
		jwt:      jwtService,
		sessions: sessions,
		audit:    audit,
	}
}

func createServiceUser(t *testing.T, db *gorm.DB, username string, role models.Role) *models.User {
	t.Helper()

	hashed, err := crypto.HashPassword(testPassword)
	require.NoError(t, err)

	user := &models.User{
		Username:  username,
		Email:     username + "@example.com",
		Password:  hashed,
		FirstName: "Test",
		Role:      role,
		IsActive:  true,
	}
	require.NoError(t, db.Create(user).Error)
	return user
}
