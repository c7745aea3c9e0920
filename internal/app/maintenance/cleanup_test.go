package maintenance

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	iauth "github.com/charlesng35/authgate/internal/auth"
	"github.com/charlesng35/authgate/internal/cache"
	testutil "github.com/charlesng35/authgate/internal/database/testutil"
	"github.com/charlesng35/authgate/internal/models"
	"github.com/charlesng35/authgate/internal/services"
	"github.com/charlesng35/authgate/pkg/crypto"
)

func TestCleanerRunOnce(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	ctx := context.Background()
	clock := &fixedClock{current: time.Date(2024, 5, 20, 9, 0, 0, 0, time.UTC)}

	auditSvc, err := services.NewAuditService(db, services.WithAuditClock(clock.Now))
	require.NoError(t, err)

	jwtSvc, err := iauth.NewJWTService(iauth.JWTConfig{
		Secret:          "cleanup-secret",
		Issuer:          "test-suite",
		AccessTokenTTL:  time.Hour,
		RefreshTokenTTL: time.Hour,
		Clock:           clock.Now,
	})
	require.NoError(t, err)

	sessionSvc, err := iauth.NewSessionService(db, jwtSvc, iauth.SessionConfig{Clock: clock.Now})
	require.NoError(t, err)

	logins, err := services.NewLoginVerificationService(db, services.LoginVerificationDeps{},
		services.WithLoginClock(clock.Now))
	require.NoError(t, err)

	store := cache.NewDatabaseStore(db).WithClock(clock.Now)

	user := seedUser(t, db, "cleanup-user")

	_, expiredSession, err := sessionSvc.Issue(ctx, user, iauth.SessionMetadata{})
	require.NoError(t, err)
	require.NoError(t, db.Model(&models.Session{}).Where("id = ?", expiredSession.ID).
		Update("expires_at", clock.Now().Add(-2*time.Hour)).Error)

	_, activeSession, err := sessionSvc.Issue(ctx, user, iauth.SessionMetadata{})
	require.NoError(t, err)

	_, revokedSession, err := sessionSvc.Issue(ctx, user, iauth.SessionMetadata{})
	require.NoError(t, err)
	require.NoError(t, sessionSvc.RevokeSession(ctx, revokedSession.ID))

	staleAttempt := seedAttempt(t, db, user.ID, "stale", clock.Now().Add(-40*24*time.Hour))
	recentAttempt := seedAttempt(t, db, user.ID, "recent", clock.Now().Add(-time.Hour))

	require.NoError(t, auditSvc.Log(ctx, services.AuditEntry{
		Action:   "auth.login",
		Result:   "success",
		Username: "cleanup-user",
	}))
	require.NoError(t, db.Model(&models.AuditLog{}).Where("1 = 1").
		Update("created_at", clock.Now().AddDate(0, 0, -10)).Error)

	require.NoError(t, store.Set(ctx, "gone", []byte("x"), time.Minute))
	require.NoError(t, store.Set(ctx, "kept", []byte("y"), 0))
	clock.current = clock.current.Add(2 * time.Minute)

	c := NewCleaner(Targets{
		Sessions: sessionSvc,
		Attempts: logins,
		Audit:    auditSvc,
		Cache:    store,
	},
		WithAuditRetentionDays(7),
		WithAttemptRetention(30*24*time.Hour),
		WithCron(cron.New(cron.WithLogger(cron.DiscardLogger))),
	)

	require.NoError(t, c.RunOnce(ctx))

	assertNotFound := func(model any, id string) {
		err := db.First(model, "id = ?", id).Error
		require.ErrorIs(t, err, gorm.ErrRecordNotFound)
	}

	assertNotFound(&models.Session{}, expiredSession.ID)
	assertNotFound(&models.Session{}, revokedSession.ID)
	require.NoError(t, db.First(&models.Session{}, "id = ?", activeSession.ID).Error)

	assertNotFound(&models.LoginAttempt{}, staleAttempt.ID)
	require.NoError(t, db.First(&models.LoginAttempt{}, "id = ?", recentAttempt.ID).Error)

	var auditCount int64
	require.NoError(t, db.Model(&models.AuditLog{}).Count(&auditCount).Error)
	require.Zero(t, auditCount)

	var cacheKeys []string
	require.NoError(t, db.Model(&models.CacheEntry{}).Pluck("key", &cacheKeys).Error)
	require.Equal(t, []string{"kept"}, cacheKeys)
}

func TestCleanerRunOnceCombinesErrors(t *testing.T) {
	sessions := &stubSessions{err: errors.New("sessions down")}
	audit := &stubAudit{err: errors.New("audit down")}
	attempts := &stubAttempts{}

	c := NewCleaner(Targets{Sessions: sessions, Audit: audit, Attempts: attempts},
		WithAttemptRetention(time.Hour))

	err := c.RunOnce(context.Background())
	require.ErrorContains(t, err, "sessions down")
	require.ErrorContains(t, err, "audit down")

	require.Equal(t, time.Hour, attempts.retention)
	require.False(t, sessions.synced, "gauge sync is skipped when cleanup fails")
	require.Equal(t, defaultAuditRetentionDays, audit.days)
}

func TestCleanerStartWithoutTargets(t *testing.T) {
	c := NewCleaner(Targets{})
	require.NoError(t, c.Start())
	<-c.Stop().Done()
}

func TestCleanerStartRejectsBadSchedule(t *testing.T) {
	c := NewCleaner(Targets{Sessions: &stubSessions{}}, WithSessionSchedule("not a schedule"))
	require.Error(t, c.Start())
}

func TestCleanerStartRegistersJobs(t *testing.T) {
	scheduler := cron.New(cron.WithLogger(cron.DiscardLogger))
	c := NewCleaner(Targets{
		Sessions: &stubSessions{},
		Attempts: &stubAttempts{},
		Audit:    &stubAudit{},
		Cache:    &stubCache{},
	}, WithCron(scheduler), WithCacheSchedule("@every 1h"))

	require.NoError(t, c.Start())
	defer c.Stop()
	require.Len(t, scheduler.Entries(), 4)
}

func seedUser(t *testing.T, db *gorm.DB, username string) *models.User {
	t.Helper()

	hash, err := crypto.HashPassword("Password123!")
	require.NoError(t, err)

	user := &models.User{
		Username: username,
		Email:    username + "@example.com",
		Password: hash,
		IsActive: true,
	}
	require.NoError(t, db.Create(user).Error)
	return user
}

func seedAttempt(t *testing.T, db *gorm.DB, userID, token string, createdAt time.Time) *models.LoginAttempt {
	t.Helper()

	attempt := &models.LoginAttempt{
		BaseModel: models.BaseModel{CreatedAt: createdAt},
		UserID:    userID,
		TokenHash: crypto.HashToken(token),
		State:     models.LoginAttemptPending,
		ExpiresAt: createdAt.Add(15 * time.Minute),
	}
	require.NoError(t, db.Create(attempt).Error)
	return attempt
}

type fixedClock struct {
	current time.Time
}

func (c *fixedClock) Now() time.Time {
	return c.current
}

type stubSessions struct {
	err    error
	synced bool
}

func (s *stubSessions) CleanupExpired(context.Context) (int64, error) { return 0, s.err }

func (s *stubSessions) SyncActiveSessions(context.Context) error {
	s.synced = true
	return nil
}

type stubAttempts struct {
	retention time.Duration
}

func (s *stubAttempts) PurgeAttemptsOlderThan(_ context.Context, retention time.Duration) (int64, error) {
	s.retention = retention
	return 1, nil
}

type stubAudit struct {
	err  error
	days int
}

func (s *stubAudit) CleanupOlderThan(_ context.Context, days int) (int64, error) {
	s.days = days
	return 0, s.err
}

type stubCache struct{}

func (stubCache) PurgeExpired(context.Context) (int64, error) { return 0, nil }
