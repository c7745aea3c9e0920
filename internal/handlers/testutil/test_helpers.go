package testutil

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/charlesng35/authgate/internal/api"
	"github.com/charlesng35/authgate/internal/app"
	iauth "github.com/charlesng35/authgate/internal/auth"
	"github.com/charlesng35/authgate/internal/auth/providers"
	sharedtestutil "github.com/charlesng35/authgate/internal/database/testutil"
	"github.com/charlesng35/authgate/internal/enrichment"
	"github.com/charlesng35/authgate/internal/middleware"
	"github.com/charlesng35/authgate/internal/models"
	"github.com/charlesng35/authgate/internal/services"
	"github.com/charlesng35/authgate/pkg/crypto"
	"github.com/charlesng35/authgate/pkg/mail"
	"github.com/charlesng35/authgate/pkg/response"
)

const (
	// BaseURL is the origin used in verification links sent by the test environment.
	BaseURL = "https://auth.example.com"
	// ClientUserAgent is sent with every request so device details are predictable.
	ClientUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
)

var tokenPattern = regexp.MustCompile(`verify-login\?token=([^&\s]+)&approved=true`)

// Clock is a wall clock that tests can move forward.
type Clock struct {
	mu     sync.Mutex
	offset time.Duration
}

// Now returns the current time shifted by every Advance call so far.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return time.Now().Add(c.offset)
}

// Advance moves the clock forward by d.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.offset += d
}

type fixedGeo struct {
	loc enrichment.Location
}

func (g fixedGeo) Resolve(context.Context, string) enrichment.Resolution {
	return enrichment.Resolved(g.loc)
}

// Env encapsulates a fully-wired API instance backed by an in-memory database for handler tests.
type Env struct {
	T        *testing.T
	DB       *gorm.DB
	Router   *gin.Engine
	JWT      *iauth.JWTService
	Sessions *iauth.SessionService
	Mailer   *mail.MemoryMailer
	Clock    *Clock
	Advisor  *StubAdvisor
	// UploadDir is the root of the transcript store.
	UploadDir string
}

// EnvOption adjusts the configuration before the router is built.
type EnvOption func(*app.Config)

// WithRateLimit enables the auth rate limiter with the given budget.
func WithRateLimit(requests int, window time.Duration) EnvOption {
	return func(cfg *app.Config) {
		cfg.RateLimit = app.RateLimitConfig{Enabled: true, Requests: requests, Window: window}
	}
}

// WithTranscriptLimit caps orientation uploads at limit bytes.
func WithTranscriptLimit(limit int64) EnvOption {
	return func(cfg *app.Config) {
		cfg.Orientation.MaxUploadBytes = limit
	}
}

// NewEnv provisions a fresh handler test environment with migrations applied.
func NewEnv(t *testing.T, opts ...EnvOption) *Env {
	t.Helper()

	gin.SetMode(gin.TestMode)

	db := sharedtestutil.MustOpenTestDB(t, sharedtestutil.WithAutoMigrate(), sharedtestutil.WithSingleConnection())
	clock := &Clock{}

	cfg := &app.Config{
		Monitoring: app.MonitoringConfig{Prometheus: app.PrometheusConfig{Enabled: true, Endpoint: "/metrics"}},
		Auth: app.AuthConfig{
			JWT: app.JWTSettings{
				Secret:        "test-suite-super-secret-key-32-bytes!!",
				RefreshSecret: "test-suite-refresh-secret-key-32-bytes",
				Issuer:        "test-suite",
				AccessTTL:     15 * time.Minute,
				RefreshTTL:    24 * time.Hour,
			},
			LoginVerification: app.LoginVerificationSettings{BaseURL: BaseURL},
		},
	}
	for _, opt := range opts {
		opt(cfg)
	}

	jwtCfg := cfg.Auth.JWTServiceConfig()
	jwtCfg.Clock = clock.Now
	jwtSvc, err := iauth.NewJWTService(jwtCfg)
	require.NoError(t, err)

	sessionSvc, err := iauth.NewSessionService(db, jwtSvc, iauth.SessionConfig{Clock: clock.Now})
	require.NoError(t, err)

	auditSvc, err := services.NewAuditService(db, services.WithAuditClock(clock.Now))
	require.NoError(t, err)

	userSvc, err := services.NewUserService(db, auditSvc)
	require.NoError(t, err)

	localCfg := cfg.Auth.LocalProviderConfig()
	localCfg.Clock = clock.Now
	local, err := providers.NewLocalProvider(db, localCfg)
	require.NoError(t, err)

	mailer := mail.NewMemoryMailer()
	notifier, err := services.NewMailLoginNotifier(mailer, services.WithNotifierFrom("no-reply@example.com"))
	require.NoError(t, err)

	loginOpts := append(cfg.Auth.LoginVerificationOptions(), services.WithLoginClock(clock.Now))
	loginSvc, err := services.NewLoginVerificationService(db, services.LoginVerificationDeps{
		Authenticator: local,
		Notifier:      notifier,
		Credentials:   sessionSvc,
		Geo:           fixedGeo{loc: enrichment.Location{City: "Nairobi", Country: "Kenya"}},
		Devices:       enrichment.NewDeviceParser(),
		Audit:         auditSvc,
	}, loginOpts...)
	require.NoError(t, err)

	advisor := NewStubAdvisor()
	uploadDir := t.TempDir()
	transcripts, err := services.NewFilesystemTranscriptStore(uploadDir)
	require.NoError(t, err)
	orientationSvc, err := services.NewOrientationService(db, services.OrientationDeps{
		AI:    advisor,
		Store: transcripts,
		Audit: auditSvc,
	}, cfg.Orientation.OrientationOptions()...)
	require.NoError(t, err)

	router, err := api.NewRouter(api.Dependencies{
		DB:        db,
		JWT:       jwtSvc,
		Sessions:  sessionSvc,
		Users:     userSvc,
		Logins:    loginSvc,
		Audit:     auditSvc,
		RateStore: middleware.NewMemoryRateStore(),

		Orientation: orientationSvc,
	}, cfg)
	require.NoError(t, err)

	return &Env{
		T:        t,
		DB:       db,
		Router:   router,
		JWT:      jwtSvc,
		Sessions: sessionSvc,
		Mailer:   mailer,
		Clock:    clock,
		Advisor:  advisor,

		UploadDir: uploadDir,
	}
}

// CreateUser inserts an active account with a random username and returns the record.
func (e *Env) CreateUser(password string) *models.User {
	e.T.Helper()

	username := "user-" + uuid.NewString()[:8]
	hashed, err := crypto.HashPassword(password)
	require.NoError(e.T, err)

	user := &models.User{
		Username:  username,
		Email:     username + "@example.com",
		Password:  hashed,
		FirstName: "Test",
		IsActive:  true,
		Role:      models.RoleUser,
	}
	require.NoError(e.T, e.DB.Create(user).Error)
	return user
}

// TokenPair mirrors the credentials returned by an approved verification.
type TokenPair struct {
	Access  string `json:"access"`
	Refresh string `json:"refresh"`
}

// UserPayload captures the profile returned from auth endpoints.
type UserPayload struct {
	ID          string `json:"id"`
	Username    string `json:"username"`
	Email       string `json:"email"`
	FirstName   string `json:"first_name"`
	LastName    string `json:"last_name"`
	Role        string `json:"role"`
	RoleDisplay string `json:"role_display"`
}

// VerifyResult bundles the JSON response from an approved verify-login.
type VerifyResult struct {
	Message string      `json:"message"`
	Access  string      `json:"access"`
	Refresh string      `json:"refresh"`
	User    UserPayload `json:"user"`
}

// StartLogin posts credentials and returns the verification token mailed to the account.
func (e *Env) StartLogin(username, password string) string {
	e.T.Helper()

	w := e.Request(http.MethodPost, "/api/auth/login", map[string]string{
		"username": username,
		"password": password,
	}, "")
	require.Equal(e.T, http.StatusOK, w.Code, w.Body.String())
	return e.LastMailedToken()
}

// LastMailedToken extracts the verification token from the most recent email.
func (e *Env) LastMailedToken() string {
	e.T.Helper()

	msg, ok := e.Mailer.Last()
	require.True(e.T, ok, "expected a verification email")
	match := tokenPattern.FindStringSubmatch(msg.Body)
	require.Len(e.T, match, 2, msg.Body)

	token, err := url.QueryUnescape(match[1])
	require.NoError(e.T, err)
	return token
}

// Login runs the full flow: credentials, emailed token, approval. It returns the issued credentials.
func (e *Env) Login(username, password string) VerifyResult {
	e.T.Helper()

	token := e.StartLogin(username, password)

	w := e.Request(http.MethodPost, "/api/auth/verify-login", map[string]any{
		"token":    token,
		"approved": true,
	}, "")
	require.Equal(e.T, http.StatusOK, w.Code, w.Body.String())

	resp := DecodeResponse(e.T, w)
	require.True(e.T, resp.Success, w.Body.String())

	var result VerifyResult
	DecodeInto(e.T, resp.Data, &result)
	require.NotEmpty(e.T, result.Access)
	require.NotEmpty(e.T, result.Refresh)
	require.Equal(e.T, username, result.User.Username)
	return result
}

// APIResponse represents the canonical API envelope returned by handlers.
type APIResponse struct {
	Success bool                `json:"success"`
	Data    json.RawMessage     `json:"data"`
	Error   *response.ErrorInfo `json:"error"`
	Meta    *response.Meta      `json:"meta"`
}

// DecodeResponse parses the standard API response object from a recorder.
func DecodeResponse(t *testing.T, w *httptest.ResponseRecorder) APIResponse {
	t.Helper()
	var resp APIResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp), w.Body.String())
	return resp
}

// DecodeInto unmarshals the data payload into the provided destination.
func DecodeInto[T any](t *testing.T, raw json.RawMessage, dest *T) {
	t.Helper()
	if dest == nil {
		t.Fatal("destination must not be nil")
	}
	require.NoError(t, json.Unmarshal(raw, dest))
}

// Request executes an HTTP request against the test router, applying JSON encoding and auth headers automatically.
func (e *Env) Request(method, path string, body any, token string) *httptest.ResponseRecorder {
	e.T.Helper()

	var buf *bytes.Buffer
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(e.T, err)
		buf = bytes.NewBuffer(data)
	} else {
		buf = bytes.NewBuffer(nil)
	}

	req, err := http.NewRequest(method, path, buf)
	require.NoError(e.T, err)

	req.Header.Set("User-Agent", ClientUserAgent)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	w := httptest.NewRecorder()
	e.Router.ServeHTTP(w, req)
	return w
}
