package handlers_test

import (
	"net/http"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/charlesng35/authgate/internal/handlers/testutil"
	"github.com/charlesng35/authgate/internal/models"
)

const password = "AuthPassw0rd!"

func TestAuthHandler_RegisterLoginVerifyRefreshLogout(t *testing.T) {
	env := testutil.NewEnv(t)

	register := env.Request(http.MethodPost, "/api/auth/register", map[string]string{
		"username":   "alice",
		"email":      "alice@example.com",
		"password":   password,
		"password2":  password,
		"first_name": "Alice",
	}, "")
	require.Equal(t, http.StatusCreated, register.Code, register.Body.String())
	var created struct {
		Message string               `json:"message"`
		User    testutil.UserPayload `json:"user"`
	}
	testutil.DecodeInto(t, testutil.DecodeResponse(t, register).Data, &created)
	require.Equal(t, "User created", created.Message)
	require.Equal(t, "USER", created.User.Role)

	login := env.Request(http.MethodPost, "/api/auth/login", map[string]string{
		"username": "alice",
		"password": password,
	}, "")
	require.Equal(t, http.StatusOK, login.Code, login.Body.String())
	var challenge struct {
		Message string         `json:"message"`
		Details map[string]any `json:"details"`
	}
	testutil.DecodeInto(t, testutil.DecodeResponse(t, login).Data, &challenge)
	require.Equal(t, "Verification email sent", challenge.Message)
	require.Equal(t, "Nairobi", challenge.Details["city"])
	require.Equal(t, "Kenya", challenge.Details["country"])
	require.Equal(t, "Chrome 120.0.0.0", challenge.Details["browser"])
	require.NotContains(t, login.Body.String(), "token")

	msg, ok := env.Mailer.Last()
	require.True(t, ok)
	require.Equal(t, []string{"alice@example.com"}, msg.To)
	require.Contains(t, msg.Body, "Hello Alice,")
	require.Contains(t, msg.Body, testutil.BaseURL+"/api/auth/verify-login?token=")

	token := env.LastMailedToken()
	verify := env.Request(http.MethodPost, "/api/auth/verify-login", map[string]any{
		"token":    token,
		"approved": true,
	}, "")
	require.Equal(t, http.StatusOK, verify.Code, verify.Body.String())
	var approved testutil.VerifyResult
	testutil.DecodeInto(t, testutil.DecodeResponse(t, verify).Data, &approved)
	require.Equal(t, "Sign-in approved", approved.Message)
	require.Equal(t, "alice", approved.User.Username)

	me := env.Request(http.MethodGet, "/api/auth/me", nil, approved.Access)
	require.Equal(t, http.StatusOK, me.Code, me.Body.String())
	var profile testutil.UserPayload
	testutil.DecodeInto(t, testutil.DecodeResponse(t, me).Data, &profile)
	require.Equal(t, created.User.ID, profile.ID)
	require.Equal(t, "alice@example.com", profile.Email)

	refresh := env.Request(http.MethodPost, "/api/auth/refresh", map[string]string{"refresh": approved.Refresh}, "")
	require.Equal(t, http.StatusOK, refresh.Code, refresh.Body.String())
	var renewed struct {
		Access string `json:"access"`
	}
	testutil.DecodeInto(t, testutil.DecodeResponse(t, refresh).Data, &renewed)
	require.NotEmpty(t, renewed.Access)

	logout := env.Request(http.MethodPost, "/api/auth/logout", map[string]string{"refresh": approved.Refresh}, renewed.Access)
	require.Equal(t, http.StatusOK, logout.Code, logout.Body.String())

	refresh = env.Request(http.MethodPost, "/api/auth/refresh", map[string]string{"refresh": approved.Refresh}, "")
	require.Equal(t, http.StatusUnauthorized, refresh.Code)
	decoded := testutil.DecodeResponse(t, refresh)
	require.Equal(t, "INVALID_OR_EXPIRED_CREDENTIAL", decoded.Error.Code)
}

func TestAuthHandler_VerifyLoginViaEmailLink(t *testing.T) {
	env := testutil.NewEnv(t)
	user := env.CreateUser(password)

	token := env.StartLogin(user.Username, password)

	resp := env.Request(http.MethodGet, "/api/auth/verify-login?token="+url.QueryEscape(token)+"&approved=TRUE", nil, "")
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	var result testutil.VerifyResult
	testutil.DecodeInto(t, testutil.DecodeResponse(t, resp).Data, &result)
	require.NotEmpty(t, result.Access)

	replay := env.Request(http.MethodGet, "/api/auth/verify-login?token="+url.QueryEscape(token)+"&approved=true", nil, "")
	require.Equal(t, http.StatusBadRequest, replay.Code)
	require.Equal(t, "TOKEN_ALREADY_USED", testutil.DecodeResponse(t, replay).Error.Code)
}

func TestAuthHandler_DenyIssuesNothing(t *testing.T) {
	env := testutil.NewEnv(t)
	user := env.CreateUser(password)

	token := env.StartLogin(user.Username, password)

	resp := env.Request(http.MethodGet, "/api/auth/verify-login?token="+url.QueryEscape(token)+"&approved=false", nil, "")
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	var data map[string]any
	testutil.DecodeInto(t, testutil.DecodeResponse(t, resp).Data, &data)
	require.Equal(t, "Sign-in denied. If this was not you, secure your account.", data["message"])
	require.NotContains(t, data, "access")
	require.NotContains(t, data, "refresh")

	var sessions int64
	require.NoError(t, env.DB.Model(&models.Session{}).Where("user_id = ?", user.ID).Count(&sessions).Error)
	require.Zero(t, sessions)

	again := env.Request(http.MethodPost, "/api/auth/verify-login", map[string]any{"token": token, "approved": true}, "")
	require.Equal(t, http.StatusBadRequest, again.Code)
	require.Equal(t, "TOKEN_ALREADY_USED", testutil.DecodeResponse(t, again).Error.Code)
}

func TestAuthHandler_VerifyLoginErrors(t *testing.T) {
	env := testutil.NewEnv(t)
	user := env.CreateUser(password)

	missing := env.Request(http.MethodGet, "/api/auth/verify-login?approved=true", nil, "")
	require.Equal(t, http.StatusBadRequest, missing.Code)
	require.Equal(t, "TOKEN_REQUIRED", testutil.DecodeResponse(t, missing).Error.Code)

	unknown := env.Request(http.MethodPost, "/api/auth/verify-login", map[string]any{"token": "does-not-exist", "approved": true}, "")
	require.Equal(t, http.StatusNotFound, unknown.Code)
	require.Equal(t, "TOKEN_NOT_FOUND", testutil.DecodeResponse(t, unknown).Error.Code)

	noDecision := env.Request(http.MethodPost, "/api/auth/verify-login", map[string]any{"token": "abc"}, "")
	require.Equal(t, http.StatusBadRequest, noDecision.Code)
	require.Contains(t, testutil.DecodeResponse(t, noDecision).Error.Details, "approved")

	token := env.StartLogin(user.Username, password)
	truncated := env.Request(http.MethodGet, "/api/auth/verify-login?token="+url.QueryEscape(token), nil, "")
	require.Equal(t, http.StatusBadRequest, truncated.Code)
	require.Contains(t, testutil.DecodeResponse(t, truncated).Error.Details, "approved")

	stillPending := env.Request(http.MethodPost, "/api/auth/verify-login", map[string]any{"token": token, "approved": true}, "")
	require.Equal(t, http.StatusOK, stillPending.Code, stillPending.Body.String())

	token = env.StartLogin(user.Username, password)
	env.Clock.Advance(15*time.Minute + time.Second)

	expired := env.Request(http.MethodPost, "/api/auth/verify-login", map[string]any{"token": token, "approved": true}, "")
	require.Equal(t, http.StatusBadRequest, expired.Code)
	require.Equal(t, "TOKEN_EXPIRED", testutil.DecodeResponse(t, expired).Error.Code)
}

func TestAuthHandler_LoginValidationAndCredentials(t *testing.T) {
	env := testutil.NewEnv(t)
	user := env.CreateUser(password)

	resp := env.Request(http.MethodPost, "/api/auth/login", map[string]any{"username": "", "password": ""}, "")
	require.Equal(t, http.StatusBadRequest, resp.Code)
	decoded := testutil.DecodeResponse(t, resp)
	require.False(t, decoded.Success)
	require.Equal(t, "BAD_REQUEST", decoded.Error.Code)
	require.Equal(t, "this field is required", decoded.Error.Details["username"])

	resp = env.Request(http.MethodPost, "/api/auth/login", map[string]any{"username": user.Username, "password": "wrong"}, "")
	require.Equal(t, http.StatusUnauthorized, resp.Code)
	require.Equal(t, "INVALID_CREDENTIALS", testutil.DecodeResponse(t, resp).Error.Code)

	_, ok := env.Mailer.Last()
	require.False(t, ok, "no email for a failed password check")
}

func TestAuthHandler_LoginNotificationFailure(t *testing.T) {
	env := testutil.NewEnv(t)
	user := env.CreateUser(password)
	env.Mailer.FailWith(errSMTPDown)

	resp := env.Request(http.MethodPost, "/api/auth/login", map[string]any{"username": user.Username, "password": password}, "")
	require.Equal(t, http.StatusInternalServerError, resp.Code)
	require.Equal(t, "NOTIFICATION_FAILED", testutil.DecodeResponse(t, resp).Error.Code)
}

func TestAuthHandler_RegisterValidationAndConflict(t *testing.T) {
	env := testutil.NewEnv(t)
	existing := env.CreateUser(password)

	resp := env.Request(http.MethodPost, "/api/auth/register", map[string]string{
		"username":  "bad name",
		"email":     "nope",
		"password":  "short",
		"password2": "short",
	}, "")
	require.Equal(t, http.StatusBadRequest, resp.Code)
	details := testutil.DecodeResponse(t, resp).Error.Details
	require.Contains(t, details, "username")
	require.Equal(t, "enter a valid email address", details["email"])

	resp = env.Request(http.MethodPost, "/api/auth/register", map[string]string{
		"username":  "fresh",
		"email":     "fresh@example.com",
		"password":  password,
		"password2": password + "x",
	}, "")
	require.Equal(t, http.StatusBadRequest, resp.Code)
	require.Equal(t, "passwords do not match", testutil.DecodeResponse(t, resp).Error.Details["password"])

	resp = env.Request(http.MethodPost, "/api/auth/register", map[string]string{
		"username":  existing.Username,
		"email":     "other@example.com",
		"password":  password,
		"password2": password,
	}, "")
	require.Equal(t, http.StatusConflict, resp.Code)
	require.Contains(t, testutil.DecodeResponse(t, resp).Error.Details, "username")
}

func TestAuthHandler_RefreshAndLogoutEdgeCases(t *testing.T) {
	env := testutil.NewEnv(t)
	user := env.CreateUser(password)

	resp := env.Request(http.MethodPost, "/api/auth/refresh", map[string]string{}, "")
	require.Equal(t, http.StatusBadRequest, resp.Code)
	require.Contains(t, testutil.DecodeResponse(t, resp).Error.Details, "refresh")

	resp = env.Request(http.MethodPost, "/api/auth/refresh", map[string]string{"refresh": "garbage"}, "")
	require.Equal(t, http.StatusUnauthorized, resp.Code)

	creds := env.Login(user.Username, password)

	resp = env.Request(http.MethodPost, "/api/auth/refresh", map[string]string{"refresh": creds.Access}, "")
	require.Equal(t, http.StatusUnauthorized, resp.Code, "access tokens cannot renew")

	resp = env.Request(http.MethodPost, "/api/auth/logout", nil, "")
	require.Equal(t, http.StatusUnauthorized, resp.Code)

	resp = env.Request(http.MethodPost, "/api/auth/logout", map[string]string{"refresh": "garbage"}, creds.Access)
	require.Equal(t, http.StatusOK, resp.Code)

	resp = env.Request(http.MethodPost, "/api/auth/logout", nil, creds.Access)
	require.Equal(t, http.StatusOK, resp.Code)

	resp = env.Request(http.MethodPost, "/api/auth/refresh", map[string]string{"refresh": creds.Refresh}, "")
	require.Equal(t, http.StatusOK, resp.Code, "logout without a refresh token leaves the session alone")

	env.Clock.Advance(25 * time.Hour)
	resp = env.Request(http.MethodPost, "/api/auth/refresh", map[string]string{"refresh": creds.Refresh}, "")
	require.Equal(t, http.StatusUnauthorized, resp.Code)
}

func TestAuthHandler_AccessTokenExpires(t *testing.T) {
	env := testutil.NewEnv(t)
	user := env.CreateUser(password)
	creds := env.Login(user.Username, password)

	env.Clock.Advance(16 * time.Minute)

	resp := env.Request(http.MethodGet, "/api/auth/me", nil, creds.Access)
	require.Equal(t, http.StatusUnauthorized, resp.Code)
	require.True(t, strings.Contains(resp.Header().Get("WWW-Authenticate"), "invalid_token"))
}

func TestAuthHandler_LoginAttemptsHistory(t *testing.T) {
	env := testutil.NewEnv(t)
	user := env.CreateUser(password)

	creds := env.Login(user.Username, password)
	env.Clock.Advance(time.Second)
	env.StartLogin(user.Username, password)

	resp := env.Request(http.MethodGet, "/api/auth/login-attempts?per_page=1", nil, creds.Access)
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	decoded := testutil.DecodeResponse(t, resp)
	require.NotNil(t, decoded.Meta)
	require.Equal(t, 2, decoded.Meta.Total)
	require.Equal(t, 2, decoded.Meta.TotalPages)

	var attempts []map[string]any
	testutil.DecodeInto(t, decoded.Data, &attempts)
	require.Len(t, attempts, 1)
	require.Equal(t, "pending", attempts[0]["state"])
	require.Equal(t, false, attempts[0]["is_verified"])
	require.NotContains(t, attempts[0], "token_hash")
}

func TestAuthHandler_RateLimitsLogin(t *testing.T) {
	env := testutil.NewEnv(t, testutil.WithRateLimit(2, time.Minute))

	body := map[string]string{"username": "ghost", "password": "whatever"}
	for i := 0; i < 2; i++ {
		resp := env.Request(http.MethodPost, "/api/auth/login", body, "")
		require.Equal(t, http.StatusUnauthorized, resp.Code)
	}

	resp := env.Request(http.MethodPost, "/api/auth/login", body, "")
	require.Equal(t, http.StatusTooManyRequests, resp.Code)
	require.Equal(t, "RATE_LIMIT_EXCEEDED", testutil.DecodeResponse(t, resp).Error.Code)
	require.NotEmpty(t, resp.Header().Get("Retry-After"))
}
