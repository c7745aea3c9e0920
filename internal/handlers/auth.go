package handlers

import (
	stderrors "errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	iauth "github.com/charlesng35/authgate/internal/auth"
	"github.com/charlesng35/authgate/internal/services"
	"github.com/charlesng35/authgate/pkg/errors"
	"github.com/charlesng35/authgate/pkg/logger"
	"github.com/charlesng35/authgate/pkg/metrics"
	"github.com/charlesng35/authgate/pkg/response"
)

// AuthHandler serves registration, the verify-by-email login flow and
// session credential endpoints.
type AuthHandler struct {
	users    *services.UserService
	logins   *services.LoginVerificationService
	sessions *iauth.SessionService
	audit    *services.AuditService
	log      *zap.Logger
}

func NewAuthHandler(users *services.UserService, logins *services.LoginVerificationService, sessions *iauth.SessionService, audit *services.AuditService) *AuthHandler {
	return &AuthHandler{
		users:    users,
		logins:   logins,
		sessions: sessions,
		audit:    audit,
		log:      logger.WithModule("auth"),
	}
}

type registerRequest struct {
	Username  string `json:"username" validate:"required,username,max=150"`
	Email     string `json:"email" validate:"required,email"`
	Password  string `json:"password" validate:"required,min=8"`
	Password2 string `json:"password2" validate:"required"`
	FirstName string `json:"first_name" validate:"max=150"`
	LastName  string `json:"last_name" validate:"max=150"`
}

// POST /api/auth/register
func (h *AuthHandler) Register(c *gin.Context) {
	var req registerRequest
	if !bindAndValidate(c, &req) {
		return
	}

	user, err := h.users.Register(requestContext(c), services.RegisterInput{
		Username:  req.Username,
		Email:     req.Email,
		Password:  req.Password,
		Password2: req.Password2,
		FirstName: req.FirstName,
		LastName:  req.LastName,
	})
	if err != nil {
		h.log.Info("registration rejected", zap.String("username", req.Username), zap.Error(err))
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusCreated, gin.H{
		"message": "User created",
		"user":    user.Profile(),
	})
}

type loginRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

type loginDetails struct {
	City      string    `json:"city"`
	Country   string    `json:"country"`
	Browser   string    `json:"browser"`
	OS        string    `json:"os"`
	Time      time.Time `json:"time"`
	IPAddress string    `json:"ip_address"`
}

// POST /api/auth/login
func (h *AuthHandler) Login(c *gin.Context) {
	var req loginRequest
	if !bindAndValidate(c, &req) {
		return
	}

	challenge, err := h.logins.BeginLogin(requestContext(c), services.LoginInput{
		Username:  req.Username,
		Password:  req.Password,
		IPAddress: c.ClientIP(),
		UserAgent: c.Request.UserAgent(),
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	attempt := challenge.Attempt
	response.Success(c, http.StatusOK, gin.H{
		"message": challenge.Message,
		"details": loginDetails{
			City:      attempt.City,
			Country:   attempt.Country,
			Browser:   attempt.Browser,
			OS:        attempt.OS,
			Time:      attempt.CreatedAt,
			IPAddress: attempt.IPAddress,
		},
	})
}

type verifyLoginRequest struct {
	Token    string `json:"token"`
	Approved *bool  `json:"approved" validate:"required"`
}

// GET|POST /api/auth/verify-login
func (h *AuthHandler) VerifyLogin(c *gin.Context) {
	var (
		token    string
		approved bool
	)
	if c.Request.Method == http.MethodGet {
		token = c.Query("token")
		raw, ok := c.GetQuery("approved")
		if !ok && strings.TrimSpace(token) != "" {
			// A truncated link must not burn the token as a denial.
			response.Error(c, errors.NewValidation("Missing decision", map[string]string{"approved": "this field is required"}))
			return
		}
		approved = parseBoolFlag(raw)
	} else {
		var req verifyLoginRequest
		if !bindAndValidate(c, &req) {
			return
		}
		token = req.Token
		approved = *req.Approved
	}

	result, err := h.logins.Verify(requestContext(c), token, approved)
	if err != nil {
		response.Error(c, err)
		return
	}

	if result.Tokens == nil {
		response.Success(c, http.StatusOK, gin.H{"message": result.Message})
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"message": result.Message,
		"access":  result.Tokens.AccessToken,
		"refresh": result.Tokens.RefreshToken,
		"user":    result.User.Profile(),
	})
}

type refreshRequest struct {
	Refresh string `json:"refresh"`
}

// POST /api/auth/logout
func (h *AuthHandler) Logout(c *gin.Context) {
	userID, _ := currentUserID(c)

	var req refreshRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			h.log.Debug("ignoring unreadable logout payload", zap.Error(err))
		}
	}

	result := "success"
	if refresh := strings.TrimSpace(req.Refresh); refresh != "" {
		if err := h.sessions.Revoke(requestContext(c), refresh, userID); err != nil {
			result = "failure"
			h.log.Warn("failed to revoke refresh token", zap.String("user_id", userID), zap.Error(err))
		}
	}

	h.recordAudit(c, services.AuditEntry{Action: services.AuditActionLogout, Result: result})
	response.Success(c, http.StatusOK, gin.H{"message": "Logged out"})
}

// POST /api/auth/refresh
func (h *AuthHandler) Refresh(c *gin.Context) {
	var req refreshRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, errors.NewBadRequest("invalid JSON payload"))
		return
	}
	refresh := strings.TrimSpace(req.Refresh)
	if refresh == "" {
		response.Error(c, errors.NewValidation("Refresh token is required", map[string]string{
			"refresh": "this field is required",
		}))
		return
	}

	access, err := h.sessions.Renew(requestContext(c), refresh)
	if err != nil {
		metrics.CredentialRenewals.WithLabelValues("failure").Inc()
		h.recordAudit(c, services.AuditEntry{Action: services.AuditActionRefresh, Result: "failure"})
		if stderrors.Is(err, iauth.ErrInvalidOrExpiredCredential) {
			response.Error(c, errors.ErrInvalidOrExpiredCredential)
			return
		}
		h.log.Error("failed to renew access token", zap.Error(err))
		response.Error(c, errors.ErrInternalServer.WithInternal(err))
		return
	}

	metrics.CredentialRenewals.WithLabelValues("success").Inc()
	response.Success(c, http.StatusOK, gin.H{"access": access})
}

// GET /api/auth/me
func (h *AuthHandler) Me(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		response.Error(c, errors.ErrUnauthorized)
		return
	}

	user, err := h.users.GetByID(requestContext(c), userID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, user.Profile())
}

// GET /api/auth/login-attempts
func (h *AuthHandler) LoginAttempts(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		response.Error(c, errors.ErrUnauthorized)
		return
	}

	page, perPage := pageParams(c, 20)

	attempts, total, err := h.logins.ListAttempts(requestContext(c), userID, page, perPage)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.SuccessWithMeta(c, http.StatusOK, attempts, response.NewMeta(page, perPage, total))
}

func (h *AuthHandler) recordAudit(c *gin.Context, entry services.AuditEntry) {
	if h.audit == nil {
		return
	}
	if err := h.audit.Log(requestContext(c), entry); err != nil {
		h.log.Warn("failed to record audit entry", zap.String("action", entry.Action), zap.Error(err))
	}
}
