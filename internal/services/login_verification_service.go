package services

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/charlesng35/authgate/internal/auditctx"
	"github.com/charlesng35/authgate/internal/auth"
	"github.com/charlesng35/authgate/internal/auth/providers"
	"github.com/charlesng35/authgate/internal/enrichment"
	"github.com/charlesng35/authgate/internal/models"
	"github.com/charlesng35/authgate/pkg/crypto"
	apperrors "github.com/charlesng35/authgate/pkg/errors"
	"github.com/charlesng35/authgate/pkg/logger"
	"github.com/charlesng35/authgate/pkg/metrics"
)

const (
	// DefaultLoginTokenTTL is how long an emailed approve/deny link stays usable.
	DefaultLoginTokenTTL = 15 * time.Minute
	// DefaultLoginTokenBytes is the entropy of a verification token before encoding.
	DefaultLoginTokenBytes = 48

	// VerifyLoginPath is the route the emailed links point at.
	VerifyLoginPath = "/api/auth/verify-login"

	maxTokenCollisionRetries = 3

	loginDeniedMessage   = "Sign-in denied. If this was not you, secure your account."
	loginApprovedMessage = "Sign-in approved"
	loginPendingMessage  = "Verification email sent"
)

// Authenticator checks a username/password pair.
type Authenticator interface {
	Authenticate(ctx context.Context, input providers.AuthenticateInput) (*models.User, error)
}

// CredentialIssuer mints an access/refresh pair for an account.
type CredentialIssuer interface {
	Issue(ctx context.Context, user *models.User, meta auth.SessionMetadata) (auth.TokenPair, *models.Session, error)
}

// LoginVerificationDeps are the collaborators of the login flow.
// Geo and Devices default to no-op enrichment when nil.
type LoginVerificationDeps struct {
	Authenticator Authenticator
	Notifier      LoginNotifier
	Credentials   CredentialIssuer
	Geo           enrichment.GeoResolver
	Devices       enrichment.DeviceParser
	Audit         *AuditService
}

// LoginVerificationOption customises the LoginVerificationService.
type LoginVerificationOption func(*LoginVerificationService)

// WithLoginBaseURL sets the absolute origin used to build approve/deny links.
func WithLoginBaseURL(base string) LoginVerificationOption {
	return func(s *LoginVerificationService) {
		s.baseURL = strings.TrimRight(strings.TrimSpace(base), "/")
	}
}

// WithLoginTokenTTL overrides the verification token lifetime.
func WithLoginTokenTTL(d time.Duration) LoginVerificationOption {
	return func(s *LoginVerificationService) {
		if d > 0 {
			s.ttl = d
		}
	}
}

// WithLoginTokenBytes adjusts the number of random bytes per token.
func WithLoginTokenBytes(n int) LoginVerificationOption {
	return func(s *LoginVerificationService) {
		if n > 0 {
			s.tokenBytes = n
		}
	}
}

// WithLoginClock injects a custom time source.
func WithLoginClock(clock func() time.Time) LoginVerificationOption {
	return func(s *LoginVerificationService) {
		if clock != nil {
			s.now = clock
		}
	}
}

// AttemptInput is the enriched context of a password-authenticated sign-in.
type AttemptInput struct {
	UserID    string
	IPAddress string
	Browser   string
	OS        string
	City      string
	Country   string
}

// LoginInput is a first-factor sign-in request.
type LoginInput struct {
	Username  string
	Password  string
	IPAddress string
	UserAgent string
}

// LoginChallenge is returned once the verification email is on its way.
// It deliberately carries no token.
type LoginChallenge struct {
	Message string
	Attempt *models.LoginAttempt
	User    *models.User
}

// VerificationResult describes the recorded decision and, when approved,
// the credentials issued for it.
type VerificationResult struct {
	Message  string
	Decision models.LoginAttemptState
	Attempt  *models.LoginAttempt
	User     *models.User
	Tokens   *auth.TokenPair
	Session  *models.Session
}

// LoginVerificationService drives the verify-by-email sign-in flow.
type LoginVerificationService struct {
	db          *gorm.DB
	authn       Authenticator
	notifier    LoginNotifier
	credentials CredentialIssuer
	geo         enrichment.GeoResolver
	devices     enrichment.DeviceParser
	audit       *AuditService

	baseURL    string
	ttl        time.Duration
	tokenBytes int
	now        func() time.Time
	log        *zap.Logger
}

// NewLoginVerificationService wires the login flow.
func NewLoginVerificationService(db *gorm.DB, deps LoginVerificationDeps, opts ...LoginVerificationOption) (*LoginVerificationService, error) {
	if db == nil {
		return nil, errors.New("login verification service: db is required")
	}

	svc := &LoginVerificationService{
		db:          db,
		authn:       deps.Authenticator,
		notifier:    deps.Notifier,
		credentials: deps.Credentials,
		geo:         deps.Geo,
		devices:     deps.Devices,
		audit:       deps.Audit,
		ttl:         DefaultLoginTokenTTL,
		tokenBytes:  DefaultLoginTokenBytes,
		now:         time.Now,
		log:         logger.WithModule("login"),
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc, nil
}

// TokenTTL reports the configured verification token lifetime.
func (s *LoginVerificationService) TokenTTL() time.Duration {
	return s.ttl
}

// CreateAttempt persists a pending attempt and returns it with the raw token.
// Only the token digest is stored.
func (s *LoginVerificationService) CreateAttempt(ctx context.Context, input AttemptInput) (*models.LoginAttempt, string, error) {
	ctx = ensureContext(ctx)

	userID := strings.TrimSpace(input.UserID)
	if userID == "" {
		return nil, "", apperrors.ErrLoginAttemptFailed.WithInternal(errors.New("user id is required"))
	}

	var lastErr error
	for i := 0; i < maxTokenCollisionRetries; i++ {
		token, err := crypto.GenerateToken(s.tokenBytes)
		if err != nil {
			return nil, "", apperrors.ErrLoginAttemptFailed.WithInternal(fmt.Errorf("generate token: %w", err))
		}

		now := s.now()
		attempt := &models.LoginAttempt{
			BaseModel: models.BaseModel{CreatedAt: now, UpdatedAt: now},
			UserID:    userID,
			TokenHash: crypto.HashToken(token),
			City:      placeholder(input.City),
			Country:   placeholder(input.Country),
			Browser:   placeholder(input.Browser),
			OS:        placeholder(input.OS),
			IPAddress: strings.TrimSpace(input.IPAddress),
			State:     models.LoginAttemptPending,
			ExpiresAt: now.Add(s.ttl),
		}

		err = s.db.WithContext(ctx).Create(attempt).Error
		if err == nil {
			return attempt, token, nil
		}
		lastErr = err
		if !isUniqueConstraintError(err) {
			break
		}
	}

	return nil, "", apperrors.ErrLoginAttemptFailed.WithInternal(fmt.Errorf("persist login attempt: %w", lastErr))
}

// BeginLogin authenticates the password, records an enriched attempt and
// emails approve/deny links to the account owner.
func (s *LoginVerificationService) BeginLogin(ctx context.Context, input LoginInput) (*LoginChallenge, error) {
	ctx = ensureContext(ctx)
	if s.authn == nil || s.notifier == nil {
		return nil, apperrors.ErrInternalServer.WithInternal(errors.New("login verification service: authenticator and notifier are required"))
	}

	user, err := s.authn.Authenticate(ctx, providers.AuthenticateInput{
		Username:  input.Username,
		Password:  input.Password,
		IPAddress: input.IPAddress,
	})
	if err != nil {
		metrics.AuthAttempts.WithLabelValues("failure").Inc()
		recordAudit(s.audit, ctx, AuditEntry{
			Username: strings.TrimSpace(input.Username),
			Action:   AuditActionLogin,
			Result:   "failure",
			Metadata: map[string]any{"reason": authFailureReason(err)},
		})
		if isCredentialError(err) {
			s.log.Info("password authentication rejected",
				zap.String("username", strings.TrimSpace(input.Username)),
				zap.String("reason", authFailureReason(err)),
			)
			return nil, apperrors.ErrInvalidCredentials
		}
		return nil, apperrors.ErrInternalServer.WithInternal(err)
	}
	metrics.AuthAttempts.WithLabelValues("success").Inc()
	ctx = auditctx.WithUser(ctx, user.ID, user.Username)

	location := enrichment.Location{City: enrichment.Unknown, Country: enrichment.Unknown}
	if s.geo != nil {
		location = s.geo.Resolve(ctx, input.IPAddress).Location()
	}
	device := enrichment.Device{Browser: enrichment.Unknown, OS: enrichment.Unknown}
	if s.devices != nil {
		device = s.devices.Parse(input.UserAgent)
	}

	attempt, token, err := s.CreateAttempt(ctx, AttemptInput{
		UserID:    user.ID,
		IPAddress: input.IPAddress,
		Browser:   device.Browser,
		OS:        device.OS,
		City:      location.City,
		Country:   location.Country,
	})
	if err != nil {
		s.log.Error("failed to create login attempt", zap.String("user_id", user.ID), zap.Error(err))
		recordAudit(s.audit, ctx, AuditEntry{Action: AuditActionLogin, Result: "error", Metadata: map[string]any{"stage": "persist"}})
		return nil, err
	}

	approveURL, denyURL := s.verificationLinks(token)
	if err := s.notifier.NotifyLogin(ctx, LoginNotification{
		User:       user,
		Attempt:    attempt,
		ApproveURL: approveURL,
		DenyURL:    denyURL,
		ExpiresIn:  s.ttl,
	}); err != nil {
		metrics.NotificationsSent.WithLabelValues("failure").Inc()
		s.log.Error("failed to send login verification email",
			zap.String("attempt_id", attempt.ID),
			logger.Token("token", token),
			zap.Error(err),
		)
		recordAudit(s.audit, ctx, AuditEntry{
			Action:   AuditActionLogin,
			Resource: attempt.ID,
			Result:   "error",
			Metadata: map[string]any{"stage": "notify"},
		})
		return nil, apperrors.ErrNotificationFailed.WithInternal(err)
	}
	metrics.NotificationsSent.WithLabelValues("success").Inc()

	s.log.Info("login verification email sent",
		zap.String("attempt_id", attempt.ID),
		zap.String("user_id", user.ID),
		logger.Token("token", token),
	)
	recordAudit(s.audit, ctx, AuditEntry{
		Action:   AuditActionLogin,
		Resource: attempt.ID,
		Result:   "pending",
		Metadata: map[string]any{
			"city":    attempt.City,
			"country": attempt.Country,
			"browser": attempt.Browser,
			"os":      attempt.OS,
		},
	})

	return &LoginChallenge{Message: loginPendingMessage, Attempt: attempt, User: user}, nil
}

// Verify records the owner's decision for token. The transition out of
// pending is a single conditional update so concurrent callers see exactly
// one winner; approval issues credentials only after the decision is stored.
func (s *LoginVerificationService) Verify(ctx context.Context, token string, approved bool) (*VerificationResult, error) {
	ctx = ensureContext(ctx)

	token = strings.TrimSpace(token)
	if token == "" {
		return nil, apperrors.ErrTokenRequired
	}

	var attempt models.LoginAttempt
	err := s.db.WithContext(ctx).
		Where("token_hash = ?", crypto.HashToken(token)).
		Take(&attempt).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		metrics.LoginVerifications.WithLabelValues("not_found").Inc()
		s.log.Warn("unknown verification token", logger.Token("token", token))
		return nil, apperrors.ErrTokenNotFound
	}
	if err != nil {
		metrics.LoginVerifications.WithLabelValues("error").Inc()
		return nil, apperrors.ErrInternalServer.WithInternal(fmt.Errorf("find login attempt: %w", err))
	}

	now := s.now()
	if attempt.IsExpired(now) {
		metrics.LoginVerifications.WithLabelValues("expired").Inc()
		s.log.Info("expired verification token", zap.String("attempt_id", attempt.ID))
		return nil, apperrors.ErrTokenExpired
	}
	if attempt.IsVerified() {
		metrics.LoginVerifications.WithLabelValues("already_used").Inc()
		s.log.Warn("verification token replayed", zap.String("attempt_id", attempt.ID))
		return nil, apperrors.ErrTokenAlreadyUsed
	}

	decision := models.LoginAttemptDenied
	if approved {
		decision = models.LoginAttemptApproved
	}

	res := s.db.WithContext(ctx).
		Model(&models.LoginAttempt{}).
		Where("id = ? AND state = ?", attempt.ID, models.LoginAttemptPending).
		Updates(map[string]any{
			"state":      decision,
			"decided_at": now,
			"updated_at": now,
		})
	if res.Error != nil {
		metrics.LoginVerifications.WithLabelValues("error").Inc()
		return nil, apperrors.ErrInternalServer.WithInternal(fmt.Errorf("record decision: %w", res.Error))
	}
	if res.RowsAffected == 0 {
		metrics.LoginVerifications.WithLabelValues("already_used").Inc()
		s.log.Warn("verification lost race", zap.String("attempt_id", attempt.ID))
		return nil, apperrors.ErrTokenAlreadyUsed
	}
	attempt.State = decision
	attempt.DecidedAt = &now

	result := &VerificationResult{Decision: decision, Attempt: &attempt}
	auditEntry := AuditEntry{
		UserID:   &attempt.UserID,
		Action:   AuditActionVerify,
		Resource: attempt.ID,
		Result:   string(decision),
	}

	if !approved {
		metrics.LoginVerifications.WithLabelValues("denied").Inc()
		s.log.Info("login denied by account owner", zap.String("attempt_id", attempt.ID), zap.String("user_id", attempt.UserID))
		recordAudit(s.audit, ctx, auditEntry)
		result.Message = loginDeniedMessage
		return result, nil
	}

	user, err := s.loadUser(ctx, attempt.UserID)
	if err != nil {
		metrics.LoginVerifications.WithLabelValues("error").Inc()
		auditEntry.Result = "error"
		recordAudit(s.audit, ctx, auditEntry)
		return nil, err
	}

	var (
		pair    auth.TokenPair
		session *models.Session
	)
	if s.credentials == nil {
		err = errors.New("credential issuer is not configured")
	} else {
		pair, session, err = s.credentials.Issue(ctx, user, auth.SessionMetadata{
			IPAddress:      attempt.IPAddress,
			UserAgent:      deviceLabel(attempt),
			LoginAttemptID: attempt.ID,
		})
	}
	if err != nil {
		metrics.LoginVerifications.WithLabelValues("error").Inc()
		s.log.Error("failed to issue credentials", zap.String("attempt_id", attempt.ID), zap.Error(err))
		auditEntry.Result = "error"
		recordAudit(s.audit, ctx, auditEntry)
		return nil, apperrors.ErrCredentialIssue.WithInternal(err)
	}

	metrics.LoginVerifications.WithLabelValues("approved").Inc()
	s.log.Info("login approved", zap.String("attempt_id", attempt.ID), zap.String("user_id", user.ID))
	auditEntry.Username = user.Username
	auditEntry.Metadata = map[string]any{"session_id": session.ID}
	recordAudit(s.audit, ctx, auditEntry)

	result.Message = loginApprovedMessage
	result.User = user
	result.Tokens = &pair
	result.Session = session
	return result, nil
}

// ListAttempts returns the account's login attempts, newest first.
func (s *LoginVerificationService) ListAttempts(ctx context.Context, userID string, page, perPage int) ([]models.LoginAttempt, int64, error) {
	ctx = ensureContext(ctx)
	page, perPage = normalisePage(page, perPage)

	query := s.db.WithContext(ctx).Model(&models.LoginAttempt{}).Where("user_id = ?", strings.TrimSpace(userID))

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("login verification service: count attempts: %w", err)
	}

	var attempts []models.LoginAttempt
	if err := query.
		Order("created_at DESC").
		Offset((page - 1) * perPage).
		Limit(perPage).
		Find(&attempts).Error; err != nil {
		return nil, 0, fmt.Errorf("login verification service: list attempts: %w", err)
	}
	return attempts, total, nil
}

// PurgeAttemptsOlderThan deletes attempts created before now-retention,
// whatever their state.
func (s *LoginVerificationService) PurgeAttemptsOlderThan(ctx context.Context, retention time.Duration) (int64, error) {
	ctx = ensureContext(ctx)
	if retention <= 0 {
		return 0, errors.New("login verification service: retention must be positive")
	}

	cutoff := s.now().Add(-retention)
	res := s.db.WithContext(ctx).Where("created_at < ?", cutoff).Delete(&models.LoginAttempt{})
	if res.Error != nil {
		return 0, fmt.Errorf("login verification service: purge attempts: %w", res.Error)
	}
	return res.RowsAffected, nil
}

func (s *LoginVerificationService) loadUser(ctx context.Context, id string) (*models.User, error) {
	var user models.User
	err := s.db.WithContext(ctx).Take(&user, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperrors.ErrCredentialIssue.WithInternal(fmt.Errorf("account %s no longer exists", id))
	}
	if err != nil {
		return nil, apperrors.ErrCredentialIssue.WithInternal(fmt.Errorf("load account: %w", err))
	}
	if !user.IsActive {
		return nil, apperrors.ErrForbidden.WithInternal(providers.ErrAccountDisabled)
	}
	return &user, nil
}

func (s *LoginVerificationService) verificationLinks(token string) (string, string) {
	link := func(approved bool) string {
		return fmt.Sprintf("%s%s?token=%s&approved=%t", s.baseURL, VerifyLoginPath, url.QueryEscape(token), approved)
	}
	return link(true), link(false)
}

func isCredentialError(err error) bool {
	return errors.Is(err, providers.ErrInvalidCredentials) ||
		errors.Is(err, providers.ErrAccountLocked) ||
		errors.Is(err, providers.ErrAccountDisabled)
}

func authFailureReason(err error) string {
	switch {
	case errors.Is(err, providers.ErrAccountLocked):
		return "locked"
	case errors.Is(err, providers.ErrAccountDisabled):
		return "disabled"
	case errors.Is(err, providers.ErrInvalidCredentials):
		return "invalid_credentials"
	default:
		return "error"
	}
}

func deviceLabel(attempt models.LoginAttempt) string {
	return strings.TrimSpace(attempt.Browser + " / " + attempt.OS)
}

func placeholder(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return enrichment.Unknown
	}
	return value
}
