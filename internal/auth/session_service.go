package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/charlesng35/authgate/internal/models"
	"github.com/charlesng35/authgate/pkg/logger"
	"github.com/charlesng35/authgate/pkg/metrics"
)

// SessionConfig describes tunable behaviour for the SessionService.
type SessionConfig struct {
	Clock func() time.Time
	Cache SessionCache
}

// SessionMetadata captures contextual information about the client.
type SessionMetadata struct {
	IPAddress      string
	UserAgent      string
	LoginAttemptID string
}

// TokenPair represents an access token and refresh token pair.
type TokenPair struct {
	AccessToken  string `json:"access"`
	RefreshToken string `json:"refresh"`
}

var (
	// ErrInvalidOrExpiredCredential is returned for any refresh token that can no
	// longer be used: malformed, badly signed, expired, revoked or unknown.
	ErrInvalidOrExpiredCredential = errors.New("session: invalid or expired credential")
	// ErrSessionNotFound indicates that no active session matches the identifier.
	ErrSessionNotFound = errors.New("session: not found")
	// ErrSessionNotOwned is returned when a caller tries to revoke another account's session.
	ErrSessionNotOwned = errors.New("session: not owned by caller")
)

// SessionService issues, renews and revokes session credentials. Refresh
// tokens are signed JWTs whose jti names a row in the sessions table; the
// table acts as the revocation list.
type SessionService struct {
	db    *gorm.DB
	jwt   *JWTService
	now   func() time.Time
	cache SessionCache
}

// NewSessionService constructs a session manager backed by the provided database and JWT service.
func NewSessionService(db *gorm.DB, jwtService *JWTService, cfg SessionConfig) (*SessionService, error) {
	if db == nil {
		return nil, errors.New("session service: db is required")
	}
	if jwtService == nil {
		return nil, errors.New("session service: jwt service is required")
	}

	clock := time.Now
	if cfg.Clock != nil {
		clock = cfg.Clock
	}

	return &SessionService{
		db:    db,
		jwt:   jwtService,
		now:   clock,
		cache: cfg.Cache,
	}, nil
}

// Issue creates a session for user and returns a fresh access/refresh pair.
// The role claim is taken from user as passed in, so callers should load the
// account immediately before issuing.
func (s *SessionService) Issue(ctx context.Context, user *models.User, meta SessionMetadata) (TokenPair, *models.Session, error) {
	if user == nil || strings.TrimSpace(user.ID) == "" {
		return TokenPair{}, nil, errors.New("session service: user is required")
	}
	ctx = ensureContext(ctx)

	now := s.now()
	session := &models.Session{
		UserID:     user.ID,
		IPAddress:  strings.TrimSpace(meta.IPAddress),
		UserAgent:  strings.TrimSpace(meta.UserAgent),
		ExpiresAt:  now.Add(s.jwt.RefreshTTL()),
		LastUsedAt: now,
	}
	if id := strings.TrimSpace(meta.LoginAttemptID); id != "" {
		session.LoginAttemptID = &id
	}

	if err := s.db.WithContext(ctx).Create(session).Error; err != nil {
		return TokenPair{}, nil, fmt.Errorf("session service: create session: %w", err)
	}

	refreshToken, err := s.jwt.GenerateRefreshToken(user.ID, session.ID, session.ExpiresAt)
	if err != nil {
		return TokenPair{}, nil, fmt.Errorf("session service: generate refresh token: %w", err)
	}

	accessToken, err := s.jwt.GenerateAccessToken(AccessTokenInput{
		UserID:    user.ID,
		SessionID: session.ID,
		Role:      string(user.EffectiveRole()),
	})
	if err != nil {
		return TokenPair{}, nil, fmt.Errorf("session service: generate access token: %w", err)
	}

	metrics.ActiveSessions.Inc()
	s.cacheSession(ctx, session)

	return TokenPair{AccessToken: accessToken, RefreshToken: refreshToken}, session, nil
}

// Renew validates refreshToken and returns a new access token. The refresh
// token itself is left unchanged.
func (s *SessionService) Renew(ctx context.Context, refreshToken string) (string, error) {
	ctx = ensureContext(ctx)

	claims, err := s.jwt.ValidateRefreshToken(strings.TrimSpace(refreshToken))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidOrExpiredCredential, err)
	}

	// Revocation state always comes from the database; a stale cache entry
	// must never revive a revoked session.
	session, err := s.findSession(ctx, claims.SessionID)
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			return "", fmt.Errorf("%w: %v", ErrInvalidOrExpiredCredential, err)
		}
		return "", err
	}

	now := s.now()
	if session.UserID != claims.UserID || !session.Active(now) {
		return "", ErrInvalidOrExpiredCredential
	}

	var user models.User
	if err := s.db.WithContext(ctx).Select("id", "role", "is_active").Take(&user, "id = ?", session.UserID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", ErrInvalidOrExpiredCredential
		}
		return "", fmt.Errorf("session service: load user: %w", err)
	}
	if !user.IsActive {
		return "", ErrInvalidOrExpiredCredential
	}

	access, err := s.jwt.GenerateAccessToken(AccessTokenInput{
		UserID:    user.ID,
		SessionID: session.ID,
		Role:      string(user.EffectiveRole()),
	})
	if err != nil {
		return "", fmt.Errorf("session service: generate access token: %w", err)
	}

	if err := s.db.WithContext(ctx).Model(&models.Session{}).
		Where("id = ?", session.ID).
		Update("last_used_at", now).Error; err != nil {
		logger.WithModule("auth").Warn("failed to record session use", zap.String("session_id", session.ID), zap.Error(err))
	}

	return access, nil
}

// Revoke marks the session behind refreshToken as revoked. When ownerID is
// set the token must belong to that account.
func (s *SessionService) Revoke(ctx context.Context, refreshToken, ownerID string) error {
	ctx = ensureContext(ctx)

	claims, err := s.jwt.ValidateRefreshToken(strings.TrimSpace(refreshToken))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidOrExpiredCredential, err)
	}
	if ownerID != "" && claims.UserID != ownerID {
		return ErrSessionNotOwned
	}
	return s.RevokeSession(ctx, claims.SessionID)
}

// RevokeSession marks a session as revoked, preventing further renewals.
func (s *SessionService) RevokeSession(ctx context.Context, sessionID string) error {
	ctx = ensureContext(ctx)
	if strings.TrimSpace(sessionID) == "" {
		return ErrSessionNotFound
	}

	result := s.db.WithContext(ctx).Model(&models.Session{}).
		Where("id = ? AND revoked_at IS NULL", sessionID).
		Update("revoked_at", s.now())
	if result.Error != nil {
		return fmt.Errorf("session service: revoke session: %w", result.Error)
	}
	s.evict(ctx, sessionID)
	if result.RowsAffected == 0 {
		return ErrSessionNotFound
	}

	metrics.ActiveSessions.Sub(float64(result.RowsAffected))
	return nil
}

// ListActive returns the account's sessions that can still renew credentials,
// most recently used first.
func (s *SessionService) ListActive(ctx context.Context, userID string) ([]models.Session, error) {
	ctx = ensureContext(ctx)

	var sessions []models.Session
	if err := s.db.WithContext(ctx).
		Where("user_id = ? AND revoked_at IS NULL AND expires_at > ?", strings.TrimSpace(userID), s.now()).
		Order("last_used_at DESC").
		Find(&sessions).Error; err != nil {
		return nil, fmt.Errorf("session service: list sessions: %w", err)
	}
	return sessions, nil
}

// RevokeOwnedSession revokes sessionID only if it belongs to ownerID.
func (s *SessionService) RevokeOwnedSession(ctx context.Context, sessionID, ownerID string) error {
	ctx = ensureContext(ctx)

	session, err := s.lookup(ctx, sessionID)
	if err != nil {
		return err
	}
	if session.UserID != ownerID {
		return ErrSessionNotOwned
	}
	return s.RevokeSession(ctx, session.ID)
}

// RevokeUserSessions revokes every active session belonging to a user.
func (s *SessionService) RevokeUserSessions(ctx context.Context, userID string) (int64, error) {
	ctx = ensureContext(ctx)
	if strings.TrimSpace(userID) == "" {
		return 0, ErrSessionNotFound
	}

	var ids []string
	if s.cache != nil {
		if err := s.db.WithContext(ctx).Model(&models.Session{}).
			Where("user_id = ? AND revoked_at IS NULL", userID).
			Pluck("id", &ids).Error; err != nil {
			logger.WithModule("auth").Warn("failed to list sessions for cache eviction",
				zap.String("user_id", userID), zap.Error(err))
			ids = nil
		}
	}

	result := s.db.WithContext(ctx).Model(&models.Session{}).
		Where("user_id = ? AND revoked_at IS NULL", userID).
		Update("revoked_at", s.now())
	if result.Error != nil {
		return 0, fmt.Errorf("session service: revoke user sessions: %w", result.Error)
	}

	if result.RowsAffected > 0 {
		metrics.ActiveSessions.Sub(float64(result.RowsAffected))
	}
	for _, id := range ids {
		s.evict(ctx, id)
	}
	return result.RowsAffected, nil
}

// CleanupExpired deletes expired and revoked sessions.
func (s *SessionService) CleanupExpired(ctx context.Context) (int64, error) {
	ctx = ensureContext(ctx)
	now := s.now()

	var ids []string
	if err := s.db.WithContext(ctx).Model(&models.Session{}).
		Where("expires_at < ? OR revoked_at IS NOT NULL", now).
		Pluck("id", &ids).Error; err != nil {
		return 0, fmt.Errorf("session service: list expired sessions: %w", err)
	}
	if len(ids) == 0 {
		return 0, nil
	}

	result := s.db.WithContext(ctx).Where("id IN ?", ids).Delete(&models.Session{})
	if result.Error != nil {
		return 0, fmt.Errorf("session service: cleanup expired sessions: %w", result.Error)
	}

	for _, id := range ids {
		s.evict(ctx, id)
	}

	if err := s.SyncActiveSessions(ctx); err != nil {
		logger.WithModule("auth").Warn("failed to sync active session gauge", zap.Error(err))
	}
	return result.RowsAffected, nil
}

// SyncActiveSessions resets the active session gauge from the database.
func (s *SessionService) SyncActiveSessions(ctx context.Context) error {
	var active int64
	if err := s.db.WithContext(ensureContext(ctx)).Model(&models.Session{}).
		Where("revoked_at IS NULL AND expires_at > ?", s.now()).
		Count(&active).Error; err != nil {
		return err
	}
	metrics.ActiveSessions.Set(float64(active))
	return nil
}

// lookup may answer from the cache, so callers must only rely on fields that
// never change after issue, such as the owner.
func (s *SessionService) lookup(ctx context.Context, sessionID string) (*models.Session, error) {
	if strings.TrimSpace(sessionID) == "" {
		return nil, ErrSessionNotFound
	}

	if s.cache != nil {
		cached, err := s.cache.Get(ctx, sessionID)
		if err == nil && cached != nil {
			return cached, nil
		}
		if err != nil && !errors.Is(err, errSessionCacheMiss) {
			logger.WithModule("auth").Debug("session cache read failed", zap.Error(err))
		}
	}

	return s.findSession(ctx, sessionID)
}

// findSession reads the session row from the database and refreshes the cache.
func (s *SessionService) findSession(ctx context.Context, sessionID string) (*models.Session, error) {
	if strings.TrimSpace(sessionID) == "" {
		return nil, ErrSessionNotFound
	}

	var session models.Session
	err := s.db.WithContext(ctx).Take(&session, "id = ?", sessionID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("session service: find session: %w", err)
	}

	s.cacheSession(ctx, &session)
	return &session, nil
}

func (s *SessionService) cacheSession(ctx context.Context, session *models.Session) {
	if s.cache == nil || session.RevokedAt != nil {
		return
	}
	ttl := session.ExpiresAt.Sub(s.now())
	if ttl <= 0 {
		return
	}
	if err := s.cache.Set(ctx, session, ttl); err != nil {
		logger.WithModule("auth").Debug("session cache write failed", zap.Error(err))
	}
}

func (s *SessionService) evict(ctx context.Context, sessionID string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Delete(ctx, sessionID); err != nil {
		logger.WithModule("auth").Warn("session cache eviction failed",
			zap.String("session_id", sessionID), zap.Error(err))
	}
}

func ensureContext(ctx context.Context) context.Context {
	if ctx == nil {
		return context.Background()
	}
	return ctx
}
