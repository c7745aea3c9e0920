package handlers

import (
	stderrors "errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	iauth "github.com/charlesng35/authgate/internal/auth"
	"github.com/charlesng35/authgate/internal/middleware"
	"github.com/charlesng35/authgate/internal/models"
	"github.com/charlesng35/authgate/pkg/errors"
	"github.com/charlesng35/authgate/pkg/response"
)

// SessionHandler lets an account inspect and revoke its own refresh sessions.
type SessionHandler struct {
	sessions *iauth.SessionService
}

func NewSessionHandler(sessions *iauth.SessionService) *SessionHandler {
	return &SessionHandler{sessions: sessions}
}

type sessionDTO struct {
	ID         string    `json:"id"`
	IPAddress  string    `json:"ip_address"`
	UserAgent  string    `json:"user_agent"`
	CreatedAt  time.Time `json:"created_at"`
	LastUsedAt time.Time `json:"last_used_at"`
	ExpiresAt  time.Time `json:"expires_at"`
	Current    bool      `json:"current"`
}

func toSessionDTO(session models.Session, currentID string) sessionDTO {
	return sessionDTO{
		ID:         session.ID,
		IPAddress:  session.IPAddress,
		UserAgent:  session.UserAgent,
		CreatedAt:  session.CreatedAt,
		LastUsedAt: session.LastUsedAt,
		ExpiresAt:  session.ExpiresAt,
		Current:    session.ID == currentID,
	}
}

// GET /api/sessions
func (h *SessionHandler) List(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		response.Error(c, errors.ErrUnauthorized)
		return
	}

	sessions, err := h.sessions.ListActive(requestContext(c), userID)
	if err != nil {
		response.Error(c, errors.ErrInternalServer.WithInternal(err))
		return
	}

	currentID := c.GetString(middleware.CtxSessionIDKey)
	out := make([]sessionDTO, 0, len(sessions))
	for _, session := range sessions {
		out = append(out, toSessionDTO(session, currentID))
	}
	response.Success(c, http.StatusOK, out)
}

// DELETE /api/sessions/:id
func (h *SessionHandler) Revoke(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		response.Error(c, errors.ErrUnauthorized)
		return
	}

	err := h.sessions.RevokeOwnedSession(requestContext(c), c.Param("id"), userID)
	switch {
	case err == nil:
		response.Success(c, http.StatusOK, gin.H{"revoked": true})
	case stderrors.Is(err, iauth.ErrSessionNotFound), stderrors.Is(err, iauth.ErrSessionNotOwned):
		response.Error(c, errors.ErrNotFound)
	default:
		response.Error(c, errors.ErrInternalServer.WithInternal(err))
	}
}

// POST /api/sessions/revoke-all
func (h *SessionHandler) RevokeAll(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		response.Error(c, errors.ErrUnauthorized)
		return
	}

	count, err := h.sessions.RevokeUserSessions(requestContext(c), userID)
	if err != nil {
		response.Error(c, errors.ErrInternalServer.WithInternal(err))
		return
	}
	response.Success(c, http.StatusOK, gin.H{"revoked": count})
}
