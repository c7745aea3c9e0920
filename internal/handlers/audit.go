package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/charlesng35/authgate/internal/middleware"
	"github.com/charlesng35/authgate/internal/models"
	"github.com/charlesng35/authgate/internal/services"
	"github.com/charlesng35/authgate/pkg/errors"
	"github.com/charlesng35/authgate/pkg/response"
)

// AuditHandler exposes the authentication audit trail.
type AuditHandler struct {
	svc *services.AuditService
}

func NewAuditHandler(svc *services.AuditService) *AuditHandler {
	return &AuditHandler{svc: svc}
}

type auditDTO struct {
	ID        string         `json:"id"`
	UserID    *string        `json:"user_id,omitempty"`
	Username  string         `json:"username"`
	Action    string         `json:"action"`
	Resource  string         `json:"resource,omitempty"`
	Result    string         `json:"result"`
	IPAddress string         `json:"ip_address,omitempty"`
	UserAgent string         `json:"user_agent,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

func toAuditDTO(entry models.AuditLog) auditDTO {
	return auditDTO{
		ID:        entry.ID,
		UserID:    entry.UserID,
		Username:  entry.Username,
		Action:    entry.Action,
		Resource:  entry.Resource,
		Result:    entry.Result,
		IPAddress: entry.IPAddress,
		UserAgent: entry.UserAgent,
		Metadata:  entry.Metadata,
		CreatedAt: entry.CreatedAt,
	}
}

// GET /api/audit
//
// Regular accounts only see their own entries. Managers may filter by user_id
// or omit it to see everything.
func (h *AuditHandler) List(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		response.Error(c, errors.ErrUnauthorized)
		return
	}

	page, per := pageParams(c, 50)

	filters := services.AuditFilters{
		UserID: userID,
		Action: strings.TrimSpace(c.Query("action")),
		Result: strings.TrimSpace(c.Query("result")),
	}
	if models.Role(c.GetString(middleware.CtxRoleKey)) == models.RoleAcademicManager {
		filters.UserID = strings.TrimSpace(c.Query("user_id"))
	}

	if s := c.Query("since"); s != "" {
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			response.Error(c, errors.NewValidation("Invalid since filter", map[string]string{"since": "must be an RFC3339 timestamp"}))
			return
		}
		filters.Since = &t
	}
	if u := c.Query("until"); u != "" {
		t, err := time.Parse(time.RFC3339, u)
		if err != nil {
			response.Error(c, errors.NewValidation("Invalid until filter", map[string]string{"until": "must be an RFC3339 timestamp"}))
			return
		}
		filters.Until = &t
	}

	logs, total, err := h.svc.List(requestContext(c), services.AuditListOptions{Page: page, PageSize: per, Filters: filters})
	if err != nil {
		response.Error(c, errors.ErrInternalServer.WithInternal(err))
		return
	}

	out := make([]auditDTO, 0, len(logs))
	for _, entry := range logs {
		out = append(out, toAuditDTO(entry))
	}
	response.SuccessWithMeta(c, http.StatusOK, out, response.NewMeta(page, per, total))
}
