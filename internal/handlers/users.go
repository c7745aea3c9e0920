package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/charlesng35/authgate/internal/models"
	"github.com/charlesng35/authgate/internal/services"
	"github.com/charlesng35/authgate/pkg/response"
)

// UserHandler exposes the read-only account directory.
type UserHandler struct {
	svc *services.UserService
}

func NewUserHandler(svc *services.UserService) *UserHandler {
	return &UserHandler{svc: svc}
}

// GET /api/users
func (h *UserHandler) List(c *gin.Context) {
	page, perPage := pageParams(c, 50)

	users, total, err := h.svc.List(requestContext(c), services.ListUsersOptions{
		Page:     page,
		PageSize: perPage,
		Query:    c.Query("q"),
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	profiles := make([]models.UserProfile, 0, len(users))
	for i := range users {
		profiles = append(profiles, users[i].Profile())
	}
	response.SuccessWithMeta(c, http.StatusOK, profiles, response.NewMeta(page, perPage, total))
}

// GET /api/users/:id
func (h *UserHandler) Get(c *gin.Context) {
	user, err := h.svc.GetByID(requestContext(c), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, user.Profile())
}
