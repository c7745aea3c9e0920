package api

import (
	"fmt"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/charlesng35/authgate/internal/app"
	iauth "github.com/charlesng35/authgate/internal/auth"
	"github.com/charlesng35/authgate/internal/handlers"
	"github.com/charlesng35/authgate/internal/middleware"
	"github.com/charlesng35/authgate/internal/services"
)

// Dependencies bundles the services the HTTP layer is built on.
type Dependencies struct {
	DB       *gorm.DB
	JWT      *iauth.JWTService
	Sessions *iauth.SessionService
	Users    *services.UserService
	Logins   *services.LoginVerificationService
	Audit    *services.AuditService
	// Orientation runs the study-orientation flow.
	Orientation *services.OrientationService
	// RateStore backs the auth rate limiter. Nil keeps counters in process.
	RateStore middleware.RateStore
}

func (d Dependencies) validate() error {
	switch {
	case d.DB == nil:
		return fmt.Errorf("database handle must be provided")
	case d.JWT == nil:
		return fmt.Errorf("jwt service must be provided")
	case d.Sessions == nil:
		return fmt.Errorf("session service must be provided")
	case d.Users == nil:
		return fmt.Errorf("user service must be provided")
	case d.Logins == nil:
		return fmt.Errorf("login verification service must be provided")
	case d.Audit == nil:
		return fmt.Errorf("audit service must be provided")
	case d.Orientation == nil:
		return fmt.Errorf("orientation service must be provided")
	}
	return nil
}

// NewRouter builds the Gin engine, wires middleware and registers routes.
func NewRouter(deps Dependencies, cfg *app.Config) (*gin.Engine, error) {
	if err := deps.validate(); err != nil {
		return nil, err
	}
	if cfg == nil {
		return nil, fmt.Errorf("config must be provided")
	}

	r := gin.New()

	// Global middleware
	r.Use(middleware.Recovery())
	r.Use(middleware.Logger())
	r.Use(middleware.Metrics())
	r.Use(middleware.SecurityHeaders())
	r.Use(middleware.CORS(cfg.Server.CORS.AllowedOrigins...))
	r.Use(middleware.AuditContext())

	registerHealthRoutes(r, deps.DB, cfg.Monitoring)

	api := r.Group("/api")
	api.Use(middleware.Auth(deps.JWT))

	authHandler := handlers.NewAuthHandler(deps.Users, deps.Logins, deps.Sessions, deps.Audit)
	registerAuthRoutes(r, api, authHandler, rateLimiter(deps.RateStore, cfg.RateLimit))
	registerUserRoutes(api, handlers.NewUserHandler(deps.Users))
	registerSessionRoutes(api, handlers.NewSessionHandler(deps.Sessions))
	registerAuditRoutes(api, handlers.NewAuditHandler(deps.Audit))
	registerOrientationRoutes(api, handlers.NewOrientationHandler(deps.Orientation))

	// NotFound fallback
	r.NoRoute(middleware.NotFoundHandler)

	return r, nil
}

func rateLimiter(store middleware.RateStore, cfg app.RateLimitConfig) gin.HandlerFunc {
	if !cfg.Enabled {
		return func(c *gin.Context) { c.Next() }
	}
	return middleware.RateLimit(store, cfg.Requests, cfg.Window)
}
