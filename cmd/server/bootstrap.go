package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/charlesng35/authgate/internal/api"
	"github.com/charlesng35/authgate/internal/app"
	"github.com/charlesng35/authgate/internal/app/maintenance"
	iauth "github.com/charlesng35/authgate/internal/auth"
	"github.com/charlesng35/authgate/internal/auth/providers"
	"github.com/charlesng35/authgate/internal/cache"
	"github.com/charlesng35/authgate/internal/database"
	"github.com/charlesng35/authgate/internal/enrichment"
	"github.com/charlesng35/authgate/internal/middleware"
	"github.com/charlesng35/authgate/internal/orientation"
	"github.com/charlesng35/authgate/internal/services"
	"github.com/charlesng35/authgate/pkg/logger"
	"github.com/charlesng35/authgate/pkg/mail"
)

// runtimeStack bundles long-lived services used by the HTTP server.
type runtimeStack struct {
	DB         *gorm.DB
	Redis      *cache.RedisClient
	Store      cache.Store
	SessionSvc *iauth.SessionService
	AuditSvc   *services.AuditService
	LoginSvc   *services.LoginVerificationService
	Cleaner    *maintenance.Cleaner
	Router     *gin.Engine
}

// bootstrapRuntime initialises the database, cache, services and the HTTP router.
func bootstrapRuntime(ctx context.Context, cfg *app.Config, log *zap.Logger) (*runtimeStack, error) {
	stack := &runtimeStack{}
	var err error
	success := false

	defer func() {
		if !success {
			stack.Shutdown(context.Background(), log)
		}
	}()

	if debug, _ := os.LookupEnv("GIN_DEBUG"); debug != "true" {
		gin.SetMode(gin.ReleaseMode)
	}

	stack.DB, err = initialiseDatabase(cfg)
	if err != nil {
		return nil, err
	}

	dbStore := cache.NewDatabaseStore(stack.DB)
	stack.Store = dbStore

	if cfg.Cache.Redis.Enabled {
		client, redisErr := cache.NewRedisClient(cfg.Cache.RedisClientConfig())
		if redisErr != nil {
			log.Warn("redis unavailable; falling back to database-backed cache", zap.Error(redisErr))
		} else {
			stack.Redis = client
			stack.Store = client
			log.Info("redis connected", zap.String("addr", cfg.Cache.Redis.Address))
		}
	}

	jwtSvc, err := iauth.NewJWTService(cfg.Auth.JWTServiceConfig())
	if err != nil {
		return nil, fmt.Errorf("initialise jwt service: %w", err)
	}

	stack.SessionSvc, err = iauth.NewSessionService(stack.DB, jwtSvc, iauth.SessionConfig{
		Cache: iauth.NewSessionCache(stack.Store),
	})
	if err != nil {
		return nil, fmt.Errorf("initialise session service: %w", err)
	}

	stack.AuditSvc, err = services.NewAuditService(stack.DB)
	if err != nil {
		return nil, fmt.Errorf("initialise audit service: %w", err)
	}

	userSvc, err := services.NewUserService(stack.DB, stack.AuditSvc)
	if err != nil {
		return nil, fmt.Errorf("initialise user service: %w", err)
	}

	local, err := providers.NewLocalProvider(stack.DB, cfg.Auth.LocalProviderConfig())
	if err != nil {
		return nil, fmt.Errorf("initialise local provider: %w", err)
	}

	mailer, err := buildMailer(cfg, log)
	if err != nil {
		return nil, err
	}

	notifier, err := services.NewMailLoginNotifier(mailer,
		services.WithNotifierFrom(cfg.Email.SMTP.From),
		services.WithNotifierTimeout(cfg.Email.SMTP.Timeout),
	)
	if err != nil {
		return nil, fmt.Errorf("initialise login notifier: %w", err)
	}

	stack.LoginSvc, err = services.NewLoginVerificationService(stack.DB, services.LoginVerificationDeps{
		Authenticator: local,
		Notifier:      notifier,
		Credentials:   stack.SessionSvc,
		Geo:           enrichment.NewGeoResolver(cfg.Enrichment.GeoConfig()),
		Devices:       enrichment.NewDeviceParser(),
		Audit:         stack.AuditSvc,
	}, cfg.Auth.LoginVerificationOptions()...)
	if err != nil {
		return nil, fmt.Errorf("initialise login verification: %w", err)
	}

	if cfg.Maintenance.Enabled {
		stack.Cleaner = maintenance.NewCleaner(maintenance.Targets{
			Sessions: stack.SessionSvc,
			Attempts: stack.LoginSvc,
			Audit:    stack.AuditSvc,
			Cache:    dbStore,
		},
			maintenance.WithAuditRetentionDays(cfg.Maintenance.AuditRetentionDays),
			maintenance.WithAttemptRetention(cfg.Auth.AttemptRetention()),
		)
		if err := stack.Cleaner.Start(); err != nil {
			return nil, fmt.Errorf("start maintenance jobs: %w", err)
		}
	}

	orientationSvc, err := buildOrientation(cfg, stack.DB, stack.AuditSvc, log)
	if err != nil {
		return nil, err
	}

	stack.Router, err = api.NewRouter(api.Dependencies{
		DB:        stack.DB,
		JWT:       jwtSvc,
		Sessions:  stack.SessionSvc,
		Users:     userSvc,
		Logins:    stack.LoginSvc,
		Audit:     stack.AuditSvc,
		RateStore: middleware.NewCacheRateStore(stack.Store),

		Orientation: orientationSvc,
	}, cfg)
	if err != nil {
		return nil, fmt.Errorf("build api router: %w", err)
	}

	success = true
	return stack, nil
}

// buildMailer returns the SMTP mailer. With SMTP disabled every send fails,
// so logins answer NOTIFICATION_FAILED instead of claiming an email went out.
func buildMailer(cfg *app.Config, log *zap.Logger) (mail.Mailer, error) {
	mailer, err := mail.NewSMTPMailer(cfg.Email.SMTPSettings())
	if err != nil {
		return nil, fmt.Errorf("initialise smtp mailer: %w", err)
	}
	if !cfg.Email.SMTP.Enabled {
		log.Warn("smtp disabled; logins cannot be verified until email delivery is configured")
	}
	return mailer, nil
}

// buildOrientation wires transcript storage and the Gemini advisor. Without an
// API key the routes stay mounted and answer ORIENTATION_UNAVAILABLE.
func buildOrientation(cfg *app.Config, db *gorm.DB, audit *services.AuditService, log *zap.Logger) (*services.OrientationService, error) {
	store, err := services.NewFilesystemTranscriptStore(cfg.Orientation.UploadDir)
	if err != nil {
		return nil, fmt.Errorf("initialise transcript store: %w", err)
	}

	if !cfg.Orientation.AI.Enabled || strings.TrimSpace(cfg.Orientation.AI.APIKey) == "" {
		log.Warn("orientation advisor disabled; set orientation.ai.api_key to enable recommendations")
	}

	svc, err := services.NewOrientationService(db, services.OrientationDeps{
		AI:    orientation.NewGeminiAdvisor(cfg.Orientation.GeminiConfig()),
		Store: store,
		Audit: audit,
	}, cfg.Orientation.OrientationOptions()...)
	if err != nil {
		return nil, fmt.Errorf("initialise orientation service: %w", err)
	}
	return svc, nil
}

// Shutdown stops background jobs and releases resources.
func (s *runtimeStack) Shutdown(ctx context.Context, log *zap.Logger) {
	if s == nil {
		return
	}

	if s.Cleaner != nil {
		stopCtx := s.Cleaner.Stop()
		if stopCtx != nil {
			ctx = stopCtx
		}
		if err := s.Cleaner.RunOnce(ctx); err != nil {
			log.Warn("maintenance shutdown cleanup failed", zap.Error(err))
		}
	}

	if s.Redis != nil {
		if err := s.Redis.Close(); err != nil {
			log.Warn("redis shutdown", zap.Error(err))
		}
	}

	if s.DB != nil {
		closeDatabase(s.DB, log)
	}
}

func initialiseDatabase(cfg *app.Config) (*gorm.DB, error) {
	dbCfg := cfg.Database.DatabaseSettings()
	db, err := database.Open(dbCfg)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := database.AutoMigrateAndSeed(db); err != nil {
		closeDatabase(db, logger.WithModule("database"))
		return nil, fmt.Errorf("auto-migrate database: %w", err)
	}

	logger.WithModule("database").Info("database connected", zap.String("driver", strings.ToLower(dbCfg.Driver)))
	return db, nil
}

func closeDatabase(db *gorm.DB, log *zap.Logger) {
	if db == nil {
		return
	}

	sqlDB, err := db.DB()
	if err != nil {
		log.Warn("failed to obtain underlying sql DB for closing", zap.Error(err))
		return
	}

	if err := sqlDB.Close(); err != nil {
		log.Warn("failed to close database", zap.Error(err))
	}
}
