package maintenance

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/charlesng35/authgate/pkg/logger"
)

const (
	defaultAuditRetentionDays = 90
	defaultAttemptRetention   = 30 * 24 * time.Hour
	defaultSessionSpec        = "@hourly"
	defaultAttemptSpec        = "@daily"
	defaultAuditSpec          = "@daily"
	defaultCacheSpec          = "@every 15m"
)

// SessionJanitor removes dead sessions and refreshes the active-session gauge.
type SessionJanitor interface {
	CleanupExpired(ctx context.Context) (int64, error)
	SyncActiveSessions(ctx context.Context) error
}

// AttemptPurger deletes login attempts past their retention window.
type AttemptPurger interface {
	PurgeAttemptsOlderThan(ctx context.Context, retention time.Duration) (int64, error)
}

// AuditPruner deletes audit entries older than a number of days.
type AuditPruner interface {
	CleanupOlderThan(ctx context.Context, retentionDays int) (int64, error)
}

// CachePurger drops expired cache rows. Only the database-backed store needs it.
type CachePurger interface {
	PurgeExpired(ctx context.Context) (int64, error)
}

// Targets lists the stores the Cleaner maintains. Nil members are skipped.
type Targets struct {
	Sessions SessionJanitor
	Attempts AttemptPurger
	Audit    AuditPruner
	Cache    CachePurger
}

// Cleaner runs periodic housekeeping: expired sessions, stale login attempts,
// old audit entries and expired cache rows.
type Cleaner struct {
	targets          Targets
	cron             *cron.Cron
	log              *zap.Logger
	auditRetention   int
	attemptRetention time.Duration

	sessionSchedule string
	attemptSchedule string
	auditSchedule   string
	cacheSchedule   string
}

// Option customises the Cleaner.
type Option func(*Cleaner)

// WithCron injects a preconfigured cron instance, primarily for testing.
func WithCron(c *cron.Cron) Option {
	return func(cleaner *Cleaner) {
		if c != nil {
			cleaner.cron = c
		}
	}
}

// WithAuditRetentionDays adjusts how long audit logs are retained before cleanup.
func WithAuditRetentionDays(days int) Option {
	return func(cleaner *Cleaner) {
		if days > 0 {
			cleaner.auditRetention = days
		}
	}
}

// WithAttemptRetention adjusts how long login attempts are kept.
func WithAttemptRetention(d time.Duration) Option {
	return func(cleaner *Cleaner) {
		if d > 0 {
			cleaner.attemptRetention = d
		}
	}
}

// WithSessionSchedule overrides the cron specification for session cleanup.
func WithSessionSchedule(spec string) Option {
	return func(cleaner *Cleaner) {
		if spec != "" {
			cleaner.sessionSchedule = spec
		}
	}
}

// WithAttemptSchedule overrides the cron specification for login attempt purging.
func WithAttemptSchedule(spec string) Option {
	return func(cleaner *Cleaner) {
		if spec != "" {
			cleaner.attemptSchedule = spec
		}
	}
}

// WithAuditSchedule overrides the cron specification for audit retention enforcement.
func WithAuditSchedule(spec string) Option {
	return func(cleaner *Cleaner) {
		if spec != "" {
			cleaner.auditSchedule = spec
		}
	}
}

// WithCacheSchedule overrides the cron specification for cache purging.
func WithCacheSchedule(spec string) Option {
	return func(cleaner *Cleaner) {
		if spec != "" {
			cleaner.cacheSchedule = spec
		}
	}
}

// NewCleaner constructs a Cleaner with sensible defaults.
func NewCleaner(targets Targets, opts ...Option) *Cleaner {
	cleaner := &Cleaner{
		targets:          targets,
		auditRetention:   defaultAuditRetentionDays,
		attemptRetention: defaultAttemptRetention,
		sessionSchedule:  defaultSessionSpec,
		attemptSchedule:  defaultAttemptSpec,
		auditSchedule:    defaultAuditSpec,
		cacheSchedule:    defaultCacheSpec,
		log:              logger.WithModule("maintenance"),
	}

	for _, opt := range opts {
		opt(cleaner)
	}

	if cleaner.cron == nil {
		cleaner.cron = cron.New(cron.WithLogger(cron.DiscardLogger))
	}

	return cleaner
}

type job struct {
	name     string
	schedule string
	run      func(context.Context) error
}

func (c *Cleaner) jobs() []job {
	var jobs []job

	if c.targets.Sessions != nil {
		jobs = append(jobs, job{"sessions", c.sessionSchedule, c.cleanSessions})
	}
	if c.targets.Attempts != nil {
		jobs = append(jobs, job{"login_attempts", c.attemptSchedule, func(ctx context.Context) error {
			removed, err := c.targets.Attempts.PurgeAttemptsOlderThan(ctx, c.attemptRetention)
			c.logRemoved("login_attempts", removed, err)
			return err
		}})
	}
	if c.targets.Audit != nil {
		jobs = append(jobs, job{"audit", c.auditSchedule, func(ctx context.Context) error {
			removed, err := c.targets.Audit.CleanupOlderThan(ctx, c.auditRetention)
			c.logRemoved("audit", removed, err)
			return err
		}})
	}
	if c.targets.Cache != nil {
		jobs = append(jobs, job{"cache", c.cacheSchedule, func(ctx context.Context) error {
			removed, err := c.targets.Cache.PurgeExpired(ctx)
			c.logRemoved("cache", removed, err)
			return err
		}})
	}
	return jobs
}

func (c *Cleaner) cleanSessions(ctx context.Context) error {
	removed, err := c.targets.Sessions.CleanupExpired(ctx)
	c.logRemoved("sessions", removed, err)
	if err != nil {
		return err
	}
	return c.targets.Sessions.SyncActiveSessions(ctx)
}

func (c *Cleaner) logRemoved(job string, removed int64, err error) {
	if err != nil || removed == 0 {
		return
	}
	c.log.Debug("maintenance removed rows", zap.String("job", job), zap.Int64("removed", removed))
}

// Start registers cleanup jobs with the cron scheduler and launches it if at least one target is configured.
func (c *Cleaner) Start() error {
	jobs := c.jobs()
	if len(jobs) == 0 {
		return nil
	}

	for _, j := range jobs {
		j := j
		if _, err := c.cron.AddFunc(j.schedule, func() {
			if err := j.run(context.Background()); err != nil {
				c.log.Warn("maintenance job failed", zap.String("job", j.name), zap.Error(err))
			}
		}); err != nil {
			return err
		}
	}

	c.cron.Start()
	return nil
}

// Stop halts the underlying scheduler. The returned context is done once running jobs complete.
func (c *Cleaner) Stop() context.Context {
	if c.cron == nil {
		return context.Background()
	}
	return c.cron.Stop()
}

// RunOnce executes every configured job sequentially and combines their errors.
func (c *Cleaner) RunOnce(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	var errs error
	for _, j := range c.jobs() {
		errs = multierr.Append(errs, j.run(ctx))
	}
	return errs
}
