package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// AuthAttempts records password authentication attempts by result (success|failure).
	AuthAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "authgate_auth_attempts_total",
			Help: "Total number of password authentication attempts",
		},
		[]string{"result"},
	)

	// LoginVerifications counts verify-login outcomes
	// (approved|denied|not_found|expired|already_used|error).
	LoginVerifications = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "authgate_login_verifications_total",
			Help: "Total number of login verification decisions",
		},
		[]string{"result"},
	)

	// NotificationsSent counts verification emails by result (success|failure).
	NotificationsSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "authgate_login_notifications_total",
			Help: "Total number of login verification emails",
		},
		[]string{"result"},
	)

	// GeoLookups counts location lookups by result (success|skipped|failure).
	GeoLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "authgate_geo_lookups_total",
			Help: "Total number of IP geolocation lookups",
		},
		[]string{"result"},
	)

	// CredentialRenewals counts refresh requests by result (success|failure).
	CredentialRenewals = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "authgate_credential_renewals_total",
			Help: "Total number of access token renewals",
		},
		[]string{"result"},
	)

	// OrientationRequests counts advisor calls by stage (analyze|recommend)
	// and result (success|failure|invalid|disabled).
	OrientationRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "authgate_orientation_requests_total",
			Help: "Total number of orientation advisor requests",
		},
		[]string{"stage", "result"},
	)

	// ActiveSessions tracks sessions that are neither expired nor revoked.
	ActiveSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "authgate_active_sessions",
			Help: "Number of active sessions",
		},
	)

	// APILatency measures HTTP request latencies.
	APILatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "authgate_api_latency_seconds",
			Help:    "API endpoint latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
