package enrichment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/charlesng35/authgate/pkg/logger"
	"github.com/charlesng35/authgate/pkg/metrics"
)

const (
	// Unknown is recorded whenever a location or device field cannot be determined.
	Unknown = "unknown"

	DefaultGeoEndpoint = "https://ipapi.co"
	DefaultGeoTimeout  = 5 * time.Second

	maxGeoResponseBytes = 64 << 10
)

var (
	ErrGeoDisabled       = errors.New("enrichment: geo lookup disabled")
	ErrInvalidIP         = errors.New("enrichment: invalid ip address")
	ErrNonPublicIP       = errors.New("enrichment: non-public ip address")
	ErrGeoLookupRejected = errors.New("enrichment: geo lookup rejected")
)

// Location is the coarse place a login originated from.
type Location struct {
	City    string `json:"city"`
	Country string `json:"country"`
}

// Resolution is the outcome of a best-effort lookup. Reason is nil on success.
type Resolution struct {
	location Location
	Reason   error
}

// Location returns the resolved place, or unknown placeholders when the lookup failed.
func (r Resolution) Location() Location {
	if r.Reason != nil {
		return Location{City: Unknown, Country: Unknown}
	}
	return Location{
		City:    fallback(r.location.City),
		Country: fallback(r.location.Country),
	}
}

// OK reports whether the lookup succeeded.
func (r Resolution) OK() bool {
	return r.Reason == nil
}

// Resolved wraps a successfully determined location.
func Resolved(loc Location) Resolution {
	return Resolution{location: loc}
}

// GeoConfig controls the HTTP geolocation lookup.
type GeoConfig struct {
	Enabled  bool
	Endpoint string
	Timeout  time.Duration
}

// GeoResolver maps client IP addresses to coarse locations.
type GeoResolver interface {
	Resolve(ctx context.Context, ip string) Resolution
}

type httpGeoResolver struct {
	enabled  bool
	endpoint string
	timeout  time.Duration
	client   *http.Client
	log      *zap.Logger
}

// GeoOption customises the HTTP resolver.
type GeoOption func(*httpGeoResolver)

// WithHTTPClient overrides the HTTP client used for lookups.
func WithHTTPClient(client *http.Client) GeoOption {
	return func(r *httpGeoResolver) {
		if client != nil {
			r.client = client
		}
	}
}

// NewGeoResolver constructs a resolver backed by an ipapi-compatible HTTP endpoint.
func NewGeoResolver(cfg GeoConfig, opts ...GeoOption) GeoResolver {
	endpoint := strings.TrimRight(strings.TrimSpace(cfg.Endpoint), "/")
	if endpoint == "" {
		endpoint = DefaultGeoEndpoint
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultGeoTimeout
	}

	r := &httpGeoResolver{
		enabled:  cfg.Enabled,
		endpoint: endpoint,
		timeout:  timeout,
		client:   &http.Client{},
		log:      logger.WithModule("enrichment"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

type ipapiResponse struct {
	City        string `json:"city"`
	CountryName string `json:"country_name"`
	Error       bool   `json:"error"`
	Reason      string `json:"reason"`
}

func (r *httpGeoResolver) Resolve(ctx context.Context, ip string) Resolution {
	res := r.resolve(ctx, ip)
	switch {
	case res.Reason == nil:
		metrics.GeoLookups.WithLabelValues("success").Inc()
	case errors.Is(res.Reason, ErrGeoDisabled), errors.Is(res.Reason, ErrNonPublicIP), errors.Is(res.Reason, ErrInvalidIP):
		metrics.GeoLookups.WithLabelValues("skipped").Inc()
	default:
		metrics.GeoLookups.WithLabelValues("failure").Inc()
		r.log.Warn("geo lookup failed", zap.String("ip", ip), zap.Error(res.Reason))
	}
	return res
}

func (r *httpGeoResolver) resolve(ctx context.Context, ip string) Resolution {
	if !r.enabled {
		return Resolution{Reason: ErrGeoDisabled}
	}

	addr := net.ParseIP(strings.TrimSpace(ip))
	if addr == nil {
		return Resolution{Reason: ErrInvalidIP}
	}
	if addr.IsLoopback() || addr.IsPrivate() || addr.IsUnspecified() || addr.IsLinkLocalUnicast() {
		return Resolution{Reason: ErrNonPublicIP}
	}

	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	target := fmt.Sprintf("%s/%s/json/", r.endpoint, url.PathEscape(addr.String()))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return Resolution{Reason: fmt.Errorf("enrichment: build geo request: %w", err)}
	}
	req.Header.Set("Accept", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return Resolution{Reason: fmt.Errorf("enrichment: geo request: %w", err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Resolution{Reason: fmt.Errorf("%w: status %d", ErrGeoLookupRejected, resp.StatusCode)}
	}

	var payload ipapiResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxGeoResponseBytes)).Decode(&payload); err != nil {
		return Resolution{Reason: fmt.Errorf("enrichment: decode geo response: %w", err)}
	}
	if payload.Error {
		return Resolution{Reason: fmt.Errorf("%w: %s", ErrGeoLookupRejected, payload.Reason)}
	}

	return Resolution{location: Location{City: payload.City, Country: payload.CountryName}}
}

func fallback(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return Unknown
	}
	return value
}
