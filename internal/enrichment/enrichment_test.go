package enrichment

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestGeoResolverResolvesPublicAddress(t *testing.T) {
	var path string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ip":"8.8.8.8","city":"Mountain View","country_name":"United States"}`))
	}))
	defer srv.Close()

	resolver := NewGeoResolver(GeoConfig{Enabled: true, Endpoint: srv.URL + "/"})
	res := resolver.Resolve(context.Background(), "8.8.8.8")

	require.True(t, res.OK())
	require.Equal(t, "/8.8.8.8/json/", path)
	require.Equal(t, Location{City: "Mountain View", Country: "United States"}, res.Location())
}

func TestGeoResolverFailsOpenOnProviderError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"error":true,"reason":"RateLimited"}`))
	}))
	defer srv.Close()

	res := NewGeoResolver(GeoConfig{Enabled: true, Endpoint: srv.URL}).Resolve(context.Background(), "1.1.1.1")

	require.False(t, res.OK())
	require.ErrorIs(t, res.Reason, ErrGeoLookupRejected)
	require.Equal(t, Location{City: Unknown, Country: Unknown}, res.Location())
}

func TestGeoResolverFailsOpenOnBadStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	res := NewGeoResolver(GeoConfig{Enabled: true, Endpoint: srv.URL}).Resolve(context.Background(), "1.1.1.1")
	require.ErrorIs(t, res.Reason, ErrGeoLookupRejected)
	require.Equal(t, Unknown, res.Location().City)
}

func TestGeoResolverTimesOut(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	resolver := NewGeoResolver(GeoConfig{Enabled: true, Endpoint: srv.URL, Timeout: 50 * time.Millisecond})

	start := time.Now()
	res := resolver.Resolve(context.Background(), "1.1.1.1")

	require.Error(t, res.Reason)
	require.Less(t, time.Since(start), 2*time.Second)
	require.Equal(t, Location{City: Unknown, Country: Unknown}, res.Location())
}

func TestGeoResolverSkipsNonPublicAddresses(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))
	defer srv.Close()

	resolver := NewGeoResolver(GeoConfig{Enabled: true, Endpoint: srv.URL})

	cases := map[string]error{
		"127.0.0.1": ErrNonPublicIP,
		"10.1.2.3":  ErrNonPublicIP,
		"::1":       ErrNonPublicIP,
		"not-an-ip": ErrInvalidIP,
		"":          ErrInvalidIP,
	}
	for ip, want := range cases {
		res := resolver.Resolve(context.Background(), ip)
		require.Truef(t, errors.Is(res.Reason, want), "ip %q: got %v", ip, res.Reason)
	}
	require.Zero(t, calls.Load())
}

func TestGeoResolverDisabled(t *testing.T) {
	res := NewGeoResolver(GeoConfig{}).Resolve(context.Background(), "8.8.8.8")
	require.ErrorIs(t, res.Reason, ErrGeoDisabled)
	require.Equal(t, Unknown, res.Location().Country)
}

func TestGeoResolverBlankFieldsBecomeUnknown(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"country_name":"Kenya"}`))
	}))
	defer srv.Close()

	res := NewGeoResolver(GeoConfig{Enabled: true, Endpoint: srv.URL}).Resolve(context.Background(), "41.90.64.1")
	require.True(t, res.OK())
	require.Equal(t, Location{City: Unknown, Country: "Kenya"}, res.Location())
}

func TestDeviceParser(t *testing.T) {
	parser := NewDeviceParser()

	device := parser.Parse("Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36")
	require.Equal(t, "Chrome 120.0.0.0", device.Browser)
	require.Contains(t, device.OS, "Windows")

	require.Equal(t, Device{Browser: Unknown, OS: Unknown}, parser.Parse("   "))
}
