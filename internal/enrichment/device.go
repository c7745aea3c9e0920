package enrichment

import (
	"strings"

	"github.com/mssola/useragent"
)

// Device describes the client software a login came from.
type Device struct {
	Browser string `json:"browser"`
	OS      string `json:"os"`
}

// DeviceParser derives a Device from a User-Agent header.
type DeviceParser interface {
	Parse(userAgent string) Device
}

type uaDeviceParser struct{}

// NewDeviceParser returns a parser backed by github.com/mssola/useragent.
func NewDeviceParser() DeviceParser {
	return uaDeviceParser{}
}

func (uaDeviceParser) Parse(userAgent string) Device {
	userAgent = strings.TrimSpace(userAgent)
	if userAgent == "" {
		return Device{Browser: Unknown, OS: Unknown}
	}

	ua := useragent.New(userAgent)
	name, version := ua.Browser()
	os := ua.OSInfo()

	return Device{
		Browser: fallback(joinNonEmpty(name, version)),
		OS:      fallback(joinNonEmpty(os.Name, os.Version)),
	}
}

func joinNonEmpty(parts ...string) string {
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return strings.Join(out, " ")
}
