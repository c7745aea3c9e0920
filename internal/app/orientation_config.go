package app

import (
	"github.com/charlesng35/authgate/internal/orientation"
	"github.com/charlesng35/authgate/internal/services"
)

// GeminiConfig converts the advisor section for orientation.NewGeminiAdvisor.
func (c OrientationConfig) GeminiConfig() orientation.GeminiConfig {
	return orientation.GeminiConfig{
		Enabled:  c.AI.Enabled,
		APIKey:   c.AI.APIKey,
		Endpoint: c.AI.Endpoint,
		Model:    c.AI.Model,
		Timeout:  c.AI.Timeout,
	}
}

// OrientationOptions maps configuration onto OrientationService options.
func (c OrientationConfig) OrientationOptions() []services.OrientationOption {
	var opts []services.OrientationOption
	if c.MaxUploadBytes > 0 {
		opts = append(opts, services.WithTranscriptLimit(c.MaxUploadBytes))
	}
	return opts
}
