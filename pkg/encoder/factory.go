package encoder

import (
	"fmt"
	"time"

	"github.com/kadirpekel/accord/pkg/config"
)

// NewFromConfig creates an Encoder from configuration.
func NewFromConfig(cfg *config.EncoderConfig) (Encoder, error) {
	if cfg == nil {
		return nil, fmt.Errorf("encoder config is required")
	}

	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid encoder config: %w", err)
	}

	switch cfg.Type {
	case config.EncoderTypeSimHash:
		return NewSimHashEncoder(cfg.Dimension, cfg.Seed)

	case config.EncoderTypeHTTP:
		return NewHTTPEncoder(HTTPConfig{
			BaseURL:   cfg.BaseURL,
			Model:     cfg.Model,
			Dimension: cfg.Dimension,
			Timeout:   time.Duration(cfg.TimeoutSeconds) * time.Second,
		})

	default:
		return nil, fmt.Errorf("unsupported encoder type: %s (supported: simhash, http)", cfg.Type)
	}
}
