package config

import (
	"errors"
	"fmt"
)

// Common configuration errors.
var (
	// ErrInvalidConfig is returned when a configuration fails validation.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrMissingDependency is returned when a required component is absent.
	ErrMissingDependency = errors.New("missing required dependency")
)

// ConfigError reports an invalid or missing configuration value.
type ConfigError struct {
	// Field is the config path that failed (e.g., "engine.default_k_star").
	Field string

	// Message is a human-readable description.
	Message string

	// Err is the underlying cause, if any.
	Err error
}

// Error returns the error message.
func (e *ConfigError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("config: %s: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("config: %s", e.Message)
}

// Unwrap returns the underlying error.
func (e *ConfigError) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	return ErrInvalidConfig
}

// NewConfigError creates a ConfigError for a field.
func NewConfigError(field, message string) *ConfigError {
	return &ConfigError{Field: field, Message: message}
}

// IsConfigError checks if an error is a configuration error.
func IsConfigError(err error) bool {
	if err == nil {
		return false
	}
	var ce *ConfigError
	if errors.As(err, &ce) {
		return true
	}
	return errors.Is(err, ErrInvalidConfig)
}
