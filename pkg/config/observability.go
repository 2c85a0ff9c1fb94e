// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package config

import "fmt"

// ObservabilityConfig configures metrics and tracing.
type ObservabilityConfig struct {
	// ServiceName appears on exported spans and metrics.
	// Default: accord
	ServiceName string `yaml:"service_name,omitempty" json:"service_name,omitempty"`

	Metrics MetricsConfig `yaml:"metrics,omitempty" json:"metrics,omitempty"`
	Tracing TracingConfig `yaml:"tracing,omitempty" json:"tracing,omitempty"`
}

// MetricsConfig configures the Prometheus metrics endpoint.
type MetricsConfig struct {
	// Enabled mounts /metrics on the server.
	// Default: true
	Enabled *bool `yaml:"enabled,omitempty" json:"enabled,omitempty"`
}

// TracingConfig configures OpenTelemetry trace export.
type TracingConfig struct {
	// Enabled turns on span export.
	// Default: false
	Enabled bool `yaml:"enabled,omitempty" json:"enabled,omitempty"`

	// Endpoint of the OTLP gRPC collector (host:port).
	Endpoint string `yaml:"endpoint,omitempty" json:"endpoint,omitempty"`

	// Stdout writes spans to stdout instead of a collector.
	Stdout bool `yaml:"stdout,omitempty" json:"stdout,omitempty"`

	// SampleRatio in [0,1]. Default: 1.0
	SampleRatio *float64 `yaml:"sample_ratio,omitempty" json:"sample_ratio,omitempty"`
}

// SetDefaults applies default values.
func (c *ObservabilityConfig) SetDefaults() {
	if c.ServiceName == "" {
		c.ServiceName = "accord"
	}
	if c.Metrics.Enabled == nil {
		enabled := true
		c.Metrics.Enabled = &enabled
	}
	if c.Tracing.SampleRatio == nil {
		ratio := 1.0
		c.Tracing.SampleRatio = &ratio
	}
}

// Validate checks the observability configuration.
func (c *ObservabilityConfig) Validate() error {
	if c.Tracing.Enabled && !c.Tracing.Stdout && c.Tracing.Endpoint == "" {
		return fmt.Errorf("tracing.endpoint is required when tracing is enabled without stdout export")
	}
	if c.Tracing.SampleRatio != nil && (*c.Tracing.SampleRatio < 0 || *c.Tracing.SampleRatio > 1) {
		return fmt.Errorf("tracing.sample_ratio must be between 0 and 1")
	}
	return nil
}

// MetricsEnabled reports whether the metrics endpoint should be mounted.
func (c *ObservabilityConfig) MetricsEnabled() bool {
	return c.Metrics.Enabled == nil || *c.Metrics.Enabled
}
