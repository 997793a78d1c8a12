// Package config holds the demo command's configuration surface and the
// activation store's path-resolution helpers. Options is loadable from
// either a YAML file or the environment, the same dual-tag pattern this
// codebase uses throughout.
package config

import (
	"fmt"
	"os"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v2"
)

// ServerOptions configures the demo HTTP surface (chi router).
type ServerOptions struct {
	Host string `yaml:"host" envconfig:"SERVER_HOST" default:"0.0.0.0"`
	Port int    `yaml:"port" envconfig:"SERVER_PORT" default:"8089"`
}

// TelemetryOptions configures tracing and metrics export for the demo
// command.
type TelemetryOptions struct {
	ServiceName   string `yaml:"service_name" envconfig:"TELEMETRY_SERVICE_NAME" default:"activationd"`
	MetricsPath   string `yaml:"metrics_path" envconfig:"TELEMETRY_METRICS_PATH" default:"/metrics"`
	TraceToStdout bool   `yaml:"trace_to_stdout" envconfig:"TELEMETRY_TRACE_TO_STDOUT" default:"true"`
}

// LoggingOptions configures the slog handler used by the demo command.
type LoggingOptions struct {
	Level  string `yaml:"level" envconfig:"LOG_LEVEL" default:"info"`
	Format string `yaml:"format" envconfig:"LOG_FORMAT" default:"json"`
}

// RateLimitOptions configures the server client's self-throttling of
// outbound calls to the license server.
type RateLimitOptions struct {
	RequestsPerSecond float64 `yaml:"requests_per_second" envconfig:"TRANSPORT_REQUESTS_PER_SECOND" default:"5"`
	Burst             int     `yaml:"burst" envconfig:"TRANSPORT_BURST" default:"10"`
}

// Options is the demo command's top-level configuration struct.
type Options struct {
	OrganisationName string           `yaml:"organisation_name" envconfig:"ORGANISATION_NAME" default:"demo-org"`
	ProductDataB64   string           `yaml:"product_data" envconfig:"PRODUCT_DATA"`
	Server           ServerOptions    `yaml:"server"`
	Telemetry        TelemetryOptions `yaml:"telemetry"`
	Logging          LoggingOptions   `yaml:"logging"`
	RateLimit        RateLimitOptions `yaml:"rate_limit"`
}

// Load reads Options from a YAML file at path if it exists, then applies
// environment overrides on top — environment variables always win, the
// same precedence the teacher's config loader uses.
func Load(path string) (*Options, error) {
	opts := &Options{}

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			data, err := os.ReadFile(path)
			if err != nil {
				return nil, fmt.Errorf("config: failed to read %s: %w", path, err)
			}
			if err := yaml.Unmarshal(data, opts); err != nil {
				return nil, fmt.Errorf("config: failed to parse %s: %w", path, err)
			}
		}
	}

	if err := envconfig.Process("", opts); err != nil {
		return nil, fmt.Errorf("config: failed to apply environment overrides: %w", err)
	}

	return opts, nil
}
