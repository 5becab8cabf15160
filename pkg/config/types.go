package config

import (
	"encoding/json"
	"fmt"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/tracklane/tracklane/pkg/telemetry"
)

// Config is the tracklane configuration.
type Config struct {
	Database     DatabaseConfig     `json:"database" yaml:"database"`
	Engine       EngineConfig       `json:"engine" yaml:"engine"`
	Segmentation SegmentationConfig `json:"segmentation" yaml:"segmentation"`
	Redis        RedisConfig        `json:"redis" yaml:"redis"`
	Definitions  DefinitionsConfig  `json:"definitions" yaml:"definitions"`
	Telemetry    TelemetryConfig    `json:"telemetry" yaml:"telemetry"`
}

// DatabaseConfig locates the SQLite database.
type DatabaseConfig struct {
	// Path is the database file. ":memory:" keeps everything in process.
	Path string `json:"path" yaml:"path" env:"TRACKLANE_DATABASE_PATH" validate:"required"`
}

// EngineConfig tunes event dispatch.
type EngineConfig struct {
	// RuleCacheTTL is how long rules for an event type are reused. Zero
	// selects the engine default.
	RuleCacheTTL Duration `json:"rule_cache_ttl" yaml:"rule_cache_ttl" env:"TRACKLANE_ENGINE_RULE_CACHE_TTL" validate:"gte=0"`

	// MaxConcurrency caps concurrently running workflows. Zero is unbounded.
	MaxConcurrency int `json:"max_concurrency" yaml:"max_concurrency" env:"TRACKLANE_ENGINE_MAX_CONCURRENCY" validate:"gte=0"`

	// Debug records per-node details for every run.
	Debug bool `json:"debug" yaml:"debug" env:"TRACKLANE_ENGINE_DEBUG"`
}

// SegmentationConfig selects the segment condition language.
type SegmentationConfig struct {
	Dialect  string `json:"dialect" yaml:"dialect" env:"TRACKLANE_SEGMENTATION_DIALECT" validate:"oneof=starlark rego"`
	MaxSteps uint64 `json:"max_steps" yaml:"max_steps" env:"TRACKLANE_SEGMENTATION_MAX_STEPS"`
}

// RedisConfig enables the memory actions.
type RedisConfig struct {
	Enabled  bool   `json:"enabled" yaml:"enabled" env:"TRACKLANE_REDIS_ENABLED"`
	Addr     string `json:"addr" yaml:"addr" env:"TRACKLANE_REDIS_ADDR" validate:"required_if=Enabled true"`
	Password string `json:"password" yaml:"password" env:"TRACKLANE_REDIS_PASSWORD"`
	DB       int    `json:"db" yaml:"db" env:"TRACKLANE_REDIS_DB" validate:"gte=0"`
}

// DefinitionsConfig lists definition files loaded before dispatching and
// watched by the watch command.
type DefinitionsConfig struct {
	Paths       []string `json:"paths" yaml:"paths" env:"TRACKLANE_DEFINITIONS_PATHS" envSeparator:","`
	ReloadDelay Duration `json:"reload_delay" yaml:"reload_delay" env:"TRACKLANE_DEFINITIONS_RELOAD_DELAY" validate:"gte=0"`
}

// TelemetryConfig is the flat, file-friendly form of telemetry.Config.
type TelemetryConfig struct {
	ServiceName     string  `json:"service_name" yaml:"service_name" env:"TRACKLANE_TELEMETRY_SERVICE_NAME" validate:"required"`
	Environment     string  `json:"environment" yaml:"environment" env:"TRACKLANE_TELEMETRY_ENVIRONMENT"`
	LogLevel        string  `json:"log_level" yaml:"log_level" env:"TRACKLANE_LOG_LEVEL" validate:"oneof=trace debug info warn error fatal"`
	LogFormat       string  `json:"log_format" yaml:"log_format" env:"TRACKLANE_LOG_FORMAT" validate:"oneof=console json"`
	LogOutput       string  `json:"log_output" yaml:"log_output" env:"TRACKLANE_LOG_OUTPUT"`
	TracingEnabled  bool    `json:"tracing_enabled" yaml:"tracing_enabled" env:"TRACKLANE_TRACING_ENABLED"`
	TracingExporter string  `json:"tracing_exporter" yaml:"tracing_exporter" env:"TRACKLANE_TRACING_EXPORTER" validate:"oneof=otlp stdout none"`
	TracingEndpoint string  `json:"tracing_endpoint" yaml:"tracing_endpoint" env:"TRACKLANE_TRACING_ENDPOINT"`
	SamplingRate    float64 `json:"sampling_rate" yaml:"sampling_rate" env:"TRACKLANE_TRACING_SAMPLING_RATE" validate:"gte=0,lte=1"`
	MetricsEnabled  bool    `json:"metrics_enabled" yaml:"metrics_enabled" env:"TRACKLANE_METRICS_ENABLED"`
	MetricsAddress  string  `json:"metrics_address" yaml:"metrics_address" env:"TRACKLANE_METRICS_ADDRESS" validate:"required_if=MetricsEnabled true"`
}

// Default returns a configuration that works out of the box against a local
// database file.
func Default() *Config {
	tel := telemetry.DefaultConfig()
	return &Config{
		Database: DatabaseConfig{Path: "tracklane.db"},
		Engine: EngineConfig{
			RuleCacheTTL: Duration(time.Minute),
		},
		Segmentation: SegmentationConfig{
			Dialect:  "starlark",
			MaxSteps: 100000,
		},
		Redis: RedisConfig{
			Addr: "localhost:6379",
		},
		Definitions: DefinitionsConfig{
			ReloadDelay: Duration(500 * time.Millisecond),
		},
		Telemetry: TelemetryConfig{
			ServiceName:     tel.ServiceName,
			Environment:     tel.Environment,
			LogLevel:        tel.Logging.Level,
			LogFormat:       tel.Logging.Format,
			LogOutput:       tel.Logging.Output,
			TracingEnabled:  tel.Tracing.Enabled,
			TracingExporter: tel.Tracing.Exporter,
			TracingEndpoint: tel.Tracing.Endpoint,
			SamplingRate:    tel.Tracing.SamplingRate,
			MetricsEnabled:  tel.Metrics.Enabled,
			MetricsAddress:  tel.Metrics.ListenAddress,
		},
	}
}

// TelemetryConfig expands the section into a full telemetry configuration.
func (c *Config) TelemetryConfig(version string) *telemetry.Config {
	cfg := telemetry.DefaultConfig()
	t := c.Telemetry

	cfg.ServiceName = t.ServiceName
	cfg.ServiceVersion = version
	cfg.Environment = t.Environment
	cfg.Logging.Level = t.LogLevel
	cfg.Logging.Format = t.LogFormat
	cfg.Logging.Output = t.LogOutput
	cfg.Tracing.Enabled = t.TracingEnabled
	cfg.Tracing.Exporter = t.TracingExporter
	cfg.Tracing.Endpoint = t.TracingEndpoint
	cfg.Tracing.SamplingRate = t.SamplingRate
	cfg.Metrics.Enabled = t.MetricsEnabled
	cfg.Metrics.ListenAddress = t.MetricsAddress
	return cfg
}

// Duration is a time.Duration written as "30s" in files and the environment.
// Plain numbers are read as nanoseconds.
type Duration time.Duration

// Std returns d as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

func (d Duration) String() string {
	return time.Duration(d).String()
}

// UnmarshalText parses a duration string.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", text, err)
	}
	*d = Duration(v)
	return nil
}

// MarshalText formats the duration.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// UnmarshalJSON accepts a duration string or a number of nanoseconds.
func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		return d.UnmarshalText([]byte(s))
	}
	var n int64
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("invalid duration %s", data)
	}
	*d = Duration(n)
	return nil
}

// UnmarshalYAML accepts a duration string or a number of nanoseconds.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var n int64
	if node.Tag == "!!int" {
		if err := node.Decode(&n); err != nil {
			return err
		}
		*d = Duration(n)
		return nil
	}
	return d.UnmarshalText([]byte(node.Value))
}
