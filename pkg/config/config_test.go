package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "tracklane.db", cfg.Database.Path)
	assert.Equal(t, time.Minute, cfg.Engine.RuleCacheTTL.Std())
	assert.Equal(t, "starlark", cfg.Segmentation.Dialect)
	assert.Equal(t, 500*time.Millisecond, cfg.Definitions.ReloadDelay.Std())
	assert.False(t, cfg.Redis.Enabled)
	assert.Equal(t, "tracklane", cfg.Telemetry.ServiceName)
}

func TestLoadCUE(t *testing.T) {
	path := writeConfig(t, "tracklane.cue", `
database: path: "/tmp/tl.db"
engine: {
	rule_cache_ttl:  "30s"
	max_concurrency: 4
	debug:           true
}
segmentation: dialect: "rego"
definitions: paths: ["rules", "flows"]
telemetry: sampling_rate: 0.5
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/tmp/tl.db", cfg.Database.Path)
	assert.Equal(t, 30*time.Second, cfg.Engine.RuleCacheTTL.Std())
	assert.Equal(t, 4, cfg.Engine.MaxConcurrency)
	assert.True(t, cfg.Engine.Debug)
	assert.Equal(t, "rego", cfg.Segmentation.Dialect)
	assert.Equal(t, uint64(100000), cfg.Segmentation.MaxSteps)
	assert.Equal(t, []string{"rules", "flows"}, cfg.Definitions.Paths)
	assert.Equal(t, 0.5, cfg.Telemetry.SamplingRate)
}

func TestLoadCUESchemaViolations(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{name: "unknown dialect", content: `segmentation: dialect: "lua"`},
		{name: "bad duration", content: `engine: rule_cache_ttl: "soon"`},
		{name: "negative concurrency", content: `engine: max_concurrency: -1`},
		{name: "unknown field", content: `engine: workers: 3`},
		{name: "syntax", content: `engine: {`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, "bad.cue", tt.content))
			require.Error(t, err)

			var verrs ValidationErrors
			require.True(t, errors.As(err, &verrs), "got %v", err)
			assert.NotEmpty(t, verrs)
		})
	}
}

func TestLoadYAML(t *testing.T) {
	path := writeConfig(t, "tracklane.yaml", `
database:
  path: ":memory:"
engine:
  rule_cache_ttl: 2m
redis:
  enabled: true
  addr: redis:6379
  db: 2
definitions:
  reload_delay: 1000000
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":memory:", cfg.Database.Path)
	assert.Equal(t, 2*time.Minute, cfg.Engine.RuleCacheTTL.Std())
	assert.True(t, cfg.Redis.Enabled)
	assert.Equal(t, "redis:6379", cfg.Redis.Addr)
	assert.Equal(t, 2, cfg.Redis.DB)
	assert.Equal(t, time.Millisecond, cfg.Definitions.ReloadDelay.Std())
	assert.Equal(t, "starlark", cfg.Segmentation.Dialect)
}

func TestLoadJSON(t *testing.T) {
	path := writeConfig(t, "tracklane.json", `{"engine": {"rule_cache_ttl": "10s", "max_concurrency": 2}}`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 10*time.Second, cfg.Engine.RuleCacheTTL.Std())
	assert.Equal(t, 2, cfg.Engine.MaxConcurrency)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("TRACKLANE_DATABASE_PATH", "env.db")
	t.Setenv("TRACKLANE_ENGINE_RULE_CACHE_TTL", "5s")
	t.Setenv("TRACKLANE_DEFINITIONS_PATHS", "a,b")
	t.Setenv("TRACKLANE_LOG_LEVEL", "debug")
	t.Setenv("TRACKLANE_REDIS_ENABLED", "true")

	path := writeConfig(t, "tracklane.yaml", "database:\n  path: file.db\n")
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "env.db", cfg.Database.Path)
	assert.Equal(t, 5*time.Second, cfg.Engine.RuleCacheTTL.Std())
	assert.Equal(t, []string{"a", "b"}, cfg.Definitions.Paths)
	assert.Equal(t, "debug", cfg.Telemetry.LogLevel)
	assert.True(t, cfg.Redis.Enabled)
}

func TestLoadEnvInvalid(t *testing.T) {
	t.Setenv("TRACKLANE_ENGINE_RULE_CACHE_TTL", "later")

	_, err := Load("")
	assert.ErrorContains(t, err, "parse env")
}

func TestLoadValidation(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{name: "empty database path", content: "database:\n  path: \"\"\n"},
		{name: "redis without addr", content: "redis:\n  enabled: true\n  addr: \"\"\n"},
		{name: "bad dialect", content: "segmentation:\n  dialect: lua\n"},
		{name: "bad exporter", content: "telemetry:\n  tracing_exporter: jaeger\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, "bad.yaml", tt.content))
			assert.ErrorContains(t, err, "invalid configuration")
		})
	}
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorContains(t, err, "failed to read config file")

	_, err = Load(writeConfig(t, "tracklane.toml", "x = 1"))
	assert.ErrorContains(t, err, "unsupported config format")
}

func TestTelemetryConfig(t *testing.T) {
	cfg := Default()
	cfg.Telemetry.LogFormat = "json"
	cfg.Telemetry.TracingEnabled = true
	cfg.Telemetry.TracingExporter = "none"

	tel := cfg.TelemetryConfig("1.2.3")
	assert.Equal(t, "1.2.3", tel.ServiceVersion)
	assert.Equal(t, "json", tel.Logging.Format)
	assert.True(t, tel.Tracing.Enabled)
	assert.Equal(t, "none", tel.Tracing.Exporter)
	assert.NoError(t, tel.Validate())
}

func TestDurationUnmarshal(t *testing.T) {
	var d Duration
	require.NoError(t, d.UnmarshalJSON([]byte(`"1h30m"`)))
	assert.Equal(t, 90*time.Minute, d.Std())

	require.NoError(t, d.UnmarshalJSON([]byte(`250`)))
	assert.Equal(t, 250*time.Nanosecond, d.Std())

	assert.Error(t, d.UnmarshalJSON([]byte(`true`)))
	assert.Error(t, d.UnmarshalText([]byte("1 hour")))
	assert.Equal(t, "1s", Duration(time.Second).String())
}
