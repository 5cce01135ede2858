package observability

import (
	"testing"

	"github.com/smallbiznis/creditline/internal/config"
	"github.com/stretchr/testify/assert"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg := LoadConfig(config.Config{
		Environment:   "development",
		Observability: config.ObservabilityConfig{OtelSamplingRatio: -1, LogFormat: "Console"},
	})

	assert.Equal(t, "creditline", cfg.ServiceName)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "console", cfg.LogFormat)
	assert.Equal(t, "grpc", cfg.OtelExporterProtocol)
	assert.Equal(t, 1.0, cfg.OtelSamplingRatio)
	assert.Equal(t, []string{"/health", "/metrics"}, cfg.UntracedRoutes)
	assert.True(t, cfg.Debug())
}

func TestLoadConfigProduction(t *testing.T) {
	cfg := LoadConfig(config.Config{
		AppName:     "creditline-worker",
		Environment: "production",
		Observability: config.ObservabilityConfig{
			LogFormat:         "console",
			OtelSamplingRatio: -1,
			UntracedRoutes:    []string{"/health"},
		},
	})

	assert.Equal(t, "creditline-worker", cfg.ServiceName)
	assert.Equal(t, "json", cfg.LogFormat)
	assert.Equal(t, 0.1, cfg.OtelSamplingRatio)
	assert.Equal(t, []string{"/health"}, cfg.UntracedRoutes)
	assert.False(t, cfg.Debug())

	cfg = LoadConfig(config.Config{
		Environment:   "production",
		Observability: config.ObservabilityConfig{OtelSamplingRatio: 0.5, LogLevel: "DEBUG"},
	})
	assert.Equal(t, 0.5, cfg.OtelSamplingRatio)
	assert.True(t, cfg.Debug())
}
