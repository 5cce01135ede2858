package observability

import (
	"strings"

	"github.com/smallbiznis/creditline/internal/config"
)

const (
	defaultServiceName      = "creditline"
	productionSamplingRatio = 0.1
)

// Health checks and scrapes would otherwise dominate sampled traces.
var defaultUntracedRoutes = []string{"/health", "/metrics"}

// Config is the observability view of the service configuration.
type Config struct {
	ServiceName string
	Environment string
	Version     string

	LogLevel  string
	LogFormat string

	OtelEnabled          bool
	OtelExporterEndpoint string
	OtelExporterProtocol string
	OtelSamplingRatio    float64

	// UntracedRoutes are gin route patterns served without a server span.
	UntracedRoutes []string
}

// LoadConfig derives logging and tracing settings. Production always logs
// JSON and samples a tenth of traces unless a ratio is configured; other
// environments keep every trace.
func LoadConfig(cfg config.Config) Config {
	obs := cfg.Observability
	production := cfg.IsProduction()

	out := Config{
		ServiceName:          orDefault(cfg.AppName, defaultServiceName),
		Environment:          strings.TrimSpace(cfg.Environment),
		Version:              strings.TrimSpace(cfg.AppVersion),
		LogLevel:             strings.ToLower(orDefault(obs.LogLevel, "info")),
		LogFormat:            strings.ToLower(orDefault(obs.LogFormat, "json")),
		OtelEnabled:          obs.OtelEnabled,
		OtelExporterEndpoint: strings.TrimSpace(cfg.OTLPEndpoint),
		OtelExporterProtocol: strings.ToLower(orDefault(obs.OtelProtocol, "grpc")),
		OtelSamplingRatio:    obs.OtelSamplingRatio,
		UntracedRoutes:       obs.UntracedRoutes,
	}
	if production {
		out.LogFormat = "json"
	}
	if out.OtelSamplingRatio < 0 {
		out.OtelSamplingRatio = 1
		if production {
			out.OtelSamplingRatio = productionSamplingRatio
		}
	}
	if len(out.UntracedRoutes) == 0 {
		out.UntracedRoutes = defaultUntracedRoutes
	}
	return out
}

// Debug reports whether request and SQL logging should be verbose.
func (c Config) Debug() bool {
	if c.LogLevel == "debug" {
		return true
	}
	switch strings.ToLower(strings.TrimSpace(c.Environment)) {
	case "dev", "development", "local", "test":
		return true
	default:
		return false
	}
}

func orDefault(value, def string) string {
	if value = strings.TrimSpace(value); value != "" {
		return value
	}
	return def
}
