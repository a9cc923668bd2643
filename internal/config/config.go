// Package config loads the bridge's server roster and ambient settings from
// a JSON config file plus environment variable overrides.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// RiskLevel mirrors the wire-level integer risk classes from §6: absent (0)
// is distinct from Low (1) — absent servers omit all risk_* fields.
type RiskLevel int

const (
	RiskUnspecified RiskLevel = 0
	RiskLow         RiskLevel = 1
	RiskMedium      RiskLevel = 2
	RiskHigh        RiskLevel = 3
)

// Description returns the human-readable class name used in deferral
// responses and /servers listings.
func (r RiskLevel) Description() string {
	switch r {
	case RiskLow:
		return "standard execution"
	case RiskMedium:
		return "confirmation required before tool calls"
	case RiskHigh:
		return "container-isolated execution"
	default:
		return ""
	}
}

// DockerConfig describes the container launcher invocation for a High-risk
// server: image, volume bindings, and network mode.
type DockerConfig struct {
	Image   string   `json:"image"`
	Volumes []string `json:"volumes,omitempty"`
	Network string   `json:"network,omitempty"`
}

// ServerSpec is one entry under the config file's top-level "mcpServers"
// map, or a server synthesized from MCP_SERVER_<NAME>_* environment
// variables.
type ServerSpec struct {
	Command   string            `json:"command"`
	Args      []string          `json:"args,omitempty"`
	Env       map[string]string `json:"env,omitempty"`
	RiskLevel RiskLevel         `json:"riskLevel,omitempty"`
	Docker    *DockerConfig     `json:"docker,omitempty"`
}

// TracingConfig holds OpenTelemetry tracing settings. Ambient stack, not
// part of the bridge/child wire protocol.
type TracingConfig struct {
	Enabled     bool    `json:"enabled"`
	Exporter    string  `json:"exporter"`     // otlp-http, stdout
	Endpoint    string  `json:"endpoint"`     // localhost:4318
	ServiceName string  `json:"service_name"` // mcp-bridge
	SampleRate  float64 `json:"sample_rate"`
}

// MetricsConfig holds Prometheus metrics settings.
type MetricsConfig struct {
	Enabled          bool      `json:"enabled"`
	Namespace        string    `json:"namespace"`
	HistogramBuckets []float64 `json:"histogram_buckets"`
}

// LoggingConfig holds structured logging settings.
type LoggingConfig struct {
	Level          string `json:"level"`  // debug, info, warn, error
	Format         string `json:"format"` // text, json
	IncludeTraceID bool   `json:"include_trace_id"`
	CallLogPath    string `json:"call_log_path"` // file for per-request audit trail; "" disables
}

// ObservabilityConfig groups the ambient observability settings.
type ObservabilityConfig struct {
	Tracing TracingConfig `json:"tracing"`
	Metrics MetricsConfig `json:"metrics"`
	Logging LoggingConfig `json:"logging"`
}

// DaemonConfig holds process-level settings for the single bridge listener.
type DaemonConfig struct {
	HTTPAddr string `json:"http_addr"`
	LogLevel string `json:"log_level"`
}

// Config is the bridge's complete runtime configuration.
type Config struct {
	MCPServers    map[string]ServerSpec `json:"mcpServers"`
	Daemon        DaemonConfig          `json:"daemon"`
	Observability ObservabilityConfig   `json:"observability"`
}

// DefaultConfig returns a Config with sensible defaults and an empty server
// roster; callers layer LoadFromFile and LoadFromEnv on top.
func DefaultConfig() *Config {
	return &Config{
		MCPServers: make(map[string]ServerSpec),
		Daemon: DaemonConfig{
			HTTPAddr: ":8080",
			LogLevel: "info",
		},
		Observability: ObservabilityConfig{
			Tracing: TracingConfig{
				Enabled:     false,
				Exporter:    "otlp-http",
				Endpoint:    "localhost:4318",
				ServiceName: "mcp-bridge",
				SampleRate:  1.0,
			},
			Metrics: MetricsConfig{
				Enabled:          true,
				Namespace:        "bridge",
				HistogramBuckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000},
			},
			Logging: LoggingConfig{
				Level:          "info",
				Format:         "text",
				IncludeTraceID: true,
			},
		},
	}
}

// ResolveConfigPath applies the search order from §6: MCP_CONFIG_PATH, else
// mcp_config.json in the working directory.
func ResolveConfigPath() string {
	if v := os.Getenv("MCP_CONFIG_PATH"); v != "" {
		return v
	}
	return "mcp_config.json"
}

// LoadFromFile loads the mcpServers roster and ambient settings from a JSON
// config file. A missing file is not an error; an empty roster is still
// usable and servers can be synthesized entirely from the environment.
func LoadFromFile(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if cfg.MCPServers == nil {
		cfg.MCPServers = make(map[string]ServerSpec)
	}

	return cfg, nil
}

// LoadFromEnv applies ambient overrides and synthesizes servers from
// MCP_SERVER_<NAME>_* variables per §6. Env-synthesized servers win on name
// collision with the file-loaded roster, matching "extras win on conflict"
// elsewhere in the bridge.
func LoadFromEnv(cfg *Config) {
	if v := os.Getenv("MCP_HTTP_ADDR"); v != "" {
		cfg.Daemon.HTTPAddr = v
	}
	if v := os.Getenv("MCP_LOG_LEVEL"); v != "" {
		cfg.Daemon.LogLevel = v
	}

	if v := os.Getenv("MCP_TRACING_ENABLED"); v != "" {
		cfg.Observability.Tracing.Enabled = parseBool(v)
	}
	if v := os.Getenv("MCP_TRACING_ENDPOINT"); v != "" {
		cfg.Observability.Tracing.Endpoint = v
	}
	if v := os.Getenv("MCP_TRACING_EXPORTER"); v != "" {
		cfg.Observability.Tracing.Exporter = v
	}
	if v := os.Getenv("MCP_METRICS_ENABLED"); v != "" {
		cfg.Observability.Metrics.Enabled = parseBool(v)
	}
	if v := os.Getenv("MCP_METRICS_NAMESPACE"); v != "" {
		cfg.Observability.Metrics.Namespace = v
	}
	if v := os.Getenv("MCP_LOG_FORMAT"); v != "" {
		cfg.Observability.Logging.Format = v
	}
	if v := os.Getenv("MCP_CALL_LOG_PATH"); v != "" {
		cfg.Observability.Logging.CallLogPath = v
	}

	synthesizeServersFromEnv(cfg)
}

// synthesizeServersFromEnv scans the process environment for
// MCP_SERVER_<NAME>_COMMAND and its companion variables, building one
// ServerSpec per distinct <NAME>.
func synthesizeServersFromEnv(cfg *Config) {
	const prefix = "MCP_SERVER_"
	const suffix = "_COMMAND"

	names := map[string]string{} // lower-cased name -> raw <NAME> segment
	for _, kv := range os.Environ() {
		key, _, ok := strings.Cut(kv, "=")
		if !ok || !strings.HasPrefix(key, prefix) || !strings.HasSuffix(key, suffix) {
			continue
		}
		raw := strings.TrimSuffix(strings.TrimPrefix(key, prefix), suffix)
		if raw == "" {
			continue
		}
		names[strings.ToLower(raw)] = raw
	}

	for lower, raw := range names {
		spec := ServerSpec{
			Command: os.Getenv(prefix + raw + suffix),
		}

		if v := os.Getenv(prefix + raw + "_ARGS"); v != "" {
			for _, a := range strings.Split(v, ",") {
				spec.Args = append(spec.Args, strings.TrimSpace(a))
			}
		}

		if v := os.Getenv(prefix + raw + "_ENV"); v != "" {
			env := map[string]string{}
			if err := json.Unmarshal([]byte(v), &env); err == nil {
				spec.Env = env
			}
		}

		if v := os.Getenv(prefix + raw + "_RISK_LEVEL"); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				spec.RiskLevel = RiskLevel(n)
			}
		}

		if v := os.Getenv(prefix + raw + "_DOCKER_CONFIG"); v != "" {
			var dc DockerConfig
			if err := json.Unmarshal([]byte(v), &dc); err == nil {
				spec.Docker = &dc
			}
		}

		cfg.MCPServers[lower] = spec
	}
}

func parseBool(s string) bool {
	s = strings.ToLower(s)
	return s == "true" || s == "1" || s == "yes"
}
