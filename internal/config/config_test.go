package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadFromFile_MissingFileIsNotAnError(t *testing.T) {
	cfg, err := LoadFromFile(filepath.Join(t.TempDir(), "does-not-exist.json"))
	if err != nil {
		t.Fatalf("expected no error for a missing config file, got %v", err)
	}
	if cfg.MCPServers == nil || len(cfg.MCPServers) != 0 {
		t.Fatalf("expected an empty roster, got %+v", cfg.MCPServers)
	}
}

func TestLoadFromFile_ParsesRosterAndAmbientBlocks(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "mcp_config.json")
	body := `{
		"mcpServers": {
			"echo": {"command": "/bin/cat", "riskLevel": 2},
			"risky": {"command": "tool", "riskLevel": 3, "docker": {"image": "img:latest"}}
		},
		"daemon": {"http_addr": ":9090"},
		"observability": {"tracing": {"enabled": true, "endpoint": "collector:4318"}}
	}`
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if len(cfg.MCPServers) != 2 {
		t.Fatalf("expected 2 servers, got %d", len(cfg.MCPServers))
	}
	if cfg.MCPServers["echo"].RiskLevel != RiskMedium {
		t.Fatalf("expected echo riskLevel Medium, got %v", cfg.MCPServers["echo"].RiskLevel)
	}
	if cfg.MCPServers["risky"].Docker == nil || cfg.MCPServers["risky"].Docker.Image != "img:latest" {
		t.Fatalf("expected risky docker image, got %+v", cfg.MCPServers["risky"].Docker)
	}
	if cfg.Daemon.HTTPAddr != ":9090" {
		t.Fatalf("expected overridden http_addr, got %q", cfg.Daemon.HTTPAddr)
	}
	if !cfg.Observability.Tracing.Enabled || cfg.Observability.Tracing.Endpoint != "collector:4318" {
		t.Fatalf("expected tracing overrides applied, got %+v", cfg.Observability.Tracing)
	}
}

func TestLoadFromFile_UnparseableFileFails(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "mcp_config.json")
	if err := os.WriteFile(path, []byte("not json"), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	if _, err := LoadFromFile(path); err == nil {
		t.Fatal("expected an error for an unparseable config file")
	}
}

func TestResolveConfigPath_PrefersEnvOverDefault(t *testing.T) {
	t.Setenv("MCP_CONFIG_PATH", "/tmp/custom_config.json")
	if got := ResolveConfigPath(); got != "/tmp/custom_config.json" {
		t.Fatalf("expected env override, got %q", got)
	}

	os.Unsetenv("MCP_CONFIG_PATH")
	if got := ResolveConfigPath(); got != "mcp_config.json" {
		t.Fatalf("expected default path, got %q", got)
	}
}

func TestLoadFromEnv_SynthesizesServerFromEnvironment(t *testing.T) {
	t.Setenv("MCP_SERVER_WEATHER_COMMAND", "weather-mcp")
	t.Setenv("MCP_SERVER_WEATHER_ARGS", "--verbose, --port=8080")
	t.Setenv("MCP_SERVER_WEATHER_RISK_LEVEL", "2")
	t.Setenv("MCP_SERVER_WEATHER_ENV", `{"API_KEY":"secret"}`)

	cfg := DefaultConfig()
	LoadFromEnv(cfg)

	spec, ok := cfg.MCPServers["weather"]
	if !ok {
		t.Fatal("expected a synthesized 'weather' server")
	}
	if spec.Command != "weather-mcp" {
		t.Fatalf("expected command weather-mcp, got %q", spec.Command)
	}
	if len(spec.Args) != 2 || spec.Args[0] != "--verbose" || spec.Args[1] != "--port=8080" {
		t.Fatalf("expected trimmed comma-split args, got %v", spec.Args)
	}
	if spec.RiskLevel != RiskMedium {
		t.Fatalf("expected risk level Medium, got %v", spec.RiskLevel)
	}
	if spec.Env["API_KEY"] != "secret" {
		t.Fatalf("expected parsed env block, got %+v", spec.Env)
	}
}

func TestLoadFromEnv_SynthesizedDockerConfig(t *testing.T) {
	t.Setenv("MCP_SERVER_SANDBOX_COMMAND", "sandboxed-tool")
	t.Setenv("MCP_SERVER_SANDBOX_DOCKER_CONFIG", `{"image":"sandbox:latest","network":"none"}`)

	cfg := DefaultConfig()
	LoadFromEnv(cfg)

	spec, ok := cfg.MCPServers["sandbox"]
	if !ok {
		t.Fatal("expected a synthesized 'sandbox' server")
	}
	if spec.Docker == nil || spec.Docker.Image != "sandbox:latest" || spec.Docker.Network != "none" {
		t.Fatalf("expected parsed docker config, got %+v", spec.Docker)
	}
}

func TestRiskLevel_DescriptionCoversEveryRecognizedClass(t *testing.T) {
	cases := map[RiskLevel]string{
		RiskUnspecified: "",
		RiskLow:         "standard execution",
		RiskMedium:      "confirmation required before tool calls",
		RiskHigh:        "container-isolated execution",
	}
	for level, want := range cases {
		if got := level.Description(); got != want {
			t.Fatalf("RiskLevel(%d).Description() = %q, want %q", level, got, want)
		}
	}
}
