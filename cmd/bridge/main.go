package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"mcp-bridge/internal/api"
	"mcp-bridge/internal/config"
	"mcp-bridge/internal/confirmation"
	"mcp-bridge/internal/correlation"
	"mcp-bridge/internal/logging"
	"mcp-bridge/internal/metrics"
	"mcp-bridge/internal/observability"
	"mcp-bridge/internal/registry"
)

var configPath string

func main() {
	rootCmd := &cobra.Command{
		Use:   "mcp-bridge",
		Short: "mcp-bridge - process-supervising protocol bridge",
		Long:  "Hosts MCP-speaking child processes and exposes their tools, resources, and prompts over HTTP.",
	}

	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to mcp_config.json (overrides MCP_CONFIG_PATH)")

	rootCmd.AddCommand(serveCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the bridge's HTTP listener and connect configured servers",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe()
		},
	}
}

func runServe() error {
	path := configPath
	if path == "" {
		path = config.ResolveConfigPath()
	}

	cfg, err := config.LoadFromFile(path)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	config.LoadFromEnv(cfg)

	logging.InitStructured(cfg.Observability.Logging.Format, cfg.Daemon.LogLevel, cfg.Observability.Logging.IncludeTraceID)
	if path := cfg.Observability.Logging.CallLogPath; path != "" {
		if err := logging.Default().SetOutput(path); err != nil {
			logging.Op().Warn("failed to open call log file, continuing with console only", "path", path, "error", err)
		}
	}

	ctx := context.Background()
	if err := observability.Init(ctx, observability.Config{
		Enabled:     cfg.Observability.Tracing.Enabled,
		Exporter:    cfg.Observability.Tracing.Exporter,
		Endpoint:    cfg.Observability.Tracing.Endpoint,
		ServiceName: cfg.Observability.Tracing.ServiceName,
		SampleRate:  cfg.Observability.Tracing.SampleRate,
	}); err != nil {
		logging.Op().Warn("tracing init failed, continuing without it", "error", err)
	}
	defer observability.Shutdown(ctx)

	if cfg.Observability.Metrics.Enabled {
		metrics.InitPrometheus(cfg.Observability.Metrics.Namespace, cfg.Observability.Metrics.HistogramBuckets)
	}

	engine := correlation.NewEngine()
	reg := registry.New(engine)
	ledger := confirmation.NewLedger()

	for id, spec := range cfg.MCPServers {
		if _, err := reg.Start(id, spec); err != nil {
			logging.Op().Error("failed to start configured server, skipping", "server", id, "error", err)
			continue
		}
		logging.Op().Info("server connected", "server", id)
	}

	httpServer := api.StartHTTPServer(cfg.Daemon.HTTPAddr, api.ServerConfig{
		Registry: reg,
		Engine:   engine,
		Ledger:   ledger,
	})
	logging.Op().Info("bridge listening", "addr", cfg.Daemon.HTTPAddr)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logging.Op().Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	httpServer.Shutdown(shutdownCtx)
	cancel()

	reg.StopAll()

	return nil
}
