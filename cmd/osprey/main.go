// Package main implements the entry point for the osprey service. Osprey
// consumes events from a NATS JetStream stream, evaluates each one against a
// declarative rule set, and publishes the resulting verdicts and effects.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/haileyok/osprey/config"
	"github.com/haileyok/osprey/engine"
	"github.com/haileyok/osprey/metric"
	"github.com/haileyok/osprey/ruleset"
	"github.com/haileyok/osprey/stdlib"
	"github.com/haileyok/osprey/udf"
	"github.com/haileyok/osprey/worker"
)

// Build information constants
const (
	Version   = "0.1.0"
	BuildTime = "dev"
	appName   = "osprey"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := run(); err != nil {
		slog.Error("Application failed", "error", err, "exit_code", 1)
		os.Exit(1)
	}
}

func run() error {
	cliCfg, shouldExit, err := initializeCLI()
	if shouldExit || err != nil {
		return err
	}

	cfg, err := config.Load(cliCfg.ConfigPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if cliCfg.LogLevel != "" {
		cfg.Service.LogLevel = cliCfg.LogLevel
	}

	logger := setupLogger(cfg.Service, cliCfg.LogFormat)
	slog.SetDefault(logger)

	slog.Info("Starting osprey (rule evaluation service)",
		"version", Version,
		"build_time", BuildTime,
		"config_path", cliCfg.ConfigPath,
		"rule_set", cfg.RuleSet.Path,
		"environment", cfg.Service.Environment)

	if cliCfg.Validate {
		// Config parsed and validated; check the rule set too before exiting.
		if _, err := loadRuleSet(cfg); err != nil {
			return err
		}
		slog.Info("Configuration and rule set are valid")
		return nil
	}

	metricsRegistry := metric.NewMetricsRegistry()

	rs, err := loadRuleSet(cfg)
	if err != nil {
		return err
	}
	slog.Info("Rule set loaded",
		"version", rs.Version,
		"features", rs.Graph.Len())

	eng, err := engine.New(rs.Graph, rs.Tree,
		engine.WithAsyncWorkers(cfg.Engine.AsyncWorkers),
		engine.WithTimeout(cfg.Engine.Timeout),
		engine.WithMetrics(metricsRegistry.PrometheusRegistry()),
		engine.WithLogger(logger.With("component", "engine")),
	)
	if err != nil {
		return fmt.Errorf("build engine: %w", err)
	}

	w, err := worker.New(cfg, eng, metricsRegistry, logger.With("component", "worker"))
	if err != nil {
		return fmt.Errorf("create worker: %w", err)
	}

	metricsServer := startMetricsServer(cfg, metricsRegistry)

	return runWithSignalHandling(cfg, w, metricsServer, cliCfg.ShutdownTimeout)
}

// initializeCLI parses flags and handles version/help early exits.
func initializeCLI() (*CLIConfig, bool, error) {
	cliCfg := parseFlags()
	if err := validateFlags(cliCfg); err != nil {
		return nil, false, fmt.Errorf("invalid flags: %w", err)
	}

	if cliCfg.ShowVersion {
		fmt.Printf("%s version %s\n", appName, Version)
		return nil, true, nil
	}

	if cliCfg.ShowHelp {
		printDetailedHelp()
		return nil, true, nil
	}

	return cliCfg, false, nil
}

// loadRuleSet builds the UDF registry and parses the rule set document.
func loadRuleSet(cfg *config.Config) (*ruleset.RuleSet, error) {
	registry := udf.NewRegistry()
	if err := stdlib.Register(registry); err != nil {
		return nil, fmt.Errorf("register standard UDFs: %w", err)
	}

	rs, err := ruleset.Load(cfg.RuleSet.Path, registry)
	if err != nil {
		return nil, fmt.Errorf("load rule set: %w", err)
	}
	return rs, nil
}

// startMetricsServer starts the metrics endpoint when enabled. Returns nil
// when metrics are disabled.
func startMetricsServer(cfg *config.Config, registry *metric.MetricsRegistry) *metric.Server {
	if !cfg.Metrics.Enabled {
		slog.Info("Metrics endpoint disabled")
		return nil
	}

	server := metric.NewServer(cfg.Metrics.Port, cfg.Metrics.Path, registry)
	go func() {
		slog.Info("Metrics endpoint listening", "address", server.Address())
		if err := server.Start(); err != nil {
			slog.Error("Metrics server failed", "error", err)
		}
	}()
	return server
}

// runWithSignalHandling starts the worker and blocks until shutdown.
func runWithSignalHandling(
	cfg *config.Config,
	w *worker.Worker,
	metricsServer *metric.Server,
	shutdownTimeout time.Duration,
) error {
	signalCtx, signalCancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer signalCancel()

	slog.Info("Connecting to NATS", "url", cfg.NATS.URL)
	if err := w.Initialize(signalCtx); err != nil {
		return fmt.Errorf("initialize worker: %w", err)
	}

	if err := w.Start(signalCtx); err != nil {
		return fmt.Errorf("start worker: %w", err)
	}
	slog.Info("Osprey started successfully",
		"stream", cfg.NATS.Stream,
		"subject", cfg.NATS.Subject,
		"parallelism", cfg.Worker.Parallelism)

	<-signalCtx.Done()
	slog.Info("Received shutdown signal")

	if err := w.Stop(shutdownTimeout); err != nil {
		slog.Error("Error stopping worker", "error", err)
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}
	if metricsServer != nil {
		if err := metricsServer.Stop(); err != nil {
			slog.Warn("Error stopping metrics server", "error", err)
		}
	}

	slog.Info("Osprey shutdown complete")
	return nil
}
