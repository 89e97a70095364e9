// Package main implements ctafeed, a realtime data channel feed client. It
// subscribes to the channels named in its configuration, prints every
// delivered envelope as a JSON line, and exposes Prometheus metrics. Push
// delivery falls back to HTTP polling automatically when the connection
// cannot be recovered.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/foani/CTA-Mission-sub000/config"
	"github.com/foani/CTA-Mission-sub000/envelope"
	"github.com/foani/CTA-Mission-sub000/metric"
	"github.com/foani/CTA-Mission-sub000/pkg/timestamp"
	"github.com/foani/CTA-Mission-sub000/realtime"
)

const (
	Version = "0.1.0"
	appName = "ctafeed"
)

// printedEnvelope adds a human-readable time to each emitted JSON line.
type printedEnvelope struct {
	envelope.Envelope
	Time string `json:"time,omitempty"`
}

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
		slog.Error("application failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cliCfg := parseFlags()
	if err := validateFlags(cliCfg); err != nil {
		return fmt.Errorf("invalid flags: %w", err)
	}
	if cliCfg.ShowVersion {
		fmt.Printf("%s version %s\n", appName, Version)
		return nil
	}
	if cliCfg.ShowHelp {
		printHelp()
		return nil
	}

	cfg, err := config.Load(cliCfg.ConfigPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	applyOverrides(cfg, cliCfg)
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("validate config: %w", err)
	}

	logger := setupLogger(cfg.Log.Level, cfg.Log.Format)
	slog.SetDefault(logger)

	if cliCfg.Validate {
		logger.Info("configuration is valid", "config_path", cliCfg.ConfigPath)
		return nil
	}

	logger.Info("starting",
		"config_path", cliCfg.ConfigPath,
		"channels", len(cfg.Channels),
		"polling_fallback", cfg.Polling.Enabled)

	metricsRegistry := metric.NewMetricsRegistry()
	var metricsServer *metric.Server
	if cfg.Metrics.Enabled {
		metricsServer = metric.NewServer(cfg.Metrics.Port, cfg.Metrics.Path, metricsRegistry)
		go func() {
			if err := metricsServer.Start(); err != nil {
				logger.Error("metrics server failed", "error", err)
			}
		}()
		logger.Info("metrics server started", "address", metricsServer.Address())
	}

	stdout := json.NewEncoder(os.Stdout)
	opts := append(cfg.ClientOptions(),
		realtime.WithLogger(logger),
		realtime.WithMetrics(metricsRegistry),
		realtime.WithObserver(func(env envelope.Envelope) {
			if err := stdout.Encode(printedEnvelope{
				Envelope: env,
				Time:     timestamp.Format(env.Timestamp),
			}); err != nil {
				logger.Warn("write envelope", "error", err)
			}
		}),
		realtime.WithOnError(func(err error) {
			logger.Warn("channel error", "error", err)
		}),
		realtime.WithOnConnectionChange(func(s realtime.State) {
			logger.Info("connection state", "state", s.String())
		}),
	)

	client, err := realtime.New(opts...)
	if err != nil {
		return fmt.Errorf("create client: %w", err)
	}
	defer client.Close()

	ctx, stop := signal.NotifyContext(context.Background(),
		syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := client.Connect(ctx); err != nil {
		return fmt.Errorf("connect: %w", err)
	}

	for _, ch := range cfg.Channels {
		if _, err := client.Subscribe(ch.Channel, ch.Params); err != nil {
			return fmt.Errorf("subscribe %s: %w", ch.Channel, err)
		}
		logger.Info("subscribed", "channel", ch.Channel)
	}

	<-ctx.Done()
	logger.Info("shutting down")

	client.Disconnect()
	if metricsServer != nil {
		if err := metricsServer.Stop(); err != nil {
			logger.Warn("stop metrics server", "error", err)
		}
	}
	return nil
}

func applyOverrides(cfg *config.Config, cliCfg *CLIConfig) {
	if cliCfg.URL != "" {
		cfg.URL = cliCfg.URL
	}
	if cliCfg.AuthToken != "" {
		cfg.AuthToken = cliCfg.AuthToken
	}
	if cliCfg.LogLevel != "" {
		cfg.Log.Level = cliCfg.LogLevel
	}
	if cliCfg.LogFormat != "" {
		cfg.Log.Format = cliCfg.LogFormat
	}
}
