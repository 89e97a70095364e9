package main

import (
	"flag"
	"fmt"
	"os"
)

// CLIConfig holds command-line configuration
type CLIConfig struct {
	ConfigPath  string
	LogLevel    string
	LogFormat   string
	URL         string
	AuthToken   string
	ShowVersion bool
	ShowHelp    bool
	Validate    bool
}

func parseFlags() *CLIConfig {
	cfg := &CLIConfig{}

	// Flags with environment variable fallback
	flag.StringVar(&cfg.ConfigPath, "config",
		getEnv("CTAFEED_CONFIG", "configs/client.yaml"),
		"Path to configuration file (env: CTAFEED_CONFIG)")

	flag.StringVar(&cfg.ConfigPath, "c",
		getEnv("CTAFEED_CONFIG", "configs/client.yaml"),
		"Path to configuration file (env: CTAFEED_CONFIG)")

	flag.StringVar(&cfg.LogLevel, "log-level",
		getEnv("CTAFEED_LOG_LEVEL", ""),
		"Log level: debug, info, warn, error (env: CTAFEED_LOG_LEVEL)")

	flag.StringVar(&cfg.LogFormat, "log-format",
		getEnv("CTAFEED_LOG_FORMAT", ""),
		"Log format: json, text (env: CTAFEED_LOG_FORMAT)")

	flag.StringVar(&cfg.URL, "url",
		getEnv("CTAFEED_URL", ""),
		"Realtime endpoint, overrides config file (env: CTAFEED_URL)")

	flag.StringVar(&cfg.AuthToken, "auth-token",
		getEnv("CTAFEED_AUTH_TOKEN", ""),
		"Auth token, overrides config file (env: CTAFEED_AUTH_TOKEN)")

	flag.BoolVar(&cfg.ShowVersion, "version", false, "Show version information")
	flag.BoolVar(&cfg.ShowVersion, "v", false, "Show version information")
	flag.BoolVar(&cfg.ShowHelp, "help", false, "Show help information")
	flag.BoolVar(&cfg.ShowHelp, "h", false, "Show help information")
	flag.BoolVar(&cfg.Validate, "validate", false, "Validate configuration and exit")

	flag.Usage = printHelp
	flag.Parse()

	return cfg
}

func validateFlags(cfg *CLIConfig) error {
	if cfg.ShowVersion || cfg.ShowHelp {
		return nil
	}

	if _, err := os.Stat(cfg.ConfigPath); err != nil {
		return fmt.Errorf("config file not found: %s", cfg.ConfigPath)
	}

	validLevels := []string{"", "debug", "info", "warn", "error"}
	if !contains(validLevels, cfg.LogLevel) {
		return fmt.Errorf("invalid log level: %s", cfg.LogLevel)
	}

	validFormats := []string{"", "json", "text"}
	if !contains(validFormats, cfg.LogFormat) {
		return fmt.Errorf("invalid log format: %s", cfg.LogFormat)
	}

	return nil
}

func printHelp() {
	_, _ = fmt.Fprintf(os.Stderr, `%s - realtime data channel feed client

Usage: %s [options]

Options:
`, appName, os.Args[0])
	flag.PrintDefaults()
	_, _ = fmt.Fprintf(os.Stderr, `
Examples:
  # Run with custom config
  %s --config=/etc/ctafeed/client.yaml

  # Run with debug logging
  %s --log-level=debug --log-format=text

  # Run with environment variables
  export CTAFEED_CONFIG=/etc/ctafeed/client.yaml
  export CTAFEED_URL=wss://api.example.com/realtime
  %s

  # Validate configuration only
  %s --validate

Version: %s
`, os.Args[0], os.Args[0], os.Args[0], os.Args[0], Version)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}
