package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/loqalabs/loqa-listen/internal/config"
	"github.com/loqalabs/loqa-listen/internal/relay"
	"github.com/loqalabs/loqa-listen/internal/runtime"
)

var version = "0.1.0-dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	os.Exit(run(ctx, os.Args[1:], os.Stdout, os.Stderr))
}

// run returns the process exit status. Transcripts go to stdout and
// everything else to stderr.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	flags := flag.NewFlagSet("loqa-listen", flag.ContinueOnError)
	flags.SetOutput(stderr)
	var (
		configPath  string
		showVersion bool
	)
	flags.StringVar(&configPath, "config", "", "Path to configuration file")
	flags.BoolVar(&showVersion, "version", false, "Print version and exit")
	if err := flags.Parse(args); err != nil {
		return 2
	}

	if showVersion {
		fmt.Fprintln(stdout, version)
		return 0
	}

	cfg, err := config.Load(configPath)
	logger := newLogger(cfg.Telemetry, stderr)
	if err != nil {
		logger.Error("failed to load config", slog.String("error", err.Error()))
		return 1
	}

	if err := runtime.New(cfg, logger, stdout).Start(ctx); err != nil {
		logger.Error(err.Error(), errorAttrs(err)...)
		return 1
	}
	logger.Info("shutdown complete")
	return 0
}

// errorAttrs lifts the offending path or device into its own field.
func errorAttrs(err error) []any {
	var (
		cfgErr *relay.ConfigurationError
		capErr *relay.CaptureError
		recErr *relay.RecognitionError
	)
	switch {
	case errors.As(err, &cfgErr):
		if cfgErr.Path != "" {
			return []any{slog.String("path", cfgErr.Path)}
		}
	case errors.As(err, &capErr):
		return []any{slog.String("device", capErr.Device)}
	case errors.As(err, &recErr):
		return []any{slog.String("recognizer", recErr.Recognizer)}
	}
	return nil
}

func newLogger(cfg config.TelemetryConfig, w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(cfg.LogLevel)}
	if strings.EqualFold(cfg.LogFormat, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
