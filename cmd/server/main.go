package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kingpin/v2"
	"go.uber.org/zap"

	"github.com/eugenenazirov/appkit/internal/application"
	"github.com/eugenenazirov/appkit/internal/config"
	"github.com/eugenenazirov/appkit/internal/logging"
)

var signalNotify = signal.Notify

func main() {
	overrides, err := parseFlags(os.Args[1:])
	kingpin.FatalIfError(err, "invalid arguments")

	cfg, err := config.Load(overrides)
	if err != nil {
		panic(fmt.Sprintf("failed to load configuration: %v", err))
	}

	logger, err := logging.NewZap(cfg.LogLevel)
	if err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}
	defer func() {
		_ = logger.Sync()
	}()

	app, err := application.New(context.Background(), cfg, logger)
	if err != nil {
		logger.Fatal("failed to initialize application", zap.Error(err))
	}

	if err := app.Start(); err != nil {
		logger.Fatal("failed to start server", zap.Error(err))
	}

	shutdown(app.Server(), cfg.ShutdownGracePeriod, logger)

	if err := app.Close(); err != nil {
		logger.Warn("failed to release storage", zap.Error(err))
	}
}

// parseFlags maps command-line flags onto configuration overrides. Flags left
// unset do not override other sources.
func parseFlags(args []string) (*config.CLIOverrides, error) {
	overrides := &config.CLIOverrides{}
	values := &overrides.Values

	kingpinApp := kingpin.New("appkit-server", "Runtime settings and logger configuration service")
	kingpinApp.Flag("config", "Path to YAML configuration file").StringVar(&overrides.ConfigFile)
	kingpinApp.Flag("env-file", "Path to a .env file loaded before reading the environment").StringVar(&overrides.EnvFile)
	kingpinApp.Flag("port", "HTTP port exposed by the service").StringVar(&values.Port)
	kingpinApp.Flag("log-level", "Service log level (debug, info, warn, error)").StringVar(&values.LogLevel)
	kingpinApp.Flag("settings-name", "Name of the settings document").StringVar(&values.Settings.Name)
	kingpinApp.Flag("settings-prefix", "Environment variable prefix for settings keys").StringVar(&values.Settings.Prefix)
	kingpinApp.Flag("settings-allow-extra", "Let every prefixed variable add a settings key").BoolVar(&values.Settings.AllowExtra)
	kingpinApp.Flag("settings-storage", "Settings storage backend").EnumVar(&values.Settings.Storage, "memory", "file", "redis")
	kingpinApp.Flag("settings-file", "Settings file for the file backend").StringVar(&values.Settings.File)
	kingpinApp.Flag("logging-storage", "Logger registry storage backend").EnumVar(&values.Logging.StorageType, "memory", "file", "redis")
	kingpinApp.Flag("logging-config-file", "Logger registry file for the file backend").StringVar(&values.Logging.ConfigFile)
	kingpinApp.Flag("redis-url", "Redis connection URL").StringVar(&values.Redis.URL)
	kingpinApp.Flag("rate-limit-rps", "Requests per second allowed per client").Float64Var(&values.RateLimit.RPS)
	kingpinApp.Flag("rate-limit-burst", "Burst capacity of the rate limiter").IntVar(&values.RateLimit.Burst)

	if _, err := kingpinApp.Parse(args); err != nil {
		return nil, err
	}
	return overrides, nil
}

func shutdown(server *http.Server, timeout time.Duration, logger *zap.Logger) {
	quit := make(chan os.Signal, 1)
	signalNotify(quit, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	<-quit
	logger.Info("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Warn("graceful shutdown failed", zap.Error(err))
		if closeErr := server.Close(); closeErr != nil {
			logger.Error("forced close failed", zap.Error(closeErr))
		}
	}
}
