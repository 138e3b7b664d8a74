// Command server runs the Iron Condor demo backend.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	_ "time/tzdata" // trading hours need America/New_York on minimal images

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/eddiefleurent/scranton_condor/internal/api"
	"github.com/eddiefleurent/scranton_condor/internal/app"
	"github.com/eddiefleurent/scranton_condor/internal/config"
	"github.com/eddiefleurent/scranton_condor/internal/logging"
)

func main() {
	var configPath, envPath string
	flag.StringVar(&configPath, "config", "config.yaml", "Path to configuration file")
	flag.StringVar(&envPath, "env", ".env", "Path to dotenv file (optional)")
	flag.Parse()

	// Variables from .env feed ${VAR} expansion in the config file
	if err := godotenv.Load(envPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "Failed to load %s: %v\n", envPath, err)
		os.Exit(1)
	}

	cfg, usedDefaults, err := app.LoadConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New(cfg.Environment.LogLevel, cfg.Environment.LogFormat)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	if usedDefaults {
		logger.Warnf("Config file %s not found, using defaults", configPath)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.WithError(err).Error("Server error")
		stop()
		os.Exit(1)
	}
	logger.Info("Server stopped successfully")
}

// run serves until ctx is canceled, then drains in-flight requests.
func run(ctx context.Context, cfg *config.Config, logger *logrus.Logger) error {
	mgr, err := app.NewManager(cfg, nil, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := mgr.Shutdown(); err != nil {
			logger.WithError(err).Warn("Failed to close trade journal")
		}
	}()

	srv := api.NewServer(api.Config{
		Addr:           cfg.Addr(),
		AllowedOrigins: cfg.Server.AllowedOrigins,
	}, mgr, logger)

	logBanner(logger, cfg, srv.Addr())

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("api server: %w", err)
		}
		return nil
	case <-ctx.Done():
		logger.Info("Shutdown signal received, stopping server...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.GetShutdownTimeout())
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown: %w", err)
	}
	return <-errCh
}

func logBanner(logger *logrus.Logger, cfg *config.Config, addr string) {
	logger.Info("Starting Iron Condor demo server")
	if cfg.UseMockData() {
		logger.Info("Market data: mock random walk")
	} else {
		logger.Infof("Market data: Tradier (sandbox=%t)", cfg.Broker.Sandbox)
	}
	if cfg.Storage.JournalPath != "" {
		logger.Infof("Trade journal: %s", cfg.Storage.JournalPath)
	}
	logger.Infof("Listening on http://%s/api", addr)
	logger.Info("Positions are simulated. No orders are sent to any broker.")
}
