// Relay accepts an image upload on POST /caption and forwards the raw bytes to
// the vision service, returning the service's response unchanged.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/Brownie44l1/caption-api/internal/config"
	"github.com/Brownie44l1/caption-api/internal/logging"
	"github.com/Brownie44l1/caption-api/internal/relay"
	"github.com/Brownie44l1/caption-api/internal/vision"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var configPath, listen string

	flagSet := pflag.NewFlagSet("relay", pflag.ContinueOnError)
	flagSet.StringVar(&configPath, "config", os.Getenv(config.EnvConfigPath), "path to YAML config file")
	flagSet.StringVar(&listen, "listen", "", "listen address (overrides relay.listen)")
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if listen != "" {
		cfg.Relay.Listen = listen
	}
	if err := cfg.ValidateRelay(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	logger := logging.New(os.Stderr, cfg.Log)

	// The relay always speaks the caption feature of Image Analysis 4.0
	// unless an explicit upstream URL is configured.
	client, err := vision.NewClient(vision.ClientConfig{
		Endpoint:   cfg.Vision.Endpoint,
		Key:        cfg.Vision.Key,
		Flavor:     vision.FlavorImageAnalysis,
		APIVersion: cfg.Vision.APIVersion,
		URL:        cfg.Relay.UpstreamURL,
		Timeout:    cfg.Vision.Timeout,
		Logger:     logger,
	})
	if err != nil {
		return fmt.Errorf("failed to create vision client: %w", err)
	}

	handler := relay.NewHandler(client, cfg.Relay.MaxUploadBytes, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("/caption", handler.Caption)

	server := &http.Server{
		Addr:              cfg.Relay.Listen,
		Handler:           logging.Middleware(logger, relay.CORS(mux)),
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.Info("relay starting",
		"listen", cfg.Relay.Listen,
		"upstream", client.URL(),
	)

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	select {
	case err := <-errCh:
		return fmt.Errorf("relay failed: %w", err)
	case <-ctx.Done():
	}
	logger.Info("received shutdown signal")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown error: %w", err)
	}
	logger.Info("shutdown complete")
	return nil
}
