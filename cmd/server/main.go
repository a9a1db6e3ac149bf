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
	"github.com/Brownie44l1/caption-api/internal/handlers"
	"github.com/Brownie44l1/caption-api/internal/logging"
	"github.com/Brownie44l1/caption-api/internal/uploads"
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

	flagSet := pflag.NewFlagSet("server", pflag.ContinueOnError)
	flagSet.StringVar(&configPath, "config", os.Getenv(config.EnvConfigPath), "path to YAML config file")
	flagSet.StringVar(&listen, "listen", "", "listen address (overrides server.listen and PORT)")
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
		cfg.Server.Listen = listen
	}
	if err := cfg.ValidateServer(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	logger := logging.New(os.Stderr, cfg.Log)

	client, err := vision.NewClient(vision.ClientConfig{
		Endpoint:      cfg.Vision.Endpoint,
		Key:           cfg.Vision.Key,
		Flavor:        vision.Flavor(cfg.Vision.Flavor),
		APIVersion:    cfg.Vision.APIVersion,
		GenderNeutral: cfg.Vision.GenderNeutral,
		Language:      cfg.Vision.Language,
		Timeout:       cfg.Vision.Timeout,
		Logger:        logger,
	})
	if err != nil {
		return fmt.Errorf("failed to create vision client: %w", err)
	}

	store, err := uploads.NewStore(uploads.StoreConfig{
		Dir:      cfg.Server.UploadDir,
		MaxFiles: cfg.Server.Retention.MaxFiles,
		MaxAge:   cfg.Server.Retention.MaxAge,
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	handler := handlers.NewHandler(client, store, handlers.Options{
		MaxUploadBytes: cfg.Server.MaxUploadBytes,
		MaxDimension:   cfg.Vision.MaxDimension,
		Logger:         logger,
	})

	mux := http.NewServeMux()
	mux.HandleFunc("/{$}", handler.Index)

	server := &http.Server{
		Addr:              cfg.Server.Listen,
		Handler:           logging.Middleware(logger, mux),
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.Info("server starting",
		"listen", cfg.Server.Listen,
		"upload_dir", store.Dir(),
		"analyze_url", client.URL(),
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
		return fmt.Errorf("server failed: %w", err)
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
