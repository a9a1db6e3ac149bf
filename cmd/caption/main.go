// Caption reads one image, asks the vision service to describe it and prints
// the first caption. It takes no arguments: the endpoint, key and image path
// come from the environment (VISION_ENDPOINT, VISION_KEY, CAPTION_IMAGE_PATH)
// or the YAML file named by CAPTION_CONFIG.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/Brownie44l1/caption-api/internal/config"
	"github.com/Brownie44l1/caption-api/internal/imageprep"
	"github.com/Brownie44l1/caption-api/internal/logging"
	"github.com/Brownie44l1/caption-api/internal/vision"
)

const noCaptionMessage = "No caption found."

type analyzer interface {
	Analyze(ctx context.Context, image []byte) (*vision.Analysis, error)
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load(os.Getenv(config.EnvConfigPath))
	if err != nil {
		return err
	}
	if err := cfg.ValidateVision(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	// stdout carries the caption; keep diagnostics quiet on stderr.
	logConfig := cfg.Log
	if logging.ParseLevel(logConfig.Level) < logging.ParseLevel("warn") {
		logConfig.Level = "warn"
	}
	logger := logging.New(os.Stderr, logConfig)

	client, err := vision.NewClient(vision.ClientConfig{
		Endpoint:   cfg.Vision.Endpoint,
		Key:        cfg.Vision.Key,
		Flavor:     vision.Flavor(cfg.CLI.Flavor),
		APIVersion: cfg.Vision.APIVersion,
		Language:   cfg.Vision.Language,
		Timeout:    cfg.Vision.Timeout,
		Logger:     logger,
	})
	if err != nil {
		return fmt.Errorf("failed to create vision client: %w", err)
	}

	printCaption(context.Background(), os.Stdout, client, cfg.CLI.ImagePath, cfg.Vision.MaxDimension)
	return nil
}

// printCaption writes the outcome of one captioning attempt to out. Every
// failure is reported there too; none of them is fatal to the process.
func printCaption(ctx context.Context, out io.Writer, client analyzer, imagePath string, maxDimension uint) {
	image, err := readImage(imagePath)
	if err != nil {
		fmt.Fprintf(out, "Error: %v\n", err)
		return
	}
	if prepared, err := imageprep.Fit(image, maxDimension); err == nil {
		image = prepared
	}

	analysis, err := client.Analyze(ctx, image)
	if err != nil {
		var statusErr *vision.StatusError
		if errors.As(err, &statusErr) {
			fmt.Fprintf(out, "Error: %d\n", statusErr.StatusCode)
			fmt.Fprintln(out, string(statusErr.Body))
			return
		}
		fmt.Fprintf(out, "Error: %v\n", err)
		return
	}

	caption := analysis.Caption()
	if caption == nil {
		fmt.Fprintln(out, noCaptionMessage)
		return
	}
	fmt.Fprintf(out, "Generated Caption: %s\n", caption.Text)
}

func readImage(path string) ([]byte, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open image: %w", err)
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("failed to read image: %w", err)
	}
	return data, nil
}
