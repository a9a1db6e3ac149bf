// Package config builds the configuration object each program constructs
// once at startup.
//
// Values come from three layers, later ones winning: built-in defaults, an
// optional YAML file, and environment variables. The vision key is never read
// from the YAML file; it comes from VISION_KEY or from the file named by
// vision.key_file / VISION_KEY_FILE.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvConfigPath names the YAML file when no --config flag is given.
const EnvConfigPath = "CAPTION_CONFIG"

type Config struct {
	Vision VisionConfig `yaml:"vision"`
	Server ServerConfig `yaml:"server"`
	Relay  RelayConfig  `yaml:"relay"`
	CLI    CLIConfig    `yaml:"cli"`
	Log    LogConfig    `yaml:"log"`
}

type VisionConfig struct {
	// Endpoint is the Azure AI Vision resource URL.
	Endpoint string `yaml:"endpoint"`

	// KeyFile holds the subscription key on its first line.
	KeyFile string `yaml:"key_file"`

	// Key is filled from the environment or KeyFile, never from YAML.
	Key string `yaml:"-"`

	// Flavor selects the analyze API for the web app: image-analysis or describe.
	Flavor string `yaml:"flavor"`

	APIVersion    string        `yaml:"api_version"`
	GenderNeutral bool          `yaml:"gender_neutral"`
	Language      string        `yaml:"language"`
	Timeout       time.Duration `yaml:"timeout"`

	// MaxDimension downscales larger images before upload. Zero disables.
	MaxDimension uint `yaml:"max_dimension"`
}

type ServerConfig struct {
	Listen         string          `yaml:"listen"`
	UploadDir      string          `yaml:"upload_dir"`
	MaxUploadBytes int64           `yaml:"max_upload_bytes"`
	Retention      RetentionConfig `yaml:"retention"`
}

type RetentionConfig struct {
	MaxFiles int           `yaml:"max_files"`
	MaxAge   time.Duration `yaml:"max_age"`
}

type RelayConfig struct {
	Listen string `yaml:"listen"`

	// UpstreamURL is posted to verbatim. Empty derives the Image Analysis
	// caption URL from vision.endpoint.
	UpstreamURL    string `yaml:"upstream_url"`
	MaxUploadBytes int64  `yaml:"max_upload_bytes"`
}

type CLIConfig struct {
	ImagePath string `yaml:"image_path"`

	// Flavor for the command-line script; describe by default.
	Flavor string `yaml:"flavor"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Vision: VisionConfig{
			Flavor:        "image-analysis",
			GenderNeutral: true,
		},
		Server: ServerConfig{
			Listen:         ":8080",
			UploadDir:      "static/uploads",
			MaxUploadBytes: 10 << 20,
		},
		Relay: RelayConfig{
			Listen:         ":3000",
			MaxUploadBytes: 10 << 20,
		},
		CLI: CLIConfig{
			ImagePath: "image.png",
			Flavor:    "describe",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads path over the defaults (path may be empty) and applies the
// environment on top.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	set := func(name string, target *string) {
		if value, ok := lookup(name); ok && value != "" {
			*target = value
		}
	}
	set("VISION_ENDPOINT", &c.Vision.Endpoint)
	set("VISION_KEY_FILE", &c.Vision.KeyFile)
	set("UPLOAD_DIR", &c.Server.UploadDir)
	set("RELAY_UPSTREAM_URL", &c.Relay.UpstreamURL)
	set("CAPTION_IMAGE_PATH", &c.CLI.ImagePath)
	set("LOG_LEVEL", &c.Log.Level)

	if port, ok := lookup("PORT"); ok && port != "" {
		c.Server.Listen = ":" + port
		c.Relay.Listen = ":" + port
	}

	if key, ok := lookup("VISION_KEY"); ok && key != "" {
		c.Vision.Key = key
		return nil
	}
	if c.Vision.KeyFile != "" {
		data, err := os.ReadFile(c.Vision.KeyFile)
		if err != nil {
			return fmt.Errorf("failed to read vision key file: %w", err)
		}
		c.Vision.Key = strings.TrimSpace(string(data))
	}
	return nil
}

// ValidateVision checks that a caption-requesting program can reach the service.
func (c *Config) ValidateVision() error {
	var errs []error
	if c.Vision.Endpoint == "" {
		errs = append(errs, errors.New("vision endpoint is required (VISION_ENDPOINT or vision.endpoint)"))
	}
	if c.Vision.Key == "" {
		errs = append(errs, errors.New("vision key is required (VISION_KEY or VISION_KEY_FILE)"))
	}
	return errors.Join(errs...)
}

// ValidateRelay checks the relay has an upstream and a key.
func (c *Config) ValidateRelay() error {
	var errs []error
	if c.Relay.UpstreamURL == "" && c.Vision.Endpoint == "" {
		errs = append(errs, errors.New("relay upstream is required (RELAY_UPSTREAM_URL or VISION_ENDPOINT)"))
	}
	if c.Vision.Key == "" {
		errs = append(errs, errors.New("vision key is required (VISION_KEY or VISION_KEY_FILE)"))
	}
	return errors.Join(errs...)
}

// ValidateServer checks the web app settings.
func (c *Config) ValidateServer() error {
	if err := c.ValidateVision(); err != nil {
		return err
	}
	if c.Server.UploadDir == "" {
		return errors.New("server.upload_dir is required")
	}
	if c.Server.MaxUploadBytes <= 0 {
		return fmt.Errorf("server.max_upload_bytes must be positive, got %d", c.Server.MaxUploadBytes)
	}
	return nil
}
