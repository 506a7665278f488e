// Package config loads service configuration from the environment.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config captures the runtime configuration for the audio processing API.
type Config struct {
	// Address is the TCP address the HTTP server listens on.
	Address string `env:"ADDRESS" envDefault:":8080"`

	// UploadDir is where incoming files are written before processing.
	UploadDir string `env:"UPLOAD_DIR" envDefault:"uploads"`

	// OutputDir is where processed files are written. When empty, a fresh
	// temporary directory is created on startup and removed on shutdown.
	OutputDir string `env:"OUTPUT_DIR"`

	// MaxUploadSize caps the request body in bytes. Default 50 MiB.
	MaxUploadSize int `env:"MAX_UPLOAD_SIZE" envDefault:"52428800"`

	// CleanupInterval is how often the background sweep of old output files
	// runs. Zero disables the sweep.
	CleanupInterval time.Duration `env:"CLEANUP_INTERVAL" envDefault:"15m"`

	ReadTimeout  time.Duration `env:"READ_TIMEOUT" envDefault:"60s"`
	WriteTimeout time.Duration `env:"WRITE_TIMEOUT" envDefault:"120s"`

	EnableCORS bool `env:"ENABLE_CORS" envDefault:"true"`
}

// Load parses the environment into a Config.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}
	return cfg, nil
}
