package config

import (
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Load resolves and validates the process configuration.
//
// Sequence:
//  1. Pin the process timezone to UTC. All eligibility arithmetic assumes
//     UTC calendar days; a host-local zone would skew day boundaries.
//  2. Load a .env file if present (non-fatal when missing).
//  3. Populate the Config struct from envconfig tags.
//  4. Validate with go-playground/validator; the first failure aborts.
func Load() (*Config, error) {
	time.Local = time.UTC

	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("loading .env file: %w", err)
	}

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("processing environment: %w", err)
	}

	if err := validator.New().Struct(&cfg); err != nil {
		return nil, fmt.Errorf("validating configuration: %w", err)
	}

	return &cfg, nil
}

// MustLoad is the entrypoint helper: it loads the configuration and panics
// on failure. Startup is the one place where panicking is correct -- a
// worker must never begin a run with a missing credential.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(fmt.Sprintf("configuration error: %v", err))
	}
	return cfg
}
