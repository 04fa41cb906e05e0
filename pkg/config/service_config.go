// Copyright 2025 Certen Protocol
//
// ServiceConfig - environment-variable configuration, for running carctl as
// a long-lived co-attestation peer (`carctl serve`) rather than a one-shot
// CLI invocation.
//
// Adapted from the teacher's pkg/config/config.go: same getEnv/getEnvBool
// helper shape and the same "Load reads from environment, Validate checks
// required fields" split, trimmed to the CAR engine's actual surface —
// no Accumulate/Ethereum/CometBFT network endpoints, no database URL.

package config

import (
	"fmt"
	"os"
	"strconv"
)

// ServiceConfig holds the environment-variable-driven settings that
// `carctl serve` reads, as opposed to CliConfig, which layers flags and a
// YAML file on top via viper for interactive CLI invocations.
type ServiceConfig struct {
	// SigningKeyPath points at a PEM keypair file (see internal/sign
	// SaveKeypairFile/LoadKeypairFile). Optional — without it, `carctl
	// serve` declines every attestation request.
	SigningKeyPath string

	// DataDir is the archive.Store directory this service watches/serves.
	DataDir string

	// LogLevel is read from CAR_LOG_LEVEL. `carctl serve` does not apply
	// it: its logger is the one root.go sets up from CliConfig.
	LogLevel string

	// MetricsAddr is the listen address for the Prometheus /metrics
	// endpoint, empty to disable.
	MetricsAddr string

	// StrictVerification is read from CAR_STRICT_VERIFICATION. No command
	// reads this field; `carctl verify` takes strictness from --strict and
	// engine.strict.
	StrictVerification bool
}

// Load reads ServiceConfig from environment variables:
//
//	CAR_SIGNING_KEY_PATH, CAR_DATA_DIR, CAR_LOG_LEVEL, CAR_METRICS_ADDR,
//	CAR_STRICT_VERIFICATION
//
// All have safe defaults except SigningKeyPath, which is intentionally
// left empty rather than guessed at — callers needing it must set it.
func Load() (*ServiceConfig, error) {
	cfg := &ServiceConfig{
		SigningKeyPath:     getEnv("CAR_SIGNING_KEY_PATH", ""),
		DataDir:            getEnv("CAR_DATA_DIR", "."),
		LogLevel:           getEnv("CAR_LOG_LEVEL", "info"),
		MetricsAddr:        getEnv("CAR_METRICS_ADDR", ""),
		StrictVerification: getEnvBool("CAR_STRICT_VERIFICATION", false),
	}
	return cfg, nil
}

// Validate checks that fields required for production use are present.
func (c *ServiceConfig) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("CAR_DATA_DIR must not be empty")
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}
