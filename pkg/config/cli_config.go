// Copyright 2025 Certen Protocol
//
// CliConfig - flag/config-file/env precedence layer for the carctl binary.
//
// Grounded on AuditR's cmd/auditr/root.go PersistentPreRunE, which reads a
// YAML file into viper, then unmarshals into a typed struct — here that
// struct composes the YAML-driven EngineConfig fields with CLI-only
// concerns (logging, metrics) that don't belong in a hand-edited engine
// config file.

package config

import (
	"fmt"

	"github.com/spf13/viper"
)

// LoggingCfg controls pkg/logging.
type LoggingCfg struct {
	Level   string `mapstructure:"level"`
	File    string `mapstructure:"file"`
	DevMode bool   `mapstructure:"dev_mode"`
}

// MetricsCfg controls the optional Prometheus listener.
type MetricsCfg struct {
	ListenAddr string `mapstructure:"listen_addr"`
	Enabled    bool   `mapstructure:"enabled"`
}

// SigningCfg names a default key for `carctl bundle`.
type SigningCfg struct {
	KeyPath string `mapstructure:"key_path"`
}

// CliConfig is carctl's complete configuration, loaded from (in ascending
// precedence) defaults, a YAML config file, environment variables prefixed
// CARCTL_, then command-line flags.
type CliConfig struct {
	Logging LoggingCfg `mapstructure:"logging"`
	Metrics MetricsCfg `mapstructure:"metrics"`
	Signing SigningCfg `mapstructure:"signing"`
	Engine  EngineConfig `mapstructure:"engine"`
}

var currentCLI *CliConfig

// LoadCLI populates the global CliConfig from v.
func LoadCLI(v *viper.Viper) error {
	v.SetDefault("logging.level", "info")
	v.SetDefault("metrics.listen_addr", ":9090")
	v.SetDefault("metrics.enabled", false)
	v.SetDefault("engine.archive_dir", ".")
	v.SetDefault("engine.strict", false)

	v.SetEnvPrefix("CARCTL")
	v.AutomaticEnv()

	var c CliConfig
	if err := v.Unmarshal(&c); err != nil {
		return fmt.Errorf("unmarshal cli config: %w", err)
	}
	currentCLI = &c
	return nil
}

// GetCLI returns the loaded CliConfig, or a defaulted zero-value CliConfig
// if LoadCLI was never called.
func GetCLI() *CliConfig {
	if currentCLI == nil {
		currentCLI = &CliConfig{
			Logging: LoggingCfg{Level: "info"},
			Metrics: MetricsCfg{ListenAddr: ":9090"},
			Engine:  EngineConfig{ArchiveDir: "."},
		}
	}
	return currentCLI
}
