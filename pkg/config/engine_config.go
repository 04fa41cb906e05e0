// Copyright 2025 Certen Protocol
//
// EngineConfig - YAML-driven configuration for the parts of carctl that
// operators hand-edit rather than pass as flags: archive directory,
// default strictness, attestation peer list.
//
// Adapted from the teacher's pkg/config/anchor_config.go: the
// read-file/substitute-env-vars/unmarshal-yaml/apply-defaults pipeline
// survives unchanged; the settings themselves are trimmed from a
// multi-chain anchor/governance/consensus configuration down to what a CAR
// engine operator needs to hand-edit.

package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// EngineConfig is the YAML shape of a carctl engine config file.
type EngineConfig struct {
	// ArchiveDir is the directory `carctl bundle` writes to when --out is
	// not given. `carctl verify --all` does not use it; it always takes the
	// directory as its argument.
	ArchiveDir string `yaml:"archive_dir" mapstructure:"archive_dir"`

	// Strict upgrades LEGACY_NO_BODY_SIG warnings to failures by default.
	Strict bool `yaml:"strict" mapstructure:"strict"`

	// AttestationPeers lists co-attestation validator endpoints for
	// `attestation.CollectQuorum` (see pkg/attestation), in the same
	// comma-separated-URL shape the teacher's parseAttestationPeers
	// helper parses from an environment variable.
	AttestationPeers []string `yaml:"attestation_peers" mapstructure:"attestation_peers"`

	// AttestationRequired overrides the default quorum size
	// (len(trustedKeys)*2/3+1) when non-zero.
	AttestationRequired int `yaml:"attestation_required" mapstructure:"attestation_required"`
}

// envVarPattern matches ${VAR_NAME} or ${VAR_NAME:-default}.
var envVarPattern = regexp.MustCompile(`\$\{([^}:]+)(:-([^}]*))?\}`)

// LoadEngineConfig reads path, substitutes ${VAR} / ${VAR:-default}
// environment references, then parses the result as YAML.
func LoadEngineConfig(path string) (*EngineConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read engine config %s: %w", path, err)
	}

	expanded := substituteEnvVars(string(data))

	var cfg EngineConfig
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parse engine config %s: %w", path, err)
	}
	cfg.applyDefaults()
	return &cfg, nil
}

func (c *EngineConfig) applyDefaults() {
	if c.ArchiveDir == "" {
		c.ArchiveDir = "."
	}
}

// Validate checks EngineConfig invariants that YAML parsing alone can't
// enforce.
func (c *EngineConfig) Validate() error {
	if c.AttestationRequired < 0 {
		return fmt.Errorf("attestation_required must not be negative")
	}
	if c.AttestationRequired > len(c.AttestationPeers) && len(c.AttestationPeers) > 0 {
		return fmt.Errorf("attestation_required (%d) exceeds configured peer count (%d)", c.AttestationRequired, len(c.AttestationPeers))
	}
	return nil
}

func substituteEnvVars(content string) string {
	return envVarPattern.ReplaceAllStringFunc(content, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		if len(groups) < 2 {
			return match
		}
		varName := groups[1]
		defaultValue := ""
		if len(groups) >= 4 {
			defaultValue = groups[3]
		}
		if value := os.Getenv(varName); value != "" {
			return value
		}
		return defaultValue
	})
}

// ParseAttestationPeers parses a comma-separated peer URL list, the same
// format the teacher's config.go reads from an ATTESTATION_PEERS
// environment variable — kept here so EngineConfig and an env-var override
// agree on syntax.
func ParseAttestationPeers(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
