// Copyright 2025 Certen Protocol
//
// Grounded on AuditR's cmd/auditr/root.go: a persistent pre-run hook loads
// viper config, then initializes the logger, before any subcommand's RunE
// executes.

package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/certen/car-engine/pkg/config"
	"github.com/certen/car-engine/pkg/logging"
	"github.com/certen/car-engine/pkg/metrics"
)

var (
	cfgFile     string
	metricsAddr string

	// Version is overridden at build time via -ldflags.
	Version = "v0.1.0-dev"

	rootCmd = &cobra.Command{
		Use:   "carctl",
		Short: "carctl - Content-Addressable Receipt engine CLI",
		Long:  "carctl bundles, verifies, and inspects CAR (Content-Addressable Receipt) proof archives.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			v := viper.GetViper()
			if cfgFile != "" {
				v.SetConfigFile(cfgFile)
			} else if env := os.Getenv("CARCTL_CONFIG"); env != "" {
				v.SetConfigFile(env)
			} else {
				v.SetConfigFile("carctl.yaml")
			}
			if err := v.ReadInConfig(); err != nil {
				if cfgFile != "" {
					return fmt.Errorf("read config %s: %w", cfgFile, err)
				}
				// No config file is fine for ad hoc invocations; defaults
				// and flags still apply.
			}
			if err := config.LoadCLI(v); err != nil {
				return err
			}

			cliCfg := config.GetCLI()
			if err := logging.Init(logging.Config{
				Level:       cliCfg.Logging.Level,
				File:        cliCfg.Logging.File,
				Development: cliCfg.Logging.DevMode,
			}); err != nil {
				return fmt.Errorf("init logger: %w", err)
			}

			if metricsAddr != "" {
				cliCfg.Metrics.Enabled = true
				cliCfg.Metrics.ListenAddr = metricsAddr
			}
			if cliCfg.Metrics.Enabled {
				if err := metrics.Serve(cliCfg.Metrics.ListenAddr); err != nil {
					return fmt.Errorf("start metrics listener on %s: %w", cliCfg.Metrics.ListenAddr, err)
				}
			}
			return nil
		},
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./carctl.yaml)")
	rootCmd.PersistentFlags().StringVar(&metricsAddr, "metrics-addr", "", "expose Prometheus metrics at http://<addr>/metrics (e.g. :9090)")
	rootCmd.AddCommand(verifyCmd)
	rootCmd.AddCommand(bundleCmd)
	rootCmd.AddCommand(keygenCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(serveCmd)
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(3)
	}
}
