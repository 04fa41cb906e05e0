// Copyright 2025 Certen Protocol
//
// Grounded on AuditR's cmd/auditr/version.go: a single command that prints
// the build-time Version var from root.go.

package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the carctl version",
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Println(Version)
		return nil
	},
}
