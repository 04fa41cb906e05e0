// Copyright 2025 Certen Protocol
package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/certen/car-engine/internal/sign"
)

var keygenFlagOut string

var keygenCmd = &cobra.Command{
	Use:   "keygen",
	Short: "Generate an Ed25519 signing keypair",
	RunE: func(cmd *cobra.Command, args []string) error {
		pub, secret, err := sign.GenerateKeypair()
		if err != nil {
			return fmt.Errorf("generate keypair: %w", err)
		}
		if keygenFlagOut == "" {
			fmt.Printf("public:\n%s\nsecret:\n%s\n", pub, secret)
			return nil
		}
		if err := sign.SaveKeypairFile(keygenFlagOut, pub, secret); err != nil {
			return fmt.Errorf("save keypair: %w", err)
		}
		fmt.Printf("wrote keypair to %s\npublic key: %s\n", keygenFlagOut, pub)
		return nil
	},
}

func init() {
	keygenCmd.Flags().StringVar(&keygenFlagOut, "out", "", "PEM file to write the keypair to (omit to print both keys to stdout)")
}
