// Copyright 2025 Certen Protocol
//
// Keypair file persistence - CLI convenience only. The core signing
// operations in sign.go never touch the filesystem; this exists so carctl
// can save/load keys between invocations.

package sign

import (
	"encoding/pem"
	"fmt"
	"os"
)

const (
	pemBlockPublic = "CAR ENGINE ED25519 PUBLIC KEY"
	pemBlockSecret = "CAR ENGINE ED25519 SECRET KEY"
)

// SaveKeypairFile writes pub and secret as two PEM blocks to path, creating
// or truncating it with 0600 permissions.
func SaveKeypairFile(path, pubB64, secretB64 string) error {
	pubBlock := &pem.Block{Type: pemBlockPublic, Bytes: []byte(pubB64)}
	secretBlock := &pem.Block{Type: pemBlockSecret, Bytes: []byte(secretB64)}

	var out []byte
	out = append(out, pem.EncodeToMemory(pubBlock)...)
	out = append(out, pem.EncodeToMemory(secretBlock)...)

	if err := os.WriteFile(path, out, 0o600); err != nil {
		return fmt.Errorf("write keypair file: %w", err)
	}
	return nil
}

// LoadKeypairFile reads a keypair previously written by SaveKeypairFile.
func LoadKeypairFile(path string) (pubB64, secretB64 string, err error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", "", fmt.Errorf("read keypair file: %w", err)
	}

	rest := data
	for {
		var block *pem.Block
		block, rest = pem.Decode(rest)
		if block == nil {
			break
		}
		switch block.Type {
		case pemBlockPublic:
			pubB64 = string(block.Bytes)
		case pemBlockSecret:
			secretB64 = string(block.Bytes)
		}
	}

	if pubB64 == "" || secretB64 == "" {
		return "", "", fmt.Errorf("keypair file %s missing public or secret PEM block", path)
	}
	return pubB64, secretB64, nil
}
