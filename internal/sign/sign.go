// Copyright 2025 Certen Protocol
//
// Sign - Ed25519 keypair generation, detached signing, and verification
// per RFC 8032.
//
// Signatures in this package are always over raw message bytes handed in by
// the caller (either the ASCII bytes of a chain hash, or canonicalized CAR
// body bytes) — there is no implicit prehashing beyond what Ed25519 already
// does internally.

package sign

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"fmt"
)

// SignError reports a problem with key material.
type SignError struct {
	Reason string
}

func (e *SignError) Error() string { return "sign: " + e.Reason }

// VerifyError reports why a signature failed to verify.
type VerifyError struct {
	Reason string
}

func (e *VerifyError) Error() string { return "verify: " + e.Reason }

// GenerateKeypair creates a new Ed25519 keypair and returns both halves
// base64-encoded: a 32-byte public key and the full 64-byte expanded
// private (secret) key.
func GenerateKeypair() (pubB64, secretB64 string, err error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return "", "", fmt.Errorf("generate ed25519 keypair: %w", err)
	}
	return base64.StdEncoding.EncodeToString(pub), base64.StdEncoding.EncodeToString(priv), nil
}

// SignDetached signs message with the base64-encoded 64-byte secret key and
// returns a base64-encoded 64-byte signature. Fails with SignError if
// secretB64 does not decode to exactly ed25519.PrivateKeySize bytes.
func SignDetached(message []byte, secretB64 string) (sigB64 string, err error) {
	secret, err := decodeSecret(secretB64)
	if err != nil {
		return "", err
	}
	sig := ed25519.Sign(secret, message)
	return base64.StdEncoding.EncodeToString(sig), nil
}

// VerifyDetached verifies a base64-encoded signature over message against a
// base64-encoded 32-byte public key. Returns (true, nil) only when the
// signature is cryptographically valid; any malformed input or signature
// mismatch returns (false, err).
func VerifyDetached(pubB64 string, message []byte, sigB64 string) (bool, error) {
	pub, err := decodePublic(pubB64)
	if err != nil {
		return false, err
	}
	sig, err := base64.StdEncoding.DecodeString(sigB64)
	if err != nil {
		return false, &VerifyError{Reason: fmt.Sprintf("bad signature base64: %v", err)}
	}
	if len(sig) != ed25519.SignatureSize {
		return false, &VerifyError{Reason: fmt.Sprintf("signature must be %d bytes, got %d", ed25519.SignatureSize, len(sig))}
	}
	if !ed25519.Verify(pub, message, sig) {
		return false, &VerifyError{Reason: "signature mismatch"}
	}
	return true, nil
}

// PublicKeyFromSecret derives the base64-encoded public key from a
// base64-encoded 64-byte secret key.
func PublicKeyFromSecret(secretB64 string) (string, error) {
	secret, err := decodeSecret(secretB64)
	if err != nil {
		return "", err
	}
	pub := secret.Public().(ed25519.PublicKey)
	return base64.StdEncoding.EncodeToString(pub), nil
}

func decodeSecret(secretB64 string) (ed25519.PrivateKey, error) {
	raw, err := base64.StdEncoding.DecodeString(secretB64)
	if err != nil {
		return nil, &SignError{Reason: fmt.Sprintf("bad secret key base64: %v", err)}
	}
	if len(raw) != ed25519.PrivateKeySize {
		return nil, &SignError{Reason: fmt.Sprintf("secret key must be %d bytes, got %d", ed25519.PrivateKeySize, len(raw))}
	}
	return ed25519.PrivateKey(raw), nil
}

func decodePublic(pubB64 string) (ed25519.PublicKey, error) {
	raw, err := base64.StdEncoding.DecodeString(pubB64)
	if err != nil {
		return nil, &VerifyError{Reason: fmt.Sprintf("bad public key base64: %v", err)}
	}
	if len(raw) != ed25519.PublicKeySize {
		return nil, &VerifyError{Reason: fmt.Sprintf("public key must be %d bytes, got %d", ed25519.PublicKeySize, len(raw))}
	}
	return ed25519.PublicKey(raw), nil
}
