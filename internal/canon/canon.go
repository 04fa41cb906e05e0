// Copyright 2025 Certen Protocol
//
// Canon - RFC 8785 JSON Canonicalization Scheme (JCS) and SHA-256 hashing
//
// This is the single source of truth for deterministic byte representation
// in the CAR engine. Every hash, chain link, and signature downstream of
// this package depends on canonicalize() producing byte-identical output
// across platforms and across re-marshalings of equivalent JSON.

package canon

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/gowebpki/jcs"
)

// CanonError reports a value that cannot be canonicalized.
type CanonError struct {
	Reason string
	Err    error
}

func (e *CanonError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("canon: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("canon: %s", e.Reason)
}

func (e *CanonError) Unwrap() error { return e.Err }

// Canonicalize serializes v to RFC 8785 canonical JSON bytes: object keys
// sorted by UTF-16 code unit, no insignificant whitespace, numbers in
// shortest ECMA-262 form, strings minimally escaped. Arrays preserve order.
//
// v may be a Go struct (via its json tags), a map[string]interface{}, or
// any value json.Marshal accepts. Non-finite numbers (NaN, +/-Inf) are
// rejected by json.Marshal itself and surface here as CanonError.
func Canonicalize(v interface{}) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, &CanonError{Reason: "marshal", Err: err}
	}
	out, err := jcs.Transform(raw)
	if err != nil {
		return nil, &CanonError{Reason: "invalid number or malformed JSON", Err: err}
	}
	return out, nil
}

// CanonicalizeRaw applies JCS to already-marshaled JSON bytes, preserving
// unknown fields exactly as they were encoded. Use this (rather than
// round-tripping through a typed struct) whenever the caller must not drop
// fields a typed view doesn't know about — e.g. re-canonicalizing a CAR body
// read off disk, where unknown top-level fields still participate in the ID
// and body signature (spec: "Unknown fields MUST be preserved verbatim").
func CanonicalizeRaw(raw []byte) ([]byte, error) {
	out, err := jcs.Transform(raw)
	if err != nil {
		return nil, &CanonError{Reason: "invalid number or malformed JSON", Err: err}
	}
	return out, nil
}

// SHA256 returns the 32-byte SHA-256 digest of data.
func SHA256(data []byte) [32]byte {
	return sha256.Sum256(data)
}

// SHA256Hex returns the lowercase hex SHA-256 digest of data.
func SHA256Hex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// JCSHash canonicalizes v and returns the lowercase hex SHA-256 digest of
// the canonical bytes: jcs_hash(v) = sha256_hex(canonicalize(v)).
func JCSHash(v interface{}) (string, error) {
	c, err := Canonicalize(v)
	if err != nil {
		return "", err
	}
	return SHA256Hex(c), nil
}

// JCSHashRaw is JCSHash for already-marshaled JSON bytes; see CanonicalizeRaw.
func JCSHashRaw(raw []byte) (string, error) {
	c, err := CanonicalizeRaw(raw)
	if err != nil {
		return "", err
	}
	return SHA256Hex(c), nil
}

// TaggedHex prefixes a hex digest with "sha256:", the optional tagged form
// used for provenance claim hashes and attachment references.
func TaggedHex(hexDigest string) string {
	return "sha256:" + hexDigest
}

// UntagHex strips an optional "sha256:" prefix, returning the bare hex
// digest unchanged if the prefix is absent.
func UntagHex(s string) string {
	const prefix = "sha256:"
	if len(s) > len(prefix) && s[:len(prefix)] == prefix {
		return s[len(prefix):]
	}
	return s
}
