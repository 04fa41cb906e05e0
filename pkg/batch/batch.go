// Copyright 2025 Certen Protocol
//
// Batch Manifest - a small signed document binding a set of CAR IDs
// together via a pairwise Merkle reduction, for orchestrators that produce
// many CARs for one workflow run.
//
// The root computation is adapted from the teacher's
// pkg/commitment.ComputeGovernanceMerkleRoot pairwise-reduction (odd node
// promoted, not duplicated); canonicalization and hashing of each CAR ID and
// of the manifest itself go through internal/canon rather than
// commitment.go's simplified CanonicalizeJSON, which only sorts map keys and
// doesn't implement RFC 8785 number/string formatting — this module has one
// canonicalization rule, and every signed artifact uses it.

package batch

import (
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/certen/car-engine/internal/canon"
)

// Manifest binds a set of CAR IDs together without merging their contents.
// Verifying a Manifest's signature and root does not verify the CARs it
// references — a holder must still run the full Verifier pipeline on each.
type Manifest struct {
	ManifestID      string    `json:"manifest_id"`
	CarIDs          []string  `json:"car_ids"`
	Root            string    `json:"root"` // "sha256:<hex>"
	CreatedAt       time.Time `json:"created_at"`
	SignerPublicKey string    `json:"signer_public_key"`
	Signature       string    `json:"signature,omitempty"`
}

// manifestUnsigned is exactly Manifest minus Signature — the payload the
// manifest signature covers.
type manifestUnsigned struct {
	ManifestID      string    `json:"manifest_id"`
	CarIDs          []string  `json:"car_ids"`
	Root            string    `json:"root"`
	CreatedAt       time.Time `json:"created_at"`
	SignerPublicKey string    `json:"signer_public_key"`
}

// ComputeRoot canonicalizes and hashes each CAR ID, then pairwise-reduces
// the hashes into a single root: an odd trailing node is promoted unchanged
// rather than self-paired, matching pkg/merkle's attachment index
// convention so the two Merkle constructions in this module agree on what
// "the root of an odd-sized set" means.
func ComputeRoot(carIDs []string) (string, error) {
	if len(carIDs) == 0 {
		return "", fmt.Errorf("batch: cannot compute a root over zero car ids")
	}

	level := make([][32]byte, len(carIDs))
	for i, id := range carIDs {
		h, err := canon.JCSHash(id)
		if err != nil {
			return "", fmt.Errorf("batch: hash car id %d: %w", i, err)
		}
		digest, err := hex.DecodeString(h)
		if err != nil {
			return "", fmt.Errorf("batch: decode car id %d hash: %w", i, err)
		}
		copy(level[i][:], digest)
	}

	for len(level) > 1 {
		next := make([][32]byte, 0, (len(level)+1)/2)
		for i := 0; i < len(level); i += 2 {
			if i+1 < len(level) {
				next = append(next, hashPair(level[i], level[i+1]))
			} else {
				next = append(next, level[i])
			}
		}
		level = next
	}

	return canon.TaggedHex(hex.EncodeToString(level[0][:])), nil
}

// NewManifest computes a root over carIDs, assembles a Manifest, and signs
// JCS(Manifest minus signature) with secret.
func NewManifest(carIDs []string, secret ed25519.PrivateKey) (*Manifest, error) {
	root, err := ComputeRoot(carIDs)
	if err != nil {
		return nil, err
	}

	unsigned := manifestUnsigned{
		ManifestID:      "batch:" + uuid.NewString(),
		CarIDs:          carIDs,
		Root:            root,
		CreatedAt:       time.Now().UTC(),
		SignerPublicKey: base64.StdEncoding.EncodeToString(secret.Public().(ed25519.PublicKey)),
	}

	payload, err := canon.Canonicalize(unsigned)
	if err != nil {
		return nil, fmt.Errorf("batch: canonicalize manifest: %w", err)
	}
	sig := ed25519.Sign(secret, payload)

	return &Manifest{
		ManifestID:      unsigned.ManifestID,
		CarIDs:          unsigned.CarIDs,
		Root:            unsigned.Root,
		CreatedAt:       unsigned.CreatedAt,
		SignerPublicKey: unsigned.SignerPublicKey,
		Signature:       base64.StdEncoding.EncodeToString(sig),
	}, nil
}

// VerifyManifest recomputes the root from m.CarIDs and checks the signature
// over JCS(Manifest minus signature). Returns a descriptive error on any
// mismatch; nil means the manifest is internally consistent.
func VerifyManifest(m *Manifest) error {
	wantRoot, err := ComputeRoot(m.CarIDs)
	if err != nil {
		return fmt.Errorf("batch: recompute root: %w", err)
	}
	if wantRoot != m.Root {
		return fmt.Errorf("batch: root mismatch: manifest declares %s, recomputed %s", m.Root, wantRoot)
	}

	unsigned := manifestUnsigned{
		ManifestID:      m.ManifestID,
		CarIDs:          m.CarIDs,
		Root:            m.Root,
		CreatedAt:       m.CreatedAt,
		SignerPublicKey: m.SignerPublicKey,
	}
	payload, err := canon.Canonicalize(unsigned)
	if err != nil {
		return fmt.Errorf("batch: canonicalize manifest: %w", err)
	}

	pub, err := base64.StdEncoding.DecodeString(m.SignerPublicKey)
	if err != nil {
		return fmt.Errorf("batch: decode signer public key: %w", err)
	}
	sig, err := base64.StdEncoding.DecodeString(m.Signature)
	if err != nil {
		return fmt.Errorf("batch: decode signature: %w", err)
	}
	if len(pub) != ed25519.PublicKeySize || len(sig) != ed25519.SignatureSize {
		return fmt.Errorf("batch: malformed key or signature length")
	}
	if !ed25519.Verify(ed25519.PublicKey(pub), payload, sig) {
		return fmt.Errorf("batch: signature verification failed")
	}
	return nil
}

func hashPair(left, right [32]byte) [32]byte {
	var buf [64]byte
	copy(buf[:32], left[:])
	copy(buf[32:], right[:])
	return sha256.Sum256(buf[:])
}
