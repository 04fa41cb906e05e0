// Copyright 2025 Certen Protocol
//
// Chain - per-checkpoint body hashing and prev->curr chain linkage.
//
// Given an ordered sequence of checkpoint bodies, Build threads them into a
// SequentialCheckpoint chain: curr_i = sha256_hex(prev_i || JCS(body_i)),
// each curr_i signed independently. The chain is strictly linear — Chain
// trusts the caller's ordering and performs no topological sort.

package chain

import (
	"fmt"

	"github.com/certen/car-engine/internal/canon"
	"github.com/certen/car-engine/internal/model"
	"github.com/certen/car-engine/internal/sign"
)

// LinkError describes a stored prev_chain that does not match the previous
// checkpoint's curr_chain. Chain construction itself cannot produce a
// broken chain — it always threads prev correctly. internal/verifier
// reports this condition as a report error and does not use this type.
type LinkError struct {
	Index int
	Want  string
	Got   string
}

func (e *LinkError) Error() string {
	return fmt.Sprintf("chain: index %d: prev_chain mismatch: want %s, got %s", e.Index, e.Want, e.Got)
}

// Build runs the chain construction algorithm over bodies, signing each
// curr_chain with secretB64. If secretB64 is empty, checkpoints are built
// unsigned (Signature left empty) — callers producing an unsigned bundle
// are expected to substitute "unsigned:" at the CAR level, not per
// checkpoint.
func Build(bodies []model.CheckpointBody, secretB64 string) ([]model.SequentialCheckpoint, error) {
	out := make([]model.SequentialCheckpoint, 0, len(bodies))
	prev := ""

	for i, body := range bodies {
		canonBody, err := canon.Canonicalize(body)
		if err != nil {
			return nil, fmt.Errorf("chain: canonicalize body %d: %w", i, err)
		}

		curr := canon.SHA256Hex(append([]byte(prev), canonBody...))

		var sig string
		if secretB64 != "" {
			sig, err = sign.SignDetached([]byte(curr), secretB64)
			if err != nil {
				return nil, fmt.Errorf("chain: sign checkpoint %d: %w", i, err)
			}
		}

		out = append(out, model.SequentialCheckpoint{
			CheckpointBody: body,
			ID:             fmt.Sprintf("ckpt:%d:%s", i, curr[:16]),
			PrevChain:      prev,
			CurrChain:      curr,
			Signature:      sig,
		})

		prev = curr
	}

	return out, nil
}

// CurrChain recomputes curr for a single (prev, body) pair — the primitive
// both Build and the Verifier's Stage B use, so the two sides can never
// drift apart in how the hash is formed.
func CurrChain(prev string, body model.CheckpointBody) (string, error) {
	canonBody, err := canon.Canonicalize(body)
	if err != nil {
		return "", fmt.Errorf("chain: canonicalize body: %w", err)
	}
	return canon.SHA256Hex(append([]byte(prev), canonBody...)), nil
}
