// Copyright 2025 Certen Protocol
//
// Attestation - optional multi-validator co-attestation over a sealed CAR
// ID.
//
// Adapted from the teacher's pkg/attestation/service.go: the
// broadcast-to-peers-in-parallel-and-collect-over-a-channel shape survives
// (RequestAttestations -> CollectQuorum), but there is no database, no
// AttestationBundle bookkeeping, and no BLS/multi-chain strategy plumbing —
// a co-attestation here signs nothing but a CAR ID, so collection either
// reaches quorum or it doesn't; there is no aggregate proof artifact to
// persist.

package attestation

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/certen/car-engine/internal/sign"
)

// CoAttestation is one validator's signature over an already-sealed CAR ID.
// It never touches CarBody and never affects the CAR ID: a CAR remains
// fully verifiable with zero co-attestations attached.
type CoAttestation struct {
	ValidatorID         string    `json:"validator_id"`
	ValidatorPublicKey  string    `json:"validator_public_key"` // base64
	Signature           string    `json:"signature"`            // base64, ed25519 over utf8(car_id)
	AttestedAt          time.Time `json:"attested_at"`
}

// PeerRequest is the body CollectQuorum POSTs to each peer's
// /api/attestations/request endpoint. A peer's server handler (see
// cmd/carctl's serve command) decodes one of these and replies with a
// PeerResponse.
type PeerRequest struct {
	CarID string `json:"car_id"`
}

// PeerResponse is a peer's reply to a PeerRequest: either an Attestation
// over the requested CAR ID, or Success=false with Error explaining why
// (CAR unknown to this peer, no signing key configured, and so on).
type PeerResponse struct {
	Success     bool           `json:"success"`
	Error       string         `json:"error,omitempty"`
	Attestation *CoAttestation `json:"attestation,omitempty"`
}

// CollectQuorum broadcasts a co-attestation request for carID to peers in
// parallel and collects successful responses until required have arrived,
// every peer has answered, or ctx is done. Peers that error, time out,
// decline, or return a malformed response are absent from the result. The
// returned attestations are not signature-checked here; VerifyQuorum does
// that against trusted keys. An error is returned only when fewer than
// required responses arrived, together with those that did.
func CollectQuorum(ctx context.Context, carID string, peers []string, required int) ([]CoAttestation, error) {
	client := &http.Client{}

	type result struct {
		att *CoAttestation
		err error
	}
	results := make(chan result, len(peers))

	var wg sync.WaitGroup
	for _, peer := range peers {
		wg.Add(1)
		go func(peerURL string) {
			defer wg.Done()
			att, err := requestFromPeer(ctx, client, peerURL, carID)
			results <- result{att: att, err: err}
		}(peer)
	}
	go func() {
		wg.Wait()
		close(results)
	}()

	var collected []CoAttestation
	for r := range results {
		if r.err != nil || r.att == nil {
			continue
		}
		collected = append(collected, *r.att)
		if len(collected) >= required {
			break
		}
	}

	if len(collected) < required {
		return collected, fmt.Errorf("attestation: collected %d of %d required co-attestations", len(collected), required)
	}
	return collected, nil
}

func requestFromPeer(ctx context.Context, client *http.Client, peerURL, carID string) (*CoAttestation, error) {
	body, err := json.Marshal(PeerRequest{CarID: carID})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	url := peerURL + "/api/attestations/request"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request %s: %w", peerURL, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response from %s: %w", peerURL, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("peer %s returned status %d: %s", peerURL, resp.StatusCode, string(respBody))
	}

	var pr PeerResponse
	if err := json.Unmarshal(respBody, &pr); err != nil {
		return nil, fmt.Errorf("parse response from %s: %w", peerURL, err)
	}
	if !pr.Success || pr.Attestation == nil {
		return nil, fmt.Errorf("peer %s declined: %s", peerURL, pr.Error)
	}
	return pr.Attestation, nil
}

// Sign produces this validator's CoAttestation over carID.
func Sign(validatorID, secretB64 string, carID string, at time.Time) (*CoAttestation, error) {
	pubB64, err := sign.PublicKeyFromSecret(secretB64)
	if err != nil {
		return nil, fmt.Errorf("derive public key: %w", err)
	}
	sigB64, err := sign.SignDetached([]byte(carID), secretB64)
	if err != nil {
		return nil, fmt.Errorf("sign car id: %w", err)
	}
	return &CoAttestation{
		ValidatorID:        validatorID,
		ValidatorPublicKey: pubB64,
		Signature:          sigB64,
		AttestedAt:         at,
	}, nil
}

// VerifyQuorum re-verifies each attestation's signature against
// trustedKeys[validator_id] and reports whether at least `required` of them
// are valid, from distinct validators, over carID.
func VerifyQuorum(carID string, atts []CoAttestation, trustedKeys map[string]ed25519.PublicKey, required int) bool {
	seen := make(map[string]bool)
	valid := 0
	for _, att := range atts {
		if seen[att.ValidatorID] {
			continue // a second attestation from the same validator doesn't grow the quorum
		}
		pub, ok := trustedKeys[att.ValidatorID]
		if !ok {
			continue
		}
		ok, err := sign.VerifyDetached(base64.StdEncoding.EncodeToString(pub), []byte(carID), att.Signature)
		if err != nil || !ok {
			continue
		}
		seen[att.ValidatorID] = true
		valid++
	}
	return valid >= required
}

// RecommendedQuorum implements the 2/3+1 convention: the smallest count
// strictly greater than two thirds of trustedKeyCount.
func RecommendedQuorum(trustedKeyCount int) int {
	return trustedKeyCount*2/3 + 1
}
