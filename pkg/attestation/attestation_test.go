// Copyright 2025 Certen Protocol
package attestation

import (
	"crypto/ed25519"
	"encoding/base64"
	"testing"
	"time"

	"github.com/certen/car-engine/internal/sign"
)

func mustKeypair(t *testing.T) (pubB64, secretB64 string) {
	t.Helper()
	pub, secret, err := sign.GenerateKeypair()
	if err != nil {
		t.Fatalf("generate keypair: %v", err)
	}
	return pub, secret
}

func decodePub(t *testing.T, pubB64 string) ed25519.PublicKey {
	t.Helper()
	raw, err := base64.StdEncoding.DecodeString(pubB64)
	if err != nil {
		t.Fatalf("decode public key: %v", err)
	}
	return ed25519.PublicKey(raw)
}

func TestVerifyQuorum_ThreePeersOneWrongKey(t *testing.T) {
	const carID = "car:sha256:deadbeef"

	aPub, aSecret := mustKeypair(t)
	bPub, bSecret := mustKeypair(t)
	cPub, cSecret := mustKeypair(t)
	_, wrongSecret := mustKeypair(t) // signs with a key not in trustedKeys

	attA, err := Sign("validator-a", aSecret, carID, time.Unix(1000, 0))
	if err != nil {
		t.Fatalf("sign a: %v", err)
	}
	attB, err := Sign("validator-b", bSecret, carID, time.Unix(1001, 0))
	if err != nil {
		t.Fatalf("sign b: %v", err)
	}
	// validator-c's attestation is signed with the wrong secret key, so its
	// signature won't verify against the public key trustedKeys records.
	badC, err := Sign("validator-c", wrongSecret, carID, time.Unix(1002, 0))
	if err != nil {
		t.Fatalf("sign c: %v", err)
	}
	_ = cSecret

	trusted := map[string]ed25519.PublicKey{
		"validator-a": decodePub(t, aPub),
		"validator-b": decodePub(t, bPub),
		"validator-c": decodePub(t, cPub),
	}

	atts := []CoAttestation{*attA, *attB, *badC}

	if !VerifyQuorum(carID, atts, trusted, 2) {
		t.Fatal("expected quorum of 2 to succeed with 2 valid attestations")
	}
	if VerifyQuorum(carID, atts, trusted, 3) {
		t.Fatal("expected quorum of 3 to fail: only 2 of 3 attestations verify")
	}
}

func TestVerifyQuorum_DuplicateValidatorDoesNotDoubleCount(t *testing.T) {
	const carID = "car:sha256:deadbeef"
	aPub, aSecret := mustKeypair(t)

	att, err := Sign("validator-a", aSecret, carID, time.Unix(1000, 0))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	trusted := map[string]ed25519.PublicKey{"validator-a": decodePub(t, aPub)}
	atts := []CoAttestation{*att, *att, *att}

	if VerifyQuorum(carID, atts, trusted, 2) {
		t.Fatal("three copies of one validator's attestation must not satisfy a quorum of 2")
	}
	if !VerifyQuorum(carID, atts, trusted, 1) {
		t.Fatal("expected quorum of 1 to succeed")
	}
}

func TestVerifyQuorum_WrongCarIDFails(t *testing.T) {
	aPub, aSecret := mustKeypair(t)
	att, err := Sign("validator-a", aSecret, "car:sha256:original", time.Unix(1000, 0))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	trusted := map[string]ed25519.PublicKey{"validator-a": decodePub(t, aPub)}
	if VerifyQuorum("car:sha256:tampered", []CoAttestation{*att}, trusted, 1) {
		t.Fatal("attestation over a different car id must not verify")
	}
}

func TestRecommendedQuorum(t *testing.T) {
	cases := []struct{ keys, want int }{
		{1, 1}, {3, 3}, {4, 3}, {6, 5}, {9, 7},
	}
	for _, c := range cases {
		if got := RecommendedQuorum(c.keys); got != c.want {
			t.Errorf("RecommendedQuorum(%d) = %d, want %d", c.keys, got, c.want)
		}
	}
}
