// Copyright 2025 Certen Protocol
//
// Chain Tests

package chain

import (
	"testing"
	"time"

	"github.com/certen/car-engine/internal/canon"
	"github.com/certen/car-engine/internal/model"
	"github.com/certen/car-engine/internal/sign"
)

func sampleBodies(n int) []model.CheckpointBody {
	bodies := make([]model.CheckpointBody, n)
	for i := range bodies {
		bodies[i] = model.CheckpointBody{
			RunID:         "run-1",
			Kind:          "step",
			Timestamp:     time.Date(2026, 1, 1, 0, 0, i, 0, time.UTC),
			InputsSHA256:  canon.SHA256Hex([]byte("in")),
			OutputsSHA256: canon.SHA256Hex([]byte("out")),
			UsageTokens:   5,
		}
	}
	return bodies
}

func TestBuild_FirstPrevIsEmpty(t *testing.T) {
	_, secret, _ := sign.GenerateKeypair()
	ckpts, err := Build(sampleBodies(1), secret)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if ckpts[0].PrevChain != "" {
		t.Errorf("expected empty prev_chain for first checkpoint, got %q", ckpts[0].PrevChain)
	}
}

func TestBuild_LinksSequentially(t *testing.T) {
	_, secret, _ := sign.GenerateKeypair()
	ckpts, err := Build(sampleBodies(3), secret)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	for i := 1; i < len(ckpts); i++ {
		if ckpts[i].PrevChain != ckpts[i-1].CurrChain {
			t.Errorf("checkpoint %d: prev_chain %s != previous curr_chain %s", i, ckpts[i].PrevChain, ckpts[i-1].CurrChain)
		}
	}
}

func TestBuild_CheckpointSignatureVerifies(t *testing.T) {
	pub, secret, _ := sign.GenerateKeypair()
	ckpts, err := Build(sampleBodies(2), secret)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	for i, c := range ckpts {
		ok, err := sign.VerifyDetached(pub, []byte(c.CurrChain), c.Signature)
		if err != nil || !ok {
			t.Errorf("checkpoint %d signature did not verify: ok=%v err=%v", i, ok, err)
		}
	}
}

func TestBuild_UnsignedLeavesSignatureEmpty(t *testing.T) {
	ckpts, err := Build(sampleBodies(1), "")
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if ckpts[0].Signature != "" {
		t.Errorf("expected empty signature for unsigned build, got %q", ckpts[0].Signature)
	}
}

func TestCurrChain_SingleFieldMutationChangesHash(t *testing.T) {
	bodies := sampleBodies(1)
	c1, err := CurrChain("", bodies[0])
	if err != nil {
		t.Fatalf("curr chain: %v", err)
	}

	mutated := bodies[0]
	mutated.UsageTokens = 999
	c2, err := CurrChain("", mutated)
	if err != nil {
		t.Fatalf("curr chain: %v", err)
	}

	if c1 == c2 {
		t.Error("mutating usage_tokens did not change curr_chain")
	}
}

func TestCurrChain_IncidentNilParticipatesInHash(t *testing.T) {
	bodies := sampleBodies(1)
	withoutIncident, err := CurrChain("", bodies[0])
	if err != nil {
		t.Fatalf("curr chain: %v", err)
	}

	withIncident := bodies[0]
	withIncident.Incident = &model.Incident{Kind: "retry", Message: "rate limited"}
	c2, err := CurrChain("", withIncident)
	if err != nil {
		t.Fatalf("curr chain: %v", err)
	}

	if withoutIncident == c2 {
		t.Error("adding an incident did not change curr_chain — null incident must participate in canonicalization")
	}
}

func TestBuild_ReconstructsViaCurrChain(t *testing.T) {
	ckpts, err := Build(sampleBodies(2), "")
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	prev := ""
	for i, c := range ckpts {
		got, err := CurrChain(prev, c.CheckpointBody)
		if err != nil {
			t.Fatalf("curr chain %d: %v", i, err)
		}
		if got != c.CurrChain {
			t.Errorf("checkpoint %d: recomputed curr_chain %s != stored %s", i, got, c.CurrChain)
		}
		prev = c.CurrChain
	}
}
