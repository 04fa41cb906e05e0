// Copyright 2025 Certen Protocol
//
// Bundler Tests

package bundler

import (
	"strings"
	"testing"
	"time"

	"github.com/certen/car-engine/internal/canon"
	"github.com/certen/car-engine/internal/model"
	"github.com/certen/car-engine/internal/sign"
)

func sampleRun() model.RunInfo {
	return model.RunInfo{
		Kind:  "workflow",
		Name:  "nightly-eval",
		Model: "gpt-test",
		Seed:  7,
		Steps: []model.Step{
			{ID: "s1", RunID: "run-1", OrderIndex: 0, StepType: "prompt", Model: "gpt-test", Prompt: "hello", TokenBudget: 100, ProofMode: model.ProofModeExact},
		},
	}
}

func sampleInput(secret string) Input {
	inBlob := []byte("input-blob")
	outBlob := []byte("output-blob")
	body := model.CheckpointBody{
		RunID:         "run-1",
		Kind:          "step",
		Timestamp:     time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		InputsSHA256:  canon.SHA256Hex(inBlob),
		OutputsSHA256: canon.SHA256Hex(outBlob),
		UsageTokens:   10,
	}
	return Input{
		RunID:            "run-1",
		CreatedAt:        time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		Run:              sampleRun(),
		PolicyRef:        model.PolicyRef{},
		CheckpointBodies: []model.CheckpointBody{body},
		Attachments:      []CheckpointAttachments{{Input: inBlob, Output: outBlob}},
		SecretB64:        secret,
	}
}

func TestAssemble_SignedRoundTrip(t *testing.T) {
	pub, secret, _ := sign.GenerateKeypair()
	b := New()
	res, err := b.Assemble(sampleInput(secret))
	if err != nil {
		t.Fatalf("assemble: %v", err)
	}
	if res.Car.ID == "" || !strings.HasPrefix(res.Car.ID, "car:") {
		t.Fatalf("unexpected car id %q", res.Car.ID)
	}
	if res.Car.SignerPublicKey != pub {
		t.Errorf("signer_public_key mismatch: got %s want %s", res.Car.SignerPublicKey, pub)
	}
	if len(res.Car.Signatures) != 2 {
		t.Fatalf("expected body + 1 checkpoint signature, got %d: %v", len(res.Car.Signatures), res.Car.Signatures)
	}
	if !strings.HasPrefix(res.Car.Signatures[0], "ed25519-body:") {
		t.Errorf("signatures[0] should be the body signature, got %s", res.Car.Signatures[0])
	}
	bodySig := strings.TrimPrefix(res.Car.Signatures[0], "ed25519-body:")
	payload, err := canon.Canonicalize(res.Car.CarBody.WithID(res.Car.ID))
	if err != nil {
		t.Fatalf("canonicalize: %v", err)
	}
	ok, err := sign.VerifyDetached(pub, payload, bodySig)
	if err != nil || !ok {
		t.Errorf("body signature did not verify: ok=%v err=%v", ok, err)
	}
	if len(res.Attachments) != 2 {
		t.Errorf("expected 2 distinct attachments, got %d", len(res.Attachments))
	}
}

func TestAssemble_Unsigned(t *testing.T) {
	b := New()
	res, err := b.Assemble(sampleInput(""))
	if err != nil {
		t.Fatalf("assemble: %v", err)
	}
	if len(res.Car.Signatures) != 1 || res.Car.Signatures[0] != "unsigned:" {
		t.Errorf("expected [\"unsigned:\"], got %v", res.Car.Signatures)
	}
	if res.Car.SignerPublicKey != "" {
		t.Errorf("expected empty signer_public_key for unsigned bundle, got %q", res.Car.SignerPublicKey)
	}
}

func TestAssemble_CreatedAtMutationChangesID(t *testing.T) {
	b := New()
	in1 := sampleInput("")
	res1, err := b.Assemble(in1)
	if err != nil {
		t.Fatalf("assemble: %v", err)
	}

	in2 := sampleInput("")
	in2.CreatedAt = in2.CreatedAt.Add(time.Second)
	res2, err := b.Assemble(in2)
	if err != nil {
		t.Fatalf("assemble: %v", err)
	}

	if res1.Car.ID == res2.Car.ID {
		t.Error("mutating created_at did not change the CAR id")
	}
}

func TestAssemble_AttachmentHashMismatchFails(t *testing.T) {
	b := New()
	in := sampleInput("")
	in.Attachments[0].Input = []byte("tampered-blob")
	_, err := b.Assemble(in)
	if err == nil {
		t.Fatal("expected error for mismatched attachment hash, got nil")
	}
}

func TestAssemble_StepPromptMutationChangesConfigClaim(t *testing.T) {
	b := New()
	in1 := sampleInput("")
	res1, err := b.Assemble(in1)
	if err != nil {
		t.Fatalf("assemble: %v", err)
	}

	in2 := sampleInput("")
	in2.Run.Steps[0].Prompt = "goodbye"
	res2, err := b.Assemble(in2)
	if err != nil {
		t.Fatalf("assemble: %v", err)
	}

	configClaim := func(c model.Car) string {
		for _, p := range c.Provenance {
			if p.ClaimType == model.ClaimConfig {
				return p.SHA256
			}
		}
		return ""
	}
	if configClaim(res1.Car) == configClaim(res2.Car) {
		t.Error("mutating a step prompt did not change the config provenance claim")
	}
	if res1.Car.ID == res2.Car.ID {
		t.Error("mutating a step prompt did not change the CAR id")
	}
}

func TestAssemble_LifecycleMetricsRecordSealed(t *testing.T) {
	metrics := &Metrics{}
	b := New(WithMetrics(metrics))
	if _, err := b.Assemble(sampleInput("")); err != nil {
		t.Fatalf("assemble: %v", err)
	}
	snap := metrics.Snapshot()
	if snap.Sealed != 1 {
		t.Errorf("expected 1 sealed generation, got %d", snap.Sealed)
	}
	if snap.Failed != 0 {
		t.Errorf("expected 0 failed generations, got %d", snap.Failed)
	}
}

func TestAssemble_LifecycleMetricsRecordFailed(t *testing.T) {
	metrics := &Metrics{}
	b := New(WithMetrics(metrics))
	in := sampleInput("")
	in.Attachments[0].Input = []byte("tampered-blob")
	if _, err := b.Assemble(in); err == nil {
		t.Fatal("expected assemble to fail")
	}
	snap := metrics.Snapshot()
	if snap.Failed != 1 {
		t.Errorf("expected 1 failed generation, got %d", snap.Failed)
	}
	if snap.Sealed != 0 {
		t.Errorf("expected 0 sealed generations, got %d", snap.Sealed)
	}
}

func TestAssemble_ListenerSeesFullTransitionSequence(t *testing.T) {
	var seen []State
	listener := func(runID string, from, to State) {
		seen = append(seen, to)
	}
	b := New(WithListener(listener))
	if _, err := b.Assemble(sampleInput("")); err != nil {
		t.Fatalf("assemble: %v", err)
	}
	want := []State{StateChainBuilt, StateSigned, StateSealed}
	if len(seen) != len(want) {
		t.Fatalf("expected transitions %v, got %v", want, seen)
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Errorf("transition %d: want %s, got %s", i, want[i], seen[i])
		}
	}
}

func TestAssemble_CheckpointSwapChangesChain(t *testing.T) {
	b := New()
	base := sampleInput("")
	second := base.CheckpointBodies[0]
	second.Timestamp = second.Timestamp.Add(time.Second)
	second.UsageTokens = 20

	in := sampleInput("")
	in.CheckpointBodies = []model.CheckpointBody{base.CheckpointBodies[0], second}
	in.Attachments = []CheckpointAttachments{base.Attachments[0], base.Attachments[0]}
	res1, err := b.Assemble(in)
	if err != nil {
		t.Fatalf("assemble: %v", err)
	}

	swapped := sampleInput("")
	swapped.CheckpointBodies = []model.CheckpointBody{second, base.CheckpointBodies[0]}
	swapped.Attachments = []CheckpointAttachments{base.Attachments[0], base.Attachments[0]}
	res2, err := b.Assemble(swapped)
	if err != nil {
		t.Fatalf("assemble: %v", err)
	}

	if res1.Car.Checkpoints[1].CurrChain == res2.Car.Checkpoints[1].CurrChain {
		t.Error("swapping checkpoint order did not change the resulting chain")
	}
	if res1.Car.ID == res2.Car.ID {
		t.Error("swapping checkpoint order did not change the CAR id")
	}
}
