// Copyright 2025 Certen Protocol
//
// Bundler - assembles a complete CAR from run metadata, a step list, a
// sequence of checkpoint bodies, and input/output byte blobs (spec §4.5).
//
// Generation aborts on the first error (§7 Propagation policy: "producing
// a partial CAR would be unsafe"). The lifecycle state machine in state.go
// enforces this at runtime — its transition check rejects any move out of
// StateFailed, so StateSealed is never reached after a failure.

package bundler

import (
	"fmt"
	"time"

	"github.com/certen/car-engine/internal/canon"
	"github.com/certen/car-engine/internal/chain"
	"github.com/certen/car-engine/internal/model"
	"github.com/certen/car-engine/internal/sign"
)

// CheckpointAttachments holds the raw input/output blobs a checkpoint
// references, if any. A nil slice means "no attachment for that role" —
// not every checkpoint has both.
type CheckpointAttachments struct {
	Input  []byte
	Output []byte

	// InputName/OutputName are optional human-readable names (e.g. the
	// source file's base name) carried into the sealed CarBody's
	// AttachmentRef.Name. They do not affect an attachment's content hash
	// (its attachments/<hex>.txt name), but as part of the CarBody they
	// are covered by the CAR ID and the body signature.
	InputName  string
	OutputName string
}

// Input is everything the Bundler needs to assemble one CAR.
type Input struct {
	RunID            string
	CreatedAt        time.Time
	Run              model.RunInfo
	PolicyRef        model.PolicyRef
	Budgets          *model.Budgets
	Sgrade           *model.Sgrade
	CheckpointBodies []model.CheckpointBody

	// Attachments[i] corresponds to CheckpointBodies[i]. May be shorter
	// than CheckpointBodies (trailing checkpoints with no attachments);
	// never longer.
	Attachments []CheckpointAttachments

	// SecretB64 is the base64 64-byte Ed25519 secret key. Empty produces
	// an unsigned bundle (§4.5 step 6, "Unsigned bundles").
	SecretB64 string
}

// Result is a freshly sealed CAR plus the attachment blobs the Archive
// writer needs to place under attachments/<hex>.txt, keyed by hex SHA-256.
type Result struct {
	Car         model.Car
	Attachments map[string][]byte
}

// Bundler runs the §4.5 assembly algorithm and reports lifecycle
// transitions to any registered listeners (e.g. pkg/metrics).
type Bundler struct {
	metrics   *Metrics
	listeners []Listener
}

// Option configures a Bundler at construction time.
type Option func(*Bundler)

// WithMetrics attaches a shared Metrics recorder.
func WithMetrics(m *Metrics) Option {
	return func(b *Bundler) { b.metrics = m }
}

// WithListener registers an additional lifecycle listener.
func WithListener(l Listener) Option {
	return func(b *Bundler) { b.listeners = append(b.listeners, l) }
}

// New creates a Bundler.
func New(opts ...Option) *Bundler {
	b := &Bundler{}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// BundleError reports which assembly step failed.
type BundleError struct {
	Step string
	Err  error
}

func (e *BundleError) Error() string { return fmt.Sprintf("bundler: %s: %v", e.Step, e.Err) }
func (e *BundleError) Unwrap() error { return e.Err }

// Assemble runs §4.5 steps 1-7 over in and returns the sealed CAR plus the
// attachment blobs to persist. On any error the lifecycle transitions to
// StateFailed and Assemble returns immediately — no partial Result is ever
// returned alongside a non-nil error.
func (b *Bundler) Assemble(in Input) (*Result, error) {
	lc := newLifecycle(in.RunID, b.metrics, b.listeners)

	fail := func(step string, err error) (*Result, error) {
		_ = lc.transition(StateFailed)
		return nil, &BundleError{Step: step, Err: err}
	}

	// Step 1: steps -> config hash, emit provenance claim.
	configHash, err := canon.JCSHash(in.Run.Steps)
	if err != nil {
		return fail("config_hash", err)
	}
	provenance := []model.ProvenanceClaim{
		{ClaimType: model.ClaimConfig, SHA256: canon.TaggedHex(configHash)},
	}

	// Step 2: attachments. Compute and validate hashes, dedup by hash; a
	// pendingRef records which checkpoint (by index, since IDs don't exist
	// until step 3) and role each blob belongs to.
	type pendingRef struct {
		checkpointIndex int
		role            model.AttachmentRole
		sha256          string
		name            string
	}
	attachments := make(map[string][]byte)
	var pending []pendingRef
	for i, body := range in.CheckpointBodies {
		var blobs CheckpointAttachments
		if i < len(in.Attachments) {
			blobs = in.Attachments[i]
		}
		if blobs.Input != nil {
			h := canon.SHA256Hex(blobs.Input)
			if body.InputsSHA256 != "" && h != body.InputsSHA256 {
				return fail("attachments", fmt.Errorf("checkpoint %d: input blob hashes to %s, body declares %s", i, h, body.InputsSHA256))
			}
			attachments[h] = blobs.Input
			pending = append(pending, pendingRef{checkpointIndex: i, role: model.RoleInput, sha256: h, name: blobs.InputName})
		}
		if blobs.Output != nil {
			h := canon.SHA256Hex(blobs.Output)
			if body.OutputsSHA256 != "" && h != body.OutputsSHA256 {
				return fail("attachments", fmt.Errorf("checkpoint %d: output blob hashes to %s, body declares %s", i, h, body.OutputsSHA256))
			}
			attachments[h] = blobs.Output
			pending = append(pending, pendingRef{checkpointIndex: i, role: model.RoleOutput, sha256: h, name: blobs.OutputName})
		}
	}

	// Step 3: chain.
	checkpoints, err := chain.Build(in.CheckpointBodies, in.SecretB64)
	if err != nil {
		return fail("chain", err)
	}
	if err := lc.transition(StateChainBuilt); err != nil {
		return fail("lifecycle", err)
	}

	attachmentRefs := make([]model.AttachmentRef, 0, len(pending))
	for _, p := range pending {
		attachmentRefs = append(attachmentRefs, model.AttachmentRef{
			CheckpointID: checkpoints[p.checkpointIndex].ID,
			SHA256:       p.sha256,
			Role:         p.role,
			Name:         p.name,
		})
	}

	signerPub := ""
	if in.SecretB64 != "" {
		signerPub, err = sign.PublicKeyFromSecret(in.SecretB64)
		if err != nil {
			return fail("signer_public_key", err)
		}
	}

	// Step 4: assemble CarBody.
	matchKind := ""
	if len(in.Run.Steps) > 0 {
		matchKind = string(in.Run.Steps[0].ProofMode)
	}
	body := model.CarBody{
		RunID:     in.RunID,
		CreatedAt: in.CreatedAt,
		Run:       in.Run,
		Proof: model.ProofInfo{
			MatchKind: matchKind,
			Process:   model.ProcessInfo{SequentialCheckpoints: checkpoints},
		},
		PolicyRef:       in.PolicyRef,
		Budgets:         in.Budgets,
		Provenance:      provenance,
		Checkpoints:     checkpoints,
		Attachments:     attachmentRefs,
		Sgrade:          in.Sgrade,
		SignerPublicKey: signerPub,
	}

	// Step 5: CAR ID.
	bodyHash, err := canon.JCSHash(body)
	if err != nil {
		return fail("car_id", err)
	}
	id := "car:" + bodyHash

	// Step 6: dual signatures.
	var signatures []string
	if in.SecretB64 == "" {
		signatures = []string{"unsigned:"}
	} else {
		bodySig, err := sign.SignDetached(mustCanon(body.WithID(id)), in.SecretB64)
		if err != nil {
			return fail("body_signature", err)
		}
		signatures = append(signatures, "ed25519-body:"+bodySig)
		for _, c := range checkpoints {
			signatures = append(signatures, "ed25519-checkpoint:"+c.Signature)
		}
	}
	if err := lc.transition(StateSigned); err != nil {
		return fail("lifecycle", err)
	}

	car := model.Car{CarBody: body, ID: id, Signatures: signatures}
	if err := lc.transition(StateSealed); err != nil {
		return fail("lifecycle", err)
	}

	return &Result{Car: car, Attachments: attachments}, nil
}

// mustCanon canonicalizes v, panicking on error. Only used here for a value
// (CarBodyWithID) whose fields were already successfully canonicalized one
// step earlier in Assemble — a failure at this point would indicate a bug
// in model construction, not bad input.
func mustCanon(v interface{}) []byte {
	out, err := canon.Canonicalize(v)
	if err != nil {
		panic(fmt.Sprintf("bundler: re-canonicalization of already-validated body failed: %v", err))
	}
	return out
}
