// Copyright 2025 Certen Protocol
//
// Model - typed CAR records
//
// These are the value types the rest of the engine operates on. They are
// deliberately thin: canonicalization (internal/canon) works from the
// generic JSON form, not from these structs, so that unknown fields survive
// round-trips untouched (see CanonicalizeRaw). The typed views exist for
// ergonomic construction and for the Verifier's structural checks.

package model

import "time"

// ProofMode is the step's tolerance mode for reproducibility comparison.
type ProofMode string

const (
	ProofModeExact      ProofMode = "exact"
	ProofModeConcordant ProofMode = "concordant"
)

// Step is a single workflow node, supplied by the orchestrator.
type Step struct {
	ID             string    `json:"id"`
	RunID          string    `json:"run_id"`
	OrderIndex     int       `json:"order_index"`
	CheckpointType string    `json:"checkpoint_type"`
	StepType       string    `json:"step_type"`
	Model          string    `json:"model"`
	Prompt         string    `json:"prompt"`
	TokenBudget    int64     `json:"token_budget"`
	ProofMode      ProofMode `json:"proof_mode"`
	Epsilon        *float64  `json:"epsilon"`
	ConfigJSON     string    `json:"config_json"`
}

// Incident records an anomalous event observed during a checkpoint, if any.
type Incident struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// CheckpointBody is the subset of checkpoint fields that participate in
// chain hashing. It deliberately excludes id, prev_chain, curr_chain, and
// signature. Incident MUST serialize as JSON null when absent (not be
// omitted) so that adding an incident later cannot silently reuse a stale
// hash — hence no `omitempty` on the Incident field.
type CheckpointBody struct {
	RunID            string    `json:"run_id"`
	Kind             string    `json:"kind"`
	Timestamp        time.Time `json:"timestamp"`
	InputsSHA256     string    `json:"inputs_sha256"`
	OutputsSHA256    string    `json:"outputs_sha256"`
	Incident         *Incident `json:"incident"`
	UsageTokens      int64     `json:"usage_tokens"`
	PromptTokens     int64     `json:"prompt_tokens"`
	CompletionTokens int64     `json:"completion_tokens"`
}

// SequentialCheckpoint is the stored, chain-linked form of a CheckpointBody.
type SequentialCheckpoint struct {
	CheckpointBody
	ID        string `json:"id"`
	PrevChain string `json:"prev_chain"`
	CurrChain string `json:"curr_chain"`
	Signature string `json:"signature"`
}

// ClaimType enumerates the kinds of provenance claim a CAR can carry.
type ClaimType string

const (
	ClaimConfig           ClaimType = "config"
	ClaimInput            ClaimType = "input"
	ClaimOutput           ClaimType = "output"
	ClaimPolicy           ClaimType = "policy"
	ClaimAttachmentIndex  ClaimType = "attachment_index" // optional, see pkg/merkle
)

// ProvenanceClaim binds a claim type to a tagged SHA-256 hash.
type ProvenanceClaim struct {
	ClaimType ClaimType `json:"claim_type"`
	SHA256    string    `json:"sha256"` // "sha256:<hex>"
}

// AttachmentRole distinguishes input from output attachments.
type AttachmentRole string

const (
	RoleInput  AttachmentRole = "input"
	RoleOutput AttachmentRole = "output"
)

// AttachmentRef points at a content-addressed file under attachments/.
type AttachmentRef struct {
	CheckpointID string         `json:"checkpoint_id"`
	SHA256       string         `json:"sha256"` // bare hex, matches attachments/<hex>.txt
	Role         AttachmentRole `json:"role"`
	Name         string         `json:"name"`
}

// PolicyRef names the policy document a CAR was produced under, identified
// by a content hash. estimator is opaque to the core (spec §9 Open
// Questions) — never parsed, only hashed.
type PolicyRef struct {
	Estimator string `json:"estimator,omitempty"`
	SHA256    string `json:"sha256,omitempty"` // "sha256:<hex>" or "" if absent
}

// Budgets is an informational cost/token estimate. It participates in
// hashing (tampering is detectable) but the Verifier never evaluates it.
type Budgets struct {
	TokenBudget      int64   `json:"token_budget,omitempty"`
	EstimatedCostUSD float64 `json:"estimated_cost_usd,omitempty"`
	Estimator        string  `json:"estimator,omitempty"`
}

// Sgrade is an informational scoring summary. Like Budgets, it hashes but
// is never evaluated by the Verifier.
type Sgrade struct {
	Score      float64            `json:"score,omitempty"`
	Components map[string]float64 `json:"components,omitempty"`
	Version    string             `json:"version,omitempty"`
}

// RunInfo describes the workflow run a CAR attests to.
type RunInfo struct {
	Kind    string `json:"kind"`
	Name    string `json:"name"`
	Model   string `json:"model"`
	Version string `json:"version"`
	Seed    int64  `json:"seed"`
	Steps   []Step `json:"steps"`
}

// ProcessInfo wraps the chained checkpoint sequence.
type ProcessInfo struct {
	SequentialCheckpoints []SequentialCheckpoint `json:"sequential_checkpoints"`
}

// ProofInfo names the match kind used for step comparison and carries the
// checkpoint chain.
type ProofInfo struct {
	MatchKind string      `json:"match_kind"`
	Process   ProcessInfo `json:"process"`
}

// CarBody is everything that participates in CAR ID computation and the
// body signature — i.e. the full CAR minus `id` and `signatures`.
type CarBody struct {
	RunID           string            `json:"run_id"`
	CreatedAt       time.Time         `json:"created_at"`
	Run             RunInfo           `json:"run"`
	Proof           ProofInfo         `json:"proof"`
	PolicyRef       PolicyRef         `json:"policy_ref"`
	Budgets         *Budgets          `json:"budgets,omitempty"`
	Provenance      []ProvenanceClaim `json:"provenance"`
	Checkpoints     []SequentialCheckpoint `json:"checkpoints"`
	Attachments     []AttachmentRef   `json:"attachments,omitempty"`
	Sgrade          *Sgrade           `json:"sgrade,omitempty"`
	SignerPublicKey string            `json:"signer_public_key"`
}

// Car is the final, sealed record: CarBody plus its content-derived ID and
// the signatures over it.
type Car struct {
	CarBody
	ID         string   `json:"id"`
	Signatures []string `json:"signatures"`
}

// CarBodyWithID is CarBody plus ID but without Signatures — exactly the
// payload the body signature covers ("JCS({id} ∪ CarBody)"). Kept as a
// distinct type (rather than reusing Car with Signatures cleared) so the
// zero value can never accidentally be mistaken for a sealed Car.
type CarBodyWithID struct {
	CarBody
	ID string `json:"id"`
}

// WithID returns the payload signed by the body signature.
func (b CarBody) WithID(id string) CarBodyWithID {
	return CarBodyWithID{CarBody: b, ID: id}
}
