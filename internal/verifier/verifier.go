// Copyright 2025 Certen Protocol
//
// Verifier - the four-stage CAR verification pipeline (spec §4.7).
//
// Verification never aborts on the first error: every stage runs and
// contributes to the report, then the verdict is computed once at the end.
// This mirrors the teacher's UnifiedVerifier, which accumulates errors onto
// a shared result rather than short-circuiting — the difference here is
// the four fixed stages (file, chain, signatures, content) instead of the
// teacher's four proof levels.

package verifier

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/certen/car-engine/internal/canon"
	"github.com/certen/car-engine/internal/model"
	"github.com/certen/car-engine/internal/sign"
)

// Options configures a Verify call.
type Options struct {
	// Strict upgrades LEGACY_NO_BODY_SIG warnings to hard failures.
	Strict bool
}

var requiredFields = []string{
	"id", "run_id", "created_at", "run", "proof", "policy_ref",
	"provenance", "checkpoints", "signer_public_key", "signatures",
}

var idPattern = regexp.MustCompile(`^car:[0-9a-f]{64}$`)
var sigPattern = regexp.MustCompile(`^(ed25519-body|ed25519-checkpoint|ed25519|unsigned):[A-Za-z0-9+/=]*$`)

// Verify runs Stages A-D over carJSON (the decoded car.json bytes) and any
// attachment blobs keyed by hex SHA-256, and returns a complete Report.
func Verify(carJSON []byte, attachments map[string][]byte, opts Options) *Report {
	report := &Report{}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(carJSON, &raw); err != nil {
		report.addError("file", fmt.Sprintf("malformed car.json: %v", err))
		report.Verdict = VerdictFailed
		return report
	}
	for _, f := range requiredFields {
		if _, ok := raw[f]; !ok {
			report.addError("file", fmt.Sprintf("missing required field %q", f))
		}
	}

	var car model.Car
	if err := json.Unmarshal(carJSON, &car); err != nil {
		report.addError("file", fmt.Sprintf("cannot parse car.json: %v", err))
		report.Verdict = VerdictFailed
		return report
	}
	report.CarID = car.ID
	if !idPattern.MatchString(car.ID) {
		report.addError("file", fmt.Sprintf("malformed CAR id %q", car.ID))
	}

	report.Stages.File = len(report.Errors) == 0
	if !report.Stages.File {
		report.Verdict = VerdictFailed
		return report
	}

	report.Stages.Chain = verifyChain(raw, car, report)
	report.Stages.Signatures = verifySignatures(raw, car, opts, report)
	report.Stages.Content = verifyContent(car, attachments, report)

	unsigned := len(car.Signatures) > 0 && car.Signatures[0] == "unsigned:"
	switch {
	case unsigned:
		if report.Stages.Chain.OK && report.Stages.Content.OK {
			report.Verdict = VerdictUnsigned
		} else {
			report.Verdict = VerdictFailed
		}
	case report.Stages.Chain.OK && report.Stages.Signatures.OK && report.Stages.Content.OK:
		report.Verdict = VerdictVerified
	default:
		report.Verdict = VerdictFailed
	}

	return report
}

// verifyChain is Stage B.
func verifyChain(raw map[string]json.RawMessage, car model.Car, report *Report) ChainStage {
	n := len(car.Checkpoints)
	stage := ChainStage{N: n}
	if n == 0 {
		stage.OK = true
		return stage
	}

	var rawCheckpoints []map[string]json.RawMessage
	if err := json.Unmarshal(raw["checkpoints"], &rawCheckpoints); err != nil {
		report.addError("chain", fmt.Sprintf("cannot parse checkpoints: %v", err))
		return stage
	}
	if len(rawCheckpoints) != n {
		report.addError("chain", "checkpoints array length mismatch")
		return stage
	}

	prev := ""
	k := 0
	for i, ckpt := range car.Checkpoints {
		if ckpt.PrevChain != prev {
			report.addError("chain", fmt.Sprintf("checkpoint %d: prev_chain mismatch: want %s, got %s", i, prev, ckpt.PrevChain))
			if stage.FirstError == "" {
				stage.FirstError = fmt.Sprintf("index %d: prev_chain mismatch", i)
			}
			prev = ckpt.CurrChain
			continue
		}

		body := stripCheckpointEnvelope(rawCheckpoints[i])
		bodyJSON, err := json.Marshal(body)
		var canonBody []byte
		if err == nil {
			canonBody, err = canon.CanonicalizeRaw(bodyJSON)
		}
		if err != nil {
			report.addError("chain", fmt.Sprintf("checkpoint %d: canonicalize: %v", i, err))
			prev = ckpt.CurrChain
			continue
		}

		got := canon.SHA256Hex(append([]byte(prev), canonBody...))
		if got != ckpt.CurrChain {
			report.addError("chain", fmt.Sprintf("checkpoint %d: curr_chain mismatch: want %s, got %s", i, ckpt.CurrChain, got))
			if stage.FirstError == "" {
				stage.FirstError = fmt.Sprintf("index %d: curr_chain mismatch", i)
			}
		} else {
			k++
		}
		prev = ckpt.CurrChain
	}

	stage.K = k
	stage.OK = k == n
	return stage
}

func stripCheckpointEnvelope(raw map[string]json.RawMessage) map[string]json.RawMessage {
	body := make(map[string]json.RawMessage, len(raw))
	for k, v := range raw {
		switch k {
		case "id", "prev_chain", "curr_chain", "signature":
			continue
		}
		body[k] = v
	}
	return body
}

// verifySignatures is Stage C.
func verifySignatures(raw map[string]json.RawMessage, car model.Car, opts Options, report *Report) SignatureStage {
	stage := SignatureStage{Total: len(car.Signatures)}

	if len(car.Signatures) == 0 {
		report.addError("signatures", "empty signatures array")
		return stage
	}
	for _, s := range car.Signatures {
		if !sigPattern.MatchString(s) {
			report.addError("signatures", fmt.Sprintf("malformed signature entry %q", s))
			return stage
		}
	}

	first := car.Signatures[0]
	if first == "unsigned:" {
		stage.CheckpointsOK = true
		stage.OK = true
		return stage
	}

	withoutSig := make(map[string]json.RawMessage, len(raw))
	for k, v := range raw {
		if k != "signatures" {
			withoutSig[k] = v
		}
	}
	var payload []byte
	payloadJSON, err := json.Marshal(withoutSig)
	if err == nil {
		payload, err = canon.CanonicalizeRaw(payloadJSON)
	}
	if err != nil {
		report.addError("signatures", fmt.Sprintf("canonicalize body for signature check: %v", err))
	}

	var checkpointEntries []string
	switch {
	case strings.HasPrefix(first, "ed25519-body:"):
		bodySig := strings.TrimPrefix(first, "ed25519-body:")
		if payload != nil {
			ok, verr := sign.VerifyDetached(car.SignerPublicKey, payload, bodySig)
			stage.BodyOK = ok
			if verr != nil || !ok {
				report.addError("signatures", fmt.Sprintf("body signature invalid: %v", verr))
			}
		}
		checkpointEntries = car.Signatures[1:]
	case strings.HasPrefix(first, "ed25519:"):
		report.addWarning("signatures", "LEGACY_NO_BODY_SIG: CAR carries only a checkpoint signature, no body signature")
		if opts.Strict {
			report.addError("signatures", "legacy single-signature CAR rejected under --strict")
		} else {
			stage.BodyOK = true
		}
		checkpointEntries = car.Signatures
	default:
		report.addError("signatures", fmt.Sprintf("unexpected signature kind %q", first))
		return stage
	}

	stage.CheckpointsOK = true
	idx := 0
	for _, entry := range checkpointEntries {
		var sig string
		switch {
		case strings.HasPrefix(entry, "ed25519-checkpoint:"):
			sig = strings.TrimPrefix(entry, "ed25519-checkpoint:")
		case strings.HasPrefix(entry, "ed25519:"):
			sig = strings.TrimPrefix(entry, "ed25519:")
		default:
			report.addError("signatures", fmt.Sprintf("unexpected signature kind %q among checkpoint signatures", entry))
			stage.CheckpointsOK = false
			continue
		}
		if idx >= len(car.Checkpoints) {
			report.addError("signatures", "more checkpoint signatures than checkpoints")
			stage.CheckpointsOK = false
			break
		}
		ok, verr := sign.VerifyDetached(car.SignerPublicKey, []byte(car.Checkpoints[idx].CurrChain), sig)
		if verr != nil || !ok {
			report.addError("signatures", fmt.Sprintf("checkpoint %d signature invalid: %v", idx, verr))
			stage.CheckpointsOK = false
		}
		idx++
	}

	stage.OK = stage.BodyOK && stage.CheckpointsOK
	return stage
}

// verifyContent is Stage D.
func verifyContent(car model.Car, attachments map[string][]byte, report *Report) ContentStage {
	stage := ContentStage{}

	claimsOK := true
	configHash, err := canon.JCSHash(car.Run.Steps)
	if err != nil {
		report.addError("content", fmt.Sprintf("recompute config hash: %v", err))
		claimsOK = false
	} else {
		want := canon.TaggedHex(configHash)
		found := false
		for _, p := range car.Provenance {
			if p.ClaimType == model.ClaimConfig {
				found = true
				if p.SHA256 != want {
					report.addError("content", fmt.Sprintf("config claim mismatch: stored %s, recomputed %s", p.SHA256, want))
					claimsOK = false
				}
			}
		}
		if !found {
			report.addError("content", "missing config provenance claim")
			claimsOK = false
		}
	}
	stage.ClaimsOK = claimsOK

	attachmentsOK := true
	if len(attachments) == 0 {
		report.addWarning("content", "no attachments directory present; skipping attachment content checks")
	} else {
		for h, blob := range attachments {
			if canon.SHA256Hex(blob) != h {
				report.addError("content", fmt.Sprintf("attachment %s: filename does not match content hash", h))
				attachmentsOK = false
			}
		}
		for i, ckpt := range car.Checkpoints {
			for _, want := range []string{ckpt.InputsSHA256, ckpt.OutputsSHA256} {
				if want == "" {
					continue
				}
				if _, ok := attachments[want]; !ok {
					report.addError("content", fmt.Sprintf("checkpoint %d: referenced attachment %s missing", i, want))
					attachmentsOK = false
				}
			}
		}
	}

	byID := make(map[string]model.SequentialCheckpoint, len(car.Checkpoints))
	for _, ckpt := range car.Checkpoints {
		byID[ckpt.ID] = ckpt
	}
	for _, ref := range car.Attachments {
		ckpt, ok := byID[ref.CheckpointID]
		if !ok {
			report.addError("content", fmt.Sprintf("attachment ref for unknown checkpoint %q", ref.CheckpointID))
			attachmentsOK = false
			continue
		}
		var declared string
		switch ref.Role {
		case model.RoleInput:
			declared = ckpt.InputsSHA256
		case model.RoleOutput:
			declared = ckpt.OutputsSHA256
		default:
			report.addError("content", fmt.Sprintf("attachment ref for checkpoint %s: unknown role %q", ref.CheckpointID, ref.Role))
			attachmentsOK = false
			continue
		}
		if declared != "" && declared != ref.SHA256 {
			report.addError("content", fmt.Sprintf("attachment ref for checkpoint %s: declares %s, checkpoint %s_sha256 is %s", ref.CheckpointID, ref.SHA256, ref.Role, declared))
			attachmentsOK = false
		}
		if len(attachments) > 0 {
			blob, ok := attachments[ref.SHA256]
			if !ok {
				report.addError("content", fmt.Sprintf("attachment ref for checkpoint %s: %s missing from attachments/", ref.CheckpointID, ref.SHA256))
				attachmentsOK = false
				continue
			}
			if canon.SHA256Hex(blob) != ref.SHA256 {
				report.addError("content", fmt.Sprintf("attachment ref for checkpoint %s: content does not match declared hash %s", ref.CheckpointID, ref.SHA256))
				attachmentsOK = false
			}
		}
	}
	stage.AttachmentsOK = attachmentsOK

	stage.OK = claimsOK && attachmentsOK
	return stage
}
