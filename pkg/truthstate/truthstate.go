// Package truthstate defines the signed, deterministic verdict produced
// by the truth compiler, its status machine, and the two content
// digests: the semantic hash (content only) and the state hash (full
// envelope minus security).
package truthstate

import (
	"time"

	"github.com/verity-protocol/verity/pkg/canonical"
	"github.com/verity-protocol/verity/pkg/confidence"
)

// Status is the closed set of truth statuses.
type Status string

const (
	StatusPending            Status = "PENDING"
	StatusLeaningTrue        Status = "LEANING_TRUE"
	StatusLeaningFalse       Status = "LEANING_FALSE"
	StatusUndecided          Status = "UNDECIDED"
	StatusInvestigating      Status = "INVESTIGATING"
	StatusPendingHumanReview Status = "PENDING_HUMAN_REVIEW"
	StatusVerifiedTrue       Status = "VERIFIED_TRUE"
	StatusVerifiedFalse      Status = "VERIFIED_FALSE"
	StatusInconclusive       Status = "INCONCLUSIVE"
	StatusExpired            Status = "EXPIRED"
)

// Final reports whether s is a terminal status that must be signed.
func (s Status) Final() bool {
	switch s {
	case StatusVerifiedTrue, StatusVerifiedFalse, StatusInconclusive, StatusExpired:
		return true
	}
	return false
}

// CanTransition encodes the permissible status machine.
func CanTransition(from, to Status) bool {
	if from == to {
		return false
	}
	switch from {
	case StatusPending:
		switch to {
		case StatusLeaningTrue, StatusLeaningFalse, StatusUndecided,
			StatusInvestigating, StatusPendingHumanReview,
			StatusVerifiedTrue, StatusVerifiedFalse, StatusInconclusive, StatusExpired:
			return true
		}
	case StatusLeaningTrue, StatusLeaningFalse, StatusUndecided,
		StatusInvestigating, StatusPendingHumanReview:
		return to.Final() || to == StatusPendingHumanReview ||
			to == StatusLeaningTrue || to == StatusLeaningFalse || to == StatusUndecided
	}
	return false
}

// VerificationBasis is the closed set of reasons a verdict finalized.
type VerificationBasis string

const (
	BasisAIAutovalidation  VerificationBasis = "AI_AUTOVALIDATION"
	BasisWeightedConsensus VerificationBasis = "WEIGHTED_CONSENSUS"
	BasisHumanConsensus    VerificationBasis = "HUMAN_CONSENSUS"
	BasisAuthorityOverride VerificationBasis = "AUTHORITY_OVERRIDE"
)

// Transparency flags surfaced on states.
const (
	FlagContradiction         = "CONTRADICTION_DETECTED"
	FlagLowConfidence         = "LOW_COMPOSITE_CONFIDENCE"
	FlagAIRecommendsTrue      = "AI_RECOMMENDS_TRUE"
	FlagAIRecommendsFalse     = "AI_RECOMMENDS_FALSE"
	FlagAwaitingHumanQuorum   = "AWAITING_HUMAN_CONSENSUS"
	FlagAuthorityOverridden   = "AUTHORITY_OVERRIDDEN"
	FlagAdmissibilityExcluded = "SIGNALS_EXCLUDED_BY_ADMISSIBILITY"
)

// CompileInputs pins everything needed to reproduce a compile.
type CompileInputs struct {
	ObservationIDs    []string  `json:"observation_ids"`
	ClaimTypeID       string    `json:"claim_type_id"`
	ClaimTypeHash     string    `json:"claim_type_hash"`
	PolicyVersion     string    `json:"policy_version"`
	CompilerVersion   string    `json:"compiler_version"`
	TrustSnapshotHash string    `json:"trust_snapshot_hash"`
	CompileTime       time.Time `json:"compile_time"`
	SignedAtOverride  *time.Time `json:"signed_at_override,omitempty"`
}

// Canonical returns the reproduction envelope as a canonical map.
func (ci CompileInputs) Canonical() map[string]any {
	out := map[string]any{
		"observation_ids":     append([]string(nil), ci.ObservationIDs...),
		"claim_type_id":       ci.ClaimTypeID,
		"claim_type_hash":     ci.ClaimTypeHash,
		"policy_version":      ci.PolicyVersion,
		"compiler_version":    ci.CompilerVersion,
		"trust_snapshot_hash": ci.TrustSnapshotHash,
		"compile_time":        canonical.Datetime(ci.CompileTime),
	}
	if ci.SignedAtOverride != nil {
		out["signed_at_override"] = canonical.Datetime(*ci.SignedAtOverride)
	}
	return out
}

// SecurityBlock binds the state to its hashes and signature. No secret
// material ever appears here.
type SecurityBlock struct {
	SemanticHash  string    `json:"semantic_hash"`
	StateHash     string    `json:"state_hash"`
	Signature     string    `json:"signature"`
	SigningMethod string    `json:"signing_method"`
	KeyID         string    `json:"key_id"`
	SignedAt      time.Time `json:"signed_at"`
}

// TruthState is the compiler's output.
type TruthState struct {
	TruthKey          string               `json:"truth_key"`
	ClaimType         string               `json:"claim_type"`
	ClaimTypeHash     string               `json:"claim_type_hash"`
	Status            Status               `json:"status"`
	VerificationBasis VerificationBasis    `json:"verification_basis,omitempty"`
	Claim             map[string]any       `json:"claim"`
	AIConfidence      float64              `json:"ai_confidence"`
	Confidence        float64              `json:"confidence"`
	Breakdown         confidence.Breakdown `json:"confidence_breakdown"`
	TransparencyFlags []string             `json:"transparency_flags"`
	CompileInputs     CompileInputs        `json:"compile_inputs"`
	EvidenceRefs      []string             `json:"evidence_refs"`
	ObservationIDs    []string             `json:"observation_ids"`
	Security          SecurityBlock        `json:"security"`
}

// projection builds the canonical map hashed into the two digests. The
// semantic hash omits compile_time and compiler_version so that a
// re-compile of identical content at a later time is recognizably the
// same truth.
func (t *TruthState) projection(includeVolatile bool) map[string]any {
	inputs := map[string]any{
		"observation_ids":     append([]string(nil), t.CompileInputs.ObservationIDs...),
		"claim_type_id":       t.CompileInputs.ClaimTypeID,
		"claim_type_hash":     t.CompileInputs.ClaimTypeHash,
		"policy_version":      t.CompileInputs.PolicyVersion,
		"trust_snapshot_hash": t.CompileInputs.TrustSnapshotHash,
	}
	if includeVolatile {
		inputs["compile_time"] = canonical.Datetime(t.CompileInputs.CompileTime)
		inputs["compiler_version"] = t.CompileInputs.CompilerVersion
	}

	out := map[string]any{
		"truth_key":            t.TruthKey,
		"claim_type":           t.ClaimType,
		"claim_type_hash":      t.ClaimTypeHash,
		"status":               string(t.Status),
		"verification_basis":   string(t.VerificationBasis),
		"claim":                t.Claim,
		"ai_confidence":        t.AIConfidence,
		"confidence":           t.Confidence,
		"confidence_breakdown": t.Breakdown,
		"transparency_flags":   canonical.SortedStrings(t.TransparencyFlags),
		"compile_inputs":       inputs,
		"evidence_refs":        canonical.SortedStrings(t.EvidenceRefs),
		"observation_ids":      canonical.SortedStrings(t.ObservationIDs),
	}
	return out
}

// SemanticHash digests the state content without compile_time,
// compiler_version, or security.
func (t *TruthState) SemanticHash() (string, error) {
	return canonical.Hash(t.projection(false))
}

// StateHash digests the full state minus security.
func (t *TruthState) StateHash() (string, error) {
	return canonical.Hash(t.projection(true))
}

// SealHashes recomputes both digests into the security block, leaving
// signature fields untouched.
func (t *TruthState) SealHashes() error {
	semantic, err := t.SemanticHash()
	if err != nil {
		return err
	}
	state, err := t.StateHash()
	if err != nil {
		return err
	}
	t.Security.SemanticHash = semantic
	t.Security.StateHash = state
	return nil
}
