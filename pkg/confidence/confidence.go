// Package confidence computes the composite confidence score of a truth
// state: a weighted sum of declared components plus modifiers, clamped
// to [0,1] and quantized to six decimals. The full breakdown is kept for
// audit.
package confidence

import (
	"math"
	"time"

	"github.com/verity-protocol/verity/pkg/canonical"
	"github.com/verity-protocol/verity/pkg/contract"
	"github.com/verity-protocol/verity/pkg/temporal"
)

// Component names declared by contracts.
const (
	ComponentAI             = "ai_confidence"
	ComponentMultiSource    = "multi_source"
	ComponentEvidence       = "evidence_density"
	ComponentAgreementRatio = "agreement_ratio"
)

// Modifier names.
const (
	ModifierTimeDecay     = "time_decay"
	ModifierLowEvidence   = "low_evidence_penalty"
	ModifierContradiction = "contradiction_penalty"
)

// Inputs are the measured component values for one compile.
type Inputs struct {
	AIConfidence    float64
	MultiSource     float64 // 0..1, saturating in source count
	EvidenceDensity float64 // 0..1, evidence refs per observation
	AgreementRatio  float64 // 0..1
	Contradiction   bool
	EvidenceCount   int

	LatestEvidence time.Time
	CompileTime    time.Time
}

// Breakdown records inputs and outputs of the confidence computation.
type Breakdown struct {
	Components map[string]float64 `json:"components"`
	Modifiers  map[string]float64 `json:"modifiers"`
	RawScore   float64            `json:"raw_score"`
	FinalScore float64            `json:"final_score"`
}

// Compute evaluates the contract's confidence model over the inputs.
// Components the contract does not declare default to zero weight; when
// no components are declared at all, ai_confidence passes through with
// weight one, matching sparse contracts.
func Compute(ct *contract.ClaimType, in Inputs) (Breakdown, error) {
	values := map[string]float64{
		ComponentAI:             in.AIConfidence,
		ComponentMultiSource:    in.MultiSource,
		ComponentEvidence:       in.EvidenceDensity,
		ComponentAgreementRatio: in.AgreementRatio,
	}

	components := map[string]float64{}
	raw := 0.0
	if len(ct.Confidence.Components) == 0 {
		components[ComponentAI] = in.AIConfidence
		raw = in.AIConfidence
	} else {
		for name, cfg := range ct.Confidence.Components {
			contribution := cfg.Weight * values[name]
			components[name] = contribution
			raw += contribution
		}
	}

	modifiers := map[string]float64{}

	if hl := ct.Confidence.DecayHalfLife; hl != "" && !in.LatestEvidence.IsZero() {
		d, err := temporal.ParseDuration(hl)
		if err != nil {
			return Breakdown{}, err
		}
		lives := temporal.HalfLives(in.LatestEvidence, in.CompileTime, d)
		if lives > 0 {
			decayed := raw * math.Pow(0.5, lives)
			modifiers[ModifierTimeDecay] = decayed - raw
			raw = decayed
		}
	}

	if ct.Confidence.MinEvidence > 0 && in.EvidenceCount < ct.Confidence.MinEvidence {
		penalty := -ct.Confidence.LowEvidencePenalty
		modifiers[ModifierLowEvidence] = penalty
		raw += penalty
	}

	if in.Contradiction {
		modifiers[ModifierContradiction] = -0.2
		raw -= 0.2
	}

	final := raw
	if final < 0 {
		final = 0
	}
	if final > 1 {
		final = 1
	}

	qRaw, err := canonical.Quantize(raw)
	if err != nil {
		return Breakdown{}, err
	}
	qFinal, err := canonical.Quantize(final)
	if err != nil {
		return Breakdown{}, err
	}
	for k, v := range components {
		if components[k], err = canonical.Quantize(v); err != nil {
			return Breakdown{}, err
		}
	}
	for k, v := range modifiers {
		if modifiers[k], err = canonical.Quantize(v); err != nil {
			return Breakdown{}, err
		}
	}

	return Breakdown{
		Components: components,
		Modifiers:  modifiers,
		RawScore:   qRaw,
		FinalScore: qFinal,
	}, nil
}

// MultiSourceBonus saturates in the number of distinct reporters.
func MultiSourceBonus(distinctReporters int) float64 {
	if distinctReporters <= 1 {
		return 0
	}
	v := 1 - math.Pow(0.5, float64(distinctReporters-1))
	return v
}

// EvidenceDensity maps refs-per-observation onto [0,1].
func EvidenceDensity(evidenceRefs, observations int) float64 {
	if observations == 0 {
		return 0
	}
	d := float64(evidenceRefs) / float64(observations)
	if d > 1 {
		d = 1
	}
	return d
}
