package confidence

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/verity-protocol/verity/pkg/contract"
)

func model() *contract.ClaimType {
	c := &contract.ClaimType{ID: "earth.flood.v1", Version: 1, Domain: "earth", Topic: "flood"}
	c.Default()
	c.Confidence = contract.ConfidenceModel{
		Components: map[string]contract.ConfidenceComponent{
			ComponentAI:             {Weight: 0.8},
			ComponentMultiSource:    {Weight: 0.15},
			ComponentAgreementRatio: {Weight: 0.1},
		},
		LowEvidencePenalty: 0.1,
		MinEvidence:        1,
	}
	return c
}

func TestCompute_WeightedSum(t *testing.T) {
	b, err := Compute(model(), Inputs{
		AIConfidence:   0.91,
		MultiSource:    0.5,
		AgreementRatio: 0.94,
		EvidenceCount:  2,
	})
	require.NoError(t, err)

	want := 0.8*0.91 + 0.15*0.5 + 0.1*0.94
	assert.InDelta(t, want, b.FinalScore, 1e-6)
	assert.InDelta(t, 0.728, b.Components[ComponentAI], 1e-6)
	assert.Empty(t, b.Modifiers)
}

func TestCompute_ClampsToUnitInterval(t *testing.T) {
	c := model()
	c.Confidence.Components = map[string]contract.ConfidenceComponent{
		ComponentAI: {Weight: 2.0},
	}
	b, err := Compute(c, Inputs{AIConfidence: 0.9, EvidenceCount: 1})
	require.NoError(t, err)
	assert.Equal(t, 1.0, b.FinalScore)
	assert.Greater(t, b.RawScore, 1.0)
}

func TestCompute_LowEvidencePenalty(t *testing.T) {
	b, err := Compute(model(), Inputs{AIConfidence: 0.9, EvidenceCount: 0})
	require.NoError(t, err)
	assert.InDelta(t, -0.1, b.Modifiers[ModifierLowEvidence], 1e-9)
}

func TestCompute_ContradictionPenalty(t *testing.T) {
	b, err := Compute(model(), Inputs{AIConfidence: 0.9, Contradiction: true, EvidenceCount: 1})
	require.NoError(t, err)
	assert.InDelta(t, -0.2, b.Modifiers[ModifierContradiction], 1e-9)
}

func TestCompute_TimeDecay(t *testing.T) {
	c := model()
	c.Confidence.DecayHalfLife = "PT6H"

	latest := time.Date(2026, 1, 7, 0, 0, 0, 0, time.UTC)
	compile := latest.Add(6 * time.Hour)

	b, err := Compute(c, Inputs{AIConfidence: 1.0, EvidenceCount: 1, LatestEvidence: latest, CompileTime: compile})
	require.NoError(t, err)
	// One half-life halves the weighted sum (0.8 here).
	assert.InDelta(t, 0.4, b.FinalScore, 1e-6)
	assert.Negative(t, b.Modifiers[ModifierTimeDecay])
}

func TestCompute_DefaultsToAIPassThrough(t *testing.T) {
	c := &contract.ClaimType{ID: "meta.artifact.v1", Version: 1, Domain: "meta", Topic: "artifact"}
	c.Default()
	c.Key.SpatialSystem = "meta"

	b, err := Compute(c, Inputs{AIConfidence: 0.77, EvidenceCount: 1})
	require.NoError(t, err)
	assert.InDelta(t, 0.77, b.FinalScore, 1e-6)
}

func TestMultiSourceBonus(t *testing.T) {
	assert.Zero(t, MultiSourceBonus(1))
	assert.InDelta(t, 0.5, MultiSourceBonus(2), 1e-9)
	assert.InDelta(t, 0.75, MultiSourceBonus(3), 1e-9)
}

func TestEvidenceDensity(t *testing.T) {
	assert.Zero(t, EvidenceDensity(3, 0))
	assert.InDelta(t, 0.5, EvidenceDensity(1, 2), 1e-9)
	assert.Equal(t, 1.0, EvidenceDensity(5, 2))
}

func TestCompute_Quantized(t *testing.T) {
	b, err := Compute(model(), Inputs{AIConfidence: 1.0 / 3.0, EvidenceCount: 1})
	require.NoError(t, err)
	again, err := Compute(model(), Inputs{AIConfidence: 1.0 / 3.0, EvidenceCount: 1})
	require.NoError(t, err)
	assert.Equal(t, b, again)
}
