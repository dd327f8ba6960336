// Package contract defines the immutable ClaimType contract: how a claim
// forms its truth key, which lane verifies it, how votes are weighted,
// how confidence is composed, and what shape the derived claim payload
// must satisfy. Contracts are identified by {namespace.name.vMAJOR} and
// by the canonical hash of their full body; released contracts are never
// mutated, new versions supersede.
package contract

import (
	"strings"

	"github.com/verity-protocol/verity/pkg/canonical"
	"github.com/verity-protocol/verity/pkg/fault"
)

// Risk profiles select the verification lane.
const (
	RiskMonitor  = "monitor"
	RiskCritical = "critical"
)

// KeyConfig governs truth-key formation for a contract.
type KeyConfig struct {
	SpatialSystem string `yaml:"spatial_system" json:"spatial_system"`
	Resolution    int    `yaml:"resolution" json:"resolution"`
	ZIndex        string `yaml:"z_index" json:"z_index"`
	TimeBucket    string `yaml:"time_bucket" json:"time_bucket"`
	IDStrategy    string `yaml:"id_strategy,omitempty" json:"id_strategy,omitempty"`
}

// ConsensusModel configures weighted-threshold voting for the contract.
type ConsensusModel struct {
	Type                  string             `yaml:"type" json:"type"`
	FinalizeThreshold     float64            `yaml:"finalize_threshold" json:"finalize_threshold"`
	RejectThreshold       float64            `yaml:"reject_threshold" json:"reject_threshold"`
	WeightedRoles         map[string]float64 `yaml:"weighted_roles" json:"weighted_roles"`
	HumanQuorum           int                `yaml:"human_quorum" json:"human_quorum"`
	DisagreementThreshold float64            `yaml:"disagreement_threshold" json:"disagreement_threshold"`
	ThetaMin              float64            `yaml:"theta_min" json:"theta_min"`
	OverrideValue         float64            `yaml:"override_value" json:"override_value"`
}

// Autovalidation holds the AI thresholds for the monitor lane.
type Autovalidation struct {
	TrueThreshold  float64 `yaml:"ai_verified_true_threshold" json:"ai_verified_true_threshold"`
	FalseThreshold float64 `yaml:"ai_verified_false_threshold" json:"ai_verified_false_threshold"`
}

// ConfidenceComponent is one weighted input to composite confidence.
type ConfidenceComponent struct {
	Weight float64 `yaml:"weight" json:"weight"`
}

// ConfidenceModel declares the composite confidence formula.
type ConfidenceModel struct {
	Components         map[string]ConfidenceComponent `yaml:"components" json:"components"`
	LowEvidencePenalty float64                        `yaml:"low_evidence_penalty" json:"low_evidence_penalty"`
	MinEvidence        int                            `yaml:"min_evidence" json:"min_evidence"`
	DecayHalfLife      string                         `yaml:"decay_half_life" json:"decay_half_life"`
}

// TemporalDecay bounds how long a verdict stays fresh.
type TemporalDecay struct {
	HalfLife    string `yaml:"half_life" json:"half_life"`
	MaxValidity string `yaml:"max_validity" json:"max_validity"`
}

// Evidence declares the evidence requirements of the contract.
type Evidence struct {
	Required bool `yaml:"required" json:"required"`
	MinRefs  int  `yaml:"min_refs" json:"min_refs"`
}

// Derivation selects how the claim payload is derived from observations.
type Derivation struct {
	NumericFields    []string `yaml:"numeric_fields" json:"numeric_fields"`
	EnumFields       []string `yaml:"enum_fields" json:"enum_fields"`
	NumericPrecision int      `yaml:"numeric_precision" json:"numeric_precision"`
}

// ClaimType is the full contract body.
type ClaimType struct {
	ID          string `yaml:"id" json:"id"`
	Version     int    `yaml:"version" json:"version"`
	Domain      string `yaml:"domain" json:"domain"`
	Topic       string `yaml:"topic" json:"topic"`
	RiskProfile string `yaml:"risk_profile" json:"risk_profile"`

	Key            KeyConfig       `yaml:"truthkey" json:"truthkey"`
	Consensus      ConsensusModel  `yaml:"consensus_model" json:"consensus_model"`
	Autovalidation Autovalidation  `yaml:"autovalidation" json:"autovalidation"`
	Confidence     ConfidenceModel `yaml:"confidence_model" json:"confidence_model"`
	Decay          TemporalDecay   `yaml:"temporal_decay" json:"temporal_decay"`
	Evidence       Evidence        `yaml:"evidence" json:"evidence"`
	Derivation     Derivation      `yaml:"derivation" json:"derivation"`

	// Exactly one of OutputSchema (inline) or OutputSchemaRef is set.
	OutputSchema    map[string]any `yaml:"output_schema,omitempty" json:"output_schema,omitempty"`
	OutputSchemaRef string         `yaml:"output_schema_ref,omitempty" json:"output_schema_ref,omitempty"`
}

// Default fills the fields a sparse YAML contract may omit.
func (c *ClaimType) Default() {
	if c.RiskProfile == "" {
		c.RiskProfile = RiskMonitor
	}
	if c.Key.SpatialSystem == "" {
		c.Key.SpatialSystem = "h3"
	}
	if c.Key.Resolution == 0 {
		c.Key.Resolution = 8
	}
	if c.Key.ZIndex == "" {
		c.Key.ZIndex = "surface"
	}
	if c.Key.TimeBucket == "" {
		c.Key.TimeBucket = "PT1H"
	}
	if c.Consensus.Type == "" {
		c.Consensus.Type = "weighted_threshold"
	}
	if c.Consensus.FinalizeThreshold == 0 {
		c.Consensus.FinalizeThreshold = 15
	}
	if c.Consensus.RejectThreshold == 0 {
		c.Consensus.RejectThreshold = -10
	}
	if c.Consensus.WeightedRoles == nil {
		c.Consensus.WeightedRoles = map[string]float64{
			"bronze": 1, "silver": 3, "expert": 7, "authority": 10,
		}
	}
	if c.Consensus.DisagreementThreshold == 0 {
		c.Consensus.DisagreementThreshold = 0.30
	}
	if c.Autovalidation.TrueThreshold == 0 {
		c.Autovalidation.TrueThreshold = 0.82
	}
	if c.Autovalidation.FalseThreshold == 0 {
		c.Autovalidation.FalseThreshold = 0.20
	}
	if c.Decay.HalfLife == "" {
		c.Decay.HalfLife = "PT6H"
	}
	if c.Decay.MaxValidity == "" {
		c.Decay.MaxValidity = "P3D"
	}
	if c.Derivation.NumericPrecision == 0 {
		c.Derivation.NumericPrecision = 2
	}
}

// Validate checks contract invariants: id shape, lane, and the
// domain/spatial-system compatibility rules.
func (c *ClaimType) Validate() error {
	idParts := strings.Split(c.ID, ".")
	if len(idParts) < 3 || !strings.HasPrefix(idParts[len(idParts)-1], "v") {
		return fault.Newf(fault.ContractMissing, "contract id %q must be namespace.name.vMAJOR", c.ID)
	}
	if c.RiskProfile != RiskMonitor && c.RiskProfile != RiskCritical {
		return fault.Newf(fault.ContractMissing, "unknown risk profile %q", c.RiskProfile)
	}

	domain := strings.ToLower(c.Domain)
	system := strings.ToLower(c.Key.SpatialSystem)
	allowed := map[string][]string{
		"earth": {"h3", "geohash", "custom"},
		"ocean": {"h3", "geohash", "custom"},
		"space": {"healpix"},
		"meta":  {"meta"},
	}
	if systems, ok := allowed[domain]; ok {
		found := false
		for _, s := range systems {
			if s == system {
				found = true
				break
			}
		}
		if !found {
			return fault.Newf(fault.SpatialSystemUnsupported,
				"domain %q does not support spatial system %q", domain, system)
		}
	}
	if system != "meta" && c.Key.IDStrategy != "" && c.Key.IDStrategy != "content_hash" {
		return fault.Newf(fault.ContractMissing,
			"id_strategy only applies to meta claims, got spatial system %q", system)
	}
	return nil
}

// Canonical returns the projection hashed to identify the contract.
func (c *ClaimType) Canonical() map[string]any {
	keyCfg := map[string]any{
		"spatial_system": strings.ToLower(c.Key.SpatialSystem),
		"resolution":     c.Key.Resolution,
		"z_index":        strings.ToLower(c.Key.ZIndex),
		"time_bucket":    strings.ToUpper(c.Key.TimeBucket),
	}
	if strings.ToLower(c.Key.SpatialSystem) == "meta" {
		strategy := c.Key.IDStrategy
		if strategy == "" {
			strategy = "content_hash"
		}
		keyCfg["id_strategy"] = strings.ToLower(strategy)
	}

	components := map[string]any{}
	for name, comp := range c.Confidence.Components {
		components[strings.ToLower(name)] = map[string]any{"weight": comp.Weight}
	}

	out := map[string]any{
		"id":           strings.ToLower(c.ID),
		"version":      c.Version,
		"domain":       strings.ToLower(c.Domain),
		"topic":        strings.ToLower(c.Topic),
		"risk_profile": strings.ToLower(c.RiskProfile),
		"truthkey":     keyCfg,
		"consensus_model": map[string]any{
			"type":                   c.Consensus.Type,
			"finalize_threshold":     c.Consensus.FinalizeThreshold,
			"reject_threshold":       c.Consensus.RejectThreshold,
			"weighted_roles":         c.Consensus.WeightedRoles,
			"human_quorum":           c.Consensus.HumanQuorum,
			"disagreement_threshold": c.Consensus.DisagreementThreshold,
			"theta_min":              c.Consensus.ThetaMin,
		},
		"autovalidation": map[string]any{
			"ai_verified_true_threshold":  c.Autovalidation.TrueThreshold,
			"ai_verified_false_threshold": c.Autovalidation.FalseThreshold,
		},
		"confidence_model": map[string]any{
			"components":           components,
			"low_evidence_penalty": c.Confidence.LowEvidencePenalty,
			"min_evidence":         c.Confidence.MinEvidence,
			"decay_half_life":      strings.ToUpper(c.Confidence.DecayHalfLife),
		},
		"temporal_decay": map[string]any{
			"half_life":    strings.ToUpper(c.Decay.HalfLife),
			"max_validity": strings.ToUpper(c.Decay.MaxValidity),
		},
		"evidence": map[string]any{
			"required": c.Evidence.Required,
			"min_refs": c.Evidence.MinRefs,
		},
		"derivation": map[string]any{
			"numeric_fields":    canonical.SortedStrings(c.Derivation.NumericFields),
			"enum_fields":       canonical.SortedStrings(c.Derivation.EnumFields),
			"numeric_precision": c.Derivation.NumericPrecision,
		},
	}
	if c.OutputSchema != nil {
		out["output_schema"] = c.OutputSchema
	}
	if c.OutputSchemaRef != "" {
		out["output_schema_ref"] = c.OutputSchemaRef
	}
	return out
}

// Hash computes the canonical contract hash identifying this exact
// contract version.
func (c *ClaimType) Hash() (string, error) {
	return canonical.Hash(c.Canonical())
}

// VoteWeight returns the consensus weight for a standing class.
func (c *ClaimType) VoteWeight(class string) float64 {
	if w, ok := c.Consensus.WeightedRoles[strings.ToLower(class)]; ok {
		return w
	}
	return 1
}
