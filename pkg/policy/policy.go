// Package policy defines the versioned parameter bundle that governs
// trust dynamics. A policy is itself an agent (`policy:...`) with
// lineage; it carries the gains, bounds, decay, phase, tier, network,
// activity and role-weight parameters of the reducer and the trust
// computer. A few thresholds are literals in code, outside the bundle:
// the reducer's reckless (confidence >= 0.8) and calibrated (<= 0.5)
// cut-offs, and the trust computer's isolation-flag cut-off, grounding
// halving and activity windows (24 hours, 7 days). Downstream actors (contracts, probes) may
// only tighten θ_min, never loosen it below the policy baseline.
package policy

import (
	"fmt"
	"math"
	"os"
	"strings"

	"github.com/Masterminds/semver/v3"
	"gopkg.in/yaml.v3"

	"github.com/verity-protocol/verity/pkg/canonical"
	"github.com/verity-protocol/verity/pkg/fault"
)

// Trust phases.
const (
	PhaseDormant  = "dormant"
	PhaseActive   = "active"
	PhaseDominant = "dominant"
)

// Gains holds the standing delta coefficients per outcome kind.
type Gains struct {
	ObservationCorrect   float64 `yaml:"observation_correct" json:"observation_correct"`
	ObservationWrong     float64 `yaml:"observation_wrong" json:"observation_wrong"`
	VoteCorrect          float64 `yaml:"vote_correct" json:"vote_correct"`
	VoteWrong            float64 `yaml:"vote_wrong" json:"vote_wrong"`
	RecklessConfidence   float64 `yaml:"reckless_confidence" json:"reckless_confidence"`
	CalibratedConfidence float64 `yaml:"calibrated_confidence" json:"calibrated_confidence"`
}

// Bounds clamps standing.
type Bounds struct {
	Min float64 `yaml:"min" json:"min"`
	Max float64 `yaml:"max" json:"max"`
}

// Decay configures exponential regression toward initial standing over
// inactivity.
type Decay struct {
	Enabled  bool   `yaml:"enabled" json:"enabled"`
	HalfLife string `yaml:"half_life" json:"half_life"`
}

// Phases holds the phase-transition thresholds θ₁ and θ₂.
type Phases struct {
	Theta1 float64 `yaml:"theta1" json:"theta1"`
	Theta2 float64 `yaml:"theta2" json:"theta2"`
}

// Tiers maps standing to a derived class.
type Tiers struct {
	Silver    float64 `yaml:"silver" json:"silver"`
	Expert    float64 `yaml:"expert" json:"expert"`
	Authority float64 `yaml:"authority" json:"authority"`
}

// Network configures the topological modifiers of the trust computer.
type Network struct {
	MaxBonus                float64 `yaml:"max_bonus" json:"max_bonus"`
	HopDecay                float64 `yaml:"hop_decay" json:"hop_decay"`
	MaxHops                 int     `yaml:"max_hops" json:"max_hops"`
	VouchBonusPerEdge       float64 `yaml:"vouch_bonus_per_edge" json:"vouch_bonus_per_edge"`
	VoucherMinStanding      float64 `yaml:"voucher_min_standing" json:"voucher_min_standing"`
	SelfDealingFactor       float64 `yaml:"self_dealing_factor" json:"self_dealing_factor"`
	ProbeCreatorBonus       float64 `yaml:"probe_creator_bonus" json:"probe_creator_bonus"`
	ProbeCreatorMinStanding float64 `yaml:"probe_creator_min_standing" json:"probe_creator_min_standing"`
}

// Activity bounds the recent-activity multiplier.
type Activity struct {
	Min float64 `yaml:"min" json:"min"`
	Max float64 `yaml:"max" json:"max"`
}

// RoleWeights feed consensus weighting by signal role.
type RoleWeights struct {
	Observer  float64 `yaml:"observer" json:"observer"`
	Validator float64 `yaml:"validator" json:"validator"`
	Authority float64 `yaml:"authority" json:"authority"`
}

// Policy is one versioned parameter bundle.
type Policy struct {
	AgentID       string `yaml:"agent_id" json:"agent_id"`
	Version       string `yaml:"version" json:"version"`
	ParentVersion string `yaml:"parent_version,omitempty" json:"parent_version,omitempty"`

	InitialStanding float64            `yaml:"initial_standing" json:"initial_standing"`
	InitialByRole   map[string]float64 `yaml:"initial_by_role,omitempty" json:"initial_by_role,omitempty"`
	Bounds          Bounds             `yaml:"bounds" json:"bounds"`
	ThetaMin        float64            `yaml:"theta_min" json:"theta_min"`

	Gains  Gains   `yaml:"gains" json:"gains"`
	K      float64 `yaml:"k" json:"k"` // steepness of the bounded update
	Decay  Decay   `yaml:"decay" json:"decay"`
	Phases Phases  `yaml:"phases" json:"phases"`
	Tiers  Tiers   `yaml:"tiers" json:"tiers"`

	Network  Network     `yaml:"network" json:"network"`
	Activity Activity    `yaml:"activity" json:"activity"`
	Roles    RoleWeights `yaml:"role_weights" json:"role_weights"`

	// Guards are CEL expressions evaluated by the linter against the
	// archetype trajectories; all must hold for activation.
	Guards []string `yaml:"guards,omitempty" json:"guards,omitempty"`
}

// Default returns the baseline policy used in tests and bootstrap.
func Default() *Policy {
	return &Policy{
		AgentID:         "policy:flow_v1.0.0",
		Version:         "1.0.0",
		InitialStanding: 200,
		InitialByRole: map[string]float64{
			"observer": 200, "validator": 250, "expert": 350, "authority": 500, "policy": 500,
		},
		Bounds:   Bounds{Min: 0, Max: 1000},
		ThetaMin: 100,
		Gains: Gains{
			ObservationCorrect:   12,
			ObservationWrong:     -20,
			VoteCorrect:          6,
			VoteWrong:            -15,
			RecklessConfidence:   2.0,
			CalibratedConfidence: 1.25,
		},
		K:      450,
		Decay:  Decay{Enabled: true, HalfLife: "P60D"},
		Phases: Phases{Theta1: 300, Theta2: 700},
		Tiers:  Tiers{Silver: 300, Expert: 500, Authority: 700},
		Network: Network{
			MaxBonus:                1.1,
			HopDecay:                0.2,
			VouchBonusPerEdge:       0.02,
			MaxHops:                 3,
			VoucherMinStanding:      500,
			SelfDealingFactor:       0.5,
			ProbeCreatorBonus:       0.05,
			ProbeCreatorMinStanding: 500,
		},
		Activity: Activity{Min: 0.9, Max: 1.1},
		Roles:    RoleWeights{Observer: 1, Validator: 1, Authority: 2},
	}
}

// Load reads a policy YAML file and validates its lineage fields.
func Load(path string) (*Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("policy: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes a YAML policy body over the defaults.
func Parse(data []byte) (*Policy, error) {
	p := Default()
	if err := yaml.Unmarshal(data, p); err != nil {
		return nil, fault.Wrap(fault.PolicyUnknown, err, "unparseable policy body")
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

// Validate checks identity, lineage and bounds.
func (p *Policy) Validate() error {
	if !strings.HasPrefix(p.AgentID, "policy:") {
		return fault.Newf(fault.PolicyUnknown, "policy agent id %q must carry the policy: prefix", p.AgentID)
	}
	if _, err := semver.NewVersion(p.Version); err != nil {
		return fault.Newf(fault.PolicyUnknown, "policy version %q is not semver", p.Version)
	}
	if p.ParentVersion != "" {
		parent, err := semver.NewVersion(p.ParentVersion)
		if err != nil {
			return fault.Newf(fault.PolicyUnknown, "parent version %q is not semver", p.ParentVersion)
		}
		current := semver.MustParse(p.Version)
		if !current.GreaterThan(parent) {
			return fault.Newf(fault.PolicyUnknown, "version %s must exceed parent %s", p.Version, p.ParentVersion)
		}
	}
	if p.Bounds.Min >= p.Bounds.Max {
		return fault.New(fault.PolicyUnknown, "bounds.min must be below bounds.max")
	}
	if p.Phases.Theta1 >= p.Phases.Theta2 {
		return fault.New(fault.PolicyUnknown, "phases.theta1 must be below phases.theta2")
	}
	if p.K <= 0 {
		return fault.New(fault.PolicyUnknown, "k must be positive")
	}
	return nil
}

// Canonical returns the hashable projection of the bundle.
func (p *Policy) Canonical() map[string]any {
	return map[string]any{
		"agent_id":         strings.ToLower(p.AgentID),
		"version":          p.Version,
		"parent_version":   p.ParentVersion,
		"initial_standing": p.InitialStanding,
		"initial_by_role":  p.InitialByRole,
		"bounds":           map[string]any{"min": p.Bounds.Min, "max": p.Bounds.Max},
		"theta_min":        p.ThetaMin,
		"gains": map[string]any{
			"observation_correct":   p.Gains.ObservationCorrect,
			"observation_wrong":     p.Gains.ObservationWrong,
			"vote_correct":          p.Gains.VoteCorrect,
			"vote_wrong":            p.Gains.VoteWrong,
			"reckless_confidence":   p.Gains.RecklessConfidence,
			"calibrated_confidence": p.Gains.CalibratedConfidence,
		},
		"k":      p.K,
		"decay":  map[string]any{"enabled": p.Decay.Enabled, "half_life": strings.ToUpper(p.Decay.HalfLife)},
		"phases": map[string]any{"theta1": p.Phases.Theta1, "theta2": p.Phases.Theta2},
		"tiers":  map[string]any{"silver": p.Tiers.Silver, "expert": p.Tiers.Expert, "authority": p.Tiers.Authority},
		"network": map[string]any{
			"max_bonus":                  p.Network.MaxBonus,
			"hop_decay":                  p.Network.HopDecay,
			"vouch_bonus_per_edge":       p.Network.VouchBonusPerEdge,
			"max_hops":                   p.Network.MaxHops,
			"voucher_min_standing":       p.Network.VoucherMinStanding,
			"self_dealing_factor":        p.Network.SelfDealingFactor,
			"probe_creator_bonus":        p.Network.ProbeCreatorBonus,
			"probe_creator_min_standing": p.Network.ProbeCreatorMinStanding,
		},
		"activity":     map[string]any{"min": p.Activity.Min, "max": p.Activity.Max},
		"role_weights": map[string]any{"observer": p.Roles.Observer, "validator": p.Roles.Validator, "authority": p.Roles.Authority},
		"guards":       canonical.SortedStrings(p.Guards),
	}
}

// Hash identifies the exact parameter bundle.
func (p *Policy) Hash() (string, error) {
	return canonical.Hash(p.Canonical())
}

// Initial returns the bootstrap standing for a role.
func (p *Policy) Initial(role string) float64 {
	if v, ok := p.InitialByRole[strings.ToLower(role)]; ok {
		return v
	}
	return p.InitialStanding
}

// BoundedUpdate applies the nonlinear update:
// standing' = clamp(500 + 500·tanh((standing+Σdeltas − 500)/K)).
func (p *Policy) BoundedUpdate(standing, delta float64) float64 {
	x := standing + delta
	bounded := 500 + 500*math.Tanh((x-500)/p.K)
	if bounded < p.Bounds.Min {
		return p.Bounds.Min
	}
	if bounded > p.Bounds.Max {
		return p.Bounds.Max
	}
	return bounded
}

// Phase classifies a standing.
func (p *Policy) Phase(standing float64) string {
	switch {
	case standing < p.Phases.Theta1:
		return PhaseDormant
	case standing < p.Phases.Theta2:
		return PhaseActive
	default:
		return PhaseDominant
	}
}

// PhaseWeight maps standing to base voting weight: dormant agents carry
// a tenth of their standing, active agents their standing, dominant
// agents diminishing returns above θ₂.
func (p *Policy) PhaseWeight(standing float64) float64 {
	switch p.Phase(standing) {
	case PhaseDormant:
		return 0.1 * standing
	case PhaseActive:
		return standing
	default:
		return p.Phases.Theta2 + 0.3*(standing-p.Phases.Theta2)
	}
}

// Class derives the standing class from the tier thresholds.
func (p *Policy) Class(standing float64) string {
	switch {
	case standing < p.Tiers.Silver:
		return "bronze"
	case standing < p.Tiers.Expert:
		return "silver"
	case standing < p.Tiers.Authority:
		return "expert"
	default:
		return "authority"
	}
}
