package trust

import (
	"time"

	"github.com/google/uuid"

	"github.com/verity-protocol/verity/pkg/canonical"
	"github.com/verity-protocol/verity/pkg/policy"
	"github.com/verity-protocol/verity/pkg/reducer"
	"github.com/verity-protocol/verity/pkg/signal"
	"github.com/verity-protocol/verity/pkg/snapshot"
)

// Context describes the compilation context a snapshot is built for.
// Trust is local: the same standings produce different effective powers
// under different contexts.
type Context struct {
	ClaimTypeID    string
	SnapshotTime   time.Time
	ProbeID        string
	ProbeCreatorID string
	AgentIDs       []string
}

// Computer derives effective trust under one policy.
type Computer struct {
	Policy *policy.Policy
}

// NewComputer builds a computer for a policy.
func NewComputer(p *policy.Policy) *Computer {
	return &Computer{Policy: p}
}

// BuildSnapshot queries the reducer result for standings, computes the
// contextual modifiers for every requested agent, and freezes the
// result under its canonical hash.
//
// Bounded: vouch inheritance depth ≤ policy max hops (3), decayed per
// hop, cycles broken by a visited set.
func (c *Computer) BuildSnapshot(ctx Context, red *reducer.Result, signals []signal.Signal) (*snapshot.Snapshot, error) {
	g := buildGraph(signals)

	trusts := make(map[string]snapshot.AgentTrust, len(ctx.AgentIDs))
	for _, agentID := range ctx.AgentIDs {
		standing, ok := red.Standings[agentID]
		if !ok {
			standing = c.Policy.Initial("observer")
		}
		trusts[agentID] = c.agentTrust(ctx, agentID, standing, red, g)
	}

	return snapshot.New(
		uuid.NewString(),
		ctx.SnapshotTime,
		c.Policy.AgentID,
		c.Policy.Version,
		trusts,
	)
}

func (c *Computer) agentTrust(ctx Context, agentID string, standing float64, red *reducer.Result, g *graph) snapshot.AgentTrust {
	var flags []string
	mods := map[string]float64{}

	mods["domain_affinity"] = c.domainAffinity(agentID, ctx.ClaimTypeID, red)
	mods["network_position"] = c.networkPosition(agentID, red, g)

	isolation, grounded := c.isolationPenalty(agentID, red, g)
	mods["isolation"] = isolation
	if isolation < 0.5 {
		flags = append(flags, snapshot.FlagIsolation)
	}
	if grounded {
		flags = append(flags, snapshot.FlagGrounded)
	}

	mods["recent_activity"] = c.activityMultiplier(agentID, ctx.SnapshotTime, red)

	selfDealing := 1.0
	if ctx.ProbeCreatorID != "" && ctx.ProbeCreatorID == agentID {
		selfDealing = c.Policy.Network.SelfDealingFactor
		flags = append(flags, snapshot.FlagSelfDealing)
	} else if ctx.ProbeCreatorID != "" {
		creatorStanding := red.Standings[ctx.ProbeCreatorID]
		if creatorStanding >= c.Policy.Network.ProbeCreatorMinStanding {
			selfDealing = 1 + c.Policy.Network.ProbeCreatorBonus
		}
	}
	mods["probe_context"] = selfDealing

	if c.Policy.Phase(standing) == policy.PhaseDormant {
		flags = append(flags, snapshot.FlagDormant)
	}

	effective := c.Policy.PhaseWeight(standing)
	for _, m := range []string{"domain_affinity", "network_position", "isolation", "recent_activity", "probe_context"} {
		effective *= mods[m]
	}

	effective, _ = canonical.Quantize(effective)
	for k, v := range mods {
		mods[k], _ = canonical.Quantize(v)
	}

	return snapshot.AgentTrust{
		AgentID:          agentID,
		EffectivePower:   effective,
		Standing:         standing,
		DerivedClass:     c.Policy.Class(standing),
		Flags:            canonical.SortedStrings(flags),
		ContextModifiers: mods,
	}
}

// domainAffinity is the ratio of correct outcomes in the claim type to
// total outcomes there, mapped onto [0.5, 1.0]; agents without history
// in the type are neutral.
func (c *Computer) domainAffinity(agentID, claimTypeID string, red *reducer.Result) float64 {
	if claimTypeID == "" {
		return 1.0
	}
	total := red.OutcomesTotal[agentID][claimTypeID]
	if total == 0 {
		return 1.0
	}
	ratio := float64(red.OutcomesCorrect[agentID][claimTypeID]) / float64(total)
	return 0.5 + 0.5*ratio
}

// networkPosition grants a small multiplier for inbound vouches from
// high-standing agents within the hop bound, decayed per hop.
func (c *Computer) networkPosition(agentID string, red *reducer.Result, g *graph) float64 {
	n := c.Policy.Network
	bonus := 0.0
	for _, v := range g.inboundVouchers(agentID, n.MaxHops) {
		if red.Standings[v.agentID] < n.VoucherMinStanding {
			continue
		}
		decay := 1 - n.HopDecay*float64(v.hop-1)
		if decay <= 0 {
			continue
		}
		bonus += n.VouchBonusPerEdge * decay
	}
	multiplier := 1 + bonus
	if multiplier > n.MaxBonus {
		multiplier = n.MaxBonus
	}
	return multiplier
}

// isolationPenalty computes (1 − I) where I = internal/(internal +
// external + 1) over the agent's collaborations. Reciprocal vouches and
// shared squads count as internal. Grounding halves I: it is approximated
// by a vouch, in either direction, with a collaborator at or above
// voucher_min_standing; the age of that vouch is not considered.
func (c *Computer) isolationPenalty(agentID string, red *reducer.Result, g *graph) (float64, bool) {
	collabs := g.collaborators(agentID)
	if len(collabs) == 0 {
		return 1.0, false
	}

	internal, external := 0, 0
	grounded := false
	for _, other := range collabs {
		if g.reciprocal(agentID, other) {
			internal++
		} else {
			external++
		}
		if red.Standings[other] >= c.Policy.Network.VoucherMinStanding {
			grounded = true
		}
	}

	isolation := float64(internal) / float64(internal+external+1)
	if grounded {
		isolation /= 2
	}
	return 1 - isolation, grounded
}

// activityMultiplier rewards recent activity and dampens dormancy,
// inside the policy's [min, max] band.
func (c *Computer) activityMultiplier(agentID string, at time.Time, red *reducer.Result) float64 {
	last, ok := red.LastActivity[agentID]
	if !ok {
		return c.Policy.Activity.Min
	}
	idle := at.Sub(last)
	switch {
	case idle <= 24*time.Hour:
		return c.Policy.Activity.Max
	case idle <= 7*24*time.Hour:
		return 1.0
	default:
		return c.Policy.Activity.Min
	}
}
