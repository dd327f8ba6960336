package trust

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/verity-protocol/verity/pkg/policy"
	"github.com/verity-protocol/verity/pkg/reducer"
	"github.com/verity-protocol/verity/pkg/signal"
	"github.com/verity-protocol/verity/pkg/snapshot"
)

var t0 = time.Date(2026, 1, 7, 0, 0, 0, 0, time.UTC)

func sealed(t *testing.T, s signal.Signal) signal.Signal {
	t.Helper()
	require.NoError(t, s.Seal())
	return s
}

func vouch(t *testing.T, from, to string, at time.Time) signal.Signal {
	return sealed(t, signal.Signal{
		SignalType:    signal.TypeVouch,
		Time:          at,
		AgentID:       from,
		ObjectID:      to,
		PolicyVersion: "1.0.0",
	})
}

func reduced(standings map[string]float64, lastActivity map[string]time.Time) *reducer.Result {
	if lastActivity == nil {
		lastActivity = map[string]time.Time{}
	}
	return &reducer.Result{
		Standings:       standings,
		Roles:           map[string]string{},
		LastActivity:    lastActivity,
		OutcomesCorrect: map[string]map[string]int{},
		OutcomesTotal:   map[string]map[string]int{},
		UnknownTypes:    map[string]int{},
	}
}

// A closed ring of mutual vouches earns the isolation flag and loses
// nearly all effective power.
func TestBuildSnapshot_SybilRing(t *testing.T) {
	pol := policy.Default()
	computer := NewComputer(pol)

	standings := map[string]float64{}
	activity := map[string]time.Time{}
	var agents []string
	var signals []signal.Signal
	for i := 0; i < 10; i++ {
		id := fmt.Sprintf("agent:ring-%02d", i)
		agents = append(agents, id)
		standings[id] = 150
		activity[id] = t0
	}
	for i, a := range agents {
		for j, b := range agents {
			if i == j {
				continue
			}
			signals = append(signals, vouch(t, a, b, t0))
		}
	}

	snap, err := computer.BuildSnapshot(Context{
		ClaimTypeID:  "earth.flood.v1",
		SnapshotTime: t0.Add(time.Hour),
		AgentIDs:     agents,
	}, reduced(standings, activity), signals)
	require.NoError(t, err)

	for _, id := range agents {
		entry := snap.AgentTrusts[id]
		assert.Contains(t, entry.Flags, snapshot.FlagIsolation, id)
		// I = 9/(9+0+1) = 0.9; the penalty leaves a tenth of raw power.
		assert.InDelta(t, 0.1, entry.ContextModifiers["isolation"], 1e-6, id)
		raw := pol.PhaseWeight(150) * entry.ContextModifiers["network_position"] *
			entry.ContextModifiers["recent_activity"]
		assert.LessOrEqual(t, entry.EffectivePower, raw*0.100001, id)
	}
}

func TestBuildSnapshot_ExternalVouchesAreNotIsolation(t *testing.T) {
	pol := policy.Default()
	computer := NewComputer(pol)

	signals := []signal.Signal{
		vouch(t, "agent:authority-1", "agent:honest", t0),
	}
	standings := map[string]float64{"agent:honest": 400, "agent:authority-1": 800}

	snap, err := computer.BuildSnapshot(Context{
		ClaimTypeID:  "earth.flood.v1",
		SnapshotTime: t0.Add(time.Hour),
		AgentIDs:     []string{"agent:honest"},
	}, reduced(standings, map[string]time.Time{"agent:honest": t0}), signals)
	require.NoError(t, err)

	entry := snap.AgentTrusts["agent:honest"]
	assert.NotContains(t, entry.Flags, snapshot.FlagIsolation)
	assert.Equal(t, 1.0, entry.ContextModifiers["isolation"])
	assert.Greater(t, entry.ContextModifiers["network_position"], 1.0,
		"an inbound vouch from a high-standing agent is a bonus")
}

func TestNetworkPosition_Capped(t *testing.T) {
	pol := policy.Default()
	computer := NewComputer(pol)

	// Forty direct high-standing vouchers would exceed the cap.
	standings := map[string]float64{"agent:popular": 400}
	var signals []signal.Signal
	for i := 0; i < 40; i++ {
		id := fmt.Sprintf("agent:voucher-%02d", i)
		standings[id] = 800
		signals = append(signals, vouch(t, id, "agent:popular", t0))
	}

	snap, err := computer.BuildSnapshot(Context{
		SnapshotTime: t0.Add(time.Hour),
		AgentIDs:     []string{"agent:popular"},
	}, reduced(standings, nil), signals)
	require.NoError(t, err)

	assert.Equal(t, pol.Network.MaxBonus,
		snap.AgentTrusts["agent:popular"].ContextModifiers["network_position"],
		"network bonus saturates at the policy cap")
}

func TestNetworkPosition_CycleSafe(t *testing.T) {
	pol := policy.Default()
	computer := NewComputer(pol)

	// a -> b -> c -> a plus an inbound voucher; traversal must end.
	signals := []signal.Signal{
		vouch(t, "agent:a", "agent:b", t0),
		vouch(t, "agent:b", "agent:c", t0),
		vouch(t, "agent:c", "agent:a", t0),
		vouch(t, "agent:root", "agent:a", t0),
	}
	standings := map[string]float64{
		"agent:a": 400, "agent:b": 600, "agent:c": 600, "agent:root": 800,
	}

	snap, err := computer.BuildSnapshot(Context{
		SnapshotTime: t0.Add(time.Hour),
		AgentIDs:     []string{"agent:a", "agent:b", "agent:c"},
	}, reduced(standings, nil), signals)
	require.NoError(t, err)
	require.Len(t, snap.AgentTrusts, 3)
}

func TestBuildSnapshot_SelfDealing(t *testing.T) {
	pol := policy.Default()
	computer := NewComputer(pol)

	snap, err := computer.BuildSnapshot(Context{
		ClaimTypeID:    "earth.flood.v1",
		SnapshotTime:   t0,
		ProbeID:        "probe-1",
		ProbeCreatorID: "agent:creator",
		AgentIDs:       []string{"agent:creator", "agent:other"},
	}, reduced(map[string]float64{"agent:creator": 600, "agent:other": 400}, nil), nil)
	require.NoError(t, err)

	creator := snap.AgentTrusts["agent:creator"]
	assert.Contains(t, creator.Flags, snapshot.FlagSelfDealing)
	assert.Equal(t, pol.Network.SelfDealingFactor, creator.ContextModifiers["probe_context"])

	other := snap.AgentTrusts["agent:other"]
	assert.Equal(t, 1+pol.Network.ProbeCreatorBonus, other.ContextModifiers["probe_context"],
		"high-standing creator grants others a small bonus")
}

func TestBuildSnapshot_DomainAffinity(t *testing.T) {
	pol := policy.Default()
	computer := NewComputer(pol)

	red := reduced(map[string]float64{"agent:a": 400}, nil)
	red.OutcomesTotal["agent:a"] = map[string]int{"earth.flood.v1": 4}
	red.OutcomesCorrect["agent:a"] = map[string]int{"earth.flood.v1": 3}

	snap, err := computer.BuildSnapshot(Context{
		ClaimTypeID:  "earth.flood.v1",
		SnapshotTime: t0,
		AgentIDs:     []string{"agent:a"},
	}, red, nil)
	require.NoError(t, err)

	assert.InDelta(t, 0.875, snap.AgentTrusts["agent:a"].ContextModifiers["domain_affinity"], 1e-6)
}

func TestBuildSnapshot_HashDeterministic(t *testing.T) {
	pol := policy.Default()
	computer := NewComputer(pol)

	build := func() string {
		snap, err := computer.BuildSnapshot(Context{
			ClaimTypeID:  "earth.flood.v1",
			SnapshotTime: t0,
			AgentIDs:     []string{"agent:a", "agent:b"},
		}, reduced(map[string]float64{"agent:a": 400, "agent:b": 250}, nil), nil)
		require.NoError(t, err)
		return snap.SnapshotHash
	}
	assert.Equal(t, build(), build(), "snapshot ids differ, hashes must not")
}

func TestBuildSnapshot_PolicyVersionsDiverge(t *testing.T) {
	v10 := policy.Default()
	v11 := policy.Default()
	v11.Version = "1.1.0"
	v11.ParentVersion = "1.0.0"

	red := reduced(map[string]float64{"agent:a": 400}, nil)
	ctx := Context{ClaimTypeID: "earth.flood.v1", SnapshotTime: t0, AgentIDs: []string{"agent:a"}}

	a, err := NewComputer(v10).BuildSnapshot(ctx, red, nil)
	require.NoError(t, err)
	b, err := NewComputer(v11).BuildSnapshot(ctx, red, nil)
	require.NoError(t, err)

	assert.NotEqual(t, a.SnapshotHash, b.SnapshotHash,
		"the hash covers the policy version even when parameters agree")
}
