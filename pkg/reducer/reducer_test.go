package reducer

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/verity-protocol/verity/pkg/fault"
	"github.com/verity-protocol/verity/pkg/policy"
	"github.com/verity-protocol/verity/pkg/signal"
)

var t0 = time.Date(2026, 1, 7, 0, 0, 0, 0, time.UTC)

func sealed(t *testing.T, s signal.Signal) signal.Signal {
	t.Helper()
	require.NoError(t, s.Seal())
	return s
}

func verified(t *testing.T, at time.Time, object, outcome string, contributors ...map[string]any) signal.Signal {
	payload := map[string]any{
		"outcome":    outcome,
		"claim_type": "earth.flood.v1",
	}
	if len(contributors) > 0 {
		items := make([]any, len(contributors))
		for i, c := range contributors {
			items[i] = c
		}
		payload["contributors"] = items
	}
	return sealed(t, signal.Signal{
		SignalType:    signal.TypeTruthVerified,
		Time:          at,
		AgentID:       "engine:compiler",
		ObjectID:      object,
		Payload:       payload,
		PolicyVersion: "1.0.0",
	})
}

func contributor(agent, position string, confidence float64) map[string]any {
	return map[string]any{"agent_id": agent, "position": position, "confidence": confidence}
}

func TestReduce_CorrectOutcomeRaisesStanding(t *testing.T) {
	pol := policy.Default()
	signals := []signal.Signal{
		verified(t, t0, "probe-1", "true", contributor("agent:a", "true", 0.7)),
	}
	res, err := Reduce(signals, pol, t0.Add(time.Hour), Options{})
	require.NoError(t, err)
	assert.Greater(t, res.Standings["agent:a"], pol.Initial("observer"))
	assert.Equal(t, 1, res.OutcomesCorrect["agent:a"]["earth.flood.v1"])
}

func TestReduce_WrongOutcomeLowersStanding(t *testing.T) {
	pol := policy.Default()
	signals := []signal.Signal{
		verified(t, t0, "probe-1", "false", contributor("agent:a", "true", 0.95)),
	}
	res, err := Reduce(signals, pol, t0.Add(time.Hour), Options{})
	require.NoError(t, err)
	assert.Less(t, res.Standings["agent:a"], pol.Initial("observer"))
	assert.Zero(t, res.OutcomesCorrect["agent:a"]["earth.flood.v1"])
	assert.Equal(t, 1, res.OutcomesTotal["agent:a"]["earth.flood.v1"])
}

func TestReduce_VotesSettleOnParentVerdict(t *testing.T) {
	pol := policy.Default()
	voteSig := sealed(t, signal.Signal{
		SignalType:    signal.TypeValidationVote,
		Time:          t0,
		AgentID:       "agent:voter",
		ObjectID:      "probe-1",
		Payload:       map[string]any{"vote": signal.VoteRatify, "confidence": 0.7},
		PolicyVersion: "1.0.0",
	})

	// Vote alone: deferred, no standing movement.
	res, err := Reduce([]signal.Signal{voteSig}, pol, t0.Add(time.Hour), Options{})
	require.NoError(t, err)
	assert.Equal(t, pol.Initial("observer"), res.Standings["agent:voter"])

	// Parent verdict arrives: the ratify was correct.
	res, err = Reduce([]signal.Signal{voteSig, verified(t, t0.Add(10*time.Minute), "probe-1", "true")},
		pol, t0.Add(time.Hour), Options{})
	require.NoError(t, err)
	assert.Greater(t, res.Standings["agent:voter"], pol.Initial("observer"))

	// Opposite verdict: the same ratify was wrong.
	res, err = Reduce([]signal.Signal{voteSig, verified(t, t0.Add(10*time.Minute), "probe-1", "false")},
		pol, t0.Add(time.Hour), Options{})
	require.NoError(t, err)
	assert.Less(t, res.Standings["agent:voter"], pol.Initial("observer"))
}

// Replay must be insensitive to input ordering: only (time, signal_id)
// order is authoritative.
func TestReduce_OrderIndependent(t *testing.T) {
	pol := policy.Default()
	var signals []signal.Signal
	for i := 0; i < 10; i++ {
		signals = append(signals, verified(t, t0.Add(time.Duration(i)*time.Minute),
			fmt.Sprintf("probe-%d", i), "true", contributor("agent:a", "true", 0.7)))
	}

	forward, err := Reduce(signals, pol, t0.Add(time.Hour), Options{})
	require.NoError(t, err)

	reversed := make([]signal.Signal, len(signals))
	for i := range signals {
		reversed[len(signals)-1-i] = signals[i]
	}
	backward, err := Reduce(reversed, pol, t0.Add(time.Hour), Options{})
	require.NoError(t, err)

	assert.Equal(t, forward.Standings, backward.Standings)
}

func TestReduce_IgnoresSignalsPastAsOf(t *testing.T) {
	pol := policy.Default()
	signals := []signal.Signal{
		verified(t, t0, "probe-1", "true", contributor("agent:a", "true", 0.7)),
		verified(t, t0.Add(2*time.Hour), "probe-2", "true", contributor("agent:a", "true", 0.7)),
	}

	early, err := Reduce(signals, pol, t0.Add(time.Hour), Options{})
	require.NoError(t, err)
	full, err := Reduce(signals, pol, t0.Add(3*time.Hour), Options{})
	require.NoError(t, err)
	assert.Less(t, early.Standings["agent:a"], full.Standings["agent:a"])
}

// Same log, two policy versions: distinct results, and each version
// exactly reproduces itself.
func TestReduce_PolicyIsolation(t *testing.T) {
	signals := []signal.Signal{
		verified(t, t0, "probe-1", "true", contributor("agent:a", "true", 0.7)),
		verified(t, t0.Add(time.Minute), "probe-2", "true", contributor("agent:a", "true", 0.7)),
	}

	v10 := policy.Default()
	v11 := policy.Default()
	v11.Version = "1.1.0"
	v11.ParentVersion = "1.0.0"
	v11.Gains.ObservationCorrect = 30

	asOf := t0.Add(time.Hour)
	a1, err := Reduce(signals, v10, asOf, Options{})
	require.NoError(t, err)
	b1, err := Reduce(signals, v11, asOf, Options{})
	require.NoError(t, err)
	assert.NotEqual(t, a1.Standings["agent:a"], b1.Standings["agent:a"])

	a2, err := Reduce(signals, v10, asOf, Options{})
	require.NoError(t, err)
	assert.Equal(t, a1.Standings, a2.Standings, "old policy reproduces old standings exactly")
}

func TestReduce_BoundedStandings(t *testing.T) {
	pol := policy.Default()
	var signals []signal.Signal
	for i := 0; i < 300; i++ {
		signals = append(signals, verified(t, t0.Add(time.Duration(i)*time.Minute),
			fmt.Sprintf("probe-up-%d", i), "true", contributor("agent:up", "true", 0.7)))
		signals = append(signals, verified(t, t0.Add(time.Duration(i)*time.Minute),
			fmt.Sprintf("probe-down-%d", i), "false", contributor("agent:down", "true", 0.95)))
	}
	res, err := Reduce(signals, pol, t0.Add(24*time.Hour), Options{})
	require.NoError(t, err)
	for agent, s := range res.Standings {
		assert.GreaterOrEqual(t, s, 0.0, agent)
		assert.LessOrEqual(t, s, 1000.0, agent)
	}
	assert.Greater(t, res.Standings["agent:up"], 700.0)
	assert.Less(t, res.Standings["agent:down"], pol.Initial("observer"))
}

func TestReduce_DecayTowardInitial(t *testing.T) {
	pol := policy.Default()
	signals := []signal.Signal{
		verified(t, t0, "probe-1", "true", contributor("agent:a", "true", 0.7)),
	}

	fresh, err := Reduce(signals, pol, t0.Add(time.Hour), Options{})
	require.NoError(t, err)

	// Two half-lives of inactivity pull most of the gain back.
	stale, err := Reduce(signals, pol, t0.Add(120*24*time.Hour), Options{})
	require.NoError(t, err)

	initial := pol.Initial("observer")
	assert.Less(t, stale.Standings["agent:a"], fresh.Standings["agent:a"])
	assert.Greater(t, stale.Standings["agent:a"], initial, "decay approaches initial, never crosses it")
}

func TestReduce_UnknownTypesAreRecordedNoOps(t *testing.T) {
	pol := policy.Default()
	odd := sealed(t, signal.Signal{
		SignalType:    "FUTURE_SIGNAL_TYPE",
		Time:          t0,
		AgentID:       "agent:a",
		ObjectID:      "x",
		PolicyVersion: "1.0.0",
	})
	res, err := Reduce([]signal.Signal{odd}, pol, t0.Add(time.Hour), Options{})
	require.NoError(t, err)
	assert.Equal(t, 1, res.UnknownTypes["FUTURE_SIGNAL_TYPE"])
	assert.Empty(t, res.Standings)
}

func TestReduce_MaxSignalsBound(t *testing.T) {
	pol := policy.Default()
	var signals []signal.Signal
	for i := 0; i < 5; i++ {
		signals = append(signals, verified(t, t0.Add(time.Duration(i)*time.Second),
			fmt.Sprintf("probe-%d", i), "true", contributor("agent:a", "true", 0.7)))
	}
	_, err := Reduce(signals, pol, t0.Add(time.Hour), Options{MaxSignals: 3})
	assert.Equal(t, fault.SignalStoreExhausted, fault.CodeOf(err))
}

func TestReduce_AgentRegisteredBootstrapsRole(t *testing.T) {
	pol := policy.Default()
	reg := sealed(t, signal.Signal{
		SignalType:    signal.TypeAgentRegistered,
		Time:          t0,
		AgentID:       "engine:registry",
		ObjectID:      "agent:authority-1",
		Payload:       map[string]any{"role": "authority"},
		PolicyVersion: "1.0.0",
	})
	res, err := Reduce([]signal.Signal{reg}, pol, t0.Add(time.Minute), Options{})
	require.NoError(t, err)
	assert.Equal(t, pol.Initial("authority"), res.Standings["agent:authority-1"])
	assert.Equal(t, "authority", res.Roles["agent:authority-1"])
}
