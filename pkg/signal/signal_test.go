package signal

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func vote(at time.Time, agent string) Signal {
	return Signal{
		SignalType:    TypeValidationVote,
		Time:          at,
		AgentID:       agent,
		ObjectID:      "earth:flood:h3:cell:surface:2026-01-07T12:00Z",
		Payload:       map[string]any{"vote": VoteRatify, "confidence": 0.8},
		PolicyVersion: "1.0.0",
	}
}

func TestSeal_ContentAddressed(t *testing.T) {
	at := time.Date(2026, 1, 7, 11, 30, 0, 0, time.UTC)

	a := vote(at, "agent:v1")
	require.NoError(t, a.Seal())
	b := vote(at, "agent:v1")
	require.NoError(t, b.Seal())
	assert.Equal(t, a.SignalID, b.SignalID, "identical envelopes share an id")

	c := vote(at, "agent:v2")
	require.NoError(t, c.Seal())
	assert.NotEqual(t, a.SignalID, c.SignalID)
}

func TestSeal_TruncatesToSeconds(t *testing.T) {
	s := vote(time.Date(2026, 1, 7, 11, 30, 0, 999999999, time.UTC), "agent:v1")
	require.NoError(t, s.Seal())
	assert.Zero(t, s.Time.Nanosecond())
}

func TestVerifyID_DetectsMutation(t *testing.T) {
	s := vote(time.Date(2026, 1, 7, 11, 30, 0, 0, time.UTC), "agent:v1")
	require.NoError(t, s.Seal())
	require.NoError(t, s.VerifyID())

	s.Payload["vote"] = VoteReject
	assert.Error(t, s.VerifyID())
}

func TestSeal_RejectsZeroTime(t *testing.T) {
	s := Signal{SignalType: TypeVouch, AgentID: "a", ObjectID: "b"}
	assert.Error(t, s.Seal())
}

func TestLess_OrdersByTimeThenID(t *testing.T) {
	early := vote(time.Date(2026, 1, 7, 10, 0, 0, 0, time.UTC), "agent:v1")
	late := vote(time.Date(2026, 1, 7, 11, 0, 0, 0, time.UTC), "agent:v1")
	require.NoError(t, early.Seal())
	require.NoError(t, late.Seal())
	assert.True(t, early.Less(&late))
	assert.False(t, late.Less(&early))

	// Same instant: lexicographic id tiebreak.
	a := vote(early.Time, "agent:a")
	b := vote(early.Time, "agent:b")
	require.NoError(t, a.Seal())
	require.NoError(t, b.Seal())
	assert.Equal(t, a.SignalID < b.SignalID, a.Less(&b))
}

func TestReconstructWindow(t *testing.T) {
	open := Signal{
		SignalType: TypeWindowOpened,
		Time:       time.Date(2026, 1, 7, 10, 0, 0, 0, time.UTC),
		AgentID:    "agent:orchestrator",
		ObjectID:   "window-1",
		Payload: map[string]any{
			"truth_key":   "earth:flood:h3:cell:surface:2026-01-07T10:00Z",
			"probe_id":    "probe-9",
			"policy_hash": "abcd",
			"t_close":     "2026-01-07T12:00:00Z",
		},
		PolicyVersion: "1.0.0",
	}
	extend := Signal{
		SignalType:    TypeWindowExtended,
		Time:          time.Date(2026, 1, 7, 11, 0, 0, 0, time.UTC),
		AgentID:       "agent:orchestrator",
		ObjectID:      "window-1",
		Payload:       map[string]any{"t_close": "2026-01-07T14:00:00Z"},
		PolicyVersion: "1.0.0",
	}
	for _, s := range []*Signal{&open, &extend} {
		require.NoError(t, s.Seal())
	}

	w, err := ReconstructWindow("window-1", []Signal{open, extend})
	require.NoError(t, err)
	assert.Equal(t, "probe-9", w.ProbeID)
	assert.Equal(t, time.Date(2026, 1, 7, 14, 0, 0, 0, time.UTC), w.ClosesAt)
	assert.True(t, w.OpenAt(time.Date(2026, 1, 7, 13, 0, 0, 0, time.UTC)))
	assert.False(t, w.OpenAt(time.Date(2026, 1, 7, 15, 0, 0, 0, time.UTC)))
}

func TestReconstructWindow_MissingOpen(t *testing.T) {
	_, err := ReconstructWindow("window-x", nil)
	assert.Error(t, err)
}
