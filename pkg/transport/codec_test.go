package transport

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/verity-protocol/verity/pkg/signal"
	"github.com/verity-protocol/verity/pkg/truthstate"
)

func TestSignalRoundTrip(t *testing.T) {
	s := signal.Signal{
		SignalType:    signal.TypeValidationVote,
		Time:          time.Date(2026, 1, 7, 11, 0, 0, 0, time.UTC),
		AgentID:       "agent:v1",
		ObjectID:      "earth:flood:h3:cell:surface:2026-01-07T11:00Z",
		Payload:       map[string]any{"vote": "RATIFY", "confidence": 0.8},
		PolicyVersion: "1.0.0",
	}
	require.NoError(t, s.Seal())

	wire, err := EncodeSignal(&s)
	require.NoError(t, err)

	back, err := DecodeSignal(wire)
	require.NoError(t, err)
	assert.Equal(t, s.SignalID, back.SignalID)
	assert.True(t, s.Time.Equal(back.Time))
}

func TestEncodeSignal_RefusesUnsealed(t *testing.T) {
	s := signal.Signal{SignalType: signal.TypeVouch, Time: time.Now().UTC(), AgentID: "a", ObjectID: "b"}
	_, err := EncodeSignal(&s)
	assert.Error(t, err)
}

func TestDecodeSignal_RejectsTamper(t *testing.T) {
	s := signal.Signal{
		SignalType:    signal.TypeVouch,
		Time:          time.Date(2026, 1, 7, 11, 0, 0, 0, time.UTC),
		AgentID:       "agent:a",
		ObjectID:      "agent:b",
		PolicyVersion: "1.0.0",
	}
	require.NoError(t, s.Seal())
	s.ObjectID = "agent:c" // forged after sealing

	wire, err := EncodeSignal(&s)
	require.NoError(t, err)
	_, err = DecodeSignal(wire)
	assert.Error(t, err, "hashing happens over canonical JSON, so the forgery is caught on decode")
}

func TestStateRoundTrip(t *testing.T) {
	st := &truthstate.TruthState{
		TruthKey:  "earth:flood:h3:cell:surface:2026-01-07T12:00Z",
		ClaimType: "earth.flood.v1",
		Status:    truthstate.StatusVerifiedTrue,
		Claim:     map[string]any{"water_level_meters": 1.25, "observation_count": 2},
		CompileInputs: truthstate.CompileInputs{
			ClaimTypeID: "earth.flood.v1",
			CompileTime: time.Date(2026, 1, 7, 12, 0, 0, 0, time.UTC),
		},
	}
	require.NoError(t, st.SealHashes())

	wire, err := EncodeState(st)
	require.NoError(t, err)

	back, err := DecodeState(wire)
	require.NoError(t, err)
	assert.Equal(t, st.Security.StateHash, back.Security.StateHash)
	assert.Equal(t, st.Claim["water_level_meters"], back.Claim["water_level_meters"])
}

func TestDecodeState_RejectsTamper(t *testing.T) {
	st := &truthstate.TruthState{
		TruthKey:  "earth:flood:h3:cell:surface:2026-01-07T12:00Z",
		ClaimType: "earth.flood.v1",
		Status:    truthstate.StatusVerifiedTrue,
		Claim:     map[string]any{"water_level_meters": 1.25},
		CompileInputs: truthstate.CompileInputs{
			CompileTime: time.Date(2026, 1, 7, 12, 0, 0, 0, time.UTC),
		},
	}
	require.NoError(t, st.SealHashes())
	st.Claim["water_level_meters"] = 1.30

	wire, err := EncodeState(st)
	require.NoError(t, err)
	_, err = DecodeState(wire)
	assert.Error(t, err)
}
