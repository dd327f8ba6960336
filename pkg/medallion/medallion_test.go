package medallion

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/verity-protocol/verity/pkg/fault"
	"github.com/verity-protocol/verity/pkg/truthstate"
)

var t0 = time.Date(2026, 1, 7, 12, 0, 0, 0, time.UTC)

func finalState(t *testing.T, key string, at time.Time, level float64) *truthstate.TruthState {
	t.Helper()
	st := &truthstate.TruthState{
		TruthKey:  key,
		ClaimType: "earth.flood.v1",
		Status:    truthstate.StatusVerifiedTrue,
		Claim:     map[string]any{"water_level_meters": level, "observation_count": 1},
		CompileInputs: truthstate.CompileInputs{
			ClaimTypeID: "earth.flood.v1",
			CompileTime: at,
		},
	}
	require.NoError(t, st.SealHashes())
	st.Security.Signature = "sig-" + st.Security.StateHash[:8]
	st.Security.SigningMethod = "ed25519"
	st.Security.KeyID = "ed25519-v1"
	st.Security.SignedAt = at
	return st
}

func storesUnderTest(t *testing.T) map[string]Store {
	sqlite, err := OpenSQLite(filepath.Join(t.TempDir(), "medallion.db"))
	require.NoError(t, err)
	t.Cleanup(func() { sqlite.Close() })
	return map[string]Store{
		"memory": NewMemory(),
		"sqlite": sqlite,
	}
}

const key = "earth:flood:h3:cell:surface:2026-01-07T12:00Z"

func TestPut_RejectsIntermediates(t *testing.T) {
	for name, store := range storesUnderTest(t) {
		st := finalState(t, key, t0, 1.25)
		st.Status = truthstate.StatusPendingHumanReview
		err := store.Put(st)
		require.Error(t, err, name)
		assert.Equal(t, fault.SigningRefused, fault.CodeOf(err), name)
	}
}

func TestPut_RejectsUnsigned(t *testing.T) {
	for name, store := range storesUnderTest(t) {
		st := finalState(t, key, t0, 1.25)
		st.Security.Signature = ""
		err := store.Put(st)
		require.Error(t, err, name)
	}
}

func TestPut_SilverConflictOnSameSlot(t *testing.T) {
	for name, store := range storesUnderTest(t) {
		a := finalState(t, key, t0, 1.25)
		require.NoError(t, store.Put(a), name)
		require.NoError(t, store.Put(a), name, "same state twice is idempotent")

		b := finalState(t, key, t0, 1.30)
		err := store.Put(b)
		require.Error(t, err, name, "a different state in the same slot conflicts")
	}
}

func TestGold_LatestByCompileTime(t *testing.T) {
	for name, store := range storesUnderTest(t) {
		older := finalState(t, key, t0, 1.25)
		newer := finalState(t, key, t0.Add(time.Hour), 1.40)

		require.NoError(t, store.Put(newer), name)
		require.NoError(t, store.Put(older), name, "late-arriving older state lands in silver")

		latest, ok, err := store.Latest(key)
		require.NoError(t, err, name)
		require.True(t, ok, name)
		assert.Equal(t, newer.Security.StateHash, latest.Security.StateHash, name,
			"gold keeps the newest compile_time")

		history, err := store.History(key)
		require.NoError(t, err, name)
		require.Len(t, history, 2, name)
		assert.True(t, history[0].CompileInputs.CompileTime.Before(history[1].CompileInputs.CompileTime), name)
	}
}

func TestKeys_Sorted(t *testing.T) {
	keyB := "earth:flood:h3:cell-b:surface:2026-01-07T12:00Z"
	for name, store := range storesUnderTest(t) {
		require.NoError(t, store.Put(finalState(t, keyB, t0, 2.0)), name)
		require.NoError(t, store.Put(finalState(t, key, t0, 1.0)), name)

		keys, err := store.Keys()
		require.NoError(t, err, name)
		assert.Equal(t, []string{keyB, key}, keys, name)
	}
}

func TestLatest_AbsentKey(t *testing.T) {
	for name, store := range storesUnderTest(t) {
		_, ok, err := store.Latest("earth:flood:h3:nowhere:surface:2026-01-07T12:00Z")
		require.NoError(t, err, name)
		assert.False(t, ok, name)
	}
}

func TestSQLite_SurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "medallion.db")
	store, err := OpenSQLite(path)
	require.NoError(t, err)

	st := finalState(t, key, t0, 1.25)
	require.NoError(t, store.Put(st))
	require.NoError(t, store.Close())

	reopened, err := OpenSQLite(path)
	require.NoError(t, err)
	defer reopened.Close()

	latest, ok, err := reopened.Latest(key)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, st.Security.StateHash, latest.Security.StateHash)
}
