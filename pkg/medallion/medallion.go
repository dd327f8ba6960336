// Package medallion implements the persisted state layout: silver is
// the append-only history of signed truth states keyed by
// (truth_key, compile_time); gold is the latest signed state per truth
// key, derivable from silver at any time. Only final, signed states are
// accepted — intermediates must never be persisted as terminal.
//
// Late signals never rewrite silver: a signal arriving with a time at or
// before a previous compile produces a new state at a later
// compile_time, which then supersedes in gold.
package medallion

import (
	"time"

	"github.com/verity-protocol/verity/pkg/fault"
	"github.com/verity-protocol/verity/pkg/truthstate"
)

// Store is the medallion persistence surface for truth states.
type Store interface {
	// Put appends one signed final state to silver and updates gold.
	// A second state under the same (truth_key, compile_time) conflicts.
	Put(state *truthstate.TruthState) error

	// History returns the silver entries for a truth key ordered by
	// compile_time, then state_hash.
	History(truthKey string) ([]*truthstate.TruthState, error)

	// Latest returns the gold entry for a truth key.
	Latest(truthKey string) (*truthstate.TruthState, bool, error)

	// Keys lists the distinct truth keys present, sorted.
	Keys() ([]string, error)
}

// validate enforces the silver admission rules shared by backends.
func validate(state *truthstate.TruthState) error {
	if !state.Status.Final() {
		return fault.Newf(fault.SigningRefused,
			"status %s is intermediate and cannot be persisted as terminal", state.Status)
	}
	if state.Security.Signature == "" || state.Security.StateHash == "" {
		return fault.New(fault.SigningRefused, "final state must be signed before persistence")
	}
	return nil
}

// supersedes reports whether a replaces b in gold: later compile_time
// wins, state_hash breaks exact ties.
func supersedes(a, b *truthstate.TruthState) bool {
	at, bt := a.CompileInputs.CompileTime, b.CompileInputs.CompileTime
	if !at.Equal(bt) {
		return at.After(bt)
	}
	return a.Security.StateHash > b.Security.StateHash
}

func silverKey(truthKey string, compileTime time.Time) string {
	return truthKey + "|" + compileTime.UTC().Format(time.RFC3339)
}
