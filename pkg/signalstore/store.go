// Package signalstore provides the append-only signal log abstraction
// and its reference implementations: in-memory, line-delimited JSON, and
// Postgres. Deletions and updates are forbidden everywhere; append is
// idempotent on signal id and conflicts surface as typed errors the
// caller can retry with an adjusted time or id.
package signalstore

import (
	"time"

	"github.com/verity-protocol/verity/pkg/signal"
)

// Store is the append-only signal log.
type Store interface {
	// Append inserts one sealed signal. Appending the identical signal
	// twice is a no-op; a different signal under an existing id is a
	// signal_ordering_violation.
	Append(sig signal.Signal) error

	// All returns every signal in canonical (time, signal_id) order.
	All() ([]signal.Signal, error)

	// ForAgent returns signals where the agent is emitter or object.
	ForAgent(agentID string) ([]signal.Signal, error)

	// Since returns signals with time >= t.
	Since(t time.Time) ([]signal.Signal, error)

	// ByType returns signals of one type.
	ByType(signalType string) ([]signal.Signal, error)

	// Window returns the signals addressed to one window id.
	Window(windowID string) ([]signal.Signal, error)

	// PolicyVersionAt returns the policy version active at t, derived
	// from the latest POLICY_ACTIVATED signal at or before t.
	PolicyVersionAt(t time.Time) (string, error)
}

func sortCanonical(signals []signal.Signal) {
	// Insertion sort keeps the common nearly-sorted case cheap and the
	// ordering rule in one place.
	for i := 1; i < len(signals); i++ {
		for j := i; j > 0 && signals[j].Less(&signals[j-1]); j-- {
			signals[j], signals[j-1] = signals[j-1], signals[j]
		}
	}
}

func filterSignals(signals []signal.Signal, keep func(*signal.Signal) bool) []signal.Signal {
	var out []signal.Signal
	for i := range signals {
		if keep(&signals[i]) {
			out = append(out, signals[i])
		}
	}
	return out
}

func policyVersionAt(signals []signal.Signal, t time.Time) string {
	version := ""
	for i := range signals {
		s := &signals[i]
		if s.Time.After(t) {
			break
		}
		if s.SignalType == signal.TypePolicyActivated {
			version = s.PolicyVersion
		}
	}
	return version
}
