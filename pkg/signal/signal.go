// Package signal defines the immutable event envelope that is the sole
// input to trust evolution, and the validation-window records derived
// from signed WINDOW_* events. Signals are totally ordered by
// (time, signal_id); the log's append order is never authoritative.
package signal

import (
	"strings"
	"time"

	"github.com/verity-protocol/verity/pkg/canonical"
	"github.com/verity-protocol/verity/pkg/fault"
)

// Signal types from the closed set. Unknown types are replayed as
// no-ops so newer policies can reinterpret history.
const (
	TypeObservationSubmitted = "OBSERVATION_SUBMITTED"
	TypeValidationVote       = "VALIDATION_VOTE"
	TypeTruthVerified        = "TRUTH_VERIFIED"
	TypeVouch                = "VOUCH"
	TypeMemberOf             = "MEMBER_OF"
	TypeWindowOpened         = "WINDOW_OPENED"
	TypeWindowClosed         = "WINDOW_CLOSED"
	TypeWindowExtended       = "WINDOW_EXTENDED"
	TypeWindowAborted        = "WINDOW_ABORTED"
	TypeIsolationFlag        = "ISOLATION_FLAG"
	TypeAgentRegistered      = "AGENT_REGISTERED"
	TypePolicyActivated      = "POLICY_ACTIVATED"
)

// Vote values carried in VALIDATION_VOTE payloads.
const (
	VoteRatify  = "RATIFY"
	VoteReject  = "REJECT"
	VoteAbstain = "ABSTAIN"
)

// Signal is one immutable envelope. SignalID is the canonical hash of
// the envelope minus the id itself.
type Signal struct {
	SignalID      string            `json:"signal_id"`
	SignalType    string            `json:"signal_type"`
	Time          time.Time         `json:"time"`
	AgentID       string            `json:"agent_id"`
	ObjectID      string            `json:"object_id"`
	Context       map[string]string `json:"context,omitempty"`
	Payload       map[string]any    `json:"payload,omitempty"`
	PolicyVersion string            `json:"policy_version"`
	Signature     string            `json:"signature,omitempty"`
}

// canonicalBody is the projection hashed into the signal id; it omits
// the id and the signature (signatures cover the id, not vice versa).
func (s *Signal) canonicalBody() map[string]any {
	out := map[string]any{
		"signal_type":    s.SignalType,
		"time":           canonical.Datetime(s.Time),
		"agent_id":       strings.ToLower(s.AgentID),
		"object_id":      strings.ToLower(s.ObjectID),
		"policy_version": s.PolicyVersion,
	}
	if len(s.Context) > 0 {
		ctx := map[string]any{}
		for k, v := range s.Context {
			ctx[strings.ToLower(k)] = v
		}
		out["context"] = ctx
	}
	if len(s.Payload) > 0 {
		out["payload"] = s.Payload
	}
	return out
}

// ComputeID returns the canonical hash identifying this envelope.
func (s *Signal) ComputeID() (string, error) {
	return canonical.Hash(s.canonicalBody())
}

// Seal fills SignalID from the envelope content. A sealed signal is
// immutable; re-sealing a mutated envelope produces a new identity.
func (s *Signal) Seal() error {
	if s.Time.IsZero() {
		return fault.New(fault.NaiveDatetime, "signal time is unset")
	}
	s.Time = s.Time.UTC().Truncate(time.Second)
	id, err := s.ComputeID()
	if err != nil {
		return err
	}
	s.SignalID = id
	return nil
}

// VerifyID recomputes the id and compares.
func (s *Signal) VerifyID() error {
	want, err := s.ComputeID()
	if err != nil {
		return err
	}
	if want != s.SignalID {
		return fault.Newf(fault.SignalOrderingViolation, "signal id %s does not match content hash %s", s.SignalID, want)
	}
	return nil
}

// Less orders signals by (time, signal_id) with a lexicographic id
// tiebreak.
func (s *Signal) Less(other *Signal) bool {
	if !s.Time.Equal(other.Time) {
		return s.Time.Before(other.Time)
	}
	return s.SignalID < other.SignalID
}

// Window is a validation window reconstructed from WINDOW_* events.
type Window struct {
	WindowID   string    `json:"window_id"`
	TruthKey   string    `json:"truth_key"`
	ProbeID    string    `json:"probe_id"`
	PolicyHash string    `json:"policy_hash"`
	OpenedAt   time.Time `json:"t_open"`
	ClosesAt   time.Time `json:"t_close"`
	Aborted    bool      `json:"aborted"`
	Closed     bool      `json:"closed"`
}

// ReconstructWindow folds the WINDOW_* signals of one window id back
// into its derived record. Signals must already be in canonical order.
func ReconstructWindow(windowID string, signals []Signal) (Window, error) {
	w := Window{WindowID: windowID}
	found := false
	for i := range signals {
		s := &signals[i]
		if s.ObjectID != windowID {
			continue
		}
		switch s.SignalType {
		case TypeWindowOpened:
			found = true
			w.OpenedAt = s.Time
			if v, ok := s.Payload["truth_key"].(string); ok {
				w.TruthKey = v
			}
			if v, ok := s.Payload["probe_id"].(string); ok {
				w.ProbeID = v
			}
			if v, ok := s.Payload["policy_hash"].(string); ok {
				w.PolicyHash = v
			}
			if v, ok := s.Payload["t_close"].(string); ok {
				if t, err := time.Parse(time.RFC3339, v); err == nil {
					w.ClosesAt = t.UTC()
				}
			}
		case TypeWindowExtended:
			if v, ok := s.Payload["t_close"].(string); ok {
				if t, err := time.Parse(time.RFC3339, v); err == nil {
					w.ClosesAt = t.UTC()
				}
			}
		case TypeWindowClosed:
			w.Closed = true
			w.ClosesAt = s.Time
		case TypeWindowAborted:
			w.Aborted = true
			w.Closed = true
		}
	}
	if !found {
		return Window{}, fault.Newf(fault.SignalOrderingViolation, "window %s has no WINDOW_OPENED signal", windowID)
	}
	return w, nil
}

// OpenAt reports whether the window accepts contributions at t.
func (w Window) OpenAt(t time.Time) bool {
	if w.Aborted {
		return false
	}
	if !t.Before(w.ClosesAt) && !w.ClosesAt.IsZero() {
		return false
	}
	return !t.Before(w.OpenedAt)
}
