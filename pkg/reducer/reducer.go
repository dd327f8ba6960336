// Package reducer computes agent standing from the immutable signal log
// under a policy. It is a pure function: the same signals, policy, and
// as-of time always produce the same standings, regardless of append
// order, because replay sorts into canonical (time, signal_id) order
// first.
package reducer

import (
	"math"
	"sort"
	"strings"
	"time"

	"github.com/verity-protocol/verity/pkg/fault"
	"github.com/verity-protocol/verity/pkg/policy"
	"github.com/verity-protocol/verity/pkg/signal"
	"github.com/verity-protocol/verity/pkg/temporal"
)

// Options bounds a replay.
type Options struct {
	// MaxSignals aborts replay with signal_store_exhausted when the
	// prefix exceeds this count. Zero means unbounded.
	MaxSignals int
}

// Result is the derived state of one replay. Everything here is a
// projection; it can always be recomputed from the log.
type Result struct {
	Standings    map[string]float64
	Roles        map[string]string
	LastActivity map[string]time.Time

	// Outcomes per (agent, claim type): correct and total counts, for
	// the trust computer's domain-affinity modifier.
	OutcomesCorrect map[string]map[string]int
	OutcomesTotal   map[string]map[string]int

	// UnknownTypes counts signal types this policy does not interpret;
	// they are recorded so newer policies can reinterpret history.
	UnknownTypes map[string]int
}

type pendingVote struct {
	agentID    string
	vote       string
	confidence float64
}

type state struct {
	pol *policy.Policy
	res Result
	// Votes deferred until their parent TRUTH_VERIFIED arrives, keyed
	// by the voted object (truth key or window id).
	pending map[string][]pendingVote
}

// Reduce replays the given signals up to asOf and returns the derived
// standings. Signals with time after asOf are ignored entirely, so the
// result is deterministic under concurrent late appends beyond asOf.
func Reduce(signals []signal.Signal, pol *policy.Policy, asOf time.Time, opts Options) (*Result, error) {
	ordered := make([]signal.Signal, 0, len(signals))
	for i := range signals {
		if signals[i].Time.After(asOf) {
			continue
		}
		ordered = append(ordered, signals[i])
	}
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].Less(&ordered[j]) })

	if opts.MaxSignals > 0 && len(ordered) > opts.MaxSignals {
		return nil, fault.Newf(fault.SignalStoreExhausted,
			"replay of %d signals exceeds bound %d", len(ordered), opts.MaxSignals)
	}

	st := &state{
		pol: pol,
		res: Result{
			Standings:       map[string]float64{},
			Roles:           map[string]string{},
			LastActivity:    map[string]time.Time{},
			OutcomesCorrect: map[string]map[string]int{},
			OutcomesTotal:   map[string]map[string]int{},
			UnknownTypes:    map[string]int{},
		},
		pending: map[string][]pendingVote{},
	}

	for i := range ordered {
		st.apply(&ordered[i])
	}

	st.applyDecay(asOf)
	return &st.res, nil
}

// Standing replays and reads one agent, bootstrapping new agents to the
// policy's initial standing.
func Standing(signals []signal.Signal, pol *policy.Policy, agentID string, asOf time.Time) (float64, error) {
	res, err := Reduce(signals, pol, asOf, Options{})
	if err != nil {
		return 0, err
	}
	if s, ok := res.Standings[agentID]; ok {
		return s, nil
	}
	return pol.Initial("observer"), nil
}

func (st *state) apply(s *signal.Signal) {
	switch s.SignalType {
	case signal.TypeAgentRegistered:
		role := "observer"
		if r, ok := s.Payload["role"].(string); ok {
			role = strings.ToLower(r)
		}
		if _, ok := st.res.Standings[s.ObjectID]; !ok {
			st.res.Standings[s.ObjectID] = st.pol.Initial(role)
			st.res.Roles[s.ObjectID] = role
		}
		st.touch(s.ObjectID, s.Time)

	case signal.TypePolicyActivated:
		if _, ok := st.res.Standings[s.ObjectID]; !ok {
			st.res.Standings[s.ObjectID] = st.pol.Initial("policy")
			st.res.Roles[s.ObjectID] = "policy"
		}
		st.touch(s.ObjectID, s.Time)

	case signal.TypeObservationSubmitted:
		st.ensure(s.AgentID)
		st.touch(s.AgentID, s.Time)

	case signal.TypeValidationVote:
		st.ensure(s.AgentID)
		st.touch(s.AgentID, s.Time)
		vote, _ := s.Payload["vote"].(string)
		confidence := 1.0
		if c, ok := asFloat(s.Payload["confidence"]); ok {
			confidence = c
		}
		st.pending[s.ObjectID] = append(st.pending[s.ObjectID], pendingVote{
			agentID:    s.AgentID,
			vote:       strings.ToUpper(vote),
			confidence: confidence,
		})

	case signal.TypeTruthVerified:
		st.applyTruthVerified(s)

	case signal.TypeVouch, signal.TypeMemberOf, signal.TypeIsolationFlag:
		// Edges and flags do not move standing directly; the trust
		// computer reads them at snapshot time.
		st.ensure(s.AgentID)
		st.touch(s.AgentID, s.Time)

	case signal.TypeWindowOpened, signal.TypeWindowClosed,
		signal.TypeWindowExtended, signal.TypeWindowAborted:
		// Window lifecycle carries no standing change.

	default:
		st.res.UnknownTypes[s.SignalType]++
	}
}

func (st *state) applyTruthVerified(s *signal.Signal) {
	outcome, _ := s.Payload["outcome"].(string)
	outcome = strings.ToLower(outcome)
	magnitude := 1.0
	if m, ok := asFloat(s.Payload["magnitude"]); ok {
		magnitude = m
	}
	claimType, _ := s.Payload["claim_type"].(string)

	// Observer contributions listed on the verdict itself.
	if raw, ok := s.Payload["contributors"].([]any); ok {
		for _, c := range raw {
			entry, ok := c.(map[string]any)
			if !ok {
				continue
			}
			agentID, _ := entry["agent_id"].(string)
			if agentID == "" {
				continue
			}
			position, _ := entry["position"].(string)
			confidence := 1.0
			if v, ok := asFloat(entry["confidence"]); ok {
				confidence = v
			}
			accuracy := 1.0
			if v, ok := asFloat(entry["accuracy_factor"]); ok {
				accuracy = v
			}
			correct := strings.ToLower(position) == outcome
			st.scoreOutcome(agentID, claimType, s.Time, correct, true, magnitude, accuracy, confidence)
		}
	}

	// Deferred validation votes for this object settle now.
	votes := st.pending[s.ObjectID]
	delete(st.pending, s.ObjectID)
	for _, v := range votes {
		var correct bool
		switch v.vote {
		case signal.VoteRatify:
			correct = outcome == "true"
		case signal.VoteReject:
			correct = outcome == "false"
		default:
			continue
		}
		st.scoreOutcome(v.agentID, claimType, s.Time, correct, false, magnitude, 1.0, v.confidence)
	}
}

// scoreOutcome applies one standing delta through the bounded update:
// Δ = outcome × magnitude × accuracy_factor × confidence_modifier.
func (st *state) scoreOutcome(agentID, claimType string, at time.Time, correct, isObservation bool, magnitude, accuracy, confidence float64) {
	st.ensure(agentID)
	st.touch(agentID, at)

	g := st.pol.Gains
	var base float64
	switch {
	case isObservation && correct:
		base = g.ObservationCorrect
	case isObservation && !correct:
		base = g.ObservationWrong
	case correct:
		base = g.VoteCorrect
	default:
		base = g.VoteWrong
	}

	modifier := 1.0
	if !correct && confidence >= 0.8 {
		modifier = g.RecklessConfidence
	}
	if correct && confidence <= 0.5 {
		modifier = g.CalibratedConfidence
	}

	delta := base * magnitude * accuracy * modifier
	st.res.Standings[agentID] = st.pol.BoundedUpdate(st.res.Standings[agentID], delta)

	if claimType != "" {
		if st.res.OutcomesTotal[agentID] == nil {
			st.res.OutcomesTotal[agentID] = map[string]int{}
			st.res.OutcomesCorrect[agentID] = map[string]int{}
		}
		st.res.OutcomesTotal[agentID][claimType]++
		if correct {
			st.res.OutcomesCorrect[agentID][claimType]++
		}
	}
}

// applyDecay regresses every standing toward its initial value by the
// half-life elapsed since the agent's last signal.
func (st *state) applyDecay(asOf time.Time) {
	if !st.pol.Decay.Enabled || st.pol.Decay.HalfLife == "" {
		return
	}
	halfLife, err := temporal.ParseDuration(st.pol.Decay.HalfLife)
	if err != nil {
		return
	}

	for agentID, standing := range st.res.Standings {
		last, ok := st.res.LastActivity[agentID]
		if !ok || !asOf.After(last) {
			continue
		}
		lives := temporal.HalfLives(last, asOf, halfLife)
		if lives <= 0 {
			continue
		}
		initial := st.pol.Initial(st.res.Roles[agentID])
		decayed := standing + (initial-standing)*(1-math.Pow(0.5, lives))
		st.res.Standings[agentID] = decayed
	}
}

func (st *state) ensure(agentID string) {
	if agentID == "" {
		return
	}
	if _, ok := st.res.Standings[agentID]; !ok {
		st.res.Standings[agentID] = st.pol.Initial("observer")
		st.res.Roles[agentID] = "observer"
	}
}

func (st *state) touch(agentID string, t time.Time) {
	if agentID == "" {
		return
	}
	if last, ok := st.res.LastActivity[agentID]; !ok || t.After(last) {
		st.res.LastActivity[agentID] = t
	}
}

func asFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	default:
		return 0, false
	}
}
