// Package policylint validates a policy bundle before activation. It
// replays four archetype signal histories through the reducer — honest
// validator, spammer, reckless guesser, malicious monolith — and checks
// that standings move the right way, then evaluates any CEL guard
// expressions the policy declares over the simulated trajectory metrics.
// A policy that fails lint must not be activated.
package policylint

import (
	"fmt"
	"time"

	"github.com/google/cel-go/cel"

	"github.com/verity-protocol/verity/pkg/fault"
	"github.com/verity-protocol/verity/pkg/policy"
	"github.com/verity-protocol/verity/pkg/reducer"
	"github.com/verity-protocol/verity/pkg/signal"
)

// Fixed simulation epoch; the linter never reads the wall clock.
var epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

// Report is the outcome of linting one policy.
type Report struct {
	HonestDelta    float64 `json:"honest_delta"`
	SpammerDelta   float64 `json:"spammer_delta"`
	RecklessDelta  float64 `json:"reckless_delta"`
	MonolithShare  float64 `json:"monolith_share"`
	Concentration  bool    `json:"concentration_alert"`
	GuardFailures  []string `json:"guard_failures,omitempty"`
	Pass           bool    `json:"pass"`
	FailureReasons []string `json:"failure_reasons,omitempty"`
}

// Lint runs the archetype simulations and guard expressions.
func Lint(p *policy.Policy) (*Report, error) {
	r := &Report{}

	honest, err := trajectoryDelta(p, "agent:honest", outcomes{correct: 20, confidence: 0.6})
	if err != nil {
		return nil, err
	}
	r.HonestDelta = honest

	spammer, err := spammerDelta(p)
	if err != nil {
		return nil, err
	}
	r.SpammerDelta = spammer

	reckless, err := trajectoryDelta(p, "agent:reckless", outcomes{wrong: 20, confidence: 0.95})
	if err != nil {
		return nil, err
	}
	r.RecklessDelta = reckless

	share, err := monolithShare(p)
	if err != nil {
		return nil, err
	}
	r.MonolithShare = share
	r.Concentration = share > 0.5

	if r.HonestDelta <= 0 {
		r.FailureReasons = append(r.FailureReasons, "honest validator does not trend up")
	}
	if r.SpammerDelta > 1 || r.SpammerDelta < -1 {
		r.FailureReasons = append(r.FailureReasons, "spammer standing is not flat")
	}
	if r.RecklessDelta >= 0 {
		r.FailureReasons = append(r.FailureReasons, "reckless guesser does not trend down")
	}
	if !r.Concentration {
		r.FailureReasons = append(r.FailureReasons, "malicious monolith fails to raise a concentration alert")
	}

	if len(p.Guards) > 0 {
		failures, err := evalGuards(p.Guards, r)
		if err != nil {
			return nil, err
		}
		r.GuardFailures = failures
		for _, f := range failures {
			r.FailureReasons = append(r.FailureReasons, fmt.Sprintf("guard failed: %s", f))
		}
	}

	r.Pass = len(r.FailureReasons) == 0
	return r, nil
}

type outcomes struct {
	correct    int
	wrong      int
	confidence float64
}

// trajectoryDelta replays a history of attributed outcomes for one
// agent and returns the standing movement from initial.
func trajectoryDelta(p *policy.Policy, agentID string, o outcomes) (float64, error) {
	var signals []signal.Signal
	t := epoch

	for i := 0; i < o.correct+o.wrong; i++ {
		position := "true"
		outcome := "true"
		if i >= o.correct {
			outcome = "false" // the verdict went the other way
		}
		s := signal.Signal{
			SignalType:    signal.TypeTruthVerified,
			Time:          t,
			AgentID:       "policy:linter",
			ObjectID:      fmt.Sprintf("earth.sim.v1:probe-%03d", i),
			PolicyVersion: p.Version,
			Payload: map[string]any{
				"outcome":    outcome,
				"claim_type": "earth.sim.v1",
				"contributors": []any{
					map[string]any{
						"agent_id":   agentID,
						"position":   position,
						"confidence": o.confidence,
					},
				},
			},
		}
		if err := s.Seal(); err != nil {
			return 0, err
		}
		signals = append(signals, s)
		t = t.Add(time.Hour)
	}

	res, err := reducer.Reduce(signals, p, t, reducer.Options{})
	if err != nil {
		return 0, err
	}
	return res.Standings[agentID] - p.Initial("observer"), nil
}

// spammerDelta submits many observations that never resolve into
// verdicts; standing must stay at its initial value.
func spammerDelta(p *policy.Policy) (float64, error) {
	var signals []signal.Signal
	t := epoch
	for i := 0; i < 50; i++ {
		s := signal.Signal{
			SignalType:    signal.TypeObservationSubmitted,
			Time:          t,
			AgentID:       "agent:spammer",
			ObjectID:      fmt.Sprintf("obs-%03d", i),
			PolicyVersion: p.Version,
		}
		if err := s.Seal(); err != nil {
			return 0, err
		}
		signals = append(signals, s)
		t = t.Add(time.Minute)
	}

	res, err := reducer.Reduce(signals, p, t, reducer.Options{})
	if err != nil {
		return 0, err
	}
	return res.Standings["agent:spammer"] - p.Initial("observer"), nil
}

// monolithShare pits a long perfect streak against one honest validator
// and measures the monolith's share of phase-weighted power. The linter
// expects the share to cross one half so the concentration alert fires
// and downstream damping provably engages.
func monolithShare(p *policy.Policy) (float64, error) {
	monolith, err := trajectoryDelta(p, "agent:monolith", outcomes{correct: 200, confidence: 0.9})
	if err != nil {
		return 0, err
	}
	honest, err := trajectoryDelta(p, "agent:honest", outcomes{correct: 20, confidence: 0.6})
	if err != nil {
		return 0, err
	}

	initial := p.Initial("observer")
	wMonolith := p.PhaseWeight(initial + monolith)
	wHonest := p.PhaseWeight(initial + honest)
	if wMonolith+wHonest == 0 {
		return 0, nil
	}
	return wMonolith / (wMonolith + wHonest), nil
}

// evalGuards compiles and evaluates the policy's CEL guard expressions
// against the trajectory metrics. Every guard must evaluate to true.
func evalGuards(guards []string, r *Report) ([]string, error) {
	env, err := cel.NewEnv(
		cel.Variable("honest_delta", cel.DoubleType),
		cel.Variable("spammer_delta", cel.DoubleType),
		cel.Variable("reckless_delta", cel.DoubleType),
		cel.Variable("monolith_share", cel.DoubleType),
	)
	if err != nil {
		return nil, fmt.Errorf("policylint: cel env: %w", err)
	}

	vars := map[string]any{
		"honest_delta":   r.HonestDelta,
		"spammer_delta":  r.SpammerDelta,
		"reckless_delta": r.RecklessDelta,
		"monolith_share": r.MonolithShare,
	}

	var failures []string
	for _, expr := range guards {
		ast, iss := env.Compile(expr)
		if iss != nil && iss.Err() != nil {
			return nil, fault.Wrap(fault.PolicyUnknown, iss.Err(), fmt.Sprintf("guard %q does not compile", expr))
		}
		prg, err := env.Program(ast)
		if err != nil {
			return nil, fmt.Errorf("policylint: program %q: %w", expr, err)
		}
		out, _, err := prg.Eval(vars)
		if err != nil {
			return nil, fmt.Errorf("policylint: eval %q: %w", expr, err)
		}
		if ok, isBool := out.Value().(bool); !isBool || !ok {
			failures = append(failures, expr)
		}
	}
	return failures, nil
}
