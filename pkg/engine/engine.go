// Package engine wires the pure core to its collaborators: the signal
// log, the policy, the trust computer, the signer, the medallion store,
// and observability. It owns every side effect the core is forbidden to
// have; the compiler stays a pure call inside it.
package engine

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/verity-protocol/verity/pkg/cache"
	"github.com/verity-protocol/verity/pkg/canonical"
	"github.com/verity-protocol/verity/pkg/compiler"
	"github.com/verity-protocol/verity/pkg/consensus"
	"github.com/verity-protocol/verity/pkg/contract"
	"github.com/verity-protocol/verity/pkg/fault"
	"github.com/verity-protocol/verity/pkg/medallion"
	"github.com/verity-protocol/verity/pkg/observability"
	"github.com/verity-protocol/verity/pkg/observation"
	"github.com/verity-protocol/verity/pkg/policy"
	"github.com/verity-protocol/verity/pkg/reducer"
	"github.com/verity-protocol/verity/pkg/signal"
	"github.com/verity-protocol/verity/pkg/signalstore"
	"github.com/verity-protocol/verity/pkg/signing"
	"github.com/verity-protocol/verity/pkg/snapshot"
	"github.com/verity-protocol/verity/pkg/trust"
	"github.com/verity-protocol/verity/pkg/truthstate"
)

// Engine is the public operation surface of the core.
type Engine struct {
	store     signalstore.Store
	policies  map[string]*policy.Policy
	active    *policy.Policy
	signer    signing.Signer
	silver    medallion.Store
	obs       *observability.Provider
	logger    *slog.Logger
	snapshots *cache.Snapshots

	// MaxReplay bounds reducer replays; zero disables the bound.
	MaxReplay int
}

// New assembles an engine. The observability provider may be nil for
// embedded use.
func New(store signalstore.Store, active *policy.Policy, signer signing.Signer, silver medallion.Store, obs *observability.Provider) *Engine {
	return &Engine{
		store:    store,
		policies: map[string]*policy.Policy{active.Version: active},
		active:   active,
		signer:   signer,
		silver:   silver,
		obs:      obs,
		logger:   slog.Default().With("component", "engine"),
	}
}

// SetSnapshotCache attaches a Redis snapshot cache. Snapshots are
// projections, so the cache is optional: a nil or unreachable cache
// only costs a rebuild from the log.
func (e *Engine) SetSnapshotCache(c *cache.Snapshots) {
	e.snapshots = c
}

// RegisterPolicy makes a historical policy version available for
// replay. Old versions are never mutated or removed.
func (e *Engine) RegisterPolicy(p *policy.Policy) {
	e.policies[p.Version] = p
}

// PolicyByVersion resolves a registered policy version.
func (e *Engine) PolicyByVersion(version string) (*policy.Policy, error) {
	if p, ok := e.policies[version]; ok {
		return p, nil
	}
	return nil, fault.Newf(fault.PolicyUnknown, "policy version %q is not registered", version)
}

// AppendSignal seals (if needed) and appends one signal to the log.
func (e *Engine) AppendSignal(ctx context.Context, sig signal.Signal) (signal.Signal, error) {
	ctx, span := e.span(ctx, "engine.append_signal",
		attribute.String("signal_type", sig.SignalType))
	defer span.End()

	if sig.SignalID == "" {
		if err := sig.Seal(); err != nil {
			return signal.Signal{}, err
		}
	}
	if err := e.store.Append(sig); err != nil {
		return signal.Signal{}, err
	}
	if e.obs != nil {
		e.obs.RecordSignal(ctx, sig.SignalType)
	}
	e.logger.DebugContext(ctx, "signal appended",
		"signal_id", sig.SignalID, "signal_type", sig.SignalType)
	return sig, nil
}

// Standing replays the log and returns one agent's standing as of the
// given time under the active policy.
func (e *Engine) Standing(ctx context.Context, agentID string, asOf time.Time) (float64, error) {
	_, span := e.span(ctx, "engine.standing", attribute.String("agent_id", agentID))
	defer span.End()

	signals, err := e.store.All()
	if err != nil {
		return 0, err
	}
	return reducer.Standing(signals, e.active, agentID, asOf)
}

// TrustSnapshot builds a frozen snapshot for a compilation context. The
// replay reads the consistent prefix at or before the snapshot time, so
// concurrent later appends cannot change the result.
func (e *Engine) TrustSnapshot(ctx context.Context, tc trust.Context) (*snapshot.Snapshot, error) {
	ctx, span := e.span(ctx, "engine.trust_snapshot",
		attribute.String("claim_type", tc.ClaimTypeID))
	defer span.End()

	signals, err := e.store.All()
	if err != nil {
		return nil, err
	}

	prefix := prefixAt(signals, tc.SnapshotTime)

	// The fingerprint covers the policy, the context, and the identity
	// of the log prefix, so a late signal at or before the snapshot
	// time changes the key and the stale entry is simply never found.
	fingerprint, err := snapshotFingerprint(e.active.Version, tc, prefix)
	if err != nil {
		return nil, err
	}
	if e.snapshots != nil {
		if cached, ok, err := e.snapshots.Lookup(ctx, fingerprint); err == nil && ok {
			return cached, nil
		} else if err != nil {
			e.logger.WarnContext(ctx, "snapshot cache lookup failed", "error", err)
		}
	}

	red, err := reducer.Reduce(signals, e.active, tc.SnapshotTime, reducer.Options{MaxSignals: e.MaxReplay})
	if err != nil {
		return nil, err
	}

	snap, err := trust.NewComputer(e.active).BuildSnapshot(tc, red, prefix)
	if err != nil {
		return nil, err
	}
	if e.snapshots != nil {
		if err := e.snapshots.Store(ctx, fingerprint, snap); err != nil {
			e.logger.WarnContext(ctx, "snapshot cache store failed", "error", err)
		}
	}
	return snap, nil
}

// snapshotFingerprint identifies one snapshot-construction context: the
// active policy version, the trust context, and the canonical-order log
// prefix it would replay.
func snapshotFingerprint(policyVersion string, tc trust.Context, prefix []signal.Signal) (string, error) {
	lastID := ""
	if len(prefix) > 0 {
		last := prefix[0]
		for i := 1; i < len(prefix); i++ {
			if last.Less(&prefix[i]) {
				last = prefix[i]
			}
		}
		lastID = last.SignalID
	}
	agents := make([]string, len(tc.AgentIDs))
	copy(agents, tc.AgentIDs)
	sort.Strings(agents)
	return canonical.Hash(map[string]any{
		"policy_version": policyVersion,
		"claim_type":     tc.ClaimTypeID,
		"snapshot_time":  tc.SnapshotTime,
		"probe_id":       tc.ProbeID,
		"probe_creator":  tc.ProbeCreatorID,
		"agent_ids":      agents,
		"prefix_len":     len(prefix),
		"last_signal_id": lastID,
	})
}

// CompileRequest is the engine-level compile call: it gathers votes
// from the log, builds the snapshot when the caller did not bring one,
// runs the pure compiler, and persists signed finals to silver.
type CompileRequest struct {
	Contract    *contract.ClaimType
	TruthKey    string
	Observations []observation.Observation
	CompileTime time.Time
	WindowOpen  bool
	ProbeTheta  float64

	// Snapshot, when nil, is built from the log at CompileTime.
	Snapshot *snapshot.Snapshot
}

// CompileTruth executes one compile end to end.
func (e *Engine) CompileTruth(ctx context.Context, req CompileRequest) (st *Compiled, err error) {
	ctx, span := e.span(ctx, "engine.compile_truth",
		attribute.String("truth_key", req.TruthKey))
	defer span.End()

	start := time.Now()
	defer func() {
		if e.obs != nil {
			claimType := ""
			if req.Contract != nil {
				claimType = req.Contract.ID
			}
			e.obs.RecordCompile(ctx, claimType, time.Since(start).Seconds(), err)
		}
	}()

	signals, err := e.store.All()
	if err != nil {
		return nil, err
	}

	snap := req.Snapshot
	if snap == nil {
		tc := trust.Context{
			ClaimTypeID:  req.Contract.ID,
			SnapshotTime: req.CompileTime,
			AgentIDs:     participants(req.Observations, signals, req.TruthKey),
		}
		snap, err = e.TrustSnapshot(ctx, tc)
		if err != nil {
			return nil, err
		}
	}

	votes := e.votesFor(req, signals, snap)

	state, err := compiler.Compile(compiler.Request{
		Contract:        req.Contract,
		TruthKey:        req.TruthKey,
		Observations:    req.Observations,
		Votes:           votes,
		Snapshot:        snap,
		PolicyVersion:   e.active.Version,
		CompilerVersion: compiler.Version,
		CompileTime:     req.CompileTime,
		PolicyThetaMin:  e.active.ThetaMin,
		ProbeThetaMin:   req.ProbeTheta,
		WindowOpen:      req.WindowOpen,
	}, e.signer)
	if err != nil {
		return nil, err
	}

	persisted := false
	if state.Status.Final() {
		if err := e.silver.Put(state); err != nil {
			return nil, err
		}
		persisted = true
	}

	e.logger.InfoContext(ctx, "truth compiled",
		"truth_key", state.TruthKey,
		"status", string(state.Status),
		"state_hash", state.Security.StateHash,
		"persisted", persisted)

	return &Compiled{State: state, Persisted: persisted, Snapshot: snap}, nil
}

// votesFor derives the vote set: every observation counts as an
// implicit observer ratification; VALIDATION_VOTE signals addressed to
// the truth key are layered on top.
func (e *Engine) votesFor(req CompileRequest, signals []signal.Signal, snap *snapshot.Snapshot) []consensus.Vote {
	var votes []consensus.Vote

	for _, o := range req.Observations {
		votes = append(votes, consensus.Vote{
			AgentID:    o.ReporterID,
			Role:       consensus.RoleObserver,
			Class:      classFor(o, snap),
			Value:      consensus.Ratify,
			Confidence: o.AIConfidence,
			Human:      strings.ToLower(o.Reporter.SourceType) == "human",
		})
	}

	for i := range signals {
		s := &signals[i]
		if s.SignalType != signal.TypeValidationVote || s.ObjectID != req.TruthKey {
			continue
		}
		if s.Time.After(req.CompileTime) {
			continue
		}
		value, _ := s.Payload["vote"].(string)
		conf := 1.0
		if c, ok := s.Payload["confidence"].(float64); ok {
			conf = c
		}
		role := consensus.RoleValidator
		if r, ok := s.Context["role"]; ok && r == consensus.RoleAuthority {
			role = consensus.RoleAuthority
		}
		human := s.Context["source"] == "human"
		votes = append(votes, consensus.Vote{
			AgentID:    s.AgentID,
			Role:       role,
			Class:      snapClass(snap, s.AgentID),
			Value:      strings.ToUpper(value),
			Confidence: conf,
			Human:      human,
		})
	}
	return votes
}

// Compiled is the engine-level compile result.
type Compiled struct {
	State     *truthstate.TruthState
	Persisted bool
	Snapshot  *snapshot.Snapshot
}

func classFor(o observation.Observation, snap *snapshot.Snapshot) string {
	if t, ok := snap.AgentTrusts[o.ReporterID]; ok && t.DerivedClass != "" {
		return t.DerivedClass
	}
	return strings.ToLower(o.Reporter.Class)
}

func snapClass(snap *snapshot.Snapshot, agentID string) string {
	if t, ok := snap.AgentTrusts[agentID]; ok {
		return t.DerivedClass
	}
	return observation.ClassBronze
}

// participants collects the agent ids relevant to one compile: the
// reporters plus any voter on the truth key, sorted.
func participants(obs []observation.Observation, signals []signal.Signal, truthKey string) []string {
	seen := map[string]bool{}
	for _, o := range obs {
		seen[o.ReporterID] = true
	}
	for i := range signals {
		s := &signals[i]
		if s.SignalType == signal.TypeValidationVote && s.ObjectID == truthKey {
			seen[s.AgentID] = true
		}
	}
	out := make([]string, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func prefixAt(signals []signal.Signal, t time.Time) []signal.Signal {
	var out []signal.Signal
	for i := range signals {
		if !signals[i].Time.After(t) {
			out = append(out, signals[i])
		}
	}
	return out
}

func (e *Engine) span(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	if e.obs != nil {
		return e.obs.StartSpan(ctx, name, attrs...)
	}
	return otel.Tracer("verity").Start(ctx, name, trace.WithAttributes(attrs...))
}
