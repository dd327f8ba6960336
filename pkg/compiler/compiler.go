// Package compiler implements the pure truth compiler: given a claim
// contract, a truth key, observations, a frozen trust snapshot, and
// explicit version/time inputs, it produces a signed truth state. The
// compiler never reads wall-clock time, randomness, network, filesystem,
// or databases, never mutates its inputs, and returns byte-identical
// output for byte-identical inputs.
package compiler

import (
	"time"

	"github.com/verity-protocol/verity/pkg/canonical"
	"github.com/verity-protocol/verity/pkg/confidence"
	"github.com/verity-protocol/verity/pkg/consensus"
	"github.com/verity-protocol/verity/pkg/contract"
	"github.com/verity-protocol/verity/pkg/derive"
	"github.com/verity-protocol/verity/pkg/fault"
	"github.com/verity-protocol/verity/pkg/observation"
	"github.com/verity-protocol/verity/pkg/schema"
	"github.com/verity-protocol/verity/pkg/signing"
	"github.com/verity-protocol/verity/pkg/snapshot"
	"github.com/verity-protocol/verity/pkg/temporal"
	"github.com/verity-protocol/verity/pkg/truthkey"
	"github.com/verity-protocol/verity/pkg/truthstate"
)

// Version is bumped whenever the compile algorithm changes.
const Version = "1.0.0"

// Request carries every input of one compile. All fields are explicit;
// nothing is read from the environment.
type Request struct {
	Contract     *contract.ClaimType
	TruthKey     string
	Observations []observation.Observation
	Votes        []consensus.Vote
	Snapshot     *snapshot.Snapshot

	PolicyVersion   string
	CompilerVersion string
	CompileTime     time.Time

	// Admissibility floor inputs; the resolved θ_min is their maximum.
	PolicyThetaMin float64
	ProbeThetaMin  float64

	// WindowOpen gates intermediate statuses: once the validation window
	// has closed, undecided outcomes collapse to final INCONCLUSIVE.
	WindowOpen bool

	// ResolvedSchema carries the output schema when the contract holds a
	// reference instead of an inline body; the compiler itself never
	// performs IO to resolve it.
	ResolvedSchema map[string]any

	// SignedAtOverride, when set, is recorded in compile_inputs and used
	// as the signature timestamp instead of CompileTime.
	SignedAtOverride *time.Time
}

// Compile runs the full pipeline: normalize, admissibility, consensus,
// confidence, claim derivation, schema validation, hashing, signing.
// Failures are atomic; no partially signed state is ever returned.
func Compile(req Request, signer signing.Signer) (*truthstate.TruthState, error) {
	ct := req.Contract
	if ct == nil {
		return nil, fault.New(fault.ContractMissing, "compile requires a claim contract")
	}
	if req.CompileTime.IsZero() {
		return nil, fault.New(fault.NaiveDatetime, "compile_time must be provided explicitly")
	}

	if req.Snapshot == nil {
		return nil, fault.New(fault.TrustSnapshotHashMismatch, "compile requires a frozen trust snapshot")
	}

	key, err := truthkey.Parse(req.TruthKey)
	if err != nil {
		return nil, err
	}

	ctHash, err := ct.Hash()
	if err != nil {
		return nil, err
	}

	compilerVersion := req.CompilerVersion
	if compilerVersion == "" {
		compilerVersion = Version
	}

	inputs := truthstate.CompileInputs{
		ObservationIDs:    observation.SortedIDs(req.Observations),
		ClaimTypeID:       ct.ID,
		ClaimTypeHash:     ctHash,
		PolicyVersion:     req.PolicyVersion,
		CompilerVersion:   compilerVersion,
		TrustSnapshotHash: req.Snapshot.SnapshotHash,
		CompileTime:       req.CompileTime.UTC(),
		SignedAtOverride:  req.SignedAtOverride,
	}
	repro := inputs.Canonical()

	if len(req.Observations) == 0 && (ct.Evidence.Required || ct.Evidence.MinRefs > 0) {
		return nil, fault.New(fault.NoEvidence, "contract requires evidence and no observations were supplied").WithRepro(repro)
	}

	if err := req.Snapshot.Verify(); err != nil {
		return nil, attachRepro(err, repro)
	}

	for i := range req.Observations {
		if err := req.Observations[i].Validate(); err != nil {
			return nil, attachRepro(err, repro)
		}
	}

	agg := aggregate(req.Observations)
	agg.contradiction = agg.contradictionAgainst(ct)

	thetaMin := consensus.ThetaMin(req.PolicyThetaMin, ct.Consensus.ThetaMin, req.ProbeThetaMin)
	cons := consensus.Evaluate(ct, req.Votes, req.Snapshot, thetaMin)

	status, basis, flags := determineStatus(ct, cons, agg, req.WindowOpen)

	if expired(ct, agg.latestEvidence, req.CompileTime) {
		status = truthstate.StatusExpired
		basis = ""
	}

	breakdown, err := confidence.Compute(ct, confidence.Inputs{
		AIConfidence:    agg.aiMean,
		MultiSource:     confidence.MultiSourceBonus(agg.distinctReporters),
		EvidenceDensity: confidence.EvidenceDensity(agg.evidenceCount, len(req.Observations)),
		AgreementRatio:  agg.agreement,
		Contradiction:   agg.contradiction,
		EvidenceCount:   agg.evidenceCount,
		LatestEvidence:  agg.latestEvidence,
		CompileTime:     req.CompileTime,
	})
	if err != nil {
		return nil, attachRepro(err, repro)
	}

	// A detected contradiction caps composite confidence at one half.
	if agg.contradiction && breakdown.FinalScore > 0.5 {
		breakdown.FinalScore = 0.5
	}

	if status == truthstate.StatusVerifiedTrue && breakdown.FinalScore < ct.Autovalidation.TrueThreshold {
		flags = append(flags, truthstate.FlagLowConfidence)
	}

	var claim map[string]any
	if len(req.Observations) == 0 {
		claim = map[string]any{"observation_count": 0, "evidence_count": 0, "network_trust": 0.0}
	} else {
		claim, err = derive.Claim(req.Observations, req.Snapshot, ct)
		if err != nil {
			return nil, attachRepro(err, repro)
		}
	}

	compiled, err := outputSchema(ct, req.ResolvedSchema)
	if err != nil {
		return nil, attachRepro(err, repro)
	}
	if _, err := compiled.Validate(claim); err != nil {
		return nil, attachRepro(err, repro)
	}

	state := &truthstate.TruthState{
		TruthKey:          key.String(),
		ClaimType:         ct.ID,
		ClaimTypeHash:     ctHash,
		Status:            status,
		VerificationBasis: basis,
		Claim:             claim,
		AIConfidence:      agg.aiMean,
		Confidence:        breakdown.FinalScore,
		Breakdown:         breakdown,
		TransparencyFlags: canonical.SortedStrings(flags),
		CompileInputs:     inputs,
		EvidenceRefs:      observation.SortedEvidenceHashes(req.Observations),
		ObservationIDs:    inputs.ObservationIDs,
	}

	if err := state.SealHashes(); err != nil {
		return nil, attachRepro(err, repro)
	}

	// Only final statuses are signed; intermediates carry hashes but no
	// signature and must never be persisted as terminal.
	if state.Status.Final() {
		if signer == nil {
			return nil, fault.New(fault.SigningUnavailable, "final status requires a signer").WithRepro(repro)
		}
		signedAt := req.CompileTime
		if req.SignedAtOverride != nil {
			signedAt = *req.SignedAtOverride
		}
		if err := signing.SignState(signer, state, signedAt); err != nil {
			return nil, attachRepro(err, repro)
		}
	}

	return state, nil
}

type aggregateMetrics struct {
	aiMean            float64
	aiGap             float64
	agreement         float64
	contradiction     bool
	distinctReporters int
	evidenceCount     int
	latestEvidence    time.Time
}

func aggregate(obs []observation.Observation) aggregateMetrics {
	m := aggregateMetrics{}
	if len(obs) == 0 {
		return m
	}

	sum, min, max := 0.0, obs[0].AIConfidence, obs[0].AIConfidence
	reporters := map[string]bool{}
	for _, o := range obs {
		sum += o.AIConfidence
		if o.AIConfidence < min {
			min = o.AIConfidence
		}
		if o.AIConfidence > max {
			max = o.AIConfidence
		}
		reporters[o.ReporterID] = true
	}

	m.aiMean, _ = canonical.Quantize(sum / float64(len(obs)))
	m.aiGap, _ = canonical.Quantize(max - min)
	m.agreement = 1 - m.aiGap
	if m.agreement < 0 {
		m.agreement = 0
	}
	m.distinctReporters = len(reporters)
	m.evidenceCount = len(observation.SortedEvidenceHashes(obs))
	m.latestEvidence = observation.LatestEvidenceTime(obs)
	return m
}

// determineStatus applies the lane rules: authority overrides finalize
// immediately; contradictions hold the state undecided; the monitor lane
// may AI-autovalidate; the critical lane demands human quorum before any
// VERIFIED_TRUE.
func determineStatus(ct *contract.ClaimType, cons consensus.Result, agg aggregateMetrics, windowOpen bool) (truthstate.Status, truthstate.VerificationBasis, []string) {
	var flags []string
	if len(cons.Excluded) > 0 {
		flags = append(flags, truthstate.FlagAdmissibilityExcluded)
	}

	if cons.Overridden {
		flags = append(flags, truthstate.FlagAuthorityOverridden)
		if cons.Candidate == consensus.CandidateFalse {
			return truthstate.StatusVerifiedFalse, truthstate.BasisAuthorityOverride, flags
		}
		return truthstate.StatusVerifiedTrue, truthstate.BasisAuthorityOverride, flags
	}

	if agg.contradictionAgainst(ct) {
		flags = append(flags, truthstate.FlagContradiction)
		if !windowOpen {
			return truthstate.StatusInconclusive, "", flags
		}
		return truthstate.StatusUndecided, "", flags
	}

	critical := ct.RiskProfile == contract.RiskCritical

	switch cons.Candidate {
	case consensus.CandidateTrue:
		if critical && !cons.HumanQuorumMet {
			flags = append(flags, truthstate.FlagAwaitingHumanQuorum)
			if !windowOpen {
				return truthstate.StatusInconclusive, "", flags
			}
			return truthstate.StatusPendingHumanReview, "", flags
		}
		if critical {
			return truthstate.StatusVerifiedTrue, truthstate.BasisHumanConsensus, flags
		}
		return truthstate.StatusVerifiedTrue, truthstate.BasisWeightedConsensus, flags

	case consensus.CandidateFalse:
		return truthstate.StatusVerifiedFalse, truthstate.BasisWeightedConsensus, flags
	}

	// Consensus inconclusive: the AI lane may still decide on monitor
	// contracts; critical contracts always wait for humans.
	if critical {
		switch {
		case agg.aiMean >= ct.Autovalidation.TrueThreshold:
			flags = append(flags, truthstate.FlagAIRecommendsTrue)
		case agg.aiMean <= ct.Autovalidation.FalseThreshold:
			flags = append(flags, truthstate.FlagAIRecommendsFalse)
		}
		flags = append(flags, truthstate.FlagAwaitingHumanQuorum)
		if !windowOpen {
			return truthstate.StatusInconclusive, "", flags
		}
		return truthstate.StatusPendingHumanReview, "", flags
	}

	if agg.aiMean >= ct.Autovalidation.TrueThreshold && agg.aiMajorityTrue(ct) {
		return truthstate.StatusVerifiedTrue, truthstate.BasisAIAutovalidation, flags
	}
	if agg.aiMean <= ct.Autovalidation.FalseThreshold && agg.aiMean > 0 {
		return truthstate.StatusVerifiedFalse, truthstate.BasisAIAutovalidation, flags
	}

	// Every voter excluded by admissibility and no AI verdict: nothing
	// admissible can ever decide this state.
	if len(cons.Admitted) == 0 && len(cons.Excluded) > 0 {
		return truthstate.StatusInconclusive, "", flags
	}

	if !windowOpen {
		return truthstate.StatusInconclusive, "", flags
	}
	return truthstate.StatusInvestigating, "", flags
}

func (m aggregateMetrics) contradictionAgainst(ct *contract.ClaimType) bool {
	return m.distinctReporters > 1 && m.aiGap > ct.Consensus.DisagreementThreshold
}

// aiMajorityTrue is a property of the aggregate: autovalidation demands
// that the mean clears the bar, and agreement across sources.
func (m aggregateMetrics) aiMajorityTrue(ct *contract.ClaimType) bool {
	return m.agreement >= 0.5
}

func expired(ct *contract.ClaimType, latestEvidence, compileTime time.Time) bool {
	if ct.Decay.MaxValidity == "" || latestEvidence.IsZero() {
		return false
	}
	d, err := temporal.ParseDuration(ct.Decay.MaxValidity)
	if err != nil {
		return false
	}
	return compileTime.Sub(latestEvidence) > d
}

func outputSchema(ct *contract.ClaimType, resolved map[string]any) (*schema.Compiled, error) {
	doc := ct.OutputSchema
	if doc == nil {
		doc = resolved
	}
	if doc == nil {
		if ct.OutputSchemaRef != "" {
			return nil, fault.Newf(fault.ContractMissing,
				"contract %s references schema %s but no resolved schema was supplied", ct.ID, ct.OutputSchemaRef)
		}
		doc = map[string]any{"type": "object"}
	}
	return schema.Compile(doc)
}

func attachRepro(err error, repro map[string]any) error {
	var f *fault.Error
	if ok := asFault(err, &f); ok && f.Repro == nil {
		return f.WithRepro(repro)
	}
	return err
}

func asFault(err error, target **fault.Error) bool {
	for err != nil {
		if f, ok := err.(*fault.Error); ok {
			*target = f
			return true
		}
		type unwrapper interface{ Unwrap() error }
		u, ok := err.(unwrapper)
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
