// Package consensus aggregates weighted votes under a contract's
// consensus model and a frozen trust snapshot. Scoring is deterministic;
// ties at a threshold always fall to the conservative side.
package consensus

import (
	"sort"
	"strings"

	"github.com/verity-protocol/verity/pkg/contract"
	"github.com/verity-protocol/verity/pkg/snapshot"
)

// Vote values from the closed set.
const (
	Ratify    = "RATIFY"
	Reject    = "REJECT"
	Abstain   = "ABSTAIN"
	Challenge = "CHALLENGE"
	Override  = "OVERRIDE"
)

// Roles a voter can act in, derived from the originating signal type.
const (
	RoleObserver  = "observer"
	RoleValidator = "validator"
	RoleAuthority = "authority"
)

// Vote is one admissible or recorded vote.
type Vote struct {
	AgentID    string
	Role       string
	Class      string // standing class for contract role weights
	Value      string
	Confidence float64
	Human      bool
}

// Candidate outcomes of consensus scoring.
type Candidate string

const (
	CandidateTrue         Candidate = "VERIFIED_TRUE"
	CandidateFalse        Candidate = "VERIFIED_FALSE"
	CandidateInconclusive Candidate = "INCONCLUSIVE"
)

// Result records the consensus computation for audit.
type Result struct {
	Score          float64
	Candidate      Candidate
	Overridden     bool
	OverriddenBy   string
	HumanRatifies  int
	HumanQuorumMet bool
	Admitted       []string
	Excluded       []string
}

// ThetaMin resolves the admissibility floor: downstream actors may only
// tighten the policy baseline, never loosen it.
func ThetaMin(policyTheta, contractTheta, probeOverride float64) float64 {
	theta := policyTheta
	if contractTheta > theta {
		theta = contractTheta
	}
	if probeOverride > theta {
		theta = probeOverride
	}
	return theta
}

// Evaluate scores votes under the weighted-threshold model.
//
// weight(agent, vote) = contract role weight × snapshot effective power.
// Votes from agents below the resolved θ_min are recorded in Excluded
// and contribute nothing to the score.
func Evaluate(ct *contract.ClaimType, votes []Vote, snap *snapshot.Snapshot, thetaMin float64) Result {
	res := Result{Candidate: CandidateInconclusive}

	// Deterministic processing order regardless of caller ordering.
	ordered := make([]Vote, len(votes))
	copy(ordered, votes)
	sort.Slice(ordered, func(i, j int) bool {
		if ordered[i].AgentID != ordered[j].AgentID {
			return ordered[i].AgentID < ordered[j].AgentID
		}
		return ordered[i].Value < ordered[j].Value
	})

	for _, v := range ordered {
		if snap.Standing(v.AgentID) < thetaMin {
			res.Excluded = append(res.Excluded, v.AgentID)
			continue
		}
		res.Admitted = append(res.Admitted, v.AgentID)

		weight := ct.VoteWeight(v.Class) * snap.Power(v.AgentID)

		switch strings.ToUpper(v.Value) {
		case Ratify:
			res.Score += weight
			if v.Human {
				res.HumanRatifies++
			}
		case Reject:
			res.Score -= weight
		case Abstain, Challenge:
			// Recorded, zero contribution.
		case Override:
			if v.Role == RoleAuthority {
				res.Overridden = true
				res.OverriddenBy = v.AgentID
				if ct.Consensus.OverrideValue < 0 {
					res.Candidate = CandidateFalse
				} else {
					res.Candidate = CandidateTrue
				}
			}
		}
	}

	res.HumanQuorumMet = res.HumanRatifies >= ct.Consensus.HumanQuorum

	if res.Overridden {
		return res
	}

	// Equal scores at a threshold prefer the conservative side.
	switch {
	case res.Score > ct.Consensus.FinalizeThreshold:
		res.Candidate = CandidateTrue
	case res.Score < ct.Consensus.RejectThreshold:
		res.Candidate = CandidateFalse
	default:
		res.Candidate = CandidateInconclusive
	}
	return res
}
