// Package derive produces TruthState.claim deterministically from the
// observation set under a contract. The compiler never accepts an
// externally supplied claim payload; this derivation is the only source
// of claim content.
package derive

import (
	"math"
	"sort"
	"strings"

	"github.com/verity-protocol/verity/pkg/canonical"
	"github.com/verity-protocol/verity/pkg/contract"
	"github.com/verity-protocol/verity/pkg/fault"
	"github.com/verity-protocol/verity/pkg/observation"
	"github.com/verity-protocol/verity/pkg/snapshot"
)

// Claim derives the structured claim payload: weighted median for the
// contract's numeric fields, majority for enumerated fields (ties broken
// by canonical bytes), plus evidence and trust aggregates.
func Claim(obs []observation.Observation, snap *snapshot.Snapshot, ct *contract.ClaimType) (map[string]any, error) {
	if len(obs) == 0 {
		return nil, fault.New(fault.NoEvidence, "cannot derive a claim from zero observations")
	}

	claim := map[string]any{}
	totalPower := 0.0
	for _, o := range obs {
		totalPower += snap.Power(o.ReporterID)
	}

	for _, field := range sorted(ct.Derivation.NumericFields) {
		v, ok, err := weightedMedian(obs, snap, field)
		if err != nil {
			return nil, err
		}
		if ok {
			claim[field] = roundTo(v, ct.Derivation.NumericPrecision)
		}
	}

	for _, field := range sorted(ct.Derivation.EnumFields) {
		v, ok := majority(obs, snap, field)
		if ok {
			claim[field] = v
		}
	}

	claim["observation_count"] = len(obs)
	claim["evidence_count"] = len(observation.SortedEvidenceHashes(obs))
	claim["network_trust"] = roundTo(totalPower, 2)

	return claim, nil
}

type weighted struct {
	value  float64
	weight float64
	obsID  string
}

// weightedMedian computes the effective-power-weighted median of a
// numeric payload field, interpolating between values when the midpoint
// of cumulative weight falls between two observations.
func weightedMedian(obs []observation.Observation, snap *snapshot.Snapshot, field string) (float64, bool, error) {
	var points []weighted
	total := 0.0
	for _, o := range obs {
		raw, ok := o.Payload[field]
		if !ok {
			continue
		}
		v, ok := asFloat(raw)
		if !ok {
			continue
		}
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return 0, false, fault.Newf(fault.NonCanonicalInput, "field %q holds a non-finite number", field)
		}
		w := snap.Power(o.ReporterID)
		if w <= 0 {
			continue
		}
		points = append(points, weighted{value: v, weight: w, obsID: o.ID})
		total += w
	}
	if len(points) == 0 || total <= 0 {
		return 0, false, nil
	}

	sort.Slice(points, func(i, j int) bool {
		if points[i].value != points[j].value {
			return points[i].value < points[j].value
		}
		return points[i].obsID < points[j].obsID
	})

	if len(points) == 1 {
		return points[0].value, true, nil
	}

	// Centered cumulative positions; linear interpolation to the
	// half-weight point.
	target := total / 2
	centers := make([]float64, len(points))
	cum := 0.0
	for i, p := range points {
		centers[i] = cum + p.weight/2
		cum += p.weight
	}

	if target <= centers[0] {
		return points[0].value, true, nil
	}
	if target >= centers[len(centers)-1] {
		return points[len(points)-1].value, true, nil
	}
	for i := 1; i < len(centers); i++ {
		if target <= centers[i] {
			span := centers[i] - centers[i-1]
			frac := (target - centers[i-1]) / span
			v := points[i-1].value + frac*(points[i].value-points[i-1].value)
			return v, true, nil
		}
	}
	return points[len(points)-1].value, true, nil
}

// majority picks the highest-weighted string value of a payload field.
// Ties are broken by the canonical byte ordering of the candidates.
func majority(obs []observation.Observation, snap *snapshot.Snapshot, field string) (string, bool) {
	weights := map[string]float64{}
	for _, o := range obs {
		raw, ok := o.Payload[field]
		if !ok {
			continue
		}
		s, ok := raw.(string)
		if !ok {
			continue
		}
		s = strings.ToLower(s)
		weights[s] += snap.Power(o.ReporterID)
	}
	if len(weights) == 0 {
		return "", false
	}

	candidates := make([]string, 0, len(weights))
	for c := range weights {
		candidates = append(candidates, c)
	}
	sort.Strings(candidates)

	best := candidates[0]
	for _, c := range candidates[1:] {
		if weights[c] > weights[best] {
			best = c
		}
	}
	return best, true
}

func asFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	default:
		return 0, false
	}
}

func roundTo(v float64, places int) float64 {
	scale := math.Pow(10, float64(places))
	return math.Round(v*scale) / scale
}

func sorted(xs []string) []string {
	return canonical.SortedStrings(xs)
}
