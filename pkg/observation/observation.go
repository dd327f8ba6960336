// Package observation holds the bronze-layer primitives: raw reporter
// input and its evidence references. Observations are immutable after
// submission and hash over the canonical form of all fields with the
// evidence list sorted.
package observation

import (
	"sort"
	"strings"
	"time"

	"github.com/verity-protocol/verity/pkg/canonical"
	"github.com/verity-protocol/verity/pkg/fault"
)

// Standing classes a reporter can hold.
const (
	ClassBronze    = "bronze"
	ClassSilver    = "silver"
	ClassExpert    = "expert"
	ClassAuthority = "authority"
)

// EvidenceRef points at an evidence blob by content hash. Identity is
// the hash; the URI is a non-canonical locator and the core never
// dereferences it.
type EvidenceRef struct {
	URI         string     `json:"uri"`
	SHA256      string     `json:"sha256"`
	MimeType    string     `json:"mime_type,omitempty"`
	CaptureTime *time.Time `json:"capture_time,omitempty"`
}

func (e EvidenceRef) canonical() map[string]any {
	out := map[string]any{
		"uri":    e.URI,
		"sha256": strings.ToLower(e.SHA256),
	}
	if e.MimeType != "" {
		out["mime_type"] = strings.ToLower(e.MimeType)
	}
	if e.CaptureTime != nil {
		out["capture_time"] = canonical.Datetime(*e.CaptureTime)
	}
	return out
}

// ReporterContext describes the reporter at submission time.
type ReporterContext struct {
	Class      string  `json:"class"`
	TrustScore float64 `json:"trust_score"`
	SourceType string  `json:"source_type"` // human, sensor, drone, official
}

// Observation is one bronze-layer record.
type Observation struct {
	ID           string          `json:"observation_id"`
	ProbeID      string          `json:"probe_id,omitempty"`
	ClaimType    string          `json:"claim_type"`
	ReportedAt   time.Time       `json:"reported_at"`
	ReporterID   string          `json:"reporter_id"`
	Reporter     ReporterContext `json:"reporter_context"`
	Geo          map[string]float64 `json:"geo,omitempty"`
	Payload      map[string]any  `json:"payload"`
	EvidenceRefs []EvidenceRef   `json:"evidence_refs,omitempty"`
	AIConfidence float64         `json:"ai_confidence"`
}

// Validate rejects observations the compiler must never see: zero or
// non-UTC-convertible times and empty identities.
func (o *Observation) Validate() error {
	if o.ID == "" {
		return fault.New(fault.NonCanonicalInput, "observation id is empty")
	}
	if o.ReporterID == "" {
		return fault.New(fault.NonCanonicalInput, "reporter id is empty")
	}
	if o.ReportedAt.IsZero() {
		return fault.New(fault.NaiveDatetime, "reported_at is unset")
	}
	for _, ref := range o.EvidenceRefs {
		if len(ref.SHA256) != 64 {
			return fault.Newf(fault.NonCanonicalInput, "evidence sha256 %q is not 64 characters long", ref.SHA256)
		}
	}
	return nil
}

// Canonical returns the projection used for the observation hash, with
// the evidence list sorted by (sha256, uri).
func (o *Observation) Canonical() map[string]any {
	refs := make([]EvidenceRef, len(o.EvidenceRefs))
	copy(refs, o.EvidenceRefs)
	sort.Slice(refs, func(i, j int) bool {
		if refs[i].SHA256 != refs[j].SHA256 {
			return refs[i].SHA256 < refs[j].SHA256
		}
		return refs[i].URI < refs[j].URI
	})
	evidence := make([]any, len(refs))
	for i, r := range refs {
		evidence[i] = r.canonical()
	}

	out := map[string]any{
		"observation_id": strings.ToLower(o.ID),
		"claim_type":     strings.ToLower(o.ClaimType),
		"reported_at":    canonical.Datetime(o.ReportedAt),
		"reporter_id":    strings.ToLower(o.ReporterID),
		"reporter_context": map[string]any{
			"class":       strings.ToLower(o.Reporter.Class),
			"trust_score": o.Reporter.TrustScore,
			"source_type": strings.ToLower(o.Reporter.SourceType),
		},
		"payload":       o.Payload,
		"evidence_refs": evidence,
		"ai_confidence": o.AIConfidence,
	}
	if o.ProbeID != "" {
		out["probe_id"] = strings.ToLower(o.ProbeID)
	}
	if len(o.Geo) > 0 {
		out["geo"] = o.Geo
	}
	return out
}

// Hash computes the canonical observation hash.
func (o *Observation) Hash() (string, error) {
	return canonical.Hash(o.Canonical())
}

// SortedEvidenceHashes collects the distinct evidence hashes across a
// set of observations, sorted.
func SortedEvidenceHashes(obs []Observation) []string {
	seen := map[string]bool{}
	var out []string
	for _, o := range obs {
		for _, ref := range o.EvidenceRefs {
			h := strings.ToLower(ref.SHA256)
			if !seen[h] {
				seen[h] = true
				out = append(out, h)
			}
		}
	}
	sort.Strings(out)
	return out
}

// SortedIDs returns the sorted observation ids of a set.
func SortedIDs(obs []Observation) []string {
	out := make([]string, len(obs))
	for i, o := range obs {
		out[i] = strings.ToLower(o.ID)
	}
	sort.Strings(out)
	return out
}

// LatestEvidenceTime returns the latest capture or report time across
// the set, used for time-decay confidence.
func LatestEvidenceTime(obs []Observation) time.Time {
	var latest time.Time
	for _, o := range obs {
		if o.ReportedAt.After(latest) {
			latest = o.ReportedAt
		}
		for _, ref := range o.EvidenceRefs {
			if ref.CaptureTime != nil && ref.CaptureTime.After(latest) {
				latest = *ref.CaptureTime
			}
		}
	}
	return latest
}
