// Package truthkey implements the canonical colon-delimited address of a
// physical claim across space and time. The string form and the
// structured form are bijective after canonicalization.
package truthkey

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/verity-protocol/verity/pkg/canonical"
	"github.com/verity-protocol/verity/pkg/fault"
	"github.com/verity-protocol/verity/pkg/temporal"
)

// Spatial systems known to the core.
const (
	SystemH3      = "h3"
	SystemGeohash = "geohash"
	SystemHealpix = "healpix"
	SystemMeta    = "meta"
	SystemCustom  = "custom"
)

// Meta-claim spatial-id strategies.
const (
	IDStrategyContentHash = "content_hash"
	IDStrategyProvidedID  = "provided_id"
	IDStrategyHybrid      = "hybrid"
)

var segmentPattern = regexp.MustCompile(`^[a-z0-9._-]+$`)

// Key is the parsed form of a truth key. All segments are canonical
// lowercase; TimeBucket is a bucket start in YYYY-MM-DDTHH:MMZ form.
type Key struct {
	Domain        string `json:"domain"`
	Topic         string `json:"topic"`
	SpatialSystem string `json:"spatial_system"`
	SpatialID     string `json:"spatial_id"`
	ZIndex        string `json:"z_index"`
	TimeBucket    string `json:"time_bucket"`
}

// Parse splits a truth key string into its six segments, lowercasing and
// validating each.
func Parse(s string) (Key, error) {
	parts := strings.SplitN(s, ":", 6)
	if len(parts) != 6 {
		return Key{}, fault.Newf(fault.TruthKeyInvalid, "expected 6 segments, got %d", len(parts))
	}

	k := Key{
		Domain:        strings.ToLower(parts[0]),
		Topic:         strings.ToLower(parts[1]),
		SpatialSystem: strings.ToLower(parts[2]),
		SpatialID:     strings.ToLower(parts[3]),
		ZIndex:        strings.ToLower(parts[4]),
		TimeBucket:    parts[5],
	}
	if err := k.Validate(); err != nil {
		return Key{}, err
	}
	return k, nil
}

// Validate checks segment charsets and the time-bucket form.
func (k Key) Validate() error {
	for _, seg := range []struct{ name, v string }{
		{"domain", k.Domain},
		{"topic", k.Topic},
		{"spatial_system", k.SpatialSystem},
		{"spatial_id", k.SpatialID},
		{"z_index", k.ZIndex},
	} {
		if !segmentPattern.MatchString(seg.v) {
			return fault.Newf(fault.TruthKeyInvalid, "segment %s %q must match [a-z0-9._-]+", seg.name, seg.v)
		}
	}
	if _, err := temporal.ParseBucket(k.TimeBucket); err != nil {
		return fault.Newf(fault.TruthKeyInvalid, "time_bucket %q is not canonical", k.TimeBucket)
	}
	return nil
}

// String renders the canonical colon-joined form.
func (k Key) String() string {
	return strings.Join([]string{k.Domain, k.Topic, k.SpatialSystem, k.SpatialID, k.ZIndex, k.TimeBucket}, ":")
}

// Hash is the canonical hash of the string form.
func (k Key) Hash() (string, error) {
	return canonical.Hash(k.String())
}

// Indexer maps a location to a spatial cell id for one spatial system.
// H3 and HEALPix indexers are injected by the host; the core ships a
// deterministic grid indexer for tests and simple deployments.
type Indexer interface {
	System() string
	Cell(lat, lon float64, resolution int) (string, error)
}

// GridIndexer quantizes lat/lon onto a fixed decimal grid. It is not a
// hierarchical index; it exists so the core can form keys without an
// external geo library.
type GridIndexer struct{}

func (GridIndexer) System() string { return SystemCustom }

func (GridIndexer) Cell(lat, lon float64, resolution int) (string, error) {
	if resolution < 0 || resolution > 8 {
		return "", fault.Newf(fault.SpatialSystemUnsupported, "grid resolution %d out of range", resolution)
	}
	return fmt.Sprintf("g%d.%s.%s", resolution, gridCoord(lat, resolution), gridCoord(lon, resolution)), nil
}

func gridCoord(v float64, resolution int) string {
	s := fmt.Sprintf("%.*f", resolution/2+1, v)
	return strings.NewReplacer("-", "m", ".", "d").Replace(s)
}

// BuildParams carries the inputs for key formation. For spatial systems
// the location is required; for meta claims the id strategy selects
// between a content hash and a caller-provided id.
type BuildParams struct {
	ClaimTypeID string // e.g. "earth.flood.v1"
	EventTime   time.Time
	Lat, Lon    float64
	HasLocation bool

	SpatialSystem  string
	Resolution     int
	ZIndex         string
	BucketDuration string // ISO-8601, e.g. "PT1H"

	IDStrategy  string // meta claims only
	ContentHash string
	ArtifactID  string
}

// Build forms a canonical key from event parameters. The key derives
// from event time, never receipt time. An indexer must be supplied for
// h3/geohash/healpix systems; meta claims need none.
func Build(p BuildParams, indexer Indexer) (Key, error) {
	idParts := strings.Split(p.ClaimTypeID, ".")
	if len(idParts) < 2 {
		return Key{}, fault.Newf(fault.TruthKeyInvalid, "claim type id %q lacks domain.topic", p.ClaimTypeID)
	}

	bucketStart, err := temporal.Bucket(p.EventTime, p.BucketDuration)
	if err != nil {
		return Key{}, err
	}

	system := strings.ToLower(p.SpatialSystem)
	var spatialID string
	switch system {
	case SystemMeta:
		spatialID, err = metaSpatialID(p)
		if err != nil {
			return Key{}, err
		}
	case SystemH3, SystemGeohash, SystemHealpix, SystemCustom:
		if !p.HasLocation {
			return Key{}, fault.Newf(fault.TruthKeyInvalid, "location required for spatial system %q", system)
		}
		if indexer == nil || indexer.System() != system {
			return Key{}, fault.Newf(fault.SpatialSystemUnsupported, "no indexer for spatial system %q", system)
		}
		spatialID, err = indexer.Cell(p.Lat, p.Lon, p.Resolution)
		if err != nil {
			return Key{}, err
		}
	default:
		return Key{}, fault.Newf(fault.SpatialSystemUnsupported, "unknown spatial system %q", system)
	}

	zIndex := p.ZIndex
	if zIndex == "" {
		zIndex = "surface"
	}

	k := Key{
		Domain:        strings.ToLower(idParts[0]),
		Topic:         strings.ToLower(idParts[1]),
		SpatialSystem: system,
		SpatialID:     strings.ToLower(spatialID),
		ZIndex:        strings.ToLower(zIndex),
		TimeBucket:    temporal.FormatBucket(bucketStart),
	}
	if err := k.Validate(); err != nil {
		return Key{}, err
	}
	return k, nil
}

func metaSpatialID(p BuildParams) (string, error) {
	strategy := strings.ToLower(p.IDStrategy)
	if strategy == "" {
		strategy = IDStrategyContentHash
	}
	switch strategy {
	case IDStrategyContentHash:
		if p.ContentHash == "" {
			return "", fault.New(fault.TruthKeyInvalid, "content_hash required for content_hash id strategy")
		}
		return truncateHash(p.ContentHash), nil
	case IDStrategyProvidedID:
		if p.ArtifactID == "" {
			return "", fault.New(fault.TruthKeyInvalid, "artifact_id required for provided_id id strategy")
		}
		return strings.ToLower(p.ArtifactID), nil
	case IDStrategyHybrid:
		if p.ContentHash != "" {
			return truncateHash(p.ContentHash), nil
		}
		if p.ArtifactID != "" {
			return strings.ToLower(p.ArtifactID), nil
		}
		return "", fault.New(fault.TruthKeyInvalid, "hybrid id strategy needs content_hash or artifact_id")
	default:
		return "", fault.Newf(fault.TruthKeyInvalid, "unknown id strategy %q", strategy)
	}
}

func truncateHash(h string) string {
	h = strings.ToLower(h)
	if len(h) > 32 {
		return h[:32]
	}
	return h
}
