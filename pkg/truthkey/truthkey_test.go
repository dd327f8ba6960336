package truthkey

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/verity-protocol/verity/pkg/fault"
)

func TestParse_RoundTrip(t *testing.T) {
	in := "earth:flood:h3:8828308281fffff:surface:2026-01-07T12:00Z"
	k, err := Parse(in)
	require.NoError(t, err)
	assert.Equal(t, "earth", k.Domain)
	assert.Equal(t, "flood", k.Topic)
	assert.Equal(t, "h3", k.SpatialSystem)
	assert.Equal(t, in, k.String())

	again, err := Parse(k.String())
	require.NoError(t, err)
	assert.Equal(t, k, again)
}

func TestParse_LowercasesSegments(t *testing.T) {
	k, err := Parse("EARTH:Flood:H3:ABC123:Surface:2026-01-07T12:00Z")
	require.NoError(t, err)
	assert.Equal(t, "earth:flood:h3:abc123:surface:2026-01-07T12:00Z", k.String())
}

func TestParse_Invalid(t *testing.T) {
	cases := []string{
		"earth:flood:h3:cell:surface",                       // five segments
		"earth:flo od:h3:cell:surface:2026-01-07T12:00Z",    // bad charset
		"earth:flood:h3:cell:surface:2026-01-07T12:00:00Z",  // bad bucket form
		"earth:flood:h3:cell:surface:2026-01-07 12:00",      // naive bucket
	}
	for _, in := range cases {
		_, err := Parse(in)
		require.Error(t, err, in)
		assert.Equal(t, fault.TruthKeyInvalid, fault.CodeOf(err), in)
	}
}

func TestBuild_MetaContentHash(t *testing.T) {
	hash := strings.Repeat("ab", 32) // 64 hex chars
	k, err := Build(BuildParams{
		ClaimTypeID:    "meta.research_artifact.v1",
		EventTime:      time.Date(2026, 1, 7, 12, 40, 0, 0, time.UTC),
		SpatialSystem:  SystemMeta,
		ZIndex:         "knowledge",
		BucketDuration: "PT1H",
		IDStrategy:     IDStrategyContentHash,
		ContentHash:    hash,
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, "meta", k.Domain)
	assert.Len(t, k.SpatialID, 32)
	assert.Equal(t, "2026-01-07T12:00Z", k.TimeBucket)
}

func TestBuild_MetaHybridPrefersContentHash(t *testing.T) {
	k, err := Build(BuildParams{
		ClaimTypeID:    "meta.dataset.v1",
		EventTime:      time.Date(2026, 1, 7, 12, 0, 0, 0, time.UTC),
		SpatialSystem:  SystemMeta,
		BucketDuration: "P1D",
		IDStrategy:     IDStrategyHybrid,
		ContentHash:    strings.Repeat("cd", 32),
		ArtifactID:     "dataset-7",
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, strings.Repeat("cd", 16), k.SpatialID)
}

func TestBuild_SpatialNeedsIndexer(t *testing.T) {
	_, err := Build(BuildParams{
		ClaimTypeID:    "earth.flood.v1",
		EventTime:      time.Date(2026, 1, 7, 12, 0, 0, 0, time.UTC),
		Lat:            37.77, Lon: -122.41,
		HasLocation:    true,
		SpatialSystem:  SystemH3,
		BucketDuration: "PT1H",
	}, nil)
	require.Error(t, err)
	assert.Equal(t, fault.SpatialSystemUnsupported, fault.CodeOf(err))
}

func TestBuild_GridIndexer(t *testing.T) {
	k, err := Build(BuildParams{
		ClaimTypeID:    "earth.flood.v1",
		EventTime:      time.Date(2026, 1, 7, 12, 15, 0, 0, time.UTC),
		Lat:            37.774, Lon: -122.419,
		HasLocation:    true,
		SpatialSystem:  SystemCustom,
		Resolution:     8,
		BucketDuration: "PT1H",
	}, GridIndexer{})
	require.NoError(t, err)
	require.NoError(t, k.Validate())

	// Same inputs always form the same key.
	k2, err := Build(BuildParams{
		ClaimTypeID:    "earth.flood.v1",
		EventTime:      time.Date(2026, 1, 7, 12, 59, 0, 0, time.UTC),
		Lat:            37.774, Lon: -122.419,
		HasLocation:    true,
		SpatialSystem:  SystemCustom,
		Resolution:     8,
		BucketDuration: "PT1H",
	}, GridIndexer{})
	require.NoError(t, err)
	assert.Equal(t, k.String(), k2.String())
}

func TestBuild_UnknownSystem(t *testing.T) {
	_, err := Build(BuildParams{
		ClaimTypeID:    "earth.flood.v1",
		EventTime:      time.Date(2026, 1, 7, 12, 0, 0, 0, time.UTC),
		SpatialSystem:  "quadtree",
		HasLocation:    true,
		BucketDuration: "PT1H",
	}, nil)
	assert.Equal(t, fault.SpatialSystemUnsupported, fault.CodeOf(err))
}
