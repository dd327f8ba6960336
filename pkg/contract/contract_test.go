package contract

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/verity-protocol/verity/pkg/fault"
)

const floodContract = `
id: earth.flood.v1
version: 1
domain: earth
topic: flood
risk_profile: monitor
truthkey:
  spatial_system: h3
  resolution: 8
  time_bucket: PT1H
consensus_model:
  finalize_threshold: 15
  reject_threshold: -10
  theta_min: 100
autovalidation:
  ai_verified_true_threshold: 0.82
derivation:
  numeric_fields: [water_level_meters]
  enum_fields: [severity]
output_schema:
  type: object
  properties:
    water_level_meters:
      type: number
  required: [water_level_meters]
`

func TestParse_AppliesDefaults(t *testing.T) {
	ct, err := Parse([]byte(floodContract))
	require.NoError(t, err)

	assert.Equal(t, "earth.flood.v1", ct.ID)
	assert.Equal(t, RiskMonitor, ct.RiskProfile)
	assert.Equal(t, "surface", ct.Key.ZIndex)
	assert.Equal(t, "weighted_threshold", ct.Consensus.Type)
	assert.Equal(t, 0.30, ct.Consensus.DisagreementThreshold)
	assert.Equal(t, float64(7), ct.VoteWeight("expert"))
	assert.Equal(t, float64(1), ct.VoteWeight("unknown_class"))
	assert.Equal(t, 2, ct.Derivation.NumericPrecision)
}

func TestHash_StableAndContentBound(t *testing.T) {
	a, err := Parse([]byte(floodContract))
	require.NoError(t, err)
	b, err := Parse([]byte(floodContract))
	require.NoError(t, err)

	ha, err := a.Hash()
	require.NoError(t, err)
	hb, err := b.Hash()
	require.NoError(t, err)
	assert.Equal(t, ha, hb)

	b.Consensus.FinalizeThreshold = 16
	hc, err := b.Hash()
	require.NoError(t, err)
	assert.NotEqual(t, ha, hc)
}

func TestValidate_DomainSpatialCompatibility(t *testing.T) {
	ct, err := Parse([]byte(floodContract))
	require.NoError(t, err)

	ct.Domain = "space"
	err = ct.Validate()
	require.Error(t, err)
	assert.Equal(t, fault.SpatialSystemUnsupported, fault.CodeOf(err))
}

func TestValidate_IDShape(t *testing.T) {
	ct, err := Parse([]byte(floodContract))
	require.NoError(t, err)

	ct.ID = "flood"
	err = ct.Validate()
	assert.Equal(t, fault.ContractMissing, fault.CodeOf(err))
}

func TestLoader_CachesAndPins(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "earth.flood.v1.yaml"), []byte(floodContract), 0644))

	loader := NewLoader(dir)
	ct, err := loader.Load("earth.flood.v1")
	require.NoError(t, err)

	hash, err := ct.Hash()
	require.NoError(t, err)

	pinned, err := loader.LoadPinned("earth.flood.v1", hash)
	require.NoError(t, err)
	assert.Same(t, ct, pinned)

	_, err = loader.LoadPinned("earth.flood.v1", "deadbeef")
	assert.Equal(t, fault.ContractHashMismatch, fault.CodeOf(err))
}

func TestLoader_MissingContract(t *testing.T) {
	loader := NewLoader(t.TempDir())
	_, err := loader.Load("earth.absent.v1")
	require.Error(t, err)
}
