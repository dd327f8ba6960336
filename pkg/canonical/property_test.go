//go:build property
// +build property

package canonical

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// TestCanonicalDeterminism verifies Bytes(x) == Bytes(x) for arbitrary
// string maps and that hashing is stable across invocations.
func TestCanonicalDeterminism(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("canonical bytes are deterministic", prop.ForAll(
		func(keys []string, values []string) bool {
			obj := make(map[string]any)
			for i := 0; i < len(keys) && i < len(values); i++ {
				if keys[i] != "" {
					obj[keys[i]] = values[i]
				}
			}
			b1, err1 := Bytes(obj)
			b2, err2 := Bytes(obj)
			if err1 != nil || err2 != nil {
				return (err1 == nil) == (err2 == nil)
			}
			return string(b1) == string(b2)
		},
		gen.SliceOf(gen.AlphaString()),
		gen.SliceOf(gen.AlphaString()),
	))

	properties.Property("float quantization is idempotent", prop.ForAll(
		func(f float64) bool {
			q1, err := Quantize(f)
			if err != nil {
				return true
			}
			q2, err := Quantize(q1)
			if err != nil {
				return false
			}
			return q1 == q2
		},
		gen.Float64Range(-1e6, 1e6),
	))

	properties.TestingRun(t)
}
