package canonical

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"

	"github.com/verity-protocol/verity/pkg/fault"
)

// Precision is the fixed quantization for all floats in canonical form.
const Precision = 6

// Float renders f as its canonical string: quantized to six decimals
// with banker's rounding, trailing zeros stripped, no scientific
// notation, no negative zero.
func Float(f float64) (string, error) {
	if math.IsNaN(f) {
		return "", fault.New(fault.NonCanonicalInput, "NaN is not representable")
	}
	if math.IsInf(f, 0) {
		return "", fault.New(fault.NonCanonicalInput, "infinity is not representable")
	}

	s := strconv.FormatFloat(f, 'f', Precision, 64)
	if strings.Contains(s, ".") {
		s = strings.TrimRight(s, "0")
		s = strings.TrimSuffix(s, ".")
	}
	if s == "-0" {
		s = "0"
	}
	return s, nil
}

// Quantize rounds f to the canonical precision, returning a float that
// re-renders to the same canonical string.
func Quantize(f float64) (float64, error) {
	s, err := Float(f)
	if err != nil {
		return 0, err
	}
	q, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fault.Wrap(fault.NonCanonicalInput, err, "quantize re-parse")
	}
	return q, nil
}

func normalizeFloat(f float64) (json.Number, error) {
	s, err := Float(f)
	if err != nil {
		return "", err
	}
	return json.Number(s), nil
}

// normalizeNumber keeps integers verbatim and re-quantizes anything
// carrying a fraction or exponent.
func normalizeNumber(n json.Number) (json.Number, error) {
	s := n.String()
	if !strings.ContainsAny(s, ".eE") {
		return n, nil
	}
	f, err := n.Float64()
	if err != nil {
		return "", fault.Wrap(fault.NonCanonicalInput, err, "malformed number")
	}
	return normalizeFloat(f)
}

func formatInt(i int64) string   { return strconv.FormatInt(i, 10) }
func formatUint(u uint64) string { return strconv.FormatUint(u, 10) }
