// Package canonical produces the single byte form used for all hashing
// and signing. The output is RFC 8785 (JCS) canonical JSON over a
// normalized value tree: NFC strings, floats quantized to six decimals,
// datetimes as UTC ISO-8601, map keys sorted by UTF-16 code units as
// RFC 8785 defines. That order equals byte-wise order for keys inside
// the Basic Multilingual Plane; keys holding characters above U+FFFF
// can sort differently from their UTF-8 bytes.
//
// Every protocol hash goes through this package. Canonicalization fails
// only on un-representable inputs (NaN, infinities, invalid UTF-8) with
// typed errors from pkg/fault.
package canonical

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/gowebpki/jcs"
	"golang.org/x/text/unicode/norm"

	"github.com/verity-protocol/verity/pkg/fault"
)

// Bytes returns the canonical byte form of v.
func Bytes(v any) ([]byte, error) {
	n, err := normalize(v)
	if err != nil {
		return nil, err
	}

	intermediate, err := json.Marshal(n)
	if err != nil {
		return nil, fault.Wrap(fault.NonCanonicalInput, err, "marshal failed")
	}

	// The JCS transform sorts object keys by UTF-16 code units and
	// undoes the HTML escaping that encoding/json applies.
	out, err := jcs.Transform(intermediate)
	if err != nil {
		return nil, fault.Wrap(fault.NonCanonicalInput, err, "jcs transform failed")
	}
	return out, nil
}

// String returns the canonical text form of v.
func String(v any) (string, error) {
	b, err := Bytes(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Hash returns the lowercase 64-character SHA-256 hex digest of the
// canonical form of v.
func Hash(v any) (string, error) {
	b, err := Bytes(v)
	if err != nil {
		return "", err
	}
	return HashBytes(b), nil
}

// HashBytes hashes raw bytes to lowercase hex.
func HashBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// HashCombine folds several hex digests into one.
func HashCombine(hashes ...string) string {
	return HashBytes([]byte(strings.Join(hashes, "|")))
}

// normalize rewrites v into a tree of nil, bool, string, json.Number,
// []any and map[string]any with all canonicalization rules applied.
func normalize(v any) (any, error) {
	switch t := v.(type) {
	case nil:
		return nil, nil
	case bool:
		return t, nil
	case string:
		return NormalizeString(t)
	case json.Number:
		return normalizeNumber(t)
	case int:
		return json.Number(formatInt(int64(t))), nil
	case int8:
		return json.Number(formatInt(int64(t))), nil
	case int16:
		return json.Number(formatInt(int64(t))), nil
	case int32:
		return json.Number(formatInt(int64(t))), nil
	case int64:
		return json.Number(formatInt(t)), nil
	case uint:
		return json.Number(formatUint(uint64(t))), nil
	case uint8:
		return json.Number(formatUint(uint64(t))), nil
	case uint16:
		return json.Number(formatUint(uint64(t))), nil
	case uint32:
		return json.Number(formatUint(uint64(t))), nil
	case uint64:
		return json.Number(formatUint(t)), nil
	case float32:
		return normalizeFloat(float64(t))
	case float64:
		return normalizeFloat(t)
	case time.Time:
		return Datetime(t), nil
	case []any:
		out := make([]any, len(t))
		for i, elem := range t {
			n, err := normalize(elem)
			if err != nil {
				return nil, err
			}
			out[i] = n
		}
		return out, nil
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			nk, err := NormalizeString(k)
			if err != nil {
				return nil, err
			}
			nv, err := normalize(val)
			if err != nil {
				return nil, err
			}
			out[nk] = nv
		}
		return out, nil
	default:
		// Structs, typed maps and slices take the round trip through
		// encoding/json so that struct tags are respected, then are
		// normalized as a generic tree.
		raw, err := json.Marshal(v)
		if err != nil {
			return nil, fault.Wrap(fault.NonCanonicalInput, err, "unsupported value")
		}
		dec := json.NewDecoder(bytes.NewReader(raw))
		dec.UseNumber()
		var generic any
		if err := dec.Decode(&generic); err != nil {
			return nil, fault.Wrap(fault.NonCanonicalInput, err, "intermediate decode failed")
		}
		return normalize(generic)
	}
}

// NormalizeString NFC-normalizes s. Invalid UTF-8 is rejected.
func NormalizeString(s string) (string, error) {
	if !utf8.ValidString(s) {
		return "", fault.New(fault.NonCanonicalInput, "string is not valid UTF-8")
	}
	return norm.NFC.String(s), nil
}

// Datetime formats t as canonical UTC ISO-8601 at second precision.
func Datetime(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05Z")
}

// DatetimeMillis formats t at millisecond precision, for fields whose
// contract demands it.
func DatetimeMillis(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000Z")
}
