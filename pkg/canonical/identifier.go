package canonical

import (
	"regexp"
	"strings"

	"github.com/verity-protocol/verity/pkg/fault"
)

// idPattern is the charset every canonical identifier segment must match.
var idPattern = regexp.MustCompile(`^[a-z0-9._-]+$`)

// ValidID reports whether s is already a canonical identifier.
func ValidID(s string) bool {
	return idPattern.MatchString(s)
}

// ID lowercases s and rewrites it into the canonical identifier charset,
// collapsing runs of invalid characters to a single underscore.
func ID(s string) (string, error) {
	n, err := NormalizeString(s)
	if err != nil {
		return "", err
	}
	n = strings.ToLower(n)

	var b strings.Builder
	lastUnderscore := false
	for _, r := range n {
		switch {
		case (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '.' || r == '_' || r == '-':
			b.WriteRune(r)
			lastUnderscore = r == '_'
		default:
			if !lastUnderscore {
				b.WriteByte('_')
				lastUnderscore = true
			}
		}
	}

	out := strings.Trim(b.String(), "_")
	if out == "" {
		return "", fault.New(fault.NonCanonicalInput, "identifier is empty after normalization")
	}
	return out, nil
}

// SortedStrings returns a sorted copy of xs, for fields defined as sets.
func SortedStrings(xs []string) []string {
	out := make([]string, len(xs))
	copy(out, xs)
	for i := 0; i < len(out); i++ {
		for j := i + 1; j < len(out); j++ {
			if out[j] < out[i] {
				out[i], out[j] = out[j], out[i]
			}
		}
	}
	return out
}
