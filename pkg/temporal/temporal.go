// Package temporal parses and emits timezone-aware UTC instants and
// implements ISO-8601 duration arithmetic for time-bucket truncation.
// All arithmetic is exact on second integers; there is no floating-point
// time anywhere in the core.
package temporal

import (
	"strings"
	"time"

	"github.com/verity-protocol/verity/pkg/fault"
)

// BucketFormat is the canonical time-bucket layout: minute precision,
// always UTC with a trailing Z.
const BucketFormat = "2006-01-02T15:04Z"

// Parse reads an ISO-8601 instant with an explicit offset and converts
// it to UTC, truncated to whole seconds. Naive inputs (no offset) are
// rejected with naive_datetime.
func Parse(s string) (time.Time, error) {
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, BucketFormat} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC().Truncate(time.Second), nil
		}
	}
	// Distinguish a naive timestamp from garbage: a naive input parses
	// once an offset is assumed.
	for _, layout := range []string{"2006-01-02T15:04:05", "2006-01-02T15:04:05.999999999", "2006-01-02T15:04"} {
		if _, err := time.Parse(layout, s); err == nil {
			return time.Time{}, fault.Newf(fault.NaiveDatetime, "timestamp %q has no UTC offset", s)
		}
	}
	return time.Time{}, fault.Newf(fault.NonCanonicalInput, "unparseable timestamp %q", s)
}

// Bucket truncates t to the start of its bucket of the given ISO-8601
// duration, anchored at the UTC epoch.
func Bucket(t time.Time, duration string) (time.Time, error) {
	d, err := ParseDuration(duration)
	if err != nil {
		return time.Time{}, err
	}
	u := t.UTC()
	secs := u.Unix()
	step := int64(d / time.Second)
	start := secs - mod(secs, step)
	return time.Unix(start, 0).UTC(), nil
}

// FormatBucket renders a bucket start in the canonical minute-precision
// form used inside truth keys.
func FormatBucket(t time.Time) string {
	return t.UTC().Format(BucketFormat)
}

// ParseBucket reads the canonical bucket form back into an instant.
func ParseBucket(s string) (time.Time, error) {
	t, err := time.Parse(BucketFormat, s)
	if err != nil {
		return time.Time{}, fault.Newf(fault.NonCanonicalInput, "invalid time bucket %q", s)
	}
	return t.UTC(), nil
}

// ParseDuration reads an ISO-8601 duration of days/hours/minutes/seconds
// (PT1H, PT4H, P1D, P14D, PT30M, ...). Calendar units that have no fixed
// second length (months, years) are rejected.
func ParseDuration(s string) (time.Duration, error) {
	orig := s
	if !strings.HasPrefix(s, "P") || len(s) < 2 {
		return 0, fault.Newf(fault.NonCanonicalInput, "invalid ISO-8601 duration %q", orig)
	}
	s = s[1:]

	var total time.Duration
	inTime := false
	num := 0
	haveNum := false

	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= '0' && c <= '9':
			num = num*10 + int(c-'0')
			haveNum = true
		case c == 'T':
			if inTime || haveNum {
				return 0, fault.Newf(fault.NonCanonicalInput, "invalid ISO-8601 duration %q", orig)
			}
			inTime = true
		default:
			if !haveNum {
				return 0, fault.Newf(fault.NonCanonicalInput, "invalid ISO-8601 duration %q", orig)
			}
			var unit time.Duration
			switch {
			case c == 'W' && !inTime:
				unit = 7 * 24 * time.Hour
			case c == 'D' && !inTime:
				unit = 24 * time.Hour
			case c == 'H' && inTime:
				unit = time.Hour
			case c == 'M' && inTime:
				unit = time.Minute
			case c == 'S' && inTime:
				unit = time.Second
			case (c == 'M' || c == 'Y') && !inTime:
				return 0, fault.Newf(fault.NonCanonicalInput, "calendar unit %q in duration %q is not fixed-length", string(c), orig)
			default:
				return 0, fault.Newf(fault.NonCanonicalInput, "invalid ISO-8601 duration %q", orig)
			}
			total += time.Duration(num) * unit
			num = 0
			haveNum = false
		}
	}
	if haveNum || total <= 0 {
		return 0, fault.Newf(fault.NonCanonicalInput, "invalid ISO-8601 duration %q", orig)
	}
	return total, nil
}

// HalfLives returns how many half-lives of the given duration elapsed
// between from and to. Negative spans count as zero.
func HalfLives(from, to time.Time, halfLife time.Duration) float64 {
	if halfLife <= 0 || !to.After(from) {
		return 0
	}
	return float64(to.Unix()-from.Unix()) / float64(halfLife/time.Second)
}

func mod(a, b int64) int64 {
	m := a % b
	if m < 0 {
		m += b
	}
	return m
}
