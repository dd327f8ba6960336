// Package fault defines the closed set of error codes surfaced by the
// truth compiler and the trust engine. Every failure in the core maps to
// exactly one code; codes are stable across versions and suitable for
// machine matching on the wire.
package fault

import (
	"errors"
	"fmt"
)

// Code identifies one failure kind from the closed set.
type Code string

const (
	NoEvidence                Code = "no_evidence"
	ContractMissing           Code = "contract_missing"
	ContractHashMismatch      Code = "contract_hash_mismatch"
	SchemaViolation           Code = "schema_violation"
	NaiveDatetime             Code = "naive_datetime"
	NonCanonicalInput         Code = "non_canonical_input"
	TruthKeyInvalid           Code = "truthkey_invalid"
	SpatialSystemUnsupported  Code = "spatial_system_unsupported"
	TrustSnapshotHashMismatch Code = "trust_snapshot_hash_mismatch"
	PolicyUnknown             Code = "policy_unknown"
	SigningUnavailable        Code = "signing_unavailable"
	SigningRefused            Code = "signing_refused"
	SignalOrderingViolation   Code = "signal_ordering_violation"
	SignalStoreExhausted      Code = "signal_store_exhausted"
)

// Error is a coded failure. Path is set for schema violations (a JSON
// pointer into the rejected payload); Repro carries the machine-readable
// reproduction envelope when the failure occurred inside a compile.
type Error struct {
	Code   Code
	Path   string
	Detail string
	Repro  map[string]any
	cause  error
}

// New returns a coded error with a fixed detail string.
func New(code Code, detail string) *Error {
	return &Error{Code: code, Detail: detail}
}

// Newf returns a coded error with a formatted detail string.
func Newf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Detail: fmt.Sprintf(format, args...)}
}

// Wrap returns a coded error with an underlying cause preserved for
// errors.Unwrap chains.
func Wrap(code Code, cause error, detail string) *Error {
	return &Error{Code: code, Detail: detail, cause: cause}
}

func (e *Error) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("%s at %s: %s", e.Code, e.Path, e.Detail)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Detail)
}

func (e *Error) Unwrap() error { return e.cause }

// Is matches any *Error carrying the same code, so callers can test
// errors.Is(err, fault.New(fault.SchemaViolation, "")).
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return e.Code == t.Code
}

// WithPath returns a copy of e annotated with a JSON-pointer path.
func (e *Error) WithPath(path string) *Error {
	c := *e
	c.Path = path
	return &c
}

// WithRepro attaches the reproduction envelope (typically the canonical
// compile_inputs map) to the error.
func (e *Error) WithRepro(repro map[string]any) *Error {
	c := *e
	c.Repro = repro
	return &c
}

// CodeOf extracts the code from an error chain, or "" if the chain holds
// no coded error.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}
