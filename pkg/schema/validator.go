// Package schema compiles a contract's output schema once and validates
// claim payloads deterministically: failures are a canonical list of
// {path, code} pairs drawn from a fixed enumeration, and the first error
// by canonical ordering is the one surfaced to the compiler.
package schema

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/verity-protocol/verity/pkg/fault"
)

// Stable validation error codes.
const (
	CodeTypeMismatch       = "type_mismatch"
	CodeMissingRequired    = "missing_required"
	CodeEnumViolation      = "enum_violation"
	CodeRangeViolation     = "range_violation"
	CodeAdditionalProperty = "additional_property"
	CodePatternMismatch    = "pattern_mismatch"
	CodeLengthViolation    = "length_violation"
	CodeConstViolation     = "const_violation"
	CodeConstraint         = "constraint_violation"
)

// Violation is one deterministic validation failure.
type Violation struct {
	Path string `json:"path"`
	Code string `json:"code"`
}

// Compiled is a compiled output schema ready for repeated validation.
type Compiled struct {
	schema *jsonschema.Schema
}

// Compile builds the internal form of an output schema document.
func Compile(doc map[string]any) (*Compiled, error) {
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, fault.Wrap(fault.SchemaViolation, err, "schema body is not serializable")
	}

	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	const url = "inline://output_schema.json"
	if err := c.AddResource(url, strings.NewReader(string(raw))); err != nil {
		return nil, fault.Wrap(fault.SchemaViolation, err, "schema resource rejected")
	}
	sch, err := c.Compile(url)
	if err != nil {
		return nil, fault.Wrap(fault.SchemaViolation, err, "schema does not compile")
	}
	return &Compiled{schema: sch}, nil
}

// Validate checks payload against the compiled schema. On failure it
// returns a fault.SchemaViolation carrying the first violation by
// canonical (path, code) ordering, plus the full sorted list.
func (c *Compiled) Validate(payload map[string]any) ([]Violation, error) {
	// Round-trip through JSON so validation sees the same generic tree
	// that canonicalization will hash.
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fault.Wrap(fault.SchemaViolation, err, "payload is not serializable")
	}
	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, fault.Wrap(fault.SchemaViolation, err, "payload decode failed")
	}

	err = c.schema.Validate(generic)
	if err == nil {
		return nil, nil
	}

	var ve *jsonschema.ValidationError
	if !errors.As(err, &ve) {
		return nil, fault.Wrap(fault.SchemaViolation, err, "validation failed")
	}

	violations := flatten(ve)
	sort.Slice(violations, func(i, j int) bool {
		if violations[i].Path != violations[j].Path {
			return violations[i].Path < violations[j].Path
		}
		return violations[i].Code < violations[j].Code
	})

	first := violations[0]
	f := fault.Newf(fault.SchemaViolation, "payload rejected: %s", first.Code).WithPath(first.Path)
	return violations, f
}

// flatten walks the cause tree and keeps leaf violations only.
func flatten(ve *jsonschema.ValidationError) []Violation {
	if len(ve.Causes) == 0 {
		return []Violation{{
			Path: pointer(ve.InstanceLocation),
			Code: codeFor(ve.KeywordLocation),
		}}
	}
	var out []Violation
	for _, cause := range ve.Causes {
		out = append(out, flatten(cause)...)
	}
	return out
}

func pointer(instanceLocation string) string {
	if instanceLocation == "" {
		return "$"
	}
	return "$" + strings.ReplaceAll(instanceLocation, "/", ".")
}

// codeFor maps the failing keyword to the stable enumeration.
func codeFor(keywordLocation string) string {
	idx := strings.LastIndex(keywordLocation, "/")
	keyword := keywordLocation[idx+1:]
	// Array-indexed keywords like required/0 point one level deeper.
	if isIndex(keyword) && idx > 0 {
		prev := keywordLocation[:idx]
		keyword = prev[strings.LastIndex(prev, "/")+1:]
	}

	switch keyword {
	case "type":
		return CodeTypeMismatch
	case "required":
		return CodeMissingRequired
	case "enum":
		return CodeEnumViolation
	case "const":
		return CodeConstViolation
	case "minimum", "maximum", "exclusiveMinimum", "exclusiveMaximum", "multipleOf":
		return CodeRangeViolation
	case "additionalProperties", "unevaluatedProperties":
		return CodeAdditionalProperty
	case "pattern":
		return CodePatternMismatch
	case "minLength", "maxLength", "minItems", "maxItems", "minProperties", "maxProperties":
		return CodeLengthViolation
	default:
		return CodeConstraint
	}
}

func isIndex(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// MustCompile is for tests and static schemas.
func MustCompile(doc map[string]any) *Compiled {
	c, err := Compile(doc)
	if err != nil {
		panic(fmt.Sprintf("schema: %v", err))
	}
	return c
}
