// Package filter implements the event-matching DSL a Worker's `filters`
// list is made of: simple `field OP value` expressions evaluated in-memory
// against an Event's JSON payload. There is no query compilation step —
// the store is bbolt, not SQL, so every filter is just a predicate run
// against the decoded payload at dispatch time.
package filter

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/cuemby/granary/pkg/granaryerr"
)

// Op is a filter comparison operator.
type Op string

const (
	Eq       Op = "="
	NotEq    Op = "!="
	Contains Op = "~="
)

// Filter is one parsed `field OP value` expression.
type Filter struct {
	Field string
	Op    Op
	Value string
}

// Parse parses a single filter expression. Operators are checked in order
// `~=`, `!=`, `=` — in that exact specificity order, since `!=` and `~=`
// both contain the substring `=` — matching
// original_source/src/services/filter.rs::Filter::parse.
func Parse(s string) (Filter, error) {
	if idx := strings.Index(s, string(Contains)); idx >= 0 {
		return build(s, idx, Contains)
	}
	if idx := strings.Index(s, string(NotEq)); idx >= 0 {
		return build(s, idx, NotEq)
	}
	if idx := strings.Index(s, string(Eq)); idx >= 0 {
		return build(s, idx, Eq)
	}
	return Filter{}, granaryerr.Newf(granaryerr.UserInput, "filter %q: no operator found (expected one of ~=, !=, =)", s)
}

func build(s string, idx int, op Op) (Filter, error) {
	field := strings.TrimSpace(s[:idx])
	value := strings.TrimSpace(s[idx+len(op):])
	if field == "" {
		return Filter{}, granaryerr.Newf(granaryerr.UserInput, "filter %q: empty field", s)
	}
	return Filter{Field: field, Op: op, Value: value}, nil
}

// ParseFilters parses a batch of filter expressions, failing on the first
// invalid one.
func ParseFilters(filters []string) ([]Filter, error) {
	parsed := make([]Filter, 0, len(filters))
	for _, f := range filters {
		pf, err := Parse(f)
		if err != nil {
			return nil, err
		}
		parsed = append(parsed, pf)
	}
	return parsed, nil
}

// Matches reports whether payload satisfies f. A missing field is not an
// error: each operator has its own missing-field truth table (see below),
// taken literally from filter.rs::Filter::matches.
func (f Filter) Matches(payload map[string]any) bool {
	value, found := getNestedValue(payload, f.Field)
	if !found {
		switch f.Op {
		case Eq:
			// Missing matches only when the filter's expected value is
			// itself "absent" — empty or the literal string "null".
			return f.Value == "" || f.Value == "null"
		case NotEq:
			return f.Value != "" && f.Value != "null"
		case Contains:
			return false
		default:
			return false
		}
	}

	switch f.Op {
	case Eq:
		return valueEquals(value, f.Value)
	case NotEq:
		return !valueEquals(value, f.Value)
	case Contains:
		return valueContains(value, f.Value)
	default:
		return false
	}
}

// MatchesAll reports whether payload satisfies every filter (logical AND),
// the only combinator spec.md's dispatch step actually needs.
func MatchesAll(filters []Filter, payload map[string]any) bool {
	for _, f := range filters {
		if !f.Matches(payload) {
			return false
		}
	}
	return true
}

// getNestedValue resolves a dot-separated path within payload, descending
// into nested maps and (for numeric path segments) arrays — e.g.
// "items.0.name".
func getNestedValue(payload map[string]any, path string) (any, bool) {
	parts := strings.Split(path, ".")
	var current any = payload
	for _, part := range parts {
		switch v := current.(type) {
		case map[string]any:
			next, ok := v[part]
			if !ok {
				return nil, false
			}
			current = next
		case []any:
			idx, err := strconv.Atoi(part)
			if err != nil || idx < 0 || idx >= len(v) {
				return nil, false
			}
			current = v[idx]
		default:
			return nil, false
		}
	}
	return current, true
}

// valueEquals compares a decoded JSON value against the filter's literal
// string value. Arrays and objects never satisfy "=" — there is no
// canonical string form defined for them here, matching value_equals.
func valueEquals(v any, s string) bool {
	switch val := v.(type) {
	case string:
		return val == s
	case float64:
		return numberToString(val) == s
	case bool:
		return strconv.FormatBool(val) == s
	case nil:
		return s == "" || s == "null"
	default:
		return false
	}
}

// valueContains reports whether s appears as a substring of v's string
// form. Arrays recurse element-wise; objects fall back to their compact
// JSON form. Matches value_contains.
func valueContains(v any, s string) bool {
	switch val := v.(type) {
	case string:
		return strings.Contains(val, s)
	case float64:
		return strings.Contains(numberToString(val), s)
	case bool:
		return strings.Contains(strconv.FormatBool(val), s)
	case nil:
		return strings.Contains("null", s)
	case []any:
		for _, elem := range val {
			if valueContains(elem, s) {
				return true
			}
		}
		return false
	case map[string]any:
		return strings.Contains(compactJSON(val), s)
	default:
		return false
	}
}

// numberToString renders a float64 decoded from JSON the way
// serde_json::Number::to_string() would: integral values print without a
// trailing ".0" (encoding/json always decodes JSON numbers as float64, so
// this reconstructs the canonical integer form Rust's Number type
// preserves natively).
func numberToString(f float64) string {
	if f == float64(int64(f)) {
		return strconv.FormatInt(int64(f), 10)
	}
	return strconv.FormatFloat(f, 'g', -1, 64)
}

// compactJSON renders a decoded JSON object back to its compact string
// form for substring matching. Marshal of a map[string]any cannot fail.
func compactJSON(v map[string]any) string {
	b, _ := json.Marshal(v)
	return string(b)
}
