package filter

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/cuemby/granary/pkg/types"
)

// Substitute replaces `{path}` placeholders in template with values drawn
// from event. Unknown placeholders substitute the empty string rather than
// erroring — matching original_source/src/services/template.rs::substitute.
func Substitute(template string, event *types.Event) string {
	var result strings.Builder
	result.Grow(len(template))

	runes := []rune(template)
	for i := 0; i < len(runes); i++ {
		c := runes[i]
		if c != '{' {
			result.WriteRune(c)
			continue
		}
		j := i + 1
		for j < len(runes) && runes[j] != '}' {
			j++
		}
		path := string(runes[i+1 : j])
		if value, ok := resolvePath(path, event); ok {
			result.WriteString(value)
		}
		if j < len(runes) {
			i = j // consume the closing brace (loop's i++ advances past it)
		} else {
			i = j - 1 // unterminated placeholder: consumed to end of string
		}
	}

	return result.String()
}

// SubstituteAll applies Substitute to each template string.
func SubstituteAll(templates []string, event *types.Event) []string {
	out := make([]string, len(templates))
	for i, t := range templates {
		out[i] = Substitute(t, event)
	}
	return out
}

// resolvePath resolves one placeholder path, checking the literal
// event.* top-level fields before task./project./session. prefixes and
// finally a dot-path lookup into the payload — matching
// template.rs::resolve_path exactly.
func resolvePath(path string, event *types.Event) (string, bool) {
	switch path {
	case "event.id":
		return strconv.FormatInt(event.ID, 10), true
	case "event.type":
		return event.EventType, true
	case "event.entity_type":
		return event.EntityType, true
	case "event.entity_id":
		return event.EntityID, true
	case "event.created_at":
		return event.CreatedAt.Format("2006-01-02T15:04:05Z07:00"), true
	}

	if field, ok := strings.CutPrefix(path, "task."); ok {
		return resolveNestedPath(getPayloadField(event, "task"), field)
	}
	if field, ok := strings.CutPrefix(path, "project."); ok {
		return resolveNestedPath(getPayloadField(event, "project"), field)
	}
	if field, ok := strings.CutPrefix(path, "session."); ok {
		return resolveNestedPath(getPayloadField(event, "session"), field)
	}

	return resolveNestedPath(event.Payload, path)
}

func getPayloadField(event *types.Event, key string) any {
	if event.Payload == nil {
		return nil
	}
	v, ok := event.Payload[key]
	if !ok {
		return nil
	}
	return v
}

// resolveNestedPath descends a dot-separated path within value (a decoded
// JSON map, slice, or scalar) and renders the result to a string.
func resolveNestedPath(value any, path string) (string, bool) {
	if value == nil {
		return "", false
	}

	current := value
	for _, part := range strings.Split(path, ".") {
		switch v := current.(type) {
		case map[string]any:
			next, ok := v[part]
			if !ok {
				return "", false
			}
			current = next
		case []any:
			idx, err := strconv.Atoi(part)
			if err != nil || idx < 0 || idx >= len(v) {
				return "", false
			}
			current = v[idx]
		default:
			return "", false
		}
	}

	return valueToString(current)
}

// valueToString renders a decoded JSON value the way
// template.rs::value_to_string does: strings/numbers/bools print their
// literal form, null substitutes nothing at all (not even an empty
// placeholder is "found"), and arrays/objects fall back to their compact
// JSON form.
func valueToString(v any) (string, bool) {
	switch val := v.(type) {
	case string:
		return val, true
	case float64:
		return numberToString(val), true
	case bool:
		return strconv.FormatBool(val), true
	case nil:
		return "", false
	case []any, map[string]any:
		return compactJSONAny(val), true
	default:
		return "", false
	}
}

func compactJSONAny(v any) string {
	b, _ := json.Marshal(v)
	return string(b)
}
