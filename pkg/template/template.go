// Package template resolves {{key}} placeholders against a workflow context.
package template

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var placeholder = regexp.MustCompile(`\{\{\s*([A-Za-z0-9_.\-]+)\s*\}\}`)

// Interpolate replaces every {{key}} token with the string form of the
// matching context value. Dotted keys walk nested maps. Tokens that do not
// resolve are left untouched.
func Interpolate(input string, data map[string]any) string {
	if !strings.Contains(input, "{{") {
		return input
	}

	return placeholder.ReplaceAllStringFunc(input, func(token string) string {
		key := placeholder.FindStringSubmatch(token)[1]

		value, ok := lookup(data, key)
		if !ok {
			return token
		}

		return Stringify(value)
	})
}

// InterpolateValue applies Interpolate to every string found in value,
// descending into maps and slices. Other values are returned as is.
func InterpolateValue(value any, data map[string]any) any {
	switch v := value.(type) {
	case string:
		return Interpolate(v, data)
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, item := range v {
			out[k] = InterpolateValue(item, data)
		}

		return out
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = InterpolateValue(item, data)
		}

		return out
	case []string:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = Interpolate(item, data)
		}

		return out
	default:
		return value
	}
}

// ExtractPath walks a dot separated path into nested maps and slices.
// Numeric segments index slices.
func ExtractPath(data any, path string) (any, bool) {
	if path == "" {
		return data, true
	}

	current := data

	for _, segment := range strings.Split(path, ".") {
		switch node := current.(type) {
		case map[string]any:
			next, ok := node[segment]
			if !ok {
				return nil, false
			}

			current = next
		case []any:
			idx, err := strconv.Atoi(segment)
			if err != nil || idx < 0 || idx >= len(node) {
				return nil, false
			}

			current = node[idx]
		default:
			return nil, false
		}
	}

	return current, true
}

// Stringify renders a context value the way it is substituted into text.
func Stringify(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(v), 'f', -1, 32)
	case bool, int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, json.Number:
		return fmt.Sprint(v)
	default:
		encoded, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprint(v)
		}

		return string(encoded)
	}
}

func lookup(data map[string]any, key string) (any, bool) {
	if value, ok := data[key]; ok {
		return value, true
	}

	if !strings.Contains(key, ".") {
		return nil, false
	}

	return ExtractPath(data, key)
}
