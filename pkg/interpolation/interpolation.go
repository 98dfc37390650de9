// Package interpolation resolves {{path}} placeholders against an execution scope and
// evaluates boolean branch conditions.
package interpolation

import (
	"encoding/json"
	"fmt"
	"reflect"
	"regexp"
	"strconv"
	"strings"
)

var (
	placeholderPattern = regexp.MustCompile(`\{\{([^{}]+)\}\}`)
	singlePattern      = regexp.MustCompile(`^\{\{([^{}]+)\}\}$`)
	indexedSegment     = regexp.MustCompile(`^([^\[\]]*)\[(\d+)\]$`)
)

// Interpolate resolves placeholders in template against scope. Maps and slices are walked
// recursively; other scalars are returned unchanged.
//
// A string made of exactly one placeholder resolves to the referenced value with its own
// type. In mixed text every resolved placeholder is replaced by its string form and
// unresolved ones are kept verbatim.
func Interpolate(template any, scope map[string]any) any {
	switch value := template.(type) {
	case string:
		return interpolateString(value, scope)
	case map[string]any:
		out := make(map[string]any, len(value))
		for key, item := range value {
			out[key] = Interpolate(item, scope)
		}

		return out
	case map[string]string:
		out := make(map[string]any, len(value))
		for key, item := range value {
			out[key] = interpolateString(item, scope)
		}

		return out
	case []any:
		out := make([]any, len(value))
		for i, item := range value {
			out[i] = Interpolate(item, scope)
		}

		return out
	case []string:
		out := make([]any, len(value))
		for i, item := range value {
			out[i] = interpolateString(item, scope)
		}

		return out
	default:
		return template
	}
}

// InterpolateString is Interpolate for callers that need text, such as URLs and header values.
func InterpolateString(template string, scope map[string]any) string {
	return Stringify(interpolateString(template, scope))
}

func interpolateString(template string, scope map[string]any) any {
	if !strings.Contains(template, "{{") {
		return template
	}

	if match := singlePattern.FindStringSubmatch(template); match != nil {
		value, ok := GetValueByPath(scope, strings.TrimSpace(match[1]))
		if !ok {
			return template
		}

		return value
	}

	return placeholderPattern.ReplaceAllStringFunc(template, func(placeholder string) string {
		path := strings.TrimSpace(placeholder[2 : len(placeholder)-2])

		value, ok := GetValueByPath(scope, path)
		if !ok {
			return placeholder
		}

		return Stringify(value)
	})
}

// GetValueByPath walks a dot separated path such as "user.items[1].name". Each segment may
// carry a single bracket index. The boolean is false when any segment is missing or a nil
// value is met before the last segment.
func GetValueByPath(data any, path string) (any, bool) {
	if path == "" {
		return nil, false
	}

	current := data

	for _, segment := range strings.Split(path, ".") {
		if current == nil {
			return nil, false
		}

		key := segment
		index := -1

		if match := indexedSegment.FindStringSubmatch(segment); match != nil {
			key = match[1]
			index, _ = strconv.Atoi(match[2])
		}

		if key != "" {
			next, ok := lookup(current, key)
			if !ok {
				return nil, false
			}

			current = next
		}

		if index >= 0 {
			if current == nil {
				return nil, false
			}

			next, ok := lookupIndex(current, index)
			if !ok {
				return nil, false
			}

			current = next
		}
	}

	return current, true
}

func lookup(container any, key string) (any, bool) {
	switch typed := container.(type) {
	case map[string]any:
		value, ok := typed[key]
		return value, ok
	case map[string]string:
		value, ok := typed[key]
		return value, ok
	case []any:
		index, err := strconv.Atoi(key)
		if err != nil {
			return nil, false
		}

		return lookupIndex(typed, index)
	}

	rv := reflect.ValueOf(container)
	for rv.Kind() == reflect.Pointer || rv.Kind() == reflect.Interface {
		if rv.IsNil() {
			return nil, false
		}

		rv = rv.Elem()
	}

	switch rv.Kind() {
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return nil, false
		}

		value := rv.MapIndex(reflect.ValueOf(key).Convert(rv.Type().Key()))
		if !value.IsValid() {
			return nil, false
		}

		return value.Interface(), true
	case reflect.Slice, reflect.Array:
		index, err := strconv.Atoi(key)
		if err != nil {
			return nil, false
		}

		return lookupIndex(container, index)
	default:
		return nil, false
	}
}

func lookupIndex(container any, index int) (any, bool) {
	if items, ok := container.([]any); ok {
		if index < 0 || index >= len(items) {
			return nil, false
		}

		return items[index], true
	}

	rv := reflect.ValueOf(container)
	for rv.Kind() == reflect.Pointer || rv.Kind() == reflect.Interface {
		if rv.IsNil() {
			return nil, false
		}

		rv = rv.Elem()
	}

	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, false
	}

	if index < 0 || index >= rv.Len() {
		return nil, false
	}

	return rv.Index(index).Interface(), true
}

// Stringify renders a resolved value for embedding in text. Maps and slices are JSON
// encoded; floats drop trailing zeros.
func Stringify(value any) string {
	switch typed := value.(type) {
	case nil:
		return "null"
	case string:
		return typed
	case bool:
		return strconv.FormatBool(typed)
	case float64:
		return strconv.FormatFloat(typed, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(typed), 'f', -1, 32)
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return fmt.Sprint(typed)
	case json.Number:
		return typed.String()
	case fmt.Stringer:
		return typed.String()
	}

	encoded, err := json.Marshal(value)
	if err != nil {
		return fmt.Sprint(value)
	}

	return string(encoded)
}
