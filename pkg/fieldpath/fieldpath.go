// Package fieldpath implements dotted, nested-access field paths over JSON-like values.
//
// A path such as "user.addresses.0.city" addresses the "city" key of the first
// element of the "addresses" list inside the "user" object. Numeric segments
// index lists; every other segment is an object key.
package fieldpath

import (
	"errors"
	"fmt"
	"reflect"
	"strconv"
	"strings"
)

var (
	// ErrEmptyPath is returned when a path has no segments.
	ErrEmptyPath = errors.New("field path is empty")

	// ErrEmptySegment is returned when a path contains an empty segment ("a..b").
	ErrEmptySegment = errors.New("field path contains an empty segment")

	// ErrNotContainer is returned by Set when an intermediate value is neither an object nor a list.
	ErrNotContainer = errors.New("intermediate value is not an object")
)

// Path is a parsed field path.
type Path []string

// Parse splits a dotted path into its segments.
func Parse(raw string) (Path, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, ErrEmptyPath
	}

	segments := strings.Split(raw, ".")
	for i, segment := range segments {
		if segment == "" {
			return nil, fmt.Errorf("%w at position %d in %q", ErrEmptySegment, i, raw)
		}
	}

	return Path(segments), nil
}

// MustParse is Parse for paths known to be valid.
func MustParse(raw string) Path {
	path, err := Parse(raw)
	if err != nil {
		panic(err)
	}

	return path
}

// String renders the path in dotted form.
func (p Path) String() string {
	return strings.Join(p, ".")
}

// Head returns the first segment of the path.
func (p Path) Head() string {
	if len(p) == 0 {
		return ""
	}

	return p[0]
}

// Overlaps reports whether one path equals the other or addresses a value
// nested inside it.
func (p Path) Overlaps(other Path) bool {
	n := min(len(p), len(other))
	if n == 0 {
		return false
	}

	for i := range n {
		if p[i] != other[i] {
			return false
		}
	}

	return true
}

// Get resolves the path against root. The second return value is false when
// any segment along the way is missing.
func Get(root any, path Path) (any, bool) {
	current := root

	for _, segment := range path {
		switch node := current.(type) {
		case map[string]any:
			value, ok := node[segment]
			if !ok {
				return nil, false
			}

			current = value
		case []any:
			index, err := strconv.Atoi(segment)
			if err != nil || index < 0 || index >= len(node) {
				return nil, false
			}

			current = node[index]
		default:
			value, ok := reflectGet(current, segment)
			if !ok {
				return nil, false
			}

			current = value
		}
	}

	return current, true
}

// Set writes value at path inside root, creating intermediate objects as needed.
func Set(root map[string]any, path Path, value any) error {
	if len(path) == 0 {
		return ErrEmptyPath
	}

	current := root

	for i, segment := range path[:len(path)-1] {
		next, ok := current[segment]
		if !ok || next == nil {
			child := make(map[string]any)
			current[segment] = child
			current = child

			continue
		}

		child, ok := next.(map[string]any)
		if !ok {
			return fmt.Errorf("%w: %s", ErrNotContainer, path[:i+1].String())
		}

		current = child
	}

	current[path[len(path)-1]] = value

	return nil
}

// DeepCopy returns a copy of v that shares no mutable state with it. Objects
// and lists are copied recursively; scalars are returned as is.
func DeepCopy(v any) any {
	switch value := v.(type) {
	case nil:
		return nil
	case map[string]any:
		if value == nil {
			return value
		}

		out := make(map[string]any, len(value))
		for k, item := range value {
			out[k] = DeepCopy(item)
		}

		return out
	case []any:
		if value == nil {
			return value
		}

		out := make([]any, len(value))
		for i, item := range value {
			out[i] = DeepCopy(item)
		}

		return out
	case string, bool, float64, float32, int, int64, int32, uint, uint64, uint32, []byte:
		if b, ok := value.([]byte); ok {
			return append([]byte(nil), b...)
		}

		return value
	default:
		return reflectCopy(reflect.ValueOf(v)).Interface()
	}
}

// CopyMap deep-copies an object, returning an empty map for nil.
func CopyMap(m map[string]any) map[string]any {
	if m == nil {
		return make(map[string]any)
	}

	copied, _ := DeepCopy(m).(map[string]any)

	return copied
}

func reflectGet(current any, segment string) (any, bool) {
	value := reflect.ValueOf(current)

	switch value.Kind() {
	case reflect.Map:
		if value.Type().Key().Kind() != reflect.String {
			return nil, false
		}

		item := value.MapIndex(reflect.ValueOf(segment).Convert(value.Type().Key()))
		if !item.IsValid() {
			return nil, false
		}

		return item.Interface(), true
	case reflect.Slice, reflect.Array:
		index, err := strconv.Atoi(segment)
		if err != nil || index < 0 || index >= value.Len() {
			return nil, false
		}

		return value.Index(index).Interface(), true
	default:
		return nil, false
	}
}

func reflectCopy(value reflect.Value) reflect.Value {
	switch value.Kind() {
	case reflect.Map:
		if value.IsNil() {
			return value
		}

		out := reflect.MakeMapWithSize(value.Type(), value.Len())

		iter := value.MapRange()
		for iter.Next() {
			out.SetMapIndex(iter.Key(), reflectCopyElem(iter.Value(), value.Type().Elem()))
		}

		return out
	case reflect.Slice:
		if value.IsNil() {
			return value
		}

		out := reflect.MakeSlice(value.Type(), value.Len(), value.Len())
		for i := range value.Len() {
			out.Index(i).Set(reflectCopyElem(value.Index(i), value.Type().Elem()))
		}

		return out
	case reflect.Pointer:
		if value.IsNil() {
			return value
		}

		out := reflect.New(value.Type().Elem())
		out.Elem().Set(reflectCopyElem(value.Elem(), value.Type().Elem()))

		return out
	default:
		return value
	}
}

func reflectCopyElem(item reflect.Value, elemType reflect.Type) reflect.Value {
	if item.Kind() == reflect.Interface {
		if item.IsNil() {
			return reflect.Zero(elemType)
		}

		copied := DeepCopy(item.Interface())
		if copied == nil {
			return reflect.Zero(elemType)
		}

		return reflect.ValueOf(copied)
	}

	return reflectCopy(item)
}
