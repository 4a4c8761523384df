package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"reflect"
	"strings"
	"time"
)

// ErrUnserializable is returned when a document holds a value the codec cannot represent.
var ErrUnserializable = errors.New("value cannot be serialized")

// dateTag marks an encoded timestamp: {"$$date": <ms since epoch>}.
const dateTag = "$$date"

var (
	timeType      = reflect.TypeOf(time.Time{})
	marshalerType = reflect.TypeOf((*json.Marshaler)(nil)).Elem()
)

// Document is a schemaless record keyed by field name.
type Document map[string]any

// encodeDocument converts a document to its stored form.
// Timestamps are tagged so they decode back into time.Time.
func encodeDocument(doc Document) ([]byte, error) {
	tree, err := normalize(reflect.ValueOf(map[string]any(doc)), make(map[visit]struct{}))
	if err != nil {
		return nil, err
	}

	data, err := json.Marshal(tree)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnserializable, err)
	}
	return data, nil
}

// decodeDocument is the inverse of encodeDocument.
// Numbers decode as float64.
func decodeDocument(data []byte) (Document, error) {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to decode document: %w", err)
	}

	doc := make(Document, len(raw))
	for k, v := range raw {
		doc[k] = revive(v)
	}
	return doc, nil
}

// visit identifies a reference-typed value on the current encoding path.
type visit struct {
	ptr uintptr
	typ reflect.Type
	len int
}

func unserializable(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrUnserializable, fmt.Sprintf(format, args...))
}

// normalize walks v and returns a tree made only of JSON-native values.
// seen holds the references on the path from the root; meeting one again is a cycle.
func normalize(v reflect.Value, seen map[visit]struct{}) (any, error) {
	if !v.IsValid() {
		return nil, nil
	}

	if v.Type() == timeType {
		return map[string]any{dateTag: v.Interface().(time.Time).UnixMilli()}, nil
	}

	if k := v.Kind(); k != reflect.Pointer && k != reflect.Interface && v.Type().Implements(marshalerType) {
		return normalizeMarshaler(v)
	}

	switch v.Kind() {
	case reflect.Bool:
		return v.Bool(), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return v.Int(), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return v.Uint(), nil
	case reflect.Float32, reflect.Float64:
		f := v.Float()
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return nil, unserializable("unsupported number %v", f)
		}
		return f, nil
	case reflect.String:
		return v.String(), nil

	case reflect.Interface:
		if v.IsNil() {
			return nil, nil
		}
		return normalize(v.Elem(), seen)

	case reflect.Pointer:
		if v.IsNil() {
			return nil, nil
		}
		if v.Type().Implements(marshalerType) {
			return normalizeMarshaler(v)
		}
		key := visit{ptr: v.Pointer(), typ: v.Type()}
		if _, ok := seen[key]; ok {
			return nil, unserializable("encountered a cycle via %s", v.Type())
		}
		seen[key] = struct{}{}
		defer delete(seen, key)
		return normalize(v.Elem(), seen)

	case reflect.Map:
		if v.IsNil() {
			return nil, nil
		}
		if v.Type().Key().Kind() != reflect.String {
			return nil, unserializable("map key type %s", v.Type().Key())
		}
		key := visit{ptr: v.Pointer(), typ: v.Type()}
		if _, ok := seen[key]; ok {
			return nil, unserializable("encountered a cycle via %s", v.Type())
		}
		seen[key] = struct{}{}
		defer delete(seen, key)

		out := make(map[string]any, v.Len())
		iter := v.MapRange()
		for iter.Next() {
			name := iter.Key().String()
			if strings.HasPrefix(name, "$") {
				return nil, unserializable("field names cannot begin with the $ character: %q", name)
			}
			elem, err := normalize(iter.Value(), seen)
			if err != nil {
				return nil, err
			}
			out[name] = elem
		}
		return out, nil

	case reflect.Slice:
		if v.IsNil() {
			return nil, nil
		}
		key := visit{ptr: v.Pointer(), typ: v.Type(), len: v.Len()}
		if _, ok := seen[key]; ok {
			return nil, unserializable("encountered a cycle via %s", v.Type())
		}
		seen[key] = struct{}{}
		defer delete(seen, key)
		return normalizeList(v, seen)

	case reflect.Array:
		return normalizeList(v, seen)

	case reflect.Struct:
		return normalizeMarshaler(v)
	}

	return nil, unserializable("unsupported type %s", v.Type())
}

func normalizeList(v reflect.Value, seen map[visit]struct{}) (any, error) {
	out := make([]any, v.Len())
	for i := range out {
		elem, err := normalize(v.Index(i), seen)
		if err != nil {
			return nil, err
		}
		out[i] = elem
	}
	return out, nil
}

// normalizeMarshaler routes structs and json.Marshaler implementations through
// their own JSON encoding and normalizes the result.
func normalizeMarshaler(v reflect.Value) (any, error) {
	data, err := json.Marshal(v.Interface())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnserializable, err)
	}

	var generic any
	if err := json.Unmarshal(data, &generic); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnserializable, err)
	}
	return normalize(reflect.ValueOf(generic), make(map[visit]struct{}))
}

// revive turns tagged timestamps back into time.Time.
func revive(v any) any {
	switch val := v.(type) {
	case map[string]any:
		if len(val) == 1 {
			if ms, ok := val[dateTag].(float64); ok {
				return time.UnixMilli(int64(ms)).UTC()
			}
		}
		for k, elem := range val {
			val[k] = revive(elem)
		}
		return val
	case []any:
		for i, elem := range val {
			val[i] = revive(elem)
		}
		return val
	default:
		return v
	}
}
