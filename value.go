package forumcache

import (
	"encoding"
	"encoding/json"
	"fmt"
	"reflect"
)

// Cacheable is implemented by objects that declare their own serialization.
type Cacheable = json.Marshaler

var (
	marshalerType     = reflect.TypeOf((*json.Marshaler)(nil)).Elem()
	textMarshalerType = reflect.TypeOf((*encoding.TextMarshaler)(nil)).Elem()
)

// CheckCacheable reports whether v can be stored: nil, booleans, strings,
// numbers, maps, slices, structs built from those, and Cacheable values.
func CheckCacheable(v any) error {
	if v == nil {
		return nil
	}
	rv := reflect.ValueOf(v)
	if err := checkCacheableType(rv.Type(), make(map[reflect.Type]bool)); err != nil {
		return err
	}
	return checkCacheableValue(rv, 0, make(map[reflect.Type]bool))
}

// maxCacheableDepth bounds the walk over self-referencing values.
const maxCacheableDepth = 32

// checkCacheableValue checks the dynamic values held in interface-typed
// positions, which the type walk cannot see. Only types that can hold an
// interface are descended into.
func checkCacheableValue(v reflect.Value, depth int, dynamic map[reflect.Type]bool) error {
	if depth > maxCacheableDepth || !v.IsValid() || !holdsInterface(v.Type(), dynamic) {
		return nil
	}
	switch v.Kind() {
	case reflect.Interface, reflect.Pointer:
		if v.IsNil() {
			return nil
		}
		elem := v.Elem()
		if v.Kind() == reflect.Interface {
			if err := checkCacheableType(elem.Type(), make(map[reflect.Type]bool)); err != nil {
				return err
			}
		}
		return checkCacheableValue(elem, depth+1, dynamic)
	case reflect.Slice, reflect.Array:
		for i := 0; i < v.Len(); i++ {
			if err := checkCacheableValue(v.Index(i), depth+1, dynamic); err != nil {
				return fmt.Errorf("index %d: %w", i, err)
			}
		}
	case reflect.Map:
		iter := v.MapRange()
		for iter.Next() {
			if err := checkCacheableValue(iter.Value(), depth+1, dynamic); err != nil {
				return fmt.Errorf("key %v: %w", iter.Key(), err)
			}
		}
	case reflect.Struct:
		t := v.Type()
		for i := 0; i < t.NumField(); i++ {
			f := t.Field(i)
			if !f.IsExported() || f.Tag.Get("json") == "-" {
				continue
			}
			if err := checkCacheableValue(v.Field(i), depth+1, dynamic); err != nil {
				return fmt.Errorf("field %s: %w", f.Name, err)
			}
		}
	}
	return nil
}

// holdsInterface reports whether values of t can carry an interface-typed
// element. Cacheable types encode themselves and are not descended into.
func holdsInterface(t reflect.Type, memo map[reflect.Type]bool) bool {
	if known, ok := memo[t]; ok {
		return known
	}
	if t.Implements(marshalerType) || reflect.PointerTo(t).Implements(marshalerType) {
		memo[t] = false
		return false
	}
	// recursive types are assumed to hold one until proven otherwise
	memo[t] = true
	var holds bool
	switch t.Kind() {
	case reflect.Interface:
		holds = true
	case reflect.Pointer, reflect.Slice, reflect.Array, reflect.Map:
		holds = holdsInterface(t.Elem(), memo)
	case reflect.Struct:
		for i := 0; i < t.NumField() && !holds; i++ {
			f := t.Field(i)
			if f.IsExported() && f.Tag.Get("json") != "-" {
				holds = holdsInterface(f.Type, memo)
			}
		}
	}
	memo[t] = holds
	return holds
}

func checkCacheableType(t reflect.Type, seen map[reflect.Type]bool) error {
	if seen[t] {
		return nil
	}
	if t.Implements(marshalerType) || reflect.PointerTo(t).Implements(marshalerType) {
		return nil
	}
	switch t.Kind() {
	case reflect.Bool, reflect.String,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr,
		reflect.Float32, reflect.Float64:
		return nil
	case reflect.Interface:
		// dynamic values are checked by checkCacheableValue
		return nil
	case reflect.Pointer, reflect.Slice, reflect.Array:
		return checkCacheableType(t.Elem(), seen)
	case reflect.Map:
		if !validMapKey(t.Key()) {
			return fmt.Errorf("map key type %s", t.Key())
		}
		return checkCacheableType(t.Elem(), seen)
	case reflect.Struct:
		seen[t] = true
		for i := 0; i < t.NumField(); i++ {
			f := t.Field(i)
			if !f.IsExported() || f.Tag.Get("json") == "-" {
				continue
			}
			if err := checkCacheableType(f.Type, seen); err != nil {
				return fmt.Errorf("field %s: %w", f.Name, err)
			}
		}
		return nil
	default:
		return fmt.Errorf("type %s", t)
	}
}

func validMapKey(t reflect.Type) bool {
	switch t.Kind() {
	case reflect.String,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return true
	}
	return t.Implements(textMarshalerType)
}

func isNilValue(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Interface:
		return rv.IsNil()
	}
	return false
}

// convertJSON re-shapes a decoded value into T.
func convertJSON[T any](v any) (T, error) {
	var out T
	if typed, ok := v.(T); ok {
		return typed, nil
	}
	body, err := json.Marshal(v)
	if err != nil {
		return out, err
	}
	err = json.Unmarshal(body, &out)
	return out, err
}
