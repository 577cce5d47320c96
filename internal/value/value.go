// Package value implements the comparison and coercion rules applied to field
// values as they move between entities and storage gateways.
//
// Field values are plain Go values (any). nil stands for SQL NULL. Integer
// kinds are treated as one integer type and float kinds as one float type, so
// an int set by application code is identical to the int64 a driver returns.
package value

import (
	"bytes"
	"math"
	"reflect"
	"strconv"
	"time"
)

// Expression is a raw SQL fragment used as a field value, e.g. NOW() or
// counter + 1. Gateways embed it verbatim instead of binding it.
type Expression string

// SQL returns the fragment.
func (e Expression) SQL() string { return string(e) }

// IsNull reports whether v represents SQL NULL.
func IsNull(v any) bool {
	if v == nil {
		return true
	}
	switch rv := reflect.ValueOf(v); rv.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Interface:
		return rv.IsNil()
	}
	return false
}

// Normalize folds integer kinds to int64 and float kinds to float64. Unsigned
// values above math.MaxInt64 do not fit and become uint64 instead. Other
// values are returned unchanged.
func Normalize(v any) any {
	switch x := v.(type) {
	case int:
		return int64(x)
	case int8:
		return int64(x)
	case int16:
		return int64(x)
	case int32:
		return int64(x)
	case uint:
		return Normalize(uint64(x))
	case uint8:
		return int64(x)
	case uint16:
		return int64(x)
	case uint32:
		return int64(x)
	case uint64:
		if x > math.MaxInt64 {
			return x
		}
		return int64(x)
	case float32:
		return float64(x)
	}
	return v
}

// Identical is a strict comparison: both values must have the same (normalized)
// type and the same value. Structured values are compared deeply.
func Identical(a, b any) bool {
	if IsNull(a) || IsNull(b) {
		return IsNull(a) && IsNull(b)
	}
	a, b = Normalize(a), Normalize(b)

	switch x := a.(type) {
	case string:
		y, ok := b.(string)
		return ok && x == y
	case int64:
		y, ok := b.(int64)
		return ok && x == y
	case uint64:
		y, ok := b.(uint64)
		return ok && x == y
	case float64:
		y, ok := b.(float64)
		return ok && x == y
	case bool:
		y, ok := b.(bool)
		return ok && x == y
	case []byte:
		y, ok := b.([]byte)
		return ok && bytes.Equal(x, y)
	case time.Time:
		y, ok := b.(time.Time)
		return ok && x.Equal(y)
	case Expression:
		y, ok := b.(Expression)
		return ok && x == y
	case map[string]any, []any:
		return identicalNested(a, b)
	}
	return reflect.DeepEqual(a, b)
}

// identicalNested compares decoded JSON documents. JSON has one number type,
// so numbers inside a document compare by value: an application's 1 equals the
// 1.0 a decoder produces.
func identicalNested(a, b any) bool {
	if fa, ok := number(a); ok {
		fb, ok := number(b)
		return ok && fa == fb
	}
	switch x := a.(type) {
	case map[string]any:
		y, ok := b.(map[string]any)
		if !ok || len(x) != len(y) {
			return false
		}
		for k, xv := range x {
			yv, ok := y[k]
			if !ok || !identicalNested(xv, yv) {
				return false
			}
		}
		return true
	case []any:
		y, ok := b.([]any)
		if !ok || len(x) != len(y) {
			return false
		}
		for i := range x {
			if !identicalNested(x[i], y[i]) {
				return false
			}
		}
		return true
	}
	return Identical(a, b)
}

func number(v any) (float64, bool) {
	switch x := Normalize(v).(type) {
	case int64:
		return float64(x), true
	case uint64:
		return float64(x), true
	case float64:
		return x, true
	}
	return 0, false
}

// IsString reports whether v is a Go string.
func IsString(v any) bool {
	_, ok := v.(string)
	return ok
}

// String casts a scalar to its string form: integers in base 10, floats in the
// shortest form that round-trips (1.0 becomes "1"), booleans as "1" or "",
// byte slices verbatim. ok is false for values that have no string cast.
func String(v any) (s string, ok bool) {
	switch x := Normalize(v).(type) {
	case string:
		return x, true
	case int64:
		return strconv.FormatInt(x, 10), true
	case uint64:
		return strconv.FormatUint(x, 10), true
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64), true
	case bool:
		if x {
			return "1", true
		}
		return "", true
	case []byte:
		return string(x), true
	}
	return "", false
}

// Int coerces driver output for integer-typed columns: numeric strings and
// byte slices become int64. Anything else is returned unchanged.
func Int(v any) any {
	var s string
	switch x := v.(type) {
	case string:
		s = x
	case []byte:
		s = string(x)
	default:
		return Normalize(v)
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n
	}
	if n, err := strconv.ParseUint(s, 10, 64); err == nil {
		return n
	}
	return v
}

// Copy returns a deep copy of a field map; every value goes through Clone.
func Copy(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = Clone(v)
	}
	return out
}

// Clone returns a copy of v that shares no maps, slices or byte slices with
// it. Scalars, pointers and arrays are returned as they are.
func Clone(v any) any {
	if v == nil {
		return nil
	}
	return cloneValue(reflect.ValueOf(v)).Interface()
}

func cloneValue(rv reflect.Value) reflect.Value {
	switch rv.Kind() {
	case reflect.Interface:
		if rv.IsNil() {
			return rv
		}
		out := reflect.New(rv.Type()).Elem()
		out.Set(cloneValue(rv.Elem()))
		return out
	case reflect.Map:
		if rv.IsNil() {
			return rv
		}
		out := reflect.MakeMapWithSize(rv.Type(), rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			out.SetMapIndex(iter.Key(), cloneValue(iter.Value()))
		}
		return out
	case reflect.Slice:
		if rv.IsNil() {
			return rv
		}
		out := reflect.MakeSlice(rv.Type(), rv.Len(), rv.Len())
		for i := 0; i < rv.Len(); i++ {
			out.Index(i).Set(cloneValue(rv.Index(i)))
		}
		return out
	}
	return rv
}
