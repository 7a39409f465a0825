package settings

import (
	"fmt"
	"strings"
)

// Kind identifies the data type of a setting value.
type Kind uint8

const (
	// KindInvalid is the zero Kind; no valid Value carries it.
	KindInvalid Kind = iota
	// KindBool represents a boolean value.
	KindBool
	// KindInt represents an integer value.
	KindInt
	// KindFloat represents a floating-point value.
	KindFloat
	// KindString represents a string value.
	KindString
	// KindList represents a list of values.
	KindList
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case KindBool:
		return "boolean"
	case KindInt:
		return "integer"
	case KindFloat:
		return "float"
	case KindString:
		return "string"
	case KindList:
		return "list"
	default:
		return "invalid"
	}
}

// Value is a closed tagged union over the types a setting may hold.
// The zero Value is invalid and reports IsZero() == true.
type Value struct {
	kind Kind
	b    bool
	i    int64
	f    float64
	s    string
	list []Value
}

// Bool returns a boolean Value.
func Bool(v bool) Value { return Value{kind: KindBool, b: v} }

// Int returns an integer Value.
func Int(v int64) Value { return Value{kind: KindInt, i: v} }

// Float returns a floating-point Value.
func Float(v float64) Value { return Value{kind: KindFloat, f: v} }

// String returns a string Value.
func String(v string) Value { return Value{kind: KindString, s: v} }

// List returns a list Value holding the given elements.
func List(elems ...Value) Value {
	return Value{kind: KindList, list: elems}
}

// FromGo converts a decoded document value into a Value. Integers of any
// width normalize to int64 and float32 widens to float64. Maps are not
// values; nested tables are represented by Group nodes.
func FromGo(v any) (Value, error) {
	switch t := v.(type) {
	case Value:
		return t, nil
	case bool:
		return Bool(t), nil
	case int:
		return Int(int64(t)), nil
	case int8:
		return Int(int64(t)), nil
	case int16:
		return Int(int64(t)), nil
	case int32:
		return Int(int64(t)), nil
	case int64:
		return Int(t), nil
	case uint:
		return Int(int64(t)), nil
	case uint8:
		return Int(int64(t)), nil
	case uint16:
		return Int(int64(t)), nil
	case uint32:
		return Int(int64(t)), nil
	case float32:
		return Float(float64(t)), nil
	case float64:
		return Float(t), nil
	case string:
		return String(t), nil
	case []any:
		elems := make([]Value, 0, len(t))
		for _, e := range t {
			ev, err := FromGo(e)
			if err != nil {
				return Value{}, err
			}
			elems = append(elems, ev)
		}
		return List(elems...), nil
	case []string:
		elems := make([]Value, 0, len(t))
		for _, e := range t {
			elems = append(elems, String(e))
		}
		return List(elems...), nil
	case []int:
		elems := make([]Value, 0, len(t))
		for _, e := range t {
			elems = append(elems, Int(int64(e)))
		}
		return List(elems...), nil
	case []int64:
		elems := make([]Value, 0, len(t))
		for _, e := range t {
			elems = append(elems, Int(e))
		}
		return List(elems...), nil
	case []float64:
		elems := make([]Value, 0, len(t))
		for _, e := range t {
			elems = append(elems, Float(e))
		}
		return List(elems...), nil
	default:
		return Value{}, fmt.Errorf("%w: %T", ErrUnsupportedValue, v)
	}
}

// Kind returns the value's kind.
func (v Value) Kind() Kind { return v.kind }

// IsZero reports whether the value is the invalid zero Value.
func (v Value) IsZero() bool { return v.kind == KindInvalid }

// Bool returns the boolean value. The second result is false if the
// value is not a boolean.
func (v Value) Bool() (bool, bool) {
	return v.b, v.kind == KindBool
}

// Int returns the integer value. The second result is false if the
// value is not an integer.
func (v Value) Int() (int64, bool) {
	return v.i, v.kind == KindInt
}

// Float returns the floating-point value. Integers widen. The second
// result is false if the value is neither a float nor an integer.
func (v Value) Float() (float64, bool) {
	switch v.kind {
	case KindFloat:
		return v.f, true
	case KindInt:
		return float64(v.i), true
	default:
		return 0, false
	}
}

// Str returns the string value. The second result is false if the value
// is not a string.
func (v Value) Str() (string, bool) {
	return v.s, v.kind == KindString
}

// Slice returns the list elements. The second result is false if the
// value is not a list.
func (v Value) Slice() ([]Value, bool) {
	if v.kind != KindList {
		return nil, false
	}
	elems := make([]Value, len(v.list))
	copy(elems, v.list)
	return elems, true
}

// Interface returns the value as a plain Go value: bool, int64, float64,
// string, or []any for lists. The zero Value returns nil.
func (v Value) Interface() any {
	switch v.kind {
	case KindBool:
		return v.b
	case KindInt:
		return v.i
	case KindFloat:
		return v.f
	case KindString:
		return v.s
	case KindList:
		out := make([]any, len(v.list))
		for i, e := range v.list {
			out[i] = e.Interface()
		}
		return out
	default:
		return nil
	}
}

// Equal reports whether two values have the same kind and contents.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindBool:
		return v.b == o.b
	case KindInt:
		return v.i == o.i
	case KindFloat:
		return v.f == o.f
	case KindString:
		return v.s == o.s
	case KindList:
		if len(v.list) != len(o.list) {
			return false
		}
		for i := range v.list {
			if !v.list[i].Equal(o.list[i]) {
				return false
			}
		}
		return true
	default:
		return true
	}
}

// String returns a display representation of the value.
func (v Value) String() string {
	switch v.kind {
	case KindBool:
		return fmt.Sprintf("%t", v.b)
	case KindInt:
		return fmt.Sprintf("%d", v.i)
	case KindFloat:
		return fmt.Sprintf("%g", v.f)
	case KindString:
		return fmt.Sprintf("%q", v.s)
	case KindList:
		parts := make([]string, len(v.list))
		for i, e := range v.list {
			parts[i] = e.String()
		}
		return "[" + strings.Join(parts, ", ") + "]"
	default:
		return "<invalid>"
	}
}
