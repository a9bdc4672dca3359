package feature

import (
	"fmt"
	"math"
	"strconv"

	"golang.org/x/text/unicode/norm"
)

// Attributes is a positional attribute vector. A nil element is null.
type Attributes []any

// Clone returns a shallow copy of the vector.
func (a Attributes) Clone() Attributes {
	if a == nil {
		return nil
	}
	out := make(Attributes, len(a))
	copy(out, a)
	return out
}

// Resized returns a copy of the vector with exactly width elements.
func (a Attributes) Resized(width int) Attributes {
	if width < 0 {
		width = 0
	}
	out := make(Attributes, width)
	copy(out, a)
	return out
}

// Normalize converts a Go value into the attribute value domain:
// integers become int64, floats become float64, strings are NFC normalised.
// Unsigned integers above math.MaxInt64 become float64. Unsupported types
// are formatted with %v.
func Normalize(v any) any {
	switch val := v.(type) {
	case nil:
		return nil
	case int64, float64, bool:
		return val
	case string:
		return norm.NFC.String(val)
	case int:
		return int64(val)
	case int32:
		return int64(val)
	case int16:
		return int64(val)
	case int8:
		return int64(val)
	case uint:
		return unsigned(uint64(val))
	case uint64:
		return unsigned(val)
	case uint32:
		return int64(val)
	case uint16:
		return int64(val)
	case uint8:
		return int64(val)
	case float32:
		return float64(val)
	case []byte:
		return norm.NFC.String(string(val))
	default:
		return fmt.Sprintf("%v", val)
	}
}

func unsigned(v uint64) any {
	if v > math.MaxInt64 {
		return float64(v)
	}
	return int64(v)
}

// CanonicalKey returns the canonical string form of a value, used to match
// join keys regardless of their storage type (int64(5), 5.0 and "5" share a
// key). Returns false for null.
func CanonicalKey(v any) (string, bool) {
	switch val := Normalize(v).(type) {
	case nil:
		return "", false
	case string:
		return val, true
	case int64:
		return strconv.FormatInt(val, 10), true
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64), true
	case bool:
		return strconv.FormatBool(val), true
	default:
		return norm.NFC.String(fmt.Sprintf("%v", val)), true
	}
}

// ValuesEqual compares two values by canonical form. Null never equals
// anything, including null.
func ValuesEqual(a, b any) bool {
	ka, ok := CanonicalKey(a)
	if !ok {
		return false
	}
	kb, ok := CanonicalKey(b)
	if !ok {
		return false
	}
	return ka == kb
}
