// Package types contains value helpers shared by steps, loaders and exporters.
//
// Cell values are plain Go values: nil (null), bool, int64, float64, string
// and time.Time. Loaders normalize into these, and every helper below accepts
// the wider set of integer and float kinds database drivers hand back.
package types

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ToInt64 converts a numeric value to int64.
// The second result is false when v is null or not numeric.
func ToInt64(v interface{}) (int64, bool) {
	switch i := v.(type) {
	case int64:
		return i, true
	case int:
		return int64(i), true
	case int32:
		return int64(i), true
	case int16:
		return int64(i), true
	case int8:
		return int64(i), true
	case uint:
		return int64(i), true
	case uint64:
		return int64(i), true
	case uint32:
		return int64(i), true
	case uint16:
		return int64(i), true
	case uint8:
		return int64(i), true
	case float64:
		return int64(i), true
	case float32:
		return int64(i), true
	case json.Number:
		if n, err := i.Int64(); err == nil {
			return n, true
		}
		if f, err := i.Float64(); err == nil {
			return int64(f), true
		}
		return 0, false
	default:
		return 0, false
	}
}

// ToFloat64 converts a numeric value to float64.
func ToFloat64(v interface{}) (float64, bool) {
	switch f := v.(type) {
	case float64:
		return f, true
	case float32:
		return float64(f), true
	case json.Number:
		n, err := f.Float64()
		return n, err == nil
	case string:
		n, err := strconv.ParseFloat(strings.TrimSpace(f), 64)
		return n, err == nil
	}
	if i, ok := ToInt64(v); ok {
		return float64(i), true
	}
	return 0, false
}

// IsNumeric reports whether v is an integer or float value.
func IsNumeric(v interface{}) bool {
	switch v.(type) {
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64, json.Number:
		return true
	}
	return false
}

// IsFloat reports whether v is a float value.
func IsFloat(v interface{}) bool {
	switch v.(type) {
	case float32, float64:
		return true
	}
	return false
}

// Normalize maps driver and decoder values onto the canonical cell types.
func Normalize(v interface{}) interface{} {
	switch x := v.(type) {
	case nil:
		return nil
	case []byte:
		return string(x)
	case int, int8, int16, int32, uint, uint8, uint16, uint32, uint64:
		n, _ := ToInt64(x)
		return n
	case float32:
		return float64(x)
	case json.Number:
		if n, err := x.Int64(); err == nil {
			return n
		}
		f, _ := x.Float64()
		return f
	default:
		return v
	}
}

// ParseScalar infers a typed value from text. Empty text is null.
func ParseScalar(s string) interface{} {
	if s == "" {
		return nil
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		if len(s) > 1 && (s[0] == '0' || (s[0] == '-' && s[1] == '0')) {
			return s
		}
		return n
	}
	if strings.Trim(s, "0123456789.eE+-") == "" {
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return f
		}
	}
	switch strings.ToLower(s) {
	case "true":
		return true
	case "false":
		return false
	}
	return s
}

// FormatValue renders a value as text. Null renders as the empty string.
func FormatValue(v interface{}) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case bool:
		return strconv.FormatBool(x)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(x), 'f', -1, 32)
	case time.Time:
		return x.Format(time.RFC3339Nano)
	case []byte:
		return string(x)
	}
	if n, ok := ToInt64(v); ok {
		return strconv.FormatInt(n, 10)
	}
	return fmt.Sprint(v)
}

// Compare orders two cell values. Nulls sort first; numbers compare
// numerically across int and float kinds; mixed kinds fall back to text.
func Compare(a, b interface{}) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return -1
	case b == nil:
		return 1
	}
	if IsNumeric(a) && IsNumeric(b) {
		fa, _ := ToFloat64(a)
		fb, _ := ToFloat64(b)
		switch {
		case fa < fb:
			return -1
		case fa > fb:
			return 1
		}
		return 0
	}
	if ta, ok := a.(time.Time); ok {
		if tb, ok := b.(time.Time); ok {
			return ta.Compare(tb)
		}
	}
	if ba, ok := a.(bool); ok {
		if bb, ok := b.(bool); ok {
			switch {
			case ba == bb:
				return 0
			case !ba:
				return -1
			}
			return 1
		}
	}
	return strings.Compare(FormatValue(a), FormatValue(b))
}

// Equal reports whether two cell values are equal under Compare.
func Equal(a, b interface{}) bool {
	return Compare(a, b) == 0
}
