package schema

import (
	"bytes"
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"
	"time"
)

// FieldType is the abstract storage type of a column.
type FieldType int

const (
	// TypeOther stores values as the driver returns them (blobs, dates).
	TypeOther FieldType = iota
	// TypeText stores strings.
	TypeText
	// TypeInteger stores int64 values.
	TypeInteger
	// TypeReal stores float64 values.
	TypeReal
	// TypeBool stores booleans as 0/1 integers.
	TypeBool
)

// String returns the descriptor spelling of the type.
func (t FieldType) String() string {
	switch t {
	case TypeText:
		return "text"
	case TypeInteger:
		return "integer"
	case TypeReal:
		return "real"
	case TypeBool:
		return "boolean"
	default:
		return "other"
	}
}

// ParseFieldType parses a descriptor type name.
func ParseFieldType(s string) (FieldType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "text", "string":
		return TypeText, nil
	case "integer", "int", "int64":
		return TypeInteger, nil
	case "real", "float", "double":
		return TypeReal, nil
	case "boolean", "bool":
		return TypeBool, nil
	case "other", "blob", "":
		return TypeOther, nil
	default:
		return TypeOther, fmt.Errorf("unknown field type %q", s)
	}
}

// AffinityType maps a declared SQLite column type to a FieldType using the
// SQLite affinity rules, with BOOL recognized ahead of INT.
func AffinityType(declared string) FieldType {
	d := strings.ToUpper(declared)
	switch {
	case strings.Contains(d, "BOOL"):
		return TypeBool
	case strings.Contains(d, "INT"):
		return TypeInteger
	case strings.Contains(d, "CHAR"), strings.Contains(d, "CLOB"), strings.Contains(d, "TEXT"):
		return TypeText
	case strings.Contains(d, "REAL"), strings.Contains(d, "FLOA"), strings.Contains(d, "DOUB"):
		return TypeReal
	default:
		return TypeOther
	}
}

// Column describes one persisted field.
type Column struct {
	Name     string
	Type     FieldType
	Nullable bool
	// Default is applied to new instances. nil means NULL (or the zero
	// value for non-nullable columns).
	Default any
}

// InitialValue is the value a new instance starts with for this column.
func (c Column) InitialValue() any {
	if c.Default != nil {
		if v, err := c.Coerce(c.Default); err == nil {
			return v
		}
	}
	if c.Nullable {
		return nil
	}
	switch c.Type {
	case TypeText:
		return ""
	case TypeInteger:
		return int64(0)
	case TypeReal:
		return float64(0)
	case TypeBool:
		return false
	default:
		return nil
	}
}

// Coerce converts v (a raw column value or an application value) into the
// canonical Go representation for the column: string, int64, float64,
// bool, or the value itself for TypeOther. nil passes through.
func (c Column) Coerce(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	switch c.Type {
	case TypeText:
		return toText(v)
	case TypeInteger:
		return toInteger(v)
	case TypeReal:
		return toReal(v)
	case TypeBool:
		return toBool(v)
	default:
		if b, ok := v.([]byte); ok {
			return bytes.Clone(b), nil
		}
		return v, nil
	}
}

// Encode converts a canonical value into a driver argument.
func (c Column) Encode(v any) any {
	if b, ok := v.(bool); ok {
		if b {
			return int64(1)
		}
		return int64(0)
	}
	return v
}

func toText(v any) (any, error) {
	switch x := v.(type) {
	case string:
		return x, nil
	case []byte:
		return string(x), nil
	case int64:
		return strconv.FormatInt(x, 10), nil
	case float64:
		return strconv.FormatFloat(x, 'g', -1, 64), nil
	case bool:
		return strconv.FormatBool(x), nil
	case fmt.Stringer:
		return x.String(), nil
	}
	if n, ok := asInt64(v); ok {
		return strconv.FormatInt(n, 10), nil
	}
	return nil, fmt.Errorf("cannot convert %T to text", v)
}

func toInteger(v any) (any, error) {
	if n, ok := asInt64(v); ok {
		return n, nil
	}
	switch x := v.(type) {
	case float64:
		if x != math.Trunc(x) {
			return nil, fmt.Errorf("cannot convert non-integral %v to integer", x)
		}
		return int64(x), nil
	case float32:
		return toInteger(float64(x))
	case bool:
		if x {
			return int64(1), nil
		}
		return int64(0), nil
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(x), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("cannot convert %q to integer: %w", x, err)
		}
		return n, nil
	case []byte:
		return toInteger(string(x))
	case time.Time:
		return x.Unix(), nil
	}
	return nil, fmt.Errorf("cannot convert %T to integer", v)
}

func toReal(v any) (any, error) {
	if n, ok := asInt64(v); ok {
		return float64(n), nil
	}
	switch x := v.(type) {
	case float64:
		return x, nil
	case float32:
		return float64(x), nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		if err != nil {
			return nil, fmt.Errorf("cannot convert %q to real: %w", x, err)
		}
		return f, nil
	case []byte:
		return toReal(string(x))
	}
	return nil, fmt.Errorf("cannot convert %T to real", v)
}

func toBool(v any) (any, error) {
	if n, ok := asInt64(v); ok {
		return n != 0, nil
	}
	switch x := v.(type) {
	case bool:
		return x, nil
	case float64:
		return x != 0, nil
	case string:
		b, err := strconv.ParseBool(strings.TrimSpace(x))
		if err != nil {
			return nil, fmt.Errorf("cannot convert %q to boolean: %w", x, err)
		}
		return b, nil
	case []byte:
		return toBool(string(x))
	}
	return nil, fmt.Errorf("cannot convert %T to boolean", v)
}

// asInt64 widens any Go integer kind. uint64 values above MaxInt64 fail.
func asInt64(v any) (int64, bool) {
	switch x := v.(type) {
	case int64:
		return x, true
	case int:
		return int64(x), true
	case int32:
		return int64(x), true
	case int16:
		return int64(x), true
	case int8:
		return int64(x), true
	case uint:
		if uint64(x) > math.MaxInt64 {
			return 0, false
		}
		return int64(x), true
	case uint64:
		if x > math.MaxInt64 {
			return 0, false
		}
		return int64(x), true
	case uint32:
		return int64(x), true
	case uint16:
		return int64(x), true
	case uint8:
		return int64(x), true
	}
	return 0, false
}

// ValuesEqual compares two canonical column values. Byte slices compare
// by content; everything else by ==, falling back to reflect.DeepEqual for
// non-comparable values.
func ValuesEqual(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if ab, ok := a.([]byte); ok {
		bb, ok := b.([]byte)
		return ok && bytes.Equal(ab, bb)
	}
	if t, ok := a.(time.Time); ok {
		u, ok := b.(time.Time)
		return ok && t.Equal(u)
	}
	ta, tb := reflect.TypeOf(a), reflect.TypeOf(b)
	if ta != tb {
		return false
	}
	if ta.Comparable() {
		return a == b
	}
	return reflect.DeepEqual(a, b)
}
