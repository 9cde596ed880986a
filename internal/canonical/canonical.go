// Package canonical renders primary keys and query arguments as stable
// byte strings so that equal values always produce equal map keys.
//
// The encoding is JSON shaped after RFC 8785: object keys sorted by UTF-16
// code units, strings NFC-normalized, no HTML escaping. Unlike RFC 8785 it
// accepts null, floats (shortest round-trip form) and byte slices (encoded
// as strings).
package canonical

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"slices"
	"strconv"
	"time"
	"unicode/utf16"

	"golang.org/x/text/unicode/norm"
)

// Marshal encodes v canonically.
func Marshal(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := encode(&buf, reflect.ValueOf(v)); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// String is Marshal returning a string, for use as a map key.
func String(v any) (string, error) {
	b, err := Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func encode(buf *bytes.Buffer, v reflect.Value) error {
	if !v.IsValid() {
		buf.WriteString("null")
		return nil
	}
	if !v.CanInterface() {
		return fmt.Errorf("unexported value of type %s", v.Type())
	}
	if t, ok := v.Interface().(time.Time); ok {
		return encodeString(buf, t.UTC().Format(time.RFC3339Nano))
	}

	switch v.Kind() {
	case reflect.Pointer, reflect.Interface:
		if v.IsNil() {
			buf.WriteString("null")
			return nil
		}
		return encode(buf, v.Elem())
	case reflect.String:
		return encodeString(buf, v.String())
	case reflect.Bool:
		buf.WriteString(strconv.FormatBool(v.Bool()))
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		buf.WriteString(strconv.FormatInt(v.Int(), 10))
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		buf.WriteString(strconv.FormatUint(v.Uint(), 10))
	case reflect.Float32, reflect.Float64:
		f := v.Float()
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return fmt.Errorf("non-finite float %v", f)
		}
		if f == math.Trunc(f) && math.Abs(f) < 1e15 {
			// Integral floats keep a fraction marker so 1.0 and 1 differ.
			buf.WriteString(strconv.FormatFloat(f, 'f', 1, 64))
		} else {
			buf.WriteString(strconv.FormatFloat(f, 'g', -1, 64))
		}
	case reflect.Slice:
		if v.IsNil() {
			buf.WriteString("null")
			return nil
		}
		if v.Type().Elem().Kind() == reflect.Uint8 {
			return encodeString(buf, string(v.Bytes()))
		}
		return encodeArray(buf, v)
	case reflect.Array:
		return encodeArray(buf, v)
	case reflect.Map:
		return encodeMap(buf, v)
	case reflect.Struct:
		return encodeStruct(buf, v)
	default:
		return fmt.Errorf("unsupported type for canonical encoding: %s", v.Type())
	}
	return nil
}

func encodeString(buf *bytes.Buffer, s string) error {
	var tmp bytes.Buffer
	enc := json.NewEncoder(&tmp)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(norm.NFC.String(s)); err != nil {
		return err
	}
	buf.Write(bytes.TrimSuffix(tmp.Bytes(), []byte{'\n'}))
	return nil
}

func encodeArray(buf *bytes.Buffer, v reflect.Value) error {
	buf.WriteByte('[')
	for i := range v.Len() {
		if i > 0 {
			buf.WriteByte(',')
		}
		if err := encode(buf, v.Index(i)); err != nil {
			return fmt.Errorf("[%d]: %w", i, err)
		}
	}
	buf.WriteByte(']')
	return nil
}

func encodeMap(buf *bytes.Buffer, v reflect.Value) error {
	if v.Type().Key().Kind() != reflect.String {
		return fmt.Errorf("map keys must be strings, got %s", v.Type().Key())
	}
	if v.IsNil() {
		buf.WriteString("null")
		return nil
	}
	keys := make([]string, 0, v.Len())
	for _, k := range v.MapKeys() {
		keys = append(keys, k.String())
	}
	slices.SortFunc(keys, CompareKeys)

	buf.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		if err := encodeString(buf, k); err != nil {
			return err
		}
		buf.WriteByte(':')
		if err := encode(buf, v.MapIndex(reflect.ValueOf(k).Convert(v.Type().Key()))); err != nil {
			return fmt.Errorf("[%q]: %w", k, err)
		}
	}
	buf.WriteByte('}')
	return nil
}

// encodeStruct writes exported fields as an object keyed by field name.
func encodeStruct(buf *bytes.Buffer, v reflect.Value) error {
	t := v.Type()
	fields := make(map[string]reflect.Value, t.NumField())
	names := make([]string, 0, t.NumField())
	for i := range t.NumField() {
		f := t.Field(i)
		if !f.IsExported() {
			continue
		}
		fields[f.Name] = v.Field(i)
		names = append(names, f.Name)
	}
	slices.SortFunc(names, CompareKeys)

	buf.WriteByte('{')
	for i, name := range names {
		if i > 0 {
			buf.WriteByte(',')
		}
		if err := encodeString(buf, name); err != nil {
			return err
		}
		buf.WriteByte(':')
		if err := encode(buf, fields[name]); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	buf.WriteByte('}')
	return nil
}

// CompareKeys orders strings by UTF-16 code units, as RFC 8785 requires.
// Go's native string order is by UTF-8 bytes, which differs for
// characters outside the Basic Multilingual Plane.
func CompareKeys(a, b string) int {
	a16 := utf16.Encode([]rune(a))
	b16 := utf16.Encode([]rune(b))
	return slices.Compare(a16, b16)
}
