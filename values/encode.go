package values

import (
	"bytes"
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"math"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"time"
)

// UnsupportedTypeError reports a native value the wire dialect cannot carry.
type UnsupportedTypeError struct {
	Type reflect.Type
}

func (e *UnsupportedTypeError) Error() string {
	return fmt.Sprintf("values: unsupported type %s", e.Type)
}

// Encode converts a native Go value to canonical wire-dialect text.
//
// Cycles in the source object graph are broken by substituting null at the
// revisited node. An unsupported leaf type fails this call only.
func Encode(v any) (string, error) {
	e := encoder{inProgress: make(map[uintptr]struct{})}
	if err := e.encode(reflect.ValueOf(v)); err != nil {
		return "", err
	}
	return e.buf.String(), nil
}

// EncodeValue renders an already-decoded Value back to canonical text.
func EncodeValue(v Value) string {
	var e encoder
	e.encodeWire(v)
	return e.buf.String()
}

type encoder struct {
	buf        bytes.Buffer
	inProgress map[uintptr]struct{}
}

var (
	valueType    = reflect.TypeOf((*Value)(nil)).Elem()
	stringerType = reflect.TypeOf((*fmt.Stringer)(nil)).Elem()
)

func (e *encoder) encode(rv reflect.Value) error {
	if !rv.IsValid() {
		e.buf.WriteString("null")
		return nil
	}

	// Already-decoded wire values pass through as-is.
	if rv.Type().Implements(valueType) {
		e.encodeWire(rv.Interface().(Value))
		return nil
	}

	if rv.Type() == reflect.TypeOf(time.Time{}) {
		// Date/time values are exact integer milliseconds since the Unix
		// epoch.
		e.encodeInt64(rv.Interface().(time.Time).UnixMilli())
		return nil
	}

	// Integer-kind named types with a String method are enumerations and
	// encode as their name.
	if rv.Type().Implements(stringerType) && isIntegerKind(rv.Kind()) {
		e.encodeString(rv.Interface().(fmt.Stringer).String())
		return nil
	}

	switch rv.Kind() {
	case reflect.Bool:
		if rv.Bool() {
			e.buf.WriteString("true")
		} else {
			e.buf.WriteString("false")
		}
		return nil

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32:
		e.encodeInt(rv.Int())
		return nil

	case reflect.Int64:
		// 64-bit-kinded sources stay tagged even when the value is small,
		// so the kind round-trips.
		e.encodeInt64(rv.Int())
		return nil

	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32:
		u := rv.Uint()
		if u > math.MaxInt64 {
			return &UnsupportedTypeError{Type: rv.Type()}
		}
		e.encodeInt(int64(u))
		return nil

	case reflect.Uint64, reflect.Uintptr:
		u := rv.Uint()
		if u > math.MaxInt64 {
			return &UnsupportedTypeError{Type: rv.Type()}
		}
		e.encodeInt64(int64(u))
		return nil

	case reflect.Float32, reflect.Float64:
		e.encodeFloat(rv.Float())
		return nil

	case reflect.String:
		e.encodeString(rv.String())
		return nil

	case reflect.Slice:
		if rv.Type().Elem().Kind() == reflect.Uint8 {
			e.encodeBytes(rv.Bytes())
			return nil
		}
		if rv.IsNil() {
			e.buf.WriteString("null")
			return nil
		}
		return e.encodeList(rv)

	case reflect.Array:
		if rv.Type().Elem().Kind() == reflect.Uint8 {
			b := make([]byte, rv.Len())
			for i := range b {
				b[i] = byte(rv.Index(i).Uint())
			}
			e.encodeBytes(b)
			return nil
		}
		return e.encodeList(rv)

	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return &UnsupportedTypeError{Type: rv.Type()}
		}
		if rv.IsNil() {
			e.buf.WriteString("null")
			return nil
		}
		return e.encodeMap(rv)

	case reflect.Struct:
		return e.encodeStruct(rv)

	case reflect.Pointer:
		if rv.IsNil() {
			e.buf.WriteString("null")
			return nil
		}
		ptr := rv.Pointer()
		if e.entered(ptr) {
			e.buf.WriteString("null")
			return nil
		}
		defer e.exit(ptr)
		return e.encode(rv.Elem())

	case reflect.Interface:
		if rv.IsNil() {
			e.buf.WriteString("null")
			return nil
		}
		return e.encode(rv.Elem())

	default:
		return &UnsupportedTypeError{Type: rv.Type()}
	}
}

func (e *encoder) encodeList(rv reflect.Value) error {
	var ptr uintptr
	if rv.Kind() == reflect.Slice && rv.Len() > 0 {
		ptr = rv.Pointer()
		if e.entered(ptr) {
			e.buf.WriteString("null")
			return nil
		}
		defer e.exit(ptr)
	}

	e.buf.WriteByte('[')
	for i := 0; i < rv.Len(); i++ {
		if i > 0 {
			e.buf.WriteByte(',')
		}
		if err := e.encode(rv.Index(i)); err != nil {
			return err
		}
	}
	e.buf.WriteByte(']')
	return nil
}

func (e *encoder) encodeMap(rv reflect.Value) error {
	ptr := rv.Pointer()
	if e.entered(ptr) {
		e.buf.WriteString("null")
		return nil
	}
	defer e.exit(ptr)

	keys := make([]string, 0, rv.Len())
	iter := rv.MapRange()
	for iter.Next() {
		keys = append(keys, iter.Key().String())
	}
	sort.Strings(keys)

	e.buf.WriteByte('{')
	first := true
	for _, k := range keys {
		mv := rv.MapIndex(reflect.ValueOf(k).Convert(rv.Type().Key()))
		if isNullValue(mv) {
			continue
		}
		if !first {
			e.buf.WriteByte(',')
		}
		first = false
		e.encodeString(k)
		e.buf.WriteByte(':')
		if err := e.encode(mv); err != nil {
			return err
		}
	}
	e.buf.WriteByte('}')
	return nil
}

func (e *encoder) encodeStruct(rv reflect.Value) error {
	fields := make(map[string]reflect.Value)
	collectFields(rv, fields)

	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	e.buf.WriteByte('{')
	first := true
	for _, k := range keys {
		fv := fields[k]
		if isNullValue(fv) {
			continue
		}
		if !first {
			e.buf.WriteByte(',')
		}
		first = false
		e.encodeString(k)
		e.buf.WriteByte(':')
		if err := e.encode(fv); err != nil {
			return err
		}
	}
	e.buf.WriteByte('}')
	return nil
}

// collectFields gathers exported struct fields, flattening anonymous embedded
// structs the way encoding/json does for the common case.
func collectFields(rv reflect.Value, out map[string]reflect.Value) {
	t := rv.Type()
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if f.PkgPath != "" {
			continue // unexported
		}
		name := f.Name
		if tag, ok := f.Tag.Lookup("json"); ok {
			tagName, _, _ := strings.Cut(tag, ",")
			if tagName == "-" {
				continue
			}
			if tagName != "" {
				name = tagName
			}
		} else if f.Anonymous {
			fv := rv.Field(i)
			if fv.Kind() == reflect.Pointer {
				if fv.IsNil() {
					continue
				}
				fv = fv.Elem()
			}
			if fv.Kind() == reflect.Struct {
				collectFields(fv, out)
				continue
			}
		}
		if _, exists := out[name]; !exists {
			out[name] = rv.Field(i)
		}
	}
}

func (e *encoder) encodeWire(v Value) {
	switch x := v.(type) {
	case nil, Null:
		e.buf.WriteString("null")
	case Bool:
		if x {
			e.buf.WriteString("true")
		} else {
			e.buf.WriteString("false")
		}
	case Int32:
		e.buf.WriteString(strconv.FormatInt(int64(x), 10))
	case Int64:
		e.encodeInt64(int64(x))
	case Float64:
		e.encodeFloat(float64(x))
	case String:
		e.encodeString(string(x))
	case Bytes:
		e.encodeBytes([]byte(x))
	case Array:
		e.buf.WriteByte('[')
		for i, el := range x {
			if i > 0 {
				e.buf.WriteByte(',')
			}
			e.encodeWire(el)
		}
		e.buf.WriteByte(']')
	case Object:
		keys := make([]string, 0, len(x))
		for k := range x {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		e.buf.WriteByte('{')
		first := true
		for _, k := range keys {
			if x[k] == nil {
				continue
			}
			if _, isNull := x[k].(Null); isNull {
				continue
			}
			if !first {
				e.buf.WriteByte(',')
			}
			first = false
			e.encodeString(k)
			e.buf.WriteByte(':')
			e.encodeWire(x[k])
		}
		e.buf.WriteByte('}')
	}
}

// encodeInt writes integers from 32-bit-capable sources: bare within the
// 32-bit range, enveloped beyond it.
func (e *encoder) encodeInt(n int64) {
	if n >= math.MinInt32 && n <= math.MaxInt32 {
		e.buf.WriteString(strconv.FormatInt(n, 10))
		return
	}
	e.encodeInt64(n)
}

// encodeInt64 writes the exact $integer envelope (8 bytes, little-endian
// two's complement), used unconditionally for 64-bit-kinded integers.
func (e *encoder) encodeInt64(n int64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], uint64(n))
	e.buf.WriteString(`{"$integer":"`)
	e.buf.WriteString(base64.StdEncoding.EncodeToString(b[:]))
	e.buf.WriteString(`"}`)
}

// encodeFloat writes finite, non-special doubles as bare numbers. NaN, ±Inf
// and -0.0 need the bit-exact $float envelope.
func (e *encoder) encodeFloat(f float64) {
	if isSpecialFloat(f) {
		var b [8]byte
		binary.LittleEndian.PutUint64(b[:], math.Float64bits(f))
		e.buf.WriteString(`{"$float":"`)
		e.buf.WriteString(base64.StdEncoding.EncodeToString(b[:]))
		e.buf.WriteString(`"}`)
		return
	}
	s := strconv.FormatFloat(f, 'g', -1, 64)
	e.buf.WriteString(s)
	// Keep integral floats distinguishable from integers on the wire.
	if !strings.ContainsAny(s, ".eE") {
		e.buf.WriteString(".0")
	}
}

func isSpecialFloat(f float64) bool {
	return math.IsNaN(f) || math.IsInf(f, 0) || (f == 0 && math.Signbit(f))
}

func (e *encoder) encodeBytes(b []byte) {
	e.buf.WriteString(`{"$bytes":"`)
	e.buf.WriteString(base64.StdEncoding.EncodeToString(b))
	e.buf.WriteString(`"}`)
}

// encodeString escapes quote, backslash and control characters; everything
// above the control range passes through unescaped.
func (e *encoder) encodeString(s string) {
	e.buf.WriteByte('"')
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch c {
		case '"':
			e.buf.WriteString(`\"`)
		case '\\':
			e.buf.WriteString(`\\`)
		case '\b':
			e.buf.WriteString(`\b`)
		case '\f':
			e.buf.WriteString(`\f`)
		case '\n':
			e.buf.WriteString(`\n`)
		case '\r':
			e.buf.WriteString(`\r`)
		case '\t':
			e.buf.WriteString(`\t`)
		default:
			if c < 0x20 {
				const hex = "0123456789abcdef"
				e.buf.WriteString(`\u00`)
				e.buf.WriteByte(hex[c>>4])
				e.buf.WriteByte(hex[c&0xf])
			} else {
				e.buf.WriteByte(c)
			}
		}
	}
	e.buf.WriteByte('"')
}

func (e *encoder) entered(ptr uintptr) bool {
	if e.inProgress == nil {
		e.inProgress = make(map[uintptr]struct{})
	}
	if _, ok := e.inProgress[ptr]; ok {
		return true
	}
	e.inProgress[ptr] = struct{}{}
	return false
}

func (e *encoder) exit(ptr uintptr) {
	delete(e.inProgress, ptr)
}

func isIntegerKind(k reflect.Kind) bool {
	switch k {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return true
	}
	return false
}

// isNullValue reports whether a property value encodes as null and is
// therefore omitted from objects.
func isNullValue(rv reflect.Value) bool {
	if !rv.IsValid() {
		return true
	}
	switch rv.Kind() {
	case reflect.Pointer, reflect.Interface, reflect.Map:
		if rv.IsNil() {
			return true
		}
	case reflect.Slice:
		if rv.IsNil() && rv.Type().Elem().Kind() != reflect.Uint8 {
			return true
		}
	}
	if rv.Kind() == reflect.Interface {
		return isNullValue(rv.Elem())
	}
	if rv.Type() == reflect.TypeOf(Null{}) {
		return true
	}
	return false
}
