package values

// Value is a decoded wire value. The concrete types are Null, Bool, Int32,
// Int64, Float64, String, Bytes, Array and Object.
type Value interface {
	isValue()
}

// Null is the wire null value.
type Null struct{}

// Bool is a wire boolean.
type Bool bool

// Int32 is an integer within the 32-bit range, encoded as a bare JSON
// number.
type Int32 int32

// Int64 is an exact 64-bit integer, always carried in the $integer envelope
// regardless of magnitude so its kind survives a round trip.
type Int64 int64

// Float64 is an IEEE-754 double. NaN, ±Inf and -0.0 use the $float envelope.
type Float64 float64

// String is a wire string.
type String string

// Bytes is a raw byte array, always carried in the $bytes envelope.
type Bytes []byte

// Array is an ordered list of values.
type Array []Value

// Object maps property names to values. Null-valued properties are omitted
// when encoding.
type Object map[string]Value

func (Null) isValue()    {}
func (Bool) isValue()    {}
func (Int32) isValue()   {}
func (Int64) isValue()   {}
func (Float64) isValue() {}
func (String) isValue()  {}
func (Bytes) isValue()   {}
func (Array) isValue()   {}
func (Object) isValue()  {}

// AsObject returns v as an Object if it is one.
func AsObject(v Value) (Object, bool) {
	o, ok := v.(Object)
	return o, ok
}

// AsArray returns v as an Array if it is one.
func AsArray(v Value) (Array, bool) {
	a, ok := v.(Array)
	return a, ok
}

// AsString returns v as a string if it is one.
func AsString(v Value) (string, bool) {
	s, ok := v.(String)
	return string(s), ok
}

// AsBool returns v as a bool if it is one.
func AsBool(v Value) (bool, bool) {
	b, ok := v.(Bool)
	return bool(b), ok
}

// AsInt64 returns v as an int64. Float64 values with an integral value
// convert too, since bare JSON numbers lose the int/float distinction.
func AsInt64(v Value) (int64, bool) {
	switch n := v.(type) {
	case Int32:
		return int64(n), true
	case Int64:
		return int64(n), true
	case Float64:
		if float64(int64(n)) == float64(n) {
			return int64(n), true
		}
	}
	return 0, false
}

// AsFloat64 returns v as a float64, converting integer values.
func AsFloat64(v Value) (float64, bool) {
	switch n := v.(type) {
	case Float64:
		return float64(n), true
	case Int32:
		return float64(n), true
	case Int64:
		return float64(n), true
	}
	return 0, false
}

// Field returns the named property of an Object value.
func Field(v Value, name string) (Value, bool) {
	o, ok := v.(Object)
	if !ok {
		return nil, false
	}
	f, ok := o[name]
	return f, ok
}
