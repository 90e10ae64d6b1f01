package values

import (
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"strings"
)

// DecodeError reports wire text that could not be decoded.
type DecodeError struct {
	Err error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("values: decode: %v", e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// Decode parses wire-dialect text into a Value. Unknown extra keys on
// envelope objects are ignored.
func Decode(text string) (Value, error) {
	dec := json.NewDecoder(strings.NewReader(text))
	dec.UseNumber()
	var raw any
	if err := dec.Decode(&raw); err != nil {
		return nil, &DecodeError{Err: err}
	}
	return fromRaw(raw)
}

// DecodeRaw parses an embedded JSON fragment, as found inside server frames.
func DecodeRaw(raw json.RawMessage) (Value, error) {
	if len(raw) == 0 {
		return Null{}, nil
	}
	return Decode(string(raw))
}

func fromRaw(raw any) (Value, error) {
	switch x := raw.(type) {
	case nil:
		return Null{}, nil
	case bool:
		return Bool(x), nil
	case string:
		return String(x), nil
	case json.Number:
		return numberValue(x)
	case []any:
		arr := make(Array, len(x))
		for i, el := range x {
			v, err := fromRaw(el)
			if err != nil {
				return nil, err
			}
			arr[i] = v
		}
		return arr, nil
	case map[string]any:
		return objectValue(x)
	default:
		return nil, &DecodeError{Err: fmt.Errorf("unexpected token %T", raw)}
	}
}

// numberValue maps bare JSON numbers back to kinds: a plain integer literal
// is an Int32 (the dialect only emits bare integers within the 32-bit
// range), anything with a fraction or exponent is a Float64. Out-of-range
// bare integers are tolerated and decode as exact Int64.
func numberValue(n json.Number) (Value, error) {
	s := n.String()
	if !strings.ContainsAny(s, ".eE") {
		if i, err := n.Int64(); err == nil {
			if i >= math.MinInt32 && i <= math.MaxInt32 {
				return Int32(i), nil
			}
			return Int64(i), nil
		}
	}
	f, err := n.Float64()
	if err != nil {
		return nil, &DecodeError{Err: err}
	}
	return Float64(f), nil
}

func objectValue(m map[string]any) (Value, error) {
	if s, ok := m["$integer"].(string); ok {
		b, err := base64.StdEncoding.DecodeString(s)
		if err != nil {
			return nil, &DecodeError{Err: fmt.Errorf("$integer: %w", err)}
		}
		if len(b) != 8 {
			return nil, &DecodeError{Err: fmt.Errorf("$integer: got %d bytes, want 8", len(b))}
		}
		return Int64(int64(binary.LittleEndian.Uint64(b))), nil
	}
	if s, ok := m["$float"].(string); ok {
		b, err := base64.StdEncoding.DecodeString(s)
		if err != nil {
			return nil, &DecodeError{Err: fmt.Errorf("$float: %w", err)}
		}
		if len(b) != 8 {
			return nil, &DecodeError{Err: fmt.Errorf("$float: got %d bytes, want 8", len(b))}
		}
		return Float64(math.Float64frombits(binary.LittleEndian.Uint64(b))), nil
	}
	if s, ok := m["$bytes"].(string); ok {
		b, err := base64.StdEncoding.DecodeString(s)
		if err != nil {
			return nil, &DecodeError{Err: fmt.Errorf("$bytes: %w", err)}
		}
		return Bytes(b), nil
	}

	obj := make(Object, len(m))
	for k, el := range m {
		v, err := fromRaw(el)
		if err != nil {
			return nil, err
		}
		obj[k] = v
	}
	return obj, nil
}
