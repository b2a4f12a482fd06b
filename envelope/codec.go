package envelope

import (
	"bytes"
	"encoding/json"
	"math"
)

// Wire is the transport-neutral form of an Envelope: exactly three elements,
// in the order value, numeric code, message.
type Wire []any

// WireLen is the only valid length of a Wire.
const WireLen = 3

// Encode converts e into its Wire form. This is the only place the kind → code mapping is
// used on the way out.
func Encode(e Envelope) Wire {
	return Wire{e.value, e.kind.Code(), e.message}
}

// Decode reconstructs an Envelope from w.
//
// It fails with a *MalformedError when w does not have exactly three elements, when the code is
// not an integral number matching one of the known kinds, or when the message is not a string.
func Decode(w Wire) (Envelope, error) {
	if len(w) != WireLen {
		return Envelope{}, malformed("expected %d elements, got %d", WireLen, len(w))
	}

	code, ok := codeOf(w[1])
	if !ok {
		return Envelope{}, malformed("code %v (%T) is not an integer", w[1], w[1])
	}
	kind, ok := kindFromCode(code)
	if !ok {
		return Envelope{}, malformed("unknown code %d", code)
	}

	msg, ok := w[2].(string)
	if !ok {
		return Envelope{}, malformed("message %v (%T) is not a string", w[2], w[2])
	}

	return New(w[0], kind, msg), nil
}

// codeOf accepts the numeric shapes a code takes after passing through common serializers:
// native integers, integral floats (encoding/json) and json.Number.
func codeOf(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int8:
		return int64(n), true
	case int16:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case uint:
		return uintCode(uint64(n))
	case uint8:
		return int64(n), true
	case uint16:
		return int64(n), true
	case uint32:
		return int64(n), true
	case uint64:
		return uintCode(n)
	case float32:
		return floatCode(float64(n))
	case float64:
		return floatCode(n)
	case json.Number:
		i, err := n.Int64()
		return i, err == nil
	default:
		return 0, false
	}
}

func uintCode(n uint64) (int64, bool) {
	if n > math.MaxInt64 {
		return 0, false
	}
	return int64(n), true
}

func floatCode(f float64) (int64, bool) {
	if math.IsNaN(f) || math.IsInf(f, 0) || f != math.Trunc(f) {
		return 0, false
	}
	if f < -(1<<63) || f >= 1<<63 {
		return 0, false
	}
	return int64(f), true
}

// MarshalWire encodes w as the JSON array [value, code, message].
func MarshalWire(w Wire) ([]byte, error) {
	if len(w) != WireLen {
		return nil, malformed("expected %d elements, got %d", WireLen, len(w))
	}
	return json.Marshal([]any(w))
}

// MarshalEnvelope is shorthand for MarshalWire(Encode(e)).
func MarshalEnvelope(e Envelope) ([]byte, error) {
	return MarshalWire(Encode(e))
}

var jsonNull = []byte("null")

// UnmarshalWire parses a JSON array produced by MarshalWire.
//
// The value is kept undecoded as a json.RawMessage (nil for JSON null) so the receiver can
// unmarshal it into its own type. The code is returned as int64 and the message as string.
// Only the shape is checked here; code validity is left to Decode.
func UnmarshalWire(data []byte) (Wire, error) {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, malformed("not a JSON array: %v", err)
	}
	if len(raw) != WireLen {
		return nil, malformed("expected %d elements, got %d", WireLen, len(raw))
	}

	var value any
	if v := bytes.TrimSpace(raw[0]); len(v) > 0 && !bytes.Equal(v, jsonNull) {
		value = raw[0]
	}

	var code int64
	if err := json.Unmarshal(raw[1], &code); err != nil {
		return nil, malformed("code %s is not an integer", raw[1])
	}

	if bytes.Equal(bytes.TrimSpace(raw[2]), jsonNull) {
		return nil, malformed("message is null")
	}
	var msg string
	if err := json.Unmarshal(raw[2], &msg); err != nil {
		return nil, malformed("message %s is not a string", raw[2])
	}

	return Wire{value, code, msg}, nil
}

// UnmarshalEnvelope is shorthand for UnmarshalWire followed by Decode.
func UnmarshalEnvelope(data []byte) (Envelope, error) {
	w, err := UnmarshalWire(data)
	if err != nil {
		return Envelope{}, err
	}
	return Decode(w)
}
