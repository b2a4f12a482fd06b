// Package envelope defines the response envelope exchanged across the RPC boundary.
//
// Every call outcome, success or failure, travels as the same 3-element tuple:
//
//	[value, code, message]
//
//	value:   the result payload (nil when absent), meaningful only for KindOK
//	code:    200 (OK), 400 (request error) or 500 (server error)
//	message: "OK" on success, the failure description otherwise
//
// The package owns the error taxonomy (Kind), the Envelope type and the lossless conversion
// between an Envelope and its Wire form. It performs no I/O.
package envelope

import (
	"reflect"

	"go.uber.org/zap/zapcore"
)

// DefaultMessage is the message carried by success envelopes unless told otherwise.
const DefaultMessage = "OK"

// Envelope is the unit of exchange. It is immutable once constructed:
// fields are unexported and there are no setters.
type Envelope struct {
	value   any
	kind    Kind
	message string
}

// New builds an envelope from its three attributes.
func New(value any, kind Kind, message string) Envelope {
	return Envelope{value: value, kind: kind, message: message}
}

// Success builds a KindOK envelope carrying value and the message "OK".
func Success(value any) Envelope {
	return New(value, KindOK, DefaultMessage)
}

// SuccessWithMessage builds a KindOK envelope with a custom message.
func SuccessWithMessage(value any, message string) Envelope {
	return New(value, KindOK, message)
}

// Error builds an error envelope with no value.
//
// When the caller does not state a severity the envelope is a KindRequestError.
// Use ErrorOf to pick the kind explicitly.
func Error(message string) Envelope {
	return ErrorOf(KindRequestError, message)
}

// ErrorOf builds an error envelope of the given kind with no value.
func ErrorOf(kind Kind, message string) Envelope {
	return New(nil, kind, message)
}

func (e Envelope) Value() any      { return e.value }
func (e Envelope) Kind() Kind      { return e.kind }
func (e Envelope) Message() string { return e.message }

// OK reports whether the envelope carries a successful outcome.
func (e Envelope) OK() bool { return e.kind == KindOK }

// Equal reports whether all three attributes of e and other are equal.
// Values are compared with reflect.DeepEqual.
func (e Envelope) Equal(other Envelope) bool {
	return e.kind == other.kind &&
		e.message == other.message &&
		reflect.DeepEqual(e.value, other.value)
}

// MarshalLogObject implements zapcore.ObjectMarshaler. Only the presence of a value is logged.
func (e Envelope) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddString("kind", e.kind.String())
	enc.AddInt("code", e.kind.Code())
	enc.AddString("message", e.message)
	enc.AddBool("has_value", e.value != nil)
	return nil
}
