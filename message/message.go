// Package message defines the RPC message exchanged between client and server.
//
// RPCMessage is the transport unit: it is serialized by the codec layer and wrapped in a
// protocol frame. The call outcome itself never travels in RPCMessage fields; it travels as a
// JSON-encoded envelope tuple inside Payload (see package envelope).
package message

import "envelope-rpc/envelope"

// RPCMessage carries the data for a single RPC request or response.
//
//   - On request:  ServiceMethod is set, Payload holds the JSON-encoded args.
//   - On response: Payload holds the JSON envelope [value, code, message].
//     Error is set only when the transport failed and there is no envelope at all.
type RPCMessage struct {
	ServiceMethod string // "ServiceName.MethodName", e.g. "Tracker.Add"
	Error         string // Transport-level failure (broken connection), empty otherwise
	Payload       []byte
}

// TransportFailure reports whether m stands for a transport failure rather than a
// response produced by the server.
func (m *RPCMessage) TransportFailure() bool {
	return m.Error != ""
}

// NewResponse builds the response to serviceMethod carrying env as its payload.
// It fails only when env's value cannot be JSON-encoded.
func NewResponse(serviceMethod string, env envelope.Envelope) (*RPCMessage, error) {
	payload, err := envelope.MarshalEnvelope(env)
	if err != nil {
		return nil, err
	}
	return &RPCMessage{ServiceMethod: serviceMethod, Payload: payload}, nil
}

// ErrorResponse builds a response carrying an error envelope of the given kind.
func ErrorResponse(serviceMethod string, kind envelope.Kind, msg string) *RPCMessage {
	// Error envelopes carry no value, so encoding cannot fail.
	resp, _ := NewResponse(serviceMethod, envelope.ErrorOf(kind, msg))
	return resp
}

// Envelope decodes the envelope carried in m's payload.
func (m *RPCMessage) Envelope() (envelope.Envelope, error) {
	return envelope.UnmarshalEnvelope(m.Payload)
}
