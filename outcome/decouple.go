package outcome

import (
	"encoding/json"
	"errors"

	"envelope-rpc/envelope"
)

var (
	// ErrRequest is matched by every *RequestError.
	ErrRequest = errors.New("request error")
	// ErrServer is matched by every *ServerError.
	ErrServer = errors.New("server error")
)

// RequestError is returned by Decouple when the peer reports that the request itself could not
// be served (bad input, unknown id, conflict). Changing the request may succeed.
type RequestError struct {
	Message string
}

func (e *RequestError) Error() string        { return e.Message }
func (e *RequestError) Is(target error) bool { return target == ErrRequest }

// ServerError is returned by Decouple when the peer reports an unexpected fault on its side.
type ServerError struct {
	Message string
}

func (e *ServerError) Error() string        { return e.Message }
func (e *ServerError) Is(target error) bool { return target == ErrServer }

// Decouple decodes w and translates it into the call's result.
//
//   - KindOK: the value is returned with a nil error; this is the only success path.
//   - KindRequestError: a *RequestError carrying the message.
//   - KindServerError: a *ServerError carrying the message.
//
// A w that does not decode is reported as the decoder's *envelope.MalformedError.
func Decouple(w envelope.Wire) (any, error) {
	env, err := envelope.Decode(w)
	if err != nil {
		return nil, err
	}
	return DecoupleEnvelope(env)
}

// DecoupleEnvelope is Decouple for an envelope that has already been decoded.
// An envelope whose kind is outside the taxonomy is reported as malformed.
func DecoupleEnvelope(env envelope.Envelope) (any, error) {
	switch env.Kind() {
	case envelope.KindOK:
		return env.Value(), nil
	case envelope.KindRequestError:
		return nil, &RequestError{Message: env.Message()}
	case envelope.KindServerError:
		return nil, &ServerError{Message: env.Message()}
	default:
		return nil, &envelope.MalformedError{Reason: "unknown kind " + env.Kind().String()}
	}
}

// DecoupleJSON reads a JSON-encoded envelope and decouples it. On success the value is returned
// undecoded, nil when the peer sent no value.
func DecoupleJSON(data []byte) (json.RawMessage, error) {
	w, err := envelope.UnmarshalWire(data)
	if err != nil {
		return nil, err
	}
	value, err := Decouple(w)
	if err != nil {
		return nil, err
	}
	raw, _ := value.(json.RawMessage)
	return raw, nil
}
