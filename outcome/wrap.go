// Package outcome converts between call outcomes and envelopes.
//
// On the serving side Wrap runs an operation and turns whatever happens (a value, a
// caller-caused failure, any other failure) into an encoded envelope. It never lets a failure
// escape. On the calling side Decouple turns a received envelope back into either the value or
// a typed error: *RequestError, *ServerError, or a malformed-envelope error from package
// envelope.
//
//	server:  op() ──► Wrap ──► envelope.Wire ──► transport
//	client:  transport ──► envelope.Wire ──► Decouple ──► (value, error)
package outcome

import (
	"fmt"

	"envelope-rpc/envelope"
)

// Operation is a server-side call reduced to its result. Operations with arguments are
// expressed as closures, or through the typed adapters Func1, Func2, Action1.
type Operation func() (any, error)

// Outcome runs op and classifies what happened into an envelope. Failures contained in
// failures become request errors, every other failure (including a panic) becomes a server
// error. The message of an error envelope is the failure's description.
func Outcome(op Operation, failures FailureSet) (env envelope.Envelope) {
	defer func() {
		if r := recover(); r != nil {
			env = envelope.ErrorOf(envelope.KindServerError, panicMessage(r))
		}
	}()

	value, err := op()
	if err == nil {
		return envelope.Success(value)
	}
	if failures.Contains(err) {
		return envelope.ErrorOf(envelope.KindRequestError, err.Error())
	}
	return envelope.ErrorOf(envelope.KindServerError, err.Error())
}

// Wrap runs op and returns the encoded envelope of its outcome. It is total.
func Wrap(op Operation, failures FailureSet) envelope.Wire {
	return envelope.Encode(Outcome(op, failures))
}

func panicMessage(r any) string {
	if err, ok := r.(error); ok {
		return err.Error()
	}
	return fmt.Sprint(r)
}

// Func wraps a zero-argument operation.
func Func[R any](fn func() (R, error), failures FailureSet) func() envelope.Wire {
	return func() envelope.Wire {
		return Wrap(func() (any, error) { return fn() }, failures)
	}
}

// Func1 wraps a one-argument operation.
func Func1[A, R any](fn func(A) (R, error), failures FailureSet) func(A) envelope.Wire {
	return func(a A) envelope.Wire {
		return Wrap(func() (any, error) { return fn(a) }, failures)
	}
}

// Func2 wraps a two-argument operation.
func Func2[A, B, R any](fn func(A, B) (R, error), failures FailureSet) func(A, B) envelope.Wire {
	return func(a A, b B) envelope.Wire {
		return Wrap(func() (any, error) { return fn(a, b) }, failures)
	}
}

// Action wraps a zero-argument operation that produces no value.
// Its success envelope carries a nil value.
func Action(fn func() error, failures FailureSet) func() envelope.Wire {
	return func() envelope.Wire {
		return Wrap(func() (any, error) { return nil, fn() }, failures)
	}
}

// Action1 wraps a one-argument operation that produces no value.
func Action1[A any](fn func(A) error, failures FailureSet) func(A) envelope.Wire {
	return func(a A) envelope.Wire {
		return Wrap(func() (any, error) { return nil, fn(a) }, failures)
	}
}
