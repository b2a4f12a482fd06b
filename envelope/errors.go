package envelope

import (
	"errors"
	"fmt"
)

// ErrMalformed is matched (errors.Is) by every error reporting a wire payload that is not a valid
// envelope. It is a protocol violation, distinct from the three business kinds.
var ErrMalformed = errors.New("envelope: malformed")

// MalformedError describes why a payload could not be read as an envelope.
type MalformedError struct {
	Reason string
}

func malformed(format string, args ...any) *MalformedError {
	return &MalformedError{Reason: fmt.Sprintf(format, args...)}
}

func (e *MalformedError) Error() string {
	return "envelope: malformed: " + e.Reason
}

func (e *MalformedError) Is(target error) bool {
	return target == ErrMalformed
}
