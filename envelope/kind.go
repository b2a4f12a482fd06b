package envelope

import "fmt"

// Kind classifies the outcome carried by an Envelope.
//
// The set is closed: KindOK, KindRequestError and KindServerError. The zero value is not a
// member and is reported as malformed wherever an envelope is consumed.
type Kind uint8

const (
	KindOK           Kind = iota + 1 // Call succeeded, value is meaningful
	KindRequestError                 // Caller-caused failure (bad input, not found, conflict)
	KindServerError                  // Fault on the serving side, not fixable by the caller
)

// Wire codes. They exist only for compatibility with existing peers;
// nothing outside Encode/Decode should branch on them.
const (
	codeOK           = 200
	codeRequestError = 400
	codeServerError  = 500
)

// Valid reports whether k is one of the three known kinds.
func (k Kind) Valid() bool {
	return k == KindOK || k == KindRequestError || k == KindServerError
}

// Code returns the numeric wire code of k, or 0 if k is not a known kind.
func (k Kind) Code() int {
	switch k {
	case KindOK:
		return codeOK
	case KindRequestError:
		return codeRequestError
	case KindServerError:
		return codeServerError
	default:
		return 0
	}
}

func (k Kind) String() string {
	switch k {
	case KindOK:
		return "OK"
	case KindRequestError:
		return "REQUEST_ERROR"
	case KindServerError:
		return "SERVER_ERROR"
	default:
		return fmt.Sprintf("Kind(%d)", uint8(k))
	}
}

// kindFromCode is the inverse of Kind.Code.
func kindFromCode(code int64) (Kind, bool) {
	switch code {
	case codeOK:
		return KindOK, true
	case codeRequestError:
		return KindRequestError, true
	case codeServerError:
		return KindServerError, true
	default:
		return 0, false
	}
}
