package outcome

import "errors"

// Matcher reports whether err is a caller-caused failure.
type Matcher func(err error) bool

// Is matches failures that wrap target (errors.Is).
func Is(target error) Matcher {
	return func(err error) bool {
		return errors.Is(err, target)
	}
}

// As matches failures whose chain contains an error of type T (errors.As).
//
//	outcome.Recognize(outcome.As[*strconv.NumError](), outcome.Is(store.ErrNotFound))
func As[T error]() Matcher {
	return func(err error) bool {
		var target T
		return errors.As(err, &target)
	}
}

// Match adapts an arbitrary predicate into a Matcher.
func Match(pred func(err error) bool) Matcher {
	return Matcher(pred)
}

// FailureSet is the recognized-request-failure set of an operation: failures it contains are
// reported as request errors, everything else as server errors.
//
// The zero value is an empty set.
type FailureSet struct {
	matchers []Matcher
}

// Recognize builds a FailureSet from the given matchers.
func Recognize(matchers ...Matcher) FailureSet {
	ms := make([]Matcher, 0, len(matchers))
	for _, m := range matchers {
		if m != nil {
			ms = append(ms, m)
		}
	}
	return FailureSet{matchers: ms}
}

// RecognizeErrors is shorthand for Recognize with one Is matcher per sentinel.
func RecognizeErrors(targets ...error) FailureSet {
	ms := make([]Matcher, len(targets))
	for i, target := range targets {
		ms[i] = Is(target)
	}
	return Recognize(ms...)
}

// With returns a copy of s extended with more matchers.
func (s FailureSet) With(matchers ...Matcher) FailureSet {
	ms := make([]Matcher, 0, len(s.matchers)+len(matchers))
	ms = append(ms, s.matchers...)
	return Recognize(append(ms, matchers...)...)
}

// Contains reports whether err is a caller-caused failure: either tagged with RequestFault or
// matched by one of the set's matchers.
func (s FailureSet) Contains(err error) bool {
	if err == nil {
		return false
	}
	var rf *requestFault
	if errors.As(err, &rf) {
		return true
	}
	for _, m := range s.matchers {
		if m(err) {
			return true
		}
	}
	return false
}

// Len returns the number of matchers in s.
func (s FailureSet) Len() int { return len(s.matchers) }

type requestFault struct {
	err error
}

func (f *requestFault) Error() string { return f.err.Error() }
func (f *requestFault) Unwrap() error { return f.err }

// RequestFault tags err as caller-caused. The wrapper reports a tagged failure as a request
// error whatever the operation's FailureSet says. A nil err stays nil.
func RequestFault(err error) error {
	if err == nil {
		return nil
	}
	return &requestFault{err: err}
}
