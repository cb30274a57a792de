package botflow

import "errors"

// ResultKind tags a Result.
type ResultKind int

const (
	// KindSuccess means the listener handled the event.
	KindSuccess ResultKind = iota
	// KindInvalid means the listener did not apply: it was filtered out or
	// did not match.
	KindInvalid
	// KindError means the listener or one of its interceptors failed.
	KindError
)

func (k ResultKind) String() string {
	switch k {
	case KindSuccess:
		return "success"
	case KindInvalid:
		return "invalid"
	case KindError:
		return "error"
	default:
		return "unknown"
	}
}

// Result is the outcome of one listener for one event. The zero value is
// a Success with no value.
type Result struct {
	Kind ResultKind
	// Value is the listener's return value for Success results.
	Value any
	// Err is the cause of Error results, always a *ListenerError once the
	// result has left the dispatcher.
	Err error
	// ListenerID is set on Error results.
	ListenerID string
}

// Success creates a Success result carrying v.
func Success(v any) Result {
	return Result{Kind: KindSuccess, Value: v}
}

// Invalid creates an Invalid result.
func Invalid() Result {
	return Result{Kind: KindInvalid}
}

// Failure creates an Error result for listenerID. err is wrapped in a
// ListenerError unless it already is one.
func Failure(listenerID string, err error) Result {
	if err == nil {
		err = ErrListenerReported
	}
	var le *ListenerError
	if !errors.As(err, &le) {
		err = &ListenerError{ListenerID: listenerID, Err: err}
	}
	return Result{Kind: KindError, Err: err, ListenerID: listenerID}
}

// IsSuccess reports whether r is a Success.
func (r Result) IsSuccess() bool { return r.Kind == KindSuccess }

// IsInvalid reports whether r is Invalid.
func (r Result) IsInvalid() bool { return r.Kind == KindInvalid }

// IsError reports whether r is an Error.
func (r Result) IsError() bool { return r.Kind == KindError }

// Outcome pairs a Result with the listener that produced it.
type Outcome struct {
	ListenerID string
	Priority   int
	Result     Result
	// ShortCircuit is set when a dispatch interceptor produced the result
	// instead of a listener.
	ShortCircuit bool
}

// normalize turns a raw pipeline return into the Result reported for
// listenerID.
func normalize(listenerID string, res Result, err error) Result {
	if err != nil {
		return Failure(listenerID, err)
	}
	if res.Kind == KindError {
		return Failure(listenerID, res.Err)
	}
	return res
}
