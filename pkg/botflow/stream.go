package botflow

import "iter"

// Stream is the lazy, one-pass sequence of outcomes for one dispatch.
// Listeners run as the stream is consumed: a caller that stops early, for
// example at the first Success, never runs the remaining listeners.
//
// A Stream is not safe for concurrent use. Consume it to the end or call
// Close to release the dispatch.
type Stream struct {
	produce   func() (Outcome, bool, error)
	done      bool
	err       error
	observers []func(Outcome)
	onDone    []func(error)
}

func newStream(produce func() (Outcome, bool, error)) *Stream {
	return &Stream{produce: produce}
}

// Single returns a stream holding one synthetic outcome. Dispatch
// interceptors return it to short-circuit a dispatch.
func Single(r Result) *Stream {
	sent := false
	return newStream(func() (Outcome, bool, error) {
		if sent {
			return Outcome{}, false, nil
		}
		sent = true
		return Outcome{ListenerID: r.ListenerID, Result: r, ShortCircuit: true}, true, nil
	})
}

// Empty returns a stream with no outcomes.
func Empty() *Stream {
	return newStream(func() (Outcome, bool, error) {
		return Outcome{}, false, nil
	})
}

// Next returns the next outcome. It returns false once the stream is
// exhausted, closed, or stopped by cancellation; Err tells which.
func (s *Stream) Next() (Outcome, bool) {
	if s.done {
		return Outcome{}, false
	}
	o, ok, err := s.produce()
	if err != nil || !ok {
		s.finish(err)
		return Outcome{}, false
	}
	for _, fn := range s.observers {
		fn(o)
	}
	return o, true
}

// Err returns the error that stopped the stream, typically the cause of a
// cancelled context. It is nil while the stream is live and after a normal
// end or Close.
func (s *Stream) Err() error {
	return s.err
}

// Close stops the stream. Listeners that have not run yet never run.
func (s *Stream) Close() {
	s.finish(nil)
}

// Done reports whether the stream has ended.
func (s *Stream) Done() bool {
	return s.done
}

func (s *Stream) finish(err error) {
	if s.done {
		return
	}
	s.done = true
	s.err = err
	s.produce = nil
	for _, fn := range s.onDone {
		fn(err)
	}
	s.onDone = nil
}

// Observe registers fn to be called with every outcome as it is consumed.
// It returns s for chaining.
func (s *Stream) Observe(fn func(Outcome)) *Stream {
	if fn != nil {
		s.observers = append(s.observers, fn)
	}
	return s
}

// OnDone registers fn to be called once when the stream ends, with the
// error that stopped it. If the stream has already ended, fn is not called.
func (s *Stream) OnDone(fn func(error)) *Stream {
	if fn != nil && !s.done {
		s.onDone = append(s.onDone, fn)
	}
	return s
}

// All returns a range-over-func sequence of outcomes. Breaking out of the
// loop closes the stream.
func (s *Stream) All() iter.Seq[Outcome] {
	return func(yield func(Outcome) bool) {
		for {
			o, ok := s.Next()
			if !ok {
				return
			}
			if !yield(o) {
				s.Close()
				return
			}
		}
	}
}

// Collect consumes the whole stream.
func (s *Stream) Collect() ([]Outcome, error) {
	var out []Outcome
	for o := range s.All() {
		out = append(out, o)
	}
	return out, s.Err()
}

// FirstSuccess consumes outcomes until the first Success and closes the
// stream. It reports false if no listener succeeded.
func (s *Stream) FirstSuccess() (Outcome, bool, error) {
	for o := range s.All() {
		if o.Result.IsSuccess() {
			s.Close()
			return o, true, nil
		}
	}
	return Outcome{}, false, s.Err()
}
