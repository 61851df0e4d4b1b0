package future

// AndThenFunc is invoked when f succeeds; it typically calls Continue or
// ContinueError on f2 (spec.md §4.6 "and_then").
type AndThenFunc func(f, f2 *Future)

// OrThenFunc is invoked when f fails; symmetric to AndThenFunc.
type OrThenFunc func(f, f2 *Future)

// AndThen creates f2, fulfilled by cb when f succeeds (spec.md's
// and_then(f, cb, arg)). If f fails, f2 adopts the failure directly and cb
// never runs — only AndThen's callback is skipped on failure, matching
// or_then's symmetric skip of its own callback on success.
func (f *Future) AndThen(cb AndThenFunc) *Future {
	f2 := New(f.r)
	f.addHandlerInternal(continuation{
		onSuccess: func(*Future, any) { cb(f, f2) },
		onFailure: func(*Future, any) {
			_, err := f.Get()
			f2.FulfillError(err)
		},
	})
	return f2
}

// OrThen creates f2, fulfilled by cb when f fails (spec.md's or_then(f, cb,
// arg)). On success, f2 adopts f's value directly.
func (f *Future) OrThen(cb OrThenFunc) *Future {
	f2 := New(f.r)
	f.addHandlerInternal(continuation{
		onSuccess: func(*Future, any) {
			v, _ := f.Get()
			f2.Fulfill(v)
		},
		onFailure: func(*Future, any) { cb(f, f2) },
	})
	return f2
}

// Continue forwards next's eventual result into f2 once next settles
// (spec.md: "cb typically calls continue(f, f_next) to forward a new
// future's result into f2").
func (f2 *Future) Continue(next *Future) {
	next.addHandlerInternal(continuation{
		onSuccess: func(*Future, any) {
			v, _ := next.Get()
			f2.Fulfill(v)
		},
		onFailure: func(*Future, any) {
			_, err := next.Get()
			f2.FulfillError(err)
		},
	})
}

// ContinueError fails f2 directly (spec.md's continue_error(f, errnum,
// errstr)).
func (f2 *Future) ContinueError(err error) {
	f2.FulfillError(err)
}
