package chunk

// Subscription is the push-style callback bundle every scan operation
// delivers chunks through. Exactly one terminal method is
// called per scan, after zero or more OnNext calls, unless the scan is
// cancelled: a cancelled scan returns *ErrCancellation from the scan method
// and calls no terminal method:
//
//	OnStart(startIndexOrPosition)
//	   -> zero or more: OnNext(chunk) -> bool
//	   -> exactly one terminal:
//	        Completed(lastIndexOrPosition)
//	      | Stopped(lastIndexOrPosition)
//	      | OnError(lastIndexOrPosition, err)
//
// For per-partition scans (readForwardAsync/readBackwardAsync) the
// "indexOrPosition" values are chunk Index; for readAllAsync they are
// Position. Implementations must treat every callback as synchronous: the
// backend awaits the return of one callback before invoking the next.
type Subscription interface {
	// OnStart is called once, before the first chunk (if any), with the
	// caller-supplied start bound.
	OnStart(startIndexOrPosition int64)

	// OnNext is called once per delivered chunk. Returning false stops the
	// scan early; the backend then calls Stopped instead of Completed.
	OnNext(c *Chunk) bool

	// Completed is called when the scan reaches the end of its range
	// without being stopped or erroring.
	Completed(lastIndexOrPosition int64)

	// Stopped is called when OnNext returned false.
	Stopped(lastIndexOrPosition int64)

	// OnError is called when a backend or callback failure occurs during
	// the scan. The scan method itself returns nil in this case; the error
	// is only observable through this callback.
	OnError(lastIndexOrPosition int64, err error)
}

// FuncSubscription adapts a handful of plain functions into a Subscription,
// for callers that don't need the full lifecycle spelled out. Any nil
// field is a no-op.
type FuncSubscription struct {
	OnStartFunc   func(startIndexOrPosition int64)
	OnNextFunc    func(c *Chunk) bool
	CompletedFunc func(lastIndexOrPosition int64)
	StoppedFunc   func(lastIndexOrPosition int64)
	OnErrorFunc   func(lastIndexOrPosition int64, err error)
}

func (f *FuncSubscription) OnStart(startIndexOrPosition int64) {
	if f.OnStartFunc != nil {
		f.OnStartFunc(startIndexOrPosition)
	}
}

func (f *FuncSubscription) OnNext(c *Chunk) bool {
	if f.OnNextFunc != nil {
		return f.OnNextFunc(c)
	}
	return true
}

func (f *FuncSubscription) Completed(lastIndexOrPosition int64) {
	if f.CompletedFunc != nil {
		f.CompletedFunc(lastIndexOrPosition)
	}
}

func (f *FuncSubscription) Stopped(lastIndexOrPosition int64) {
	if f.StoppedFunc != nil {
		f.StoppedFunc(lastIndexOrPosition)
	}
}

func (f *FuncSubscription) OnError(lastIndexOrPosition int64, err error) {
	if f.OnErrorFunc != nil {
		f.OnErrorFunc(lastIndexOrPosition, err)
	}
}

// CollectingSubscription accumulates delivered chunks in order, recording
// the terminal outcome. It is primarily useful in tests.
type CollectingSubscription struct {
	Chunks     []*Chunk
	Err        error
	StartAt    int64
	EndAt      int64
	WasStopped bool
	WasErrored bool
	// StopAfter, if non-zero, makes OnNext return false once that many
	// chunks have been delivered.
	StopAfter int
}

func (c *CollectingSubscription) OnStart(startIndexOrPosition int64) {
	c.StartAt = startIndexOrPosition
}

func (c *CollectingSubscription) OnNext(ch *Chunk) bool {
	c.Chunks = append(c.Chunks, ch)
	if c.StopAfter > 0 && len(c.Chunks) >= c.StopAfter {
		return false
	}
	return true
}

func (c *CollectingSubscription) Completed(lastIndexOrPosition int64) {
	c.EndAt = lastIndexOrPosition
}

func (c *CollectingSubscription) Stopped(lastIndexOrPosition int64) {
	c.EndAt = lastIndexOrPosition
	c.WasStopped = true
}

func (c *CollectingSubscription) OnError(lastIndexOrPosition int64, err error) {
	c.EndAt = lastIndexOrPosition
	c.WasErrored = true
	c.Err = err
}
