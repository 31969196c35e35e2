package sendqueue

import (
	"context"
	"sync"

	kit "digestbot/internal/transport"
)

// Result is the single-assignment handle for one queued send. It resolves
// exactly once, either with the platform message reference or with an error.
type Result struct {
	s *Service
	e *entry

	once sync.Once
	done chan struct{}

	val kit.MessageRef
	err error
}

func newResult(s *Service) *Result {
	return &Result{s: s, done: make(chan struct{})}
}

// ResolvedResult returns an already-resolved handle. Used by direct-send
// paths so callers see one result type whether or not pacing is configured.
func ResolvedResult(val kit.MessageRef, err error) *Result {
	r := &Result{done: make(chan struct{})}
	r.resolve(val, err)
	return r
}

// Done is closed once the send completed, failed permanently, was cancelled,
// or was rejected at shutdown.
func (r *Result) Done() <-chan struct{} { return r.done }

// Wait blocks until the result resolves or ctx is cancelled. Cancelling ctx
// abandons the wait but does not cancel the queued send; use Cancel for that.
func (r *Result) Wait(ctx context.Context) (kit.MessageRef, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	select {
	case <-r.done:
		return r.val, r.err
	case <-ctx.Done():
		return kit.MessageRef{}, ctx.Err()
	}
}

// Value returns the resolved value and error. It must only be called after
// Done is closed.
func (r *Result) Value() (kit.MessageRef, error) { return r.val, r.err }

// Cancel removes the entry from the queue if it has not been handed to the
// dispatch worker yet, resolving the handle with ErrCancelled. Once dispatch
// has begun, Cancel has no effect and the send runs to completion.
func (r *Result) Cancel() {
	if r.s == nil {
		return
	}
	r.s.cancelEntry(r)
}

func (r *Result) resolve(val kit.MessageRef, err error) {
	r.once.Do(func() {
		r.val = val
		r.err = err
		close(r.done)
	})
}
