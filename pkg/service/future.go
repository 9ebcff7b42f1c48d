package service

import (
	"context"
)

// Result is the outcome of a call: a response or an error, never both.
type Result struct {
	Response *Response
	Err      error
}

// Future is an in-flight call.
//
// Poll never blocks. It returns ok=false while the call is still running and
// the final Result once it is available. Ready returns a channel that is
// closed once Poll is able to resolve; drivers wait on it between polls. A
// future is consumed by the poll that resolves it, so polling again afterwards
// is a caller bug that implementations may report as an error.
type Future interface {
	Poll() (Result, bool)
	Ready() <-chan struct{}
}

var closedChan = func() chan struct{} {
	c := make(chan struct{})
	close(c)
	return c
}()

// Closed returns a channel that is already closed. Futures that have resolved
// return it from Ready.
func Closed() <-chan struct{} {
	return closedChan
}

type resolvedFuture struct {
	res Result
}

// Resolved returns a future that is immediately ready with the given
// outcome.
func Resolved(resp *Response, err error) Future {
	return &resolvedFuture{res: Result{Response: resp, Err: err}}
}

func (f *resolvedFuture) Poll() (Result, bool) { return f.res, true }

func (f *resolvedFuture) Ready() <-chan struct{} { return closedChan }

type goFuture struct {
	done chan struct{}
	res  Result
}

// Go runs fn on a new goroutine and returns a future for its outcome.
func Go(fn func() (*Response, error)) Future {
	f := &goFuture{done: make(chan struct{})}
	go func() {
		defer close(f.done)
		f.res.Response, f.res.Err = fn()
	}()
	return f
}

func (f *goFuture) Poll() (Result, bool) {
	select {
	case <-f.done:
		return f.res, true
	default:
		return Result{}, false
	}
}

func (f *goFuture) Ready() <-chan struct{} { return f.done }

// Await drives f to completion. If ctx ends first the future is abandoned
// and ctx.Err() is returned.
func Await(ctx context.Context, f Future) (*Response, error) {
	for {
		if res, ok := f.Poll(); ok {
			return res.Response, res.Err
		}
		select {
		case <-f.Ready():
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}
