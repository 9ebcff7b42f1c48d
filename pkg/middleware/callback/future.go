package callback

import (
	"context"

	"github.com/mcncl/rpc-middleware/pkg/errors"
	"github.com/mcncl/rpc-middleware/pkg/service"
)

// Callback is a service that reports each request's lifecycle to a handler
// minted by its factory.
type Callback struct {
	inner service.Service
	mk    MakeHandler
}

// New wraps inner so that every call is observed by a handler from mk.
func New(inner service.Service, mk MakeHandler) *Callback {
	return &Callback{inner: inner, mk: mk}
}

// NewLayer returns a layer that applies New with mk.
func NewLayer(mk MakeHandler) service.Layer {
	return func(inner service.Service) service.Service {
		return New(inner, mk)
	}
}

// Call implements service.Service.
func (c *Callback) Call(ctx context.Context, req *service.Request) service.Future {
	handler := c.mk.MakeHandler(&req.Head)
	return &ResponseFuture{
		inner:   c.inner.Call(ctx, req),
		handler: handler,
	}
}

// ResponseFuture drives the inner future and reports its outcome to the
// handler. The handler slot is emptied when the inner future resolves; any
// poll after that returns errors.ErrPolledAfterCompletion.
type ResponseFuture struct {
	inner   service.Future
	handler ResponseHandler
}

// Poll implements service.Future.
func (f *ResponseFuture) Poll() (service.Result, bool) {
	if f.handler == nil {
		return service.Result{Err: errors.ErrPolledAfterCompletion}, true
	}

	res, ok := f.inner.Poll()
	if !ok {
		return service.Result{}, false
	}

	handler := f.handler
	f.handler = nil
	f.inner = nil

	if res.Err != nil {
		handler.OnError(res.Err)
		return service.Result{Err: res.Err}, true
	}

	resp := res.Response
	handler.OnResponse(&resp.Head)
	return service.Result{Response: &service.Response{
		Head: resp.Head,
		Body: &ResponseBody{inner: resp.Body, handler: handler},
	}}, true
}

// Ready implements service.Future.
func (f *ResponseFuture) Ready() <-chan struct{} {
	if f.handler == nil {
		return service.Closed()
	}
	return f.inner.Ready()
}
