package request

import (
	"context"

	"github.com/google/uuid"

	"github.com/mcncl/rpc-middleware/pkg/service"
)

const (
	// RequestIDHeader is the header used for request ID propagation
	RequestIDHeader = "X-Request-ID"

	// maxRequestIDLength bounds client-supplied IDs.
	maxRequestIDLength = 128
)

type requestIDKey struct{}

// ContextWithID returns a copy of ctx carrying id.
func ContextWithID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

// IDFromContext returns the request ID stored by WithRequestID, or "".
func IDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

// WithRequestID adds a request ID to the call context and response headers
func WithRequestID(next service.Service) service.Service {
	return service.Func(func(ctx context.Context, req *service.Request) service.Future {
		id := req.Head.Header.Get(RequestIDHeader)
		if !validID(id) {
			id = uuid.New().String()
			req.Head.Header.Set(RequestIDHeader, id)
		}

		return &idFuture{
			inner: next.Call(ContextWithID(ctx, id), req),
			id:    id,
		}
	})
}

func validID(id string) bool {
	if id == "" || len(id) > maxRequestIDLength {
		return false
	}
	for i := 0; i < len(id); i++ {
		if c := id[i]; c <= ' ' || c > '~' {
			return false
		}
	}
	return true
}

type idFuture struct {
	inner service.Future
	id    string
}

func (f *idFuture) Poll() (service.Result, bool) {
	res, ok := f.inner.Poll()
	if ok && res.Err == nil && res.Response != nil {
		res.Response.Head.Header.Set(RequestIDHeader, f.id)
	}
	return res, ok
}

func (f *idFuture) Ready() <-chan struct{} {
	return f.inner.Ready()
}
