// Package service defines the request/response contract that the middleware
// stages in this module wrap.
//
// A Service is called once per request and returns a Future. Futures never
// block: Poll reports the outcome once it is available and reports pending
// otherwise, while Ready provides the channel a driver waits on between
// polls. Await is the driver used by transports.
//
// Layers decorate services and are composed with Chain:
//
//	svc := service.Chain(inner,
//		request.WithRequestID,
//		logging.WithStructuredLogging(logger),
//		callback.NewLayer(metricsFactory),
//		grpctimeout.NewLayer(grpctimeout.WithServerTimeout(30*time.Second)),
//	)
package service

import (
	"context"
	"io"
	"net/http"
)

// RequestHead is the part of a request that is available before its body is
// read.
type RequestHead struct {
	Method     string
	Path       string
	Header     http.Header
	RemoteAddr string
}

// Request is a single RPC request. Body may be nil.
type Request struct {
	Head RequestHead
	Body io.ReadCloser
}

// ResponseHead carries the response status and headers.
type ResponseHead struct {
	Status int
	Header http.Header
}

// Response pairs a head with a streamed body.
type Response struct {
	Head ResponseHead
	Body Body
}

// NewResponse returns a response with the given status, an empty header map
// and body b. A nil body is replaced by Empty().
func NewResponse(status int, b Body) *Response {
	if b == nil {
		b = Empty()
	}
	return &Response{
		Head: ResponseHead{Status: status, Header: http.Header{}},
		Body: b,
	}
}

// Service handles requests.
type Service interface {
	Call(ctx context.Context, req *Request) Future
}

// Func adapts an ordinary function to a Service.
type Func func(ctx context.Context, req *Request) Future

// Call implements Service.
func (f Func) Call(ctx context.Context, req *Request) Future {
	return f(ctx, req)
}

// Layer decorates a Service.
type Layer func(Service) Service

// Chain wraps svc in the given layers. The first layer is the outermost, so
// requests pass through layers in the order they are listed.
func Chain(svc Service, layers ...Layer) Service {
	for i := len(layers) - 1; i >= 0; i-- {
		svc = layers[i](svc)
	}
	return svc
}
