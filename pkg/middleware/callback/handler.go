// Package callback instruments a service's response lifecycle through
// caller-supplied handlers.
//
// A MakeHandler mints one ResponseHandler per request from the request head.
// The handler sees exactly one head-level event, OnResponse or OnError, when
// the inner call resolves. On success it then moves into the response body,
// where it optionally observes every data chunk (BodyChunkHandler) and the
// end of the stream (EndOfStreamHandler).
//
// If the caller abandons the call before it resolves, no terminal event
// fires.
package callback

import (
	"net/http"

	"github.com/mcncl/rpc-middleware/pkg/service"
)

// ResponseHandler observes the head-level outcome of a single request.
type ResponseHandler interface {
	OnResponse(head *service.ResponseHead)
	OnError(err error)
}

// BodyChunkHandler is implemented by handlers that want to see each data
// frame of the response body.
type BodyChunkHandler interface {
	OnBodyChunk(chunk []byte)
}

// EndOfStreamHandler is implemented by handlers that want to know when the
// response body ends. trailers is nil when the stream ended without them.
type EndOfStreamHandler interface {
	OnEndOfStream(trailers http.Header)
}

// MakeHandler creates a handler for each request. It is called on the
// request path and must not block.
type MakeHandler interface {
	MakeHandler(head *service.RequestHead) ResponseHandler
}

// MakeHandlerFunc adapts a function to MakeHandler.
type MakeHandlerFunc func(head *service.RequestHead) ResponseHandler

// MakeHandler implements MakeHandler.
func (f MakeHandlerFunc) MakeHandler(head *service.RequestHead) ResponseHandler {
	return f(head)
}

// Multi returns a factory whose handlers forward every event to a handler
// from each of the given factories, in order.
func Multi(makers ...MakeHandler) MakeHandler {
	return MakeHandlerFunc(func(head *service.RequestHead) ResponseHandler {
		hs := make(multiHandler, 0, len(makers))
		for _, mk := range makers {
			hs = append(hs, mk.MakeHandler(head))
		}
		return hs
	})
}

type multiHandler []ResponseHandler

func (m multiHandler) OnResponse(head *service.ResponseHead) {
	for _, h := range m {
		h.OnResponse(head)
	}
}

func (m multiHandler) OnError(err error) {
	for _, h := range m {
		h.OnError(err)
	}
}

func (m multiHandler) OnBodyChunk(chunk []byte) {
	for _, h := range m {
		if bh, ok := h.(BodyChunkHandler); ok {
			bh.OnBodyChunk(chunk)
		}
	}
}

func (m multiHandler) OnEndOfStream(trailers http.Header) {
	for _, h := range m {
		if eh, ok := h.(EndOfStreamHandler); ok {
			eh.OnEndOfStream(trailers)
		}
	}
}
