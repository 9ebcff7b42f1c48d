package callback

import (
	"context"
	"io"
	"net/http"

	"github.com/mcncl/rpc-middleware/pkg/service"
)

// ResponseBody wraps a response body so that its chunks and its end reach
// the handler that observed the response head.
type ResponseBody struct {
	inner   service.Body
	handler ResponseHandler
	ended   bool
}

// Next implements service.Body. Errors from the inner body pass through
// without reaching the handler.
func (b *ResponseBody) Next(ctx context.Context) (service.Frame, error) {
	f, err := b.inner.Next(ctx)
	if err == io.EOF {
		b.endOfStream(nil)
		return f, err
	}
	if err != nil {
		return f, err
	}

	if f.IsTrailers() {
		b.endOfStream(f.Trailers)
		return f, nil
	}

	if bh, ok := b.handler.(BodyChunkHandler); ok && !b.ended {
		bh.OnBodyChunk(f.Data)
	}
	return f, nil
}

func (b *ResponseBody) endOfStream(trailers http.Header) {
	if b.ended {
		return
	}
	b.ended = true
	if eh, ok := b.handler.(EndOfStreamHandler); ok {
		eh.OnEndOfStream(trailers)
	}
}

// IsEndStream implements service.Body.
func (b *ResponseBody) IsEndStream() bool {
	return b.inner.IsEndStream()
}

// SizeHint implements service.Body.
func (b *ResponseBody) SizeHint() service.SizeHint {
	return b.inner.SizeHint()
}

// Close closes the inner body if it supports closing.
func (b *ResponseBody) Close() error {
	if c, ok := b.inner.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
