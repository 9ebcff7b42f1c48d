package service

import (
	"context"
	"io"
	"net/http"
)

// Frame is one unit of a response body: either a chunk of data or the
// trailing headers that end the stream.
type Frame struct {
	Data     []byte
	Trailers http.Header
}

// IsTrailers reports whether the frame carries trailers rather than data.
func (f Frame) IsTrailers() bool {
	return f.Trailers != nil
}

// SizeHint describes the number of data bytes a body has left to yield.
type SizeHint struct {
	Lower    uint64
	Upper    uint64
	HasUpper bool
}

// ExactSize returns a hint for a body with exactly n bytes remaining.
func ExactSize(n uint64) SizeHint {
	return SizeHint{Lower: n, Upper: n, HasUpper: true}
}

// Exact returns the known body size, if the hint pins it down.
func (h SizeHint) Exact() (uint64, bool) {
	if h.HasUpper && h.Lower == h.Upper {
		return h.Upper, true
	}
	return 0, false
}

// Body is a pull-based response body. Next returns data frames, at most one
// trailers frame, and then io.EOF. Any other error ends the stream.
type Body interface {
	Next(ctx context.Context) (Frame, error)
	IsEndStream() bool
	SizeHint() SizeHint
}

// Empty returns a body that ends without yielding any frame.
func Empty() Body {
	return &frameBody{}
}

// Bytes returns a body that yields b as a single data frame.
func Bytes(b []byte) Body {
	if len(b) == 0 {
		return Empty()
	}
	return &frameBody{frames: []Frame{{Data: b}}}
}

// Frames returns a body that yields the given frames in order.
func Frames(frames ...Frame) Body {
	return &frameBody{frames: frames}
}

type frameBody struct {
	frames []Frame
}

func (b *frameBody) Next(ctx context.Context) (Frame, error) {
	if err := ctx.Err(); err != nil {
		return Frame{}, err
	}
	if len(b.frames) == 0 {
		return Frame{}, io.EOF
	}
	f := b.frames[0]
	b.frames = b.frames[1:]
	return f, nil
}

func (b *frameBody) IsEndStream() bool {
	return len(b.frames) == 0
}

func (b *frameBody) SizeHint() SizeHint {
	var n uint64
	for _, f := range b.frames {
		n += uint64(len(f.Data))
	}
	return ExactSize(n)
}

// ReadAll drains b and returns the concatenated data and the trailers, if
// any were sent.
func ReadAll(ctx context.Context, b Body) ([]byte, http.Header, error) {
	var (
		data     []byte
		trailers http.Header
	)
	for {
		f, err := b.Next(ctx)
		if err == io.EOF {
			return data, trailers, nil
		}
		if err != nil {
			return data, trailers, err
		}
		if f.IsTrailers() {
			trailers = f.Trailers
			continue
		}
		data = append(data, f.Data...)
	}
}
