package service

import (
	"context"
	"errors"
	"io"
	"net/http"
	"sync"
)

// ErrStreamClosed is returned when writing to a stream that has been closed
// by either side.
var ErrStreamClosed = errors.New("stream closed")

// StreamWriter is the producing side of a body created with NewStream. Its
// methods are safe to call from multiple goroutines.
type StreamWriter struct {
	frames   chan Frame
	gone     chan struct{}
	goneOnce sync.Once

	mu     sync.Mutex
	closed bool
	err    error
}

// NewStream returns a body whose frames are produced through the returned
// writer. buffer is the number of frames that may be queued before Send
// blocks.
func NewStream(buffer int) (*StreamWriter, Body) {
	w := &StreamWriter{
		frames: make(chan Frame, buffer),
		gone:   make(chan struct{}),
	}
	return w, &streamBody{w: w}
}

// Send queues a copy of data as a data frame.
func (w *StreamWriter) Send(ctx context.Context, data []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return ErrStreamClosed
	}

	chunk := make([]byte, len(data))
	copy(chunk, data)

	select {
	case w.frames <- Frame{Data: chunk}:
		return nil
	case <-w.gone:
		return ErrStreamClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close ends the stream without trailers.
func (w *StreamWriter) Close() error {
	return w.close(nil, nil)
}

// CloseWithTrailers ends the stream with a trailers frame.
func (w *StreamWriter) CloseWithTrailers(trailers http.Header) error {
	if trailers == nil {
		trailers = http.Header{}
	}
	return w.close(trailers, nil)
}

// CloseWithError ends the stream so that the reader sees err once queued
// frames are drained.
func (w *StreamWriter) CloseWithError(err error) error {
	if err == nil {
		err = io.ErrUnexpectedEOF
	}
	return w.close(nil, err)
}

func (w *StreamWriter) close(trailers http.Header, err error) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return ErrStreamClosed
	}
	w.closed = true

	if trailers != nil {
		select {
		case w.frames <- Frame{Trailers: trailers}:
		case <-w.gone:
		}
	}

	if err == nil {
		err = io.EOF
	}
	w.err = err
	close(w.frames)
	return nil
}

type streamBody struct {
	w     *StreamWriter
	ended bool
}

func (b *streamBody) Next(ctx context.Context) (Frame, error) {
	if b.ended {
		return Frame{}, io.EOF
	}
	select {
	case f, ok := <-b.w.frames:
		if !ok {
			b.ended = true
			return Frame{}, b.w.err
		}
		return f, nil
	case <-ctx.Done():
		return Frame{}, ctx.Err()
	}
}

func (b *streamBody) IsEndStream() bool {
	return b.ended
}

func (b *streamBody) SizeHint() SizeHint {
	return SizeHint{}
}

// Close tells the writer that no more frames will be read.
func (b *streamBody) Close() error {
	b.w.goneOnce.Do(func() { close(b.w.gone) })
	return nil
}
