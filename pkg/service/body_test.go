package service

import (
	"context"
	"errors"
	"io"
	"net/http"
	"sync"
	"testing"
	"time"
)

func TestEmptyBody(t *testing.T) {
	b := Empty()
	if !b.IsEndStream() {
		t.Error("expected empty body to be at end of stream")
	}
	if n, ok := b.SizeHint().Exact(); !ok || n != 0 {
		t.Errorf("got size hint %+v, want exact 0", b.SizeHint())
	}
	if _, err := b.Next(context.Background()); err != io.EOF {
		t.Errorf("got %v, want io.EOF", err)
	}
}

func TestBytesBody(t *testing.T) {
	tests := []struct {
		name  string
		input []byte
		want  uint64
	}{
		{name: "data", input: []byte("hello"), want: 5},
		{name: "nil", input: nil, want: 0},
		{name: "empty", input: []byte{}, want: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := Bytes(tt.input)
			if n, ok := b.SizeHint().Exact(); !ok || n != tt.want {
				t.Errorf("got size hint %+v, want exact %d", b.SizeHint(), tt.want)
			}
			if b.IsEndStream() != (tt.want == 0) {
				t.Errorf("IsEndStream = %v, want %v", b.IsEndStream(), tt.want == 0)
			}

			data, trailers, err := ReadAll(context.Background(), b)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if string(data) != string(tt.input) {
				t.Errorf("got %q, want %q", data, tt.input)
			}
			if trailers != nil {
				t.Errorf("expected no trailers, got %v", trailers)
			}
		})
	}
}

func TestFramesBody(t *testing.T) {
	b := Frames(
		Frame{Data: []byte("ab")},
		Frame{Data: []byte("cde")},
		Frame{Trailers: http.Header{"Grpc-Status": []string{"0"}}},
	)

	if n, ok := b.SizeHint().Exact(); !ok || n != 5 {
		t.Errorf("got size hint %+v, want exact 5", b.SizeHint())
	}

	data, trailers, err := ReadAll(context.Background(), b)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(data) != "abcde" {
		t.Errorf("got %q, want %q", data, "abcde")
	}
	if trailers.Get("Grpc-Status") != "0" {
		t.Errorf("got trailers %v, want grpc-status 0", trailers)
	}
}

func TestFramesBodyHonorsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := Bytes([]byte("x")).Next(ctx); err != context.Canceled {
		t.Errorf("got %v, want context.Canceled", err)
	}
}

func TestSizeHintExact(t *testing.T) {
	tests := []struct {
		name  string
		hint  SizeHint
		exact bool
	}{
		{name: "exact", hint: ExactSize(3), exact: true},
		{name: "unknown", hint: SizeHint{}},
		{name: "range", hint: SizeHint{Lower: 1, Upper: 4, HasUpper: true}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, ok := tt.hint.Exact(); ok != tt.exact {
				t.Errorf("Exact() ok = %v, want %v", ok, tt.exact)
			}
		})
	}
}

func TestStream(t *testing.T) {
	w, b := NewStream(0)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for _, chunk := range []string{"one", "two"} {
			if err := w.Send(context.Background(), []byte(chunk)); err != nil {
				t.Errorf("send: %v", err)
				return
			}
		}
		if err := w.CloseWithTrailers(http.Header{"Grpc-Status": []string{"0"}}); err != nil {
			t.Errorf("close: %v", err)
		}
	}()

	if b.IsEndStream() {
		t.Error("stream must not report end before it is closed")
	}
	if _, ok := b.SizeHint().Exact(); ok {
		t.Error("stream size must be unknown")
	}

	data, trailers, err := ReadAll(context.Background(), b)
	wg.Wait()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(data) != "onetwo" {
		t.Errorf("got %q, want %q", data, "onetwo")
	}
	if trailers.Get("Grpc-Status") != "0" {
		t.Errorf("got trailers %v", trailers)
	}
	if !b.IsEndStream() {
		t.Error("expected end of stream after draining")
	}
}

func TestStreamSendCopiesData(t *testing.T) {
	w, b := NewStream(1)
	buf := []byte("abc")
	if err := w.Send(context.Background(), buf); err != nil {
		t.Fatalf("send: %v", err)
	}
	buf[0] = 'z'

	f, err := b.Next(context.Background())
	if err != nil {
		t.Fatalf("next: %v", err)
	}
	if string(f.Data) != "abc" {
		t.Errorf("got %q, want %q", f.Data, "abc")
	}
}

func TestStreamCloseWithError(t *testing.T) {
	w, b := NewStream(1)
	wantErr := errors.New("reset")

	if err := w.Send(context.Background(), []byte("x")); err != nil {
		t.Fatalf("send: %v", err)
	}
	if err := w.CloseWithError(wantErr); err != nil {
		t.Fatalf("close: %v", err)
	}

	if _, err := b.Next(context.Background()); err != nil {
		t.Fatalf("queued frame must be delivered before the error, got %v", err)
	}
	if _, err := b.Next(context.Background()); err != wantErr {
		t.Errorf("got %v, want %v", err, wantErr)
	}
}

func TestStreamWriteAfterClose(t *testing.T) {
	w, _ := NewStream(1)
	if err := w.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := w.Send(context.Background(), []byte("x")); !errors.Is(err, ErrStreamClosed) {
		t.Errorf("got %v, want ErrStreamClosed", err)
	}
	if err := w.Close(); !errors.Is(err, ErrStreamClosed) {
		t.Errorf("got %v, want ErrStreamClosed on second close", err)
	}
}

func TestStreamReaderGone(t *testing.T) {
	w, b := NewStream(0)
	if err := b.(io.Closer).Close(); err != nil {
		t.Fatalf("close body: %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- w.Send(context.Background(), []byte("x")) }()

	select {
	case err := <-done:
		if !errors.Is(err, ErrStreamClosed) {
			t.Errorf("got %v, want ErrStreamClosed", err)
		}
	case <-time.After(time.Second):
		t.Fatal("send blocked after the reader went away")
	}
}

func TestStreamNextHonorsContext(t *testing.T) {
	_, b := NewStream(0)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	if _, err := b.Next(ctx); err != context.DeadlineExceeded {
		t.Errorf("got %v, want context.DeadlineExceeded", err)
	}
}
