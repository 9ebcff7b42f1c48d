package httpservice

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/mcncl/rpc-middleware/pkg/errors"
	"github.com/mcncl/rpc-middleware/pkg/service"
)

func call(t *testing.T, h http.Handler, req *service.Request) (*service.Response, error) {
	t.Helper()
	ctx := context.Background()
	return service.Await(ctx, FromHandler(h).Call(ctx, req))
}

func newRequest(method, path string, body io.ReadCloser) *service.Request {
	return &service.Request{
		Head: service.RequestHead{Method: method, Path: path, Header: http.Header{}},
		Body: body,
	}
}

func TestFromHandlerStreamsResponse(t *testing.T) {
	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Trailer", "Grpc-Status, Grpc-Message")
		w.Header().Set("Content-Type", "application/grpc")
		w.WriteHeader(http.StatusOK)
		_, _ = io.WriteString(w, "chunk1")
		w.(http.Flusher).Flush()
		_, _ = io.WriteString(w, "chunk2")
		w.Header().Set("Grpc-Status", "0")
		w.Header().Set(http.TrailerPrefix+"X-Extra", "extra")
	})

	resp, err := call(t, h, newRequest(http.MethodPost, "/svc/Method", nil))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Head.Status != http.StatusOK {
		t.Errorf("got status %d, want %d", resp.Head.Status, http.StatusOK)
	}
	if resp.Head.Header.Get("Content-Type") != "application/grpc" {
		t.Errorf("missing content type in head")
	}
	if resp.Head.Header.Get("Trailer") != "" {
		t.Errorf("trailer declaration must not leak into the head")
	}

	data, trailers, err := service.ReadAll(context.Background(), resp.Body)
	if err != nil {
		t.Fatalf("reading body: %v", err)
	}
	if string(data) != "chunk1chunk2" {
		t.Errorf("got body %q, want %q", data, "chunk1chunk2")
	}
	if trailers.Get("Grpc-Status") != "0" {
		t.Errorf("got trailers %v, want grpc-status 0", trailers)
	}
	if trailers.Get("X-Extra") != "extra" {
		t.Errorf("prefixed trailer missing from %v", trailers)
	}
	if _, ok := trailers["Grpc-Message"]; ok {
		t.Error("declared but unset trailer must be omitted")
	}
}

func TestFromHandlerDefaultsStatus(t *testing.T) {
	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})

	resp, err := call(t, h, newRequest(http.MethodGet, "/", nil))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Head.Status != http.StatusOK {
		t.Errorf("got status %d, want %d", resp.Head.Status, http.StatusOK)
	}
	data, trailers, err := service.ReadAll(context.Background(), resp.Body)
	if err != nil || len(data) != 0 || trailers != nil {
		t.Errorf("expected empty body, got data=%q trailers=%v err=%v", data, trailers, err)
	}
}

func TestFromHandlerPassesRequest(t *testing.T) {
	var gotPath, gotHeader, gotBody string
	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotHeader = r.Header.Get("X-Request-Id")
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		w.WriteHeader(http.StatusNoContent)
	})

	req := newRequest(http.MethodPost, "/svc/Method", io.NopCloser(strings.NewReader("payload")))
	req.Head.Header.Set("X-Request-Id", "abc")

	resp, err := call(t, h, req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, _, err := service.ReadAll(context.Background(), resp.Body); err != nil {
		t.Fatalf("reading body: %v", err)
	}

	if gotPath != "/svc/Method" || gotHeader != "abc" || gotBody != "payload" {
		t.Errorf("got path=%q header=%q body=%q", gotPath, gotHeader, gotBody)
	}
	if resp.Head.Status != http.StatusNoContent {
		t.Errorf("got status %d, want %d", resp.Head.Status, http.StatusNoContent)
	}
}

func TestFromHandlerPreservesProtocol(t *testing.T) {
	var major int
	var host string
	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		major = r.ProtoMajor
		host = r.Host
	})

	orig := httptest.NewRequest(http.MethodPost, "/svc/Method", nil)
	orig.Proto, orig.ProtoMajor, orig.ProtoMinor = "HTTP/2.0", 2, 0
	orig.Host = "rpc.internal"

	ctx := WithHTTPRequest(context.Background(), orig)
	if _, err := service.Await(ctx, FromHandler(h).Call(ctx, newRequest(http.MethodPost, "/svc/Method", nil))); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if major != 2 || host != "rpc.internal" {
		t.Errorf("got proto major %d host %q, want 2 and rpc.internal", major, host)
	}
}

func TestFromHandlerPanic(t *testing.T) {
	t.Run("before head", func(t *testing.T) {
		h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			panic("kaboom")
		})
		_, err := call(t, h, newRequest(http.MethodGet, "/", nil))
		if !errors.IsInternalError(err) {
			t.Errorf("expected internal error, got %v", err)
		}
	})

	t.Run("after head", func(t *testing.T) {
		h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = io.WriteString(w, "partial")
			panic("kaboom")
		})
		resp, err := call(t, h, newRequest(http.MethodGet, "/", nil))
		if err != nil {
			t.Fatalf("head should resolve before the panic, got %v", err)
		}
		data, _, err := service.ReadAll(context.Background(), resp.Body)
		if string(data) != "partial" {
			t.Errorf("got body %q, want %q", data, "partial")
		}
		if !errors.IsInternalError(err) {
			t.Errorf("expected body to end with an internal error, got %v", err)
		}
	})
}

func TestRoundTrip(t *testing.T) {
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Trailer", "X-Checksum")
		_, _ = io.WriteString(w, "echo:"+r.URL.Path)
		w.Header().Set("X-Checksum", "ok")
	})

	srv := httptest.NewServer(Handler(FromHandler(inner)))
	defer srv.Close()

	res, err := http.Get(srv.URL + "/ping")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer res.Body.Close()
	body, _ := io.ReadAll(res.Body)

	if string(body) != "echo:/ping" {
		t.Errorf("got body %q, want %q", body, "echo:/ping")
	}
	if res.Trailer.Get("X-Checksum") != "ok" {
		t.Errorf("got trailers %v, want X-Checksum ok", res.Trailer)
	}
}
