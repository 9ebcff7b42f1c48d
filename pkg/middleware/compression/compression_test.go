package compression

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/klauspost/compress/gzip"

	"github.com/mcncl/rpc-middleware/pkg/errors"
)

func serve(t *testing.T, cfg Config, contentType, body string) *httptest.ResponseRecorder {
	t.Helper()

	mw, err := WithCompression(cfg)
	if err != nil {
		t.Fatalf("WithCompression: %v", err)
	}
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", contentType)
		_, _ = io.WriteString(w, body)
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Accept-Encoding", "gzip")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	return rr
}

func TestCompressesEligibleResponses(t *testing.T) {
	body := strings.Repeat("compressible ", 200)
	rr := serve(t, DefaultConfig(), "text/plain", body)

	if rr.Header().Get("Content-Encoding") != "gzip" {
		t.Fatalf("expected gzip encoding, got %q", rr.Header().Get("Content-Encoding"))
	}

	zr, err := gzip.NewReader(rr.Body)
	if err != nil {
		t.Fatalf("gzip.NewReader: %v", err)
	}
	got, err := io.ReadAll(zr)
	if err != nil {
		t.Fatalf("reading gzip body: %v", err)
	}
	if string(got) != body {
		t.Error("decompressed body does not match")
	}
}

func TestSkipsGRPCResponses(t *testing.T) {
	tests := []string{"application/grpc", "application/grpc+proto"}
	body := strings.Repeat("x", 4096)

	for _, contentType := range tests {
		t.Run(contentType, func(t *testing.T) {
			rr := serve(t, DefaultConfig(), contentType, body)
			if enc := rr.Header().Get("Content-Encoding"); enc != "" {
				t.Errorf("expected no encoding for %s, got %q", contentType, enc)
			}
			if rr.Body.String() != body {
				t.Error("expected body to pass through unchanged")
			}
		})
	}
}

func TestSkipsSmallResponses(t *testing.T) {
	rr := serve(t, Config{MinSize: 1024}, "text/plain", "tiny")
	if enc := rr.Header().Get("Content-Encoding"); enc != "" {
		t.Errorf("expected no encoding below MinSize, got %q", enc)
	}
}

func TestInvalidConfig(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{name: "level too high", cfg: Config{Level: 42}},
		{name: "negative min size", cfg: Config{MinSize: -1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := WithCompression(tt.cfg)
			if !errors.IsValidationError(err) {
				t.Errorf("expected validation error, got %v", err)
			}
		})
	}
}
