// Package compression gzips HTTP responses for clients that accept it.
//
// gRPC framing carries its own per-message compression flag, so responses
// with an application/grpc content type are never gzipped at the HTTP layer.
package compression

import (
	"net/http"

	"github.com/klauspost/compress/gzhttp"
	"github.com/klauspost/compress/gzip"

	"github.com/mcncl/rpc-middleware/pkg/errors"
)

// Config controls response compression.
type Config struct {
	// Level is a gzip compression level from gzip.HuffmanOnly to
	// gzip.BestCompression. Zero selects gzip.DefaultCompression.
	Level int
	// MinSize is the smallest response, in bytes, that is compressed.
	MinSize int
	// ExceptContentTypes are never compressed in addition to application/grpc.
	ExceptContentTypes []string
}

// DefaultConfig returns the configuration used when none is supplied.
func DefaultConfig() Config {
	return Config{
		Level:   gzip.DefaultCompression,
		MinSize: gzhttp.DefaultMinSize,
	}
}

var grpcContentTypes = []string{
	"application/grpc",
	"application/grpc+proto",
	"application/grpc+json",
}

// WithCompression returns middleware that compresses eligible responses.
func WithCompression(cfg Config) (func(http.Handler) http.Handler, error) {
	level := cfg.Level
	if level == 0 {
		level = gzip.DefaultCompression
	}
	if level < gzip.HuffmanOnly || level > gzip.BestCompression {
		return nil, errors.WithDetails(
			errors.NewValidationError("invalid compression level"),
			map[string]interface{}{"level": level},
		)
	}
	if cfg.MinSize < 0 {
		return nil, errors.NewValidationError("compression min size must not be negative")
	}

	except := append(append([]string{}, grpcContentTypes...), cfg.ExceptContentTypes...)

	wrapper, err := gzhttp.NewWrapper(
		gzhttp.CompressionLevel(level),
		gzhttp.MinSize(cfg.MinSize),
		gzhttp.ExceptContentTypes(except),
	)
	if err != nil {
		return nil, errors.Wrap(err, "failed to build compression wrapper")
	}

	return func(next http.Handler) http.Handler {
		return wrapper(next)
	}, nil
}
