package httpservice

import (
	"io"
	"log/slog"
)

const defaultStreamBuffer = 16

// Option configures Handler and FromHandler.
type Option func(*options)

type options struct {
	logger       *slog.Logger
	streamBuffer int
}

// WithLogger sets the logger used for transport failures.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithStreamBuffer sets how many body frames FromHandler queues before the
// wrapped handler blocks on Write.
func WithStreamBuffer(n int) Option {
	return func(o *options) {
		o.streamBuffer = n
	}
}

func newOptions(opts []Option) options {
	o := options{streamBuffer: defaultStreamBuffer}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if o.streamBuffer < 0 {
		o.streamBuffer = 0
	}
	return o
}
