// Package grpctimeout enforces gRPC deadlines on a service.
//
// Each request's effective timeout is the stricter of the client's
// grpc-timeout header and the optional server ceiling. The inner call is
// raced against a timer armed for that duration. If the timer fires first the
// inner call is abandoned and a Trailers-Only style DEADLINE_EXCEEDED
// response is returned instead. Inner errors pass through untouched.
package grpctimeout

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"google.golang.org/grpc/codes"

	"github.com/mcncl/rpc-middleware/pkg/errors"
	"github.com/mcncl/rpc-middleware/pkg/service"
)

const (
	HeaderTimeout     = "Grpc-Timeout"
	HeaderStatus      = "Grpc-Status"
	HeaderMessage     = "Grpc-Message"
	HeaderContentType = "Content-Type"

	ContentTypeGRPC = "application/grpc"

	// DeadlineExceededMessage is percent-encoded as grpc-message requires.
	DeadlineExceededMessage = "Timeout%20expired"
)

// Option configures the timeout stage.
type Option func(*options)

type options struct {
	serverTimeout *time.Duration
	logger        *slog.Logger
}

// WithServerTimeout sets a ceiling that applies to every request, whether or
// not the client declared a deadline.
func WithServerTimeout(d time.Duration) Option {
	return func(o *options) {
		o.serverTimeout = &d
	}
}

// WithLogger sets the logger used to report malformed grpc-timeout headers.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// Timeout is a service that enforces gRPC deadlines on its inner service.
type Timeout struct {
	inner         service.Service
	serverTimeout *time.Duration
	logger        *slog.Logger
}

// New wraps inner with deadline enforcement.
func New(inner service.Service, opts ...Option) *Timeout {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Timeout{
		inner:         inner,
		serverTimeout: o.serverTimeout,
		logger:        o.logger,
	}
}

// NewLayer returns a layer that applies New with the given options.
func NewLayer(opts ...Option) service.Layer {
	return func(inner service.Service) service.Service {
		return New(inner, opts...)
	}
}

// Call implements service.Service.
func (t *Timeout) Call(ctx context.Context, req *service.Request) service.Future {
	clientTimeout, err := ParseTimeout(req.Head.Header)
	if err != nil {
		t.logger.Debug("Ignoring grpc-timeout header",
			"path", req.Head.Path,
			"error", err,
		)
		clientTimeout = nil
	}

	f := &ResponseFuture{inner: t.inner.Call(ctx, req)}
	if d := Reconcile(clientTimeout, t.serverTimeout); d != nil {
		f.arm(*d)
	}
	return f
}

type raceState int

const (
	stateRacing raceState = iota
	stateDelivered
	stateExpired
)

// ResponseFuture races the inner future against the deadline timer.
type ResponseFuture struct {
	inner service.Future
	state raceState

	// expired is nil when no deadline applies.
	expired chan struct{}
	timer   *time.Timer

	readyOnce sync.Once
	ready     chan struct{}
}

func (f *ResponseFuture) arm(d time.Duration) {
	f.expired = make(chan struct{})
	f.timer = time.AfterFunc(d, func() { close(f.expired) })
}

// Poll implements service.Future. The inner future is polled first, so a
// response that is ready when the timer fires still wins.
func (f *ResponseFuture) Poll() (service.Result, bool) {
	if f.state != stateRacing {
		return service.Result{Err: errors.ErrPolledAfterCompletion}, true
	}

	if res, ok := f.inner.Poll(); ok {
		f.state = stateDelivered
		if f.timer != nil {
			f.timer.Stop()
		}
		return res, true
	}

	if f.expired == nil {
		return service.Result{}, false
	}

	select {
	case <-f.expired:
		f.state = stateExpired
		f.inner = nil
		return service.Result{Response: DeadlineExceeded()}, true
	default:
		return service.Result{}, false
	}
}

// Ready implements service.Future.
func (f *ResponseFuture) Ready() <-chan struct{} {
	if f.state != stateRacing {
		return service.Closed()
	}
	if f.expired == nil {
		return f.inner.Ready()
	}

	f.readyOnce.Do(func() {
		f.ready = make(chan struct{})
		innerReady := f.inner.Ready()
		go func() {
			select {
			case <-innerReady:
			case <-f.expired:
			}
			close(f.ready)
		}()
	})
	return f.ready
}

// DeadlineExceeded builds the response sent when a deadline expires before
// the inner service answers.
func DeadlineExceeded() *service.Response {
	resp := service.NewResponse(http.StatusOK, service.Empty())
	resp.Head.Header.Set(HeaderContentType, ContentTypeGRPC)
	resp.Head.Header.Set(HeaderStatus, strconv.Itoa(int(codes.DeadlineExceeded)))
	resp.Head.Header.Set(HeaderMessage, DeadlineExceededMessage)
	return resp
}
