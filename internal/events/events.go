// Package events publishes one completion event per RPC to a message broker.
package events

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/mcncl/rpc-middleware/internal/logging"
	"github.com/mcncl/rpc-middleware/internal/middleware/request"
	"github.com/mcncl/rpc-middleware/internal/publisher"
	"github.com/mcncl/rpc-middleware/internal/rpcinfo"
	"github.com/mcncl/rpc-middleware/pkg/errors"
	"github.com/mcncl/rpc-middleware/pkg/middleware/callback"
	"github.com/mcncl/rpc-middleware/pkg/service"
)

// EventType is carried in the "event" message attribute.
const EventType = "rpc.call"

// CallEvent describes one finished call.
type CallEvent struct {
	RequestID  string    `json:"request_id,omitempty"`
	Method     string    `json:"method"`
	Path       string    `json:"path"`
	Status     int       `json:"status,omitempty"`
	GRPCStatus string    `json:"grpc_status"`
	DurationMS int64     `json:"duration_ms"`
	Bytes      int       `json:"bytes"`
	Error      string    `json:"error,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// PublishRecorder observes publish outcomes.
type PublishRecorder interface {
	RecordPublish(err error, d time.Duration)
}

// Option configures an Emitter.
type Option func(*Emitter)

// WithLogger sets the logger used for publish failures.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Emitter) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithRecorder reports every publish attempt to r.
func WithRecorder(r PublishRecorder) Option {
	return func(e *Emitter) { e.recorder = r }
}

// WithPublishTimeout bounds each publish. Zero keeps the default.
func WithPublishTimeout(d time.Duration) Option {
	return func(e *Emitter) {
		if d > 0 {
			e.timeout = d
		}
	}
}

// WithMaxInFlight caps concurrent publishes. Events beyond the cap are
// dropped and logged.
func WithMaxInFlight(n int) Option {
	return func(e *Emitter) {
		if n > 0 {
			e.slots = make(chan struct{}, n)
		}
	}
}

// Emitter is a callback.MakeHandler that turns finished calls into
// CallEvents. Publishing happens on its own goroutine and never delays the
// response.
type Emitter struct {
	pub      publisher.Publisher
	logger   *slog.Logger
	recorder PublishRecorder
	timeout  time.Duration
	slots    chan struct{}
	now      func() time.Time

	wg     sync.WaitGroup
	mu     sync.RWMutex
	closed bool
}

// New returns an Emitter publishing through pub.
func New(pub publisher.Publisher, opts ...Option) *Emitter {
	e := &Emitter{
		pub:     pub,
		logger:  logging.Discard(),
		timeout: 5 * time.Second,
		slots:   make(chan struct{}, 64),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// MakeHandler implements callback.MakeHandler.
func (e *Emitter) MakeHandler(head *service.RequestHead) callback.ResponseHandler {
	return &callEvent{
		e:     e,
		start: e.now(),
		event: CallEvent{
			RequestID: head.Header.Get(request.RequestIDHeader),
			Method:    head.Method,
			Path:      head.Path,
		},
	}
}

// Close waits for in-flight publishes, or for ctx to end, then closes the
// publisher. Events finishing after Close are dropped.
func (e *Emitter) Close(ctx context.Context) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	e.mu.Unlock()

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		e.logger.Warn("Timed out waiting for event publishes", "error", ctx.Err())
	}
	return e.pub.Close()
}

func (e *Emitter) emit(ev CallEvent) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return
	}

	select {
	case e.slots <- struct{}{}:
	default:
		e.logger.Warn("Dropping call event, too many publishes in flight",
			"method", ev.Method,
			"request_id", ev.RequestID,
		)
		return
	}

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		defer func() { <-e.slots }()
		e.publish(ev)
	}()
}

func (e *Emitter) publish(ev CallEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), e.timeout)
	defer cancel()

	attrs := map[string]string{
		"event":       EventType,
		"method":      ev.Method,
		"grpc_status": ev.GRPCStatus,
	}
	if ev.RequestID != "" {
		attrs["request_id"] = ev.RequestID
	}

	start := time.Now()
	msgID, err := e.pub.Publish(ctx, ev, attrs)
	if e.recorder != nil {
		e.recorder.RecordPublish(err, time.Since(start))
	}
	if err != nil {
		e.logger.Error("Failed to publish call event",
			"error", err,
			"method", ev.Method,
			"request_id", ev.RequestID,
			"retryable", errors.IsRetryable(err),
		)
		return
	}
	e.logger.Debug("Published call event",
		"message_id", msgID,
		"method", ev.Method,
		"request_id", ev.RequestID,
	)
}

type callEvent struct {
	e     *Emitter
	start time.Time
	head  *service.ResponseHead
	event CallEvent
}

func (c *callEvent) OnResponse(head *service.ResponseHead) {
	c.head = head
	c.event.Status = head.Status
}

func (c *callEvent) OnError(err error) {
	c.event.Error = err.Error()
	c.event.GRPCStatus = strconv.Itoa(int(errors.Code(err)))
	c.finish()
}

func (c *callEvent) OnBodyChunk(chunk []byte) {
	c.event.Bytes += len(chunk)
}

func (c *callEvent) OnEndOfStream(trailers http.Header) {
	c.event.GRPCStatus = rpcinfo.GRPCStatus(c.head, trailers)
	if msg := trailers.Get("Grpc-Message"); msg != "" {
		c.event.Error = msg
	} else if c.head != nil {
		c.event.Error = c.head.Header.Get("Grpc-Message")
	}
	c.finish()
}

func (c *callEvent) finish() {
	end := c.e.now()
	c.event.DurationMS = end.Sub(c.start).Milliseconds()
	c.event.Timestamp = end.UTC()
	c.e.emit(c.event)
}
