// Package metrics records Prometheus metrics for calls through the pipeline.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/mcncl/rpc-middleware/internal/rpcinfo"
	"github.com/mcncl/rpc-middleware/pkg/errors"
	"github.com/mcncl/rpc-middleware/pkg/middleware/callback"
	"github.com/mcncl/rpc-middleware/pkg/service"
)

const namespace = "rpc_middleware"

// Metrics holds the collectors registered by New.
type Metrics struct {
	RequestsTotal         *prometheus.CounterVec
	RequestDuration       *prometheus.HistogramVec
	ResponseSizeBytes     *prometheus.HistogramVec
	ErrorsTotal           *prometheus.CounterVec
	DeadlineExceededTotal *prometheus.CounterVec
	EventsPublishedTotal  *prometheus.CounterVec
	EventPublishDuration  prometheus.Histogram
	CircuitBreakerState   *prometheus.GaugeVec
}

// New registers the pipeline's collectors with reg.
func New(reg prometheus.Registerer) (*Metrics, error) {
	if reg == nil {
		return nil, errors.NewValidationError("registry cannot be nil")
	}

	factory := promauto.With(reg)
	m := &Metrics{}

	var err error
	func() {
		// promauto panics on duplicate registration; report it as an error.
		defer func() {
			if p := recover(); p != nil {
				if e, ok := p.(error); ok {
					err = errors.Wrap(e, "failed to register metrics")
					return
				}
				err = errors.NewInternalError("failed to register metrics")
			}
		}()

		m.RequestsTotal = factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "requests_total",
				Help:      "Total number of completed calls by gRPC status",
			},
			[]string{"method", "grpc_status"},
		)

		m.RequestDuration = factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "request_duration_seconds",
				Help:      "Time from request arrival to the end of the response stream",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method"},
		)

		m.ResponseSizeBytes = factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "response_size_bytes",
				Help:      "Size of response bodies in bytes",
				Buckets:   prometheus.ExponentialBuckets(64, 4, 8),
			},
			[]string{"method"},
		)

		m.ErrorsTotal = factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_total",
				Help:      "Total number of calls that failed before producing a response",
			},
			[]string{"method", "code"},
		)

		m.DeadlineExceededTotal = factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "deadline_exceeded_total",
				Help:      "Total number of calls answered with DEADLINE_EXCEEDED",
			},
			[]string{"method"},
		)

		m.EventsPublishedTotal = factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "events_published_total",
				Help:      "Total number of call events published by outcome",
			},
			[]string{"status"},
		)

		m.EventPublishDuration = factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "event_publish_duration_seconds",
				Help:      "Duration of call event publish operations in seconds",
				Buckets:   prometheus.DefBuckets,
			},
		)

		m.CircuitBreakerState = factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "event_circuit_breaker_state",
				Help:      "1 for the current circuit breaker state, 0 otherwise",
			},
			[]string{"state"},
		)
	}()
	if err != nil {
		return nil, err
	}

	return m, nil
}

// MethodLabel returns the label used for a request path. Paths that are not
// gRPC method paths collapse into "other" to bound cardinality.
func MethodLabel(path string) string {
	svc, method, ok := rpcinfo.SplitMethod(path)
	if !ok {
		return "other"
	}
	return svc + "/" + method
}

// RecordPublish records the outcome of one event publish.
func (m *Metrics) RecordPublish(err error, d time.Duration) {
	status := "success"
	if err != nil {
		status = "error"
	}
	m.EventsPublishedTotal.WithLabelValues(status).Inc()
	m.EventPublishDuration.Observe(d.Seconds())
}

// RecordCircuitState marks state as the current circuit breaker state.
func (m *Metrics) RecordCircuitState(state string, all ...string) {
	for _, s := range all {
		m.CircuitBreakerState.WithLabelValues(s).Set(0)
	}
	m.CircuitBreakerState.WithLabelValues(state).Set(1)
}

// MakeHandler implements callback.MakeHandler.
func (m *Metrics) MakeHandler(head *service.RequestHead) callback.ResponseHandler {
	return &recorder{
		m:      m,
		method: MethodLabel(head.Path),
		start:  time.Now(),
	}
}

type recorder struct {
	m      *Metrics
	method string
	start  time.Time
	head   *service.ResponseHead
	size   int
}

func (r *recorder) OnResponse(head *service.ResponseHead) {
	r.head = head
	if head.Header.Get("Grpc-Status") == "4" {
		r.m.DeadlineExceededTotal.WithLabelValues(r.method).Inc()
	}
}

func (r *recorder) OnError(err error) {
	r.m.ErrorsTotal.WithLabelValues(r.method, errors.Code(err).String()).Inc()
	r.m.RequestDuration.WithLabelValues(r.method).Observe(time.Since(r.start).Seconds())
}

func (r *recorder) OnBodyChunk(chunk []byte) {
	r.size += len(chunk)
}

func (r *recorder) OnEndOfStream(trailers http.Header) {
	r.m.RequestsTotal.WithLabelValues(r.method, rpcinfo.GRPCStatus(r.head, trailers)).Inc()
	r.m.RequestDuration.WithLabelValues(r.method).Observe(time.Since(r.start).Seconds())
	r.m.ResponseSizeBytes.WithLabelValues(r.method).Observe(float64(r.size))
}
