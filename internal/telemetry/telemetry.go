package telemetry

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/mcncl/rpc-middleware/internal/rpcinfo"
	"github.com/mcncl/rpc-middleware/pkg/errors"
	"github.com/mcncl/rpc-middleware/pkg/middleware/callback"
	"github.com/mcncl/rpc-middleware/pkg/service"
)

// Provider wraps the OpenTelemetry trace provider and exporter
type Provider struct {
	tp     *sdktrace.TracerProvider
	exp    *otlptrace.Exporter
	config Config
	mu     sync.RWMutex
	isInit bool
}

// Config holds configuration for telemetry setup
type Config struct {
	ServiceName    string
	ServiceVersion string
	Environment    string
	OTLPEndpoint   string
	SamplingRatio  float64
	BatchTimeout   time.Duration
	MaxExportBatch int
	MaxQueueSize   int
}

// DefaultConfig returns a Config with reasonable defaults
func DefaultConfig() Config {
	return Config{
		SamplingRatio:  0.1,
		BatchTimeout:   5 * time.Second,
		MaxExportBatch: 512,
		MaxQueueSize:   2048,
	}
}

// Validate checks if the configuration is valid
func (c Config) Validate() error {
	if c.ServiceName == "" {
		return errors.NewValidationError("service name cannot be empty")
	}
	if c.OTLPEndpoint == "" {
		return errors.NewValidationError("OTLP endpoint cannot be empty")
	}
	if c.SamplingRatio < 0 || c.SamplingRatio > 1 {
		return errors.NewValidationError(fmt.Sprintf("sampling ratio must be between 0 and 1, got %v", c.SamplingRatio))
	}
	return nil
}

// NewProvider creates a new telemetry provider
func NewProvider(cfg Config) (*Provider, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid telemetry config")
	}

	return &Provider{
		config: cfg,
	}, nil
}

// Start initializes the exporter and installs the provider globally.
func (p *Provider) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.isInit {
		return errors.NewInternalError("telemetry provider already initialized")
	}

	client := otlptracegrpc.NewClient(
		otlptracegrpc.WithEndpoint(p.config.OTLPEndpoint),
		otlptracegrpc.WithInsecure(),
	)

	exp, err := otlptrace.New(ctx, client)
	if err != nil {
		return errors.NewConnectionError(fmt.Sprintf("creating OTLP trace exporter: %v", err))
	}
	p.exp = exp

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceNameKey.String(p.config.ServiceName),
			semconv.ServiceVersionKey.String(p.config.ServiceVersion),
			attribute.String("environment", p.config.Environment),
		),
	)
	if err != nil {
		return errors.Wrap(err, "creating resource")
	}

	batchOpts := []sdktrace.BatchSpanProcessorOption{}
	if p.config.BatchTimeout > 0 {
		batchOpts = append(batchOpts, sdktrace.WithBatchTimeout(p.config.BatchTimeout))
	}
	if p.config.MaxExportBatch > 0 {
		batchOpts = append(batchOpts, sdktrace.WithMaxExportBatchSize(p.config.MaxExportBatch))
	}
	if p.config.MaxQueueSize > 0 {
		batchOpts = append(batchOpts, sdktrace.WithMaxQueueSize(p.config.MaxQueueSize))
	}

	p.tp = sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(p.exp, batchOpts...),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(p.config.SamplingRatio))),
	)

	otel.SetTracerProvider(p.tp)
	otel.SetTextMapPropagator(propagation.TraceContext{})
	p.isInit = true

	return nil
}

// TracerProvider returns the SDK provider once Start has succeeded, and the
// global provider otherwise.
func (p *Provider) TracerProvider() trace.TracerProvider {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if !p.isInit {
		return otel.GetTracerProvider()
	}
	return p.tp
}

// Shutdown flushes pending spans and stops the exporter.
func (p *Provider) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.isInit {
		return nil
	}

	var errs []error

	if err := p.tp.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("shutting down trace provider: %w", err))
	}

	if err := p.exp.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("shutting down exporter: %w", err))
	}

	p.isInit = false

	if len(errs) > 0 {
		return errors.NewInternalError(fmt.Sprintf("shutdown errors: %v", errs))
	}
	return nil
}

// Tracer opens one server span per call. The span covers the whole response,
// body included, and ends when the body reaches its end or the call fails.
type Tracer struct {
	tracer     trace.Tracer
	propagator propagation.TextMapPropagator
}

// NewTracer returns a Tracer drawing spans from tp.
func NewTracer(tp trace.TracerProvider, name string) *Tracer {
	return &Tracer{
		tracer:     tp.Tracer(name),
		propagator: propagation.TraceContext{},
	}
}

// MakeHandler implements callback.MakeHandler. An incoming traceparent header
// becomes the parent of the new span, and the header is rewritten so the
// inner service sees the new span as its parent.
func (t *Tracer) MakeHandler(head *service.RequestHead) callback.ResponseHandler {
	if head.Header == nil {
		head.Header = make(http.Header)
	}
	carrier := propagation.HeaderCarrier(head.Header)
	parent := t.propagator.Extract(context.Background(), carrier)

	attrs := []attribute.KeyValue{semconv.RPCSystemGRPC}
	if svc, method, ok := rpcinfo.SplitMethod(head.Path); ok {
		attrs = append(attrs, semconv.RPCService(svc), semconv.RPCMethod(method))
	}

	ctx, span := t.tracer.Start(parent, spanName(head.Path),
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(attrs...),
	)
	t.propagator.Inject(ctx, carrier)

	return &spanHandler{span: span}
}

func spanName(path string) string {
	if len(path) > 1 && path[0] == '/' {
		return path[1:]
	}
	if path == "" {
		return "rpc"
	}
	return path
}

type spanHandler struct {
	span trace.Span
	head *service.ResponseHead
	size int
}

func (h *spanHandler) OnResponse(head *service.ResponseHead) {
	h.head = head
	h.span.SetAttributes(semconv.HTTPResponseStatusCode(head.Status))
}

func (h *spanHandler) OnError(err error) {
	h.span.RecordError(err)
	h.span.SetStatus(codes.Error, err.Error())
	h.span.SetAttributes(semconv.RPCGRPCStatusCodeKey.Int(int(errors.Code(err))))
	h.span.End()
}

func (h *spanHandler) OnBodyChunk(chunk []byte) {
	h.size += len(chunk)
}

func (h *spanHandler) OnEndOfStream(trailers http.Header) {
	h.span.SetAttributes(attribute.Int("rpc.response.size", h.size))
	if code, err := strconv.Atoi(rpcinfo.GRPCStatus(h.head, trailers)); err == nil {
		h.span.SetAttributes(semconv.RPCGRPCStatusCodeKey.Int(code))
		if code != 0 {
			h.span.SetStatus(codes.Error, "grpc-status "+strconv.Itoa(code))
		}
	}
	h.span.End()
}
