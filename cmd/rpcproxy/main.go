package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	grpchealth "google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/mcncl/rpc-middleware/internal/config"
	"github.com/mcncl/rpc-middleware/internal/events"
	"github.com/mcncl/rpc-middleware/internal/logging"
	"github.com/mcncl/rpc-middleware/internal/metrics"
	loggingMiddleware "github.com/mcncl/rpc-middleware/internal/middleware/logging"
	"github.com/mcncl/rpc-middleware/internal/middleware/request"
	"github.com/mcncl/rpc-middleware/internal/publisher"
	"github.com/mcncl/rpc-middleware/internal/telemetry"
	"github.com/mcncl/rpc-middleware/pkg/errors"
	"github.com/mcncl/rpc-middleware/pkg/health"
	"github.com/mcncl/rpc-middleware/pkg/middleware/callback"
	"github.com/mcncl/rpc-middleware/pkg/middleware/compression"
	"github.com/mcncl/rpc-middleware/pkg/middleware/grpctimeout"
	"github.com/mcncl/rpc-middleware/pkg/service"
	"github.com/mcncl/rpc-middleware/pkg/transport/httpservice"
)

func main() {
	configFile := flag.String("config", "", "Path to configuration file (JSON or YAML)")
	logLevel := flag.String("log-level", "", "Log level (debug, info, warn, error)")
	logFormat := flag.String("log-format", "", "Log format (json, text, dev)")
	flag.Parse()

	// Flags win over every other source.
	override := &config.Config{Logging: config.LoggingConfig{Level: *logLevel, Format: *logFormat}}
	cfg, err := config.Load(*configFile, override)
	if err != nil {
		logging.NewLogger("info", "json").Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger := logging.NewLogger(cfg.Logging.Level, cfg.Logging.Format)
	logger.Info("Configuration loaded", "config", cfg.String())

	if err := run(cfg, logger); err != nil {
		logger.Error("Server error", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx := context.Background()

	var pub publisher.Publisher
	if cfg.Events.Enabled {
		var opts []option.ClientOption
		if cfg.Events.CredentialsFile != "" {
			opts = append(opts, option.WithCredentialsFile(cfg.Events.CredentialsFile))
		}
		ps, err := publisher.NewPubSubPublisher(ctx, cfg.Events.ProjectID, cfg.Events.TopicID, opts...)
		if err != nil {
			return errors.WithDetails(errors.Wrap(err, "failed to create publisher"), map[string]interface{}{
				"project_id": cfg.Events.ProjectID,
				"topic_id":   cfg.Events.TopicID,
			})
		}
		pub = ps
	}

	a, err := newApp(ctx, cfg, logger, pub)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:        fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:     a.handler,
		ReadTimeout: cfg.Server.ReadTimeout,
		// WriteTimeout of zero keeps long-lived streams open.
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("Server starting", "port", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != http.ErrServerClosed {
			serverErr <- err
		}
		close(serverErr)
	}()

	a.health.SetReady(true)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	var runErr error
	select {
	case sig := <-sigChan:
		logger.Info("Shutting down server", "signal", sig.String())
	case err := <-serverErr:
		runErr = errors.NewConnectionError(fmt.Sprintf("http server: %v", err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	a.health.SetReady(false)
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", "error", err)
	}
	a.shutdown(shutdownCtx)

	logger.Info("Server shutdown complete")
	return runErr
}

// app holds every long-lived component behind the HTTP edge.
type app struct {
	logger   *slog.Logger
	registry *prometheus.Registry
	health   *health.HealthCheck
	grpc     *grpc.Server
	tracing  *telemetry.Provider
	emitter  *events.Emitter
	handler  http.Handler
}

// newApp assembles the pipeline. pub may be nil, in which case call events
// are not published.
func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger, pub publisher.Publisher) (*app, error) {
	a := &app{
		logger:   logger,
		registry: prometheus.NewRegistry(),
	}

	healthSrv := grpchealth.NewServer()
	a.grpc = grpc.NewServer()
	healthpb.RegisterHealthServer(a.grpc, healthSrv)
	a.health = health.NewHealthCheck(healthSrv, healthpb.Health_ServiceDesc.ServiceName)

	var makers []callback.MakeHandler

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		var err error
		if m, err = metrics.New(a.registry); err != nil {
			return nil, errors.Wrap(err, "failed to initialize metrics")
		}
		makers = append(makers, m)
	}

	if cfg.Tracing.Enabled {
		tcfg := telemetry.DefaultConfig()
		tcfg.ServiceName = cfg.Tracing.ServiceName
		tcfg.OTLPEndpoint = cfg.Tracing.OTLPEndpoint
		tcfg.SamplingRatio = cfg.Tracing.SamplingRatio
		provider, err := telemetry.NewProvider(tcfg)
		if err != nil {
			return nil, err
		}
		if err := provider.Start(ctx); err != nil {
			return nil, errors.Wrap(err, "failed to start tracing")
		}
		a.tracing = provider
		makers = append(makers, telemetry.NewTracer(provider.TracerProvider(), cfg.Tracing.ServiceName))
	}

	if pub != nil {
		cb := publisher.NewCircuitBreaker(pub, publisher.CircuitBreakerConfig{
			FailureThreshold: cfg.Events.BreakerThreshold,
			Timeout:          cfg.Events.BreakerTimeout,
		})
		cb.SetOnStateChange(func(from, to publisher.CircuitState) {
			logger.Warn("Event publisher circuit changed state", "from", from.String(), "to", to.String())
			if m != nil {
				m.RecordCircuitState(to.String(), circuitStates()...)
			}
		})
		if m != nil {
			m.RecordCircuitState(publisher.StateClosed.String(), circuitStates()...)
		}

		opts := []events.Option{
			events.WithLogger(logger),
			events.WithPublishTimeout(cfg.Events.PublishTimeout),
		}
		if m != nil {
			opts = append(opts, events.WithRecorder(m))
		}
		a.emitter = events.New(cb, opts...)
		makers = append(makers, a.emitter)
	}

	timeoutOpts := []grpctimeout.Option{grpctimeout.WithLogger(logger)}
	if cfg.Deadline.ServerTimeout > 0 {
		timeoutOpts = append(timeoutOpts, grpctimeout.WithServerTimeout(cfg.Deadline.ServerTimeout))
	}

	layers := []service.Layer{
		request.WithRequestID,
		loggingMiddleware.WithStructuredLogging(logger),
	}
	if len(makers) > 0 {
		layers = append(layers, callback.NewLayer(callback.Multi(makers...)))
	}
	layers = append(layers, grpctimeout.NewLayer(timeoutOpts...))

	inner := httpservice.FromHandler(a.grpc, httpservice.WithLogger(logger))
	svc := service.Chain(inner, layers...)

	mux := http.NewServeMux()
	mux.Handle("/", httpservice.Handler(svc, httpservice.WithLogger(logger)))
	mux.HandleFunc("/health", a.health.HealthHandler)
	mux.HandleFunc("/ready", a.health.ReadyHandler)
	if cfg.Metrics.Enabled {
		mux.Handle(cfg.Metrics.Path, promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{}))
	}

	var h http.Handler = mux
	if cfg.Compression.Enabled {
		compress, err := compression.WithCompression(compression.Config{
			Level:   cfg.Compression.Level,
			MinSize: cfg.Compression.MinSize,
		})
		if err != nil {
			return nil, err
		}
		h = compress(h)
	}

	// gRPC clients speak HTTP/2 with prior knowledge over cleartext.
	a.handler = h2c.NewHandler(h, &http2.Server{})
	return a, nil
}

func circuitStates() []string {
	out := make([]string, 0, len(publisher.States))
	for _, s := range publisher.States {
		out = append(out, s.String())
	}
	return out
}

// shutdown stops the inner server and flushes telemetry and events.
func (a *app) shutdown(ctx context.Context) {
	a.grpc.Stop()

	if a.emitter != nil {
		if err := a.emitter.Close(ctx); err != nil {
			a.logger.Error("Event publisher shutdown error", "error", err)
		}
	}
	if a.tracing != nil {
		if err := a.tracing.Shutdown(ctx); err != nil {
			a.logger.Error("Tracing shutdown error", "error", err)
		}
	}
}
