package metrics

import (
	"context"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"github.com/mcncl/rpc-middleware/pkg/middleware/callback"
	"github.com/mcncl/rpc-middleware/pkg/middleware/grpctimeout"
	"github.com/mcncl/rpc-middleware/pkg/service"
)

func newTestMetrics(t *testing.T) *Metrics {
	t.Helper()
	m, err := New(prometheus.NewRegistry())
	if err != nil {
		t.Fatalf("failed to initialize metrics: %v", err)
	}
	return m
}

func run(t *testing.T, m *Metrics, path string, resp *service.Response, err error) {
	t.Helper()

	inner := service.Func(func(ctx context.Context, req *service.Request) service.Future {
		return service.Resolved(resp, err)
	})
	req := &service.Request{Head: service.RequestHead{Method: http.MethodPost, Path: path, Header: http.Header{}}}

	got, callErr := service.Await(context.Background(), callback.New(inner, m).Call(context.Background(), req))
	if callErr != err {
		t.Fatalf("got error %v, want %v", callErr, err)
	}
	if got != nil {
		if _, _, err := service.ReadAll(context.Background(), got.Body); err != nil {
			t.Fatalf("reading body: %v", err)
		}
	}
}

func TestMetricsRecording(t *testing.T) {
	tests := []struct {
		name      string
		path      string
		resp      func() *service.Response
		err       error
		checkFunc func(t *testing.T, m *Metrics)
	}{
		{
			name: "completed call counts by trailer status",
			path: "/pkg.Svc/Get",
			resp: func() *service.Response {
				return service.NewResponse(http.StatusOK, service.Frames(
					service.Frame{Data: make([]byte, 100)},
					service.Frame{Data: make([]byte, 50)},
					service.Frame{Trailers: http.Header{"Grpc-Status": []string{"0"}}},
				))
			},
			checkFunc: func(t *testing.T, m *Metrics) {
				if v := getCounterValue(t, m.RequestsTotal.WithLabelValues("pkg.Svc/Get", "0")); v != 1 {
					t.Errorf("expected RequestsTotal to be 1, got %v", v)
				}
				h := getHistogramValue(t, m.ResponseSizeBytes.WithLabelValues("pkg.Svc/Get"))
				if h.GetSampleCount() != 1 || h.GetSampleSum() != 150 {
					t.Errorf("expected one 150 byte sample, got count=%d sum=%v", h.GetSampleCount(), h.GetSampleSum())
				}
				if d := getHistogramValue(t, m.RequestDuration.WithLabelValues("pkg.Svc/Get")); d.GetSampleCount() != 1 {
					t.Errorf("expected one duration sample, got %d", d.GetSampleCount())
				}
			},
		},
		{
			name: "deadline exceeded response",
			path: "/pkg.Svc/Slow",
			resp: grpctimeout.DeadlineExceeded,
			checkFunc: func(t *testing.T, m *Metrics) {
				if v := getCounterValue(t, m.DeadlineExceededTotal.WithLabelValues("pkg.Svc/Slow")); v != 1 {
					t.Errorf("expected DeadlineExceededTotal to be 1, got %v", v)
				}
				if v := getCounterValue(t, m.RequestsTotal.WithLabelValues("pkg.Svc/Slow", "4")); v != 1 {
					t.Errorf("expected RequestsTotal{grpc_status=4} to be 1, got %v", v)
				}
			},
		},
		{
			name: "failed call",
			path: "/pkg.Svc/Fail",
			err:  fmt.Errorf("boom"),
			checkFunc: func(t *testing.T, m *Metrics) {
				if v := getCounterValue(t, m.ErrorsTotal.WithLabelValues("pkg.Svc/Fail", "Internal")); v != 1 {
					t.Errorf("expected ErrorsTotal to be 1, got %v", v)
				}
			},
		},
		{
			name: "non-grpc path collapses to other",
			path: "/health",
			resp: func() *service.Response { return service.NewResponse(http.StatusOK, nil) },
			checkFunc: func(t *testing.T, m *Metrics) {
				if v := getCounterValue(t, m.RequestsTotal.WithLabelValues("other", "unknown")); v != 1 {
					t.Errorf("expected RequestsTotal{method=other} to be 1, got %v", v)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newTestMetrics(t)
			var resp *service.Response
			if tt.resp != nil {
				resp = tt.resp()
			}
			run(t, m, tt.path, resp, tt.err)
			tt.checkFunc(t, m)
		})
	}
}

func TestRecordPublish(t *testing.T) {
	m := newTestMetrics(t)
	m.RecordPublish(nil, 10*time.Millisecond)
	m.RecordPublish(fmt.Errorf("failed"), 20*time.Millisecond)
	m.RecordPublish(nil, 30*time.Millisecond)

	if v := getCounterValue(t, m.EventsPublishedTotal.WithLabelValues("success")); v != 2 {
		t.Errorf("expected 2 successful publishes, got %v", v)
	}
	if v := getCounterValue(t, m.EventsPublishedTotal.WithLabelValues("error")); v != 1 {
		t.Errorf("expected 1 failed publish, got %v", v)
	}
	if h := getHistogramValue(t, m.EventPublishDuration); h.GetSampleCount() != 3 {
		t.Errorf("expected 3 duration samples, got %d", h.GetSampleCount())
	}
}

func TestRecordCircuitState(t *testing.T) {
	m := newTestMetrics(t)
	states := []string{"closed", "open", "half-open"}

	m.RecordCircuitState("open", states...)
	m.RecordCircuitState("closed", states...)

	for state, want := range map[string]float64{"closed": 1, "open": 0, "half-open": 0} {
		if v := getGaugeValue(t, m.CircuitBreakerState.WithLabelValues(state)); v != want {
			t.Errorf("state %s = %v, want %v", state, v, want)
		}
	}
}

func TestMethodLabel(t *testing.T) {
	tests := map[string]string{
		"/grpc.health.v1.Health/Check": "grpc.health.v1.Health/Check",
		"/metrics":                     "other",
		"":                             "other",
	}
	for path, want := range tests {
		if got := MethodLabel(path); got != want {
			t.Errorf("MethodLabel(%q) = %q, want %q", path, got, want)
		}
	}
}

// Helper function to get counter value
func getCounterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var metric dto.Metric
	if err := c.Write(&metric); err != nil {
		t.Fatalf("Error getting counter value: %v", err)
	}
	return metric.GetCounter().GetValue()
}

// Helper function to get gauge value
func getGaugeValue(t *testing.T, g prometheus.Gauge) float64 {
	t.Helper()
	var metric dto.Metric
	if err := g.Write(&metric); err != nil {
		t.Fatalf("Error getting gauge value: %v", err)
	}
	return metric.GetGauge().GetValue()
}

// Helper function to get histogram value
func getHistogramValue(t *testing.T, h prometheus.Observer) *dto.Histogram {
	t.Helper()
	var metric dto.Metric
	if err := h.(prometheus.Metric).Write(&metric); err != nil {
		t.Fatalf("Error getting histogram value: %v", err)
	}
	return metric.GetHistogram()
}

func TestMetricsInitialization(t *testing.T) {
	tests := []struct {
		name      string
		setupFunc func() prometheus.Registerer
		wantError bool
	}{
		{
			name: "fresh registry initializes successfully",
			setupFunc: func() prometheus.Registerer {
				return prometheus.NewRegistry()
			},
		},
		{
			name: "nil registry fails",
			setupFunc: func() prometheus.Registerer {
				return nil
			},
			wantError: true,
		},
		{
			name: "duplicate registration fails",
			setupFunc: func() prometheus.Registerer {
				reg := prometheus.NewRegistry()
				if _, err := New(reg); err != nil {
					t.Fatalf("first registration failed: %v", err)
				}
				return reg
			},
			wantError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.setupFunc())
			if (err != nil) != tt.wantError {
				t.Errorf("New() error = %v, wantError %v", err, tt.wantError)
			}
		})
	}
}
