// Package logging logs the lifecycle of each call through a service.
package logging

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/mcncl/rpc-middleware/internal/middleware/request"
	"github.com/mcncl/rpc-middleware/internal/rpcinfo"
	"github.com/mcncl/rpc-middleware/pkg/middleware/callback"
	"github.com/mcncl/rpc-middleware/pkg/service"
)

// WithStructuredLogging adds structured logging to the request/response cycle.
// A call is logged when it starts and again when its response stream ends or
// it fails.
func WithStructuredLogging(logger *slog.Logger) service.Layer {
	return func(next service.Service) service.Service {
		return service.Func(func(ctx context.Context, req *service.Request) service.Future {
			requestID := request.IDFromContext(ctx)
			if requestID == "" {
				requestID = "unknown"
			}

			l := logger.With(
				"method", req.Head.Method,
				"path", req.Head.Path,
				"request_id", requestID,
			)
			l.Info("Request started",
				"remote_addr", req.Head.RemoteAddr,
				"grpc_timeout", req.Head.Header.Get("Grpc-Timeout"),
			)

			mk := callback.MakeHandlerFunc(func(*service.RequestHead) callback.ResponseHandler {
				return &callLogger{logger: l, start: time.Now()}
			})
			return callback.New(next, mk).Call(ctx, req)
		})
	}
}

type callLogger struct {
	logger *slog.Logger
	start  time.Time
	head   *service.ResponseHead
	size   int
}

func (c *callLogger) OnResponse(head *service.ResponseHead) {
	c.head = head
}

func (c *callLogger) OnError(err error) {
	c.logger.Error("Request failed",
		"error", err,
		"duration_ms", time.Since(c.start).Milliseconds(),
	)
}

func (c *callLogger) OnBodyChunk(chunk []byte) {
	c.size += len(chunk)
}

func (c *callLogger) OnEndOfStream(trailers http.Header) {
	c.logger.Info("Request completed",
		"status", c.head.Status,
		"grpc_status", rpcinfo.GRPCStatus(c.head, trailers),
		"duration_ms", time.Since(c.start).Milliseconds(),
		"size", c.size,
	)
}
