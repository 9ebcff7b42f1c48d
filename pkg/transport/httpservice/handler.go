package httpservice

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/mcncl/rpc-middleware/pkg/errors"
	"github.com/mcncl/rpc-middleware/pkg/service"
)

// Handler serves svc over HTTP.
//
// Each request is converted into a service.Request and the returned future
// is driven with service.Await. Body frames are written and flushed as they
// arrive and trailers frames become HTTP trailers. A service error is
// rendered as a gRPC Trailers-Only response for gRPC callers and as the
// matching HTTP status for everyone else.
func Handler(svc service.Service, opts ...Option) http.Handler {
	o := newOptions(opts)
	return &handler{svc: svc, logger: o.logger}
}

type handler struct {
	svc    service.Service
	logger *slog.Logger
}

func (h *handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := WithHTTPRequest(r.Context(), r)
	req := &service.Request{
		Head: service.RequestHead{
			Method:     r.Method,
			Path:       r.URL.Path,
			Header:     r.Header,
			RemoteAddr: r.RemoteAddr,
		},
		Body: r.Body,
	}

	resp, err := service.Await(ctx, h.svc.Call(ctx, req))
	if err != nil {
		h.renderError(ctx, w, r, err)
		return
	}
	h.writeResponse(ctx, w, resp)
}

func (h *handler) writeResponse(ctx context.Context, w http.ResponseWriter, resp *service.Response) {
	if c, ok := resp.Body.(io.Closer); ok {
		defer c.Close()
	}

	header := w.Header()
	for k, vs := range resp.Head.Header {
		header[k] = vs
	}
	w.WriteHeader(resp.Head.Status)

	flusher, _ := w.(http.Flusher)
	for {
		f, err := resp.Body.Next(ctx)
		if err == io.EOF {
			return
		}
		if err != nil {
			h.logger.Error("Response body failed mid-stream",
				"error", err,
			)
			// Headers are already on the wire, so the only way to signal
			// failure is to abort the connection.
			panic(http.ErrAbortHandler)
		}

		if f.IsTrailers() {
			for k, vs := range f.Trailers {
				header[http.TrailerPrefix+k] = vs
			}
			continue
		}

		if len(f.Data) == 0 {
			continue
		}
		if _, err := w.Write(f.Data); err != nil {
			h.logger.Debug("Client went away while writing response",
				"error", err,
			)
			return
		}
		if flusher != nil {
			flusher.Flush()
		}
	}
}

func (h *handler) renderError(ctx context.Context, w http.ResponseWriter, r *http.Request, err error) {
	st := statusFromError(err)

	h.logger.Warn("Service call failed",
		"path", r.URL.Path,
		"code", st.Code().String(),
		"error", err,
	)

	if isGRPCRequest(r) {
		header := w.Header()
		header.Set("Content-Type", "application/grpc")
		header.Set("Grpc-Status", strconv.Itoa(int(st.Code())))
		if msg := st.Message(); msg != "" {
			header.Set("Grpc-Message", encodeGRPCMessage(msg))
		}
		w.WriteHeader(http.StatusOK)
		return
	}

	if (st.Code() == codes.Canceled || st.Code() == codes.DeadlineExceeded) && r.Context().Err() != nil {
		http.Error(w, "Client Closed Request", statusClientClosedRequest)
		return
	}
	code := httpStatusFromCode(st.Code())
	msg := http.StatusText(code)
	if msg == "" {
		msg = st.Code().String()
	}
	http.Error(w, msg, code)
}

func statusFromError(err error) *status.Status {
	if st, ok := status.FromError(err); ok {
		return st
	}
	return status.New(errors.Code(err), err.Error())
}

func isGRPCRequest(r *http.Request) bool {
	return strings.HasPrefix(r.Header.Get("Content-Type"), "application/grpc")
}
