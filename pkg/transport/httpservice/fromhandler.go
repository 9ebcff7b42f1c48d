package httpservice

import (
	"context"
	"fmt"
	"net/http"
	"net/textproto"
	"strings"
	"sync"

	"github.com/mcncl/rpc-middleware/pkg/errors"
	"github.com/mcncl/rpc-middleware/pkg/service"
)

// FromHandler exposes h as a service.Service.
//
// The call resolves as soon as h writes its response head, and the body
// streams afterwards. Trailers announced through the Trailer header or set
// with the http.TrailerPrefix convention are delivered as a final trailers
// frame. When the request context carries the originating *http.Request,
// its protocol version, host, and TLS state are preserved so that handlers
// such as *grpc.Server accept the request.
func FromHandler(h http.Handler, opts ...Option) service.Service {
	o := newOptions(opts)
	return &handlerService{h: h, opts: o}
}

type handlerService struct {
	h    http.Handler
	opts options
}

func (s *handlerService) Call(ctx context.Context, req *service.Request) service.Future {
	httpReq, err := s.newRequest(ctx, req)
	if err != nil {
		return service.Resolved(nil, err)
	}

	stream, body := service.NewStream(s.opts.streamBuffer)
	w := &responseWriter{
		ctx:    ctx,
		header: http.Header{},
		stream: stream,
		fut:    &headFuture{ready: make(chan struct{})},
		body:   body,
	}

	go s.serve(w, httpReq)
	return w.fut
}

func (s *handlerService) serve(w *responseWriter, r *http.Request) {
	defer func() {
		if p := recover(); p != nil {
			if p != http.ErrAbortHandler {
				s.opts.logger.Error("Handler panicked",
					"path", r.URL.Path,
					"panic", fmt.Sprint(p),
				)
			}
			w.fail(errors.NewInternalError(fmt.Sprintf("handler panicked: %v", p)))
		}
	}()

	s.h.ServeHTTP(w, r)
	w.finish()
}

func (s *handlerService) newRequest(ctx context.Context, req *service.Request) (*http.Request, error) {
	body := req.Body
	if body == nil {
		body = http.NoBody
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Head.Method, req.Head.Path, body)
	if err != nil {
		return nil, errors.Wrap(err, "failed to build request")
	}
	if req.Head.Header != nil {
		httpReq.Header = req.Head.Header
	}
	httpReq.RemoteAddr = req.Head.RemoteAddr

	if orig, ok := HTTPRequest(ctx); ok {
		httpReq.Proto = orig.Proto
		httpReq.ProtoMajor = orig.ProtoMajor
		httpReq.ProtoMinor = orig.ProtoMinor
		httpReq.Host = orig.Host
		httpReq.TLS = orig.TLS
		httpReq.ContentLength = orig.ContentLength
		httpReq.TransferEncoding = orig.TransferEncoding
		httpReq.Trailer = orig.Trailer
		httpReq.RequestURI = orig.RequestURI
		u := *orig.URL
		u.Path = req.Head.Path
		u.RawPath = ""
		httpReq.URL = &u
	}
	return httpReq, nil
}

// headFuture resolves once the response head is known or the handler fails.
type headFuture struct {
	once  sync.Once
	ready chan struct{}
	res   service.Result
}

func (f *headFuture) resolve(res service.Result) {
	f.once.Do(func() {
		f.res = res
		close(f.ready)
	})
}

func (f *headFuture) Poll() (service.Result, bool) {
	select {
	case <-f.ready:
		return f.res, true
	default:
		return service.Result{}, false
	}
}

func (f *headFuture) Ready() <-chan struct{} { return f.ready }

// responseWriter turns http.ResponseWriter calls into a streamed response.
type responseWriter struct {
	ctx    context.Context
	header http.Header
	stream *service.StreamWriter
	body   service.Body
	fut    *headFuture

	mu          sync.Mutex
	wroteHeader bool
	declared    []string
}

func (w *responseWriter) Header() http.Header {
	return w.header
}

func (w *responseWriter) WriteHeader(code int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.writeHeaderLocked(code)
}

func (w *responseWriter) writeHeaderLocked(code int) {
	if w.wroteHeader {
		return
	}
	w.wroteHeader = true

	head := w.header.Clone()
	for _, v := range head.Values("Trailer") {
		for _, k := range strings.Split(v, ",") {
			if k = strings.TrimSpace(k); k != "" {
				w.declared = append(w.declared, textproto.CanonicalMIMEHeaderKey(k))
			}
		}
	}
	head.Del("Trailer")
	for k := range head {
		if strings.HasPrefix(k, http.TrailerPrefix) {
			delete(head, k)
		}
	}

	w.fut.resolve(service.Result{Response: &service.Response{
		Head: service.ResponseHead{Status: code, Header: head},
		Body: w.body,
	}})
}

func (w *responseWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	w.writeHeaderLocked(http.StatusOK)
	w.mu.Unlock()

	if err := w.stream.Send(w.ctx, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

// Flush implements http.Flusher. Frames are handed to the reader as they are
// written, so flushing only commits the head.
func (w *responseWriter) Flush() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.writeHeaderLocked(http.StatusOK)
}

func (w *responseWriter) finish() {
	w.mu.Lock()
	w.writeHeaderLocked(http.StatusOK)
	trailers := w.trailersLocked()
	w.mu.Unlock()

	if len(trailers) > 0 {
		_ = w.stream.CloseWithTrailers(trailers)
		return
	}
	_ = w.stream.Close()
}

func (w *responseWriter) trailersLocked() http.Header {
	trailers := http.Header{}
	for _, k := range w.declared {
		if vs := w.header.Values(k); len(vs) > 0 {
			trailers[k] = vs
		}
	}
	for k, vs := range w.header {
		if strings.HasPrefix(k, http.TrailerPrefix) {
			trailers[textproto.CanonicalMIMEHeaderKey(strings.TrimPrefix(k, http.TrailerPrefix))] = vs
		}
	}
	return trailers
}

// fail reports err to the caller. Before the head is written it fails the
// call, afterwards it ends the body with err.
func (w *responseWriter) fail(err error) {
	w.mu.Lock()
	wrote := w.wroteHeader
	w.wroteHeader = true
	w.mu.Unlock()

	if !wrote {
		w.fut.resolve(service.Result{Err: err})
	}
	_ = w.stream.CloseWithError(err)
}
