package httpservice

import (
	"context"
	"net/http"
)

type requestKey struct{}

// WithHTTPRequest stores the originating *http.Request in ctx.
func WithHTTPRequest(ctx context.Context, r *http.Request) context.Context {
	return context.WithValue(ctx, requestKey{}, r)
}

// HTTPRequest returns the *http.Request stored by Handler, if any.
func HTTPRequest(ctx context.Context) (*http.Request, bool) {
	r, ok := ctx.Value(requestKey{}).(*http.Request)
	return r, ok && r != nil
}
