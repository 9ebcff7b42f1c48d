// Package request provides service layers for request handling.
//
// WithRequestID assigns every call an ID, taken from the X-Request-ID
// header when the client supplies one. The ID is stored in the context,
// forwarded to the inner service in the request header and echoed on the
// response.
//
// Example usage:
//
//	svc := service.Chain(inner, request.WithRequestID)
package request
