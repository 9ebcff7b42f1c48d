// Package httpservice bridges net/http and the service contract.
//
// Handler serves a service.Service over HTTP, streaming its body frames and
// relaying trailers. FromHandler goes the other way and exposes any
// http.Handler, such as a *grpc.Server, as a service.Service so that the
// middleware stages can wrap it.
package httpservice
