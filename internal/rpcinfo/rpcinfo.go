// Package rpcinfo extracts gRPC call details from service heads.
package rpcinfo

import (
	"net/http"
	"strings"

	"github.com/mcncl/rpc-middleware/pkg/service"
)

// StatusUnknown is reported when a response carries no grpc-status.
const StatusUnknown = "unknown"

// SplitMethod splits a "/package.Service/Method" path into its service and
// method names. Paths that do not have that shape return ok=false.
func SplitMethod(path string) (svc, method string, ok bool) {
	path = strings.TrimPrefix(path, "/")
	i := strings.LastIndex(path, "/")
	if i <= 0 || i == len(path)-1 {
		return "", "", false
	}
	return path[:i], path[i+1:], true
}

// GRPCStatus returns the grpc-status of a response. Trailers win because a
// Trailers-Only response carries the status in its head instead.
func GRPCStatus(head *service.ResponseHead, trailers http.Header) string {
	if v := trailers.Get("Grpc-Status"); v != "" {
		return v
	}
	if head != nil {
		if v := head.Header.Get("Grpc-Status"); v != "" {
			return v
		}
	}
	return StatusUnknown
}
