package grpctimeout

import (
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/mcncl/rpc-middleware/pkg/errors"
)

// maxTimeoutDigits bounds TimeoutValue as the gRPC over HTTP/2 protocol
// requires.
const maxTimeoutDigits = 8

// ParseTimeout reads the grpc-timeout header from h. It returns nil, nil when
// the header is absent and a *errors.MalformedTimeoutError when it is present
// but invalid.
//
// See https://github.com/grpc/grpc/blob/master/doc/PROTOCOL-HTTP2.md
func ParseTimeout(h http.Header) (*time.Duration, error) {
	vals := h.Values(HeaderTimeout)
	if len(vals) == 0 {
		return nil, nil
	}

	d, err := ParseTimeoutValue(vals[0])
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// ParseTimeoutValue parses a single TimeoutValue TimeoutUnit pair such as
// "3H" or "250m".
func ParseTimeoutValue(s string) (time.Duration, error) {
	malformed := &errors.MalformedTimeoutError{Value: s}

	if len(s) < 2 {
		return 0, malformed
	}
	for i := 0; i < len(s); i++ {
		if s[i] >= 0x80 {
			return 0, malformed
		}
	}

	digits, unit := s[:len(s)-1], s[len(s)-1]
	if len(digits) > maxTimeoutDigits {
		return 0, malformed
	}
	for i := 0; i < len(digits); i++ {
		if digits[i] < '0' || digits[i] > '9' {
			return 0, malformed
		}
	}

	n, err := strconv.ParseUint(digits, 10, 64)
	if err != nil {
		return 0, malformed
	}

	var scale time.Duration
	switch unit {
	case 'H':
		scale = time.Hour
	case 'M':
		scale = time.Minute
	case 'S':
		scale = time.Second
	case 'm':
		scale = time.Millisecond
	case 'u':
		scale = time.Microsecond
	case 'n':
		scale = time.Nanosecond
	default:
		return 0, malformed
	}

	// time.Duration is an int64 count of nanoseconds, so large hour and
	// minute values saturate instead of wrapping.
	if n > uint64(math.MaxInt64/int64(scale)) {
		return time.Duration(math.MaxInt64), nil
	}
	return time.Duration(n) * scale, nil
}

// Reconcile picks the effective timeout from the client-declared value and
// the server ceiling. The stricter bound wins; nil means no bound.
func Reconcile(client, server *time.Duration) *time.Duration {
	switch {
	case client == nil && server == nil:
		return nil
	case client == nil:
		d := *server
		return &d
	case server == nil:
		d := *client
		return &d
	}

	d := *client
	if *server < d {
		d = *server
	}
	return &d
}
