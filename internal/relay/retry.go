package relay

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"syscall"
)

// IsNetworkError reports whether err is a transport failure worth retrying:
// dial and DNS errors, refused or reset connections and truncated responses.
// Cancellation and deadlines never count.
func IsNetworkError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return !opErr.Timeout()
	}
	return errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, io.EOF)
}

// networkOnly is a retryablehttp.CheckRetry that retries transport failures
// and nothing else. HTTP responses, whatever their status, are final.
func networkOnly(ctx context.Context, resp *http.Response, err error) (bool, error) {
	if ctx.Err() != nil {
		return false, ctx.Err()
	}
	return IsNetworkError(err), nil
}
