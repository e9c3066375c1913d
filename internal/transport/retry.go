package transport

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/rpc"
)

const maxBackoff = 30 * time.Second

var retryableHTTPStatus = map[int]bool{
	http.StatusForbidden:             true,
	http.StatusRequestTimeout:        true,
	http.StatusRequestEntityTooLarge: true,
	http.StatusTooManyRequests:       true,
	http.StatusInternalServerError:   true,
	http.StatusBadGateway:            true,
	http.StatusServiceUnavailable:    true,
	http.StatusGatewayTimeout:        true,
}

var retryableRPCCodes = map[int]bool{
	-32603: true, // internal error
	-32005: true, // limit exceeded
}

// ShouldRetry classifies a failed request. Node-side execution errors and
// invalid requests are final; transport hiccups and throttling are not.
func ShouldRetry(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}

	var httpErr rpc.HTTPError
	if errors.As(err, &httpErr) {
		return retryableHTTPStatus[httpErr.StatusCode]
	}

	var rpcErr rpc.Error
	if errors.As(err, &rpcErr) {
		return retryableRPCCodes[rpcErr.ErrorCode()]
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

func backoff(base time.Duration, attempt int) time.Duration {
	if attempt > 16 {
		return maxBackoff
	}
	d := base << uint(attempt)
	if d <= 0 || d > maxBackoff {
		return maxBackoff
	}
	return d
}
