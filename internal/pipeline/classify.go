package pipeline

import (
	"context"
	"errors"
	"io"
	"net"
	"strings"
	"syscall"

	"eval_harness/internal/eval"
	"eval_harness/internal/providers"
)

// classify maps an adapter error onto the closed error taxonomy.
//
// Retryable: HTTP 429, any 5xx, connection resets and similar transient
// transport faults. Everything else is fatal on first sight.
func classify(err error) *eval.Error {
	var evalErr *eval.Error
	if errors.As(err, &evalErr) {
		return evalErr
	}

	var transportErr *providers.TransportError
	if errors.As(err, &transportErr) {
		if retryableStatus(transportErr.StatusCode) {
			return eval.NewRetryableTransportError(transportErr.StatusCode, err, "%s", transportErr.Error())
		}
		return eval.NewTransportError(transportErr.StatusCode, err, "%s", transportErr.Error())
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return eval.NewTimeoutError("vendor call timed out: %v", err)
	}

	if isConnectionFault(err) {
		return eval.NewRetryableTransportError(0, err, "transient transport failure: %v", err)
	}

	return eval.NewTransportError(0, err, "vendor call failed: %v", err)
}

func retryableStatus(status int) bool {
	return status == 429 || status >= 500
}

func isConnectionFault(err error) bool {
	if errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	// http wraps low-level resets in plain errors; fall back to matching.
	msg := err.Error()
	return strings.Contains(msg, "connection reset") || strings.Contains(msg, "broken pipe")
}
