package netutil

import (
	"context"
	"errors"
	"net"
	"net/http"
	"path"
	"strings"
	"syscall"
)

// ShouldRetry reports whether err is a transient transport failure: a
// timeout, a failed dial or a connection reset by the peer. Cancellation is
// never retried.
func ShouldRetry(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "dial" {
		return true
	}

	return errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ECONNREFUSED)
}

// NotSent reports whether err means the request never reached the server: a
// failed dial or a refused connection. Only such failures may be resent for
// calls with side effects.
func NotSent(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "dial" {
		return true
	}
	return errors.Is(err, syscall.ECONNREFUSED)
}

// Idempotent reports whether req may be replayed after a failure the server
// may have seen. Bot API read methods (getMe, getUpdates, getChat, ...) are
// POSTs too, so the last path segment is checked as well.
func Idempotent(req *http.Request) bool {
	switch req.Method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return true
	}
	return strings.HasPrefix(path.Base(req.URL.Path), "get")
}
