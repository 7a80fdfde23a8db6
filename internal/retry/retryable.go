package retry

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"syscall"
)

// navigationMarkers are backend error fragments that show up when a request
// lands while the automated browser is still navigating.
var navigationMarkers = []string{
	"navigation",
	"navigating frame was detached",
	"execution context was destroyed",
	"net::err_aborted",
	"target closed",
	"page is not ready",
}

// DefaultRetryable matches the transient failures seen against browser
// automation backends:
//
//   - HTTP 400 responses (a symptom of navigation races),
//   - request timeouts,
//   - network errors where no response was received,
//   - backend messages reporting an in-progress navigation.
func DefaultRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}

	var sc interface{ HTTPStatus() int }
	if errors.As(err, &sc) {
		if sc.HTTPStatus() == http.StatusBadRequest {
			return true
		}
		return hasNavigationMarker(err.Error())
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	if isNoResponse(err) {
		return true
	}
	return hasNavigationMarker(err.Error())
}

func isNoResponse(err error) bool {
	switch {
	case errors.Is(err, io.EOF),
		errors.Is(err, io.ErrUnexpectedEOF),
		errors.Is(err, syscall.ECONNREFUSED),
		errors.Is(err, syscall.ECONNRESET),
		errors.Is(err, syscall.EPIPE):
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	// A *url.Error is what http.Client returns when the round trip failed
	// before any response arrived.
	var urlErr *url.Error
	return errors.As(err, &urlErr)
}

func hasNavigationMarker(msg string) bool {
	msg = strings.ToLower(msg)
	for _, m := range navigationMarkers {
		if strings.Contains(msg, m) {
			return true
		}
	}
	return false
}
