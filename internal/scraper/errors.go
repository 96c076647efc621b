package scraper

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorKind categorizes a task failure for retry decisions and reporting.
type ErrorKind string

const (
	KindBrowserInit  ErrorKind = "browser_init"
	KindNavigation   ErrorKind = "navigation"
	KindTimeout      ErrorKind = "timeout"
	KindProxyFailure ErrorKind = "proxy_failure"
	KindScraping     ErrorKind = "scraping"
	KindMaxRetries   ErrorKind = "max_retries_exceeded"
)

// TaskError wraps a failure with its kind and whether another attempt is
// worth making.
type TaskError struct {
	Kind      ErrorKind
	Retryable bool
	Err       error
}

func (e *TaskError) Error() string {
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *TaskError) Unwrap() error {
	return e.Err
}

func newTaskError(kind ErrorKind, retryable bool, err error) *TaskError {
	return &TaskError{Kind: kind, Retryable: retryable, Err: err}
}

// proxyErrorMarkers are substrings that identify a failure as caused by the
// proxy connection rather than the target site.
var proxyErrorMarkers = []string{
	"proxy",
	"tunnel",
	"err_tunnel_connection_failed",
	"err_proxy_connection_failed",
	"connection refused",
	"connection reset",
}

// isProxyError reports whether the error message points at the proxy layer.
func isProxyError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range proxyErrorMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

// classify maps an arbitrary error from the scrape path onto a TaskError.
// Already-classified errors pass through unchanged.
func classify(err error) *TaskError {
	var te *TaskError
	if errors.As(err, &te) {
		return te
	}
	switch {
	case isProxyError(err):
		return newTaskError(KindProxyFailure, true, err)
	case isTimeoutError(err):
		return newTaskError(KindTimeout, true, err)
	default:
		return newTaskError(KindScraping, true, err)
	}
}

func isTimeoutError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "timeout") || strings.Contains(msg, "deadline exceeded")
}
