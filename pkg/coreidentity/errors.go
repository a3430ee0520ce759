package coreidentity

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrInvalidArgument marks inputs rejected before any request is sent.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrTimeout matches every *TimeoutError via errors.Is.
	ErrTimeout = errors.New("timed out waiting for task")
)

const bodySnippetLimit = 512

// HTTPError is returned for any non-2xx response. Body is preserved in full.
type HTTPError struct {
	Method     string
	Path       string
	StatusCode int
	Body       []byte
	RequestID  string
}

func (e *HTTPError) Error() string {
	msg := fmt.Sprintf("%s %s: http response status %d", e.Method, e.Path, e.StatusCode)
	if snippet := readBodySnippet(e.Body); snippet != "" {
		msg += ": " + snippet
	}
	return msg
}

// TimeoutError is returned by WaitForCompletion when the task did not reach
// a terminal status within the configured timeout.
type TimeoutError struct {
	TaskID     string
	Timeout    time.Duration
	LastStatus Status
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("task %s did not complete within %s (last status %q)", e.TaskID, e.Timeout, e.LastStatus)
}

func (e *TimeoutError) Is(target error) bool { return target == ErrTimeout }

// StatusCode returns the HTTP status carried by err, if any.
func StatusCode(err error) (int, bool) {
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.StatusCode, true
	}
	return 0, false
}

// IsNotFound reports whether err is a 404 from the service.
func IsNotFound(err error) bool {
	code, ok := StatusCode(err)
	return ok && code == 404
}

func readBodySnippet(body []byte) string {
	if len(body) == 0 {
		return ""
	}
	if len(body) > bodySnippetLimit {
		body = body[:bodySnippetLimit]
	}
	return strings.TrimSpace(string(body))
}
