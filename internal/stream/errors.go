package stream

import (
	"errors"
	"fmt"
)

var (
	// ErrUpstreamAnalysis is matched by errors the Analysis Service reported
	// inside the stream.
	ErrUpstreamAnalysis = errors.New("upstream analysis error")

	// ErrTransport is matched by connection, status and read failures.
	ErrTransport = errors.New("transport error")

	// ErrIdleTimeout means no bytes arrived within the idle window.
	ErrIdleTimeout = errors.New("stream idle timeout")
)

// UpstreamError carries the message from an error sentinel line.
type UpstreamError struct {
	Message string
}

func (e *UpstreamError) Error() string {
	return "analysis failed: " + e.Message
}

func (e *UpstreamError) Unwrap() error { return ErrUpstreamAnalysis }

// TransportError wraps a failure to open or read the stream. Status is the
// HTTP status when the service answered with a non-2xx code.
type TransportError struct {
	Op     string
	Status int
	Err    error
}

func (e *TransportError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s: status %d: %v", e.Op, e.Status, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() []error {
	return []error{ErrTransport, e.Err}
}
