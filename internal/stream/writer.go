package stream

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// Writer emits the event stream consumed by Consumer.
type Writer struct {
	w       io.Writer
	flusher http.Flusher
}

// NewWriter wraps w, flushing after every event when w supports it.
func NewWriter(w io.Writer) *Writer {
	f, _ := w.(http.Flusher)
	return &Writer{w: w, flusher: f}
}

// PrepareHeaders sets the headers of an event-stream response.
func PrepareHeaders(h http.Header) {
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
}

// Data writes payload as one data line.
func (sw *Writer) Data(payload []byte) error {
	if _, err := fmt.Fprintf(sw.w, "data: %s\n\n", payload); err != nil {
		return err
	}
	sw.flush()
	return nil
}

// JSON marshals v and writes it as one data line.
func (sw *Writer) JSON(v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return sw.Data(b)
}

// Error writes an error sentinel. Newlines in msg would break framing and
// are flattened.
func (sw *Writer) Error(msg string) error {
	msg = strings.Join(strings.Fields(msg), " ")
	return sw.Data([]byte(errorPrefixes[0] + " " + msg))
}

// Done writes the terminal sentinel.
func (sw *Writer) Done() error {
	return sw.Data([]byte(DoneSentinel))
}

func (sw *Writer) flush() {
	if sw.flusher != nil {
		sw.flusher.Flush()
	}
}
