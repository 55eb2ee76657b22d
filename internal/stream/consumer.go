// Package stream reads the analysis event stream: newline-delimited
// "data:" lines carrying chat-completion chunks, error sentinels and an
// optional final record.
package stream

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/sashabaranov/go-openai"
)

const (
	// DefaultIdleTimeout bounds the silence between two reads.
	DefaultIdleTimeout = 60 * time.Second

	// DoneSentinel marks the end of model output. It does not end the
	// stream: a final record may follow it.
	DoneSentinel = "[DONE]"

	dataPrefix = "data:"
)

var errorPrefixes = []string{"ERROR:", "[ERROR]"}

// Result is what a completed stream produced.
type Result struct {
	// Text is the concatenation of every delta, in arrival order.
	Text string
	// Final is the pre-structured record the service sent after the deltas,
	// if any. It supersedes Text.
	Final json.RawMessage
	// Deltas counts the non-empty deltas appended to Text.
	Deltas int
}

// Consumer reads one stream. The zero value is ready to use.
type Consumer struct {
	IdleTimeout time.Duration
	// OnDelta, if set, is called for every delta as it arrives.
	OnDelta func(delta string)
	Logger  *slog.Logger
}

// Consume reads body until it ends, an error sentinel arrives, ctx is
// cancelled or the idle timeout fires. body is always closed on return.
func (c *Consumer) Consume(ctx context.Context, body io.ReadCloser) (Result, error) {
	idle := c.IdleTimeout
	if idle <= 0 {
		idle = DefaultIdleTimeout
	}

	var timedOut atomic.Bool
	timer := time.AfterFunc(idle, func() {
		timedOut.Store(true)
		body.Close()
	})
	defer timer.Stop()

	stop := context.AfterFunc(ctx, func() { body.Close() })
	defer stop()
	defer body.Close()

	var (
		res  Result
		text strings.Builder
		r    = bufio.NewReader(&activityReader{r: body, timer: timer, idle: idle})
	)
	for {
		line, err := r.ReadString('\n')

		if err := c.interrupted(ctx, &timedOut); err != nil {
			return res, err
		}
		if err != nil && !errors.Is(err, io.EOF) {
			return res, &TransportError{Op: "read stream", Err: err}
		}

		if line != "" {
			if herr := c.handleLine(line, &res, &text); herr != nil {
				return res, herr
			}
		}
		if err != nil {
			break
		}
	}

	if err := c.interrupted(ctx, &timedOut); err != nil {
		return res, err
	}
	res.Text = text.String()
	return res, nil
}

// activityReader pushes the idle deadline back whenever bytes arrive, even in
// the middle of a line.
type activityReader struct {
	r     io.Reader
	timer *time.Timer
	idle  time.Duration
}

func (a *activityReader) Read(p []byte) (int, error) {
	n, err := a.r.Read(p)
	if n > 0 {
		a.timer.Reset(a.idle)
	}
	return n, err
}

func (c *Consumer) interrupted(ctx context.Context, timedOut *atomic.Bool) error {
	if err := ctx.Err(); err != nil {
		return &TransportError{Op: "read stream", Err: err}
	}
	if timedOut.Load() {
		return &TransportError{Op: "read stream", Err: ErrIdleTimeout}
	}
	return nil
}

func (c *Consumer) handleLine(line string, res *Result, text *strings.Builder) error {
	payload, ok := Payload(line)
	if !ok || payload == DoneSentinel {
		return nil
	}

	for _, p := range errorPrefixes {
		if strings.HasPrefix(payload, p) {
			return &UpstreamError{Message: strings.TrimSpace(payload[len(p):])}
		}
	}

	if payload[0] != '{' {
		c.logger().Debug("skipping non-json stream line", "line", payload)
		return nil
	}

	var probe map[string]json.RawMessage
	if err := json.Unmarshal([]byte(payload), &probe); err != nil {
		c.logger().Debug("skipping undecodable stream line", "error", err)
		return nil
	}
	if msg, ok := errorMessage(probe["error"]); ok {
		return &UpstreamError{Message: msg}
	}
	if _, ok := probe["id_userupload"]; ok {
		res.Final = json.RawMessage(payload)
		return nil
	}

	var chunk openai.ChatCompletionStreamResponse
	if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
		c.logger().Debug("skipping malformed chunk", "error", err)
		return nil
	}
	if len(chunk.Choices) == 0 || chunk.Choices[0].Delta.Content == "" {
		return nil
	}

	delta := chunk.Choices[0].Delta.Content
	text.WriteString(delta)
	res.Deltas++
	if c.OnDelta != nil {
		c.OnDelta(delta)
	}
	return nil
}

func (c *Consumer) logger() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return slog.Default()
}

// Payload strips the framing from one line. It reports false for blank
// lines, comments, non-data fields and empty data lines.
func Payload(line string) (string, bool) {
	line = strings.TrimSpace(line)
	if line == "" || strings.HasPrefix(line, ":") {
		return "", false
	}
	if !strings.HasPrefix(line, dataPrefix) {
		for _, field := range []string{"event:", "id:", "retry:"} {
			if strings.HasPrefix(line, field) {
				return "", false
			}
		}
		return line, true
	}
	for strings.HasPrefix(line, dataPrefix) {
		line = strings.TrimSpace(line[len(dataPrefix):])
	}
	return line, line != ""
}

// errorMessage extracts a message from an {"error": ...} member, which may be
// a string or an object with a message.
func errorMessage(raw json.RawMessage) (string, bool) {
	if len(raw) == 0 || string(raw) == "null" {
		return "", false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, true
	}
	var obj struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil && obj.Message != "" {
		return obj.Message, true
	}
	return string(raw), true
}
