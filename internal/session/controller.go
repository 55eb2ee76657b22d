// Package session runs analysis sessions: one streamed analysis per upload,
// from request to stored result.
package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/b4its/next-kepin/internal/jsonrepair"
	"github.com/b4its/next-kepin/internal/models"
	"github.com/b4its/next-kepin/internal/stream"
)

// State is the lifecycle position of one upload's session.
type State string

const (
	StateIdle       State = "idle"
	StateRequesting State = "requesting"
	StateStreaming  State = "streaming"
	StateSucceeded  State = "succeeded"
	StateFailed     State = "failed"
)

var (
	ErrInProgress = errors.New("analysis already in progress")
	ErrNoSession  = errors.New("no analysis session for upload")
	ErrMissingID  = errors.New("upload has no id")
)

// Analyzer opens the analysis stream for one request.
type Analyzer interface {
	Analyze(ctx context.Context, mode models.Mode, req models.AnalyzeRequest) (io.ReadCloser, error)
}

// Request starts one session.
type Request struct {
	Upload models.UploadRecord
	UserID string
	Mode   models.Mode
}

// Outcome is how a session ended. State is StateSucceeded or StateFailed.
type Outcome struct {
	UploadID string
	Mode     models.Mode
	State    State
	Result   *models.AnalysisResult
	Err      error
	Message  string
}

// Status is a snapshot of one upload: either in flight, or idle with or
// without a stored result.
type Status struct {
	State  State
	Mode   models.Mode
	Result *models.AnalysisResult
}

type run struct {
	mode    models.Mode
	state   State
	cancel  context.CancelFunc
	done    chan struct{}
	outcome Outcome
}

// Controller owns the result table and the in-flight sessions.
type Controller struct {
	analyzer    Analyzer
	notifier    Notifier
	idleTimeout time.Duration
	onDelta     func(uploadID, delta string)
	log         *slog.Logger
	now         func() time.Time

	mu       sync.Mutex
	results  map[string]*models.AnalysisResult
	sessions map[string]*run
	last     map[string]Outcome
}

type Option func(*Controller)

func WithNotifier(n Notifier) Option {
	return func(c *Controller) { c.notifier = n }
}

func WithIdleTimeout(d time.Duration) Option {
	return func(c *Controller) { c.idleTimeout = d }
}

func WithLogger(l *slog.Logger) Option {
	return func(c *Controller) { c.log = l }
}

// WithDeltaHook observes every delta of every session as it arrives.
func WithDeltaHook(fn func(uploadID, delta string)) Option {
	return func(c *Controller) { c.onDelta = fn }
}

func New(analyzer Analyzer, opts ...Option) *Controller {
	c := &Controller{
		analyzer:    analyzer,
		idleTimeout: stream.DefaultIdleTimeout,
		log:         slog.Default(),
		now:         time.Now,
		results:     make(map[string]*models.AnalysisResult),
		sessions:    make(map[string]*run),
		last:        make(map[string]Outcome),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.notifier == nil {
		c.notifier = LogNotifier{Logger: c.log}
	}
	return c
}

// Start begins an analysis of req.Upload and returns once the session is
// registered. The previous result for the upload is evicted immediately.
// The session is bound to ctx. Failures of the session itself are reported
// through Wait and the notifier, never through Start.
func (c *Controller) Start(ctx context.Context, req Request) error {
	if !req.Mode.Valid() {
		return fmt.Errorf("%w: %q", models.ErrInvalidMode, req.Mode)
	}
	id := req.Upload.ID.String()
	if id == "" {
		return ErrMissingID
	}
	if err := req.Upload.CheckAnalyzable(); err != nil {
		return err
	}

	c.mu.Lock()
	if r, ok := c.sessions[id]; ok {
		c.mu.Unlock()
		return fmt.Errorf("%w: %s (%s)", ErrInProgress, id, r.mode)
	}
	sctx, cancel := context.WithCancel(ctx)
	r := &run{
		mode:   req.Mode,
		state:  StateRequesting,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	c.sessions[id] = r
	delete(c.results, id)
	delete(c.last, id)
	c.mu.Unlock()

	c.log.Debug("analysis started", "upload_id", id, "mode", req.Mode)
	go c.run(sctx, id, req, r)
	return nil
}

func (c *Controller) run(ctx context.Context, id string, req Request, r *run) {
	defer r.cancel()

	out := c.analyze(ctx, id, req, r)

	c.mu.Lock()
	r.state = out.State
	r.outcome = out
	if out.State == StateSucceeded {
		c.results[id] = out.Result
	}
	c.last[id] = out
	delete(c.sessions, id)
	c.mu.Unlock()

	level := LevelInfo
	if out.State == StateFailed {
		level = LevelError
	}
	c.notifier.Notify(context.WithoutCancel(ctx), Notice{
		UploadID: id,
		FileName: req.Upload.FileName,
		Mode:     req.Mode,
		Level:    level,
		Message:  out.Message,
		Err:      out.Err,
	})
	close(r.done)
}

func (c *Controller) analyze(ctx context.Context, id string, req Request, r *run) Outcome {
	out := Outcome{UploadID: id, Mode: req.Mode}

	body, err := c.analyzer.Analyze(ctx, req.Mode, models.AnalyzeRequest{
		FilePath: req.Upload.FilePath,
		UserID:   req.UserID,
		UploadID: id,
	})
	if err != nil {
		return failed(out, err)
	}
	c.setState(r, StateStreaming)

	consumer := stream.Consumer{IdleTimeout: c.idleTimeout, Logger: c.log}
	if c.onDelta != nil {
		consumer.OnDelta = func(delta string) { c.onDelta(id, delta) }
	}
	res, err := consumer.Consume(ctx, body)
	if err != nil {
		return failed(out, err)
	}

	raw := res.Final
	if raw == nil {
		if raw, err = jsonrepair.Repair(res.Text); err != nil {
			c.log.Debug("analysis text unreadable", "upload_id", id, "text", res.Text)
			return failed(out, err)
		}
	}
	result, err := models.DecodeAnalysis(raw)
	if err != nil {
		return failed(out, err)
	}

	result.UploadID = models.ID(id)
	if result.UserID == "" {
		result.UserID = req.UserID
	}
	if result.AnalysisType == "" {
		result.AnalysisType = req.Mode.Label()
	}
	if result.CreatedAt.IsZero() {
		result.CreatedAt = c.now()
	}

	out.State = StateSucceeded
	out.Result = result
	out.Message = fmt.Sprintf("analysis complete (%s)", req.Mode.Label())
	return out
}

func failed(out Outcome, err error) Outcome {
	out.State = StateFailed
	out.Err = err
	out.Message = userMessage(err)
	return out
}

// userMessage turns a session error into the text shown to the user.
func userMessage(err error) string {
	var upstream *stream.UpstreamError
	switch {
	case errors.Is(err, context.Canceled):
		return "analysis cancelled"
	case errors.Is(err, stream.ErrIdleTimeout):
		return "analysis timed out, retry"
	case errors.As(err, &upstream):
		return "analysis failed: " + upstream.Message
	case errors.Is(err, jsonrepair.ErrNoJSONFound),
		errors.Is(err, jsonrepair.ErrMalformedAnalysisJSON),
		errors.Is(err, models.ErrInvalidAnalysis),
		errors.Is(err, models.ErrEmptyAnalysis):
		return "result unreadable, retry"
	}
	return "analysis failed: " + err.Error()
}

func (c *Controller) setState(r *run, s State) {
	c.mu.Lock()
	r.state = s
	c.mu.Unlock()
}

// Wait blocks until the session for uploadID ends and returns its outcome.
// For a session that already ended it returns the last outcome.
func (c *Controller) Wait(ctx context.Context, uploadID string) (Outcome, error) {
	c.mu.Lock()
	r, ok := c.sessions[uploadID]
	if !ok {
		out, seen := c.last[uploadID]
		c.mu.Unlock()
		if !seen {
			return Outcome{}, ErrNoSession
		}
		return out, nil
	}
	c.mu.Unlock()

	select {
	case <-r.done:
		return r.outcome, nil
	case <-ctx.Done():
		return Outcome{}, ctx.Err()
	}
}

// Cancel stops the in-flight session for uploadID, if any.
func (c *Controller) Cancel(uploadID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := c.sessions[uploadID]
	if ok {
		r.cancel()
	}
	return ok
}

// Status reports the in-flight state of uploadID, or Idle with the stored
// result.
func (c *Controller) Status(uploadID string) Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	if r, ok := c.sessions[uploadID]; ok {
		return Status{State: r.state, Mode: r.mode}
	}
	return Status{State: StateIdle, Result: c.results[uploadID]}
}

// Result returns the stored result for uploadID.
func (c *Controller) Result(uploadID string) (*models.AnalysisResult, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := c.results[uploadID]
	return r, ok
}

// Results returns a copy of the result table.
func (c *Controller) Results() map[string]*models.AnalysisResult {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]*models.AnalysisResult, len(c.results))
	for k, v := range c.results {
		out[k] = v
	}
	return out
}

// Load replaces the result table with records joined to uploads on the
// upload id. Uploads with a session in flight keep no result.
func (c *Controller) Load(uploads []models.UploadRecord, records []models.AnalysisResult) {
	byUpload := make(map[string]*models.AnalysisResult, len(records))
	for i := range records {
		byUpload[records[i].UploadID.String()] = &records[i]
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.results = make(map[string]*models.AnalysisResult, len(uploads))
	for _, u := range uploads {
		id := u.ID.String()
		if _, inFlight := c.sessions[id]; inFlight {
			continue
		}
		if rec, ok := byUpload[id]; ok {
			c.results[id] = rec
		}
	}
}

// Close cancels every in-flight session and waits for them to end.
func (c *Controller) Close() {
	c.mu.Lock()
	runs := make([]*run, 0, len(c.sessions))
	for _, r := range c.sessions {
		r.cancel()
		runs = append(runs, r)
	}
	c.mu.Unlock()

	for _, r := range runs {
		<-r.done
	}
}
