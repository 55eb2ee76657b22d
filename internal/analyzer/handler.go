package analyzer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/b4its/next-kepin/internal/httpx"
	"github.com/b4its/next-kepin/internal/jsonrepair"
	"github.com/b4its/next-kepin/internal/middleware"
	"github.com/b4its/next-kepin/internal/models"
	"github.com/b4its/next-kepin/internal/store"
	"github.com/b4its/next-kepin/internal/stream"
)

// Streamer produces an analysis, handing each raw chunk to emit.
type Streamer interface {
	Stream(ctx context.Context, mode models.Mode, doc Document, emit func([]byte) error) (string, error)
}

// UploadStore is the upload and result persistence the handler needs.
type UploadStore interface {
	GetUpload(ctx context.Context, id string) (*models.UploadRecord, error)
	SaveResult(ctx context.Context, r *models.AnalysisResult) error
}

// Objects opens stored upload files.
type Objects interface {
	Open(ctx context.Context, key string) (io.ReadCloser, string, int64, error)
}

// Locker guards an upload against concurrent analyses.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (release func(), ok bool, err error)
}

// Options tune the handler. Zero values fall back to defaults.
type Options struct {
	MaxDocumentBytes int64
	LockTTL          time.Duration
	Timeout          time.Duration
	PerMinute        int
	Burst            int
}

// Handler serves the three streaming analysis endpoints.
type Handler struct {
	engine  Streamer
	uploads UploadStore
	files   Objects
	locks   Locker
	limiter *userLimiter
	opts    Options
	now     func() time.Time
}

func NewHandler(engine Streamer, uploads UploadStore, files Objects, locks Locker, opts Options) *Handler {
	if opts.MaxDocumentBytes <= 0 {
		opts.MaxDocumentBytes = 20 << 20
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Minute
	}
	if opts.LockTTL <= 0 {
		opts.LockTTL = opts.Timeout + time.Minute
	}
	return &Handler{
		engine:  engine,
		uploads: uploads,
		files:   files,
		locks:   locks,
		limiter: newUserLimiter(opts.PerMinute, opts.Burst),
		opts:    opts,
		now:     time.Now,
	}
}

// Analyze returns the handler for one mode. The response is an event stream
// of model chunks followed by the stored result record and [DONE]. Failures
// before the first chunk are plain JSON errors with a status code.
func (h *Handler) Analyze(mode models.Mode) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req models.AnalyzeRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpx.Error(w, http.StatusBadRequest, "invalid request body")
			return
		}
		userID, ok := middleware.ScopedUser(w, r, req.UserID)
		if !ok {
			return
		}
		if req.UploadID == "" {
			httpx.Error(w, http.StatusBadRequest, "id_userupload is required")
			return
		}

		upload, err := h.uploads.GetUpload(r.Context(), req.UploadID)
		switch {
		case errors.Is(err, store.ErrNotFound):
			httpx.Error(w, http.StatusNotFound, "upload not found")
			return
		case err != nil:
			slog.Error("get upload", "upload_id", req.UploadID, "error", err)
			httpx.Error(w, http.StatusInternalServerError, "database error")
			return
		case upload.UserID != userID:
			httpx.Error(w, http.StatusNotFound, "upload not found")
			return
		}
		if err := upload.CheckAnalyzable(); err != nil {
			httpx.Error(w, http.StatusUnsupportedMediaType, err.Error())
			return
		}
		if !h.limiter.Allow(userID) {
			httpx.Error(w, http.StatusTooManyRequests, "too many analyses, slow down")
			return
		}

		release, ok, err := h.locks.Acquire(r.Context(), "analyze:"+req.UploadID, h.opts.LockTTL)
		if err != nil {
			slog.Error("acquire analysis lock", "upload_id", req.UploadID, "error", err)
			httpx.Error(w, http.StatusInternalServerError, "lock unavailable")
			return
		}
		if !ok {
			httpx.Error(w, http.StatusConflict, "analysis already running for this upload")
			return
		}
		defer release()

		doc, err := h.document(r.Context(), upload)
		switch {
		case errors.Is(err, store.ErrNotFound):
			httpx.Error(w, http.StatusNotFound, "file not found")
			return
		case errors.Is(err, errDocumentTooLarge):
			httpx.Error(w, http.StatusRequestEntityTooLarge, err.Error())
			return
		case err != nil:
			slog.Error("read upload", "upload_id", req.UploadID, "error", err)
			httpx.Error(w, http.StatusInternalServerError, "file unavailable")
			return
		}

		h.run(w, r, mode, upload, doc)
	}
}

var errDocumentTooLarge = errors.New("document too large to analyze")

// document reads the stored file behind upload.
func (h *Handler) document(ctx context.Context, upload *models.UploadRecord) (Document, error) {
	rc, contentType, size, err := h.files.Open(ctx, upload.ObjectKey)
	if err != nil {
		return Document{}, err
	}
	defer rc.Close()

	if size > h.opts.MaxDocumentBytes {
		return Document{}, errDocumentTooLarge
	}
	data, err := io.ReadAll(io.LimitReader(rc, h.opts.MaxDocumentBytes+1))
	if err != nil {
		return Document{}, fmt.Errorf("read %s: %w", upload.ObjectKey, err)
	}
	if int64(len(data)) > h.opts.MaxDocumentBytes {
		return Document{}, errDocumentTooLarge
	}
	return NewDocument(upload.FileName, upload.FileType, contentType, data), nil
}

func (h *Handler) run(w http.ResponseWriter, r *http.Request, mode models.Mode, upload *models.UploadRecord, doc Document) {
	ctx, cancel := context.WithTimeout(r.Context(), h.opts.Timeout)
	defer cancel()

	log := slog.With("upload_id", upload.ID, "mode", mode)
	sw := stream.NewWriter(w)
	started := false
	emit := func(chunk []byte) error {
		if !started {
			stream.PrepareHeaders(w.Header())
			w.WriteHeader(http.StatusOK)
			started = true
		}
		return sw.Data(chunk)
	}

	begin := h.now()
	text, err := h.engine.Stream(ctx, mode, doc, emit)
	if err != nil {
		log.Error("analysis stream", "error", err)
		if !started {
			httpx.Error(w, statusFor(err), err.Error())
			return
		}
		sw.Error(err.Error())
		return
	}
	if !started {
		stream.PrepareHeaders(w.Header())
		w.WriteHeader(http.StatusOK)
	}

	raw, err := jsonrepair.Repair(text)
	if err != nil {
		log.Warn("analysis output unreadable", "error", err)
		sw.Error("result unreadable: " + err.Error())
		return
	}
	result, err := models.DecodeAnalysis(raw)
	if err != nil {
		log.Warn("analysis output invalid", "error", err)
		sw.Error(err.Error())
		return
	}
	result.UploadID = upload.ID
	result.UserID = upload.UserID
	result.AnalysisType = mode.Label()
	result.CreatedAt = h.now()

	if err := h.uploads.SaveResult(context.WithoutCancel(ctx), result); err != nil {
		log.Error("save analysis result", "error", err)
		sw.Error("failed to save result")
		return
	}
	log.Info("analysis complete", "entity", result.EntityName, "took", h.now().Sub(begin))

	sw.JSON(result)
	sw.Done()
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, ErrQuotaExceeded):
		return http.StatusTooManyRequests
	case errors.Is(err, ErrUnreadableDocument):
		return http.StatusUnprocessableEntity
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusBadGateway
	}
}
