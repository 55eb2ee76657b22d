package analyzer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/b4its/next-kepin/internal/middleware"
	"github.com/b4its/next-kepin/internal/models"
	"github.com/b4its/next-kepin/internal/store"
	"github.com/b4its/next-kepin/internal/stream"
)

type fakeStreamer struct {
	chunks []string
	err    error
	docs   []Document
}

func (f *fakeStreamer) Stream(_ context.Context, _ models.Mode, doc Document, emit func([]byte) error) (string, error) {
	f.docs = append(f.docs, doc)
	var text strings.Builder
	for _, c := range f.chunks {
		b, _ := json.Marshal(openai.ChatCompletionStreamResponse{
			Choices: []openai.ChatCompletionStreamChoice{{Delta: openai.ChatCompletionStreamChoiceDelta{Content: c}}},
		})
		if err := emit(b); err != nil {
			return text.String(), err
		}
		text.WriteString(c)
	}
	return text.String(), f.err
}

type memUploads struct {
	mu      sync.Mutex
	uploads map[string]*models.UploadRecord
	saved   []*models.AnalysisResult
}

func (m *memUploads) GetUpload(_ context.Context, id string) (*models.UploadRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.uploads[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return u, nil
}

func (m *memUploads) SaveResult(_ context.Context, r *models.AnalysisResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saved = append(m.saved, r)
	return nil
}

type object struct {
	data        []byte
	contentType string
}

type memObjects map[string]object

func (m memObjects) Open(_ context.Context, key string) (io.ReadCloser, string, int64, error) {
	o, ok := m[key]
	if !ok {
		return nil, "", 0, store.ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(o.data)), o.contentType, int64(len(o.data)), nil
}

type memLocker struct {
	mu   sync.Mutex
	held map[string]bool
}

func (l *memLocker) Acquire(_ context.Context, key string, _ time.Duration) (func(), bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[key] {
		return func() {}, false, nil
	}
	l.held[key] = true
	return func() {
		l.mu.Lock()
		delete(l.held, key)
		l.mu.Unlock()
	}, true, nil
}

const validAnalysis = `{"nama_entitas":"PT Maju","periode_laporan":"2023","total_aset":1500000,"laba_bersih":-25000}`

func fixture(streamer Streamer, opts Options) (*Handler, *memUploads, *memLocker) {
	uploads := &memUploads{uploads: map[string]*models.UploadRecord{
		"u1":   {ID: "u1", UserID: "alice", FileName: "lk.pdf", FileType: "application/pdf", ObjectKey: "alice/u1.pdf"},
		"img":  {ID: "img", UserID: "alice", FileName: "scan.png", FileType: "image/png", ObjectKey: "alice/img.png"},
		"xls":  {ID: "xls", UserID: "alice", FileName: "lk.xlsx", FileType: "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"},
		"bobs": {ID: "bobs", UserID: "bob", FileName: "b.pdf", FileType: "application/pdf", ObjectKey: "bob/b.pdf"},
		"raw":  {ID: "raw", UserID: "alice", FileName: "laporan.pdf", FileType: "application/octet-stream", ObjectKey: "alice/raw"},
		"gone": {ID: "gone", UserID: "alice", FileName: "hilang.pdf", FileType: "application/pdf", ObjectKey: "alice/gone.pdf"},
	}}
	objects := memObjects{
		"alice/u1.pdf":  {data: []byte("%PDF-1.4 lk"), contentType: "application/pdf"},
		"alice/img.png": {data: pngHeader, contentType: "image/png"},
		"alice/raw":     {data: []byte("%PDF-1.7 raw"), contentType: "application/octet-stream"},
		"bob/b.pdf":     {data: []byte("%PDF-1.4 bob"), contentType: "application/pdf"},
	}
	locks := &memLocker{held: map[string]bool{}}
	return NewHandler(streamer, uploads, objects, locks, opts), uploads, locks
}

func post(h http.Handler, user, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/normal_analyze", strings.NewReader(body))
	if user != "" {
		req = req.WithContext(middleware.WithUserID(req.Context(), user))
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func consume(t *testing.T, rec *httptest.ResponseRecorder) (stream.Result, error) {
	t.Helper()
	return (&stream.Consumer{}).Consume(context.Background(), io.NopCloser(rec.Body))
}

func TestAnalyzeStreamsChunksThenRecord(t *testing.T) {
	chunks := []string{"```json\n{\"nama_entitas\": \"PT Maju\",", " \"total_aset\": 1500000}", "\n```"}
	h, uploads, locks := fixture(&fakeStreamer{chunks: chunks}, Options{})

	rec := post(h.Analyze(models.ModeNormal), "alice", `{"id_userupload":"u1","user_id":"alice"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))

	res, err := consume(t, rec)
	require.NoError(t, err)
	assert.Equal(t, strings.Join(chunks, ""), res.Text)
	require.NotNil(t, res.Final)

	var final models.AnalysisResult
	require.NoError(t, json.Unmarshal(res.Final, &final))
	assert.Equal(t, models.ID("u1"), final.UploadID)
	assert.Equal(t, "PT Maju", final.EntityName)
	assert.Equal(t, "Analisa Normal", final.AnalysisType)

	require.Len(t, uploads.saved, 1)
	assert.Equal(t, "alice", uploads.saved[0].UserID)
	assert.Empty(t, locks.held, "lock is released")
}

func TestAnalyzeSendsStoredDocument(t *testing.T) {
	tests := []struct {
		upload string
		want   Document
	}{
		{"img", Document{FileName: "scan.png", ContentType: "image/png", Data: pngHeader}},
		{"u1", Document{FileName: "lk.pdf", ContentType: "application/pdf", Data: []byte("%PDF-1.4 lk")}},
		{"raw", Document{FileName: "laporan.pdf", ContentType: "application/pdf", Data: []byte("%PDF-1.7 raw")}},
	}
	for _, tt := range tests {
		t.Run(tt.upload, func(t *testing.T) {
			fs := &fakeStreamer{chunks: []string{validAnalysis}}
			h, _, _ := fixture(fs, Options{})

			rec := post(h.Analyze(models.ModeFast), "alice", `{"id_userupload":"`+tt.upload+`"}`)
			require.Equal(t, http.StatusOK, rec.Code)
			require.Len(t, fs.docs, 1)
			assert.Equal(t, tt.want, fs.docs[0])
		})
	}
}

func TestAnalyzeDocumentUnavailable(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		opts   Options
		status int
	}{
		{"object missing", `{"id_userupload":"gone"}`, Options{}, http.StatusNotFound},
		{"over the size cap", `{"id_userupload":"u1"}`, Options{MaxDocumentBytes: 4}, http.StatusRequestEntityTooLarge},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fs := &fakeStreamer{chunks: []string{validAnalysis}}
			h, _, locks := fixture(fs, tt.opts)
			rec := post(h.Analyze(models.ModeNormal), "alice", tt.body)
			assert.Equal(t, tt.status, rec.Code)
			assert.Empty(t, fs.docs)
			assert.Empty(t, locks.held)
		})
	}
}

func TestAnalyzeRejections(t *testing.T) {
	tests := []struct {
		name   string
		user   string
		body   string
		status int
	}{
		{"bad body", "alice", `{`, http.StatusBadRequest},
		{"no session", "", `{"id_userupload":"u1"}`, http.StatusUnauthorized},
		{"user mismatch", "alice", `{"id_userupload":"u1","user_id":"bob"}`, http.StatusForbidden},
		{"missing id", "alice", `{}`, http.StatusBadRequest},
		{"unknown upload", "alice", `{"id_userupload":"nope"}`, http.StatusNotFound},
		{"other user's upload", "alice", `{"id_userupload":"bobs"}`, http.StatusNotFound},
		{"spreadsheet", "alice", `{"id_userupload":"xls"}`, http.StatusUnsupportedMediaType},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fs := &fakeStreamer{chunks: []string{validAnalysis}}
			h, _, _ := fixture(fs, Options{})
			rec := post(h.Analyze(models.ModeNormal), tt.user, tt.body)
			assert.Equal(t, tt.status, rec.Code)
			assert.Empty(t, fs.docs)
		})
	}
}

func TestAnalyzeConflictWhileLocked(t *testing.T) {
	h, _, locks := fixture(&fakeStreamer{chunks: []string{validAnalysis}}, Options{})
	locks.held["analyze:u1"] = true

	rec := post(h.Analyze(models.ModeDeep), "alice", `{"id_userupload":"u1"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestAnalyzeRateLimitedPerUser(t *testing.T) {
	h, _, _ := fixture(&fakeStreamer{chunks: []string{validAnalysis}}, Options{PerMinute: 1, Burst: 1})
	handler := h.Analyze(models.ModeFast)

	assert.Equal(t, http.StatusOK, post(handler, "alice", `{"id_userupload":"u1"}`).Code)
	assert.Equal(t, http.StatusTooManyRequests, post(handler, "alice", `{"id_userupload":"u1"}`).Code)
	assert.Equal(t, http.StatusOK, post(handler, "bob", `{"id_userupload":"bobs"}`).Code)
}

func TestAnalyzeFailureBeforeFirstChunk(t *testing.T) {
	tests := []struct {
		err    error
		status int
	}{
		{ErrQuotaExceeded, http.StatusTooManyRequests},
		{ErrUnreadableDocument, http.StatusUnprocessableEntity},
		{ErrModelRequest, http.StatusBadGateway},
		{context.DeadlineExceeded, http.StatusGatewayTimeout},
	}
	for _, tt := range tests {
		h, uploads, _ := fixture(&fakeStreamer{err: tt.err}, Options{})
		rec := post(h.Analyze(models.ModeNormal), "alice", `{"id_userupload":"u1"}`)
		assert.Equal(t, tt.status, rec.Code, tt.err)
		assert.Contains(t, rec.Body.String(), `"error"`)
		assert.Empty(t, uploads.saved)
	}
}

func TestAnalyzeFailureMidStream(t *testing.T) {
	h, uploads, _ := fixture(&fakeStreamer{chunks: []string{`{"nama_`}, err: errors.New("connection reset")}, Options{})

	rec := post(h.Analyze(models.ModeNormal), "alice", `{"id_userupload":"u1"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	_, err := consume(t, rec)
	require.ErrorIs(t, err, stream.ErrUpstreamAnalysis)
	assert.Contains(t, err.Error(), "connection reset")
	assert.Empty(t, uploads.saved)
}

func TestAnalyzeUnreadableOutput(t *testing.T) {
	for _, text := range []string{"no json here", `{"unrelated": true}`} {
		h, uploads, _ := fixture(&fakeStreamer{chunks: []string{text}}, Options{})

		rec := post(h.Analyze(models.ModeNormal), "alice", `{"id_userupload":"u1"}`)
		_, err := consume(t, rec)
		require.ErrorIs(t, err, stream.ErrUpstreamAnalysis, text)
		assert.Empty(t, uploads.saved)
	}
}

func TestAnalyzeEmptyStreamStillAnswers(t *testing.T) {
	h, _, _ := fixture(&fakeStreamer{}, Options{})

	rec := post(h.Analyze(models.ModeNormal), "alice", `{"id_userupload":"u1"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	_, err := consume(t, rec)
	assert.ErrorIs(t, err, stream.ErrUpstreamAnalysis)
}
