package client

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/b4its/next-kepin/internal/models"
	"github.com/b4its/next-kepin/internal/session"
	"github.com/b4its/next-kepin/internal/stream"
)

func newTestClient(t *testing.T, mux *http.ServeMux, opts ...Option) *Client {
	t.Helper()
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	c, err := New(srv.URL, opts...)
	require.NoError(t, err)
	return c
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func requireSession(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if ck, err := r.Cookie(SessionCookie); err != nil || ck.Value != "sess-1" {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "not authenticated"})
			return
		}
		next(w, r)
	}
}

func TestLoginThenMe(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/auth/login", func(w http.ResponseWriter, r *http.Request) {
		var req models.LoginRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		if req.Password != "rahasia" {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid credentials"})
			return
		}
		http.SetCookie(w, &http.Cookie{Name: SessionCookie, Value: "sess-1", Path: "/"})
		writeJSON(w, http.StatusOK, models.User{ID: "user-1", Name: "Budi", Email: req.Email})
	})
	mux.HandleFunc("GET /api/v1/auth/me", requireSession(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, models.User{ID: "user-1", Name: "Budi", Email: "budi@example.com"})
	}))

	c := newTestClient(t, mux)

	_, err := c.Me(context.Background())
	assert.ErrorIs(t, err, ErrUnauthenticated)

	_, err = c.Login(context.Background(), "budi@example.com", "salah")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "invalid credentials", apiErr.Message)

	u, err := c.Login(context.Background(), "budi@example.com", "rahasia")
	require.NoError(t, err)
	assert.Equal(t, "user-1", u.ID)
	assert.Equal(t, "sess-1", c.SessionID())

	me, err := c.Me(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Budi", me.Name)
	assert.Equal(t, models.DefaultAvatar, me.Avatar)
}

func TestWithSessionSeedsCookie(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/auth/me", requireSession(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, models.User{ID: "user-1"})
	}))

	c := newTestClient(t, mux, WithSession("sess-1"))
	me, err := c.Me(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "user-1", me.ID)
}

func TestIdentityProvider(t *testing.T) {
	var calls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/auth/me", func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "not authenticated"})
	})
	p := NewIdentityProvider(newTestClient(t, mux))

	assert.Equal(t, IdentityLoading, p.Current().State)

	id, err := p.Resolve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, IdentityUnauthenticated, id.State)

	_, err = p.Require(context.Background())
	assert.ErrorIs(t, err, ErrUnauthenticated)
	assert.Equal(t, int32(1), calls.Load())

	p.Reset()
	assert.Equal(t, IdentityLoading, p.Current().State)
}

func TestIdentityProviderDoesNotCacheFailures(t *testing.T) {
	fail := true
	p := &IdentityProvider{me: func(context.Context) (*models.User, error) {
		if fail {
			return nil, io.ErrUnexpectedEOF
		}
		return &models.User{ID: "user-1"}, nil
	}}

	_, err := p.Resolve(context.Background())
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
	assert.Equal(t, IdentityLoading, p.Current().State)

	fail = false
	u, err := p.Require(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "user-1", u.ID)
}

func TestUploadsNormalizesIDs(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/uploads", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "user-1", r.URL.Query().Get("user_id"))
		w.Write([]byte(`[
			{"_id": "abc123", "file_name": "a.pdf", "file_path": "/api/v1/files/a.pdf", "file_type": "application/pdf"},
			{"_id": {"$oid": "def456"}, "file_name": "b.png", "file_path": "/api/v1/files/b.png", "file_type": "image/png"}
		]`))
	})

	uploads, err := newTestClient(t, mux).Uploads(context.Background(), "user-1")
	require.NoError(t, err)
	require.Len(t, uploads, 2)
	assert.Equal(t, models.ID("abc123"), uploads[0].ID)
	assert.Equal(t, models.ID("def456"), uploads[1].ID)
}

func TestUploadSendsMultipart(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/upload", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Equal(t, "user-1", r.FormValue("user_id"))

		f, hdr, err := r.FormFile("file")
		require.NoError(t, err)
		defer f.Close()
		body, _ := io.ReadAll(f)
		assert.Equal(t, "laporan.pdf", hdr.Filename)
		assert.Equal(t, "%PDF-1.4", string(body))

		writeJSON(w, http.StatusCreated, models.UploadResponse{ID: "u1", FileName: hdr.Filename, Message: "ok"})
	})

	resp, err := newTestClient(t, mux).Upload(context.Background(), "user-1", "laporan.pdf", strings.NewReader("%PDF-1.4"))
	require.NoError(t, err)
	assert.Equal(t, "u1", resp.ID)
}

func TestDeleteUploadNotFound(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("DELETE /api/v1/upload/{id}", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "u9", r.PathValue("id"))
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "upload not found"})
	})

	err := newTestClient(t, mux).DeleteUpload(context.Background(), "u9")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStats(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/financial/stats", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status": "success", "data": {"total": 5, "analyzed": 3, "pending": 2}}`))
	})

	stats, err := newTestClient(t, mux).Stats(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Equal(t, models.Stats{Total: 5, Analyzed: 3, Pending: 2}, *stats)
}

func TestAnalyzeStatusIsTransportError(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/fast_analyze", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusConflict, map[string]string{"error": "analysis already running"})
	})

	_, err := newTestClient(t, mux).Analyze(context.Background(), models.ModeFast, models.AnalyzeRequest{UploadID: "u1"})
	require.Error(t, err)
	assert.ErrorIs(t, err, stream.ErrTransport)

	var te *stream.TransportError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, http.StatusConflict, te.Status)
	assert.Contains(t, te.Error(), "analysis already running")
}

func TestAnalyzeThroughController(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/normal_analyze", func(w http.ResponseWriter, r *http.Request) {
		var req models.AnalyzeRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "u1", req.UploadID)

		stream.PrepareHeaders(w.Header())
		sw := stream.NewWriter(w)
		for _, part := range []string{`{"nama_entitas"`, ` "PT Jaya", `, `"total_aset": 42}`} {
			b, _ := json.Marshal(map[string]any{"choices": []any{map[string]any{"delta": map[string]string{"content": part}}}})
			sw.Data(b)
		}
		sw.Done()
	})

	c := newTestClient(t, mux)
	ctl := session.New(c, session.WithNotifier(session.NotifierFunc(func(context.Context, session.Notice) {})))

	upload := models.UploadRecord{ID: "u1", FileName: "laporan.pdf", FileType: "application/pdf", FilePath: "/api/v1/files/laporan.pdf"}
	require.NoError(t, ctl.Start(context.Background(), session.Request{Upload: upload, UserID: "user-1", Mode: models.ModeNormal}))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	out, err := ctl.Wait(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, session.StateSucceeded, out.State, "err: %v", out.Err)
	assert.Equal(t, "PT Jaya", out.Result.EntityName)
	assert.Equal(t, 42.0, *out.Result.TotalAssets)
}
