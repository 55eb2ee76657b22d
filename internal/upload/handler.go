// Package upload serves document uploads and the stored files behind them.
package upload

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/b4its/next-kepin/internal/httpx"
	"github.com/b4its/next-kepin/internal/middleware"
	"github.com/b4its/next-kepin/internal/models"
	"github.com/b4its/next-kepin/internal/store"
)

// FilesPrefix is the route stored objects are served under.
const FilesPrefix = "/api/v1/files/"

const (
	xlsType  = "application/vnd.ms-excel"
	xlsxType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
)

// Store defines the upload persistence the handlers need.
type Store interface {
	InsertUpload(ctx context.Context, u *models.UploadRecord) (string, error)
	ListUploads(ctx context.Context, userID string) ([]models.UploadRecord, error)
	GetUpload(ctx context.Context, id string) (*models.UploadRecord, error)
	DeleteUpload(ctx context.Context, id string) error
	DeleteResult(ctx context.Context, uploadID string) error
}

// Objects defines the file storage the handlers need.
type Objects interface {
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error
	Open(ctx context.Context, key string) (io.ReadCloser, string, int64, error)
	Remove(ctx context.Context, key string) error
}

// Handler holds upload HTTP handlers.
type Handler struct {
	store    Store
	objects  Objects
	maxBytes int64
}

func NewHandler(s Store, objects Objects, maxUploadMB int64) *Handler {
	if maxUploadMB <= 0 {
		maxUploadMB = 20
	}
	return &Handler{store: s, objects: objects, maxBytes: maxUploadMB << 20}
}

// Upload stores a multipart "file" and records it for the user.
func (h *Handler) Upload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBytes+1<<20)
	if err := r.ParseMultipartForm(8 << 20); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			httpx.Error(w, http.StatusRequestEntityTooLarge, "file too large")
			return
		}
		httpx.Error(w, http.StatusBadRequest, "invalid multipart body")
		return
	}
	defer r.MultipartForm.RemoveAll()

	userID, ok := middleware.ScopedUser(w, r, r.FormValue("user_id"))
	if !ok {
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		httpx.Error(w, http.StatusBadRequest, "file is required")
		return
	}
	defer file.Close()
	if header.Size > h.maxBytes {
		httpx.Error(w, http.StatusRequestEntityTooLarge, "file too large")
		return
	}

	head := make([]byte, 512)
	n, err := io.ReadFull(file, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		httpx.Error(w, http.StatusBadRequest, "unreadable file")
		return
	}
	head = head[:n]

	fileName := path.Base(strings.ReplaceAll(header.Filename, "\\", "/"))
	contentType, ok := detectType(fileName, head)
	if !ok {
		httpx.Error(w, http.StatusUnsupportedMediaType, "only PDF, image and Excel files are accepted")
		return
	}

	key := fmt.Sprintf("%s/%s%s", userID, uuid.NewString(), strings.ToLower(path.Ext(fileName)))
	body := io.MultiReader(bytes.NewReader(head), file)
	if err := h.objects.Put(r.Context(), key, body, header.Size, contentType); err != nil {
		slog.Error("store upload object", "key", key, "error", err)
		httpx.Error(w, http.StatusInternalServerError, "failed to store file")
		return
	}

	rec := &models.UploadRecord{
		UserID:    userID,
		FileName:  fileName,
		FilePath:  FilesPrefix + key,
		FileType:  contentType,
		Size:      header.Size,
		ObjectKey: key,
	}
	id, err := h.store.InsertUpload(r.Context(), rec)
	if err != nil {
		slog.Error("insert upload", "key", key, "error", err)
		if rmErr := h.objects.Remove(context.WithoutCancel(r.Context()), key); rmErr != nil {
			slog.Warn("remove orphaned object", "key", key, "error", rmErr)
		}
		httpx.Error(w, http.StatusInternalServerError, "failed to save upload")
		return
	}

	slog.Info("upload stored", "upload_id", id, "user_id", userID, "type", contentType, "size", header.Size)
	httpx.WriteJSON(w, http.StatusCreated, models.UploadResponse{
		ID:       id,
		FileName: fileName,
		FilePath: rec.FilePath,
		FileType: contentType,
		Message:  "upload successful",
	})
}

// List returns the uploads of the current user.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.ScopedUser(w, r, r.URL.Query().Get("user_id"))
	if !ok {
		return
	}
	uploads, err := h.store.ListUploads(r.Context(), userID)
	if err != nil {
		slog.Error("list uploads", "user_id", userID, "error", err)
		httpx.Error(w, http.StatusInternalServerError, "database error")
		return
	}
	if uploads == nil {
		uploads = []models.UploadRecord{}
	}
	httpx.WriteJSON(w, http.StatusOK, uploads)
}

// Delete removes an upload with its stored object and analysis result.
func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.ScopedUser(w, r, "")
	if !ok {
		return
	}
	id := chi.URLParam(r, "id")
	rec, ok := h.owned(w, r, id, userID)
	if !ok {
		return
	}

	if rec.ObjectKey != "" {
		if err := h.objects.Remove(r.Context(), rec.ObjectKey); err != nil && !errors.Is(err, store.ErrNotFound) {
			slog.Warn("remove upload object", "key", rec.ObjectKey, "error", err)
		}
	}
	if err := h.store.DeleteResult(r.Context(), id); err != nil {
		slog.Warn("delete analysis result", "upload_id", id, "error", err)
	}
	if err := h.store.DeleteUpload(r.Context(), id); err != nil {
		slog.Error("delete upload", "upload_id", id, "error", err)
		httpx.Error(w, http.StatusInternalServerError, "database error")
		return
	}
	httpx.Message(w, "upload deleted")
}

// File streams a stored object. Users only reach objects under their own
// key prefix.
func (h *Handler) File(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.ScopedUser(w, r, "")
	if !ok {
		return
	}
	key := chi.URLParam(r, "*")
	if !strings.HasPrefix(key, userID+"/") || strings.Contains(key, "..") {
		httpx.Error(w, http.StatusNotFound, "file not found")
		return
	}

	obj, contentType, size, err := h.objects.Open(r.Context(), key)
	if errors.Is(err, store.ErrNotFound) {
		httpx.Error(w, http.StatusNotFound, "file not found")
		return
	}
	if err != nil {
		slog.Error("open upload object", "key", key, "error", err)
		httpx.Error(w, http.StatusInternalServerError, "storage error")
		return
	}
	defer obj.Close()

	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	if size >= 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(size, 10))
	}
	w.Header().Set("Content-Disposition", "inline")
	if _, err := io.Copy(w, obj); err != nil {
		slog.Warn("stream upload object", "key", key, "error", err)
	}
}

func (h *Handler) owned(w http.ResponseWriter, r *http.Request, id, userID string) (*models.UploadRecord, bool) {
	rec, err := h.store.GetUpload(r.Context(), id)
	switch {
	case errors.Is(err, store.ErrNotFound):
		httpx.Error(w, http.StatusNotFound, "upload not found")
		return nil, false
	case err != nil:
		slog.Error("get upload", "upload_id", id, "error", err)
		httpx.Error(w, http.StatusInternalServerError, "database error")
		return nil, false
	case rec.UserID != userID:
		httpx.Error(w, http.StatusNotFound, "upload not found")
		return nil, false
	}
	return rec, true
}

// detectType sniffs the content and accepts PDFs, images and Excel
// workbooks. Workbooks are recognised by extension since they sniff as
// generic containers.
func detectType(fileName string, head []byte) (string, bool) {
	switch strings.ToLower(path.Ext(fileName)) {
	case ".xlsx":
		return xlsxType, true
	case ".xls":
		return xlsType, true
	}
	ct := http.DetectContentType(head)
	if ct == "application/pdf" || strings.HasPrefix(ct, "image/") {
		return ct, true
	}
	return "", false
}
