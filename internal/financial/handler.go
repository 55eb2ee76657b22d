// Package financial serves stored analysis results and dashboard counts.
package financial

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/b4its/next-kepin/internal/httpx"
	"github.com/b4its/next-kepin/internal/middleware"
	"github.com/b4its/next-kepin/internal/models"
)

// Store defines the result queries the handlers need.
type Store interface {
	ListResults(ctx context.Context, userID string) ([]models.AnalysisResult, error)
	CountUploads(ctx context.Context, userID string) (int64, error)
	CountResults(ctx context.Context, userID string) (int64, error)
}

type Handler struct {
	store Store
}

func NewHandler(s Store) *Handler {
	return &Handler{store: s}
}

// List returns every analysis result of the current user.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.ScopedUser(w, r, r.URL.Query().Get("user_id"))
	if !ok {
		return
	}
	results, err := h.store.ListResults(r.Context(), userID)
	if err != nil {
		slog.Error("list results", "user_id", userID, "error", err)
		httpx.Error(w, http.StatusInternalServerError, "database error")
		return
	}
	if results == nil {
		results = []models.AnalysisResult{}
	}
	httpx.WriteJSON(w, http.StatusOK, results)
}

// Stats returns upload counts wrapped in a status envelope.
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.ScopedUser(w, r, r.URL.Query().Get("user_id"))
	if !ok {
		return
	}
	total, err := h.store.CountUploads(r.Context(), userID)
	if err != nil {
		slog.Error("count uploads", "user_id", userID, "error", err)
		httpx.Error(w, http.StatusInternalServerError, "database error")
		return
	}
	analyzed, err := h.store.CountResults(r.Context(), userID)
	if err != nil {
		slog.Error("count results", "user_id", userID, "error", err)
		httpx.Error(w, http.StatusInternalServerError, "database error")
		return
	}

	// Results can outlive a failed delete of their upload.
	analyzed = min(analyzed, total)
	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"status": "success",
		"data":   models.Stats{Total: total, Analyzed: analyzed, Pending: total - analyzed},
	})
}
