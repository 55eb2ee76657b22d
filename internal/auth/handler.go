package auth

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/b4its/next-kepin/internal/httpx"
	"github.com/b4its/next-kepin/internal/models"
)

// ErrUserExists is returned by UserStore.CreateUser for a taken email.
var ErrUserExists = errors.New("user already exists")

// UserStore defines the interface for user persistence.
type UserStore interface {
	CreateUser(ctx context.Context, name, email, hashedPw string) (*models.User, error)
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
	GetUserByID(ctx context.Context, id string) (*models.User, error)
}

// Sessions is the session storage the handlers need.
type Sessions interface {
	Create(ctx context.Context, userID string) (string, error)
	Get(ctx context.Context, sessionID string) (string, error)
	Delete(ctx context.Context, sessionID string) error
	TTL() time.Duration
}

// Handler holds auth-related HTTP handlers.
type Handler struct {
	users        UserStore
	sessions     Sessions
	secureCookie bool
}

func NewHandler(users UserStore, sessions Sessions, secureCookie bool) *Handler {
	return &Handler{users: users, sessions: sessions, secureCookie: secureCookie}
}

// profile is the public shape of a user.
type profile struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Email  string `json:"email"`
	Avatar string `json:"avatar"`
}

func toProfile(u *models.User) profile {
	avatar := u.Avatar
	if avatar == "" {
		avatar = models.DefaultAvatar
	}
	return profile{ID: u.ID, Name: u.Name, Email: u.Email, Avatar: avatar}
}

// Register creates a new user.
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req models.RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	if req.Name == "" || req.Email == "" || req.Password == "" {
		httpx.Error(w, http.StatusBadRequest, "name, email, and password are required")
		return
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		httpx.Error(w, http.StatusInternalServerError, "internal error")
		return
	}

	user, err := h.users.CreateUser(r.Context(), req.Name, req.Email, string(hashed))
	if errors.Is(err, ErrUserExists) {
		httpx.Error(w, http.StatusConflict, "user already exists")
		return
	}
	if err != nil {
		slog.Error("create user", "error", err)
		httpx.Error(w, http.StatusInternalServerError, "database error")
		return
	}

	httpx.WriteJSON(w, http.StatusCreated, toProfile(user))
}

// Login authenticates a user and creates a session.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req models.LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	user, err := h.users.GetUserByEmail(r.Context(), strings.ToLower(strings.TrimSpace(req.Email)))
	if err != nil || user == nil {
		httpx.Error(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(req.Password)); err != nil {
		httpx.Error(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	sid, err := h.sessions.Create(r.Context(), user.ID)
	if err != nil {
		slog.Error("create session", "error", err)
		httpx.Error(w, http.StatusInternalServerError, "session creation failed")
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookie,
		Value:    sid,
		Path:     "/",
		HttpOnly: true,
		Secure:   h.secureCookie,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   int(h.sessions.TTL() / time.Second),
	})

	httpx.WriteJSON(w, http.StatusOK, toProfile(user))
}

// Logout destroys the current session.
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	if cookie, err := r.Cookie(SessionCookie); err == nil {
		if err := h.sessions.Delete(r.Context(), cookie.Value); err != nil {
			slog.Warn("delete session", "error", err)
		}
	}

	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookie,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		Secure:   h.secureCookie,
		MaxAge:   -1,
	})

	httpx.Message(w, "logged out")
}

// Me returns the currently authenticated user. It reads the session cookie
// itself so the dashboard can probe it without a separate middleware chain.
func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	cookie, err := r.Cookie(SessionCookie)
	if err != nil {
		httpx.Error(w, http.StatusUnauthorized, "not authenticated")
		return
	}
	userID, err := h.sessions.Get(r.Context(), cookie.Value)
	if err != nil || userID == "" {
		httpx.Error(w, http.StatusUnauthorized, "session expired")
		return
	}

	user, err := h.users.GetUserByID(r.Context(), userID)
	if err != nil || user == nil {
		httpx.Error(w, http.StatusUnauthorized, "user not found")
		return
	}

	httpx.WriteJSON(w, http.StatusOK, toProfile(user))
}
