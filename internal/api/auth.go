package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/parley-ai/parley/internal/auth"
	"github.com/parley-ai/parley/internal/log"
	"github.com/parley-ai/parley/internal/store"
)

// refreshCookieName carries the refresh token between login and refresh.
const refreshCookieName = "refreshToken"

// userStore is the persistence surface consumed by the auth handlers.
type userStore interface {
	CreateUser(ctx context.Context, username, passwordHash string, avatar *string) (*store.User, error)
	User(ctx context.Context, id uuid.UUID) (*store.User, error)
	UserByUsername(ctx context.Context, username string) (*store.User, error)
}

// authHandler serves registration, login and token refresh.
type authHandler struct {
	store         userStore
	tokens        *auth.Tokens
	logger        log.Logger
	secureCookies bool
}

type registerRequest struct {
	Username string  `json:"username"`
	Password string  `json:"password"`
	Avatar   *string `json:"avatar"`
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// userPayload is the user shape returned to clients. The password hash
// never leaves the store layer.
type userPayload struct {
	ID        string  `json:"id"`
	Username  string  `json:"username"`
	Avatar    *string `json:"avatar"`
	CreatedAt string  `json:"createdAt"`
}

func toUserPayload(u *store.User) userPayload {
	return userPayload{
		ID:        u.ID.String(),
		Username:  u.Username,
		Avatar:    u.Avatar,
		CreatedAt: u.CreatedAt.UTC().Format(time.RFC3339),
	}
}

// register handles POST /api/auth/register.
func (h *authHandler) register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, 1, "invalid request body", h.logger)
		return
	}

	if req.Username == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, 1, "Username and password are required", h.logger)
		return
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		h.logger.Error("failed to hash password", "error", err)
		writeError(w, http.StatusInternalServerError, 1, "Internal server error", h.logger)
		return
	}

	user, err := h.store.CreateUser(r.Context(), req.Username, hash, req.Avatar)
	if err != nil {
		if errors.Is(err, store.ErrUsernameTaken) {
			writeError(w, http.StatusBadRequest, 1, "Username already exists", h.logger)
			return
		}
		h.logger.Error("failed to create user", "error", err)
		writeError(w, http.StatusInternalServerError, 1, "Internal server error", h.logger)
		return
	}

	writeOK(w, "register success", map[string]string{"user_id": user.ID.String()}, h.logger)
}

// login handles POST /api/auth/login. On success the refresh token is
// set as an httpOnly cookie and the access token returned in the body.
func (h *authHandler) login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, 1, "invalid request body", h.logger)
		return
	}

	if req.Username == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, 1, "Username and password are required", h.logger)
		return
	}

	user, err := h.store.UserByUsername(r.Context(), req.Username)
	if err != nil {
		if errors.Is(err, store.ErrUserNotFound) {
			writeError(w, http.StatusUnauthorized, 1, "Invalid username or password", h.logger)
			return
		}
		h.logger.Error("failed to look up user", "error", err)
		writeError(w, http.StatusInternalServerError, 1, "Internal server error", h.logger)
		return
	}

	if !auth.CheckPassword(user.Password, req.Password) {
		writeError(w, http.StatusUnauthorized, 1, "Invalid username or password", h.logger)
		return
	}

	p := auth.Principal{UserID: user.ID, Username: user.Username}

	accessToken, err := h.tokens.IssueAccess(p)
	if err != nil {
		h.logger.Error("failed to issue access token", "error", err)
		writeError(w, http.StatusInternalServerError, 1, "Internal server error", h.logger)
		return
	}

	refreshToken, err := h.tokens.IssueRefresh(p)
	if err != nil {
		h.logger.Error("failed to issue refresh token", "error", err)
		writeError(w, http.StatusInternalServerError, 1, "Internal server error", h.logger)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     refreshCookieName,
		Value:    refreshToken,
		Path:     "/api/auth",
		HttpOnly: true,
		Secure:   h.secureCookies,
		SameSite: http.SameSiteStrictMode,
		MaxAge:   int(h.tokens.RefreshTTL().Seconds()),
	})

	writeOK(w, "login success", map[string]any{
		"access_token": accessToken,
		"user":         toUserPayload(user),
	}, h.logger)
}

// refresh handles POST /api/auth/refresh, exchanging a valid refresh
// cookie for a fresh access token.
func (h *authHandler) refresh(w http.ResponseWriter, r *http.Request) {
	cookie, err := r.Cookie(refreshCookieName)
	if err != nil || cookie.Value == "" {
		writeError(w, http.StatusUnauthorized, 1, "Refresh token is required", h.logger)
		return
	}

	p, err := h.tokens.VerifyRefresh(cookie.Value)
	if err != nil {
		writeError(w, http.StatusForbidden, 1, "Invalid or expired refresh token", h.logger)
		return
	}

	accessToken, err := h.tokens.IssueAccess(p)
	if err != nil {
		h.logger.Error("failed to issue access token", "error", err)
		writeError(w, http.StatusInternalServerError, 1, "Internal server error", h.logger)
		return
	}

	writeOK(w, "refresh success", map[string]string{"access_token": accessToken}, h.logger)
}

// me handles GET /api/auth/me for the authenticated principal.
func (h *authHandler) me(w http.ResponseWriter, r *http.Request) {
	p, ok := principalFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, 1, "access token required", h.logger)
		return
	}

	user, err := h.store.User(r.Context(), p.UserID)
	if err != nil {
		if errors.Is(err, store.ErrUserNotFound) {
			writeError(w, http.StatusNotFound, 1, "User not found", h.logger)
			return
		}
		h.logger.Error("failed to load user", "error", err)
		writeError(w, http.StatusInternalServerError, 1, "Internal server error", h.logger)
		return
	}

	writeOK(w, "ok", toUserPayload(user), h.logger)
}
