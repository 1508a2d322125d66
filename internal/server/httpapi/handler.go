// Package httpapi exposes the session lifecycle over HTTP with a uniform
// JSON envelope. Credential and token failures map to 401, duplicate email
// to 409, malformed payloads to 400, everything else to 500.
package httpapi

import (
	"context"
	"errors"
	"net/http"

	"github.com/mbalashov/sessiond/internal/common"
	"github.com/mbalashov/sessiond/internal/logging"
	"github.com/mbalashov/sessiond/internal/server/models"
	"github.com/mbalashov/sessiond/internal/server/services"
)

// SessionService is the part of the service layer the handlers use.
type SessionService interface {
	Register(ctx context.Context, email, name string, password []byte) (*models.User, *services.TokenPair, error)
	Login(ctx context.Context, email string, password []byte) (*models.User, *services.TokenPair, error)
	Refresh(ctx context.Context, refreshToken string) (*services.TokenPair, error)
	Logout(ctx context.Context, refreshToken string) error
	ChangePassword(ctx context.Context, userID string, currentPassword, newPassword []byte) error
	GetUser(ctx context.Context, userID string) (*models.User, error)
}

type Handler struct {
	service   SessionService
	logger    logging.Logger
	jwtSecret []byte
}

func NewHandler(service SessionService, logger logging.Logger, jwtSecret []byte) *Handler {
	return &Handler{service: service, logger: logger, jwtSecret: jwtSecret}
}

// Routes returns the full route table.
func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/auth/register", h.register)
	mux.HandleFunc("POST /api/auth/login", h.login)
	mux.HandleFunc("POST /api/auth/refresh", h.refresh)
	mux.HandleFunc("POST /api/auth/logout", h.logout)
	mux.HandleFunc("POST /api/auth/password", h.requireBearer(h.changePassword))
	mux.HandleFunc("GET /api/auth/me", h.requireBearer(h.me))
	return mux
}

func (h *Handler) register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Email == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "validation failed", "email and password are required")
		return
	}

	user, pair, err := h.service.Register(r.Context(), req.Email, req.Name, []byte(req.Password))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusCreated, sessionPayload{
		User:         toUserPayload(user),
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
	})
}

func (h *Handler) login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	user, pair, err := h.service.Login(r.Context(), req.Email, []byte(req.Password))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, sessionPayload{
		User:         toUserPayload(user),
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
	})
}

func (h *Handler) refresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	pair, err := h.service.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, tokenPayload{
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
	})
}

// logout always answers 200: revoking an already-revoked token is success.
func (h *Handler) logout(w http.ResponseWriter, r *http.Request) {
	var req logoutRequest
	if err := decodeJSON(w, r, &req); err != nil {
		// A missing or broken body means there is no token to revoke.
		writeSuccess(w, http.StatusOK, nil)
		return
	}
	if err := h.service.Logout(r.Context(), req.RefreshToken); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, nil)
}

func (h *Handler) changePassword(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing bearer token")
		return
	}

	var req changePasswordRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.NewPassword == "" {
		writeError(w, http.StatusBadRequest, "validation failed", "new password is required")
		return
	}

	err := h.service.ChangePassword(r.Context(), userID, []byte(req.CurrentPassword), []byte(req.NewPassword))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, nil)
}

func (h *Handler) me(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing bearer token")
		return
	}

	user, err := h.service.GetUser(r.Context(), userID)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, userResponse{User: toUserPayload(user)})
}

// writeServiceError translates service-layer sentinels into wire statuses.
func (h *Handler) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, common.ErrEmailTaken):
		writeError(w, http.StatusConflict, "email already registered")
	case errors.Is(err, common.ErrInvalidCredentials):
		writeError(w, http.StatusUnauthorized, "invalid credentials")
	case errors.Is(err, common.ErrInvalidRefreshToken):
		writeError(w, http.StatusUnauthorized, "invalid refresh token")
	case errors.Is(err, common.ErrRefreshTokenExpired):
		writeError(w, http.StatusUnauthorized, "refresh token expired")
	case errors.Is(err, common.ErrUserNotFound):
		writeError(w, http.StatusUnauthorized, "user not found")
	default:
		h.logger.Error(r.Context(), "request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
