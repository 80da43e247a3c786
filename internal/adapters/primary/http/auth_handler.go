package http

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/lorrc/incident-sync/internal/auth"
	apperrors "github.com/lorrc/incident-sync/internal/core/errors"
	"golang.org/x/crypto/bcrypt"
)

// LoginRequest is the login request body
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// TokenResponse carries the issued access token
type TokenResponse struct {
	Token string `json:"token"`
}

// AuthHandler issues access tokens for the push stream and the entity API.
// Accounts map usernames to bcrypt password hashes.
type AuthHandler struct {
	accounts     map[string]string
	tokenManager *auth.TokenManager
	errorHandler *ErrorHandler
	logger       *slog.Logger
}

// NewAuthHandler creates a new auth handler
func NewAuthHandler(accounts map[string]string, tm *auth.TokenManager, eh *ErrorHandler, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{
		accounts:     accounts,
		tokenManager: tm,
		errorHandler: eh,
		logger:       logger,
	}
}

// RegisterRoutes registers auth routes on the given router
func (h *AuthHandler) RegisterRoutes(r chi.Router) {
	r.Post("/login", h.HandleLogin)
}

// HandleLogin handles POST /api/v1/auth/login
func (h *AuthHandler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.errorHandler.Handle(w, r, apperrors.NewBadRequestError(err, "Invalid request body"))
		return
	}

	hash, ok := h.accounts[req.Username]
	if !ok {
		// Burn a comparison anyway so absent and wrong-password
		// responses take similar time.
		_ = bcrypt.CompareHashAndPassword([]byte("$2a$10$0000000000000000000000"), []byte(req.Password))
		h.errorHandler.Handle(w, r, apperrors.ErrInvalidCredentials)
		return
	}

	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(req.Password)); err != nil {
		h.errorHandler.Handle(w, r, apperrors.ErrInvalidCredentials)
		return
	}

	token, err := h.tokenManager.GenerateToken(req.Username)
	if err != nil {
		h.errorHandler.Handle(w, r, apperrors.NewInternalError(err))
		return
	}

	h.logger.Info("login succeeded", "username", req.Username)
	WriteSuccess(w, TokenResponse{Token: token})
}
