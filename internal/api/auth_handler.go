package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"webauth-backend/internal/auth"

	"github.com/gorilla/mux"
)

// maxBodyBytes bounds login request bodies.
const maxBodyBytes = 1 << 20

// AuthHandler handles authentication endpoints
type AuthHandler struct {
	authService AuthService
}

// NewAuthHandler creates a new auth handler
func NewAuthHandler(authService AuthService) *AuthHandler {
	return &AuthHandler{authService: authService}
}

// RegisterRoutes registers auth routes
func (h *AuthHandler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/auth/login", h.login).Methods(http.MethodPost)
	r.HandleFunc("/auth/logout", h.logout).Methods(http.MethodPost)
	r.HandleFunc("/auth/user", h.user).Methods(http.MethodGet)
	r.HandleFunc("/auth/refresh", h.refresh).Methods(http.MethodPost)
	r.HandleFunc("/auth/callback/{provider}", h.callback).Methods(http.MethodGet)
}

// login starts a login with the provider named in the body
func (h *AuthHandler) login(w http.ResponseWriter, r *http.Request) {
	var body map[string]any
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Message: "invalid JSON body"})
		return
	}
	if body == nil {
		body = map[string]any{}
	}

	result, err := h.authService.Login(r.Context(), w, body)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// logout always succeeds locally
func (h *AuthHandler) logout(w http.ResponseWriter, r *http.Request) {
	result := h.authService.Logout(r.Context(), w, auth.SessionFromContext(r.Context()))
	writeJSON(w, http.StatusOK, result)
}

// user returns the current user, null when anonymous
func (h *AuthHandler) user(w http.ResponseWriter, r *http.Request) {
	user, err := h.authService.User(r.Context(), auth.SessionFromContext(r.Context()))
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, UserResponse{User: user})
}

// refresh exchanges the session tokens for new ones
func (h *AuthHandler) refresh(w http.ResponseWriter, r *http.Request) {
	tokens, err := h.authService.Refresh(r.Context(), w, auth.SessionFromContext(r.Context()))
	if err != nil {
		writeError(w, refreshStatus(err), err)
		return
	}
	writeJSON(w, http.StatusOK, TokensResponse{Tokens: tokens})
}

// callback completes an OAuth login and redirects either way
func (h *AuthHandler) callback(w http.ResponseWriter, r *http.Request) {
	key := mux.Vars(r)["provider"]
	target := h.authService.Callback(r.Context(), w, key, r.URL.Query())
	http.Redirect(w, r, target, http.StatusFound)
}

// statusFor maps an auth error to its HTTP status.
func statusFor(err error) int {
	var (
		verr *auth.ValidationError
		rerr *auth.RemoteError
	)
	switch {
	case errors.As(err, &verr):
		return http.StatusBadRequest
	case errors.Is(err, auth.ErrProviderNotFound):
		return http.StatusInternalServerError
	case errors.Is(err, auth.ErrProviderRequired):
		return http.StatusUnauthorized
	case errors.Is(err, auth.ErrCapabilityNotImplemented), errors.Is(err, auth.ErrRefreshNotConfigured):
		return http.StatusNotImplemented
	case errors.As(err, &rerr):
		if rerr.StatusCode == http.StatusUnauthorized {
			return http.StatusUnauthorized
		}
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// refreshStatus is statusFor for configuration errors. Any other failure
// has cleared the session, so it is a 401.
func refreshStatus(err error) int {
	switch {
	case errors.Is(err, auth.ErrProviderNotFound),
		errors.Is(err, auth.ErrCapabilityNotImplemented),
		errors.Is(err, auth.ErrRefreshNotConfigured):
		return statusFor(err)
	default:
		return http.StatusUnauthorized
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	var verr *auth.ValidationError
	if errors.As(err, &verr) {
		writeJSON(w, status, ErrorResponse{Message: verr.Message, Data: verr.Data})
		return
	}
	writeJSON(w, status, ErrorResponse{Message: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
