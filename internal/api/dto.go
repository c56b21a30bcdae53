package api

import (
	"context"
	"net/http"
	"net/url"

	"webauth-backend/internal/auth"
)

// UserResponse is the body of GET /api/auth/user. User is null for
// anonymous sessions.
type UserResponse struct {
	User auth.User `json:"user"`
}

// TokensResponse is the body of a successful refresh.
type TokensResponse struct {
	Tokens auth.Tokens `json:"tokens"`
}

// ErrorResponse is the body of every failed auth request.
type ErrorResponse struct {
	Message string              `json:"message"`
	Data    map[string][]string `json:"data,omitempty"`
}

// AuthService 认证服务接口（由 service 层实现）
type AuthService interface {
	// Login dispatches body to the provider it names. Password logins persist
	// the session and return tokens, OAuth logins return the URL to visit.
	Login(ctx context.Context, w http.ResponseWriter, body map[string]any) (*auth.LoginResult, error)
	// Callback completes an OAuth login and returns where to redirect to.
	Callback(ctx context.Context, w http.ResponseWriter, providerKey string, query url.Values) string
	User(ctx context.Context, session auth.Tokens) (auth.User, error)
	Logout(ctx context.Context, w http.ResponseWriter, session auth.Tokens) auth.LogoutResult
	Refresh(ctx context.Context, w http.ResponseWriter, session auth.Tokens) (auth.Tokens, error)
}
