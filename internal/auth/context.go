package auth

import (
	"context"
	"errors"
)

type contextKey struct{}

// sessionContextKey is the context key for the request's session tokens
var sessionContextKey = contextKey{}

var (
	// ErrNoSessionInContext is returned when no session is found in context
	ErrNoSessionInContext = errors.New("no session in context")
)

// WithSession returns a copy of ctx carrying tokens.
func WithSession(ctx context.Context, tokens Tokens) context.Context {
	return context.WithValue(ctx, sessionContextKey, tokens)
}

// GetSessionFromContext extracts the session read by the session middleware
func GetSessionFromContext(ctx context.Context) (Tokens, error) {
	tokens, ok := ctx.Value(sessionContextKey).(Tokens)
	if !ok {
		return Tokens{}, ErrNoSessionInContext
	}
	return tokens, nil
}

// SessionFromContext returns the session in ctx, or empty tokens when the
// middleware did not run.
func SessionFromContext(ctx context.Context) Tokens {
	tokens, _ := GetSessionFromContext(ctx)
	return tokens
}
