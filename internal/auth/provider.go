package auth

import (
	"context"
	"time"
)

// Provider is one identity source. Every provider can log in, log out and
// validate a login body; anything else is declared through Capabilities.
type Provider interface {
	// Key is the registry key stamped on every token the provider issues.
	Key() string
	Login(ctx context.Context, req LoginRequest) (*LoginResult, error)
	Logout(ctx context.Context, tokens Tokens) error
	// ValidateRequestBody returns a *ValidationError listing every invalid field.
	ValidateRequestBody(body map[string]any) error
	Capabilities() Capabilities
}

// Capabilities lists the optional capabilities of a provider. A nil field
// means the capability is absent.
type Capabilities struct {
	Users     UserFetcher
	Refresher TokenRefresher
	Callback  CallbackHandler
}

// UserFetcher loads the profile belonging to a set of tokens.
type UserFetcher interface {
	FetchUser(ctx context.Context, tokens Tokens) (User, error)
}

// TokenRefresher exchanges the current tokens for fresh ones.
type TokenRefresher interface {
	RefreshTokens(ctx context.Context, tokens Tokens) (Tokens, error)
}

// CallbackHandler completes an authorization-code round trip.
type CallbackHandler interface {
	VerifyState(state string) (*State, error)
	ExchangeCode(ctx context.Context, code, callbackURL string) (Tokens, error)
}

// StateStore remembers consumed state token ids so that a callback cannot be
// replayed while its state is still unexpired.
type StateStore interface {
	// Consume records id and reports whether this was its first use.
	Consume(ctx context.Context, id string, expiresAt time.Time) (bool, error)
}
