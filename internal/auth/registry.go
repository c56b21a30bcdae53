package auth

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
)

// LogoutMessage is the message of every logout result.
const LogoutMessage = "Logout successful"

// RegistryOptions configures a Registry.
type RegistryOptions struct {
	// DefaultKey names the default provider. When it is not registered the
	// first registered provider is used instead and a warning is logged.
	DefaultKey string
	Codec      *CookieCodec
	Logger     *slog.Logger
}

// Registry owns the configured providers and runs every session operation
// that starts by resolving the provider named by the session.
// It is immutable after construction and safe for concurrent use.
type Registry struct {
	providers  map[string]Provider
	order      []string
	defaultKey string
	codec      *CookieCodec
	logger     *slog.Logger
}

// NewRegistry creates a registry from at least one provider.
func NewRegistry(opts RegistryOptions, providers ...Provider) (*Registry, error) {
	if len(providers) == 0 {
		return nil, ErrNoProviders
	}
	if opts.Codec == nil {
		opts.Codec = NewCookieCodec(CookieOptions{})
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	r := &Registry{
		providers: make(map[string]Provider, len(providers)),
		codec:     opts.Codec,
		logger:    opts.Logger,
	}
	for _, p := range providers {
		key := p.Key()
		if key == "" {
			return nil, fmt.Errorf("provider %T has an empty key", p)
		}
		if _, dup := r.providers[key]; dup {
			return nil, fmt.Errorf("provider %q registered twice", key)
		}
		r.providers[key] = p
		r.order = append(r.order, key)
	}

	r.defaultKey = opts.DefaultKey
	if _, ok := r.providers[r.defaultKey]; !ok {
		r.logger.Warn("default provider not registered, falling back to first provider",
			"configured", opts.DefaultKey, "fallback", r.order[0])
		r.defaultKey = r.order[0]
	}

	return r, nil
}

// Resolve returns the provider registered under key.
func (r *Registry) Resolve(key string) (Provider, error) {
	p, ok := r.providers[key]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrProviderNotFound, key)
	}
	return p, nil
}

// Default returns the default provider.
func (r *Registry) Default() Provider {
	return r.providers[r.defaultKey]
}

// Keys returns the provider keys in registration order.
func (r *Registry) Keys() []string {
	return append([]string(nil), r.order...)
}

// Codec returns the session cookie codec.
func (r *Registry) Codec() *CookieCodec {
	return r.codec
}

// GetUser returns the user of session. Sessions without a provider and
// providers without a user endpoint yield an anonymous (nil) user.
func (r *Registry) GetUser(ctx context.Context, session Tokens) (User, error) {
	if !session.Present() {
		return nil, nil
	}
	p, err := r.Resolve(session.ProviderKey)
	if err != nil {
		return nil, err
	}
	users := p.Capabilities().Users
	if users == nil {
		return nil, nil
	}
	return users.FetchUser(ctx, session)
}

// Logout attempts the provider's remote logout and then clears the session
// cookies. Remote failures are reported in the result, never returned.
func (r *Registry) Logout(ctx context.Context, w http.ResponseWriter, session Tokens) LogoutResult {
	result := LogoutResult{Message: LogoutMessage}

	if err := r.remoteLogout(context.WithoutCancel(ctx), session); err != nil {
		r.logger.Warn("remote logout failed", "provider", session.ProviderKey, "error", err)
		result.RemoteError = err.Error()
	}

	r.codec.Clear(w)
	return result
}

func (r *Registry) remoteLogout(ctx context.Context, session Tokens) (err error) {
	if !session.Present() {
		return nil
	}
	p, err := r.Resolve(session.ProviderKey)
	if err != nil {
		return err
	}

	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("logout panicked: %v", rec)
		}
	}()
	return p.Logout(ctx, session)
}

// Refresh exchanges the session tokens for new ones and persists them. When
// the provider fails the session is cleared and the error returned.
func (r *Registry) Refresh(ctx context.Context, w http.ResponseWriter, session Tokens) (Tokens, error) {
	if !session.Present() {
		return Tokens{}, ErrProviderRequired
	}
	p, err := r.Resolve(session.ProviderKey)
	if err != nil {
		return Tokens{}, err
	}
	refresher := p.Capabilities().Refresher
	if refresher == nil {
		return Tokens{}, fmt.Errorf("%w: refresh tokens (%s)", ErrCapabilityNotImplemented, session.ProviderKey)
	}

	tokens, err := refresher.RefreshTokens(context.WithoutCancel(ctx), session)
	if err != nil {
		r.logger.Warn("token refresh failed, clearing session", "provider", session.ProviderKey, "error", err)
		r.codec.Clear(w)
		return Tokens{}, err
	}

	r.codec.Write(w, tokens)
	return tokens, nil
}
