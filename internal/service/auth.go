package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"

	"webauth-backend/internal/api"
	"webauth-backend/internal/auth"
	"webauth-backend/internal/metrics"
	"webauth-backend/internal/provider/oauth"
)

// unknownProvider labels metrics of keys that name no registered provider.
const unknownProvider = "unknown"

// callbackFailed is the message shown for callback failures whose details
// stay in the log.
const callbackFailed = "login failed"

var errAuthorizationDenied = errors.New("authorization denied")

// Redirects are the destinations of a finished OAuth callback.
type Redirects struct {
	IfLoggedIn    string
	IfNotLoggedIn string
}

// Options configures the auth service.
type Options struct {
	// BaseURL is the public origin of this server, used to build callback URLs.
	BaseURL    string
	Redirects  Redirects
	StateStore auth.StateStore
	Metrics    *metrics.Metrics
	Logger     *slog.Logger
}

// authService 认证服务实现
type authService struct {
	registry *auth.Registry
	opts     Options
	logger   *slog.Logger
}

// NewAuthService 创建 AuthService
func NewAuthService(registry *auth.Registry, opts Options) api.AuthService {
	if opts.Redirects.IfLoggedIn == "" {
		opts.Redirects.IfLoggedIn = "/"
	}
	if opts.Redirects.IfNotLoggedIn == "" {
		opts.Redirects.IfNotLoggedIn = "/login"
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &authService{registry: registry, opts: opts, logger: logger}
}

// CallbackURL returns where provider key sends the user-agent after consent.
func (s *authService) CallbackURL(key string) string {
	return s.opts.BaseURL + "/api/auth/callback/" + key
}

// Login resolves the provider named by body["provider"], validates the body
// and starts the login.
func (s *authService) Login(ctx context.Context, w http.ResponseWriter, body map[string]any) (*auth.LoginResult, error) {
	key, _ := body["provider"].(string)
	if key == "" {
		verr := auth.NewValidationError("Invalid request body: provider required")
		verr.Add("provider", "provider is required")
		return nil, verr
	}

	p, err := s.registry.Resolve(key)
	if err != nil {
		s.logger.Error("login with unknown provider", "provider", key)
		return nil, err
	}
	if err := p.ValidateRequestBody(body); err != nil {
		return nil, err
	}

	result, err := p.Login(context.WithoutCancel(ctx), auth.LoginRequest{
		Body:        body,
		CallbackURL: s.CallbackURL(key),
	})
	s.opts.Metrics.Login(key, err)
	if err != nil {
		s.logger.Warn("login failed", "provider", key, "error", err)
		return nil, err
	}

	if result.Tokens != nil {
		s.registry.Codec().Write(w, *result.Tokens)
		s.logger.Info("user logged in", "provider", key)
	}
	return result, nil
}

// Callback verifies the state, exchanges the code and persists the session.
// Failures never write cookies and redirect with an error_message.
func (s *authService) Callback(ctx context.Context, w http.ResponseWriter, key string, query url.Values) string {
	target, err := s.callback(ctx, w, key, query)
	label := s.metricsLabel(key)
	s.opts.Metrics.Callback(label, err)
	if err != nil {
		var serr *auth.StateError
		if errors.As(err, &serr) {
			s.opts.Metrics.StateRejected(label, serr.Reason)
		}
		s.logger.Warn("oauth callback failed", "provider", key, "error", err)
		return s.failureRedirect(callbackMessage(err))
	}
	s.logger.Info("user logged in", "provider", key)
	return target
}

// metricsLabel returns key when it names a registered provider. Keys come
// from paths and cookies, so anything else shares one label.
func (s *authService) metricsLabel(key string) string {
	if _, err := s.registry.Resolve(key); err != nil {
		return unknownProvider
	}
	return key
}

// callbackMessage is the error_message shown to the browser. State reasons
// are fixed strings; everything else is reduced to its kind.
func callbackMessage(err error) string {
	var serr *auth.StateError
	switch {
	case errors.As(err, &serr):
		return serr.Error()
	case errors.Is(err, errAuthorizationDenied):
		return errAuthorizationDenied.Error()
	case errors.Is(err, auth.ErrProviderNotFound):
		return auth.ErrProviderNotFound.Error()
	case errors.Is(err, auth.ErrCapabilityNotImplemented):
		return auth.ErrCapabilityNotImplemented.Error()
	default:
		return callbackFailed
	}
}

func (s *authService) callback(ctx context.Context, w http.ResponseWriter, key string, query url.Values) (string, error) {
	p, err := s.registry.Resolve(key)
	if err != nil {
		return "", err
	}
	cb := p.Capabilities().Callback
	if cb == nil {
		return "", fmt.Errorf("%w: oauth callback (%s)", auth.ErrCapabilityNotImplemented, key)
	}

	state, err := cb.VerifyState(query.Get("state"))
	if err != nil {
		return "", err
	}
	if s.opts.StateStore != nil {
		first, err := s.opts.StateStore.Consume(ctx, state.ID, state.ExpiresAt)
		if err != nil {
			return "", fmt.Errorf("failed to record state: %w", err)
		}
		if !first {
			return "", &auth.StateError{Reason: "state already used"}
		}
	}

	// the provider's error is only trusted once the state checks out
	if e := query.Get("error"); e != "" {
		if desc := query.Get("error_description"); desc != "" {
			e += ": " + desc
		}
		return "", fmt.Errorf("%w: %s", errAuthorizationDenied, e)
	}

	tokens, err := cb.ExchangeCode(context.WithoutCancel(ctx), query.Get("code"), s.CallbackURL(key))
	if err != nil {
		return "", err
	}
	s.registry.Codec().Write(w, tokens)

	if target := oauth.SafeRedirect(state.RedirectURL); target != "" {
		return target, nil
	}
	return s.opts.Redirects.IfLoggedIn, nil
}

func (s *authService) failureRedirect(message string) string {
	u, err := url.Parse(s.opts.Redirects.IfNotLoggedIn)
	if err != nil {
		return "/?error_message=" + url.QueryEscape(message)
	}
	q := u.Query()
	q.Set("error_message", message)
	u.RawQuery = q.Encode()
	return u.String()
}

// User returns the session's user.
func (s *authService) User(ctx context.Context, session auth.Tokens) (auth.User, error) {
	return s.registry.GetUser(ctx, session)
}

// Logout tears down the session.
func (s *authService) Logout(ctx context.Context, w http.ResponseWriter, session auth.Tokens) auth.LogoutResult {
	result := s.registry.Logout(ctx, w, session)
	if session.Present() {
		s.opts.Metrics.Logout(s.metricsLabel(session.ProviderKey), result.RemoteError != "")
	}
	return result
}

// Refresh renews the session's tokens.
func (s *authService) Refresh(ctx context.Context, w http.ResponseWriter, session auth.Tokens) (auth.Tokens, error) {
	tokens, err := s.registry.Refresh(ctx, w, session)
	if session.Present() {
		s.opts.Metrics.Refresh(s.metricsLabel(session.ProviderKey), err)
	}
	return tokens, err
}
