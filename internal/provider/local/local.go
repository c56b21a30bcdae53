// Package local implements the password provider: credentials are posted to
// an application backend and the tokens are read out of its JSON answer.
package local

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"webauth-backend/internal/auth"
)

// ProviderName is the default registry key.
const ProviderName = "local"

const maxErrorBody = 512

// SignInEndpoint configures the login request.
type SignInEndpoint struct {
	Path            string `yaml:"path"`
	Method          string `yaml:"method"`
	TokenKey        string `yaml:"token_key"`
	RefreshTokenKey string `yaml:"refresh_token_key"`
	Body            struct {
		Principal string `yaml:"principal"`
		Password  string `yaml:"password"`
	} `yaml:"body"`
}

// Endpoint is a path and method pair.
type Endpoint struct {
	Path   string `yaml:"path"`
	Method string `yaml:"method"`
}

// UserEndpoint configures the profile request.
type UserEndpoint struct {
	Path    string `yaml:"path"`
	UserKey string `yaml:"user_key"`
}

// RefreshEndpoint configures the refresh request.
type RefreshEndpoint struct {
	Path            string `yaml:"path"`
	Method          string `yaml:"method"`
	TokenKey        string `yaml:"token_key"`
	RefreshTokenKey string `yaml:"refresh_token_key"`
	Body            struct {
		Token        string `yaml:"token"`
		RefreshToken string `yaml:"refresh_token"`
	} `yaml:"body"`
}

// Config configures the password provider. A nil SignOut, User or
// RefreshToken endpoint disables that operation.
type Config struct {
	Key          string           `yaml:"key"`
	BaseURL      string           `yaml:"base_url"`
	SignIn       SignInEndpoint   `yaml:"sign_in"`
	SignOut      *Endpoint        `yaml:"sign_out"`
	User         *UserEndpoint    `yaml:"user"`
	RefreshToken *RefreshEndpoint `yaml:"refresh_token"`
	TokenType    string           `yaml:"token_type"`
	Separator    string           `yaml:"separator"`
	HTTPClient   *http.Client     `yaml:"-"`
}

func (c *Config) applyDefaults() {
	if c.Key == "" {
		c.Key = ProviderName
	}
	if c.SignIn.Path == "" {
		c.SignIn.Path = "/signin"
	}
	if c.SignIn.Method == "" {
		c.SignIn.Method = http.MethodPost
	}
	if c.SignIn.TokenKey == "" {
		c.SignIn.TokenKey = "token"
	}
	if c.SignIn.RefreshTokenKey == "" {
		c.SignIn.RefreshTokenKey = "refresh_token"
	}
	if c.SignIn.Body.Principal == "" {
		c.SignIn.Body.Principal = "username"
	}
	if c.SignIn.Body.Password == "" {
		c.SignIn.Body.Password = "password"
	}
	if c.SignOut != nil && c.SignOut.Method == "" {
		c.SignOut.Method = http.MethodPost
	}
	if r := c.RefreshToken; r != nil {
		if r.Method == "" {
			r.Method = http.MethodPost
		}
		if r.TokenKey == "" {
			r.TokenKey = c.SignIn.TokenKey
		}
		if r.RefreshTokenKey == "" {
			r.RefreshTokenKey = c.SignIn.RefreshTokenKey
		}
		if r.Body.Token == "" {
			r.Body.Token = "token"
		}
		if r.Body.RefreshToken == "" {
			r.Body.RefreshToken = "refresh_token"
		}
	}
	if c.Separator == "" {
		c.Separator = auth.DefaultPathSeparator
	}
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: 10 * time.Second}
	}
}

// Provider is the password provider.
type Provider struct {
	cfg Config
}

var _ auth.Provider = (*Provider)(nil)

// New creates a password provider. TokenType is used verbatim; pass "Bearer"
// for the usual scheme.
func New(cfg Config) (*Provider, error) {
	cfg.applyDefaults()
	if cfg.SignIn.Method == http.MethodGet {
		return nil, errors.New("local: sign-in must not use GET")
	}
	return &Provider{cfg: cfg}, nil
}

// Key implements auth.Provider.
func (p *Provider) Key() string {
	return p.cfg.Key
}

// Capabilities implements auth.Provider.
func (p *Provider) Capabilities() auth.Capabilities {
	caps := auth.Capabilities{Users: p}
	if p.cfg.RefreshToken != nil {
		caps.Refresher = p
	}
	return caps
}

// ValidateRequestBody checks that both credentials are present and reports
// every missing one.
func (p *Provider) ValidateRequestBody(body map[string]any) error {
	verr := auth.NewValidationError("Invalid request body: principal and password required")
	if !nonEmpty(body["principal"]) {
		verr.Add("principal", "principal is required")
	}
	if !nonEmpty(body["password"]) {
		verr.Add("password", "password is required")
	}
	if verr.HasErrors() {
		return verr
	}
	return nil
}

func nonEmpty(v any) bool {
	switch v := v.(type) {
	case nil:
		return false
	case string:
		return v != ""
	default:
		return true
	}
}

// Login posts the credentials to the sign-in endpoint.
func (p *Provider) Login(ctx context.Context, req auth.LoginRequest) (*auth.LoginResult, error) {
	in := p.cfg.SignIn
	body := map[string]any{
		in.Body.Principal: req.Body["principal"],
		in.Body.Password:  req.Body["password"],
	}

	raw, err := p.send(ctx, "login", in.Method, in.Path, nil, body, auth.Tokens{})
	if err != nil {
		return nil, err
	}

	tokens, err := p.extractTokens("login", raw, in.TokenKey, in.RefreshTokenKey)
	if err != nil {
		return nil, err
	}
	return &auth.LoginResult{Tokens: &tokens}, nil
}

// FetchUser returns the user object, or nil when no user endpoint is
// configured.
func (p *Provider) FetchUser(ctx context.Context, tokens auth.Tokens) (auth.User, error) {
	if p.cfg.User == nil {
		return nil, nil
	}
	raw, err := p.send(ctx, "fetch user", http.MethodGet, p.cfg.User.Path, nil, nil, tokens)
	if err != nil {
		return nil, err
	}
	user, ok := auth.ExtractUser(raw, p.cfg.User.UserKey, p.cfg.Separator)
	if !ok {
		return nil, nil
	}
	return user, nil
}

// Logout calls the sign-out endpoint. Without one it does nothing.
func (p *Provider) Logout(ctx context.Context, tokens auth.Tokens) error {
	if p.cfg.SignOut == nil {
		return nil
	}
	_, err := p.send(ctx, "logout", p.cfg.SignOut.Method, p.cfg.SignOut.Path, nil, nil, tokens)
	return err
}

// RefreshTokens sends the current tokens to the refresh endpoint. GET sends
// them as query parameters, every other method as a JSON body.
func (p *Provider) RefreshTokens(ctx context.Context, tokens auth.Tokens) (auth.Tokens, error) {
	rt := p.cfg.RefreshToken
	if rt == nil {
		return auth.Tokens{}, auth.ErrRefreshNotConfigured
	}

	var (
		query url.Values
		body  map[string]any
	)
	if rt.Method == http.MethodGet {
		query = url.Values{}
		query.Set(rt.Body.Token, tokens.AccessToken)
		if tokens.RefreshToken != "" {
			query.Set(rt.Body.RefreshToken, tokens.RefreshToken)
		}
	} else {
		body = map[string]any{rt.Body.Token: tokens.AccessToken}
		if tokens.RefreshToken != "" {
			body[rt.Body.RefreshToken] = tokens.RefreshToken
		}
	}

	raw, err := p.send(ctx, "refresh", rt.Method, rt.Path, query, body, tokens)
	if err != nil {
		return auth.Tokens{}, err
	}

	fresh, err := p.extractTokens("refresh", raw, rt.TokenKey, rt.RefreshTokenKey)
	if err != nil {
		return auth.Tokens{}, err
	}
	if fresh.RefreshToken == "" {
		fresh.RefreshToken = tokens.RefreshToken
	}
	return fresh, nil
}

func (p *Provider) extractTokens(op string, raw []byte, tokenKey, refreshKey string) (auth.Tokens, error) {
	access, ok := auth.ExtractString(raw, tokenKey, p.cfg.Separator)
	if !ok || access == "" {
		return auth.Tokens{}, &auth.RemoteError{
			Provider: p.cfg.Key,
			Op:       op,
			Err:      fmt.Errorf("no token at %q in response", tokenKey),
		}
	}
	refresh, _ := auth.ExtractString(raw, refreshKey, p.cfg.Separator)
	return auth.Tokens{
		AccessToken:  access,
		RefreshToken: refresh,
		TokenType:    p.cfg.TokenType,
		ProviderKey:  p.cfg.Key,
	}, nil
}

func (p *Provider) resolve(path string) string {
	if p.cfg.BaseURL == "" || strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return path
	}
	return strings.TrimRight(p.cfg.BaseURL, "/") + "/" + strings.TrimLeft(path, "/")
}

func (p *Provider) send(ctx context.Context, op, method, path string, query url.Values, body map[string]any, tokens auth.Tokens) ([]byte, error) {
	target := p.resolve(path)
	if len(query) > 0 {
		sep := "?"
		if strings.Contains(target, "?") {
			sep = "&"
		}
		target += sep + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal %s request: %w", op, err)
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return nil, &auth.RemoteError{Provider: p.cfg.Key, Op: op, Err: err}
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if h := tokens.AuthorizationHeader(); h != "" {
		req.Header.Set("Authorization", h)
	}

	resp, err := p.cfg.HTTPClient.Do(req)
	if err != nil {
		return nil, &auth.RemoteError{Provider: p.cfg.Key, Op: op, Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &auth.RemoteError{Provider: p.cfg.Key, Op: op, StatusCode: resp.StatusCode, Err: err}
	}
	if resp.StatusCode/100 != 2 {
		msg := strings.TrimSpace(string(raw))
		if len(msg) > maxErrorBody {
			msg = msg[:maxErrorBody]
		}
		return nil, &auth.RemoteError{Provider: p.cfg.Key, Op: op, StatusCode: resp.StatusCode, Body: msg}
	}
	return raw, nil
}
