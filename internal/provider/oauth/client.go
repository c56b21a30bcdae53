// Package oauth holds the authorization-code plumbing shared by the OAuth
// providers: authorization URLs with signed state, code exchange, refresh and
// authenticated profile requests.
package oauth

import (
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

	"golang.org/x/oauth2"
)

// maxErrorBody caps how much of a failed response is kept in a RemoteError.
const maxErrorBody = 512

// Endpoints are the remote URLs of one identity service.
type Endpoints struct {
	AuthURL     string
	TokenURL    string
	UserInfoURL string
	RevokeURL   string
}

// Config configures a Client.
type Config struct {
	Key           string
	ClientID      string
	ClientSecret  string
	SigningSecret string
	Scopes        []string
	Endpoints     Endpoints
	// AuthParams are extra authorization URL parameters.
	AuthParams map[string]string
	HTTPClient *http.Client
}

// Client wraps an oauth2 configuration for one provider.
type Client struct {
	key          string
	oauth2Config oauth2.Config
	endpoints    Endpoints
	authOpts     []oauth2.AuthCodeOption
	signer       *auth.StateSigner
	http         *http.Client
}

// NewClient creates a new OAuth client
func NewClient(cfg Config) (*Client, error) {
	if cfg.Key == "" {
		return nil, errors.New("oauth: provider key is required")
	}
	if cfg.ClientID == "" {
		return nil, fmt.Errorf("oauth %s: client_id is required", cfg.Key)
	}
	signer, err := auth.NewStateSigner(cfg.SigningSecret, cfg.Key)
	if err != nil {
		return nil, fmt.Errorf("oauth %s: %w", cfg.Key, err)
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}

	authOpts := make([]oauth2.AuthCodeOption, 0, len(cfg.AuthParams))
	for k, v := range cfg.AuthParams {
		authOpts = append(authOpts, oauth2.SetAuthURLParam(k, v))
	}

	return &Client{
		key: cfg.Key,
		oauth2Config: oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Endpoint: oauth2.Endpoint{
				AuthURL:   cfg.Endpoints.AuthURL,
				TokenURL:  cfg.Endpoints.TokenURL,
				AuthStyle: oauth2.AuthStyleInParams,
			},
			Scopes: cfg.Scopes,
		},
		endpoints: cfg.Endpoints,
		authOpts:  authOpts,
		signer:    signer,
		http:      httpClient,
	}, nil
}

// Key returns the provider key.
func (c *Client) Key() string {
	return c.key
}

// Endpoints returns the configured endpoints.
func (c *Client) Endpoints() Endpoints {
	return c.endpoints
}

// HTTPClient returns the client used for provider requests.
func (c *Client) HTTPClient() *http.Client {
	return c.http
}

// Signer returns the state signer.
func (c *Client) Signer() *auth.StateSigner {
	return c.signer
}

// config returns a per-call copy with the redirect URL set.
func (c *Client) config(callbackURL string) *oauth2.Config {
	cfg := c.oauth2Config
	cfg.RedirectURL = callbackURL
	return &cfg
}

func (c *Client) context(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, c.http)
}

// Login returns the authorization URL the user-agent must visit. The state
// parameter is a signed token carrying the post-login redirect path.
func (c *Client) Login(_ context.Context, req auth.LoginRequest) (*auth.LoginResult, error) {
	state, err := c.signer.Sign(SafeRedirect(req.RedirectURL()))
	if err != nil {
		return nil, err
	}
	return &auth.LoginResult{
		URL: c.config(req.CallbackURL).AuthCodeURL(state, c.authOpts...),
	}, nil
}

// VerifyState checks a state token returned to the callback.
func (c *Client) VerifyState(state string) (*auth.State, error) {
	return c.signer.Verify(state)
}

// Exchange exchanges an authorization code for an oauth2 token.
func (c *Client) Exchange(ctx context.Context, code, callbackURL string) (*oauth2.Token, error) {
	if code == "" {
		return nil, errors.New("missing authorization code")
	}
	tok, err := c.config(callbackURL).Exchange(c.context(ctx), code)
	if err != nil {
		return nil, c.remoteError("token exchange", err)
	}
	return tok, nil
}

// ExchangeCode exchanges an authorization code for canonical tokens.
func (c *Client) ExchangeCode(ctx context.Context, code, callbackURL string) (auth.Tokens, error) {
	tok, err := c.Exchange(ctx, code, callbackURL)
	if err != nil {
		return auth.Tokens{}, err
	}
	return c.Tokens(tok, ""), nil
}

// RefreshTokens sends grant_type=refresh_token with the stored refresh token.
// The previous refresh token is kept when the response carries none.
func (c *Client) RefreshTokens(ctx context.Context, tokens auth.Tokens) (auth.Tokens, error) {
	if tokens.RefreshToken == "" {
		return auth.Tokens{}, errors.New("no refresh token found")
	}

	ts := c.oauth2Config.TokenSource(c.context(ctx), &oauth2.Token{
		RefreshToken: tokens.RefreshToken,
	})
	tok, err := ts.Token()
	if err != nil {
		return auth.Tokens{}, c.remoteError("refresh", err)
	}
	return c.Tokens(tok, tokens.RefreshToken), nil
}

// Tokens maps an oauth2 token onto canonical tokens stamped with the provider key.
func (c *Client) Tokens(tok *oauth2.Token, previousRefresh string) auth.Tokens {
	refresh := tok.RefreshToken
	if refresh == "" {
		refresh = previousRefresh
	}
	return auth.Tokens{
		AccessToken:  tok.AccessToken,
		RefreshToken: refresh,
		TokenType:    tok.Type(),
		ProviderKey:  c.key,
	}
}

// Do sends req with the session's authorization header and returns the body
// of a 2xx response.
func (c *Client) Do(ctx context.Context, op string, req *http.Request, tokens auth.Tokens) ([]byte, error) {
	req = req.WithContext(ctx)
	if h := tokens.AuthorizationHeader(); h != "" {
		req.Header.Set("Authorization", h)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &auth.RemoteError{Provider: c.key, Op: op, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &auth.RemoteError{Provider: c.key, Op: op, StatusCode: resp.StatusCode, Err: err}
	}
	if resp.StatusCode/100 != 2 {
		return nil, &auth.RemoteError{Provider: c.key, Op: op, StatusCode: resp.StatusCode, Body: truncate(body)}
	}
	return body, nil
}

// FetchJSON GETs url with the session's authorization header and decodes the
// JSON object it returns.
func (c *Client) FetchJSON(ctx context.Context, url string, tokens auth.Tokens, out any) error {
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	body, err := c.Do(ctx, "fetch user", req, tokens)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return &auth.RemoteError{Provider: c.key, Op: "fetch user", Err: fmt.Errorf("failed to decode response: %w", err)}
	}
	return nil
}

// FetchUser GETs the profile endpoint.
func (c *Client) FetchUser(ctx context.Context, tokens auth.Tokens) (auth.User, error) {
	var user auth.User
	if err := c.FetchJSON(ctx, c.endpoints.UserInfoURL, tokens, &user); err != nil {
		return nil, err
	}
	return user, nil
}

// ValidateRequestBody accepts any body: OAuth logins only carry an optional
// redirect hint.
func (c *Client) ValidateRequestBody(map[string]any) error {
	return nil
}

func (c *Client) remoteError(op string, err error) error {
	re := &auth.RemoteError{Provider: c.key, Op: op, Err: err}
	var rErr *oauth2.RetrieveError
	if errors.As(err, &rErr) {
		re.Err = nil
		if rErr.Response != nil {
			re.StatusCode = rErr.Response.StatusCode
		}
		re.Body = rErr.ErrorCode
		if rErr.ErrorDescription != "" {
			re.Body += " " + rErr.ErrorDescription
		}
		if re.Body == "" {
			re.Body = truncate(rErr.Body)
		}
	}
	return re
}

// SafeRedirect keeps only same-site absolute paths, so a login request cannot
// turn the callback into an open redirect. Browsers drop tabs and newlines
// and read "\\" as "/", so targets containing either are refused outright.
func SafeRedirect(target string) string {
	if !strings.HasPrefix(target, "/") || strings.HasPrefix(target, "//") {
		return ""
	}
	if strings.ContainsFunc(target, func(r rune) bool {
		return r < 0x20 || r == 0x7f || r == '\\'
	}) {
		return ""
	}
	u, err := url.Parse(target)
	if err != nil || u.Scheme != "" || u.Host != "" || !strings.HasPrefix(u.Path, "/") || strings.HasPrefix(u.Path, "//") {
		return ""
	}
	return target
}

func truncate(b []byte) string {
	s := strings.TrimSpace(string(b))
	if len(s) > maxErrorBody {
		s = s[:maxErrorBody]
	}
	return s
}
