// Package github implements the GitHub OAuth 2.0 provider.
// GitHub issues no ID token, so the profile comes from the REST API.
package github

import (
	"context"
	"net/http"
	"strings"

	"webauth-backend/internal/auth"
	"webauth-backend/internal/provider/oauth"

	"golang.org/x/oauth2/endpoints"
)

// ProviderName is the default registry key.
const ProviderName = "github"

const (
	userEndpoint  = "https://api.github.com/user"
	emailEndpoint = "https://api.github.com/user/emails"
)

// Config configures the GitHub provider. Empty endpoints default to GitHub's.
type Config struct {
	Key           string
	ClientID      string
	ClientSecret  string
	SigningSecret string
	Scopes        []string
	Endpoints     oauth.Endpoints
	EmailURL      string
	HTTPClient    *http.Client
}

// Provider is the GitHub OAuth provider.
type Provider struct {
	*oauth.Client
	emailURL string
}

var _ auth.Provider = (*Provider)(nil)

// New creates a GitHub provider.
func New(cfg Config) (*Provider, error) {
	if cfg.Key == "" {
		cfg.Key = ProviderName
	}
	if cfg.Endpoints.AuthURL == "" {
		cfg.Endpoints.AuthURL = endpoints.GitHub.AuthURL
	}
	if cfg.Endpoints.TokenURL == "" {
		cfg.Endpoints.TokenURL = endpoints.GitHub.TokenURL
	}
	if cfg.Endpoints.UserInfoURL == "" {
		cfg.Endpoints.UserInfoURL = userEndpoint
	}
	if cfg.EmailURL == "" {
		cfg.EmailURL = emailEndpoint
	}

	client, err := oauth.NewClient(oauth.Config{
		Key:           cfg.Key,
		ClientID:      cfg.ClientID,
		ClientSecret:  cfg.ClientSecret,
		SigningSecret: cfg.SigningSecret,
		Scopes:        cfg.Scopes,
		Endpoints:     cfg.Endpoints,
		AuthParams:    map[string]string{"allow_signup": "true"},
		HTTPClient:    cfg.HTTPClient,
	})
	if err != nil {
		return nil, err
	}
	return &Provider{Client: client, emailURL: cfg.EmailURL}, nil
}

// Capabilities implements auth.Provider.
func (p *Provider) Capabilities() auth.Capabilities {
	return auth.Capabilities{
		Users:     p,
		Refresher: p.Client,
		Callback:  p.Client,
	}
}

// Logout is a no-op: GitHub tokens are not revoked on local logout.
func (p *Provider) Logout(context.Context, auth.Tokens) error {
	return nil
}

type emailInfo struct {
	Email    string `json:"email"`
	Primary  bool   `json:"primary"`
	Verified bool   `json:"verified"`
}

// FetchUser returns the GitHub profile. Users with a private e-mail get it
// filled in from /user/emails when the token allows it.
func (p *Provider) FetchUser(ctx context.Context, tokens auth.Tokens) (auth.User, error) {
	user, err := p.Client.FetchUser(ctx, tokens)
	if err != nil || user == nil {
		return user, err
	}

	if email, _ := user["email"].(string); strings.TrimSpace(email) == "" {
		var emails []emailInfo
		// best-effort: the token may lack the user:email scope
		if err := p.FetchJSON(ctx, p.emailURL, tokens, &emails); err == nil {
			if e := primaryEmail(emails); e != "" {
				user["email"] = e
			}
		}
	}
	return user, nil
}

// primaryEmail prefers the primary verified address, then any verified one,
// then the first one listed.
func primaryEmail(emails []emailInfo) string {
	for _, e := range emails {
		if e.Primary && e.Verified {
			return e.Email
		}
	}
	for _, e := range emails {
		if e.Verified {
			return e.Email
		}
	}
	if len(emails) > 0 {
		return emails[0].Email
	}
	return ""
}
