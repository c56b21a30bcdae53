// Package google implements the Google OAuth 2.0 / OpenID Connect provider.
package google

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"webauth-backend/internal/auth"
	"webauth-backend/internal/provider/oauth"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2/endpoints"
)

// ProviderName is the default registry key.
const ProviderName = "google"

const (
	// Issuer is Google's OpenID Connect issuer.
	Issuer         = "https://accounts.google.com"
	jwksEndpoint   = "https://www.googleapis.com/oauth2/v3/certs"
	userEndpoint   = "https://www.googleapis.com/oauth2/v3/userinfo"
	revokeEndpoint = "https://oauth2.googleapis.com/revoke"
)

// Config configures the Google provider. Empty endpoints default to Google's.
type Config struct {
	Key           string
	ClientID      string
	ClientSecret  string
	SigningSecret string
	Scopes        []string
	Endpoints     oauth.Endpoints
	// VerifyIDToken enables verification of the id_token returned by the code
	// exchange. KeySet defaults to Google's published JWKS.
	VerifyIDToken bool
	KeySet        oidc.KeySet
	HTTPClient    *http.Client
}

// Provider is the Google OAuth provider.
type Provider struct {
	*oauth.Client
	verifier *oidc.IDTokenVerifier
}

var _ auth.Provider = (*Provider)(nil)

// New creates a Google provider.
func New(cfg Config) (*Provider, error) {
	if cfg.Key == "" {
		cfg.Key = ProviderName
	}
	if cfg.Endpoints.AuthURL == "" {
		cfg.Endpoints.AuthURL = endpoints.Google.AuthURL
	}
	if cfg.Endpoints.TokenURL == "" {
		cfg.Endpoints.TokenURL = endpoints.Google.TokenURL
	}
	if cfg.Endpoints.UserInfoURL == "" {
		cfg.Endpoints.UserInfoURL = userEndpoint
	}
	if cfg.Endpoints.RevokeURL == "" {
		cfg.Endpoints.RevokeURL = revokeEndpoint
	}

	client, err := oauth.NewClient(oauth.Config{
		Key:           cfg.Key,
		ClientID:      cfg.ClientID,
		ClientSecret:  cfg.ClientSecret,
		SigningSecret: cfg.SigningSecret,
		Scopes:        cfg.Scopes,
		Endpoints:     cfg.Endpoints,
		AuthParams: map[string]string{
			"access_type":            "offline",
			"include_granted_scopes": "true",
		},
		HTTPClient: cfg.HTTPClient,
	})
	if err != nil {
		return nil, err
	}

	p := &Provider{Client: client}
	if cfg.VerifyIDToken {
		keySet := cfg.KeySet
		if keySet == nil {
			ctx := oidc.ClientContext(context.Background(), client.HTTPClient())
			keySet = oidc.NewRemoteKeySet(ctx, jwksEndpoint)
		}
		p.verifier = oidc.NewVerifier(Issuer, keySet, &oidc.Config{ClientID: cfg.ClientID})
	}
	return p, nil
}

// Capabilities implements auth.Provider.
func (p *Provider) Capabilities() auth.Capabilities {
	return auth.Capabilities{
		Users:     p.Client,
		Refresher: p.Client,
		Callback:  p,
	}
}

// ExchangeCode exchanges the code and, when enabled, verifies the id_token
// that comes with it before any token is handed out.
func (p *Provider) ExchangeCode(ctx context.Context, code, callbackURL string) (auth.Tokens, error) {
	tok, err := p.Exchange(ctx, code, callbackURL)
	if err != nil {
		return auth.Tokens{}, err
	}

	if p.verifier != nil {
		rawIDToken, ok := tok.Extra("id_token").(string)
		if !ok || rawIDToken == "" {
			return auth.Tokens{}, errors.New("no id_token in token response")
		}
		if _, err := p.verifier.Verify(ctx, rawIDToken); err != nil {
			return auth.Tokens{}, fmt.Errorf("failed to verify id_token: %w", err)
		}
	}

	return p.Tokens(tok, ""), nil
}

// Logout revokes the access token.
func (p *Provider) Logout(ctx context.Context, tokens auth.Tokens) error {
	if tokens.AccessToken == "" {
		return nil
	}
	u, err := url.Parse(p.Endpoints().RevokeURL)
	if err != nil {
		return err
	}
	q := u.Query()
	q.Set("token", tokens.AccessToken)
	u.RawQuery = q.Encode()

	req, err := http.NewRequest(http.MethodPost, u.String(), nil)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	_, err = p.Do(ctx, "revoke", req, auth.Tokens{})
	return err
}
