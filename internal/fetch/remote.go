package fetch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"strings"
	"time"

	"webauth-backend/internal/auth"
)

// RemoteSession drives the auth routes of a running server. The session
// cookies live in its cookie jar, so refresh and logout act on the session
// established by Login.
type RemoteSession struct {
	baseURL string
	http    *http.Client
}

// NewRemoteSession creates a session against the server at baseURL.
func NewRemoteSession(baseURL string) (*RemoteSession, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}
	return &RemoteSession{
		baseURL: strings.TrimRight(baseURL, "/"),
		http: &http.Client{
			Jar:     jar,
			Timeout: 30 * time.Second,
			// callbacks answer with redirects that must not be followed
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}, nil
}

var _ Session = (*RemoteSession)(nil)

// Login posts body to /api/auth/login.
func (s *RemoteSession) Login(ctx context.Context, body map[string]any) (*auth.LoginResult, error) {
	var result auth.LoginResult
	if err := s.post(ctx, "/api/auth/login", body, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Refresh posts to /api/auth/refresh and returns the new tokens.
func (s *RemoteSession) Refresh(ctx context.Context) (auth.Tokens, error) {
	var out struct {
		Tokens auth.Tokens `json:"tokens"`
	}
	if err := s.post(ctx, "/api/auth/refresh", nil, &out); err != nil {
		return auth.Tokens{}, err
	}
	return out.Tokens, nil
}

// Logout posts to /api/auth/logout.
func (s *RemoteSession) Logout(ctx context.Context) error {
	return s.post(ctx, "/api/auth/logout", nil, nil)
}

// User returns the session user, nil when anonymous.
func (s *RemoteSession) User(ctx context.Context) (auth.User, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"/api/auth/user", nil)
	if err != nil {
		return nil, err
	}
	var out struct {
		User auth.User `json:"user"`
	}
	if err := s.do(req, &out); err != nil {
		return nil, err
	}
	return out.User, nil
}

func (s *RemoteSession) post(ctx context.Context, path string, body any, out any) error {
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		r = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+path, r)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return s.do(req, out)
}

func (s *RemoteSession) do(req *http.Request, out any) error {
	req.Header.Set("Accept", "application/json")
	resp, err := s.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		var e struct {
			Message string `json:"message"`
		}
		if json.Unmarshal(raw, &e) == nil && e.Message != "" {
			return fmt.Errorf("%s %s: status %d: %s", req.Method, req.URL.Path, resp.StatusCode, e.Message)
		}
		return fmt.Errorf("%s %s: status %d", req.Method, req.URL.Path, resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", req.URL.Path, err)
	}
	return nil
}
