package service

import (
	"context"
	"errors"
	"fmt"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"webauth-backend/internal/auth"
	"webauth-backend/internal/metrics"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeOAuth struct {
	signer    *auth.StateSigner
	exchanged []string
}

func (f *fakeOAuth) Key() string { return "fake" }

func (f *fakeOAuth) Login(_ context.Context, req auth.LoginRequest) (*auth.LoginResult, error) {
	state, err := f.signer.Sign(req.RedirectURL())
	if err != nil {
		return nil, err
	}
	return &auth.LoginResult{URL: "https://idp.example.com/authorize?state=" + state}, nil
}

func (f *fakeOAuth) Logout(context.Context, auth.Tokens) error { return nil }

func (f *fakeOAuth) ValidateRequestBody(map[string]any) error { return nil }

func (f *fakeOAuth) Capabilities() auth.Capabilities {
	return auth.Capabilities{Callback: f}
}

func (f *fakeOAuth) VerifyState(state string) (*auth.State, error) {
	return f.signer.Verify(state)
}

func (f *fakeOAuth) ExchangeCode(_ context.Context, code, callbackURL string) (auth.Tokens, error) {
	f.exchanged = append(f.exchanged, callbackURL)
	if code == "bad" {
		return auth.Tokens{}, &auth.RemoteError{Provider: "fake", Op: "token exchange", StatusCode: 400, Body: "invalid_grant"}
	}
	return auth.Tokens{AccessToken: "A-" + code, TokenType: "Bearer", ProviderKey: "fake"}, nil
}

type failingStore struct{}

func (failingStore) Consume(context.Context, string, time.Time) (bool, error) {
	return false, errors.New("store down")
}

type onceStore map[string]bool

func (s onceStore) Consume(_ context.Context, id string, _ time.Time) (bool, error) {
	if s[id] {
		return false, nil
	}
	s[id] = true
	return true, nil
}

func newTestService(t *testing.T, opts Options) (*authService, *fakeOAuth) {
	t.Helper()
	signer, err := auth.NewStateSigner("secret", "fake")
	require.NoError(t, err)
	p := &fakeOAuth{signer: signer}

	registry, err := auth.NewRegistry(auth.RegistryOptions{DefaultKey: "fake"}, p)
	require.NoError(t, err)

	opts.BaseURL = "https://app.example.com"
	return NewAuthService(registry, opts).(*authService), p
}

func signedState(t *testing.T, p *fakeOAuth, redirect string) string {
	t.Helper()
	state, err := p.signer.Sign(redirect)
	require.NoError(t, err)
	return state
}

func TestDefaultRedirects(t *testing.T) {
	s, _ := newTestService(t, Options{})
	assert.Equal(t, "/", s.opts.Redirects.IfLoggedIn)
	assert.Equal(t, "/login", s.opts.Redirects.IfNotLoggedIn)
	assert.Equal(t, "https://app.example.com/api/auth/callback/fake", s.CallbackURL("fake"))
}

func TestFailureRedirectKeepsQuery(t *testing.T) {
	s, _ := newTestService(t, Options{Redirects: Redirects{IfNotLoggedIn: "/signin?next=%2Fhome"}})

	u, err := url.Parse(s.failureRedirect("invalid request state: state expired"))
	require.NoError(t, err)
	assert.Equal(t, "/signin", u.Path)
	assert.Equal(t, "/home", u.Query().Get("next"))
	assert.Equal(t, "invalid request state: state expired", u.Query().Get("error_message"))
}

func TestLoginRequiresProvider(t *testing.T) {
	s, _ := newTestService(t, Options{})

	_, err := s.Login(context.Background(), httptest.NewRecorder(), map[string]any{})
	var verr *auth.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, []string{"provider is required"}, verr.Data["provider"])

	_, err = s.Login(context.Background(), httptest.NewRecorder(), map[string]any{"provider": "nope"})
	assert.ErrorIs(t, err, auth.ErrProviderNotFound)
}

func TestLoginReturnsAuthorizationURL(t *testing.T) {
	s, _ := newTestService(t, Options{})
	rec := httptest.NewRecorder()

	result, err := s.Login(context.Background(), rec, map[string]any{"provider": "fake"})
	require.NoError(t, err)
	assert.Contains(t, result.URL, "state=")
	assert.Nil(t, result.Tokens)
	assert.Empty(t, rec.Result().Cookies())
}

func TestCallback(t *testing.T) {
	m, err := metrics.New()
	require.NoError(t, err)
	s, p := newTestService(t, Options{StateStore: onceStore{}, Metrics: m})

	query := url.Values{"code": {"c1"}, "state": {signedState(t, p, "/dashboard")}}
	rec := httptest.NewRecorder()
	target := s.Callback(context.Background(), rec, "fake", query)

	assert.Equal(t, "/dashboard", target)
	assert.Equal(t, []string{"https://app.example.com/api/auth/callback/fake"}, p.exchanged)
	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 4)

	// replay
	rec = httptest.NewRecorder()
	target = s.Callback(context.Background(), rec, "fake", query)
	u, err := url.Parse(target)
	require.NoError(t, err)
	assert.Equal(t, "/login", u.Path)
	assert.Equal(t, "invalid request state: state already used", u.Query().Get("error_message"))
	assert.Empty(t, rec.Result().Cookies())
	assert.Len(t, p.exchanged, 1)
}

func TestCallbackFailures(t *testing.T) {
	tests := []struct {
		name    string
		store   auth.StateStore
		query   func(t *testing.T, p *fakeOAuth) url.Values
		message string
	}{
		{
			name: "provider error",
			query: func(t *testing.T, p *fakeOAuth) url.Values {
				return url.Values{
					"error":             {"access_denied"},
					"error_description": {"user said no"},
					"state":             {signedState(t, p, "")},
				}
			},
			message: "authorization denied",
		},
		{
			name: "provider error without state",
			query: func(*testing.T, *fakeOAuth) url.Values {
				return url.Values{"error": {"Your account is locked, call +1 555 0100"}}
			},
			message: "invalid request state: missing state",
		},
		{
			name:    "missing state",
			query:   func(*testing.T, *fakeOAuth) url.Values { return url.Values{"code": {"c"}} },
			message: "invalid request state: missing state",
		},
		{
			name:  "store failure",
			store: failingStore{},
			query: func(t *testing.T, p *fakeOAuth) url.Values {
				return url.Values{"code": {"c"}, "state": {signedState(t, p, "")}}
			},
			message: "login failed",
		},
		{
			name: "exchange failure",
			query: func(t *testing.T, p *fakeOAuth) url.Values {
				return url.Values{"code": {"bad"}, "state": {signedState(t, p, "")}}
			},
			message: "login failed",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, p := newTestService(t, Options{StateStore: tt.store})
			rec := httptest.NewRecorder()

			u, err := url.Parse(s.Callback(context.Background(), rec, "fake", tt.query(t, p)))
			require.NoError(t, err)
			assert.Equal(t, "/login", u.Path)
			assert.Equal(t, tt.message, u.Query().Get("error_message"))
			assert.Empty(t, rec.Result().Cookies())
		})
	}
}

// TestCallbackProviderErrorConsumesState 带 error 的回调同样消费 state
func TestCallbackProviderErrorConsumesState(t *testing.T) {
	s, p := newTestService(t, Options{StateStore: onceStore{}})
	state := signedState(t, p, "")

	s.Callback(context.Background(), httptest.NewRecorder(), "fake",
		url.Values{"error": {"access_denied"}, "state": {state}})

	u, err := url.Parse(s.Callback(context.Background(), httptest.NewRecorder(), "fake",
		url.Values{"code": {"c"}, "state": {state}}))
	require.NoError(t, err)
	assert.Equal(t, "invalid request state: state already used", u.Query().Get("error_message"))
	assert.Empty(t, p.exchanged)
}

func TestCallbackRejectsUnsafeRedirect(t *testing.T) {
	for _, redirect := range []string{"/\t/evil.example/phish", "/\n/evil.example", "//evil.example", "https://evil.example"} {
		s, p := newTestService(t, Options{})

		target := s.Callback(context.Background(), httptest.NewRecorder(), "fake",
			url.Values{"code": {"c"}, "state": {signedState(t, p, redirect)}})
		assert.Equal(t, "/", target, redirect)
	}
}

func TestMetricsIgnoreUnknownProviders(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := metrics.Register(reg, reg)
	require.NoError(t, err)
	s, _ := newTestService(t, Options{Metrics: m})
	ctx := context.Background()

	for i := range 20 {
		key := fmt.Sprintf("junk%d", i)
		s.Callback(ctx, httptest.NewRecorder(), key, url.Values{"code": {"c"}})
		s.Logout(ctx, httptest.NewRecorder(), auth.Tokens{AccessToken: "x", ProviderKey: key})
		s.Refresh(ctx, httptest.NewRecorder(), auth.Tokens{AccessToken: "x", ProviderKey: key})
	}

	families, err := reg.Gather()
	require.NoError(t, err)
	series := 0
	for _, mf := range families {
		for _, metric := range mf.GetMetric() {
			series++
			for _, label := range metric.GetLabel() {
				if label.GetName() == "provider" {
					assert.Equal(t, "unknown", label.GetValue(), mf.GetName())
				}
			}
		}
	}
	// callbacks, logouts and refreshes, one failure series each
	assert.Equal(t, 3, series)
}

func TestCallbackDefaultsToIfLoggedIn(t *testing.T) {
	s, p := newTestService(t, Options{Redirects: Redirects{IfLoggedIn: "/home"}})

	target := s.Callback(context.Background(), httptest.NewRecorder(), "fake",
		url.Values{"code": {"c"}, "state": {signedState(t, p, "")}})
	assert.Equal(t, "/home", target)
}
