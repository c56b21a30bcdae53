package api_test

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"webauth-backend/internal/api"
	"webauth-backend/internal/auth"
	"webauth-backend/internal/data"
	"webauth-backend/internal/metrics"
	"webauth-backend/internal/provider/github"
	"webauth-backend/internal/provider/local"
	"webauth-backend/internal/provider/oauth"
	"webauth-backend/internal/service"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const baseURL = "http://app.test"

// backend fakes the password backend and the OAuth identity provider.
func backend(t *testing.T) *httptest.Server {
	t.Helper()
	m := http.NewServeMux()
	m.HandleFunc("/signin", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		json.NewDecoder(r.Body).Decode(&body)
		switch body["password"] {
		case "x":
			w.Write([]byte(`{"data":{"token":"T1","refresh_token":"R1"}}`))
		case "boom":
			w.WriteHeader(http.StatusInternalServerError)
		default:
			w.WriteHeader(http.StatusUnauthorized)
		}
	})
	m.HandleFunc("/me", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer T1" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Write([]byte(`{"user":{"id":"u1","email":"a@b.com"}}`))
	})
	m.HandleFunc("/signout", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	m.HandleFunc("/oauth/token", func(w http.ResponseWriter, r *http.Request) {
		r.ParseForm()
		if r.PostForm.Get("code") != "good-code" {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte(`{"error":"bad_verification_code"}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"access_token":"G1","token_type":"bearer","scope":"read:user"}`))
	})
	srv := httptest.NewServer(m)
	t.Cleanup(srv.Close)
	return srv
}

type testApp struct {
	router http.Handler
	codec  *auth.CookieCodec
	gh     *github.Provider
}

func newTestApp(t *testing.T) *testApp {
	t.Helper()
	be := backend(t)

	cfg := local.Config{
		BaseURL:   be.URL,
		TokenType: "Bearer",
		User:      &local.UserEndpoint{Path: "/me", UserKey: "user"},
		SignOut:   &local.Endpoint{Path: "/signout"},
	}
	cfg.SignIn.TokenKey = "data.token"
	cfg.SignIn.RefreshTokenKey = "data.refresh_token"
	lp, err := local.New(cfg)
	require.NoError(t, err)

	gh, err := github.New(github.Config{
		ClientID:      "cid",
		ClientSecret:  "csecret",
		SigningSecret: "github-secret",
		Endpoints: oauth.Endpoints{
			AuthURL:     be.URL + "/oauth/authorize",
			TokenURL:    be.URL + "/oauth/token",
			UserInfoURL: be.URL + "/user",
		},
	})
	require.NoError(t, err)

	codec := auth.NewCookieCodec(auth.CookieOptions{})
	registry, err := auth.NewRegistry(auth.RegistryOptions{DefaultKey: "local", Codec: codec}, lp, gh)
	require.NoError(t, err)

	m, err := metrics.New()
	require.NoError(t, err)

	svc := service.NewAuthService(registry, service.Options{
		BaseURL:    baseURL,
		Redirects:  service.Redirects{IfLoggedIn: "/", IfNotLoggedIn: "/login"},
		StateStore: data.NewMemoryStateStore(),
		Metrics:    m,
	})
	router := api.NewRouter(api.NewAuthHandler(svc), api.RouterOptions{
		SessionMiddleware: codec.SessionMiddleware(),
		Metrics:           m,
	})
	return &testApp{router: router, codec: codec, gh: gh}
}

func (a *testApp) do(method, target, body string, cookies []*http.Cookie) *httptest.ResponseRecorder {
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, r)
	for _, c := range cookies {
		req.AddCookie(&http.Cookie{Name: c.Name, Value: c.Value})
	}
	rec := httptest.NewRecorder()
	a.router.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func liveCookies(rec *httptest.ResponseRecorder) []*http.Cookie {
	var out []*http.Cookie
	for _, c := range rec.Result().Cookies() {
		if c.MaxAge >= 0 {
			out = append(out, c)
		}
	}
	return out
}

func TestLoginLocal(t *testing.T) {
	app := newTestApp(t)

	rec := app.do(http.MethodPost, "/api/auth/login", `{"provider":"local","principal":"a@b.com","password":"x"}`, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	out := decode(t, rec)
	assert.Equal(t, map[string]any{
		"accessToken":  "T1",
		"refreshToken": "R1",
		"tokenType":    "Bearer",
		"provider":     "local",
	}, out["tokens"])

	cookies := liveCookies(rec)
	assert.Len(t, cookies, 4)
}

// TestLoginMissingPassword 缺少密码返回 400 和字段错误
func TestLoginMissingPassword(t *testing.T) {
	app := newTestApp(t)

	rec := app.do(http.MethodPost, "/api/auth/login", `{"provider":"local","principal":"a@b.com"}`, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	out := decode(t, rec)
	assert.Equal(t, map[string]any{"password": []any{"password is required"}}, out["data"])
	assert.Empty(t, rec.Result().Cookies())
}

func TestLoginErrors(t *testing.T) {
	app := newTestApp(t)

	tests := []struct {
		name string
		body string
		code int
	}{
		{"invalid json", `{`, http.StatusBadRequest},
		{"missing provider", `{"principal":"a","password":"x"}`, http.StatusBadRequest},
		{"unknown provider", `{"provider":"ldap"}`, http.StatusInternalServerError},
		{"both fields missing", `{"provider":"local"}`, http.StatusBadRequest},
		{"wrong password", `{"provider":"local","principal":"a","password":"nope"}`, http.StatusUnauthorized},
		{"backend failure", `{"provider":"local","principal":"a","password":"boom"}`, http.StatusBadGateway},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := app.do(http.MethodPost, "/api/auth/login", tt.body, nil)
			assert.Equal(t, tt.code, rec.Code, rec.Body.String())
			assert.Empty(t, rec.Result().Cookies())
		})
	}

	rec := app.do(http.MethodPost, "/api/auth/login", `{"provider":"local"}`, nil)
	data := decode(t, rec)["data"].(map[string]any)
	assert.Contains(t, data, "principal")
	assert.Contains(t, data, "password")

	rec = app.do(http.MethodPost, "/api/auth/login", `{}`, nil)
	assert.Contains(t, decode(t, rec)["data"], "provider")
}

func TestUser(t *testing.T) {
	app := newTestApp(t)

	rec := app.do(http.MethodGet, "/api/auth/user", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Nil(t, decode(t, rec)["user"])

	login := app.do(http.MethodPost, "/api/auth/login", `{"provider":"local","principal":"a","password":"x"}`, nil)
	rec = app.do(http.MethodGet, "/api/auth/user", "", liveCookies(login))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, map[string]any{"id": "u1", "email": "a@b.com"}, decode(t, rec)["user"])
}

func TestLogoutAlwaysClearsSession(t *testing.T) {
	app := newTestApp(t)
	login := app.do(http.MethodPost, "/api/auth/login", `{"provider":"local","principal":"a","password":"x"}`, nil)

	rec := app.do(http.MethodPost, "/api/auth/logout", "", liveCookies(login))
	require.Equal(t, http.StatusOK, rec.Code)

	out := decode(t, rec)
	assert.Equal(t, auth.LogoutMessage, out["message"])
	assert.Contains(t, out["remote_error"], "503")

	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 4)
	for _, c := range cookies {
		assert.Empty(t, c.Value)
		assert.Less(t, c.MaxAge, 0)
	}
}

func TestRefresh(t *testing.T) {
	app := newTestApp(t)

	rec := app.do(http.MethodPost, "/api/auth/refresh", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	login := app.do(http.MethodPost, "/api/auth/login", `{"provider":"local","principal":"a","password":"x"}`, nil)
	rec = app.do(http.MethodPost, "/api/auth/refresh", "", liveCookies(login))
	assert.Equal(t, http.StatusNotImplemented, rec.Code)

	// unknown provider is a server error here as on every other route
	rec = app.do(http.MethodPost, "/api/auth/refresh", "", []*http.Cookie{
		{Name: auth.DefaultAccessTokenCookie, Value: "T1"},
		{Name: auth.DefaultProviderCookie, Value: "nope"},
	})
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestOAuthLoginDropsUnsafeRedirect(t *testing.T) {
	app := newTestApp(t)

	rec := app.do(http.MethodPost, "/api/auth/login", `{"provider":"github","redirectUrl":"/\t/evil.example/phish"}`, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	authURL, err := url.Parse(decode(t, rec)["url"].(string))
	require.NoError(t, err)
	state := authURL.Query().Get("state")

	rec = app.do(http.MethodGet, "/api/auth/callback/github?code=good-code&state="+url.QueryEscape(state), "", nil)
	require.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "/", rec.Header().Get("Location"))
}

func TestOAuthRoundTrip(t *testing.T) {
	app := newTestApp(t)

	rec := app.do(http.MethodPost, "/api/auth/login", `{"provider":"github","redirectUrl":"/dashboard"}`, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Empty(t, rec.Result().Cookies())

	authURL, err := url.Parse(decode(t, rec)["url"].(string))
	require.NoError(t, err)
	assert.Equal(t, baseURL+"/api/auth/callback/github", authURL.Query().Get("redirect_uri"))
	state := authURL.Query().Get("state")

	callback := "/api/auth/callback/github?code=good-code&state=" + url.QueryEscape(state)
	rec = app.do(http.MethodGet, callback, "", nil)
	require.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "/dashboard", rec.Header().Get("Location"))

	session := app.codec.Read(requestWithCookies(liveCookies(rec)))
	assert.Equal(t, auth.Tokens{AccessToken: "G1", TokenType: "Bearer", ProviderKey: "github"}, session)

	// a state can complete one login only
	rec = app.do(http.MethodGet, callback, "", nil)
	require.Equal(t, http.StatusFound, rec.Code)
	assertFailureRedirect(t, rec)
}

// TestCallbackForeignState 用其他密钥签名的 state 被拒绝
func TestCallbackForeignState(t *testing.T) {
	app := newTestApp(t)

	foreign, err := auth.NewStateSigner("another-secret", "github")
	require.NoError(t, err)
	state, err := foreign.Sign("/dashboard")
	require.NoError(t, err)

	rec := app.do(http.MethodGet, "/api/auth/callback/github?code=good-code&state="+url.QueryEscape(state), "", nil)
	require.Equal(t, http.StatusFound, rec.Code)
	assertFailureRedirect(t, rec)
}

func TestCallbackFailures(t *testing.T) {
	app := newTestApp(t)
	state, err := app.gh.Signer().Sign("")
	require.NoError(t, err)

	tests := map[string]string{
		"denied":        "/api/auth/callback/github?error=access_denied&state=" + url.QueryEscape(state),
		"bad code":      "/api/auth/callback/github?code=bad&state=" + url.QueryEscape(state),
		"missing state": "/api/auth/callback/github?code=good-code",
		"unknown":       "/api/auth/callback/nope?code=good-code",
		"not oauth":     "/api/auth/callback/local?code=good-code",
	}
	for name, target := range tests {
		t.Run(name, func(t *testing.T) {
			rec := app.do(http.MethodGet, target, "", nil)
			require.Equal(t, http.StatusFound, rec.Code)
			assertFailureRedirect(t, rec)
		})
	}
}

func TestHealthAndMetrics(t *testing.T) {
	app := newTestApp(t)
	app.do(http.MethodPost, "/api/auth/login", `{"provider":"local","principal":"a","password":"x"}`, nil)

	rec := app.do(http.MethodGet, "/health", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "healthy", decode(t, rec)["status"])

	rec = app.do(http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `auth_logins_total{provider="local",result="success"} 1`)
	assert.Contains(t, body, `http_requests_total{method="POST",path="/api/auth/login",status="200"} 1`)
}

func TestRoutesRequireMethods(t *testing.T) {
	app := newTestApp(t)
	rec := app.do(http.MethodGet, "/api/auth/login", "", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func assertFailureRedirect(t *testing.T, rec *httptest.ResponseRecorder) {
	t.Helper()
	loc, err := url.Parse(rec.Header().Get("Location"))
	require.NoError(t, err)
	assert.Equal(t, "/login", loc.Path)
	assert.NotEmpty(t, loc.Query().Get("error_message"))
	assert.Empty(t, rec.Result().Cookies())
}

func requestWithCookies(cookies []*http.Cookie) *http.Request {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	for _, c := range cookies {
		r.AddCookie(&http.Cookie{Name: c.Name, Value: c.Value})
	}
	return r
}
