package auth

import (
	"net/http"
	"net/url"
	"time"
)

// Default cookie names. net/http only accepts RFC 6265 token characters in
// cookie names, so the separator is a dot.
const (
	DefaultAccessTokenCookie  = "auth.token"
	DefaultRefreshTokenCookie = "auth.refreshToken"
	DefaultProviderCookie     = "auth.provider"
	DefaultTokenTypeCookie    = "auth.tokenType"

	DefaultCookieMaxAge = 30 * 24 * time.Hour
)

// CookieNames names the four session cookies.
type CookieNames struct {
	AccessToken  string
	RefreshToken string
	Provider     string
	TokenType    string
}

// CookieOptions configures the session cookie set.
type CookieOptions struct {
	Names    CookieNames
	MaxAge   time.Duration
	Path     string
	Domain   string
	Secure   bool
	SameSite http.SameSite
}

// CookieCodec stores Tokens in four cookies that are always written and
// cleared as one set.
type CookieCodec struct {
	opts CookieOptions
	now  func() time.Time
}

// NewCookieCodec creates a codec, filling unset options with defaults.
func NewCookieCodec(opts CookieOptions) *CookieCodec {
	if opts.Names.AccessToken == "" {
		opts.Names.AccessToken = DefaultAccessTokenCookie
	}
	if opts.Names.RefreshToken == "" {
		opts.Names.RefreshToken = DefaultRefreshTokenCookie
	}
	if opts.Names.Provider == "" {
		opts.Names.Provider = DefaultProviderCookie
	}
	if opts.Names.TokenType == "" {
		opts.Names.TokenType = DefaultTokenTypeCookie
	}
	if opts.MaxAge <= 0 {
		opts.MaxAge = DefaultCookieMaxAge
	}
	if opts.Path == "" {
		opts.Path = "/"
	}
	if opts.SameSite == 0 {
		opts.SameSite = http.SameSiteLaxMode
	}
	return &CookieCodec{opts: opts, now: time.Now}
}

// Names returns the configured cookie names.
func (c *CookieCodec) Names() CookieNames {
	return c.opts.Names
}

// Read returns the tokens stored in the request cookies. Missing cookies read
// as empty strings; callers check Present before trusting the result.
func (c *CookieCodec) Read(r *http.Request) Tokens {
	return Tokens{
		AccessToken:  c.value(r, c.opts.Names.AccessToken),
		RefreshToken: c.value(r, c.opts.Names.RefreshToken),
		TokenType:    c.value(r, c.opts.Names.TokenType),
		ProviderKey:  c.value(r, c.opts.Names.Provider),
	}
}

// Write replaces the whole cookie set with tokens.
func (c *CookieCodec) Write(w http.ResponseWriter, tokens Tokens) {
	expires := c.now().Add(c.opts.MaxAge)
	maxAge := int(c.opts.MaxAge / time.Second)

	for _, kv := range c.pairs(tokens) {
		http.SetCookie(w, c.cookie(kv[0], url.QueryEscape(kv[1]), expires, maxAge))
	}
}

// Clear expires the whole cookie set.
func (c *CookieCodec) Clear(w http.ResponseWriter) {
	for _, kv := range c.pairs(Tokens{}) {
		http.SetCookie(w, c.cookie(kv[0], "", time.Unix(0, 0), -1))
	}
}

func (c *CookieCodec) pairs(t Tokens) [4][2]string {
	return [4][2]string{
		{c.opts.Names.AccessToken, t.AccessToken},
		{c.opts.Names.RefreshToken, t.RefreshToken},
		{c.opts.Names.Provider, t.ProviderKey},
		{c.opts.Names.TokenType, t.TokenType},
	}
}

func (c *CookieCodec) cookie(name, value string, expires time.Time, maxAge int) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     c.opts.Path,
		Domain:   c.opts.Domain,
		Expires:  expires,
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   c.opts.Secure,
		SameSite: c.opts.SameSite,
	}
}

func (c *CookieCodec) value(r *http.Request, name string) string {
	cookie, err := r.Cookie(name)
	if err != nil {
		return ""
	}
	v, err := url.QueryUnescape(cookie.Value)
	if err != nil {
		return ""
	}
	return v
}
