package auth

import "time"

// Tokens is the canonical credential every provider produces.
// AccessToken is opaque and never interpreted here.
type Tokens struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken,omitempty"`
	TokenType    string `json:"tokenType"`
	ProviderKey  string `json:"provider"`
}

// Present reports whether the tokens belong to a session. The other fields are
// meaningless without a provider key.
func (t Tokens) Present() bool {
	return t.ProviderKey != ""
}

// AuthorizationHeader returns "<type> <access>", or just the access token when
// no type is known. It returns "" for empty tokens.
func (t Tokens) AuthorizationHeader() string {
	if t.AccessToken == "" {
		return ""
	}
	if t.TokenType == "" {
		return t.AccessToken
	}
	return t.TokenType + " " + t.AccessToken
}

// User is the profile returned by a provider. A nil User is anonymous.
type User map[string]any

// LoginRequest carries everything a provider needs to start a login.
type LoginRequest struct {
	// Body is the decoded request body, including provider specific fields.
	Body map[string]any
	// CallbackURL is where an OAuth provider sends the user-agent back to.
	CallbackURL string
}

// RedirectURL returns the optional post-login redirect hint from the body.
func (r LoginRequest) RedirectURL() string {
	s, _ := r.Body["redirectUrl"].(string)
	return s
}

// LoginResult holds either tokens (password flow) or a URL the user-agent
// must be sent to (authorization-code flow).
type LoginResult struct {
	Tokens *Tokens `json:"tokens,omitempty"`
	URL    string  `json:"url,omitempty"`
}

// LogoutResult reports the outcome of a logout. RemoteError is set when the
// provider's remote logout failed; the local session is cleared regardless.
type LogoutResult struct {
	Message     string `json:"message"`
	RemoteError string `json:"remote_error,omitempty"`
}

// State is the payload of a signed OAuth state token.
type State struct {
	RedirectURL string
	ID          string
	ExpiresAt   time.Time
}
