package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// StateTTL is the lifetime of a signed state token.
const StateTTL = time.Hour

type stateClaims struct {
	RedirectURL string `json:"redirectUrl,omitempty"`
	jwt.RegisteredClaims
}

// StateSigner signs and verifies the state parameter of an OAuth round trip.
// Tokens are HS256 JWTs bound to one provider through the audience claim and
// always carry an expiry.
type StateSigner struct {
	secret   []byte
	audience string
	now      func() time.Time
}

// NewStateSigner creates a signer for the provider identified by audience.
func NewStateSigner(secret, audience string) (*StateSigner, error) {
	if secret == "" {
		return nil, errors.New("state signing secret is required")
	}
	return &StateSigner{
		secret:   []byte(secret),
		audience: audience,
		now:      time.Now,
	}, nil
}

// WithClock returns a copy of the signer that reads time from now.
func (s *StateSigner) WithClock(now func() time.Time) *StateSigner {
	c := *s
	c.now = now
	return &c
}

// Sign returns a state token carrying redirectURL.
func (s *StateSigner) Sign(redirectURL string) (string, error) {
	issued := s.now()
	claims := stateClaims{
		RedirectURL: redirectURL,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Audience:  jwt.ClaimStrings{s.audience},
			IssuedAt:  jwt.NewNumericDate(issued),
			ExpiresAt: jwt.NewNumericDate(issued.Add(StateTTL)),
		},
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign state: %w", err)
	}
	return token, nil
}

// Verify checks signature, algorithm, audience and expiry. Any failure is a
// *StateError; nothing from an unverified token is returned.
func (s *StateSigner) Verify(token string) (*State, error) {
	if token == "" {
		return nil, &StateError{Reason: "missing state"}
	}

	var claims stateClaims
	parsed, err := jwt.ParseWithClaims(token, &claims,
		func(*jwt.Token) (any, error) { return s.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithAudience(s.audience),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		reason := "malformed state"
		switch {
		case errors.Is(err, jwt.ErrTokenExpired):
			reason = "state expired"
		case errors.Is(err, jwt.ErrTokenSignatureInvalid):
			reason = "state signature mismatch"
		case errors.Is(err, jwt.ErrTokenInvalidAudience):
			reason = "state issued for another provider"
		}
		return nil, &StateError{Reason: reason, Err: err}
	}
	if !parsed.Valid || claims.ID == "" {
		return nil, &StateError{Reason: "malformed state"}
	}

	return &State{
		RedirectURL: claims.RedirectURL,
		ID:          claims.ID,
		ExpiresAt:   claims.ExpiresAt.Time,
	}, nil
}
