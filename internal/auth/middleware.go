package auth

import "net/http"

// SessionMiddleware reads the session cookie set once per request and stores
// it in the request context. Anonymous requests pass through with empty tokens.
func (c *CookieCodec) SessionMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := WithSession(r.Context(), c.Read(r))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
