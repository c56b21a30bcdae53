package api

import (
	"net/http"

	"github.com/gorilla/mux"
)

// RouterOptions are the optional pieces of the router.
type RouterOptions struct {
	// SessionMiddleware loads the session cookies into the request context.
	SessionMiddleware func(http.Handler) http.Handler
	// Metrics instruments every route and serves /metrics when set.
	Metrics MetricsProvider
}

// MetricsProvider exposes request instrumentation and the scrape handler.
type MetricsProvider interface {
	Middleware(http.Handler) http.Handler
	Handler() http.Handler
}

// NewRouter 创建路由并注册所有 handler
func NewRouter(authHandler *AuthHandler, opts RouterOptions) *mux.Router {
	r := mux.NewRouter()
	if opts.Metrics != nil {
		r.Use(opts.Metrics.Middleware)
		r.Handle("/metrics", opts.Metrics.Handler()).Methods(http.MethodGet)
	}

	// Health check endpoint (public, no session)
	r.HandleFunc("/health", HealthCheckHandler).Methods(http.MethodGet)

	apiRouter := r.PathPrefix("/api").Subrouter()
	if opts.SessionMiddleware != nil {
		apiRouter.Use(opts.SessionMiddleware)
	}
	authHandler.RegisterRoutes(apiRouter)

	return r
}
