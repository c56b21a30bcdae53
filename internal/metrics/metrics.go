// Package metrics defines the prometheus collectors of the auth service.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Result labels.
const (
	ResultSuccess = "success"
	ResultFailure = "failure"
)

// Metrics groups the auth counters. A nil *Metrics records nothing.
type Metrics struct {
	gatherer prometheus.Gatherer

	logins          *prometheus.CounterVec
	callbacks       *prometheus.CounterVec
	refreshes       *prometheus.CounterVec
	logouts         *prometheus.CounterVec
	stateRejections *prometheus.CounterVec

	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
}

// New creates the collectors and registers them on a fresh registry.
func New() (*Metrics, error) {
	reg := prometheus.NewRegistry()
	return Register(reg, reg)
}

// Register creates the collectors and registers them on reg. gatherer backs
// the handler returned by Handler.
func Register(reg prometheus.Registerer, gatherer prometheus.Gatherer) (*Metrics, error) {
	m := &Metrics{
		gatherer: gatherer,
		logins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "auth_logins_total",
			Help: "Login attempts by provider and result",
		}, []string{"provider", "result"}),
		callbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "auth_callbacks_total",
			Help: "OAuth callbacks by provider and result",
		}, []string{"provider", "result"}),
		refreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "auth_refreshes_total",
			Help: "Token refreshes by provider and result",
		}, []string{"provider", "result"}),
		logouts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "auth_logouts_total",
			Help: "Logouts by provider and remote result",
		}, []string{"provider", "result"}),
		stateRejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "auth_state_rejections_total",
			Help: "OAuth state tokens rejected, by reason",
		}, []string{"provider", "reason"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "HTTP requests by method, route and status",
		}, []string{"method", "path", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path"}),
	}

	for _, c := range []prometheus.Collector{
		m.logins, m.callbacks, m.refreshes, m.logouts, m.stateRejections,
		m.httpRequests, m.httpDuration,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func result(err error) string {
	if err != nil {
		return ResultFailure
	}
	return ResultSuccess
}

// Login records a login attempt.
func (m *Metrics) Login(provider string, err error) {
	if m == nil {
		return
	}
	m.logins.WithLabelValues(provider, result(err)).Inc()
}

// Callback records an OAuth callback.
func (m *Metrics) Callback(provider string, err error) {
	if m == nil {
		return
	}
	m.callbacks.WithLabelValues(provider, result(err)).Inc()
}

// Refresh records a token refresh.
func (m *Metrics) Refresh(provider string, err error) {
	if m == nil {
		return
	}
	m.refreshes.WithLabelValues(provider, result(err)).Inc()
}

// Logout records a logout. remoteFailed is true when the remote logout failed.
func (m *Metrics) Logout(provider string, remoteFailed bool) {
	if m == nil {
		return
	}
	r := ResultSuccess
	if remoteFailed {
		r = ResultFailure
	}
	m.logouts.WithLabelValues(provider, r).Inc()
}

// StateRejected records a rejected state token.
func (m *Metrics) StateRejected(provider, reason string) {
	if m == nil {
		return
	}
	m.stateRejections.WithLabelValues(provider, reason).Inc()
}

// Handler serves the gathered metrics.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

// Middleware counts requests per route template.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		path := "unmatched"
		if route := mux.CurrentRoute(r); route != nil {
			if tpl, err := route.GetPathTemplate(); err == nil {
				path = tpl
			}
		}
		m.httpRequests.WithLabelValues(r.Method, path, strconv.Itoa(rec.status)).Inc()
		m.httpDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}
