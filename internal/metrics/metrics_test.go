package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCounters(t *testing.T) {
	m, err := New()
	require.NoError(t, err)

	m.Login("local", nil)
	m.Login("local", errors.New("x"))
	m.Refresh("github", nil)
	m.Logout("google", true)
	m.Callback("github", nil)
	m.StateRejected("github", "state expired")

	assert.Equal(t, 1.0, testutil.ToFloat64(m.logins.WithLabelValues("local", ResultSuccess)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.logins.WithLabelValues("local", ResultFailure)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.refreshes.WithLabelValues("github", ResultSuccess)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.logouts.WithLabelValues("google", ResultFailure)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.callbacks.WithLabelValues("github", ResultSuccess)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.stateRejections.WithLabelValues("github", "state expired")))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.Login("local", nil)
		m.Refresh("local", nil)
		m.Logout("local", false)
		m.Callback("github", nil)
		m.StateRejected("github", "x")
	})
}

func TestRegisterTwiceFails(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, err := Register(reg, reg)
	require.NoError(t, err)
	_, err = Register(reg, reg)
	assert.Error(t, err)
}

func TestMiddleware(t *testing.T) {
	m, err := New()
	require.NoError(t, err)

	r := mux.NewRouter()
	r.Use(m.Middleware)
	r.HandleFunc("/items/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	for _, id := range []string{"1", "2"} {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/items/"+id, nil))
	}

	assert.Equal(t, 2.0, testutil.ToFloat64(m.httpRequests.WithLabelValues(http.MethodGet, "/items/{id}", "418")))

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Contains(t, rec.Body.String(), "http_request_duration_seconds")
}
