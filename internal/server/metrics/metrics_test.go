package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Counters(t *testing.T) {
	m := New()

	m.ObserveRequest("/api/auth/login", http.StatusOK, 15*time.Millisecond)
	m.ObserveRequest("/api/auth/login", http.StatusOK, 5*time.Millisecond)
	m.ObserveRequest("/api/auth/login", http.StatusUnauthorized, time.Millisecond)
	m.Inconsistency("register")
	m.TokenCacheLookup(true)
	m.TokenCacheLookup(false)
	m.TokenCacheLookup(false)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.requests.WithLabelValues("/api/auth/login", "200")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.requests.WithLabelValues("/api/auth/login", "401")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.inconsistencies.WithLabelValues("register")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.tokenCache.WithLabelValues("hit")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.tokenCache.WithLabelValues("miss")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.requestDuration))
}

func TestMetrics_Handler(t *testing.T) {
	m := New()
	m.Inconsistency("delete")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `directory_inconsistencies_total{op="delete"} 1`)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}
