package httptransport

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SandeepBunny16/secure-tempmail/internal/config"
	"github.com/SandeepBunny16/secure-tempmail/internal/health"
	"github.com/SandeepBunny16/secure-tempmail/internal/monitoring"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type stubPinger struct {
	err error
}

func (s *stubPinger) Ping(context.Context) error {
	return s.err
}

func newTestRouter(storeErr error) (*gin.Engine, *monitoring.Metrics) {
	metrics := monitoring.NewMetrics()
	checker := health.NewChecker(&stubPinger{err: storeErr}, &stubPinger{}, metrics.Registry(), nil)
	return NewRouter(RouterDependencies{Metrics: metrics, Health: checker}), metrics
}

func get(router http.Handler, path string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestRouter_Health(t *testing.T) {
	t.Run("存活与就绪", func(t *testing.T) {
		router, _ := newTestRouter(nil)
		assert.Equal(t, http.StatusOK, get(router, "/health/live").Code)
		assert.Equal(t, http.StatusOK, get(router, "/health/ready").Code)
	})

	t.Run("详细状态", func(t *testing.T) {
		router, _ := newTestRouter(nil)
		rec := get(router, "/health")
		require.Equal(t, http.StatusOK, rec.Code)

		var resp struct {
			Status string            `json:"status"`
			Checks map[string]string `json:"checks"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, "OK", resp.Status)
		assert.Equal(t, "OK", resp.Checks["database"])
		assert.Equal(t, "OK", resp.Checks["index"])
	})

	t.Run("数据库不可用", func(t *testing.T) {
		router, _ := newTestRouter(errors.New("down"))
		assert.Equal(t, http.StatusServiceUnavailable, get(router, "/health/ready").Code)
		assert.Equal(t, http.StatusServiceUnavailable, get(router, "/health").Code)
	})
}

func TestHealthStatus(t *testing.T) {
	code, status := healthStatus(map[string]string{"database": "OK", "index": "DEGRADED"})
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "DEGRADED", status)

	code, status = healthStatus(map[string]string{"database": "ERROR: down", "index": "OK"})
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, "UNAVAILABLE", status)
}

func TestRouter_Metrics(t *testing.T) {
	router, metrics := newTestRouter(nil)

	get(router, "/health/live")
	rec := get(router, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "tempmail_http_requests_total"))
	assert.True(t, strings.Contains(rec.Body.String(), "tempmail_healthcheck_status"))

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.HTTPRequestsTotal.WithLabelValues("GET", "/health/live", "200")))
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
}

func TestRouter_NotFound(t *testing.T) {
	router, metrics := newTestRouter(nil)
	rec := get(router, "/v1/inboxes")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.HTTPRequestsTotal.WithLabelValues("GET", "unmatched", "404")))
}

func TestRouter_PanicRecovery(t *testing.T) {
	router, metrics := newTestRouter(nil)
	router.GET("/boom", func(c *gin.Context) { panic("boom") })

	rec := get(router, "/boom")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.PanicsTotal))
}

func TestNewServer(t *testing.T) {
	srv := NewServer(config.ServerConfig{Host: "127.0.0.1", Port: 9090}, http.NotFoundHandler())
	assert.Equal(t, "127.0.0.1:9090", srv.Addr)
}
