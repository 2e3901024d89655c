package middleware

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/GoPolymarket/logbridge/internal/config"
	"github.com/GoPolymarket/logbridge/internal/pkg/apperrors"
	"github.com/GoPolymarket/logbridge/internal/pkg/metrics"
	"github.com/gin-gonic/gin"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newRouter(mw ...gin.HandlerFunc) *gin.Engine {
	r := gin.New()
	r.Use(ErrorHandler())
	r.Use(mw...)
	r.GET("/ok", func(c *gin.Context) { c.String(http.StatusOK, RequestID(c)) })
	return r
}

func do(r http.Handler, header map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/ok", nil)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) apperrors.AppError {
	t.Helper()
	var body apperrors.AppError
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}

func TestAuthMiddleware(t *testing.T) {
	cfg := &config.Config{Auth: config.AuthConfig{APIKey: "secret"}}
	r := newRouter(AuthMiddleware(cfg))

	w := do(r, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, apperrors.ErrAuthFailed, decodeError(t, w).Type)

	w = do(r, map[string]string{HeaderLogKey: "wrong"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = do(r, map[string]string{HeaderLogKey: "secret"})
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestAuthMiddleware_NoKeyConfigured(t *testing.T) {
	r := newRouter(AuthMiddleware(&config.Config{}))
	assert.Equal(t, http.StatusOK, do(r, nil).Code)
}

func TestAdminMiddleware(t *testing.T) {
	r := newRouter(AdminMiddleware(&config.Config{}))
	assert.Equal(t, http.StatusForbidden, do(r, nil).Code)

	r = newRouter(AdminMiddleware(&config.Config{Auth: config.AuthConfig{AdminKey: "adm"}}))
	assert.Equal(t, http.StatusUnauthorized, do(r, map[string]string{HeaderAdminKey: "x"}).Code)
	assert.Equal(t, http.StatusOK, do(r, map[string]string{HeaderAdminKey: "adm"}).Code)
}

func TestRateLimitMiddleware(t *testing.T) {
	l := NewIPLimiter(config.RateConfig{QPS: 0.001, Burst: 2})
	r := newRouter(RateLimitMiddleware(l))

	assert.Equal(t, http.StatusOK, do(r, nil).Code)
	assert.Equal(t, http.StatusOK, do(r, nil).Code)

	w := do(r, nil)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "1", w.Header().Get("Retry-After"))
	assert.Equal(t, apperrors.ErrRateLimited, decodeError(t, w).Type)
}

func TestIPLimiter_PerClientAndSweep(t *testing.T) {
	l := NewIPLimiter(config.RateConfig{QPS: 0.001, Burst: 1})
	now := time.Now()
	l.now = func() time.Time { return now }

	assert.True(t, l.Allow("1.1.1.1"))
	assert.False(t, l.Allow("1.1.1.1"))
	assert.True(t, l.Allow("2.2.2.2"), "buckets are per client")
	assert.Equal(t, 2, l.Len())

	now = now.Add(time.Minute)
	assert.Zero(t, l.Sweep())

	now = now.Add(time.Hour)
	assert.Equal(t, 2, l.Sweep())
	assert.Zero(t, l.Len())
}

func TestIPLimiter_ZeroQPSIsUnlimited(t *testing.T) {
	l := NewIPLimiter(config.RateConfig{})
	for i := 0; i < 100; i++ {
		require.True(t, l.Allow("a"))
	}
}

func TestRequestMiddleware(t *testing.T) {
	r := newRouter(RequestMiddleware())

	w := do(r, nil)
	id := w.Header().Get(HeaderRequestID)
	assert.Len(t, id, 36)
	assert.Equal(t, id, w.Body.String())

	w = do(r, map[string]string{HeaderRequestID: "abc-123"})
	assert.Equal(t, "abc-123", w.Header().Get(HeaderRequestID))

	w = do(r, map[string]string{HeaderRequestID: "bad id\nwith newline"})
	assert.NotEqual(t, "bad id\nwith newline", w.Header().Get(HeaderRequestID))
	assert.Len(t, w.Header().Get(HeaderRequestID), 36)
}

func TestErrorHandler_UnknownErrorIsInternal(t *testing.T) {
	r := gin.New()
	r.Use(ErrorHandler())
	r.GET("/boom", func(c *gin.Context) { c.Error(errors.New("kaput")) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/boom", nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, apperrors.ErrInternal, decodeError(t, w).Type)
}

func TestErrorHandler_KeepsWrittenResponse(t *testing.T) {
	r := gin.New()
	r.Use(ErrorHandler())
	r.GET("/partial", func(c *gin.Context) {
		c.String(http.StatusOK, "streamed")
		c.Error(apperrors.NewInvalidRequest("late failure"))
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/partial", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "streamed", w.Body.String())
}

func responses(t *testing.T, endpoint, status string) float64 {
	t.Helper()
	var m dto.Metric
	require.NoError(t, metrics.Responses.WithLabelValues(endpoint, status).Write(&m))
	return m.GetCounter().GetValue()
}

func TestMetricsMiddleware_LabelsByRouteTemplate(t *testing.T) {
	r := gin.New()
	r.Use(MetricsMiddleware(), ErrorHandler())
	r.POST("/v1/log/:level", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	before := responses(t, "/v1/log/:level", "2xx")
	missBefore := responses(t, "unmatched", "4xx")

	for _, level := range []string{"info", "warn", "error"} {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/v1/log/"+level, nil))
		require.Equal(t, http.StatusNoContent, w.Code)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/nowhere", nil))
	require.Equal(t, http.StatusNotFound, w.Code)

	assert.Equal(t, before+3, responses(t, "/v1/log/:level", "2xx"))
	assert.Equal(t, missBefore+1, responses(t, "unmatched", "4xx"))
}

func TestStatusClass(t *testing.T) {
	assert.Equal(t, "2xx", statusClass(http.StatusNoContent))
	assert.Equal(t, "4xx", statusClass(http.StatusTooManyRequests))
	assert.Equal(t, "5xx", statusClass(http.StatusServiceUnavailable))
}
