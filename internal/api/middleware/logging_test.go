package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func newTestRouter(t *testing.T) (*gin.Engine, *observer.ObservedLogs) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	core, logs := observer.New(zapcore.DebugLevel)
	router := gin.New()
	router.Use(RequestID(), Logger(zap.New(core)))
	return router, logs
}

func TestLoggerTagsLineWithCorrelationID(t *testing.T) {
	router, logs := newTestRouter(t)
	router.GET("/ping", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	req := httptest.NewRequest(http.MethodGet, "/ping?verbose=1", nil)
	req.Header.Set("X-Request-ID", "corr-123")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	entries := logs.FilterMessage("http_request").All()
	require.Len(t, entries, 1)
	assert.Equal(t, zapcore.InfoLevel, entries[0].Level)

	fields := entries[0].ContextMap()
	assert.Equal(t, "corr-123", fields["request_id"])
	assert.Equal(t, "/ping", fields["path"])
	assert.Equal(t, int64(http.StatusNoContent), fields["status"])
	assert.Equal(t, "verbose=1", fields["query"])
}

func TestLoggerGeneratesCorrelationIDWhenAbsent(t *testing.T) {
	router, logs := newTestRouter(t)
	router.GET("/ping", func(c *gin.Context) { c.Status(http.StatusOK) })

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ping", nil))

	entries := logs.FilterMessage("http_request").All()
	require.Len(t, entries, 1)
	id, _ := entries[0].ContextMap()["request_id"].(string)
	assert.NotEmpty(t, id)
	assert.Equal(t, id, rec.Header().Get("X-Request-ID"))
}

func TestLoggerLevelsByStatus(t *testing.T) {
	router, logs := newTestRouter(t)
	router.GET("/missing", func(c *gin.Context) { c.Status(http.StatusNotFound) })
	router.GET("/broken", func(c *gin.Context) { c.Status(http.StatusBadGateway) })

	for _, path := range []string{"/missing", "/broken"} {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	}

	entries := logs.FilterMessage("http_request").All()
	require.Len(t, entries, 2)
	assert.Equal(t, zapcore.WarnLevel, entries[0].Level)
	assert.Equal(t, zapcore.ErrorLevel, entries[1].Level)
}
