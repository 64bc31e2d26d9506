package middleware

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"overlaycast/internal/core/domain"
	apperrors "overlaycast/pkg/errors"
	"overlaycast/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func newTestRouter(t *testing.T) (*gin.Engine, *observer.ObservedLogs) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	core, logs := observer.New(zap.DebugLevel)
	sugar := zap.New(core).Sugar()

	router := gin.New()
	router.Use(
		RequestIDMiddleware(),
		RecoveryMiddleware(sugar),
		AccessLogMiddleware(logger.NewContextLogger(sugar)),
		ErrorHandlerMiddleware(sugar),
	)
	return router, logs
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}

func TestErrorHandlerMiddleware_MapsErrors(t *testing.T) {
	router, logs := newTestRouter(t)
	router.GET("/missing", func(c *gin.Context) {
		_ = c.Error(fmt.Errorf("load: %w", domain.ErrEventNotFound))
	})
	router.GET("/app", func(c *gin.Context) {
		_ = c.Error(apperrors.NewInvalidInputError("bad thing").WithContext("field", "x"))
	})
	router.GET("/boom", func(c *gin.Context) {
		_ = c.Error(fmt.Errorf("disk on fire"))
	})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/missing", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "NOT_FOUND", decodeBody(t, w)["error"])

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/app", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	body := decodeBody(t, w)
	assert.Equal(t, "bad thing", body["message"])
	assert.Equal(t, map[string]interface{}{"field": "x"}, body["details"])

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/boom", nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "INTERNAL_ERROR", decodeBody(t, w)["error"])
	assert.NotContains(t, w.Body.String(), "disk on fire")
	assert.Equal(t, 1, logs.FilterMessage("request failed").Len())
}

func TestRecoveryMiddleware(t *testing.T) {
	router, logs := newTestRouter(t)
	router.GET("/panic", func(c *gin.Context) {
		panic("unexpected")
	})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/panic", nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, 1, logs.FilterMessage("panic recovered").Len())
}

func TestRequestIDMiddleware(t *testing.T) {
	router, logs := newTestRouter(t)
	var seen string
	router.GET("/ok", func(c *gin.Context) {
		seen = logger.RequestIDFromContext(c.Request.Context())
		c.Status(http.StatusNoContent)
	})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ok", nil))
	generated := w.Header().Get(RequestIDHeader)
	assert.NotEmpty(t, generated)
	assert.Equal(t, generated, seen)

	req := httptest.NewRequest(http.MethodGet, "/ok", nil)
	req.Header.Set(RequestIDHeader, "abc-123")
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, "abc-123", w.Header().Get(RequestIDHeader))
	assert.Equal(t, "abc-123", seen)

	entries := logs.FilterMessage("http_request").All()
	require.Len(t, entries, 2)
	assert.Equal(t, "abc-123", entries[1].ContextMap()["request_id"])
}

func TestEventIDMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	var seen string
	router.GET("/event/:eventId", EventIDMiddleware(), func(c *gin.Context) {
		seen = logger.EventIDFromContext(c.Request.Context())
	})

	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/event/evt42", nil))
	assert.Equal(t, "evt42", seen)
}
