package logger

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestInitialize_InvalidLevel(t *testing.T) {
	err := Initialize(&Config{Level: "loud", Environment: "development"})
	assert.Error(t, err)
}

func TestInitialize_WritesRotatingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "api.log")

	err := Initialize(&Config{
		Level:       "info",
		Environment: "production",
		OutputPaths: []string{"stderr"},
		File:        path,
		MaxSizeMB:   1,
	})
	require.NoError(t, err)

	GetLogger().Info("Supply refreshed", zap.Int("fetched", 4))
	require.NoError(t, GetLogger().Sync())

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	line := strings.TrimSpace(strings.Split(string(data), "\n")[0])
	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(line), &entry))
	assert.Equal(t, "Supply refreshed", entry["msg"])
	assert.Equal(t, "aptos-stables", entry["service"])
	assert.Equal(t, float64(4), entry["fetched"])
}

func TestWithContext_AddsIdentifiers(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	Replace(zap.New(core))

	ctx := ContextWithCorrelationID(context.Background(), "corr-1")
	ctx = ContextWithRequestID(ctx, "req-1")
	ctx = ContextWithClientID(ctx, "203.0.113.7")

	GetLogger().WithContext(ctx).Info("hello")

	require.Equal(t, 1, logs.Len())
	fields := logs.All()[0].ContextMap()
	assert.Equal(t, "corr-1", fields["correlation_id"])
	assert.Equal(t, "req-1", fields["request_id"])
	assert.Equal(t, "203.0.113.7", fields["client_id"])

	assert.Equal(t, "corr-1", GetCorrelationIDFromContext(ctx))
	assert.Equal(t, "203.0.113.7", GetClientIDFromContext(ctx))
	assert.Empty(t, GetRequestIDFromContext(context.Background()))
}

func TestMiddleware_CorrelationAndRecovery(t *testing.T) {
	gin.SetMode(gin.TestMode)
	core, logs := observer.New(zap.DebugLevel)
	Replace(zap.New(core))

	router := gin.New()
	router.Use(LoggingMiddleware(), RecoveryMiddleware())
	router.GET("/boom", func(c *gin.Context) {
		panic("kaboom")
	})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/boom", nil)
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.NotEmpty(t, w.Header().Get("X-Correlation-ID"))
	assert.Equal(t, "no-store", w.Header().Get("Cache-Control"))

	var body map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "INTERNAL_ERROR", body["error"])
	assert.Equal(t, w.Header().Get("X-Correlation-ID"), body["correlation_id"])

	assert.Equal(t, 1, logs.FilterMessage("Panic recovered").Len())
	assert.Equal(t, 1, logs.FilterMessage("Request completed").Len())
}
