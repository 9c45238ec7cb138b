package handler

import (
	"context"
	"errors"
	"net/http"
	"runtime"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"

	"github.com/orderflow/backend/internal/interfaces/http/router"
	"github.com/orderflow/backend/tests/testutil"
)

type stubPinger struct{ err error }

func (p stubPinger) PingContext(context.Context) error { return p.err }

func systemEngine(db Pinger) *gin.Engine {
	h := NewSystemHandler("orderflow", "1.2.3", db)
	engine := gin.New()
	engine.GET("/health", h.Health)
	router.NewRouter(engine).Register(h.Routes()).Setup()
	return engine
}

func TestSystemHandler_Health(t *testing.T) {
	t.Run("healthy", func(t *testing.T) {
		rec := testutil.PerformRequest(t, systemEngine(stubPinger{}), http.MethodGet, "/health", nil, nil)

		assert.Equal(t, http.StatusOK, rec.Code)
		var resp LivenessResponse
		testutil.DecodeInto(t, rec, &resp)
		assert.Equal(t, "healthy", resp.Status)
		assert.Equal(t, "connected", resp.Database)
		assert.False(t, resp.Time.IsZero())
	})

	t.Run("database down", func(t *testing.T) {
		rec := testutil.PerformRequest(t, systemEngine(stubPinger{err: errors.New("connection refused")}), http.MethodGet, "/health", nil, nil)

		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
		var resp LivenessResponse
		testutil.DecodeInto(t, rec, &resp)
		assert.Equal(t, "unhealthy", resp.Status)
		assert.Equal(t, "disconnected", resp.Database)
	})
}

func TestSystemHandler_GetSystemInfo(t *testing.T) {
	rec := testutil.PerformRequest(t, systemEngine(stubPinger{}), http.MethodGet, "/api/v1/system/info", nil, nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	var resp APIResponse[SystemInfoResponse]
	testutil.DecodeInto(t, rec, &resp)
	assert.True(t, resp.Success)
	assert.Equal(t, "orderflow", resp.Data.Name)
	assert.Equal(t, "1.2.3", resp.Data.Version)
	assert.Equal(t, runtime.Version(), resp.Data.GoVersion)
	assert.NotEmpty(t, resp.Data.Uptime)
}
