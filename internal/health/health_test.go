package health

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"labelgate/backend/internal/storage/memory"
)

func TestHealthChecker(t *testing.T) {
	hc := NewHealthChecker(memory.NewStore(), nil)

	t.Run("全部正常", func(t *testing.T) {
		status := hc.CheckHealth(context.Background())
		assert.Equal(t, "ok", status.Status)
		assert.Equal(t, "OK", status.Checks["database"])

		w := httptest.NewRecorder()
		hc.ReadyHandler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("附加依赖失败", func(t *testing.T) {
		hc.AddDependency("redis", func(context.Context) error { return errors.New("connection refused") })

		status := hc.CheckHealth(context.Background())
		assert.Equal(t, "degraded", status.Status)
		assert.Contains(t, status.Checks["redis"], "connection refused")

		w := httptest.NewRecorder()
		hc.ReadyHandler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
		assert.Equal(t, http.StatusServiceUnavailable, w.Code)

		w = httptest.NewRecorder()
		hc.LiveHandler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health/live", nil))
		assert.Equal(t, http.StatusOK, w.Code)
	})
}
