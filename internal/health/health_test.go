package health

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHealthChecker(t *testing.T) {
	t.Run("依赖正常", func(t *testing.T) {
		hc := NewHealthChecker(nil)
		hc.AddReadiness("store", PingFunc(func(ctx context.Context) error { return nil }))

		w := httptest.NewRecorder()
		hc.ReadyHandler()(w, httptest.NewRequest(http.MethodGet, "/ready", nil))
		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("依赖异常时未就绪但仍存活", func(t *testing.T) {
		hc := NewHealthChecker(nil)
		hc.AddReadiness("redis", PingFunc(func(ctx context.Context) error { return errors.New("connection refused") }))

		w := httptest.NewRecorder()
		hc.ReadyHandler()(w, httptest.NewRequest(http.MethodGet, "/ready?full=1", nil))
		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
		assert.Contains(t, w.Body.String(), "connection refused")

		w = httptest.NewRecorder()
		hc.LiveHandler()(w, httptest.NewRequest(http.MethodGet, "/live", nil))
		assert.Equal(t, http.StatusOK, w.Code)
	})
}
