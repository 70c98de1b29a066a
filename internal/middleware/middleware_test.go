package middleware

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"freemail/backend/internal/auth/jwt"
	"freemail/backend/internal/domain"
	"freemail/backend/internal/monitoring"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeAuthn map[string]*jwt.Claims

func (f fakeAuthn) Authenticate(token string) (*jwt.Claims, error) {
	if c, ok := f[token]; ok {
		return c, nil
	}
	return nil, errors.New("invalid token")
}

var testTokens = fakeAuthn{
	"user-token":  {UserID: "u1", Email: "u1@login.example", Role: string(domain.RoleUser)},
	"admin-token": {UserID: "a1", Email: "a1@login.example", Role: string(domain.RoleAdmin)},
}

func newAuthRouter() *gin.Engine {
	r := gin.New()
	ja := NewJWTAuth(testTokens, "session", nil)
	whoami := func(c *gin.Context) {
		id, _ := UserID(c)
		c.String(http.StatusOK, id)
	}
	r.GET("/me", ja.RequireAuth(), whoami)
	r.GET("/admin", ja.RequireAuth(), RequireAdmin(), whoami)
	r.GET("/maybe", ja.OptionalAuth(), whoami)
	r.GET("/open-admin", RequireRole(domain.RoleAdmin), whoami)
	return r
}

func TestJWTAuth(t *testing.T) {
	r := newAuthRouter()

	t.Run("缺少令牌", func(t *testing.T) {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/me", nil))
		assert.Equal(t, http.StatusUnauthorized, w.Code)
		assert.Contains(t, w.Body.String(), `"code":401`)
	})

	t.Run("Bearer 头", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/me", nil)
		req.Header.Set("Authorization", "Bearer user-token")
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "u1", w.Body.String())
	})

	t.Run("Cookie", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/me", nil)
		req.AddCookie(&http.Cookie{Name: "session", Value: "user-token"})
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("无效令牌", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/me", nil)
		req.Header.Set("Authorization", "Bearer forged")
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("查询参数只对 WebSocket 握手生效", func(t *testing.T) {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/me?token=user-token", nil))
		assert.Equal(t, http.StatusUnauthorized, w.Code)

		req := httptest.NewRequest(http.MethodGet, "/me?token=user-token", nil)
		req.Header.Set("Connection", "upgrade")
		req.Header.Set("Upgrade", "websocket")
		w = httptest.NewRecorder()
		r.ServeHTTP(w, req)
		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("可选认证", func(t *testing.T) {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/maybe", nil))
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Empty(t, w.Body.String())
	})
}

func TestRequireRole(t *testing.T) {
	r := newAuthRouter()

	cases := []struct {
		name  string
		path  string
		token string
		want  int
	}{
		{"普通用户被拒绝", "/admin", "user-token", http.StatusForbidden},
		{"管理员通过", "/admin", "admin-token", http.StatusOK},
		{"未经认证", "/open-admin", "", http.StatusUnauthorized},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tc.path, nil)
			if tc.token != "" {
				req.Header.Set("Authorization", "Bearer "+tc.token)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			assert.Equal(t, tc.want, w.Code)
		})
	}
}

func TestBodySizeLimit(t *testing.T) {
	r := gin.New()
	r.POST("/upload", BodySizeLimit(8), func(c *gin.Context) {
		if _, err := c.GetRawData(); err != nil {
			var maxErr *http.MaxBytesError
			if errors.As(err, &maxErr) {
				c.Status(http.StatusRequestEntityTooLarge)
				return
			}
			c.Status(http.StatusBadRequest)
			return
		}
		c.Status(http.StatusNoContent)
	})

	t.Run("未超限", func(t *testing.T) {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/upload", strings.NewReader("tiny")))
		assert.Equal(t, http.StatusNoContent, w.Code)
	})

	t.Run("Content-Length 超限", func(t *testing.T) {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/upload", strings.NewReader("this is far too long")))
		assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
		assert.Contains(t, w.Body.String(), `"code":413`)
	})

	t.Run("分块传输读取时超限", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/upload", strings.NewReader("this is far too long"))
		req.ContentLength = -1
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
	})
}

func TestRateLimiter(t *testing.T) {
	t.Run("突发额度用尽后返回 429", func(t *testing.T) {
		metrics := monitoring.NewMetrics()
		rl := NewRateLimiter("webhook", 0.001, 2, metrics)
		r := gin.New()
		r.POST("/hook", rl.Middleware(), func(c *gin.Context) { c.Status(http.StatusNoContent) })

		codes := make([]int, 0, 3)
		for i := 0; i < 3; i++ {
			w := httptest.NewRecorder()
			r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/hook", nil))
			codes = append(codes, w.Code)
		}
		assert.Equal(t, []int{http.StatusNoContent, http.StatusNoContent, http.StatusTooManyRequests}, codes)
	})

	t.Run("按客户端独立计数", func(t *testing.T) {
		rl := NewRateLimiter("webhook", 0.001, 1, nil)
		assert.True(t, rl.Allow("10.0.0.1"))
		assert.False(t, rl.Allow("10.0.0.1"))
		assert.True(t, rl.Allow("10.0.0.2"))
	})

	t.Run("速率为 0 时不限流", func(t *testing.T) {
		rl := NewRateLimiter("webhook", 0, 1, nil)
		for i := 0; i < 50; i++ {
			require.True(t, rl.Allow("10.0.0.1"))
		}
	})

	t.Run("清理空闲客户端", func(t *testing.T) {
		rl := NewRateLimiter("webhook", 1, 1, nil)
		base := time.Now()
		rl.now = func() time.Time { return base }
		rl.Allow("old")
		rl.now = func() time.Time { return base.Add(20 * time.Minute) }
		rl.Allow("fresh")

		assert.Equal(t, 1, rl.Sweep(10*time.Minute))
		assert.Len(t, rl.clients, 1)
	})
}

func TestRecovery(t *testing.T) {
	metrics := monitoring.NewMetrics()
	mm := NewMonitoringMiddleware(metrics, nil)

	r := gin.New()
	r.Use(mm.HTTPMetrics(), mm.PanicRecovery())
	r.GET("/boom-metrics", func(c *gin.Context) { panic("boom") })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/boom-metrics", nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)

	w = httptest.NewRecorder()
	metrics.HTTPHandler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Contains(t, w.Body.String(), "freemail_panics_total 1")
	assert.Contains(t, w.Body.String(), `freemail_http_requests_total{endpoint="/boom-metrics",method="GET",status_code="500"} 1`)
}

func TestSecurityHeaders(t *testing.T) {
	r := gin.New()
	r.Use(SecurityHeaders())
	r.GET("/v1/x", func(c *gin.Context) { c.Status(http.StatusOK) })
	r.GET("/swagger/*any", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/x", nil))
	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
	assert.NotEmpty(t, w.Header().Get("Content-Security-Policy"))

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/swagger/index.html", nil))
	assert.Empty(t, w.Header().Get("Content-Security-Policy"))
}
