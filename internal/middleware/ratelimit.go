package middleware

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// RateLimitRecorder 记录被限流的请求
type RateLimitRecorder interface {
	RecordRateLimitBlock(limitType string)
}

type rateClient struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter 按客户端 IP 的令牌桶限流
type RateLimiter struct {
	name     string
	limit    rate.Limit
	burst    int
	recorder RateLimitRecorder
	now      func() time.Time

	mu      sync.Mutex
	clients map[string]*rateClient
}

// NewRateLimiter 创建限流器。perSecond <= 0 时不限流。
func NewRateLimiter(name string, perSecond float64, burst int, recorder RateLimitRecorder) *RateLimiter {
	if burst <= 0 {
		burst = 1
	}
	limit := rate.Limit(perSecond)
	if perSecond <= 0 {
		limit = rate.Inf
	}
	return &RateLimiter{
		name:     name,
		limit:    limit,
		burst:    burst,
		recorder: recorder,
		now:      time.Now,
		clients:  make(map[string]*rateClient),
	}
}

// Allow 判断 key 是否还有令牌
func (rl *RateLimiter) Allow(key string) bool {
	rl.mu.Lock()
	cl, ok := rl.clients[key]
	if !ok {
		cl = &rateClient{limiter: rate.NewLimiter(rl.limit, rl.burst)}
		rl.clients[key] = cl
	}
	now := rl.now()
	cl.lastSeen = now
	rl.mu.Unlock()

	return cl.limiter.AllowN(now, 1)
}

// Middleware 超出速率时返回 429
func (rl *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !rl.Allow(c.ClientIP()) {
			if rl.recorder != nil {
				rl.recorder.RecordRateLimitBlock(rl.name)
			}
			c.Header("Retry-After", "1")
			abort(c, http.StatusTooManyRequests, "请求过于频繁，请稍后再试")
			return
		}
		c.Next()
	}
}

// Sweep 清理 idle 时间内未出现的客户端
func (rl *RateLimiter) Sweep(idle time.Duration) int {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	removed := 0
	cutoff := rl.now().Add(-idle)
	for key, cl := range rl.clients {
		if cl.lastSeen.Before(cutoff) {
			delete(rl.clients, key)
			removed++
		}
	}
	return removed
}

// Run 每 5 分钟清理一次空闲客户端，直到 ctx 结束
func (rl *RateLimiter) Run(ctx context.Context) error {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			rl.Sweep(10 * time.Minute)
		}
	}
}
