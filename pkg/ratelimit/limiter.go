package ratelimit

import (
	"sync"
	"time"

	"chatify/pkg/response"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

type entry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// Pool 按key（客户端IP）维护的令牌桶集合
type Pool struct {
	mu    sync.Mutex
	m     map[string]*entry
	rps   float64
	burst int
}

// NewPool 创建限流池，非法参数使用默认值
func NewPool(rps float64, burst int) *Pool {
	if rps <= 0 {
		rps = 5
	}
	if burst <= 0 {
		burst = 10
	}
	return &Pool{m: make(map[string]*entry), rps: rps, burst: burst}
}

func (p *Pool) get(key string, now time.Time) *rate.Limiter {
	p.mu.Lock()
	defer p.mu.Unlock()
	if e, ok := p.m[key]; ok {
		e.lastSeen = now
		return e.limiter
	}
	l := rate.NewLimiter(rate.Limit(p.rps), p.burst)
	p.m[key] = &entry{limiter: l, lastSeen: now}
	return l
}

// Allow 判断key本次请求是否放行
func (p *Pool) Allow(key string) bool {
	now := time.Now()
	return p.get(key, now).AllowN(now, 1)
}

// Sweep 清理超过idle未访问的key
func (p *Pool) Sweep(idle time.Duration) int {
	cutoff := time.Now().Add(-idle)
	p.mu.Lock()
	defer p.mu.Unlock()
	removed := 0
	for key, e := range p.m {
		if e.lastSeen.Before(cutoff) {
			delete(p.m, key)
			removed++
		}
	}
	return removed
}

// Len 当前跟踪的key数量
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.m)
}

// Middleware 按客户端IP限流
func (p *Pool) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !p.Allow(c.ClientIP()) {
			response.TooManyRequests(c, "请求过于频繁，请稍后再试")
			return
		}
		c.Next()
	}
}
