package mw

import (
	"net"
	"net/http"
	"sync"
	"time"

	"messenger/internal/auth"
	"messenger/internal/metrics"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

// visitor 是一个调用方在某条路由上的令牌桶。
type visitor struct {
	bucket   *rate.Limiter
	lastSeen time.Time
}

// Limiter 按 "调用方|路由" 维护令牌桶，闲置超过 idle 的桶会被回收。
type Limiter struct {
	mu       sync.Mutex
	visitors map[string]*visitor
	every    rate.Limit
	burst    int
	idle     time.Duration
	done     chan struct{}
	once     sync.Once
}

// NewRateLimiter 创建限速器并启动过期清理；停服时调用 Stop。
func NewRateLimiter(every rate.Limit, burst int, idle time.Duration) *Limiter {
	l := &Limiter{visitors: make(map[string]*visitor), every: every, burst: burst, idle: idle, done: make(chan struct{})}
	go l.sweep(idle / 2)
	return l
}

func (l *Limiter) allow(key string) bool {
	l.mu.Lock()
	v, ok := l.visitors[key]
	if !ok {
		v = &visitor{bucket: rate.NewLimiter(l.every, l.burst)}
		l.visitors[key] = v
	}
	v.lastSeen = time.Now()
	l.mu.Unlock()
	return v.bucket.Allow()
}

func (l *Limiter) sweep(interval time.Duration) {
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-l.done:
			return
		case now := <-ticker.C:
			l.mu.Lock()
			for k, v := range l.visitors {
				if now.Sub(v.lastSeen) > l.idle {
					delete(l.visitors, k)
				}
			}
			l.mu.Unlock()
		}
	}
}

// Stop 停止清理 goroutine，可重复调用。
func (l *Limiter) Stop() {
	l.once.Do(func() { close(l.done) })
}

// Middleware 返回限速中间件：已认证请求按用户计数，否则按 IP，并区分路由。
func (l *Limiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		who := clientIP(c.Request.RemoteAddr)
		if uid := auth.GetUserID(c); uid != uuid.Nil {
			who = uid.String()
		}
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}
		if !l.allow(who + "|" + path) {
			metrics.RateLimited.WithLabelValues(path).Inc()
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "too many requests"})
			return
		}
		c.Next()
	}
}

// Size 返回当前跟踪的令牌桶数量。
func (l *Limiter) Size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.visitors)
}

func clientIP(remote string) string {
	host, _, err := net.SplitHostPort(remote)
	if err != nil {
		return remote
	}
	return host
}
