package web

import (
	"net/http"
	"sync"
	"time"

	"github.com/deemkeen/stegonet/domain"
	"github.com/deemkeen/stegonet/federation"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

const (
	callerKey = "stegonet.caller"
	userKey   = "stegonet.user"

	// UserHeader names the acting local user. It is set by the
	// authentication layer in front of the node.
	UserHeader = "X-Username"

	limiterIdleTimeout = 10 * time.Minute
)

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter holds one token bucket per client IP.
type RateLimiter struct {
	visitors map[string]*visitor
	mu       sync.Mutex
	rate     rate.Limit
	burst    int
	cleanup  sync.Once
}

// NewRateLimiter creates a new rate limiter
// r is requests per second, b is burst size
func NewRateLimiter(r rate.Limit, b int) *RateLimiter {
	return &RateLimiter{
		visitors: make(map[string]*visitor),
		rate:     r,
		burst:    b,
	}
}

func (rl *RateLimiter) getLimiter(ip string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	v, exists := rl.visitors[ip]
	if !exists {
		v = &visitor{limiter: rate.NewLimiter(rl.rate, rl.burst)}
		rl.visitors[ip] = v
	}
	v.lastSeen = time.Now()
	return v.limiter
}

// evictIdle drops the buckets of clients not seen within idle.
func (rl *RateLimiter) evictIdle(idle time.Duration) int {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	evicted := 0
	cutoff := time.Now().Add(-idle)
	for ip, v := range rl.visitors {
		if v.lastSeen.Before(cutoff) {
			delete(rl.visitors, ip)
			evicted++
		}
	}
	return evicted
}

func (rl *RateLimiter) startCleanup() {
	rl.cleanup.Do(func() {
		go func() {
			ticker := time.NewTicker(limiterIdleTimeout / 2)
			defer ticker.Stop()
			for range ticker.C {
				if n := rl.evictIdle(limiterIdleTimeout); n > 0 {
					log.Debug().Int("evicted", n).Msg("Evicted idle rate limiters")
				}
			}
		}()
	})
}

// RateLimitMiddleware answers 429 to clients over their budget.
func RateLimitMiddleware(rl *RateLimiter) gin.HandlerFunc {
	rl.startCleanup()

	return func(c *gin.Context) {
		if !rl.getLimiter(c.ClientIP()).Allow() {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, federation.ErrorResponse{
				Error:  "Rate limit exceeded. Please try again later.",
				Reason: "rate_limited",
			})
			return
		}
		c.Next()
	}
}

// MaxBytesMiddleware limits the size of request bodies
func MaxBytesMiddleware(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.ContentLength > maxBytes {
			c.AbortWithStatusJSON(http.StatusRequestEntityTooLarge, federation.ErrorResponse{
				Error: "Request body too large",
			})
			return
		}

		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}

// RequestLogger logs one line per request through zerolog.
func RequestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		ev := log.Debug()
		switch {
		case status >= http.StatusInternalServerError:
			ev = log.Error()
		case status >= http.StatusBadRequest:
			ev = log.Info()
		}
		route := c.FullPath()
		if route == "" {
			route = c.Request.URL.Path
		}
		ev.Str("method", c.Request.Method).
			Str("route", route).
			Int("status", status).
			Dur("latency", time.Since(start)).
			Str("ip", c.ClientIP()).
			Msg("Request")
	}
}

// NodeAuthMiddleware admits calls carrying the credential of a configured
// peer and stores that peer for the handlers. Rejected calls get status.
func NodeAuthMiddleware(registry *federation.Registry, status int) gin.HandlerFunc {
	return func(c *gin.Context) {
		caller, err := registry.Authenticate(c.GetHeader(federation.APIKeyHeader))
		if err != nil {
			log.Warn().Str("ip", c.ClientIP()).Str("path", c.Request.URL.Path).Msg("Rejected node credential")
			writeErrorStatus(c, status, err)
			return
		}
		c.Set(callerKey, caller)
		c.Next()
	}
}

func callerFrom(c *gin.Context) domain.NodeConfig {
	v, _ := c.Get(callerKey)
	caller, _ := v.(domain.NodeConfig)
	return caller
}

// UserMiddleware resolves the acting local user from UserHeader. With
// required unset, anonymous requests pass through without a user.
func UserMiddleware(resolver *federation.Resolver, required bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		username := c.GetHeader(UserHeader)
		if username == "" {
			if required {
				writeErrorStatus(c, http.StatusUnauthorized, federation.ErrUnauthorized.Withf("missing %s header", UserHeader))
				return
			}
			c.Next()
			return
		}
		acc, err := resolver.LookupNative(c.Request.Context(), username)
		if err != nil {
			if federation.KindOf(err) == federation.KindNotFound {
				writeErrorStatus(c, http.StatusUnauthorized, federation.ErrUnauthorized.With(err))
				return
			}
			writeError(c, err)
			return
		}
		c.Set(userKey, acc)
		c.Next()
	}
}

// userFrom returns the acting user, or nil for anonymous requests.
func userFrom(c *gin.Context) *domain.Account {
	v, _ := c.Get(userKey)
	acc, _ := v.(*domain.Account)
	return acc
}
