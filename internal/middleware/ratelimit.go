package middleware

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-runtime/internal/config"
	"github.com/stemsi/exstem-runtime/internal/response"
)

// RateLimiter caps requests per candidate in fixed windows counted in Redis,
// so the limit holds across server instances.
type RateLimiter struct {
	rdb      *redis.Client
	rate     int
	interval time.Duration
	log      zerolog.Logger
}

// NewRateLimiter creates a RateLimiter (e.g., 240 requests per minute).
func NewRateLimiter(rdb *redis.Client, rate int, interval time.Duration, log zerolog.Logger) *RateLimiter {
	return &RateLimiter{
		rdb:      rdb,
		rate:     rate,
		interval: interval,
		log:      log.With().Str("component", "rate_limiter").Logger(),
	}
}

// Middleware returns a Gin middleware keyed by the verified candidate id,
// falling back to the client IP. Redis errors fail open.
func (rl *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		subject := c.ClientIP()
		if claims := GetClaims(c); claims != nil {
			subject = claims.CandidateID()
		}

		window := time.Now().UnixNano() / int64(rl.interval)
		key := config.CacheKey.RateLimitKey(subject, window)

		pipe := rl.rdb.TxPipeline()
		incr := pipe.Incr(c.Request.Context(), key)
		pipe.Expire(c.Request.Context(), key, rl.interval)
		if _, err := pipe.Exec(c.Request.Context()); err != nil {
			rl.log.Warn().Err(err).Msg("Rate limit check failed, allowing request")
			c.Next()
			return
		}

		if incr.Val() > int64(rl.rate) {
			c.Header("Retry-After", "1")
			response.AbortFail(c, http.StatusTooManyRequests, response.ErrRateLimitExceeded)
			return
		}
		c.Next()
	}
}
