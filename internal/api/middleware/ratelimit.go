package middleware

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/ulule/limiter/v3"
	mgin "github.com/ulule/limiter/v3/drivers/middleware/gin"
	"github.com/ulule/limiter/v3/drivers/store/memory"
)

// NewRateLimiter creates a Gin middleware allowing requests per period for
// each client IP. A nil store keeps counters in memory.
func NewRateLimiter(requests int64, period string, store limiter.Store, logger zerolog.Logger) (gin.HandlerFunc, error) {
	duration, err := time.ParseDuration(period)
	if err != nil {
		return nil, fmt.Errorf("invalid rate limit period %q: %w", period, err)
	}
	if requests <= 0 {
		return nil, fmt.Errorf("invalid rate limit requests %d", requests)
	}

	if store == nil {
		store = memory.NewStoreWithOptions(limiter.StoreOptions{Prefix: "phxbot:http"})
	}
	instance := limiter.New(store, limiter.Rate{Period: duration, Limit: requests})

	log := logger.With().Str("component", "http_rate_limit").Logger()
	return mgin.NewMiddleware(instance,
		mgin.WithLimitReachedHandler(func(c *gin.Context) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded"})
		}),
		mgin.WithErrorHandler(func(c *gin.Context, err error) {
			log.Error().Err(err).Msg("rate limiter failed")
			c.Next()
		}),
	), nil
}
