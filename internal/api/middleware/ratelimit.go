package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/ulule/limiter/v3"
	mgin "github.com/ulule/limiter/v3/drivers/middleware/gin"
	"github.com/ulule/limiter/v3/drivers/store/memory"
)

// NewRateLimiter creates a Gin middleware limiting each client IP to
// requests per period. A non-positive request count disables limiting.
func NewRateLimiter(requests int, period time.Duration) gin.HandlerFunc {
	if requests <= 0 {
		return func(c *gin.Context) { c.Next() }
	}

	rate := limiter.Rate{
		Period: period,
		Limit:  int64(requests),
	}

	instance := limiter.New(memory.NewStore(), rate)
	return mgin.NewMiddleware(instance)
}
