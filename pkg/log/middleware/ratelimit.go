package middleware

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis_rate/v9"
	"moff.io/moff-wallet/pkg/log"
)

// RateLimit allows perMinute requests per client ip, counted in redis.
// Requests pass when redis cannot be reached.
func RateLimit(limiter *redis_rate.Limiter, perMinute int) gin.HandlerFunc {
	limit := redis_rate.PerMinute(perMinute)
	return func(ctx *gin.Context) {
		res, err := limiter.Allow(ctx.Request.Context(), "moff:wallet:http:"+ctx.ClientIP(), limit)
		if err != nil {
			log.Warnf("rate limit check:%v", err)
			ctx.Next()
			return
		}
		ctx.Header("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))
		if res.Allowed == 0 {
			ctx.Header("Retry-After", strconv.Itoa(int(res.RetryAfter.Seconds())+1))
			ctx.AbortWithStatusJSON(http.StatusTooManyRequests, map[string]interface{}{
				"code": 4290,
				"msg":  "too many requests",
			})
			return
		}
		ctx.Next()
	}
}
