package middleware

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/lyzr/minutes/common/ratelimit"
)

// GlobalRateLimit caps how many requests of one route class the whole
// service forwards to its upstream speech and chat quotas per window.
// Limiter failures let the request through.
func GlobalRateLimit(limiter ratelimit.Limiter, scope string, policy ratelimit.Policy) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		if limiter == nil || !policy.Enabled() {
			return next
		}
		return func(c echo.Context) error {
			result, err := limiter.Allow(c.Request().Context(), ratelimit.GlobalKey(scope), policy)
			if err != nil {
				return next(c)
			}

			if !result.Allowed {
				c.Response().Header().Set("Retry-After", strconv.FormatInt(result.RetryAfterSeconds, 10))
				return c.JSON(http.StatusTooManyRequests, map[string]interface{}{
					"error":   "global_rate_limit_exceeded",
					"message": "Service is experiencing high load. Please try again later.",
					"details": map[string]interface{}{
						"scope":               scope,
						"limit":               result.Limit,
						"window_seconds":      int64(policy.Window.Seconds()),
						"retry_after_seconds": result.RetryAfterSeconds,
					},
				})
			}

			return next(c)
		}
	}
}
