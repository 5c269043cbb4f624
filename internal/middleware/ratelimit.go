package middleware

import (
	"strconv"
	"time"

	"licensehub/internal/caching"
	"licensehub/internal/common"
	"licensehub/internal/logs"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"
)

// RateLimit allows limit requests per window for each client IP. Limiter
// failures let the request through.
func RateLimit(limiter caching.RateLimiter, name string, limit int, window time.Duration, logger logrus.FieldLogger) echo.MiddlewareFunc {
	log := logs.Component(logger, "ratelimit")
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ip := c.RealIP()
			allowed, err := limiter.Allow(c.Request().Context(), name+":"+ip, limit, window)
			if err != nil {
				log.WithError(err).WithField("ip", ip).Warn("Rate limiter unavailable")
				return next(c)
			}
			if !allowed {
				c.Response().Header().Set("Retry-After", retryAfter(window))
				return common.NewError(common.CodeRateLimited, "Too many requests, please try again later")
			}
			return next(c)
		}
	}
}

func retryAfter(window time.Duration) string {
	seconds := int(window.Seconds())
	if seconds < 1 {
		seconds = 1
	}
	return strconv.Itoa(seconds)
}
