package middleware

import (
	"time"

	"github.com/labstack/echo/v4"

	"FinFusion/pkg/logger"
)

// RequestLogging writes one debug line per request.
func RequestLogging(l *logger.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			l.Debug("http request",
				logger.String("method", c.Request().Method),
				logger.String("route", c.Path()),
				logger.String("remote", c.RealIP()),
				logger.Int("status", c.Response().Status),
				logger.Duration("duration_ms", time.Since(start)),
			)
			return err
		}
	}
}
