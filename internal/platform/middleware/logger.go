package middleware

import (
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

func Logger(logger zerolog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			req := c.Request()
			rid, _ := c.Get("request_id").(string)

			err := next(c)
			status := c.Response().Status

			evt := logger.Info()
			if err != nil {
				// The error handler has not written the response yet.
				cause := err
				if he, ok := err.(*echo.HTTPError); ok {
					status = he.Code
					if he.Internal != nil {
						cause = he.Internal
					}
				} else {
					status = 500
				}
				evt = logger.Warn().Err(cause)
				if status >= 500 {
					evt = logger.Error().Err(cause)
				}
			}

			evt.
				Str("request_id", rid).
				Str("method", req.Method).
				Str("path", req.URL.Path).
				Int("status", status).
				Dur("latency", time.Since(start)).
				Str("remote_ip", c.RealIP()).
				Msg("request")

			return err
		}
	}
}
