package middleware

import (
	"errors"
	"fmt"
	"net/http"
	"runtime"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/hrmonitor/hrmonitor/internal/platform/apperr"
	"github.com/hrmonitor/hrmonitor/internal/platform/auth"
)

// Recovery turns a handler panic into a 500 and logs it with enough to find
// the request in the audit trail: the request id, the caller, the route and
// the patient the path names. http.ErrAbortHandler is re-raised so net/http
// can drop the connection.
func Recovery(logger zerolog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) (err error) {
			defer func() {
				r := recover()
				if r == nil {
					return
				}
				if r == http.ErrAbortHandler {
					panic(r)
				}
				err = recovered(c, logger, r)
			}()
			return next(c)
		}
	}
}

func recovered(c echo.Context, logger zerolog.Logger, r any) error {
	cause, ok := r.(error)
	if !ok {
		cause = fmt.Errorf("%v", r)
	}
	var stack [4096]byte
	n := runtime.Stack(stack[:], false)

	req := c.Request()
	ev := logger.Error().
		Err(cause).
		Str("method", req.Method).
		Str("route", c.Path()).
		Str("resource", resourceFromPath(req.URL.Path))
	if rid, ok := c.Get("request_id").(string); ok {
		ev = ev.Str("request_id", rid)
	}
	if p, ok := auth.PrincipalFromContext(req.Context()); ok {
		ev = ev.Str("user_id", p.UserID).Str("role", string(p.Role))
	}
	if pid := patientFromPath(req.URL.Path); pid != "" {
		ev = ev.Str("patient_id", pid)
	}
	ev.Bool("committed", c.Response().Committed).
		Str("stack", string(stack[:n])).
		Msg("handler panic")

	return apperr.ToHTTP(apperr.Internal("handler panic", errors.Join(errPanic, cause)))
}

// errPanic marks the internal cause of a recovered panic.
var errPanic = errors.New("panic")
