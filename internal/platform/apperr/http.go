package apperr

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
)

// ToHTTP maps a service error onto an echo.HTTPError. Internal failures are
// reported with a generic message; the wrapped cause is attached as Internal
// so the logger middleware still records it.
func ToHTTP(err error) *echo.HTTPError {
	var he *echo.HTTPError
	if errors.As(err, &he) {
		return he
	}

	var ve *ValidationError
	if errors.As(err, &ve) {
		body := map[string]string{"error": ve.Reason}
		if ve.Field != "" {
			body = map[string]string{ve.Field: ve.Reason}
		}
		return echo.NewHTTPError(http.StatusBadRequest, body)
	}

	switch {
	case errors.Is(err, ErrValidation):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, ErrPermissionDenied):
		return echo.NewHTTPError(http.StatusForbidden, err.Error())
	}

	return echo.NewHTTPError(http.StatusInternalServerError, "internal server error").SetInternal(err)
}

// BindError converts an echo Bind failure. Field errors raised by custom
// JSON unmarshalers keep their field; anything else is a malformed body.
func BindError(err error) *echo.HTTPError {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ToHTTP(ve)
	}
	return echo.NewHTTPError(http.StatusBadRequest, "malformed request body").SetInternal(err)
}
