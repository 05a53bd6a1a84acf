package handlers

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/lyzr/minutes/common/apperrors"
	"github.com/lyzr/minutes/common/logger"
)

// toHTTPError maps a service error onto an echo HTTP error. Server-side
// failures are logged with the request context; client errors are not.
func toHTTPError(c echo.Context, log *logger.Logger, op string, err error) error {
	status := apperrors.HTTPStatus(err)
	message := err.Error()

	switch {
	case status >= http.StatusInternalServerError && !errors.Is(err, apperrors.ErrUpstream):
		log.ErrorContext(c.Request().Context(), "request failed", "op", op, "error", err)
		if errors.Is(err, apperrors.ErrConfiguration) {
			message = "service is not configured: " + err.Error()
		} else {
			message = "internal error"
		}
	case errors.Is(err, apperrors.ErrUpstream):
		log.WithContext(c.Request().Context()).Warn("upstream failure", "op", op, "error", err)
	}
	return echo.NewHTTPError(status, message)
}
