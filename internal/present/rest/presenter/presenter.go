package presenter

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"
	"go.opentelemetry.io/otel/trace"

	"github.com/totegamma/feedingest"
	"github.com/totegamma/feedingest/internal/domain"
)

// OK wraps a successful response.
func OK(c echo.Context, payload any) error {
	return c.JSON(http.StatusOK, feedingest.Envelope{OK: true, Data: payload})
}

func Created(c echo.Context, payload any) error {
	return c.JSON(http.StatusCreated, feedingest.Envelope{OK: true, Data: payload})
}

func fail(c echo.Context, status int, msg string) error {
	return c.JSON(status, feedingest.Envelope{OK: false, Error: msg})
}

func BadRequest(c echo.Context, err error) error {
	slog.DebugContext(c.Request().Context(), "bad request", slog.String("error", err.Error()), slog.String("module", "rest"))
	return fail(c, http.StatusBadRequest, err.Error())
}

func BadRequestMessage(c echo.Context, msg string) error {
	slog.DebugContext(c.Request().Context(), "bad request", slog.String("error", msg), slog.String("module", "rest"))
	return fail(c, http.StatusBadRequest, msg)
}

func Unauthorized(c echo.Context, msg string) error {
	return fail(c, http.StatusUnauthorized, msg)
}

func Forbidden(c echo.Context, msg string) error {
	return fail(c, http.StatusForbidden, msg)
}

func NotFound(c echo.Context, msg string) error {
	return fail(c, http.StatusNotFound, msg)
}

// PartialFailure reports a persisted first step alongside the failed second step.
func PartialFailure(c echo.Context, payload any, err error) error {
	slog.WarnContext(c.Request().Context(), "partial failure", slog.String("error", err.Error()), slog.String("module", "rest"))
	return c.JSON(http.StatusMultiStatus, feedingest.Envelope{OK: false, Data: payload, Error: err.Error()})
}

func InternalError(c echo.Context, err error) error {
	ctx := c.Request().Context()
	slog.ErrorContext(
		ctx, "internal error",
		slog.String("error", err.Error()),
		slog.String("traceId", trace.SpanContextFromContext(ctx).TraceID().String()),
		slog.String("module", "rest"),
	)
	return fail(c, http.StatusInternalServerError, err.Error())
}

// Error maps a domain error to its response.
func Error(c echo.Context, err error) error {
	switch {
	case errors.Is(err, domain.ErrInvalidArgument):
		return BadRequest(c, err)
	case errors.Is(err, domain.ErrNotFound):
		return NotFound(c, err.Error())
	case errors.Is(err, domain.ErrAlreadyExists):
		return fail(c, http.StatusConflict, err.Error())
	case errors.Is(err, domain.ErrPurgeDisabled):
		return Forbidden(c, err.Error())
	case errors.Is(err, domain.ErrFetch):
		return fail(c, http.StatusBadGateway, err.Error())
	default:
		return InternalError(c, err)
	}
}
