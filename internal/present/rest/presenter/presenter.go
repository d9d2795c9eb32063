package presenter

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/totegamma/sharedbag/internal/domain"
)

type errorResponse struct {
	Error string `json:"error"`
}

// OK wraps a successful response.
func OK(c echo.Context, payload any) error {
	return c.JSON(http.StatusOK, payload)
}

func Created(c echo.Context, payload any) error {
	return c.JSON(http.StatusCreated, payload)
}

func BadRequest(c echo.Context, err error) error {
	return BadRequestMessage(c, err.Error())
}

func BadRequestMessage(c echo.Context, msg string) error {
	slog.DebugContext(c.Request().Context(), "bad request", slog.String("error", msg), slog.String("module", "rest"))
	return c.JSON(http.StatusBadRequest, errorResponse{Error: msg})
}

func NotFound(c echo.Context, msg string) error {
	return c.JSON(http.StatusNotFound, errorResponse{Error: msg})
}

func Conflict(c echo.Context, err error) error {
	return c.JSON(http.StatusConflict, errorResponse{Error: err.Error()})
}

func Status(c echo.Context, code int, msg string) error {
	return c.JSON(code, errorResponse{Error: msg})
}

// InternalError logs err and answers with a generic message. Error text
// from the chain or storage never reaches the client.
func InternalError(c echo.Context, err error) error {
	slog.ErrorContext(c.Request().Context(), "internal error", slog.String("error", err.Error()), slog.String("module", "rest"))
	return c.JSON(http.StatusInternalServerError, errorResponse{Error: "Internal server error"})
}

// Error maps domain errors to their HTTP status.
func Error(c echo.Context, err error) error {
	var upstream *domain.UpstreamError
	switch {
	case errors.Is(err, domain.ErrValidation):
		return BadRequest(c, err)
	case errors.Is(err, domain.ErrNotFound):
		return NotFound(c, err.Error())
	case errors.Is(err, domain.ErrTransition),
		errors.Is(err, domain.ErrOperationInFlight),
		errors.Is(err, domain.ErrLastEntry),
		errors.Is(err, domain.ErrSharedAccountImmutable):
		return Conflict(c, err)
	case errors.Is(err, domain.ErrUnsupportedNetwork):
		return Status(c, http.StatusUnprocessableEntity, err.Error())
	case errors.As(err, &upstream):
		return Status(c, upstream.Status, upstream.Message)
	default:
		return InternalError(c, err)
	}
}
