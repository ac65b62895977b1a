package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"github.com/dmitrijs2005/kycflow/internal/common"
	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
)

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

type errorMapping struct {
	target error
	status int
	code   string
}

// first match wins
var errorMappings = []errorMapping{
	{common.ErrSessionNotFound, http.StatusNotFound, "session_not_found"},
	{common.ErrorNotFound, http.StatusNotFound, "not_found"},
	{common.ErrSessionExpired, http.StatusGone, "session_expired"},
	{common.ErrActiveSessionExists, http.StatusConflict, "active_session_exists"},
	{common.ErrAlreadyVerified, http.StatusConflict, "already_verified"},
	{common.ErrAlreadyInProgress, http.StatusConflict, "already_in_progress"},
	{common.ErrInvalidTransition, http.StatusConflict, "invalid_transition"},
	{common.ErrValidation, http.StatusBadRequest, "validation_error"},
	{common.ErrInvalidToken, http.StatusUnauthorized, "invalid_token"},
	{common.ErrorUnauthorized, http.StatusUnauthorized, "unauthorized"},
	{common.ErrTransient, http.StatusServiceUnavailable, "temporarily_unavailable"},
}

// mapError returns the HTTP status and body for err. Unknown errors become
// an opaque 500.
func mapError(err error) (int, ErrorResponse) {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		return http.StatusBadRequest, ErrorResponse{Error: "validation_error", Message: err.Error()}
	}

	for _, m := range errorMappings {
		if errors.Is(err, m.target) {
			return m.status, ErrorResponse{Error: m.code, Message: err.Error()}
		}
	}
	return http.StatusInternalServerError, ErrorResponse{Error: "internal_error", Message: common.ErrorInternal.Error()}
}

func (s *HTTPServer) writeError(c echo.Context, err error) error {
	status, body := mapError(err)
	if status == http.StatusInternalServerError {
		s.logger.Error(c.Request().Context(), "request failed",
			"method", c.Request().Method, "path", c.Path(), "error", err)
	}
	return c.JSON(status, body)
}

// errorHandler renders errors escaping handlers, echo's own included, in
// the ErrorResponse shape.
func (s *HTTPServer) errorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	var he *echo.HTTPError
	if errors.As(err, &he) {
		msg := http.StatusText(he.Code)
		if m, ok := he.Message.(string); ok {
			msg = m
		}
		code := strings.ReplaceAll(strings.ToLower(http.StatusText(he.Code)), " ", "_")
		_ = c.JSON(he.Code, ErrorResponse{Error: code, Message: msg})
		return
	}

	_ = s.writeError(c, err)
}
