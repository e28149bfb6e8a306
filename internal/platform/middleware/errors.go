package middleware

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/medisphere/medisphere/pkg/apperrors"
)

// ErrorResponse is the body returned for every failed request.
type ErrorResponse struct {
	Status    string `json:"status"`
	Code      string `json:"code"`
	Message   string `json:"message"`
	RequestID string `json:"request_id,omitempty"`
}

// ErrorHandler renders application and echo errors as ErrorResponse. Causes
// of internal errors are logged and never sent to the client.
func ErrorHandler(logger zerolog.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}
		rid, _ := c.Get("request_id").(string)

		resp := ErrorResponse{Status: "error", RequestID: rid}
		status := http.StatusInternalServerError

		var he *echo.HTTPError
		if errors.As(err, &he) {
			status = he.Code
			resp.Code = codeForStatus(he.Code)
			if msg, ok := he.Message.(string); ok {
				resp.Message = msg
			} else {
				resp.Message = http.StatusText(he.Code)
			}
		} else {
			status = apperrors.HTTPStatus(err)
			resp.Code = apperrors.PublicCode(err)
			resp.Message = apperrors.PublicMessage(err)
			if apperrors.KindOf(err) == apperrors.KindInternal {
				logger.Error().Err(err).Str("request_id", rid).Str("path", c.Request().URL.Path).Msg("internal error")
			}
		}

		var writeErr error
		if c.Request().Method == http.MethodHead {
			writeErr = c.NoContent(status)
		} else {
			writeErr = c.JSON(status, resp)
		}
		if writeErr != nil {
			logger.Error().Err(writeErr).Str("request_id", rid).Msg("write error response")
		}
	}
}

func codeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "validation"
	case http.StatusUnauthorized:
		return "unauthorized"
	case http.StatusForbidden:
		return "forbidden"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusMethodNotAllowed:
		return "method_not_allowed"
	case http.StatusRequestEntityTooLarge:
		return "payload_too_large"
	case http.StatusGatewayTimeout:
		return "timeout"
	case http.StatusServiceUnavailable:
		return "unavailable"
	default:
		if status >= 500 {
			return "internal"
		}
		return "error"
	}
}
