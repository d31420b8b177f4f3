package web

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

type errorResponse struct {
	Code        string `json:"error"`
	Description string `json:"error_description,omitempty"`
}

func errorCode(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "invalid_request"
	case http.StatusUnauthorized:
		return "unauthorized"
	case http.StatusForbidden:
		return "access_denied"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusMethodNotAllowed:
		return "method_not_allowed"
	default:
		return "server_error"
	}
}

// errorHandler renders errors as JSON for API clients and as the error page
// otherwise.
func (s *Server) errorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	status := http.StatusInternalServerError
	description := "An unexpected error occurred"
	var httpErr *echo.HTTPError
	if errors.As(err, &httpErr) {
		status = httpErr.Code
		description = fmt.Sprint(httpErr.Message)
	} else {
		slog.Error("Unhandled error", "error", err, "path", c.Request().URL.Path)
	}

	var renderErr error
	switch {
	case c.Request().Method == http.MethodHead:
		renderErr = c.NoContent(status)
	case strings.Contains(c.Request().Header.Get(echo.HeaderAccept), echo.MIMEApplicationJSON):
		renderErr = c.JSON(status, errorResponse{Code: errorCode(status), Description: description})
	default:
		renderErr = c.Render(status, pageError, &viewData{
			Title: http.StatusText(status),
			Error: description,
		})
	}
	if renderErr != nil {
		slog.Error("Unable to render error", "error", renderErr)
	}
}
