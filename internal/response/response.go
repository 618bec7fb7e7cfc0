// Package response writes the JSON envelopes every hydra endpoint returns.
package response

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// Body is the success envelope. Data carries the endpoint payload.
type Body struct {
	Data      any    `json:"data"`
	Status    int    `json:"status"`
	Message   string `json:"message,omitempty"`
	Path      string `json:"path"`
	RequestID string `json:"request_id,omitempty"`
}

// ErrorBody is the failure envelope.
type ErrorBody struct {
	Message   string `json:"message"`
	Error     string `json:"error"`
	Path      string `json:"path"`
	Status    int    `json:"status"`
	RequestID string `json:"request_id,omitempty"`
}

func requestMeta(c echo.Context) (path, id string) {
	if c == nil || c.Request() == nil {
		return "", ""
	}
	// set by the request-id middleware on the response, echoed by the client on the request
	id = c.Response().Header().Get(echo.HeaderXRequestID)
	if id == "" {
		id = c.Request().Header.Get(echo.HeaderXRequestID)
	}
	return c.Request().URL.Path, id
}

func write(c echo.Context, status int, data any, message string) error {
	path, id := requestMeta(c)
	return c.JSON(status, Body{Data: data, Status: status, Message: message, Path: path, RequestID: id})
}

// OK sends a 200 with data.
func OK(c echo.Context, data any, message string) error {
	return write(c, http.StatusOK, data, message)
}

// Accepted sends a 202 for a log entry handed to the stream but not yet consumed.
func Accepted(c echo.Context, data any, message string) error {
	return write(c, http.StatusAccepted, data, message)
}

// Error sends a failure envelope.
func Error(c echo.Context, status int, message, detail string) error {
	path, id := requestMeta(c)
	return c.JSON(status, ErrorBody{Message: message, Error: detail, Path: path, Status: status, RequestID: id})
}

func BadRequest(c echo.Context, message, detail string) error {
	return Error(c, http.StatusBadRequest, message, detail)
}

func InternalError(c echo.Context, message, detail string) error {
	return Error(c, http.StatusInternalServerError, message, detail)
}

// Unavailable sends a 503: no model is loaded yet or the broker is unreachable.
func Unavailable(c echo.Context, message, detail string) error {
	return Error(c, http.StatusServiceUnavailable, message, detail)
}
