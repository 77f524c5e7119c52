package httpapi

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// JSend statuses: success for 2xx, fail for caller or upstream problems,
// error for faults inside the engine.
const (
	statusSuccess = "success"
	statusFail    = "fail"
	statusError   = "error"
)

type envelope struct {
	Status  string `json:"status"`
	Data    any    `json:"data,omitempty"`
	Message string `json:"message,omitempty"`
	Code    int    `json:"code,omitempty"`
}

type validationPayload struct {
	ValidationErrors map[string]string `json:"validation_errors"`
}

type upstreamPayload struct {
	Retryable bool `json:"retryable"`
}

func respond(c echo.Context, code int, body envelope) error {
	return c.JSON(code, body)
}

func success(c echo.Context, data any) error {
	return respond(c, http.StatusOK, envelope{Status: statusSuccess, Data: data})
}

func fail(c echo.Context, code int, message string, data any) error {
	return respond(c, code, envelope{Status: statusFail, Message: message, Data: data})
}

func failValidation(c echo.Context, fieldErrors map[string]string) error {
	return fail(c, http.StatusBadRequest, "Validation failed", validationPayload{ValidationErrors: fieldErrors})
}

// failUpstream reports a failed embedding provider call.
func failUpstream(c echo.Context, message string, retryable bool) error {
	return fail(c, http.StatusBadGateway, message, upstreamPayload{Retryable: retryable})
}

func internalError(c echo.Context, message string) error {
	code := http.StatusInternalServerError
	return respond(c, code, envelope{Status: statusError, Message: message, Code: code})
}
