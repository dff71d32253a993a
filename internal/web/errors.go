package web

// errors.go provides unified error response handling for the web layer.
//
// Every error is logged with its technical detail and the request id, then
// returned to the client as the user-facing message from core.MapError with
// an HTTP status derived from the error kind.

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/JonMunkholm/dailydrop/internal/core"
	"github.com/JonMunkholm/dailydrop/internal/reportsink"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
)

// ErrorResponse represents the JSON structure for API error responses.
// Includes both machine-readable (Code) and human-readable (Message, Action) fields.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Action  string `json:"action,omitempty"`
	Code    string `json:"code"`
}

// respondError logs err and writes its user-facing rendition. A client input
// problem with no specific message echoes the input error itself.
func respondError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	userErr := core.NewUserError(err)
	userMsg := userErr.User

	level := slog.LevelWarn
	if status >= http.StatusInternalServerError {
		level = slog.LevelError
	}
	slog.Log(r.Context(), level, "request error",
		"path", r.URL.Path,
		"method", r.Method,
		"status", status,
		"error", userErr.Technical.Error(),
		"code", userMsg.Code,
		"request_id", middleware.GetReqID(r.Context()),
	)

	resp := ErrorResponse{
		Error:   userErr.Error(),
		Message: userMsg.Message,
		Action:  userMsg.Action,
		Code:    userMsg.Code,
	}
	var br badRequest
	if errors.As(err, &br) && !core.IsUserFacing(err) {
		resp.Error = br.Error()
	}

	render.Status(r, status)
	render.JSON(w, r, resp)
}

// badRequest wraps a client input problem so it maps to 400.
type badRequest struct{ err error }

func (b badRequest) Error() string { return b.err.Error() }
func (b badRequest) Unwrap() error { return b.err }

// statusFor maps error kinds to HTTP status codes.
func statusFor(err error) int {
	var br badRequest
	switch {
	case errors.As(err, &br):
		return http.StatusBadRequest
	case errors.Is(err, core.ErrRunNotFound),
		errors.Is(err, core.ErrUnknownTable),
		errors.Is(err, reportsink.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, core.ErrRunInProgress):
		return http.StatusConflict
	case errors.Is(err, core.ErrTooManyRuns):
		return http.StatusServiceUnavailable
	}

	switch core.MapError(err).Code {
	case "RUN006", "RUN007", "DQ004":
		return http.StatusBadRequest
	case "RUN005":
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}
