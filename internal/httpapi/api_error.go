package httpapi

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/John-Robertt/clash2singbox/internal/clash"
	"github.com/John-Robertt/clash2singbox/internal/compiler"
	"github.com/John-Robertt/clash2singbox/internal/fetch"
	"github.com/John-Robertt/clash2singbox/internal/model"
	"github.com/John-Robertt/clash2singbox/internal/render"
	"github.com/John-Robertt/clash2singbox/internal/rules"
)

// APIError is used by the HTTP layer for request validation and a few
// HTTP-specific errors.
type APIError struct {
	Status   int
	AppError model.AppError
	Cause    error
}

func (e *APIError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Cause == nil {
		return fmt.Sprintf("%s: %s", e.AppError.Code, e.AppError.Message)
	}
	return fmt.Sprintf("%s: %s: %v", e.AppError.Code, e.AppError.Message, e.Cause)
}

func (e *APIError) Unwrap() error { return e.Cause }

func apiError(status int, app model.AppError, cause error) error {
	return &APIError{Status: status, AppError: app, Cause: cause}
}

func requestError(code, message, hint string) error {
	return apiError(http.StatusBadRequest, model.AppError{
		Code:    code,
		Message: message,
		Stage:   "validate_request",
		Hint:    hint,
	}, nil)
}

// errorStatus maps a pipeline error to its HTTP status and payload.
func errorStatus(err error) (int, model.AppError) {
	var ae *APIError
	if errors.As(err, &ae) {
		return ae.Status, ae.AppError
	}

	var fe *fetch.FetchError
	if errors.As(err, &fe) {
		return fe.Status, fe.AppError
	}

	// Parse/compile/render errors are user content errors => 422.
	var pe *clash.ParseError
	if errors.As(err, &pe) {
		return http.StatusUnprocessableEntity, pe.AppError
	}

	var rpe *rules.ParseError
	if errors.As(err, &rpe) {
		return http.StatusUnprocessableEntity, rpe.AppError
	}

	var ce *compiler.CompileError
	if errors.As(err, &ce) {
		return http.StatusUnprocessableEntity, ce.AppError
	}

	var re *render.RenderError
	if errors.As(err, &re) {
		return http.StatusUnprocessableEntity, re.AppError
	}

	return http.StatusInternalServerError, model.AppError{
		Code:    "INTERNAL_ERROR",
		Message: "服务端内部错误",
		Stage:   "internal",
		Hint:    err.Error(),
	}
}

// writeError answers with the AppError of err. withDiagnostics attaches the
// warnings collected before a conversion failure.
func (s *server) writeError(w http.ResponseWriter, err error, withDiagnostics bool) {
	if err == nil {
		return
	}
	status, app := errorStatus(err)
	s.metrics.incAppError(app.Stage, app.Code)
	if status >= http.StatusInternalServerError {
		s.log.Errorw("request failed", "stage", app.Stage, "code", app.Code, "err", err)
	}

	resp := model.ErrorResponse{Error: app}
	if withDiagnostics {
		resp.Diagnostics = compiler.Diagnostics(err)
	}
	writeJSON(w, status, resp)
}
