package server

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/chorus/jobs/errors"
	"github.com/chorus/jobs/logger"
)

// statusFor maps an error to its HTTP status. Validation failures win
// over the sentinels they may also be marked with.
func statusFor(err error) int {
	if _, ok := errors.AsValidationError(err); ok {
		return http.StatusUnprocessableEntity
	}
	switch {
	case errors.IsNotFoundError(err):
		return http.StatusNotFound
	case errors.IsRetryable(err), errors.Is(err, errors.ErrServiceUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, errors.ErrConflict):
		return http.StatusConflict
	case errors.IsInvalidRequestError(err):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// handleError answers with the status statusFor picks. Field errors and
// details are included; server errors are logged and their message is
// replaced with context.
func handleError(w http.ResponseWriter, log *zap.SugaredLogger, err error, context string) {
	status := statusFor(err)
	resp := errorResponse{Error: err.Error()}

	if v, ok := errors.AsValidationError(err); ok {
		resp.Error = "validation failed"
		resp.Fields = v.Fields
	}
	resp.Details = errors.GetAllDetails(err)

	if status >= http.StatusInternalServerError {
		log.Errorw(context,
			logger.FieldError, err,
			logger.FieldStatus, status,
			logger.FieldRetryable, errors.IsRetryable(err),
		)
		if status == http.StatusInternalServerError {
			resp.Error = context
			resp.Details = nil
		}
	}
	writeJSON(w, status, resp)
}
