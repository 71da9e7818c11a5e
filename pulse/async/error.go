package async

import (
	"context"
	"strings"

	"github.com/chorus/jobs/errors"
)

// ErrorCode represents the classification of an error
type ErrorCode string

const (
	ErrorCodeNotFound        ErrorCode = "not_found"
	ErrorCodeParseError      ErrorCode = "parse_error"
	ErrorCodeNetworkError    ErrorCode = "network_error"
	ErrorCodeDatabaseError   ErrorCode = "database_error"
	ErrorCodeValidationError ErrorCode = "validation_error"
	ErrorCodeBackend         ErrorCode = "backend_unavailable"
	ErrorCodeNoHandler       ErrorCode = "no_handler"
	ErrorCodeTimeout         ErrorCode = "timeout"
	ErrorCodeUnknown         ErrorCode = "unknown"
)

// ErrorContext provides structured error information for job failures
type ErrorContext struct {
	Stage     string    // Where the error occurred
	Code      ErrorCode // Error classification
	Message   string    // Human-readable message
	Retryable bool      // Can the job be retried?
}

// Permanent marks err so that ClassifyError never retries it.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return errors.Mark(err, errPermanent)
}

var errPermanent = errors.New("permanent job failure")

// ClassifyError decides whether a failed job should be retried. Marked
// errors are classified by their marks; anything else by its message.
func ClassifyError(stage string, err error) ErrorContext {
	if err == nil {
		return ErrorContext{Stage: stage, Code: ErrorCodeUnknown, Message: "unknown error"}
	}

	ctx := ErrorContext{Stage: stage, Message: err.Error()}

	switch {
	case errors.Is(err, errPermanent):
		ctx.Code = ErrorCodeUnknown
	case errors.Is(err, ErrNoHandler):
		ctx.Code = ErrorCodeNoHandler
	case errors.Is(err, errors.ErrNotFound):
		ctx.Code = ErrorCodeNotFound
	case errors.IsRetryable(err):
		ctx.Code = ErrorCodeBackend
		ctx.Retryable = true
	case errors.Is(err, context.DeadlineExceeded):
		ctx.Code = ErrorCodeTimeout
		ctx.Retryable = true
	default:
		if _, ok := errors.AsValidationError(err); ok {
			ctx.Code = ErrorCodeValidationError
			break
		}
		classifyByMessage(&ctx, strings.ToLower(ctx.Message))
	}
	return ctx
}

func classifyByMessage(ctx *ErrorContext, msg string) {
	switch {
	case strings.Contains(msg, "parse") || strings.Contains(msg, "unmarshal") || strings.Contains(msg, "invalid json"):
		ctx.Code = ErrorCodeParseError
	case strings.Contains(msg, "connection") || strings.Contains(msg, "network"):
		ctx.Code = ErrorCodeNetworkError
		ctx.Retryable = true
	case strings.Contains(msg, "timed out") || strings.Contains(msg, "timeout"):
		ctx.Code = ErrorCodeTimeout
		ctx.Retryable = true
	case strings.Contains(msg, "database is locked") || strings.Contains(msg, "sql"):
		ctx.Code = ErrorCodeDatabaseError
		ctx.Retryable = true
	case strings.Contains(msg, "validation") || strings.Contains(msg, "invalid"):
		ctx.Code = ErrorCodeValidationError
	default:
		ctx.Code = ErrorCodeUnknown
		ctx.Retryable = true
	}
}
