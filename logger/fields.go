package logger

import (
	"context"

	"go.uber.org/zap"
)

// Standard field names for structured logging.
const (
	// Identity
	FieldJobID       = "job_id"
	FieldPlanID      = "plan_id"
	FieldTaskID      = "task_id"
	FieldResultID    = "result_id"
	FieldDataSource  = "data_source_id"
	FieldWorkspaceID = "workspace_id"
	FieldRequestID   = "request_id"

	// Components
	FieldComponent = "component"
	FieldHandler   = "handler"
	FieldBackend   = "backend"

	// Dispatch
	FieldDispatchKey = "dispatch_key"
	FieldJobName     = "job_name"
	FieldRetryable   = "retryable"

	// Scheduling
	FieldNextRun  = "next_run"
	FieldEndRun   = "end_run"
	FieldInterval = "interval"
	FieldTimeZone = "time_zone"

	// Operations
	FieldOperation = "operation"
	FieldMethod    = "method"
	FieldPath      = "path"

	// Timing
	FieldDurationMS = "duration_ms"

	// Errors
	FieldError     = "error"
	FieldErrorCode = "error_code"

	// Counts
	FieldCount = "count"

	// Status
	FieldStatus = "status"
	FieldState  = "state"

	// Network
	FieldAddress = "address"
	FieldPort    = "port"

	FieldSymbol = "symbol"
)

type contextKey string

const (
	jobIDKey     contextKey = "logger_job_id"
	planIDKey    contextKey = "logger_plan_id"
	requestIDKey contextKey = "logger_request_id"
)

// WithJobID adds a queue job ID to the context for logging
func WithJobID(ctx context.Context, jobID string) context.Context {
	return context.WithValue(ctx, jobIDKey, jobID)
}

// WithPlanID adds a job plan ID to the context for logging
func WithPlanID(ctx context.Context, planID string) context.Context {
	return context.WithValue(ctx, planIDKey, planID)
}

// WithRequestID adds an HTTP request ID to the context for logging
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

// FieldsFromContext extracts logging fields from context as key-value
// pairs for Infow/Errorw.
func FieldsFromContext(ctx context.Context) []interface{} {
	var fields []interface{}

	if jobID, ok := ctx.Value(jobIDKey).(string); ok && jobID != "" {
		fields = append(fields, FieldJobID, jobID)
	}
	if planID, ok := ctx.Value(planIDKey).(string); ok && planID != "" {
		fields = append(fields, FieldPlanID, planID)
	}
	if requestID, ok := ctx.Value(requestIDKey).(string); ok && requestID != "" {
		fields = append(fields, FieldRequestID, requestID)
	}

	return fields
}

// FromContext decorates base with the fields carried by ctx.
func FromContext(ctx context.Context, base *zap.SugaredLogger) *zap.SugaredLogger {
	fields := FieldsFromContext(ctx)
	if len(fields) == 0 {
		return base
	}
	return base.With(fields...)
}

// ComponentLogger returns a named logger for a specific component.
// This is the preferred way to get a logger for dependency injection:
//
//	t := &Ticker{logger: logger.ComponentLogger("pulse.ticker")}
func ComponentLogger(name string) *zap.SugaredLogger {
	return Logger.Named(name)
}
