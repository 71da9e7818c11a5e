// Package errors is the error vocabulary for the job scheduler.
//
// It re-exports github.com/cockroachdb/errors so every package wraps,
// marks, and inspects errors the same way:
//
//	if err := store.GetPlan(ctx, id); err != nil {
//	    return errors.Wrapf(err, "failed to load plan %s", id)
//	}
//
// Field-level validation failures are reported with ValidationError,
// and backend failures that a caller may retry are marked with
// ErrBackendUnavailable (see retry.go).
package errors

import (
	crdb "github.com/cockroachdb/errors"
)

// Core error creation and wrapping
var (
	New          = crdb.New
	Newf         = crdb.Newf
	Wrap         = crdb.Wrap
	Wrapf        = crdb.Wrapf
	WithStack    = crdb.WithStack
	WithMessage  = crdb.WithMessage
	WithMessagef = crdb.WithMessagef
)

// User-facing messages and details
var (
	WithHint           = crdb.WithHint
	WithHintf          = crdb.WithHintf
	WithDetail         = crdb.WithDetail
	WithDetailf        = crdb.WithDetailf
	WithSecondaryError = crdb.WithSecondaryError
)

// Error inspection
var (
	Is             = crdb.Is
	IsAny          = crdb.IsAny
	As             = crdb.As
	Unwrap         = crdb.Unwrap
	UnwrapAll      = crdb.UnwrapAll
	GetAllHints    = crdb.GetAllHints
	GetAllDetails  = crdb.GetAllDetails
	FlattenHints   = crdb.FlattenHints
	FlattenDetails = crdb.FlattenDetails
)

// Marking lets a wrapped error answer Is() for a sentinel without
// changing its message.
var (
	Mark             = crdb.Mark
	AssertionFailedf = crdb.AssertionFailedf
)

// Sentinel errors shared by the stores, services, and HTTP layer.
var (
	// ErrNotFound indicates the requested plan, task, or data source does not exist
	ErrNotFound = New("not found")

	// ErrInvalidRequest indicates the request was malformed
	ErrInvalidRequest = New("invalid request")

	// ErrServiceUnavailable indicates a required collaborator is not available
	ErrServiceUnavailable = New("service unavailable")

	// ErrConflict indicates a resource conflict (e.g., duplicate key)
	ErrConflict = New("resource conflict")
)

// IsNotFoundError checks if an error is or wraps ErrNotFound.
func IsNotFoundError(err error) bool {
	return err != nil && Is(err, ErrNotFound)
}

// IsInvalidRequestError checks if an error is or wraps ErrInvalidRequest
func IsInvalidRequestError(err error) bool {
	return err != nil && Is(err, ErrInvalidRequest)
}

// NewNotFoundError creates a not-found error with a formatted message
func NewNotFoundError(format string, args ...interface{}) error {
	return Wrap(ErrNotFound, Newf(format, args...).Error())
}

// NewInvalidRequestError creates an invalid-request error with a formatted message
func NewInvalidRequestError(format string, args ...interface{}) error {
	return Wrap(ErrInvalidRequest, Newf(format, args...).Error())
}
