package errors

// ErrBackendUnavailable marks failures of the execution backend that
// leave nothing queued. Callers may retry the same request later.
var ErrBackendUnavailable = New("execution backend unavailable")

// MarkRetryable wraps err so that IsRetryable reports true while the
// original message and cause are preserved.
func MarkRetryable(err error, msg string) error {
	if err == nil {
		return nil
	}
	return Mark(Wrap(err, msg), ErrBackendUnavailable)
}

// IsRetryable reports whether err was marked as a retryable backend failure.
func IsRetryable(err error) bool {
	return err != nil && Is(err, ErrBackendUnavailable)
}
