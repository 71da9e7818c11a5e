package errors

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWrapPreservesCause(t *testing.T) {
	original := New("no such plan")
	wrapped := Wrapf(original, "failed to load plan %s", "p1")

	assert.Contains(t, wrapped.Error(), "failed to load plan p1")
	assert.Contains(t, wrapped.Error(), "no such plan")
	assert.True(t, Is(wrapped, original))
}

func TestNotFoundHelpers(t *testing.T) {
	err := NewNotFoundError("job plan %s", "abc")
	assert.True(t, IsNotFoundError(err))
	assert.True(t, IsNotFoundError(Wrap(err, "outer")))
	assert.False(t, IsNotFoundError(New("something else")))
	assert.False(t, IsNotFoundError(nil))
}

func TestInvalidRequestHelpers(t *testing.T) {
	err := NewInvalidRequestError("bad body: %d bytes", 12)
	assert.True(t, IsInvalidRequestError(err))
	assert.Contains(t, err.Error(), "bad body: 12 bytes")
}

func TestNilHandling(t *testing.T) {
	assert.Nil(t, Wrap(nil, "context"))
	assert.Nil(t, Wrapf(nil, "context %d", 1))
	assert.Nil(t, WithHint(nil, "hint"))
	assert.Nil(t, MarkRetryable(nil, "submit"))
	assert.False(t, IsRetryable(nil))
}

func TestHintsAndDetailsSurviveWrapping(t *testing.T) {
	err := New("timezone lookup failed")
	err = WithHint(err, "use a zone from /api/time_zones")
	err = WithDetail(err, "zone=Mars/Olympus")
	err = Wrap(err, "failed to create plan")

	assert.Contains(t, GetAllHints(err), "use a zone from /api/time_zones")
	assert.Contains(t, GetAllDetails(err), "zone=Mars/Olympus")
}

func TestValidationError(t *testing.T) {
	v := &ValidationError{}
	require.NoError(t, v.OrNil())

	v.Add("interval_value", CodeInvalidIntervalValue)
	v.Add("time_zone", CodeInvalidTimezone)

	err := v.OrNil()
	require.Error(t, err)
	assert.Equal(t, "validation failed: interval_value: invalid_interval_value, time_zone: invalid_timezone", err.Error())

	wrapped := Wrap(err, "create job plan")
	got, ok := AsValidationError(wrapped)
	require.True(t, ok)
	assert.Len(t, got.Fields, 2)
	assert.True(t, HasFieldCode(wrapped, "time_zone", CodeInvalidTimezone))
	assert.False(t, HasFieldCode(wrapped, "name", CodeBlank))
}

func TestRetryableMarking(t *testing.T) {
	cause := New("broker down")
	err := MarkRetryable(cause, "failed to submit job")

	assert.True(t, IsRetryable(err))
	assert.True(t, IsRetryable(Wrap(err, "enqueue")))
	assert.True(t, Is(err, cause))
	assert.Contains(t, err.Error(), "failed to submit job")
	assert.False(t, IsRetryable(cause))
}

func ExampleWrap() {
	baseErr := New("connection refused")
	err := Wrap(baseErr, "failed to open database")
	fmt.Println(err)
	// Output: failed to open database: connection refused
}
