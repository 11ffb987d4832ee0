package errors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAppError_Error(t *testing.T) {
	err := New("TEST", "something failed", http.StatusTeapot)
	require.Equal(t, "something failed", err.Error())

	with := err.WithInternal(errors.New("boom"))
	require.Equal(t, "something failed: boom", with.Error())
}

func TestAppError_Is(t *testing.T) {
	require.ErrorIs(t, ErrNotFound, ErrNotFound)
	require.NotErrorIs(t, ErrNotFound, ErrSessionFull)

	// Derived copies still match their sentinel.
	require.ErrorIs(t, ErrInvariantViolation.WithMessage("the host cannot be kicked"), ErrInvariantViolation)
	require.ErrorIs(t, NewBadRequest("field missing"), ErrBadRequest)
	require.ErrorIs(t, ErrNotFound.WithInternal(errors.New("boom")), ErrNotFound)
}

func TestWrap(t *testing.T) {
	cause := errors.New("boom")
	err := Wrap(cause, "allocation failed")

	require.Equal(t, ErrInternalServer.Code, err.Code)
	require.Equal(t, http.StatusInternalServerError, err.StatusCode)
	require.ErrorIs(t, err, cause)
}

func TestFromError(t *testing.T) {
	require.Nil(t, FromError(nil))

	require.Same(t, ErrNotFound, FromError(ErrNotFound))

	wrapped := fmt.Errorf("handler: %w", ErrPermissionDenied)
	require.Equal(t, ErrPermissionDenied.Code, FromError(wrapped).Code)

	generic := FromError(errors.New("boom"))
	require.Equal(t, ErrInternalServer.Code, generic.Code)
	require.EqualError(t, generic.Internal, "boom")
}

func TestWithMessageKeepsMetadata(t *testing.T) {
	err := ErrPermissionDenied.WithMessage("viewers cannot act")

	require.Equal(t, "viewers cannot act", err.Message)
	require.Equal(t, ErrPermissionDenied.Code, err.Code)
	require.Equal(t, ErrPermissionDenied.StatusCode, err.StatusCode)
	// The sentinel itself is untouched.
	require.Equal(t, "Role does not permit this operation", ErrPermissionDenied.Message)
}
