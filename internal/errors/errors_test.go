package errors

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConstructorsCategoryAndStatus(t *testing.T) {
	cause := errors.New("boom")

	tests := []struct {
		name           string
		err            *AppError
		expectedCat    ErrorCategory
		expectedStatus int
	}{
		{
			name:           "validation",
			err:            NewValidationError("bad field", "credit_score"),
			expectedCat:    CategoryValidation,
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:           "artifact load",
			err:            NewArtifactLoadError("model", "/tmp/model.txt", cause),
			expectedCat:    CategoryArtifactLoad,
			expectedStatus: http.StatusServiceUnavailable,
		},
		{
			name:           "feature mismatch",
			err:            NewFeatureMismatchError("vector width 3, model expects 4", nil),
			expectedCat:    CategoryFeatureMismatch,
			expectedStatus: http.StatusUnprocessableEntity,
		},
		{
			name:           "inference",
			err:            NewInferenceError("model inference", cause),
			expectedCat:    CategoryInference,
			expectedStatus: http.StatusInternalServerError,
		},
		{
			name:           "explainability",
			err:            NewExplainabilityError(cause),
			expectedCat:    CategoryExplainability,
			expectedStatus: http.StatusInternalServerError,
		},
		{
			name:           "forbidden",
			err:            NewForbiddenError("admin role required"),
			expectedCat:    CategoryForbidden,
			expectedStatus: http.StatusForbidden,
		},
		{
			name:           "conflict",
			err:            NewConflictError("username already exists", cause),
			expectedCat:    CategoryConflict,
			expectedStatus: http.StatusConflict,
		},
		{
			name:           "storage",
			err:            NewStorageError("insert history", cause),
			expectedCat:    CategoryStorage,
			expectedStatus: http.StatusServiceUnavailable,
		},
		{
			name:           "auth",
			err:            NewAuthError("invalid token", cause),
			expectedCat:    CategoryAuth,
			expectedStatus: http.StatusUnauthorized,
		},
		{
			name:           "rate limit",
			err:            NewRateLimitError("60"),
			expectedCat:    CategoryRateLimit,
			expectedStatus: http.StatusTooManyRequests,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.NotNil(t, tt.err)
			assert.Equal(t, tt.expectedCat, tt.err.Category)
			assert.Equal(t, tt.expectedStatus, tt.err.HTTPStatus)
			assert.False(t, tt.err.Timestamp.IsZero())
		})
	}
}

func TestAppErrorMessageIncludesCause(t *testing.T) {
	err := NewInferenceError("calibration", errors.New("nan input"))

	assert.Equal(t, "[INFERENCE] calibration failed: nan input", err.Error())
	assert.EqualError(t, err.Unwrap(), "nan input")
}

func TestIsCategory(t *testing.T) {
	base := NewFeatureMismatchError("wrong shape", nil)
	wrapped := fmt.Errorf("materialize: %w", base)

	assert.True(t, IsCategory(base, CategoryFeatureMismatch))
	assert.True(t, IsCategory(wrapped, CategoryFeatureMismatch))
	assert.False(t, IsCategory(wrapped, CategoryInference))
	assert.False(t, IsCategory(errors.New("plain"), CategoryInference))
	assert.False(t, IsCategory(nil, CategoryInference))
}

func TestToAppError(t *testing.T) {
	t.Run("nil stays nil", func(t *testing.T) {
		assert.Nil(t, ToAppError(nil))
	})

	t.Run("app error passes through wrapping", func(t *testing.T) {
		original := NewValidationError("bad")
		converted := ToAppError(fmt.Errorf("ctx: %w", original))
		assert.Same(t, original, converted)
	})

	t.Run("context errors become timeouts", func(t *testing.T) {
		assert.Equal(t, CategoryTimeout, ToAppError(context.Canceled).Category)
		assert.Equal(t, CategoryTimeout, ToAppError(context.DeadlineExceeded).Category)
	})

	t.Run("anything else is internal", func(t *testing.T) {
		assert.Equal(t, CategoryInternal, ToAppError(errors.New("x")).Category)
	})
}

func TestIsRetryableError(t *testing.T) {
	assert.True(t, IsRetryableError(NewStorageError("insert", nil)))
	assert.True(t, IsRetryableError(context.DeadlineExceeded))
	assert.False(t, IsRetryableError(NewValidationError("bad")))
	assert.False(t, IsRetryableError(nil))
}

func TestSafeExecute(t *testing.T) {
	err := SafeExecute(func() error {
		panic("exploded")
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exploded")

	assert.NoError(t, SafeExecute(func() error { return nil }))
}

func TestWrapError(t *testing.T) {
	assert.Nil(t, WrapError(nil, "noop"))

	cause := errors.New("disk full")
	err := WrapError(cause, "saving %s", "history")
	assert.EqualError(t, err, "saving history: disk full")
	assert.ErrorIs(t, err, cause)
}

func TestResponseBody(t *testing.T) {
	body := NewRateLimitError("30").Response()

	assert.Equal(t, "Rate limit exceeded", body["error"])
	assert.Equal(t, CategoryRateLimit, body["category"])
	require.Contains(t, body, "details")
	assert.Len(t, body["details"], 1)

	plain := NewAuthError("missing bearer token", nil).Response()
	assert.NotContains(t, plain, "details")
	assert.NotContains(t, plain, "request_id")
}
