package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindCodes(t *testing.T) {
	tests := []struct {
		kind   Kind
		code   string
		status int
	}{
		{KindValidation, "VALIDATION_ERROR", http.StatusBadRequest},
		{KindAuthentication, "AUTH_ERROR", http.StatusUnauthorized},
		{KindAuthorization, "FORBIDDEN", http.StatusForbidden},
		{KindDependencyUnavailable, "DEPENDENCY_UNAVAILABLE", http.StatusServiceUnavailable},
		{KindDependencyAuth, "INTERNAL_ERROR", http.StatusInternalServerError},
		{KindRotationConflict, "ROTATION_CONFLICT", http.StatusConflict},
		{KindInvalidStateTransition, "INVALID_STATE_TRANSITION", http.StatusConflict},
		{KindInternal, "INTERNAL_ERROR", http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			assert.Equal(t, tt.code, tt.kind.Code())
			assert.Equal(t, tt.status, tt.kind.HTTPStatus())
		})
	}
}

func TestKindOfUnwrapsChains(t *testing.T) {
	cause := stderrors.New("connection refused")
	classified := Wrap(KindDependencyUnavailable, "vault unreachable", cause)
	wrapped := fmt.Errorf("authenticating client: %w", classified)

	assert.Equal(t, KindDependencyUnavailable, KindOf(wrapped))
	assert.Equal(t, "DEPENDENCY_UNAVAILABLE", CodeOf(wrapped))
	assert.Equal(t, http.StatusServiceUnavailable, HTTPStatusOf(wrapped))
	assert.True(t, stderrors.Is(wrapped, cause) || stderrors.Is(stderrors.Unwrap(wrapped), cause))
}

func TestUnclassifiedIsInternal(t *testing.T) {
	err := stderrors.New("whoops")

	assert.Equal(t, KindInternal, KindOf(err))
	assert.Equal(t, "INTERNAL_ERROR", CodeOf(err))
	assert.Equal(t, "internal error", MessageOf(err))
}

func TestMessageOfHidesCause(t *testing.T) {
	err := Wrap(KindAuthentication, "authentication failed", stderrors.New("hash mismatch for stored record v3"))

	assert.Equal(t, "authentication failed", MessageOf(err))
	assert.Contains(t, err.Error(), "hash mismatch")
}

func TestRetryable(t *testing.T) {
	assert.False(t, Retryable(New(KindAuthentication, "bad secret")))
	assert.False(t, Retryable(New(KindValidation, "missing header")))
	assert.False(t, Retryable(New(KindRotationConflict, "rotation in progress")))
	assert.False(t, Retryable(New(KindDependencyAuth, "store session rejected")))
	assert.True(t, Retryable(New(KindDependencyUnavailable, "vault down")))
	assert.True(t, Retryable(stderrors.New("unknown")))
}
