package util

import (
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		err       error
		status    int
		reason    string
		retryable bool
	}{
		{&AlreadyCompletedError{AttemptID: "a"}, http.StatusConflict, ReasonAlreadyCompleted, false},
		{NewValidationError("title", "is required"), http.StatusBadRequest, ReasonValidation, true},
		{ErrNotAvailable, http.StatusForbidden, ReasonNotAvailable, false},
		{ErrNotEnrolled, http.StatusForbidden, ReasonNotEnrolled, false},
		{ErrPermissionDenied, http.StatusForbidden, ReasonForbidden, false},
		{ErrAttemptNotFound, http.StatusNotFound, ReasonNotFound, false},
		{ErrNotManualGradable, http.StatusUnprocessableEntity, ReasonNotGradable, false},
		{Integrity("question %s missing", "q1"), http.StatusUnprocessableEntity, ReasonIntegrity, false},
		{Transient(errors.New("deadlock")), http.StatusServiceUnavailable, ReasonTransient, true},
		{errors.New("boom"), http.StatusInternalServerError, ReasonInternal, true},
	}
	for _, tt := range tests {
		t.Run(tt.reason, func(t *testing.T) {
			status, reason := classify(tt.err)
			assert.Equal(t, tt.status, status)
			assert.Equal(t, tt.reason, reason)
			assert.Equal(t, tt.retryable, Retryable(tt.err))
		})
	}
}

func TestTransientKeepsCause(t *testing.T) {
	cause := errors.New("connection refused")
	err := Transient(cause)
	assert.ErrorIs(t, err, ErrTransient)
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, err, Transient(err))
	assert.Nil(t, Transient(nil))
}

func TestValidationErrorMessage(t *testing.T) {
	ve := &ValidationError{}
	assert.NoError(t, ve.OrNil())
	ve.Add("b", "bad")
	ve.Add("a", "worse")
	assert.Equal(t, "validation failed: a: worse; b: bad", ve.Error())
	assert.ErrorIs(t, ve.OrNil(), ErrValidation)
}
