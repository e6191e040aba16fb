package util

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	ErrPermissionDenied  = errors.New("permission denied")
	ErrNotEnrolled       = errors.New("learner is not enrolled in this course")
	ErrQuizNotFound      = errors.New("quiz not found")
	ErrQuestionNotFound  = errors.New("question not found")
	ErrAttemptNotFound   = errors.New("attempt not found")
	ErrDraftNotFound     = errors.New("draft not found")
	ErrValidation        = errors.New("validation failed")
	ErrAlreadyCompleted  = errors.New("quiz already completed")
	ErrNotAvailable      = errors.New("quiz not available")
	ErrIntegrity         = errors.New("integrity violation")
	ErrTransient         = errors.New("temporary persistence failure")
	ErrNotManualGradable = errors.New("question is not manually graded")
)

// ValidationError 请求在持久化前被拒绝，修正后可重试
type ValidationError struct {
	Fields map[string]string
}

func NewValidationError(field, msg string) *ValidationError {
	return &ValidationError{Fields: map[string]string{field: msg}}
}

func (e *ValidationError) Add(field, msg string) {
	if e.Fields == nil {
		e.Fields = map[string]string{}
	}
	e.Fields[field] = msg
}

func (e *ValidationError) Empty() bool {
	return len(e.Fields) == 0
}

// OrNil returns nil when no field failed, so callers can `return v.OrNil()`.
func (e *ValidationError) OrNil() error {
	if e == nil || e.Empty() {
		return nil
	}
	return e
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+e.Fields[k])
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// AlreadyCompletedError 终态错误，携带已存在的尝试 ID 以便调用方跳转到结果
type AlreadyCompletedError struct {
	AttemptID string
}

func (e *AlreadyCompletedError) Error() string {
	return fmt.Sprintf("quiz already completed (attempt %s)", e.AttemptID)
}

func (e *AlreadyCompletedError) Unwrap() error { return ErrAlreadyCompleted }

// Transient marks a storage failure as retryable while keeping the cause.
func Transient(err error) error {
	if err == nil || errors.Is(err, ErrTransient) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrTransient, err)
}

// Integrity wraps a message as an IntegrityError.
func Integrity(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrIntegrity, fmt.Sprintf(format, args...))
}

// Retryable tells the presentation layer whether re-offering the action makes sense.
func Retryable(err error) bool {
	switch {
	case errors.Is(err, ErrAlreadyCompleted),
		errors.Is(err, ErrNotAvailable),
		errors.Is(err, ErrIntegrity),
		errors.Is(err, ErrNotEnrolled),
		errors.Is(err, ErrPermissionDenied),
		errors.Is(err, ErrQuizNotFound),
		errors.Is(err, ErrAttemptNotFound),
		errors.Is(err, ErrQuestionNotFound),
		errors.Is(err, ErrNotManualGradable):
		return false
	}
	return true
}
