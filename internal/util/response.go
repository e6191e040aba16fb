package util

import (
	"errors"
	"net/http"
	"quiz_engine_backend/pkg/logger"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Response 统一响应结构
type Response struct {
	Code      int         `json:"code"`
	Message   string      `json:"message"`
	Reason    string      `json:"reason,omitempty"`
	Retryable *bool       `json:"retryable,omitempty"`
	Data      interface{} `json:"data,omitempty"`
}

func Success(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, Response{
		Code:    http.StatusOK,
		Message: "success",
		Data:    data,
	})
}

func Created(c *gin.Context, data interface{}) {
	c.JSON(http.StatusCreated, Response{
		Code:    http.StatusCreated,
		Message: "created",
		Data:    data,
	})
}

func Error(c *gin.Context, code int, message string) {
	c.JSON(code, Response{
		Code:    code,
		Message: message,
	})
}

func Unauthorized(c *gin.Context) {
	Error(c, http.StatusUnauthorized, "Unauthorized")
}

func Forbidden(c *gin.Context) {
	Error(c, http.StatusForbidden, "Forbidden")
}

func BadRequest(c *gin.Context, message string) {
	Fail(c, NewValidationError("body", message))
}

func NotFound(c *gin.Context) {
	Error(c, http.StatusNotFound, "Resource not found")
}

func InternalServerError(c *gin.Context) {
	Error(c, http.StatusInternalServerError, "Internal server error")
}

// classify 将领域错误映射为 HTTP 状态码和原因
func classify(err error) (int, string) {
	var already *AlreadyCompletedError
	switch {
	case errors.As(err, &already), errors.Is(err, ErrAlreadyCompleted):
		return http.StatusConflict, ReasonAlreadyCompleted
	case errors.Is(err, ErrValidation):
		return http.StatusBadRequest, ReasonValidation
	case errors.Is(err, ErrNotAvailable):
		return http.StatusForbidden, ReasonNotAvailable
	case errors.Is(err, ErrNotEnrolled):
		return http.StatusForbidden, ReasonNotEnrolled
	case errors.Is(err, ErrPermissionDenied):
		return http.StatusForbidden, ReasonForbidden
	case errors.Is(err, ErrQuizNotFound), errors.Is(err, ErrAttemptNotFound),
		errors.Is(err, ErrQuestionNotFound), errors.Is(err, ErrDraftNotFound):
		return http.StatusNotFound, ReasonNotFound
	case errors.Is(err, ErrNotManualGradable):
		return http.StatusUnprocessableEntity, ReasonNotGradable
	case errors.Is(err, ErrIntegrity):
		return http.StatusUnprocessableEntity, ReasonIntegrity
	case errors.Is(err, ErrTransient):
		return http.StatusServiceUnavailable, ReasonTransient
	}
	return http.StatusInternalServerError, ReasonInternal
}

// Fail writes err with enough information for the UI to tell "try again" from "final".
func Fail(c *gin.Context, err error) {
	code, reason := classify(err)
	retryable := Retryable(err)

	resp := Response{
		Code:      code,
		Message:   err.Error(),
		Reason:    reason,
		Retryable: &retryable,
	}

	var ve *ValidationError
	var already *AlreadyCompletedError
	switch {
	case errors.As(err, &ve):
		resp.Data = gin.H{"fields": ve.Fields}
	case errors.As(err, &already):
		resp.Data = gin.H{"attemptId": already.AttemptID}
	}

	if code >= http.StatusInternalServerError {
		logger.Log.Error("request failed", zap.String("path", c.FullPath()), zap.Error(err))
		if reason == ReasonInternal {
			resp.Message = "Internal server error"
		}
	}

	c.AbortWithStatusJSON(code, resp)
}
