package controller

import (
	"quiz_engine_backend/internal/service"
	"quiz_engine_backend/internal/util"

	"github.com/gin-gonic/gin"
)

// actorOrAbort 取当前身份；未登录时直接返回 401
func actorOrAbort(ctx *gin.Context) (service.Actor, bool) {
	claims := util.GetUserFromContext(ctx)
	if claims == nil {
		util.Unauthorized(ctx)
		return service.Actor{}, false
	}
	return service.ActorFromClaims(claims), true
}

func courseIDParam(ctx *gin.Context) (uint, bool) {
	id, ok := util.ParseID(ctx.Param("courseId"))
	if !ok {
		util.Fail(ctx, util.NewValidationError("courseId", "must be a positive integer"))
		return 0, false
	}
	return id, true
}
