package controller

import (
	"quiz_engine_backend/internal/service"
	"quiz_engine_backend/internal/util"

	"github.com/gin-gonic/gin"
)

type GradingController struct {
	Service *service.GradingService
}

func NewGradingController(svc *service.GradingService) *GradingController {
	return &GradingController{Service: svc}
}

// @Summary 测验待人工评分列表
// @Tags 人工评分
// @Produce json
// @Security BearerAuth
// @Param id path string true "测验ID"
// @Success 200 {object} util.Response{data=[]service.PendingItem}
// @Router /teacher/quizzes/{id}/pending-grading [get]
func (c *GradingController) ListPendingByQuiz(ctx *gin.Context) {
	actor, ok := actorOrAbort(ctx)
	if !ok {
		return
	}
	items, err := c.Service.ListPendingByQuiz(ctx.Param("id"), actor)
	if err != nil {
		util.Fail(ctx, err)
		return
	}
	util.Success(ctx, gin.H{"items": items, "total": len(items)})
}

// @Summary 课程待人工评分列表
// @Tags 人工评分
// @Produce json
// @Security BearerAuth
// @Param courseId path int true "课程ID"
// @Success 200 {object} util.Response{data=[]service.PendingItem}
// @Router /teacher/courses/{courseId}/pending-grading [get]
func (c *GradingController) ListPendingByCourse(ctx *gin.Context) {
	actor, ok := actorOrAbort(ctx)
	if !ok {
		return
	}
	courseID, ok := courseIDParam(ctx)
	if !ok {
		return
	}
	items, err := c.Service.ListPendingByCourse(courseID, actor)
	if err != nil {
		util.Fail(ctx, err)
		return
	}
	util.Success(ctx, gin.H{"items": items, "total": len(items)})
}

// @Summary 人工评分
// @Description 对同一题重复评分会覆盖上一次的分数
// @Tags 人工评分
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param attemptId path string true "作答ID"
// @Param questionId path string true "题目ID"
// @Param body body service.GradeRequest true "得分与评语"
// @Success 200 {object} util.Response{data=service.GradeResult}
// @Failure 400 {object} util.Response
// @Failure 422 {object} util.Response
// @Router /teacher/attempts/{attemptId}/questions/{questionId}/grade [post]
func (c *GradingController) GradeAnswer(ctx *gin.Context) {
	actor, ok := actorOrAbort(ctx)
	if !ok {
		return
	}
	var req service.GradeRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		util.BadRequest(ctx, err.Error())
		return
	}

	res, err := c.Service.Grade(ctx.Request.Context(), ctx.Param("attemptId"), ctx.Param("questionId"), &req, actor)
	if err != nil {
		util.Fail(ctx, err)
		return
	}
	util.Success(ctx, res)
}

// @Summary 测验作答列表
// @Tags 人工评分
// @Produce json
// @Security BearerAuth
// @Param id path string true "测验ID"
// @Success 200 {object} util.Response{data=[]service.AttemptRow}
// @Router /teacher/quizzes/{id}/attempts [get]
func (c *GradingController) ListAttempts(ctx *gin.Context) {
	actor, ok := actorOrAbort(ctx)
	if !ok {
		return
	}
	rows, err := c.Service.ListAttempts(ctx.Param("id"), actor)
	if err != nil {
		util.Fail(ctx, err)
		return
	}
	util.Success(ctx, gin.H{"items": rows, "total": len(rows)})
}
