package controller

import (
	"quiz_engine_backend/internal/service"
	"quiz_engine_backend/internal/util"

	"github.com/gin-gonic/gin"
)

type StudentQuizController struct {
	QuizService       *service.QuizService
	SubmissionService *service.SubmissionService
	ResultService     *service.ResultService
	DraftService      *service.DraftService
}

func NewStudentQuizController(
	quizService *service.QuizService,
	submissionService *service.SubmissionService,
	resultService *service.ResultService,
	draftService *service.DraftService,
) *StudentQuizController {
	return &StudentQuizController{
		QuizService:       quizService,
		SubmissionService: submissionService,
		ResultService:     resultService,
		DraftService:      draftService,
	}
}

// @Summary 开始/继续作答
// @Description 返回不含正确答案的题目；限时测验同时返回服务端计时起点。已作答返回 409
// @Tags 学生测验
// @Produce json
// @Security BearerAuth
// @Param id path string true "测验ID"
// @Success 200 {object} util.Response{data=service.TakingView}
// @Failure 403 {object} util.Response
// @Failure 409 {object} util.Response
// @Router /student/quizzes/{id} [get]
func (c *StudentQuizController) GetQuiz(ctx *gin.Context) {
	actor, ok := actorOrAbort(ctx)
	if !ok {
		return
	}
	view, err := c.QuizService.GetQuizForTaking(ctx.Request.Context(), ctx.Param("id"), actor)
	if err != nil {
		util.Fail(ctx, err)
		return
	}
	util.Success(ctx, view)
}

// @Summary 提交作答
// @Description 每位学生每个测验只能提交一次
// @Tags 学生测验
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "测验ID"
// @Param body body service.SubmitRequest true "答案"
// @Success 201 {object} util.Response{data=service.SubmitResult}
// @Failure 400 {object} util.Response
// @Failure 409 {object} util.Response
// @Failure 503 {object} util.Response
// @Router /student/quizzes/{id}/submit [post]
func (c *StudentQuizController) Submit(ctx *gin.Context) {
	actor, ok := actorOrAbort(ctx)
	if !ok {
		return
	}
	var req service.SubmitRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		util.BadRequest(ctx, err.Error())
		return
	}

	res, err := c.SubmissionService.Submit(ctx.Request.Context(), ctx.Param("id"), &req, actor)
	if err != nil {
		util.Fail(ctx, err)
		return
	}
	util.Created(ctx, res)
}

// @Summary 查看成绩
// @Description 公布时间之前只返回摘要
// @Tags 学生测验
// @Produce json
// @Security BearerAuth
// @Param id path string true "测验ID"
// @Success 200 {object} util.Response{data=service.ResultView}
// @Failure 404 {object} util.Response
// @Router /student/quizzes/{id}/result [get]
func (c *StudentQuizController) GetResult(ctx *gin.Context) {
	actor, ok := actorOrAbort(ctx)
	if !ok {
		return
	}
	view, err := c.ResultService.GetResult(ctx.Request.Context(), ctx.Param("id"), actor)
	if err != nil {
		util.Fail(ctx, err)
		return
	}
	util.Success(ctx, view)
}

// @Summary 读取服务端草稿
// @Tags 学生测验
// @Produce json
// @Security BearerAuth
// @Param id path string true "测验ID"
// @Success 200 {object} util.Response{data=model.QuizDraft}
// @Failure 404 {object} util.Response
// @Router /student/quizzes/{id}/draft [get]
func (c *StudentQuizController) GetDraft(ctx *gin.Context) {
	actor, ok := actorOrAbort(ctx)
	if !ok {
		return
	}
	draft, err := c.DraftService.Get(ctx.Request.Context(), ctx.Param("id"), actor)
	if err != nil {
		util.Fail(ctx, err)
		return
	}
	util.Success(ctx, draft)
}

// @Summary 保存服务端草稿
// @Tags 学生测验
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "测验ID"
// @Param body body service.SaveDraftRequest true "草稿"
// @Success 200 {object} util.Response{data=model.QuizDraft}
// @Router /student/quizzes/{id}/draft [put]
func (c *StudentQuizController) SaveDraft(ctx *gin.Context) {
	actor, ok := actorOrAbort(ctx)
	if !ok {
		return
	}
	var req service.SaveDraftRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		util.BadRequest(ctx, err.Error())
		return
	}
	draft, err := c.DraftService.Save(ctx.Request.Context(), ctx.Param("id"), &req, actor)
	if err != nil {
		util.Fail(ctx, err)
		return
	}
	util.Success(ctx, draft)
}

// @Summary 清除服务端草稿
// @Tags 学生测验
// @Produce json
// @Security BearerAuth
// @Param id path string true "测验ID"
// @Success 200 {object} util.Response
// @Router /student/quizzes/{id}/draft [delete]
func (c *StudentQuizController) ClearDraft(ctx *gin.Context) {
	actor, ok := actorOrAbort(ctx)
	if !ok {
		return
	}
	if err := c.DraftService.Clear(ctx.Request.Context(), ctx.Param("id"), actor); err != nil {
		util.Fail(ctx, err)
		return
	}
	util.Success(ctx, nil)
}
