package app

import (
	"time"

	"quiz_engine_backend/docs"
	"quiz_engine_backend/internal/config"
	"quiz_engine_backend/internal/middleware"
	"quiz_engine_backend/internal/model"
	"quiz_engine_backend/pkg/monitoring"
	"quiz_engine_backend/pkg/security"

	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
)

func (a *App) registerRoutes(router *gin.Engine, c *controllers, cfg *config.Config) {
	docs.SwaggerInfo.BasePath = "/api"
	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler, ginSwagger.URL("/swagger/doc.json")))

	router.GET("/metrics", monitoring.PrometheusHandler())

	// 1. 公共路由(无需登录)
	router.GET("/api/health", c.health.HealthCheck)

	// 2. 需要授权的路由
	authGroup := router.Group("/api")
	authGroup.Use(middleware.AuthMiddleware(cfg.JWT.Secret))
	{
		registerStudentRoutes(authGroup, c)
		registerTeacherRoutes(authGroup, c)
	}
}

func registerStudentRoutes(group *gin.RouterGroup, c *controllers) {
	student := group.Group("/student/quizzes")
	student.Use(middleware.RoleMiddleware(model.Student))
	{
		student.GET("/:id", c.studentQuiz.GetQuiz)
		student.POST("/:id/submit", c.studentQuiz.Submit)
		student.GET("/:id/result", c.studentQuiz.GetResult)

		// 自动保存较频繁，按用户单独限流
		draft := student.Group("/:id/draft")
		draft.Use(security.RateLimiter(120, time.Minute, security.ByUser))
		draft.GET("", c.studentQuiz.GetDraft)
		draft.PUT("", c.studentQuiz.SaveDraft)
		draft.DELETE("", c.studentQuiz.ClearDraft)
	}
}

func registerTeacherRoutes(group *gin.RouterGroup, c *controllers) {
	teacher := group.Group("/teacher")
	teacher.Use(middleware.RoleMiddleware(model.Teacher))
	{
		teacher.POST("/courses/:courseId/quizzes", c.quiz.CreateQuiz)
		teacher.GET("/courses/:courseId/quizzes", c.quiz.ListQuizzes)
		teacher.GET("/courses/:courseId/pending-grading", c.grading.ListPendingByCourse)

		teacher.GET("/quizzes/:id", c.quiz.GetQuiz)
		teacher.PUT("/quizzes/:id", c.quiz.UpdateQuiz)
		teacher.DELETE("/quizzes/:id", c.quiz.DeleteQuiz)
		teacher.POST("/quizzes/:id/questions", c.quiz.AddQuestion)
		teacher.PUT("/quizzes/:id/questions/:questionId", c.quiz.UpdateQuestion)
		teacher.DELETE("/quizzes/:id/questions/:questionId", c.quiz.DeleteQuestion)
		teacher.GET("/quizzes/:id/attempts", c.grading.ListAttempts)
		teacher.GET("/quizzes/:id/pending-grading", c.grading.ListPendingByQuiz)

		teacher.POST("/attempts/:attemptId/questions/:questionId/grade", c.grading.GradeAnswer)
	}
}
