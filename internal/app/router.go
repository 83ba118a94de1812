package app

import (
	"exam_capture_backend/docs"
	"exam_capture_backend/internal/config"
	"exam_capture_backend/internal/middleware"
	"exam_capture_backend/internal/model"
	"exam_capture_backend/pkg/monitoring"

	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
)

func (a *App) registerRoutes(router *gin.Engine, c *controllers, cfg *config.Config) {
	// Swagger 文档
	docs.SwaggerInfo.BasePath = "/api"
	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	// Prometheus 指标
	router.GET("/metrics", monitoring.PrometheusHandler())

	api := router.Group("/api")
	{
		api.GET("/health", c.health.HealthCheck)
		api.POST("/register", c.auth.Register)
		api.POST("/login", c.auth.Login)

		// 建会话是阅卷端动作，走 JWT；其余拍照端接口凭令牌访问
		api.POST("/capture/sessions", middleware.AuthMiddleware(cfg), c.capture.CreateSession)

		capture := api.Group("/capture")
		{
			capture.GET("/sessions/:token", c.capture.SessionStatus)
			capture.POST("/sessions/:token/images", c.capture.StageImages)
			capture.POST("/sessions/:token/commit", c.capture.CommitImages)
			capture.POST("/sessions/:token/upload", c.capture.DirectUpload)
			capture.POST("/sessions/:token/cancel", c.capture.CancelSession)

			capture.GET("/multi/:token/students/:studentId", c.multi.EntryStatus)
			capture.POST("/multi/:token/students/:studentId/images", c.multi.StageImages)
			capture.POST("/multi/:token/students/:studentId/commit", c.multi.CommitImages)
		}

		teacher := api.Group("/teacher")
		teacher.Use(middleware.AuthMiddleware(cfg))
		{
			teacher.POST("/exams", middleware.RoleMiddleware(model.Teacher), c.exam.CreateExam)
			teacher.GET("/exams", c.exam.ListExams)
			teacher.GET("/exams/:id", c.exam.GetExam)

			teacher.POST("/multi-sessions", middleware.RoleMiddleware(model.Teacher), c.multi.CreateMultiSession)
			teacher.GET("/multi-sessions/:id", c.multi.RosterStatus)
			teacher.POST("/multi-sessions/:id/sweep", middleware.RoleMiddleware(model.Teacher), c.multi.Sweep)
		}
	}
}
