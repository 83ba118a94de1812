package app

import (
	"context"
	"exam_capture_backend/internal/config"
	"exam_capture_backend/internal/controller"
	"exam_capture_backend/internal/repository"
	"exam_capture_backend/internal/service"
	"exam_capture_backend/internal/util"
	"exam_capture_backend/pkg/database"
	"exam_capture_backend/pkg/logger"
	"exam_capture_backend/pkg/monitoring"
	"exam_capture_backend/pkg/security"
	"exam_capture_backend/pkg/tracing"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type App struct {
	Config   *config.Config
	Router   *gin.Engine
	DB       *gorm.DB
	Redis    *redis.Client
	services *services
	tracer   *sdktrace.TracerProvider
}

type repositories struct {
	user    *repository.UserRepository
	exam    *repository.ExamRepository
	student *repository.StudentRepository
	session *repository.CaptureSessionRepository
	answer  *repository.AnswerRepository
}

type services struct {
	auth       *service.AuthService
	storage    *service.StorageService
	exam       *service.ExamService
	session    *service.SessionService
	capture    *service.CaptureService
	handoff    *service.HandoffService
	watcher    *service.PollWatcher
	extraction *service.ExtractionService
	reconcile  *service.ReconcileService
	pipeline   *service.PipelineService
	multi      *service.MultiSessionService
}

type controllers struct {
	auth    *controller.AuthController
	exam    *controller.ExamController
	capture *controller.CaptureController
	multi   *controller.MultiCaptureController
	health  *controller.HealthController
}

func (a *App) initRepositories(db *gorm.DB, rdb *redis.Client) *repositories {
	return &repositories{
		user:    repository.NewUserRepository(db),
		exam:    repository.NewExamRepository(db),
		student: repository.NewStudentRepository(db),
		session: repository.NewCaptureSessionRepository(db, rdb),
		answer:  repository.NewAnswerRepository(db),
	}
}

func (a *App) initServices(repos *repositories, cfg *config.Config) *services {
	s := &services{}

	s.storage = service.NewStorageService(cfg)
	s.auth = service.NewAuthService(repos.user, cfg)
	s.exam = service.NewExamService(repos.exam)
	s.session = service.NewSessionService(repos.session, repos.student, cfg)
	s.capture = service.NewCaptureService(s.storage, s.session)
	s.handoff = service.NewHandoffService(cfg)
	s.watcher = service.NewPollWatcher(cfg)
	s.extraction = service.NewExtractionService(cfg.Extraction)
	s.reconcile = service.NewReconcileService(repos.answer, repos.exam, repos.student, s.storage)
	s.pipeline = service.NewPipelineService(s.session, s.reconcile, s.extraction, s.storage, s.watcher)
	s.multi = service.NewMultiSessionService(repos.session, repos.student, s.reconcile, s.extraction, s.storage, cfg.Capture.SessionTTLMinutes)

	return s
}

func (a *App) initControllers(s *services, db *gorm.DB) *controllers {
	return &controllers{
		auth:    controller.NewAuthController(s.auth),
		exam:    controller.NewExamController(s.exam),
		capture: controller.NewCaptureController(s.session, s.capture, s.handoff, s.pipeline),
		multi:   controller.NewMultiCaptureController(s.multi, s.capture, s.handoff),
		health:  controller.NewHealthController(db),
	}
}

func (a *App) setupMiddlewares(router *gin.Engine, cfg *config.Config) {
	router.Use(security.CORS(cfg.CORS.AllowedOrigins))
	router.Use(security.Secure())

	maxRequests := cfg.RateLimit.MaxRequests
	if maxRequests <= 0 {
		maxRequests = 1000
	}
	window := time.Duration(cfg.RateLimit.WindowMinutes) * time.Minute
	if window <= 0 {
		window = time.Minute
	}
	router.Use(security.RateLimiter(maxRequests, window))

	// 分布式追踪中间件
	if cfg.Tracing.Enabled {
		router.Use(tracing.GinMiddleware())
	}

	router.Use(monitoring.MetricsMiddleware())
}

// startBackgroundTasks 定期取消过期未完成的会话
func (a *App) startBackgroundTasks(repos *repositories) {
	go func() {
		ticker := time.NewTicker(time.Minute)
		for range ticker.C {
			reaped, err := repos.session.CancelExpired(time.Now())
			if err != nil {
				logger.Log.Error("expired session reap error", zap.Error(err))
				continue
			}
			if reaped > 0 {
				logger.Log.Info("expired capture sessions cancelled", zap.Int64("count", reaped))
			}
		}
	}()
}

// ReloadConfig 配置热更新回调，只刷新可在线调整的字段
func (a *App) ReloadConfig(cfg *config.Config) {
	a.Config = cfg
	if a.services != nil && a.services.handoff != nil {
		a.services.handoff.BaseURL = cfg.Capture.BaseURL
	}
	logger.Log.Info("config reloaded", zap.String("capture_base_url", cfg.Capture.BaseURL))
}

func NewApp(cfg *config.Config) *App {
	logger.InitLogger(cfg)
	defer logger.Log.Sync()

	logger.Log.Info("Logger initialized successfully")

	db, err := database.InitDB(&cfg.Database)
	if err != nil {
		logger.Log.Fatal("Failed to initialize database", zap.Error(err))
		log.Fatalf("Failed to initialize database: %v", err)
	}

	rdb, err := database.InitRedis(&cfg.Redis)
	if err != nil {
		// Redis 只做令牌查询缓存，连不上降级为直查库
		logger.Log.Warn("Redis unavailable, token lookups fall back to database", zap.Error(err))
		rdb = nil
	}

	app := &App{
		Config: cfg,
		DB:     db,
		Redis:  rdb,
	}

	repos := app.initRepositories(db, rdb)
	services := app.initServices(repos, cfg)
	app.services = services
	controllers := app.initControllers(services, db)

	// 监控初始化
	monitoring.Init()

	if cfg.Server.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.Default()
	app.Router = router

	app.setupMiddlewares(router, cfg)

	if cfg.Tracing.Enabled {
		tp, err := tracing.InitTracer("exam-capture", cfg.Tracing.CollectorEndpoint)
		if err != nil {
			logger.Log.Fatal("Failed to initialize tracing", zap.Error(err))
		}
		app.tracer = tp
	}

	app.registerRoutes(router, controllers, cfg)

	if cfg.Storage.Type == util.StorageLocal {
		router.Static("/uploads", cfg.Storage.LocalPath)
		router.Static("/api/uploads", cfg.Storage.LocalPath)
	}

	app.startBackgroundTasks(repos)

	return app
}

func (a *App) Run() {
	srv := &http.Server{
		Addr:    ":" + a.Config.Server.Port,
		Handler: a.Router,
	}

	// 启动服务器
	go func() {
		log.Printf("Server running on port %s", a.Config.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %s\n", err)
		}
	}()

	// 等待中断信号优雅地关闭服务器（设置5秒的超时时间）
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Fatal("Server forced to shutdown:", err)
	}

	if a.tracer != nil {
		if err := a.tracer.Shutdown(ctx); err != nil {
			logger.Log.Error("Failed to shutdown tracer provider", zap.Error(err))
		}
	}

	log.Println("Server exiting")
}
