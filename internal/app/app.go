package app

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"quiz_engine_backend/internal/config"
	"quiz_engine_backend/internal/controller"
	"quiz_engine_backend/internal/repository"
	"quiz_engine_backend/internal/service"
	"quiz_engine_backend/pkg/configwatcher"
	"quiz_engine_backend/pkg/database"
	"quiz_engine_backend/pkg/logger"
	"quiz_engine_backend/pkg/monitoring"
	"quiz_engine_backend/pkg/security"
	"quiz_engine_backend/pkg/tracing"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type App struct {
	Config          *config.Config
	ConfigDir       string
	Router          *gin.Engine
	DB              *gorm.DB
	Redis           *redis.Client
	services        *services
	tracer          *sdktrace.TracerProvider
	stopWatch       chan struct{}
	configCallbacks []func(*config.Config)
}

type repositories struct {
	quiz    *repository.QuizRepository
	attempt *repository.AttemptRepository
	session *repository.SessionRepository
	catalog *repository.CatalogRepository
}

type services struct {
	storage    *service.StorageService
	drafts     service.DraftMirror
	quiz       *service.QuizService
	submission *service.SubmissionService
	grading    *service.GradingService
	result     *service.ResultService
	draft      *service.DraftService
	sweeper    *service.SessionSweeper
}

type controllers struct {
	quiz        *controller.QuizController
	studentQuiz *controller.StudentQuizController
	grading     *controller.GradingController
	health      *controller.HealthController
}

func (a *App) RegisterConfigCallback(callback func(*config.Config)) {
	a.configCallbacks = append(a.configCallbacks, callback)
}

func (a *App) initRepositories(db *gorm.DB) *repositories {
	return &repositories{
		quiz:    repository.NewQuizRepository(db),
		attempt: repository.NewAttemptRepository(db),
		session: repository.NewSessionRepository(db),
		catalog: repository.NewCatalogRepository(db),
	}
}

func (a *App) initServices(repos *repositories, cfg *config.Config, db *gorm.DB, rdb *redis.Client) *services {
	s := &services{}

	s.storage = service.NewStorageService(cfg)
	if rdb != nil {
		s.drafts = service.NewRedisDraftStore(rdb)
	} else {
		// 单实例部署时草稿镜像退化为进程内存
		s.drafts = service.NewMemoryDraftStore()
	}

	s.quiz = service.NewQuizService(repos.quiz, repos.attempt, repos.session, repos.catalog, s.storage)
	s.submission = service.NewSubmissionService(db, repos.quiz, repos.attempt, repos.session, repos.catalog, s.drafts)
	s.grading = service.NewGradingService(db, repos.quiz, repos.attempt, repos.catalog)
	s.result = service.NewResultService(repos.quiz, repos.attempt)
	s.draft = service.NewDraftService(repos.quiz, repos.attempt, repos.session, repos.catalog, s.drafts, cfg.Quiz.DraftTTLGrace)
	s.sweeper = service.NewSessionSweeper(repos.session, s.drafts, s.submission, cfg.Quiz.ExpiryGrace)

	return s
}

func (a *App) initControllers(s *services, db *gorm.DB, rdb *redis.Client) *controllers {
	return &controllers{
		quiz:        controller.NewQuizController(s.quiz),
		studentQuiz: controller.NewStudentQuizController(s.quiz, s.submission, s.result, s.draft),
		grading:     controller.NewGradingController(s.grading),
		health:      controller.NewHealthController(db, rdb),
	}
}

func (a *App) setupMiddlewares(router *gin.Engine, cfg *config.Config) {
	router.Use(security.CORS(cfg.CORS.AllowedOrigins))
	router.Use(security.Secure())

	window := time.Duration(cfg.RateLimit.WindowMinutes) * time.Minute
	if window <= 0 {
		window = time.Minute
	}
	router.Use(security.RateLimiter(cfg.RateLimit.MaxRequests, window, security.ByClientIP))

	// 分布式追踪中间件
	if cfg.Tracing.Enabled {
		router.Use(tracing.GinMiddleware())
	}

	router.Use(monitoring.MetricsMiddleware())
}

func (a *App) startBackgroundTasks(s *services, cfg *config.Config) {
	if !cfg.Quiz.SweepEnabled {
		logger.Log.Info("expired session sweeper disabled")
		return
	}
	if err := s.sweeper.Start(cfg.Quiz.SweepSchedule); err != nil {
		logger.Log.Fatal("Failed to start session sweeper", zap.String("schedule", cfg.Quiz.SweepSchedule), zap.Error(err))
	}
	logger.Log.Info("expired session sweeper started", zap.String("schedule", cfg.Quiz.SweepSchedule))
}

// watchConfig 热更新：日志级别与超时代交宽限期
func (a *App) watchConfig() {
	a.RegisterConfigCallback(func(cfg *config.Config) {
		logger.SetLevel(cfg)
		a.services.sweeper.SetGrace(cfg.Quiz.ExpiryGrace)
	})

	a.stopWatch = make(chan struct{})
	file := filepath.Join(a.ConfigDir, "config.yaml")
	go func() {
		err := configwatcher.WatchConfig(file, func(cfg *config.Config) {
			for _, cb := range a.configCallbacks {
				cb(cfg)
			}
		}, a.stopWatch)
		if err != nil {
			logger.Log.Error("config watcher stopped", zap.Error(err))
		}
	}()
}

func NewApp(cfg *config.Config, configDir string) *App {
	logger.InitLogger(cfg)
	defer logger.Log.Sync()

	logger.Log.Info("Logger initialized successfully")

	migrate := cfg.ForceMigrate || cfg.Server.Mode != "release"
	db, err := database.InitDB(&cfg.Database, cfg.Server.Mode == "debug", migrate)
	if err != nil {
		logger.Log.Fatal("Failed to initialize database", zap.Error(err))
		log.Fatalf("Failed to initialize database: %v", err)
	}

	app := &App{
		Config:    cfg,
		ConfigDir: configDir,
		DB:        db,
	}
	if cfg.MigrateOnly {
		return app
	}

	var rdb *redis.Client
	if cfg.Redis.Enabled {
		rdb, err = database.InitRedis(context.Background(), &cfg.Redis)
		if err != nil {
			logger.Log.Fatal("Failed to initialize redis", zap.Error(err))
		}
	}
	app.Redis = rdb

	repos := app.initRepositories(db)
	services := app.initServices(repos, cfg, db, rdb)
	app.services = services
	controllers := app.initControllers(services, db, rdb)

	// 监控初始化
	monitoring.Init()

	if cfg.Tracing.Enabled {
		tp, err := tracing.InitTracer("quiz-engine", cfg.Tracing.CollectorEndpoint)
		if err != nil {
			logger.Log.Fatal("Failed to initialize tracing", zap.Error(err))
		}
		app.tracer = tp
	}

	gin.SetMode(cfg.Server.Mode)
	router := gin.New()
	router.Use(gin.Recovery())
	app.Router = router

	app.setupMiddlewares(router, cfg)
	app.registerRoutes(router, controllers, cfg)

	if cfg.Storage.Type == "local" {
		router.Static("/uploads", cfg.Storage.LocalPath)
	}

	app.startBackgroundTasks(services, cfg)
	if cfg.Server.WatchConfig {
		app.watchConfig()
	}

	return app
}

func (a *App) Run() {
	srv := &http.Server{
		Addr:    ":" + a.Config.Server.Port,
		Handler: a.Router,
	}

	// 启动服务器
	go func() {
		logger.Log.Info("Server running", zap.String("port", a.Config.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Log.Fatal("listen failed", zap.Error(err))
		}
	}()

	// 等待中断信号优雅地关闭服务器（设置5秒的超时时间）
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Log.Info("Shutting down server...")

	if a.stopWatch != nil {
		close(a.stopWatch)
	}
	// 先停定时任务，避免关闭过程中再代交
	if a.services != nil {
		a.services.sweeper.Stop()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Log.Error("Server forced to shutdown", zap.Error(err))
	}

	if a.tracer != nil {
		if err := a.tracer.Shutdown(ctx); err != nil {
			logger.Log.Error("Failed to shutdown tracer provider", zap.Error(err))
		}
	}
	if a.Redis != nil {
		a.Redis.Close()
	}

	logger.Log.Info("Server exiting")
}
