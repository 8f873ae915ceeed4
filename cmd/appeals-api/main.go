package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	_ "github.com/aulaweb/appeals-api/api/swagger"
	"github.com/aulaweb/appeals-api/internal/handler"
	"github.com/aulaweb/appeals-api/internal/middleware"
	"github.com/aulaweb/appeals-api/internal/models"
	"github.com/aulaweb/appeals-api/internal/realtime"
	"github.com/aulaweb/appeals-api/internal/repository"
	"github.com/aulaweb/appeals-api/internal/service"
	"github.com/aulaweb/appeals-api/pkg/cache"
	"github.com/aulaweb/appeals-api/pkg/config"
	"github.com/aulaweb/appeals-api/pkg/database"
	"github.com/aulaweb/appeals-api/pkg/jobs"
	"github.com/aulaweb/appeals-api/pkg/logger"
	corsmiddleware "github.com/aulaweb/appeals-api/pkg/middleware/cors"
	reqidmiddleware "github.com/aulaweb/appeals-api/pkg/middleware/requestid"
	"github.com/aulaweb/appeals-api/pkg/retry"
)

// @title Appeals API
// @version 1.0.0
// @description Examination appeal booking, outcome recording and student notifications
// @BasePath /api/v1
// @schemes http

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Sugar().Fatalw("failed to connect to postgres", "error", err)
	}
	defer db.Close() //nolint:errcheck

	redisClient, err := cache.NewRedis(cfg.Redis)
	if err != nil {
		logr.Sugar().Fatalw("failed to connect to redis", "error", err)
	}
	defer redisClient.Close() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	validate := validator.New()
	writer := retry.NewWriter(retry.Config{
		MaxAttempts: cfg.Retry.MaxAttempts,
		Backoff:     cfg.Retry.Backoff,
	}, logr)
	metricsSvc := service.NewMetricsService()

	appealRepo := repository.NewAppealRepository(db)
	bookingRepo := repository.NewBookingRepository(db)
	outcomeRepo := repository.NewOutcomeRepository(db)
	notificationRepo := repository.NewNotificationRepository(db)
	directoryRepo := repository.NewDirectoryRepository(db)
	cacheRepo := repository.NewCacheRepository(redisClient, logr)

	publisher := realtime.NewRedisPublisher(redisClient, cfg.Notifications.PublishChannel, logr)

	notificationSvc := service.NewNotificationService(notificationRepo, publisher, writer, cfg.Notifications.ExpiryWindow, metricsSvc, logr)
	dispatchQueue := service.NewDispatchQueue(notificationSvc, jobs.QueueConfig{
		Workers:    cfg.Notifications.QueueWorkers,
		BufferSize: cfg.Notifications.QueueBuffer,
		Logger:     logr,
	})
	dispatchQueue.Start(ctx)
	defer dispatchQueue.Stop()

	appealSvc := service.NewAppealService(appealRepo, directoryRepo, cacheRepo, cfg.Appeals.CacheTTL, writer, validate, logr)
	bookingSvc := service.NewBookingService(bookingRepo, appealRepo, directoryRepo, cacheRepo, writer, metricsSvc, logr)
	outcomeSvc := service.NewOutcomeService(outcomeRepo, appealRepo, dispatchQueue, writer, validate, metricsSvc, logr)
	exportSvc := service.NewExportService(appealRepo, bookingRepo, outcomeRepo, logr)
	authSvc := service.NewAuthService(directoryRepo, validate, logr, service.AuthConfig{
		Secret:     cfg.JWT.Secret,
		Expiration: cfg.JWT.Expiration,
		Issuer:     cfg.JWT.Issuer,
	})

	reaperSvc := service.NewReaperService(notificationRepo, cfg.Notifications.ReaperInterval, metricsSvc, logr)
	reaperSvc.Start(ctx)

	authHandler := handler.NewAuthHandler(authSvc)
	appealHandler := handler.NewAppealHandler(appealSvc, bookingSvc, exportSvc)
	outcomeHandler := handler.NewOutcomeHandler(outcomeSvc)
	notificationHandler := handler.NewNotificationHandler(notificationSvc)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(corsmiddleware.Config{AllowedOrigins: cfg.CORS.AllowedOrigins}))
	r.Use(middleware.Metrics(metricsSvc))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	r.GET("/ready", func(c *gin.Context) {
		if err := db.PingContext(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})

	r.GET("/metrics", gin.WrapH(metricsSvc.Handler()))

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(cfg.APIPrefix)
	api.POST("/auth/login", authHandler.Login)

	authed := api.Group("")
	authed.Use(middleware.JWT(authSvc))

	appeals := authed.Group("/appeals")
	appeals.GET("/:id", appealHandler.Get)
	appeals.POST("", middleware.RequireRoles(models.RoleProfessor, models.RoleAdmin), appealHandler.Create)
	appeals.DELETE("/:id", middleware.RequireRoles(models.RoleProfessor, models.RoleAdmin), appealHandler.Delete)
	appeals.POST("/:id/bookings", middleware.RequireRoles(models.RoleStudent), appealHandler.Book)
	appeals.DELETE("/:id/bookings", middleware.RequireRoles(models.RoleStudent), appealHandler.Unbook)
	appeals.GET("/:id/outcome", middleware.RequireRoles(models.RoleStudent), outcomeHandler.GetMine)
	if cfg.Exports.Enabled {
		appeals.GET("/:id/results/export", middleware.RequireRoles(models.RoleProfessor, models.RoleAdmin), appealHandler.Export)
	}

	authed.GET("/professors/me/appeals", middleware.RequireRoles(models.RoleProfessor), appealHandler.ListMine)
	authed.GET("/students/:studentId/appeals/available", middleware.RBAC(string(models.RoleAdmin), "SELF"), appealHandler.ListAvailable)
	authed.GET("/students/:studentId/appeals/booked", middleware.RBAC(string(models.RoleAdmin), "SELF"), appealHandler.ListBooked)

	outcomes := authed.Group("/outcomes")
	outcomes.POST("", middleware.RequireRoles(models.RoleProfessor, models.RoleAdmin), outcomeHandler.Record)
	outcomes.POST("/:id/accept", middleware.RequireRoles(models.RoleStudent), outcomeHandler.Accept)

	notifications := authed.Group("/notifications")
	notifications.GET("", middleware.RequireRoles(models.RoleStudent), notificationHandler.List)
	notifications.POST("/:id/read", middleware.RequireRoles(models.RoleStudent, models.RoleAdmin), notificationHandler.MarkRead)

	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{Addr: addr, Handler: r}

	go func() {
		logr.Sugar().Infow("server starting", "addr", addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Sugar().Fatalw("server failed", "error", err)
		}
	}()

	<-ctx.Done()
	logr.Sugar().Infow("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Sugar().Errorw("graceful shutdown failed", "error", err)
	}
}
