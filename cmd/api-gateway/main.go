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
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	_ "github.com/noah-isme/cohort-program-api/api/swagger"
	"github.com/noah-isme/cohort-program-api/internal/handler"
	"github.com/noah-isme/cohort-program-api/internal/middleware"
	"github.com/noah-isme/cohort-program-api/internal/repository"
	"github.com/noah-isme/cohort-program-api/internal/scheduler"
	"github.com/noah-isme/cohort-program-api/internal/service"
	"github.com/noah-isme/cohort-program-api/pkg/cache"
	"github.com/noah-isme/cohort-program-api/pkg/config"
	"github.com/noah-isme/cohort-program-api/pkg/database"
	"github.com/noah-isme/cohort-program-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/cohort-program-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/cohort-program-api/pkg/middleware/requestid"
)

// @title Cohort Program API
// @version 0.1.0
// @description Coordinates cohort groups, exams, peer-vote bonuses and spaced repetition.
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

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Sugar().Fatalw("failed to connect to postgres", "error", err)
	}
	defer db.Close()

	rdb, err := cache.NewRedis(cfg.Redis)
	if err != nil {
		logr.Sugar().Fatalw("failed to connect to redis", "error", err)
	}
	defer rdb.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	studentRepo := repository.NewStudentRepository(db)
	groupRepo := repository.NewGroupRepository(db)
	waitingRepo := repository.NewWaitingListRepository(db)
	remedialRepo := repository.NewRemedialRepository(db)
	periodRepo := repository.NewPeriodRepository(db)
	voteRepo := repository.NewVoteRepository(db)
	reviewRepo := repository.NewReviewRepository(db)
	examRepo := repository.NewExamRepository(db)

	metricsSvc := service.NewMetricsService()
	notifier := service.NewOutboxNotifier(rdb, cfg.Notifications, metricsSvc, logr)
	notifier.Start(ctx)
	defer notifier.Stop()

	assignmentSvc := service.NewAssignmentService(
		studentRepo, groupRepo, waitingRepo, remedialRepo, periodRepo,
		db, notifier, metricsSvc, cfg.Program, logr)
	promotionSvc := service.NewPromotionService(
		studentRepo, examRepo, periodRepo, voteRepo, remedialRepo,
		assignmentSvc, db, notifier, metricsSvc, cfg.Program, logr)
	votingSvc := service.NewVotingService(
		studentRepo, voteRepo, periodRepo, remedialRepo,
		db, metricsSvc, cfg.Program, logr)
	reviewSvc := service.NewReviewService(
		reviewRepo, studentRepo, rdb, notifier, metricsSvc, cfg.Review, logr)
	studentSvc := service.NewStudentService(studentRepo, assignmentSvc, logr)

	sched := scheduler.New(reviewSvc, promotionSvc, votingSvc,
		cfg.Review.ScanInterval, cfg.Program.PeriodScanInterval, logr)
	sched.Start(ctx)
	defer sched.Stop()

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metricsSvc))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/ready", func(c *gin.Context) {
		if err := db.PingContext(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "database unavailable"})
			return
		}
		if err := rdb.Ping(c.Request.Context()).Err(); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "redis unavailable"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})
	r.GET("/metrics", gin.WrapH(metricsSvc.Handler()))

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	studentHandler := handler.NewStudentHandler(studentSvc)
	examHandler := handler.NewExamHandler(promotionSvc)
	voteHandler := handler.NewVoteHandler(votingSvc)
	reviewHandler := handler.NewReviewHandler(reviewSvc)
	periodHandler := handler.NewPeriodHandler(votingSvc, promotionSvc)

	api := r.Group(cfg.APIPrefix)
	{
		api.POST("/students", studentHandler.Register)
		api.GET("/students", studentHandler.List)
		api.GET("/students/:id", studentHandler.Get)
		api.POST("/students/:id/placement", studentHandler.ConfirmPlacement)

		api.POST("/exams/:id/submissions", examHandler.Submit)

		api.POST("/votes", voteHandler.Cast)

		api.POST("/reviews/answers", reviewHandler.Answer)
		api.DELETE("/reviews/:studentId/:questionId", reviewHandler.Remove)

		api.POST("/periods", periodHandler.Schedule)
		api.GET("/periods/active", periodHandler.ListActive)
		api.POST("/periods/:id/close", periodHandler.Close)
	}

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: r,
	}

	go func() {
		logr.Sugar().Infow("server starting", "addr", srv.Addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Sugar().Fatalw("server failed", "error", err)
		}
	}()

	<-ctx.Done()
	logr.Sugar().Infow("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Sugar().Errorw("server shutdown failed", "error", err)
	}
}
