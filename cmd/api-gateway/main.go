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

	_ "github.com/ecoleops/academia-api/api/swagger"
	"github.com/ecoleops/academia-api/internal/handler"
	"github.com/ecoleops/academia-api/internal/middleware"
	"github.com/ecoleops/academia-api/internal/models"
	"github.com/ecoleops/academia-api/internal/repository"
	"github.com/ecoleops/academia-api/internal/service"
	"github.com/ecoleops/academia-api/pkg/cache"
	"github.com/ecoleops/academia-api/pkg/config"
	"github.com/ecoleops/academia-api/pkg/database"
	"github.com/ecoleops/academia-api/pkg/jobs"
	"github.com/ecoleops/academia-api/pkg/logger"
	corsmiddleware "github.com/ecoleops/academia-api/pkg/middleware/cors"
	reqidmiddleware "github.com/ecoleops/academia-api/pkg/middleware/requestid"
)

// @title Academia API
// @version 0.1.0
// @description Grade aggregation and enrollment lifecycle engine
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

	metricsSvc := service.NewMetricsService()

	cacheEnabled := true
	var cacheRepo service.CacheRepository
	redisClient, err := cache.NewRedis(cfg.Redis)
	if err != nil {
		logr.Sugar().Warnw("redis unavailable, caching disabled", "error", err)
		cacheEnabled = false
	} else {
		repo := repository.NewCacheRepository(redisClient, logr)
		cacheRepo = repo
		defer repo.Close() //nolint:errcheck
	}
	cacheSvc := service.NewCacheService(cacheRepo, metricsSvc, cfg.Grades.CacheTTL, logr, cacheEnabled)

	validate := validator.New()

	userRepo := repository.NewUserRepository(db)
	yearRepo := repository.NewAcademicYearRepository(db)
	classRepo := repository.NewClassRepository(db)
	subjectRepo := repository.NewSubjectRepository(db)
	enrollmentRepo := repository.NewEnrollmentRepository(db)
	classSubjectRepo := repository.NewClassSubjectRepository(db)
	assessmentRepo := repository.NewAssessmentRepository(db)
	gradeRepo := repository.NewGradeRepository(db)

	authSvc := service.NewAuthService(userRepo, validate, logr, service.AuthConfig{
		Secret:     cfg.JWT.Secret,
		Expiration: cfg.JWT.Expiration,
		Issuer:     cfg.JWT.Issuer,
	})
	yearSvc := service.NewAcademicYearService(yearRepo, validate, logr)
	classSvc := service.NewClassService(classRepo, yearRepo, validate, logr)
	subjectSvc := service.NewSubjectService(subjectRepo, validate, logr)
	enrollmentSvc := service.NewEnrollmentService(enrollmentRepo, classRepo, userRepo, cacheSvc, validate, logr)
	classSubjectSvc := service.NewClassSubjectService(classSubjectRepo, classRepo, subjectRepo, userRepo, cacheSvc, validate, logr)
	gradeSvc := service.NewGradeService(gradeRepo, classSubjectRepo, enrollmentRepo, classRepo, cacheSvc, metricsSvc, cfg.Grades.Scale, cfg.Grades.CacheTTL, logr)
	exportSvc := service.NewExportService(gradeSvc, nil, nil, logr)

	warmQueue := jobs.NewQueue("class-results", func(ctx context.Context, job jobs.Job) error {
		classID, ok := job.Payload.(string)
		if !ok {
			return fmt.Errorf("unexpected payload type %T", job.Payload)
		}
		return gradeSvc.WarmClassResults(ctx, classID)
	}, jobs.QueueConfig{
		Workers:    cfg.Results.WarmWorkers,
		MaxRetries: cfg.Results.WarmRetries,
		Logger:     logr,
	})

	assessmentSvc := service.NewAssessmentService(assessmentRepo, classSubjectRepo, enrollmentRepo, cacheSvc, warmQueue, validate, logr)

	authHandler := handler.NewAuthHandler(authSvc)
	yearHandler := handler.NewAcademicYearHandler(yearSvc)
	classHandler := handler.NewClassHandler(classSvc, enrollmentSvc)
	subjectHandler := handler.NewSubjectHandler(subjectSvc)
	enrollmentHandler := handler.NewEnrollmentHandler(enrollmentSvc)
	classSubjectHandler := handler.NewClassSubjectHandler(classSubjectSvc)
	assessmentHandler := handler.NewAssessmentHandler(assessmentSvc)
	gradeHandler := handler.NewGradeHandler(gradeSvc, exportSvc)
	metricsHandler := handler.NewMetricsHandler(metricsSvc)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	warmQueue.Start(ctx)
	defer warmQueue.Stop()

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metricsSvc))

	r.GET("/health", metricsHandler.Health)
	r.GET("/ready", metricsHandler.Health)
	r.GET("/metrics", metricsHandler.Prometheus)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(cfg.APIPrefix)
	api.POST("/auth/login", authHandler.Login)

	authed := api.Group("")
	authed.Use(middleware.JWT(authSvc))

	authed.GET("/auth/me", authHandler.Me)
	authed.GET("/metrics/snapshot", middleware.RequireRoles(models.RoleAdmin), metricsHandler.Snapshot)

	adminOnly := middleware.RequireRoles(models.RoleAdmin)
	staffOnly := middleware.RequireRoles(models.RoleAdmin, models.RoleTeacher)
	anyRole := middleware.RequireRoles(models.RoleAdmin, models.RoleTeacher, models.RoleStudent)

	years := authed.Group("/academic-years")
	{
		years.GET("", anyRole, yearHandler.List)
		years.GET("/current", anyRole, yearHandler.Current)
		years.GET("/:id", anyRole, yearHandler.Get)
		years.POST("", adminOnly, yearHandler.Create)
		years.PUT("/:id", adminOnly, yearHandler.Update)
		years.PUT("/:id/current", adminOnly, yearHandler.SetCurrent)
		years.PUT("/:id/archive", adminOnly, yearHandler.Archive)
		years.DELETE("/:id", adminOnly, yearHandler.Delete)
		years.GET("/:id/semesters", anyRole, yearHandler.ListSemesters)
		years.POST("/:id/semesters", adminOnly, yearHandler.CreateSemester)
	}

	classes := authed.Group("/classes")
	{
		classes.GET("", anyRole, classHandler.List)
		classes.GET("/:id", anyRole, classHandler.Get)
		classes.POST("", adminOnly, classHandler.Create)
		classes.PUT("/:id", adminOnly, classHandler.Update)
		classes.DELETE("/:id", adminOnly, classHandler.Delete)
		classes.GET("/:id/roster", staffOnly, classHandler.Roster)
		classes.GET("/:id/subjects", anyRole, classSubjectHandler.ListForClass)
		classes.GET("/:id/subjects/history", staffOnly, classSubjectHandler.History)
		classes.GET("/:id/students/:studentId/grades", anyRole, gradeHandler.Breakdown)
		classes.GET("/:id/students/:studentId/grades/export", anyRole, gradeHandler.ExportBreakdown)
		classes.GET("/:id/results", staffOnly, gradeHandler.ClassResults)
		classes.GET("/:id/results/export", staffOnly, gradeHandler.ExportClassResults)
	}

	subjects := authed.Group("/subjects")
	{
		subjects.GET("", anyRole, subjectHandler.List)
		subjects.GET("/:id", anyRole, subjectHandler.Get)
		subjects.POST("", adminOnly, subjectHandler.Create)
		subjects.PUT("/:id", adminOnly, subjectHandler.Update)
		subjects.DELETE("/:id", adminOnly, subjectHandler.Delete)
	}

	enrollments := authed.Group("/enrollments")
	{
		enrollments.GET("", staffOnly, enrollmentHandler.List)
		enrollments.GET("/:id", staffOnly, enrollmentHandler.Get)
		enrollments.POST("", adminOnly, enrollmentHandler.Create)
		enrollments.PUT("/:id/transfer", adminOnly, enrollmentHandler.Transfer)
		enrollments.PUT("/:id/withdraw", adminOnly, enrollmentHandler.Withdraw)
		enrollments.PUT("/:id/reactivate", adminOnly, enrollmentHandler.Reactivate)
	}
	authed.GET("/students/:id/enrollment", middleware.RBAC(string(models.RoleAdmin), string(models.RoleTeacher), "SELF"), enrollmentHandler.ActiveForStudent)

	classSubjects := authed.Group("/class-subjects")
	{
		classSubjects.GET("/:id", anyRole, classSubjectHandler.Get)
		classSubjects.POST("", adminOnly, classSubjectHandler.Assign)
		classSubjects.PUT("/:id/teacher", adminOnly, classSubjectHandler.ReplaceTeacher)
		classSubjects.PUT("/:id/coefficient", adminOnly, classSubjectHandler.UpdateCoefficient)
		classSubjects.PUT("/:id/terminate", adminOnly, classSubjectHandler.Terminate)
		classSubjects.DELETE("/:id", adminOnly, classSubjectHandler.Delete)
		classSubjects.GET("/:id/assessments", staffOnly, assessmentHandler.ListForClassSubject)
	}

	assessments := authed.Group("/assessments")
	{
		assessments.GET("/:id", anyRole, assessmentHandler.Get)
		assessments.POST("", staffOnly, assessmentHandler.Create)
		assessments.PUT("/:id", staffOnly, assessmentHandler.Update)
		assessments.PUT("/:id/questions", staffOnly, assessmentHandler.ReplaceQuestions)
		assessments.PUT("/:id/publish", staffOnly, assessmentHandler.Publish)
		assessments.DELETE("/:id", staffOnly, assessmentHandler.Delete)
		assessments.GET("/:id/assignments", staffOnly, assessmentHandler.Assignments)
		assessments.PUT("/:id/start", middleware.RequireRoles(models.RoleStudent), assessmentHandler.Start)
		assessments.PUT("/:id/submit", middleware.RequireRoles(models.RoleStudent), assessmentHandler.Submit)
		assessments.PUT("/:id/assignments/:studentId/grade", staffOnly, assessmentHandler.Grade)
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
	logr.Sugar().Infow("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Sugar().Errorw("graceful shutdown failed", "error", err)
	}
}
