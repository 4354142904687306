// Package main runs the proof-of-condition HTTP server with graceful shutdown.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/Wolfiling/psa-grading-service-sub000/config"
	"github.com/Wolfiling/psa-grading-service-sub000/internal/audit"
	"github.com/Wolfiling/psa-grading-service-sub000/internal/binding"
	"github.com/Wolfiling/psa-grading-service-sub000/internal/delivery"
	"github.com/Wolfiling/psa-grading-service-sub000/internal/middleware"
	"github.com/Wolfiling/psa-grading-service-sub000/internal/models"
	"github.com/Wolfiling/psa-grading-service-sub000/internal/proof"
	"github.com/Wolfiling/psa-grading-service-sub000/internal/retention"
	"github.com/Wolfiling/psa-grading-service-sub000/internal/staff"
	"github.com/Wolfiling/psa-grading-service-sub000/internal/submissions"
	"github.com/Wolfiling/psa-grading-service-sub000/internal/token"
	"github.com/Wolfiling/psa-grading-service-sub000/internal/verify"
	"github.com/Wolfiling/psa-grading-service-sub000/pkg/database"
	"github.com/Wolfiling/psa-grading-service-sub000/pkg/queue"
	"github.com/Wolfiling/psa-grading-service-sub000/pkg/redis"
	"github.com/Wolfiling/psa-grading-service-sub000/pkg/response"
	"github.com/Wolfiling/psa-grading-service-sub000/pkg/storage"
)

func main() {
	logger := newLogger()
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}

	ctx := context.Background()
	pool, err := database.NewPostgresPool(ctx, cfg.Database.DSN(), logger)
	if err != nil {
		logger.Fatal("database", zap.Error(err))
	}
	defer pool.Close()

	if err := database.Migrate(ctx, pool); err != nil {
		logger.Fatal("migrate", zap.Error(err))
	}

	rdb, err := redis.NewClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, logger)
	if err != nil {
		logger.Fatal("redis", zap.Error(err))
	}
	defer rdb.Close()

	files, err := storage.NewLocal(cfg.Proof.StorageDir)
	if err != nil {
		logger.Fatal("proof storage", zap.Error(err))
	}

	var s3Client *storage.S3
	if cfg.AWS.ArchiveBucket != "" {
		s3Cfg := storage.S3Config{
			Region:               cfg.AWS.Region,
			AccessKeyID:          cfg.AWS.AccessKeyID,
			SecretAccessKey:      cfg.AWS.SecretAccessKey,
			ArchiveBucket:        cfg.AWS.ArchiveBucket,
			PresignExpireMinutes: cfg.AWS.PresignExpireMinutes,
		}
		s3Client, err = storage.NewS3(ctx, s3Cfg, logger)
		if err != nil {
			logger.Warn("s3 archive disabled", zap.Error(err))
		}
	}

	tokenService := token.NewService(cfg.Proof.TokenSecret)
	jwtService := staff.NewJWTService(cfg.JWT.Secret, cfg.JWT.ExpireHours)
	auditRepo := audit.NewRepository(pool, logger)
	auditHandler := audit.NewHandler(auditRepo, logger)

	// Staff auth
	staffRepo := staff.NewRepository(pool)
	staffHandler := staff.NewHandler(staffRepo, jwtService, logger)

	// Submissions
	submissionRepo := submissions.NewRepository(pool)
	submissionHandler := submissions.NewHandler(submissionRepo, logger)

	// Proof lifecycle
	proofRepo := proof.NewRepository(pool)
	proofService := proof.NewService(proofRepo, files, auditRepo, cfg.Proof.MaxUploadSize, logger)
	proofHandler := proof.NewHandler(proofService, tokenService, logger)

	// QR bindings
	generator, err := binding.NewGenerator(cfg.Proof.BindingDir, tokenService, cfg.Proof.TokenSecret,
		cfg.Proof.BaseURL, binding.NewLogNotifier(logger), logger)
	if err != nil {
		logger.Fatal("binding generator", zap.Error(err))
	}
	bindingHandler := binding.NewHandler(generator, submissionRepo, proofRepo, auditRepo, logger)

	// Viewer verification, rate-limited per source address in Redis so the
	// ledger survives restarts and is shared across replicas.
	verifier := verify.NewVerifier(submissionRepo, verify.NewRedisLedger(rdb.Client),
		tokenService, auditRepo, cfg.Proof.BaseURL, logger)
	verifyHandler := verify.NewHandler(verifier, logger)

	// Delivery
	deliveryHandler := delivery.NewHandler(proofRepo, files, tokenService, auditRepo, logger)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CORS(cfg.Server.CORSAllowedOrigins))
	router.Use(middleware.Logger(logger))

	// Health
	router.GET("/health", func(c *gin.Context) { response.OK(c, gin.H{"status": "ok"}) })

	// Auth (public)
	router.POST("/auth/login", staffHandler.Login)

	// Public proof surface: viewers hold capability tokens, not sessions.
	router.POST("/proofs/:ref/access", verifyHandler.Grant)
	router.GET("/proofs/:ref/binding/image", bindingHandler.Image)

	// Upload and playback accept either a capability token or a staff session.
	tokenOrStaff := router.Group("")
	tokenOrStaff.Use(middleware.OptionalStaffJWT(jwtService))
	{
		tokenOrStaff.POST("/proofs/:ref/video", proofHandler.Upload)
		tokenOrStaff.GET("/proofs/:ref/video", deliveryHandler.Stream)
	}

	// Staff API (JWT required)
	api := router.Group("")
	api.Use(middleware.StaffJWT(jwtService))
	{
		api.POST("/staff", middleware.RequireRole(models.RoleAdmin), staffHandler.Create)
		api.POST("/submissions", middleware.RequireRole(models.RoleAdmin, models.RoleOperator), submissionHandler.Register)
		api.GET("/submissions/:ref", middleware.RequireRole(models.RoleAdmin, models.RoleOperator), submissionHandler.Get)
		api.POST("/proofs/:ref/binding", middleware.RequireRole(models.RoleAdmin, models.RoleOperator), bindingHandler.Generate)
		api.GET("/proofs/:ref/status", middleware.RequireRole(models.RoleAdmin, models.RoleOperator), proofHandler.Status)
		api.GET("/proofs/:ref/audit", middleware.RequireRole(models.RoleAdmin, models.RoleOperator), auditHandler.ListByRef)
		api.POST("/proofs/:ref/override", middleware.RequireRole(models.RoleAdmin), proofHandler.Override)
		api.DELETE("/proofs/:ref", middleware.RequireRole(models.RoleAdmin), proofHandler.Delete)
		if s3Client != nil {
			archiveHandler := retention.NewHandler(proofRepo, s3Client, logger)
			api.GET("/proofs/:ref/archive-url", middleware.RequireRole(models.RoleAdmin, models.RoleOperator), archiveHandler.DownloadURL)
			api.DELETE("/proofs/:ref/archive", middleware.RequireRole(models.RoleAdmin), archiveHandler.Delete)
		}
	}

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	// Retention scanner (archival jobs are processed by the worker binary)
	scanCtx, scanCancel := context.WithCancel(context.Background())
	defer scanCancel()
	if cfg.Retention.Enabled {
		jobQueue := queue.NewQueue(rdb.Client, logger)
		scanner := retention.NewScanner(proofRepo, jobQueue, cfg.Retention.LocalWindow, cfg.Retention.ScanInterval, logger)
		go scanner.Run(scanCtx)
		logger.Info("retention scanner started",
			zap.Duration("local_window", cfg.Retention.LocalWindow),
			zap.Duration("interval", cfg.Retention.ScanInterval),
		)
	}

	go func() {
		logger.Info("server listening", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	scanCancel()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}
	logger.Info("server stopped")
}

func newLogger() *zap.Logger {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, _ := config.Build()
	return logger
}
