package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	_ "github.com/lib/pq"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/Kshitij-Satija/xeno-mini-crm-backend/internal/config"
	"github.com/Kshitij-Satija/xeno-mini-crm-backend/internal/handler"
	"github.com/Kshitij-Satija/xeno-mini-crm-backend/internal/logger"
	"github.com/Kshitij-Satija/xeno-mini-crm-backend/internal/middleware"
	"github.com/Kshitij-Satija/xeno-mini-crm-backend/internal/models"
	"github.com/Kshitij-Satija/xeno-mini-crm-backend/internal/queue"
	"github.com/Kshitij-Satija/xeno-mini-crm-backend/internal/repository"
	"github.com/Kshitij-Satija/xeno-mini-crm-backend/internal/service"
)

const version = "1.0.0"

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		zap.L().Fatal("failed to load config", zap.Error(err))
	}

	log := logger.Must(cfg.Log.Level, cfg.Log.Format)
	defer log.Sync()
	zap.ReplaceGlobals(log)

	// Connect to database
	db, err := sql.Open("postgres", cfg.GetDatabaseDSN())
	if err != nil {
		log.Fatal("failed to open database", zap.Error(err))
	}
	defer db.Close()
	db.SetMaxOpenConns(cfg.Database.MaxOpenConns)

	if err := db.Ping(); err != nil {
		log.Fatal("failed to ping database", zap.Error(err))
	}
	log.Info("connected to database")

	// Connect to RabbitMQ
	conn, err := queue.NewConnection(cfg.GetRabbitMQURL(), log)
	if err != nil {
		log.Fatal("failed to connect to RabbitMQ", zap.Error(err))
	}
	defer conn.Close()

	if err := conn.DeclareQueues(models.PipelineQueues...); err != nil {
		log.Fatal("failed to declare queues", zap.Error(err))
	}

	publisher, err := queue.NewPublisher(conn)
	if err != nil {
		log.Fatal("failed to create publisher", zap.Error(err))
	}
	log.Info("connected to RabbitMQ")

	// Initialize services
	campaignSvc := service.NewCampaignService(
		repository.NewCampaignRepository(db),
		repository.NewCustomerRepository(db),
		repository.NewCommunicationLogRepository(db),
		service.NewTemplateService(),
		publisher,
		log,
	)
	healthSvc := service.NewHealthService(db, conn, nil, version)

	limiter := middleware.NewRateLimiter(middleware.RateLimiterConfig{
		Rate:  rate.Limit(cfg.Server.RateLimit),
		Burst: cfg.Server.RateBurst,
	})

	router := handler.NewRouter(
		handler.NewCampaignHandler(campaignSvc),
		handler.NewPreviewHandler(campaignSvc),
		handler.NewHealthHandler(healthSvc),
		limiter.Middleware,
	)
	router.Use(mux.MiddlewareFunc(middleware.Recovery(log)), mux.MiddlewareFunc(middleware.Logger(log)))

	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info("API server starting", zap.String("addr", srv.Addr), zap.String("env", cfg.Env))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("server failed", zap.Error(err))
		}
	}()

	// Graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	log.Info("shutting down gracefully")

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Error("server shutdown failed", zap.Error(err))
	}

	log.Info("API server stopped")
}
