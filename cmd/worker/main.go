package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/Kshitij-Satija/xeno-mini-crm-backend/internal/config"
	"github.com/Kshitij-Satija/xeno-mini-crm-backend/internal/handler"
	"github.com/Kshitij-Satija/xeno-mini-crm-backend/internal/lock"
	"github.com/Kshitij-Satija/xeno-mini-crm-backend/internal/logger"
	"github.com/Kshitij-Satija/xeno-mini-crm-backend/internal/metrics"
	"github.com/Kshitij-Satija/xeno-mini-crm-backend/internal/models"
	"github.com/Kshitij-Satija/xeno-mini-crm-backend/internal/queue"
	"github.com/Kshitij-Satija/xeno-mini-crm-backend/internal/repository"
	"github.com/Kshitij-Satija/xeno-mini-crm-backend/internal/service"
	"github.com/Kshitij-Satija/xeno-mini-crm-backend/internal/vendor"
	"github.com/Kshitij-Satija/xeno-mini-crm-backend/internal/worker"
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
	if err := conn.DeclareQueues(models.PipelineQueues...); err != nil {
		log.Fatal("failed to declare queues", zap.Error(err))
	}
	publisher, err := queue.NewPublisher(conn)
	if err != nil {
		log.Fatal("failed to create publisher", zap.Error(err))
	}
	log.Info("connected to RabbitMQ")

	// Scheduler claim lock, only when Redis is configured
	var (
		locker      lock.Locker
		redisPinger service.RedisPinger
	)
	if cfg.Redis.Address != "" {
		redisLocker := lock.NewRedisLocker(lock.NewClient(cfg.Redis))
		locker = redisLocker
		redisPinger = redisLocker
		log.Info("scheduler lock enabled", zap.String("redis", cfg.Redis.Address))
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.NewMetrics(registry, "campaign_pipeline")

	campaigns := repository.NewCampaignRepository(db)
	customers := repository.NewCustomerRepository(db)
	logs := repository.NewCommunicationLogRepository(db)

	// Pipeline stages
	scheduler := worker.NewScheduler(campaigns, publisher, locker, cfg.Pipeline, m, log)
	resolver := worker.NewResolver(campaigns, customers, service.NewTagger(cfg.Tagging), publisher, cfg.Tagging.Timeout, m, log)
	fanout := worker.NewFanout(campaigns, customers, publisher, cfg.Pipeline.FanoutBatchSize, m, log)
	dispatcher := worker.NewDispatcher(
		campaigns, customers, logs,
		service.NewTemplateService(),
		vendor.NewHTTPClient(cfg.Vendor.APIURL, cfg.Vendor.Timeout, cfg.Vendor.RateLimit, cfg.Vendor.RateBurst),
		publisher,
		worker.DispatcherOptions{
			VendorTimeout:    cfg.Vendor.Timeout,
			CampaignCacheTTL: cfg.Pipeline.CampaignCacheTTL,
		},
		m, log,
	)
	receipts := worker.NewReceiptBatcher(logs, cfg.Pipeline, m, log)

	stages := []struct {
		queue    string
		handler  queue.Handler
		prefetch int
	}{
		{models.QueueCampaignCreated, resolver.Handle, 1},
		{models.QueueCampaignProcess, fanout.Handle, 1},
		{models.QueueCampaignDelivery, dispatcher.Handle, 10},
		{models.QueueDeliveryReceipts, receipts.Handle, cfg.Pipeline.ReceiptBatchSize},
	}

	consumeCtx, stopConsuming := context.WithCancel(context.Background())
	consumers := make([]*queue.Consumer, 0, len(stages))
	for _, stage := range stages {
		consumer, err := queue.NewConsumer(conn, stage.queue, stage.handler, queue.ConsumerOptions{
			Policy:   queue.RejectPolicy(cfg.Pipeline.RejectPolicy),
			Prefetch: stage.prefetch,
			Logger:   log,
			Observe:  m.ObserveDelivery,
		})
		if err != nil {
			log.Fatal("failed to create consumer", zap.String("queue", stage.queue), zap.Error(err))
		}
		if err := consumer.Start(consumeCtx); err != nil {
			log.Fatal("failed to start consumer", zap.String("queue", stage.queue), zap.Error(err))
		}
		consumers = append(consumers, consumer)
	}

	loopCtx, stopLoops := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		scheduler.Run(loopCtx)
	}()
	go func() {
		defer wg.Done()
		receipts.Run(loopCtx)
	}()

	// Health and metrics
	healthSvc := service.NewHealthService(db, conn, redisPinger, version)
	router := mux.NewRouter()
	router.HandleFunc("/health", handler.NewHealthHandler(healthSvc).HandleHealth).Methods(http.MethodGet)
	router.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{})).Methods(http.MethodGet)

	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		log.Info("worker status server starting", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("status server failed", zap.Error(err))
		}
	}()

	log.Info("worker started", zap.Strings("queues", models.PipelineQueues))

	// Graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	log.Info("shutting down gracefully")

	// Stop consumers before the loops so no receipt is ingested after the
	// final flush
	for _, consumer := range consumers {
		if err := consumer.Stop(); err != nil {
			log.Error("error stopping consumer", zap.Error(err))
		}
	}
	stopConsuming()

	stopLoops()
	wg.Wait()

	flushCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	result := receipts.Flush(flushCtx)
	log.Info("final receipt flush",
		zap.Int("sent", result.Sent),
		zap.Int("failed", result.Failed),
		zap.Int("requeued", result.Requeued))

	if err := srv.Shutdown(flushCtx); err != nil {
		log.Error("status server shutdown failed", zap.Error(err))
	}

	// Close connections
	conn.Close()
	db.Close()

	log.Info("worker stopped")
}
