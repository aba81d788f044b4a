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

	"reservation-service/config"
	"reservation-service/internal/api"
	"reservation-service/internal/broker"
	"reservation-service/internal/redisclient"
	"reservation-service/internal/service"
	"reservation-service/internal/store"
	"reservation-service/internal/util"
	"reservation-service/internal/worker"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func main() {

	cfg := config.Load()

	if err := util.InitLogger(cfg.Server.Env, cfg.Observ.ServiceName); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer util.SyncLogger()

	logger := util.GetLogger()
	logger.Info("Starting reservation service")

	tp, err := util.InitTracer(cfg.Observ.ServiceName, cfg.Observ.JaegerEndpoint)
	if err != nil {
		log.Fatalf("Failed to initialize tracer: %v", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(ctx); err != nil {
			logger.Warn("Error shutting down tracer", zap.Error(err))
		}
	}()

	repo, err := store.Open(cfg.Database.Driver, cfg.Database.URL)
	if err != nil {
		log.Fatalf("Failed to open store: %v", err)
	}
	defer repo.Close()
	if m, ok := repo.(*store.MemoryStore); ok {
		seedDemoData(m)
		logger.Info("Memory store seeded with demo data")
	}
	logger.Info("Store ready", zap.String("driver", cfg.Database.Driver))

	checks := []api.Pinger{repo}

	var (
		redisClient *redisclient.Client
		idempotency service.IdempotencyStore
		stockReader service.StockReader
	)
	if cfg.Redis.Addr != "" {
		redisClient, err = redisclient.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			log.Fatalf("Failed to connect to Redis: %v", err)
		}
		defer redisClient.Close()
		idempotency = redisClient
		stockReader = redisClient
		checks = append(checks, redisClient)
		logger.Info("Redis connected")
	}

	var publisher service.EventPublisher
	if len(cfg.Kafka.Brokers) > 0 {
		producer := broker.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicReservation)
		defer producer.Close()
		publisher = broker.NewEventPublisher(producer)
		logger.Info("Kafka producer initialized")
	}

	reservationService := service.NewReservationService(
		repo,
		publisher,
		idempotency,
		time.Duration(cfg.Business.IdempotencyTTLSeconds)*time.Second,
	)
	queryService := service.NewQueryService(repo, stockReader, cfg.Business.LowStockThreshold)
	userService := service.NewUserService(repo)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var mirrorWorker *worker.StockMirrorWorker
	if redisClient != nil {
		mirror := service.NewStockMirrorService(repo, redisClient,
			time.Duration(cfg.Business.EventDedupTTLSeconds)*time.Second)
		if err := mirror.Sync(ctx); err != nil {
			logger.Warn("Failed to sync stock mirror", zap.Error(err))
		}
		if len(cfg.Kafka.Brokers) > 0 {
			consumer := broker.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.TopicReservation, cfg.Kafka.ConsumerGroup)
			mirrorWorker = worker.NewStockMirrorWorker(consumer, mirror)
		}
	}

	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	handler := api.NewHandler(reservationService, queryService, userService, checks...)
	handler.SetupRoutes(router, cfg.Observ.ServiceName)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: router,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("Starting HTTP server", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	if mirrorWorker != nil {
		g.Go(func() error {
			if err := mirrorWorker.Start(gctx); err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("stock mirror worker: %w", err)
			}
			return nil
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down server")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("Server forced to shutdown", zap.Error(err))
		}
		if mirrorWorker != nil {
			if err := mirrorWorker.Stop(); err != nil {
				logger.Warn("Error stopping stock mirror worker", zap.Error(err))
			}
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error("Server exited with error", zap.Error(err))
		return
	}

	logger.Info("Server exited")
}
