package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/mr1hm/disaster-response/internal/api"
	"github.com/mr1hm/disaster-response/internal/bmkg"
	"github.com/mr1hm/disaster-response/internal/config"
	"github.com/mr1hm/disaster-response/internal/events"
	internalgrpc "github.com/mr1hm/disaster-response/internal/grpc"
	"github.com/mr1hm/disaster-response/internal/ingestion"
	"github.com/mr1hm/disaster-response/internal/logging"
	"github.com/mr1hm/disaster-response/internal/notify"
	"github.com/mr1hm/disaster-response/internal/observability"
	"github.com/mr1hm/disaster-response/internal/repository"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		logging.Fatalf("Fatal while loading config: %v", err)
	}
	logging.Setup(cfg.Logging.Level)

	slog.Info("Server starting", "host", cfg.Server.Host, "port", cfg.Server.Port)

	store, err := repository.NewStore(cfg.DB.Driver, cfg.DB.DSN)
	if err != nil {
		logging.Fatalf("Failed to initialize database: %v", err)
	}
	defer store.Close()

	metrics := observability.NewMetrics()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Domain events: in-process bus for the notification consumer, plus
	// optional export to Kafka.
	bus := events.NewBus(cfg.Notify.BufferSize, metrics.EventsDropped)
	publishers := events.MultiPublisher{bus}
	var kafka *events.KafkaPublisher
	if len(cfg.Kafka.Brokers) > 0 {
		kafka = events.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		publishers = append(publishers, kafka)
		slog.Info("exporting events to kafka", "brokers", cfg.Kafka.Brokers, "topic", cfg.Kafka.Topic)
	}

	var pusher notify.Pusher
	fcm, err := notify.NewFCMPusher(ctx, cfg.Notify.FirebaseCredentials)
	switch {
	case err == nil:
		pusher = fcm
		slog.Info("push notifications enabled")
	case errors.Is(err, notify.ErrPushDisabled):
		slog.Info("push notifications disabled", "reason", err)
	default:
		slog.Error("push notifications disabled", "error", err)
	}

	fanout := notify.NewFanOut(store, pusher, metrics, nil)
	dispatcher := notify.NewDispatcher(bus, fanout, cfg.Notify.WorkerCount, cfg.Notify.BufferSize)
	dispatcher.Start(ctx)

	parser := bmkg.NewDateTimeParser(nil, metrics.DatetimeFallbacks)
	syncer := ingestion.NewSyncer(
		bmkg.NewClient(metrics),
		ingestion.NewResolver(store),
		ingestion.NewMaterializer(store, store, publishers, parser, nil),
		metrics,
	)

	grpcServer := internalgrpc.NewServer()
	go func() {
		grpcAddr := fmt.Sprintf(":%d", cfg.GRPC.Port)
		if err := grpcServer.Start(grpcAddr); err != nil {
			logging.Fatalf("gRPC server error: %v", err)
		}
	}()

	var scheduler *ingestion.Scheduler
	if cfg.Sync.Enabled {
		locker := ingestion.Locker(ingestion.NewMemoryLocker())
		if cfg.Redis.Addr != "" {
			rdb := redis.NewClient(&redis.Options{
				Addr:     cfg.Redis.Addr,
				Password: cfg.Redis.Password,
				DB:       cfg.Redis.DB,
			})
			defer rdb.Close()
			pingCtx, pingCancel := context.WithTimeout(ctx, 5*time.Second)
			if err := rdb.Ping(pingCtx).Err(); err != nil {
				slog.Warn("redis ping failed", "addr", cfg.Redis.Addr, "error", err)
			}
			pingCancel()
			locker = ingestion.NewRedisLocker(rdb, cfg.Sync.LockTTL)
		}

		scheduler = ingestion.NewScheduler(syncer, locker, cfg.Sync.Interval,
			ingestion.WithMetrics(metrics),
			ingestion.WithResultHook(func(r *ingestion.Result) {
				grpcServer.SetSyncHealthy(r.Success)
			}),
		)
		scheduler.Start(ctx)
	}

	// Gin router
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "PATCH", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: false, // Set to false when using wildcard origins
	}))
	router.Use(api.RateLimitMiddleware(cfg.Server.RateLimit))

	handler := api.NewHandler(store, syncer, publishers)
	handler.RegisterRoutes(router)

	srv := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler: router,
	}

	go func() {
		slog.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.Fatalf("server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	// Stop taking requests first so no new events are published.
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown error", "error", err)
	}

	cancel()
	if scheduler != nil {
		scheduler.Stop()
	}
	dispatcher.Stop()
	bus.Close()
	if kafka != nil {
		if err := kafka.Close(); err != nil {
			slog.Error("kafka writer close error", "error", err)
		}
	}
	grpcServer.Stop()

	slog.Info("shutdown complete")
}
