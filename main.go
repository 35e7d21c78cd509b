package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/rili-live/therr-app-sub008/broker"
	"github.com/rili-live/therr-app-sub008/config"
	"github.com/rili-live/therr-app-sub008/logger"
	"github.com/rili-live/therr-app-sub008/metrics"
	"github.com/rili-live/therr-app-sub008/relay"
	"github.com/rili-live/therr-app-sub008/rest"
	"github.com/rili-live/therr-app-sub008/server"
	"github.com/rili-live/therr-app-sub008/services"
	"github.com/rili-live/therr-app-sub008/session"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	env := os.Getenv("ENVIRONMENT")
	if env == "" {
		env = "dev"
	}
	if err := config.Initialize(env); err != nil {
		log.Fatalf("Failed to initialize config: %v", err)
	}
	cfg := config.Get()

	zlog, err := logger.New(cfg.Logging.Level)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer zlog.Sync()

	instanceID := uuid.New().String()
	zlog.Info("starting relay instance",
		zap.String("instanceId", instanceID),
		zap.String("environment", env))

	redisClient, err := services.NewRedisClient(
		cfg.Broker.Redis.Address,
		cfg.Broker.Redis.Password,
		cfg.Broker.Redis.DB,
		cfg.Broker.Redis.PoolSize,
		cfg.Broker.Redis.PoolTimeout,
	)
	if err != nil {
		zlog.Fatal("failed to connect to redis", zap.Error(err))
	}
	defer services.CloseRedisClient(redisClient)

	sessionStore := session.NewRedisStore(redisClient, time.Duration(cfg.Session.TTL)*time.Second)

	var fabric broker.MessageBroker
	zlog.Info("initializing message broker", zap.String("type", cfg.Broker.Type))
	switch strings.ToLower(cfg.Broker.Type) {
	case "redis":
		// The fabric can share the session store's client.
		fabric = broker.NewRedisBroker(ctx, redisClient, zlog)
	case "kafka":
		fabric, err = broker.NewKafkaBroker(cfg.Broker.Kafka.Brokers, cfg.Broker.Kafka.GroupID, instanceID, zlog)
		if err != nil {
			zlog.Fatal("failed to create kafka broker", zap.Error(err))
		}
	case "memory":
		fabric = broker.NewMemoryBroker().Handle()
	default:
		// Config validation already rejects this; guard anyway.
		zlog.Fatal("invalid broker type", zap.String("type", cfg.Broker.Type))
	}
	defer fabric.Close()

	upstream := rest.NewClient(
		cfg.Rest.UsersServiceBaseURL,
		cfg.Rest.MessagesServiceBaseURL,
		time.Duration(cfg.Rest.RequestTimeout)*time.Second,
		zlog,
	)

	r := relay.New(relay.Options{
		InstanceID: instanceID,
		Config:     cfg,
		Store:      sessionStore,
		Fabric:     fabric,
		Upstream:   upstream,
		Logger:     zlog,
	})

	if err := r.Start(ctx); err != nil {
		zlog.Fatal("fabric subscription failed", zap.Error(err))
	}

	if cfg.Metrics.Enabled {
		go metrics.StartServer(cfg.Metrics.Port, cfg.Metrics.Path)
	}

	srv := server.New(
		fmt.Sprintf(":%d", cfg.Server.Port),
		r.HandleWebSocket,
		time.Duration(cfg.Server.ReadTimeout)*time.Second,
		time.Duration(cfg.Server.WriteTimeout)*time.Second,
		zlog,
	)
	go srv.Start()
	zlog.Info("websocket relay started", zap.Int("port", cfg.Server.Port))

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan
	zlog.Info("shutdown signal received")

	cancel()
	r.CloseAllConnections("server shutting down")
	if err := srv.Shutdown(context.Background()); err != nil {
		zlog.Warn("http shutdown error", zap.Error(err))
	}
	zlog.Info("shutdown complete")
}
