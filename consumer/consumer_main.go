package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/tnqbao/gau-music-dispatch/config"
	"github.com/tnqbao/gau-music-dispatch/consumer/worker"
	infraPkg "github.com/tnqbao/gau-music-dispatch/infra"
)

func main() {
	err := godotenv.Load("../staging.env")
	if err != nil {
		log.Println("No .env file found, continuing with environment variables")
	}

	cfg := config.NewConfig()
	infra := infraPkg.InitInfra(cfg)
	if infra.RabbitMQ == nil || infra.Redis == nil {
		log.Fatalf("Job event consumer needs RabbitMQ and Redis (RABBITMQ_ENABLED, REDIS_ENABLED)")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Mirror job events into Redis for dashboards
	eventConsumer := worker.NewJobEventConsumer(infra.RabbitMQ.Channel, infra.Redis, cfg.EnvConfig.Redis.EventTTL, infra.Logger)
	if err := eventConsumer.Start(ctx); err != nil {
		infra.Logger.ErrorWithContextf(ctx, err, "Failed to start job event consumer: %v", err)
		log.Fatalf("Failed to start job event consumer: %v", err)
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	infra.Logger.InfoWithContextf(ctx, "Shutting down consumer...")
	cancel()
	infra.RabbitMQ.Close()
	_ = infra.Logger.Shutdown(context.Background())

	infra.Logger.InfoWithContextf(ctx, "Consumer exited properly")
}
