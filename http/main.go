package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/tnqbao/gau-music-dispatch/config"
	"github.com/tnqbao/gau-music-dispatch/consumer/worker"
	"github.com/tnqbao/gau-music-dispatch/dispatch"
	"github.com/tnqbao/gau-music-dispatch/http/controller"
	"github.com/tnqbao/gau-music-dispatch/http/route"
	infraPkg "github.com/tnqbao/gau-music-dispatch/infra"
	"github.com/tnqbao/gau-music-dispatch/repository"
)

func main() {
	err := godotenv.Load("staging.env")
	if err != nil {
		log.Println("No .env file found, continuing with environment variables")
	}

	cfg := config.NewConfig()
	infra := infraPkg.InitInfra(cfg)
	repo := repository.InitRepository(infra, cfg.Dispatch)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	dispatcher := dispatch.New(cfg.Dispatch, dispatch.Deps{
		Jobs:      repo.JobRepo,
		Queue:     infra.Queue,
		Artifacts: repo.ArtifactRepo,
		Events:    infra.EventPublisher(),
		Logger:    infra.Logger,
	})

	// An in-process queue starts empty, so pending jobs are pushed back from
	// the store. A shared Redis queue already holds them.
	requeued, orphaned, err := dispatcher.Recover(ctx, cfg.Dispatch.QueueDriver == config.QueueDriverMemory)
	if err != nil {
		infra.Logger.ErrorWithContextf(ctx, err, "[Dispatch] Recovery failed")
	} else {
		infra.Logger.InfoWithContextf(ctx, "[Dispatch] Recovered %d pending and %d orphaned jobs", requeued, orphaned)
	}

	go dispatcher.RunReaper(ctx, cfg.Dispatch.ReapInterval)

	if infra.RabbitMQ != nil {
		reportConsumer := worker.NewReportConsumer(infra.RabbitMQ.Channel, dispatcher, infra.Logger)
		if err := reportConsumer.Start(ctx); err != nil {
			infra.Logger.ErrorWithContextf(ctx, err, "Failed to start report consumer: %v", err)
			log.Fatalf("Failed to start report consumer: %v", err)
		}
	}

	ctrl := controller.NewController(cfg, infra, repo, dispatcher)
	router := routes.SetupRouter(ctrl)

	srv := &http.Server{
		Addr:              ":" + cfg.EnvConfig.HTTP.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		infra.Logger.InfoWithContextf(ctx, "HTTP Server started on %s (mode=%s)", srv.Addr, cfg.Dispatch.DeployMode)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	infra.Logger.InfoWithContextf(ctx, "Shutting down server...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		infra.Logger.ErrorWithContextf(shutdownCtx, err, "Server forced to shutdown")
	}
	if infra.RabbitMQ != nil {
		infra.RabbitMQ.Close()
	}
	if err := infra.Telemetry.Shutdown(shutdownCtx); err != nil {
		log.Printf("Telemetry shutdown: %v", err)
	}
	if err := infra.Logger.Shutdown(shutdownCtx); err != nil {
		log.Printf("Logger shutdown: %v", err)
	}
	log.Println("Server exited properly")
}
