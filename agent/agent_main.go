package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/tnqbao/gau-music-dispatch/agent/runner"
	"github.com/tnqbao/gau-music-dispatch/client"
	"github.com/tnqbao/gau-music-dispatch/config"
	infraPkg "github.com/tnqbao/gau-music-dispatch/infra"
	"github.com/tnqbao/gau-music-dispatch/infra/produce"
)

func main() {
	err := godotenv.Load("staging.env")
	if err != nil {
		log.Println("No .env file found, continuing with environment variables")
	}

	cfg := config.NewConfig()
	env := cfg.EnvConfig

	logger := infraPkg.InitLoggerClient(env)
	telemetry := infraPkg.InitTelemetryClient(env)

	api := client.New(env.Agent.ServerURL, client.WithWorkerSecret(env.Worker.SharedSecret))
	httpTransport := runner.HTTPTransport{Client: api}

	var uploader runner.Uploader = httpTransport
	if env.Agent.UploadMode == "blob" {
		switch cfg.Dispatch.BlobDriver {
		case config.BlobDriverS3:
			uploader = runner.BlobUploader{Store: infraPkg.InitS3Client(env)}
		case config.BlobDriverMinio:
			uploader = runner.BlobUploader{Store: infraPkg.InitMinioClient(env)}
		default:
			log.Fatalf("WORKER_UPLOAD_MODE=blob needs a shared blob store, BLOB_DRIVER is %q", cfg.Dispatch.BlobDriver)
		}
	}

	var reporter runner.Reporter = httpTransport
	var rabbit *infraPkg.RabbitMQClient
	if env.Agent.ReportMode == "amqp" {
		rabbit = infraPkg.InitRabbitMQClient(env)
		reporter = runner.AMQPReporter{Service: produce.InitWorkerReportService(rabbit.Channel)}
	}

	r := runner.New(runner.Config{
		Capability:        env.Agent.Capability,
		Labels:            parseLabels(env.Agent.Labels),
		HeartbeatInterval: env.Agent.HeartbeatInterval,
		PollInterval:      env.Agent.PollInterval,
		WorkDir:           env.Agent.WorkDir,
	}, api, &runner.MockGenerator{}, uploader, reporter, logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.InfoWithContextf(ctx, "[Agent] Connecting to %s (upload=%s, report=%s)", env.Agent.ServerURL, env.Agent.UploadMode, env.Agent.ReportMode)
	if err := r.Run(ctx); err != nil {
		logger.ErrorWithContextf(ctx, err, "[Agent] Stopped with error")
		log.Fatalf("Agent failed: %v", err)
	}

	if rabbit != nil {
		rabbit.Close()
	}
	_ = telemetry.Shutdown(context.Background())
	_ = logger.Shutdown(context.Background())
}

// parseLabels reads "key=value,key=value".
func parseLabels(raw string) map[string]string {
	labels := make(map[string]string)
	for _, pair := range strings.Split(raw, ",") {
		k, v, ok := strings.Cut(strings.TrimSpace(pair), "=")
		if ok && k != "" {
			labels[strings.TrimSpace(k)] = strings.TrimSpace(v)
		}
	}
	return labels
}
