package client_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/tnqbao/gau-music-dispatch/client"
	"github.com/tnqbao/gau-music-dispatch/config"
	"github.com/tnqbao/gau-music-dispatch/dispatch"
	"github.com/tnqbao/gau-music-dispatch/http/controller"
	"github.com/tnqbao/gau-music-dispatch/http/controller/dto"
	routes "github.com/tnqbao/gau-music-dispatch/http/route"
	"github.com/tnqbao/gau-music-dispatch/infra"
	"github.com/tnqbao/gau-music-dispatch/repository"
	"github.com/tnqbao/gau-music-dispatch/utils"
)

const workerSecret = "client-test-secret"

func newServer(t *testing.T, capacity int) (*httptest.Server, *config.Config) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	env := &config.EnvConfig{}
	env.Blob.MaxUploadLen = 1 << 20
	env.Worker.SharedSecret = workerSecret
	env.JWT.SecretKey = "client-test-jwt"
	env.JWT.Expire = 600
	cfg := &config.Config{EnvConfig: env, Dispatch: config.DefaultDispatchConfig()}
	cfg.Dispatch.QueueCapacity = capacity

	blob, err := infra.NewLocalBlobStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocalBlobStore: %v", err)
	}
	inf := &infra.Infra{
		Logger: infra.NewWriterLogger(io.Discard, slog.LevelInfo),
		Queue:  dispatch.NewMemoryQueue(capacity),
		Blob:   blob,
	}
	repo := &repository.Repository{
		JobRepo:      dispatch.NewMemoryJobStore(),
		ArtifactRepo: dispatch.NewMemoryArtifactStore(),
	}
	d := dispatch.New(cfg.Dispatch, dispatch.Deps{Jobs: repo.JobRepo, Queue: inf.Queue, Artifacts: repo.ArtifactRepo, Logger: inf.Logger})

	srv := httptest.NewServer(routes.SetupRouter(controller.NewController(cfg, inf, repo, d)))
	t.Cleanup(srv.Close)
	return srv, cfg
}

func TestClientWorkerRoundTrip(t *testing.T) {
	ctx := context.Background()
	srv, _ := newServer(t, 10)
	c := client.New(srv.URL, client.WithWorkerSecret(workerSecret))

	sub, err := c.Generate(ctx, json.RawMessage(`{"prompt":"ambient pads","duration":20}`))
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	reg, err := c.Register(ctx, 1, map[string]string{"gpu": "a100"})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	a, err := c.Claim(ctx, reg.WorkerID)
	if err != nil || a == nil {
		t.Fatalf("Claim = %+v, %v", a, err)
	}
	if a.JobID.String() != sub.TaskID {
		t.Fatalf("claimed %s, submitted %s", a.JobID, sub.TaskID)
	}

	if again, err := c.Claim(ctx, reg.WorkerID); again != nil || err != nil {
		t.Fatalf("Claim with no free slot = %+v, %v", again, err)
	}

	ack, err := c.Heartbeat(ctx, reg.WorkerID)
	if err != nil || len(ack.Assigned) != 1 || len(ack.Cancel) != 0 {
		t.Fatalf("Heartbeat = %+v, %v", ack, err)
	}

	up, err := c.Upload(ctx, reg.WorkerID, a.JobID, "wav", bytes.NewReader([]byte("RIFF-data")))
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if err := c.Result(ctx, reg.WorkerID, dto.ResultRequestDTO{JobID: a.JobID, Attempt: a.Attempt, Success: true, Location: up.Location, Size: up.Size}); err != nil {
		t.Fatalf("Result: %v", err)
	}

	err = c.Result(ctx, reg.WorkerID, dto.ResultRequestDTO{JobID: a.JobID, Attempt: a.Attempt, Success: true, Location: up.Location})
	if !errors.Is(err, dispatch.ErrConflict) {
		t.Fatalf("duplicate Result = %v, want ErrConflict", err)
	}

	status, err := c.Status(ctx, a.JobID)
	if err != nil || status.Status != "success" {
		t.Fatalf("Status = %+v, %v", status, err)
	}

	var buf bytes.Buffer
	if _, err := c.Download(ctx, a.JobID, &buf); err != nil || buf.String() != "RIFF-data" {
		t.Fatalf("Download = %q, %v", buf.String(), err)
	}

	if err := c.Deregister(ctx, reg.WorkerID); err != nil {
		t.Fatalf("Deregister: %v", err)
	}
	if _, err := c.Heartbeat(ctx, reg.WorkerID); !errors.Is(err, dispatch.ErrNotFound) {
		t.Fatalf("Heartbeat after deregister = %v, want ErrNotFound", err)
	}
}

func TestClientMapsErrors(t *testing.T) {
	ctx := context.Background()
	srv, cfg := newServer(t, 1)

	unsigned := client.New(srv.URL)
	var apiErr *client.APIError
	if _, err := unsigned.Register(ctx, 1, nil); !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusUnauthorized {
		t.Fatalf("unsigned Register = %v, want 401", err)
	}

	c := client.New(srv.URL)
	if _, err := c.Generate(ctx, json.RawMessage(`{"duration":-1}`)); !errors.Is(err, dispatch.ErrValidation) {
		t.Fatalf("invalid Generate = %v, want ErrValidation", err)
	}
	if _, err := c.Generate(ctx, json.RawMessage(`{"prompt":"a"}`)); err != nil {
		t.Fatalf("Generate: %v", err)
	}
	_, err := c.Generate(ctx, json.RawMessage(`{"prompt":"b"}`))
	if !errors.Is(err, dispatch.ErrOverloaded) || !errors.As(err, &apiErr) || apiErr.RetryAfter <= 0 {
		t.Fatalf("overflow Generate = %v, want ErrOverloaded with Retry-After", err)
	}
	if !client.IsRetryable(err) {
		t.Fatalf("overflow should be retryable")
	}

	if _, err := c.Overview(ctx); err == nil {
		t.Fatalf("Overview without token succeeded")
	}
	token, err := utils.IssueAdminToken("test", cfg.EnvConfig)
	if err != nil {
		t.Fatalf("IssueAdminToken: %v", err)
	}
	admin := client.New(srv.URL, client.WithAdminToken(token))
	overview, err := admin.Overview(ctx)
	if err != nil || overview.QueueDepth != 1 {
		t.Fatalf("Overview = %+v, %v", overview, err)
	}
	jobs, err := admin.ListJobs(ctx, dispatch.JobFilter{Status: "failed"})
	if err != nil || len(jobs) != 1 {
		t.Fatalf("ListJobs = %+v, %v", jobs, err)
	}
	if err := admin.SetDesiredWorkers(ctx, 4); err != nil {
		t.Fatalf("SetDesiredWorkers: %v", err)
	}
	workers, err := admin.ListWorkers(ctx)
	if err != nil || workers.Desired != 4 {
		t.Fatalf("ListWorkers = %+v, %v", workers, err)
	}
}
