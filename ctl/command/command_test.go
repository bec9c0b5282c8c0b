package command

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/tnqbao/gau-music-dispatch/config"
	"github.com/tnqbao/gau-music-dispatch/dispatch"
	"github.com/tnqbao/gau-music-dispatch/http/controller"
	routes "github.com/tnqbao/gau-music-dispatch/http/route"
	"github.com/tnqbao/gau-music-dispatch/infra"
	"github.com/tnqbao/gau-music-dispatch/repository"
)

func newEnv(t *testing.T) *config.EnvConfig {
	t.Helper()
	gin.SetMode(gin.TestMode)

	env := &config.EnvConfig{}
	env.Blob.MaxUploadLen = 1 << 20
	env.JWT.SecretKey = "ctl-test-secret"
	env.JWT.Expire = 600
	cfg := &config.Config{EnvConfig: env, Dispatch: config.DefaultDispatchConfig()}

	blob, err := infra.NewLocalBlobStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocalBlobStore: %v", err)
	}
	inf := &infra.Infra{
		Logger: infra.NewWriterLogger(io.Discard, slog.LevelInfo),
		Queue:  dispatch.NewMemoryQueue(cfg.Dispatch.QueueCapacity),
		Blob:   blob,
	}
	repo := &repository.Repository{JobRepo: dispatch.NewMemoryJobStore(), ArtifactRepo: dispatch.NewMemoryArtifactStore()}
	d := dispatch.New(cfg.Dispatch, dispatch.Deps{Jobs: repo.JobRepo, Queue: inf.Queue, Artifacts: repo.ArtifactRepo, Logger: inf.Logger})

	srv := httptest.NewServer(routes.SetupRouter(controller.NewController(cfg, inf, repo, d)))
	t.Cleanup(srv.Close)
	env.Agent.ServerURL = srv.URL
	return env
}

func run(t *testing.T, env *config.EnvConfig, args ...string) (string, error) {
	t.Helper()
	root := NewRootCmd(env)
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestSubmitStatusCancel(t *testing.T) {
	env := newEnv(t)

	out, err := run(t, env, "submit", `{"prompt":"lofi piano","duration":30}`)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	id := strings.TrimSpace(strings.TrimPrefix(out, "Job submitted:"))

	out, err = run(t, env, "status", id)
	if err != nil || !strings.Contains(out, "pending") {
		t.Fatalf("status = %q, %v", out, err)
	}

	out, err = run(t, env, "cancel", id)
	if err != nil || !strings.Contains(out, "Cancellation accepted") {
		t.Fatalf("cancel = %q, %v", out, err)
	}

	out, err = run(t, env, "cancel", id)
	if err != nil || !strings.Contains(out, "already finished") {
		t.Fatalf("second cancel = %q, %v", out, err)
	}

	if _, err := run(t, env, "submit", `{"duration":1}`); err == nil {
		t.Fatalf("out-of-range submit succeeded")
	}
	if _, err := run(t, env, "status", "not-a-uuid"); err == nil {
		t.Fatalf("status with bad id succeeded")
	}
}

func TestAdminCommandsNeedToken(t *testing.T) {
	env := newEnv(t)

	if _, err := run(t, env, "overview"); err == nil {
		t.Fatalf("overview without token succeeded")
	}

	token, err := run(t, env, "token", "--subject", "tester")
	if err != nil {
		t.Fatalf("token: %v", err)
	}
	token = strings.TrimSpace(token)

	if _, err := run(t, env, "submit", `{"prompt":"a"}`); err != nil {
		t.Fatalf("submit: %v", err)
	}

	out, err := run(t, env, "--token", token, "overview")
	if err != nil || !strings.Contains(out, "Queue:   1/") {
		t.Fatalf("overview = %q, %v", out, err)
	}

	out, err = run(t, env, "--token", token, "jobs", "--status", "pending")
	if err != nil || strings.Count(out, "pending") != 1 {
		t.Fatalf("jobs = %q, %v", out, err)
	}

	out, err = run(t, env, "--token", token, "workers", "scale", "3")
	if err != nil || !strings.Contains(out, "Desired workers set to 3") {
		t.Fatalf("scale = %q, %v", out, err)
	}
	out, err = run(t, env, "--token", token, "workers")
	if err != nil || !strings.Contains(out, "0 workers (desired 3)") {
		t.Fatalf("workers = %q, %v", out, err)
	}

	if _, err := run(t, env, "--token", token, "workers", "scale", "-1"); err == nil {
		t.Fatalf("negative scale succeeded")
	}
}
