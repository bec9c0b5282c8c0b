package runner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/tnqbao/gau-music-dispatch/entity"
)

// ErrCancelled is returned by a checkpoint once the control plane asked the
// job to stop.
var ErrCancelled = errors.New("job cancelled by control plane")

// Task is one claimed job handed to a Generator.
type Task struct {
	JobID   uuid.UUID
	Kind    entity.JobKind
	Payload json.RawMessage
	Attempt int
	WorkDir string
}

// Output is the file a Generator produced.
type Output struct {
	Path        string
	Ext         string
	ContentType string
}

// Checkpoint reports a stage and returns ErrCancelled when the job must
// stop. Generators call it between expensive steps.
type Checkpoint func(ctx context.Context, stage string) error

type Generator interface {
	Generate(ctx context.Context, task Task, checkpoint Checkpoint) (Output, error)
}

// MockGenerator stands in for the model: generate jobs produce up to five
// seconds of noise as WAV, train_lora jobs produce a placeholder adapter.
type MockGenerator struct {
	StepDelay time.Duration
	Seed      int64
}

type generateParams struct {
	Duration *float64 `json:"duration"`
}

func (g *MockGenerator) Generate(ctx context.Context, task Task, checkpoint Checkpoint) (Output, error) {
	switch task.Kind {
	case entity.JobKindGenerate:
		return g.generate(ctx, task, checkpoint)
	case entity.JobKindTrainLora:
		return g.trainLora(ctx, task, checkpoint)
	}
	return Output{}, fmt.Errorf("unsupported job kind %q", task.Kind)
}

func (g *MockGenerator) generate(ctx context.Context, task Task, checkpoint Checkpoint) (Output, error) {
	var params generateParams
	if err := json.Unmarshal(task.Payload, &params); err != nil {
		return Output{}, fmt.Errorf("decode payload: %w", err)
	}
	seconds := 120.0
	if params.Duration != nil {
		seconds = *params.Duration
	}
	seconds = math.Min(math.Max(seconds, 1), MockMaxSeconds)

	if err := g.step(ctx, checkpoint, "loading_model"); err != nil {
		return Output{}, err
	}
	if err := g.step(ctx, checkpoint, "generating"); err != nil {
		return Output{}, err
	}

	path := filepath.Join(task.WorkDir, task.JobID.String()+".wav")
	f, err := os.Create(path)
	if err != nil {
		return Output{}, err
	}
	rng := rand.New(rand.NewSource(g.Seed + int64(task.Attempt)))
	if _, err := WriteNoiseWAV(f, int(seconds), rng); err != nil {
		f.Close()
		os.Remove(path)
		return Output{}, fmt.Errorf("write wav: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(path)
		return Output{}, err
	}

	if err := g.step(ctx, checkpoint, "uploading"); err != nil {
		os.Remove(path)
		return Output{}, err
	}
	return Output{Path: path, Ext: "wav", ContentType: "audio/wav"}, nil
}

func (g *MockGenerator) trainLora(ctx context.Context, task Task, checkpoint Checkpoint) (Output, error) {
	var params struct {
		StyleName string   `json:"style_name"`
		Files     []string `json:"files"`
	}
	if err := json.Unmarshal(task.Payload, &params); err != nil {
		return Output{}, fmt.Errorf("decode payload: %w", err)
	}
	if params.StyleName == "" || len(params.Files) == 0 {
		return Output{}, errors.New("train_lora payload needs style_name and files")
	}

	for _, stage := range []string{"preparing_training", "training"} {
		if err := g.step(ctx, checkpoint, stage); err != nil {
			return Output{}, err
		}
	}

	path := filepath.Join(task.WorkDir, task.JobID.String()+".safetensors")
	header := fmt.Sprintf(`{"__metadata__":{"style_name":%q,"files":"%d"}}`, params.StyleName, len(params.Files))
	if err := os.WriteFile(path, []byte(header), 0o644); err != nil {
		return Output{}, err
	}
	return Output{Path: path, Ext: "safetensors", ContentType: "application/octet-stream"}, nil
}

func (g *MockGenerator) step(ctx context.Context, checkpoint Checkpoint, stage string) error {
	if err := checkpoint(ctx, stage); err != nil {
		return err
	}
	if g.StepDelay <= 0 {
		return ctx.Err()
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(g.StepDelay):
		return nil
	}
}
