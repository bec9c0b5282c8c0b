package runner

import (
	"context"
	"io"

	"github.com/google/uuid"
	"github.com/tnqbao/gau-music-dispatch/client"
	"github.com/tnqbao/gau-music-dispatch/dispatch"
	"github.com/tnqbao/gau-music-dispatch/http/controller/dto"
	"github.com/tnqbao/gau-music-dispatch/infra"
	"github.com/tnqbao/gau-music-dispatch/infra/produce"
)

// ArtifactPrefix matches the prefix the control plane serves files from.
const ArtifactPrefix = "out/"

// HTTPTransport reports and uploads through the control plane API.
type HTTPTransport struct {
	Client *client.Client
}

func (t HTTPTransport) Upload(ctx context.Context, workerID, jobID uuid.UUID, ext, _ string, r io.Reader) (string, int64, error) {
	resp, err := t.Client.Upload(ctx, workerID, jobID, ext, r)
	if err != nil {
		return "", 0, err
	}
	return resp.Location, resp.Size, nil
}

func (t HTTPTransport) Progress(ctx context.Context, report dispatch.ProgressReport) (dispatch.Directive, error) {
	return t.Client.Progress(ctx, report.WorkerID, dto.ProgressRequestDTO{
		JobID:   report.JobID,
		Attempt: report.Attempt,
		State:   report.State,
		Detail:  report.Detail,
	})
}

func (t HTTPTransport) Result(ctx context.Context, report dispatch.ResultReport) error {
	return t.Client.Result(ctx, report.WorkerID, dto.ResultRequestDTO{
		JobID:       report.JobID,
		Attempt:     report.Attempt,
		Success:     report.Success,
		Location:    report.Location,
		Size:        report.Size,
		ContentType: report.ContentType,
		Error:       report.Error,
	})
}

// BlobUploader writes outputs straight to the shared blob store, for farm
// workers with their own storage credentials.
type BlobUploader struct {
	Store infra.BlobStore
}

func (u BlobUploader) Upload(ctx context.Context, _ uuid.UUID, jobID uuid.UUID, ext, contentType string, r io.Reader) (string, int64, error) {
	key := ArtifactPrefix + jobID.String() + "." + ext
	if contentType == "" {
		contentType = infra.ContentTypeFor(key)
	}
	info, err := u.Store.Put(ctx, key, r, -1, contentType)
	if err != nil {
		return "", 0, err
	}
	return info.Key, info.Size, nil
}

// AMQPReporter publishes reports to the worker report queue. The broker gives
// no directive back, so cancellation reaches the agent through heartbeats.
type AMQPReporter struct {
	Service *produce.WorkerReportService
}

func (r AMQPReporter) Progress(ctx context.Context, report dispatch.ProgressReport) (dispatch.Directive, error) {
	return dispatch.Directive{}, r.Service.PublishProgress(ctx, report)
}

func (r AMQPReporter) Result(ctx context.Context, report dispatch.ResultReport) error {
	return r.Service.PublishResult(ctx, report)
}
