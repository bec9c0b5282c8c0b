package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/tnqbao/gau-music-dispatch/config"
	"github.com/tnqbao/gau-music-dispatch/entity"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []entity.JobStatus
}

func (p *recordingPublisher) PublishJobEvent(_ context.Context, job *entity.Job) error {
	p.mu.Lock()
	p.events = append(p.events, job.Status)
	p.mu.Unlock()
	return nil
}

func testConfig() *config.DispatchConfig {
	cfg := config.DefaultDispatchConfig()
	cfg.QueueCapacity = 10
	cfg.MaxRetries = 1
	cfg.HeartbeatTimeout = 30 * time.Second
	cfg.DeadTimeout = 60 * time.Second
	return cfg
}

func newTestDispatcher(t *testing.T, cfg *config.DispatchConfig) (*Dispatcher, *fakeClock) {
	t.Helper()
	clock := newFakeClock()
	d := New(cfg, Deps{
		Jobs:      NewMemoryJobStore(),
		Queue:     NewMemoryQueue(cfg.QueueCapacity),
		Artifacts: NewMemoryArtifactStore(),
		Clock:     clock.Now,
	})
	return d, clock
}

func submit(t *testing.T, d *Dispatcher, payload string) uuid.UUID {
	t.Helper()
	id, err := d.Submit(context.Background(), entity.JobKindGenerate, []byte(payload))
	if err != nil {
		t.Fatalf("Submit(%s): %v", payload, err)
	}
	return id
}

func register(t *testing.T, d *Dispatcher, capability int) uuid.UUID {
	t.Helper()
	w, err := d.Register(context.Background(), capability, nil)
	if err != nil {
		t.Fatalf("Register(%d): %v", capability, err)
	}
	return w.ID
}

func claim(t *testing.T, d *Dispatcher, workerID uuid.UUID) *Assignment {
	t.Helper()
	a, err := d.ClaimNext(context.Background(), workerID)
	if err != nil {
		t.Fatalf("ClaimNext(%s): %v", workerID, err)
	}
	return a
}

func status(t *testing.T, d *Dispatcher, id uuid.UUID) JobSnapshot {
	t.Helper()
	snap, err := d.GetStatus(context.Background(), id)
	if err != nil {
		t.Fatalf("GetStatus(%s): %v", id, err)
	}
	return snap
}

func TestSubmitReturnsUniquePendingJobs(t *testing.T) {
	cfg := testConfig()
	cfg.QueueCapacity = 100
	d, _ := newTestDispatcher(t, cfg)

	seen := make(map[uuid.UUID]bool)
	for i := 0; i < 50; i++ {
		id := submit(t, d, `{"duration": 60}`)
		if seen[id] {
			t.Fatalf("duplicate job id %s", id)
		}
		seen[id] = true
		if got := status(t, d, id).Status; got != entity.JobStatusPending {
			t.Fatalf("status right after submit = %s, want pending", got)
		}
	}
}

func TestSubmitValidation(t *testing.T) {
	cfg := testConfig()
	cfg.MaxPayloadBytes = 128
	d, _ := newTestDispatcher(t, cfg)

	tests := []struct {
		name    string
		kind    entity.JobKind
		payload string
		field   string
	}{
		{"duration below range", entity.JobKindGenerate, `{"duration": 5}`, "duration"},
		{"duration above range", entity.JobKindGenerate, `{"duration": 601}`, "duration"},
		{"duration not a number", entity.JobKindGenerate, `{"duration": "long"}`, "duration"},
		{"bad enum", entity.JobKindGenerate, `{"audio_format": "ogg"}`, "audio_format"},
		{"not an object", entity.JobKindGenerate, `[1, 2, 3]`, "payload"},
		{"trailing garbage", entity.JobKindGenerate, `{"duration": 60} not-json`, "payload"},
		{"concatenated objects", entity.JobKindGenerate, `{}{}`, "payload"},
		{"object then array", entity.JobKindGenerate, `{"duration": 60} [1]`, "payload"},
		{"empty", entity.JobKindGenerate, ``, "payload"},
		{"unknown kind", entity.JobKind("remix"), `{}`, "kind"},
		{"too large", entity.JobKindGenerate, fmt.Sprintf(`{"prompt": "%0200d"}`, 0), "payload"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := d.Submit(context.Background(), tt.kind, []byte(tt.payload))
			if !errors.Is(err, ErrValidation) {
				t.Fatalf("Submit error = %v, want ErrValidation", err)
			}
			var verr *ValidationError
			if !errors.As(err, &verr) || verr.Field != tt.field {
				t.Fatalf("validation field = %+v, want %s", verr, tt.field)
			}
		})
	}

	if n, _ := d.queue.Len(context.Background()); n != 0 {
		t.Fatalf("rejected submissions reached the queue: %d entries", n)
	}
	submit(t, d, `{"duration": 10, "bpm": 300, "audio_format": "flac", "unknown": true}`)
	submit(t, d, "{\"duration\": 10}\n")
}

func TestQueueOverflowThenClaimFreesCapacity(t *testing.T) {
	cfg := testConfig()
	cfg.QueueCapacity = 2
	d, _ := newTestDispatcher(t, cfg)
	ctx := context.Background()

	submit(t, d, `{"duration": 60}`)
	submit(t, d, `{"duration": 60}`)

	_, err := d.Submit(ctx, entity.JobKindGenerate, []byte(`{"duration": 60}`))
	if !errors.Is(err, ErrOverloaded) {
		t.Fatalf("third submit error = %v, want ErrOverloaded", err)
	}
	failed, _ := d.ListJobs(ctx, JobFilter{Status: entity.JobStatusFailed})
	if len(failed) != 1 || failed[0].ErrorReason != entity.ReasonQueueOverflow {
		t.Fatalf("overflowed job not recorded as queue_overflow: %+v", failed)
	}

	w := register(t, d, 1)
	if a := claim(t, d, w); a == nil {
		t.Fatalf("expected a claim")
	}
	submit(t, d, `{"duration": 60}`)
}

type unreachableQueue struct {
	*MemoryQueue
}

func (unreachableQueue) Enqueue(context.Context, entity.QueueEntry) error {
	return errors.New("dial tcp: connection refused")
}

func TestSubmitRecordsEnqueueFailure(t *testing.T) {
	cfg := testConfig()
	d := New(cfg, Deps{
		Jobs:      NewMemoryJobStore(),
		Queue:     unreachableQueue{NewMemoryQueue(cfg.QueueCapacity)},
		Artifacts: NewMemoryArtifactStore(),
	})
	ctx := context.Background()

	_, err := d.Submit(ctx, entity.JobKindGenerate, []byte(`{"duration": 60}`))
	if err == nil || errors.Is(err, ErrOverloaded) {
		t.Fatalf("Submit error = %v, want infrastructure error", err)
	}
	failed, _ := d.ListJobs(ctx, JobFilter{Status: entity.JobStatusFailed})
	if len(failed) != 1 || failed[0].ErrorReason != entity.ReasonEnqueueFailed || failed[0].ErrorDetail == "" {
		t.Fatalf("enqueue failure not recorded: %+v", failed)
	}
}

func TestSubmitClaimSucceedScenario(t *testing.T) {
	pub := &recordingPublisher{}
	cfg := testConfig()
	clock := newFakeClock()
	d := New(cfg, Deps{
		Jobs:      NewMemoryJobStore(),
		Queue:     NewMemoryQueue(cfg.QueueCapacity),
		Artifacts: NewMemoryArtifactStore(),
		Events:    pub,
		Clock:     clock.Now,
	})
	ctx := context.Background()

	j1 := submit(t, d, `{"duration": 60}`)
	if got := status(t, d, j1).Status; got != entity.JobStatusPending {
		t.Fatalf("J1 status = %s, want pending", got)
	}

	w1 := register(t, d, 1)
	a := claim(t, d, w1)
	if a == nil || a.JobID != j1 {
		t.Fatalf("claim = %+v, want J1", a)
	}
	snap := status(t, d, j1)
	if snap.Status != entity.JobStatusProcessing || snap.WorkerID == nil || *snap.WorkerID != w1 {
		t.Fatalf("after claim: %+v", snap)
	}

	if err := d.ReportResult(ctx, ResultReport{JobID: j1, WorkerID: w1, Success: true, Location: "out/J1.wav"}); err != nil {
		t.Fatalf("ReportResult: %v", err)
	}
	snap = status(t, d, j1)
	if snap.Status != entity.JobStatusSuccess || snap.ResultRef != "out/J1.wav" || snap.FinishedAt == nil {
		t.Fatalf("after success: %+v", snap)
	}
	art, err := d.GetArtifact(ctx, j1)
	if err != nil || art.Location != "out/J1.wav" {
		t.Fatalf("GetArtifact = %+v, %v", art, err)
	}

	worker, _ := d.Pool().Get(w1)
	if len(worker.Assignments) != 0 || worker.FreeSlots() != 1 {
		t.Fatalf("slot not released: %+v", worker)
	}

	want := []entity.JobStatus{entity.JobStatusPending, entity.JobStatusProcessing, entity.JobStatusSuccess}
	if fmt.Sprint(pub.events) != fmt.Sprint(want) {
		t.Fatalf("events = %v, want %v", pub.events, want)
	}
}

func TestCancelPendingIsNeverClaimed(t *testing.T) {
	d, _ := newTestDispatcher(t, testConfig())
	ctx := context.Background()

	j1 := submit(t, d, `{"duration": 60}`)
	ok, err := d.Cancel(ctx, j1)
	if err != nil || !ok {
		t.Fatalf("Cancel = %v, %v", ok, err)
	}
	snap := status(t, d, j1)
	if snap.Status != entity.JobStatusFailed || snap.ErrorReason != entity.ReasonCancelled {
		t.Fatalf("after cancel: %+v", snap)
	}
	if !errors.Is(snap.Err(), ErrCancelled) {
		t.Fatalf("snapshot error = %v, want ErrCancelled", snap.Err())
	}

	for i := 0; i < 3; i++ {
		w := register(t, d, 1)
		if a := claim(t, d, w); a != nil {
			t.Fatalf("cancelled job was claimed: %+v", a)
		}
	}
}

func TestCancelProcessingIsCooperative(t *testing.T) {
	d, _ := newTestDispatcher(t, testConfig())
	ctx := context.Background()

	j := submit(t, d, `{"duration": 60}`)
	w := register(t, d, 1)
	a := claim(t, d, w)

	ok, err := d.Cancel(ctx, j)
	if err != nil || !ok {
		t.Fatalf("Cancel = %v, %v", ok, err)
	}
	snap := status(t, d, j)
	if snap.Status != entity.JobStatusProcessing || !snap.CancelRequested {
		t.Fatalf("cancel should only flag a processing job: %+v", snap)
	}

	ack, err := d.Heartbeat(ctx, w)
	if err != nil {
		t.Fatalf("Heartbeat: %v", err)
	}
	if len(ack.Cancel) != 1 || ack.Cancel[0] != j {
		t.Fatalf("heartbeat cancel list = %v", ack.Cancel)
	}

	dir, err := d.ReportProgress(ctx, ProgressReport{JobID: j, WorkerID: w, Attempt: a.Attempt, State: entity.JobStatusProcessing, Detail: "step 3/8"})
	if err != nil || !dir.Cancel {
		t.Fatalf("progress directive = %+v, %v", dir, err)
	}

	if err := d.ReportResult(ctx, ResultReport{JobID: j, WorkerID: w, Error: "stopped at checkpoint"}); err != nil {
		t.Fatalf("ReportResult: %v", err)
	}
	snap = status(t, d, j)
	if snap.Status != entity.JobStatusFailed || snap.ErrorReason != entity.ReasonCancelled || snap.ErrorDetail != "stopped at checkpoint" {
		t.Fatalf("after cancelled failure: %+v", snap)
	}

	ok, err = d.Cancel(ctx, j)
	if err != nil || ok {
		t.Fatalf("Cancel on terminal job = %v, %v; want false", ok, err)
	}
}

func TestStaleReportsConflict(t *testing.T) {
	d, _ := newTestDispatcher(t, testConfig())
	ctx := context.Background()

	j := submit(t, d, `{"duration": 60}`)
	w1 := register(t, d, 1)
	w2 := register(t, d, 1)
	a := claim(t, d, w1)

	_, err := d.ReportProgress(ctx, ProgressReport{JobID: j, WorkerID: w2, State: entity.JobStatusProcessing})
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("foreign worker progress = %v, want ErrConflict", err)
	}
	err = d.ReportResult(ctx, ResultReport{JobID: j, WorkerID: w1, Attempt: a.Attempt + 1, Success: true, Location: "out/x.wav"})
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("wrong attempt result = %v, want ErrConflict", err)
	}
	if _, err := d.GetArtifact(ctx, j); !errors.Is(err, ErrNotFound) {
		t.Fatalf("stale result must not register an artifact: %v", err)
	}

	if _, err := d.ReportProgress(ctx, ProgressReport{JobID: uuid.New(), WorkerID: w1, State: entity.JobStatusProcessing}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("unknown job progress = %v, want ErrNotFound", err)
	}
	if _, err := d.ReportProgress(ctx, ProgressReport{JobID: j, WorkerID: w1, State: entity.JobStatusPending}); !errors.Is(err, ErrValidation) {
		t.Fatalf("pending report = %v, want ErrValidation", err)
	}
}

func TestTerminalStatusIsNeverOverwritten(t *testing.T) {
	d, _ := newTestDispatcher(t, testConfig())
	ctx := context.Background()

	j := submit(t, d, `{"duration": 60}`)
	w := register(t, d, 1)
	claim(t, d, w)

	if _, err := d.ReportProgress(ctx, ProgressReport{JobID: j, WorkerID: w, State: entity.JobStatusSuccess, Detail: "out/a.wav"}); err != nil {
		t.Fatalf("success via progress: %v", err)
	}
	before := status(t, d, j)

	if _, err := d.ReportProgress(ctx, ProgressReport{JobID: j, WorkerID: w, State: entity.JobStatusProcessing}); !errors.Is(err, ErrConflict) {
		t.Fatalf("late progress = %v, want ErrConflict", err)
	}
	if err := d.ReportResult(ctx, ResultReport{JobID: j, WorkerID: w, Error: "boom"}); !errors.Is(err, ErrConflict) {
		t.Fatalf("late failure = %v, want ErrConflict", err)
	}
	if err := d.ReportResult(ctx, ResultReport{JobID: j, WorkerID: w, Success: true, Location: "out/b.wav"}); !errors.Is(err, ErrConflict) {
		t.Fatalf("duplicate success = %v, want ErrConflict", err)
	}
	if ok, _ := d.Cancel(ctx, j); ok {
		t.Fatalf("cancel of a successful job returned true")
	}
	if err := d.Deregister(ctx, w); err != nil {
		t.Fatalf("Deregister: %v", err)
	}

	after := status(t, d, j)
	if after.Status != entity.JobStatusSuccess || after.Revision != before.Revision || after.ResultRef != "out/a.wav" {
		t.Fatalf("terminal job changed: before %+v after %+v", before, after)
	}
}

func TestWorkerLostRequeuesAtHeadThenFails(t *testing.T) {
	d, clock := newTestDispatcher(t, testConfig())
	ctx := context.Background()

	j := submit(t, d, `{"duration": 60}`)
	j2 := submit(t, d, `{"duration": 30}`)
	w1 := register(t, d, 1)
	if a := claim(t, d, w1); a.JobID != j {
		t.Fatalf("first claim = %s, want %s", a.JobID, j)
	}

	clock.Advance(61 * time.Second)
	if err := d.Reap(ctx); err != nil {
		t.Fatalf("Reap: %v", err)
	}
	snap := status(t, d, j)
	if snap.Status != entity.JobStatusPending || snap.Retries != 1 || snap.WorkerID != nil {
		t.Fatalf("after first loss: %+v", snap)
	}
	if _, err := d.Pool().Get(w1); !errors.Is(err, ErrNotFound) {
		t.Fatalf("dead worker still registered: %v", err)
	}

	// A late report from the dead worker must not resurrect the job.
	if _, err := d.ReportProgress(ctx, ProgressReport{JobID: j, WorkerID: w1, State: entity.JobStatusProcessing}); !errors.Is(err, ErrConflict) {
		t.Fatalf("report from dead worker = %v, want ErrConflict", err)
	}

	w2 := register(t, d, 1)
	a := claim(t, d, w2)
	if a == nil || a.JobID != j || a.Attempt != 2 || a.Retries != 1 {
		t.Fatalf("requeued job not at head: %+v (j2=%s)", a, j2)
	}

	clock.Advance(61 * time.Second)
	if err := d.Reap(ctx); err != nil {
		t.Fatalf("Reap: %v", err)
	}
	snap = status(t, d, j)
	if snap.Status != entity.JobStatusFailed || snap.ErrorReason != entity.ReasonWorkerLost {
		t.Fatalf("after second loss: %+v", snap)
	}
	if !errors.Is(snap.Err(), ErrWorkerLost) {
		t.Fatalf("snapshot error = %v, want ErrWorkerLost", snap.Err())
	}
}

func TestWorkerLostWithCancellationFinalizesCancelled(t *testing.T) {
	d, clock := newTestDispatcher(t, testConfig())
	ctx := context.Background()

	j := submit(t, d, `{"duration": 60}`)
	w := register(t, d, 1)
	claim(t, d, w)
	if _, err := d.Cancel(ctx, j); err != nil {
		t.Fatalf("Cancel: %v", err)
	}

	clock.Advance(2 * time.Minute)
	if err := d.Reap(ctx); err != nil {
		t.Fatalf("Reap: %v", err)
	}
	if snap := status(t, d, j); snap.Status != entity.JobStatusFailed || snap.ErrorReason != entity.ReasonCancelled {
		t.Fatalf("cancel-requested job of a dead worker: %+v", snap)
	}
}

func TestReaperMarksSuspectBeforeDead(t *testing.T) {
	d, clock := newTestDispatcher(t, testConfig())
	ctx := context.Background()
	w := register(t, d, 1)

	clock.Advance(31 * time.Second)
	if err := d.Reap(ctx); err != nil {
		t.Fatalf("Reap: %v", err)
	}
	worker, err := d.Pool().Get(w)
	if err != nil || worker.Liveness != entity.WorkerSuspect {
		t.Fatalf("worker = %+v, %v; want suspect", worker, err)
	}

	ack, err := d.Heartbeat(ctx, w)
	if err != nil || ack.Liveness != entity.WorkerAlive {
		t.Fatalf("heartbeat = %+v, %v; want alive", ack, err)
	}

	clock.Advance(61 * time.Second)
	_ = d.Reap(ctx)
	if _, err := d.Heartbeat(ctx, w); !errors.Is(err, ErrNotFound) {
		t.Fatalf("heartbeat after death = %v, want ErrNotFound", err)
	}
}

func TestClaimRevalidatesLiveness(t *testing.T) {
	d, clock := newTestDispatcher(t, testConfig())
	ctx := context.Background()

	j := submit(t, d, `{"duration": 60}`)
	w := register(t, d, 1)
	clock.Advance(90 * time.Second)

	if _, err := d.ClaimNext(ctx, w); !errors.Is(err, ErrWorkerLost) {
		t.Fatalf("claim by silent worker = %v, want ErrWorkerLost", err)
	}
	if snap := status(t, d, j); snap.Status != entity.JobStatusPending {
		t.Fatalf("job touched by rejected claim: %+v", snap)
	}
	if n, _ := d.queue.Len(ctx); n != 1 {
		t.Fatalf("queue depth = %d, want 1", n)
	}
}

func TestSilentWorkerIsNotRevivedByHeartbeatOrProgress(t *testing.T) {
	d, clock := newTestDispatcher(t, testConfig())
	ctx := context.Background()

	j := submit(t, d, `{"duration": 60}`)
	w := register(t, d, 1)
	a := claim(t, d, w)
	clock.Advance(90 * time.Second)

	if _, err := d.Heartbeat(ctx, w); !errors.Is(err, ErrWorkerLost) {
		t.Fatalf("heartbeat from silent worker = %v, want ErrWorkerLost", err)
	}
	if _, err := d.ReportProgress(ctx, ProgressReport{JobID: j, WorkerID: w, Attempt: a.Attempt, Detail: "generating"}); !errors.Is(err, ErrWorkerLost) {
		t.Fatalf("progress from silent worker = %v, want ErrWorkerLost", err)
	}

	if err := d.Reap(ctx); err != nil {
		t.Fatalf("Reap: %v", err)
	}
	if snap := status(t, d, j); snap.Status != entity.JobStatusPending || snap.Retries != 1 {
		t.Fatalf("job of silent worker after reap: %+v", snap)
	}
	if _, err := d.Heartbeat(ctx, w); !errors.Is(err, ErrNotFound) {
		t.Fatalf("heartbeat after reap = %v, want ErrNotFound", err)
	}
}

func TestLateResultFromSilentWorkerStillBound(t *testing.T) {
	d, clock := newTestDispatcher(t, testConfig())
	ctx := context.Background()

	j := submit(t, d, `{"duration": 60}`)
	w := register(t, d, 1)
	a := claim(t, d, w)
	clock.Advance(90 * time.Second)

	if err := d.ReportResult(ctx, ResultReport{JobID: j, WorkerID: w, Attempt: a.Attempt, Success: true, Location: "out/late.wav"}); err != nil {
		t.Fatalf("result while still bound: %v", err)
	}
	if snap := status(t, d, j); snap.Status != entity.JobStatusSuccess {
		t.Fatalf("job after late result: %+v", snap)
	}
	if _, err := d.Heartbeat(ctx, w); !errors.Is(err, ErrWorkerLost) {
		t.Fatalf("result revived the worker: heartbeat = %v", err)
	}
}

func TestConcurrentClaimsAreExclusive(t *testing.T) {
	cfg := testConfig()
	cfg.QueueCapacity = 200
	cfg.MaxCapability = 32
	d, _ := newTestDispatcher(t, cfg)

	const jobs = 150
	for i := 0; i < jobs; i++ {
		submit(t, d, `{"duration": 60}`)
	}

	var (
		mu      sync.Mutex
		claimed = make(map[uuid.UUID]uuid.UUID)
		wg      sync.WaitGroup
		dupes   []uuid.UUID
	)
	for i := 0; i < 8; i++ {
		w := register(t, d, 32)
		wg.Add(1)
		go func(w uuid.UUID) {
			defer wg.Done()
			for {
				a, err := d.ClaimNext(context.Background(), w)
				if err != nil {
					t.Errorf("ClaimNext: %v", err)
					return
				}
				if a == nil {
					return
				}
				mu.Lock()
				if _, ok := claimed[a.JobID]; ok {
					dupes = append(dupes, a.JobID)
				}
				claimed[a.JobID] = w
				mu.Unlock()
			}
		}(w)
	}
	wg.Wait()

	if len(dupes) > 0 {
		t.Fatalf("jobs claimed twice: %v", dupes)
	}
	if len(claimed) != jobs {
		t.Fatalf("claimed %d jobs, want %d", len(claimed), jobs)
	}
	for jobID, w := range claimed {
		snap := status(t, d, jobID)
		if snap.Status != entity.JobStatusProcessing || *snap.WorkerID != w {
			t.Fatalf("job %s: %+v, want processing on %s", jobID, snap, w)
		}
	}
	if d.locks.size() != 0 {
		t.Fatalf("job locks leaked: %d", d.locks.size())
	}
}

func TestCapabilityLimitsClaims(t *testing.T) {
	d, _ := newTestDispatcher(t, testConfig())
	ctx := context.Background()

	if _, err := d.Register(ctx, 9, nil); !errors.Is(err, ErrValidation) {
		t.Fatalf("register above max capability = %v, want ErrValidation", err)
	}

	for i := 0; i < 3; i++ {
		submit(t, d, `{"duration": 60}`)
	}
	w := register(t, d, 2)
	first := claim(t, d, w)
	second := claim(t, d, w)
	if first == nil || second == nil {
		t.Fatalf("worker with capability 2 should claim twice")
	}
	if a := claim(t, d, w); a != nil {
		t.Fatalf("third claim exceeded capability: %+v", a)
	}

	if err := d.ReportResult(ctx, ResultReport{JobID: first.JobID, WorkerID: w, Success: true, Location: "out/1.wav"}); err != nil {
		t.Fatalf("ReportResult: %v", err)
	}
	if a := claim(t, d, w); a == nil {
		t.Fatalf("freed slot not reusable")
	}
}

func TestPutArtifactIsWriteOnce(t *testing.T) {
	d, _ := newTestDispatcher(t, testConfig())
	ctx := context.Background()
	id := uuid.New()

	if err := d.PutArtifact(ctx, &entity.Artifact{JobID: id, Location: "out/first.wav", Size: 10, ContentType: "audio/wav"}); err != nil {
		t.Fatalf("first PutArtifact: %v", err)
	}
	err := d.PutArtifact(ctx, &entity.Artifact{JobID: id, Location: "out/second.wav"})
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("second PutArtifact = %v, want ErrConflict", err)
	}
	art, err := d.GetArtifact(ctx, id)
	if err != nil || art.Location != "out/first.wav" || art.Size != 10 {
		t.Fatalf("GetArtifact = %+v, %v", art, err)
	}
	if _, err := d.GetArtifact(ctx, uuid.New()); !errors.Is(err, ErrNotFound) {
		t.Fatalf("unknown artifact = %v, want ErrNotFound", err)
	}
}

func TestSuccessKeepsPreviouslyRegisteredArtifact(t *testing.T) {
	d, _ := newTestDispatcher(t, testConfig())
	ctx := context.Background()

	j := submit(t, d, `{"duration": 60}`)
	w := register(t, d, 1)
	claim(t, d, w)

	if err := d.PutArtifact(ctx, &entity.Artifact{JobID: j, Location: "out/original.wav"}); err != nil {
		t.Fatalf("PutArtifact: %v", err)
	}
	if err := d.ReportResult(ctx, ResultReport{JobID: j, WorkerID: w, Success: true, Location: "out/retry.wav"}); err != nil {
		t.Fatalf("ReportResult: %v", err)
	}
	if snap := status(t, d, j); snap.ResultRef != "out/original.wav" {
		t.Fatalf("result ref = %s, want the first artifact", snap.ResultRef)
	}
}

func TestJobTimeout(t *testing.T) {
	cfg := testConfig()
	cfg.JobTimeout = time.Minute
	d, clock := newTestDispatcher(t, cfg)
	ctx := context.Background()

	j := submit(t, d, `{"duration": 60}`)
	w := register(t, d, 1)
	claim(t, d, w)

	for i := 0; i < 3; i++ {
		clock.Advance(25 * time.Second)
		if _, err := d.Heartbeat(ctx, w); err != nil {
			t.Fatalf("Heartbeat: %v", err)
		}
	}
	if err := d.Reap(ctx); err != nil {
		t.Fatalf("Reap: %v", err)
	}

	snap := status(t, d, j)
	if snap.Status != entity.JobStatusFailed || snap.ErrorReason != entity.ReasonTimeout {
		t.Fatalf("after timeout: %+v", snap)
	}
	if err := d.ReportResult(ctx, ResultReport{JobID: j, WorkerID: w, Success: true, Location: "out/late.wav"}); !errors.Is(err, ErrConflict) {
		t.Fatalf("late success after timeout = %v, want ErrConflict", err)
	}
	worker, _ := d.Pool().Get(w)
	if worker.FreeSlots() != 1 {
		t.Fatalf("timed out job still holds a slot: %+v", worker)
	}
}

func TestDeregisterRequeuesInFlightJobs(t *testing.T) {
	d, _ := newTestDispatcher(t, testConfig())
	ctx := context.Background()

	j := submit(t, d, `{"duration": 60}`)
	w := register(t, d, 1)
	claim(t, d, w)

	if err := d.Deregister(ctx, w); err != nil {
		t.Fatalf("Deregister: %v", err)
	}
	if snap := status(t, d, j); snap.Status != entity.JobStatusPending || snap.Retries != 1 {
		t.Fatalf("after deregister: %+v", snap)
	}
	if err := d.Deregister(ctx, w); !errors.Is(err, ErrNotFound) {
		t.Fatalf("second Deregister = %v, want ErrNotFound", err)
	}
	if _, err := d.ClaimNext(ctx, w); !errors.Is(err, ErrNotFound) {
		t.Fatalf("claim by deregistered worker = %v, want ErrNotFound", err)
	}
}

func TestOverview(t *testing.T) {
	d, _ := newTestDispatcher(t, testConfig())
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		submit(t, d, `{"duration": 60}`)
	}
	w := register(t, d, 2)
	register(t, d, 1)
	claim(t, d, w)
	if err := d.SetDesiredWorkerCount(ctx, 4); err != nil {
		t.Fatalf("SetDesiredWorkerCount: %v", err)
	}
	if err := d.SetDesiredWorkerCount(ctx, -1); !errors.Is(err, ErrValidation) {
		t.Fatalf("negative desired count = %v, want ErrValidation", err)
	}

	o, err := d.Overview(ctx)
	if err != nil {
		t.Fatalf("Overview: %v", err)
	}
	if o.QueueDepth != 2 || o.QueueCapacity != 10 {
		t.Fatalf("queue = %d/%d", o.QueueDepth, o.QueueCapacity)
	}
	if o.DesiredWorkers != 4 || o.ObservedWorkers != 2 || o.AliveWorkers != 2 {
		t.Fatalf("workers = desired %d observed %d alive %d", o.DesiredWorkers, o.ObservedWorkers, o.AliveWorkers)
	}
	if o.TotalSlots != 3 || o.BusySlots != 1 || o.FreeSlots != 2 {
		t.Fatalf("slots = total %d busy %d free %d", o.TotalSlots, o.BusySlots, o.FreeSlots)
	}
	if o.Jobs[entity.JobStatusPending] != 2 || o.Jobs[entity.JobStatusProcessing] != 1 || o.Jobs[entity.JobStatusSuccess] != 0 {
		t.Fatalf("job counts = %v", o.Jobs)
	}

	pending, err := d.ListJobs(ctx, JobFilter{Status: entity.JobStatusPending, Limit: 1})
	if err != nil || len(pending) != 1 {
		t.Fatalf("ListJobs = %d, %v", len(pending), err)
	}
	if _, err := d.ListJobs(ctx, JobFilter{Status: "done"}); !errors.Is(err, ErrValidation) {
		t.Fatalf("unknown status filter = %v, want ErrValidation", err)
	}
}
