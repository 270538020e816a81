package worker

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"clippay/internal/config"
	"clippay/internal/platform"
	"clippay/internal/queue"
	"clippay/internal/verifier"
	"clippay/internal/webhook"
)

type fakeQueue struct {
	jobs      []queue.Job
	completed []int64
	failed    map[int64]string
	reclaims  int
}

func (f *fakeQueue) ReclaimStale(ctx context.Context, timeout time.Duration) (int64, error) {
	f.reclaims++
	return 0, nil
}

func (f *fakeQueue) DequeueBatch(ctx context.Context, limit, maxRetries int) ([]queue.Job, error) {
	jobs := f.jobs
	f.jobs = nil
	return jobs, nil
}

func (f *fakeQueue) MarkCompleted(ctx context.Context, id int64) error {
	f.completed = append(f.completed, id)
	return nil
}

func (f *fakeQueue) MarkFailed(ctx context.Context, id int64, message string) error {
	if f.failed == nil {
		f.failed = make(map[int64]string)
	}
	f.failed[id] = message
	return nil
}

type fakeVerifier struct {
	result verifier.Result
	calls  int
}

func (f *fakeVerifier) Verify(ctx context.Context, rawURL, taskTitle, taskDesc string) verifier.Result {
	f.calls++
	return f.result
}

type fakeLedger struct {
	reward float64
	err    error
	calls  int
}

func (f *fakeLedger) Commit(ctx context.Context, userID, taskID int64, platform, link string) (float64, error) {
	f.calls++
	return f.reward, f.err
}

type fakeTaskStore struct {
	info TaskInfo
	err  error
}

func (f *fakeTaskStore) TaskInfo(ctx context.Context, taskID int64) (TaskInfo, error) {
	return f.info, f.err
}

type fakeStats struct {
	recorded []platform.Platform
}

func (f *fakeStats) RecordCompletion(ctx context.Context, taskID int64, p platform.Platform, views, likes int64) error {
	f.recorded = append(f.recorded, p)
	return nil
}

type fakeScheduler struct {
	events   []string
	payloads []webhook.Payload
}

func (f *fakeScheduler) Schedule(ctx context.Context, taskID int64, eventType, callbackURL, secret string, payload webhook.Payload) (uuid.UUID, error) {
	f.events = append(f.events, eventType)
	f.payloads = append(f.payloads, payload)
	return uuid.New(), nil
}

type fakeNotifier struct {
	messages []string
}

func (f *fakeNotifier) Notify(ctx context.Context, userID int64, message string) error {
	f.messages = append(f.messages, message)
	return nil
}

type fixture struct {
	worker   *Worker
	queue    *fakeQueue
	verifier *fakeVerifier
	ledger   *fakeLedger
	stats    *fakeStats
	sched    *fakeScheduler
	notifier *fakeNotifier
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	cfg := &config.Config{
		SiteName:      "clippay",
		PollInterval:  5 * time.Millisecond,
		DequeueBatch:  5,
		StaleTimeout:  time.Minute,
		MaxRetries:    3,
		VerifyTimeout: time.Second,
		JobDelayMin:   time.Millisecond,
		JobDelayMax:   2 * time.Millisecond,
	}
	f := &fixture{
		queue:    &fakeQueue{},
		verifier: &fakeVerifier{result: verifier.Result{Success: true, Matched: true}},
		ledger:   &fakeLedger{reward: 10},
		stats:    &fakeStats{},
		sched:    &fakeScheduler{},
		notifier: &fakeNotifier{},
	}
	tasks := &fakeTaskStore{info: TaskInfo{
		TaskID: 7, ProjectID: 1, ExternalID: 70, Duration: 30,
		Title: "dance challenge", Description: "post the dance",
		CallbackURL: "https://platform.example/cb", CallbackSecret: "sec",
	}}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	f.worker = New(cfg, f.queue, f.verifier, f.ledger, tasks, f.stats, f.sched, f.notifier, nil, logger)
	return f
}

func testJob() queue.Job {
	return queue.Job{ID: 1, UserID: 100, TaskID: 7, VideoURL: "https://youtu.be/x", Platform: "youtube"}
}

func TestMatchedJobCommitsAndFansOut(t *testing.T) {
	f := newFixture(t)
	f.worker.processJob(context.Background(), testJob())

	if f.ledger.calls != 1 {
		t.Fatalf("expected one ledger commit, got %d", f.ledger.calls)
	}
	if len(f.queue.completed) != 1 || f.queue.completed[0] != 1 {
		t.Errorf("expected job 1 marked completed, got %v", f.queue.completed)
	}
	if len(f.queue.failed) != 0 {
		t.Errorf("matched job must not be failed: %v", f.queue.failed)
	}
	if len(f.stats.recorded) != 1 || f.stats.recorded[0] != platform.YouTube {
		t.Errorf("expected one youtube stats record, got %v", f.stats.recorded)
	}
	if len(f.notifier.messages) != 1 || !strings.Contains(f.notifier.messages[0], "10.00") {
		t.Errorf("expected success notification with reward, got %v", f.notifier.messages)
	}
	if len(f.sched.events) != 1 || f.sched.events[0] != webhook.EventTaskCompleted {
		t.Fatalf("expected one task.completed delivery, got %v", f.sched.events)
	}
	entry := f.sched.payloads[0].Stats[0]
	if entry.TaskID != 70 || entry.AccountCount != 1 || entry.YTAccountCount != 1 {
		t.Errorf("unexpected webhook entry: %+v", entry)
	}
}

func TestMismatchFailsWithReason(t *testing.T) {
	f := newFixture(t)
	f.verifier.result = verifier.Result{Success: true, Matched: false}

	f.worker.processJob(context.Background(), testJob())

	if f.ledger.calls != 0 {
		t.Error("mismatch must not reach the ledger")
	}
	if msg := f.queue.failed[1]; msg != "content mismatch" {
		t.Errorf("expected content mismatch failure, got %q", msg)
	}
	if len(f.notifier.messages) != 1 || !strings.Contains(f.notifier.messages[0], "content mismatch") {
		t.Errorf("expected rejection notification with reason, got %v", f.notifier.messages)
	}
	if len(f.sched.events) != 0 {
		t.Error("mismatch must not schedule a webhook")
	}
}

func TestFetchFailureFailsJob(t *testing.T) {
	f := newFixture(t)
	f.verifier.result = verifier.Result{Success: false, Err: "timeout"}

	f.worker.processJob(context.Background(), testJob())

	if msg := f.queue.failed[1]; msg != "timeout" {
		t.Errorf("expected timeout failure, got %q", msg)
	}
	if f.ledger.calls != 0 {
		t.Error("fetch failure must not reach the ledger")
	}
}

func TestFetchFailureNotificationIsGeneric(t *testing.T) {
	f := newFixture(t)
	rawErr := `Get "https://youtu.be/x": dial tcp 10.0.0.1:443: connect: connection refused`
	f.verifier.result = verifier.Result{Success: false, Err: rawErr}

	f.worker.processJob(context.Background(), testJob())

	// Operators see the transport error on the job row; users never do.
	if msg := f.queue.failed[1]; msg != rawErr {
		t.Errorf("expected detailed error on the job row, got %q", msg)
	}
	if len(f.notifier.messages) != 1 {
		t.Fatalf("expected one notification, got %d", len(f.notifier.messages))
	}
	got := f.notifier.messages[0]
	if strings.Contains(got, "dial tcp") || strings.Contains(got, "connection refused") {
		t.Errorf("transport error leaked to the user: %q", got)
	}
	if !strings.Contains(got, "try again later") {
		t.Errorf("expected a retry-later message, got %q", got)
	}
}

func TestCommitFailureIsAFault(t *testing.T) {
	f := newFixture(t)
	f.ledger.err = errors.New("deadlock detected")

	f.worker.processJob(context.Background(), testJob())

	if len(f.queue.completed) != 0 {
		t.Error("job must not be completed when the commit fails")
	}
	msg := f.queue.failed[1]
	if !strings.Contains(msg, "reward commit failed") || !strings.Contains(msg, "deadlock detected") {
		t.Errorf("expected commit failure message, got %q", msg)
	}
	if len(f.sched.events) != 0 {
		t.Error("failed commit must not schedule a webhook")
	}
}

func TestMissingTaskSkipsVerification(t *testing.T) {
	f := newFixture(t)
	tasks := &fakeTaskStore{err: ErrTaskNotFound}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	f.worker = New(f.worker.cfg, f.queue, f.verifier, f.ledger, tasks, f.stats, f.sched, f.notifier, nil, logger)

	f.worker.processJob(context.Background(), testJob())

	if f.verifier.calls != 0 {
		t.Error("verification must not run for a missing task")
	}
	if msg := f.queue.failed[1]; !strings.Contains(msg, "no longer exists") {
		t.Errorf("unexpected failure message: %q", msg)
	}
}

func TestRunDrainsOnCancel(t *testing.T) {
	f := newFixture(t)
	f.queue.jobs = []queue.Job{testJob()}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.worker.Run(ctx) }()

	// Give the loop a tick to process the batch, then shut down.
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop after cancel")
	}

	if len(f.queue.completed) != 1 {
		t.Errorf("expected the in-flight job to finish, completed=%v", f.queue.completed)
	}
	if f.queue.reclaims == 0 {
		t.Error("expected at least one reclaim pass")
	}
}
