package broadcaster

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"clippay/internal/platform"
	"clippay/internal/stats"
	"clippay/internal/webhook"
)

type fakeAggregator struct {
	aggs []stats.TaskAggregate
	err  error
}

func (f *fakeAggregator) CompletionsSince(ctx context.Context, window time.Duration) ([]stats.TaskAggregate, error) {
	return f.aggs, f.err
}

type fakeScheduler struct {
	mu        sync.Mutex
	scheduled []webhook.Payload
	events    []string
	failFor   int64
}

func (f *fakeScheduler) Schedule(ctx context.Context, taskID int64, eventType, callbackURL, secret string, payload webhook.Payload) (uuid.UUID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if taskID == f.failFor {
		return uuid.Nil, errors.New("schedule failed")
	}
	f.scheduled = append(f.scheduled, payload)
	f.events = append(f.events, eventType)
	return uuid.New(), nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestBroadcaster(t *testing.T, aggr Aggregator, sched DeliveryScheduler) *Broadcaster {
	t.Helper()
	b, err := New(aggr, sched, "0 * * * *", time.Hour, "clippay", discardLogger())
	if err != nil {
		t.Fatal(err)
	}
	return b
}

func TestStartStopLifecycle(t *testing.T) {
	b := newTestBroadcaster(t, &fakeAggregator{}, &fakeScheduler{})

	if b.Running() {
		t.Fatal("expected not running before Start")
	}
	if err := b.Start(); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	if !b.Running() {
		t.Fatal("expected running after Start")
	}
	if err := b.Start(); !errors.Is(err, ErrAlreadyRunning) {
		t.Fatalf("expected ErrAlreadyRunning on double start, got %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := b.Stop(ctx); err != nil {
		t.Fatalf("stop failed: %v", err)
	}
	if b.Running() {
		t.Fatal("expected not running after Stop")
	}
	if err := b.Stop(ctx); !errors.Is(err, ErrNotRunning) {
		t.Fatalf("expected ErrNotRunning on second stop, got %v", err)
	}
}

func TestNewRejectsBadCronExpr(t *testing.T) {
	if _, err := New(&fakeAggregator{}, &fakeScheduler{}, "not a cron expr", time.Hour, "clippay", discardLogger()); err == nil {
		t.Fatal("expected error for invalid cron expression")
	}
}

func TestBroadcastOnceSchedulesPerTask(t *testing.T) {
	aggr := &fakeAggregator{aggs: []stats.TaskAggregate{
		{
			TaskID: 1, ProjectID: 10, ExternalID: 100, Duration: 30,
			CallbackURL: "https://a.example/cb", CallbackSecret: "s1",
			AccountCount: 3,
			Platforms: map[platform.Platform]stats.PlatformCounts{
				platform.YouTube: {Accounts: 2, Views: 140, Likes: 14},
				platform.TikTok:  {Accounts: 1, Views: 20, Likes: 2},
			},
		},
		{
			TaskID: 2, ProjectID: 11, ExternalID: 200,
			CallbackURL: "https://b.example/cb", CallbackSecret: "s2",
			AccountCount: 1,
			Platforms: map[platform.Platform]stats.PlatformCounts{
				platform.Instagram: {Accounts: 1, Views: 7, Likes: 1},
			},
		},
	}}
	sched := &fakeScheduler{failFor: -1}
	b := newTestBroadcaster(t, aggr, sched)

	if err := b.BroadcastOnce(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(sched.scheduled) != 2 {
		t.Fatalf("expected 2 deliveries, got %d", len(sched.scheduled))
	}
	for _, event := range sched.events {
		if event != webhook.EventStatsBroadcast {
			t.Errorf("expected %q event, got %q", webhook.EventStatsBroadcast, event)
		}
	}

	first := sched.scheduled[0].Stats[0]
	if first.TaskID != 100 {
		t.Errorf("payload task_id should be the external id, got %d", first.TaskID)
	}
	if first.AccountCount != 3 || first.YTAccountCount != 2 || first.YTViewCount != 140 || first.TTAccountCount != 1 {
		t.Errorf("unexpected platform split: %+v", first)
	}
	if first.IGAccountCount != 0 {
		t.Errorf("instagram counters should be zero for task 1, got %+v", first)
	}

	second := sched.scheduled[1].Stats[0]
	if second.IGViewCount != 7 || second.IGLikeCount != 1 {
		t.Errorf("unexpected instagram counts: %+v", second)
	}
}

func TestBroadcastOnceContinuesPastScheduleFailure(t *testing.T) {
	aggr := &fakeAggregator{aggs: []stats.TaskAggregate{
		{TaskID: 1, CallbackURL: "https://a.example/cb"},
		{TaskID: 2, CallbackURL: "https://b.example/cb"},
	}}
	sched := &fakeScheduler{failFor: 1}
	b := newTestBroadcaster(t, aggr, sched)

	if err := b.BroadcastOnce(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(sched.scheduled) != 1 {
		t.Fatalf("expected the second task still scheduled, got %d deliveries", len(sched.scheduled))
	}
}

func TestBroadcastOncePropagatesQueryError(t *testing.T) {
	aggr := &fakeAggregator{err: errors.New("db down")}
	b := newTestBroadcaster(t, aggr, &fakeScheduler{})

	if err := b.BroadcastOnce(context.Background()); err == nil {
		t.Fatal("expected aggregation error to propagate")
	}
}
