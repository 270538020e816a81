// Package broadcaster periodically re-reports aggregate task completions to
// platform callbacks. Per-event webhooks remain the primary delivery path;
// the broadcast is reconciliation for platforms that missed or dropped them.
package broadcaster

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"clippay/internal/platform"
	"clippay/internal/stats"
	"clippay/internal/webhook"
)

var (
	ErrAlreadyRunning = errors.New("broadcaster already running")
	ErrNotRunning     = errors.New("broadcaster not running")
)

// Aggregator answers the trailing-window completion query.
type Aggregator interface {
	CompletionsSince(ctx context.Context, window time.Duration) ([]stats.TaskAggregate, error)
}

// DeliveryScheduler enqueues a webhook delivery for the dispatcher to send.
type DeliveryScheduler interface {
	Schedule(ctx context.Context, taskID int64, eventType, callbackURL, secret string, payload webhook.Payload) (uuid.UUID, error)
}

// Broadcaster is a supervised handle around the broadcast loop: Start spawns
// the goroutine, Stop cancels it and waits for the in-flight tick to drain.
type Broadcaster struct {
	stats      Aggregator
	deliveries DeliveryScheduler
	schedule   cron.Schedule
	window     time.Duration
	siteName   string
	logger     *slog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func New(aggregator Aggregator, deliveries DeliveryScheduler, cronExpr string, window time.Duration, siteName string, logger *slog.Logger) (*Broadcaster, error) {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	schedule, err := parser.Parse(cronExpr)
	if err != nil {
		return nil, err
	}
	return &Broadcaster{
		stats:      aggregator,
		deliveries: deliveries,
		schedule:   schedule,
		window:     window,
		siteName:   siteName,
		logger:     logger,
	}, nil
}

func (b *Broadcaster) Start() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.cancel != nil {
		return ErrAlreadyRunning
	}

	ctx, cancel := context.WithCancel(context.Background())
	b.cancel = cancel
	b.done = make(chan struct{})
	go b.run(ctx, b.done)
	b.logger.Info("broadcaster started", "window", b.window)
	return nil
}

func (b *Broadcaster) Stop(ctx context.Context) error {
	b.mu.Lock()
	cancel, done := b.cancel, b.done
	b.cancel, b.done = nil, nil
	b.mu.Unlock()

	if cancel == nil {
		return ErrNotRunning
	}
	cancel()
	select {
	case <-done:
		b.logger.Info("broadcaster stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (b *Broadcaster) Running() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.cancel != nil
}

func (b *Broadcaster) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	for {
		next := b.schedule.Next(time.Now())
		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
		if err := b.BroadcastOnce(ctx); err != nil && !errors.Is(err, context.Canceled) {
			b.logger.Error("stats broadcast failed", "error", err)
		}
	}
}

// BroadcastOnce runs a single broadcast pass: aggregate the trailing window
// and enqueue one stats delivery per task that saw completions.
func (b *Broadcaster) BroadcastOnce(ctx context.Context) error {
	aggs, err := b.stats.CompletionsSince(ctx, b.window)
	if err != nil {
		return err
	}

	scheduled := 0
	for _, agg := range aggs {
		payload := webhook.Payload{
			SiteName: b.siteName,
			Stats:    []webhook.TaskStats{statsEntry(agg)},
		}
		if _, err := b.deliveries.Schedule(ctx, agg.TaskID, webhook.EventStatsBroadcast, agg.CallbackURL, agg.CallbackSecret, payload); err != nil {
			b.logger.Error("failed to schedule stats delivery",
				"task_id", agg.TaskID, "error", err)
			continue
		}
		scheduled++
	}
	if scheduled > 0 {
		b.logger.Info("stats broadcast scheduled", "tasks", scheduled)
	}
	return nil
}

func statsEntry(agg stats.TaskAggregate) webhook.TaskStats {
	entry := webhook.TaskStats{
		ProjectID:    agg.ProjectID,
		TaskID:       agg.ExternalID,
		Duration:     agg.Duration,
		AccountCount: agg.AccountCount,
	}
	if c, ok := agg.Platforms[platform.YouTube]; ok {
		entry.YTAccountCount, entry.YTViewCount, entry.YTLikeCount = c.Accounts, c.Views, c.Likes
	}
	if c, ok := agg.Platforms[platform.TikTok]; ok {
		entry.TTAccountCount, entry.TTViewCount, entry.TTLikeCount = c.Accounts, c.Views, c.Likes
	}
	if c, ok := agg.Platforms[platform.Instagram]; ok {
		entry.IGAccountCount, entry.IGViewCount, entry.IGLikeCount = c.Accounts, c.Views, c.Likes
	}
	return entry
}
