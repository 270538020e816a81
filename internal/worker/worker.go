// Package worker drains the verification queue: fetch and match each
// submitted link, commit rewards for matches, and fan out the side effects.
// A single consumer processes jobs sequentially with a randomized pause
// between them so bursts do not hammer the target platforms.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"github.com/google/uuid"

	"clippay/internal/config"
	"clippay/internal/events"
	"clippay/internal/notify"
	"clippay/internal/platform"
	"clippay/internal/queue"
	"clippay/internal/verifier"
	"clippay/internal/webhook"
)

// Queue is the job-store surface the worker drives.
type Queue interface {
	ReclaimStale(ctx context.Context, timeout time.Duration) (int64, error)
	DequeueBatch(ctx context.Context, limit, maxRetries int) ([]queue.Job, error)
	MarkCompleted(ctx context.Context, id int64) error
	MarkFailed(ctx context.Context, id int64, message string) error
}

// Verifier decides whether a submitted link matches the task content.
type Verifier interface {
	Verify(ctx context.Context, rawURL, taskTitle, taskDesc string) verifier.Result
}

// Ledger commits the reward for a verified completion.
type Ledger interface {
	Commit(ctx context.Context, userID, taskID int64, platform, link string) (float64, error)
}

// TaskStore looks up the task a job verifies against.
type TaskStore interface {
	TaskInfo(ctx context.Context, taskID int64) (TaskInfo, error)
}

// StatsRecorder bumps the daily completion aggregates.
type StatsRecorder interface {
	RecordCompletion(ctx context.Context, taskID int64, p platform.Platform, views, likes int64) error
}

// DeliveryScheduler enqueues the per-completion webhook.
type DeliveryScheduler interface {
	Schedule(ctx context.Context, taskID int64, eventType, callbackURL, secret string, payload webhook.Payload) (uuid.UUID, error)
}

type Worker struct {
	cfg        *config.Config
	queue      Queue
	verifier   Verifier
	ledger     Ledger
	tasks      TaskStore
	stats      StatsRecorder
	deliveries DeliveryScheduler
	notifier   notify.Notifier
	events     events.Publisher
	logger     *slog.Logger
}

func New(cfg *config.Config, q Queue, v Verifier, l Ledger, tasks TaskStore,
	stats StatsRecorder, deliveries DeliveryScheduler, notifier notify.Notifier,
	publisher events.Publisher, logger *slog.Logger) *Worker {
	if publisher == nil {
		publisher = events.NoopPublisher{}
	}
	return &Worker{
		cfg:        cfg,
		queue:      q,
		verifier:   v,
		ledger:     l,
		tasks:      tasks,
		stats:      stats,
		deliveries: deliveries,
		notifier:   notifier,
		events:     publisher,
		logger:     logger,
	}
}

// Run polls until the context is canceled. Shutdown is observed between
// cycles and between jobs; an in-flight verification finishes before return.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Info("worker started",
		"poll_interval", w.cfg.PollInterval, "batch", w.cfg.DequeueBatch)

	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("worker stopped")
			return nil
		case <-ticker.C:
			w.runCycle(ctx)
		}
	}
}

func (w *Worker) runCycle(ctx context.Context) {
	reclaimed, err := w.queue.ReclaimStale(ctx, w.cfg.StaleTimeout)
	if err != nil {
		w.logger.Error("stale reclaim failed", "error", err)
	} else if reclaimed > 0 {
		jobsReclaimed.Add(float64(reclaimed))
		w.logger.Warn("reclaimed stale jobs", "count", reclaimed)
	}

	jobs, err := w.queue.DequeueBatch(ctx, w.cfg.DequeueBatch, w.cfg.MaxRetries)
	if err != nil {
		w.logger.Error("dequeue failed", "error", err)
		return
	}

	for i, job := range jobs {
		if ctx.Err() != nil {
			return
		}
		if i > 0 {
			if !w.pause(ctx) {
				return
			}
		}
		w.processJob(ctx, job)
	}
}

// pause sleeps a random interval between jobs. Returns false if the context
// was canceled while waiting.
func (w *Worker) pause(ctx context.Context) bool {
	spread := w.cfg.JobDelayMax - w.cfg.JobDelayMin
	delay := w.cfg.JobDelayMin
	if spread > 0 {
		delay += time.Duration(rand.Int63n(int64(spread)))
	}
	select {
	case <-ctx.Done():
		return false
	case <-time.After(delay):
		return true
	}
}

func (w *Worker) processJob(ctx context.Context, job queue.Job) {
	logger := w.logger.With("job_id", job.ID, "user_id", job.UserID, "task_id", job.TaskID)
	logger.Info("processing job", "retry_count", job.RetryCount)

	info, err := w.tasks.TaskInfo(ctx, job.TaskID)
	if errors.Is(err, ErrTaskNotFound) {
		jobsProcessed.WithLabelValues(outcomeTaskMissing).Inc()
		w.failJob(job, "the task no longer exists", logger)
		return
	}
	if err != nil {
		logger.Error("task lookup failed", "error", err)
		w.failJob(job, "internal error, the submission will be retried", logger)
		return
	}

	vctx, cancel := context.WithTimeout(ctx, w.cfg.VerifyTimeout)
	start := time.Now()
	result := w.verifier.Verify(vctx, job.VideoURL, info.Title, info.Description)
	verifyDuration.Observe(time.Since(start).Seconds())
	cancel()

	switch {
	case !result.Success:
		reason := result.Err
		if reason == "" {
			reason = "the page could not be fetched"
		}
		// The detailed error goes to the job row and the log for operators;
		// users get a generic retry-later message, never transport errors.
		logger.Warn("verification fetch failed", "error", reason)
		jobsProcessed.WithLabelValues(outcomeFetchError).Inc()
		w.failJob(job, reason, logger)
		w.notifyUser(job.UserID, notify.VerificationUnavailable(), logger)

	case !result.Matched:
		jobsProcessed.WithLabelValues(outcomeMismatch).Inc()
		w.failJob(job, "content mismatch", logger)
		w.notifyUser(job.UserID, notify.VerificationFailed("content mismatch"), logger)

	default:
		w.completeJob(ctx, job, info, logger)
	}
}

func (w *Worker) completeJob(ctx context.Context, job queue.Job, info TaskInfo, logger *slog.Logger) {
	reward, err := w.ledger.Commit(ctx, job.UserID, job.TaskID, job.Platform, job.VideoURL)
	if err != nil {
		// A commit failure is a real fault, not a verification rejection.
		logger.Error("reward commit failed", "error", err)
		jobsProcessed.WithLabelValues(outcomeCommitError).Inc()
		w.failJob(job, fmt.Sprintf("reward commit failed: %v", err), logger)
		return
	}
	rewardsCommitted.Inc()
	jobsProcessed.WithLabelValues(outcomeCompleted).Inc()

	// Terminal bookkeeping runs on a fresh context so a shutdown mid-job
	// cannot leave a verified submission stuck in processing.
	done, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := w.queue.MarkCompleted(done, job.ID); err != nil {
		logger.Error("failed to mark job completed", "error", err)
	}
	plat := platform.Platform(job.Platform)
	if err := w.stats.RecordCompletion(done, job.TaskID, plat, 0, 0); err != nil {
		logger.Error("failed to record completion stats", "error", err)
	}
	w.notifyUser(job.UserID, notify.VerificationPassed(reward), logger)
	w.scheduleCompletionWebhook(done, info, plat, logger)

	w.events.Publish(events.Event{
		Level:    "info",
		Type:     events.TypeJobCompleted,
		Message:  fmt.Sprintf("verified, %.2f credited", reward),
		JobID:    job.ID,
		UserID:   job.UserID,
		TaskID:   job.TaskID,
		Platform: job.Platform,
		WorkerID: w.cfg.WorkerID,
	})
	logger.Info("job completed", "reward", reward)
}

func (w *Worker) failJob(job queue.Job, message string, logger *slog.Logger) {
	done, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := w.queue.MarkFailed(done, job.ID, message); err != nil {
		logger.Error("failed to mark job failed", "error", err)
		return
	}
	w.events.Publish(events.Event{
		Level:    "warn",
		Type:     events.TypeJobFailed,
		Message:  message,
		JobID:    job.ID,
		UserID:   job.UserID,
		TaskID:   job.TaskID,
		Platform: job.Platform,
		WorkerID: w.cfg.WorkerID,
	})
	logger.Info("job failed", "reason", message)
}

func (w *Worker) notifyUser(userID int64, message string, logger *slog.Logger) {
	done, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := w.notifier.Notify(done, userID, message); err != nil {
		logger.Error("user notification failed", "error", err)
	}
}

func (w *Worker) scheduleCompletionWebhook(ctx context.Context, info TaskInfo, plat platform.Platform, logger *slog.Logger) {
	if info.CallbackURL == "" {
		return
	}

	entry := webhook.TaskStats{
		ProjectID:    info.ProjectID,
		TaskID:       info.ExternalID,
		Duration:     info.Duration,
		AccountCount: 1,
	}
	switch plat {
	case platform.YouTube:
		entry.YTAccountCount = 1
	case platform.TikTok:
		entry.TTAccountCount = 1
	case platform.Instagram:
		entry.IGAccountCount = 1
	}

	payload := webhook.Payload{SiteName: w.cfg.SiteName, Stats: []webhook.TaskStats{entry}}
	if _, err := w.deliveries.Schedule(ctx, info.TaskID, webhook.EventTaskCompleted,
		info.CallbackURL, info.CallbackSecret, payload); err != nil {
		logger.Error("failed to schedule completion webhook", "error", err)
	}
}
