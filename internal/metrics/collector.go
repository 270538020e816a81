package metrics

import (
	"context"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	defaultInterval = 15 * time.Second
	queryTimeout    = 2 * time.Second
)

var (
	jobsByStatusGauge = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "clippay_verification_jobs",
		Help: "Verification jobs by status.",
	}, []string{"status"})
	queueDepthGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "clippay_queue_depth",
		Help: "Verification jobs waiting to be picked up.",
	})
	oldestPendingGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "clippay_oldest_pending_seconds",
		Help: "Age of the oldest pending verification job.",
	})
	webhookBacklogGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "clippay_webhook_backlog",
		Help: "Webhook deliveries awaiting dispatch.",
	})
	webhookFailedGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "clippay_webhook_failed_total_rows",
		Help: "Webhook deliveries that exhausted their retry budget.",
	})
)

// StartCollector polls the database for queue and webhook health gauges.
// Counters tied to individual operations live with the code that does them;
// these are whole-system depths only the store can answer.
func StartCollector(ctx context.Context, pool *pgxpool.Pool, interval time.Duration, logger *slog.Logger) {
	if interval <= 0 {
		interval = defaultInterval
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			if err := collectJobMetrics(ctx, pool); err != nil {
				logWarn(logger, "queue metrics collection failed", err)
			}
			if err := collectWebhookMetrics(ctx, pool); err != nil {
				logWarn(logger, "webhook metrics collection failed", err)
			}
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()
}

func collectJobMetrics(ctx context.Context, pool *pgxpool.Pool) error {
	queryCtx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	rows, err := pool.Query(queryCtx, `
		SELECT status, COUNT(*)
		FROM verification_jobs
		GROUP BY status
	`)
	if err != nil {
		return err
	}
	defer rows.Close()

	counts := map[string]int64{"pending": 0, "processing": 0, "completed": 0, "failed": 0}
	for rows.Next() {
		var status string
		var count int64
		if err := rows.Scan(&status, &count); err != nil {
			return err
		}
		counts[status] = count
	}
	if err := rows.Err(); err != nil {
		return err
	}

	for status, count := range counts {
		jobsByStatusGauge.WithLabelValues(status).Set(float64(count))
	}
	queueDepthGauge.Set(float64(counts["pending"]))

	var oldest float64
	if err := pool.QueryRow(queryCtx, `
		SELECT COALESCE(EXTRACT(EPOCH FROM NOW() - MIN(created_at)), 0)
		FROM verification_jobs
		WHERE status = 'pending'
	`).Scan(&oldest); err != nil {
		return err
	}
	oldestPendingGauge.Set(oldest)
	return nil
}

func collectWebhookMetrics(ctx context.Context, pool *pgxpool.Pool) error {
	queryCtx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var backlog, failed int64
	if err := pool.QueryRow(queryCtx, `
		SELECT COUNT(*) FILTER (WHERE status = 'pending'),
		       COUNT(*) FILTER (WHERE status = 'failed')
		FROM webhook_deliveries
	`).Scan(&backlog, &failed); err != nil {
		return err
	}

	webhookBacklogGauge.Set(float64(backlog))
	webhookFailedGauge.Set(float64(failed))
	return nil
}

func logWarn(logger *slog.Logger, message string, err error) {
	if logger == nil || err == nil {
		return
	}
	logger.Warn(message, "error", err)
}
