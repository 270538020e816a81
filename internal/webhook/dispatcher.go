package webhook

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"clippay/internal/events"
)

// claimLease is how far ClaimDue pushes next_attempt_at forward, so another
// dispatcher instance cannot pick up a delivery that is being attempted.
const claimLease = 2 * time.Minute

type DeliveryStatus string

const (
	DeliveryPending   DeliveryStatus = "pending"
	DeliverySucceeded DeliveryStatus = "succeeded"
	DeliveryFailed    DeliveryStatus = "failed"
)

// Delivery is a scheduled webhook send: payload, target, attempt budget. It
// makes retry state a queryable row instead of a detached background task.
type Delivery struct {
	ID            uuid.UUID
	TaskID        int64
	EventType     string
	CallbackURL   string
	Secret        string
	Payload       json.RawMessage
	Status        DeliveryStatus
	AttemptCount  int
	NextAttemptAt time.Time
}

type DeliveryStore struct {
	pool *pgxpool.Pool
}

func NewDeliveryStore(pool *pgxpool.Pool) *DeliveryStore {
	return &DeliveryStore{pool: pool}
}

// Schedule queues a delivery for immediate dispatch.
func (s *DeliveryStore) Schedule(ctx context.Context, taskID int64, eventType, callbackURL, secret string, payload Payload) (uuid.UUID, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return uuid.Nil, err
	}
	id := uuid.New()
	_, err = s.pool.Exec(ctx, `
		INSERT INTO webhook_deliveries (id, task_id, event_type, callback_url, callback_secret, payload, status, next_attempt_at)
		VALUES ($1, $2, $3, $4, $5, $6, 'pending', NOW())
	`, id, taskID, eventType, callbackURL, secret, body)
	return id, err
}

// ClaimDue picks deliveries whose next attempt is due and leases them by
// pushing next_attempt_at forward, so a crash mid-attempt self-heals into a
// later retry instead of a lost delivery.
func (s *DeliveryStore) ClaimDue(ctx context.Context, limit int) ([]Delivery, error) {
	rows, err := s.pool.Query(ctx, `
		WITH due AS (
			SELECT id FROM webhook_deliveries
			WHERE status = 'pending' AND next_attempt_at <= NOW()
			ORDER BY next_attempt_at ASC
			LIMIT $1
			FOR UPDATE SKIP LOCKED
		)
		UPDATE webhook_deliveries
		SET next_attempt_at = NOW() + make_interval(secs => $2),
		    updated_at = NOW()
		FROM due
		WHERE webhook_deliveries.id = due.id
		RETURNING webhook_deliveries.id, task_id, event_type, callback_url, callback_secret,
		          payload, status, attempt_count, next_attempt_at
	`, limit, claimLease.Seconds())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var deliveries []Delivery
	for rows.Next() {
		var d Delivery
		if err := rows.Scan(
			&d.ID, &d.TaskID, &d.EventType, &d.CallbackURL, &d.Secret,
			&d.Payload, &d.Status, &d.AttemptCount, &d.NextAttemptAt,
		); err != nil {
			return nil, err
		}
		deliveries = append(deliveries, d)
	}
	return deliveries, rows.Err()
}

func (s *DeliveryStore) MarkSucceeded(ctx context.Context, id uuid.UUID) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `
		UPDATE webhook_deliveries
		SET status = 'succeeded', attempt_count = attempt_count + 1, updated_at = NOW()
		WHERE id = $1
	`, id); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `
		UPDATE tasks SET callback_status = 'success'
		WHERE task_id = (SELECT task_id FROM webhook_deliveries WHERE id = $1)
	`, id); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// MarkFailed consumes one attempt. Below the budget the delivery is
// rescheduled with exponential backoff; at the budget it goes terminal and
// the task's callback status is pinned to failed.
func (s *DeliveryStore) MarkFailed(ctx context.Context, id uuid.UUID, maxAttempts int, lastError string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	var attempts int
	var status DeliveryStatus
	err = tx.QueryRow(ctx, `
		UPDATE webhook_deliveries
		SET attempt_count = attempt_count + 1,
		    status = CASE WHEN attempt_count + 1 >= $2 THEN 'failed' ELSE 'pending' END,
		    last_error = $3,
		    updated_at = NOW()
		WHERE id = $1
		RETURNING attempt_count, status
	`, id, maxAttempts, lastError).Scan(&attempts, &status)
	if err != nil {
		return err
	}

	if status == DeliveryFailed {
		if _, err := tx.Exec(ctx, `
			UPDATE tasks SET callback_status = 'failed'
			WHERE task_id = (SELECT task_id FROM webhook_deliveries WHERE id = $1)
		`, id); err != nil {
			return err
		}
	} else {
		delay := RetryDelay(attempts)
		if _, err := tx.Exec(ctx, `
			UPDATE webhook_deliveries SET next_attempt_at = NOW() + make_interval(secs => $2)
			WHERE id = $1
		`, id, delay.Seconds()); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

// Dispatcher drains due deliveries on a fixed interval. It is deliberately
// separate from the verification worker: webhook latency must never stall
// job processing.
type Dispatcher struct {
	store       *DeliveryStore
	notifier    *Notifier
	interval    time.Duration
	maxAttempts int
	batchSize   int
	events      events.Publisher
	logger      *slog.Logger
}

func NewDispatcher(store *DeliveryStore, notifier *Notifier, interval time.Duration, maxAttempts int, publisher events.Publisher, logger *slog.Logger) *Dispatcher {
	if interval <= 0 {
		interval = time.Second
	}
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	if publisher == nil {
		publisher = events.NoopPublisher{}
	}
	return &Dispatcher{
		store:       store,
		notifier:    notifier,
		interval:    interval,
		maxAttempts: maxAttempts,
		batchSize:   20,
		events:      publisher,
		logger:      logger,
	}
}

func (d *Dispatcher) Run(ctx context.Context) {
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.dispatchDue(ctx)
		}
	}
}

func (d *Dispatcher) dispatchDue(ctx context.Context) {
	deliveries, err := d.store.ClaimDue(ctx, d.batchSize)
	if err != nil {
		d.logger.Error("failed to claim due webhook deliveries", "error", err)
		return
	}

	for _, delivery := range deliveries {
		if ctx.Err() != nil {
			return
		}
		err := d.notifier.Deliver(ctx, delivery.ID, delivery.CallbackURL, delivery.Payload, delivery.Secret, delivery.EventType)
		if err == nil {
			if err := d.store.MarkSucceeded(ctx, delivery.ID); err != nil {
				d.logger.Error("failed to mark delivery succeeded", "delivery_id", delivery.ID, "error", err)
			}
			d.events.Publish(events.Event{
				Level:   "info",
				Type:    events.TypeWebhookDelivered,
				Message: delivery.EventType,
				TaskID:  delivery.TaskID,
			})
			d.logger.Info("webhook delivered",
				"delivery_id", delivery.ID, "task_id", delivery.TaskID, "event", delivery.EventType)
			continue
		}

		d.logger.Warn("webhook delivery failed",
			"delivery_id", delivery.ID, "task_id", delivery.TaskID,
			"attempt", delivery.AttemptCount+1, "error", err)
		if err := d.store.MarkFailed(ctx, delivery.ID, d.maxAttempts, err.Error()); err != nil {
			d.logger.Error("failed to record delivery failure", "delivery_id", delivery.ID, "error", err)
		}
		d.events.Publish(events.Event{
			Level:   "warn",
			Type:    events.TypeWebhookFailed,
			Message: err.Error(),
			TaskID:  delivery.TaskID,
		})
	}
}
