package webhook

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Attempt is one signed POST to a callback URL, recorded for audit whether it
// succeeded or not. Retries create new attempts; rows are never updated.
type Attempt struct {
	DeliveryID  uuid.UUID
	CallbackURL string
	Payload     []byte
	Success     bool
	StatusCode  int
	Error       string
}

type AuditStore interface {
	RecordAttempt(ctx context.Context, a Attempt) error
}

// PgAuditStore persists delivery attempts to webhook_delivery_attempts.
type PgAuditStore struct {
	pool *pgxpool.Pool
}

func NewPgAuditStore(pool *pgxpool.Pool) *PgAuditStore {
	return &PgAuditStore{pool: pool}
}

func (s *PgAuditStore) RecordAttempt(ctx context.Context, a Attempt) error {
	var statusCode *int
	if a.StatusCode != 0 {
		statusCode = &a.StatusCode
	}
	var errMsg *string
	if a.Error != "" {
		errMsg = &a.Error
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO webhook_delivery_attempts (delivery_id, callback_url, payload, success, status_code, error)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, a.DeliveryID, a.CallbackURL, a.Payload, a.Success, statusCode, errMsg)
	return err
}

// Notifier signs and delivers webhook payloads. It knows nothing about retry
// scheduling; the dispatcher owns that.
type Notifier struct {
	client *http.Client
	audit  AuditStore
	logger *slog.Logger
}

func NewNotifier(timeout time.Duration, audit AuditStore, logger *slog.Logger) *Notifier {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Notifier{
		client: &http.Client{Timeout: timeout},
		audit:  audit,
		logger: logger,
	}
}

// Deliver POSTs the payload once. Any 2xx is success; everything else,
// including transport errors, is a failure the caller may reschedule. The
// attempt is audited regardless of outcome.
func (n *Notifier) Deliver(ctx context.Context, deliveryID uuid.UUID, callbackURL string, payload []byte, secret, eventType string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, callbackURL, bytes.NewReader(payload))
	if err != nil {
		n.recordAttempt(ctx, deliveryID, callbackURL, payload, 0, err.Error())
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Webhook-Signature", Sign(payload, secret))
	req.Header.Set("X-Webhook-Secret", secret)
	req.Header.Set("X-Webhook-Timestamp", strconv.FormatInt(time.Now().Unix(), 10))
	req.Header.Set("X-Webhook-Event", eventType)

	resp, err := n.client.Do(req)
	if err != nil {
		n.recordAttempt(ctx, deliveryID, callbackURL, payload, 0, err.Error())
		return fmt.Errorf("webhook POST: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := fmt.Sprintf("callback returned %s", resp.Status)
		n.recordAttempt(ctx, deliveryID, callbackURL, payload, resp.StatusCode, msg)
		return fmt.Errorf("%s", msg)
	}

	n.recordAttempt(ctx, deliveryID, callbackURL, payload, resp.StatusCode, "")
	return nil
}

func (n *Notifier) recordAttempt(ctx context.Context, deliveryID uuid.UUID, callbackURL string, payload []byte, statusCode int, errMsg string) {
	if n.audit == nil {
		return
	}
	attempt := Attempt{
		DeliveryID:  deliveryID,
		CallbackURL: callbackURL,
		Payload:     payload,
		Success:     errMsg == "",
		StatusCode:  statusCode,
		Error:       errMsg,
	}
	if err := n.audit.RecordAttempt(ctx, attempt); err != nil {
		n.logger.Error("failed to record webhook attempt",
			"delivery_id", deliveryID, "error", err)
	}
}
