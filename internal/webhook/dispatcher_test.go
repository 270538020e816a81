package webhook

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

func testDeliveryStore(t *testing.T) (*DeliveryStore, *pgxpool.Pool) {
	t.Helper()
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("DATABASE_URL not set, skipping integration test")
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("failed to connect to DB: %v", err)
	}
	t.Cleanup(pool.Close)

	for _, table := range []string{"webhook_delivery_attempts", "webhook_deliveries", "tasks"} {
		if _, err := pool.Exec(ctx, "DELETE FROM "+table); err != nil {
			t.Fatalf("cleanup %s: %v", table, err)
		}
	}
	if _, err := pool.Exec(ctx, `
		INSERT INTO tasks (task_id, project_id, external_id, callback_url, callback_secret)
		VALUES (7, 1, 70, 'https://platform.example/cb', 'sec')
	`); err != nil {
		t.Fatal(err)
	}

	return NewDeliveryStore(pool), pool
}

func TestDeliveryLifecycle(t *testing.T) {
	store, pool := testDeliveryStore(t)
	ctx := context.Background()

	id, err := store.Schedule(ctx, 7, EventTaskCompleted, "https://platform.example/cb", "sec", Payload{
		SiteName: "clippay",
		Stats:    []TaskStats{{ProjectID: 1, TaskID: 70, AccountCount: 1}},
	})
	if err != nil {
		t.Fatalf("schedule failed: %v", err)
	}

	due, err := store.ClaimDue(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(due) != 1 || due[0].ID != id {
		t.Fatalf("expected the scheduled delivery due, got %v", due)
	}

	// The claim lease hides the row from a second claimant.
	again, err := store.ClaimDue(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(again) != 0 {
		t.Errorf("expected leased delivery to be hidden, got %d rows", len(again))
	}

	if err := store.MarkSucceeded(ctx, id); err != nil {
		t.Fatal(err)
	}

	var status string
	if err := pool.QueryRow(ctx,
		"SELECT callback_status FROM tasks WHERE task_id = 7",
	).Scan(&status); err != nil {
		t.Fatal(err)
	}
	if status != "success" {
		t.Errorf("expected task callback_status success, got %q", status)
	}
}

func TestDeliveryExhaustionIsTerminal(t *testing.T) {
	store, pool := testDeliveryStore(t)
	ctx := context.Background()

	id, err := store.Schedule(ctx, 7, EventTaskCompleted, "https://platform.example/cb", "sec", Payload{SiteName: "clippay"})
	if err != nil {
		t.Fatal(err)
	}

	for attempt := 1; attempt <= 3; attempt++ {
		if err := store.MarkFailed(ctx, id, 3, "callback returned 500"); err != nil {
			t.Fatalf("attempt %d: %v", attempt, err)
		}

		var status DeliveryStatus
		var attempts int
		var next time.Time
		if err := pool.QueryRow(ctx,
			"SELECT status, attempt_count, next_attempt_at FROM webhook_deliveries WHERE id = $1", id,
		).Scan(&status, &attempts, &next); err != nil {
			t.Fatal(err)
		}
		if attempts != attempt {
			t.Errorf("expected attempt_count %d, got %d", attempt, attempts)
		}

		if attempt < 3 {
			if status != DeliveryPending {
				t.Fatalf("attempt %d: expected pending, got %q", attempt, status)
			}
			// Backoff pushes the next attempt out by 5^n seconds.
			minNext := time.Now().Add(RetryDelay(attempt) - 2*time.Second)
			if next.Before(minNext) {
				t.Errorf("attempt %d: next_attempt_at %v earlier than backoff %v", attempt, next, RetryDelay(attempt))
			}
		} else if status != DeliveryFailed {
			t.Fatalf("expected terminal failed after attempt 3, got %q", status)
		}
	}

	// Terminal deliveries never come due again.
	if _, err := pool.Exec(ctx,
		"UPDATE webhook_deliveries SET next_attempt_at = NOW() - interval '1 hour' WHERE id = $1", id,
	); err != nil {
		t.Fatal(err)
	}
	due, err := store.ClaimDue(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(due) != 0 {
		t.Errorf("expected no due deliveries after exhaustion, got %d", len(due))
	}

	var cbStatus string
	if err := pool.QueryRow(ctx,
		"SELECT callback_status FROM tasks WHERE task_id = 7",
	).Scan(&cbStatus); err != nil {
		t.Fatal(err)
	}
	if cbStatus != "failed" {
		t.Errorf("expected task callback_status failed, got %q", cbStatus)
	}
}
