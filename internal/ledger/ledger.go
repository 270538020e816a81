package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrAlreadyCompleted reports a commit for a (user, task) pair that already
// holds a submitted record. The queue's uniqueness should make this
// unreachable; it surfacing means a bug upstream, not a retryable condition.
var ErrAlreadyCompleted = errors.New("task already completed by user")

var ErrTaskNotFound = errors.New("task not found")

// referralShare is the inviter's cut of every reward an invitee earns.
const referralShare = 0.10

// firstTaskBonus is credited to the invitee once, on their first completion.
const firstTaskBonus = 5.0

type Service struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

func NewService(pool *pgxpool.Pool, logger *slog.Logger) *Service {
	return &Service{pool: pool, logger: logger}
}

// Commit marks the task submitted for the user and credits the reward, all in
// one transaction: the completion record, the balance increment, the referral
// fan-out and the first-task bonus either all land or none do.
//
// last_submission_time is also advanced here. The submission-interval check
// keys off verified completions, and this transaction is the single place a
// completion becomes verified.
func (s *Service) Commit(ctx context.Context, userID, taskID int64, platform, link string) (float64, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback(ctx)

	var reward float64
	err = tx.QueryRow(ctx, `
		SELECT reward_amount FROM tasks WHERE task_id = $1
	`, taskID).Scan(&reward)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, fmt.Errorf("task %d: %w", taskID, ErrTaskNotFound)
	}
	if err != nil {
		return 0, err
	}

	// The submitted transition is the exactly-once guard: the conditional
	// upsert refuses to touch a row that is already submitted.
	var submittedAt time.Time
	err = tx.QueryRow(ctx, `
		INSERT INTO user_tasks (user_id, task_id, status, platform, submission_link, submitted_at, node_power_earned)
		VALUES ($1, $2, 'submitted', $3, $4, NOW(), $5)
		ON CONFLICT (user_id, task_id) DO UPDATE
		SET status = 'submitted',
		    platform = EXCLUDED.platform,
		    submission_link = EXCLUDED.submission_link,
		    submitted_at = NOW(),
		    node_power_earned = EXCLUDED.node_power_earned
		WHERE user_tasks.status <> 'submitted'
		RETURNING submitted_at
	`, userID, taskID, platform, link, reward).Scan(&submittedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, fmt.Errorf("user %d task %d: %w", userID, taskID, ErrAlreadyCompleted)
	}
	if err != nil {
		return 0, err
	}

	if _, err := tx.Exec(ctx, `
		UPDATE users
		SET balance = balance + $2,
		    last_submission_time = NOW()
		WHERE user_id = $1
	`, userID, reward); err != nil {
		return 0, fmt.Errorf("credit user %d: %w", userID, err)
	}

	if err := s.fanOutReferral(ctx, tx, userID, taskID, reward); err != nil {
		return 0, err
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}

	s.logger.Info("reward committed",
		"user_id", userID, "task_id", taskID, "reward", reward)
	return reward, nil
}

// fanOutReferral credits the inviter their share and, on the invitee's first
// ever completion, pays the invitee the one-time bonus. The referral_rewards
// uniqueness keeps the fan-out idempotent per (invitee, task).
func (s *Service) fanOutReferral(ctx context.Context, tx pgx.Tx, userID, taskID int64, reward float64) error {
	var inviterID int64
	var firstDone bool
	err := tx.QueryRow(ctx, `
		SELECT inviter_id, first_task_completed FROM referrals
		WHERE invitee_id = $1
		FOR UPDATE
	`, userID).Scan(&inviterID, &firstDone)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil // not a referred user
	}
	if err != nil {
		return err
	}

	share := reward * referralShare

	tag, err := tx.Exec(ctx, `
		INSERT INTO referral_rewards (inviter_id, invitee_id, task_id, amount, kind)
		VALUES ($1, $2, $3, $4, 'share')
		ON CONFLICT (invitee_id, task_id, kind) DO NOTHING
	`, inviterID, userID, taskID, share)
	if err != nil {
		return fmt.Errorf("record referral share: %w", err)
	}
	if tag.RowsAffected() > 0 {
		if _, err := tx.Exec(ctx, `
			UPDATE users SET balance = balance + $2 WHERE user_id = $1
		`, inviterID, share); err != nil {
			return fmt.Errorf("credit inviter %d: %w", inviterID, err)
		}
		if _, err := tx.Exec(ctx, `
			UPDATE referrals SET total_reward = total_reward + $2 WHERE invitee_id = $1
		`, userID, share); err != nil {
			return fmt.Errorf("accumulate referral total: %w", err)
		}
	}

	if !firstDone {
		if _, err := tx.Exec(ctx, `
			INSERT INTO referral_rewards (inviter_id, invitee_id, task_id, amount, kind)
			VALUES ($1, $2, $3, $4, 'first_task_bonus')
		`, inviterID, userID, taskID, firstTaskBonus); err != nil {
			return fmt.Errorf("record first-task bonus: %w", err)
		}
		if _, err := tx.Exec(ctx, `
			UPDATE users SET balance = balance + $2 WHERE user_id = $1
		`, userID, firstTaskBonus); err != nil {
			return fmt.Errorf("credit first-task bonus: %w", err)
		}
		if _, err := tx.Exec(ctx, `
			UPDATE referrals SET first_task_completed = TRUE WHERE invitee_id = $1
		`, userID); err != nil {
			return fmt.Errorf("mark first task completed: %w", err)
		}
	}

	return nil
}
