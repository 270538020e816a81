package queue

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrAlreadyVerified reports that a completed job already exists for the exact
// (user, task, url) key. The link was rewarded once and must not re-enter the
// queue.
var ErrAlreadyVerified = errors.New("link already verified")

// ErrJobNotFound reports that an admin operation referenced a job id that does
// not exist or is not in a requeueable state.
var ErrJobNotFound = errors.New("job not found")

const staleErrorMessage = "verification timed out"

const maxErrorMessageLen = 1024

const jobColumns = `
	id, user_id, task_id, video_url, platform, status, error_message,
	retry_count, claimed_at, completed_at, created_at, updated_at`

type Service struct {
	pool *pgxpool.Pool
}

func NewService(pool *pgxpool.Pool) *Service {
	return &Service{pool: pool}
}

// Enqueue registers a verification job for (userID, taskID, videoURL).
//
// The key is idempotent: a live (pending/processing) duplicate returns the
// existing job id, a completed duplicate returns ErrAlreadyVerified, and a
// failed duplicate is resurrected to pending with its retry budget reset.
// Resurrection also refreshes created_at so the stale sweeper does not
// immediately reap the revived job.
func (s *Service) Enqueue(ctx context.Context, userID, taskID int64, videoURL, platform string) (int64, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback(ctx)

	// Prefer a live row, then a completed one, then the most recent failure.
	var existingID int64
	var existingStatus Status
	err = tx.QueryRow(ctx, `
		SELECT id, status FROM verification_jobs
		WHERE user_id = $1 AND task_id = $2 AND video_url = $3
		ORDER BY
			CASE status
				WHEN 'pending' THEN 0
				WHEN 'processing' THEN 0
				WHEN 'completed' THEN 1
				ELSE 2
			END,
			created_at DESC
		LIMIT 1
		FOR UPDATE
	`, userID, taskID, videoURL).Scan(&existingID, &existingStatus)

	switch {
	case err == nil:
		switch existingStatus {
		case StatusPending, StatusProcessing:
			return existingID, tx.Commit(ctx)
		case StatusCompleted:
			return 0, ErrAlreadyVerified
		case StatusFailed:
			_, err = tx.Exec(ctx, `
				UPDATE verification_jobs
				SET status = 'pending',
				    retry_count = 0,
				    error_message = NULL,
				    claimed_at = NULL,
				    created_at = NOW(),
				    updated_at = NOW()
				WHERE id = $1
			`, existingID)
			if err != nil {
				return 0, fmt.Errorf("resurrect job %d: %w", existingID, err)
			}
			return existingID, tx.Commit(ctx)
		}
	case !errors.Is(err, pgx.ErrNoRows):
		return 0, err
	}

	var id int64
	err = tx.QueryRow(ctx, `
		INSERT INTO verification_jobs (user_id, task_id, video_url, platform, status)
		VALUES ($1, $2, $3, $4, 'pending')
		ON CONFLICT (user_id, task_id, video_url) WHERE status IN ('pending', 'processing')
		DO NOTHING
		RETURNING id
	`, userID, taskID, videoURL, platform).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		// Lost a race with a concurrent enqueue; the live row is the answer.
		err = tx.QueryRow(ctx, `
			SELECT id FROM verification_jobs
			WHERE user_id = $1 AND task_id = $2 AND video_url = $3
			  AND status IN ('pending', 'processing')
		`, userID, taskID, videoURL).Scan(&id)
	}
	if err != nil {
		return 0, err
	}

	return id, tx.Commit(ctx)
}

// DequeueBatch claims up to limit pending jobs, oldest first, skipping jobs
// that have exhausted their retry budget. Claimed jobs move to processing in
// the same statement so a second worker cannot pick them up.
func (s *Service) DequeueBatch(ctx context.Context, limit, maxRetries int) ([]Job, error) {
	rows, err := s.pool.Query(ctx, `
		WITH picked AS (
			SELECT id FROM verification_jobs
			WHERE status = 'pending' AND retry_count < $2
			ORDER BY created_at ASC
			LIMIT $1
			FOR UPDATE SKIP LOCKED
		)
		UPDATE verification_jobs
		SET status = 'processing',
		    claimed_at = NOW(),
		    updated_at = NOW()
		FROM picked
		WHERE verification_jobs.id = picked.id
		RETURNING `+jobColumns,
		limit, maxRetries)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []Job
	for rows.Next() {
		var j Job
		if err := rows.Scan(
			&j.ID, &j.UserID, &j.TaskID, &j.VideoURL, &j.Platform, &j.Status,
			&j.ErrorMessage, &j.RetryCount, &j.ClaimedAt, &j.CompletedAt,
			&j.CreatedAt, &j.UpdatedAt,
		); err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// UPDATE ... RETURNING does not preserve the picked order.
	sort.Slice(jobs, func(i, k int) bool { return jobs[i].CreatedAt.Before(jobs[k].CreatedAt) })

	return jobs, nil
}

// MarkCompleted finalizes a processing job. Fenced on the processing status so
// a job reclaimed out from under a slow worker cannot be double-finalized.
func (s *Service) MarkCompleted(ctx context.Context, id int64) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE verification_jobs
		SET status = 'completed',
		    completed_at = NOW(),
		    error_message = NULL,
		    updated_at = NOW()
		WHERE id = $1 AND status = 'processing'
	`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("job %d not in processing state", id)
	}
	return nil
}

// MarkFailed records a terminal failure and consumes one retry. A failed job
// only returns to the queue through Enqueue's resurrection path.
func (s *Service) MarkFailed(ctx context.Context, id int64, message string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE verification_jobs
		SET status = 'failed',
		    error_message = $2,
		    retry_count = retry_count + 1,
		    updated_at = NOW()
		WHERE id = $1 AND status IN ('pending', 'processing')
	`, id, truncateMessage(message))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("job %d not in a failable state", id)
	}
	return nil
}

// ReclaimStale force-fails jobs that have sat unfinished past the timeout:
// pending rows the worker never reached, and processing rows whose worker
// crashed mid-verification. Both paths count against the retry budget.
func (s *Service) ReclaimStale(ctx context.Context, timeout time.Duration) (int64, error) {
	cutoff := time.Now().Add(-timeout)
	tag, err := s.pool.Exec(ctx, `
		UPDATE verification_jobs
		SET status = 'failed',
		    error_message = $3,
		    retry_count = retry_count + 1,
		    updated_at = NOW()
		WHERE (status = 'pending' AND created_at < $1)
		   OR (status = 'processing' AND claimed_at < $2)
	`, cutoff, cutoff, staleErrorMessage)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// Requeue resets a failed job to pending. Admin path, driven by a CLI flag.
func (s *Service) Requeue(ctx context.Context, id int64) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE verification_jobs
		SET status = 'pending',
		    retry_count = 0,
		    error_message = NULL,
		    claimed_at = NULL,
		    created_at = NOW(),
		    updated_at = NOW()
		WHERE id = $1 AND status = 'failed'
	`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrJobNotFound
	}
	return nil
}

func truncateMessage(msg string) string {
	if len(msg) <= maxErrorMessageLen {
		return msg
	}
	return msg[:maxErrorMessageLen]
}
