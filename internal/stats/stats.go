// Package stats keeps per-task daily completion aggregates and answers the
// trailing-window queries the broadcaster builds its reports from.
package stats

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"clippay/internal/platform"
)

type Store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// RecordCompletion bumps the daily counters for (task, today, platform).
// Called once per verified completion, after the ledger commit.
func (s *Store) RecordCompletion(ctx context.Context, taskID int64, p platform.Platform, views, likes int64) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO task_daily_stats (task_id, stat_date, platform, account_count, view_count, like_count)
		VALUES ($1, CURRENT_DATE, $2, 1, $3, $4)
		ON CONFLICT (task_id, stat_date, platform) DO UPDATE
		SET account_count = task_daily_stats.account_count + 1,
		    view_count = task_daily_stats.view_count + EXCLUDED.view_count,
		    like_count = task_daily_stats.like_count + EXCLUDED.like_count,
		    updated_at = NOW()
	`, taskID, string(p), views, likes)
	return err
}

// PlatformCounts is one platform's slice of a task aggregate.
type PlatformCounts struct {
	Accounts int64
	Views    int64
	Likes    int64
}

// TaskAggregate is everything needed to report one task to its platform:
// identity, callback target, and completion counts split by video platform.
type TaskAggregate struct {
	TaskID         int64
	ProjectID      int64
	ExternalID     int64
	Duration       int
	CallbackURL    string
	CallbackSecret string
	AccountCount   int64
	Platforms      map[platform.Platform]PlatformCounts
}

// CompletionsSince aggregates verified completions whose submitted_at falls
// in the trailing window, grouped per task and platform. Tasks without a
// callback URL have nowhere to report to and are skipped.
func (s *Store) CompletionsSince(ctx context.Context, window time.Duration) ([]TaskAggregate, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT t.task_id, t.project_id, t.external_id, t.duration,
		       t.callback_url, t.callback_secret,
		       ut.platform, COUNT(*), SUM(ut.view_count)::BIGINT, SUM(ut.like_count)::BIGINT
		FROM user_tasks ut
		JOIN tasks t ON t.task_id = ut.task_id
		WHERE ut.status = 'submitted'
		  AND ut.submitted_at >= NOW() - make_interval(secs => $1)
		  AND t.callback_url <> ''
		GROUP BY t.task_id, t.project_id, t.external_id, t.duration,
		         t.callback_url, t.callback_secret, ut.platform
		ORDER BY t.task_id
	`, window.Seconds())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []TaskAggregate
	for rows.Next() {
		var (
			taskID, projectID, externalID int64
			duration                      int
			url, secret, plat             string
			accounts, views, likes        int64
		)
		if err := rows.Scan(&taskID, &projectID, &externalID, &duration,
			&url, &secret, &plat, &accounts, &views, &likes); err != nil {
			return nil, err
		}

		if len(out) == 0 || out[len(out)-1].TaskID != taskID {
			out = append(out, TaskAggregate{
				TaskID:         taskID,
				ProjectID:      projectID,
				ExternalID:     externalID,
				Duration:       duration,
				CallbackURL:    url,
				CallbackSecret: secret,
				Platforms:      make(map[platform.Platform]PlatformCounts),
			})
		}
		agg := &out[len(out)-1]
		agg.AccountCount += accounts
		agg.Platforms[platform.Platform(plat)] = PlatformCounts{
			Accounts: accounts,
			Views:    views,
			Likes:    likes,
		}
	}
	return out, rows.Err()
}
