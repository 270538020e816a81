package worker

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var ErrTaskNotFound = errors.New("task not found")

// TaskInfo is the task metadata a verification needs: content to match
// against, and the callback target for the completion webhook.
type TaskInfo struct {
	TaskID         int64
	ProjectID      int64
	ExternalID     int64
	Title          string
	Description    string
	Duration       int
	CallbackURL    string
	CallbackSecret string
}

type PgTaskStore struct {
	pool *pgxpool.Pool
}

func NewPgTaskStore(pool *pgxpool.Pool) *PgTaskStore {
	return &PgTaskStore{pool: pool}
}

func (s *PgTaskStore) TaskInfo(ctx context.Context, taskID int64) (TaskInfo, error) {
	var info TaskInfo
	err := s.pool.QueryRow(ctx, `
		SELECT task_id, project_id, external_id, title, description, duration,
		       callback_url, callback_secret
		FROM tasks
		WHERE task_id = $1
	`, taskID).Scan(&info.TaskID, &info.ProjectID, &info.ExternalID,
		&info.Title, &info.Description, &info.Duration,
		&info.CallbackURL, &info.CallbackSecret)
	if errors.Is(err, pgx.ErrNoRows) {
		return TaskInfo{}, fmt.Errorf("task %d: %w", taskID, ErrTaskNotFound)
	}
	if err != nil {
		return TaskInfo{}, err
	}
	return info, nil
}
