package queue

import "time"

type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Terminal reports whether a job in this status is done for good. Only
// non-terminal rows participate in the live-job uniqueness constraint.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Job is one attempt to verify a user's submitted link against a task.
type Job struct {
	ID           int64      `db:"id"`
	UserID       int64      `db:"user_id"`
	TaskID       int64      `db:"task_id"`
	VideoURL     string     `db:"video_url"`
	Platform     string     `db:"platform"`
	Status       Status     `db:"status"`
	ErrorMessage *string    `db:"error_message"`
	RetryCount   int        `db:"retry_count"`
	ClaimedAt    *time.Time `db:"claimed_at"`
	CompletedAt  *time.Time `db:"completed_at"`
	CreatedAt    time.Time  `db:"created_at"`
	UpdatedAt    time.Time  `db:"updated_at"`
}
