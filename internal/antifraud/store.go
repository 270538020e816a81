package antifraud

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var ErrUserNotFound = errors.New("user not found")

// PgUserStore reads submitter state from Postgres.
type PgUserStore struct {
	pool *pgxpool.Pool
}

func NewPgUserStore(pool *pgxpool.Pool) *PgUserStore {
	return &PgUserStore{pool: pool}
}

func (s *PgUserStore) UserProfile(ctx context.Context, userID int64) (time.Time, *time.Time, error) {
	var createdAt time.Time
	var lastVerified *time.Time
	err := s.pool.QueryRow(ctx, `
		SELECT created_at, last_submission_time FROM users WHERE user_id = $1
	`, userID).Scan(&createdAt, &lastVerified)
	if errors.Is(err, pgx.ErrNoRows) {
		return time.Time{}, nil, fmt.Errorf("user %d: %w", userID, ErrUserNotFound)
	}
	if err != nil {
		return time.Time{}, nil, err
	}
	return createdAt, lastVerified, nil
}

func (s *PgUserStore) VerifiedCountToday(ctx context.Context, userID int64) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM verification_jobs
		WHERE user_id = $1
		  AND status = 'completed'
		  AND completed_at::date = CURRENT_DATE
	`, userID).Scan(&count)
	return count, err
}
