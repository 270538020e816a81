// Package submit is the inbound submission surface: it classifies the link,
// runs the admission gate, and hands accepted submissions to the queue. The
// caller gets an immediate acknowledgement either way; verification happens
// in the background.
package submit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"clippay/internal/antifraud"
	"clippay/internal/platform"
	"clippay/internal/queue"
)

// Gate is the admission check run inline before a submission is accepted.
type Gate interface {
	Admit(ctx context.Context, userID int64, link string) error
}

// Enqueuer hands an admitted submission to the verification queue.
type Enqueuer interface {
	Enqueue(ctx context.Context, userID, taskID int64, videoURL, platform string) (int64, error)
}

// Ack is the immediate response to a submission attempt.
type Ack struct {
	Accepted bool
	JobID    int64
	Message  string
}

type Service struct {
	gate   Gate
	queue  Enqueuer
	logger *slog.Logger
}

func NewService(gate Gate, q Enqueuer, logger *slog.Logger) *Service {
	return &Service{gate: gate, queue: q, logger: logger}
}

// Submit runs the full inline path for one submission: platform
// classification, admission checks, enqueue. Denials and duplicate
// submissions come back as rejected acks with a user-facing message; only
// infrastructure failures surface as errors.
func (s *Service) Submit(ctx context.Context, userID, taskID int64, rawURL string) (Ack, error) {
	plat := platform.FromURL(rawURL)

	if err := s.gate.Admit(ctx, userID, rawURL); err != nil {
		var denial *antifraud.Denial
		if errors.As(err, &denial) {
			s.logger.Info("submission denied",
				"user_id", userID, "task_id", taskID, "reason", denial.Reason)
			return Ack{Message: denial.Message}, nil
		}
		return Ack{}, fmt.Errorf("admission check for user %d: %w", userID, err)
	}

	jobID, err := s.queue.Enqueue(ctx, userID, taskID, rawURL, string(plat))
	if errors.Is(err, queue.ErrAlreadyVerified) {
		return Ack{Message: "you have already completed this task"}, nil
	}
	if err != nil {
		return Ack{}, fmt.Errorf("enqueue submission for user %d task %d: %w", userID, taskID, err)
	}

	s.logger.Info("submission accepted",
		"user_id", userID, "task_id", taskID, "job_id", jobID, "platform", plat)
	return Ack{
		Accepted: true,
		JobID:    jobID,
		Message:  "submission received, verification is in progress",
	}, nil
}
