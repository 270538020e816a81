package submit

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"clippay/internal/antifraud"
	"clippay/internal/queue"
)

type fakeGate struct {
	err error
}

func (f *fakeGate) Admit(ctx context.Context, userID int64, link string) error {
	return f.err
}

type fakeQueue struct {
	jobID    int64
	err      error
	lastURL  string
	lastPlat string
	calls    int
}

func (f *fakeQueue) Enqueue(ctx context.Context, userID, taskID int64, videoURL, platform string) (int64, error) {
	f.calls++
	f.lastURL = videoURL
	f.lastPlat = platform
	return f.jobID, f.err
}

func newTestService(gate *fakeGate, q *fakeQueue) *Service {
	return NewService(gate, q, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestSubmitAccepted(t *testing.T) {
	q := &fakeQueue{jobID: 42}
	svc := newTestService(&fakeGate{}, q)

	ack, err := svc.Submit(context.Background(), 1, 7, "https://www.tiktok.com/@u/video/1")
	if err != nil {
		t.Fatal(err)
	}
	if !ack.Accepted || ack.JobID != 42 {
		t.Errorf("expected accepted ack with job id 42, got %+v", ack)
	}
	if q.lastPlat != "tiktok" {
		t.Errorf("expected tiktok platform passed to queue, got %q", q.lastPlat)
	}
}

func TestSubmitDenialIsAckNotError(t *testing.T) {
	gate := &fakeGate{err: &antifraud.Denial{Reason: "daily_cap", Message: "daily submission limit of 10 reached, try again tomorrow"}}
	q := &fakeQueue{}
	svc := newTestService(gate, q)

	ack, err := svc.Submit(context.Background(), 1, 7, "https://youtu.be/x")
	if err != nil {
		t.Fatalf("denial should not be an error: %v", err)
	}
	if ack.Accepted {
		t.Error("denied submission must not be accepted")
	}
	if ack.Message != "daily submission limit of 10 reached, try again tomorrow" {
		t.Errorf("ack should carry the denial message, got %q", ack.Message)
	}
	if q.calls != 0 {
		t.Error("denied submission must not reach the queue")
	}
}

func TestSubmitGateInfrastructureErrorPropagates(t *testing.T) {
	gate := &fakeGate{err: errors.New("db down")}
	svc := newTestService(gate, &fakeQueue{})

	if _, err := svc.Submit(context.Background(), 1, 7, "https://youtu.be/x"); err == nil {
		t.Fatal("expected infrastructure error to propagate")
	}
}

func TestSubmitAlreadyVerified(t *testing.T) {
	q := &fakeQueue{err: queue.ErrAlreadyVerified}
	svc := newTestService(&fakeGate{}, q)

	ack, err := svc.Submit(context.Background(), 1, 7, "https://youtu.be/x")
	if err != nil {
		t.Fatalf("already-verified should not be an error: %v", err)
	}
	if ack.Accepted {
		t.Error("already-verified submission must not be accepted")
	}
	if ack.Message != "you have already completed this task" {
		t.Errorf("unexpected message: %q", ack.Message)
	}
}
