package antifraud

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

const (
	accountCooldown = 5 * time.Minute
	submitInterval  = 3 * time.Minute
	dailyCap        = 10
)

// Denial is a user-correctable admission refusal. It is never a system error;
// the message goes straight back to the submitter.
type Denial struct {
	Reason  string
	Message string
}

func (d *Denial) Error() string {
	return fmt.Sprintf("admission denied (%s): %s", d.Reason, d.Message)
}

// UserStore is what the gate needs to know about a submitter.
type UserStore interface {
	// UserProfile returns the account creation time and the time of the last
	// verified submission (nil if none).
	UserProfile(ctx context.Context, userID int64) (createdAt time.Time, lastVerified *time.Time, err error)
	// VerifiedCountToday counts the user's completed verifications today.
	VerifiedCountToday(ctx context.Context, userID int64) (int, error)
}

type Gate struct {
	store  UserStore
	client *http.Client
	logger *slog.Logger
	now    func() time.Time
}

func New(store UserStore, livenessTimeout time.Duration, logger *slog.Logger) *Gate {
	if livenessTimeout <= 0 {
		livenessTimeout = 10 * time.Second
	}
	return &Gate{
		store:  store,
		client: &http.Client{Timeout: livenessTimeout},
		logger: logger,
		now:    time.Now,
	}
}

// Admit runs the admission checks in order and short-circuits on the first
// refusal. A *Denial return is user-correctable; any other error is a system
// failure.
func (g *Gate) Admit(ctx context.Context, userID int64, link string) error {
	createdAt, lastVerified, err := g.store.UserProfile(ctx, userID)
	if err != nil {
		return fmt.Errorf("load user %d: %w", userID, err)
	}

	now := g.now()

	if wait := createdAt.Add(accountCooldown).Sub(now); wait > 0 {
		return &Denial{
			Reason:  "account_too_new",
			Message: "your account is too new to submit, please try again in a few minutes",
		}
	}

	if lastVerified != nil {
		if wait := lastVerified.Add(submitInterval).Sub(now); wait > 0 {
			mins := int(wait.Minutes())
			secs := int(wait.Seconds()) % 60
			return &Denial{
				Reason:  "too_soon",
				Message: fmt.Sprintf("please wait %dm %ds before submitting again", mins, secs),
			}
		}
	}

	count, err := g.store.VerifiedCountToday(ctx, userID)
	if err != nil {
		return fmt.Errorf("count submissions for user %d: %w", userID, err)
	}
	if count >= dailyCap {
		return &Denial{
			Reason:  "daily_cap",
			Message: fmt.Sprintf("daily submission limit of %d reached, try again tomorrow", dailyCap),
		}
	}

	return g.checkLiveness(ctx, link)
}

// checkLiveness probes the link with HEAD, falling back to GET for hosts that
// reject HEAD. Network errors and timeouts fail open: transient faults and
// aggressive anti-bot blocking must not penalize the submitter.
func (g *Gate) checkLiveness(ctx context.Context, link string) error {
	status, err := g.probe(ctx, http.MethodHead, link)
	if err != nil || status == http.StatusMethodNotAllowed {
		status, err = g.probe(ctx, http.MethodGet, link)
	}
	if err != nil {
		if g.logger != nil {
			g.logger.Warn("liveness probe failed open", "url", link, "error", err)
		}
		return nil
	}

	switch {
	case status == http.StatusOK:
		return nil
	case status == http.StatusNotFound:
		return &Denial{Reason: "link_dead", Message: "the link was not found or has been deleted"}
	case status == http.StatusForbidden:
		return &Denial{Reason: "link_private", Message: "access to the link was denied, the video may be private"}
	default:
		return &Denial{
			Reason:  "link_unreachable",
			Message: fmt.Sprintf("the link returned status %d, please check it and try again", status),
		}
	}
}

func (g *Gate) probe(ctx context.Context, method, link string) (int, error) {
	req, err := http.NewRequestWithContext(ctx, method, link, nil)
	if err != nil {
		// Malformed URLs are the user's problem, not a network fault.
		return http.StatusBadRequest, nil
	}
	resp, err := g.client.Do(req)
	if err != nil {
		return 0, err
	}
	resp.Body.Close()
	return resp.StatusCode, nil
}
