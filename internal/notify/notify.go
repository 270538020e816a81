// Package notify is the outbound user-notification port. The chat transport
// lives outside this service; the worker only knows the interface.
package notify

import (
	"context"
	"fmt"
	"log/slog"
)

// syntheticIDFloor marks web-origin user ids. Those users have no chat
// session, so notifications addressed to them are dropped.
const syntheticIDFloor = 9_000_000_000

// Notifier delivers a message to a user's chat session.
type Notifier interface {
	Notify(ctx context.Context, userID int64, message string) error
}

// Synthetic reports whether a user id belongs to a web-origin account.
func Synthetic(userID int64) bool {
	return userID >= syntheticIDFloor
}

// VerificationPassed formats the success message shown after a reward commit.
func VerificationPassed(reward float64) string {
	return fmt.Sprintf("Your submission was verified. %.2f node power has been added to your balance.", reward)
}

// VerificationFailed formats the rejection message. The reason comes from the
// verifier so the user can correct the link and resubmit.
func VerificationFailed(reason string) string {
	return fmt.Sprintf("Your submission could not be verified: %s. Please check the link and submit again.", reason)
}

// VerificationUnavailable is the message for infrastructure failures. Raw
// error detail stays in the logs and the job row; users only hear retry-later.
func VerificationUnavailable() string {
	return "Your submission could not be verified right now. Please try again later."
}

// LogNotifier writes notifications to the log. It stands in for the chat
// transport in deployments where the bot process is reached another way.
type LogNotifier struct {
	logger *slog.Logger
}

func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) Notify(ctx context.Context, userID int64, message string) error {
	if Synthetic(userID) {
		return nil
	}
	n.logger.Info("user notification", "user_id", userID, "message", message)
	return nil
}
