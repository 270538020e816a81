package verifier

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"
)

const userAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

// Pages from short-video platforms are front-loaded; anything past this is
// player chrome and comments.
const maxBodyBytes = 512 * 1024

// Result is the outcome of matching a submitted page against task metadata.
// Success=false means the page could not be fetched at all; Matched is only
// meaningful when Success is true.
type Result struct {
	Success   bool
	Matched   bool
	PageTitle string
	PageText  string
	Err       string
}

type Verifier struct {
	client *http.Client
	logger *slog.Logger
}

func New(timeout time.Duration, logger *slog.Logger) *Verifier {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Verifier{
		client: &http.Client{Timeout: timeout},
		logger: logger,
	}
}

// Verify fetches the submitted URL and decides whether its content plausibly
// corresponds to the task. This is a heuristic keyword check, not proof of
// authorship; disputed outcomes are settled by operators from the job log.
func (v *Verifier) Verify(ctx context.Context, rawURL, taskTitle, taskDesc string) Result {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return Result{Success: false, Err: err.Error()}
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9,zh-CN;q=0.8")

	resp, err := v.client.Do(req)
	if err != nil {
		if isTimeout(err) {
			return Result{Success: false, Err: "timeout"}
		}
		return Result{Success: false, Err: err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Result{Success: false, Err: "unexpected status " + resp.Status}
	}

	page, err := extractPage(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return Result{Success: false, Err: err.Error()}
	}

	keywords := ExtractKeywords(taskTitle, taskDesc)
	matched := Match(keywords, page.Title+" "+page.Text)

	if v.logger != nil {
		v.logger.Debug("verification decision",
			"url", rawURL, "keywords", len(keywords), "matched", matched)
	}

	return Result{
		Success:   true,
		Matched:   matched,
		PageTitle: page.Title,
		PageText:  page.Text,
	}
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var netErr interface{ Timeout() bool }
	return errors.As(err, &netErr) && netErr.Timeout()
}
