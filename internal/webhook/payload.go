package webhook

// Event types carried in the X-Webhook-Event header.
const (
	EventTaskCompleted  = "task.completed"
	EventStatsBroadcast = "task.stats"
)

// TaskStats is one entry in a webhook payload. The task_id here is the
// external platform's id, not ours; platform counters are omitted when zero.
type TaskStats struct {
	ProjectID    int64 `json:"project_id"`
	TaskID       int64 `json:"task_id"`
	Duration     int   `json:"duration"`
	AccountCount int64 `json:"account_count"`

	YTViewCount    int64 `json:"yt_view_count,omitempty"`
	YTLikeCount    int64 `json:"yt_like_count,omitempty"`
	YTAccountCount int64 `json:"yt_account_count,omitempty"`
	TTViewCount    int64 `json:"tt_view_count,omitempty"`
	TTLikeCount    int64 `json:"tt_like_count,omitempty"`
	TTAccountCount int64 `json:"tt_account_count,omitempty"`
	IGViewCount    int64 `json:"ig_view_count,omitempty"`
	IGLikeCount    int64 `json:"ig_like_count,omitempty"`
	IGAccountCount int64 `json:"ig_account_count,omitempty"`
}

// Payload is the JSON body POSTed to a platform callback.
type Payload struct {
	SiteName string      `json:"site_name"`
	Stats    []TaskStats `json:"stats"`
}
