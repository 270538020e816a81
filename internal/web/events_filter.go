package web

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"clippay/internal/events"
)

type eventFilter struct {
	eventType string
	platform  string
	taskID    *int64
	userID    *int64
}

func parseEventFilter(r *http.Request) (eventFilter, error) {
	query := r.URL.Query()
	filter := eventFilter{
		eventType: strings.TrimSpace(query.Get("type")),
		platform:  strings.TrimSpace(query.Get("platform")),
	}
	if val := strings.TrimSpace(query.Get("task_id")); val != "" {
		parsed, err := strconv.ParseInt(val, 10, 64)
		if err != nil {
			return eventFilter{}, fmt.Errorf("invalid task_id")
		}
		filter.taskID = &parsed
	}
	if val := strings.TrimSpace(query.Get("user_id")); val != "" {
		parsed, err := strconv.ParseInt(val, 10, 64)
		if err != nil {
			return eventFilter{}, fmt.Errorf("invalid user_id")
		}
		filter.userID = &parsed
	}
	return filter, nil
}

func (f eventFilter) Matches(event events.Event) bool {
	if f.eventType != "" && event.Type != f.eventType {
		return false
	}
	if f.platform != "" && event.Platform != f.platform {
		return false
	}
	if f.taskID != nil && event.TaskID != *f.taskID {
		return false
	}
	if f.userID != nil && event.UserID != *f.userID {
		return false
	}
	return true
}
