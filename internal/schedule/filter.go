package schedule

import (
	"fmt"
	"log/slog"
	"strings"
	"time"
)

var localEndTimeLayouts = []string{
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

// FilterAvailable keeps the sessions that can be acquired now, in input order.
func FilterAvailable(sessions []Session, now time.Time, loc *time.Location) []Session {
	if loc == nil {
		loc = time.UTC
	}
	out := make([]Session, 0, len(sessions))
	for _, s := range sessions {
		if isAvailable(s, now, loc) {
			out = append(out, s)
		}
	}
	return out
}

func isAvailable(s Session, now time.Time, loc *time.Location) bool {
	if s.Status.Is(StatusCompleted) {
		return true
	}
	if s.IsVideoLecture {
		return true
	}
	if strings.TrimSpace(s.EndTime) == "" {
		return false
	}
	end, err := ParseEndTime(s.EndTime, loc)
	if err != nil {
		slog.Warn("skipping session with malformed end time", "session_id", s.ID, "end_time", s.EndTime, "error", err)
		return false
	}
	return now.In(loc).After(end)
}

// ParseEndTime accepts RFC 3339 timestamps and zone-less ISO-8601 values,
// which are read in loc.
func ParseEndTime(raw string, loc *time.Location) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if t, err := time.Parse(time.RFC3339Nano, raw); err == nil {
		return t.In(loc), nil
	}
	for _, layout := range localEndTimeLayouts {
		if t, err := time.ParseInLocation(layout, raw, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized end time %q", raw)
}
