package schedule

import (
	"context"
	"strings"
)

type Status string

const (
	StatusScheduled Status = "SCHEDULED"
	StatusLive      Status = "LIVE"
	StatusCompleted Status = "COMPLETED"
)

func (s Status) Is(other Status) bool {
	return strings.EqualFold(strings.TrimSpace(string(s)), string(other))
}

type Session struct {
	ID             string
	Topic          string
	Subject        string
	Status         Status
	IsVideoLecture bool
	// EndTime is kept as received so malformed values can be reported.
	EndTime string
}

func (s Session) DisplayTitle() string {
	switch {
	case s.Subject != "" && s.Topic != "":
		return s.Subject + " - " + s.Topic
	case s.Topic != "":
		return s.Topic
	case s.Subject != "":
		return s.Subject
	default:
		return s.ID
	}
}

// Client never returns an error: failures are logged and reported as an
// empty schedule.
type Client interface {
	FetchSchedule(ctx context.Context, batchID, token string) []Session
}
