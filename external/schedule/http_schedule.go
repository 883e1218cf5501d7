package schedule

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/foxseedlab/lecturerelay/internal/schedule"
	"github.com/google/uuid"
)

const maxScheduleBodyBytes = 4 << 20

type HTTPClient struct {
	baseURL string
	timeout time.Duration
	client  *http.Client
	newID   func() string
}

func NewHTTPClient(baseURL string, timeout time.Duration) schedule.Client {
	return &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		timeout: timeout,
		client:  &http.Client{},
		newID:   func() string { return uuid.NewString() },
	}
}

type scheduleResponse struct {
	Data []scheduleItem `json:"data"`
}

type scheduleItem struct {
	ID             string      `json:"_id"`
	Topic          string      `json:"topic"`
	Subject        subjectName `json:"subject"`
	Status         string      `json:"status"`
	IsVideoLecture bool        `json:"isVideoLecture"`
	EndTime        *string     `json:"endTime"`
}

// subjectName accepts either a plain string or an object with a name.
type subjectName string

func (s *subjectName) UnmarshalJSON(b []byte) error {
	var plain string
	if err := json.Unmarshal(b, &plain); err == nil {
		*s = subjectName(plain)
		return nil
	}
	var obj struct {
		Name string `json:"name"`
	}
	if err := json.Unmarshal(b, &obj); err != nil {
		return err
	}
	*s = subjectName(obj.Name)
	return nil
}

func (c *HTTPClient) FetchSchedule(ctx context.Context, batchID, token string) []schedule.Session {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	correlationID := c.newID()
	endpoint := fmt.Sprintf("%s/v1/batches/%s/todays-schedule?%s", c.baseURL, url.PathEscape(batchID), url.Values{"random_id": {correlationID}}.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		slog.Error("failed to build schedule request", "error", err, "batch_id", batchID)
		return nil
	}
	req.Header.Set("Accept", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	req.Header.Set("X-Request-Id", correlationID)

	resp, err := c.client.Do(req)
	if err != nil {
		slog.Error("schedule request failed", "error", err, "batch_id", batchID, "correlation_id", correlationID)
		return nil
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		slog.Warn("schedule service rate limited the request", "batch_id", batchID, "status", resp.StatusCode, "rate_limited", true, "retry_after", resp.Header.Get("Retry-After"))
		return nil
	case resp.StatusCode != http.StatusOK:
		slog.Error("schedule service returned unexpected status", "batch_id", batchID, "status", resp.StatusCode, "rate_limited", false)
		return nil
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxScheduleBodyBytes))
	if err != nil {
		slog.Error("failed to read schedule response", "error", err, "batch_id", batchID)
		return nil
	}
	var parsed scheduleResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		slog.Error("malformed schedule response", "error", err, "batch_id", batchID)
		return nil
	}

	sessions := make([]schedule.Session, 0, len(parsed.Data))
	for _, item := range parsed.Data {
		s := schedule.Session{
			ID:             item.ID,
			Topic:          strings.TrimSpace(item.Topic),
			Subject:        strings.TrimSpace(string(item.Subject)),
			Status:         schedule.Status(strings.ToUpper(strings.TrimSpace(item.Status))),
			IsVideoLecture: item.IsVideoLecture,
		}
		if item.EndTime != nil {
			s.EndTime = *item.EndTime
		}
		sessions = append(sessions, s)
	}
	slog.Info("fetched schedule", "batch_id", batchID, "sessions", len(sessions), "correlation_id", correlationID)
	return sessions
}
