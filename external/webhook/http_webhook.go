package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/foxseedlab/lecturerelay/internal/notify"
)

type HTTPNotifier struct {
	webhookURL string
	client     *http.Client
}

func NewHTTPNotifier(webhookURL string, timeout time.Duration) *HTTPNotifier {
	return &HTTPNotifier{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: timeout},
	}
}

type envelope struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

func (s *HTTPNotifier) NotifyDelivery(ctx context.Context, event notify.DeliveryEvent) error {
	return s.post(ctx, envelope{Type: "delivery", Data: event})
}

func (s *HTTPNotifier) NotifySummary(ctx context.Context, summary notify.BatchSummary) error {
	return s.post(ctx, envelope{Type: "batch_summary", Data: summary})
}

func (s *HTTPNotifier) post(ctx context.Context, payload envelope) error {
	if s.webhookURL == "" {
		return nil
	}

	b, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.webhookURL, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if !isHTTPSuccessStatus(resp.StatusCode) {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}

func isHTTPSuccessStatus(statusCode int) bool {
	return statusCode >= 200 && statusCode < 300
}
