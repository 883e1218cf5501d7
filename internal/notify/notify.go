package notify

import (
	"context"
	"errors"
	"time"
)

type Outcome string

const (
	OutcomeDelivered Outcome = "delivered"
	OutcomeFailed    Outcome = "failed"
)

type DeliveryEvent struct {
	ChannelID   string    `json:"channel_id"`
	ChannelName string    `json:"channel_name"`
	BatchID     string    `json:"batch_id"`
	SessionID   string    `json:"session_id"`
	Title       string    `json:"title"`
	Outcome     Outcome   `json:"outcome"`
	Reason      string    `json:"reason,omitempty"`
	OccurredAt  time.Time `json:"occurred_at"`
}

type BatchSummary struct {
	ChannelID    string    `json:"channel_id"`
	ChannelName  string    `json:"channel_name"`
	BatchID      string    `json:"batch_id"`
	Total        int       `json:"total"`
	Delivered    int       `json:"delivered"`
	Failed       int       `json:"failed"`
	NotAttempted int       `json:"not_attempted"`
	FinishedAt   time.Time `json:"finished_at"`
}

type Notifier interface {
	NotifyDelivery(ctx context.Context, event DeliveryEvent) error
	NotifySummary(ctx context.Context, summary BatchSummary) error
}

type multi []Notifier

// Multi fans out to every notifier and joins their errors.
func Multi(notifiers ...Notifier) Notifier {
	var m multi
	for _, n := range notifiers {
		if n != nil {
			m = append(m, n)
		}
	}
	return m
}

func (m multi) NotifyDelivery(ctx context.Context, event DeliveryEvent) error {
	var errs []error
	for _, n := range m {
		if err := n.NotifyDelivery(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m multi) NotifySummary(ctx context.Context, summary BatchSummary) error {
	var errs []error
	for _, n := range m {
		if err := n.NotifySummary(ctx, summary); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
