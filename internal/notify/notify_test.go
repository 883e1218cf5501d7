package notify

import (
	"context"
	"errors"
	"testing"
)

type recordingNotifier struct {
	deliveries []DeliveryEvent
	summaries  []BatchSummary
	err        error
}

func (r *recordingNotifier) NotifyDelivery(_ context.Context, event DeliveryEvent) error {
	r.deliveries = append(r.deliveries, event)
	return r.err
}

func (r *recordingNotifier) NotifySummary(_ context.Context, summary BatchSummary) error {
	r.summaries = append(r.summaries, summary)
	return r.err
}

func TestMulti_FansOutAndJoinsErrors(t *testing.T) {
	ok := &recordingNotifier{}
	failing := &recordingNotifier{err: errors.New("webhook down")}
	n := Multi(ok, nil, failing)

	err := n.NotifyDelivery(context.Background(), DeliveryEvent{SessionID: "s1", Outcome: OutcomeDelivered})
	if !errors.Is(err, failing.err) {
		t.Fatalf("expected joined error, got %v", err)
	}
	if len(ok.deliveries) != 1 || len(failing.deliveries) != 1 {
		t.Fatalf("every notifier should be called: %d, %d", len(ok.deliveries), len(failing.deliveries))
	}

	if err := Multi(ok).NotifySummary(context.Background(), BatchSummary{Total: 3}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(ok.summaries) != 1 || ok.summaries[0].Total != 3 {
		t.Fatalf("unexpected summaries: %+v", ok.summaries)
	}
}

func TestMulti_Empty(t *testing.T) {
	if err := Multi().NotifyDelivery(context.Background(), DeliveryEvent{}); err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
}
