package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/foxseedlab/lecturerelay/internal/config"
	"github.com/foxseedlab/lecturerelay/internal/notify"
	"github.com/foxseedlab/lecturerelay/internal/registry"
	"github.com/foxseedlab/lecturerelay/internal/relay"
	"github.com/foxseedlab/lecturerelay/internal/repository"
	"github.com/foxseedlab/lecturerelay/internal/schedule"
	"github.com/foxseedlab/lecturerelay/internal/telegram"
	"github.com/foxseedlab/lecturerelay/internal/video"
)

const (
	CheckCommand = "check"

	detachedSendTimeout = 15 * time.Second
)

type VideoResolver interface {
	ResolvePlayable(ctx context.Context, batchID, sessionID string, tokens video.Tokens) (video.Reference, error)
}

type Negotiator interface {
	Negotiate(ctx context.Context, videoURL, title string) (*relay.Exchange, error)
}

type DeliveryRecorder interface {
	CreateDelivery(ctx context.Context, input repository.CreateDeliveryInput) (*repository.Delivery, error)
}

type Settings struct {
	Cooldown         time.Duration
	StatusMessageTTL time.Duration
	Location         *time.Location
}

type Orchestrator struct {
	client     telegram.Client
	schedule   schedule.Client
	videos     VideoResolver
	negotiator Negotiator
	deliveries DeliveryRecorder
	notifier   notify.Notifier
	settings   Settings

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) bool

	running atomic.Bool

	mu       sync.RWMutex
	channels *registry.Snapshot
	creds    config.Credentials
}

func NewOrchestrator(client telegram.Client, sched schedule.Client, videos VideoResolver, negotiator Negotiator, deliveries DeliveryRecorder, notifier notify.Notifier, settings Settings) *Orchestrator {
	if settings.Location == nil {
		settings.Location = time.UTC
	}
	if notifier == nil {
		notifier = notify.Multi()
	}
	return &Orchestrator{
		client:     client,
		schedule:   sched,
		videos:     videos,
		negotiator: negotiator,
		deliveries: deliveries,
		notifier:   notifier,
		settings:   settings,
		now:        time.Now,
		sleep:      sleepContext,
	}
}

func sleepContext(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func (o *Orchestrator) SetChannels(snapshot *registry.Snapshot) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.channels = snapshot
}

func (o *Orchestrator) SetCredentials(creds config.Credentials) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.creds = creds
}

func (o *Orchestrator) snapshot() (*registry.Snapshot, config.Credentials) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.channels, o.creds
}

func (o *Orchestrator) Running() bool {
	return o.running.Load()
}

// HandleCheck runs one /check batch for the chat the command came from.
func (o *Orchestrator) HandleCheck(ctx context.Context, event telegram.CommandEvent) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("check handler panicked", "panic", fmt.Sprint(r), "chat", event.Chat, "stack", string(debug.Stack()))
			o.reply(ctx, event.Chat, messageUnexpectedError)
		}
	}()

	channels, creds := o.snapshot()
	mapping, ok := channels.Lookup(event.Chat, event.AltChat)
	if !ok {
		slog.Info("ignoring check from unregistered chat", "chat", event.Chat, "alt_chat", event.AltChat)
		return
	}
	if !mapping.Active {
		slog.Info("check requested for disabled channel", "channel_id", mapping.ChannelID)
		o.reply(ctx, event.Chat, messageChannelDisabled)
		return
	}
	if !o.running.CompareAndSwap(false, true) {
		slog.Info("check rejected; batch already running", "channel_id", mapping.ChannelID)
		o.reply(ctx, event.Chat, messageBatchRunning)
		return
	}
	defer o.running.Store(false)

	o.runBatch(ctx, event.Chat, mapping, creds)
}

func (o *Orchestrator) runBatch(ctx context.Context, chat telegram.ChatKey, mapping registry.ChannelMapping, creds config.Credentials) {
	slog.Info("check started", "channel_id", mapping.ChannelID, "batch_id", mapping.BatchID)
	if err := o.sendStatus(ctx, chat, messageChecking); err != nil {
		slog.Error("origin chat is unreachable; check aborted", "error", err, "chat", chat, "channel_id", mapping.ChannelID)
		return
	}

	sessions := o.schedule.FetchSchedule(ctx, mapping.BatchID, creds.ScheduleToken)
	if len(sessions) == 0 {
		o.reply(ctx, chat, messageNoneScheduled)
		return
	}
	available := schedule.FilterAvailable(sessions, o.now(), o.settings.Location)
	if len(available) == 0 {
		o.reply(ctx, chat, noneReadyMessage(len(sessions)))
		return
	}
	slog.Info("lectures available", "channel_id", mapping.ChannelID, "batch_id", mapping.BatchID, "scheduled", len(sessions), "available", len(available))
	o.reply(ctx, chat, foundMessage(len(available)))

	summary := notify.BatchSummary{
		ChannelID:   mapping.ChannelID,
		ChannelName: mapping.Name,
		BatchID:     mapping.BatchID,
		Total:       len(available),
	}
	for i, s := range available {
		if i > 0 {
			slog.Info("cooling down before next lecture", "cooldown", o.settings.Cooldown.String())
			if !o.sleep(ctx, o.settings.Cooldown) {
				summary.NotAttempted = len(available) - i
				slog.Warn("check interrupted during cooldown", "channel_id", mapping.ChannelID, "processed", i, "not_attempted", summary.NotAttempted)
				break
			}
		}
		if o.processItem(ctx, chat, mapping, creds, s, i+1, len(available)) {
			summary.Delivered++
		} else {
			summary.Failed++
		}
	}

	// Sent even when a stop already cancelled ctx.
	finishCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), detachedSendTimeout)
	defer cancel()
	summary.FinishedAt = o.now()
	o.reply(finishCtx, chat, summaryMessage(summary.Delivered, summary.Total, summary.Failed, summary.NotAttempted))
	if err := o.notifier.NotifySummary(finishCtx, summary); err != nil {
		slog.Error("failed to notify batch summary", "error", err, "channel_id", mapping.ChannelID)
	}
	slog.Info("check finished", "channel_id", mapping.ChannelID, "batch_id", mapping.BatchID, "delivered", summary.Delivered, "failed", summary.Failed, "not_attempted", summary.NotAttempted, "total", summary.Total)
}

func (o *Orchestrator) processItem(ctx context.Context, chat telegram.ChatKey, mapping registry.ChannelMapping, creds config.Credentials, s schedule.Session, index, total int) (delivered bool) {
	title := s.DisplayTitle()
	defer func() {
		if r := recover(); r != nil {
			slog.Error("lecture processing panicked", "panic", fmt.Sprint(r), "session_id", s.ID, "stack", string(debug.Stack()))
			o.reportFailure(ctx, chat, mapping, s, index, total, reasonUnexpected)
			delivered = false
		}
	}()

	slog.Info("processing lecture", "channel_id", mapping.ChannelID, "session_id", s.ID, "index", index, "total", total)
	o.sendStatus(ctx, chat, itemStartMessage(index, total, title))

	ref, err := o.videos.ResolvePlayable(ctx, mapping.BatchID, s.ID, video.Tokens{Resolve: creds.ScheduleToken, Convert: creds.ConverterToken})
	if err != nil {
		slog.Error("failed to resolve lecture video", "error", err, "session_id", s.ID)
		reason := reasonVideoNotResolved
		if errors.Is(err, video.ErrConversionFailed) {
			reason = reasonConversionFailed
		}
		o.reportFailure(ctx, chat, mapping, s, index, total, reason)
		return false
	}

	exchange, err := o.negotiator.Negotiate(ctx, ref.URL, title)
	if err != nil {
		reason := reasonRelayFailed
		if r, ok := relay.ReasonOf(err); ok {
			reason = failureReason(r)
		}
		slog.Error("relay negotiation failed", "error", err, "session_id", s.ID)
		o.reportFailure(ctx, chat, mapping, s, index, total, reason)
		return false
	}
	if exchange == nil || exchange.Result == nil {
		o.reportFailure(ctx, chat, mapping, s, index, total, reasonRelayFailed)
		return false
	}

	if err := o.client.SendMedia(ctx, chat, exchange.Result.Ref, Caption(s, o.now(), o.settings.Location)); err != nil {
		slog.Error("failed to forward lecture media", "error", err, "session_id", s.ID, "chat", chat)
		o.reportFailure(ctx, chat, mapping, s, index, total, reasonForwardFailed)
		return false
	}
	slog.Info("lecture delivered", "channel_id", mapping.ChannelID, "session_id", s.ID)
	o.recordOutcome(ctx, mapping, s, notify.OutcomeDelivered, "")
	return true
}

func (o *Orchestrator) reportFailure(ctx context.Context, chat telegram.ChatKey, mapping registry.ChannelMapping, s schedule.Session, index, total int, reason failureReason) {
	o.reply(ctx, chat, itemFailedMessage(index, total, s.DisplayTitle(), reason))
	o.recordOutcome(ctx, mapping, s, notify.OutcomeFailed, string(reason))
}

func (o *Orchestrator) recordOutcome(ctx context.Context, mapping registry.ChannelMapping, s schedule.Session, outcome notify.Outcome, reason string) {
	if o.deliveries != nil {
		_, err := o.deliveries.CreateDelivery(ctx, repository.CreateDeliveryInput{
			ChannelID: mapping.ChannelID,
			BatchID:   mapping.BatchID,
			SessionID: s.ID,
			Topic:     s.Topic,
			Subject:   s.Subject,
			Outcome:   repository.DeliveryOutcome(outcome),
			Reason:    reason,
		})
		if err != nil {
			slog.Error("failed to record delivery", "error", err, "session_id", s.ID)
		}
	}
	err := o.notifier.NotifyDelivery(ctx, notify.DeliveryEvent{
		ChannelID:   mapping.ChannelID,
		ChannelName: mapping.Name,
		BatchID:     mapping.BatchID,
		SessionID:   s.ID,
		Title:       s.DisplayTitle(),
		Outcome:     outcome,
		Reason:      reason,
		OccurredAt:  o.now(),
	})
	if err != nil {
		slog.Error("failed to notify delivery", "error", err, "session_id", s.ID)
	}
}

func (o *Orchestrator) reply(ctx context.Context, chat telegram.ChatKey, text string) int {
	id, _ := o.send(ctx, chat, text)
	return id
}

func (o *Orchestrator) send(ctx context.Context, chat telegram.ChatKey, text string) (int, error) {
	id, err := o.client.SendMessage(ctx, chat, text)
	if err != nil {
		slog.Error("failed to send chat message", "error", err, "chat", chat)
		return 0, err
	}
	return id, nil
}

// sendStatus posts a transient notice that is removed after the configured TTL.
func (o *Orchestrator) sendStatus(ctx context.Context, chat telegram.ChatKey, text string) error {
	id, err := o.send(ctx, chat, text)
	if err != nil {
		return err
	}
	if id == 0 || o.settings.StatusMessageTTL <= 0 {
		return nil
	}
	time.AfterFunc(o.settings.StatusMessageTTL, func() {
		delCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := o.client.DeleteMessages(delCtx, chat, id); err != nil {
			slog.Warn("failed to delete status message", "error", err, "chat", chat, "message_id", id)
		}
	})
	return nil
}
