package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/foxseedlab/lecturerelay/internal/config"
	"github.com/foxseedlab/lecturerelay/internal/notify"
	"github.com/foxseedlab/lecturerelay/internal/pipeline"
	"github.com/foxseedlab/lecturerelay/internal/registry"
	"github.com/foxseedlab/lecturerelay/internal/relay"
	"github.com/foxseedlab/lecturerelay/internal/schedule"
	"github.com/foxseedlab/lecturerelay/internal/telegram"
	"github.com/robfig/cron/v3"
)

var (
	ErrNoSession      = errors.New("telegram session is not configured")
	ErrAlreadyRunning = errors.New("worker is already running")
)

// Worker owns one chat transport connection and serves /check on it.
type Worker struct {
	cfg        *config.Config
	newClient  telegram.ClientFactory
	schedule   schedule.Client
	videos     pipeline.VideoResolver
	deliveries pipeline.DeliveryRecorder
	notifier   notify.Notifier

	mu       sync.Mutex
	creds    config.Credentials
	channels *registry.Snapshot
	orch     *pipeline.Orchestrator
	cancel   context.CancelFunc
}

func New(cfg *config.Config, newClient telegram.ClientFactory, sched schedule.Client, videos pipeline.VideoResolver, deliveries pipeline.DeliveryRecorder, notifier notify.Notifier) *Worker {
	return &Worker{
		cfg:        cfg,
		newClient:  newClient,
		schedule:   sched,
		videos:     videos,
		deliveries: deliveries,
		notifier:   notifier,
		channels:   registry.NewSnapshot(nil),
	}
}

// Configure swaps the credentials used by subsequent checks. It reports
// whether the chat session changed, which needs a reconnect to take effect.
func (w *Worker) Configure(creds config.Credentials) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	sessionChanged := w.creds.TelegramSession != creds.TelegramSession
	w.creds = creds
	if w.orch != nil {
		w.orch.SetCredentials(creds)
	}
	return sessionChanged
}

func (w *Worker) SetChannels(channels []registry.ChannelMapping) {
	snapshot := registry.NewSnapshot(channels)
	w.mu.Lock()
	defer w.mu.Unlock()
	w.channels = snapshot
	if w.orch != nil {
		w.orch.SetChannels(snapshot)
	}
}

func (w *Worker) currentChannels() *registry.Snapshot {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.channels
}

func (w *Worker) Running() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.cancel != nil
}

// Start connects the transport and blocks until it disconnects, Stop is
// called or ctx is cancelled.
func (w *Worker) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.cancel != nil {
		w.mu.Unlock()
		return ErrAlreadyRunning
	}
	if w.creds.TelegramSession == "" {
		w.mu.Unlock()
		return ErrNoSession
	}
	client, err := w.newClient(w.creds.TelegramSession)
	if err != nil {
		w.mu.Unlock()
		return fmt.Errorf("failed to create telegram client: %w", err)
	}
	runCtx, cancel := context.WithCancel(ctx)
	negotiator := relay.NewNegotiator(client, relay.ProtocolFromConfig(w.cfg), relay.TunablesFromConfig(w.cfg))
	orch := pipeline.NewOrchestrator(client, w.schedule, w.videos, negotiator, w.deliveries, w.notifier, pipeline.Settings{
		Cooldown:         w.cfg.LectureCooldown,
		StatusMessageTTL: w.cfg.StatusMessageTTL,
		Location:         w.cfg.ReportLocation(),
	})
	orch.SetChannels(w.channels)
	orch.SetCredentials(w.creds)
	w.orch = orch
	w.cancel = cancel
	w.mu.Unlock()

	defer func() {
		cancel()
		w.mu.Lock()
		w.orch = nil
		w.cancel = nil
		w.mu.Unlock()
	}()

	client.RegisterCommandHandler(pipeline.CheckCommand, func(event telegram.CommandEvent) {
		go orch.HandleCheck(runCtx, event)
	})
	if err := client.Connect(runCtx); err != nil {
		return fmt.Errorf("failed to connect telegram client: %w", err)
	}
	slog.Info("worker connected", "agent", w.cfg.RelayBotUsername)

	go func() {
		<-runCtx.Done()
		if err := client.Close(); err != nil {
			slog.Warn("failed to close telegram client", "error", err)
		}
	}()

	var scheduler *cron.Cron
	if w.cfg.AutoCheckCron != "" {
		scheduler, err = startAutoCheck(runCtx, w.cfg.AutoCheckCron, orch, w.currentChannels)
		if err != nil {
			slog.Error("auto check disabled", "error", err)
		}
	}

	runErr := client.Run()
	stopped := runCtx.Err() != nil
	cancel()
	if scheduler != nil {
		<-scheduler.Stop().Done()
	}
	if stopped {
		slog.Info("worker stopped")
		return nil
	}
	if runErr != nil {
		return fmt.Errorf("telegram client stopped: %w", runErr)
	}
	return nil
}

// Stop is safe to call any number of times from any goroutine.
func (w *Worker) Stop() {
	w.mu.Lock()
	cancel := w.cancel
	w.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}
