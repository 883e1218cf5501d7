package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/foxseedlab/lecturerelay/internal/config"
	"github.com/foxseedlab/lecturerelay/internal/registry"
	"github.com/foxseedlab/lecturerelay/internal/repository"
)

const stopWaitTimeout = 10 * time.Second

type handle interface {
	Configure(creds config.Credentials) bool
	SetChannels(channels []registry.ChannelMapping)
	Start(ctx context.Context) error
	Stop()
}

// Supervisor owns the worker on behalf of the admin layer and keeps the
// persisted activation flag in sync with it.
type Supervisor struct {
	worker handle
	state  repository.WorkerStateRepository

	mu      sync.Mutex
	baseCtx context.Context
	cancel  context.CancelFunc
	done    chan struct{}
	lastErr error
}

func NewSupervisor(w handle, state repository.WorkerStateRepository) *Supervisor {
	return &Supervisor{worker: w, state: state, baseCtx: context.Background()}
}

// Bootstrap loads credentials and channels into the worker and resumes it
// when it was active before the last shutdown.
func (s *Supervisor) Bootstrap(ctx context.Context, creds config.Credentials, channels []registry.ChannelMapping) error {
	s.mu.Lock()
	s.baseCtx = ctx
	s.mu.Unlock()

	s.worker.Configure(creds)
	s.worker.SetChannels(channels)

	active, err := s.state.GetSessionActive(ctx)
	if err != nil {
		return fmt.Errorf("failed to load worker state: %w", err)
	}
	if !active {
		slog.Info("worker inactive at boot")
		return nil
	}
	if creds.TelegramSession == "" {
		slog.Warn("worker was active but no telegram session is configured; staying inactive")
		return nil
	}
	slog.Info("resuming worker")
	s.launch()
	return nil
}

func (s *Supervisor) Activate(ctx context.Context) error {
	if err := s.state.SetSessionActive(ctx, true); err != nil {
		return fmt.Errorf("failed to persist worker state: %w", err)
	}
	s.launch()
	return nil
}

func (s *Supervisor) Deactivate(ctx context.Context) error {
	if err := s.state.SetSessionActive(ctx, false); err != nil {
		return fmt.Errorf("failed to persist worker state: %w", err)
	}
	s.halt()
	return nil
}

func (s *Supervisor) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.done != nil
}

// LastError returns why the most recent run ended, if it failed.
func (s *Supervisor) LastError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// Configure pushes new credentials and reconnects when the session changed
// while the worker was running.
func (s *Supervisor) Configure(creds config.Credentials) {
	if !s.worker.Configure(creds) || !s.Active() {
		return
	}
	slog.Info("telegram session changed; restarting worker")
	s.halt()
	s.launch()
}

func (s *Supervisor) SetChannels(channels []registry.ChannelMapping) {
	s.worker.SetChannels(channels)
}

// Shutdown stops the worker without touching the persisted flag.
func (s *Supervisor) Shutdown() {
	s.halt()
}

func (s *Supervisor) launch() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done != nil {
		return
	}
	ctx, cancel := context.WithCancel(s.baseCtx)
	done := make(chan struct{})
	s.cancel = cancel
	s.done = done
	s.lastErr = nil

	go func() {
		defer close(done)
		err := s.worker.Start(ctx)
		if err != nil {
			slog.Error("worker exited with error", "error", err)
		}
		s.mu.Lock()
		if s.done == done {
			s.done = nil
			s.cancel = nil
			s.lastErr = err
		}
		s.mu.Unlock()
		cancel()
	}()
}

func (s *Supervisor) halt() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel = nil
	s.done = nil
	s.mu.Unlock()
	if done == nil {
		return
	}
	cancel()
	s.worker.Stop()
	select {
	case <-done:
	case <-time.After(stopWaitTimeout):
		slog.Warn("worker did not stop in time", "timeout", stopWaitTimeout.String())
	}
}

// Wait blocks until the current run ends or ctx is done.
func (s *Supervisor) Wait(ctx context.Context) error {
	s.mu.Lock()
	done := s.done
	s.mu.Unlock()
	if done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
