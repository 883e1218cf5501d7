package worker

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/foxseedlab/lecturerelay/internal/pipeline"
	"github.com/foxseedlab/lecturerelay/internal/registry"
	"github.com/foxseedlab/lecturerelay/internal/telegram"
	"github.com/robfig/cron/v3"
)

var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...any) {
	slog.Debug("auto check scheduler: "+msg, keysAndValues...)
}

func (cronLogger) Error(err error, msg string, keysAndValues ...any) {
	slog.Error("auto check scheduler: "+msg, append([]any{"error", err}, keysAndValues...)...)
}

type checkRunner interface {
	HandleCheck(ctx context.Context, event telegram.CommandEvent)
	Running() bool
}

// ValidateCronSpec reports whether spec is usable as AUTO_CHECK_CRON.
func ValidateCronSpec(spec string) error {
	if spec == "" {
		return nil
	}
	if _, err := cronParser.Parse(spec); err != nil {
		return fmt.Errorf("invalid AUTO_CHECK_CRON %q: %w", spec, err)
	}
	return nil
}

// startAutoCheck runs a check for every active channel on the given
// schedule. A tick is skipped while the previous one is still running, and a
// channel is skipped while any other check holds the runner.
func startAutoCheck(ctx context.Context, spec string, runner checkRunner, channels func() *registry.Snapshot) (*cron.Cron, error) {
	c := cron.New(
		cron.WithParser(cronParser),
		cron.WithChain(cron.SkipIfStillRunning(cronLogger{})),
		cron.WithLogger(cronLogger{}),
	)
	_, err := c.AddFunc(spec, func() {
		runAutoCheck(ctx, runner, channels())
	})
	if err != nil {
		return nil, fmt.Errorf("invalid AUTO_CHECK_CRON %q: %w", spec, err)
	}
	c.Start()
	slog.Info("auto check scheduled", "spec", spec)
	return c, nil
}

func runAutoCheck(ctx context.Context, runner checkRunner, snapshot *registry.Snapshot) {
	for _, ch := range snapshot.Active() {
		if ctx.Err() != nil {
			return
		}
		if runner.Running() {
			slog.Info("auto check skipped; a check is already running", "channel_id", ch.ChannelID)
			continue
		}
		key := telegram.NormalizeChatKey(ch.ChannelID)
		slog.Info("auto check triggered", "channel_id", ch.ChannelID)
		runner.HandleCheck(ctx, telegram.CommandEvent{Chat: key, Command: pipeline.CheckCommand})
	}
}
