package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	configloader "github.com/foxseedlab/lecturerelay/external/config"
	"github.com/foxseedlab/lecturerelay/external/discord"
	repositoryimpl "github.com/foxseedlab/lecturerelay/external/repository"
	scheduleimpl "github.com/foxseedlab/lecturerelay/external/schedule"
	telegramimpl "github.com/foxseedlab/lecturerelay/external/telegram"
	videoimpl "github.com/foxseedlab/lecturerelay/external/video"
	webhookimpl "github.com/foxseedlab/lecturerelay/external/webhook"
	"github.com/foxseedlab/lecturerelay/internal/admin"
	"github.com/foxseedlab/lecturerelay/internal/config"
	"github.com/foxseedlab/lecturerelay/internal/notify"
	"github.com/foxseedlab/lecturerelay/internal/repository"
	"github.com/foxseedlab/lecturerelay/internal/worker"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/samber/do/v2"
	"github.com/spf13/cobra"
)

const bootstrapTimeout = 30 * time.Second

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "lecturerelay",
		Short:         "Relays recorded lectures into Telegram channels",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context())
		},
	}
	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newMigrateCmd())
	return cmd
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the admin API and the relay worker",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context())
		},
	}
}

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(context.Background(), bootstrapTimeout)
			defer cancel()
			pool, err := repositoryimpl.Connect(ctx, cfg.DatabaseURL)
			if err != nil {
				slog.Error("database connect failed", "error", err)
				return err
			}
			defer pool.Close()
			if err := repositoryimpl.RunMigration(ctx, pool); err != nil {
				slog.Error("migration failed", "error", err)
				return err
			}
			slog.Info("migration finished")
			return nil
		},
	}
}

func loadConfig() (*config.Config, error) {
	slog.Info("startup: loading configuration")
	cfg, err := configloader.Load()
	if err != nil {
		slog.Error("config validation failed", "error", err)
		return nil, err
	}
	initLogger(cfg)
	slog.Info("startup: configuration loaded", "env", cfg.Env)
	return cfg, nil
}

func initLogger(cfg *config.Config) {
	logLevel := slog.LevelInfo
	if cfg.IsDevelopment() {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})))
}

func setupDI(cfg *config.Config) do.Injector {
	injector := do.New()

	do.ProvideValue(injector, cfg)
	repositoryimpl.RegisterDI(injector)
	scheduleimpl.RegisterDI(injector)
	videoimpl.RegisterDI(injector)
	telegramimpl.RegisterDI(injector)
	webhookimpl.RegisterDI(injector)
	discord.RegisterDI(injector)
	do.Provide(injector, func(i do.Injector) (notify.Notifier, error) {
		return notify.Multi(
			do.MustInvoke[*webhookimpl.HTTPNotifier](i),
			do.MustInvoke[*discord.Notifier](i),
		), nil
	})
	worker.RegisterDI(injector)
	admin.RegisterDI(injector)

	return injector
}

func serve(parent context.Context) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := worker.ValidateCronSpec(cfg.AutoCheckCron); err != nil {
		slog.Error("config validation failed", "error", err)
		return err
	}

	slog.Info("startup: building dependency graph")
	injector := setupDI(cfg)

	repo, err := do.Invoke[repository.Repository](injector)
	if err != nil {
		slog.Error("failed to resolve repository", "error", err)
		return err
	}
	defer do.MustInvoke[*pgxpool.Pool](injector).Close()

	supervisor, err := do.Invoke[*worker.Supervisor](injector)
	if err != nil {
		slog.Error("failed to resolve worker supervisor", "error", err)
		return err
	}
	server, err := do.Invoke[*admin.Server](injector)
	if err != nil {
		slog.Error("failed to resolve admin server", "error", err)
		return err
	}

	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := bootstrapWorker(ctx, repo, supervisor); err != nil {
		slog.Error("failed to bootstrap worker", "error", err)
		return err
	}
	defer supervisor.Shutdown()

	done := make(chan error, 1)
	go func() {
		done <- server.Run(ctx)
	}()

	select {
	case <-ctx.Done():
		slog.Info("shutting down")
		return <-done
	case err := <-done:
		if err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("admin api failed", "error", err)
			return err
		}
		return nil
	}
}

func bootstrapWorker(ctx context.Context, repo repository.Repository, supervisor *worker.Supervisor) error {
	loadCtx, cancel := context.WithTimeout(ctx, bootstrapTimeout)
	defer cancel()
	creds, err := repo.GetCredentials(loadCtx)
	if err != nil {
		return fmt.Errorf("failed to load credentials: %w", err)
	}
	channels, err := repo.ListChannels(loadCtx)
	if err != nil {
		return fmt.Errorf("failed to load channels: %w", err)
	}
	slog.Info("startup: channel mappings loaded", "channels", len(channels))
	return supervisor.Bootstrap(ctx, creds, channels)
}
