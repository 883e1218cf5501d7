package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/caarlos0/env/v11"
	internalconfig "github.com/foxseedlab/lecturerelay/internal/config"
	"github.com/joho/godotenv"
)

type envConfig struct {
	Env                    string        `env:"ENV" envDefault:"production"`
	TelegramAPIID          int           `env:"TELEGRAM_API_ID,required"`
	TelegramAPIHash        string        `env:"TELEGRAM_API_HASH,required"`
	TelegramDebug          bool          `env:"TELEGRAM_DEBUG" envDefault:"false"`
	DatabaseURL            string        `env:"DATABASE_URL,required"`
	AdminListenAddr        string        `env:"ADMIN_LISTEN_ADDR" envDefault:":5000"`
	AdminJWTSecret         string        `env:"ADMIN_JWT_SECRET,required"`
	AdminSessionHours      int           `env:"ADMIN_SESSION_HOURS" envDefault:"24"`
	RelayBotUsername       string        `env:"RELAY_BOT_USERNAME" envDefault:"url_uploder_nrbot"`
	RelayCommandFormat     string        `env:"RELAY_COMMAND_FORMAT" envDefault:"%s|%s"`
	RelayPromptMarker      string        `env:"RELAY_PROMPT_MARKER" envDefault:"Choose Video Quality"`
	RelayBestLabel         string        `env:"RELAY_BEST_LABEL" envDefault:"Best Video"`
	RelayPromptWait        time.Duration `env:"RELAY_PROMPT_WAIT" envDefault:"5s"`
	RelayPromptAttempts    int           `env:"RELAY_PROMPT_ATTEMPTS" envDefault:"3"`
	RelayLookback          int           `env:"RELAY_LOOKBACK" envDefault:"10"`
	RelayPollInterval      time.Duration `env:"RELAY_POLL_INTERVAL" envDefault:"15s"`
	RelayInactivityTimeout time.Duration `env:"RELAY_INACTIVITY_TIMEOUT" envDefault:"30m"`
	RelayTotalTimeout      time.Duration `env:"RELAY_TOTAL_TIMEOUT" envDefault:"3h"`
	RelayMinResultBytes    int64         `env:"RELAY_MIN_RESULT_BYTES" envDefault:"5242880"`
	LectureCooldown        time.Duration `env:"LECTURE_COOLDOWN" envDefault:"5m"`
	HTTPTimeout            time.Duration `env:"HTTP_TIMEOUT" envDefault:"30s"`
	StatusMessageTTL       time.Duration `env:"STATUS_MESSAGE_TTL" envDefault:"0s"`
	ReportTimezone         string        `env:"REPORT_TIMEZONE" envDefault:"Asia/Kolkata"`
	ScheduleAPIBaseURL     string        `env:"SCHEDULE_API_BASE_URL,required"`
	VideoAPIBaseURL        string        `env:"VIDEO_API_BASE_URL,required"`
	ConverterAPIBaseURL    string        `env:"CONVERTER_API_BASE_URL,required"`
	AutoCheckCron          string        `env:"AUTO_CHECK_CRON"`
	DeliveryWebhookURL     string        `env:"DELIVERY_WEBHOOK_URL"`
	DiscordToken           string        `env:"DISCORD_TOKEN"`
	DiscordNotifyChannelID string        `env:"DISCORD_NOTIFY_CHANNEL_ID"`
}

// Load reads an optional .env file and then the process environment.
func Load() (*internalconfig.Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to read .env file: %w", err)
	}

	var raw envConfig
	if err := env.Parse(&raw); err != nil {
		return nil, fmt.Errorf("environment variables are invalid or missing: %w", err)
	}

	cfg := &internalconfig.Config{
		Env:                    raw.Env,
		TelegramAPIID:          raw.TelegramAPIID,
		TelegramAPIHash:        raw.TelegramAPIHash,
		TelegramDebug:          raw.TelegramDebug,
		DatabaseURL:            raw.DatabaseURL,
		AdminListenAddr:        raw.AdminListenAddr,
		AdminJWTSecret:         raw.AdminJWTSecret,
		AdminSessionHours:      raw.AdminSessionHours,
		RelayBotUsername:       raw.RelayBotUsername,
		RelayCommandFormat:     raw.RelayCommandFormat,
		RelayPromptMarker:      raw.RelayPromptMarker,
		RelayBestLabel:         raw.RelayBestLabel,
		RelayPromptWait:        raw.RelayPromptWait,
		RelayPromptAttempts:    raw.RelayPromptAttempts,
		RelayLookback:          raw.RelayLookback,
		RelayPollInterval:      raw.RelayPollInterval,
		RelayInactivityTimeout: raw.RelayInactivityTimeout,
		RelayTotalTimeout:      raw.RelayTotalTimeout,
		RelayMinResultBytes:    raw.RelayMinResultBytes,
		LectureCooldown:        raw.LectureCooldown,
		HTTPTimeout:            raw.HTTPTimeout,
		StatusMessageTTL:       raw.StatusMessageTTL,
		ReportTimezone:         raw.ReportTimezone,
		ScheduleAPIBaseURL:     raw.ScheduleAPIBaseURL,
		VideoAPIBaseURL:        raw.VideoAPIBaseURL,
		ConverterAPIBaseURL:    raw.ConverterAPIBaseURL,
		AutoCheckCron:          raw.AutoCheckCron,
		DeliveryWebhookURL:     raw.DeliveryWebhookURL,
		DiscordToken:           raw.DiscordToken,
		DiscordNotifyChannelID: raw.DiscordNotifyChannelID,
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
