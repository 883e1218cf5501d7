package config

import (
	"fmt"
	"strings"
	"time"
)

type Config struct {
	Env string

	TelegramAPIID   int
	TelegramAPIHash string
	TelegramDebug   bool

	DatabaseURL       string
	AdminListenAddr   string
	AdminJWTSecret    string
	AdminSessionHours int

	RelayBotUsername       string
	RelayCommandFormat     string
	RelayPromptMarker      string
	RelayBestLabel         string
	RelayPromptWait        time.Duration
	RelayPromptAttempts    int
	RelayLookback          int
	RelayPollInterval      time.Duration
	RelayInactivityTimeout time.Duration
	RelayTotalTimeout      time.Duration
	RelayMinResultBytes    int64

	LectureCooldown  time.Duration
	HTTPTimeout      time.Duration
	StatusMessageTTL time.Duration
	ReportTimezone   string

	ScheduleAPIBaseURL  string
	VideoAPIBaseURL     string
	ConverterAPIBaseURL string

	AutoCheckCron string

	DeliveryWebhookURL     string
	DiscordToken           string
	DiscordNotifyChannelID string
}

// Credentials are the secrets the admin layer owns. The worker only ever
// receives copies of them.
type Credentials struct {
	TelegramSession string `json:"telegramSession"`
	ScheduleToken   string `json:"pwToken"`
	ConverterToken  string `json:"styStrkToken"`
}

func (c Credentials) Masked() Credentials {
	return Credentials{
		TelegramSession: maskSecret(c.TelegramSession),
		ScheduleToken:   maskSecret(c.ScheduleToken),
		ConverterToken:  maskSecret(c.ConverterToken),
	}
}

func maskSecret(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 8 {
		return strings.Repeat("*", len(s))
	}
	return s[:4] + strings.Repeat("*", len(s)-8) + s[len(s)-4:]
}

func (c *Config) Validate() error {
	for _, req := range c.requiredFieldChecks() {
		if req.value == "" {
			return fmt.Errorf("%s is required", req.name)
		}
	}
	if c.TelegramAPIID <= 0 {
		return fmt.Errorf("TELEGRAM_API_ID must be positive, got %d", c.TelegramAPIID)
	}
	if c.AdminSessionHours <= 0 {
		return fmt.Errorf("ADMIN_SESSION_HOURS must be positive, got %d", c.AdminSessionHours)
	}
	if err := validateCommandFormat(c.RelayCommandFormat); err != nil {
		return err
	}
	for _, d := range c.positiveDurationChecks() {
		if d.value <= 0 {
			return fmt.Errorf("%s must be positive, got %s", d.name, d.value)
		}
	}
	if c.RelayPromptAttempts <= 0 {
		return fmt.Errorf("RELAY_PROMPT_ATTEMPTS must be positive, got %d", c.RelayPromptAttempts)
	}
	if c.RelayLookback <= 0 {
		return fmt.Errorf("RELAY_LOOKBACK must be positive, got %d", c.RelayLookback)
	}
	if c.RelayMinResultBytes < 0 {
		return fmt.Errorf("RELAY_MIN_RESULT_BYTES must not be negative, got %d", c.RelayMinResultBytes)
	}
	if c.RelayTotalTimeout < c.RelayInactivityTimeout {
		return fmt.Errorf("RELAY_TOTAL_TIMEOUT (%s) must not be shorter than RELAY_INACTIVITY_TIMEOUT (%s)", c.RelayTotalTimeout, c.RelayInactivityTimeout)
	}
	if c.LectureCooldown < 0 || c.StatusMessageTTL < 0 {
		return fmt.Errorf("LECTURE_COOLDOWN and STATUS_MESSAGE_TTL must not be negative")
	}
	if _, err := time.LoadLocation(c.ReportTimezone); err != nil {
		return fmt.Errorf("REPORT_TIMEZONE is invalid: %w", err)
	}
	if (c.DiscordToken == "") != (c.DiscordNotifyChannelID == "") {
		return fmt.Errorf("DISCORD_TOKEN and DISCORD_NOTIFY_CHANNEL_ID must be set together")
	}
	return nil
}

// validateCommandFormat accepts one %s (url) or two (url, title). %% is a
// literal percent sign; any other verb is rejected.
func validateCommandFormat(format string) error {
	verbs := 0
	for i := 0; i < len(format); i++ {
		if format[i] != '%' {
			continue
		}
		if i+1 >= len(format) {
			return fmt.Errorf("RELAY_COMMAND_FORMAT ends with a dangling %%")
		}
		i++
		switch format[i] {
		case '%':
		case 's':
			verbs++
		default:
			return fmt.Errorf("RELAY_COMMAND_FORMAT only supports %%s verbs, found %%%c", format[i])
		}
	}
	if verbs < 1 || verbs > 2 {
		return fmt.Errorf("RELAY_COMMAND_FORMAT must contain one or two %%s verbs, found %d", verbs)
	}
	return nil
}

type requiredEnvField struct {
	name  string
	value string
}

func (c *Config) requiredFieldChecks() []requiredEnvField {
	return []requiredEnvField{
		{name: "TELEGRAM_API_HASH", value: c.TelegramAPIHash},
		{name: "DATABASE_URL", value: c.DatabaseURL},
		{name: "ADMIN_LISTEN_ADDR", value: c.AdminListenAddr},
		{name: "ADMIN_JWT_SECRET", value: c.AdminJWTSecret},
		{name: "RELAY_BOT_USERNAME", value: c.RelayBotUsername},
		{name: "RELAY_PROMPT_MARKER", value: c.RelayPromptMarker},
		{name: "RELAY_BEST_LABEL", value: c.RelayBestLabel},
		{name: "REPORT_TIMEZONE", value: c.ReportTimezone},
		{name: "SCHEDULE_API_BASE_URL", value: c.ScheduleAPIBaseURL},
		{name: "VIDEO_API_BASE_URL", value: c.VideoAPIBaseURL},
		{name: "CONVERTER_API_BASE_URL", value: c.ConverterAPIBaseURL},
	}
}

type durationField struct {
	name  string
	value time.Duration
}

func (c *Config) positiveDurationChecks() []durationField {
	return []durationField{
		{name: "RELAY_PROMPT_WAIT", value: c.RelayPromptWait},
		{name: "RELAY_POLL_INTERVAL", value: c.RelayPollInterval},
		{name: "RELAY_INACTIVITY_TIMEOUT", value: c.RelayInactivityTimeout},
		{name: "RELAY_TOTAL_TIMEOUT", value: c.RelayTotalTimeout},
		{name: "HTTP_TIMEOUT", value: c.HTTPTimeout},
	}
}

func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

func (c *Config) ReportLocation() *time.Location {
	loc, err := time.LoadLocation(c.ReportTimezone)
	if err != nil {
		return time.UTC
	}
	return loc
}
