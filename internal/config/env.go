package config

import (
	"os"
	"strings"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"workhub/internal/errs"
)

// envOverlay holds the environment variables that override the config file.
// Deployment secrets usually arrive this way rather than through the file.
type envOverlay struct {
	TelegramToken   string `env:"TELEGRAM_BOT_TOKEN"`
	TelegramChatID  string `env:"TELEGRAM_CHAT_ID"`
	WebhookURL      string `env:"TELEGRAM_WEBHOOK_URL"`
	WebhookSecret   string `env:"TELEGRAM_WEBHOOK_SECRET"`
	APIURL          string `env:"API_URL"`
	BaseURL         string `env:"BASE_URL"`
	RedisHost       string `env:"REDIS_HOST"`
	RedisPort       int    `env:"REDIS_PORT"`
	RedisPassword   string `env:"REDIS_PASSWORD"`
	DatabaseURL     string `env:"DATABASE_URL"`
	AdminToken      string `env:"WORKHUB_ADMIN_TOKEN"`
	HTTPAddr        string `env:"WORKHUB_HTTP_ADDR"`
	Timezone        string `env:"TZ"`
	LogLevel        string `env:"LOG_LEVEL"`
	QueueDriver     string `env:"WORKHUB_QUEUE_DRIVER"`
	ScanDelivery    string `env:"WORKHUB_SCAN_DELIVERY"`
	ConversationTTL string `env:"WORKHUB_SESSION_TTL"`
}

// LoadDotEnv loads a .env file when present. A missing file is not an error.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	existing := make([]string, 0, len(paths))
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			existing = append(existing, p)
		}
	}
	if len(existing) == 0 {
		return nil
	}
	if err := godotenv.Load(existing...); err != nil {
		return errs.Wrap(err, "load .env file")
	}
	return nil
}

// ApplyEnv overlays environment variables onto cfg. environ may be nil to read
// the process environment.
func ApplyEnv(cfg *Config, environ map[string]string) error {
	if cfg == nil {
		return nil
	}
	var o envOverlay
	opts := env.Options{}
	if environ != nil {
		opts.Environment = environ
	}
	if err := env.ParseWithOptions(&o, opts); err != nil {
		return errs.Wrap(err, "parse environment")
	}

	set := func(dst *string, v string) {
		if v = strings.TrimSpace(v); v != "" {
			*dst = v
		}
	}
	set(&cfg.Telegram.Token, o.TelegramToken)
	set(&cfg.Telegram.ChatID, o.TelegramChatID)
	set(&cfg.Telegram.WebhookURL, o.WebhookURL)
	set(&cfg.Telegram.WebhookSecret, o.WebhookSecret)
	// API_URL wins over BASE_URL.
	set(&cfg.Inbox.APIURL, o.BaseURL)
	set(&cfg.Inbox.APIURL, o.APIURL)
	set(&cfg.Queue.Redis.Host, o.RedisHost)
	if o.RedisPort > 0 {
		cfg.Queue.Redis.Port = o.RedisPort
	}
	set(&cfg.Queue.Redis.Password, o.RedisPassword)
	set(&cfg.Queue.Driver, o.QueueDriver)
	set(&cfg.Registry.DatabaseURL, o.DatabaseURL)
	set(&cfg.HTTP.AdminToken, o.AdminToken)
	set(&cfg.HTTP.Addr, o.HTTPAddr)
	set(&cfg.Scheduler.Timezone, o.Timezone)
	set(&cfg.Logging.Level, o.LogLevel)
	set(&cfg.Reminders.ScanDelivery, o.ScanDelivery)
	set(&cfg.Conversation.SessionTTL, o.ConversationTTL)
	return nil
}
