package config

import (
	"strings"
	"time"

	"workhub/internal/errs"
)

const (
	DefaultAPIURL        = "http://localhost:3000"
	DefaultReminderHours = 24
	DefaultScanSchedule  = "@hourly"
	DefaultDigestAt      = "09:00"
	DefaultSessionTTL    = 20 * time.Minute
	DefaultRedisPort     = 6379
	DefaultHTTPAddr      = ":8080"
)

// ApplyDefaults fills fields whose zero value means "use the default".
func ApplyDefaults(cfg *Config) {
	if cfg == nil {
		return
	}
	if strings.TrimSpace(cfg.Queue.Driver) == "" {
		cfg.Queue.Driver = "redis"
	}
	if cfg.Queue.Redis.Host == "" {
		cfg.Queue.Redis.Host = "localhost"
	}
	if cfg.Queue.Redis.Port == 0 {
		cfg.Queue.Redis.Port = DefaultRedisPort
	}
	if cfg.Queue.Redis.Prefix == "" {
		cfg.Queue.Redis.Prefix = "workhub"
	}
	if cfg.Reminders.ReminderHours <= 0 {
		cfg.Reminders.ReminderHours = DefaultReminderHours
	}
	if strings.TrimSpace(cfg.Reminders.ScanSchedule) == "" {
		cfg.Reminders.ScanSchedule = DefaultScanSchedule
	}
	if strings.TrimSpace(cfg.Reminders.DigestAt) == "" {
		cfg.Reminders.DigestAt = DefaultDigestAt
	}
	if strings.TrimSpace(cfg.Reminders.ScanDelivery) == "" {
		cfg.Reminders.ScanDelivery = "log"
	}
	if strings.TrimSpace(cfg.Conversation.Store) == "" {
		cfg.Conversation.Store = "memory"
	}
	if strings.TrimSpace(cfg.Inbox.APIURL) == "" {
		cfg.Inbox.APIURL = DefaultAPIURL
	}
	if cfg.HTTP.Addr == "" {
		cfg.HTTP.Addr = DefaultHTTPAddr
	}
}

// Validate checks values that would otherwise fail late, at first use.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errs.New("config is nil")
	}

	var problems []error
	check := func(err error) {
		if err != nil {
			problems = append(problems, err)
		}
	}

	switch cfg.Queue.Driver {
	case "redis", "memory":
	default:
		check(errs.Newf("queue.driver: unknown driver %q", cfg.Queue.Driver))
	}
	switch cfg.Reminders.ScanDelivery {
	case "log", "notify":
	default:
		check(errs.Newf("reminders.scan_delivery: must be log or notify, got %q", cfg.Reminders.ScanDelivery))
	}
	switch cfg.Conversation.Store {
	case "memory", "redis":
	default:
		check(errs.Newf("conversation.store: must be memory or redis, got %q", cfg.Conversation.Store))
	}
	if cfg.Conversation.Store == "redis" && cfg.Queue.Redis.Host == "" {
		check(errs.New("conversation.store: redis store requires queue.redis.host"))
	}
	if cfg.Storage != nil {
		switch strings.ToLower(strings.TrimSpace(cfg.Storage.Driver)) {
		case "", "none", "sqlite", "memory":
		default:
			check(errs.Newf("storage.driver: unknown driver %q", cfg.Storage.Driver))
		}
		_, err := ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout)
		check(err)
	}

	for _, d := range []struct{ path, raw string }{
		{"telegram.poll_timeout", cfg.Telegram.PollTimeout},
		{"queue.poll_interval", cfg.Queue.PollInterval},
		{"queue.lease", cfg.Queue.Lease},
		{"reminders.lead_time", cfg.Reminders.LeadTime},
		{"conversation.session_ttl", cfg.Conversation.SessionTTL},
		{"inbox.timeout", cfg.Inbox.Timeout},
	} {
		_, err := ParseDurationField(d.path, d.raw)
		check(err)
	}
	if cfg.Engine != nil {
		_, err := ParseDurationField("task_engine.default_timeout", cfg.Engine.DefaultTimeout)
		check(err)
		_, err = ParseDurationField("task_engine.max_queue_delay", cfg.Engine.MaxQueueDelay)
		check(err)
	}
	if cfg.Notifier != nil {
		_, err := ParseDurationField("notifier.dedup_window", cfg.Notifier.DedupWindow)
		check(err)
	}

	if tz := strings.TrimSpace(cfg.Scheduler.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			check(errs.Wrapf(err, "scheduler.timezone: %q", tz))
		}
	}
	if _, _, err := ParseClock(cfg.Reminders.DigestAt); err != nil {
		check(errs.Wrap(err, "reminders.digest_at"))
	}

	if cfg.Telegram.WebhookURL != "" && !cfg.HTTP.Enabled {
		check(errs.New("telegram.webhook_url: webhook mode requires http.enabled"))
	}

	if len(problems) == 0 {
		return nil
	}
	return errs.Join(problems...)
}

// Location returns the configured timezone or time.Local.
func (c *Config) Location() *time.Location {
	if c == nil {
		return time.Local
	}
	tz := strings.TrimSpace(c.Scheduler.Timezone)
	if tz == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return time.Local
	}
	return loc
}

// ParseClock parses "HH:MM" (24h).
func ParseClock(s string) (hour, minute int, err error) {
	t, err := time.Parse("15:04", strings.TrimSpace(s))
	if err != nil {
		return 0, 0, errs.Newf("invalid clock %q (want HH:MM)", s)
	}
	return t.Hour(), t.Minute(), nil
}
