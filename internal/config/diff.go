package config

import (
	"reflect"
	"sort"
	"strings"

	logx "workhub/pkg/logx"
)

// SummarizeConfigChange returns (1) a compact list of changed sections and
// (2) safe structured attrs for logging. Tokens, passwords and connection
// strings are reported only as "_set" booleans.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 8)
	attrs := make([]logx.Field, 0, 24)

	ot, nt := oldCfg.Telegram, newCfg.Telegram
	if ot.Token != nt.Token || ot.ChatID != nt.ChatID ||
		strings.TrimSpace(ot.WebhookURL) != strings.TrimSpace(nt.WebhookURL) ||
		ot.WebhookSecret != nt.WebhookSecret ||
		strings.TrimSpace(ot.PollTimeout) != strings.TrimSpace(nt.PollTimeout) {
		changed = append(changed, "telegram")
		attrs = append(attrs,
			logx.Bool("telegram.enabled", nt.Enabled()),
			logx.Bool("telegram.webhook", strings.TrimSpace(nt.WebhookURL) != ""),
			logx.String("telegram.poll_timeout", strings.TrimSpace(nt.PollTimeout)),
		)
	}

	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logx.level", newCfg.Logging.Level),
			logx.Bool("logx.console", newCfg.Logging.Console),
			logx.Bool("logx.file_enabled", newCfg.Logging.File.Enabled),
			logx.Bool("logx.telegram_enabled", newCfg.Logging.Telegram.Enabled),
		)
	}

	if oldCfg.Scheduler != newCfg.Scheduler {
		changed = append(changed, "scheduler")
		attrs = append(attrs,
			logx.Bool("scheduler.enabled", newCfg.Scheduler.Enabled),
			logx.String("scheduler.timezone", strings.TrimSpace(newCfg.Scheduler.Timezone)),
		)
	}

	oTE := derefEngine(oldCfg.Engine)
	nTE := derefEngine(newCfg.Engine)
	if (oldCfg.Engine != nil) != (newCfg.Engine != nil) || !reflect.DeepEqual(oTE, nTE) {
		changed = append(changed, "task_engine")
		attrs = append(attrs,
			logx.Int("task_engine.workers", nTE.Workers),
			logx.Int("task_engine.queue_size", nTE.QueueSize),
			logx.String("task_engine.default_timeout", strings.TrimSpace(nTE.DefaultTimeout)),
			logx.Int("task_engine.retry_max", nTE.RetryMax),
		)
	}

	oq, nq := oldCfg.Queue, newCfg.Queue
	if oq != nq {
		changed = append(changed, "queue")
		attrs = append(attrs,
			logx.String("queue.driver", nq.Driver),
			logx.String("queue.redis_host", nq.Redis.Host),
			logx.Int("queue.redis_port", nq.Redis.Port),
			logx.Bool("queue.redis_password_set", nq.Redis.Password != ""),
			logx.String("queue.poll_interval", nq.PollInterval),
		)
	}

	if oldCfg.Reminders != newCfg.Reminders {
		changed = append(changed, "reminders")
		r := newCfg.Reminders
		attrs = append(attrs,
			logx.String("reminders.lead_time", r.LeadTime),
			logx.Int("reminders.reminder_hours", r.ReminderHours),
			logx.String("reminders.scan_schedule", r.ScanSchedule),
			logx.String("reminders.digest_at", r.DigestAt),
			logx.String("reminders.scan_delivery", r.ScanDelivery),
		)
	}

	if oldCfg.Conversation != newCfg.Conversation {
		changed = append(changed, "conversation")
		attrs = append(attrs,
			logx.String("conversation.session_ttl", newCfg.Conversation.SessionTTL),
			logx.String("conversation.store", newCfg.Conversation.Store),
		)
	}

	// Nil notifier means runtime defaults.
	defN := NotifierConfig{RatePerSec: 20, DedupWindow: "30s", DedupMaxEntries: 2000}
	oN, nN := defN, defN
	if oldCfg.Notifier != nil {
		oN = *oldCfg.Notifier
	}
	if newCfg.Notifier != nil {
		nN = *newCfg.Notifier
	}
	if oN != nN {
		changed = append(changed, "notifier")
		attrs = append(attrs,
			logx.Int("notifier.rate_per_sec", nN.RatePerSec),
			logx.String("notifier.dedup_window", nN.DedupWindow),
			logx.Bool("notifier.persist_dedup", nN.PersistDedup),
		)
	}

	if oldCfg.Inbox != newCfg.Inbox {
		changed = append(changed, "inbox")
		attrs = append(attrs, logx.String("inbox.api_url", newCfg.Inbox.APIURL))
	}

	if oldCfg.Registry != newCfg.Registry {
		changed = append(changed, "registry")
		attrs = append(attrs,
			logx.Bool("registry.database_url_set", newCfg.Registry.DatabaseURL != ""),
			logx.Int("registry.max_conns", int(newCfg.Registry.MaxConns)),
		)
	}

	// Storage: nil means disabled.
	var oS, nS StorageConfig
	if oldCfg.Storage != nil {
		oS = *oldCfg.Storage
	}
	if newCfg.Storage != nil {
		nS = *newCfg.Storage
	}
	if strings.TrimSpace(oS.Driver) != strings.TrimSpace(nS.Driver) ||
		strings.TrimSpace(oS.Path) != strings.TrimSpace(nS.Path) ||
		strings.TrimSpace(oS.BusyTimeout) != strings.TrimSpace(nS.BusyTimeout) {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", strings.TrimSpace(nS.Driver)),
			logx.Bool("storage.path_set", strings.TrimSpace(nS.Path) != ""),
			logx.String("storage.busy_timeout", strings.TrimSpace(nS.BusyTimeout)),
		)
	}

	if oldCfg.HTTP != newCfg.HTTP {
		changed = append(changed, "http")
		attrs = append(attrs,
			logx.Bool("http.enabled", newCfg.HTTP.Enabled),
			logx.String("http.addr", newCfg.HTTP.Addr),
			logx.Bool("http.admin_token_set", newCfg.HTTP.AdminToken != ""),
		)
	}

	sort.Strings(changed)
	return changed, attrs
}

// RestartRequired lists changed sections that only take effect after a restart.
// Logging and notifier settings are applied live.
func RestartRequired(changed []string) []string {
	out := make([]string, 0, len(changed))
	for _, s := range changed {
		switch s {
		case "logging", "notifier", "reminders":
		default:
			out = append(out, s)
		}
	}
	return out
}

func derefEngine(te *EngineConfig) EngineConfig {
	if te == nil {
		return EngineConfig{}
	}
	return *te
}
