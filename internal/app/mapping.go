package app

import (
	"net"
	"strconv"
	"strings"
	"time"

	"workhub/internal/config"
	"workhub/internal/conversation"
	"workhub/internal/errs"
	"workhub/internal/inbox"
	"workhub/internal/jobqueue"
	"workhub/internal/notify"
	"workhub/internal/registry"
	"workhub/internal/reminder"
	"workhub/internal/storage"
	"workhub/internal/task/engine"
	"workhub/internal/task/scheduler"
	telegram "workhub/internal/transport/telegram/adapter"
	logx "workhub/pkg/logx"
)

// The map* helpers translate the file config into component configs. They
// run at startup and again on every hot reload, so they must not touch I/O.

func mapLoggingConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
		Telegram: logx.TelegramConfig{
			Enabled:    cfg.Logging.Telegram.Enabled && cfg.Telegram.Enabled(),
			MinLevel:   cfg.Logging.Telegram.MinLevel,
			RatePerSec: cfg.Logging.Telegram.RatePerSec,
		},
	}
}

func mapTelegramConfig(cfg *config.Config) (telegram.Config, error) {
	poll, err := config.ParseDurationOrDefault("telegram.poll_timeout", cfg.Telegram.PollTimeout, 10*time.Second)
	if err != nil {
		return telegram.Config{}, err
	}
	return telegram.Config{
		Token:         strings.TrimSpace(cfg.Telegram.Token),
		PollTimeout:   poll,
		WebhookURL:    strings.TrimSpace(cfg.Telegram.WebhookURL),
		WebhookSecret: cfg.Telegram.WebhookSecret,
	}, nil
}

func mapEngineConfig(cfg *config.Config) (engine.Config, error) {
	te := config.EngineConfig{}
	if cfg.Engine != nil {
		te = *cfg.Engine
	}
	enabled := true
	if te.Enabled != nil {
		enabled = *te.Enabled
	}

	workers := te.Workers
	if workers <= 0 {
		workers = 2
	}
	queueSize := te.QueueSize
	if queueSize <= 0 {
		queueSize = 256
	}
	historySize := te.HistorySize
	if historySize < 0 {
		historySize = 0
	} else if historySize == 0 {
		historySize = 200
	}
	retryMax := te.RetryMax
	if retryMax < 0 {
		retryMax = 0
	} else if retryMax == 0 {
		retryMax = 3
	}

	defTimeout, err := config.ParseDurationField("task_engine.default_timeout", te.DefaultTimeout)
	if err != nil {
		return engine.Config{}, err
	}
	maxQueueDelay, err := config.ParseDurationField("task_engine.max_queue_delay", te.MaxQueueDelay)
	if err != nil {
		return engine.Config{}, err
	}

	return engine.Config{
		Enabled:        enabled,
		Workers:        workers,
		QueueSize:      queueSize,
		DefaultTimeout: defTimeout,
		MaxQueueDelay:  maxQueueDelay,
		HistorySize:    historySize,
		RetryMax:       retryMax,
	}, nil
}

func mapSchedulerConfig(cfg *config.Config) scheduler.Config {
	return scheduler.Config{
		Enabled:  cfg.Scheduler.Enabled,
		Timezone: cfg.Scheduler.Timezone,
	}
}

func mapConsumerConfig(cfg *config.Config, eng engine.Config) (jobqueue.ConsumerConfig, error) {
	poll, err := config.ParseDurationOrDefault("queue.poll_interval", cfg.Queue.PollInterval, time.Second)
	if err != nil {
		return jobqueue.ConsumerConfig{}, err
	}
	lease, err := config.ParseDurationOrDefault("queue.lease", cfg.Queue.Lease, 2*time.Minute)
	if err != nil {
		return jobqueue.ConsumerConfig{}, err
	}
	return jobqueue.ConsumerConfig{
		PollInterval: poll,
		Lease:        lease,
		Batch:        cfg.Queue.Batch,
		Timeout:      eng.DefaultTimeout,
	}, nil
}

func mapRemindersConfig(cfg *config.Config) (reminder.Config, error) {
	lead, err := config.ParseDurationField("reminders.lead_time", cfg.Reminders.LeadTime)
	if err != nil {
		return reminder.Config{}, err
	}
	return reminder.Config{
		LeadTime:      lead,
		ReminderHours: cfg.Reminders.ReminderHours,
		ScanSchedule:  cfg.Reminders.ScanSchedule,
		DigestAt:      cfg.Reminders.DigestAt,
		ScanDelivery:  cfg.Reminders.ScanDelivery,
		Location:      cfg.Location(),
	}, nil
}

func mapNotifyConfig(cfg *config.Config) (notify.Config, error) {
	out := notify.Config{Enabled: cfg.Telegram.Enabled(), DedupWindow: 30 * time.Second}
	if chat := strings.TrimSpace(cfg.Telegram.ChatID); chat != "" {
		id, err := strconv.ParseInt(chat, 10, 64)
		if err != nil {
			return notify.Config{}, errs.Newf("telegram.chat_id: want an integer, got %q", chat)
		}
		out.ChatID = id
	}
	if nc := cfg.Notifier; nc != nil {
		// An explicit "0s" switches dedup off.
		if strings.TrimSpace(nc.DedupWindow) != "" {
			window, err := config.ParseDurationField("notifier.dedup_window", nc.DedupWindow)
			if err != nil {
				return notify.Config{}, err
			}
			out.DedupWindow = window
		}
		out.RatePerSec = nc.RatePerSec
		out.DedupMaxEntries = nc.DedupMaxEntries
		out.PersistDedup = nc.PersistDedup
	}
	return out, nil
}

func mapConversationConfig(cfg *config.Config) (conversation.Config, error) {
	ttl, err := config.ParseDurationOrDefault("conversation.session_ttl", cfg.Conversation.SessionTTL, config.DefaultSessionTTL)
	if err != nil {
		return conversation.Config{}, err
	}
	return conversation.Config{
		SessionTTL:      ttl,
		Workers:         cfg.Conversation.Workers,
		BroadcastChatID: strings.TrimSpace(cfg.Telegram.ChatID),
		Location:        cfg.Location(),
	}, nil
}

func mapInboxConfig(cfg *config.Config) (inbox.Config, error) {
	timeout, err := config.ParseDurationOrDefault("inbox.timeout", cfg.Inbox.Timeout, 10*time.Second)
	if err != nil {
		return inbox.Config{}, err
	}
	return inbox.Config{APIURL: cfg.Inbox.APIURL, Timeout: timeout}, nil
}

func mapRegistryConfig(cfg *config.Config) registry.Config {
	return registry.Config{DatabaseURL: cfg.Registry.DatabaseURL, MaxConns: cfg.Registry.MaxConns}
}

// mapStorageConfig reports false when persistence is switched off.
func mapStorageConfig(cfg *config.Config) (storage.Config, bool, error) {
	if cfg.Storage == nil {
		return storage.Config{}, false, nil
	}
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	switch driver {
	case "", "none":
		return storage.Config{}, false, nil
	case "memory":
		return storage.Config{Driver: driver}, true, nil
	case "sqlite":
		path := strings.TrimSpace(sc.Path)
		if path == "" {
			return storage.Config{}, false, errs.New("storage.path is required when storage.driver=sqlite")
		}
		busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, time.Second)
		if err != nil {
			return storage.Config{}, false, err
		}
		return storage.Config{Driver: driver, Path: path, BusyTimeout: busy}, true, nil
	default:
		return storage.Config{}, false, errs.Newf("unknown storage.driver: %s", sc.Driver)
	}
}

func redisAddr(cfg *config.Config) string {
	return net.JoinHostPort(cfg.Queue.Redis.Host, strconv.Itoa(cfg.Queue.Redis.Port))
}

// needsRedis reports whether any component talks to Redis.
func needsRedis(cfg *config.Config) bool {
	return cfg.Queue.Driver == "redis" || cfg.Conversation.Store == "redis"
}
