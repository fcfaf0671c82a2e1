package config

// Config is the decoded workhub.json after env overrides. Optional sections
// are pointers so "absent" and "zero" stay distinguishable for reload diffs.
type Config struct {
	Telegram     TelegramConfig     `json:"telegram"`
	Logging      LogConfig          `json:"logging"`
	Scheduler    SchedulerConfig    `json:"scheduler"`
	Engine       *EngineConfig      `json:"task_engine,omitempty"`
	Queue        QueueConfig        `json:"queue"`
	Reminders    RemindersConfig    `json:"reminders"`
	Conversation ConversationConfig `json:"conversation"`
	Notifier     *NotifierConfig    `json:"notifier,omitempty"`
	Inbox        InboxConfig        `json:"inbox"`
	Registry     RegistryConfig     `json:"registry"`
	Storage      *StorageConfig     `json:"storage,omitempty"`
	HTTP         HTTPConfig         `json:"http"`
}

// EngineConfig sizes the in-process task engine. Zero values take the
// engine defaults; durations use time.ParseDuration syntax and "0s" turns
// the limit off.
type EngineConfig struct {
	Enabled        *bool  `json:"enabled,omitempty"` // nil means on
	Workers        int    `json:"workers,omitempty"`
	QueueSize      int    `json:"queue_size,omitempty"`
	DefaultTimeout string `json:"default_timeout,omitempty"`
	MaxQueueDelay  string `json:"max_queue_delay,omitempty"` // older tasks are dropped unrun
	HistorySize    int    `json:"history_size,omitempty"`
	RetryMax       int    `json:"retry_max,omitempty"`
}

// NotifierConfig limits outbound chat sends. Without the section sends run
// at 20/s with a 30s dedup window.
type NotifierConfig struct {
	RatePerSec      int    `json:"rate_per_sec"`
	DedupWindow     string `json:"dedup_window"`
	DedupMaxEntries int    `json:"dedup_max_entries,omitempty"`
	PersistDedup    bool   `json:"persist_dedup,omitempty"`
}

// StorageConfig selects where dedup keys, the delivery audit and dead jobs
// are kept, e.g. {"driver": "sqlite", "path": "./workhub.db"}.
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"`
}

type TelegramConfig struct {
	Token string `json:"token"`
	// ChatID is the single broadcast destination.
	ChatID string `json:"chat_id"`

	// WebhookURL switches inbound traffic from long polling to a webhook.
	WebhookURL    string `json:"webhook_url,omitempty"`
	WebhookSecret string `json:"webhook_secret,omitempty"`

	// PollTimeout is a Go duration string (e.g. "10s", "2m").
	PollTimeout string `json:"poll_timeout"`
}

// Enabled reports whether the bot has everything it needs to talk to Telegram.
func (t TelegramConfig) Enabled() bool { return t.Token != "" && t.ChatID != "" }

type LogConfig struct {
	Level    string        `json:"level"`
	Console  bool          `json:"console"`
	File     LogFileConfig `json:"file"`
	Telegram LogChatConfig `json:"telegram"` // mirrors warnings into the chat
}

type LogFileConfig struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type LogChatConfig struct {
	Enabled    bool   `json:"enabled"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

// SchedulerConfig controls the recurring trigger service.
type SchedulerConfig struct {
	Enabled bool `json:"enabled"`

	// Trigger timezone. Also the timezone of digest day boundaries and
	// conversation date parsing.
	Timezone string `json:"timezone,omitempty"`
}

// QueueConfig selects the shared job queue.
//
// driver "redis" (default) shares jobs across processes; "memory" keeps them
// in-process and is meant for development.
type QueueConfig struct {
	Driver string      `json:"driver"`
	Redis  RedisConfig `json:"redis"`

	PollInterval string `json:"poll_interval,omitempty"` // default "1s"
	Lease        string `json:"lease,omitempty"`         // default "2m"
	Batch        int    `json:"batch,omitempty"`         // default 16
}

type RedisConfig struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Password string `json:"password,omitempty"`
	DB       int    `json:"db,omitempty"`
	Prefix   string `json:"prefix,omitempty"` // default "workhub"
}

// RemindersConfig controls deadline reminders, the periodic scan and the digest.
type RemindersConfig struct {
	// LeadTime fires a deadline reminder this long before the deadline.
	LeadTime string `json:"lead_time,omitempty"`

	ReminderHours int    `json:"reminder_hours,omitempty"` // default 24
	ScanSchedule  string `json:"scan_schedule,omitempty"`  // default "@hourly"
	DigestAt      string `json:"digest_at,omitempty"`      // default "09:00"

	// ScanDelivery is "log" (default) or "notify".
	ScanDelivery string `json:"scan_delivery,omitempty"`
}

type ConversationConfig struct {
	SessionTTL string `json:"session_ttl,omitempty"` // default "20m"
	Store      string `json:"store,omitempty"`       // memory|redis, default memory
	Workers    int    `json:"workers,omitempty"`     // default 4
}

type InboxConfig struct {
	APIURL  string `json:"api_url"`
	Timeout string `json:"timeout,omitempty"` // default "10s"
}

type RegistryConfig struct {
	DatabaseURL string `json:"database_url"`
	MaxConns    int32  `json:"max_conns,omitempty"`
}

type HTTPConfig struct {
	Enabled    bool   `json:"enabled"`
	Addr       string `json:"addr,omitempty"` // default ":8080"
	AdminToken string `json:"admin_token,omitempty"`
}
