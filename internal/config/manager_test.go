package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"workhub/internal/errs"
)

func writeConfig(t *testing.T, name, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(p, []byte(body), 0o600))
	return p
}

func TestParseYAMLWithDefaults(t *testing.T) {
	t.Parallel()

	p := writeConfig(t, "workhub.yaml", `
telegram:
  token: "123:abc"
  chat_id: "-100200"
scheduler:
  enabled: true
  timezone: UTC
reminders:
  lead_time: 30m
queue:
  driver: memory
`)
	m := NewConfigManager(p)
	m.SetEnviron(map[string]string{})
	cfg, err := m.Load()
	require.NoError(t, err)

	assert.True(t, cfg.Telegram.Enabled())
	assert.Equal(t, "memory", cfg.Queue.Driver)
	assert.Equal(t, DefaultReminderHours, cfg.Reminders.ReminderHours)
	assert.Equal(t, DefaultScanSchedule, cfg.Reminders.ScanSchedule)
	assert.Equal(t, DefaultDigestAt, cfg.Reminders.DigestAt)
	assert.Equal(t, "log", cfg.Reminders.ScanDelivery)
	assert.Equal(t, DefaultAPIURL, cfg.Inbox.APIURL)
	assert.Equal(t, time.UTC.String(), cfg.Location().String())
	assert.Same(t, cfg, m.Get())
}

func TestParseRejectsUnknownKeys(t *testing.T) {
	t.Parallel()

	p := writeConfig(t, "workhub.json", `{"telegram":{"token":"x","owner_user_ids":[1]}}`)
	m := NewConfigManager(p)
	m.SetEnviron(map[string]string{})
	_, err := m.Parse()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "owner_user_ids")
}

func TestParseRejectsTrailingData(t *testing.T) {
	t.Parallel()

	p := writeConfig(t, "workhub.json", `{"queue":{"driver":"memory"}}{"queue":{}}`)
	m := NewConfigManager(p)
	m.SetEnviron(map[string]string{})
	_, err := m.Parse()
	require.Error(t, err)
}

func TestEnvOverridesFile(t *testing.T) {
	t.Parallel()

	p := writeConfig(t, "workhub.yaml", `
telegram:
  token: file-token
inbox:
  api_url: http://file:3000
`)
	m := NewConfigManager(p)
	m.SetEnviron(map[string]string{
		"TELEGRAM_BOT_TOKEN": "env-token",
		"TELEGRAM_CHAT_ID":   "42",
		"BASE_URL":           "http://base:3000",
		"API_URL":            "http://api:3000",
		"REDIS_HOST":         "redis.internal",
		"REDIS_PORT":         "6380",
	})
	cfg, err := m.Parse()
	require.NoError(t, err)

	assert.Equal(t, "env-token", cfg.Telegram.Token)
	assert.Equal(t, "42", cfg.Telegram.ChatID)
	assert.Equal(t, "http://api:3000", cfg.Inbox.APIURL)
	assert.Equal(t, "redis.internal", cfg.Queue.Redis.Host)
	assert.Equal(t, 6380, cfg.Queue.Redis.Port)
}

func TestBaseURLUsedWithoutAPIURL(t *testing.T) {
	t.Parallel()

	cfg := &Config{}
	require.NoError(t, ApplyEnv(cfg, map[string]string{"BASE_URL": "http://base:3000"}))
	assert.Equal(t, "http://base:3000", cfg.Inbox.APIURL)
}

func TestEnvOnlyConfig(t *testing.T) {
	t.Parallel()

	m := NewConfigManager("")
	m.SetEnviron(map[string]string{"WORKHUB_QUEUE_DRIVER": "memory"})
	cfg, err := m.Parse()
	require.NoError(t, err)
	assert.Equal(t, "memory", cfg.Queue.Driver)
	assert.False(t, cfg.Telegram.Enabled())
}

func TestValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{name: "defaults ok", mutate: func(c *Config) {}},
		{name: "bad queue driver", mutate: func(c *Config) { c.Queue.Driver = "kafka" }, wantErr: "queue.driver"},
		{name: "bad scan delivery", mutate: func(c *Config) { c.Reminders.ScanDelivery = "email" }, wantErr: "scan_delivery"},
		{name: "bad lead time", mutate: func(c *Config) { c.Reminders.LeadTime = "soon" }, wantErr: "reminders.lead_time"},
		{name: "negative ttl", mutate: func(c *Config) { c.Conversation.SessionTTL = "-1m" }, wantErr: "session_ttl"},
		{name: "bad timezone", mutate: func(c *Config) { c.Scheduler.Timezone = "Mars/Base" }, wantErr: "timezone"},
		{name: "bad digest clock", mutate: func(c *Config) { c.Reminders.DigestAt = "9am" }, wantErr: "digest_at"},
		{name: "webhook without http", mutate: func(c *Config) { c.Telegram.WebhookURL = "https://x/telegram/webhook" }, wantErr: "http.enabled"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := &Config{}
			ApplyDefaults(cfg)
			tt.mutate(cfg)
			err := Validate(cfg)
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestSubscribeReceivesLatest(t *testing.T) {
	t.Parallel()

	m := NewConfigManager("")
	ch := m.Subscribe(1)
	a := &Config{Inbox: InboxConfig{APIURL: "a"}}
	b := &Config{Inbox: InboxConfig{APIURL: "b"}}
	m.publish(a)
	m.publish(b)

	got := <-ch
	assert.Equal(t, "b", got.Inbox.APIURL)

	m.Unsubscribe(ch)
	_, open := <-ch
	assert.False(t, open)
}

func TestSummarizeConfigChangeHidesSecrets(t *testing.T) {
	t.Parallel()

	oldCfg := &Config{}
	newCfg := &Config{
		Telegram: TelegramConfig{Token: "secret-token", ChatID: "1"},
		Registry: RegistryConfig{DatabaseURL: "postgres://user:pw@db/workhub"},
	}
	changed, attrs := SummarizeConfigChange(oldCfg, newCfg)
	assert.Equal(t, []string{"registry", "telegram"}, changed)
	assert.NotEmpty(t, attrs)
	assert.Equal(t, []string{"registry", "telegram"}, RestartRequired(changed))
	assert.Empty(t, RestartRequired([]string{"logging", "notifier"}))
}

func TestReloadSkipsUnchangedAndRejected(t *testing.T) {
	t.Parallel()

	p := writeConfig(t, "workhub.yaml", "queue:\n  driver: memory\n")
	m := NewConfigManager(p)
	m.SetEnviron(map[string]string{})
	_, err := m.Load()
	require.NoError(t, err)
	ch := m.Subscribe(1)

	assert.False(t, m.reload(context.Background()), "unchanged file")

	require.NoError(t, os.WriteFile(p, []byte("queue:\n  driver: memory\nreminders:\n  lead_time: 45m\n"), 0o600))
	m.SetValidator(func(context.Context, *Config) error { return errs.New("nope") })
	assert.False(t, m.reload(context.Background()), "rejected by validator")
	assert.Len(t, ch, 0)

	m.SetValidator(nil)
	require.True(t, m.reload(context.Background()))
	got := <-ch
	assert.Equal(t, "45m", got.Reminders.LeadTime)
	assert.Same(t, got, m.Get())
}

func TestWatchPublishesFileChange(t *testing.T) {
	p := writeConfig(t, "workhub.yaml", "queue:\n  driver: memory\n")
	m := NewConfigManager(p)
	m.SetEnviron(map[string]string{})
	_, err := m.Load()
	require.NoError(t, err)
	ch := m.Subscribe(1)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = m.Watch(ctx)
	}()
	defer func() {
		cancel()
		<-done
	}()

	require.Eventually(t, func() bool {
		_ = os.WriteFile(p, []byte("queue:\n  driver: memory\nreminders:\n  lead_time: 50m\n"), 0o600)
		select {
		case got := <-ch:
			return got.Reminders.LeadTime == "50m"
		case <-time.After(500 * time.Millisecond):
			return false
		}
	}, 5*time.Second, 50*time.Millisecond)
}
