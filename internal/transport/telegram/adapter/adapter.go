// Package adapter implements transport.Adapter on top of telebot.
//
// Inbound updates arrive either from the long-poll loop or, when a webhook URL
// is configured, from HandleWebhook. Both paths end in the same handlers and
// the same output channel.
package adapter

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	tele "gopkg.in/telebot.v4"

	"workhub/internal/errs"
	rtsup "workhub/internal/runtime/supervisor"
	kit "workhub/internal/transport"
	logx "workhub/pkg/logx"
)

const (
	defaultPollTimeout = 10 * time.Second
	dropReportEvery    = 5 * time.Second
	stopGrace          = 2 * time.Second
)

type Config struct {
	Token       string
	PollTimeout time.Duration

	// A non-empty WebhookURL is registered with Telegram on Start, and
	// updates then come in through HandleWebhook instead of polling.
	WebhookURL    string
	WebhookSecret string

	// Offline makes no API calls during setup. Tests use it.
	Offline bool
}

func (c Config) Webhook() bool { return strings.TrimSpace(c.WebhookURL) != "" }

var (
	_ kit.Adapter            = (*Adapter)(nil)
	_ kit.WebhookReceiver    = (*Adapter)(nil)
	_ kit.CommandMenuUpdater = (*Adapter)(nil)
)

type Adapter struct {
	cfg Config
	log logx.Logger
	bot *tele.Bot

	out     atomic.Pointer[chan<- kit.Update]
	dropped atomic.Uint64

	mu  sync.Mutex
	sup *rtsup.Supervisor // non-nil while started

	menuMu  sync.Mutex
	menuSum uint64
}

func New(cfg Config, log logx.Logger) (*Adapter, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errs.New("telegram token is empty")
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	a := &Adapter{cfg: cfg, log: log}

	settings := tele.Settings{
		Token:       cfg.Token,
		Offline:     cfg.Offline,
		Synchronous: true,
		OnError: func(err error, _ tele.Context) {
			a.log.Warn("telegram handler error", logx.Err(err))
		},
	}
	if !cfg.Webhook() {
		settings.Poller = &tele.LongPoller{Timeout: orDefault(cfg.PollTimeout, defaultPollTimeout)}
	}
	bot, err := tele.NewBot(settings)
	if err != nil {
		return nil, errs.Wrap(err, "telegram bot")
	}
	a.bot = bot
	bot.Handle(tele.OnText, a.onText)
	bot.Handle(tele.OnCallback, a.onCallback)
	return a, nil
}

// SetLogger replaces the bootstrap logger. Call before Start.
func (a *Adapter) SetLogger(log logx.Logger) {
	if !log.IsZero() {
		a.log = log
	}
}

// Start begins delivering updates to out. In webhook mode it registers the
// URL and returns; otherwise it runs the long-poll loop under a supervisor
// that restarts it if telebot returns early. Starting twice is a no-op.
func (a *Adapter) Start(ctx context.Context, out chan<- kit.Update) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.sup != nil {
		return nil
	}

	if a.cfg.Webhook() && !a.cfg.Offline {
		err := a.bot.SetWebhook(&tele.Webhook{
			Endpoint:    &tele.WebhookEndpoint{PublicURL: a.cfg.WebhookURL},
			SecretToken: a.cfg.WebhookSecret,
		})
		if err != nil {
			return errs.Wrap(err, "telegram set webhook")
		}
		a.log.Info("webhook registered", logx.String("url", a.cfg.WebhookURL))
	}

	a.out.Store(&out)
	sup := rtsup.NewSupervisor(ctx,
		rtsup.WithLogger(a.log),
		rtsup.WithCancelOnError(false),
	)
	a.sup = sup

	sup.Go0("updates.drop_report", func(c context.Context) {
		t := time.NewTicker(dropReportEvery)
		defer t.Stop()
		for {
			select {
			case <-c.Done():
				a.reportDropped(cap(out))
				return
			case <-t.C:
				a.reportDropped(cap(out))
			}
		}
	})
	if a.cfg.Webhook() {
		return nil
	}

	sup.Go0("telebot.stop_on_cancel", func(c context.Context) {
		<-c.Done()
		a.bot.Stop()
	})
	sup.GoRestart0("telebot.poll", func(context.Context) {
		a.log.Info("polling started")
		a.bot.Start()
		a.log.Info("polling stopped")
	},
		rtsup.WithRestartBackoff(500*time.Millisecond, 10*time.Second),
		rtsup.WithPublishFirstError(true),
		rtsup.WithStopOnCleanExit(false),
	)
	return nil
}

// Stop detaches the output channel and waits briefly for the poll loop.
// A long-poll request still in flight does not hold shutdown past stopGrace.
func (a *Adapter) Stop(ctx context.Context) error {
	a.mu.Lock()
	sup := a.sup
	a.sup = nil
	a.out.Store(nil)
	a.mu.Unlock()

	if sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.Uint64("dropped_updates_pending", a.dropped.Load()))
	sup.Cancel()
	if !a.cfg.Webhook() {
		go a.bot.Stop()
	}

	grace := stopGrace
	if dl, ok := ctx.Deadline(); ok {
		grace = min(grace, max(time.Until(dl), 0))
	}
	wctx, cancel := context.WithTimeout(ctx, grace)
	defer cancel()
	if err := sup.Wait(wctx); err != nil && !errs.Is(err, context.Canceled) {
		a.log.Warn("telegram stop incomplete", logx.Err(err))
	}
	return nil
}

// HandleWebhook decodes one Telegram update and runs it through the handlers.
func (a *Adapter) HandleWebhook(ctx context.Context, body []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	var u tele.Update
	if err := json.Unmarshal(body, &u); err != nil {
		return errs.Wrap(err, "decode telegram update")
	}
	a.bot.ProcessUpdate(u)
	return nil
}

func (a *Adapter) reportDropped(chanCap int) {
	if n := a.dropped.Swap(0); n > 0 {
		a.log.Warn("incoming updates dropped (channel full)", logx.Uint64("count", n), logx.Int("chan_cap", chanCap))
	}
}

func orDefault(d, def time.Duration) time.Duration {
	if d <= 0 {
		return def
	}
	return d
}
