package app

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"workhub/internal/config"
	"workhub/internal/conversation"
	"workhub/internal/errs"
	"workhub/internal/eventbus"
	"workhub/internal/httpapi"
	"workhub/internal/inbox"
	"workhub/internal/jobqueue"
	"workhub/internal/notify"
	"workhub/internal/registry"
	"workhub/internal/reminder"
	rtsup "workhub/internal/runtime/supervisor"
	"workhub/internal/storage"
	"workhub/internal/task/engine"
	"workhub/internal/task/scheduler"
	kit "workhub/internal/transport"
	telegram "workhub/internal/transport/telegram/adapter"
	logx "workhub/pkg/logx"
)

type App struct {
	cfgm *config.ConfigManager
	sup  *rtsup.Supervisor

	log  logx.Logger
	logs *logx.Service
	bus  eventbus.Bus

	store storage.Store
	rdb   redis.UniversalClient
	queue jobqueue.Queue
	reg   *registry.Postgres

	// adapter is nil when no bot token is configured.
	adapter *telegram.Adapter
	logChat atomic.Int64

	engine    *engine.Service
	sched     *scheduler.Service
	consumer  *jobqueue.Consumer
	reminders *reminder.Scheduler
	scanner   *reminder.Scanner
	notif     *notify.Service
	conv      *conversation.Engine
	http      *httpapi.Server
}

// New loads the config and builds every component. Nothing runs until Start.
func New(ctx context.Context, cfgPath string) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	a := &App{cfgm: cfgm}
	ok := false
	defer func() {
		if !ok {
			a.closeResources()
		}
	}()

	tgCfg, err := mapTelegramConfig(cfg)
	if err != nil {
		return nil, err
	}
	if tgCfg.Token != "" {
		ad, err := telegram.New(tgCfg, logx.NewConsole("INFO").With(logx.String("comp", "telegram")))
		if err != nil {
			return nil, err
		}
		a.adapter = ad
	}

	ncfg, err := mapNotifyConfig(cfg)
	if err != nil {
		return nil, err
	}
	a.logChat.Store(ncfg.ChatID)

	var sink logx.Sink
	if a.adapter != nil {
		sink = logx.SinkFunc(a.sendLog)
	}
	a.logs, a.log = logx.New(mapLoggingConfig(cfg), sink)
	if a.adapter != nil {
		a.adapter.SetLogger(a.log.With(logx.String("comp", "telegram")))
	}
	log := a.log
	a.log = log.With(logx.String("comp", "app"))
	a.bus = eventbus.New()

	if sc, enabled, err := mapStorageConfig(cfg); err != nil {
		return nil, err
	} else if enabled {
		if a.store, err = storage.Open(sc, log.With(logx.String("comp", "storage"))); err != nil {
			return nil, err
		}
		a.log.Info("storage enabled", logx.String("driver", sc.Driver))
	}

	if needsRedis(cfg) {
		if a.rdb, err = openRedis(ctx, cfg); err != nil {
			return nil, err
		}
	}
	a.queue = openQueue(cfg, a.rdb)

	if a.reg, err = registry.Open(ctx, mapRegistryConfig(cfg), log); err != nil {
		return nil, err
	}

	engCfg, err := mapEngineConfig(cfg)
	if err != nil {
		return nil, err
	}
	a.engine = engine.New(engCfg, log.With(logx.String("comp", "taskengine")), a.bus)
	a.sched = scheduler.New(mapSchedulerConfig(cfg), a.engine, log.With(logx.String("comp", "scheduler")), a.bus)

	conCfg, err := mapConsumerConfig(cfg, engCfg)
	if err != nil {
		return nil, err
	}
	a.consumer = jobqueue.NewConsumer(conCfg, a.queue, a.engine, a.store, log.With(logx.String("comp", "jobs")), a.bus)

	// A nil *Adapter must not reach notify as a non-nil interface.
	var sender notify.Sender
	if a.adapter != nil {
		sender = a.adapter
	}
	a.notif = notify.New(ncfg, sender, log.With(logx.String("comp", "notify")), a.bus, a.store)

	remCfg, err := mapRemindersConfig(cfg)
	if err != nil {
		return nil, err
	}
	a.reminders = reminder.NewScheduler(remCfg, a.queue, log, a.bus)
	a.scanner = reminder.NewScanner(remCfg, a.reg, a.notif, log)
	reminder.Register(a.consumer, a.scanner,
		reminder.NewDeadlineDispatcher(a.notif, remCfg.Location, log),
		reminder.NewDigestDispatcher(a.reg, a.notif, remCfg.Location, log),
	)

	if a.adapter != nil {
		if err := a.buildConversation(cfg, log); err != nil {
			return nil, err
		}
	}

	if cfg.HTTP.Enabled {
		deps := httpapi.Deps{
			Jobs:      a.queue,
			Reminders: a.reminders,
			Health:    a.health,
		}
		if a.store != nil {
			deps.DeadJobs = a.store
		}
		if a.adapter != nil && tgCfg.Webhook() {
			deps.Webhook = a.adapter
		}
		a.http = httpapi.New(httpapi.Config{
			Addr:          cfg.HTTP.Addr,
			AdminToken:    cfg.HTTP.AdminToken,
			WebhookSecret: cfg.Telegram.WebhookSecret,
		}, deps, log)
	}

	ok = true
	return a, nil
}

func (a *App) buildConversation(cfg *config.Config, log logx.Logger) error {
	ccfg, err := mapConversationConfig(cfg)
	if err != nil {
		return err
	}
	icfg, err := mapInboxConfig(cfg)
	if err != nil {
		return err
	}
	client, err := inbox.New(icfg, log.With(logx.String("comp", "inbox")))
	if err != nil {
		return err
	}

	var sessions conversation.Store
	if cfg.Conversation.Store == "redis" {
		sessions = conversation.NewRedisStore(a.rdb, cfg.Queue.Redis.Prefix, ccfg.SessionTTL)
	} else {
		sessions = conversation.NewMemoryStore(ccfg.SessionTTL)
	}
	a.conv = conversation.New(ccfg, a.reg, client, a.notif, sessions, log.With(logx.String("comp", "conversation")), a.bus)
	return nil
}

func openRedis(ctx context.Context, cfg *config.Config) (redis.UniversalClient, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     redisAddr(cfg),
		Password: cfg.Queue.Redis.Password,
		DB:       cfg.Queue.Redis.DB,
	})
	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pctx).Err(); err != nil {
		_ = client.Close()
		return nil, errs.Wrapf(err, "ping redis at %s", redisAddr(cfg))
	}
	return client, nil
}

func openQueue(cfg *config.Config, rdb redis.UniversalClient) jobqueue.Queue {
	if cfg.Queue.Driver == "memory" {
		return jobqueue.NewMemory()
	}
	return jobqueue.NewRedis(rdb, cfg.Queue.Redis.Prefix)
}

func (a *App) sendLog(ctx context.Context, text string) error {
	chatID := a.logChat.Load()
	if chatID == 0 {
		return nil
	}
	_, err := a.adapter.SendText(ctx, kit.ChatTarget{ChatID: chatID}, text, &kit.SendOptions{DisablePreview: true})
	return err
}

// Reminders exposes the scheduling surface for embedding callers.
func (a *App) Reminders() *reminder.Scheduler { return a.reminders }

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

var menuCommands = []kit.BotCommand{
	{Command: "add", Description: "Create a task"},
	{Command: "cancel", Description: "Cancel task creation"},
	{Command: "help", Description: "How to use the bot"},
}

func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.NewSupervisor(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error { return validateMapped(cfg) })
	run := a.sup.Context()

	a.notif.Start(run)
	if a.engine.Enabled() {
		a.engine.Start(run)
	}
	if a.sched.Enabled() {
		if err := a.reminders.RegisterRecurring(a.sched); err != nil {
			return err
		}
		a.sched.Start(run)
	} else {
		a.log.Warn("scheduler disabled; reminder scan and daily digest will not trigger")
	}
	a.sup.Go("jobs.consume", a.consumer.Run)

	if a.adapter != nil {
		a.conv.Start(run)
		if err := a.adapter.Start(run, a.conv.Updates()); err != nil {
			return err
		}
		a.sup.Go0("telegram.menu", func(c context.Context) {
			mctx, cancel := context.WithTimeout(c, 10*time.Second)
			defer cancel()
			if err := a.adapter.UpdateMenuCommands(mctx, menuCommands); err != nil {
				a.log.Warn("bot command menu not updated", logx.Err(err))
			}
		})
	} else {
		a.log.Warn("telegram.token not set; chat delivery and task creation are off")
	}

	if a.http != nil {
		a.sup.Go("http.serve", a.http.Run)
	}

	events, unsub := a.bus.Subscribe(128)
	a.sup.Go0("eventbus.log", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
			}
		}
	})

	a.sup.Go0("config.reload", a.reloadLoop)
	a.sup.Go("config.watch", a.cfgm.Watch)

	a.startSystemd(run)
	a.log.Info("app started")
	return nil
}

// health feeds GET /healthz.
func (a *App) health() (map[string]any, bool) {
	out := map[string]any{
		"supervisor": a.sup.Snapshot(),
		"engine":     a.engine.Snapshot(),
		"scheduler":  a.sched.Snapshot(),
		"telegram":   a.adapter != nil,
	}
	ok := a.sup.Err() == nil
	if a.rdb != nil {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		if err := a.rdb.Ping(ctx).Err(); err != nil {
			out["redis"] = err.Error()
			ok = false
		} else {
			out["redis"] = "ok"
		}
	}
	return out, ok
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		a.closeResources()
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	notifySystemd(systemdStopping)

	a.sup.Cancel()

	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		stepCtx, cancel := context.WithTimeout(ctx, max)
		defer cancel()

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- errs.Newf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)", logx.String("name", name), logx.Duration("elapsed", time.Since(start)))
		}
	}

	if a.adapter != nil {
		step("adapter", 2*time.Second, a.adapter.Stop)
		step("conversation", 2*time.Second, a.conv.Stop)
	}
	step("scheduler", 2*time.Second, func(c context.Context) error { a.sched.Stop(c); return nil })
	step("taskengine", 3*time.Second, func(c context.Context) error { a.engine.Stop(c); return nil })
	step("notify", time.Second, func(c context.Context) error { a.notif.Stop(c); return nil })
	step("supervisor", 3*time.Second, a.sup.Wait)
	step("resources", 2*time.Second, func(context.Context) error { a.closeResources(); return nil })

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}

// closeResources releases connections. Safe on a partially built App.
func (a *App) closeResources() {
	if a.queue != nil {
		_ = a.queue.Close()
	}
	if a.rdb != nil {
		_ = a.rdb.Close()
	}
	if a.reg != nil {
		a.reg.Close()
	}
	if a.store != nil {
		_ = a.store.Close()
	}
}
