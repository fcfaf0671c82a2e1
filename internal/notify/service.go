package notify

import (
	"context"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"workhub/internal/errs"
	"workhub/internal/eventbus"
	rtsup "workhub/internal/runtime/supervisor"
	"workhub/internal/storage"
	kit "workhub/internal/transport"
	logx "workhub/pkg/logx"
)

// Service delivers messages through a Sender.
//
// It is safe for concurrent use.
type Service struct {
	mu sync.Mutex

	log    logx.Logger
	sender Sender
	bus    eventbus.Bus
	store  storage.Store

	cfg     Config
	limiter *rate.Limiter

	sup *rtsup.Supervisor

	// In-memory dedup cache: key -> suppress until
	dmu   sync.Mutex
	dedup map[string]time.Time

	// Optional persistent dedup writes (best-effort)
	persistCh chan dedupWrite
}

type dedupWrite struct {
	key   string
	until time.Time
}

// New builds the channel. sender may be nil only when cfg.Enabled is false.
func New(cfg Config, sender Sender, log logx.Logger, bus eventbus.Bus, store storage.Store) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	if bus == nil {
		bus = eventbus.Nop()
	}
	s := &Service{
		sender: sender,
		log:    log,
		bus:    bus,
		store:  store,
		dedup:  map[string]time.Time{},
	}
	s.applyLocked(cfg)
	return s
}

func (s *Service) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.Enabled && s.sender != nil
}

func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	s.applyLocked(cfg)
	s.mu.Unlock()
}

func (s *Service) applyLocked(cfg Config) {
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 20
	}
	if cfg.DedupWindow < 0 {
		cfg.DedupWindow = 0
	}
	if cfg.DedupMaxEntries <= 0 {
		cfg.DedupMaxEntries = 2000
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 10 * time.Second
	}

	s.cfg = cfg
	// Token bucket: burst = rate per sec, so short spikes don't block too hard.
	s.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
}

// Start launches the dedup persistence loop when configured. Sends work
// without Start.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	if s.sup != nil || !s.cfg.PersistDedup || s.store == nil {
		s.mu.Unlock()
		return
	}
	s.persistCh = make(chan dedupWrite, 1024)
	s.sup = rtsup.NewSupervisor(ctx,
		rtsup.WithLogger(s.log.With(logx.String("comp", "notify"))),
		// notify failures should not take down the whole app; treat as best-effort.
		rtsup.WithCancelOnError(false),
	)
	sup, pch, st := s.sup, s.persistCh, s.store
	s.mu.Unlock()

	sup.GoRestart0("dedup.persist", func(c context.Context) {
		s.persistLoop(c, pch, st)
	}, rtsup.WithPublishFirstError(true))
}

// Stop ends the persistence loop. Pending writes are flushed until ctx ends.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	sup, pch := s.sup, s.persistCh
	s.sup, s.persistCh = nil, nil
	if pch != nil {
		close(pch)
	}
	s.mu.Unlock()
	if sup == nil {
		return
	}

	if err := sup.Wait(ctx); err != nil {
		s.log.Debug("notify stop", logx.Err(err))
	}
	sup.Cancel()
}

// Broadcast sends text to the configured destination.
func (s *Service) Broadcast(ctx context.Context, text string) error {
	cfg, sender, lim := s.snapshot()
	if !cfg.Enabled || sender == nil {
		s.log.Warn("notification skipped: telegram not configured", logx.Int("chars", len([]rune(text))))
		return nil
	}

	key := dedupKey(cfg.ChatID, text)
	if cfg.DedupWindow > 0 {
		if !s.dedupReserve(ctx, key, cfg) {
			s.log.Debug("notification suppressed", logx.Int64("chat_id", cfg.ChatID))
			s.bus.Publish(eventbus.Event{Type: eventbus.NotifySuppressed, Time: time.Now(), Data: eventbus.NotifyEvent{ChatID: cfg.ChatID, Chars: len([]rune(text))}})
			return nil
		}
	}

	_, err := s.send(ctx, kindBroadcast, cfg, sender, lim, kit.ChatTarget{ChatID: cfg.ChatID}, text, nil)
	if cfg.DedupWindow > 0 {
		if err != nil {
			s.dedupRelease(key)
		} else {
			s.dedupPersist(key)
		}
	}
	return err
}

// Reply sends text, optionally with an inline keyboard, to a conversation chat.
func (s *Service) Reply(ctx context.Context, chatID int64, text string, keyboard [][]kit.Button) (kit.MessageRef, error) {
	cfg, sender, lim := s.snapshot()
	if !cfg.Enabled || sender == nil {
		s.log.Warn("reply skipped: telegram not configured", logx.Int64("chat_id", chatID))
		return kit.MessageRef{}, nil
	}
	return s.send(ctx, kindReply, cfg, sender, lim, kit.ChatTarget{ChatID: chatID}, text, &kit.SendOptions{Keyboard: keyboard})
}

// Edit replaces the text of an earlier reply and drops its keyboard.
func (s *Service) Edit(ctx context.Context, ref kit.MessageRef, text string) error {
	cfg, sender, lim := s.snapshot()
	if !cfg.Enabled || sender == nil || ref.MessageID == 0 {
		return nil
	}
	if err := lim.Wait(ctx); err != nil {
		return err
	}
	cctx, cancel := context.WithTimeout(ctx, cfg.SendTimeout)
	defer cancel()
	if err := sender.EditText(cctx, ref, text, nil); err != nil {
		return errs.Wrap(err, "edit message")
	}
	return nil
}

// Answer acknowledges a callback query with a short toast.
func (s *Service) Answer(ctx context.Context, callbackID, text string) error {
	cfg, sender, lim := s.snapshot()
	if !cfg.Enabled || sender == nil || callbackID == "" {
		return nil
	}
	if err := lim.Wait(ctx); err != nil {
		return err
	}
	cctx, cancel := context.WithTimeout(ctx, cfg.SendTimeout)
	defer cancel()
	if err := sender.AnswerCallback(cctx, callbackID, text); err != nil {
		return errs.Wrap(err, "answer callback")
	}
	return nil
}

func (s *Service) snapshot() (Config, Sender, *rate.Limiter) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg, s.sender, s.limiter
}

func (s *Service) send(ctx context.Context, kind string, cfg Config, sender Sender, lim *rate.Limiter, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	// Rate limit (honor cancellation).
	if err := lim.Wait(ctx); err != nil {
		return kit.MessageRef{}, err
	}

	start := time.Now()
	cctx, cancel := context.WithTimeout(ctx, cfg.SendTimeout)
	ref, err := sender.SendText(cctx, to, text, opt)
	cancel()

	chars := len([]rune(text))
	d := storage.Delivery{
		At:     start,
		Kind:   kind,
		ChatID: strconv.FormatInt(to.ChatID, 10),
		Chars:  chars,
		OK:     err == nil,
		TookMS: time.Since(start).Milliseconds(),
	}
	ev := eventbus.NotifyEvent{ChatID: to.ChatID, Chars: chars}
	if err != nil {
		d.Error = err.Error()
		ev.Err = d.Error
		s.log.Warn("notification failed", logx.String("kind", kind), logx.Int64("chat_id", to.ChatID), logx.Err(err))
		s.bus.Publish(eventbus.Event{Type: eventbus.NotifyFailed, Time: time.Now(), Data: ev})
	} else {
		s.log.Debug("notification sent", logx.String("kind", kind), logx.Int64("chat_id", to.ChatID), logx.Int("chars", chars))
		s.bus.Publish(eventbus.Event{Type: eventbus.NotifySent, Time: time.Now(), Data: ev})
	}
	s.recordDelivery(ctx, d)

	if err != nil {
		return ref, errs.Wrap(err, "send message")
	}
	return ref, nil
}

func (s *Service) recordDelivery(ctx context.Context, d storage.Delivery) {
	if s.store == nil {
		return
	}
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 250*time.Millisecond)
	defer cancel()
	if err := s.store.RecordDelivery(cctx, d); err != nil {
		s.log.Debug("delivery record failed", logx.Err(err))
	}
}

func (s *Service) persistLoop(ctx context.Context, ch <-chan dedupWrite, st storage.Store) {
	for {
		select {
		case <-ctx.Done():
			return
		case w, ok := <-ch:
			if !ok {
				return
			}
			cctx, cancel := context.WithTimeout(ctx, 250*time.Millisecond)
			if err := st.PutDedup(cctx, w.key, w.until); err != nil {
				s.log.Debug("dedup persist failed", logx.Err(err))
			}
			cancel()
		}
	}
}
