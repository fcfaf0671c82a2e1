package scheduler

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"workhub/internal/eventbus"
	"workhub/internal/task/engine"
	logx "workhub/pkg/logx"
)

type Config struct {
	Enabled  bool
	Timezone string // IANA name; empty or unknown means time.Local
}

// Enqueuer accepts triggered work. *engine.Service implements it.
type Enqueuer interface {
	Enqueue(t engine.Task) error
}

// specParser accepts 5-field specs, 6-field specs with seconds, and
// descriptors such as @hourly and @every.
var specParser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

type triggerDef struct {
	name    string
	spec    string
	timeout time.Duration
	job     func(ctx context.Context) error
	opt     engine.TaskOptions
	gate    *engine.RunState
	entry   cron.EntryID
}

type Service struct {
	cfg Config
	log logx.Logger
	bus eventbus.Bus
	eng Enqueuer

	mu   sync.Mutex
	loc  *time.Location
	c    *cron.Cron // nil while stopped
	defs []triggerDef

	warnMu   sync.Mutex
	lastWarn map[string]time.Time
}

type ScheduleInfo struct {
	Name    string        `json:"name"`
	Spec    string        `json:"spec"`
	Timeout time.Duration `json:"timeout"`
	Next    time.Time     `json:"next,omitzero"`
	Prev    time.Time     `json:"prev,omitzero"`
}

type Snapshot struct {
	Enabled   bool           `json:"enabled"`
	Timezone  string         `json:"timezone"`
	Schedules []ScheduleInfo `json:"schedules"`
}

func New(cfg Config, eng Enqueuer, log logx.Logger, bus eventbus.Bus) *Service {
	if bus == nil {
		bus = eventbus.Nop()
	}
	return &Service{
		cfg:      cfg,
		log:      log,
		bus:      bus,
		eng:      eng,
		loc:      loadLocation(cfg.Timezone, log),
		lastWarn: make(map[string]time.Time),
	}
}

func (s *Service) Enabled() bool { return s.cfg.Enabled }

// Start registers every trigger added so far and begins firing.
func (s *Service) Start(context.Context) {
	if !s.cfg.Enabled {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return
	}
	s.c = cron.New(cron.WithParser(specParser), cron.WithLocation(s.loc))
	for i := range s.defs {
		if err := s.registerLocked(&s.defs[i]); err != nil {
			s.log.Error("schedule register failed", logx.String("name", s.defs[i].name), logx.Err(err))
		}
	}
	s.c.Start()
	s.log.Info("scheduler started", logx.String("tz", s.loc.String()), logx.Int("schedules", len(s.defs)))
}

// Stop stops firing and waits for running cron callbacks, bounded by ctx.
// Triggers stay defined for a later Start.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	c := s.c
	s.c = nil
	for i := range s.defs {
		s.defs[i].entry = 0
	}
	s.mu.Unlock()
	if c == nil {
		return
	}
	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
	}
	s.log.Info("scheduler stopped")
}

func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := Snapshot{Enabled: s.cfg.Enabled, Timezone: s.loc.String(), Schedules: make([]ScheduleInfo, 0, len(s.defs))}
	for _, d := range s.defs {
		info := ScheduleInfo{Name: d.name, Spec: d.spec, Timeout: d.timeout}
		if s.c != nil && d.entry != 0 {
			e := s.c.Entry(d.entry)
			info.Next, info.Prev = e.Next, e.Prev
		}
		snap.Schedules = append(snap.Schedules, info)
	}
	return snap
}

func loadLocation(tz string, log logx.Logger) *time.Location {
	tz = strings.TrimSpace(tz)
	if tz == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		log.Warn("invalid timezone; falling back to Local", logx.String("tz", tz), logx.Err(err))
		return time.Local
	}
	return loc
}
