package scheduler

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"workhub/internal/config"
	"workhub/internal/errs"
	"workhub/internal/eventbus"
	"workhub/internal/task/engine"
	logx "workhub/pkg/logx"
)

// A trigger that cannot reach the engine warns at most this often per name.
const enqueueWarnEvery = 5 * time.Second

var skipIfRunning = engine.TaskOptions{Overlap: engine.OverlapSkipIfRunning}

// AddSchedule registers a trigger for any form ParseSchedule accepts. A
// trigger is skipped while a previous run of the same name is queued or running.
func (s *Service) AddSchedule(name, schedule string, timeout time.Duration, job func(ctx context.Context) error) error {
	ps, err := ParseSchedule(schedule)
	if err != nil {
		return err
	}
	spec := ps.Cron
	if ps.Kind == SpecInterval {
		spec = "@every " + ps.Every.String()
	}
	return s.add(name, spec, timeout, job)
}

func (s *Service) AddCron(name, spec string, timeout time.Duration, job func(ctx context.Context) error) error {
	return s.add(name, spec, timeout, job)
}

// AddDaily fires every day at HH:MM in the scheduler timezone.
func (s *Service) AddDaily(name, atHHMM string, timeout time.Duration, job func(ctx context.Context) error) error {
	h, m, err := config.ParseClock(atHHMM)
	if err != nil {
		return err
	}
	return s.add(name, fmt.Sprintf("%d %d * * *", m, h), timeout, job)
}

// add replaces any trigger with the same name.
func (s *Service) add(name, spec string, timeout time.Duration, job func(ctx context.Context) error) error {
	name = strings.TrimSpace(name)
	switch {
	case name == "":
		return errs.New("schedule name required")
	case job == nil:
		return errs.New("schedule job required")
	}
	if _, err := specParser.Parse(spec); err != nil {
		return errs.Wrapf(err, "schedule %s: invalid spec %q", name, spec)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeLocked(name)
	s.defs = append(s.defs, triggerDef{name: name, spec: spec, timeout: timeout, job: job, opt: skipIfRunning, gate: &engine.RunState{}})
	if s.c == nil {
		return nil
	}
	if err := s.registerLocked(&s.defs[len(s.defs)-1]); err != nil {
		return errs.Wrapf(err, "schedule %s", name)
	}
	s.log.Debug("schedule registered", logx.String("name", name), logx.String("spec", spec))
	return nil
}

// Remove reports whether a trigger called name existed.
func (s *Service) Remove(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.removeLocked(strings.TrimSpace(name))
}

func (s *Service) removeLocked(name string) bool {
	before := len(s.defs)
	kept := s.defs[:0]
	for _, d := range s.defs {
		if d.name != name {
			kept = append(kept, d)
			continue
		}
		if s.c != nil && d.entry != 0 {
			s.c.Remove(d.entry)
		}
	}
	s.defs = kept
	return len(kept) < before
}

// registerLocked adds d to the running cron. Interval triggers get a random
// first-run offset.
func (s *Service) registerLocked(d *triggerDef) error {
	def := *d
	job := cron.FuncJob(func() { s.trigger(def) })

	if rest, ok := strings.CutPrefix(d.spec, "@every "); ok {
		if every, err := time.ParseDuration(strings.TrimSpace(rest)); err == nil && every > 0 {
			sched, _ := intervalSchedule(d.name, every, time.Now().In(s.loc))
			d.entry = s.c.Schedule(sched, job)
			return nil
		}
	}
	id, err := s.c.AddJob(d.spec, job)
	if err != nil {
		return err
	}
	d.entry = id
	return nil
}

// trigger hands one run of d to the engine.
func (s *Service) trigger(d triggerDef) {
	if s.eng == nil {
		return
	}
	err := s.eng.Enqueue(engine.Task{Name: d.name, Timeout: d.timeout, Run: d.job, Opt: d.opt, State: d.gate})
	switch {
	case err == nil:
		s.bus.Publish(eventbus.Event{Type: eventbus.ScheduleFired, Data: d.name})
	case errs.Is(err, engine.ErrOverlapSkip):
		s.log.Debug("trigger skipped, previous run active", logx.String("schedule", d.name))
	case s.shouldWarn(d.name):
		s.log.Warn("trigger not enqueued", logx.String("schedule", d.name), logx.Err(err))
	}
}

func (s *Service) shouldWarn(name string) bool {
	s.warnMu.Lock()
	defer s.warnMu.Unlock()
	now := time.Now()
	if now.Sub(s.lastWarn[name]) < enqueueWarnEvery {
		return false
	}
	s.lastWarn[name] = now
	return true
}
