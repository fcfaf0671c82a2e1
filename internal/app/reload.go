package app

import (
	"context"
	"strings"

	"workhub/internal/config"
	"workhub/internal/errs"
	"workhub/internal/eventbus"
	logx "workhub/pkg/logx"
)

// validateMapped rejects a reload that would fail while being applied.
func validateMapped(cfg *config.Config) error {
	var problems []error
	collect := func(err error) {
		if err != nil {
			problems = append(problems, err)
		}
	}
	_, err := mapTelegramConfig(cfg)
	collect(err)
	eng, err := mapEngineConfig(cfg)
	collect(err)
	_, err = mapConsumerConfig(cfg, eng)
	collect(err)
	_, err = mapRemindersConfig(cfg)
	collect(err)
	_, err = mapNotifyConfig(cfg)
	collect(err)
	_, err = mapConversationConfig(cfg)
	collect(err)
	_, err = mapInboxConfig(cfg)
	collect(err)
	_, _, err = mapStorageConfig(cfg)
	collect(err)
	if len(problems) == 0 {
		return nil
	}
	return errs.Join(problems...)
}

// reloadLoop applies committed config changes. Sections that cannot change
// live are reported and left alone.
func (a *App) reloadLoop(c context.Context) {
	sub := a.cfgm.Subscribe(8)
	defer a.cfgm.Unsubscribe(sub)
	lastApplied := a.cfgm.Get()

	for {
		select {
		case <-c.Done():
			return
		case newCfg, ok := <-sub:
			if !ok {
				return
			}
			// Coalesce bursts: keep only the latest config in the channel.
		drain:
			for {
				select {
				case newer := <-sub:
					if newer != nil {
						newCfg = newer
					}
				default:
					break drain
				}
			}

			sections, attrs := config.SummarizeConfigChange(lastApplied, newCfg)
			lastApplied = newCfg
			if len(sections) == 0 {
				a.log.Debug("config reload received, but no effective changes detected")
				continue
			}
			a.apply(newCfg)

			fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
			a.log.Info("config reloaded", fields...)
			if pending := config.RestartRequired(sections); len(pending) > 0 {
				a.log.Warn("config sections changed that need a restart", logx.Strs("sections", pending))
			}
			a.bus.Publish(eventbus.Event{Type: eventbus.ConfigReloaded, Data: sections})
		}
	}
}

func (a *App) apply(cfg *config.Config) {
	a.logs.Apply(mapLoggingConfig(cfg))

	if ncfg, err := mapNotifyConfig(cfg); err != nil {
		a.log.Warn("invalid notifier config; keeping previous", logx.Err(err))
	} else {
		a.logChat.Store(ncfg.ChatID)
		a.notif.Apply(ncfg)
	}

	if rcfg, err := mapRemindersConfig(cfg); err != nil {
		a.log.Warn("invalid reminders config; keeping previous", logx.Err(err))
	} else {
		a.reminders.Apply(rcfg)
		a.scanner.Apply(rcfg)
	}
}
