package config

import (
	"context"
	"math/rand"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"workhub/internal/errs"
	logx "workhub/pkg/logx"
)

const (
	reloadDebounce = 250 * time.Millisecond
	rewatchMin     = 250 * time.Millisecond
	rewatchMax     = 5 * time.Second
)

// fileOps is every operation an editor save can surface as: in-place write,
// atomic rename, delete and recreate, or a permission touch.
const fileOps = fsnotify.Write | fsnotify.Create | fsnotify.Rename | fsnotify.Remove | fsnotify.Chmod

// Watch reloads the file after changes settle until ctx is done. The parent
// directory is watched so atomic renames are seen; a watcher that breaks is
// recreated with jittered backoff.
func (m *ConfigManager) Watch(ctx context.Context) error {
	if strings.TrimSpace(m.path) == "" {
		<-ctx.Done()
		return nil
	}
	dir, name := filepath.Dir(m.path), filepath.Base(m.path)
	log := m.log.With(logx.String("dir", dir))
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))

	wait := rewatchMin
	for {
		w, err := newDirWatcher(dir)
		if err != nil {
			log.Warn("config watch init failed", logx.Err(err))
		} else {
			wait = rewatchMin
			log.Debug("config watcher started", logx.String("file", name))
			m.watch(ctx, w, name)
			_ = w.Close()
		}
		if ctx.Err() != nil {
			return nil
		}

		pause := wait + time.Duration(rng.Int63n(int64(wait/2)+1))
		wait = min(wait*2, rewatchMax)
		log.Warn("config watcher restarting", logx.Duration("backoff", pause))
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(pause):
		}
	}
}

func newDirWatcher(dir string) (*fsnotify.Watcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := w.Add(dir); err != nil {
		_ = w.Close()
		return nil, err
	}
	return w, nil
}

// watch runs one watcher until ctx ends or the watcher fails. Events are
// debounced so a burst of writes yields one reload.
func (m *ConfigManager) watch(ctx context.Context, w *fsnotify.Watcher, name string) {
	debounce := time.NewTimer(time.Hour)
	debounce.Stop()
	defer debounce.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-debounce.C:
			m.reload(ctx)
		case ev, ok := <-w.Events:
			if !ok {
				return
			}
			if ev.Op&fileOps != 0 && strings.EqualFold(filepath.Base(ev.Name), name) {
				debounce.Reset(reloadDebounce)
			}
		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			if errs.Is(err, fsnotify.ErrEventOverflow) {
				m.log.Warn("config watch overflow; reloading", logx.Err(err))
				debounce.Reset(reloadDebounce)
				continue
			}
			if err != nil {
				m.log.Warn("config watch error", logx.Err(err))
			}
		}
	}
}
