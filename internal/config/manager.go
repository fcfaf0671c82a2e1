package config

import (
	"context"
	"encoding/json"
	"hash/fnv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"workhub/internal/errs"
	logx "workhub/pkg/logx"
)

const validateTimeout = 5 * time.Second

// ConfigManager loads the config file, keeps the committed Config and
// republishes it to subscribers whenever Watch sees a valid change.
type ConfigManager struct {
	path    string
	environ map[string]string // nil means the process environment

	log       logx.Logger
	validator func(ctx context.Context, cfg *Config) error

	current atomic.Pointer[committed]

	subsMu sync.Mutex
	subs   map[chan *Config]struct{}
}

type committed struct {
	cfg *Config
	sum uint64
}

// NewConfigManager manages the file at path. With an empty path the config
// comes from defaults and the environment only.
func NewConfigManager(path string) *ConfigManager {
	return &ConfigManager{path: path, subs: make(map[chan *Config]struct{})}
}

func (m *ConfigManager) Path() string { return m.path }

func (m *ConfigManager) SetLogger(log logx.Logger) { m.log = log }

// SetEnviron replaces the process environment seen by Parse.
func (m *ConfigManager) SetEnviron(environ map[string]string) { m.environ = environ }

// SetValidator installs a check that a reloaded config must pass before it
// is committed and published.
func (m *ConfigManager) SetValidator(fn func(ctx context.Context, cfg *Config) error) {
	m.validator = fn
}

// Parse decodes the file, overlays the environment and fills defaults.
// Nothing is committed.
func (m *ConfigManager) Parse() (*Config, error) {
	cfg := new(Config)
	if strings.TrimSpace(m.path) != "" {
		if err := decodeFile(m.path, cfg); err != nil {
			return nil, err
		}
	}
	if err := ApplyEnv(cfg, m.environ); err != nil {
		return nil, err
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, errs.Wrap(err, "invalid config")
	}
	return cfg, nil
}

// Load parses and commits.
func (m *ConfigManager) Load() (*Config, error) {
	cfg, err := m.Parse()
	if err != nil {
		return nil, err
	}
	m.Commit(cfg)
	return cfg, nil
}

func (m *ConfigManager) Commit(cfg *Config) {
	m.current.Store(&committed{cfg: cfg, sum: fingerprint(cfg)})
}

// Get returns the committed config, nil before the first Load.
func (m *ConfigManager) Get() *Config {
	if c := m.current.Load(); c != nil {
		return c.cfg
	}
	return nil
}

// Subscribe returns a channel that receives every published config. A slow
// subscriber only ever misses stale values: the newest one always fits.
func (m *ConfigManager) Subscribe(buffer int) chan *Config {
	ch := make(chan *Config, max(buffer, 1))
	m.subsMu.Lock()
	m.subs[ch] = struct{}{}
	m.subsMu.Unlock()
	return ch
}

// Unsubscribe closes ch. Unknown channels are ignored.
func (m *ConfigManager) Unsubscribe(ch chan *Config) {
	m.subsMu.Lock()
	defer m.subsMu.Unlock()
	if _, ok := m.subs[ch]; ok {
		delete(m.subs, ch)
		close(ch)
	}
}

func (m *ConfigManager) publish(cfg *Config) {
	m.subsMu.Lock()
	defer m.subsMu.Unlock()
	for ch := range m.subs {
		for {
			select {
			case ch <- cfg:
			default:
				// Full: discard the oldest value and try again.
				select {
				case <-ch:
				default:
				}
				continue
			}
			break
		}
	}
}

// reload commits and publishes the file's current content unless it fails to
// parse, is unchanged, or is rejected by the validator.
func (m *ConfigManager) reload(ctx context.Context) bool {
	log := m.log.With(logx.String("path", m.path))
	cfg, err := m.Parse()
	if err != nil {
		log.Warn("config parse failed", logx.Err(err))
		return false
	}
	sum := fingerprint(cfg)
	if c := m.current.Load(); c != nil && sum != 0 && c.sum == sum {
		log.Debug("config unchanged")
		return false
	}
	if m.validator != nil {
		vctx, cancel := context.WithTimeout(ctx, validateTimeout)
		err = m.validator(vctx, cfg)
		cancel()
		if err != nil {
			log.Warn("config rejected", logx.Err(err))
			return false
		}
	}
	m.Commit(cfg)
	m.publish(cfg)
	log.Debug("config published", logx.Uint64("sum", sum))
	return true
}

// fingerprint hashes the JSON form of cfg; 0 means unknown.
func fingerprint(cfg *Config) uint64 {
	if cfg == nil {
		return 0
	}
	b, err := json.Marshal(cfg)
	if err != nil {
		return 0
	}
	h := fnv.New64a()
	_, _ = h.Write(b)
	return h.Sum64()
}
