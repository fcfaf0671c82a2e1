package storage

import (
	"strings"
	"time"

	"workhub/internal/errs"
	logx "workhub/pkg/logx"
)

// Open returns the store for cfg.Driver, or (nil, nil) for "" and "none".
func Open(cfg Config, log logx.Logger) (Store, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case "", "none":
		return nil, nil
	case "memory":
		log.Warn("storage is in memory; dedup keys and dead jobs are lost on restart")
		return NewMemory(), nil
	case "sqlite", "sqlite3":
		if cfg.BusyTimeout <= 0 {
			cfg.BusyTimeout = 5 * time.Second
		}
		return openSQLite(cfg, log)
	}
	return nil, errs.Newf("unknown storage driver: %s", cfg.Driver)
}
