package storage

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"workhub/internal/errs"
	logx "workhub/pkg/logx"
)

// migrations are applied in order; PRAGMA user_version records how many ran.
var migrations = []string{
	`CREATE TABLE dedup (
		key   TEXT PRIMARY KEY,
		until INTEGER NOT NULL
	);
	CREATE INDEX dedup_until ON dedup(until);`,

	`CREATE TABLE deliveries (
		id      INTEGER PRIMARY KEY AUTOINCREMENT,
		at_ms   INTEGER NOT NULL,
		kind    TEXT    NOT NULL,
		chat_id TEXT    NOT NULL,
		chars   INTEGER NOT NULL DEFAULT 0,
		ok      INTEGER NOT NULL DEFAULT 0,
		err     TEXT,
		took_ms INTEGER NOT NULL DEFAULT 0
	);
	CREATE INDEX deliveries_at ON deliveries(at_ms);`,

	`CREATE TABLE dead_jobs (
		id       TEXT PRIMARY KEY,
		at_ms    INTEGER NOT NULL,
		kind     TEXT    NOT NULL,
		key      TEXT    NOT NULL,
		attempts INTEGER NOT NULL DEFAULT 0,
		err      TEXT,
		payload  TEXT
	);
	CREATE INDEX dead_jobs_at ON dead_jobs(at_ms);`,
}

const dedupPruneEvery = time.Minute

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger

	lastPrune atomic.Int64 // unix nanos
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errs.New("sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, errs.Wrap(err, "create storage dir")
	}

	q := url.Values{}
	q.Add("_pragma", fmt.Sprintf("busy_timeout(%d)", cfg.BusyTimeout.Milliseconds()))
	q.Add("_pragma", "journal_mode(WAL)")
	q.Add("_pragma", "synchronous(NORMAL)")
	db, err := sql.Open("sqlite", "file:"+path+"?"+q.Encode())
	if err != nil {
		return nil, errs.Wrap(err, "open sqlite")
	}
	// One writer at a time; concurrent writers only wait on busy_timeout.
	db.SetMaxOpenConns(1)

	st := &sqliteStore{db: db, log: log}
	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	st.lastPrune.Store(time.Now().UnixNano())
	log.Debug("sqlite storage opened", logx.String("path", path))
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	var have int
	if err := s.db.QueryRowContext(ctx, `PRAGMA user_version`).Scan(&have); err != nil {
		return errs.Wrap(err, "read schema version")
	}
	for v := have; v < len(migrations); v++ {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return errs.Wrap(err, "begin migration")
		}
		if _, err := tx.ExecContext(ctx, migrations[v]); err != nil {
			_ = tx.Rollback()
			return errs.Wrapf(err, "migration %d", v+1)
		}
		if _, err := tx.ExecContext(ctx, fmt.Sprintf(`PRAGMA user_version = %d`, v+1)); err != nil {
			_ = tx.Rollback()
			return errs.Wrapf(err, "migration %d", v+1)
		}
		if err := tx.Commit(); err != nil {
			return errs.Wrapf(err, "migration %d", v+1)
		}
	}
	return nil
}

func (s *sqliteStore) Close() error { return s.db.Close() }

// PutDedup upserts key and, at most once per dedupPruneEvery, deletes
// expired keys.
func (s *sqliteStore) PutDedup(ctx context.Context, key string, until time.Time) error {
	if key == "" {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO dedup(key, until) VALUES(?, ?)
		 ON CONFLICT(key) DO UPDATE SET until = excluded.until`,
		key, until.UnixMilli())
	if err != nil {
		return err
	}
	now := time.Now()
	last := s.lastPrune.Load()
	if now.UnixNano()-last >= int64(dedupPruneEvery) && s.lastPrune.CompareAndSwap(last, now.UnixNano()) {
		if _, perr := s.db.ExecContext(ctx, `DELETE FROM dedup WHERE until < ?`, now.UnixMilli()); perr != nil {
			s.log.Debug("dedup prune failed", logx.Err(perr))
		}
	}
	return nil
}

func (s *sqliteStore) GetDedup(ctx context.Context, key string) (time.Time, bool, error) {
	if key == "" {
		return time.Time{}, false, nil
	}
	var ms int64
	switch err := s.db.QueryRowContext(ctx, `SELECT until FROM dedup WHERE key = ?`, key).Scan(&ms); {
	case errs.Is(err, sql.ErrNoRows):
		return time.Time{}, false, nil
	case err != nil:
		return time.Time{}, false, err
	}
	return time.UnixMilli(ms), true, nil
}

func (s *sqliteStore) RecordDelivery(ctx context.Context, d Delivery) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO deliveries(at_ms, kind, chat_id, chars, ok, err, took_ms) VALUES(?, ?, ?, ?, ?, ?, ?)`,
		orNow(d.At).UnixMilli(), d.Kind, d.ChatID, d.Chars, d.OK, nullable(d.Error), d.TookMS)
	return err
}

func (s *sqliteStore) RecordDeadJob(ctx context.Context, j DeadJob) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO dead_jobs(id, at_ms, kind, key, attempts, err, payload) VALUES(?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET at_ms = excluded.at_ms, attempts = excluded.attempts, err = excluded.err`,
		j.ID, orNow(j.At).UnixMilli(), j.Kind, j.Key, j.Attempts, nullable(j.Error), nullable(string(j.Payload)))
	return err
}

func (s *sqliteStore) ListDeadJobs(ctx context.Context, limit int) ([]DeadJob, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, at_ms, kind, key, attempts, err, payload FROM dead_jobs ORDER BY at_ms DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []DeadJob
	for rows.Next() {
		var (
			j          DeadJob
			atMS       int64
			failure, p sql.NullString
		)
		if err := rows.Scan(&j.ID, &atMS, &j.Kind, &j.Key, &j.Attempts, &failure, &p); err != nil {
			return nil, err
		}
		j.At = time.UnixMilli(atMS).UTC()
		j.Error = failure.String
		if p.Valid {
			j.Payload = []byte(p.String)
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

func orNow(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now()
	}
	return t
}

func nullable(v string) sql.NullString {
	return sql.NullString{String: v, Valid: strings.TrimSpace(v) != ""}
}
