// Package registry reads the tracker's tasks, projects, memberships and users
// from its Postgres database. It never writes.
//
// Table and column names follow the tracker's schema (quoted camelCase
// columns): "Task", "Project", "Membership", "User".
package registry

import (
	"context"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"workhub/internal/conversation"
	"workhub/internal/errs"
	"workhub/internal/reminder"
	logx "workhub/pkg/logx"
)

type Config struct {
	DatabaseURL string
	MaxConns    int32
}

// Postgres implements reminder.TaskRegistry and conversation.Directory.
type Postgres struct {
	pool *pgxpool.Pool
	log  logx.Logger
}

var (
	_ reminder.TaskRegistry  = (*Postgres)(nil)
	_ conversation.Directory = (*Postgres)(nil)
)

// Open connects and pings. The pool is closed by Close.
func Open(ctx context.Context, cfg Config, log logx.Logger) (*Postgres, error) {
	if strings.TrimSpace(cfg.DatabaseURL) == "" {
		return nil, errs.New("registry.database_url is required")
	}
	pcfg, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		return nil, errs.Wrap(err, "parse database url")
	}
	if cfg.MaxConns > 0 {
		pcfg.MaxConns = cfg.MaxConns
	}
	pcfg.MaxConnLifetime = 30 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pcfg)
	if err != nil {
		return nil, errs.Wrap(err, "open registry pool")
	}
	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pctx); err != nil {
		pool.Close()
		return nil, errs.Wrap(err, "ping registry")
	}
	log = log.With(logx.String("comp", "registry"))
	log.Info("registry connected", logx.String("host", pcfg.ConnConfig.Host), logx.String("database", pcfg.ConnConfig.Database))
	return &Postgres{pool: pool, log: log}, nil
}

func (p *Postgres) Close() {
	if p != nil && p.pool != nil {
		p.pool.Close()
	}
}

const tasksDueWithinSQL = `
SELECT t.id, t.title, t."projectId", p.name, t.deadline
FROM "Task" t
JOIN "Project" p ON p.id = t."projectId"
WHERE t.completed = false
  AND t.deadline IS NOT NULL
  AND t.deadline >= $1
  AND t.deadline <= $2
ORDER BY t.deadline, t.id`

func (p *Postgres) TasksDueWithin(ctx context.Context, from, to time.Time) ([]reminder.Task, error) {
	rows, err := p.pool.Query(ctx, tasksDueWithinSQL, from, to)
	if err != nil {
		return nil, errs.Wrap(err, "query tasks")
	}
	tasks, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (reminder.Task, error) {
		var t reminder.Task
		err := row.Scan(&t.ID, &t.Title, &t.ProjectID, &t.ProjectName, &t.Deadline)
		return t, err
	})
	if err != nil {
		return nil, errs.Wrap(err, "scan tasks")
	}
	return tasks, nil
}

func (p *Postgres) CountTasksDueBefore(ctx context.Context, before time.Time) (int, error) {
	var n int
	err := p.pool.QueryRow(ctx,
		`SELECT count(*) FROM "Task" WHERE completed = false AND deadline IS NOT NULL AND deadline < $1`,
		before,
	).Scan(&n)
	if err != nil {
		return 0, errs.Wrap(err, "count overdue tasks")
	}
	return n, nil
}

const projectMembersSQL = `
SELECT u.id, u.email, COALESCE(NULLIF(u.name, ''), u.email), m.role::text
FROM "Membership" m
JOIN "User" u ON u.id = m."userId"
WHERE m."projectId" = $1
ORDER BY u.email`

func (p *Postgres) ProjectMembers(ctx context.Context, projectID string) ([]reminder.Member, error) {
	rows, err := p.pool.Query(ctx, projectMembersSQL, projectID)
	if err != nil {
		return nil, errs.Wrap(err, "query members")
	}
	members, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (reminder.Member, error) {
		var m reminder.Member
		err := row.Scan(&m.UserID, &m.Email, &m.DisplayName, &m.Role)
		return m, err
	})
	if err != nil {
		return nil, errs.Wrap(err, "scan members")
	}
	return members, nil
}

// UserByChat returns the first user linked to any of chatIDs.
func (p *Postgres) UserByChat(ctx context.Context, chatIDs ...string) (conversation.User, bool, error) {
	var u conversation.User
	err := p.pool.QueryRow(ctx,
		`SELECT id, email, COALESCE(name, '') FROM "User" WHERE "telegramChatId" = ANY($1) ORDER BY "createdAt" LIMIT 1`,
		chatIDs,
	).Scan(&u.ID, &u.Email, &u.Name)
	if errs.Is(err, pgx.ErrNoRows) {
		return conversation.User{}, false, nil
	}
	if err != nil {
		return conversation.User{}, false, errs.Wrap(err, "query user by chat")
	}
	return u, true, nil
}

// ProjectsForUser lists projects the user is a member of.
func (p *Postgres) ProjectsForUser(ctx context.Context, userID string) ([]conversation.Project, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT p.id, p.name FROM "Project" p
		 JOIN "Membership" m ON m."projectId" = p.id
		 WHERE m."userId" = $1
		 ORDER BY p.name`,
		userID,
	)
	if err != nil {
		return nil, errs.Wrap(err, "query projects")
	}
	projects, err := pgx.CollectRows(rows, pgx.RowToStructByPos[conversation.Project])
	if err != nil {
		return nil, errs.Wrap(err, "scan projects")
	}
	return projects, nil
}
