// Package httpapi serves the Telegram webhook, the health probe and the small
// admin surface (job listing and the reminder control endpoints).
package httpapi

import (
	"context"
	"crypto/subtle"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"workhub/internal/errs"
	"workhub/internal/jobqueue"
	"workhub/internal/storage"
	kit "workhub/internal/transport"
	logx "workhub/pkg/logx"
)

const (
	WebhookPath  = "/telegram/webhook"
	secretHeader = "X-Telegram-Bot-Api-Secret-Token"
	maxBodyBytes = 1 << 20
)

type Config struct {
	Addr          string
	AdminToken    string
	WebhookSecret string
}

// Reminders is the scheduling control surface exposed to the tracker.
type Reminders interface {
	ScheduleDeadlineReminder(ctx context.Context, taskID, title, projectName string, deadline time.Time) error
	CancelDeadlineReminder(ctx context.Context, taskID string) error
	TriggerScan(ctx context.Context, hours int) error
	TriggerDigest(ctx context.Context) error
}

// JobLister lists pending jobs. jobqueue.Queue implements it.
type JobLister interface {
	List(ctx context.Context) ([]jobqueue.Envelope, error)
}

// DeadJobLister lists jobs that exhausted their retries. storage.Store implements it.
type DeadJobLister interface {
	ListDeadJobs(ctx context.Context, limit int) ([]storage.DeadJob, error)
}

// Deps are the collaborators behind the routes. Nil members switch their
// routes off.
type Deps struct {
	Webhook   kit.WebhookReceiver
	Jobs      JobLister
	DeadJobs  DeadJobLister
	Reminders Reminders
	// Health reports component state. ok=false turns /healthz into a 503.
	Health func() (details map[string]any, ok bool)
}

type Server struct {
	cfg  Config
	deps Deps
	log  logx.Logger
	eng  *gin.Engine
}

func New(cfg Config, deps Deps, log logx.Logger) *Server {
	if cfg.Addr == "" {
		cfg.Addr = ":8080"
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	gin.SetMode(gin.ReleaseMode)
	s := &Server{cfg: cfg, deps: deps, log: log.With(logx.String("comp", "http")), eng: gin.New()}
	s.eng.Use(gin.Recovery(), s.accessLog())
	s.routes()
	return s
}

// Handler returns the router, for tests and embedding.
func (s *Server) Handler() http.Handler { return s.eng }

func (s *Server) routes() {
	s.eng.GET("/healthz", s.health)
	s.eng.POST(WebhookPath, s.webhook)

	if strings.TrimSpace(s.cfg.AdminToken) == "" {
		return
	}
	admin := s.eng.Group("/admin", s.bearer())
	admin.GET("/jobs", s.listJobs)
	admin.PUT("/tasks/:id/reminder", s.scheduleReminder)
	admin.DELETE("/tasks/:id/reminder", s.cancelReminder)
	admin.POST("/triggers/scan", s.triggerScan)
	admin.POST("/triggers/digest", s.triggerDigest)
	mountPprof(admin)
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.eng,
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.log.Info("http listening", logx.String("addr", s.cfg.Addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errs.Is(err, http.ErrServerClosed) {
			return nil
		}
		return errs.Wrap(err, "http serve")
	case <-ctx.Done():
	}

	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		return errs.Wrap(err, "http shutdown")
	}
	return ctx.Err()
}

func (s *Server) accessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.log.Debug("http request",
			logx.String("method", c.Request.Method),
			logx.String("path", c.FullPath()),
			logx.Int("status", c.Writer.Status()),
			logx.Duration("took", time.Since(start)),
		)
	}
}

func (s *Server) bearer() gin.HandlerFunc {
	want := []byte(s.cfg.AdminToken)
	return func(c *gin.Context) {
		token, ok := strings.CutPrefix(c.GetHeader("Authorization"), "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(strings.TrimSpace(token)), want) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid or missing bearer token"})
			return
		}
		c.Next()
	}
}

func (s *Server) health(c *gin.Context) {
	if s.deps.Health == nil {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
		return
	}
	details, ok := s.deps.Health()
	status, code := "ok", http.StatusOK
	if !ok {
		status, code = "degraded", http.StatusServiceUnavailable
	}
	c.JSON(code, gin.H{"status": status, "components": details})
}

func (s *Server) webhook(c *gin.Context) {
	if s.deps.Webhook == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "webhook mode is off"})
		return
	}
	if want := s.cfg.WebhookSecret; want != "" {
		got := c.GetHeader(secretHeader)
		if subtle.ConstantTimeCompare([]byte(got), []byte(want)) != 1 {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "bad secret token"})
			return
		}
	}
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxBodyBytes))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "read body"})
		return
	}
	if err := s.deps.Webhook.HandleWebhook(c.Request.Context(), body); err != nil {
		s.log.Warn("webhook update rejected", logx.Err(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "bad update"})
		return
	}
	c.Status(http.StatusOK)
}

type jobView struct {
	ID       string    `json:"id"`
	Kind     string    `json:"kind"`
	Key      string    `json:"key"`
	DueAt    time.Time `json:"due_at"`
	Attempts int       `json:"attempts"`
	Leased   bool      `json:"leased"`
}

func (s *Server) listJobs(c *gin.Context) {
	out := gin.H{}
	if s.deps.Jobs != nil {
		envs, err := s.deps.Jobs.List(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
			return
		}
		jobs := make([]jobView, 0, len(envs))
		for _, e := range envs {
			jobs = append(jobs, jobView{ID: e.ID, Kind: string(e.Kind), Key: e.Key, DueAt: e.DueAt, Attempts: e.Attempts, Leased: !e.LeaseUntil.IsZero()})
		}
		out["jobs"] = jobs
	}
	if s.deps.DeadJobs != nil {
		limit, _ := strconv.Atoi(c.DefaultQuery("dead_limit", "50"))
		dead, err := s.deps.DeadJobs.ListDeadJobs(c.Request.Context(), limit)
		switch {
		case err == nil:
			out["dead"] = dead
		case errs.IsDisabled(err):
		default:
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
			return
		}
	}
	c.JSON(http.StatusOK, out)
}

type scheduleRequest struct {
	Title       string    `json:"title" binding:"required"`
	ProjectName string    `json:"projectName"`
	Deadline    time.Time `json:"deadline" binding:"required"`
}

func (s *Server) scheduleReminder(c *gin.Context) {
	if s.deps.Reminders == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "reminders are off"})
		return
	}
	var req scheduleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := s.deps.Reminders.ScheduleDeadlineReminder(c.Request.Context(), c.Param("id"), req.Title, req.ProjectName, req.Deadline); err != nil {
		s.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) cancelReminder(c *gin.Context) {
	if s.deps.Reminders == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "reminders are off"})
		return
	}
	if err := s.deps.Reminders.CancelDeadlineReminder(c.Request.Context(), c.Param("id")); err != nil {
		s.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) triggerScan(c *gin.Context) {
	if s.deps.Reminders == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "reminders are off"})
		return
	}
	hours, err := strconv.Atoi(c.DefaultQuery("hours", "0"))
	if err != nil || hours < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "hours must be a non-negative integer"})
		return
	}
	if err := s.deps.Reminders.TriggerScan(c.Request.Context(), hours); err != nil {
		s.fail(c, err)
		return
	}
	c.Status(http.StatusAccepted)
}

func (s *Server) triggerDigest(c *gin.Context) {
	if s.deps.Reminders == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "reminders are off"})
		return
	}
	if err := s.deps.Reminders.TriggerDigest(c.Request.Context()); err != nil {
		s.fail(c, err)
		return
	}
	c.Status(http.StatusAccepted)
}

func (s *Server) fail(c *gin.Context, err error) {
	s.log.Warn("admin request failed", logx.String("path", c.FullPath()), logx.Err(err))
	code := http.StatusInternalServerError
	if errs.IsScheduling(err) {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, gin.H{"error": err.Error()})
}
