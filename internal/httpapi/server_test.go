package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"workhub/internal/errs"
	"workhub/internal/jobqueue"
	"workhub/internal/storage"
	logx "workhub/pkg/logx"
)

type fakeWebhook struct {
	mu     sync.Mutex
	bodies []string
	err    error
}

func (f *fakeWebhook) HandleWebhook(_ context.Context, body []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bodies = append(f.bodies, string(body))
	return f.err
}

type fakeReminders struct {
	scheduled map[string]time.Time
	cancelled []string
	scanHours []int
	digests   int
	err       error
}

func (f *fakeReminders) ScheduleDeadlineReminder(_ context.Context, taskID, _, _ string, deadline time.Time) error {
	if f.err != nil {
		return f.err
	}
	if f.scheduled == nil {
		f.scheduled = map[string]time.Time{}
	}
	f.scheduled[taskID] = deadline
	return nil
}

func (f *fakeReminders) CancelDeadlineReminder(_ context.Context, taskID string) error {
	f.cancelled = append(f.cancelled, taskID)
	return f.err
}

func (f *fakeReminders) TriggerScan(_ context.Context, hours int) error {
	f.scanHours = append(f.scanHours, hours)
	return f.err
}

func (f *fakeReminders) TriggerDigest(context.Context) error {
	f.digests++
	return f.err
}

type fakeJobs []jobqueue.Envelope

func (f fakeJobs) List(context.Context) ([]jobqueue.Envelope, error) { return f, nil }

type fakeDead struct{ err error }

func (f fakeDead) ListDeadJobs(_ context.Context, limit int) ([]storage.DeadJob, error) {
	if f.err != nil {
		return nil, f.err
	}
	return []storage.DeadJob{{ID: "d1", Kind: "deadline_reminder", Key: "t9", Attempts: limit}}, nil
}

func do(t *testing.T, h http.Handler, method, path, body string, hdr map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	for k, v := range hdr {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

var auth = map[string]string{"Authorization": "Bearer s3cret"}

func TestWebhookChecksSecret(t *testing.T) {
	t.Parallel()

	wh := &fakeWebhook{}
	srv := New(Config{WebhookSecret: "tok"}, Deps{Webhook: wh}, logx.Nop())
	h := srv.Handler()

	rec := do(t, h, http.MethodPost, WebhookPath, `{"update_id":1}`, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = do(t, h, http.MethodPost, WebhookPath, `{"update_id":1}`, map[string]string{secretHeader: "tok"})
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{`{"update_id":1}`}, wh.bodies)

	wh.err = errs.New("bad json")
	rec = do(t, h, http.MethodPost, WebhookPath, `nope`, map[string]string{secretHeader: "tok"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestWebhookOffInPollMode(t *testing.T) {
	t.Parallel()

	srv := New(Config{}, Deps{}, logx.Nop())
	rec := do(t, srv.Handler(), http.MethodPost, WebhookPath, `{}`, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHealth(t *testing.T) {
	t.Parallel()

	ok := true
	srv := New(Config{}, Deps{Health: func() (map[string]any, bool) {
		return map[string]any{"queue": "redis"}, ok
	}}, logx.Nop())

	rec := do(t, srv.Handler(), http.MethodGet, "/healthz", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])

	ok = false
	rec = do(t, srv.Handler(), http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "degraded")
}

func TestAdminRequiresToken(t *testing.T) {
	t.Parallel()

	srv := New(Config{AdminToken: "s3cret"}, Deps{Jobs: fakeJobs{}}, logx.Nop())
	rec := do(t, srv.Handler(), http.MethodGet, "/admin/jobs", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = do(t, srv.Handler(), http.MethodGet, "/admin/jobs", "", map[string]string{"Authorization": "Bearer wrong"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = do(t, srv.Handler(), http.MethodGet, "/admin/jobs", "", auth)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAdminOffWithoutToken(t *testing.T) {
	t.Parallel()

	srv := New(Config{}, Deps{Jobs: fakeJobs{}}, logx.Nop())
	rec := do(t, srv.Handler(), http.MethodGet, "/admin/jobs", "", auth)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListJobs(t *testing.T) {
	t.Parallel()

	due := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	jobs := fakeJobs{
		{ID: "a", Kind: "deadline_reminder", Key: "t1", DueAt: due},
		{ID: "b", Kind: "reminder_scan", Key: "scan", DueAt: due, LeaseUntil: due.Add(time.Minute)},
	}
	srv := New(Config{AdminToken: "s3cret"}, Deps{Jobs: jobs, DeadJobs: fakeDead{}}, logx.Nop())

	rec := do(t, srv.Handler(), http.MethodGet, "/admin/jobs?dead_limit=7", "", auth)
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Jobs []jobView         `json:"jobs"`
		Dead []storage.DeadJob `json:"dead"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Jobs, 2)
	assert.False(t, body.Jobs[0].Leased)
	assert.True(t, body.Jobs[1].Leased)
	require.Len(t, body.Dead, 1)
	assert.Equal(t, 7, body.Dead[0].Attempts)
}

func TestListJobsToleratesDisabledStorage(t *testing.T) {
	t.Parallel()

	srv := New(Config{AdminToken: "s3cret"}, Deps{Jobs: fakeJobs{}, DeadJobs: fakeDead{err: errs.Mark(errs.New("off"), errs.ErrDisabled)}}, logx.Nop())
	rec := do(t, srv.Handler(), http.MethodGet, "/admin/jobs", "", auth)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), "dead")
}

func TestReminderEndpoints(t *testing.T) {
	t.Parallel()

	rem := &fakeReminders{}
	srv := New(Config{AdminToken: "s3cret"}, Deps{Reminders: rem}, logx.Nop())
	h := srv.Handler()

	rec := do(t, h, http.MethodPut, "/admin/tasks/t1/reminder",
		`{"title":"Ship","projectName":"Core","deadline":"2026-03-01T09:00:00Z"}`, auth)
	require.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC), rem.scheduled["t1"].UTC())

	rec = do(t, h, http.MethodPut, "/admin/tasks/t1/reminder", `{"projectName":"Core"}`, auth)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodDelete, "/admin/tasks/t1/reminder", "", auth)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, []string{"t1"}, rem.cancelled)

	rec = do(t, h, http.MethodPost, "/admin/triggers/scan?hours=48", "", auth)
	assert.Equal(t, http.StatusAccepted, rec.Code)
	rec = do(t, h, http.MethodPost, "/admin/triggers/scan", "", auth)
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, []int{48, 0}, rem.scanHours)

	rec = do(t, h, http.MethodPost, "/admin/triggers/scan?hours=-1", "", auth)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodPost, "/admin/triggers/digest", "", auth)
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, 1, rem.digests)
}

func TestSchedulingFailureIsUnavailable(t *testing.T) {
	t.Parallel()

	rem := &fakeReminders{err: errs.Scheduling(errs.New("redis down"), "upsert reminder")}
	srv := New(Config{AdminToken: "s3cret"}, Deps{Reminders: rem}, logx.Nop())
	rec := do(t, srv.Handler(), http.MethodDelete, "/admin/tasks/t1/reminder", "", auth)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestRunStopsOnCancel(t *testing.T) {
	t.Parallel()

	srv := New(Config{Addr: "127.0.0.1:0"}, Deps{}, logx.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Run(ctx) }()
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(3 * time.Second):
		t.Fatal("server did not stop")
	}
}

func TestPprofBehindAdminToken(t *testing.T) {
	t.Parallel()

	srv := New(Config{AdminToken: "s3cret"}, Deps{}, logx.Nop())
	rec := do(t, srv.Handler(), http.MethodGet, "/admin/debug/pprof/", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = do(t, srv.Handler(), http.MethodGet, "/admin/debug/pprof/", "", auth)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "goroutine")

	rec = do(t, srv.Handler(), http.MethodGet, "/admin/debug/pprof/cmdline", "", auth)
	assert.Equal(t, http.StatusOK, rec.Code)
}
