package conversation

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"workhub/internal/errs"
	"workhub/internal/eventbus"
	"workhub/internal/inbox"
	kit "workhub/internal/transport"
	logx "workhub/pkg/logx"
)

var msk = time.FixedZone("MSK", 3*60*60)

type sentReply struct {
	chatID   int64
	text     string
	keyboard [][]kit.Button
}

type chatLog struct {
	mu      sync.Mutex
	replies []sentReply
	edits   []string
	answers []string
}

func (c *chatLog) Reply(_ context.Context, chatID int64, text string, keyboard [][]kit.Button) (kit.MessageRef, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.replies = append(c.replies, sentReply{chatID: chatID, text: text, keyboard: keyboard})
	return kit.MessageRef{ChatID: chatID, MessageID: 100 + len(c.replies)}, nil
}

func (c *chatLog) Edit(_ context.Context, _ kit.MessageRef, text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.edits = append(c.edits, text)
	return nil
}

func (c *chatLog) Answer(_ context.Context, _ string, text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.answers = append(c.answers, text)
	return nil
}

func (c *chatLog) last() sentReply {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.replies) == 0 {
		return sentReply{}
	}
	return c.replies[len(c.replies)-1]
}

func (c *chatLog) lastAnswer() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.answers) == 0 {
		return ""
	}
	return c.answers[len(c.answers)-1]
}

type harness struct {
	eng   *Engine
	dir   *MockDirectory
	sub   *MockSubmitter
	chat  *chatLog
	store *MemoryStore
	bus   eventbus.Bus
}

const chatID = int64(42)

func newHarness(t *testing.T) *harness {
	t.Helper()
	ctrl := gomock.NewController(t)
	h := &harness{
		dir:   NewMockDirectory(ctrl),
		sub:   NewMockSubmitter(ctrl),
		chat:  &chatLog{},
		store: NewMemoryStore(DefaultSessionTTL),
		bus:   eventbus.New(),
	}
	h.eng = New(Config{BroadcastChatID: "-100", Location: msk}, h.dir, h.sub, h.chat, h.store, logx.Nop(), h.bus)
	return h
}

func text(s string) kit.Update {
	return kit.Update{Kind: kit.UpdateMessage, Message: &kit.Message{ChatID: chatID, Text: s}}
}

func press(data string) kit.Update {
	return kit.Update{Kind: kit.UpdateCallback, Callback: &kit.Callback{ID: "cb-" + data, ChatID: chatID, MessageID: 101, Data: data}}
}

func (h *harness) expectAdd() {
	h.dir.EXPECT().UserByChat(gomock.Any(), "42", "-100").Return(User{ID: "u1", Email: "dev@example.com"}, true, nil)
	h.dir.EXPECT().ProjectsForUser(gomock.Any(), "u1").Return([]Project{{ID: "p1", Name: "Apollo"}, {ID: "p2", Name: "Zeus"}}, nil)
}

func (h *harness) step(t *testing.T) Step {
	t.Helper()
	sess, ok, err := h.store.Get(context.Background(), chatID)
	require.NoError(t, err)
	if !ok {
		return ""
	}
	return sess.Step
}

// toDeadline drives a fresh dialogue up to the deadline step.
func (h *harness) toDeadline(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	h.expectAdd()
	require.NoError(t, h.eng.Handle(ctx, text("/add")))
	require.NoError(t, h.eng.Handle(ctx, press("project_p1")))
	require.NoError(t, h.eng.Handle(ctx, text("Ship")))
	require.NoError(t, h.eng.Handle(ctx, text("Release 1.0")))
	require.Equal(t, StepDeadline, h.step(t))
}

func TestFullDialogueSubmitsOnce(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()

	h.expectAdd()
	require.NoError(t, h.eng.Handle(ctx, text("/add")))
	r := h.chat.last()
	assert.Equal(t, textChooseProject, r.text)
	require.Len(t, r.keyboard, 2)
	assert.Equal(t, kit.Button{Text: "Apollo", Data: "project_p1"}, r.keyboard[0][0])
	assert.Equal(t, StepProject, h.step(t))

	require.NoError(t, h.eng.Handle(ctx, press("project_p1")))
	assert.Equal(t, answerProjectChosen, h.chat.lastAnswer())
	assert.Equal(t, []string{"📁 Project: Apollo"}, h.chat.edits)
	assert.Equal(t, textEnterTitle, h.chat.last().text)

	require.NoError(t, h.eng.Handle(ctx, text("Ship")))
	assert.Equal(t, textEnterDesc, h.chat.last().text)

	require.NoError(t, h.eng.Handle(ctx, text("Release 1.0")))
	r = h.chat.last()
	assert.Equal(t, textEnterDeadline, r.text)
	assert.Equal(t, [][]kit.Button{{{Text: buttonSkip, Data: callbackSkip}}}, r.keyboard)

	var got inbox.Request
	h.sub.EXPECT().Submit(gomock.Any(), gomock.Any()).DoAndReturn(func(_ context.Context, req inbox.Request) (inbox.Response, error) {
		got = req
		return inbox.Response{ID: "t1"}, nil
	}).Times(1)

	require.NoError(t, h.eng.Handle(ctx, text("25.12.2026 18:30")))
	assert.Equal(t, inbox.Request{
		Source: inbox.SourceTelegram,
		Type:   inbox.TypeTaskCreate,
		UserID: "u1",
		Data:   inbox.TaskData{Title: "Ship", Description: "Release 1.0", ProjectID: "p1", Deadline: "2026-12-25T15:30:00Z"},
	}, got)
	assert.Equal(t, `✅ Task "Ship" created!`, h.chat.last().text)
	assert.Equal(t, Step(""), h.step(t))
}

func TestDeadlineStepRejectsOutOfStepInputThenSkips(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()
	h.toDeadline(t)

	err := h.eng.Handle(ctx, press("project_p2"))
	assert.True(t, errs.IsState(err))
	assert.Equal(t, answerWrongStep, h.chat.lastAnswer())
	assert.Equal(t, StepDeadline, h.step(t))

	err = h.eng.Handle(ctx, text("not-a-date"))
	assert.True(t, errs.IsInput(err))
	assert.Equal(t, textBadDeadline, h.chat.last().text)
	assert.Equal(t, StepDeadline, h.step(t))

	h.sub.EXPECT().Submit(gomock.Any(), gomock.Any()).DoAndReturn(func(_ context.Context, req inbox.Request) (inbox.Response, error) {
		assert.Empty(t, req.Data.Deadline)
		assert.Equal(t, "p1", req.Data.ProjectID)
		return inbox.Response{}, nil
	}).Times(1)
	require.NoError(t, h.eng.Handle(ctx, press(callbackSkip)))
	assert.Equal(t, answerSkipped, h.chat.lastAnswer())
	assert.Equal(t, Step(""), h.step(t))
}

func TestSkipWordCompletes(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.toDeadline(t)

	h.sub.EXPECT().Submit(gomock.Any(), gomock.Any()).Return(inbox.Response{}, nil).Times(1)
	require.NoError(t, h.eng.Handle(context.Background(), text("Пропустить")))
	assert.Equal(t, Step(""), h.step(t))
}

func TestSubmissionFailureStillClearsSession(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	events, unsub := h.bus.Subscribe(8)
	defer unsub()
	h.toDeadline(t)

	h.sub.EXPECT().Submit(gomock.Any(), gomock.Any()).
		Return(inbox.Response{}, errs.Submission(&inbox.StatusError{Status: 400, Body: "Project not found"}, "")).Times(1)

	err := h.eng.Handle(context.Background(), text("skip"))
	assert.True(t, errs.IsSubmission(err))
	assert.Equal(t, "❌ Error creating task: HTTP 400: Project not found", h.chat.last().text)
	assert.Equal(t, Step(""), h.step(t))

	select {
	case ev := <-events:
		assert.Equal(t, eventbus.ConversationFailed, ev.Type)
	case <-time.After(time.Second):
		t.Fatal("no conversation event")
	}
}

func TestAddWithoutUserCreatesNoSession(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	h.dir.EXPECT().UserByChat(gomock.Any(), "42", "-100").Return(User{}, false, nil)
	err := h.eng.Handle(context.Background(), text("/add"))
	assert.True(t, errs.IsInput(err))
	assert.Equal(t, textUserNotFound, h.chat.last().text)
	assert.Equal(t, Step(""), h.step(t))
}

func TestAddWithoutProjectsCreatesNoSession(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	h.dir.EXPECT().UserByChat(gomock.Any(), gomock.Any(), gomock.Any()).Return(User{ID: "u1"}, true, nil)
	h.dir.EXPECT().ProjectsForUser(gomock.Any(), "u1").Return(nil, nil)
	err := h.eng.Handle(context.Background(), text("/add@workhub_bot"))
	assert.True(t, errs.IsInput(err))
	assert.Equal(t, textNoProjects, h.chat.last().text)
	assert.Equal(t, Step(""), h.step(t))
}

func TestAddReplacesRunningSession(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.toDeadline(t)

	h.expectAdd()
	require.NoError(t, h.eng.Handle(context.Background(), text("/add")))
	sess, ok, err := h.store.Get(context.Background(), chatID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, StepProject, sess.Step)
	assert.Empty(t, sess.Title)
}

func TestCallbackWithoutSession(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	err := h.eng.Handle(context.Background(), press("project_p1"))
	assert.True(t, errs.IsState(err))
	assert.Equal(t, answerExpired, h.chat.lastAnswer())
}

func TestUnofferedProjectIsRejected(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.expectAdd()
	require.NoError(t, h.eng.Handle(context.Background(), text("/add")))

	err := h.eng.Handle(context.Background(), press("project_p9"))
	assert.True(t, errs.IsInput(err))
	assert.Equal(t, StepProject, h.step(t))
}

func TestTextWhileAwaitingProject(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.expectAdd()
	require.NoError(t, h.eng.Handle(context.Background(), text("/add")))

	err := h.eng.Handle(context.Background(), text("Apollo"))
	assert.True(t, errs.IsInput(err))
	assert.Equal(t, textUseButtons, h.chat.last().text)
	assert.Equal(t, StepProject, h.step(t))
}

func TestCancel(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()

	require.NoError(t, h.eng.Handle(ctx, text("/cancel")))
	assert.Equal(t, textNothingToCancel, h.chat.last().text)

	h.toDeadline(t)
	require.NoError(t, h.eng.Handle(ctx, text("/cancel")))
	assert.Equal(t, textCancelled, h.chat.last().text)
	assert.Equal(t, Step(""), h.step(t))
}

func TestTextWithoutSessionIsIgnored(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	require.NoError(t, h.eng.Handle(context.Background(), text("hello")))
	assert.Empty(t, h.chat.replies)
}

func TestEngineConsumesUpdateChannel(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.expectAdd()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.eng.Start(ctx)
	defer func() { _ = h.eng.Stop(context.Background()) }()

	h.eng.Updates() <- text("/add")
	require.Eventually(t, func() bool { return h.chat.last().text == textChooseProject }, 2*time.Second, 10*time.Millisecond)
}

func TestStartStopFromManyGoroutines(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			h.eng.Start(context.Background())
		}()
		go func() {
			defer wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			assert.NoError(t, h.eng.Stop(ctx))
		}()
	}
	wg.Wait()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, h.eng.Stop(ctx))
	assert.NoError(t, h.eng.Stop(ctx))
}

func TestParseDeadline(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want time.Time
	}{
		{"25.12.2026 18:30", time.Date(2026, 12, 25, 18, 30, 0, 0, msk)},
		{"  25.12.2026   18:30 ", time.Date(2026, 12, 25, 18, 30, 0, 0, msk)},
		{"25.12.2026", time.Date(2026, 12, 25, 0, 0, 0, 0, msk)},
		{"2026-12-25T18:30:00Z", time.Date(2026, 12, 25, 18, 30, 0, 0, time.UTC)},
		{"2026-12-25T18:30:00+01:00", time.Date(2026, 12, 25, 17, 30, 0, 0, time.UTC)},
		{"2026-12-25T18:30:00", time.Date(2026, 12, 25, 18, 30, 0, 0, msk)},
		{"2026-12-25", time.Date(2026, 12, 25, 0, 0, 0, 0, msk)},
		{"5.1.2027", time.Date(2027, 1, 5, 0, 0, 0, 0, msk)},
		{"25 Dec 2026 09:15", time.Date(2026, 12, 25, 9, 15, 0, 0, msk)},
	}
	for _, tt := range tests {
		got, err := ParseDeadline(tt.in, msk)
		require.NoError(t, err, tt.in)
		assert.True(t, tt.want.Equal(got), "%s: got %s", tt.in, got)
	}

	for _, bad := range []string{"not-a-date", "", "31.02.2026", "25.12.2026 25:00"} {
		_, err := ParseDeadline(bad, msk)
		require.Error(t, err, bad)
		assert.True(t, errs.IsInput(err))
		assert.Equal(t, textBadDeadline, errs.Hint(err))
	}
}

func TestMemoryStoreExpiresIdleSessions(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	s := NewMemoryStore(20 * time.Minute)
	s.now = func() time.Time { return now }
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, Session{ChatID: 1, Step: StepTitle}))
	require.NoError(t, s.Put(ctx, Session{ChatID: 2, Step: StepTitle}))

	now = now.Add(19 * time.Minute)
	_, ok, _ := s.Get(ctx, 1)
	assert.True(t, ok)
	require.NoError(t, s.Put(ctx, Session{ChatID: 1, Step: StepDescription}))

	now = now.Add(2 * time.Minute)
	_, ok, _ = s.Get(ctx, 1)
	assert.True(t, ok, "activity refreshes the deadline")
	assert.Equal(t, 1, s.Sweep(now))
	assert.Equal(t, 1, s.Len())

	now = now.Add(20 * time.Minute)
	_, ok, _ = s.Get(ctx, 1)
	assert.False(t, ok)
}

func TestRedisStoreUsesKeyTTL(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	s := NewRedisStore(client, "test", 20*time.Minute)
	ctx := context.Background()

	deadline := time.Date(2026, 12, 25, 15, 30, 0, 0, time.UTC)
	require.NoError(t, s.Put(ctx, Session{ChatID: 42, Step: StepDeadline, Title: "Ship", Deadline: &deadline, Projects: []Project{{ID: "p1", Name: "Apollo"}}}))
	assert.Equal(t, 20*time.Minute, mr.TTL("test:conv:42"))

	got, ok, err := s.Get(ctx, 42)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "Ship", got.Title)
	assert.True(t, deadline.Equal(*got.Deadline))
	assert.Equal(t, "Apollo", got.Projects[0].Name)

	mr.FastForward(21 * time.Minute)
	_, ok, err = s.Get(ctx, 42)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, mr.Set("test:conv:7", "{broken"))
	_, ok, err = s.Get(ctx, 7)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.False(t, mr.Exists("test:conv:7"))

	require.NoError(t, s.Delete(ctx, 99))
}

func TestKeyedLocksSerializePerKey(t *testing.T) {
	t.Parallel()

	locks := newKeyedLocks()
	var inside, peak atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := locks.Lock(context.Background(), 7)
			if !assert.NoError(t, err) {
				return
			}
			n := inside.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			inside.Add(-1)
			unlock()
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), peak.Load())
	assert.Equal(t, 0, locks.len())
}

func TestKeyedLocksGiveUpWithContext(t *testing.T) {
	t.Parallel()

	locks := newKeyedLocks()
	unlock, err := locks.Lock(context.Background(), 7)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = locks.Lock(ctx, 7)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	unlock()
	assert.Equal(t, 0, locks.len())
}

func newRedisClient(t *testing.T, mr *miniredis.Miniredis) *redis.Client {
	t.Helper()
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestRedisStoreLockIsExclusiveAcrossClients(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)
	a := NewRedisStore(newRedisClient(t, mr), "test", time.Minute)
	b := NewRedisStore(newRedisClient(t, mr), "test", time.Minute)
	ctx := context.Background()

	unlock, err := a.Lock(ctx, 42)
	require.NoError(t, err)
	assert.Equal(t, lockTTL, mr.TTL("test:conv:42:lock"))

	short, cancel := context.WithTimeout(ctx, 100*time.Millisecond)
	defer cancel()
	_, err = b.Lock(short, 42)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	// Other chats are independent.
	other, err := b.Lock(ctx, 7)
	require.NoError(t, err)
	other()

	got := make(chan error, 1)
	go func() {
		unlockB, err := b.Lock(ctx, 42)
		if err == nil {
			unlockB()
		}
		got <- err
	}()
	unlock()
	select {
	case err := <-got:
		require.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("lock not handed over")
	}
	assert.False(t, mr.Exists("test:conv:42:lock"))
}

func TestRedisStoreUnlockKeepsForeignLock(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)
	s := NewRedisStore(newRedisClient(t, mr), "test", time.Minute)
	ctx := context.Background()

	unlock, err := s.Lock(ctx, 42)
	require.NoError(t, err)

	// Our lease expired and another process took the chat.
	mr.FastForward(lockTTL + time.Second)
	require.NoError(t, mr.Set("test:conv:42:lock", "someone-else"))

	unlock()
	v, err := mr.Get("test:conv:42:lock")
	require.NoError(t, err)
	assert.Equal(t, "someone-else", v)
}

func TestEnginesSharingRedisStoreSubmitOnce(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)
	ctrl := gomock.NewController(t)
	dir := NewMockDirectory(ctrl)
	sub := NewMockSubmitter(ctrl)
	cfg := Config{BroadcastChatID: "-100", Location: msk}
	chatA, chatB := &chatLog{}, &chatLog{}
	engA := New(cfg, dir, sub, chatA, NewRedisStore(newRedisClient(t, mr), "test", time.Minute), logx.Nop(), nil)
	engB := New(cfg, dir, sub, chatB, NewRedisStore(newRedisClient(t, mr), "test", time.Minute), logx.Nop(), nil)
	ctx := context.Background()

	dir.EXPECT().UserByChat(gomock.Any(), "42", "-100").Return(User{ID: "u1"}, true, nil)
	dir.EXPECT().ProjectsForUser(gomock.Any(), "u1").Return([]Project{{ID: "p1", Name: "Apollo"}}, nil)
	require.NoError(t, engA.Handle(ctx, text("/add")))
	require.NoError(t, engB.Handle(ctx, press("project_p1")))
	require.NoError(t, engA.Handle(ctx, text("Ship")))
	require.NoError(t, engB.Handle(ctx, text("Release 1.0")))

	sub.EXPECT().Submit(gomock.Any(), gomock.Any()).DoAndReturn(func(context.Context, inbox.Request) (inbox.Response, error) {
		time.Sleep(50 * time.Millisecond)
		return inbox.Response{ID: "t1"}, nil
	}).Times(1)

	// The same "skip" delivered to both processes.
	var wg sync.WaitGroup
	for _, eng := range []*Engine{engA, engB} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, eng.Handle(ctx, text("skip")))
		}()
	}
	wg.Wait()

	assert.False(t, mr.Exists("test:conv:42"))
	assert.False(t, mr.Exists("test:conv:42:lock"))
}
