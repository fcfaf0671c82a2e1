package notify

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"workhub/internal/errs"
	"workhub/internal/eventbus"
	"workhub/internal/storage"
	kit "workhub/internal/transport"
	logx "workhub/pkg/logx"
)

type sent struct {
	to   kit.ChatTarget
	text string
	opt  *kit.SendOptions
}

type fakeSender struct {
	mu      sync.Mutex
	sent    []sent
	edits   []string
	answers []string
	failN   int
}

func (f *fakeSender) SendText(_ context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failN > 0 {
		f.failN--
		return kit.MessageRef{}, errs.New("telegram: bad gateway")
	}
	f.sent = append(f.sent, sent{to: to, text: text, opt: opt})
	return kit.MessageRef{ChatID: to.ChatID, MessageID: len(f.sent)}, nil
}

func (f *fakeSender) EditText(_ context.Context, ref kit.MessageRef, text string, _ *kit.SendOptions) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.edits = append(f.edits, text)
	return nil
}

func (f *fakeSender) AnswerCallback(_ context.Context, id, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.answers = append(f.answers, id+":"+text)
	return nil
}

func (f *fakeSender) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

type recordingStore struct {
	storage.Store
	mu         sync.Mutex
	deliveries []storage.Delivery
}

func (r *recordingStore) RecordDelivery(ctx context.Context, d storage.Delivery) error {
	r.mu.Lock()
	r.deliveries = append(r.deliveries, d)
	r.mu.Unlock()
	return r.Store.RecordDelivery(ctx, d)
}

func enabled() Config {
	return Config{Enabled: true, ChatID: -100, RatePerSec: 1000, DedupWindow: time.Minute}
}

func TestDisabledIsNoop(t *testing.T) {
	t.Parallel()

	s := New(Config{}, nil, logx.Nop(), nil, nil)
	assert.False(t, s.Enabled())
	assert.NoError(t, s.Broadcast(context.Background(), "hello"))
	ref, err := s.Reply(context.Background(), 1, "hi", nil)
	assert.NoError(t, err)
	assert.Zero(t, ref)
	assert.NoError(t, s.Answer(context.Background(), "cb", "ok"))
}

func TestBroadcastDedupsSameText(t *testing.T) {
	t.Parallel()

	bus := eventbus.New()
	events, unsub := bus.Subscribe(8)
	defer unsub()

	snd := &fakeSender{}
	s := New(enabled(), snd, logx.Nop(), bus, nil)
	ctx := context.Background()

	require.NoError(t, s.Broadcast(ctx, "⏰ Deadline soon"))
	require.NoError(t, s.Broadcast(ctx, "⏰ Deadline soon"))
	require.NoError(t, s.Broadcast(ctx, "🗓 Today: 0 tasks, Overdue: 0"))

	require.Equal(t, 2, snd.count())
	assert.Equal(t, int64(-100), snd.sent[0].to.ChatID)

	var types []string
	for len(types) < 3 {
		select {
		case ev := <-events:
			types = append(types, ev.Type)
		case <-time.After(time.Second):
			t.Fatalf("missing events, got %v", types)
		}
	}
	assert.ElementsMatch(t, []string{eventbus.NotifySent, eventbus.NotifySuppressed, eventbus.NotifySent}, types)
}

func TestFailedBroadcastIsNotSuppressed(t *testing.T) {
	t.Parallel()

	snd := &fakeSender{failN: 1}
	s := New(enabled(), snd, logx.Nop(), nil, nil)
	ctx := context.Background()

	err := s.Broadcast(ctx, "digest")
	require.Error(t, err)
	require.NoError(t, s.Broadcast(ctx, "digest"))
	assert.Equal(t, 1, snd.count())
}

func TestDedupWindowZeroSendsEverything(t *testing.T) {
	t.Parallel()

	cfg := enabled()
	cfg.DedupWindow = 0
	snd := &fakeSender{}
	s := New(cfg, snd, logx.Nop(), nil, nil)
	require.NoError(t, s.Broadcast(context.Background(), "x"))
	require.NoError(t, s.Broadcast(context.Background(), "x"))
	assert.Equal(t, 2, snd.count())
}

func TestPersistedDedupSurvivesRestart(t *testing.T) {
	t.Parallel()

	st := storage.NewMemory()
	cfg := enabled()
	cfg.PersistDedup = true
	ctx := context.Background()

	first := New(cfg, &fakeSender{}, logx.Nop(), nil, st)
	first.Start(ctx)
	require.NoError(t, first.Broadcast(ctx, "reminder"))
	first.Stop(ctx)

	require.Eventually(t, func() bool {
		_, ok, err := st.GetDedup(ctx, dedupKey(cfg.ChatID, "reminder"))
		return err == nil && ok
	}, time.Second, 10*time.Millisecond)

	snd := &fakeSender{}
	second := New(cfg, snd, logx.Nop(), nil, st)
	require.NoError(t, second.Broadcast(ctx, "reminder"))
	assert.Equal(t, 0, snd.count())
}

func TestReplyCarriesKeyboardAndIsRecorded(t *testing.T) {
	t.Parallel()

	st := &recordingStore{Store: storage.NewMemory()}
	snd := &fakeSender{}
	s := New(enabled(), snd, logx.Nop(), nil, st)
	ctx := context.Background()

	kb := [][]kit.Button{{{Text: "Apollo", Data: "project_1"}}}
	ref, err := s.Reply(ctx, 42, "Choose project:", kb)
	require.NoError(t, err)
	assert.Equal(t, int64(42), ref.ChatID)

	// Replies are never deduplicated.
	_, err = s.Reply(ctx, 42, "Choose project:", kb)
	require.NoError(t, err)
	require.Equal(t, 2, snd.count())
	assert.Equal(t, kb, snd.sent[0].opt.Keyboard)

	require.NoError(t, s.Edit(ctx, ref, "Project: Apollo"))
	require.NoError(t, s.Answer(ctx, "cb1", "Project selected"))
	assert.Equal(t, []string{"Project: Apollo"}, snd.edits)
	assert.Equal(t, []string{"cb1:Project selected"}, snd.answers)

	st.mu.Lock()
	defer st.mu.Unlock()
	require.Len(t, st.deliveries, 2)
	assert.Equal(t, "reply", st.deliveries[0].Kind)
	assert.Equal(t, "42", st.deliveries[0].ChatID)
	assert.True(t, st.deliveries[0].OK)
}

func TestDedupCapEvictsOldest(t *testing.T) {
	t.Parallel()

	cfg := enabled()
	cfg.DedupMaxEntries = 2
	s := New(cfg, &fakeSender{}, logx.Nop(), nil, nil)
	ctx := context.Background()
	for _, text := range []string{"a", "b", "c"} {
		require.NoError(t, s.Broadcast(ctx, text))
	}
	s.dmu.Lock()
	defer s.dmu.Unlock()
	assert.Len(t, s.dedup, 2)
}
