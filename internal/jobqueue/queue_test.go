package jobqueue

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedisQueue(t *testing.T) *RedisQueue {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedis(client, "test")
}

func queues(t *testing.T) map[string]Queue {
	return map[string]Queue{
		"memory": NewMemory(),
		"redis":  newRedisQueue(t),
	}
}

type reminder struct {
	Title string `json:"title"`
}

func mustEnvelope(t *testing.T, key string, due time.Time, title string) Envelope {
	t.Helper()
	env, err := NewEnvelope(KindDeadlineReminder, key, due, reminder{Title: title})
	require.NoError(t, err)
	return env
}

func TestUpsertSupersedesPendingJob(t *testing.T) {
	for name, q := range queues(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			due := time.Now().Add(time.Hour).Truncate(time.Millisecond)

			require.NoError(t, q.Upsert(ctx, mustEnvelope(t, "task-1", due, "first")))
			second := mustEnvelope(t, "task-1", due.Add(time.Hour), "second")
			require.NoError(t, q.Upsert(ctx, second))

			all, err := q.List(ctx)
			require.NoError(t, err)
			require.Len(t, all, 1)
			assert.Equal(t, second.ID, all[0].ID)
			assert.True(t, second.DueAt.Equal(all[0].DueAt))

			var p reminder
			require.NoError(t, all[0].Decode(&p))
			assert.Equal(t, "second", p.Title)
		})
	}
}

func TestRemoveAbsentIsNoop(t *testing.T) {
	for name, q := range queues(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			removed, err := q.Remove(ctx, KindDeadlineReminder, "missing")
			require.NoError(t, err)
			assert.False(t, removed)

			require.NoError(t, q.Upsert(ctx, mustEnvelope(t, "task-1", time.Now(), "x")))
			removed, err = q.Remove(ctx, KindDeadlineReminder, "task-1")
			require.NoError(t, err)
			assert.True(t, removed)

			_, ok, err := q.Get(ctx, KindDeadlineReminder, "task-1")
			require.NoError(t, err)
			assert.False(t, ok)
		})
	}
}

func TestClaimOnlyDueJobs(t *testing.T) {
	for name, q := range queues(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			now := time.Now()
			require.NoError(t, q.Upsert(ctx, mustEnvelope(t, "past", now.Add(-time.Minute), "p")))
			require.NoError(t, q.Upsert(ctx, mustEnvelope(t, "future", now.Add(time.Hour), "f")))

			got, err := q.Claim(ctx, now, time.Minute, 10)
			require.NoError(t, err)
			require.Len(t, got, 1)
			assert.Equal(t, "past", got[0].Key)
			assert.Equal(t, 1, got[0].Attempts)

			// Leased jobs are invisible to a second claim.
			again, err := q.Claim(ctx, now, time.Minute, 10)
			require.NoError(t, err)
			assert.Empty(t, again)
		})
	}
}

func TestAckIgnoresSupersededClaim(t *testing.T) {
	for name, q := range queues(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			now := time.Now()
			require.NoError(t, q.Upsert(ctx, mustEnvelope(t, "task-1", now, "old")))
			claimed, err := q.Claim(ctx, now, time.Minute, 1)
			require.NoError(t, err)
			require.Len(t, claimed, 1)

			// Deadline edited while the old reminder is running.
			newer := mustEnvelope(t, "task-1", now.Add(time.Hour), "new")
			require.NoError(t, q.Upsert(ctx, newer))
			require.NoError(t, q.Ack(ctx, claimed[0]))

			got, ok, err := q.Get(ctx, KindDeadlineReminder, "task-1")
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, newer.ID, got.ID)
			assert.Equal(t, 0, got.Attempts)
		})
	}
}

func TestAckAfterCancelIsNoop(t *testing.T) {
	for name, q := range queues(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			now := time.Now()
			require.NoError(t, q.Upsert(ctx, mustEnvelope(t, "task-1", now, "x")))
			claimed, err := q.Claim(ctx, now, time.Minute, 1)
			require.NoError(t, err)
			require.Len(t, claimed, 1)

			_, err = q.Remove(ctx, KindDeadlineReminder, "task-1")
			require.NoError(t, err)
			require.NoError(t, q.Ack(ctx, claimed[0]))
			require.NoError(t, q.Nack(ctx, claimed[0], now))

			all, err := q.List(ctx)
			require.NoError(t, err)
			assert.Empty(t, all)
		})
	}
}

func TestReapReturnsExpiredLeases(t *testing.T) {
	for name, q := range queues(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			now := time.Now()
			require.NoError(t, q.Upsert(ctx, mustEnvelope(t, "task-1", now, "x")))
			_, err := q.Claim(ctx, now, time.Second, 1)
			require.NoError(t, err)

			n, err := q.Reap(ctx, now)
			require.NoError(t, err)
			assert.Equal(t, 0, n)

			later := now.Add(2 * time.Second)
			n, err = q.Reap(ctx, later)
			require.NoError(t, err)
			assert.Equal(t, 1, n)

			got, err := q.Claim(ctx, later, time.Second, 1)
			require.NoError(t, err)
			require.Len(t, got, 1)
			assert.Equal(t, 2, got[0].Attempts)
		})
	}
}

func TestNackReschedules(t *testing.T) {
	for name, q := range queues(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			now := time.Now()
			require.NoError(t, q.Upsert(ctx, mustEnvelope(t, "task-1", now, "x")))
			claimed, err := q.Claim(ctx, now, time.Minute, 1)
			require.NoError(t, err)
			require.Len(t, claimed, 1)

			retryAt := now.Add(10 * time.Second)
			require.NoError(t, q.Nack(ctx, claimed[0], retryAt))

			got, err := q.Claim(ctx, now, time.Minute, 1)
			require.NoError(t, err)
			assert.Empty(t, got)

			got, err = q.Claim(ctx, retryAt, time.Minute, 1)
			require.NoError(t, err)
			assert.Len(t, got, 1)
		})
	}
}

func TestNewEnvelopeValidation(t *testing.T) {
	_, err := NewEnvelope("", "k", time.Now(), nil)
	assert.Error(t, err)
	_, err = NewEnvelope(KindDailyDigest, " ", time.Now(), nil)
	assert.Error(t, err)

	a, err := NewEnvelope(KindDailyDigest, "daily_digest", time.Now(), nil)
	require.NoError(t, err)
	b, err := NewEnvelope(KindDailyDigest, "daily_digest", time.Now(), nil)
	require.NoError(t, err)
	assert.NotEqual(t, a.ID, b.ID)
	assert.Equal(t, "daily_digest:daily_digest", a.Address())
}

func TestReleaseUndoesClaimCount(t *testing.T) {
	for name, q := range queues(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			now := time.Now()
			require.NoError(t, q.Upsert(ctx, mustEnvelope(t, "task-1", now, "x")))

			for i := 0; i < 3; i++ {
				claimed, err := q.Claim(ctx, now, time.Minute, 1)
				require.NoError(t, err)
				require.Len(t, claimed, 1)
				assert.Equal(t, 1, claimed[0].Attempts)
				require.NoError(t, q.Release(ctx, claimed[0], now))
			}

			got, ok, err := q.Get(ctx, KindDeadlineReminder, "task-1")
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, 0, got.Attempts)
			assert.True(t, got.LeaseUntil.IsZero())
		})
	}
}
