package jobqueue

import (
	"context"
	"encoding/json"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"workhub/internal/errs"
)

// Key layout under prefix:
//
//	{prefix}:jobs:due       ZSET  address -> due unix ms
//	{prefix}:jobs:active    ZSET  address -> lease deadline unix ms
//	{prefix}:jobs:data      HASH  address -> envelope JSON
//	{prefix}:jobs:ids       HASH  address -> envelope id
//	{prefix}:jobs:attempts  HASH  address -> claim count
//
// Every mutation runs as one Lua script, so supersede, claim and ack are atomic
// across processes sharing the same Redis.
var (
	upsertScript = redis.NewScript(`
redis.call('HSET', KEYS[3], ARGV[1], ARGV[2])
redis.call('HSET', KEYS[4], ARGV[1], ARGV[3])
redis.call('HSET', KEYS[5], ARGV[1], 0)
redis.call('ZREM', KEYS[2], ARGV[1])
redis.call('ZADD', KEYS[1], ARGV[4], ARGV[1])
return 1
`)

	removeScript = redis.NewScript(`
local n = redis.call('HDEL', KEYS[3], ARGV[1])
redis.call('HDEL', KEYS[4], ARGV[1])
redis.call('HDEL', KEYS[5], ARGV[1])
redis.call('ZREM', KEYS[1], ARGV[1])
redis.call('ZREM', KEYS[2], ARGV[1])
return n
`)

	claimScript = redis.NewScript(`
local addrs = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, tonumber(ARGV[3]))
local out = {}
for _, a in ipairs(addrs) do
  redis.call('ZREM', KEYS[1], a)
  local body = redis.call('HGET', KEYS[3], a)
  if body then
    redis.call('ZADD', KEYS[2], ARGV[2], a)
    local n = redis.call('HINCRBY', KEYS[5], a, 1)
    table.insert(out, a)
    table.insert(out, body)
    table.insert(out, n)
  end
end
return out
`)

	ackScript = redis.NewScript(`
if redis.call('HGET', KEYS[4], ARGV[1]) ~= ARGV[2] then
  return 0
end
redis.call('HDEL', KEYS[3], ARGV[1])
redis.call('HDEL', KEYS[4], ARGV[1])
redis.call('HDEL', KEYS[5], ARGV[1])
redis.call('ZREM', KEYS[1], ARGV[1])
redis.call('ZREM', KEYS[2], ARGV[1])
return 1
`)

	nackScript = redis.NewScript(`
if redis.call('HGET', KEYS[4], ARGV[1]) ~= ARGV[2] then
  return 0
end
redis.call('ZREM', KEYS[2], ARGV[1])
redis.call('ZADD', KEYS[1], ARGV[3], ARGV[1])
return 1
`)

	releaseScript = redis.NewScript(`
if redis.call('HGET', KEYS[4], ARGV[1]) ~= ARGV[2] then
  return 0
end
redis.call('ZREM', KEYS[2], ARGV[1])
redis.call('ZADD', KEYS[1], ARGV[3], ARGV[1])
if tonumber(redis.call('HGET', KEYS[5], ARGV[1]) or '0') > 0 then
  redis.call('HINCRBY', KEYS[5], ARGV[1], -1)
end
return 1
`)

	reapScript = redis.NewScript(`
local addrs = redis.call('ZRANGEBYSCORE', KEYS[2], '-inf', ARGV[1], 'LIMIT', 0, 1000)
for _, a in ipairs(addrs) do
  redis.call('ZREM', KEYS[2], a)
  redis.call('ZADD', KEYS[1], ARGV[1], a)
end
return #addrs
`)
)

// RedisQueue is the production Queue shared by every workhub process.
type RedisQueue struct {
	client redis.UniversalClient
	keys   []string
}

// NewRedis returns a queue storing its keys under prefix (default "workhub").
func NewRedis(client redis.UniversalClient, prefix string) *RedisQueue {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = "workhub"
	}
	p := prefix + ":jobs:"
	return &RedisQueue{
		client: client,
		keys:   []string{p + "due", p + "active", p + "data", p + "ids", p + "attempts"},
	}
}

func (q *RedisQueue) dueKey() string      { return q.keys[0] }
func (q *RedisQueue) activeKey() string   { return q.keys[1] }
func (q *RedisQueue) dataKey() string     { return q.keys[2] }
func (q *RedisQueue) attemptsKey() string { return q.keys[4] }

func (q *RedisQueue) Upsert(ctx context.Context, env Envelope) error {
	if env.ID == "" || env.Kind == "" || env.Key == "" {
		return errs.New("envelope id, kind and key required")
	}
	env.Attempts = 0
	env.LeaseUntil = time.Time{}
	body, err := json.Marshal(env)
	if err != nil {
		return errs.Wrap(err, "marshal envelope")
	}
	if err := upsertScript.Run(ctx, q.client, q.keys, env.Address(), body, env.ID, env.DueAt.UnixMilli()).Err(); err != nil {
		return errs.Wrapf(err, "upsert %s", env.Address())
	}
	return nil
}

func (q *RedisQueue) Remove(ctx context.Context, kind Kind, key string) (bool, error) {
	n, err := removeScript.Run(ctx, q.client, q.keys, Address(kind, key)).Int64()
	if err != nil {
		return false, errs.Wrapf(err, "remove %s", Address(kind, key))
	}
	return n > 0, nil
}

func (q *RedisQueue) Get(ctx context.Context, kind Kind, key string) (Envelope, bool, error) {
	addr := Address(kind, key)
	pipe := q.client.Pipeline()
	bodyCmd := pipe.HGet(ctx, q.dataKey(), addr)
	attCmd := pipe.HGet(ctx, q.attemptsKey(), addr)
	dueCmd := pipe.ZScore(ctx, q.dueKey(), addr)
	leaseCmd := pipe.ZScore(ctx, q.activeKey(), addr)
	if _, err := pipe.Exec(ctx); err != nil && !errs.Is(err, redis.Nil) {
		return Envelope{}, false, errs.Wrapf(err, "get %s", addr)
	}
	body, err := bodyCmd.Result()
	if errs.Is(err, redis.Nil) {
		return Envelope{}, false, nil
	}
	if err != nil {
		return Envelope{}, false, errs.Wrapf(err, "get %s", addr)
	}
	env, err := decodeEnvelope(body)
	if err != nil {
		return Envelope{}, false, err
	}
	env.Attempts, _ = strconv.Atoi(attCmd.Val())
	if due, err := dueCmd.Result(); err == nil {
		env.DueAt = time.UnixMilli(int64(due))
	}
	if lease, err := leaseCmd.Result(); err == nil {
		env.LeaseUntil = time.UnixMilli(int64(lease))
	}
	return env, true, nil
}

func (q *RedisQueue) Claim(ctx context.Context, now time.Time, lease time.Duration, max int) ([]Envelope, error) {
	if max <= 0 {
		max = 1
	}
	res, err := claimScript.Run(ctx, q.client, q.keys, now.UnixMilli(), now.Add(lease).UnixMilli(), max).Slice()
	if err != nil {
		return nil, errs.Wrap(err, "claim jobs")
	}
	out := make([]Envelope, 0, len(res)/3)
	for i := 0; i+2 < len(res); i += 3 {
		addr, _ := res[i].(string)
		body, _ := res[i+1].(string)
		env, err := decodeEnvelope(body)
		if err != nil {
			// Unreadable bodies would cycle through Reap forever.
			_ = removeScript.Run(ctx, q.client, q.keys, addr).Err()
			continue
		}
		if n, ok := res[i+2].(int64); ok {
			env.Attempts = int(n)
		}
		env.LeaseUntil = now.Add(lease)
		out = append(out, env)
	}
	return out, nil
}

func (q *RedisQueue) Ack(ctx context.Context, env Envelope) error {
	if err := ackScript.Run(ctx, q.client, q.keys, env.Address(), env.ID).Err(); err != nil {
		return errs.Wrapf(err, "ack %s", env.Address())
	}
	return nil
}

func (q *RedisQueue) Nack(ctx context.Context, env Envelope, retryAt time.Time) error {
	if err := nackScript.Run(ctx, q.client, q.keys, env.Address(), env.ID, retryAt.UnixMilli()).Err(); err != nil {
		return errs.Wrapf(err, "nack %s", env.Address())
	}
	return nil
}

func (q *RedisQueue) Release(ctx context.Context, env Envelope, retryAt time.Time) error {
	if err := releaseScript.Run(ctx, q.client, q.keys, env.Address(), env.ID, retryAt.UnixMilli()).Err(); err != nil {
		return errs.Wrapf(err, "release %s", env.Address())
	}
	return nil
}

func (q *RedisQueue) Reap(ctx context.Context, now time.Time) (int, error) {
	n, err := reapScript.Run(ctx, q.client, q.keys, now.UnixMilli()).Int()
	if err != nil {
		return 0, errs.Wrap(err, "reap leases")
	}
	return n, nil
}

func (q *RedisQueue) List(ctx context.Context) ([]Envelope, error) {
	pipe := q.client.Pipeline()
	dataCmd := pipe.HGetAll(ctx, q.dataKey())
	attCmd := pipe.HGetAll(ctx, q.attemptsKey())
	dueCmd := pipe.ZRangeWithScores(ctx, q.dueKey(), 0, -1)
	activeCmd := pipe.ZRangeWithScores(ctx, q.activeKey(), 0, -1)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, errs.Wrap(err, "list jobs")
	}

	scores := func(zs []redis.Z) map[string]time.Time {
		m := make(map[string]time.Time, len(zs))
		for _, z := range zs {
			if s, ok := z.Member.(string); ok {
				m[s] = time.UnixMilli(int64(z.Score))
			}
		}
		return m
	}
	due := scores(dueCmd.Val())
	active := scores(activeCmd.Val())
	attempts := attCmd.Val()

	out := make([]Envelope, 0, len(dataCmd.Val()))
	for addr, body := range dataCmd.Val() {
		env, err := decodeEnvelope(body)
		if err != nil {
			continue
		}
		if t, ok := due[addr]; ok {
			env.DueAt = t
		}
		env.LeaseUntil = active[addr]
		env.Attempts, _ = strconv.Atoi(attempts[addr])
		out = append(out, env)
	}
	sortByDue(out)
	return out, nil
}

// Close is a no-op; the client is owned by the caller.
func (q *RedisQueue) Close() error { return nil }

func decodeEnvelope(body string) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal([]byte(body), &env); err != nil {
		return Envelope{}, errs.Wrap(err, "decode envelope")
	}
	return env, nil
}

func sortByDue(envs []Envelope) {
	slices.SortFunc(envs, func(a, b Envelope) int {
		if c := a.DueAt.Compare(b.DueAt); c != 0 {
			return c
		}
		return strings.Compare(a.Address(), b.Address())
	})
}
