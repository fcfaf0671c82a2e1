package conversation

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"workhub/internal/errs"
)

const (
	// lockTTL bounds how long a crashed holder blocks its chat. It must
	// exceed the slowest update, inbox submission included.
	lockTTL      = 30 * time.Second
	lockRetryMin = 20 * time.Millisecond
	lockRetryMax = 500 * time.Millisecond
)

// unlockScript deletes the lock only while it still carries our token, so an
// expired holder cannot release a lock someone else took over.
var unlockScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
  return redis.call('DEL', KEYS[1])
end
return 0
`)

// RedisStore keeps sessions as JSON strings whose key TTL is the inactivity
// timeout, so every process serving the bot sees the same dialogue.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

func NewRedisStore(client redis.UniversalClient, prefix string, ttl time.Duration) *RedisStore {
	if prefix == "" {
		prefix = "workhub"
	}
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	return &RedisStore{client: client, prefix: prefix + ":conv:", ttl: ttl}
}

func (s *RedisStore) key(chatID int64) string {
	return s.prefix + strconv.FormatInt(chatID, 10)
}

func (s *RedisStore) lockKey(chatID int64) string {
	return s.key(chatID) + ":lock"
}

func (s *RedisStore) Get(ctx context.Context, chatID int64) (Session, bool, error) {
	data, err := s.client.Get(ctx, s.key(chatID)).Bytes()
	if errs.Is(err, redis.Nil) {
		return Session{}, false, nil
	}
	if err != nil {
		return Session{}, false, errs.Wrap(err, "redis get session")
	}
	var sess Session
	if err := json.Unmarshal(data, &sess); err != nil {
		// A session we cannot read is as good as expired.
		if delErr := s.Delete(ctx, chatID); delErr != nil {
			return Session{}, false, errs.Wrap(delErr, "cleanup unreadable session")
		}
		return Session{}, false, nil
	}
	return sess, true, nil
}

func (s *RedisStore) Put(ctx context.Context, sess Session) error {
	sess.UpdatedAt = time.Now()
	data, err := json.Marshal(sess)
	if err != nil {
		return errs.Wrap(err, "marshal session")
	}
	if err := s.client.Set(ctx, s.key(sess.ChatID), data, s.ttl).Err(); err != nil {
		return errs.Wrap(err, "redis set session")
	}
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, chatID int64) error {
	if err := s.client.Del(ctx, s.key(chatID)).Err(); err != nil {
		return errs.Wrap(err, "redis delete session")
	}
	return nil
}

// Lock takes a SET NX PX lease on the chat, polling with backoff while another
// process holds it.
func (s *RedisStore) Lock(ctx context.Context, chatID int64) (func(), error) {
	key := s.lockKey(chatID)
	token := uuid.NewString()
	wait := lockRetryMin
	for {
		ok, err := s.client.SetNX(ctx, key, token, lockTTL).Result()
		if err != nil {
			return nil, errs.Wrap(err, "redis lock session")
		}
		if ok {
			break
		}
		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil, ctx.Err()
		case <-t.C:
		}
		wait = min(wait*2, lockRetryMax)
	}
	return func() {
		// A failed release leaves the lease to expire after lockTTL.
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
		defer cancel()
		_ = unlockScript.Run(rctx, s.client, []string{key}, token).Err()
	}, nil
}
