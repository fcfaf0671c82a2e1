package conversation

import (
	"context"
	"sync"
)

// keyedLocks serializes work per chat inside one process. Entries live only
// while someone holds or waits for them.
type keyedLocks struct {
	mu sync.Mutex
	m  map[int64]*keyedLock
}

type keyedLock struct {
	held chan struct{} // cap 1; full while locked
	refs int
}

func newKeyedLocks() *keyedLocks {
	return &keyedLocks{m: map[int64]*keyedLock{}}
}

// Lock blocks until key is free or ctx ends and returns the unlock func.
func (k *keyedLocks) Lock(ctx context.Context, key int64) (func(), error) {
	k.mu.Lock()
	l := k.m[key]
	if l == nil {
		l = &keyedLock{held: make(chan struct{}, 1)}
		k.m[key] = l
	}
	l.refs++
	k.mu.Unlock()

	select {
	case l.held <- struct{}{}:
	case <-ctx.Done():
		k.release(key, l)
		return nil, ctx.Err()
	}
	return func() {
		<-l.held
		k.release(key, l)
	}, nil
}

func (k *keyedLocks) release(key int64, l *keyedLock) {
	k.mu.Lock()
	l.refs--
	if l.refs == 0 {
		delete(k.m, key)
	}
	k.mu.Unlock()
}

func (k *keyedLocks) len() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.m)
}
