package profile

import (
	"context"
	"slices"
	"sync"
)

// keyLocks hands out one exclusive lock per key. Waiters on the same key are
// granted the lock in arrival order; different keys never contend.
type keyLocks struct {
	mu     sync.Mutex
	queues map[string]*lockQueue
}

type lockQueue struct {
	waiters []chan struct{}
}

func newKeyLocks() *keyLocks {
	return &keyLocks{queues: make(map[string]*lockQueue)}
}

// acquire blocks until the lock for key is held or ctx is done. The returned
// release func is safe to call more than once.
func (l *keyLocks) acquire(ctx context.Context, key string) (func(), error) {
	l.mu.Lock()
	q, held := l.queues[key]
	if !held {
		l.queues[key] = &lockQueue{}
		l.mu.Unlock()
		return l.releaser(key), nil
	}
	ch := make(chan struct{})
	q.waiters = append(q.waiters, ch)
	l.mu.Unlock()

	select {
	case <-ch:
		return l.releaser(key), nil
	case <-ctx.Done():
		l.mu.Lock()
		if i := slices.Index(q.waiters, ch); i >= 0 {
			q.waiters = slices.Delete(q.waiters, i, i+1)
			l.mu.Unlock()
			return nil, ctx.Err()
		}
		l.mu.Unlock()
		// Ownership was handed over concurrently with cancellation; pass it on.
		l.releaser(key)()
		return nil, ctx.Err()
	}
}

func (l *keyLocks) releaser(key string) func() {
	var once sync.Once
	return func() {
		once.Do(func() { l.release(key) })
	}
}

func (l *keyLocks) release(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	q := l.queues[key]
	if q == nil {
		return
	}
	if len(q.waiters) == 0 {
		delete(l.queues, key)
		return
	}
	next := q.waiters[0]
	q.waiters = q.waiters[1:]
	close(next)
}

// active returns the number of keys currently locked.
func (l *keyLocks) active() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.queues)
}
