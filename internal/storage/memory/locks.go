// README: Per-key lock registry used by the in-memory store.
package memory

import (
	"context"
	"sync"
	"time"

	"fleetd/internal/storage"
)

type lockEntry struct {
	ch   chan struct{}
	refs int
}

type lockRegistry struct {
	mu   sync.Mutex
	held map[string]*lockEntry
}

func newLockRegistry() *lockRegistry {
	return &lockRegistry{held: make(map[string]*lockEntry)}
}

// acquire blocks according to opts and returns the release func.
func (l *lockRegistry) acquire(ctx context.Context, key string, opts storage.LockOptions) (func(), error) {
	e := l.ref(key)

	select {
	case e.ch <- struct{}{}:
		return l.releaser(key, e), nil
	default:
	}
	if opts.Policy == storage.LockFailFast {
		l.unref(key, e)
		return nil, storage.ErrLockBusy
	}

	var timeout <-chan time.Time
	if opts.Wait > 0 {
		timer := time.NewTimer(opts.Wait)
		defer timer.Stop()
		timeout = timer.C
	}
	select {
	case e.ch <- struct{}{}:
		return l.releaser(key, e), nil
	case <-timeout:
		l.unref(key, e)
		return nil, storage.ErrLockBusy
	case <-ctx.Done():
		l.unref(key, e)
		return nil, ctx.Err()
	}
}

func (l *lockRegistry) releaser(key string, e *lockEntry) func() {
	var once sync.Once
	return func() {
		once.Do(func() {
			<-e.ch
			l.unref(key, e)
		})
	}
}

func (l *lockRegistry) ref(key string) *lockEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.held[key]
	if !ok {
		e = &lockEntry{ch: make(chan struct{}, 1)}
		l.held[key] = e
	}
	e.refs++
	return e
}

func (l *lockRegistry) unref(key string, e *lockEntry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e.refs--
	if e.refs == 0 {
		delete(l.held, key)
	}
}
