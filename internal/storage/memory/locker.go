package memory

import (
	"context"
	"sync"
)

// locker serializes work per lock name within one process. Entries exist
// only while some goroutine holds or waits on them.
type locker struct {
	mu    sync.Mutex
	locks map[string]*lockEntry
}

type lockEntry struct {
	held chan struct{} // capacity 1; full while held
	refs int
}

func newLocker() *locker {
	return &locker{locks: make(map[string]*lockEntry)}
}

// Lock blocks until the caller holds name or ctx is done.
func (l *locker) Lock(ctx context.Context, name string) (func(), error) {
	entry := l.ref(name)

	select {
	case entry.held <- struct{}{}:
		return l.unlockFunc(name, entry), nil
	case <-ctx.Done():
		l.unref(name, entry)
		return nil, ctx.Err()
	}
}

// TryLock acquires name only if it is free.
func (l *locker) TryLock(_ context.Context, name string) (func(), bool, error) {
	entry := l.ref(name)

	select {
	case entry.held <- struct{}{}:
		return l.unlockFunc(name, entry), true, nil
	default:
		l.unref(name, entry)
		return nil, false, nil
	}
}

func (l *locker) ref(name string) *lockEntry {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry, ok := l.locks[name]
	if !ok {
		entry = &lockEntry{held: make(chan struct{}, 1)}
		l.locks[name] = entry
	}
	entry.refs++
	return entry
}

func (l *locker) unref(name string, entry *lockEntry) {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry.refs--
	if entry.refs == 0 {
		delete(l.locks, name)
	}
}

func (l *locker) unlockFunc(name string, entry *lockEntry) func() {
	var once sync.Once
	return func() {
		once.Do(func() {
			<-entry.held
			l.unref(name, entry)
		})
	}
}

// size returns the number of live entries.
func (l *locker) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
