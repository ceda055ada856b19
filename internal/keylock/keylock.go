package keylock

import (
	"sync"
)

// Key identifies one verification pipeline.
type Key struct {
	ChatID int64
	UserID int64
}

type entry struct {
	mu   sync.Mutex
	refs int
}

// KeyLock serializes work per (chat, user) key while letting distinct
// keys proceed in parallel. Lock entries are reference counted and
// removed once the last holder releases them.
type KeyLock struct {
	mu    sync.Mutex
	locks map[Key]*entry
}

// New creates an empty KeyLock.
func New() *KeyLock {
	return &KeyLock{
		locks: make(map[Key]*entry),
	}
}

// Lock acquires the lock for key, blocking until it is available.
func (l *KeyLock) Lock(key Key) {
	l.mu.Lock()
	e, ok := l.locks[key]
	if !ok {
		e = &entry{}
		l.locks[key] = e
	}
	e.refs++
	l.mu.Unlock()

	e.mu.Lock()
}

// Unlock releases the lock for key. It must be called exactly once per
// Lock, by the holding goroutine.
func (l *KeyLock) Unlock(key Key) {
	l.mu.Lock()
	e, ok := l.locks[key]
	if ok {
		e.refs--
		if e.refs == 0 {
			delete(l.locks, key)
		}
	}
	l.mu.Unlock()

	if ok {
		e.mu.Unlock()
	}
}

// ActiveCount returns the number of keys with held or queued locks.
func (l *KeyLock) ActiveCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
