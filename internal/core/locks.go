package core

import (
	"sync"

	"github.com/google/uuid"
)

// lockSet is a non-blocking, all-or-nothing set of order locks.
type lockSet struct {
	mu     sync.Mutex
	locked map[uuid.UUID]struct{}
}

func newLockSet() *lockSet {
	return &lockSet{locked: make(map[uuid.UUID]struct{})}
}

// TryLock locks every id or none of them.
func (l *lockSet) TryLock(ids []uuid.UUID) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, id := range ids {
		if _, ok := l.locked[id]; ok {
			return false
		}
	}
	for _, id := range ids {
		l.locked[id] = struct{}{}
	}
	return true
}

func (l *lockSet) Unlock(ids []uuid.UUID) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, id := range ids {
		delete(l.locked, id)
	}
}

func (l *lockSet) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locked)
}
