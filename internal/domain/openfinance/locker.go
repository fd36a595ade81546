package openfinance

import (
	"context"
	"sync"
)

// Locker provides per-connection mutual exclusion. TryLock never blocks:
// ok is false when another holder owns the lock. release must be called
// exactly once when ok is true.
type Locker interface {
	TryLock(ctx context.Context, connectionID string) (release func(), ok bool, err error)
}

// MemoryLocker is a Locker for a single process.
type MemoryLocker struct {
	mu   sync.Mutex
	held map[string]struct{}
}

// NewMemoryLocker creates an empty in-process locker
func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{held: make(map[string]struct{})}
}

func (l *MemoryLocker) TryLock(_ context.Context, connectionID string) (func(), bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, busy := l.held[connectionID]; busy {
		return nil, false, nil
	}
	l.held[connectionID] = struct{}{}

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.held, connectionID)
			l.mu.Unlock()
		})
	}, true, nil
}
