package lock

import (
	"context"
	"fmt"
	"sync"
)

// MemoryLocker is an in-process Locker. Entries are dropped once nobody holds
// or waits for them.
type MemoryLocker struct {
	mu    sync.Mutex
	locks map[string]*memoryLock
}

type memoryLock struct {
	slot chan struct{}
	refs int
}

func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{locks: make(map[string]*memoryLock)}
}

func (m *MemoryLocker) Acquire(ctx context.Context, key string) (Release, error) {
	entry := m.ref(key)

	select {
	case entry.slot <- struct{}{}:
	case <-ctx.Done():
		m.unref(key, entry)

		return nil, fmt.Errorf("%w: %s: %w", ErrLockNotAcquired, key, ctx.Err())
	}

	var once sync.Once

	return func(context.Context) error {
		once.Do(func() {
			<-entry.slot
			m.unref(key, entry)
		})

		return nil
	}, nil
}

// Len reports how many keys are currently tracked.
func (m *MemoryLocker) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return len(m.locks)
}

func (m *MemoryLocker) ref(key string) *memoryLock {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.locks[key]
	if !ok {
		entry = &memoryLock{slot: make(chan struct{}, 1)}
		m.locks[key] = entry
	}

	entry.refs++

	return entry
}

func (m *MemoryLocker) unref(key string, entry *memoryLock) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry.refs--
	if entry.refs == 0 {
		delete(m.locks, key)
	}
}
