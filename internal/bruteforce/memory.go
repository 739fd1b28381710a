package bruteforce

import (
	"context"
	"sync"
	"time"
)

type entry struct {
	failures    int
	lockedUntil time.Time
}

type MemoryBackend struct {
	mu      sync.Mutex
	entries map[string]*entry
}

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{entries: make(map[string]*entry)}
}

func (m *MemoryBackend) Fail(_ context.Context, key string, now time.Time, threshold int, lockout time.Duration) (Status, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[key]
	if !ok || (!e.lockedUntil.IsZero() && !now.Before(e.lockedUntil)) {
		// First failure, or a lapsed lockout starting over.
		e = &entry{}
		m.entries[key] = e
	}
	e.failures++
	if e.failures >= threshold && e.lockedUntil.IsZero() {
		e.lockedUntil = now.Add(lockout)
	}
	return statusOf(e, now), nil
}

func (m *MemoryBackend) Status(_ context.Context, key string, now time.Time) (Status, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[key]
	if !ok {
		return Status{}, nil
	}
	if !e.lockedUntil.IsZero() && !now.Before(e.lockedUntil) {
		delete(m.entries, key)
		return Status{}, nil
	}
	return statusOf(e, now), nil
}

func (m *MemoryBackend) Reset(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, key)
	return nil
}

func statusOf(e *entry, now time.Time) Status {
	return Status{
		Locked:      !e.lockedUntil.IsZero() && now.Before(e.lockedUntil),
		LockedUntil: e.lockedUntil,
		Failures:    e.failures,
	}
}

// Sweep drops lapsed lockouts.
func (m *MemoryBackend) Sweep(now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for key, e := range m.entries {
		if !e.lockedUntil.IsZero() && !now.Before(e.lockedUntil) {
			delete(m.entries, key)
		}
	}
}

// StartSweeper runs Sweep on a ticker until ctx is done.
func (m *MemoryBackend) StartSweeper(ctx context.Context, interval time.Duration) {
	go func() {
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-t.C:
				m.Sweep(now)
			}
		}
	}()
}

// Len reports live entries.
func (m *MemoryBackend) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}
