package rate

import (
	"context"
	"sync"
	"time"
)

type window struct {
	count   int64
	resetAt time.Time
}

// MemoryBackend keeps windows in a map. Entries for idle keys are removed by
// the sweeper so the map does not grow with one entry per client forever.
type MemoryBackend struct {
	mu      sync.Mutex
	windows map[string]*window
}

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{windows: make(map[string]*window)}
}

func (m *MemoryBackend) Incr(_ context.Context, key string, windowDur time.Duration, now time.Time) (int64, time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	w, ok := m.windows[key]
	if !ok || !now.Before(w.resetAt) {
		w = &window{count: 0, resetAt: now.Add(windowDur)}
		m.windows[key] = w
	}
	w.count++
	return w.count, w.resetAt, nil
}

// Sweep drops lapsed windows.
func (m *MemoryBackend) Sweep(now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for key, w := range m.windows {
		if !now.Before(w.resetAt) {
			delete(m.windows, key)
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

// Len reports the number of live windows.
func (m *MemoryBackend) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.windows)
}
