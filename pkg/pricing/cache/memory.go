package cache

import (
	"context"
	"sync"
	"time"

	"github.com/bigthirdeyeblindfan/chainhopper-sub000/pkg/pricing/sources"
)

// entry pairs a cached result with its expiry instant.
type entry struct {
	result    sources.Result
	expiresAt time.Time
}

// Memory is an in-process TTL cache. Expiry is evaluated at read time; no
// background work happens unless a sweep is started explicitly.
type Memory struct {
	mu      sync.RWMutex
	entries map[sources.Key]entry
	now     func() time.Time
}

var _ Cache = (*Memory)(nil)

// NewMemory creates an empty in-memory cache.
func NewMemory() *Memory {
	return &Memory{
		entries: make(map[sources.Key]entry),
		now:     time.Now,
	}
}

// Get returns the cached result if present and unexpired.
func (m *Memory) Get(_ context.Context, key sources.Key) (sources.Result, bool) {
	m.mu.RLock()
	e, ok := m.entries[key]
	m.mu.RUnlock()

	if !ok || m.now().After(e.expiresAt) {
		return sources.Result{}, false
	}
	return e.result, true
}

// Put stores a result under the key. A non-positive TTL is a no-op.
func (m *Memory) Put(_ context.Context, key sources.Key, result sources.Result, ttl time.Duration) {
	if ttl <= 0 {
		return
	}

	m.mu.Lock()
	m.entries[key] = entry{
		result:    result,
		expiresAt: m.now().Add(ttl),
	}
	m.mu.Unlock()
}

// Invalidate removes one entry.
func (m *Memory) Invalidate(_ context.Context, key sources.Key) {
	m.mu.Lock()
	delete(m.entries, key)
	m.mu.Unlock()
}

// InvalidateAll removes every entry.
func (m *Memory) InvalidateAll(_ context.Context) {
	m.mu.Lock()
	m.entries = make(map[sources.Key]entry)
	m.mu.Unlock()
}

// Stats reports live entries and their remaining TTLs. Expired entries are
// excluded but not removed; removal stays lazy or sweep-driven.
func (m *Memory) Stats(_ context.Context) Stats {
	now := m.now()

	m.mu.RLock()
	defer m.mu.RUnlock()

	remaining := make(map[string]time.Duration, len(m.entries))
	for key, e := range m.entries {
		if now.After(e.expiresAt) {
			continue
		}
		remaining[key.String()] = e.expiresAt.Sub(now)
	}

	return Stats{
		Size:         len(remaining),
		RemainingTTL: remaining,
	}
}

// StartSweep removes expired entries every interval until ctx is done.
// Optional: without it memory is bounded only by the key universe.
func (m *Memory) StartSweep(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.sweep()
			}
		}
	}()
}

func (m *Memory) sweep() {
	now := m.now()

	m.mu.Lock()
	for key, e := range m.entries {
		if now.After(e.expiresAt) {
			delete(m.entries, key)
		}
	}
	m.mu.Unlock()
}
