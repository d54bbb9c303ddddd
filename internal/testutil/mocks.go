package testutil

import (
	"context"
	"sync"

	"github.com/udisondev/la2shop/internal/counter"
)

// MemoryBackend — in-memory counter.Backend для unit тестов.
// Не требует реального PostgreSQL. Ошибки записи внедряются через FailSaves.
type MemoryBackend struct {
	mu        sync.Mutex
	counts    map[counter.Key]int64
	resets    map[string]int64
	saves     int
	failSaves int
}

// NewMemoryBackend создаёт пустой MemoryBackend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		counts: make(map[counter.Key]int64),
		resets: make(map[string]int64),
	}
}

// Load returns a copy of everything saved so far.
func (m *MemoryBackend) Load(_ context.Context) (counter.Batch, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var b counter.Batch
	for k, v := range m.counts {
		b.Counts = append(b.Counts, counter.CountRow{Key: k, Count: v})
	}
	for s, at := range m.resets {
		b.Resets = append(b.Resets, counter.ResetRow{Scope: s, FiredAt: at})
	}
	return b, nil
}

// Save stores the batch, or fails without storing anything while injected
// failures remain.
func (m *MemoryBackend) Save(_ context.Context, batch counter.Batch) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.failSaves > 0 {
		m.failSaves--
		return ErrSimulated
	}
	for _, row := range batch.Counts {
		m.counts[row.Key] = row.Count
	}
	for _, row := range batch.Resets {
		m.resets[row.Scope] = row.FiredAt
	}
	m.saves++
	return nil
}

// FailSaves makes the next n Save calls fail.
func (m *MemoryBackend) FailSaves(n int) {
	m.mu.Lock()
	m.failSaves = n
	m.mu.Unlock()
}

// Saves returns the number of successful Save calls.
func (m *MemoryBackend) Saves() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saves
}

// Count returns the persisted value of key.
func (m *MemoryBackend) Count(key counter.Key) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counts[key]
}

// LastReset returns the persisted last-run of scope.
func (m *MemoryBackend) LastReset(scope string) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.resets[scope]
}
