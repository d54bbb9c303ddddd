package counter

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
)

// Store is the concurrency-safe counter store.
type Store struct {
	backend Backend
	locks   lockTable

	mu     sync.RWMutex
	counts map[Key]int64
	resets map[string]int64
}

// NewStore creates an empty store writing through backend.
func NewStore(backend Backend) *Store {
	return &Store{
		backend: backend,
		counts:  make(map[Key]int64),
		resets:  make(map[string]int64),
	}
}

// Open creates a store and loads persisted state from backend.
func Open(ctx context.Context, backend Backend) (*Store, error) {
	s := NewStore(backend)

	state, err := backend.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading counters: %w", err)
	}
	for _, row := range state.Counts {
		s.counts[row.Key] = row.Count
	}
	for _, row := range state.Resets {
		s.resets[row.Scope] = row.FiredAt
	}

	slog.Info("counters loaded", "counts", len(state.Counts), "resets", len(state.Resets))
	return s, nil
}

// Count returns the current value of key (0 if never written).
func (s *Store) Count(key Key) int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.counts[key]
}

// PlayerCount returns the lifetime buy+sell quantity of player on item.
func (s *Store) PlayerCount(player, item string) int64 {
	return s.Count(PlayerKey(player, item))
}

// GlobalCount returns the net trading volume of item.
func (s *Store) GlobalCount(item string) int64 {
	return s.Count(GlobalKey(item))
}

// LastReset returns the epoch millis of the last reset of scope (0 if never).
func (s *Store) LastReset(scope string) int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.resets[scope]
}

// Apply performs all ops as one atomic unit: either every op passes its
// bound and the new values are persisted, or nothing changes.
// It returns each op's count as observed right before the change.
func (s *Store) Apply(ctx context.Context, ops ...Op) ([]int64, error) {
	if len(ops) == 0 {
		return nil, nil
	}

	names := make([]string, len(ops))
	for i, op := range ops {
		names[i] = op.Key.String()
	}
	unlock := s.locks.lock(names...)
	defer unlock()

	before := make([]int64, len(ops))
	next := make(map[Key]int64, len(ops))

	s.mu.RLock()
	for i, op := range ops {
		cur, seen := next[op.Key]
		if !seen {
			cur = s.counts[op.Key]
		}
		before[i] = cur

		if op.Guard != nil {
			if err := op.Guard(cur); err != nil {
				s.mu.RUnlock()
				return before, err
			}
		}

		val, ok := add(cur, op.Delta)
		if !ok {
			s.mu.RUnlock()
			return before, &LimitError{Key: op.Key, Count: cur, Delta: op.Delta, Max: op.Max, Overflow: true}
		}
		if op.Max > 0 && val > op.Max {
			s.mu.RUnlock()
			return before, &LimitError{Key: op.Key, Count: cur, Delta: op.Delta, Max: op.Max}
		}
		if op.NonNegative && val < 0 {
			s.mu.RUnlock()
			return before, &LimitError{Key: op.Key, Count: cur, Delta: op.Delta}
		}
		next[op.Key] = val
	}
	s.mu.RUnlock()

	batch := Batch{Counts: make([]CountRow, 0, len(next))}
	for k, v := range next {
		batch.Counts = append(batch.Counts, CountRow{Key: k, Count: v})
	}
	if err := s.save(ctx, batch); err != nil {
		return before, err
	}

	s.mu.Lock()
	for k, v := range next {
		s.counts[k] = v
	}
	s.mu.Unlock()

	return before, nil
}

// Increment adds delta (any sign) to key without bounds.
func (s *Store) Increment(ctx context.Context, key Key, delta int64) error {
	_, err := s.Apply(ctx, Op{Key: key, Delta: delta})
	return err
}

// IncrementPlayer adds delta to the player's counter of item.
func (s *Store) IncrementPlayer(ctx context.Context, player, item string, delta int64) error {
	return s.Increment(ctx, PlayerKey(player, item), delta)
}

// IncrementGlobal adds delta to the global counter of item.
func (s *Store) IncrementGlobal(ctx context.Context, item string, delta int64) error {
	return s.Increment(ctx, GlobalKey(item), delta)
}

// ResetGlobal sets the global count of item back to zero.
func (s *Store) ResetGlobal(ctx context.Context, item string) error {
	return s.ResetScope(ctx, "", 0, item)
}

// SetLastReset records the last-run time of scope.
func (s *Store) SetLastReset(ctx context.Context, scope string, firedAt int64) error {
	unlock := s.locks.lock(resetLockName(scope))
	defer unlock()

	if err := s.save(ctx, Batch{Resets: []ResetRow{{Scope: scope, FiredAt: firedAt}}}); err != nil {
		return err
	}

	s.mu.Lock()
	s.resets[scope] = firedAt
	s.mu.Unlock()
	return nil
}

// ResetScope zeroes the global counts of items and, when scope is not empty,
// records firedAt as its last run. Both land in one durable batch, so a
// crash can not leave counters reset without the bookkeeping (or the
// reverse). Player counters are never touched.
func (s *Store) ResetScope(ctx context.Context, scope string, firedAt int64, items ...string) error {
	_, err := s.resetScope(ctx, scope, firedAt, nil, items)
	return err
}

// ResetScopeIfDue is ResetScope for a scheduled occurrence at due (epoch
// millis). The scope's last run is compared with due under the scope lock, so
// a reset that already covered the occurrence is not repeated. It reports
// whether the reset happened.
func (s *Store) ResetScopeIfDue(ctx context.Context, scope string, due, firedAt int64, items ...string) (bool, error) {
	if scope == "" {
		return false, fmt.Errorf("conditional reset needs a scope")
	}
	return s.resetScope(ctx, scope, firedAt, &due, items)
}

func (s *Store) resetScope(ctx context.Context, scope string, firedAt int64, due *int64, items []string) (bool, error) {
	names := make([]string, 0, len(items)+1)
	batch := Batch{Counts: make([]CountRow, 0, len(items))}
	for _, item := range items {
		k := GlobalKey(item)
		names = append(names, k.String())
		batch.Counts = append(batch.Counts, CountRow{Key: k})
	}
	if scope != "" {
		names = append(names, resetLockName(scope))
		batch.Resets = []ResetRow{{Scope: scope, FiredAt: firedAt}}
	}
	if batch.Empty() {
		return false, nil
	}

	unlock := s.locks.lock(names...)
	defer unlock()

	if due != nil && s.LastReset(scope) >= *due {
		return false, nil
	}

	if err := s.save(ctx, batch); err != nil {
		return false, err
	}

	s.mu.Lock()
	for _, row := range batch.Counts {
		s.counts[row.Key] = 0
	}
	if scope != "" {
		s.resets[scope] = firedAt
	}
	s.mu.Unlock()
	return true, nil
}

// Snapshot returns the state in its logical persisted layout:
// players.<player>.<item>, global.<item> and lastReset.<scope>.
func (s *Store) Snapshot() map[string]int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]int64, len(s.counts)+len(s.resets))
	for k, v := range s.counts {
		out[k.String()] = v
	}
	for scope, at := range s.resets {
		out[resetLockName(scope)] = at
	}
	return out
}

func (s *Store) save(ctx context.Context, batch Batch) error {
	if err := s.backend.Save(ctx, batch); err != nil {
		slog.Error("counter write failed", "counts", len(batch.Counts), "resets", len(batch.Resets), "error", err)
		return fmt.Errorf("%w: %w", ErrPersistence, err)
	}
	return nil
}

func resetLockName(scope string) string { return "lastReset." + scope }

// add returns cur+delta, or false when the sum leaves the int64 range.
func add(cur, delta int64) (int64, bool) {
	if delta > 0 && cur > math.MaxInt64-delta {
		return 0, false
	}
	if delta < 0 && cur < math.MinInt64-delta {
		return 0, false
	}
	return cur + delta, true
}
