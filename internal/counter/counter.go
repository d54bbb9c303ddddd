// Package counter keeps the mutable trade counters: per-player counts,
// global counts and last-reset timestamps.
//
// The Store is the single writer. Every mutation takes the per-key locks it
// touches, validates bounds, writes the new absolute values through the
// Backend and only then publishes them in memory. A mutation the backend
// could not persist is never visible.
package counter

//go:generate go tool mockgen -destination=./mocks/backend_mock.go -package=mocks . Backend

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrLimitExceeded means an Op would cross its bound. Nothing was changed.
	ErrLimitExceeded = errors.New("counter limit exceeded")

	// ErrPersistence means the backend did not confirm the write. Nothing was
	// changed in memory and the caller may retry.
	ErrPersistence = errors.New("counter persistence failed")
)

// Key identifies a counter. An empty Player denotes the item's global count,
// so callers must never build a player key from an empty id. Player ids and
// item keys must not contain '.', which separates them in String.
type Key struct {
	Player string
	Item   string
}

// PlayerKey is the per-player counter of item.
func PlayerKey(player, item string) Key { return Key{Player: player, Item: item} }

// GlobalKey is the shared counter of item.
func GlobalKey(item string) Key { return Key{Item: item} }

// IsGlobal reports whether k is a global counter.
func (k Key) IsGlobal() bool { return k.Player == "" }

// String renders the key in the persisted namespace layout.
func (k Key) String() string {
	if k.IsGlobal() {
		return "global." + k.Item
	}
	return "players." + k.Player + "." + k.Item
}

// CountRow is the persisted value of one counter.
type CountRow struct {
	Key   Key
	Count int64
}

// ResetRow is the persisted last-run time of one reset scope.
type ResetRow struct {
	Scope   string
	FiredAt int64 // epoch millis
}

// Batch is a set of rows written atomically.
type Batch struct {
	Counts []CountRow
	Resets []ResetRow
}

// Empty reports whether the batch carries no rows.
func (b Batch) Empty() bool { return len(b.Counts) == 0 && len(b.Resets) == 0 }

// Backend is durable storage for counters. Save must be atomic: either every
// row of the batch is stored or none is.
type Backend interface {
	Load(ctx context.Context) (Batch, error)
	Save(ctx context.Context, batch Batch) error
}

// Op is one bounded increment inside Store.Apply.
type Op struct {
	Key   Key
	Delta int64

	// Max rejects the op when count+Delta > Max. Zero means unbounded.
	Max int64

	// NonNegative rejects the op when count+Delta < 0.
	NonNegative bool

	// Guard, when set, sees the count before the op under the key's lock.
	// A non-nil result aborts the whole Apply and is returned as is.
	Guard func(count int64) error
}

// LimitError describes the op that was rejected.
type LimitError struct {
	Key   Key
	Count int64
	Delta int64
	Max   int64

	// Overflow is set when Count+Delta does not fit in an int64.
	Overflow bool
}

func (e *LimitError) Error() string {
	if e.Overflow {
		return fmt.Sprintf("%s: %d%+d overflows", e.Key, e.Count, e.Delta)
	}
	if e.Max > 0 {
		return fmt.Sprintf("%s: %d%+d exceeds %d", e.Key, e.Count, e.Delta, e.Max)
	}
	return fmt.Sprintf("%s: %d%+d below zero", e.Key, e.Count, e.Delta)
}

func (e *LimitError) Unwrap() error { return ErrLimitExceeded }
