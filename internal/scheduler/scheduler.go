// Package scheduler periodically resets global stock counters whose reset
// rule has a new occurrence, and performs manual resets.
//
// Every reset, automatic or manual, goes through counter.Store.ResetScope,
// which zeroes the affected global counts and records the scope's last run
// in one durable write. Player counters are never reset.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/udisondev/la2shop/internal/catalog"
	"github.com/udisondev/la2shop/internal/counter"
	"github.com/udisondev/la2shop/internal/reset"
)

var (
	ErrUnknownShop  = errors.New("unknown shop")
	ErrUnknownItem  = errors.New("unknown item")
	ErrUnknownScope = errors.New("unknown reset scope")
)

// State of the scheduler loop.
type State int32

const (
	Idle State = iota
	Checking
)

func (s State) String() string {
	if s == Checking {
		return "checking"
	}
	return "idle"
}

// CatalogSource serves the live catalog.
type CatalogSource interface {
	Snapshot() *catalog.Catalog
}

// Report summarizes one tick.
type Report struct {
	Skipped bool     // another tick was still running
	Checked int      // scopes evaluated
	Fired   []string // scopes reset
	Errors  []error
}

// Err joins the per-scope failures.
func (r Report) Err() error { return errors.Join(r.Errors...) }

// Scheduler drives stock resets.
type Scheduler struct {
	catalog CatalogSource
	store   *counter.Store
	now     func() time.Time

	state atomic.Int32
}

// New creates a scheduler. A nil now uses time.Now.
func New(src CatalogSource, store *counter.Store, now func() time.Time) *Scheduler {
	if now == nil {
		now = time.Now
	}
	return &Scheduler{catalog: src, store: store, now: now}
}

// State returns Idle or Checking.
func (s *Scheduler) State() State { return State(s.state.Load()) }

// Run checks once immediately, catching up on occurrences missed while the
// process was down, then every interval until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		return fmt.Errorf("invalid poll interval %s", interval)
	}

	s.logReport(s.Tick(ctx, s.now()))

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.logReport(s.Tick(ctx, s.now()))
		}
	}
}

func (s *Scheduler) logReport(r Report) {
	if r.Skipped {
		slog.Warn("reset check still running, tick skipped")
		return
	}
	if err := r.Err(); err != nil {
		slog.Error("reset check finished with failures", "checked", r.Checked, "fired", len(r.Fired), "error", err)
		return
	}
	if len(r.Fired) > 0 {
		slog.Info("reset check", "checked", r.Checked, "fired", r.Fired)
	}
}

// Tick evaluates every shop rule and every item rule against now. A tick
// that overlaps a running one is skipped.
func (s *Scheduler) Tick(ctx context.Context, now time.Time) Report {
	if !s.state.CompareAndSwap(int32(Idle), int32(Checking)) {
		return Report{Skipped: true}
	}
	defer s.state.Store(int32(Idle))

	var r Report
	c := s.catalog.Snapshot()

	for _, shop := range c.Shops() {
		r.Checked++
		scope := shop.ScopeID()
		fired, err := s.resetDue(ctx, scope, shop.Reset, now, itemKeys(shop.Items)...)
		if err != nil {
			r.Errors = append(r.Errors, err)
			continue
		}
		if fired {
			r.Fired = append(r.Fired, scope)
		}
	}

	for _, shop := range c.Shops() {
		for _, e := range shop.Items {
			if !hasRule(e.Reset) {
				continue
			}
			r.Checked++
			scope := e.ScopeID()
			fired, err := s.resetDue(ctx, scope, e.Reset, now, e.UniqueKey)
			if err != nil {
				r.Errors = append(r.Errors, err)
				continue
			}
			if fired {
				r.Fired = append(r.Fired, scope)
			}
		}
	}

	return r
}

// resetDue resets scope when rule has an occurrence its last run does not
// cover yet. The last run is checked again under the scope lock, so a manual
// reset landing in between is not followed by a second reset.
func (s *Scheduler) resetDue(ctx context.Context, scope string, rule reset.Rule, now time.Time, items ...string) (bool, error) {
	if !reset.ShouldReset(rule, s.store.LastReset(scope), now) {
		return false, nil
	}
	occ, _ := rule.MostRecent(now)
	fired, err := s.store.ResetScopeIfDue(ctx, scope, occ.UnixMilli(), now.UnixMilli(), items...)
	if err != nil {
		return false, fmt.Errorf("resetting %s: %w", scope, err)
	}
	if !fired {
		return false, nil
	}
	slog.Info("stock reset",
		"scope", scope,
		"rule", rule.Describe(),
		"items", len(items))
	return true, nil
}

// ResetShop resets the global count of every item in the shop now.
func (s *Scheduler) ResetShop(ctx context.Context, shopID string) error {
	shop := s.catalog.Snapshot().Shop(shopID)
	if shop == nil {
		return fmt.Errorf("%w: %q", ErrUnknownShop, shopID)
	}
	return s.manual(ctx, shop.ScopeID(), itemKeys(shop.Items)...)
}

// ResetItem resets the global count of one item now.
func (s *Scheduler) ResetItem(ctx context.Context, key string) error {
	e := s.catalog.Snapshot().Item(key)
	if e == nil {
		return fmt.Errorf("%w: %q", ErrUnknownItem, key)
	}
	return s.manual(ctx, e.ScopeID(), e.UniqueKey)
}

// ResetAll resets every shop, and every item carrying its own rule.
func (s *Scheduler) ResetAll(ctx context.Context) error {
	var errs []error
	for _, shop := range s.catalog.Snapshot().Shops() {
		if err := s.manual(ctx, shop.ScopeID(), itemKeys(shop.Items)...); err != nil {
			errs = append(errs, err)
		}
		for _, e := range shop.Items {
			if !hasRule(e.Reset) {
				continue
			}
			if err := s.manual(ctx, e.ScopeID()); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

// ResetScope resets by scope id: "shop:<id>" or "item:<shop>:<slot>:<key>".
func (s *Scheduler) ResetScope(ctx context.Context, scope string) error {
	switch {
	case strings.HasPrefix(scope, "shop:"):
		return s.ResetShop(ctx, strings.TrimPrefix(scope, "shop:"))
	case strings.HasPrefix(scope, "item:"):
		for _, shop := range s.catalog.Snapshot().Shops() {
			for _, e := range shop.Items {
				if e.ScopeID() == scope {
					return s.manual(ctx, scope, e.UniqueKey)
				}
			}
		}
	}
	return fmt.Errorf("%w: %q", ErrUnknownScope, scope)
}

// manual records now as the scope's last run, so the rule does not fire
// again for an occurrence that already passed.
func (s *Scheduler) manual(ctx context.Context, scope string, items ...string) error {
	if err := s.store.ResetScope(ctx, scope, s.now().UnixMilli(), items...); err != nil {
		return fmt.Errorf("resetting %s: %w", scope, err)
	}
	slog.Info("manual stock reset", "scope", scope, "items", len(items))
	return nil
}

func hasRule(r reset.Rule) bool { return r != nil && r.Kind() != reset.KindNone }

func itemKeys(items []*catalog.Entity) []string {
	keys := make([]string, len(items))
	for i, e := range items {
		keys[i] = e.UniqueKey
	}
	return keys
}
