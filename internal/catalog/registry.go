package catalog

import (
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"
)

// Registry holds the live catalog. Readers take a snapshot; Reload swaps the
// whole catalog in one step and never touches counters.
type Registry struct {
	path string
	loc  *time.Location
	cur  atomic.Pointer[Catalog]
}

// NewRegistry creates a registry serving an empty catalog until loaded.
func NewRegistry(path string, loc *time.Location) *Registry {
	r := &Registry{path: path, loc: loc}
	r.cur.Store(Empty())
	return r
}

// Snapshot returns the current catalog.
func (r *Registry) Snapshot() *Catalog {
	return r.cur.Load()
}

// Reload re-reads the catalog file. On error the previous catalog stays live.
func (r *Registry) Reload() error {
	c, err := Load(r.path, r.loc)
	if err != nil {
		return fmt.Errorf("reload catalog: %w", err)
	}
	r.Set(c)
	slog.Info("catalog loaded", "path", r.path, "shops", len(c.Shops()), "items", c.ItemCount())
	return nil
}

// Set replaces the live catalog.
func (r *Registry) Set(c *Catalog) {
	r.cur.Store(c)
}
