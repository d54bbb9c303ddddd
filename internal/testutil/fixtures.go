package testutil

import (
	"testing"
	"time"

	"github.com/udisondev/la2shop/internal/availability"
	"github.com/udisondev/la2shop/internal/catalog"
	"github.com/udisondev/la2shop/internal/reset"
)

// Entity returns a plain catalog entity with a fixed price and no limits.
// Callers adjust fields before building the catalog.
func Entity(shop string, slot int, key string) *catalog.Entity {
	return &catalog.Entity{
		Shop:         shop,
		Slot:         slot,
		Material:     "STONE",
		UniqueKey:    key,
		BasePrice:    100,
		SellPrice:    40,
		Availability: availability.Always,
		Reset:        reset.None{},
	}
}

// Shop wraps entities into a shop without availability or reset rules.
func Shop(id string, items ...*catalog.Entity) *catalog.Shop {
	for _, e := range items {
		e.Shop = id
	}
	return &catalog.Shop{
		ID:           id,
		Availability: availability.Always,
		Reset:        reset.None{},
		Items:        items,
	}
}

// Catalog builds a catalog or fails the test.
func Catalog(tb testing.TB, shops ...*catalog.Shop) *catalog.Catalog {
	tb.Helper()
	c, err := catalog.New(shops)
	if err != nil {
		tb.Fatalf("building catalog: %v", err)
	}
	return c
}

// StaticCatalog serves a fixed catalog.
type StaticCatalog struct {
	C *catalog.Catalog
}

// Snapshot returns the fixed catalog.
func (s StaticCatalog) Snapshot() *catalog.Catalog { return s.C }

// Date is time.Date in UTC with minute precision.
func Date(year int, month time.Month, day, hour, minute int) time.Time {
	return time.Date(year, month, day, hour, minute, 0, 0, time.UTC)
}
