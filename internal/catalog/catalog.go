// Package catalog holds the immutable shop/item definitions the pricing and
// reset logic work from. A Catalog is built once per (re)load and replaced
// wholesale; nothing in it is mutated after construction.
package catalog

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/udisondev/la2shop/internal/availability"
	"github.com/udisondev/la2shop/internal/reset"
)

// Entity is one tradable item inside a shop.
type Entity struct {
	Shop      string
	Slot      int
	Material  string // opaque item-type key
	Name      string
	UniqueKey string // counter identity, unique across the catalog

	BasePrice float64
	SellPrice float64 // 0 = cannot be sold to the shop

	PerPlayerLimit int64 // 0 = unlimited
	GlobalLimit    int64 // 0 = unlimited

	DynamicPricing bool
	MinPrice       float64 // 0 = no bound
	MaxPrice       float64 // 0 = no bound
	PriceStep      float64 // applied per unit of global count, may be negative

	// Resolved against the shop defaults at load time.
	SellAddsToStock        bool
	AllowSellStockOverflow bool

	Availability availability.Rule
	Reset        reset.Rule
}

// Sellable reports whether the shop buys this item back.
func (e *Entity) Sellable() bool { return e.SellPrice > 0 }

// ScopeID returns the reset bookkeeping key for this item.
func (e *Entity) ScopeID() string { return ItemScope(e.Shop, e.Slot, e.UniqueKey) }

// Shop groups entities and carries shop-level defaults.
type Shop struct {
	ID   string
	Name string

	SellAddsToStock        bool
	AllowSellStockOverflow bool

	Availability availability.Rule
	Reset        reset.Rule

	Items []*Entity
}

// ScopeID returns the reset bookkeeping key for the whole shop.
func (s *Shop) ScopeID() string { return ShopScope(s.ID) }

// Item returns the entity at slot, or nil.
func (s *Shop) Item(slot int) *Entity {
	for _, e := range s.Items {
		if e.Slot == slot {
			return e
		}
	}
	return nil
}

// Catalog is the full set of shops.
type Catalog struct {
	shops []*Shop
	byID  map[string]*Shop
	byKey map[string]*Entity
}

var (
	// ErrDuplicateKey is returned when two entities share a unique key.
	ErrDuplicateKey = errors.New("duplicate unique key")

	// ErrInvalidKey is returned for a unique key that cannot name a counter:
	// empty, or containing '.'.
	ErrInvalidKey = errors.New("invalid unique key")
)

// New indexes shops. Unique keys must not repeat anywhere in the catalog.
func New(shops []*Shop) (*Catalog, error) {
	c := &Catalog{
		shops: shops,
		byID:  make(map[string]*Shop, len(shops)),
		byKey: make(map[string]*Entity),
	}
	for _, s := range shops {
		if _, dup := c.byID[s.ID]; dup {
			return nil, fmt.Errorf("duplicate shop id %q", s.ID)
		}
		c.byID[s.ID] = s
		for _, e := range s.Items {
			if e.UniqueKey == "" || strings.Contains(e.UniqueKey, ".") {
				return nil, fmt.Errorf("%w %q: %s slot %d", ErrInvalidKey, e.UniqueKey, e.Shop, e.Slot)
			}
			if prev, dup := c.byKey[e.UniqueKey]; dup {
				return nil, fmt.Errorf("%w %q: %s slot %d and %s slot %d",
					ErrDuplicateKey, e.UniqueKey, prev.Shop, prev.Slot, e.Shop, e.Slot)
			}
			c.byKey[e.UniqueKey] = e
		}
	}
	return c, nil
}

// Empty returns a catalog without shops.
func Empty() *Catalog {
	c, _ := New(nil)
	return c
}

// Shops returns all shops in load order.
func (c *Catalog) Shops() []*Shop { return c.shops }

// Shop returns a shop by id, or nil.
func (c *Catalog) Shop(id string) *Shop { return c.byID[id] }

// Item returns an entity by unique key, or nil.
func (c *Catalog) Item(uniqueKey string) *Entity { return c.byKey[uniqueKey] }

// ItemCount returns the number of entities across all shops.
func (c *Catalog) ItemCount() int { return len(c.byKey) }

// ShopScope is the scope id of a shop-wide reset.
func ShopScope(shopID string) string { return "shop:" + shopID }

// ItemScope is the scope id of a single-item reset.
func ItemScope(shopID string, slot int, uniqueKey string) string {
	return "item:" + shopID + ":" + strconv.Itoa(slot) + ":" + uniqueKey
}
