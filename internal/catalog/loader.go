package catalog

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/udisondev/la2shop/internal/availability"
	"github.com/udisondev/la2shop/internal/reset"
)

// File is the YAML layout of the shops file.
type File struct {
	Shops []ShopConfig `yaml:"shops"`
}

// ShopConfig is one shop in the shops file.
type ShopConfig struct {
	ID                     string              `yaml:"id"`
	Name                   string              `yaml:"name"`
	SellAddsToStock        bool                `yaml:"sell_adds_to_stock"`
	AllowSellStockOverflow bool                `yaml:"allow_sell_stock_overflow"`
	Availability           availability.Config `yaml:"availability"`
	Reset                  reset.Config        `yaml:"reset"`
	Items                  []ItemConfig        `yaml:"items"`
}

// ItemConfig is one item entry. Pointer booleans fall back to the shop.
type ItemConfig struct {
	Slot      int    `yaml:"slot"`
	Material  string `yaml:"material"`
	Name      string `yaml:"name"`
	UniqueKey string `yaml:"unique_key"`

	Price     float64 `yaml:"price"`
	SellPrice float64 `yaml:"sell_price"`

	PlayerLimit int64 `yaml:"player_limit"`
	GlobalLimit int64 `yaml:"global_limit"`

	DynamicPricing bool    `yaml:"dynamic_pricing"`
	MinPrice       float64 `yaml:"min_price"`
	MaxPrice       float64 `yaml:"max_price"`
	PriceStep      float64 `yaml:"price_step"`

	SellAddsToStock        *bool `yaml:"sell_adds_to_stock"`
	AllowSellStockOverflow *bool `yaml:"allow_sell_stock_overflow"`

	Availability availability.Config `yaml:"availability"`
	Reset        reset.Config        `yaml:"reset"`
}

// Load reads and builds a catalog from a YAML file.
func Load(path string, loc *time.Location) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading catalog %s: %w", path, err)
	}
	c, err := Parse(data, loc)
	if err != nil {
		return nil, fmt.Errorf("catalog %s: %w", path, err)
	}
	return c, nil
}

// Parse builds a catalog from YAML bytes. loc is the default zone for rules.
func Parse(data []byte, loc *time.Location) (*Catalog, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing yaml: %w", err)
	}
	return Build(f, loc)
}

// Build converts the YAML model into a Catalog.
func Build(f File, loc *time.Location) (*Catalog, error) {
	shops := make([]*Shop, 0, len(f.Shops))
	for _, sc := range f.Shops {
		if sc.ID == "" {
			return nil, fmt.Errorf("shop without id")
		}
		shop := &Shop{
			ID:                     sc.ID,
			Name:                   sc.Name,
			SellAddsToStock:        sc.SellAddsToStock,
			AllowSellStockOverflow: sc.AllowSellStockOverflow,
			Availability:           availability.FromConfig(sc.Availability, loc, ShopScope(sc.ID)),
			Reset:                  reset.FromConfig(sc.Reset, loc, ShopScope(sc.ID)),
			Items:                  make([]*Entity, 0, len(sc.Items)),
		}
		for _, ic := range sc.Items {
			e, err := buildEntity(shop, ic, loc)
			if err != nil {
				return nil, fmt.Errorf("shop %s slot %d: %w", sc.ID, ic.Slot, err)
			}
			shop.Items = append(shop.Items, e)
		}
		shops = append(shops, shop)
	}
	return New(shops)
}

func buildEntity(shop *Shop, ic ItemConfig, loc *time.Location) (*Entity, error) {
	if ic.Price < 0 {
		return nil, fmt.Errorf("negative price %v", ic.Price)
	}
	if ic.SellPrice < 0 {
		return nil, fmt.Errorf("negative sell price %v", ic.SellPrice)
	}
	if ic.PlayerLimit < 0 || ic.GlobalLimit < 0 {
		return nil, fmt.Errorf("negative limit (player %d, global %d)", ic.PlayerLimit, ic.GlobalLimit)
	}

	key := ic.UniqueKey
	if key == "" {
		key = shop.ID + ":" + strconv.Itoa(ic.Slot)
	}

	minPrice, maxPrice := ic.MinPrice, ic.MaxPrice
	if minPrice != 0 && maxPrice != 0 && minPrice > maxPrice {
		slog.Warn("min_price above max_price, bounds swapped",
			"shop", shop.ID, "slot", ic.Slot, "min", minPrice, "max", maxPrice)
		minPrice, maxPrice = maxPrice, minPrice
	}

	e := &Entity{
		Shop:                   shop.ID,
		Slot:                   ic.Slot,
		Material:               ic.Material,
		Name:                   ic.Name,
		UniqueKey:              key,
		BasePrice:              ic.Price,
		SellPrice:              ic.SellPrice,
		PerPlayerLimit:         ic.PlayerLimit,
		GlobalLimit:            ic.GlobalLimit,
		DynamicPricing:         ic.DynamicPricing,
		MinPrice:               minPrice,
		MaxPrice:               maxPrice,
		PriceStep:              ic.PriceStep,
		SellAddsToStock:        shop.SellAddsToStock,
		AllowSellStockOverflow: shop.AllowSellStockOverflow,
	}
	if ic.SellAddsToStock != nil {
		e.SellAddsToStock = *ic.SellAddsToStock
	}
	if ic.AllowSellStockOverflow != nil {
		e.AllowSellStockOverflow = *ic.AllowSellStockOverflow
	}

	scope := ItemScope(shop.ID, ic.Slot, key)
	e.Availability = availability.FromConfig(ic.Availability, loc, scope)
	e.Reset = reset.FromConfig(ic.Reset, loc, scope)
	return e, nil
}
