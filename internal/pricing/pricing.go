// Package pricing computes prices, allowances and counter adjustments for a
// catalog entity from its current counter values. All functions are pure.
package pricing

import (
	"github.com/shopspring/decimal"

	"github.com/udisondev/la2shop/internal/catalog"
)

// Unlimited is returned by the allowance functions when no limit applies.
const Unlimited int64 = -1

// MinSellPrice is the lowest price a sale ever pays out.
var MinSellPrice = decimal.RequireFromString("0.01")

// Verdict is the outcome of a purchase check.
type Verdict uint8

const (
	Allowed Verdict = iota
	NotPurchasable
	PlayerLimit
	GlobalLimit
)

func (v Verdict) String() string {
	switch v {
	case Allowed:
		return "allowed"
	case NotPurchasable:
		return "not purchasable"
	case PlayerLimit:
		return "player limit"
	case GlobalLimit:
		return "global limit"
	default:
		return "unknown"
	}
}

// BuyPriceDecimal is BuyPrice without the float conversion.
func BuyPriceDecimal(e *catalog.Entity, globalCount int64) decimal.Decimal {
	base := decimal.NewFromFloat(e.BasePrice)
	if !e.DynamicPricing {
		return base
	}
	return clamp(drift(base, e.PriceStep, globalCount), e.MinPrice, e.MaxPrice)
}

// BuyPrice returns the current unit buy price. A result <= 0 means the item
// can not be bought right now.
func BuyPrice(e *catalog.Entity, globalCount int64) float64 {
	return BuyPriceDecimal(e, globalCount).InexactFloat64()
}

// SellPriceDecimal is SellPrice without the float conversion.
func SellPriceDecimal(e *catalog.Entity, globalCount int64) decimal.Decimal {
	if !e.Sellable() {
		return decimal.Zero
	}
	p := decimal.NewFromFloat(e.SellPrice)
	if e.DynamicPricing {
		p = clamp(drift(p, e.PriceStep, globalCount), e.MinPrice, e.MaxPrice)
	}
	return decimal.Max(p, MinSellPrice)
}

// SellPrice returns the current unit sell price, never below 0.01.
// It returns 0 for entities without a sell price.
func SellPrice(e *catalog.Entity, globalCount int64) float64 {
	return SellPriceDecimal(e, globalCount).InexactFloat64()
}

// Total multiplies a unit price by amount.
func Total(unit decimal.Decimal, amount int64) decimal.Decimal {
	return unit.Mul(decimal.NewFromInt(amount))
}

// RemainingAllowance returns how many more units a player may trade, or
// Unlimited.
func RemainingAllowance(e *catalog.Entity, playerCount int64) int64 {
	if e.PerPlayerLimit <= 0 {
		return Unlimited
	}
	return max(0, e.PerPlayerLimit-playerCount)
}

// RemainingStock returns how many more units may be bought globally, or
// Unlimited.
func RemainingStock(e *catalog.Entity, globalCount int64) int64 {
	if e.GlobalLimit <= 0 {
		return Unlimited
	}
	return max(0, e.GlobalLimit-globalCount)
}

// CheckPurchase validates a purchase of amount units against both limits.
func CheckPurchase(e *catalog.Entity, playerCount, globalCount, amount int64) Verdict {
	if !BuyPriceDecimal(e, globalCount).IsPositive() {
		return NotPurchasable
	}
	if e.PerPlayerLimit > 0 && playerCount+amount > e.PerPlayerLimit {
		return PlayerLimit
	}
	if e.GlobalLimit > 0 && globalCount+amount > e.GlobalLimit {
		return GlobalLimit
	}
	return Allowed
}

// CapsSaleByStock reports whether sales are capped by the current global
// count, so that selling can not push stock above its limit.
func CapsSaleByStock(e *catalog.Entity) bool {
	return e.GlobalLimit > 0 && e.SellAddsToStock && !e.AllowSellStockOverflow
}

// SellableAmount returns how many of the requested units can be sold given
// what the player owns and, when capped, the current global count.
func SellableAmount(e *catalog.Entity, owned, globalCount, amount int64) int64 {
	n := min(amount, owned)
	if CapsSaleByStock(e) {
		n = min(n, max(0, globalCount))
	}
	return max(0, n)
}

// Adjustment is the counter change a completed trade causes.
type Adjustment struct {
	Player int64
	Global int64

	// TrackGlobal is false when the trade must leave the global count alone.
	TrackGlobal bool
}

// PurchaseAdjustment: a purchase always counts against both counters.
func PurchaseAdjustment(amount int64) Adjustment {
	return Adjustment{Player: amount, Global: amount, TrackGlobal: true}
}

// SaleAdjustment counts a sale against the player and, when the item has a
// stock limit fed by sales or dynamic pricing without a limit, returns the
// units to the global count.
//
//	globalLimit>0, sellAddsToStock   -> global -= amount
//	globalLimit>0, !sellAddsToStock  -> global untouched
//	globalLimit<=0, dynamicPricing   -> global -= amount
//	globalLimit<=0, !dynamicPricing  -> global untouched
func SaleAdjustment(e *catalog.Entity, amount int64) Adjustment {
	track := (e.GlobalLimit > 0 && e.SellAddsToStock) || (e.DynamicPricing && e.GlobalLimit <= 0)
	adj := Adjustment{Player: amount, TrackGlobal: track}
	if track {
		adj.Global = -amount
	}
	return adj
}

func drift(base decimal.Decimal, step float64, count int64) decimal.Decimal {
	return base.Add(decimal.NewFromInt(count).Mul(decimal.NewFromFloat(step)))
}

// clamp applies the nonzero bounds.
func clamp(p decimal.Decimal, lo, hi float64) decimal.Decimal {
	if lo != 0 {
		p = decimal.Max(p, decimal.NewFromFloat(lo))
	}
	if hi != 0 {
		p = decimal.Min(p, decimal.NewFromFloat(hi))
	}
	return p
}
