package trade

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/udisondev/la2shop/internal/catalog"
	"github.com/udisondev/la2shop/internal/counter"
	"github.com/udisondev/la2shop/internal/pricing"
)

// saleRetries bounds the optimistic retries of a stock-capped sale whose
// cap shrank between the read and the apply.
const saleRetries = 3

var errNotPurchasable = errors.New("not purchasable at current price")

// CatalogSource serves the live catalog. catalog.Registry implements it.
type CatalogSource interface {
	Snapshot() *catalog.Catalog
}

// Service is the query and mutation surface used by shop front-ends.
type Service struct {
	catalog CatalogSource
	store   *counter.Store
	now     func() time.Time
}

// NewService creates a trade service. A nil now uses time.Now.
func NewService(src CatalogSource, store *counter.Store, now func() time.Time) *Service {
	if now == nil {
		now = time.Now
	}
	return &Service{catalog: src, store: store, now: now}
}

func (s *Service) entity(key string) (*catalog.Entity, *catalog.Shop, error) {
	c := s.catalog.Snapshot()
	e := c.Item(key)
	if e == nil {
		return nil, nil, fmt.Errorf("%w: %q", ErrUnknownItem, key)
	}
	return e, c.Shop(e.Shop), nil
}

// BuyPrice returns the current unit buy price of item.
func (s *Service) BuyPrice(key string) (float64, error) {
	e, _, err := s.entity(key)
	if err != nil {
		return 0, err
	}
	return pricing.BuyPrice(e, s.store.GlobalCount(key)), nil
}

// SellPrice returns the current unit sell price of item (0 if not sellable).
func (s *Service) SellPrice(key string) (float64, error) {
	e, _, err := s.entity(key)
	if err != nil {
		return 0, err
	}
	return pricing.SellPrice(e, s.store.GlobalCount(key)), nil
}

// RemainingPlayerAllowance returns how many more units player may buy, or
// pricing.Unlimited.
func (s *Service) RemainingPlayerAllowance(player, key string) (int64, error) {
	if err := checkPlayer(player); err != nil {
		return 0, err
	}
	e, _, err := s.entity(key)
	if err != nil {
		return 0, err
	}
	return pricing.RemainingAllowance(e, s.store.PlayerCount(player, key)), nil
}

// RemainingGlobalStock returns how many more units may be bought by anyone,
// or pricing.Unlimited.
func (s *Service) RemainingGlobalStock(key string) (int64, error) {
	e, _, err := s.entity(key)
	if err != nil {
		return 0, err
	}
	return pricing.RemainingStock(e, s.store.GlobalCount(key)), nil
}

// IsShopAvailable reports whether the shop is open now.
func (s *Service) IsShopAvailable(shopID string) (bool, error) {
	shop := s.catalog.Snapshot().Shop(shopID)
	if shop == nil {
		return false, fmt.Errorf("%w: %q", ErrUnknownShop, shopID)
	}
	return shop.Availability.IsAvailable(s.now()), nil
}

// IsItemAvailable reports whether item can be traded now: both its own
// rule and its shop's rule must allow it.
func (s *Service) IsItemAvailable(key string) (bool, error) {
	e, shop, err := s.entity(key)
	if err != nil {
		return false, err
	}
	return available(e, shop, s.now()), nil
}

func available(e *catalog.Entity, shop *catalog.Shop, now time.Time) bool {
	if shop != nil && !shop.Availability.IsAvailable(now) {
		return false
	}
	return e.Availability.IsAvailable(now)
}

// Purchase records player buying amount units of item. Limits are checked
// and both counters incremented as one atomic step, so concurrent buyers
// can never jointly exceed a limit. A declined purchase is reported in the
// receipt; an error means nothing was recorded and the call may be retried.
func (s *Service) Purchase(ctx context.Context, player, key string, amount int64) (Receipt, error) {
	if amount <= 0 {
		return Receipt{}, ErrInvalidAmount
	}
	if err := checkPlayer(player); err != nil {
		return Receipt{}, err
	}
	e, shop, err := s.entity(key)
	if err != nil {
		return Receipt{}, err
	}

	now := s.now()
	r := newReceipt(Purchase, player, e, amount, now)
	if !available(e, shop, now) {
		return r.decline(ReasonUnavailable), nil
	}

	adj := pricing.PurchaseAdjustment(amount)
	var unit decimal.Decimal
	_, err = s.store.Apply(ctx,
		counter.Op{
			Key:   counter.PlayerKey(player, key),
			Delta: adj.Player,
			Max:   e.PerPlayerLimit,
		},
		counter.Op{
			Key:   counter.GlobalKey(key),
			Delta: adj.Global,
			Max:   e.GlobalLimit,
			Guard: func(count int64) error {
				unit = pricing.BuyPriceDecimal(e, count)
				if !unit.IsPositive() {
					return errNotPurchasable
				}
				return nil
			},
		},
	)

	var le *counter.LimitError
	switch {
	case err == nil:
	case errors.Is(err, errNotPurchasable):
		return r.decline(ReasonNotPurchasable), nil
	case errors.As(err, &le):
		if le.Key.IsGlobal() {
			return r.decline(ReasonGlobalLimit), nil
		}
		return r.decline(ReasonPlayerLimit), nil
	default:
		return Receipt{}, fmt.Errorf("recording purchase of %s by %s: %w", key, player, err)
	}

	r = r.complete(amount, unit)
	slog.Debug("purchase completed",
		"receipt", r.ID,
		"player", player,
		"item", key,
		"amount", amount,
		"total", r.Total.String())
	return r, nil
}

// Sale records player selling up to amount units of item, owned being what
// the player's inventory holds. When sales feed a capped stock, fewer units
// than requested may be taken; the receipt tells how many.
func (s *Service) Sale(ctx context.Context, player, key string, amount, owned int64) (Receipt, error) {
	if amount <= 0 {
		return Receipt{}, ErrInvalidAmount
	}
	if err := checkPlayer(player); err != nil {
		return Receipt{}, err
	}
	e, shop, err := s.entity(key)
	if err != nil {
		return Receipt{}, err
	}

	now := s.now()
	r := newReceipt(Sale, player, e, amount, now)
	switch {
	case !e.Sellable():
		return r.decline(ReasonNotSellable), nil
	case !available(e, shop, now):
		return r.decline(ReasonUnavailable), nil
	case owned < amount:
		return r.decline(ReasonInsufficientItems), nil
	}

	globalKey := counter.GlobalKey(key)
	capped := pricing.CapsSaleByStock(e)

	for attempt := 0; ; attempt++ {
		global := s.store.Count(globalKey)
		n := pricing.SellableAmount(e, owned, global, amount)
		if n == 0 {
			return r.decline(ReasonStockFull), nil
		}

		adj := pricing.SaleAdjustment(e, n)
		ops := []counter.Op{{Key: counter.PlayerKey(player, key), Delta: adj.Player}}
		if adj.TrackGlobal {
			ops = append(ops, counter.Op{Key: globalKey, Delta: adj.Global, NonNegative: capped})
		} else {
			// Observe the global count under lock for pricing without changing it.
			ops = append(ops, counter.Op{Key: globalKey})
		}

		before, err := s.store.Apply(ctx, ops...)
		if err == nil {
			r = r.complete(n, pricing.SellPriceDecimal(e, before[1]))
			slog.Debug("sale completed",
				"receipt", r.ID,
				"player", player,
				"item", key,
				"amount", n,
				"requested", amount,
				"total", r.Total.String())
			return r, nil
		}
		if !errors.Is(err, counter.ErrLimitExceeded) {
			return Receipt{}, fmt.Errorf("recording sale of %s by %s: %w", key, player, err)
		}
		if attempt+1 >= saleRetries {
			return r.decline(ReasonStockFull), nil
		}
	}
}
