// Package trade validates, prices and records purchases and sales against the
// live catalog and the counter store.
package trade

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/udisondev/la2shop/internal/catalog"
)

var (
	// ErrUnknownItem means no catalog entity has the requested unique key.
	ErrUnknownItem = errors.New("unknown item")

	// ErrUnknownShop means no shop has the requested id.
	ErrUnknownShop = errors.New("unknown shop")

	// ErrInvalidAmount means a trade was requested for amount <= 0.
	ErrInvalidAmount = errors.New("amount must be positive")

	// ErrInvalidPlayer means the player id is empty or contains '.'.
	ErrInvalidPlayer = errors.New("invalid player id")
)

func checkPlayer(player string) error {
	if player == "" || strings.Contains(player, ".") {
		return fmt.Errorf("%w: %q", ErrInvalidPlayer, player)
	}
	return nil
}

// Status of a trade.
type Status uint8

const (
	Completed Status = iota + 1
	Declined
)

func (s Status) String() string {
	switch s {
	case Completed:
		return "completed"
	case Declined:
		return "declined"
	default:
		return fmt.Sprintf("Status(%d)", s)
	}
}

// Reason explains a declined trade.
type Reason string

const (
	ReasonNone              Reason = ""
	ReasonUnavailable       Reason = "unavailable"
	ReasonNotPurchasable    Reason = "not purchasable"
	ReasonPlayerLimit       Reason = "player limit"
	ReasonGlobalLimit       Reason = "global limit"
	ReasonInsufficientItems Reason = "insufficient items"
	ReasonStockFull         Reason = "stock full"
	ReasonNotSellable       Reason = "not sellable"
)

// Kind distinguishes purchases from sales.
type Kind uint8

const (
	Purchase Kind = iota + 1
	Sale
)

func (k Kind) String() string {
	if k == Sale {
		return "sale"
	}
	return "purchase"
}

// Receipt is the result of one trade request. A declined receipt never
// changed any counter.
type Receipt struct {
	ID     uuid.UUID
	Kind   Kind
	Status Status
	Reason Reason

	Player string
	Item   string

	// Requested is what the caller asked for; Amount is what was traded.
	// They differ only for sales capped by stock.
	Requested int64
	Amount    int64

	UnitPrice decimal.Decimal
	Total     decimal.Decimal
	At        time.Time
}

// OK reports whether the trade completed.
func (r Receipt) OK() bool { return r.Status == Completed }

func newReceipt(kind Kind, player string, e *catalog.Entity, requested int64, at time.Time) Receipt {
	return Receipt{
		ID:        uuid.New(),
		Kind:      kind,
		Player:    player,
		Item:      e.UniqueKey,
		Requested: requested,
		At:        at,
	}
}

func (r Receipt) decline(reason Reason) Receipt {
	r.Status = Declined
	r.Reason = reason
	r.Amount = 0
	r.UnitPrice = decimal.Zero
	r.Total = decimal.Zero
	return r
}

func (r Receipt) complete(amount int64, unit decimal.Decimal) Receipt {
	r.Status = Completed
	r.Amount = amount
	r.UnitPrice = unit
	r.Total = unit.Mul(decimal.NewFromInt(amount))
	return r
}
