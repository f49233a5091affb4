package pricing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prabath1998/event-ticketing-web-backend/internal/config"
	"github.com/prabath1998/event-ticketing-web-backend/internal/discount"
	"github.com/prabath1998/event-ticketing-web-backend/internal/logger"
	"github.com/prabath1998/event-ticketing-web-backend/internal/models"
)

var (
	ErrEmptyCart         = errors.New("cart is empty")
	ErrUnknownTicketType = errors.New("unknown ticket type")
	ErrInvalidQuantity   = errors.New("quantity must be positive")
)

// TicketTypeSource resolves current ticket type prices.
type TicketTypeSource interface {
	GetTicketTypes(ctx context.Context, ids []int64) ([]models.TicketType, error)
}

// DiscountLookup finds a discount by event and normalized code. It returns
// (nil, nil) when no such code exists.
type DiscountLookup interface {
	FindByCode(ctx context.Context, eventID int64, code string) (*models.Discount, error)
}

// Line is one priced cart line.
type Line struct {
	TicketTypeID   int64
	EventID        int64
	UnitPriceMinor int64
	Currency       string
	Quantity       int
}

func (l Line) Total() int64 {
	return l.UnitPriceMinor * int64(l.Quantity)
}

type Result struct {
	SubtotalMinor int64  `json:"subtotalMinor"`
	DiscountMinor int64  `json:"discountMinor"`
	FeesMinor     int64  `json:"feesMinor"`
	TotalMinor    int64  `json:"totalMinor"`
	Currency      string `json:"currency"`
	DiscountCode  string `json:"discountCode,omitempty"`
	DiscountID    *int64 `json:"-"`
	// CodeFound is true when the code resolved to a usable discount, even if
	// it ended up saving nothing for this cart.
	CodeFound bool `json:"-"`
}

type Engine struct {
	ticketTypes TicketTypeSource
	discounts   DiscountLookup
	fees        config.FeeSchedule
	logger      *logger.Logger
	now         func() time.Time
}

func NewEngine(ticketTypes TicketTypeSource, discounts DiscountLookup, fees config.FeeSchedule, log *logger.Logger) *Engine {
	return &Engine{
		ticketTypes: ticketTypes,
		discounts:   discounts,
		fees:        fees,
		logger:      log,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// WithClock replaces the engine's time source.
func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.now = now
	return e
}

// Compute prices a cart at current ticket type prices.
func (e *Engine) Compute(ctx context.Context, cart []models.CartItem, promoCode string) (*Result, error) {
	if len(cart) == 0 {
		return nil, ErrEmptyCart
	}

	ids := make([]int64, 0, len(cart))
	for _, item := range cart {
		ids = append(ids, item.TicketTypeID)
	}
	types, err := e.ticketTypes.GetTicketTypes(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("load ticket types: %w", err)
	}
	byID := make(map[int64]models.TicketType, len(types))
	for _, t := range types {
		byID[t.ID] = t
	}

	lines := make([]Line, 0, len(cart))
	for _, item := range cart {
		t, ok := byID[item.TicketTypeID]
		if !ok {
			return nil, fmt.Errorf("%w: %d", ErrUnknownTicketType, item.TicketTypeID)
		}
		lines = append(lines, LineFor(t, item.Quantity))
	}
	return e.Price(ctx, lines, promoCode)
}

// Price prices already-resolved lines. Order re-pricing uses it with the
// order's snapshot prices.
func (e *Engine) Price(ctx context.Context, lines []Line, promoCode string) (*Result, error) {
	if len(lines) == 0 {
		return nil, ErrEmptyCart
	}
	for _, l := range lines {
		if l.Quantity <= 0 {
			return nil, fmt.Errorf("%w: ticket type %d", ErrInvalidQuantity, l.TicketTypeID)
		}
	}

	var d *models.Discount
	code := discount.NormalizeCode(promoCode)
	if code != "" {
		found, err := e.discounts.FindByCode(ctx, lines[0].EventID, code)
		if err != nil {
			return nil, fmt.Errorf("look up discount %s: %w", code, err)
		}
		if found != nil && found.Applicable(e.now()) {
			d = found
		} else if e.logger != nil {
			e.logger.Debug("PRICING", fmt.Sprintf("code %s not applicable for event %d", code, lines[0].EventID))
		}
	}

	result := Quote(lines, d, e.fees)
	result.CodeFound = d != nil
	if result.DiscountMinor > 0 {
		result.DiscountCode = code
		id := d.ID
		result.DiscountID = &id
	}
	return &result, nil
}

func LineFor(t models.TicketType, quantity int) Line {
	return Line{
		TicketTypeID:   t.ID,
		EventID:        t.EventID,
		UnitPriceMinor: t.UnitPriceMinor,
		Currency:       t.Currency,
		Quantity:       quantity,
	}
}

// Quote is the pure pricing function. d must already be known to be
// applicable; a nil d means no discount.
func Quote(lines []Line, d *models.Discount, fees config.FeeSchedule) Result {
	var subtotal int64
	for _, l := range lines {
		subtotal += l.Total()
	}
	currency := ""
	if len(lines) > 0 {
		currency = lines[0].Currency
	}

	disc := DiscountAmount(lines, d, subtotal)
	fee := Fees(subtotal, currency, fees)

	total := subtotal - disc + fee
	if total < 0 {
		total = 0
	}

	return Result{
		SubtotalMinor: subtotal,
		DiscountMinor: disc,
		FeesMinor:     fee,
		TotalMinor:    total,
		Currency:      currency,
	}
}

// DiscountAmount applies scope, minimum subtotal and type rules. The result
// never exceeds subtotal.
func DiscountAmount(lines []Line, d *models.Discount, subtotal int64) int64 {
	if d == nil || d.Value <= 0 {
		return 0
	}

	base := subtotal
	if d.Scope == models.ScopeTicketType {
		if d.ScopeTicketTypeID == nil {
			return 0
		}
		base = 0
		for _, l := range lines {
			if l.TicketTypeID == *d.ScopeTicketTypeID {
				base += l.Total()
			}
		}
	}
	if base <= 0 {
		return 0
	}
	if d.MinSubtotalMinor != nil && base < *d.MinSubtotalMinor {
		return 0
	}

	var amount int64
	switch d.Type {
	case models.DiscountPercentage:
		pct := d.Value
		if pct > 100 {
			pct = 100
		}
		amount = base * pct / 100
	case models.DiscountFixedAmount:
		amount = d.Value
		if amount > base {
			amount = base
		}
	default:
		return 0
	}

	if amount > subtotal {
		amount = subtotal
	}
	return amount
}

// Fees is the percentage fee on subtotal, rounded half away from zero, plus
// the per-currency fixed fee.
func Fees(subtotal int64, currency string, fees config.FeeSchedule) int64 {
	if subtotal <= 0 {
		return fees.FixedFee(currency)
	}
	return (subtotal*fees.PercentBasisPoints+5000)/10000 + fees.FixedFee(currency)
}
