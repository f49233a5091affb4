package models

import (
	"time"

	"github.com/uptrace/bun"
)

// Event is the read-only slice of the event catalogue the core needs:
// which organizer owns it.
type Event struct {
	bun.BaseModel `bun:"table:events,alias:e"`

	ID          int64     `bun:"id,pk,autoincrement" json:"id"`
	OrganizerID string    `bun:"organizer_id,notnull" json:"organizerId"`
	Title       string    `bun:"title,notnull" json:"title"`
	StartsAt    time.Time `bun:"starts_at,notnull" json:"startsAt"`
	CreatedAt   time.Time `bun:"created_at,notnull" json:"createdAt"`
}

type TicketType struct {
	bun.BaseModel `bun:"table:ticket_types,alias:tt"`

	ID             int64      `bun:"id,pk,autoincrement" json:"id"`
	EventID        int64      `bun:"event_id,notnull" json:"eventId"`
	Name           string     `bun:"name,notnull" json:"name"`
	UnitPriceMinor int64      `bun:"unit_price_minor,notnull" json:"unitPriceMinor"`
	Currency       string     `bun:"currency,notnull" json:"currency"`
	TotalQuantity  int        `bun:"total_quantity,notnull" json:"totalQuantity"`
	SoldQuantity   int        `bun:"sold_quantity,notnull" json:"soldQuantity"`
	SalesStart     *time.Time `bun:"sales_start" json:"salesStart,omitempty"`
	SalesEnd       *time.Time `bun:"sales_end" json:"salesEnd,omitempty"`
	PerOrderLimit  *int       `bun:"per_order_limit" json:"perOrderLimit,omitempty"`
}

// OnSale reports whether now falls inside the sales window. Open bounds are allowed.
func (t *TicketType) OnSale(now time.Time) bool {
	if t.SalesStart != nil && now.Before(*t.SalesStart) {
		return false
	}
	if t.SalesEnd != nil && now.After(*t.SalesEnd) {
		return false
	}
	return true
}

func (t *TicketType) Remaining() int {
	return t.TotalQuantity - t.SoldQuantity
}
