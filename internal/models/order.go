package models

import (
	"time"

	"github.com/uptrace/bun"
)

type OrderStatus string

const (
	OrderPending OrderStatus = "Pending"
	OrderPaid    OrderStatus = "Paid"
	OrderFailed  OrderStatus = "Failed"
)

type CartItem struct {
	TicketTypeID int64 `json:"ticketTypeId"`
	Quantity     int   `json:"quantity"`
}

type OrderRequest struct {
	Items     []CartItem `json:"items"`
	PromoCode string     `json:"promoCode,omitempty"`
}

type Order struct {
	bun.BaseModel `bun:"table:orders,alias:o"`

	ID              int64       `bun:"id,pk,autoincrement" json:"id"`
	UserID          string      `bun:"user_id,notnull" json:"userId"`
	OrderNumber     string      `bun:"order_number,notnull,unique" json:"orderNumber"`
	Status          OrderStatus `bun:"status,notnull" json:"status"`
	SubtotalMinor   int64       `bun:"subtotal_minor,notnull" json:"subtotalMinor"`
	DiscountMinor   int64       `bun:"discount_minor,notnull" json:"discountMinor"`
	FeesMinor       int64       `bun:"fees_minor,notnull" json:"feesMinor"`
	TotalMinor      int64       `bun:"total_minor,notnull" json:"totalMinor"`
	Currency        string      `bun:"currency,notnull" json:"currency"`
	DiscountCode    *string     `bun:"discount_code" json:"discountCode,omitempty"`
	TicketsIssuedAt *time.Time  `bun:"tickets_issued_at" json:"-"`
	CreatedAt       time.Time   `bun:"created_at,notnull" json:"createdAt"`
	UpdatedAt       time.Time   `bun:"updated_at,notnull" json:"updatedAt"`

	Items []OrderItem `bun:"rel:has-many,join:id=order_id" json:"items,omitempty"`
}

func (o *Order) EventID() int64 {
	if len(o.Items) == 0 {
		return 0
	}
	return o.Items[0].EventID
}

type OrderItem struct {
	bun.BaseModel `bun:"table:order_items,alias:oi"`

	ID             int64  `bun:"id,pk,autoincrement" json:"id"`
	OrderID        int64  `bun:"order_id,notnull" json:"orderId"`
	EventID        int64  `bun:"event_id,notnull" json:"eventId"`
	TicketTypeID   int64  `bun:"ticket_type_id,notnull" json:"ticketTypeId"`
	UnitPriceMinor int64  `bun:"unit_price_minor,notnull" json:"unitPriceMinor"`
	Quantity       int    `bun:"quantity,notnull" json:"quantity"`
	LineTotalMinor int64  `bun:"line_total_minor,notnull" json:"lineTotalMinor"`
	PriceSnapshot  string `bun:"price_snapshot,notnull" json:"priceSnapshot"`
}

// PriceSnapshot is the ticket type as it looked when the order was placed.
type PriceSnapshot struct {
	TicketTypeID   int64      `json:"ticketTypeId"`
	EventID        int64      `json:"eventId"`
	Name           string     `json:"name"`
	UnitPriceMinor int64      `json:"unitPriceMinor"`
	Currency       string     `json:"currency"`
	SalesStart     *time.Time `json:"salesStart,omitempty"`
	SalesEnd       *time.Time `json:"salesEnd,omitempty"`
}

type OrderSummary struct {
	ID            int64       `json:"id"`
	OrderNumber   string      `json:"orderNumber"`
	Status        OrderStatus `json:"status"`
	SubtotalMinor int64       `json:"subtotalMinor"`
	DiscountMinor int64       `json:"discountMinor"`
	FeesMinor     int64       `json:"feesMinor"`
	TotalMinor    int64       `json:"totalMinor"`
	Currency      string      `json:"currency"`
	DiscountCode  *string     `json:"discountCode,omitempty"`
	CreatedAt     time.Time   `json:"createdAt"`
	UpdatedAt     time.Time   `json:"updatedAt"`
}

func (o *Order) Summary() OrderSummary {
	return OrderSummary{
		ID:            o.ID,
		OrderNumber:   o.OrderNumber,
		Status:        o.Status,
		SubtotalMinor: o.SubtotalMinor,
		DiscountMinor: o.DiscountMinor,
		FeesMinor:     o.FeesMinor,
		TotalMinor:    o.TotalMinor,
		Currency:      o.Currency,
		DiscountCode:  o.DiscountCode,
		CreatedAt:     o.CreatedAt,
		UpdatedAt:     o.UpdatedAt,
	}
}
