package models

import (
	"time"

	"github.com/uptrace/bun"
)

type DiscountType string

const (
	DiscountPercentage  DiscountType = "Percentage"
	DiscountFixedAmount DiscountType = "FixedAmount"
)

type DiscountScope string

const (
	ScopeOrder      DiscountScope = "Order"
	ScopeTicketType DiscountScope = "TicketType"
)

type Discount struct {
	bun.BaseModel `bun:"table:discounts,alias:d"`

	ID                int64         `bun:"id,pk,autoincrement" json:"id"`
	EventID           int64         `bun:"event_id,notnull,unique:event_code" json:"eventId"`
	Code              string        `bun:"code,notnull,unique:event_code" json:"code"`
	Type              DiscountType  `bun:"type,notnull" json:"type"`
	Value             int64         `bun:"value,notnull" json:"value"`
	Scope             DiscountScope `bun:"scope,notnull" json:"scope"`
	ScopeTicketTypeID *int64        `bun:"scope_ticket_type_id" json:"scopeTicketTypeId,omitempty"`
	ValidFrom         *time.Time    `bun:"valid_from" json:"validFrom,omitempty"`
	ValidUntil        *time.Time    `bun:"valid_until" json:"validUntil,omitempty"`
	MaxUses           *int          `bun:"max_uses" json:"maxUses,omitempty"`
	UsedCount         int           `bun:"used_count,notnull" json:"usedCount"`
	MinSubtotalMinor  *int64        `bun:"min_subtotal_minor" json:"minSubtotalMinor,omitempty"`
	IsActive          bool          `bun:"is_active,notnull" json:"isActive"`
}

// Applicable reports whether the code may be used at now: active, inside the
// validity window and under its usage cap.
func (d *Discount) Applicable(now time.Time) bool {
	if !d.IsActive {
		return false
	}
	if d.ValidFrom != nil && now.Before(*d.ValidFrom) {
		return false
	}
	if d.ValidUntil != nil && now.After(*d.ValidUntil) {
		return false
	}
	if d.MaxUses != nil && d.UsedCount >= *d.MaxUses {
		return false
	}
	return true
}
