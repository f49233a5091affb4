package models

import (
	"time"

	"github.com/uptrace/bun"
)

type TicketStatus string

const (
	TicketValid     TicketStatus = "Valid"
	TicketCheckedIn TicketStatus = "CheckedIn"
	TicketVoided    TicketStatus = "Voided"
)

type Ticket struct {
	bun.BaseModel `bun:"table:tickets,alias:t"`

	ID            int64        `bun:"id,pk,autoincrement" json:"id"`
	OrderItemID   int64        `bun:"order_item_id,notnull" json:"orderItemId"`
	TicketCode    string       `bun:"ticket_code,notnull,unique" json:"ticketCode"`
	SignedPayload string       `bun:"signed_payload,notnull" json:"signedPayload"`
	Status        TicketStatus `bun:"status,notnull" json:"status"`
	IssuedAt      time.Time    `bun:"issued_at,notnull" json:"issuedAt"`
	CheckedInAt   *time.Time   `bun:"checked_in_at" json:"checkedInAt,omitempty"`
}

// TicketDetails joins a ticket with the order and event it belongs to.
type TicketDetails struct {
	Ticket       `bun:",extend"`
	OrderID      int64  `bun:"order_id" json:"orderId"`
	OrderNumber  string `bun:"order_number" json:"orderNumber"`
	OwnerUserID  string `bun:"owner_user_id" json:"-"`
	EventID      int64  `bun:"event_id" json:"eventId"`
	EventTitle   string `bun:"event_title" json:"eventTitle"`
	OrganizerID  string `bun:"organizer_id" json:"-"`
	TicketTypeID int64  `bun:"ticket_type_id" json:"ticketTypeId"`
}

type TicketScanRequest struct {
	Code string `json:"code"`
}

type TicketValidationResult struct {
	Valid    bool   `json:"valid"`
	Status   string `json:"status"`
	TicketID *int64 `json:"ticketId,omitempty"`
	EventID  *int64 `json:"eventId,omitempty"`
	Message  string `json:"message,omitempty"`
}

type TicketCheckInResult struct {
	Success     bool       `json:"success"`
	Status      string     `json:"status"`
	TicketID    *int64     `json:"ticketId,omitempty"`
	CheckedInAt *time.Time `json:"checkedInAt,omitempty"`
	Message     string     `json:"message,omitempty"`
}
