package models

import (
	"time"

	"github.com/google/uuid"
)

const (
	EventOrderCreated    = "order.created"
	EventOrderPaid       = "order.paid"
	EventOrderFailed     = "order.failed"
	EventTicketsIssued   = "tickets.issued"
	EventTicketCheckedIn = "ticket.checked_in"
)

type OrderEventDto struct {
	EventID     string      `json:"eventId"`
	Type        string      `json:"type"`
	OccurredAt  time.Time   `json:"occurredAt"`
	OrderID     int64       `json:"orderId"`
	OrderNumber string      `json:"orderNumber"`
	UserID      string      `json:"userId"`
	Status      OrderStatus `json:"status"`
	TotalMinor  int64       `json:"totalMinor"`
	Currency    string      `json:"currency"`
}

func NewOrderEventDto(eventType string, order *Order, now time.Time) OrderEventDto {
	return OrderEventDto{
		EventID:     uuid.NewString(),
		Type:        eventType,
		OccurredAt:  now,
		OrderID:     order.ID,
		OrderNumber: order.OrderNumber,
		UserID:      order.UserID,
		Status:      order.Status,
		TotalMinor:  order.TotalMinor,
		Currency:    order.Currency,
	}
}

type TicketEventDto struct {
	EventID     string    `json:"eventId"`
	Type        string    `json:"type"`
	OccurredAt  time.Time `json:"occurredAt"`
	OrderID     int64     `json:"orderId"`
	TicketCodes []string  `json:"ticketCodes"`
	ActorUserID string    `json:"actorUserId,omitempty"`
}

func NewTicketEventDto(eventType string, orderID int64, codes []string, actor string, now time.Time) TicketEventDto {
	return TicketEventDto{
		EventID:     uuid.NewString(),
		Type:        eventType,
		OccurredAt:  now,
		OrderID:     orderID,
		TicketCodes: codes,
		ActorUserID: actor,
	}
}
