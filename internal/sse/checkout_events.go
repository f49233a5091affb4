package sse

import (
	"context"
	"sync"
	"time"

	"github.com/prabath1998/event-ticketing-web-backend/internal/models"
)

// CheckoutEvent is pushed to subscribers when an order settles.
type CheckoutEvent struct {
	OrderID     int64              `json:"orderId"`
	OrderNumber string             `json:"orderNumber"`
	EventID     int64              `json:"eventId"`
	Status      models.OrderStatus `json:"status"`
	TotalMinor  int64              `json:"totalMinor"`
	Currency    string             `json:"currency"`
	TicketCount int                `json:"ticketCount"`
	At          time.Time          `json:"at"`
}

func NewCheckoutEvent(o *models.Order, ticketCount int, at time.Time) CheckoutEvent {
	return CheckoutEvent{
		OrderID:     o.ID,
		OrderNumber: o.OrderNumber,
		EventID:     o.EventID(),
		Status:      o.Status,
		TotalMinor:  o.TotalMinor,
		Currency:    o.Currency,
		TicketCount: ticketCount,
		At:          at,
	}
}

// Terminal reports whether no further event will follow for the order.
func (e CheckoutEvent) Terminal() bool {
	return e.Status == models.OrderPaid || e.Status == models.OrderFailed
}

// CheckoutEventEmitter fans settlement events out to buyers watching one
// order and organizers watching one event. It only reaches clients connected
// to this process.
type CheckoutEventEmitter struct {
	mu           sync.RWMutex
	orderClients map[int64][]chan CheckoutEvent
	eventClients map[int64][]chan CheckoutEvent
}

func NewCheckoutEventEmitter() *CheckoutEventEmitter {
	return &CheckoutEventEmitter{
		orderClients: make(map[int64][]chan CheckoutEvent),
		eventClients: make(map[int64][]chan CheckoutEvent),
	}
}

// SubscribeToOrder returns a channel that is closed once ctx is done.
func (e *CheckoutEventEmitter) SubscribeToOrder(ctx context.Context, orderID int64) <-chan CheckoutEvent {
	return e.subscribe(ctx, e.orderClients, orderID)
}

// SubscribeToEvent returns a channel that is closed once ctx is done.
func (e *CheckoutEventEmitter) SubscribeToEvent(ctx context.Context, eventID int64) <-chan CheckoutEvent {
	return e.subscribe(ctx, e.eventClients, eventID)
}

func (e *CheckoutEventEmitter) subscribe(ctx context.Context, clients map[int64][]chan CheckoutEvent, key int64) <-chan CheckoutEvent {
	ch := make(chan CheckoutEvent, 10)

	e.mu.Lock()
	clients[key] = append(clients[key], ch)
	e.mu.Unlock()

	go func() {
		<-ctx.Done()
		e.remove(clients, key, ch)
	}()
	return ch
}

// EmitCheckoutEvent never blocks; a client with a full buffer misses the event.
func (e *CheckoutEventEmitter) EmitCheckoutEvent(event CheckoutEvent) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	for _, ch := range e.orderClients[event.OrderID] {
		select {
		case ch <- event:
		default:
		}
	}
	for _, ch := range e.eventClients[event.EventID] {
		select {
		case ch <- event:
		default:
		}
	}
}

func (e *CheckoutEventEmitter) remove(clients map[int64][]chan CheckoutEvent, key int64, ch chan CheckoutEvent) {
	e.mu.Lock()
	defer e.mu.Unlock()

	list := clients[key]
	for i, c := range list {
		if c == ch {
			clients[key] = append(list[:i], list[i+1:]...)
			close(ch)
			break
		}
	}
	if len(clients[key]) == 0 {
		delete(clients, key)
	}
}

func (e *CheckoutEventEmitter) OrderClientCount(orderID int64) int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.orderClients[orderID])
}

func (e *CheckoutEventEmitter) EventClientCount(eventID int64) int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.eventClients[eventID])
}
