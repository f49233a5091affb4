package order

import (
	"errors"
	"fmt"

	"github.com/prabath1998/event-ticketing-web-backend/internal/inventory"
	"github.com/prabath1998/event-ticketing-web-backend/internal/pricing"
)

var (
	ErrOrderNotFound         = errors.New("order not found")
	ErrOrderNotPending       = errors.New("order is no longer pending")
	ErrInvalidTransition     = errors.New("order is already settled with a different outcome")
	ErrDuplicateOrderNumber  = errors.New("order number already taken")
	ErrInvalidCode           = errors.New("discount code is not valid")
	ErrDiscountNotApplicable = errors.New("discount code does not reduce this order")
	ErrNotOnSale             = errors.New("ticket type is not on sale")
	ErrLimitExceeded         = errors.New("per-order limit exceeded")
	ErrMixedEvents           = errors.New("cart spans more than one event")
	ErrMixedCurrencies       = errors.New("cart spans more than one currency")
	ErrUnauthenticated       = errors.New("caller is not authenticated")

	ErrEmptyCart         = pricing.ErrEmptyCart
	ErrInvalidQuantity   = pricing.ErrInvalidQuantity
	ErrUnknownTicketType = pricing.ErrUnknownTicketType
	ErrOutOfStock        = inventory.ErrOutOfStock
)

// ValidationError points at the cart line that failed a check.
type ValidationError struct {
	TicketTypeID int64
	Reason       string
	Err          error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("ticket type %d: %s", e.TicketTypeID, e.Reason)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}
