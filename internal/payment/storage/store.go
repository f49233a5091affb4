package storage

import (
	"context"
	"errors"

	"github.com/prabath1998/event-ticketing-web-backend/internal/models"
)

var ErrPaymentNotFound = errors.New("payment not found")

// Store holds the session side of payments. Final outcomes are written by
// Settle inside the order's settlement transaction.
type Store interface {
	GetPaymentByOrderID(ctx context.Context, orderID int64) (*models.Payment, error)
	SaveSession(ctx context.Context, payment *models.Payment) error
}
