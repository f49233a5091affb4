package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/uptrace/bun"

	"github.com/prabath1998/event-ticketing-web-backend/internal/logger"
	"github.com/prabath1998/event-ticketing-web-backend/internal/models"
)

// BunStore keeps one payment row per order. Retried sessions and settlements
// overwrite that row instead of adding new ones.
type BunStore struct {
	db  bun.IDB
	log *logger.Logger
}

func NewBunStore(db bun.IDB, log *logger.Logger) *BunStore {
	return &BunStore{db: db, log: log}
}

func (s *BunStore) GetPaymentByOrderID(ctx context.Context, orderID int64) (*models.Payment, error) {
	var p models.Payment
	err := s.db.NewSelect().
		Model(&p).
		Where("order_id = ?", orderID).
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrPaymentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load payment for order %d: %w", orderID, err)
	}
	return &p, nil
}

// SaveSession records that a provider session was opened for the order.
func (s *BunStore) SaveSession(ctx context.Context, payment *models.Payment) error {
	s.log.LogDatabase("UPSERT", "payments", fmt.Sprintf("Saving %s session for order %d", payment.Provider, payment.OrderID))

	_, err := s.db.NewInsert().
		Model(payment).
		On("CONFLICT (order_id) DO UPDATE").
		Set("provider = EXCLUDED.provider").
		Set("status = EXCLUDED.status").
		Set("amount_minor = EXCLUDED.amount_minor").
		Set("currency = EXCLUDED.currency").
		Set("provider_session_ref = EXCLUDED.provider_session_ref").
		Set("updated_at = EXCLUDED.updated_at").
		Exec(ctx)
	if err != nil {
		s.log.Error("DATABASE", fmt.Sprintf("Failed to save payment session for order %d: %v", payment.OrderID, err))
		return fmt.Errorf("save payment session: %w", err)
	}
	return nil
}

// Settle upserts the payment row with its final status. A session ref already
// on file is kept when the settlement does not carry one.
func Settle(ctx context.Context, db bun.IDB, payment *models.Payment) error {
	q := db.NewInsert().
		Model(payment).
		On("CONFLICT (order_id) DO UPDATE").
		Set("provider = EXCLUDED.provider").
		Set("status = EXCLUDED.status").
		Set("amount_minor = EXCLUDED.amount_minor").
		Set("currency = EXCLUDED.currency").
		Set("provider_transaction_ref = EXCLUDED.provider_transaction_ref").
		Set("paid_at = EXCLUDED.paid_at").
		Set("raw_provider_payload = EXCLUDED.raw_provider_payload").
		Set("updated_at = EXCLUDED.updated_at")
	if payment.ProviderSessionRef != nil {
		q = q.Set("provider_session_ref = EXCLUDED.provider_session_ref")
	}
	_, err := q.Exec(ctx)
	if err != nil {
		return fmt.Errorf("settle payment for order %d: %w", payment.OrderID, err)
	}
	return nil
}

// FromSettlement builds the payment row for an order's final outcome.
func FromSettlement(order *models.Order, status models.PaymentStatus, s models.Settlement, now time.Time) *models.Payment {
	p := &models.Payment{
		OrderID:     order.ID,
		Provider:    s.Provider,
		Status:      status,
		AmountMinor: order.TotalMinor,
		Currency:    order.Currency,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if s.SessionRef != "" {
		ref := s.SessionRef
		p.ProviderSessionRef = &ref
	}
	if s.TransactionRef != "" {
		ref := s.TransactionRef
		p.ProviderTransactionRef = &ref
	}
	if len(s.RawPayload) > 0 {
		raw := string(s.RawPayload)
		p.RawProviderPayload = &raw
	}
	if status == models.PaymentSucceeded {
		paidAt := now
		p.PaidAt = &paidAt
	}
	return p
}
