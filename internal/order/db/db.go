package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/uptrace/bun"

	"github.com/prabath1998/event-ticketing-web-backend/internal/database"
	"github.com/prabath1998/event-ticketing-web-backend/internal/discount"
	"github.com/prabath1998/event-ticketing-web-backend/internal/inventory"
	"github.com/prabath1998/event-ticketing-web-backend/internal/logger"
	"github.com/prabath1998/event-ticketing-web-backend/internal/models"
	"github.com/prabath1998/event-ticketing-web-backend/internal/order"
	"github.com/prabath1998/event-ticketing-web-backend/internal/payment/storage"
)

type DB struct {
	Bun *bun.DB
	// Logger is optional.
	Logger *logger.Logger
}

// ---------------- TICKET TYPES ----------------

// GetTicketTypes → fetch the ticket types referenced by a cart
func (d *DB) GetTicketTypes(ctx context.Context, ids []int64) ([]models.TicketType, error) {
	var types []models.TicketType
	if len(ids) == 0 {
		return types, nil
	}
	err := d.Bun.NewSelect().
		Model(&types).
		Where("tt.id IN (?)", bun.In(ids)).
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return types, nil
}

// ---------------- ORDERS ----------------

// CreateOrder → reserve every line and insert the order with its items in
// one transaction. Any failure rolls back all reservations.
func (d *DB) CreateOrder(ctx context.Context, o *models.Order, items []models.OrderItem) error {
	return d.Bun.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		ledger := inventory.NewLedger(tx)
		for _, item := range items {
			if err := ledger.Reserve(ctx, item.TicketTypeID, item.Quantity); err != nil {
				return err
			}
		}

		if _, err := tx.NewInsert().Model(o).Exec(ctx); err != nil {
			if database.IsUniqueViolation(err) {
				return order.ErrDuplicateOrderNumber
			}
			return fmt.Errorf("insert order: %w", err)
		}

		for i := range items {
			items[i].OrderID = o.ID
		}
		if _, err := tx.NewInsert().Model(&items).Exec(ctx); err != nil {
			return fmt.Errorf("insert order items: %w", err)
		}
		o.Items = items
		return nil
	})
}

// GetOrderByID → fetch one order with its items
func (d *DB) GetOrderByID(ctx context.Context, id int64) (*models.Order, error) {
	return getOrder(ctx, d.Bun, id)
}

// ListOrdersByUser → newest first
func (d *DB) ListOrdersByUser(ctx context.Context, userID string) ([]models.Order, error) {
	var orders []models.Order
	err := d.Bun.NewSelect().
		Model(&orders).
		Relation("Items", func(q *bun.SelectQuery) *bun.SelectQuery {
			return q.Order("oi.id ASC")
		}).
		Where("o.user_id = ?", userID).
		Order("o.created_at DESC", "o.id DESC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return orders, nil
}

func (d *DB) UserOwnsOrder(ctx context.Context, userID string, orderID int64) (bool, error) {
	return d.Bun.NewSelect().
		Model((*models.Order)(nil)).
		Where("o.id = ?", orderID).
		Where("o.user_id = ?", userID).
		Exists(ctx)
}

// UpdatePricing → overwrite the price breakdown of a Pending order
func (d *DB) UpdatePricing(ctx context.Context, o *models.Order) error {
	res, err := d.Bun.NewUpdate().
		Model((*models.Order)(nil)).
		Set("subtotal_minor = ?", o.SubtotalMinor).
		Set("discount_minor = ?", o.DiscountMinor).
		Set("fees_minor = ?", o.FeesMinor).
		Set("total_minor = ?", o.TotalMinor).
		Set("discount_code = ?", o.DiscountCode).
		Set("updated_at = ?", o.UpdatedAt).
		Where("id = ?", o.ID).
		Where("status = ?", models.OrderPending).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("update order pricing: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return order.ErrOrderNotPending
	}
	return nil
}

// MarkPaid → Pending to Paid, recording the payment and counting the
// discount use in the same transaction. changed is false when the order was
// already Paid.
func (d *DB) MarkPaid(ctx context.Context, orderID int64, s models.Settlement, now time.Time) (*models.Order, bool, error) {
	var result *models.Order
	changed := false

	err := d.Bun.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		moved, err := transition(ctx, tx, orderID, models.OrderPaid, now)
		if err != nil {
			return err
		}
		o, err := getOrder(ctx, tx, orderID)
		if err != nil {
			return err
		}
		result = o
		if !moved {
			if o.Status == models.OrderPaid {
				return nil
			}
			return fmt.Errorf("%w: order %d is %s", order.ErrInvalidTransition, orderID, o.Status)
		}
		changed = true

		if err := storage.Settle(ctx, tx, storage.FromSettlement(o, models.PaymentSucceeded, s, now)); err != nil {
			return err
		}
		if o.DiscountCode != nil {
			counted, err := discount.IncrementUsage(ctx, tx, o.EventID(), *o.DiscountCode)
			if err != nil {
				return fmt.Errorf("count discount use: %w", err)
			}
			// The payment is captured either way; the code just stops at its cap.
			if !counted && d.Logger != nil {
				d.Logger.Warn("DISCOUNT", fmt.Sprintf("Code %s reached max uses before order %s settled, usage not counted", *o.DiscountCode, o.OrderNumber))
			}
		}
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return result, changed, nil
}

// MarkFailed → Pending to Failed, returning the reserved tickets to the pool.
func (d *DB) MarkFailed(ctx context.Context, orderID int64, s models.Settlement, now time.Time) (*models.Order, bool, error) {
	var result *models.Order
	changed := false

	err := d.Bun.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		moved, err := transition(ctx, tx, orderID, models.OrderFailed, now)
		if err != nil {
			return err
		}
		o, err := getOrder(ctx, tx, orderID)
		if err != nil {
			return err
		}
		result = o
		if !moved {
			if o.Status == models.OrderFailed {
				return nil
			}
			return fmt.Errorf("%w: order %d is %s", order.ErrInvalidTransition, orderID, o.Status)
		}
		changed = true

		ledger := inventory.NewLedger(tx)
		for _, item := range o.Items {
			if err := ledger.Release(ctx, item.TicketTypeID, item.Quantity); err != nil {
				return err
			}
		}
		return storage.Settle(ctx, tx, storage.FromSettlement(o, models.PaymentFailed, s, now))
	})
	if err != nil {
		return nil, false, err
	}
	return result, changed, nil
}

// transition moves a Pending order to status. It reports false without error
// when the order exists but is no longer Pending.
func transition(ctx context.Context, db bun.IDB, orderID int64, status models.OrderStatus, now time.Time) (bool, error) {
	res, err := db.NewUpdate().
		Model((*models.Order)(nil)).
		Set("status = ?", status).
		Set("updated_at = ?", now).
		Where("id = ?", orderID).
		Where("status = ?", models.OrderPending).
		Exec(ctx)
	if err != nil {
		return false, fmt.Errorf("mark order %d %s: %w", orderID, status, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func getOrder(ctx context.Context, db bun.IDB, id int64) (*models.Order, error) {
	var o models.Order
	err := db.NewSelect().
		Model(&o).
		Relation("Items", func(q *bun.SelectQuery) *bun.SelectQuery {
			return q.Order("oi.id ASC")
		}).
		Where("o.id = ?", id).
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, order.ErrOrderNotFound
	}
	if err != nil {
		return nil, err
	}
	return &o, nil
}
