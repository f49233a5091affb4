package inventory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/uptrace/bun"

	"github.com/prabath1998/event-ticketing-web-backend/internal/models"
)

var (
	ErrOutOfStock      = errors.New("not enough tickets left")
	ErrInvalidQuantity = errors.New("quantity must be positive")
	ErrUnknownType     = errors.New("ticket type not found")
	ErrOverRelease     = errors.New("release exceeds sold quantity")
)

// Ledger guards ticket_types.sold_quantity. Bind it to the enclosing order
// transaction with NewLedger(tx).
type Ledger struct {
	db bun.IDB
}

func NewLedger(db bun.IDB) *Ledger {
	return &Ledger{db: db}
}

// Reserve adds quantity to sold_quantity if and only if the result stays
// within total_quantity. The check and the increment are one statement so
// concurrent reservations are linearized by the row lock.
func (l *Ledger) Reserve(ctx context.Context, ticketTypeID int64, quantity int) error {
	if quantity <= 0 {
		return ErrInvalidQuantity
	}

	res, err := l.db.NewUpdate().
		Model((*models.TicketType)(nil)).
		Set("sold_quantity = sold_quantity + ?", quantity).
		Where("id = ?", ticketTypeID).
		Where("sold_quantity + ? <= total_quantity", quantity).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("reserve ticket type %d: %w", ticketTypeID, err)
	}
	if affected(res) == 1 {
		return nil
	}

	if _, err := l.Remaining(ctx, ticketTypeID); err != nil {
		return err
	}
	return fmt.Errorf("%w: ticket type %d", ErrOutOfStock, ticketTypeID)
}

// Release returns quantity to the pool. Used when an order fails.
func (l *Ledger) Release(ctx context.Context, ticketTypeID int64, quantity int) error {
	if quantity <= 0 {
		return ErrInvalidQuantity
	}

	res, err := l.db.NewUpdate().
		Model((*models.TicketType)(nil)).
		Set("sold_quantity = sold_quantity - ?", quantity).
		Where("id = ?", ticketTypeID).
		Where("sold_quantity >= ?", quantity).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("release ticket type %d: %w", ticketTypeID, err)
	}
	if affected(res) != 1 {
		return fmt.Errorf("%w: ticket type %d", ErrOverRelease, ticketTypeID)
	}
	return nil
}

func (l *Ledger) Remaining(ctx context.Context, ticketTypeID int64) (int, error) {
	var t models.TicketType
	err := l.db.NewSelect().
		Model(&t).
		Column("total_quantity", "sold_quantity").
		Where("id = ?", ticketTypeID).
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("%w: %d", ErrUnknownType, ticketTypeID)
	}
	if err != nil {
		return 0, err
	}
	return t.Remaining(), nil
}

func affected(res sql.Result) int64 {
	n, err := res.RowsAffected()
	if err != nil {
		return 0
	}
	return n
}
