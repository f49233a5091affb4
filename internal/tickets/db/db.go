package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/uptrace/bun"

	"github.com/prabath1998/event-ticketing-web-backend/internal/database"
	"github.com/prabath1998/event-ticketing-web-backend/internal/models"
	tickets "github.com/prabath1998/event-ticketing-web-backend/internal/tickets/service"
)

type DB struct {
	Bun *bun.DB
}

// GetOrderForIssuance loads the order with its items, whatever its status.
func (d *DB) GetOrderForIssuance(ctx context.Context, orderID int64) (*models.Order, error) {
	var order models.Order
	err := d.Bun.NewSelect().
		Model(&order).
		Relation("Items", func(q *bun.SelectQuery) *bun.SelectQuery {
			return q.Order("oi.id ASC")
		}).
		Where("o.id = ?", orderID).
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, tickets.ErrOrderNotFound
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// GetTicketsByOrder returns every ticket minted for the order's items.
func (d *DB) GetTicketsByOrder(ctx context.Context, orderID int64) ([]models.Ticket, error) {
	var list []models.Ticket
	err := d.Bun.NewSelect().
		Model(&list).
		Join("JOIN order_items AS oi ON oi.id = t.order_item_id").
		Where("oi.order_id = ?", orderID).
		Order("t.id ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return list, nil
}

// InsertTickets claims the order's issuance slot and stores tickets in one
// transaction. ErrAlreadyIssued means another caller got there first.
func (d *DB) InsertTickets(ctx context.Context, orderID int64, list []models.Ticket, now time.Time) error {
	return d.Bun.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		res, err := tx.NewUpdate().
			Model((*models.Order)(nil)).
			Set("tickets_issued_at = ?", now).
			Where("id = ?", orderID).
			Where("status = ?", models.OrderPaid).
			Where("tickets_issued_at IS NULL").
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("claim issuance for order %d: %w", orderID, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return tickets.ErrAlreadyIssued
		}

		if len(list) == 0 {
			return nil
		}
		if _, err := tx.NewInsert().Model(&list).Exec(ctx); err != nil {
			if database.IsUniqueViolation(err) {
				return tickets.ErrTicketCodeCollision
			}
			return fmt.Errorf("insert tickets for order %d: %w", orderID, err)
		}
		return nil
	})
}

func detailsQuery(db bun.IDB, dest *[]models.TicketDetails) *bun.SelectQuery {
	return db.NewSelect().
		Model(dest).
		ColumnExpr("t.*").
		ColumnExpr("oi.order_id AS order_id").
		ColumnExpr("oi.ticket_type_id AS ticket_type_id").
		ColumnExpr("o.order_number AS order_number").
		ColumnExpr("o.user_id AS owner_user_id").
		ColumnExpr("e.id AS event_id").
		ColumnExpr("e.title AS event_title").
		ColumnExpr("e.organizer_id AS organizer_id").
		Join("JOIN order_items AS oi ON oi.id = t.order_item_id").
		Join("JOIN orders AS o ON o.id = oi.order_id").
		Join("JOIN events AS e ON e.id = oi.event_id")
}

// GetTicketByCode returns the ticket with its order and event context.
func (d *DB) GetTicketByCode(ctx context.Context, code string) (*models.TicketDetails, error) {
	var rows []models.TicketDetails
	err := detailsQuery(d.Bun, &rows).
		Where("t.ticket_code = ?", code).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, tickets.ErrTicketNotFound
	}
	return &rows[0], nil
}

func (d *DB) GetTicketsByUser(ctx context.Context, userID string) ([]models.TicketDetails, error) {
	var rows []models.TicketDetails
	err := detailsQuery(d.Bun, &rows).
		Where("o.user_id = ?", userID).
		Order("t.issued_at DESC", "t.id ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// CheckInTicket moves a Valid ticket to CheckedIn. It reports false when the
// ticket was not Valid.
func (d *DB) CheckInTicket(ctx context.Context, ticketID int64, now time.Time) (bool, error) {
	res, err := d.Bun.NewUpdate().
		Model((*models.Ticket)(nil)).
		Set("status = ?", models.TicketCheckedIn).
		Set("checked_in_at = ?", now).
		Where("id = ?", ticketID).
		Where("status = ?", models.TicketValid).
		Exec(ctx)
	if err != nil {
		return false, fmt.Errorf("check in ticket %d: %w", ticketID, err)
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

// VoidTicket moves a Valid ticket to Voided.
func (d *DB) VoidTicket(ctx context.Context, ticketID int64) (bool, error) {
	res, err := d.Bun.NewUpdate().
		Model((*models.Ticket)(nil)).
		Set("status = ?", models.TicketVoided).
		Where("id = ?", ticketID).
		Where("status = ?", models.TicketValid).
		Exec(ctx)
	if err != nil {
		return false, fmt.Errorf("void ticket %d: %w", ticketID, err)
	}
	n, err := res.RowsAffected()
	return n == 1, err
}
