package database

import (
	"context"
	"fmt"

	"github.com/uptrace/bun"

	"github.com/prabath1998/event-ticketing-web-backend/internal/models"
)

var schemaModels = []interface{}{
	(*models.Event)(nil),
	(*models.TicketType)(nil),
	(*models.Discount)(nil),
	(*models.Order)(nil),
	(*models.OrderItem)(nil),
	(*models.Payment)(nil),
	(*models.Ticket)(nil),
	(*models.AdminAuditLog)(nil),
}

// CreateSchema creates every table from the bun models. Used for SQLite
// development stores and tests; Postgres is migrated with SQL files.
func CreateSchema(ctx context.Context, db *bun.DB) error {
	for _, model := range schemaModels {
		if _, err := db.NewCreateTable().Model(model).IfNotExists().Exec(ctx); err != nil {
			return fmt.Errorf("create table for %T: %w", model, err)
		}
	}
	return nil
}
