package discount

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/uptrace/bun"

	"github.com/prabath1998/event-ticketing-web-backend/internal/models"
)

var ErrInvalidDiscount = errors.New("invalid discount definition")

// NormalizeCode upper-cases and trims a promo code.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// Registry is the read side of the discounts table used by pricing, plus the
// usage counter bumped when a discounted order settles.
type Registry struct {
	DB bun.IDB
}

func NewRegistry(db bun.IDB) *Registry {
	return &Registry{DB: db}
}

// FindByCode returns the discount for eventID and code, or (nil, nil) when the
// code does not exist. Applicability is decided by the caller.
func (r *Registry) FindByCode(ctx context.Context, eventID int64, code string) (*models.Discount, error) {
	code = NormalizeCode(code)
	if code == "" {
		return nil, nil
	}

	var d models.Discount
	err := r.DB.NewSelect().
		Model(&d).
		Where("event_id = ?", eventID).
		Where("code = ?", code).
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// Create validates and stores a discount definition.
func (r *Registry) Create(ctx context.Context, d *models.Discount) error {
	d.Code = NormalizeCode(d.Code)
	if err := Validate(d); err != nil {
		return err
	}
	_, err := r.DB.NewInsert().Model(d).Exec(ctx)
	return err
}

// IncrementUsage bumps used_count for the event's code, never past max_uses.
// counted is false when the cap was already reached. Pass a transaction to
// tie it to order settlement.
func IncrementUsage(ctx context.Context, db bun.IDB, eventID int64, code string) (counted bool, err error) {
	res, err := db.NewUpdate().
		Model((*models.Discount)(nil)).
		Set("used_count = used_count + 1").
		Where("event_id = ?", eventID).
		Where("code = ?", NormalizeCode(code)).
		Where("(max_uses IS NULL OR used_count < max_uses)").
		Exec(ctx)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func Validate(d *models.Discount) error {
	if d.Code == "" {
		return fmt.Errorf("%w: code is required", ErrInvalidDiscount)
	}
	switch d.Type {
	case models.DiscountPercentage:
		if d.Value < 0 || d.Value > 100 {
			return fmt.Errorf("%w: percentage must be between 0 and 100", ErrInvalidDiscount)
		}
	case models.DiscountFixedAmount:
		if d.Value < 0 {
			return fmt.Errorf("%w: amount must not be negative", ErrInvalidDiscount)
		}
	default:
		return fmt.Errorf("%w: unsupported type %q", ErrInvalidDiscount, d.Type)
	}
	switch d.Scope {
	case models.ScopeOrder:
		if d.ScopeTicketTypeID != nil {
			return fmt.Errorf("%w: order scope takes no ticket type", ErrInvalidDiscount)
		}
	case models.ScopeTicketType:
		if d.ScopeTicketTypeID == nil {
			return fmt.Errorf("%w: ticket type scope requires a ticket type", ErrInvalidDiscount)
		}
	default:
		return fmt.Errorf("%w: unsupported scope %q", ErrInvalidDiscount, d.Scope)
	}
	if d.ValidFrom != nil && d.ValidUntil != nil && d.ValidUntil.Before(*d.ValidFrom) {
		return fmt.Errorf("%w: validity window ends before it starts", ErrInvalidDiscount)
	}
	return nil
}
