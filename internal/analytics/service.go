package analytics

import (
	"context"
	"database/sql"
	"errors"
	"sort"

	"github.com/uptrace/bun"

	"github.com/prabath1998/event-ticketing-web-backend/internal/models"
)

var (
	ErrEventNotFound = errors.New("event not found")
	ErrForbidden     = errors.New("not allowed")
)

// Service handles analytics operations
type Service struct {
	db bun.IDB
}

// NewService creates a new analytics service
func NewService(db bun.IDB) *Service {
	return &Service{db: db}
}

// EventSales is the organizer view of one event. Money is in minor units of
// the event currency and only paid orders count towards it.
type EventSales struct {
	EventID       int64             `json:"eventId"`
	Title         string            `json:"title"`
	Currency      string            `json:"currency"`
	PaidOrders    int               `json:"paidOrders"`
	PendingOrders int               `json:"pendingOrders"`
	TicketsSold   int               `json:"ticketsSold"`
	RevenueMinor  int64             `json:"revenueMinor"`
	DiscountMinor int64             `json:"discountMinor"`
	FeesMinor     int64             `json:"feesMinor"`
	CheckedIn     int               `json:"checkedIn"`
	Voided        int               `json:"voided"`
	ByTicketType  []TicketTypeSales `json:"byTicketType"`
	DailySales    []DailySales      `json:"dailySales"`
	DiscountUsage []DiscountUsage   `json:"discountUsage"`
}

// TicketTypeSales compares paid quantity with the ledger. SoldQuantity also
// holds stock reserved by pending orders.
type TicketTypeSales struct {
	TicketTypeID  int64  `json:"ticketTypeId"`
	Name          string `json:"name"`
	TotalQuantity int    `json:"totalQuantity"`
	SoldQuantity  int    `json:"soldQuantity"`
	PaidQuantity  int    `json:"paidQuantity"`
	Remaining     int    `json:"remaining"`
	GrossMinor    int64  `json:"grossMinor"`
}

// DailySales buckets paid orders by their UTC creation date.
type DailySales struct {
	Date         string `json:"date"`
	Orders       int    `json:"orders"`
	TicketsSold  int    `json:"ticketsSold"`
	RevenueMinor int64  `json:"revenueMinor"`
}

type DiscountUsage struct {
	Code          string `json:"code"`
	Orders        int    `json:"orders"`
	DiscountMinor int64  `json:"discountMinor"`
}

type ticketStatusCount struct {
	Status models.TicketStatus `bun:"status"`
	Count  int                 `bun:"count"`
}

// AuthorizeEvent loads the event if actor organizes it or is an admin.
func (s *Service) AuthorizeEvent(ctx context.Context, actor models.ActingAs, eventID int64) (*models.Event, error) {
	event := new(models.Event)
	err := s.db.NewSelect().Model(event).Where("e.id = ?", eventID).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrEventNotFound
	}
	if err != nil {
		return nil, err
	}
	if !actor.IsAdmin() && event.OrganizerID != actor.UserID {
		return nil, ErrForbidden
	}
	return event, nil
}

// GetEventSales returns the sales summary for an event. Organizers only see
// their own events; admins see all.
func (s *Service) GetEventSales(ctx context.Context, actor models.ActingAs, eventID int64) (*EventSales, error) {
	event, err := s.AuthorizeEvent(ctx, actor, eventID)
	if err != nil {
		return nil, err
	}

	sales := &EventSales{
		EventID:       event.ID,
		Title:         event.Title,
		ByTicketType:  []TicketTypeSales{},
		DailySales:    []DailySales{},
		DiscountUsage: []DiscountUsage{},
	}

	var types []models.TicketType
	if err := s.db.NewSelect().Model(&types).Where("tt.event_id = ?", eventID).Order("tt.id ASC").Scan(ctx); err != nil {
		return nil, err
	}
	if len(types) > 0 {
		sales.Currency = types[0].Currency
	}

	eventOrders := s.db.NewSelect().
		Model((*models.OrderItem)(nil)).
		ColumnExpr("oi.order_id").
		Where("oi.event_id = ?", eventID)

	var paid []models.Order
	err = s.db.NewSelect().
		Model(&paid).
		Relation("Items").
		Where("o.status = ?", models.OrderPaid).
		Where("o.id IN (?)", eventOrders).
		Order("o.created_at ASC", "o.id ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}

	pending, err := s.db.NewSelect().
		Model((*models.Order)(nil)).
		Where("o.status = ?", models.OrderPending).
		Where("o.id IN (?)", eventOrders).
		Count(ctx)
	if err != nil {
		return nil, err
	}
	sales.PendingOrders = pending

	var statuses []ticketStatusCount
	err = s.db.NewSelect().
		TableExpr("tickets AS t").
		Join("JOIN order_items AS oi ON oi.id = t.order_item_id").
		ColumnExpr("t.status AS status").
		ColumnExpr("COUNT(*) AS count").
		Where("oi.event_id = ?", eventID).
		GroupExpr("t.status").
		Scan(ctx, &statuses)
	if err != nil {
		return nil, err
	}
	for _, c := range statuses {
		switch c.Status {
		case models.TicketCheckedIn:
			sales.CheckedIn = c.Count
		case models.TicketVoided:
			sales.Voided = c.Count
		}
	}

	aggregate(sales, types, paid)
	return sales, nil
}

func aggregate(sales *EventSales, types []models.TicketType, paid []models.Order) {
	paidQty := make(map[int64]int)
	gross := make(map[int64]int64)
	daily := make(map[string]*DailySales)
	var days []string
	discounts := make(map[string]*DiscountUsage)

	for _, o := range paid {
		sales.PaidOrders++
		sales.RevenueMinor += o.TotalMinor
		sales.DiscountMinor += o.DiscountMinor
		sales.FeesMinor += o.FeesMinor

		qty := 0
		for _, item := range o.Items {
			qty += item.Quantity
			paidQty[item.TicketTypeID] += item.Quantity
			gross[item.TicketTypeID] += item.LineTotalMinor
		}
		sales.TicketsSold += qty

		day := o.CreatedAt.UTC().Format("2006-01-02")
		d, ok := daily[day]
		if !ok {
			d = &DailySales{Date: day}
			daily[day] = d
			days = append(days, day)
		}
		d.Orders++
		d.TicketsSold += qty
		d.RevenueMinor += o.TotalMinor

		if o.DiscountCode != nil && *o.DiscountCode != "" {
			u, ok := discounts[*o.DiscountCode]
			if !ok {
				u = &DiscountUsage{Code: *o.DiscountCode}
				discounts[*o.DiscountCode] = u
			}
			u.Orders++
			u.DiscountMinor += o.DiscountMinor
		}
	}

	for _, t := range types {
		sales.ByTicketType = append(sales.ByTicketType, TicketTypeSales{
			TicketTypeID:  t.ID,
			Name:          t.Name,
			TotalQuantity: t.TotalQuantity,
			SoldQuantity:  t.SoldQuantity,
			PaidQuantity:  paidQty[t.ID],
			Remaining:     t.Remaining(),
			GrossMinor:    gross[t.ID],
		})
	}

	sort.Strings(days)
	for _, day := range days {
		sales.DailySales = append(sales.DailySales, *daily[day])
	}

	codes := make([]string, 0, len(discounts))
	for code := range discounts {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	for _, code := range codes {
		sales.DiscountUsage = append(sales.DiscountUsage, *discounts[code])
	}
}
