package analytics_test

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"

	"github.com/prabath1998/event-ticketing-web-backend/internal/analytics"
	"github.com/prabath1998/event-ticketing-web-backend/internal/database"
	"github.com/prabath1998/event-ticketing-web-backend/internal/models"
)

var day1 = time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)

var (
	organizer = models.ActingAs{UserID: "org-1", Roles: []string{models.RoleOrganizer}}
	rival     = models.ActingAs{UserID: "org-2", Roles: []string{models.RoleOrganizer}}
	admin     = models.ActingAs{UserID: "root", Roles: []string{models.RoleAdmin}}
)

func setupTestDB(t *testing.T) *bun.DB {
	sqldb, err := sql.Open(sqliteshim.ShimName, ":memory:")
	require.NoError(t, err)
	sqldb.SetMaxOpenConns(1)
	bunDB := bun.NewDB(sqldb, sqlitedialect.New())
	require.NoError(t, database.CreateSchema(context.Background(), bunDB))
	t.Cleanup(func() { bunDB.Close() })
	return bunDB
}

func insert(t *testing.T, db *bun.DB, model interface{}) {
	_, err := db.NewInsert().Model(model).Exec(context.Background())
	require.NoError(t, err)
}

type seeded struct {
	event *models.Event
	ga    *models.TicketType
	vip   *models.TicketType
}

func order(t *testing.T, db *bun.DB, number string, status models.OrderStatus, at time.Time, discount, fees int64, code *string, lines ...models.OrderItem) []models.OrderItem {
	var subtotal int64
	for _, l := range lines {
		subtotal += l.LineTotalMinor
	}
	o := &models.Order{
		UserID:        "buyer-1",
		OrderNumber:   number,
		Status:        status,
		SubtotalMinor: subtotal,
		DiscountMinor: discount,
		FeesMinor:     fees,
		TotalMinor:    subtotal - discount + fees,
		Currency:      "usd",
		DiscountCode:  code,
		CreatedAt:     at,
		UpdatedAt:     at,
	}
	insert(t, db, o)
	for i := range lines {
		lines[i].OrderID = o.ID
		lines[i].PriceSnapshot = "{}"
		insert(t, db, &lines[i])
	}
	return lines
}

func line(tt *models.TicketType, qty int) models.OrderItem {
	return models.OrderItem{
		EventID:        tt.EventID,
		TicketTypeID:   tt.ID,
		UnitPriceMinor: tt.UnitPriceMinor,
		Quantity:       qty,
		LineTotalMinor: tt.UnitPriceMinor * int64(qty),
	}
}

func ticket(t *testing.T, db *bun.DB, itemID int64, code string, status models.TicketStatus) {
	insert(t, db, &models.Ticket{OrderItemID: itemID, TicketCode: code, SignedPayload: code + "|sig", Status: status, IssuedAt: day1})
}

func seed(t *testing.T, db *bun.DB) seeded {
	s := seeded{event: &models.Event{OrganizerID: "org-1", Title: "Launch Night", StartsAt: day1.Add(72 * time.Hour), CreatedAt: day1}}
	insert(t, db, s.event)
	s.ga = &models.TicketType{EventID: s.event.ID, Name: "GA", UnitPriceMinor: 1000, Currency: "usd", TotalQuantity: 50, SoldQuantity: 5}
	insert(t, db, s.ga)
	s.vip = &models.TicketType{EventID: s.event.ID, Name: "VIP", UnitPriceMinor: 5000, Currency: "usd", TotalQuantity: 10, SoldQuantity: 1}
	insert(t, db, s.vip)

	first := order(t, db, "ORD-1", models.OrderPaid, day1, 0, 100, nil, line(s.ga, 2))
	ticket(t, db, first[0].ID, "TKT-A", models.TicketCheckedIn)
	ticket(t, db, first[0].ID, "TKT-B", models.TicketValid)

	code := "SAVE10"
	second := order(t, db, "ORD-2", models.OrderPaid, day1.Add(26*time.Hour), 600, 100, &code, line(s.ga, 1), line(s.vip, 1))
	ticket(t, db, second[0].ID, "TKT-C", models.TicketVoided)
	ticket(t, db, second[1].ID, "TKT-D", models.TicketValid)

	order(t, db, "ORD-3", models.OrderPending, day1.Add(27*time.Hour), 0, 100, nil, line(s.ga, 2))

	// Another organizer's event must not leak into the totals.
	other := &models.Event{OrganizerID: "org-2", Title: "Other", StartsAt: day1, CreatedAt: day1}
	insert(t, db, other)
	otherType := &models.TicketType{EventID: other.ID, Name: "GA", UnitPriceMinor: 700, Currency: "usd", TotalQuantity: 5, SoldQuantity: 1}
	insert(t, db, otherType)
	otherItems := order(t, db, "ORD-4", models.OrderPaid, day1, 0, 0, nil, line(otherType, 1))
	ticket(t, db, otherItems[0].ID, "TKT-E", models.TicketCheckedIn)
	return s
}

func TestGetEventSales_Aggregates(t *testing.T) {
	db := setupTestDB(t)
	s := seed(t, db)

	sales, err := analytics.NewService(db).GetEventSales(context.Background(), organizer, s.event.ID)
	require.NoError(t, err)

	assert.Equal(t, "Launch Night", sales.Title)
	assert.Equal(t, "usd", sales.Currency)
	assert.Equal(t, 2, sales.PaidOrders)
	assert.Equal(t, 1, sales.PendingOrders)
	assert.Equal(t, 4, sales.TicketsSold)
	assert.Equal(t, int64(2100+5500), sales.RevenueMinor)
	assert.Equal(t, int64(600), sales.DiscountMinor)
	assert.Equal(t, int64(200), sales.FeesMinor)
	assert.Equal(t, 1, sales.CheckedIn)
	assert.Equal(t, 1, sales.Voided)

	assert.Equal(t, []analytics.TicketTypeSales{
		{TicketTypeID: s.ga.ID, Name: "GA", TotalQuantity: 50, SoldQuantity: 5, PaidQuantity: 3, Remaining: 45, GrossMinor: 3000},
		{TicketTypeID: s.vip.ID, Name: "VIP", TotalQuantity: 10, SoldQuantity: 1, PaidQuantity: 1, Remaining: 9, GrossMinor: 5000},
	}, sales.ByTicketType)

	assert.Equal(t, []analytics.DailySales{
		{Date: "2025-06-01", Orders: 1, TicketsSold: 2, RevenueMinor: 2100},
		{Date: "2025-06-02", Orders: 1, TicketsSold: 2, RevenueMinor: 5500},
	}, sales.DailySales)

	assert.Equal(t, []analytics.DiscountUsage{{Code: "SAVE10", Orders: 1, DiscountMinor: 600}}, sales.DiscountUsage)
}

func TestGetEventSales_Access(t *testing.T) {
	db := setupTestDB(t)
	s := seed(t, db)
	svc := analytics.NewService(db)

	_, err := svc.GetEventSales(context.Background(), rival, s.event.ID)
	assert.True(t, errors.Is(err, analytics.ErrForbidden))

	sales, err := svc.GetEventSales(context.Background(), admin, s.event.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, sales.PaidOrders)

	_, err = svc.GetEventSales(context.Background(), admin, 9999)
	assert.True(t, errors.Is(err, analytics.ErrEventNotFound))
}

func TestGetEventSales_NoOrders(t *testing.T) {
	db := setupTestDB(t)
	event := &models.Event{OrganizerID: "org-1", Title: "Quiet", StartsAt: day1, CreatedAt: day1}
	insert(t, db, event)

	sales, err := analytics.NewService(db).GetEventSales(context.Background(), organizer, event.ID)
	require.NoError(t, err)
	assert.Zero(t, sales.PaidOrders)
	assert.Zero(t, sales.RevenueMinor)
	assert.NotNil(t, sales.ByTicketType)
	assert.Empty(t, sales.DailySales)
	assert.Empty(t, sales.DiscountUsage)
}
