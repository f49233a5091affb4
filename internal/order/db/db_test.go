package db_test

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"

	"github.com/prabath1998/event-ticketing-web-backend/internal/config"
	"github.com/prabath1998/event-ticketing-web-backend/internal/database"
	"github.com/prabath1998/event-ticketing-web-backend/internal/discount"
	"github.com/prabath1998/event-ticketing-web-backend/internal/logger"
	"github.com/prabath1998/event-ticketing-web-backend/internal/models"
	"github.com/prabath1998/event-ticketing-web-backend/internal/order"
	"github.com/prabath1998/event-ticketing-web-backend/internal/order/db"
	"github.com/prabath1998/event-ticketing-web-backend/internal/payment/storage"
	"github.com/prabath1998/event-ticketing-web-backend/internal/pricing"
)

var testNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

var buyer = models.ActingAs{UserID: "user-1", Roles: []string{models.RoleCustomer}}

func setupTestDB(t *testing.T) (*db.DB, *bun.DB) {
	// Connect to an in-memory SQLite DB for testing
	sqldb, err := sql.Open(sqliteshim.ShimName, ":memory:")
	if err != nil {
		t.Fatalf("Failed to connect to in-memory database: %v", err)
	}
	sqldb.SetMaxOpenConns(1)

	bunDB := bun.NewDB(sqldb, sqlitedialect.New())
	require.NoError(t, database.CreateSchema(context.Background(), bunDB))
	t.Cleanup(func() { bunDB.Close() })

	return &db.DB{Bun: bunDB}, bunDB
}

func setupService(t *testing.T) (*order.OrderService, *db.DB, *bun.DB) {
	orderDB, bunDB := setupTestDB(t)
	log := logger.NewWithWriter(io.Discard)
	clock := func() time.Time { return testNow }

	engine := pricing.NewEngine(orderDB, discount.NewRegistry(bunDB), config.DefaultFeeSchedule(), log).WithClock(clock)
	svc := order.NewOrderService(orderDB, engine, nil, config.TopicConfig{}, log).WithClock(clock)
	return svc, orderDB, bunDB
}

func seedTicketType(t *testing.T, bunDB *bun.DB, price int64, total, sold int) *models.TicketType {
	tt := &models.TicketType{
		EventID:        1,
		Name:           "General",
		UnitPriceMinor: price,
		Currency:       "usd",
		TotalQuantity:  total,
		SoldQuantity:   sold,
	}
	_, err := bunDB.NewInsert().Model(tt).Exec(context.Background())
	require.NoError(t, err)
	return tt
}

func seedDiscount(t *testing.T, bunDB *bun.DB, d models.Discount) *models.Discount {
	d.EventID = 1
	d.IsActive = true
	require.NoError(t, discount.NewRegistry(bunDB).Create(context.Background(), &d))
	return &d
}

func soldOf(t *testing.T, bunDB *bun.DB, id int64) int {
	var tt models.TicketType
	require.NoError(t, bunDB.NewSelect().Model(&tt).Where("id = ?", id).Scan(context.Background()))
	return tt.SoldQuantity
}

func countRows(t *testing.T, bunDB *bun.DB, model interface{}) int {
	n, err := bunDB.NewSelect().Model(model).Count(context.Background())
	require.NoError(t, err)
	return n
}

func TestCreateOrder_PersistsOrderItemsAndReservation(t *testing.T) {
	svc, _, bunDB := setupService(t)
	tt := seedTicketType(t, bunDB, 1000, 10, 0)

	created, err := svc.CreateOrder(context.Background(), buyer, models.OrderRequest{
		Items: []models.CartItem{{TicketTypeID: tt.ID, Quantity: 2}},
	})
	require.NoError(t, err)

	assert.Equal(t, models.OrderPending, created.Status)
	assert.Equal(t, int64(2000), created.SubtotalMinor)
	assert.Equal(t, int64(100), created.FeesMinor)
	assert.Equal(t, int64(2100), created.TotalMinor)
	assert.Regexp(t, `^ORD-\d{14}-[A-Z0-9]{6}$`, created.OrderNumber)
	assert.Equal(t, 2, soldOf(t, bunDB, tt.ID))

	stored, err := svc.GetOrder(context.Background(), buyer, created.ID)
	require.NoError(t, err)
	require.Len(t, stored.Items, 1)
	assert.Equal(t, int64(2000), stored.Items[0].LineTotalMinor)
	assert.Contains(t, stored.Items[0].PriceSnapshot, `"unitPriceMinor":1000`)
}

func TestCreateOrder_AllOrNothingAcrossLines(t *testing.T) {
	svc, _, bunDB := setupService(t)
	plenty := seedTicketType(t, bunDB, 1000, 10, 0)
	scarce := seedTicketType(t, bunDB, 1000, 10, 9)

	_, err := svc.CreateOrder(context.Background(), buyer, models.OrderRequest{
		Items: []models.CartItem{
			{TicketTypeID: plenty.ID, Quantity: 3},
			{TicketTypeID: scarce.ID, Quantity: 2},
		},
	})
	assert.True(t, errors.Is(err, order.ErrOutOfStock))

	assert.Equal(t, 0, soldOf(t, bunDB, plenty.ID))
	assert.Equal(t, 9, soldOf(t, bunDB, scarce.ID))
	assert.Equal(t, 0, countRows(t, bunDB, (*models.Order)(nil)))
	assert.Equal(t, 0, countRows(t, bunDB, (*models.OrderItem)(nil)))
}

func TestCreateOrder_MergesDuplicateLines(t *testing.T) {
	svc, _, bunDB := setupService(t)
	tt := seedTicketType(t, bunDB, 500, 10, 0)

	created, err := svc.CreateOrder(context.Background(), buyer, models.OrderRequest{
		Items: []models.CartItem{{TicketTypeID: tt.ID, Quantity: 1}, {TicketTypeID: tt.ID, Quantity: 2}},
	})
	require.NoError(t, err)
	require.Len(t, created.Items, 1)
	assert.Equal(t, 3, created.Items[0].Quantity)
	assert.Equal(t, 3, soldOf(t, bunDB, tt.ID))
}

func TestCreateOrder_ConcurrentBuyersNeverOversell(t *testing.T) {
	svc, _, bunDB := setupService(t)
	tt := seedTicketType(t, bunDB, 1000, 5, 0)

	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded := 0
	for i := 0; i < 12; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.CreateOrder(context.Background(), buyer, models.OrderRequest{
				Items: []models.CartItem{{TicketTypeID: tt.ID, Quantity: 1}},
			})
			if err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 5, succeeded)
	assert.Equal(t, 5, soldOf(t, bunDB, tt.ID))
}

func TestApplyAndRemoveDiscount_RoundTrip(t *testing.T) {
	svc, _, bunDB := setupService(t)
	tt := seedTicketType(t, bunDB, 1000, 10, 0)
	seedDiscount(t, bunDB, models.Discount{Code: "SAVE10", Type: models.DiscountPercentage, Value: 10, Scope: models.ScopeOrder})

	created, err := svc.CreateOrder(context.Background(), buyer, models.OrderRequest{
		Items: []models.CartItem{{TicketTypeID: tt.ID, Quantity: 2}},
	})
	require.NoError(t, err)

	applied, err := svc.ApplyDiscount(context.Background(), buyer, created.ID, " save10 ")
	require.NoError(t, err)
	assert.Equal(t, int64(200), applied.DiscountMinor)
	assert.Equal(t, int64(1900), applied.TotalMinor)

	stored, err := svc.GetOrder(context.Background(), buyer, created.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.DiscountCode)
	assert.Equal(t, "SAVE10", *stored.DiscountCode)
	assert.Equal(t, int64(1900), stored.TotalMinor)

	removed, err := svc.RemoveDiscount(context.Background(), buyer, created.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), removed.DiscountMinor)
	assert.Equal(t, int64(2100), removed.TotalMinor)

	stored, err = svc.GetOrder(context.Background(), buyer, created.ID)
	require.NoError(t, err)
	assert.Nil(t, stored.DiscountCode)
	assert.Equal(t, int64(2100), stored.TotalMinor)
}

func TestApplyDiscount_UnknownCodeLeavesOrderUntouched(t *testing.T) {
	svc, _, bunDB := setupService(t)
	tt := seedTicketType(t, bunDB, 1000, 10, 0)

	created, err := svc.CreateOrder(context.Background(), buyer, models.OrderRequest{
		Items: []models.CartItem{{TicketTypeID: tt.ID, Quantity: 1}},
	})
	require.NoError(t, err)

	_, err = svc.ApplyDiscount(context.Background(), buyer, created.ID, "NOPE")
	assert.True(t, errors.Is(err, order.ErrInvalidCode))

	stored, err := svc.GetOrder(context.Background(), buyer, created.ID)
	require.NoError(t, err)
	assert.Equal(t, created.TotalMinor, stored.TotalMinor)
	assert.Nil(t, stored.DiscountCode)
}

func TestApplyDiscount_ValidCodeThatSavesNothing(t *testing.T) {
	svc, _, bunDB := setupService(t)
	tt := seedTicketType(t, bunDB, 1000, 10, 0)
	seedDiscount(t, bunDB, models.Discount{Code: "ZERO", Type: models.DiscountPercentage, Value: 0, Scope: models.ScopeOrder})

	created, err := svc.CreateOrder(context.Background(), buyer, models.OrderRequest{
		Items: []models.CartItem{{TicketTypeID: tt.ID, Quantity: 1}},
	})
	require.NoError(t, err)

	_, err = svc.ApplyDiscount(context.Background(), buyer, created.ID, "zero")
	assert.True(t, errors.Is(err, order.ErrDiscountNotApplicable))
}

func TestGetOrder_OtherUserSeesNotFound(t *testing.T) {
	svc, _, bunDB := setupService(t)
	tt := seedTicketType(t, bunDB, 1000, 10, 0)

	created, err := svc.CreateOrder(context.Background(), buyer, models.OrderRequest{
		Items: []models.CartItem{{TicketTypeID: tt.ID, Quantity: 1}},
	})
	require.NoError(t, err)

	_, err = svc.GetOrder(context.Background(), models.ActingAs{UserID: "intruder"}, created.ID)
	assert.True(t, errors.Is(err, order.ErrOrderNotFound))

	_, err = svc.GetOrder(context.Background(), models.ActingAs{UserID: "ops", Roles: []string{models.RoleAdmin}}, created.ID)
	assert.NoError(t, err)
}

func TestMarkPaid_IdempotentAndCountsDiscountOnce(t *testing.T) {
	svc, orderDB, bunDB := setupService(t)
	tt := seedTicketType(t, bunDB, 1000, 10, 0)
	seedDiscount(t, bunDB, models.Discount{Code: "SAVE10", Type: models.DiscountPercentage, Value: 10, Scope: models.ScopeOrder})

	created, err := svc.CreateOrder(context.Background(), buyer, models.OrderRequest{
		Items:     []models.CartItem{{TicketTypeID: tt.ID, Quantity: 2}},
		PromoCode: "SAVE10",
	})
	require.NoError(t, err)

	settlement := models.Settlement{Provider: "dummy", SessionRef: "cs_1", TransactionRef: "pi_1"}
	paid, changed, err := svc.MarkPaid(context.Background(), created.ID, settlement)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, models.OrderPaid, paid.Status)

	_, changed, err = svc.MarkPaid(context.Background(), created.ID, settlement)
	require.NoError(t, err)
	assert.False(t, changed)

	d, err := discount.NewRegistry(bunDB).FindByCode(context.Background(), 1, "SAVE10")
	require.NoError(t, err)
	assert.Equal(t, 1, d.UsedCount)

	payment, err := storage.NewBunStore(orderDB.Bun, logger.NewWithWriter(io.Discard)).GetPaymentByOrderID(context.Background(), created.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentSucceeded, payment.Status)
	assert.Equal(t, created.TotalMinor, payment.AmountMinor)
	require.NotNil(t, payment.PaidAt)
	require.NotNil(t, payment.ProviderTransactionRef)
	assert.Equal(t, "pi_1", *payment.ProviderTransactionRef)

	_, err = svc.ApplyDiscount(context.Background(), buyer, created.ID, "SAVE10")
	assert.True(t, errors.Is(err, order.ErrOrderNotPending))
}

func TestMarkPaid_DiscountUsageStopsAtCap(t *testing.T) {
	svc, _, bunDB := setupService(t)
	tt := seedTicketType(t, bunDB, 1000, 10, 0)
	one := 1
	seedDiscount(t, bunDB, models.Discount{Code: "FIRST", Type: models.DiscountFixedAmount, Value: 300, Scope: models.ScopeOrder, MaxUses: &one})

	var orders []*models.Order
	for i := 0; i < 2; i++ {
		created, err := svc.CreateOrder(context.Background(), buyer, models.OrderRequest{
			Items:     []models.CartItem{{TicketTypeID: tt.ID, Quantity: 1}},
			PromoCode: "FIRST",
		})
		require.NoError(t, err)
		require.Equal(t, int64(300), created.DiscountMinor)
		orders = append(orders, created)
	}

	for _, o := range orders {
		paid, changed, err := svc.MarkPaid(context.Background(), o.ID, models.Settlement{Provider: "dummy"})
		require.NoError(t, err)
		assert.True(t, changed)
		assert.Equal(t, models.OrderPaid, paid.Status)
	}

	var d models.Discount
	require.NoError(t, bunDB.NewSelect().Model(&d).Where("code = ?", "FIRST").Scan(context.Background()))
	assert.Equal(t, 1, d.UsedCount)
}

func TestMarkFailed_ReleasesInventory(t *testing.T) {
	svc, _, bunDB := setupService(t)
	tt := seedTicketType(t, bunDB, 1000, 10, 0)

	created, err := svc.CreateOrder(context.Background(), buyer, models.OrderRequest{
		Items: []models.CartItem{{TicketTypeID: tt.ID, Quantity: 4}},
	})
	require.NoError(t, err)
	require.Equal(t, 4, soldOf(t, bunDB, tt.ID))

	failed, changed, err := svc.MarkFailed(context.Background(), created.ID, models.Settlement{Provider: "dummy"})
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, models.OrderFailed, failed.Status)
	assert.Equal(t, 0, soldOf(t, bunDB, tt.ID))

	_, changed, err = svc.MarkFailed(context.Background(), created.ID, models.Settlement{Provider: "dummy"})
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Equal(t, 0, soldOf(t, bunDB, tt.ID))
}

func TestTransitions_ConflictingOutcomeRejected(t *testing.T) {
	svc, _, bunDB := setupService(t)
	tt := seedTicketType(t, bunDB, 1000, 10, 0)

	created, err := svc.CreateOrder(context.Background(), buyer, models.OrderRequest{
		Items: []models.CartItem{{TicketTypeID: tt.ID, Quantity: 1}},
	})
	require.NoError(t, err)

	_, _, err = svc.MarkPaid(context.Background(), created.ID, models.Settlement{Provider: "dummy"})
	require.NoError(t, err)

	_, _, err = svc.MarkFailed(context.Background(), created.ID, models.Settlement{Provider: "dummy"})
	assert.True(t, errors.Is(err, order.ErrInvalidTransition))
	assert.Equal(t, 1, soldOf(t, bunDB, tt.ID))
}

func TestMarkPaid_UnknownOrder(t *testing.T) {
	svc, _, _ := setupService(t)

	_, _, err := svc.MarkPaid(context.Background(), 999, models.Settlement{Provider: "dummy"})
	assert.True(t, errors.Is(err, order.ErrOrderNotFound))
}

func TestListOrdersByUser(t *testing.T) {
	svc, orderDB, bunDB := setupService(t)
	tt := seedTicketType(t, bunDB, 1000, 10, 0)

	for i := 0; i < 2; i++ {
		_, err := svc.CreateOrder(context.Background(), buyer, models.OrderRequest{
			Items: []models.CartItem{{TicketTypeID: tt.ID, Quantity: 1}},
		})
		require.NoError(t, err)
	}
	_, err := svc.CreateOrder(context.Background(), models.ActingAs{UserID: "someone-else"}, models.OrderRequest{
		Items: []models.CartItem{{TicketTypeID: tt.ID, Quantity: 1}},
	})
	require.NoError(t, err)

	orders, err := orderDB.ListOrdersByUser(context.Background(), buyer.UserID)
	require.NoError(t, err)
	assert.Len(t, orders, 2)
	for _, o := range orders {
		assert.Len(t, o.Items, 1)
	}
}
