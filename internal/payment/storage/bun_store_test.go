package storage

import (
	"context"
	"database/sql"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"

	"github.com/prabath1998/event-ticketing-web-backend/internal/database"
	"github.com/prabath1998/event-ticketing-web-backend/internal/logger"
	"github.com/prabath1998/event-ticketing-web-backend/internal/models"
)

var testNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func setupTestDB(t *testing.T) *bun.DB {
	sqldb, err := sql.Open(sqliteshim.ShimName, ":memory:")
	if err != nil {
		t.Fatalf("Failed to connect to in-memory database: %v", err)
	}
	sqldb.SetMaxOpenConns(1)

	db := bun.NewDB(sqldb, sqlitedialect.New())
	require.NoError(t, database.CreateSchema(context.Background(), db))
	t.Cleanup(func() { db.Close() })
	return db
}

func session(ref string, amount int64) *models.Payment {
	return &models.Payment{
		OrderID:            7,
		Provider:           "stripe",
		Status:             models.PaymentInitiated,
		AmountMinor:        amount,
		Currency:           "usd",
		ProviderSessionRef: &ref,
		CreatedAt:          testNow,
		UpdatedAt:          testNow,
	}
}

func TestBunStore_NoPayment(t *testing.T) {
	store := NewBunStore(setupTestDB(t), logger.NewWithWriter(io.Discard))

	_, err := store.GetPaymentByOrderID(context.Background(), 7)
	assert.ErrorIs(t, err, ErrPaymentNotFound)
}

func TestBunStore_SaveSessionKeepsOneRowPerOrder(t *testing.T) {
	db := setupTestDB(t)
	store := NewBunStore(db, logger.NewWithWriter(io.Discard))
	ctx := context.Background()

	require.NoError(t, store.SaveSession(ctx, session("cs_1", 2100)))
	require.NoError(t, store.SaveSession(ctx, session("cs_2", 2400)))

	n, err := db.NewSelect().Model((*models.Payment)(nil)).Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	p, err := store.GetPaymentByOrderID(ctx, 7)
	require.NoError(t, err)
	require.NotNil(t, p.ProviderSessionRef)
	assert.Equal(t, "cs_2", *p.ProviderSessionRef)
	assert.Equal(t, int64(2400), p.AmountMinor)
	assert.Equal(t, models.PaymentInitiated, p.Status)
}

func TestSettle_KeepsSessionRefWhenSettlementHasNone(t *testing.T) {
	db := setupTestDB(t)
	store := NewBunStore(db, logger.NewWithWriter(io.Discard))
	ctx := context.Background()
	require.NoError(t, store.SaveSession(ctx, session("cs_1", 2100)))

	o := &models.Order{ID: 7, TotalMinor: 2100, Currency: "usd"}
	settled := FromSettlement(o, models.PaymentSucceeded, models.Settlement{Provider: "stripe", TransactionRef: "pi_1"}, testNow)
	require.NoError(t, Settle(ctx, db, settled))

	p, err := store.GetPaymentByOrderID(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentSucceeded, p.Status)
	require.NotNil(t, p.ProviderSessionRef)
	assert.Equal(t, "cs_1", *p.ProviderSessionRef)
	require.NotNil(t, p.ProviderTransactionRef)
	assert.Equal(t, "pi_1", *p.ProviderTransactionRef)
	require.NotNil(t, p.PaidAt)
}

var _ Store = (*BunStore)(nil)
