package discount_test

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"

	"github.com/prabath1998/event-ticketing-web-backend/internal/database"
	"github.com/prabath1998/event-ticketing-web-backend/internal/discount"
	"github.com/prabath1998/event-ticketing-web-backend/internal/models"
)

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

func TestNormalizeCode(t *testing.T) {
	assert.Equal(t, "SUMMER25", discount.NormalizeCode("  summer25\t"))
	assert.Equal(t, "", discount.NormalizeCode("   "))
}

func TestRegistry_CreateAndFind(t *testing.T) {
	db := setupTestDB(t)
	registry := discount.NewRegistry(db)
	ctx := context.Background()

	d := &models.Discount{EventID: 7, Code: " early ", Type: models.DiscountPercentage, Value: 15, Scope: models.ScopeOrder, IsActive: true}
	require.NoError(t, registry.Create(ctx, d))
	assert.Equal(t, "EARLY", d.Code)

	found, err := registry.FindByCode(ctx, 7, "early")
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, d.ID, found.ID)

	other, err := registry.FindByCode(ctx, 8, "EARLY")
	require.NoError(t, err)
	assert.Nil(t, other, "codes are scoped to their event")

	missing, err := registry.FindByCode(ctx, 7, "LATE")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestRegistry_CodeUniquePerEvent(t *testing.T) {
	db := setupTestDB(t)
	registry := discount.NewRegistry(db)
	ctx := context.Background()

	require.NoError(t, registry.Create(ctx, &models.Discount{EventID: 7, Code: "DUP", Type: models.DiscountFixedAmount, Value: 100, Scope: models.ScopeOrder, IsActive: true}))
	err := registry.Create(ctx, &models.Discount{EventID: 7, Code: "dup", Type: models.DiscountFixedAmount, Value: 200, Scope: models.ScopeOrder, IsActive: true})
	assert.True(t, database.IsUniqueViolation(err))

	require.NoError(t, registry.Create(ctx, &models.Discount{EventID: 9, Code: "DUP", Type: models.DiscountFixedAmount, Value: 100, Scope: models.ScopeOrder, IsActive: true}))
}

func TestIncrementUsage(t *testing.T) {
	db := setupTestDB(t)
	registry := discount.NewRegistry(db)
	ctx := context.Background()

	require.NoError(t, registry.Create(ctx, &models.Discount{EventID: 7, Code: "ONCE", Type: models.DiscountFixedAmount, Value: 100, Scope: models.ScopeOrder, IsActive: true}))
	counted, err := discount.IncrementUsage(ctx, db, 7, "once")
	require.NoError(t, err)
	assert.True(t, counted)

	found, err := registry.FindByCode(ctx, 7, "ONCE")
	require.NoError(t, err)
	assert.Equal(t, 1, found.UsedCount)
}

func TestIncrementUsage_StopsAtMaxUses(t *testing.T) {
	db := setupTestDB(t)
	registry := discount.NewRegistry(db)
	ctx := context.Background()
	one := 1

	require.NoError(t, registry.Create(ctx, &models.Discount{EventID: 7, Code: "SINGLE", Type: models.DiscountFixedAmount, Value: 100, Scope: models.ScopeOrder, MaxUses: &one, IsActive: true}))

	counted, err := discount.IncrementUsage(ctx, db, 7, "SINGLE")
	require.NoError(t, err)
	assert.True(t, counted)

	counted, err = discount.IncrementUsage(ctx, db, 7, "SINGLE")
	require.NoError(t, err)
	assert.False(t, counted)

	var stored models.Discount
	require.NoError(t, db.NewSelect().Model(&stored).Where("code = ?", "SINGLE").Scan(ctx))
	assert.Equal(t, 1, stored.UsedCount)
}

func TestValidate(t *testing.T) {
	tt := int64(3)
	cases := []struct {
		name string
		d    models.Discount
		ok   bool
	}{
		{"percentage ok", models.Discount{Code: "A", Type: models.DiscountPercentage, Value: 20, Scope: models.ScopeOrder}, true},
		{"percentage over 100", models.Discount{Code: "A", Type: models.DiscountPercentage, Value: 120, Scope: models.ScopeOrder}, false},
		{"negative amount", models.Discount{Code: "A", Type: models.DiscountFixedAmount, Value: -1, Scope: models.ScopeOrder}, false},
		{"ticket scope without type", models.Discount{Code: "A", Type: models.DiscountFixedAmount, Value: 1, Scope: models.ScopeTicketType}, false},
		{"order scope with type", models.Discount{Code: "A", Type: models.DiscountFixedAmount, Value: 1, Scope: models.ScopeOrder, ScopeTicketTypeID: &tt}, false},
		{"ticket scope ok", models.Discount{Code: "A", Type: models.DiscountFixedAmount, Value: 1, Scope: models.ScopeTicketType, ScopeTicketTypeID: &tt}, true},
		{"missing code", models.Discount{Type: models.DiscountFixedAmount, Value: 1, Scope: models.ScopeOrder}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := discount.Validate(&tc.d)
			if tc.ok {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, discount.ErrInvalidDiscount)
			}
		})
	}
}
