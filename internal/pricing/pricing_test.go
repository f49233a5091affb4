package pricing_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/prabath1998/event-ticketing-web-backend/internal/config"
	"github.com/prabath1998/event-ticketing-web-backend/internal/models"
	"github.com/prabath1998/event-ticketing-web-backend/internal/pricing"
)

type fakeTicketTypes map[int64]models.TicketType

func (f fakeTicketTypes) GetTicketTypes(ctx context.Context, ids []int64) ([]models.TicketType, error) {
	var out []models.TicketType
	for _, id := range ids {
		if t, ok := f[id]; ok {
			out = append(out, t)
		}
	}
	return out, nil
}

type MockDiscounts struct {
	mock.Mock
}

func (m *MockDiscounts) FindByCode(ctx context.Context, eventID int64, code string) (*models.Discount, error) {
	args := m.Called(eventID, code)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Discount), args.Error(1)
}

var fixedNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func int64p(v int64) *int64 { return &v }
func intp(v int) *int       { return &v }

func newEngine(discounts pricing.DiscountLookup) *pricing.Engine {
	types := fakeTicketTypes{
		1: {ID: 1, EventID: 7, UnitPriceMinor: 1000, Currency: "usd", TotalQuantity: 100},
		2: {ID: 2, EventID: 7, UnitPriceMinor: 2500, Currency: "usd", TotalQuantity: 100},
	}
	return pricing.NewEngine(types, discounts, config.DefaultFeeSchedule(), nil).
		WithClock(func() time.Time { return fixedNow })
}

func TestCompute_NoCode(t *testing.T) {
	engine := newEngine(&MockDiscounts{})

	res, err := engine.Compute(context.Background(), []models.CartItem{{TicketTypeID: 1, Quantity: 2}}, "")
	require.NoError(t, err)

	assert.Equal(t, int64(2000), res.SubtotalMinor)
	assert.Equal(t, int64(0), res.DiscountMinor)
	assert.Equal(t, int64(100), res.FeesMinor)
	assert.Equal(t, int64(2100), res.TotalMinor)
	assert.Equal(t, "usd", res.Currency)
	assert.Empty(t, res.DiscountCode)
}

func TestCompute_PercentageOrderScope(t *testing.T) {
	discounts := &MockDiscounts{}
	discounts.On("FindByCode", int64(7), "SAVE10").Return(&models.Discount{
		ID: 3, EventID: 7, Code: "SAVE10", Type: models.DiscountPercentage, Value: 10,
		Scope: models.ScopeOrder, MinSubtotalMinor: int64p(1500), IsActive: true,
	}, nil)
	engine := newEngine(discounts)

	res, err := engine.Compute(context.Background(), []models.CartItem{{TicketTypeID: 1, Quantity: 2}}, "  save10 ")
	require.NoError(t, err)

	assert.Equal(t, int64(200), res.DiscountMinor)
	assert.Equal(t, int64(1900), res.TotalMinor)
	assert.Equal(t, "SAVE10", res.DiscountCode)
	require.NotNil(t, res.DiscountID)
	assert.Equal(t, int64(3), *res.DiscountID)
	discounts.AssertExpectations(t)
}

func TestCompute_TicketTypeScopedFixedAmount(t *testing.T) {
	discounts := &MockDiscounts{}
	discounts.On("FindByCode", int64(7), "VIP500").Return(&models.Discount{
		ID: 4, EventID: 7, Code: "VIP500", Type: models.DiscountFixedAmount, Value: 500,
		Scope: models.ScopeTicketType, ScopeTicketTypeID: int64p(1), IsActive: true,
	}, nil)
	engine := newEngine(discounts)

	cart := []models.CartItem{{TicketTypeID: 1, Quantity: 1}, {TicketTypeID: 2, Quantity: 2}}
	res, err := engine.Compute(context.Background(), cart, "VIP500")
	require.NoError(t, err)

	assert.Equal(t, int64(6000), res.SubtotalMinor)
	assert.Equal(t, int64(500), res.DiscountMinor)
	assert.Equal(t, int64(150+50), res.FeesMinor)
	assert.Equal(t, int64(6000-500+200), res.TotalMinor)
}

func TestCompute_TicketTypeScopeClampedToLine(t *testing.T) {
	discounts := &MockDiscounts{}
	discounts.On("FindByCode", int64(7), "BIG").Return(&models.Discount{
		ID: 5, EventID: 7, Code: "BIG", Type: models.DiscountFixedAmount, Value: 5000,
		Scope: models.ScopeTicketType, ScopeTicketTypeID: int64p(1), IsActive: true,
	}, nil)
	engine := newEngine(discounts)

	cart := []models.CartItem{{TicketTypeID: 1, Quantity: 1}, {TicketTypeID: 2, Quantity: 1}}
	res, err := engine.Compute(context.Background(), cart, "BIG")
	require.NoError(t, err)

	assert.Equal(t, int64(1000), res.DiscountMinor, "discount is limited to the matching line")
}

func TestCompute_ScopedCodeWithoutMatchingLine(t *testing.T) {
	discounts := &MockDiscounts{}
	discounts.On("FindByCode", int64(7), "T2ONLY").Return(&models.Discount{
		ID: 6, EventID: 7, Code: "T2ONLY", Type: models.DiscountPercentage, Value: 50,
		Scope: models.ScopeTicketType, ScopeTicketTypeID: int64p(2), IsActive: true,
	}, nil)
	engine := newEngine(discounts)

	res, err := engine.Compute(context.Background(), []models.CartItem{{TicketTypeID: 1, Quantity: 3}}, "T2ONLY")
	require.NoError(t, err)

	assert.Equal(t, int64(0), res.DiscountMinor)
	assert.True(t, res.CodeFound)
	assert.Empty(t, res.DiscountCode)
}

func TestCompute_MinSubtotalNotMet(t *testing.T) {
	discounts := &MockDiscounts{}
	discounts.On("FindByCode", int64(7), "SAVE10").Return(&models.Discount{
		ID: 3, EventID: 7, Code: "SAVE10", Type: models.DiscountPercentage, Value: 10,
		Scope: models.ScopeOrder, MinSubtotalMinor: int64p(1500), IsActive: true,
	}, nil)
	engine := newEngine(discounts)

	res, err := engine.Compute(context.Background(), []models.CartItem{{TicketTypeID: 1, Quantity: 1}}, "SAVE10")
	require.NoError(t, err)
	assert.Equal(t, int64(0), res.DiscountMinor)
	assert.Equal(t, int64(1000+25+50), res.TotalMinor)
}

func TestCompute_InapplicableCodesGiveZeroDiscount(t *testing.T) {
	expired := time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)
	future := time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC)
	cases := map[string]*models.Discount{
		"INACTIVE": {Code: "INACTIVE", Type: models.DiscountPercentage, Value: 10, Scope: models.ScopeOrder, IsActive: false},
		"EXPIRED":  {Code: "EXPIRED", Type: models.DiscountPercentage, Value: 10, Scope: models.ScopeOrder, IsActive: true, ValidUntil: &expired},
		"EARLY":    {Code: "EARLY", Type: models.DiscountPercentage, Value: 10, Scope: models.ScopeOrder, IsActive: true, ValidFrom: &future},
		"USEDUP":   {Code: "USEDUP", Type: models.DiscountPercentage, Value: 10, Scope: models.ScopeOrder, IsActive: true, MaxUses: intp(3), UsedCount: 3},
	}

	for code, d := range cases {
		t.Run(code, func(t *testing.T) {
			discounts := &MockDiscounts{}
			discounts.On("FindByCode", int64(7), code).Return(d, nil)
			engine := newEngine(discounts)

			res, err := engine.Compute(context.Background(), []models.CartItem{{TicketTypeID: 1, Quantity: 2}}, code)
			require.NoError(t, err)
			assert.Equal(t, int64(0), res.DiscountMinor)
			assert.False(t, res.CodeFound)
			assert.Equal(t, int64(2100), res.TotalMinor)
		})
	}
}

func TestCompute_UnknownCode(t *testing.T) {
	discounts := &MockDiscounts{}
	discounts.On("FindByCode", int64(7), "NOPE").Return(nil, nil)
	engine := newEngine(discounts)

	res, err := engine.Compute(context.Background(), []models.CartItem{{TicketTypeID: 1, Quantity: 2}}, "nope")
	require.NoError(t, err)
	assert.Equal(t, int64(0), res.DiscountMinor)
	assert.False(t, res.CodeFound)
}

func TestCompute_Errors(t *testing.T) {
	engine := newEngine(&MockDiscounts{})

	_, err := engine.Compute(context.Background(), nil, "")
	assert.ErrorIs(t, err, pricing.ErrEmptyCart)

	_, err = engine.Compute(context.Background(), []models.CartItem{{TicketTypeID: 42, Quantity: 1}}, "")
	assert.ErrorIs(t, err, pricing.ErrUnknownTicketType)

	_, err = engine.Compute(context.Background(), []models.CartItem{{TicketTypeID: 1, Quantity: 0}}, "")
	assert.ErrorIs(t, err, pricing.ErrInvalidQuantity)
}

func TestCompute_LookupErrorPropagates(t *testing.T) {
	discounts := &MockDiscounts{}
	discounts.On("FindByCode", int64(7), "X").Return(nil, errors.New("db down"))
	engine := newEngine(discounts)

	_, err := engine.Compute(context.Background(), []models.CartItem{{TicketTypeID: 1, Quantity: 1}}, "X")
	assert.Error(t, err)
}

func TestCompute_Deterministic(t *testing.T) {
	discounts := &MockDiscounts{}
	discounts.On("FindByCode", int64(7), "SAVE10").Return(&models.Discount{
		ID: 3, EventID: 7, Code: "SAVE10", Type: models.DiscountPercentage, Value: 10,
		Scope: models.ScopeOrder, IsActive: true,
	}, nil)
	engine := newEngine(discounts)
	cart := []models.CartItem{{TicketTypeID: 1, Quantity: 3}, {TicketTypeID: 2, Quantity: 1}}

	first, err := engine.Compute(context.Background(), cart, "SAVE10")
	require.NoError(t, err)
	second, err := engine.Compute(context.Background(), cart, "SAVE10")
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestDiscountAmount_PercentageFloors(t *testing.T) {
	lines := []pricing.Line{{TicketTypeID: 1, UnitPriceMinor: 333, Quantity: 1}}
	d := &models.Discount{Type: models.DiscountPercentage, Value: 10, Scope: models.ScopeOrder, IsActive: true}

	assert.Equal(t, int64(33), pricing.DiscountAmount(lines, d, 333))
}

func TestDiscountAmount_NeverExceedsSubtotal(t *testing.T) {
	lines := []pricing.Line{{TicketTypeID: 1, UnitPriceMinor: 400, Quantity: 1}}
	fixed := &models.Discount{Type: models.DiscountFixedAmount, Value: 10_000, Scope: models.ScopeOrder, IsActive: true}
	pct := &models.Discount{Type: models.DiscountPercentage, Value: 150, Scope: models.ScopeOrder, IsActive: true}

	assert.Equal(t, int64(400), pricing.DiscountAmount(lines, fixed, 400))
	assert.Equal(t, int64(400), pricing.DiscountAmount(lines, pct, 400))
}

func TestQuote_TotalNeverNegative(t *testing.T) {
	fees := config.DefaultFeeSchedule()
	fees.DefaultFixedMinor = 0
	fees.PercentBasisPoints = 0
	lines := []pricing.Line{{TicketTypeID: 1, UnitPriceMinor: 100, Quantity: 1, Currency: "usd"}}
	d := &models.Discount{Type: models.DiscountFixedAmount, Value: 100, Scope: models.ScopeOrder, IsActive: true}

	res := pricing.Quote(lines, d, fees)
	assert.Equal(t, int64(0), res.TotalMinor)
}

func TestFees_RoundsHalfAwayFromZero(t *testing.T) {
	fees := config.DefaultFeeSchedule()

	assert.Equal(t, int64(1+50), pricing.Fees(20, "usd", fees), "0.5 rounds up")
	assert.Equal(t, int64(0+50), pricing.Fees(19, "usd", fees), "0.475 rounds down")
	assert.Equal(t, int64(100), pricing.Fees(2000, "usd", fees))
	assert.Equal(t, int64(50), pricing.Fees(0, "usd", fees))
}
