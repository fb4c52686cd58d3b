package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"paper-trader/internal/errors"
	"paper-trader/internal/models"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func testOrder(id string) *models.Order {
	strike := 21500.0
	ot := models.OptionCall
	return &models.Order{
		ID:         id,
		UserID:     "u1",
		Symbol:     "NIFTY24DEC21500CE",
		Product:    "NIFTY",
		Strike:     &strike,
		OptionType: &ot,
		Type:       models.OrderTypeLimit,
		Side:       models.OrderSideBuy,
		Quantity:   50,
		Price:      145.5,
		Status:     models.OrderPending,
		PlacedAt:   time.Now().Truncate(time.Second),
	}
}

func TestOrderRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	order := testOrder("ORD_1")
	require.NoError(t, s.SaveOrder(ctx, order))

	got, err := s.GetOrder(ctx, "u1", "ORD_1")
	require.NoError(t, err)
	assert.Equal(t, order.ID, got.ID)
	assert.Equal(t, order.Symbol, got.Symbol)
	assert.Equal(t, order.Quantity, got.Quantity)
	assert.Equal(t, order.Status, got.Status)
	require.NotNil(t, got.Strike)
	assert.Equal(t, 21500.0, *got.Strike)
	require.NotNil(t, got.OptionType)
	assert.Equal(t, models.OptionCall, *got.OptionType)
	assert.Nil(t, got.Expiry)
	assert.Nil(t, got.FilledAt)
}

func TestGetOrder_ScopedToUser(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveOrder(ctx, testOrder("ORD_1")))

	_, err := s.GetOrder(ctx, "someone-else", "ORD_1")
	assert.ErrorIs(t, err, errors.ErrOrderNotFound)
}

func TestUpdateOrder(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	order := testOrder("ORD_1")
	require.NoError(t, s.SaveOrder(ctx, order))

	now := time.Now().Truncate(time.Second)
	order.Status = models.OrderFilled
	order.FilledQuantity = 50
	order.AvgFillPrice = 146.2
	order.FilledAt = &now
	require.NoError(t, s.UpdateOrder(ctx, order))

	got, err := s.GetOrder(ctx, "u1", "ORD_1")
	require.NoError(t, err)
	assert.Equal(t, models.OrderFilled, got.Status)
	assert.Equal(t, 50, got.FilledQuantity)
	assert.InDelta(t, 146.2, got.AvgFillPrice, 1e-9)
	require.NotNil(t, got.FilledAt)
}

func TestUpdateOrder_NotFound(t *testing.T) {
	s := newTestStore(t)
	err := s.UpdateOrder(context.Background(), testOrder("MISSING"))
	assert.ErrorIs(t, err, errors.ErrOrderNotFound)
}

func TestGetOrders_FilterAndOrdering(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	base := time.Now().Add(-time.Hour)
	for i, status := range []models.OrderStatus{models.OrderPending, models.OrderFilled, models.OrderPending} {
		o := testOrder("ORD_" + string(rune('A'+i)))
		o.Status = status
		o.PlacedAt = base.Add(time.Duration(i) * time.Minute)
		require.NoError(t, s.SaveOrder(ctx, o))
	}

	all, err := s.GetOrders(ctx, OrderFilter{UserID: "u1"})
	require.NoError(t, err)
	require.Len(t, all, 3)
	// Most recent first.
	assert.Equal(t, "ORD_C", all[0].ID)

	pending, err := s.GetOrders(ctx, OrderFilter{UserID: "u1", Status: models.OrderPending})
	require.NoError(t, err)
	assert.Len(t, pending, 2)

	limited, err := s.GetOrders(ctx, OrderFilter{UserID: "u1", Limit: 1})
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestTrades_FilterBySymbolAndSince(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	now := time.Now()
	trades := []models.Trade{
		{ID: "TRD_1", OrderID: "ORD_1", UserID: "u1", Symbol: "A", Side: models.OrderSideBuy, Quantity: 10, Price: 100, Value: 1000, Commission: 0.5, NetValue: 1000.5, ExecutedAt: now.Add(-48 * time.Hour)},
		{ID: "TRD_2", OrderID: "ORD_2", UserID: "u1", Symbol: "B", Side: models.OrderSideSell, Quantity: 10, Price: 110, Value: 1100, Commission: 0.55, NetValue: 1099.45, ExecutedAt: now.Add(-time.Hour)},
		{ID: "TRD_3", OrderID: "ORD_3", UserID: "u2", Symbol: "A", Side: models.OrderSideBuy, Quantity: 5, Price: 99, Value: 495, Commission: 0.25, NetValue: 495.25, ExecutedAt: now},
	}
	for i := range trades {
		require.NoError(t, s.SaveTrade(ctx, &trades[i]))
	}

	// Symbol-only lookup serves the last-trade price fallback.
	bySymbol, err := s.GetTrades(ctx, TradeFilter{Symbol: "A", Limit: 1})
	require.NoError(t, err)
	require.Len(t, bySymbol, 1)
	assert.Equal(t, "TRD_3", bySymbol[0].ID)

	recent, err := s.GetTrades(ctx, TradeFilter{UserID: "u1", Since: now.Add(-2 * time.Hour)})
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, "TRD_2", recent[0].ID)
}

func TestPositionLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	now := time.Now().Truncate(time.Second)
	position := &models.Position{
		UserID:        "u1",
		Symbol:        "NIFTY24DEC21500CE",
		Product:       "NIFTY",
		Quantity:      -50,
		AvgEntryPrice: 145.5,
		OpenedAt:      now,
		UpdatedAt:     now,
	}
	require.NoError(t, s.SavePosition(ctx, position))

	got, err := s.GetPosition(ctx, "u1", "NIFTY24DEC21500CE")
	require.NoError(t, err)
	assert.Equal(t, -50, got.Quantity)

	// Upsert keeps one row per (user, symbol).
	position.Quantity = -25
	require.NoError(t, s.SavePosition(ctx, position))
	all, err := s.GetPositions(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, -25, all[0].Quantity)

	require.NoError(t, s.DeletePosition(ctx, "u1", "NIFTY24DEC21500CE"))
	_, err = s.GetPosition(ctx, "u1", "NIFTY24DEC21500CE")
	assert.ErrorIs(t, err, errors.ErrPositionNotFound)
}

func TestPortfolioRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.GetPortfolio(ctx, "u1")
	assert.ErrorIs(t, err, errors.ErrPortfolioNotFound)

	now := time.Now().Truncate(time.Second)
	portfolio := &models.Portfolio{
		UserID:          "u1",
		CashBalance:     1000000,
		MarginUsed:      50000,
		MarginAvailable: 950000,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	require.NoError(t, s.SavePortfolio(ctx, portfolio))

	got, err := s.GetPortfolio(ctx, "u1")
	require.NoError(t, err)
	assert.InDelta(t, 1000000.0, got.CashBalance, 1e-9)
	assert.InDelta(t, 50000.0, got.MarginUsed, 1e-9)
}
