package engine

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"paper-trader/internal/book"
	"paper-trader/internal/config"
	"paper-trader/internal/errors"
	"paper-trader/internal/ledger"
	"paper-trader/internal/models"
	"paper-trader/internal/pricing"
	"paper-trader/internal/risk"
	"paper-trader/internal/store"
)

func newTestManager(t *testing.T, mutate func(*config.Config)) (*Manager, *store.SQLiteStore) {
	t.Helper()

	cfg := config.Default()
	if mutate != nil {
		mutate(cfg)
	}

	s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	logger := zerolog.Nop()
	prices := pricing.NewSource(s, &cfg.Market, logger)
	books := book.NewSeededRegistry(logger, 7)
	riskEngine := risk.NewEngine(cfg.Risk, s, prices, logger)
	ldgr := ledger.New(s, prices, cfg.Trading, logger)

	return NewManager(cfg, s, books, riskEngine, prices, ldgr, logger), s
}

func marketBuy(symbol string, qty int) *models.OrderRequest {
	return &models.OrderRequest{
		Symbol:   symbol,
		Type:     models.OrderTypeMarket,
		Side:     models.OrderSideBuy,
		Quantity: qty,
	}
}

func TestPlaceOrder_MarketBuyFillsAndCommits(t *testing.T) {
	m, s := newTestManager(t, nil)
	ctx := context.Background()

	order, err := m.PlaceOrder(ctx, "u1", marketBuy("NIFTY24DEC21500CE", 10))
	require.NoError(t, err)

	assert.Equal(t, models.OrderFilled, order.Status)
	assert.Equal(t, 10, order.FilledQuantity)
	require.NotNil(t, order.FilledAt)
	// With no quote and no prior trades the book initializes around the
	// fallback price, so fills land just above it.
	assert.Greater(t, order.AvgFillPrice, 100.0)
	assert.Less(t, order.AvgFillPrice, 103.0)

	trades, err := s.GetTrades(ctx, store.TradeFilter{UserID: "u1"})
	require.NoError(t, err)
	require.NotEmpty(t, trades)
	totalQty := 0
	for _, tr := range trades {
		totalQty += tr.Quantity
		assert.Equal(t, order.ID, tr.OrderID)
		assert.InDelta(t, tr.Price*float64(tr.Quantity), tr.Value, 1e-9)
		assert.InDelta(t, tr.Value+tr.Commission, tr.NetValue, 1e-9)
	}
	assert.Equal(t, 10, totalQty)

	position, err := s.GetPosition(ctx, "u1", "NIFTY24DEC21500CE")
	require.NoError(t, err)
	assert.Equal(t, 10, position.Quantity)
	assert.InDelta(t, order.AvgFillPrice, position.AvgEntryPrice, 1e-9)

	portfolio, err := s.GetPortfolio(ctx, "u1")
	require.NoError(t, err)
	value := float64(order.FilledQuantity) * order.AvgFillPrice
	commission := value * 0.0005 // below the flat fee for this size
	assert.InDelta(t, 1000000-(value+commission), portfolio.CashBalance, 1e-6)
	assert.InDelta(t, value, portfolio.MarginUsed, 1e-6)
	assert.InDelta(t, portfolio.CashBalance-portfolio.MarginUsed, portfolio.MarginAvailable, 1e-6)
}

func TestPlaceOrder_RejectionPersistsOrderWithoutSideEffects(t *testing.T) {
	m, s := newTestManager(t, nil)
	ctx := context.Background()

	// 6000 x 100 breaches the order value cap.
	order, err := m.PlaceOrder(ctx, "u1", marketBuy("NIFTY24DEC21500CE", 6000))
	require.Error(t, err)

	re, ok := errors.IsRiskError(err)
	require.True(t, ok)
	assert.Equal(t, errors.RuleOrderValueLimit, re.Rule)

	require.NotNil(t, order)
	assert.Equal(t, models.OrderRejected, order.Status)
	assert.NotEmpty(t, order.RejectReason)

	stored, err := s.GetOrder(ctx, "u1", order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderRejected, stored.Status)

	trades, err := s.GetTrades(ctx, store.TradeFilter{UserID: "u1"})
	require.NoError(t, err)
	assert.Empty(t, trades)

	portfolio, err := s.GetPortfolio(ctx, "u1")
	require.NoError(t, err)
	assert.InDelta(t, 1000000.0, portfolio.CashBalance, 1e-9)
	assert.InDelta(t, 0.0, portfolio.MarginUsed, 1e-9)
}

// failingTradeStore rejects every trade write while passing all other
// operations through to the real store.
type failingTradeStore struct {
	store.DataStore
}

func (f *failingTradeStore) SaveTrade(ctx context.Context, trade *models.Trade) error {
	return fmt.Errorf("trade write failed")
}

func TestPlaceOrder_ExecutionFailurePersistsRejected(t *testing.T) {
	cfg := config.Default()
	s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	logger := zerolog.Nop()
	flaky := &failingTradeStore{DataStore: s}
	prices := pricing.NewSource(flaky, &cfg.Market, logger)
	books := book.NewSeededRegistry(logger, 7)
	riskEngine := risk.NewEngine(cfg.Risk, flaky, prices, logger)
	ldgr := ledger.New(flaky, prices, cfg.Trading, logger)
	m := NewManager(cfg, flaky, books, riskEngine, prices, ldgr, logger)

	ctx := context.Background()
	order, err := m.PlaceOrder(ctx, "u1", marketBuy("NIFTY24DEC21500CE", 10))
	require.Error(t, err)
	assert.Nil(t, order)

	// The order row survives the failure with the error as its reason.
	orders, err := s.GetOrders(ctx, store.OrderFilter{UserID: "u1"})
	require.NoError(t, err)
	require.Len(t, orders, 1)
	assert.Equal(t, models.OrderRejected, orders[0].Status)
	assert.Contains(t, orders[0].RejectReason, "trade write failed")

	trades, err := s.GetTrades(ctx, store.TradeFilter{UserID: "u1"})
	require.NoError(t, err)
	assert.Empty(t, trades)
}

func TestPlaceOrder_LimitBelowMarketStaysPending(t *testing.T) {
	m, s := newTestManager(t, nil)
	ctx := context.Background()

	order, err := m.PlaceOrder(ctx, "u1", &models.OrderRequest{
		Symbol:   "NIFTY24DEC21500CE",
		Type:     models.OrderTypeLimit,
		Side:     models.OrderSideBuy,
		Quantity: 10,
		Price:    50, // far below the book
	})
	require.NoError(t, err)

	assert.Equal(t, models.OrderPending, order.Status)
	assert.Equal(t, 0, order.FilledQuantity)
	assert.Nil(t, order.FilledAt)

	trades, err := s.GetTrades(ctx, store.TradeFilter{UserID: "u1"})
	require.NoError(t, err)
	assert.Empty(t, trades)
}

func TestPlaceOrder_PartialFillOnThinBook(t *testing.T) {
	m, s := newTestManager(t, func(cfg *config.Config) {
		cfg.Trading.StartingCash = 1e9
		cfg.Risk.MaxOrderValue = 1e9
		cfg.Risk.MaxConcentration = 100
	})
	ctx := context.Background()

	// Five ask levels of at most 500 each cannot satisfy 5000.
	order, err := m.PlaceOrder(ctx, "u1", marketBuy("NIFTY24DEC21500CE", 5000))
	require.NoError(t, err)

	assert.Equal(t, models.OrderPartiallyFilled, order.Status)
	assert.Greater(t, order.FilledQuantity, 0)
	assert.Less(t, order.FilledQuantity, 5000)

	position, err := s.GetPosition(ctx, "u1", "NIFTY24DEC21500CE")
	require.NoError(t, err)
	assert.Equal(t, order.FilledQuantity, position.Quantity)
}

func TestCancelOrder(t *testing.T) {
	m, s := newTestManager(t, nil)
	ctx := context.Background()

	order, err := m.PlaceOrder(ctx, "u1", &models.OrderRequest{
		Symbol:   "NIFTY24DEC21500CE",
		Type:     models.OrderTypeLimit,
		Side:     models.OrderSideBuy,
		Quantity: 10,
		Price:    50,
	})
	require.NoError(t, err)
	require.Equal(t, models.OrderPending, order.Status)

	require.NoError(t, m.CancelOrder(ctx, "u1", order.ID))

	stored, err := s.GetOrder(ctx, "u1", order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderCancelled, stored.Status)

	// CANCELLED is terminal; a second cancel fails.
	err = m.CancelOrder(ctx, "u1", order.ID)
	assert.ErrorIs(t, err, errors.ErrInvalidOrderState)
}

func TestCancelOrder_NotFound(t *testing.T) {
	m, _ := newTestManager(t, nil)
	err := m.CancelOrder(context.Background(), "u1", "ORD_MISSING")
	assert.ErrorIs(t, err, errors.ErrOrderNotFound)
}

func TestCancelOrder_FilledOrderFails(t *testing.T) {
	m, _ := newTestManager(t, nil)
	ctx := context.Background()

	order, err := m.PlaceOrder(ctx, "u1", marketBuy("NIFTY24DEC21500CE", 10))
	require.NoError(t, err)
	require.Equal(t, models.OrderFilled, order.Status)

	err = m.CancelOrder(ctx, "u1", order.ID)
	assert.ErrorIs(t, err, errors.ErrInvalidOrderState)
}

func TestPlaceOrder_Validation(t *testing.T) {
	m, _ := newTestManager(t, nil)
	ctx := context.Background()

	cases := []struct {
		name string
		req  *models.OrderRequest
	}{
		{"missing symbol", &models.OrderRequest{Type: models.OrderTypeMarket, Side: models.OrderSideBuy, Quantity: 10}},
		{"zero quantity", marketBuy("SYM", 0)},
		{"bad side", &models.OrderRequest{Symbol: "SYM", Type: models.OrderTypeMarket, Side: "HOLD", Quantity: 10}},
		{"bad type", &models.OrderRequest{Symbol: "SYM", Type: "STOP", Side: models.OrderSideBuy, Quantity: 10}},
		{"market with price", &models.OrderRequest{Symbol: "SYM", Type: models.OrderTypeMarket, Side: models.OrderSideBuy, Quantity: 10, Price: 100}},
		{"limit without price", &models.OrderRequest{Symbol: "SYM", Type: models.OrderTypeLimit, Side: models.OrderSideBuy, Quantity: 10}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			order, err := m.PlaceOrder(ctx, "u1", tc.req)
			assert.Nil(t, order)
			assert.ErrorIs(t, err, errors.ErrInputValidation)
		})
	}
}

func TestApplyToPosition_EntryPriceRules(t *testing.T) {
	m, s := newTestManager(t, nil)
	ctx := context.Background()

	fill := func(side models.OrderSide, qty int, price float64) {
		t.Helper()
		require.NoError(t, m.applyToPosition(ctx, &models.Order{
			ID: "ORD_T", UserID: "u1", Symbol: "SYM", Product: "NIFTY",
			Side: side, Quantity: qty, FilledQuantity: qty, AvgFillPrice: price,
		}))
	}

	// Opening buy.
	fill(models.OrderSideBuy, 10, 100)
	p, err := s.GetPosition(ctx, "u1", "SYM")
	require.NoError(t, err)
	assert.Equal(t, 10, p.Quantity)
	assert.InDelta(t, 100.0, p.AvgEntryPrice, 1e-9)

	// Adding in the same direction averages the entry.
	fill(models.OrderSideBuy, 10, 120)
	p, err = s.GetPosition(ctx, "u1", "SYM")
	require.NoError(t, err)
	assert.Equal(t, 20, p.Quantity)
	assert.InDelta(t, 110.0, p.AvgEntryPrice, 1e-9)

	// Reducing keeps the entry.
	fill(models.OrderSideSell, 5, 130)
	p, err = s.GetPosition(ctx, "u1", "SYM")
	require.NoError(t, err)
	assert.Equal(t, 15, p.Quantity)
	assert.InDelta(t, 110.0, p.AvgEntryPrice, 1e-9)

	// Closing to zero deletes the position.
	fill(models.OrderSideSell, 15, 90)
	_, err = s.GetPosition(ctx, "u1", "SYM")
	assert.ErrorIs(t, err, errors.ErrPositionNotFound)

	// Opening sell goes short.
	fill(models.OrderSideSell, 10, 80)
	p, err = s.GetPosition(ctx, "u1", "SYM")
	require.NoError(t, err)
	assert.Equal(t, -10, p.Quantity)
	assert.InDelta(t, 80.0, p.AvgEntryPrice, 1e-9)

	// Flipping through zero re-marks the entry at the fill price.
	fill(models.OrderSideBuy, 25, 70)
	p, err = s.GetPosition(ctx, "u1", "SYM")
	require.NoError(t, err)
	assert.Equal(t, 15, p.Quantity)
	assert.InDelta(t, 70.0, p.AvgEntryPrice, 1e-9)
}

func TestOnPriceUpdate_ShiftsBookAndCache(t *testing.T) {
	m, _ := newTestManager(t, nil)
	ctx := context.Background()

	order, err := m.PlaceOrder(ctx, "u1", marketBuy("NIFTY24DEC21500CE", 10))
	require.NoError(t, err)
	require.Equal(t, models.OrderFilled, order.Status)

	depth, err := m.MarketDepth("NIFTY24DEC21500CE")
	require.NoError(t, err)
	before := depth.BestBid

	m.OnPriceUpdate("NIFTY24DEC21500CE", 200)

	depth, err = m.MarketDepth("NIFTY24DEC21500CE")
	require.NoError(t, err)
	assert.InDelta(t, 200.0, depth.MidPrice, 1e-9)
	assert.InDelta(t, before*2, depth.BestBid, 1e-6)
}

func TestMarketDepth_UnknownSymbol(t *testing.T) {
	m, _ := newTestManager(t, nil)
	_, err := m.MarketDepth("NEVERTRADED")
	assert.ErrorIs(t, err, errors.ErrBookNotFound)
}

func TestNewID_Format(t *testing.T) {
	id := newID("ORD")
	assert.Regexp(t, `^ORD_\d{8}_[0-9A-F]{8}$`, id)
	assert.Contains(t, id, time.Now().Format("20060102"))
}
