package book

import (
	"math/rand"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"paper-trader/internal/models"
)

func newTestBook(t *testing.T, mid float64) *Book {
	t.Helper()
	return New("NIFTY24DEC21500CE", mid, rand.New(rand.NewSource(42)))
}

func TestNew_BookNotCrossed(t *testing.T) {
	b := newTestBook(t, 150)

	bid, _, ok := b.BestBid()
	require.True(t, ok)
	ask, _, ok := b.BestAsk()
	require.True(t, ok)

	assert.Less(t, bid, 150.0)
	assert.Greater(t, ask, 150.0)
	assert.Less(t, bid, ask)

	spread := ask - bid
	assert.GreaterOrEqual(t, spread, 150*0.005)
	assert.LessOrEqual(t, spread, 150*0.02)
}

func TestNew_LevelShape(t *testing.T) {
	b := newTestBook(t, 100)
	depth := b.Depth()

	require.Len(t, depth.Bids, 5)
	require.Len(t, depth.Asks, 5)

	// Bids descending, asks ascending.
	for i := 1; i < len(depth.Bids); i++ {
		assert.Less(t, depth.Bids[i].Price, depth.Bids[i-1].Price)
	}
	for i := 1; i < len(depth.Asks); i++ {
		assert.Greater(t, depth.Asks[i].Price, depth.Asks[i-1].Price)
	}

	for _, level := range append(depth.Bids, depth.Asks...) {
		assert.GreaterOrEqual(t, level.Quantity, 50)
		assert.LessOrEqual(t, level.Quantity, 500)
	}
}

func TestMatchMarket_FullFill(t *testing.T) {
	b := newTestBook(t, 100)

	fills := b.MatchMarket(models.OrderSideBuy, 30)

	total := 0
	for _, f := range fills {
		total += f.Quantity
	}
	assert.Equal(t, 30, total)

	// A fill consumes from the best ask outward.
	for i := 1; i < len(fills); i++ {
		assert.Greater(t, fills[i].Price, fills[i-1].Price)
	}
}

func TestMatchMarket_BestEffort(t *testing.T) {
	b := newTestBook(t, 100)
	available := b.AvailableDepth(models.OrderSideBuy)

	fills := b.MatchMarket(models.OrderSideBuy, available+1000)

	total := 0
	for _, f := range fills {
		total += f.Quantity
	}
	assert.Equal(t, available, total)

	_, _, ok := b.BestAsk()
	assert.False(t, ok, "ask side should be exhausted")
}

func TestMatchMarket_PartialLevelKeepsRemainder(t *testing.T) {
	b := newTestBook(t, 100)
	_, bestQty, _ := b.BestAsk()
	require.Greater(t, bestQty, 1)

	b.MatchMarket(models.OrderSideBuy, 1)

	_, remaining, ok := b.BestAsk()
	require.True(t, ok)
	assert.Equal(t, bestQty-1, remaining)
}

func TestMatchMarket_SetsLastTrade(t *testing.T) {
	b := newTestBook(t, 100)
	fills := b.MatchMarket(models.OrderSideSell, 10)
	require.NotEmpty(t, fills)
	assert.Equal(t, fills[len(fills)-1].Price, b.LastTrade())
}

func TestCheckLimit_NoCross(t *testing.T) {
	b := newTestBook(t, 100)
	bid, _, _ := b.BestBid()
	ask, _, _ := b.BestAsk()

	// Buy below the best ask and sell above the best bid never fill.
	assert.Nil(t, b.CheckLimit(models.OrderSideBuy, ask-0.01, 10))
	assert.Nil(t, b.CheckLimit(models.OrderSideSell, bid+0.01, 10))

	// The ladder is untouched.
	bid2, _, _ := b.BestBid()
	ask2, _, _ := b.BestAsk()
	assert.Equal(t, bid, bid2)
	assert.Equal(t, ask, ask2)
}

func TestCheckLimit_FillsOnlyAdmittedLevels(t *testing.T) {
	b := newTestBook(t, 100)
	depth := b.Depth()

	// Limit between the first and second ask admits only level one.
	limit := (depth.Asks[0].Price + depth.Asks[1].Price) / 2
	available := depth.Asks[0].Quantity

	fills := b.CheckLimit(models.OrderSideBuy, limit, available+100)

	total := 0
	for _, f := range fills {
		total += f.Quantity
		assert.LessOrEqual(t, f.Price, limit)
	}
	assert.Equal(t, available, total)
}

func TestCheckLimit_CrossedFillsAtBookPrice(t *testing.T) {
	b := newTestBook(t, 100)
	ask, _, _ := b.BestAsk()

	fills := b.CheckLimit(models.OrderSideBuy, ask+100, 5)

	require.NotEmpty(t, fills)
	// Price improvement: fills happen at the resting price, not the limit.
	assert.Equal(t, ask, fills[0].Price)
}

func TestUpdateMid_ScalesProportionally(t *testing.T) {
	b := newTestBook(t, 100)
	before := b.Depth()

	b.UpdateMid(110)
	after := b.Depth()

	assert.InDelta(t, 110.0, after.MidPrice, 1e-9)
	for i := range before.Bids {
		assert.InDelta(t, before.Bids[i].Price*1.1, after.Bids[i].Price, 1e-9)
		assert.Equal(t, before.Bids[i].Quantity, after.Bids[i].Quantity)
	}
	for i := range before.Asks {
		assert.InDelta(t, before.Asks[i].Price*1.1, after.Asks[i].Price, 1e-9)
	}
}

func TestRegistry_GetOrCreateIdempotent(t *testing.T) {
	r := NewSeededRegistry(zerolog.Nop(), 1)

	b1 := r.GetOrCreate("NIFTY24DEC21500CE", 100)
	b2 := r.GetOrCreate("NIFTY24DEC21500CE", 999)

	assert.Same(t, b1, b2)
	assert.InDelta(t, 100.0, b2.MidPrice(), 1e-9, "second reference price must not reinitialize")
}

func TestRegistry_UpdatePriceAbsentSymbolIsNoop(t *testing.T) {
	r := NewSeededRegistry(zerolog.Nop(), 1)

	r.UpdatePrice("NEVERTRADED", 123)

	_, ok := r.Get("NEVERTRADED")
	assert.False(t, ok, "a price tick alone must not create a book")
	assert.Nil(t, r.Depth("NEVERTRADED"))
}
