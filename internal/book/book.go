// Package book provides the simulated per-symbol order book and matching.
package book

import (
	"math/rand"
	"sync"
	"time"

	"paper-trader/internal/models"
)

// Level is one resting price level: price, remaining quantity, arrival time.
type Level struct {
	Price    float64
	Quantity int
	Time     time.Time
}

// Fill is one (price, quantity) execution against the book.
type Fill struct {
	Price    float64
	Quantity int
}

// Book is the bid/ask ladder for a single symbol. Bids are kept in
// descending price order, asks ascending. All mutation happens under
// the book's lock, so concurrent matches on the same symbol never
// interleave level updates.
type Book struct {
	symbol    string
	midPrice  float64
	lastTrade float64
	bids      []Level
	asks      []Level
	mu        sync.Mutex
}

const depthLevels = 5

// New creates a book around a reference mid price. A spread of 0.5%-2%
// of mid is synthesized, with 5 levels per side spaced at half the
// spread and random liquidity at each level, so best bid < mid < best
// ask by construction.
func New(symbol string, midPrice float64, rng *rand.Rand) *Book {
	b := &Book{
		symbol:    symbol,
		midPrice:  midPrice,
		lastTrade: midPrice,
	}

	spread := midPrice * (0.005 + rng.Float64()*0.015)
	bestBid := midPrice - spread/2
	bestAsk := midPrice + spread/2

	now := time.Now()
	for i := 0; i < depthLevels; i++ {
		b.bids = append(b.bids, Level{
			Price:    bestBid - float64(i)*spread*0.5,
			Quantity: 50 + rng.Intn(451),
			Time:     now,
		})
		b.asks = append(b.asks, Level{
			Price:    bestAsk + float64(i)*spread*0.5,
			Quantity: 50 + rng.Intn(451),
			Time:     now,
		})
	}

	return b
}

// Symbol returns the instrument symbol.
func (b *Book) Symbol() string {
	return b.symbol
}

// BestBid returns the best bid price and quantity, or ok=false when
// the bid side is empty.
func (b *Book) BestBid() (price float64, qty int, ok bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.bestBidLocked()
}

// BestAsk returns the best ask price and quantity, or ok=false when
// the ask side is empty.
func (b *Book) BestAsk() (price float64, qty int, ok bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.bestAskLocked()
}

func (b *Book) bestBidLocked() (float64, int, bool) {
	if len(b.bids) == 0 {
		return 0, 0, false
	}
	return b.bids[0].Price, b.bids[0].Quantity, true
}

func (b *Book) bestAskLocked() (float64, int, bool) {
	if len(b.asks) == 0 {
		return 0, 0, false
	}
	return b.asks[0].Price, b.asks[0].Quantity, true
}

// MatchMarket matches a market order against the opposite side of the
// book, walking from the best price outward. The returned fills may
// total less than the requested quantity when the book lacks depth:
// market orders are best-effort, not guaranteed complete.
func (b *Book) MatchMarket(side models.OrderSide, quantity int) []Fill {
	b.mu.Lock()
	defer b.mu.Unlock()

	if side == models.OrderSideBuy {
		return b.consume(&b.asks, quantity, nil)
	}
	return b.consume(&b.bids, quantity, nil)
}

// CheckLimit matches a limit order against levels priced at-or-better
// than the limit. It returns no fills (not an error) when the best
// opposing price does not cross the limit, leaving the order pending.
func (b *Book) CheckLimit(side models.OrderSide, limitPrice float64, quantity int) []Fill {
	b.mu.Lock()
	defer b.mu.Unlock()

	if side == models.OrderSideBuy {
		// A limit buy fills only from asks at or below the limit.
		admit := func(price float64) bool { return price <= limitPrice }
		if price, _, ok := b.bestAskLocked(); !ok || !admit(price) {
			return nil
		}
		return b.consume(&b.asks, quantity, admit)
	}

	// A limit sell fills only from bids at or above the limit.
	admit := func(price float64) bool { return price >= limitPrice }
	if price, _, ok := b.bestBidLocked(); !ok || !admit(price) {
		return nil
	}
	return b.consume(&b.bids, quantity, admit)
}

// consume walks a ladder best-price-first, consuming level quantity
// until the request is satisfied, the side is exhausted, or a level
// falls outside the admit bound. Exhausted levels are removed and a
// partially consumed level keeps its remainder and arrival time.
func (b *Book) consume(ladder *[]Level, quantity int, admit func(float64) bool) []Fill {
	var fills []Fill
	remaining := quantity

	for remaining > 0 && len(*ladder) > 0 {
		level := (*ladder)[0]
		if admit != nil && !admit(level.Price) {
			break
		}

		fillQty := remaining
		if level.Quantity < fillQty {
			fillQty = level.Quantity
		}
		fills = append(fills, Fill{Price: level.Price, Quantity: fillQty})
		remaining -= fillQty

		if fillQty < level.Quantity {
			(*ladder)[0].Quantity = level.Quantity - fillQty
		} else {
			*ladder = (*ladder)[1:]
		}
	}

	if len(fills) > 0 {
		b.lastTrade = fills[len(fills)-1].Price
	}

	return fills
}

// UpdateMid shifts every level's price by the proportional change of
// the mid-price move. Depth and relative spread are preserved rather
// than regenerated, so the book stays coherent as the underlying drifts.
func (b *Book) UpdateMid(newMid float64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.midPrice == 0 {
		b.midPrice = newMid
		return
	}

	ratio := newMid / b.midPrice
	for i := range b.bids {
		b.bids[i].Price *= ratio
	}
	for i := range b.asks {
		b.asks[i].Price *= ratio
	}
	b.midPrice = newMid
}

// Depth returns the top 10 levels per side plus best bid/ask, spread
// and last trade price.
func (b *Book) Depth() *models.MarketDepth {
	b.mu.Lock()
	defer b.mu.Unlock()

	depth := &models.MarketDepth{
		Symbol:    b.symbol,
		MidPrice:  b.midPrice,
		LastTrade: b.lastTrade,
	}

	if price, _, ok := b.bestBidLocked(); ok {
		depth.BestBid = price
	}
	if price, _, ok := b.bestAskLocked(); ok {
		depth.BestAsk = price
	}
	if depth.BestBid > 0 && depth.BestAsk > 0 {
		depth.Spread = depth.BestAsk - depth.BestBid
	}

	for i, level := range b.bids {
		if i >= 10 {
			break
		}
		depth.Bids = append(depth.Bids, models.DepthLevel{Price: level.Price, Quantity: level.Quantity})
	}
	for i, level := range b.asks {
		if i >= 10 {
			break
		}
		depth.Asks = append(depth.Asks, models.DepthLevel{Price: level.Price, Quantity: level.Quantity})
	}

	return depth
}

// AvailableDepth returns the cumulative resting quantity an incoming
// order of the given side could consume.
func (b *Book) AvailableDepth(side models.OrderSide) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	ladder := b.bids
	if side == models.OrderSideBuy {
		ladder = b.asks
	}

	total := 0
	for _, level := range ladder {
		total += level.Quantity
	}
	return total
}

// LastTrade returns the price of the most recent fill against this book.
func (b *Book) LastTrade() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastTrade
}

// MidPrice returns the current reference mid price.
func (b *Book) MidPrice() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.midPrice
}
