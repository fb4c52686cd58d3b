// Package pricing resolves reference prices for instruments.
package pricing

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"paper-trader/internal/config"
	"paper-trader/internal/models"
	"paper-trader/internal/store"
)

// Source resolves the reference execution price for a symbol with a
// fixed fallback order: live cached quote, then the most recent trade
// for the symbol, then a static default. It also serves underlying
// prices and lot sizes for margin calculations.
type Source struct {
	store       store.DataStore
	market      *config.MarketConfig
	logger      zerolog.Logger
	prices      map[string]float64
	underlyings map[string]float64
	mu          sync.RWMutex
}

// NewSource creates a price source backed by the given store.
func NewSource(dataStore store.DataStore, market *config.MarketConfig, logger zerolog.Logger) *Source {
	return &Source{
		store:       dataStore,
		market:      market,
		logger:      logger,
		prices:      make(map[string]float64),
		underlyings: make(map[string]float64),
	}
}

// Update caches a live quote for a symbol.
func (s *Source) Update(symbol string, price float64) {
	s.mu.Lock()
	s.prices[symbol] = price
	s.mu.Unlock()
}

// UpdateUnderlying caches a live underlying price for a product.
func (s *Source) UpdateUnderlying(product string, price float64) {
	s.mu.Lock()
	s.underlyings[product] = price
	s.mu.Unlock()
}

// Resolve returns the current reference price for a symbol.
func (s *Source) Resolve(ctx context.Context, symbol string) float64 {
	s.mu.RLock()
	cached, ok := s.prices[symbol]
	s.mu.RUnlock()
	if ok && cached > 0 {
		return cached
	}

	// Fall back to the most recent trade for the symbol.
	trades, err := s.store.GetTrades(ctx, store.TradeFilter{Symbol: symbol, Limit: 1})
	if err != nil {
		s.logger.Warn().Err(err).Str("symbol", symbol).Msg("Price lookup from trades failed")
	} else if len(trades) > 0 {
		return trades[0].Price
	}

	return s.market.FallbackPrice
}

// Underlying returns the current underlying price for a product.
func (s *Source) Underlying(product string) float64 {
	s.mu.RLock()
	cached, ok := s.underlyings[product]
	s.mu.RUnlock()
	if ok && cached > 0 {
		return cached
	}
	return s.market.UnderlyingPrice(product)
}

// LotSize returns the contract lot size for a product.
func (s *Source) LotSize(product string) int {
	return s.market.LotSize(product)
}

// MarkPositions refreshes each position's mark price and derived
// unrealized P&L from the current reference price.
func (s *Source) MarkPositions(ctx context.Context, positions []models.Position) []models.Position {
	for i := range positions {
		price := s.Resolve(ctx, positions[i].Symbol)
		positions[i].CurrentPrice = price
		positions[i].UnrealizedPnL = UnrealizedPnL(&positions[i], price)
	}
	return positions
}

// UnrealizedPnL computes mark-to-market P&L for a position. Shorts
// gain when price falls below entry.
func UnrealizedPnL(position *models.Position, currentPrice float64) float64 {
	qty := position.Quantity
	if qty < 0 {
		qty = -qty
	}
	pnl := (currentPrice - position.AvgEntryPrice) * float64(qty)
	if position.Quantity < 0 {
		pnl = -pnl
	}
	return pnl
}
