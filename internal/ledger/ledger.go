// Package ledger tracks portfolios, positions and P&L reporting.
package ledger

import (
	"context"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"paper-trader/internal/config"
	"paper-trader/internal/errors"
	"paper-trader/internal/models"
	"paper-trader/internal/pricing"
	"paper-trader/internal/store"
)

// Ledger answers portfolio, position and P&L queries. Realized P&L is
// never tracked incrementally: it is reconstructed from the full trade
// history on every read, which keeps it correct under concurrent
// writes at O(trade count) query cost.
type Ledger struct {
	store   store.DataStore
	prices  *pricing.Source
	trading config.TradingConfig
	logger  zerolog.Logger
}

// New creates a ledger over the given store and price source.
func New(dataStore store.DataStore, prices *pricing.Source, trading config.TradingConfig, logger zerolog.Logger) *Ledger {
	return &Ledger{
		store:   dataStore,
		prices:  prices,
		trading: trading,
		logger:  logger,
	}
}

// EnsurePortfolio returns the user's portfolio, creating one with the
// configured starting capital on first use.
func (l *Ledger) EnsurePortfolio(ctx context.Context, userID string) (*models.Portfolio, error) {
	portfolio, err := l.store.GetPortfolio(ctx, userID)
	if err == nil {
		return portfolio, nil
	}
	if !errors.Is(err, errors.ErrPortfolioNotFound) {
		return nil, err
	}

	now := time.Now()
	portfolio = &models.Portfolio{
		UserID:          userID,
		CashBalance:     l.trading.StartingCash,
		MarginAvailable: l.trading.StartingCash,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := l.store.SavePortfolio(ctx, portfolio); err != nil {
		return nil, err
	}

	l.logger.Info().
		Str("user_id", userID).
		Float64("cash", portfolio.CashBalance).
		Msg("Initial portfolio created")
	return portfolio, nil
}

// GetPortfolio returns the portfolio with P&L recomputed from current
// trade history and mark prices, and persists the refreshed aggregates.
func (l *Ledger) GetPortfolio(ctx context.Context, userID string) (*models.Portfolio, error) {
	portfolio, err := l.EnsurePortfolio(ctx, userID)
	if err != nil {
		return nil, err
	}

	realized, err := l.RealizedPnL(ctx, userID, time.Time{})
	if err != nil {
		return nil, err
	}

	positions, err := l.GetPositions(ctx, userID)
	if err != nil {
		return nil, err
	}
	unrealized := 0.0
	for _, p := range positions {
		unrealized += p.UnrealizedPnL
	}

	portfolio.RealizedPnL = realized
	portfolio.UnrealizedPnL = unrealized
	portfolio.TotalPnL = realized + unrealized
	portfolio.UpdatedAt = time.Now()

	if err := l.store.SavePortfolio(ctx, portfolio); err != nil {
		return nil, err
	}
	return portfolio, nil
}

// GetPositions returns all open positions marked to the current
// reference price.
func (l *Ledger) GetPositions(ctx context.Context, userID string) ([]models.Position, error) {
	positions, err := l.store.GetPositions(ctx, userID)
	if err != nil {
		return nil, err
	}
	return l.prices.MarkPositions(ctx, positions), nil
}

// RealizedPnL reconstructs realized P&L from trades executed at or
// after since (zero time means the full history). Trades are grouped
// by symbol and matched FIFO: each sell consumes the oldest unconsumed
// buy quantity, accruing the price difference on the matched quantity
// minus the commissions of both trades. Every buy in the window is
// eligible regardless of when it executed relative to the sell, so a
// short covered by a later buy realizes P&L too.
func (l *Ledger) RealizedPnL(ctx context.Context, userID string, since time.Time) (float64, error) {
	trades, err := l.store.GetTrades(ctx, store.TradeFilter{UserID: userID, Since: since})
	if err != nil {
		return 0, err
	}

	// FIFO needs chronological order.
	sort.Slice(trades, func(i, j int) bool {
		return trades[i].ExecutedAt.Before(trades[j].ExecutedAt)
	})

	type buyLot struct {
		trade    *models.Trade
		consumed int
	}
	buysBySymbol := make(map[string][]*buyLot)
	var sells []*models.Trade
	for i := range trades {
		trade := &trades[i]
		if trade.Side == models.OrderSideBuy {
			buysBySymbol[trade.Symbol] = append(buysBySymbol[trade.Symbol], &buyLot{trade: trade})
		} else {
			sells = append(sells, trade)
		}
	}

	total := 0.0
	for _, trade := range sells {
		remaining := trade.Quantity
		sellUnit := trade.Value / float64(trade.Quantity)

		for _, lot := range buysBySymbol[trade.Symbol] {
			if remaining == 0 {
				break
			}
			available := lot.trade.Quantity - lot.consumed
			if available == 0 {
				continue
			}

			matched := remaining
			if available < matched {
				matched = available
			}

			buyUnit := lot.trade.Value / float64(lot.trade.Quantity)
			total += (sellUnit-buyUnit)*float64(matched) - (lot.trade.Commission + trade.Commission)

			lot.consumed += matched
			remaining -= matched
		}
	}

	return total, nil
}

// PnLSummary reports realized, unrealized and total P&L for a period,
// with percentage return against the starting capital.
func (l *Ledger) PnLSummary(ctx context.Context, userID string, period models.Period) (*models.PnLSummary, error) {
	start := period.Start(time.Now())

	realized, err := l.RealizedPnL(ctx, userID, start)
	if err != nil {
		return nil, err
	}

	positions, err := l.GetPositions(ctx, userID)
	if err != nil {
		return nil, err
	}
	unrealized := 0.0
	for _, p := range positions {
		unrealized += p.UnrealizedPnL
	}

	total := realized + unrealized
	initial := l.trading.StartingCash

	return &models.PnLSummary{
		Period:         period,
		RealizedPnL:    realized,
		UnrealizedPnL:  unrealized,
		TotalPnL:       total,
		ReturnsPercent: total / initial * 100,
		InitialCapital: initial,
		CurrentValue:   initial + total,
	}, nil
}

// TradeHistory returns the user's trades, most recent first.
func (l *Ledger) TradeHistory(ctx context.Context, userID string, limit int) ([]models.Trade, error) {
	return l.store.GetTrades(ctx, store.TradeFilter{UserID: userID, Limit: limit})
}

// PerformanceMetrics computes trade-pairing statistics over the most
// recent trades. Each sell is paired with the first buy for the same
// symbol that still has unmatched quantity. This pairing is simpler
// than the FIFO reconstruction RealizedPnL uses and the two can
// diverge once buys are partially consumed in different orders.
func (l *Ledger) PerformanceMetrics(ctx context.Context, userID string) (*models.PerformanceMetrics, error) {
	trades, err := l.TradeHistory(ctx, userID, 1000)
	if err != nil {
		return nil, err
	}
	if len(trades) == 0 {
		return &models.PerformanceMetrics{}, nil
	}

	type buyLot struct {
		trade   *models.Trade
		matched int
	}
	var buys []*buyLot
	var sells []*models.Trade
	for i := range trades {
		if trades[i].Side == models.OrderSideBuy {
			buys = append(buys, &buyLot{trade: &trades[i]})
		} else {
			sells = append(sells, &trades[i])
		}
	}

	winning := 0
	totalProfit := 0.0
	totalLoss := 0.0

	for _, sell := range sells {
		var lot *buyLot
		for _, b := range buys {
			if b.trade.Symbol == sell.Symbol && b.matched < b.trade.Quantity {
				lot = b
				break
			}
		}
		if lot == nil {
			continue
		}

		matched := sell.Quantity
		if available := lot.trade.Quantity - lot.matched; available < matched {
			matched = available
		}
		lot.matched += matched

		pnl := sell.Value - lot.trade.Value - sell.Commission - lot.trade.Commission
		if pnl > 0 {
			winning++
			totalProfit += pnl
		} else {
			totalLoss += -pnl
		}
	}

	numClosed := len(buys)
	if len(sells) < numClosed {
		numClosed = len(sells)
	}

	metrics := &models.PerformanceMetrics{
		TotalTrades:  len(trades),
		ClosedTrades: numClosed,
		TotalProfit:  totalProfit,
		TotalLoss:    totalLoss,
	}
	if numClosed > 0 {
		metrics.WinRate = float64(winning) / float64(numClosed) * 100
	}
	if winning > 0 {
		metrics.AvgProfit = totalProfit / float64(winning)
	}
	if losing := numClosed - winning; losing > 0 {
		metrics.AvgLoss = totalLoss / float64(losing)
	}
	if totalLoss > 0 {
		metrics.ProfitFactor = totalProfit / totalLoss
	}

	return metrics, nil
}
