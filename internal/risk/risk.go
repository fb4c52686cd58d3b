// Package risk implements the pre-trade risk management checks.
package risk

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"paper-trader/internal/config"
	"paper-trader/internal/errors"
	"paper-trader/internal/logging"
	"paper-trader/internal/models"
	"paper-trader/internal/pricing"
	"paper-trader/internal/store"
)

// Engine evaluates a fixed battery of admission checks against a
// user's current portfolio and positions. The engine itself is
// stateless: all state is read from the store at check time.
type Engine struct {
	limits config.RiskConfig
	store  store.DataStore
	prices *pricing.Source
	logger zerolog.Logger
}

// NewEngine creates a risk engine with the given limit parameters.
func NewEngine(limits config.RiskConfig, dataStore store.DataStore, prices *pricing.Source, logger zerolog.Logger) *Engine {
	return &Engine{
		limits: limits,
		store:  dataStore,
		prices: prices,
		logger: logger,
	}
}

// Limits returns the configured limit parameters.
func (e *Engine) Limits() config.RiskConfig {
	return e.limits
}

// CalculateMargin computes the margin required for an order. Buying
// options requires the full premium. Selling approximates an exchange
// span margin on the underlying notional, so shorts need materially
// more margin than longs.
func (e *Engine) CalculateMargin(order *models.Order, referencePrice float64) float64 {
	price := referencePrice
	if limit, ok := order.LimitPrice(); ok {
		price = limit
	}
	return e.MarginForFill(order.Side, order.Product, order.Quantity, price)
}

// MarginForFill computes the margin for a given quantity at a given
// price, independent of an order's limit price.
func (e *Engine) MarginForFill(side models.OrderSide, product string, quantity int, price float64) float64 {
	if side == models.OrderSideBuy {
		return float64(quantity) * price * e.limits.MarginMultiplierBuy
	}

	underlying := e.prices.Underlying(product)
	lotSize := float64(e.prices.LotSize(product))
	marginPerLot := underlying * lotSize * e.limits.SpanFraction
	numLots := float64(quantity) / lotSize
	return marginPerLot * numLots * e.limits.MarginMultiplierSell
}

// PreTradeCheck runs the admission checks in fixed order and stops at
// the first failure. The returned error is always a *errors.RiskError
// identifying the violated rule with the observed value and the limit.
func (e *Engine) PreTradeCheck(ctx context.Context, userID string, order *models.Order, referencePrice float64) error {
	if err := e.runChecks(ctx, userID, order, referencePrice); err != nil {
		if re, ok := errors.IsRiskError(err); ok {
			logging.LogRiskViolation(e.logger, userID, re.Rule, re.Current, re.Limit)
		}
		return err
	}

	e.logger.Debug().
		Str("user_id", userID).
		Str("order_id", order.ID).
		Msg("Risk check passed")
	return nil
}

func (e *Engine) runChecks(ctx context.Context, userID string, order *models.Order, referencePrice float64) error {
	if err := e.checkMargin(ctx, userID, order, referencePrice); err != nil {
		return err
	}
	if err := e.checkPositionLimit(ctx, userID, order); err != nil {
		return err
	}
	if err := e.checkOrderValue(order, referencePrice); err != nil {
		return err
	}
	if err := e.checkDailyLoss(ctx, userID); err != nil {
		return err
	}
	return e.checkConcentration(ctx, userID, order, referencePrice)
}

// checkMargin verifies the user has enough available margin for the order.
func (e *Engine) checkMargin(ctx context.Context, userID string, order *models.Order, referencePrice float64) error {
	required := e.CalculateMargin(order, referencePrice)

	portfolio, err := e.store.GetPortfolio(ctx, userID)
	if err != nil {
		if errors.Is(err, errors.ErrPortfolioNotFound) {
			return errors.NewRiskError(errors.RuleInsufficientMargin, required, 0, "portfolio not found")
		}
		return err
	}

	if portfolio.MarginAvailable < required {
		return errors.NewRiskError(errors.RuleInsufficientMargin, required, portfolio.MarginAvailable,
			"required margin exceeds available margin")
	}
	return nil
}

// checkPositionLimit bounds the number of open positions. It only
// applies when a SELL opens a new uncovered short; an order that
// offsets an existing opposite position is exempt.
func (e *Engine) checkPositionLimit(ctx context.Context, userID string, order *models.Order) error {
	if order.Side != models.OrderSideSell {
		return nil
	}

	offsetting, err := e.hasOffsettingPosition(ctx, userID, order)
	if err != nil {
		return err
	}
	if offsetting {
		return nil
	}

	positions, err := e.store.GetPositions(ctx, userID)
	if err != nil {
		return err
	}
	if len(positions) >= e.limits.MaxOpenPositions {
		return errors.NewRiskError(errors.RulePositionLimit,
			float64(len(positions)), float64(e.limits.MaxOpenPositions),
			"maximum open positions reached")
	}
	return nil
}

// checkOrderValue caps the notional value of a single order.
func (e *Engine) checkOrderValue(order *models.Order, referencePrice float64) error {
	price := referencePrice
	if limit, ok := order.LimitPrice(); ok {
		price = limit
	}

	value := float64(order.Quantity) * price
	if value > e.limits.MaxOrderValue {
		return errors.NewRiskError(errors.RuleOrderValueLimit, value, e.limits.MaxOrderValue,
			"order value exceeds limit")
	}
	return nil
}

// checkDailyLoss stops trading once the day's total P&L (realized from
// today's trades plus unrealized across open positions) falls below
// the configured floor.
func (e *Engine) checkDailyLoss(ctx context.Context, userID string) error {
	now := time.Now()
	todayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())

	trades, err := e.store.GetTrades(ctx, store.TradeFilter{UserID: userID, Since: todayStart})
	if err != nil {
		return err
	}

	realized := 0.0
	for _, trade := range trades {
		if trade.Side == models.OrderSideBuy {
			realized -= trade.NetValue
		} else {
			realized += trade.NetValue
		}
	}

	positions, err := e.store.GetPositions(ctx, userID)
	if err != nil {
		return err
	}
	unrealized := 0.0
	for i := range positions {
		price := e.prices.Resolve(ctx, positions[i].Symbol)
		unrealized += pricing.UnrealizedPnL(&positions[i], price)
	}

	total := realized + unrealized
	if total < e.limits.MaxLossPerDay {
		return errors.NewRiskError(errors.RuleDailyLossLimit, total, e.limits.MaxLossPerDay,
			"daily loss limit exceeded")
	}
	return nil
}

// checkConcentration bounds the fraction of portfolio value exposed to
// a single product, counting the incoming order's notional.
func (e *Engine) checkConcentration(ctx context.Context, userID string, order *models.Order, referencePrice float64) error {
	portfolio, err := e.store.GetPortfolio(ctx, userID)
	if err != nil {
		return err
	}
	totalValue := portfolio.CashBalance + portfolio.MarginUsed

	positions, err := e.store.GetPositions(ctx, userID)
	if err != nil {
		return err
	}

	exposure := 0.0
	for _, p := range positions {
		if p.Product != order.Product {
			continue
		}
		price := p.CurrentPrice
		if price == 0 {
			price = p.AvgEntryPrice
		}
		value := float64(p.Quantity) * price
		if value < 0 {
			value = -value
		}
		exposure += value
	}

	exposure += float64(order.Quantity) * referencePrice

	concentration := 0.0
	if totalValue > 0 {
		concentration = exposure / totalValue
	}

	if concentration > e.limits.MaxConcentration {
		return errors.NewRiskError(errors.RuleConcentrationLimit, concentration, e.limits.MaxConcentration,
			"product concentration exceeds limit")
	}
	return nil
}

// hasOffsettingPosition reports whether the user holds a position
// opposite to the order's side for the same symbol.
func (e *Engine) hasOffsettingPosition(ctx context.Context, userID string, order *models.Order) (bool, error) {
	position, err := e.store.GetPosition(ctx, userID, order.Symbol)
	if err != nil {
		if errors.Is(err, errors.ErrPositionNotFound) {
			return false, nil
		}
		return false, err
	}

	if order.Side == models.OrderSideBuy && position.Quantity < 0 {
		return true, nil
	}
	if order.Side == models.OrderSideSell && position.Quantity > 0 {
		return true, nil
	}
	return false, nil
}

// Metrics returns the current risk utilization snapshot for a user.
func (e *Engine) Metrics(ctx context.Context, userID string) (*models.RiskMetrics, error) {
	portfolio, err := e.store.GetPortfolio(ctx, userID)
	if err != nil {
		return nil, err
	}
	positions, err := e.store.GetPositions(ctx, userID)
	if err != nil {
		return nil, err
	}

	totalValue := portfolio.CashBalance + portfolio.MarginUsed

	exposureByProduct := make(map[string]float64)
	for _, p := range positions {
		price := p.CurrentPrice
		if price == 0 {
			price = p.AvgEntryPrice
		}
		value := float64(p.Quantity) * price
		if value < 0 {
			value = -value
		}
		exposureByProduct[p.Product] += value
	}

	maxConcentration := 0.0
	if totalValue > 0 {
		for _, exposure := range exposureByProduct {
			if c := exposure / totalValue; c > maxConcentration {
				maxConcentration = c
			}
		}
	}

	utilization := 0.0
	if totalValue > 0 {
		utilization = portfolio.MarginUsed / totalValue
	}

	return &models.RiskMetrics{
		MarginUsed:         portfolio.MarginUsed,
		MarginAvailable:    portfolio.MarginAvailable,
		MarginUtilization:  utilization,
		OpenPositions:      len(positions),
		MaxPositions:       e.limits.MaxOpenPositions,
		TotalPnL:           portfolio.TotalPnL,
		DailyLossLimit:     e.limits.MaxLossPerDay,
		ExposureByProduct:  exposureByProduct,
		MaxConcentration:   maxConcentration,
		ConcentrationLimit: e.limits.MaxConcentration,
	}, nil
}
