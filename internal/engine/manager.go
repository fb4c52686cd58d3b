// Package engine implements the order lifecycle: placement, risk
// admission, matching, fills and the resulting position and portfolio
// updates.
package engine

import (
	"context"
	"encoding/hex"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"paper-trader/internal/book"
	"paper-trader/internal/config"
	"paper-trader/internal/errors"
	"paper-trader/internal/ledger"
	"paper-trader/internal/logging"
	"paper-trader/internal/models"
	"paper-trader/internal/pricing"
	"paper-trader/internal/risk"
	"paper-trader/internal/store"
)

// Manager coordinates order placement end to end. The risk check and
// the portfolio commit for one user always run under that user's lock,
// so two concurrent orders cannot both pass a check that only one of
// them should survive.
type Manager struct {
	cfg    *config.Config
	store  store.DataStore
	books  *book.Registry
	risk   *risk.Engine
	prices *pricing.Source
	ledger *ledger.Ledger
	logger zerolog.Logger

	userLocks map[string]*sync.Mutex
	mu        sync.Mutex
}

// NewManager creates an order manager.
func NewManager(cfg *config.Config, dataStore store.DataStore, books *book.Registry, riskEngine *risk.Engine, prices *pricing.Source, ldgr *ledger.Ledger, logger zerolog.Logger) *Manager {
	return &Manager{
		cfg:       cfg,
		store:     dataStore,
		books:     books,
		risk:      riskEngine,
		prices:    prices,
		ledger:    ldgr,
		logger:    logger,
		userLocks: make(map[string]*sync.Mutex),
	}
}

// userLock returns the mutex serializing all order mutations for one user.
func (m *Manager) userLock(userID string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	lock, ok := m.userLocks[userID]
	if !ok {
		lock = &sync.Mutex{}
		m.userLocks[userID] = lock
	}
	return lock
}

// PlaceOrder validates, risk-checks and executes an order request.
// A rejected order is persisted with status REJECTED and returned
// alongside the risk error, so the caller sees both the order record
// and the violation.
func (m *Manager) PlaceOrder(ctx context.Context, userID string, req *models.OrderRequest) (*models.Order, error) {
	if err := validateRequest(userID, req); err != nil {
		return nil, err
	}

	product := req.Product
	if product == "" {
		product = m.cfg.Market.DefaultProduct
	}

	referencePrice := m.prices.Resolve(ctx, req.Symbol)

	order := &models.Order{
		ID:         newID("ORD"),
		UserID:     userID,
		Symbol:     req.Symbol,
		Product:    product,
		Strike:     req.Strike,
		Expiry:     req.Expiry,
		OptionType: req.OptionType,
		Type:       req.Type,
		Side:       req.Side,
		Quantity:   req.Quantity,
		Price:      req.Price,
		Status:     models.OrderPending,
		PlacedAt:   time.Now(),
	}

	logger := logging.WithOrderID(logging.WithUser(m.logger, userID), order.ID)

	lock := m.userLock(userID)
	lock.Lock()
	defer lock.Unlock()

	if _, err := m.ledger.EnsurePortfolio(ctx, userID); err != nil {
		return nil, err
	}

	if err := m.risk.PreTradeCheck(ctx, userID, order, referencePrice); err != nil {
		order.Status = models.OrderRejected
		order.RejectReason = err.Error()
		if saveErr := m.store.SaveOrder(ctx, order); saveErr != nil {
			return nil, saveErr
		}

		if _, ok := errors.IsRiskError(err); !ok {
			return nil, err
		}

		logger.Warn().
			Str("reason", order.RejectReason).
			Msg("Order rejected")
		return order, err
	}

	if err := m.execute(ctx, order, referencePrice); err != nil {
		// A mid-execution failure still leaves an order row behind.
		order.Status = models.OrderRejected
		order.RejectReason = err.Error()
		if saveErr := m.store.SaveOrder(ctx, order); saveErr != nil {
			return nil, saveErr
		}
		return nil, err
	}

	if err := m.store.SaveOrder(ctx, order); err != nil {
		return nil, err
	}

	logging.LogOrder(logger, order.ID, order.Symbol, string(order.Side), string(order.Status))
	return order, nil
}

// execute matches the order against its symbol's book and applies the
// resulting fills to trades, position and portfolio. A limit order
// whose price does not cross stays PENDING with no side effects.
func (m *Manager) execute(ctx context.Context, order *models.Order, referencePrice float64) error {
	b := m.books.GetOrCreate(order.Symbol, referencePrice)

	var fills []book.Fill
	if order.Type == models.OrderTypeMarket {
		fills = b.MatchMarket(order.Side, order.Quantity)
	} else {
		fills = b.CheckLimit(order.Side, order.Price, order.Quantity)
	}

	if len(fills) == 0 {
		return nil
	}

	totalQty := 0
	totalValue := 0.0
	for _, fill := range fills {
		totalQty += fill.Quantity
		totalValue += fill.Price * float64(fill.Quantity)
	}
	avgPrice := totalValue / float64(totalQty)

	now := time.Now()
	order.FilledQuantity = totalQty
	order.AvgFillPrice = avgPrice
	order.FilledAt = &now
	if totalQty == order.Quantity {
		order.Status = models.OrderFilled
	} else {
		order.Status = models.OrderPartiallyFilled
	}

	if err := m.recordTrades(ctx, order, fills); err != nil {
		return err
	}
	if err := m.applyToPosition(ctx, order); err != nil {
		return err
	}
	return m.applyToPortfolio(ctx, order)
}

// recordTrades appends one trade per fill. Trades are the authoritative
// ledger, so each carries its own commission.
func (m *Manager) recordTrades(ctx context.Context, order *models.Order, fills []book.Fill) error {
	for _, fill := range fills {
		value := fill.Price * float64(fill.Quantity)
		commission := m.commission(value)

		netValue := value - commission
		if order.Side == models.OrderSideBuy {
			netValue = value + commission
		}

		trade := &models.Trade{
			ID:         newID("TRD"),
			OrderID:    order.ID,
			UserID:     order.UserID,
			Symbol:     order.Symbol,
			Side:       order.Side,
			Quantity:   fill.Quantity,
			Price:      fill.Price,
			Value:      value,
			Commission: commission,
			NetValue:   netValue,
			ExecutedAt: time.Now(),
		}
		if err := m.store.SaveTrade(ctx, trade); err != nil {
			return err
		}

		logging.LogTrade(m.logger, trade.ID, trade.Symbol, string(trade.Side), trade.Quantity, trade.Price)
	}
	return nil
}

// applyToPosition folds the order's fill into the (user, symbol)
// position. The entry price only moves when the fill increases
// directional exposure; reducing keeps the entry, and a flip through
// zero re-marks the entry at the fill price.
func (m *Manager) applyToPosition(ctx context.Context, order *models.Order) error {
	delta := order.FilledQuantity
	if order.Side == models.OrderSideSell {
		delta = -delta
	}
	fillPrice := order.AvgFillPrice
	now := time.Now()

	position, err := m.store.GetPosition(ctx, order.UserID, order.Symbol)
	if err != nil {
		if !errors.Is(err, errors.ErrPositionNotFound) {
			return err
		}

		position = &models.Position{
			UserID:         order.UserID,
			Symbol:         order.Symbol,
			Product:        order.Product,
			Strike:         order.Strike,
			Expiry:         order.Expiry,
			OptionType:     order.OptionType,
			Quantity:       delta,
			AvgEntryPrice:  fillPrice,
			CurrentPrice:   fillPrice,
			MarginRequired: m.risk.MarginForFill(order.Side, order.Product, order.FilledQuantity, fillPrice),
			OpenedAt:       now,
			UpdatedAt:      now,
		}
		m.logger.Info().
			Str("symbol", order.Symbol).
			Int("qty", delta).
			Msg("Position opened")
		return m.store.SavePosition(ctx, position)
	}

	oldQty := position.Quantity
	newQty := oldQty + delta

	if newQty == 0 {
		m.logger.Info().Str("symbol", order.Symbol).Msg("Position closed")
		return m.store.DeletePosition(ctx, order.UserID, order.Symbol)
	}

	switch {
	case oldQty > 0 && newQty > oldQty, oldQty < 0 && newQty < oldQty:
		// Exposure increased in the same direction.
		oldAbs := abs(oldQty)
		newAbs := abs(newQty)
		position.AvgEntryPrice = (float64(oldAbs)*position.AvgEntryPrice + float64(abs(delta))*fillPrice) / float64(newAbs)
	case (oldQty > 0) != (newQty > 0):
		// Flipped through zero.
		position.AvgEntryPrice = fillPrice
	}
	// Plain reduction keeps the original entry price.

	position.Quantity = newQty
	position.UpdatedAt = now

	m.logger.Info().
		Str("symbol", order.Symbol).
		Int("qty", newQty).
		Msg("Position updated")
	return m.store.SavePosition(ctx, position)
}

// applyToPortfolio commits the aggregate cash and margin impact of the
// order's fill. Buys block the full premium as margin; sells block the
// span margin on the filled quantity.
func (m *Manager) applyToPortfolio(ctx context.Context, order *models.Order) error {
	portfolio, err := m.store.GetPortfolio(ctx, order.UserID)
	if err != nil {
		return err
	}

	value := float64(order.FilledQuantity) * order.AvgFillPrice
	commission := m.commission(value)

	var cashChange, marginChange float64
	if order.Side == models.OrderSideBuy {
		cashChange = -(value + commission)
		marginChange = value
	} else {
		cashChange = value - commission
		marginChange = m.risk.MarginForFill(order.Side, order.Product, order.FilledQuantity, order.AvgFillPrice)
	}

	portfolio.CashBalance += cashChange
	portfolio.MarginUsed += marginChange
	portfolio.MarginAvailable = portfolio.CashBalance - portfolio.MarginUsed
	portfolio.UpdatedAt = time.Now()

	if err := m.store.SavePortfolio(ctx, portfolio); err != nil {
		return err
	}

	m.logger.Debug().
		Float64("cash", portfolio.CashBalance).
		Float64("margin_used", portfolio.MarginUsed).
		Msg("Portfolio updated")
	return nil
}

// CancelOrder cancels a pending order. Orders in any terminal state
// cannot be cancelled.
func (m *Manager) CancelOrder(ctx context.Context, userID, orderID string) error {
	lock := m.userLock(userID)
	lock.Lock()
	defer lock.Unlock()

	order, err := m.store.GetOrder(ctx, userID, orderID)
	if err != nil {
		return err
	}

	if order.Status != models.OrderPending {
		return errors.NewOrderError(orderID, order.Symbol, "cancel",
			"order status is "+string(order.Status), errors.ErrInvalidOrderState)
	}

	order.Status = models.OrderCancelled
	if err := m.store.UpdateOrder(ctx, order); err != nil {
		return err
	}

	m.logger.Info().Str("order_id", orderID).Msg("Order cancelled")
	return nil
}

// GetOrder returns one order by id.
func (m *Manager) GetOrder(ctx context.Context, userID, orderID string) (*models.Order, error) {
	return m.store.GetOrder(ctx, userID, orderID)
}

// GetOrders returns the user's orders, most recent first, optionally
// filtered by status.
func (m *Manager) GetOrders(ctx context.Context, userID string, status models.OrderStatus, limit int) ([]models.Order, error) {
	if limit <= 0 {
		limit = 50
	}
	return m.store.GetOrders(ctx, store.OrderFilter{UserID: userID, Status: status, Limit: limit})
}

// MarketDepth returns the depth snapshot for a symbol's book.
func (m *Manager) MarketDepth(symbol string) (*models.MarketDepth, error) {
	depth := m.books.Depth(symbol)
	if depth == nil {
		return nil, errors.Wrapf(errors.ErrBookNotFound, "symbol %s", symbol)
	}
	return depth, nil
}

// OnPriceUpdate feeds a live quote into the price cache and shifts the
// symbol's book, if one exists, to the new mid.
func (m *Manager) OnPriceUpdate(symbol string, price float64) {
	m.prices.Update(symbol, price)
	m.books.UpdatePrice(symbol, price)
}

// OnUnderlyingUpdate feeds a live underlying price for a product.
func (m *Manager) OnUnderlyingUpdate(product string, price float64) {
	m.prices.UpdateUnderlying(product, price)
}

// commission is the brokerage fee for a fill: a flat fee or a
// percentage of value, whichever is lower.
func (m *Manager) commission(value float64) float64 {
	percentage := value * m.cfg.Trading.CommissionPercent
	if percentage < m.cfg.Trading.CommissionFlat {
		return percentage
	}
	return m.cfg.Trading.CommissionFlat
}

// validateRequest checks an order request before any state is touched.
func validateRequest(userID string, req *models.OrderRequest) error {
	if userID == "" {
		return errors.NewValidationError("user_id", userID, "user id is required")
	}
	if req.Symbol == "" {
		return errors.NewValidationError("symbol", req.Symbol, "symbol is required")
	}
	if req.Quantity <= 0 {
		return errors.NewValidationError("quantity", req.Quantity, "quantity must be positive")
	}
	if req.Side != models.OrderSideBuy && req.Side != models.OrderSideSell {
		return errors.NewValidationError("side", string(req.Side), "side must be BUY or SELL")
	}
	switch req.Type {
	case models.OrderTypeMarket:
		if req.Price != 0 {
			return errors.NewValidationError("price", req.Price, "market orders cannot carry a price")
		}
	case models.OrderTypeLimit:
		if req.Price <= 0 {
			return errors.NewValidationError("price", req.Price, "limit orders require a positive price")
		}
	default:
		return errors.NewValidationError("type", string(req.Type), "type must be MARKET or LIMIT")
	}
	return nil
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}

// newID builds an id like ORD_20260827_3FA2B1C4.
func newID(prefix string) string {
	u := uuid.New()
	return prefix + "_" + time.Now().Format("20060102") + "_" + strings.ToUpper(hex.EncodeToString(u[:4]))
}
