// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"time"

	"paper-trader/internal/models"
)

// DataStore defines the interface for data persistence.
type DataStore interface {
	// Orders
	SaveOrder(ctx context.Context, order *models.Order) error
	UpdateOrder(ctx context.Context, order *models.Order) error
	GetOrder(ctx context.Context, userID, orderID string) (*models.Order, error)
	GetOrders(ctx context.Context, filter OrderFilter) ([]models.Order, error)

	// Trades
	SaveTrade(ctx context.Context, trade *models.Trade) error
	GetTrades(ctx context.Context, filter TradeFilter) ([]models.Trade, error)

	// Positions
	SavePosition(ctx context.Context, position *models.Position) error
	GetPosition(ctx context.Context, userID, symbol string) (*models.Position, error)
	GetPositions(ctx context.Context, userID string) ([]models.Position, error)
	DeletePosition(ctx context.Context, userID, symbol string) error

	// Portfolios
	SavePortfolio(ctx context.Context, portfolio *models.Portfolio) error
	GetPortfolio(ctx context.Context, userID string) (*models.Portfolio, error)

	// Lifecycle
	Close() error
}

// OrderFilter represents filters for querying orders.
type OrderFilter struct {
	UserID string
	Status models.OrderStatus
	Limit  int
}

// TradeFilter represents filters for querying trades.
type TradeFilter struct {
	UserID string
	Symbol string
	Side   models.OrderSide
	Since  time.Time
	Limit  int
}
