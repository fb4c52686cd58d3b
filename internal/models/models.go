// Package models provides domain models for the paper trading engine.
package models

import "time"

// OrderSide represents the side of an order.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "BUY"
	OrderSideSell OrderSide = "SELL"
)

// OrderType represents the type of an order.
type OrderType string

const (
	OrderTypeMarket OrderType = "MARKET"
	OrderTypeLimit  OrderType = "LIMIT"
)

// OrderStatus represents the lifecycle state of an order.
type OrderStatus string

const (
	OrderPending         OrderStatus = "PENDING"
	OrderFilled          OrderStatus = "FILLED"
	OrderPartiallyFilled OrderStatus = "PARTIALLY_FILLED"
	OrderCancelled       OrderStatus = "CANCELLED"
	OrderRejected        OrderStatus = "REJECTED"
)

// Terminal reports whether the status permits no further transitions.
// Every status except PENDING is terminal.
func (s OrderStatus) Terminal() bool {
	return s != OrderPending
}

// OptionType represents the type of an option contract.
type OptionType string

const (
	OptionCall OptionType = "CE"
	OptionPut  OptionType = "PE"
)

// Period represents a P&L reporting period.
type Period string

const (
	PeriodToday Period = "today"
	PeriodWeek  Period = "week"
	PeriodMonth Period = "month"
	PeriodYear  Period = "year"
	PeriodAll   Period = "all"
)

// Start returns the start time of the period relative to now.
func (p Period) Start(now time.Time) time.Time {
	switch p {
	case PeriodToday:
		return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	case PeriodWeek:
		return now.AddDate(0, 0, -7)
	case PeriodMonth:
		return now.AddDate(0, 0, -30)
	case PeriodYear:
		return now.AddDate(0, 0, -365)
	default:
		return time.Time{}
	}
}

// DepthLevel is one price level in a market depth snapshot.
type DepthLevel struct {
	Price    float64
	Quantity int
}

// MarketDepth is a snapshot of an order book.
type MarketDepth struct {
	Symbol    string
	MidPrice  float64
	LastTrade float64
	BestBid   float64
	BestAsk   float64
	Spread    float64
	Bids      []DepthLevel
	Asks      []DepthLevel
}
