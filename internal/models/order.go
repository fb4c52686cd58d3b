package models

import "time"

// Order represents a trading order. Only the order manager mutates the
// status and fill fields, and never after the status turns terminal.
type Order struct {
	ID             string
	UserID         string
	Symbol         string
	Product        string
	Strike         *float64
	Expiry         *time.Time
	OptionType     *OptionType
	Type           OrderType
	Side           OrderSide
	Quantity       int
	Price          float64 // limit price, meaningful only when Type is LIMIT
	Status         OrderStatus
	FilledQuantity int
	AvgFillPrice   float64 // 0 until the first fill
	PlacedAt       time.Time
	FilledAt       *time.Time
	RejectReason   string
}

// LimitPrice returns the limit price and whether the order carries one.
// MARKET orders never carry a price.
func (o *Order) LimitPrice() (float64, bool) {
	if o.Type == OrderTypeLimit {
		return o.Price, true
	}
	return 0, false
}

// OrderRequest is the caller-supplied payload for placing an order.
type OrderRequest struct {
	Symbol     string
	Product    string
	Strike     *float64
	Expiry     *time.Time
	OptionType *OptionType
	Type       OrderType
	Side       OrderSide
	Quantity   int
	Price      float64 // required iff Type is LIMIT
}

// Trade represents one matched fill. Trade records are append-only:
// they are the authoritative ledger for realized P&L reconstruction.
type Trade struct {
	ID         string
	OrderID    string
	UserID     string
	Symbol     string
	Side       OrderSide
	Quantity   int
	Price      float64
	Value      float64
	Commission float64
	NetValue   float64
	ExecutedAt time.Time
}
