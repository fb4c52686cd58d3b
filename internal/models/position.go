package models

import "time"

// Position represents an open position for one (user, symbol) pair.
// Quantity is signed: positive for long, negative for short. The entry
// price only changes when a fill increases the directional exposure.
type Position struct {
	UserID         string
	Symbol         string
	Product        string
	Strike         *float64
	Expiry         *time.Time
	OptionType     *OptionType
	Quantity       int
	AvgEntryPrice  float64
	CurrentPrice   float64
	UnrealizedPnL  float64
	MarginRequired float64
	OpenedAt       time.Time
	UpdatedAt      time.Time
}

// Portfolio represents a user's account aggregates. MarginAvailable is
// recomputed as CashBalance minus MarginUsed, never stored as ground
// truth on its own.
type Portfolio struct {
	UserID          string
	CashBalance     float64
	MarginUsed      float64
	MarginAvailable float64
	RealizedPnL     float64
	UnrealizedPnL   float64
	TotalPnL        float64
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// PnLSummary is a per-period P&L report.
type PnLSummary struct {
	Period         Period
	RealizedPnL    float64
	UnrealizedPnL  float64
	TotalPnL       float64
	ReturnsPercent float64
	InitialCapital float64
	CurrentValue   float64
}

// PerformanceMetrics holds trade-pairing based performance statistics.
type PerformanceMetrics struct {
	TotalTrades  int
	ClosedTrades int
	WinRate      float64
	AvgProfit    float64
	AvgLoss      float64
	ProfitFactor float64
	TotalProfit  float64
	TotalLoss    float64
}

// RiskMetrics is a snapshot of a user's current risk utilization.
type RiskMetrics struct {
	MarginUsed         float64
	MarginAvailable    float64
	MarginUtilization  float64
	OpenPositions      int
	MaxPositions       int
	TotalPnL           float64
	DailyLossLimit     float64
	ExposureByProduct  map[string]float64
	MaxConcentration   float64
	ConcentrationLimit float64
}
