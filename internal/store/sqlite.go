package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"paper-trader/internal/errors"
	"paper-trader/internal/models"
)

// SQLiteStore implements DataStore using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite-based data store.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool for concurrent access
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	store := &SQLiteStore{db: db}

	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

// initSchema creates all required tables and indexes.
func (s *SQLiteStore) initSchema() error {
	schema := `
	-- Orders table: full order lifecycle records
	CREATE TABLE IF NOT EXISTS orders (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		symbol TEXT NOT NULL,
		product TEXT NOT NULL,
		strike REAL,
		expiry DATETIME,
		option_type TEXT,
		order_type TEXT NOT NULL,
		side TEXT NOT NULL,
		quantity INTEGER NOT NULL,
		price REAL NOT NULL DEFAULT 0,
		status TEXT NOT NULL,
		filled_quantity INTEGER NOT NULL DEFAULT 0,
		avg_fill_price REAL NOT NULL DEFAULT 0,
		placed_at DATETIME NOT NULL,
		filled_at DATETIME,
		rejection_reason TEXT NOT NULL DEFAULT ''
	);

	-- Trades table: append-only fill ledger
	CREATE TABLE IF NOT EXISTS trades (
		id TEXT PRIMARY KEY,
		order_id TEXT NOT NULL,
		user_id TEXT NOT NULL,
		symbol TEXT NOT NULL,
		side TEXT NOT NULL,
		quantity INTEGER NOT NULL,
		price REAL NOT NULL,
		value REAL NOT NULL,
		commission REAL NOT NULL,
		net_value REAL NOT NULL,
		executed_at DATETIME NOT NULL
	);

	-- Positions table: one row per open (user, symbol)
	CREATE TABLE IF NOT EXISTS positions (
		user_id TEXT NOT NULL,
		symbol TEXT NOT NULL,
		product TEXT NOT NULL,
		strike REAL,
		expiry DATETIME,
		option_type TEXT,
		quantity INTEGER NOT NULL,
		avg_entry_price REAL NOT NULL,
		current_price REAL NOT NULL DEFAULT 0,
		unrealized_pnl REAL NOT NULL DEFAULT 0,
		margin_required REAL NOT NULL DEFAULT 0,
		opened_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL,
		PRIMARY KEY (user_id, symbol)
	);

	-- Portfolios table: per-user account aggregates
	CREATE TABLE IF NOT EXISTS portfolios (
		user_id TEXT PRIMARY KEY,
		cash_balance REAL NOT NULL,
		margin_used REAL NOT NULL DEFAULT 0,
		margin_available REAL NOT NULL,
		realized_pnl REAL NOT NULL DEFAULT 0,
		unrealized_pnl REAL NOT NULL DEFAULT 0,
		total_pnl REAL NOT NULL DEFAULT 0,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);

	-- Create indexes for performance
	CREATE INDEX IF NOT EXISTS idx_orders_user_placed ON orders(user_id, placed_at);
	CREATE INDEX IF NOT EXISTS idx_orders_user_status ON orders(user_id, status);
	CREATE INDEX IF NOT EXISTS idx_trades_user_executed ON trades(user_id, executed_at);
	CREATE INDEX IF NOT EXISTS idx_trades_symbol_executed ON trades(symbol, executed_at);
	CREATE INDEX IF NOT EXISTS idx_positions_user ON positions(user_id);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// ============================================================================
// Orders Methods
// ============================================================================

// SaveOrder inserts a new order record.
func (s *SQLiteStore) SaveOrder(ctx context.Context, order *models.Order) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO orders (id, user_id, symbol, product, strike, expiry, option_type, order_type, side, quantity, price, status, filled_quantity, avg_fill_price, placed_at, filled_at, rejection_reason)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, order.ID, order.UserID, order.Symbol, order.Product,
		nullFloat(order.Strike), nullTime(order.Expiry), nullOption(order.OptionType),
		order.Type, order.Side, order.Quantity, order.Price, order.Status,
		order.FilledQuantity, order.AvgFillPrice, order.PlacedAt, nullTime(order.FilledAt), order.RejectReason)
	if err != nil {
		return fmt.Errorf("failed to save order: %w", err)
	}
	return nil
}

// UpdateOrder rewrites the mutable fields of an existing order.
func (s *SQLiteStore) UpdateOrder(ctx context.Context, order *models.Order) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE orders SET status = ?, filled_quantity = ?, avg_fill_price = ?, filled_at = ?, rejection_reason = ?
		WHERE id = ? AND user_id = ?
	`, order.Status, order.FilledQuantity, order.AvgFillPrice, nullTime(order.FilledAt), order.RejectReason,
		order.ID, order.UserID)
	if err != nil {
		return fmt.Errorf("failed to update order: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update order: %w", err)
	}
	if rows == 0 {
		return errors.ErrOrderNotFound
	}
	return nil
}

const orderColumns = `id, user_id, symbol, product, strike, expiry, option_type, order_type, side, quantity, price, status, filled_quantity, avg_fill_price, placed_at, filled_at, rejection_reason`

// GetOrder retrieves a single order scoped to a user.
func (s *SQLiteStore) GetOrder(ctx context.Context, userID, orderID string) (*models.Order, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+orderColumns+` FROM orders WHERE id = ? AND user_id = ?
	`, orderID, userID)

	order, err := scanOrder(row)
	if err == sql.ErrNoRows {
		return nil, errors.ErrOrderNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get order: %w", err)
	}
	return order, nil
}

// GetOrders retrieves orders for a user, most recent first.
func (s *SQLiteStore) GetOrders(ctx context.Context, filter OrderFilter) ([]models.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE user_id = ?`
	args := []interface{}{filter.UserID}

	if filter.Status != "" {
		query += " AND status = ?"
		args = append(args, filter.Status)
	}

	query += " ORDER BY placed_at DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query orders: %w", err)
	}
	defer rows.Close()

	var orders []models.Order
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan order: %w", err)
		}
		orders = append(orders, *order)
	}

	return orders, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanOrder(row rowScanner) (*models.Order, error) {
	var o models.Order
	var strike sql.NullFloat64
	var expiry, filledAt sql.NullTime
	var optionType sql.NullString

	err := row.Scan(&o.ID, &o.UserID, &o.Symbol, &o.Product, &strike, &expiry, &optionType,
		&o.Type, &o.Side, &o.Quantity, &o.Price, &o.Status,
		&o.FilledQuantity, &o.AvgFillPrice, &o.PlacedAt, &filledAt, &o.RejectReason)
	if err != nil {
		return nil, err
	}

	if strike.Valid {
		o.Strike = &strike.Float64
	}
	if expiry.Valid {
		t := expiry.Time
		o.Expiry = &t
	}
	if optionType.Valid {
		ot := models.OptionType(optionType.String)
		o.OptionType = &ot
	}
	if filledAt.Valid {
		t := filledAt.Time
		o.FilledAt = &t
	}

	return &o, nil
}

// ============================================================================
// Trades Methods
// ============================================================================

// SaveTrade appends a trade record. Trades are never updated or deleted.
func (s *SQLiteStore) SaveTrade(ctx context.Context, trade *models.Trade) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO trades (id, order_id, user_id, symbol, side, quantity, price, value, commission, net_value, executed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, trade.ID, trade.OrderID, trade.UserID, trade.Symbol, trade.Side,
		trade.Quantity, trade.Price, trade.Value, trade.Commission, trade.NetValue, trade.ExecutedAt)
	if err != nil {
		return fmt.Errorf("failed to save trade: %w", err)
	}
	return nil
}

// GetTrades retrieves trades, most recent first.
func (s *SQLiteStore) GetTrades(ctx context.Context, filter TradeFilter) ([]models.Trade, error) {
	query := `SELECT id, order_id, user_id, symbol, side, quantity, price, value, commission, net_value, executed_at FROM trades WHERE 1=1`
	args := []interface{}{}

	if filter.UserID != "" {
		query += " AND user_id = ?"
		args = append(args, filter.UserID)
	}
	if filter.Symbol != "" {
		query += " AND symbol = ?"
		args = append(args, filter.Symbol)
	}
	if filter.Side != "" {
		query += " AND side = ?"
		args = append(args, filter.Side)
	}
	if !filter.Since.IsZero() {
		query += " AND executed_at >= ?"
		args = append(args, filter.Since)
	}

	query += " ORDER BY executed_at DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query trades: %w", err)
	}
	defer rows.Close()

	var trades []models.Trade
	for rows.Next() {
		var t models.Trade
		if err := rows.Scan(&t.ID, &t.OrderID, &t.UserID, &t.Symbol, &t.Side,
			&t.Quantity, &t.Price, &t.Value, &t.Commission, &t.NetValue, &t.ExecutedAt); err != nil {
			return nil, fmt.Errorf("failed to scan trade: %w", err)
		}
		trades = append(trades, t)
	}

	return trades, rows.Err()
}

// ============================================================================
// Positions Methods
// ============================================================================

// SavePosition inserts or replaces the position for a (user, symbol).
func (s *SQLiteStore) SavePosition(ctx context.Context, position *models.Position) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO positions (user_id, symbol, product, strike, expiry, option_type, quantity, avg_entry_price, current_price, unrealized_pnl, margin_required, opened_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, position.UserID, position.Symbol, position.Product,
		nullFloat(position.Strike), nullTime(position.Expiry), nullOption(position.OptionType),
		position.Quantity, position.AvgEntryPrice, position.CurrentPrice,
		position.UnrealizedPnL, position.MarginRequired, position.OpenedAt, position.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to save position: %w", err)
	}
	return nil
}

const positionColumns = `user_id, symbol, product, strike, expiry, option_type, quantity, avg_entry_price, current_price, unrealized_pnl, margin_required, opened_at, updated_at`

// GetPosition retrieves the position for a (user, symbol), or
// ErrPositionNotFound when none is open.
func (s *SQLiteStore) GetPosition(ctx context.Context, userID, symbol string) (*models.Position, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+positionColumns+` FROM positions WHERE user_id = ? AND symbol = ?
	`, userID, symbol)

	position, err := scanPosition(row)
	if err == sql.ErrNoRows {
		return nil, errors.ErrPositionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get position: %w", err)
	}
	return position, nil
}

// GetPositions retrieves all open positions for a user.
func (s *SQLiteStore) GetPositions(ctx context.Context, userID string) ([]models.Position, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+positionColumns+` FROM positions WHERE user_id = ? ORDER BY opened_at ASC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query positions: %w", err)
	}
	defer rows.Close()

	var positions []models.Position
	for rows.Next() {
		position, err := scanPosition(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan position: %w", err)
		}
		positions = append(positions, *position)
	}

	return positions, rows.Err()
}

// DeletePosition removes a closed position.
func (s *SQLiteStore) DeletePosition(ctx context.Context, userID, symbol string) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM positions WHERE user_id = ? AND symbol = ?
	`, userID, symbol)
	if err != nil {
		return fmt.Errorf("failed to delete position: %w", err)
	}
	return nil
}

func scanPosition(row rowScanner) (*models.Position, error) {
	var p models.Position
	var strike sql.NullFloat64
	var expiry sql.NullTime
	var optionType sql.NullString

	err := row.Scan(&p.UserID, &p.Symbol, &p.Product, &strike, &expiry, &optionType,
		&p.Quantity, &p.AvgEntryPrice, &p.CurrentPrice, &p.UnrealizedPnL, &p.MarginRequired,
		&p.OpenedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}

	if strike.Valid {
		p.Strike = &strike.Float64
	}
	if expiry.Valid {
		t := expiry.Time
		p.Expiry = &t
	}
	if optionType.Valid {
		ot := models.OptionType(optionType.String)
		p.OptionType = &ot
	}

	return &p, nil
}

// ============================================================================
// Portfolios Methods
// ============================================================================

// SavePortfolio inserts or replaces a user's portfolio aggregates.
func (s *SQLiteStore) SavePortfolio(ctx context.Context, portfolio *models.Portfolio) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO portfolios (user_id, cash_balance, margin_used, margin_available, realized_pnl, unrealized_pnl, total_pnl, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, portfolio.UserID, portfolio.CashBalance, portfolio.MarginUsed, portfolio.MarginAvailable,
		portfolio.RealizedPnL, portfolio.UnrealizedPnL, portfolio.TotalPnL,
		portfolio.CreatedAt, portfolio.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to save portfolio: %w", err)
	}
	return nil
}

// GetPortfolio retrieves a user's portfolio, or ErrPortfolioNotFound.
func (s *SQLiteStore) GetPortfolio(ctx context.Context, userID string) (*models.Portfolio, error) {
	var p models.Portfolio
	err := s.db.QueryRowContext(ctx, `
		SELECT user_id, cash_balance, margin_used, margin_available, realized_pnl, unrealized_pnl, total_pnl, created_at, updated_at
		FROM portfolios WHERE user_id = ?
	`, userID).Scan(&p.UserID, &p.CashBalance, &p.MarginUsed, &p.MarginAvailable,
		&p.RealizedPnL, &p.UnrealizedPnL, &p.TotalPnL, &p.CreatedAt, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, errors.ErrPortfolioNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get portfolio: %w", err)
	}
	return &p, nil
}

// ============================================================================
// NULL helpers
// ============================================================================

func nullFloat(f *float64) interface{} {
	if f == nil {
		return nil
	}
	return *f
}

func nullTime(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return *t
}

func nullOption(o *models.OptionType) interface{} {
	if o == nil {
		return nil
	}
	return string(*o)
}
