package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/mattn/go-sqlite3" // SQLite driver

	"tradingEngine/internal/domain"
	"tradingEngine/internal/ports"
)

// Repository implements ports.OrderRepository using SQLite.
//
// Every order the engine constructs is kept for audit, whether it was forwarded or
// rejected. Rows are scoped by a run ID so order IDs, which restart at ORD1 in each
// process, never collide across runs.
type Repository struct {
	db     *sql.DB
	logger ports.Logger
	runID  string
}

// Config holds configuration for the SQLite repository.
type Config struct {
	DBPath string
	Logger ports.Logger
	RunID  string // Defaults to a fresh UUID
}

var _ ports.OrderRepository = (*Repository)(nil)

// NewRepository creates a new SQLite repository instance.
func NewRepository(cfg Config) (*Repository, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for SQLite repository")
	}
	ctx := context.Background()
	dbPath := cfg.DBPath
	if dbPath == "" {
		dbPath = "./data/trading_engine.db"
	}
	runID := cfg.RunID
	if runID == "" {
		runID = uuid.NewString()
	}

	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		err = fmt.Errorf("failed to create data directory '%s': %w", filepath.Dir(dbPath), err)
		cfg.Logger.Error(ctx, err, "SQLite repository initialization failed")
		return nil, err
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000") // WAL mode for better concurrency
	if err != nil {
		err = fmt.Errorf("failed to open database at '%s': %w", dbPath, err)
		cfg.Logger.Error(ctx, err, "SQLite repository initialization failed")
		return nil, err
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		err = fmt.Errorf("failed to ping database at '%s': %w: %v", dbPath, ports.ErrDBConnection, err)
		cfg.Logger.Error(ctx, err, "SQLite repository initialization failed")
		return nil, err
	}

	// A single connection serializes writers from the control loop.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	repo := &Repository{db: db, logger: cfg.Logger, runID: runID}
	if err := repo.initializeSchema(ctx); err != nil {
		db.Close()
		err = fmt.Errorf("failed to initialize database schema: %w", err)
		cfg.Logger.Error(ctx, err, "SQLite repository initialization failed")
		return nil, err
	}
	cfg.Logger.Info(ctx, "SQLite order repository ready", ports.Fields{"path": dbPath, "runID": runID})

	return repo, nil
}

// initializeSchema creates tables if they don't exist.
func (r *Repository) initializeSchema(ctx context.Context) error {
	const schema = `
	CREATE TABLE IF NOT EXISTS orders (
		run_id TEXT NOT NULL,
		order_id TEXT NOT NULL,
		symbol TEXT NOT NULL,
		side TEXT NOT NULL,
		type TEXT NOT NULL,
		quantity REAL NOT NULL,
		price REAL NOT NULL DEFAULT 0,
		status TEXT NOT NULL,
		filled_quantity REAL NOT NULL DEFAULT 0,
		avg_fill_price REAL NOT NULL DEFAULT 0,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL,
		PRIMARY KEY (run_id, order_id)
	);

	CREATE TABLE IF NOT EXISTS fills (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL,
		order_id TEXT NOT NULL,
		client_order_id TEXT NOT NULL DEFAULT '',
		exchange_order_id INTEGER NOT NULL DEFAULT 0,
		symbol TEXT NOT NULL,
		side TEXT NOT NULL,
		status TEXT NOT NULL,
		quantity REAL NOT NULL,
		price REAL NOT NULL,
		reason TEXT NULL,
		filled_at TIMESTAMP NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_orders_run_symbol_created ON orders (run_id, symbol, created_at);
	CREATE INDEX IF NOT EXISTS idx_fills_run_order ON fills (run_id, order_id);
	`
	if _, err := r.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to execute schema initialization: %w", err)
	}
	return nil
}

// RunID returns the identifier scoping this repository's rows.
func (r *Repository) RunID() string {
	return r.runID
}

// Close closes the database connection.
func (r *Repository) Close() error {
	if r.db != nil {
		r.logger.Info(context.Background(), "Closing SQLite database connection")
		return r.db.Close()
	}
	return nil
}

// CreateOrder stores a new order.
func (r *Repository) CreateOrder(ctx context.Context, order *domain.Order) error {
	const query = `
	INSERT INTO orders (run_id, order_id, symbol, side, type, quantity, price, status,
	                    filled_quantity, avg_fill_price, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := r.db.ExecContext(ctx, query,
		r.runID, order.ID, order.Symbol, string(order.Side), string(order.Type), order.Quantity, order.Price,
		string(order.Status), order.FilledQuantity, order.AvgFillPrice, order.CreatedAt, order.UpdatedAt)
	if err != nil {
		if isConstraintViolation(err) {
			return fmt.Errorf("order %s already stored: %w", order.ID, ports.ErrDuplicateEntry)
		}
		return fmt.Errorf("failed to insert order %s: %w: %v", order.ID, ports.ErrQueryFailed, err)
	}
	r.logger.Debug(ctx, "Order stored", ports.Fields{"orderID": order.ID, "symbol": order.Symbol, "status": order.Status})
	return nil
}

// UpdateOrder overwrites the mutable fields of an order.
func (r *Repository) UpdateOrder(ctx context.Context, order *domain.Order) error {
	const query = `
	UPDATE orders
	SET price = ?, status = ?, filled_quantity = ?, avg_fill_price = ?, updated_at = ?
	WHERE run_id = ? AND order_id = ?`

	result, err := r.db.ExecContext(ctx, query,
		order.Price, string(order.Status), order.FilledQuantity, order.AvgFillPrice, order.UpdatedAt,
		r.runID, order.ID)
	if err != nil {
		return fmt.Errorf("failed to update order %s: %w: %v", order.ID, ports.ErrUpdateFailed, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected for update order %s: %w", order.ID, err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("order %s not found for update: %w", order.ID, ports.ErrNotFound)
	}
	r.logger.Debug(ctx, "Order updated", ports.Fields{"orderID": order.ID, "status": order.Status})
	return nil
}

const orderColumns = `order_id, symbol, side, type, quantity, price, status,
	       filled_quantity, avg_fill_price, created_at, updated_at`

// FindOrderByID retrieves an order of the current run. Returns nil, nil if not found.
func (r *Repository) FindOrderByID(ctx context.Context, id string) (*domain.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE run_id = ? AND order_id = ?`

	order, err := scanOrder(r.db.QueryRowContext(ctx, query, r.runID, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query order %s: %w: %v", id, ports.ErrQueryFailed, err)
	}
	return order, nil
}

// FindOrdersBySymbol retrieves the most recent orders of the current run for symbol.
func (r *Repository) FindOrdersBySymbol(ctx context.Context, symbol string, limit int) ([]*domain.Order, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT ` + orderColumns + `
	FROM orders
	WHERE run_id = ? AND symbol = ?
	ORDER BY created_at DESC, rowid DESC
	LIMIT ?`

	rows, err := r.db.QueryContext(ctx, query, r.runID, symbol, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query orders for symbol %s: %w: %v", symbol, ports.ErrQueryFailed, err)
	}
	defer rows.Close()

	var orders []*domain.Order
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan order row: %w", err)
		}
		orders = append(orders, order)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating order rows: %w", err)
	}
	return orders, nil
}

// CreateFill stores an execution report and returns its assigned ID.
func (r *Repository) CreateFill(ctx context.Context, fill *domain.Fill) (int64, error) {
	const query = `
	INSERT INTO fills (run_id, order_id, client_order_id, exchange_order_id, symbol, side, status,
	                   quantity, price, reason, filled_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	var reason sql.NullString
	if fill.Reason != "" {
		reason = sql.NullString{String: fill.Reason, Valid: true}
	}
	result, err := r.db.ExecContext(ctx, query,
		r.runID, fill.OrderID, fill.ClientOrderID, fill.ExchangeOrderID, fill.Symbol, string(fill.Side),
		string(fill.Status), fill.Quantity, fill.Price, reason, fill.Timestamp)
	if err != nil {
		return 0, fmt.Errorf("failed to insert fill for order %s: %w: %v", fill.OrderID, ports.ErrQueryFailed, err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get last insert ID for fill of order %s: %w", fill.OrderID, err)
	}
	r.logger.Debug(ctx, "Fill stored", ports.Fields{"fillID": id, "orderID": fill.OrderID, "status": fill.Status})
	return id, nil
}

// CountOrdersByStatus counts the orders of the current run in each status.
func (r *Repository) CountOrdersByStatus(ctx context.Context) (map[domain.OrderStatus]int, error) {
	const query = `SELECT status, COUNT(*) FROM orders WHERE run_id = ? GROUP BY status`

	rows, err := r.db.QueryContext(ctx, query, r.runID)
	if err != nil {
		return nil, fmt.Errorf("failed to count orders: %w: %v", ports.ErrQueryFailed, err)
	}
	defer rows.Close()

	counts := make(map[domain.OrderStatus]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("failed to scan order count: %w", err)
		}
		counts[domain.OrderStatus(status)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating order counts: %w", err)
	}
	return counts, nil
}

// --- Helper Scan Functions ---

// scanner defines an interface compatible with *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

// scanOrder scans a row into a domain.Order struct.
func scanOrder(s scanner) (*domain.Order, error) {
	o := &domain.Order{}
	var side, orderType, status string
	err := s.Scan(
		&o.ID, &o.Symbol, &side, &orderType, &o.Quantity, &o.Price, &status,
		&o.FilledQuantity, &o.AvgFillPrice, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return nil, err // Handle sql.ErrNoRows in the caller
	}
	o.Side = domain.OrderSide(side)
	o.Type = domain.OrderType(orderType)
	o.Status = domain.OrderStatus(status)
	return o, nil
}

func isConstraintViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code == sqlite3.ErrConstraint
	}
	return false
}
