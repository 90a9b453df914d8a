package database

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/trogers1052/stock-risk-engine/internal/models"
)

const stopLossOrderColumns = `id, symbol, side, quantity, original_price, stop_loss_price, take_profit_price,
	trailing, trailing_percent, high_water_mark, status, created_at, updated_at, triggered_at`

// SaveStopLossOrder inserts the order or overwrites the stored copy
func (db *DB) SaveStopLossOrder(o *models.StopLossOrder) error {
	query := `
		INSERT INTO stop_loss_orders (` + stopLossOrderColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (id) DO UPDATE SET
			quantity = EXCLUDED.quantity,
			stop_loss_price = EXCLUDED.stop_loss_price,
			take_profit_price = EXCLUDED.take_profit_price,
			trailing = EXCLUDED.trailing,
			trailing_percent = EXCLUDED.trailing_percent,
			high_water_mark = EXCLUDED.high_water_mark,
			status = EXCLUDED.status,
			updated_at = EXCLUDED.updated_at,
			triggered_at = EXCLUDED.triggered_at
	`
	var tp sql.NullFloat64
	if o.TakeProfitPrice != nil {
		tp = sql.NullFloat64{Float64: *o.TakeProfitPrice, Valid: true}
	}
	var triggeredAt sql.NullTime
	if o.TriggeredAt != nil {
		triggeredAt = sql.NullTime{Time: *o.TriggeredAt, Valid: true}
	}

	_, err := db.conn.Exec(query,
		o.ID, o.Symbol, o.Side, o.Quantity, o.OriginalPrice, o.StopLossPrice, tp,
		o.Trailing, o.TrailingPercent, o.HighWaterMark, o.Status, o.CreatedAt, o.UpdatedAt, triggeredAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save stop loss order %s: %w", o.ID, err)
	}
	return nil
}

// GetStopLossOrderByID retrieves one order
func (db *DB) GetStopLossOrderByID(id string) (*models.StopLossOrder, error) {
	query := `SELECT ` + stopLossOrderColumns + ` FROM stop_loss_orders WHERE id = $1`

	o, err := scanStopLossOrder(db.conn.QueryRow(query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("stop loss order %s: %w", id, models.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get stop loss order: %w", err)
	}
	return o, nil
}

// GetActiveStopLossOrders returns every active order, oldest first
func (db *DB) GetActiveStopLossOrders() ([]*models.StopLossOrder, error) {
	query := `
		SELECT ` + stopLossOrderColumns + `
		FROM stop_loss_orders
		WHERE status = $1
		ORDER BY created_at ASC
	`
	return db.queryStopLossOrders(query, models.OrderStatusActive)
}

// GetStopLossOrdersBySymbol returns the latest orders for symbol in any status
func (db *DB) GetStopLossOrdersBySymbol(symbol string, limit int) ([]*models.StopLossOrder, error) {
	query := `
		SELECT ` + stopLossOrderColumns + `
		FROM stop_loss_orders
		WHERE symbol = $1
		ORDER BY created_at DESC
		LIMIT $2
	`
	return db.queryStopLossOrders(query, symbol, limit)
}

func (db *DB) queryStopLossOrders(query string, args ...any) ([]*models.StopLossOrder, error) {
	rows, err := db.conn.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to get stop loss orders: %w", err)
	}
	defer rows.Close()

	var orders []*models.StopLossOrder
	for rows.Next() {
		o, err := scanStopLossOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan stop loss order: %w", err)
		}
		orders = append(orders, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read stop loss orders: %w", err)
	}
	return orders, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanStopLossOrder(row rowScanner) (*models.StopLossOrder, error) {
	var o models.StopLossOrder
	var tp sql.NullFloat64
	var triggeredAt sql.NullTime

	err := row.Scan(
		&o.ID, &o.Symbol, &o.Side, &o.Quantity, &o.OriginalPrice, &o.StopLossPrice, &tp,
		&o.Trailing, &o.TrailingPercent, &o.HighWaterMark, &o.Status, &o.CreatedAt, &o.UpdatedAt, &triggeredAt,
	)
	if err != nil {
		return nil, err
	}
	if tp.Valid {
		v := tp.Float64
		o.TakeProfitPrice = &v
	}
	if triggeredAt.Valid {
		t := triggeredAt.Time
		o.TriggeredAt = &t
	}
	return &o, nil
}
