package database

import (
	"fmt"

	"github.com/trogers1052/stock-risk-engine/internal/models"
)

// CreateTriggerEvent records a fired order and sets its ID
func (db *DB) CreateTriggerEvent(e *models.TriggerEvent) error {
	query := `
		INSERT INTO trigger_events (order_id, symbol, trigger_type, reason, exit_price, quantity, realized_pnl, triggered_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id
	`
	err := db.conn.QueryRow(query,
		e.OrderID, e.Symbol, e.TriggerType, e.Reason, e.ExitPrice, e.Quantity, e.RealizedPnL, e.Timestamp,
	).Scan(&e.ID)
	if err != nil {
		return fmt.Errorf("failed to create trigger event: %w", err)
	}
	return nil
}

// GetTriggerEventsBySymbol returns the latest events for symbol, newest first
func (db *DB) GetTriggerEventsBySymbol(symbol string, limit int) ([]*models.TriggerEvent, error) {
	query := `
		SELECT id, order_id, symbol, trigger_type, reason, exit_price, quantity, realized_pnl, triggered_at
		FROM trigger_events
		WHERE symbol = $1
		ORDER BY triggered_at DESC
		LIMIT $2
	`
	rows, err := db.conn.Query(query, symbol, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get trigger events: %w", err)
	}
	defer rows.Close()

	var events []*models.TriggerEvent
	for rows.Next() {
		var e models.TriggerEvent
		err := rows.Scan(
			&e.ID, &e.OrderID, &e.Symbol, &e.TriggerType, &e.Reason, &e.ExitPrice, &e.Quantity, &e.RealizedPnL, &e.Timestamp,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan trigger event: %w", err)
		}
		events = append(events, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read trigger events: %w", err)
	}
	return events, nil
}
