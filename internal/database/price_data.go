package database

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/trogers1052/stock-risk-engine/internal/models"
)

// SavePriceBars upserts daily bars in one transaction
func (db *DB) SavePriceBars(bars models.PriceSeries) error {
	if len(bars) == 0 {
		return nil
	}

	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT INTO price_data_daily (symbol, date, open, high, low, close, volume, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (symbol, date) DO UPDATE SET
			open = EXCLUDED.open,
			high = EXCLUDED.high,
			low = EXCLUDED.low,
			close = EXCLUDED.close,
			volume = EXCLUDED.volume
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	now := time.Now()
	for _, b := range bars {
		symbol := strings.ToUpper(b.Symbol)
		// bars are keyed by UTC calendar day
		day := b.Date.UTC().Truncate(24 * time.Hour)
		if _, err := stmt.Exec(symbol, day, b.Open, b.High, b.Low, b.Close, b.Volume, now); err != nil {
			return fmt.Errorf("failed to upsert %s bar for %s: %w", symbol, day.Format("2006-01-02"), err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// GetRecentPriceBars returns up to limit of the latest bars for symbol, oldest first
func (db *DB) GetRecentPriceBars(symbol string, limit int) (models.PriceSeries, error) {
	query := `
		SELECT id, symbol, date, open, high, low, close, volume
		FROM price_data_daily
		WHERE symbol = $1
		ORDER BY date DESC
		LIMIT $2
	`
	rows, err := db.conn.Query(query, strings.ToUpper(symbol), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get price data: %w", err)
	}
	defer rows.Close()

	var series models.PriceSeries
	for rows.Next() {
		var b models.PriceBar
		if err := rows.Scan(&b.ID, &b.Symbol, &b.Date, &b.Open, &b.High, &b.Low, &b.Close, &b.Volume); err != nil {
			return nil, fmt.Errorf("failed to scan price data: %w", err)
		}
		series = append(series, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read price data: %w", err)
	}

	slices.Reverse(series)
	return series, nil
}

// DeletePriceDataOlderThan removes bars dated before date
func (db *DB) DeletePriceDataOlderThan(date time.Time) (int64, error) {
	query := `DELETE FROM price_data_daily WHERE date < $1`
	result, err := db.conn.Exec(query, date)
	if err != nil {
		return 0, fmt.Errorf("failed to delete old price data: %w", err)
	}
	return result.RowsAffected()
}
