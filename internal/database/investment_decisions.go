package database

import (
	"database/sql"
	"fmt"

	"github.com/trogers1052/stock-risk-engine/internal/models"
)

// CreateInvestmentDecisions inserts one cycle's decisions in a single transaction
func (db *DB) CreateInvestmentDecisions(decisions []models.InvestmentDecision) error {
	if len(decisions) == 0 {
		return nil
	}

	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT INTO investment_decisions (
			symbol, action, quantity, confidence, reasoning, strategy, risk_score, expected_return,
			priority, urgency, trigger_type, stop_loss_price, take_profit_price, created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, d := range decisions {
		_, err := stmt.Exec(
			d.Symbol, d.Action, d.Quantity, d.Confidence, d.Reasoning, d.Strategy, d.RiskScore, d.ExpectedReturn,
			d.Priority, nullString(d.Urgency), nullString(d.TriggerType), nullFloat(d.StopLossPrice),
			nullFloat(d.TakeProfitPrice), d.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to insert decision for %s: %w", d.Symbol, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// GetRecentInvestmentDecisions returns the latest decisions, newest first
func (db *DB) GetRecentInvestmentDecisions(limit int) ([]models.InvestmentDecision, error) {
	query := `
		SELECT symbol, action, quantity, confidence, reasoning, strategy, risk_score, expected_return,
			priority, urgency, trigger_type, stop_loss_price, take_profit_price, created_at
		FROM investment_decisions
		ORDER BY created_at DESC, id DESC
		LIMIT $1
	`
	rows, err := db.conn.Query(query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get investment decisions: %w", err)
	}
	defer rows.Close()

	var decisions []models.InvestmentDecision
	for rows.Next() {
		var d models.InvestmentDecision
		var urgency, triggerType sql.NullString
		var stop, tp sql.NullFloat64

		err := rows.Scan(
			&d.Symbol, &d.Action, &d.Quantity, &d.Confidence, &d.Reasoning, &d.Strategy, &d.RiskScore, &d.ExpectedReturn,
			&d.Priority, &urgency, &triggerType, &stop, &tp, &d.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan investment decision: %w", err)
		}
		d.Urgency = urgency.String
		d.TriggerType = triggerType.String
		if stop.Valid {
			v := stop.Float64
			d.StopLossPrice = &v
		}
		if tp.Valid {
			v := tp.Float64
			d.TakeProfitPrice = &v
		}
		decisions = append(decisions, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read investment decisions: %w", err)
	}
	return decisions, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}
