package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/opensource-finance/heron/internal/domain"
)

// SaveRiskScore appends a score snapshot to the audit trail.
func (r *SQLRepository) SaveRiskScore(ctx context.Context, rec *domain.RiskScoreRecord) error {
	if rec == nil || rec.ID == "" {
		return fmt.Errorf("%w: risk score id is required", domain.ErrValidation)
	}

	factors, err := marshalJSON(rec.Factors)
	if err != nil {
		return storeErr("encode factors", err)
	}

	query := `
		INSERT INTO risk_scores (
			id, customer_id, transaction_id, kind, score, factors, method, calculated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = r.db.ExecContext(ctx, r.rebind(query),
		rec.ID, rec.CustomerID, rec.TransactionID, string(rec.Kind),
		rec.Score.String(), factors, rec.Method, nanos(rec.CalculatedAt),
	)
	if err != nil {
		return storeErr("save risk score", err)
	}
	return nil
}

// ListRiskScores returns the most recent score snapshots of a customer, newest first.
func (r *SQLRepository) ListRiskScores(ctx context.Context, customerID string, limit int) ([]*domain.RiskScoreRecord, error) {
	if limit <= 0 {
		limit = 20
	}

	query := `
		SELECT id, customer_id, transaction_id, kind, score, factors, method, calculated_at
		FROM risk_scores
		WHERE customer_id = ?
		ORDER BY calculated_at DESC, id
		LIMIT ?
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), customerID, limit)
	if err != nil {
		return nil, storeErr("list risk scores", err)
	}
	defer rows.Close()

	var records []*domain.RiskScoreRecord
	for rows.Next() {
		var (
			rec          domain.RiskScoreRecord
			txID         sql.NullString
			factors      sql.NullString
			kind, score  string
			calculatedAt int64
		)
		if err := rows.Scan(
			&rec.ID, &rec.CustomerID, &txID, &kind, &score, &factors, &rec.Method, &calculatedAt,
		); err != nil {
			return nil, storeErr("scan risk score", err)
		}
		if rec.Score, err = decimal.NewFromString(score); err != nil {
			return nil, storeErr("parse risk score", err)
		}
		if err := unmarshalJSON(factors, &rec.Factors); err != nil {
			return nil, storeErr("parse factors", err)
		}
		rec.TransactionID = txID.String
		rec.Kind = domain.ScoreKind(kind)
		rec.CalculatedAt = fromNanos(calculatedAt)
		records = append(records, &rec)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("list risk scores", err)
	}
	return records, nil
}
