package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/opensource-finance/heron/internal/domain"
)

const alertColumns = `
	id, transaction_id, customer_id, severity, status, title, description,
	rule_ids, risk_score, reviewed_by, reviewed_at, review_notes, resolution_notes,
	history, created_at, updated_at
`

// SaveAlert inserts or updates an alert together with its review history.
func (r *SQLRepository) SaveAlert(ctx context.Context, alert *domain.Alert) error {
	if alert == nil || alert.ID == "" {
		return fmt.Errorf("%w: alert id is required", domain.ErrValidation)
	}

	ruleIDs, err := marshalJSON(alert.RuleIDs)
	if err != nil {
		return storeErr("encode rule ids", err)
	}
	history, err := marshalJSON(alert.History)
	if err != nil {
		return storeErr("encode review history", err)
	}

	now := time.Now().UTC()
	createdAt := alert.CreatedAt
	if createdAt.IsZero() {
		createdAt = now
	}
	updatedAt := alert.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = now
	}

	query := `
		INSERT INTO alerts (` + alertColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			severity = excluded.severity,
			status = excluded.status,
			title = excluded.title,
			description = excluded.description,
			rule_ids = excluded.rule_ids,
			risk_score = excluded.risk_score,
			reviewed_by = excluded.reviewed_by,
			reviewed_at = excluded.reviewed_at,
			review_notes = excluded.review_notes,
			resolution_notes = excluded.resolution_notes,
			history = excluded.history,
			updated_at = excluded.updated_at
	`

	_, err = r.db.ExecContext(ctx, r.rebind(query),
		alert.ID, alert.TransactionID, alert.CustomerID,
		string(alert.Severity), string(alert.Status),
		alert.Title, alert.Description,
		ruleIDs, alert.RiskScore.String(),
		alert.ReviewedBy, nullNanos(alert.ReviewedAt), alert.ReviewNotes, alert.ResolutionNotes,
		history, nanos(createdAt), nanos(updatedAt),
	)
	if err != nil {
		return storeErr("save alert", err)
	}
	return nil
}

// GetAlert retrieves an alert by ID.
func (r *SQLRepository) GetAlert(ctx context.Context, alertID string) (*domain.Alert, error) {
	query := `SELECT ` + alertColumns + ` FROM alerts WHERE id = ?`

	a, err := scanAlert(r.db.QueryRowContext(ctx, r.rebind(query), alertID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: alert %s", domain.ErrNotFound, alertID)
	}
	if err != nil {
		return nil, storeErr("get alert", err)
	}
	return a, nil
}

// ListAlerts returns alerts matching filter, newest first.
func (r *SQLRepository) ListAlerts(ctx context.Context, filter domain.AlertFilter) ([]*domain.Alert, error) {
	var (
		where []string
		args  []any
	)
	if filter.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(filter.Status))
	}
	if filter.Severity != "" {
		where = append(where, "severity = ?")
		args = append(args, string(filter.Severity))
	}
	if filter.CustomerID != "" {
		where = append(where, "customer_id = ?")
		args = append(args, filter.CustomerID)
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}

	query := `SELECT ` + alertColumns + ` FROM alerts`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY created_at DESC, id LIMIT ?`
	args = append(args, limit)

	rows, err := r.db.QueryContext(ctx, r.rebind(query), args...)
	if err != nil {
		return nil, storeErr("list alerts", err)
	}
	defer rows.Close()

	var alerts []*domain.Alert
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, storeErr("scan alert", err)
		}
		alerts = append(alerts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("list alerts", err)
	}
	return alerts, nil
}

func scanAlert(row scanner) (*domain.Alert, error) {
	var (
		a                                        domain.Alert
		severity, status, score                  string
		ruleIDs, history                         sql.NullString
		reviewedBy, reviewNotes, resolutionNotes sql.NullString
		reviewedAt                               sql.NullInt64
		createdAt, updatedAt                     int64
	)

	err := row.Scan(
		&a.ID, &a.TransactionID, &a.CustomerID, &severity, &status, &a.Title, &a.Description,
		&ruleIDs, &score, &reviewedBy, &reviewedAt, &reviewNotes, &resolutionNotes,
		&history, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	a.RiskScore, err = decimal.NewFromString(score)
	if err != nil {
		return nil, fmt.Errorf("parse risk score of alert %s: %w", a.ID, err)
	}
	if err := unmarshalJSON(ruleIDs, &a.RuleIDs); err != nil {
		return nil, fmt.Errorf("parse rule ids of alert %s: %w", a.ID, err)
	}
	if err := unmarshalJSON(history, &a.History); err != nil {
		return nil, fmt.Errorf("parse history of alert %s: %w", a.ID, err)
	}

	a.Severity = domain.Severity(severity)
	a.Status = domain.AlertStatus(status)
	a.ReviewedBy = reviewedBy.String
	a.ReviewedAt = fromNullNanos(reviewedAt)
	a.ReviewNotes = reviewNotes.String
	a.ResolutionNotes = resolutionNotes.String
	a.CreatedAt = fromNanos(createdAt)
	a.UpdatedAt = fromNanos(updatedAt)

	return &a, nil
}

// OpenAlertCounts returns the number of OPEN alerts per severity. Every
// severity is present in the result, zero when none are open.
func (r *SQLRepository) OpenAlertCounts(ctx context.Context) (map[domain.Severity]int, error) {
	query := `
		SELECT severity, COUNT(*)
		FROM alerts
		WHERE status = ?
		GROUP BY severity
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), string(domain.AlertOpen))
	if err != nil {
		return nil, storeErr("open alert counts", err)
	}
	defer rows.Close()

	counts := make(map[domain.Severity]int, len(domain.Severities))
	for _, s := range domain.Severities {
		counts[s] = 0
	}
	for rows.Next() {
		var severity string
		var n int
		if err := rows.Scan(&severity, &n); err != nil {
			return nil, storeErr("scan alert count", err)
		}
		counts[domain.Severity(severity)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("open alert counts", err)
	}
	return counts, nil
}

// AlertStatistics summarises alerts created at or after since. Risk scores
// are stored as decimal text, so the mean is taken here rather than in SQL.
func (r *SQLRepository) AlertStatistics(ctx context.Context, since time.Time) (*domain.AlertStatistics, error) {
	query := `SELECT severity, status, risk_score FROM alerts WHERE created_at >= ?`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), nanos(since))
	if err != nil {
		return nil, storeErr("alert statistics", err)
	}
	defer rows.Close()

	stats := &domain.AlertStatistics{
		Since:            since.UTC(),
		BySeverity:       make(map[domain.Severity]int, len(domain.Severities)),
		ByStatus:         make(map[domain.AlertStatus]int, len(domain.AlertStatuses)),
		AverageRiskScore: decimal.Zero,
	}
	for _, s := range domain.Severities {
		stats.BySeverity[s] = 0
	}
	for _, s := range domain.AlertStatuses {
		stats.ByStatus[s] = 0
	}

	sum := decimal.Zero
	for rows.Next() {
		var severity, status, score string
		if err := rows.Scan(&severity, &status, &score); err != nil {
			return nil, storeErr("scan alert statistics", err)
		}
		d, err := decimal.NewFromString(score)
		if err != nil {
			return nil, storeErr("parse alert risk score", err)
		}
		stats.Total++
		stats.BySeverity[domain.Severity(severity)]++
		stats.ByStatus[domain.AlertStatus(status)]++
		sum = sum.Add(d)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("alert statistics", err)
	}

	if stats.Total > 0 {
		stats.AverageRiskScore = sum.Div(decimal.NewFromInt(int64(stats.Total))).Round(2)
	}
	return stats, nil
}
