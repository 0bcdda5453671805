package repository

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/opensource-finance/heron/internal/domain"
)

const ruleColumns = `
	id, name, description, type, status, priority, weight, config,
	created_by, created_at, updated_at
`

// SaveRule inserts or updates a rule definition.
func (r *SQLRepository) SaveRule(ctx context.Context, rule *domain.Rule) error {
	if rule == nil || rule.ID == "" {
		return fmt.Errorf("%w: rule id is required", domain.ErrValidation)
	}

	config, err := marshalJSON(rule.Config)
	if err != nil {
		return fmt.Errorf("%w: rule %s config: %v", domain.ErrValidation, rule.ID, err)
	}

	now := time.Now().UTC()
	createdAt := rule.CreatedAt
	if createdAt.IsZero() {
		createdAt = now
	}
	updatedAt := rule.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = now
	}

	query := `
		INSERT INTO rules (` + ruleColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			description = excluded.description,
			type = excluded.type,
			status = excluded.status,
			priority = excluded.priority,
			weight = excluded.weight,
			config = excluded.config,
			updated_at = excluded.updated_at
	`

	_, err = r.db.ExecContext(ctx, r.rebind(query),
		rule.ID, rule.Name, rule.Description, string(rule.Type), string(rule.Status),
		rule.Priority, rule.Weight.String(), config,
		rule.CreatedBy, nanos(createdAt), nanos(updatedAt),
	)
	if err != nil {
		return storeErr("save rule", err)
	}
	return nil
}

// GetRule retrieves a rule by ID regardless of status.
func (r *SQLRepository) GetRule(ctx context.Context, ruleID string) (*domain.Rule, error) {
	query := `SELECT ` + ruleColumns + ` FROM rules WHERE id = ?`

	rule, err := scanRule(r.db.QueryRowContext(ctx, r.rebind(query), ruleID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: rule %s", domain.ErrNotFound, ruleID)
	}
	if err != nil {
		return nil, storeErr("get rule", err)
	}
	return rule, nil
}

// ActiveRulesByPriority returns ACTIVE rules in evaluation order.
func (r *SQLRepository) ActiveRulesByPriority(ctx context.Context) ([]*domain.Rule, error) {
	query := `
		SELECT ` + ruleColumns + `
		FROM rules
		WHERE status = ?
		ORDER BY priority, created_at, id
	`
	return r.queryRules(ctx, query, string(domain.RuleActive))
}

// ListRules returns all rules in evaluation order.
func (r *SQLRepository) ListRules(ctx context.Context) ([]*domain.Rule, error) {
	query := `
		SELECT ` + ruleColumns + `
		FROM rules
		ORDER BY priority, created_at, id
	`
	return r.queryRules(ctx, query)
}

func (r *SQLRepository) queryRules(ctx context.Context, query string, args ...any) ([]*domain.Rule, error) {
	rows, err := r.db.QueryContext(ctx, r.rebind(query), args...)
	if err != nil {
		return nil, storeErr("list rules", err)
	}
	defer rows.Close()

	var rules []*domain.Rule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, storeErr("scan rule", err)
		}
		rules = append(rules, rule)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("list rules", err)
	}
	return rules, nil
}

func scanRule(row scanner) (*domain.Rule, error) {
	var (
		rule                   domain.Rule
		description, createdBy sql.NullString
		ruleType, status       string
		weight, config         string
		createdAt, updatedAt   int64
	)

	err := row.Scan(
		&rule.ID, &rule.Name, &description, &ruleType, &status,
		&rule.Priority, &weight, &config,
		&createdBy, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	rule.Weight, err = decimal.NewFromString(weight)
	if err != nil {
		return nil, fmt.Errorf("parse weight of rule %s: %w", rule.ID, err)
	}

	// Numbers stay json.Number so thresholds decode to exact decimals.
	dec := json.NewDecoder(bytes.NewBufferString(config))
	dec.UseNumber()
	if err := dec.Decode(&rule.Config); err != nil {
		return nil, fmt.Errorf("parse config of rule %s: %w", rule.ID, err)
	}

	rule.Description = description.String
	rule.Type = domain.RuleType(ruleType)
	rule.Status = domain.RuleStatus(status)
	rule.CreatedBy = createdBy.String
	rule.CreatedAt = fromNanos(createdAt)
	rule.UpdatedAt = fromNanos(updatedAt)

	return &rule, nil
}
