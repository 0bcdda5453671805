package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/opensource-finance/heron/internal/domain"
)

const customerColumns = `
	id, first_name, last_name, email, date_of_birth, national_id, address, phone,
	country, registered_at, risk_level, risk_score, created_at, updated_at
`

// SaveCustomer inserts or updates a customer profile and its current risk.
func (r *SQLRepository) SaveCustomer(ctx context.Context, c *domain.Customer) error {
	if c == nil || c.ID == "" {
		return fmt.Errorf("%w: customer id is required", domain.ErrValidation)
	}

	now := time.Now().UTC()
	createdAt := c.CreatedAt
	if createdAt.IsZero() {
		createdAt = now
	}
	updatedAt := c.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = now
	}

	query := `
		INSERT INTO customers (` + customerColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			first_name = excluded.first_name,
			last_name = excluded.last_name,
			email = excluded.email,
			date_of_birth = excluded.date_of_birth,
			national_id = excluded.national_id,
			address = excluded.address,
			phone = excluded.phone,
			country = excluded.country,
			registered_at = excluded.registered_at,
			risk_level = excluded.risk_level,
			risk_score = excluded.risk_score,
			updated_at = excluded.updated_at
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		c.ID, c.FirstName, c.LastName, c.Email,
		nullNanos(c.DateOfBirth), c.NationalID, c.Address, c.Phone,
		c.Country, nanos(c.RegisteredAt),
		string(c.RiskLevel), c.RiskScore.String(),
		nanos(createdAt), nanos(updatedAt),
	)
	if err != nil {
		return storeErr("save customer", err)
	}
	return nil
}

// GetCustomer retrieves a customer by ID.
func (r *SQLRepository) GetCustomer(ctx context.Context, customerID string) (*domain.Customer, error) {
	query := `SELECT ` + customerColumns + ` FROM customers WHERE id = ?`

	var (
		c                                  domain.Customer
		email, nationalID, address, phone  sql.NullString
		dob                                sql.NullInt64
		level, score                       string
		registeredAt, createdAt, updatedAt int64
	)

	err := r.db.QueryRowContext(ctx, r.rebind(query), customerID).Scan(
		&c.ID, &c.FirstName, &c.LastName, &email, &dob, &nationalID, &address, &phone,
		&c.Country, &registeredAt, &level, &score, &createdAt, &updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: customer %s", domain.ErrNotFound, customerID)
	}
	if err != nil {
		return nil, storeErr("get customer", err)
	}

	c.RiskScore, err = decimal.NewFromString(score)
	if err != nil {
		return nil, storeErr("parse customer risk score", err)
	}
	c.Email = email.String
	c.DateOfBirth = fromNullNanos(dob)
	c.NationalID = nationalID.String
	c.Address = address.String
	c.Phone = phone.String
	c.RegisteredAt = fromNanos(registeredAt)
	c.RiskLevel = domain.RiskLevel(level)
	c.CreatedAt = fromNanos(createdAt)
	c.UpdatedAt = fromNanos(updatedAt)

	return &c, nil
}

// AlertsSince returns the severity and creation time of every alert raised
// for a customer at or after from.
func (r *SQLRepository) AlertsSince(ctx context.Context, customerID string, from time.Time) ([]domain.AlertRecord, error) {
	query := `
		SELECT severity, created_at
		FROM alerts
		WHERE customer_id = ? AND created_at >= ?
		ORDER BY created_at
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), customerID, nanos(from))
	if err != nil {
		return nil, storeErr("alerts since", err)
	}
	defer rows.Close()

	var records []domain.AlertRecord
	for rows.Next() {
		var severity string
		var createdAt int64
		if err := rows.Scan(&severity, &createdAt); err != nil {
			return nil, storeErr("scan alert record", err)
		}
		records = append(records, domain.AlertRecord{
			Severity:  domain.Severity(severity),
			CreatedAt: fromNanos(createdAt),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("alerts since", err)
	}
	return records, nil
}
