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

const transactionColumns = `
	id, customer_id, type, status, amount, currency,
	sender_account, sender_country, receiver_account, receiver_name, receiver_country,
	description, timestamp, created_at, risk_score, is_suspicious, flagged_reasons
`

// SaveTransaction inserts or updates a transaction, including its monitoring outcome.
func (r *SQLRepository) SaveTransaction(ctx context.Context, tx *domain.Transaction) error {
	if tx == nil || tx.ID == "" {
		return fmt.Errorf("%w: transaction id is required", domain.ErrValidation)
	}

	reasons, err := marshalJSON(tx.FlaggedReasons)
	if err != nil {
		return storeErr("encode flagged reasons", err)
	}

	suspicious := 0
	if tx.IsSuspicious {
		suspicious = 1
	}

	createdAt := tx.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	query := `
		INSERT INTO transactions (` + transactionColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			amount = excluded.amount,
			currency = excluded.currency,
			sender_account = excluded.sender_account,
			sender_country = excluded.sender_country,
			receiver_account = excluded.receiver_account,
			receiver_name = excluded.receiver_name,
			receiver_country = excluded.receiver_country,
			description = excluded.description,
			timestamp = excluded.timestamp,
			risk_score = excluded.risk_score,
			is_suspicious = excluded.is_suspicious,
			flagged_reasons = excluded.flagged_reasons
	`

	_, err = r.db.ExecContext(ctx, r.rebind(query),
		tx.ID, tx.CustomerID, string(tx.Type), string(tx.Status),
		tx.Amount.String(), tx.Currency,
		tx.SenderAccount, tx.SenderCountry,
		tx.ReceiverAccount, tx.ReceiverName, tx.ReceiverCountry,
		tx.Description,
		nanos(tx.Timestamp), nanos(createdAt),
		tx.RiskScore, suspicious, reasons,
	)
	if err != nil {
		return storeErr("save transaction", err)
	}
	return nil
}

// GetTransaction retrieves a transaction by ID.
func (r *SQLRepository) GetTransaction(ctx context.Context, txID string) (*domain.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE id = ?`

	tx, err := scanTransaction(r.db.QueryRowContext(ctx, r.rebind(query), txID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: transaction %s", domain.ErrNotFound, txID)
	}
	if err != nil {
		return nil, storeErr("get transaction", err)
	}
	return tx, nil
}

// ListUnscoredTransactions returns transactions that have never been monitored,
// oldest first.
func (r *SQLRepository) ListUnscoredTransactions(ctx context.Context, limit int) ([]*domain.Transaction, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `
		SELECT ` + transactionColumns + `
		FROM transactions
		WHERE risk_score IS NULL
		ORDER BY timestamp, id
		LIMIT ?
	`

	return r.queryTransactions(ctx, "list unscored transactions", query, limit)
}

// ListCustomerTransactions returns a customer's transactions, newest first.
func (r *SQLRepository) ListCustomerTransactions(ctx context.Context, customerID string, limit int) ([]*domain.Transaction, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `
		SELECT ` + transactionColumns + `
		FROM transactions
		WHERE customer_id = ?
		ORDER BY timestamp DESC, id
		LIMIT ?
	`
	return r.queryTransactions(ctx, "list customer transactions", query, customerID, limit)
}

func (r *SQLRepository) queryTransactions(ctx context.Context, op, query string, args ...any) ([]*domain.Transaction, error) {
	rows, err := r.db.QueryContext(ctx, r.rebind(query), args...)
	if err != nil {
		return nil, storeErr(op, err)
	}
	defer rows.Close()

	var txs []*domain.Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, storeErr("scan transaction", err)
		}
		txs = append(txs, tx)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr(op, err)
	}
	return txs, nil
}

// CountCompleted counts COMPLETED transactions of a customer in [from, to).
func (r *SQLRepository) CountCompleted(ctx context.Context, customerID string, from, to time.Time) (int, error) {
	query := `
		SELECT COUNT(*)
		FROM transactions
		WHERE customer_id = ? AND status = ? AND timestamp >= ? AND timestamp < ?
	`

	var n int
	err := r.db.QueryRowContext(ctx, r.rebind(query),
		customerID, string(domain.TxCompleted), nanos(from), nanos(to),
	).Scan(&n)
	if err != nil {
		return 0, storeErr("count completed", err)
	}
	return n, nil
}

// SumCompleted sums COMPLETED transaction amounts of a customer in [from, to).
func (r *SQLRepository) SumCompleted(ctx context.Context, customerID string, from, to time.Time) (decimal.Decimal, error) {
	amounts, err := r.completedAmounts(ctx, customerID, from, to)
	if err != nil {
		return decimal.Zero, err
	}
	return sum(amounts), nil
}

// AvgCompleted averages COMPLETED transaction amounts of a customer in [from, to).
// The result is invalid when the range holds no transactions.
func (r *SQLRepository) AvgCompleted(ctx context.Context, customerID string, from, to time.Time) (decimal.NullDecimal, error) {
	amounts, err := r.completedAmounts(ctx, customerID, from, to)
	if err != nil {
		return decimal.NullDecimal{}, err
	}
	if len(amounts) == 0 {
		return decimal.NullDecimal{}, nil
	}
	avg := sum(amounts).Div(decimal.NewFromInt(int64(len(amounts))))
	return decimal.NewNullDecimal(avg), nil
}

// CountCompletedInBand counts COMPLETED transactions of a customer in [from, to)
// whose amount lies in band.
func (r *SQLRepository) CountCompletedInBand(ctx context.Context, customerID string, from, to time.Time, band domain.AmountBand) (int, error) {
	amounts, err := r.completedAmounts(ctx, customerID, from, to)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, a := range amounts {
		if band.Contains(a) {
			n++
		}
	}
	return n, nil
}

// completedAmounts loads amounts as text and parses them in Go so that
// arithmetic stays exact on both drivers.
func (r *SQLRepository) completedAmounts(ctx context.Context, customerID string, from, to time.Time) ([]decimal.Decimal, error) {
	query := `
		SELECT amount
		FROM transactions
		WHERE customer_id = ? AND status = ? AND timestamp >= ? AND timestamp < ?
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query),
		customerID, string(domain.TxCompleted), nanos(from), nanos(to),
	)
	if err != nil {
		return nil, storeErr("load amounts", err)
	}
	defer rows.Close()

	var amounts []decimal.Decimal
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, storeErr("scan amount", err)
		}
		a, err := decimal.NewFromString(raw)
		if err != nil {
			return nil, storeErr("parse amount", err)
		}
		amounts = append(amounts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("load amounts", err)
	}
	return amounts, nil
}

func sum(amounts []decimal.Decimal) decimal.Decimal {
	total := decimal.Zero
	for _, a := range amounts {
		total = total.Add(a)
	}
	return total
}

func scanTransaction(row scanner) (*domain.Transaction, error) {
	var (
		tx                                                  domain.Transaction
		txType, status, amount                              string
		senderAcct, senderCountry, receiverAcct, receiverNm sql.NullString
		receiverCountry, description, reasons               sql.NullString
		timestamp, createdAt                                int64
		suspicious                                          int
	)

	err := row.Scan(
		&tx.ID, &tx.CustomerID, &txType, &status, &amount, &tx.Currency,
		&senderAcct, &senderCountry, &receiverAcct, &receiverNm, &receiverCountry,
		&description, &timestamp, &createdAt, &tx.RiskScore, &suspicious, &reasons,
	)
	if err != nil {
		return nil, err
	}

	tx.Amount, err = decimal.NewFromString(amount)
	if err != nil {
		return nil, fmt.Errorf("parse amount of %s: %w", tx.ID, err)
	}
	tx.Type = domain.TransactionType(txType)
	tx.Status = domain.TransactionStatus(status)
	tx.SenderAccount = senderAcct.String
	tx.SenderCountry = senderCountry.String
	tx.ReceiverAccount = receiverAcct.String
	tx.ReceiverName = receiverNm.String
	tx.ReceiverCountry = receiverCountry.String
	tx.Description = description.String
	tx.Timestamp = fromNanos(timestamp)
	tx.CreatedAt = fromNanos(createdAt)
	tx.IsSuspicious = suspicious == 1
	if err := unmarshalJSON(reasons, &tx.FlaggedReasons); err != nil {
		return nil, fmt.Errorf("parse flagged reasons of %s: %w", tx.ID, err)
	}

	return &tx, nil
}
