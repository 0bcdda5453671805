package domain

import (
	"fmt"
	"math"
	"time"

	"github.com/shopspring/decimal"
)

// TransactionType classifies the movement of funds.
type TransactionType string

const (
	TxDeposit    TransactionType = "DEPOSIT"
	TxWithdrawal TransactionType = "WITHDRAWAL"
	TxTransfer   TransactionType = "TRANSFER"
	TxPayment    TransactionType = "PAYMENT"
	TxRefund     TransactionType = "REFUND"
)

// TransactionStatus is the settlement state of a transaction.
// Only COMPLETED transactions count toward historical aggregates.
type TransactionStatus string

const (
	TxPending   TransactionStatus = "PENDING"
	TxCompleted TransactionStatus = "COMPLETED"
	TxFailed    TransactionStatus = "FAILED"
	TxCancelled TransactionStatus = "CANCELLED"
)

// Transaction represents a customer transaction under monitoring.
type Transaction struct {
	// Core identifiers
	ID         string `json:"id"`
	CustomerID string `json:"customerId"`

	Type   TransactionType   `json:"type"`
	Status TransactionStatus `json:"status"`

	// Financial details
	Amount   decimal.Decimal `json:"amount"`
	Currency string          `json:"currency"`

	// Counterparties
	SenderAccount   string `json:"senderAccount,omitempty"`
	SenderCountry   string `json:"senderCountry,omitempty"`
	ReceiverAccount string `json:"receiverAccount,omitempty"`
	ReceiverName    string `json:"receiverName,omitempty"`
	ReceiverCountry string `json:"receiverCountry,omitempty"`
	Description     string `json:"description,omitempty"`

	// Temporal
	Timestamp time.Time `json:"timestamp"`
	CreatedAt time.Time `json:"createdAt"`

	// Monitoring outcome, overwritten on every monitoring pass.
	RiskScore      decimal.NullDecimal `json:"riskScore"`
	IsSuspicious   bool                `json:"isSuspicious"`
	FlaggedReasons []string            `json:"flaggedReasons"`
}

// Validate rejects transactions that must never enter the pipeline.
func (t *Transaction) Validate() error {
	if t.ID == "" {
		return fmt.Errorf("%w: transaction id is required", ErrValidation)
	}
	if t.CustomerID == "" {
		return fmt.Errorf("%w: customer id is required", ErrValidation)
	}
	if t.Amount.IsNegative() {
		return fmt.Errorf("%w: amount %s is negative", ErrValidation, t.Amount)
	}
	switch t.Type {
	case TxDeposit, TxWithdrawal, TxTransfer, TxPayment, TxRefund:
	default:
		return fmt.Errorf("%w: unknown transaction type %q", ErrValidation, t.Type)
	}
	switch t.Status {
	case TxPending, TxCompleted, TxFailed, TxCancelled:
	default:
		return fmt.Errorf("%w: unknown transaction status %q", ErrValidation, t.Status)
	}
	if t.Timestamp.IsZero() {
		return fmt.Errorf("%w: timestamp is required", ErrValidation)
	}
	if t.Timestamp.Before(minTimestamp) || t.Timestamp.After(maxTimestamp) {
		return fmt.Errorf("%w: timestamp %s outside storable range", ErrValidation, t.Timestamp.Format(time.RFC3339))
	}
	return nil
}

// Timestamps are stored as int64 nanoseconds since the epoch.
var (
	minTimestamp = time.Unix(0, math.MinInt64).UTC()
	maxTimestamp = time.Unix(0, math.MaxInt64).UTC()
)

// IsCrossBorder reports whether funds leave the given home country.
func (t *Transaction) IsCrossBorder(homeCountry string) bool {
	return t.ReceiverCountry != "" && t.ReceiverCountry != homeCountry
}

// TransactionRequest is the API request payload for recording a transaction.
type TransactionRequest struct {
	ID              string            `json:"id"`
	CustomerID      string            `json:"customerId"`
	Type            TransactionType   `json:"type"`
	Status          TransactionStatus `json:"status,omitempty"`
	Amount          decimal.Decimal   `json:"amount"`
	Currency        string            `json:"currency"`
	SenderAccount   string            `json:"senderAccount,omitempty"`
	SenderCountry   string            `json:"senderCountry,omitempty"`
	ReceiverAccount string            `json:"receiverAccount,omitempty"`
	ReceiverName    string            `json:"receiverName,omitempty"`
	ReceiverCountry string            `json:"receiverCountry,omitempty"`
	Description     string            `json:"description,omitempty"`
	Timestamp       *time.Time        `json:"timestamp,omitempty"`
}

// ToTransaction converts a request to a Transaction domain object.
// Missing status defaults to PENDING and missing timestamp to now.
func (r *TransactionRequest) ToTransaction(now time.Time) *Transaction {
	ts := now.UTC()
	if r.Timestamp != nil {
		ts = r.Timestamp.UTC()
	}
	status := r.Status
	if status == "" {
		status = TxPending
	}
	currency := r.Currency
	if currency == "" {
		currency = DefaultCurrency
	}
	return &Transaction{
		ID:              r.ID,
		CustomerID:      r.CustomerID,
		Type:            r.Type,
		Status:          status,
		Amount:          r.Amount,
		Currency:        currency,
		SenderAccount:   r.SenderAccount,
		SenderCountry:   r.SenderCountry,
		ReceiverAccount: r.ReceiverAccount,
		ReceiverName:    r.ReceiverName,
		ReceiverCountry: r.ReceiverCountry,
		Description:     r.Description,
		Timestamp:       ts,
		CreatedAt:       now.UTC(),
	}
}

// DefaultCurrency is assumed when a request omits the currency.
const DefaultCurrency = "IRR"
