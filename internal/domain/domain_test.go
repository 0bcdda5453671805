package domain

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestRiskLevelForScore(t *testing.T) {
	tests := []struct {
		score string
		want  RiskLevel
	}{
		{"0", RiskLow},
		{"39.99", RiskLow},
		{"40", RiskMedium},
		{"59.99", RiskMedium},
		{"60", RiskHigh},
		{"79.99", RiskHigh},
		{"80", RiskCritical},
		{"100", RiskCritical},
	}

	for _, tt := range tests {
		t.Run(tt.score, func(t *testing.T) {
			got := RiskLevelForScore(decimal.RequireFromString(tt.score))
			if got != tt.want {
				t.Errorf("RiskLevelForScore(%s) = %s, want %s", tt.score, got, tt.want)
			}
		})
	}
}

func TestSeverityEscalated(t *testing.T) {
	tests := map[Severity]Severity{
		SeverityLow:      SeverityMedium,
		SeverityMedium:   SeverityHigh,
		SeverityHigh:     SeverityCritical,
		SeverityCritical: SeverityCritical,
	}
	for in, want := range tests {
		if got := in.Escalated(); got != want {
			t.Errorf("%s.Escalated() = %s, want %s", in, got, want)
		}
	}
}

func TestTransactionValidate(t *testing.T) {
	valid := func() *Transaction {
		return &Transaction{
			ID:         "tx-1",
			CustomerID: "cust-1",
			Type:       TxTransfer,
			Status:     TxCompleted,
			Amount:     decimal.NewFromInt(100),
			Timestamp:  time.Now(),
		}
	}

	t.Run("valid", func(t *testing.T) {
		if err := valid().Validate(); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	})

	t.Run("storable range edges", func(t *testing.T) {
		for _, ts := range []time.Time{minTimestamp, maxTimestamp, time.Date(1970, 1, 1, 0, 0, 0, 0, time.UTC)} {
			tx := valid()
			tx.Timestamp = ts
			if err := tx.Validate(); err != nil {
				t.Errorf("%s: unexpected error: %v", ts, err)
			}
		}
	})

	t.Run("zero amount allowed", func(t *testing.T) {
		tx := valid()
		tx.Amount = decimal.Zero
		if err := tx.Validate(); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	})

	cases := map[string]func(*Transaction){
		"negative amount":  func(tx *Transaction) { tx.Amount = decimal.NewFromInt(-1) },
		"missing id":       func(tx *Transaction) { tx.ID = "" },
		"missing customer": func(tx *Transaction) { tx.CustomerID = "" },
		"unknown type":     func(tx *Transaction) { tx.Type = "BARTER" },
		"unknown status":   func(tx *Transaction) { tx.Status = "SETTLED" },
		"zero timestamp":   func(tx *Transaction) { tx.Timestamp = time.Time{} },
		"before 1678":      func(tx *Transaction) { tx.Timestamp = time.Date(1600, 1, 1, 0, 0, 0, 0, time.UTC) },
		"after 2262":       func(tx *Transaction) { tx.Timestamp = time.Date(2300, 1, 1, 0, 0, 0, 0, time.UTC) },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			tx := valid()
			mutate(tx)
			if err := tx.Validate(); !errors.Is(err, ErrValidation) {
				t.Errorf("expected ErrValidation, got %v", err)
			}
		})
	}
}

func TestCustomerMissingKYCFields(t *testing.T) {
	c := NewCustomer("cust-1", "IR", time.Now())
	if got := len(c.MissingKYCFields()); got != 4 {
		t.Errorf("expected 4 missing fields, got %d", got)
	}

	dob := time.Date(1990, 1, 1, 0, 0, 0, 0, time.UTC)
	c.DateOfBirth = &dob
	c.Phone = "+98 21 0000"
	missing := c.MissingKYCFields()
	if len(missing) != 2 || missing[0] != "national_id" || missing[1] != "address" {
		t.Errorf("unexpected missing fields: %v", missing)
	}
}

func TestAmountBandContains(t *testing.T) {
	band := AmountBand{Min: decimal.NewFromInt(9000), Max: decimal.NewFromInt(10000)}

	if !band.Contains(decimal.NewFromInt(9000)) {
		t.Error("lower bound should be inclusive")
	}
	if band.Contains(decimal.NewFromInt(10000)) {
		t.Error("upper bound should be exclusive")
	}
	if band.Contains(decimal.NewFromInt(8999)) {
		t.Error("below band should not match")
	}
}
