package rules

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/opensource-finance/heron/internal/domain"
)

// memHistory is an in-memory History over a fixed transaction list.
type memHistory struct {
	txs []*domain.Transaction
	err error
}

func (m *memHistory) completed(customerID string, from, to time.Time) []*domain.Transaction {
	var out []*domain.Transaction
	for _, tx := range m.txs {
		if tx.CustomerID != customerID || tx.Status != domain.TxCompleted {
			continue
		}
		if tx.Timestamp.Before(from) || !tx.Timestamp.Before(to) {
			continue
		}
		out = append(out, tx)
	}
	return out
}

func (m *memHistory) CountCompleted(_ context.Context, customerID string, from, to time.Time) (int, error) {
	if m.err != nil {
		return 0, m.err
	}
	return len(m.completed(customerID, from, to)), nil
}

func (m *memHistory) SumCompleted(_ context.Context, customerID string, from, to time.Time) (decimal.Decimal, error) {
	if m.err != nil {
		return decimal.Zero, m.err
	}
	sum := decimal.Zero
	for _, tx := range m.completed(customerID, from, to) {
		sum = sum.Add(tx.Amount)
	}
	return sum, nil
}

func (m *memHistory) AvgCompleted(_ context.Context, customerID string, from, to time.Time) (decimal.NullDecimal, error) {
	if m.err != nil {
		return decimal.NullDecimal{}, m.err
	}
	txs := m.completed(customerID, from, to)
	if len(txs) == 0 {
		return decimal.NullDecimal{}, nil
	}
	sum := decimal.Zero
	for _, tx := range txs {
		sum = sum.Add(tx.Amount)
	}
	return decimal.NewNullDecimal(sum.Div(decimal.NewFromInt(int64(len(txs))))), nil
}

func (m *memHistory) CountCompletedInBand(_ context.Context, customerID string, from, to time.Time, band domain.AmountBand) (int, error) {
	if m.err != nil {
		return 0, m.err
	}
	n := 0
	for _, tx := range m.completed(customerID, from, to) {
		if band.Contains(tx.Amount) {
			n++
		}
	}
	return n, nil
}

// add appends count completed transactions of amount, spaced by gap going back from start.
func (m *memHistory) add(customerID string, count int, amount string, start time.Time, gap time.Duration) {
	for i := 0; i < count; i++ {
		m.txs = append(m.txs, &domain.Transaction{
			ID:         fmt.Sprintf("hist-%d", len(m.txs)),
			CustomerID: customerID,
			Type:       domain.TxTransfer,
			Status:     domain.TxCompleted,
			Amount:     decimal.RequireFromString(amount),
			Timestamp:  start.Add(-time.Duration(i) * gap),
		})
	}
}

var testNow = time.Date(2025, 3, 14, 15, 0, 0, 0, time.UTC)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testCustomer() *domain.Customer {
	c := domain.NewCustomer("cust-1", "IR", testNow.Add(-365*24*time.Hour))
	c.FirstName = "Sara"
	c.LastName = "Ahmadi"
	return c
}

func testTx(amount string) *domain.Transaction {
	return &domain.Transaction{
		ID:         "tx-1",
		CustomerID: "cust-1",
		Type:       domain.TxTransfer,
		Status:     domain.TxPending,
		Amount:     decimal.RequireFromString(amount),
		Currency:   "IRR",
		Timestamp:  testNow.Add(-time.Minute),
	}
}

func newTestEngine(h History, rules ...*domain.Rule) *Engine {
	e, err := NewEngine(nil, h, quietLogger())
	if err != nil {
		panic(err)
	}
	e.SetClock(func() time.Time { return testNow })
	e.LoadRules(rules)
	return e
}

func rule(id string, typ domain.RuleType, priority int, weight string, cfg map[string]any) *domain.Rule {
	return &domain.Rule{
		ID:          id,
		Name:        id,
		Description: "test rule " + id,
		Type:        typ,
		Status:      domain.RuleActive,
		Priority:    priority,
		Weight:      decimal.RequireFromString(weight),
		Config:      cfg,
		CreatedAt:   testNow,
	}
}

// memRuleStore serves a fixed rule list.
type memRuleStore struct {
	rules []*domain.Rule
	err   error
}

func (s *memRuleStore) ActiveRulesByPriority(context.Context) ([]*domain.Rule, error) {
	if s.err != nil {
		return nil, s.err
	}
	var out []*domain.Rule
	for _, r := range s.rules {
		if r.Status == domain.RuleActive {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *memRuleStore) SaveRule(_ context.Context, r *domain.Rule) error {
	s.rules = append(s.rules, r)
	return nil
}

func (s *memRuleStore) GetRule(_ context.Context, id string) (*domain.Rule, error) {
	for _, r := range s.rules {
		if r.ID == id {
			return r, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (s *memRuleStore) ListRules(context.Context) ([]*domain.Rule, error) {
	return s.rules, nil
}
