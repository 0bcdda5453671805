// Package scoring computes weighted 0-100 risk scores for transactions and customers.
package scoring

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/opensource-finance/heron/internal/domain"
)

// Transaction factor names.
const (
	FactorAmount     = "transaction_amount"
	FactorFrequency  = "transaction_frequency"
	FactorGeographic = "geographic_risk"
	FactorHistory    = "customer_history"
	FactorBehavioral = "behavioral_patterns"
	FactorRules      = "rule_violations"
)

// Customer factor names. FactorGeographic is shared.
const (
	FactorTransactionHistory = "transaction_history"
	FactorAlertHistory       = "alert_history"
	FactorAccountAge         = "account_age"
	FactorKYC                = "kyc_completeness"
)

// DefaultHighRiskCountries is the FATF call-for-action list.
var DefaultHighRiskCountries = []string{"KP", "IR", "MM"}

var (
	transactionWeights = map[string]decimal.Decimal{
		FactorAmount:     decimal.RequireFromString("0.20"),
		FactorFrequency:  decimal.RequireFromString("0.15"),
		FactorGeographic: decimal.RequireFromString("0.15"),
		FactorHistory:    decimal.RequireFromString("0.20"),
		FactorBehavioral: decimal.RequireFromString("0.15"),
		FactorRules:      decimal.RequireFromString("0.15"),
	}

	customerWeights = map[string]decimal.Decimal{
		FactorTransactionHistory: decimal.RequireFromString("0.30"),
		FactorAlertHistory:       decimal.RequireFromString("0.25"),
		FactorAccountAge:         decimal.RequireFromString("0.15"),
		FactorGeographic:         decimal.RequireFromString("0.15"),
		FactorKYC:                decimal.RequireFromString("0.15"),
	}

	largeAmount    = decimal.NewFromInt(10_000_000)
	veryHighVolume = decimal.NewFromInt(100_000_000)
	highVolume     = decimal.NewFromInt(50_000_000)

	hundred = decimal.NewFromInt(100)
)

const (
	day              = 24 * time.Hour
	amountLookback   = 30 * day
	customerLookback = 90 * day
)

// History is the store surface the scorer reads.
type History interface {
	CountCompleted(ctx context.Context, customerID string, from, to time.Time) (int, error)
	SumCompleted(ctx context.Context, customerID string, from, to time.Time) (decimal.Decimal, error)
	AvgCompleted(ctx context.Context, customerID string, from, to time.Time) (decimal.NullDecimal, error)
	AlertsSince(ctx context.Context, customerID string, from time.Time) ([]domain.AlertRecord, error)
}

// Scorer computes transaction and customer risk scores.
// Weights and bucket boundaries are fixed; only the high-risk country set
// may be replaced.
type Scorer struct {
	history  History
	logger   *slog.Logger
	highRisk []string
	now      func() time.Time
}

// NewScorer creates a scorer. A nil highRisk uses DefaultHighRiskCountries.
func NewScorer(history History, highRisk []string, logger *slog.Logger) *Scorer {
	if logger == nil {
		logger = slog.Default()
	}
	if highRisk == nil {
		highRisk = DefaultHighRiskCountries
	}
	return &Scorer{
		history:  history,
		logger:   logger,
		highRisk: highRisk,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// SetClock overrides the clock anchoring customer-level windows.
func (s *Scorer) SetClock(now func() time.Time) {
	s.now = now
}

// ScoreTransaction scores one transaction from six weighted factors.
// ruleScore is the rule engine's weighted total; it is clamped to 100.
func (s *Scorer) ScoreTransaction(ctx context.Context, tx *domain.Transaction, customer *domain.Customer, ruleScore decimal.Decimal) (*domain.ScoreResult, error) {
	b := newBuilder(transactionWeights)

	amount, err := s.amountRisk(ctx, tx)
	if err != nil {
		return nil, err
	}
	b.add(FactorAmount, amount, fmt.Sprintf("Amount: %s %s", tx.Amount, tx.Currency))

	frequency, last24h, err := s.frequencyRisk(ctx, tx)
	if err != nil {
		return nil, err
	}
	b.add(FactorFrequency, frequency, fmt.Sprintf("%d transactions in last 24 hours", last24h))

	receiver := tx.ReceiverCountry
	if receiver == "" {
		receiver = "N/A"
	}
	b.add(FactorGeographic, s.geographicRisk(tx, customer),
		fmt.Sprintf("From: %s, To: %s", customer.Country, receiver))

	b.add(FactorHistory, historyRisk(customer.RiskLevel),
		fmt.Sprintf("Customer risk level: %s", customer.RiskLevel))

	b.add(FactorBehavioral, behavioralRisk(tx),
		fmt.Sprintf("Transaction time: %d:00", tx.Timestamp.Hour()))

	rules := clamp(ruleScore)
	b.add(FactorRules, rules, fmt.Sprintf("Rule-based risk: %s", rules))

	result := b.result()
	s.logger.Debug("transaction scored", "tx_id", tx.ID, "score", result.Score.String())
	return result, nil
}

// ScoreCustomer scores a customer's standing from five weighted factors.
func (s *Scorer) ScoreCustomer(ctx context.Context, customer *domain.Customer) (*domain.ScoreResult, error) {
	now := s.now()
	from := now.Add(-customerLookback)
	b := newBuilder(customerWeights)

	count, err := s.history.CountCompleted(ctx, customer.ID, from, now)
	if err != nil {
		return nil, err
	}
	total := decimal.Zero
	if count > 0 {
		if total, err = s.history.SumCompleted(ctx, customer.ID, from, now); err != nil {
			return nil, err
		}
	}
	b.add(FactorTransactionHistory, transactionHistoryRisk(count, total),
		fmt.Sprintf("%d transactions in last 90 days", count))

	alerts, err := s.history.AlertsSince(ctx, customer.ID, from)
	if err != nil {
		return nil, err
	}
	b.add(FactorAlertHistory, alertHistoryRisk(alerts),
		fmt.Sprintf("%d alerts in last 90 days", len(alerts)))

	ageDays := int(now.Sub(customer.RegisteredAt) / day)
	b.add(FactorAccountAge, accountAgeRisk(ageDays), fmt.Sprintf("Account age: %d days", ageDays))

	geo := decimal.NewFromInt(20)
	if slices.Contains(s.highRisk, customer.Country) {
		geo = decimal.NewFromInt(80)
	}
	b.add(FactorGeographic, geo, fmt.Sprintf("Country: %s", customer.Country))

	missing := customer.MissingKYCFields()
	detail := "None"
	if len(missing) > 0 {
		detail = strings.Join(missing, ", ")
	}
	b.add(FactorKYC, kycRisk(len(missing)), "Missing: "+detail)

	result := b.result()
	s.logger.Debug("customer scored", "customer_id", customer.ID, "score", result.Score.String())
	return result, nil
}

func (s *Scorer) amountRisk(ctx context.Context, tx *domain.Transaction) (decimal.Decimal, error) {
	avg, err := s.history.AvgCompleted(ctx, tx.CustomerID, tx.Timestamp.Add(-amountLookback), tx.Timestamp)
	if err != nil {
		return decimal.Zero, err
	}

	if !avg.Valid || avg.Decimal.IsZero() {
		if tx.Amount.GreaterThan(largeAmount) {
			return decimal.NewFromInt(60), nil
		}
		return decimal.NewFromInt(30), nil
	}

	ratio := tx.Amount.Div(avg.Decimal)
	switch {
	case ratio.GreaterThanOrEqual(decimal.NewFromInt(5)):
		return decimal.NewFromInt(100), nil
	case ratio.GreaterThanOrEqual(decimal.NewFromInt(3)):
		return decimal.NewFromInt(80), nil
	case ratio.GreaterThanOrEqual(decimal.NewFromInt(2)):
		return decimal.NewFromInt(60), nil
	case ratio.GreaterThanOrEqual(decimal.RequireFromString("1.5")):
		return decimal.NewFromInt(40), nil
	default:
		return decimal.NewFromInt(20), nil
	}
}

// frequencyRisk also returns the 24h count for the factor detail.
func (s *Scorer) frequencyRisk(ctx context.Context, tx *domain.Transaction) (decimal.Decimal, int, error) {
	ts := tx.Timestamp
	last1h, err := s.history.CountCompleted(ctx, tx.CustomerID, ts.Add(-time.Hour), ts)
	if err != nil {
		return decimal.Zero, 0, err
	}
	last24h, err := s.history.CountCompleted(ctx, tx.CustomerID, ts.Add(-day), ts)
	if err != nil {
		return decimal.Zero, 0, err
	}

	switch {
	case last1h >= 10:
		return decimal.NewFromInt(100), last24h, nil
	case last1h >= 5:
		return decimal.NewFromInt(80), last24h, nil
	case last24h >= 20:
		return decimal.NewFromInt(70), last24h, nil
	case last24h >= 10:
		return decimal.NewFromInt(50), last24h, nil
	default:
		return decimal.NewFromInt(20), last24h, nil
	}
}

func (s *Scorer) geographicRisk(tx *domain.Transaction, customer *domain.Customer) decimal.Decimal {
	if tx.ReceiverCountry != "" && slices.Contains(s.highRisk, tx.ReceiverCountry) {
		return decimal.NewFromInt(90)
	}
	if tx.IsCrossBorder(customer.Country) {
		return decimal.NewFromInt(40)
	}
	return decimal.NewFromInt(10)
}

func historyRisk(level domain.RiskLevel) decimal.Decimal {
	switch level {
	case domain.RiskLow:
		return decimal.NewFromInt(20)
	case domain.RiskHigh:
		return decimal.NewFromInt(80)
	case domain.RiskCritical:
		return decimal.NewFromInt(100)
	default:
		return decimal.NewFromInt(50)
	}
}

// behavioralRisk checks the hour before the round-number pattern; first match wins.
func behavioralRisk(tx *domain.Transaction) decimal.Decimal {
	if hour := tx.Timestamp.Hour(); hour >= 2 && hour < 5 {
		return decimal.NewFromInt(40)
	}
	if strings.HasSuffix(tx.Amount.String(), "0000") {
		return decimal.NewFromInt(30)
	}
	return decimal.NewFromInt(15)
}

func transactionHistoryRisk(count int, total decimal.Decimal) decimal.Decimal {
	switch {
	case count == 0:
		return decimal.NewFromInt(30)
	case total.GreaterThan(veryHighVolume):
		return decimal.NewFromInt(90)
	case total.GreaterThan(highVolume):
		return decimal.NewFromInt(70)
	case count > 100:
		return decimal.NewFromInt(60)
	case count > 50:
		return decimal.NewFromInt(40)
	default:
		return decimal.NewFromInt(25)
	}
}

func alertHistoryRisk(alerts []domain.AlertRecord) decimal.Decimal {
	if len(alerts) == 0 {
		return decimal.NewFromInt(10)
	}

	var critical, high int
	for _, a := range alerts {
		switch a.Severity {
		case domain.SeverityCritical:
			critical++
		case domain.SeverityHigh:
			high++
		}
	}

	switch {
	case critical > 0:
		return decimal.NewFromInt(100)
	case high >= 3:
		return decimal.NewFromInt(90)
	case high > 0:
		return decimal.NewFromInt(70)
	case len(alerts) >= 5:
		return decimal.NewFromInt(50)
	default:
		return decimal.NewFromInt(30)
	}
}

func accountAgeRisk(days int) decimal.Decimal {
	switch {
	case days < 7:
		return decimal.NewFromInt(70)
	case days < 30:
		return decimal.NewFromInt(50)
	case days < 90:
		return decimal.NewFromInt(30)
	default:
		return decimal.NewFromInt(15)
	}
}

func kycRisk(missing int) decimal.Decimal {
	switch {
	case missing >= 3:
		return decimal.NewFromInt(80)
	case missing == 2:
		return decimal.NewFromInt(60)
	case missing == 1:
		return decimal.NewFromInt(40)
	default:
		return decimal.NewFromInt(15)
	}
}

func clamp(score decimal.Decimal) decimal.Decimal {
	return decimal.Max(decimal.Zero, decimal.Min(hundred, score))
}

// builder accumulates weighted factors into a ScoreResult.
type builder struct {
	weights map[string]decimal.Decimal
	factors map[string]domain.RiskFactor
	total   decimal.Decimal
}

func newBuilder(weights map[string]decimal.Decimal) *builder {
	return &builder{
		weights: weights,
		factors: make(map[string]domain.RiskFactor, len(weights)),
		total:   decimal.Zero,
	}
}

func (b *builder) add(name string, score decimal.Decimal, detail string) {
	weight := b.weights[name]
	b.factors[name] = domain.RiskFactor{Score: score, Weight: weight, Detail: detail}
	b.total = b.total.Add(score.Mul(weight))
}

func (b *builder) result() *domain.ScoreResult {
	return &domain.ScoreResult{
		Score:   clamp(b.total).Round(2),
		Factors: b.factors,
		Method:  domain.ScoringMethod,
	}
}
