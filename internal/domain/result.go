package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// ScoringMethod identifies how a composite score was produced.
const ScoringMethod = "weighted_average"

// RiskFactor is one weighted contributor to a composite score.
type RiskFactor struct {
	Score  decimal.Decimal `json:"score"`
	Weight decimal.Decimal `json:"weight"`
	Detail string          `json:"detail"`
}

// ScoreResult is a composite 0-100 score with its auditable breakdown.
type ScoreResult struct {
	Score   decimal.Decimal       `json:"score"`
	Factors map[string]RiskFactor `json:"factors"`
	Method  string                `json:"method"`
}

// MonitoringResult is the outcome of monitoring one transaction.
type MonitoringResult struct {
	TransactionID string `json:"transactionId"`
	CustomerID    string `json:"customerId"`

	RiskScore      decimal.Decimal       `json:"riskScore"`
	IsSuspicious   bool                  `json:"isSuspicious"`
	TriggeredRules []string              `json:"triggeredRules"`
	Reasons        []string              `json:"reasons"`
	Factors        map[string]RiskFactor `json:"factors"`

	// Alert decision. Severity is assigned even when no alert is raised.
	ShouldAlert bool     `json:"shouldAlert"`
	Severity    Severity `json:"severity"`
	AlertID     string   `json:"alertId,omitempty"`

	// Customer risk after refresh.
	CustomerRiskScore decimal.Decimal `json:"customerRiskScore"`
	CustomerRiskLevel RiskLevel       `json:"customerRiskLevel"`

	ProcessedAt time.Time `json:"processedAt"`
	ProcessMs   int64     `json:"processMs"`

	// Alert is the generated alert, left to the caller to persist.
	Alert *Alert `json:"alert,omitempty"`
}

// BatchResult summarizes a batch monitoring run.
type BatchResult struct {
	Processed       int                 `json:"processed"`
	Suspicious      int                 `json:"suspicious"`
	AlertsGenerated int                 `json:"alertsGenerated"`
	Errors          int                 `json:"errors"`
	Details         []*MonitoringResult `json:"details"`
}

// ScoreKind distinguishes transaction and customer score snapshots.
type ScoreKind string

const (
	ScoreTransaction ScoreKind = "TRANSACTION"
	ScoreCustomer    ScoreKind = "CUSTOMER"
)

// RiskScoreRecord is a persisted snapshot of a computed score.
type RiskScoreRecord struct {
	ID            string                `json:"id"`
	CustomerID    string                `json:"customerId"`
	TransactionID string                `json:"transactionId,omitempty"`
	Kind          ScoreKind             `json:"kind"`
	Score         decimal.Decimal       `json:"score"`
	Factors       map[string]RiskFactor `json:"factors"`
	Method        string                `json:"method"`
	CalculatedAt  time.Time             `json:"calculatedAt"`
}
