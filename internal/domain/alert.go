package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Severity is the ordinal urgency of an alert.
type Severity string

const (
	SeverityLow      Severity = "LOW"
	SeverityMedium   Severity = "MEDIUM"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

// Severities lists all severities in ascending order.
var Severities = []Severity{SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical}

// Escalated returns the next severity up. CRITICAL stays CRITICAL.
func (s Severity) Escalated() Severity {
	switch s {
	case SeverityLow:
		return SeverityMedium
	case SeverityMedium:
		return SeverityHigh
	default:
		return SeverityCritical
	}
}

// AlertStatus is the review state of an alert.
type AlertStatus string

const (
	AlertOpen          AlertStatus = "OPEN"
	AlertUnderReview   AlertStatus = "UNDER_REVIEW"
	AlertResolved      AlertStatus = "RESOLVED"
	AlertFalsePositive AlertStatus = "FALSE_POSITIVE"
	AlertEscalated     AlertStatus = "ESCALATED"
)

// AlertStatuses lists every review state.
var AlertStatuses = []AlertStatus{AlertOpen, AlertUnderReview, AlertResolved, AlertFalsePositive, AlertEscalated}

// IsTerminal reports whether no further review transitions are allowed.
func (s AlertStatus) IsTerminal() bool {
	return s == AlertResolved || s == AlertFalsePositive
}

// Alert is raised for a suspicious transaction and worked through review.
type Alert struct {
	ID            string      `json:"id"`
	TransactionID string      `json:"transactionId"`
	CustomerID    string      `json:"customerId"`
	Severity      Severity    `json:"severity"`
	Status        AlertStatus `json:"status"`
	Title         string      `json:"title"`
	Description   string      `json:"description"`

	RuleIDs   []string        `json:"ruleIds"`
	RiskScore decimal.Decimal `json:"riskScore"`

	// Review state
	ReviewedBy      string        `json:"reviewedBy,omitempty"`
	ReviewedAt      *time.Time    `json:"reviewedAt,omitempty"`
	ReviewNotes     string        `json:"reviewNotes,omitempty"`
	ResolutionNotes string        `json:"resolutionNotes,omitempty"`
	History         []AlertReview `json:"history,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// AlertReview is one recorded review transition.
type AlertReview struct {
	From     AlertStatus `json:"from"`
	To       AlertStatus `json:"to"`
	Reviewer string      `json:"reviewer"`
	Notes    string      `json:"notes"`
	At       time.Time   `json:"at"`
}

// AlertRecord is the slice of an alert the customer scorer needs.
type AlertRecord struct {
	Severity  Severity  `json:"severity"`
	CreatedAt time.Time `json:"createdAt"`
}

// AlertFilter narrows an alert listing. Zero fields match everything;
// Limit defaults to 100.
type AlertFilter struct {
	Status     AlertStatus
	Severity   Severity
	CustomerID string
	Limit      int
}

// AlertStatistics summarises alerts created since a point in time. Every
// severity and status is present in the maps.
type AlertStatistics struct {
	Since            time.Time           `json:"since"`
	Total            int                 `json:"total"`
	BySeverity       map[Severity]int    `json:"bySeverity"`
	ByStatus         map[AlertStatus]int `json:"byStatus"`
	AverageRiskScore decimal.Decimal     `json:"averageRiskScore"`
}

// ReviewRequest is the API payload for an alert review transition.
type ReviewRequest struct {
	Status   AlertStatus `json:"status"`
	Reviewer string      `json:"reviewer"`
	Notes    string      `json:"notes"`
}
