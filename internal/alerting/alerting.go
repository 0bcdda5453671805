// Package alerting decides whether a monitored transaction warrants an alert,
// builds the alert record, and drives the alert review workflow.
package alerting

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/opensource-finance/heron/internal/domain"
)

var (
	alertScore    = decimal.NewFromInt(70)
	highScore     = decimal.NewFromInt(80)
	criticalScore = decimal.NewFromInt(90)
)

// ShouldAlert reports whether an alert is warranted: a score of at least 70,
// any triggered rule, or a transaction already flagged suspicious.
func ShouldAlert(tx *domain.Transaction, ruleCount int, score decimal.Decimal) bool {
	return score.GreaterThanOrEqual(alertScore) || ruleCount > 0 || tx.IsSuspicious
}

// SeverityFor assigns severity from the risk score and triggered rule count.
// The first matching band wins.
func SeverityFor(score decimal.Decimal, ruleCount int) domain.Severity {
	switch {
	case score.GreaterThanOrEqual(criticalScore) || ruleCount >= 3:
		return domain.SeverityCritical
	case score.GreaterThanOrEqual(highScore) || ruleCount >= 2:
		return domain.SeverityHigh
	case score.GreaterThanOrEqual(alertScore) || ruleCount >= 1:
		return domain.SeverityMedium
	default:
		return domain.SeverityLow
	}
}

// Generator materializes alert records. It does not persist them.
type Generator struct {
	now   func() time.Time
	newID func() string
}

// NewGenerator creates a generator using the wall clock and random UUIDs.
func NewGenerator() *Generator {
	return &Generator{
		now:   func() time.Time { return time.Now().UTC() },
		newID: func() string { return uuid.New().String() },
	}
}

// SetClock overrides the generation clock.
func (g *Generator) SetClock(now func() time.Time) {
	g.now = now
}

// Generate builds an OPEN alert for the transaction.
func (g *Generator) Generate(tx *domain.Transaction, customer *domain.Customer, rules []domain.TriggeredRule, score decimal.Decimal, severity domain.Severity, reasons []string) *domain.Alert {
	now := g.now()

	ruleIDs := make([]string, 0, len(rules))
	for _, r := range rules {
		ruleIDs = append(ruleIDs, r.RuleID)
	}

	return &domain.Alert{
		ID:            fmt.Sprintf("ALT-%s-%s", now.Format("20060102"), strings.ToUpper(g.newID()[:8])),
		TransactionID: tx.ID,
		CustomerID:    tx.CustomerID,
		Severity:      severity,
		Status:        domain.AlertOpen,
		Title:         Title(rules, severity),
		Description:   Description(tx, customer, rules, reasons, score),
		RuleIDs:       ruleIDs,
		RiskScore:     score,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// Title names the severity and up to two triggered rules.
func Title(rules []domain.TriggeredRule, severity domain.Severity) string {
	if len(rules) == 0 {
		return fmt.Sprintf("[%s] Suspicious Transaction - High Risk Score", severity)
	}

	names := make([]string, 0, 2)
	for _, r := range rules[:min(2, len(rules))] {
		names = append(names, r.Name)
	}
	title := fmt.Sprintf("[%s] Suspicious Transaction - Rules: %s", severity, strings.Join(names, ", "))
	if extra := len(rules) - 2; extra > 0 {
		title += fmt.Sprintf(" +%d more", extra)
	}
	return title
}

// Description renders the transaction facts, numbered reasons, and rule summaries.
func Description(tx *domain.Transaction, customer *domain.Customer, rules []domain.TriggeredRule, reasons []string, score decimal.Decimal) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Transaction ID: %s\n", tx.ID)
	if customer != nil {
		fmt.Fprintf(&b, "Customer: %s (%s)\n", customer.FullName(), customer.ID)
	} else {
		fmt.Fprintf(&b, "Customer: %s\n", tx.CustomerID)
	}
	fmt.Fprintf(&b, "Amount: %s %s\n", tx.Amount, tx.Currency)
	fmt.Fprintf(&b, "Type: %s\n", displayType(tx.Type))
	fmt.Fprintf(&b, "Date: %s\n", tx.Timestamp.Format(time.DateTime))
	fmt.Fprintf(&b, "Risk Score: %s", score)

	if tx.ReceiverAccount != "" {
		fmt.Fprintf(&b, "\nReceiver: %s", tx.ReceiverAccount)
	}
	if tx.ReceiverCountry != "" {
		fmt.Fprintf(&b, "\nReceiver Country: %s", tx.ReceiverCountry)
	}

	if len(reasons) > 0 {
		b.WriteString("\n\nTriggered Reasons:")
		for i, reason := range reasons {
			fmt.Fprintf(&b, "\n%d. %s", i+1, reason)
		}
	}

	if len(rules) > 0 {
		b.WriteString("\n\nTriggered Rules:")
		for _, r := range rules {
			fmt.Fprintf(&b, "\n- %s: %s", r.Name, r.Description)
		}
	}

	return b.String()
}

func displayType(t domain.TransactionType) string {
	s := strings.ToLower(string(t))
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
