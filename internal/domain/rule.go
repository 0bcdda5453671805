package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// RuleType selects the evaluator a rule is dispatched to.
type RuleType string

const (
	RuleThreshold  RuleType = "THRESHOLD"
	RulePattern    RuleType = "PATTERN"
	RuleBehavioral RuleType = "BEHAVIORAL"
	RuleGeographic RuleType = "GEOGRAPHIC"

	// RuleExpression evaluates a CEL expression over transaction fields.
	RuleExpression RuleType = "EXPRESSION"
)

// RuleStatus controls participation in evaluation. Only ACTIVE rules are loaded.
type RuleStatus string

const (
	RuleActive   RuleStatus = "ACTIVE"
	RuleInactive RuleStatus = "INACTIVE"
	RuleDraft    RuleStatus = "DRAFT"
)

// Rule is an administered AML detection rule.
type Rule struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Description string     `json:"description"`
	Type        RuleType   `json:"type"`
	Status      RuleStatus `json:"status"`

	// Priority orders evaluation, ascending.
	Priority int `json:"priority"`

	// Weight multiplies the rule's raw 0-100 score. Must be >= 0.
	Weight decimal.Decimal `json:"weight"`

	// Config holds type-specific settings, decoded and validated at load.
	Config map[string]any `json:"config"`

	CreatedBy string    `json:"createdBy,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// TriggeredRule records a rule that fired for one transaction.
type TriggeredRule struct {
	RuleID      string          `json:"ruleId"`
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Type        RuleType        `json:"type"`
	Reason      string          `json:"reason"`
	RawScore    decimal.Decimal `json:"rawScore"`
	Weight      decimal.Decimal `json:"weight"`
}

// Contribution is the weighted score the rule adds to the rule-derived total.
func (t TriggeredRule) Contribution() decimal.Decimal {
	return t.RawScore.Mul(t.Weight)
}

// RuleEvaluation is the Rule Engine output for one transaction.
type RuleEvaluation struct {
	Triggered []TriggeredRule `json:"triggered"`
	Reasons   []string        `json:"reasons"`
	RiskScore decimal.Decimal `json:"riskScore"`

	// RulesEvaluated counts the rules that ran, including non-triggering ones.
	RulesEvaluated int `json:"rulesEvaluated"`
}

// RuleNames returns triggered rule names in evaluation order.
func (e *RuleEvaluation) RuleNames() []string {
	names := make([]string, 0, len(e.Triggered))
	for _, r := range e.Triggered {
		names = append(names, r.Name)
	}
	return names
}
