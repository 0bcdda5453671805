package app

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/opensource-finance/heron/internal/domain"
	"github.com/opensource-finance/heron/internal/repository"
	"github.com/opensource-finance/heron/internal/rules"
	"github.com/opensource-finance/heron/internal/scoring"
)

// SeedResult reports what happened to one sample rule.
type SeedResult struct {
	Name    string
	Created bool
}

// SampleRules returns the starter rule set. Amounts are in IRR.
func SampleRules() []*domain.Rule {
	return []*domain.Rule{
		{
			Name:        "High Amount Threshold",
			Description: "Flag transactions exceeding 10,000,000 IRR",
			Type:        domain.RuleThreshold,
			Priority:    1,
			Weight:      decimal.RequireFromString("1.5"),
			Config:      map[string]any{"amount_threshold": 10000000},
		},
		{
			Name:        "Daily Transaction Count Threshold",
			Description: "Flag customers with more than 20 transactions per day",
			Type:        domain.RuleThreshold,
			Priority:    2,
			Weight:      decimal.RequireFromString("1.2"),
			Config:      map[string]any{"daily_count_threshold": 20},
		},
		{
			Name:        "Structuring Detection",
			Description: "Detect potential structuring (multiple transactions just below threshold)",
			Type:        domain.RulePattern,
			Priority:    3,
			Weight:      decimal.NewFromInt(2),
			Config: map[string]any{
				"structuring_threshold": 10000000,
				"structuring_count":     3,
				"lookback_days":         7,
			},
		},
		{
			Name:        "Rapid Transaction Detection",
			Description: "Detect rapid successive transactions (potential layering)",
			Type:        domain.RulePattern,
			Priority:    4,
			Weight:      decimal.RequireFromString("1.8"),
			Config: map[string]any{
				"rapid_transaction_threshold": true,
				"rapid_transaction_minutes":   10,
				"rapid_transaction_count":     5,
			},
		},
		{
			Name:        "Behavioral Change Detection",
			Description: "Detect sudden changes in transaction behavior",
			Type:        domain.RuleBehavioral,
			Priority:    5,
			Weight:      decimal.RequireFromString("1.5"),
			Config: map[string]any{
				"amount_increase_threshold": 3.0,
				"lookback_days":             30,
				"pattern_change_detection":  true,
				"pattern_change_threshold":  2.0,
			},
		},
		{
			Name:        "High-Risk Country Detection",
			Description: "Flag transactions to high-risk countries",
			Type:        domain.RuleGeographic,
			Priority:    6,
			Weight:      decimal.RequireFromString("1.3"),
			Config: map[string]any{
				"high_risk_countries":    append([]string(nil), scoring.DefaultHighRiskCountries...),
				"cross_border_threshold": 5000000,
			},
		},
	}
}

// SeedRules stores the sample rules as ACTIVE. Rules whose name already
// exists are left untouched.
func (a *App) SeedRules(ctx context.Context) ([]SeedResult, error) {
	repo, err := repository.New(a.Config.Repository)
	if err != nil {
		return nil, fmt.Errorf("open repository: %w", err)
	}
	defer repo.Close()

	engine, err := rules.NewEngine(repo, repo, a.Logger)
	if err != nil {
		return nil, fmt.Errorf("create rule engine: %w", err)
	}
	return seedRules(ctx, repo, engine, time.Now().UTC())
}

func seedRules(ctx context.Context, store domain.RuleStore, engine *rules.Engine, now time.Time) ([]SeedResult, error) {
	existing, err := store.ListRules(ctx)
	if err != nil {
		return nil, err
	}
	names := make(map[string]bool, len(existing))
	for _, r := range existing {
		names[r.Name] = true
	}

	var results []SeedResult
	for _, rule := range SampleRules() {
		if names[rule.Name] {
			results = append(results, SeedResult{Name: rule.Name})
			continue
		}
		rule.ID = uuid.New().String()
		rule.Status = domain.RuleActive
		rule.CreatedBy = "seed-rules"
		rule.CreatedAt = now
		rule.UpdatedAt = now
		if err := engine.Validate(rule); err != nil {
			return results, fmt.Errorf("sample rule %q: %w", rule.Name, err)
		}
		if err := store.SaveRule(ctx, rule); err != nil {
			return results, fmt.Errorf("save rule %q: %w", rule.Name, err)
		}
		results = append(results, SeedResult{Name: rule.Name, Created: true})
	}
	return results, nil
}
