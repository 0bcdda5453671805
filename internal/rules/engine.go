// Package rules provides the AML rule engine and its per-type evaluators.
package rules

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/cel-go/cel"
	"github.com/shopspring/decimal"

	"github.com/opensource-finance/heron/internal/domain"
)

// Engine applies the active rule set to transactions.
// The rule snapshot is replaced atomically by Reload; evaluation never
// mutates it, so one Engine is shared by all callers.
type Engine struct {
	mu      sync.RWMutex
	env     *cel.Env
	rules   []*CompiledRule
	store   domain.RuleStore
	history History
	logger  *slog.Logger
	now     func() time.Time
	onError func(ruleID string, err error)
}

// CompiledRule is a rule whose configuration has been decoded and validated.
type CompiledRule struct {
	Rule      *domain.Rule
	evaluator evaluator
}

// NewEngine creates a rule engine. Call Reload to load the active rules.
func NewEngine(store domain.RuleStore, history History, logger *slog.Logger) (*Engine, error) {
	if logger == nil {
		logger = slog.Default()
	}

	env, err := newEnv()
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	return &Engine{
		env:     env,
		store:   store,
		history: history,
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
	}, nil
}

// SetClock overrides the clock that anchors "today" and trailing windows.
func (e *Engine) SetClock(now func() time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.now = now
}

// OnRuleError registers a callback for isolated per-rule evaluation failures.
func (e *Engine) OnRuleError(fn func(ruleID string, err error)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onError = fn
}

// Reload replaces the rule snapshot with the store's active rules.
// Rules that fail to compile are logged and left out.
func (e *Engine) Reload(ctx context.Context) (int, error) {
	if e.store == nil {
		return 0, fmt.Errorf("%w: no rule store configured", domain.ErrConfiguration)
	}

	rules, err := e.store.ActiveRulesByPriority(ctx)
	if err != nil {
		return 0, fmt.Errorf("load active rules: %w", err)
	}

	n := e.LoadRules(rules)
	e.logger.Info("rules reloaded", "active", len(rules), "loaded", n)
	return n, nil
}

// LoadRules compiles the given rules and swaps them in as the snapshot.
// Non-active rules are ignored. It returns the number of rules loaded.
func (e *Engine) LoadRules(rules []*domain.Rule) int {
	compiled := make([]*CompiledRule, 0, len(rules))
	for _, r := range rules {
		if r.Status != domain.RuleActive {
			continue
		}

		c, err := e.compile(r)
		if err != nil {
			e.logger.Warn("skipping rule",
				"rule_id", r.ID,
				"rule_name", r.Name,
				"rule_type", r.Type,
				"error", err,
			)
			continue
		}
		compiled = append(compiled, c)
	}

	// Stable: equal priorities keep the store's secondary order.
	sort.SliceStable(compiled, func(i, j int) bool {
		return compiled[i].Rule.Priority < compiled[j].Rule.Priority
	})

	e.mu.Lock()
	e.rules = compiled
	e.mu.Unlock()

	return len(compiled)
}

// Validate compiles a rule without loading it.
func (e *Engine) Validate(rule *domain.Rule) error {
	if rule == nil {
		return fmt.Errorf("%w: rule is required", domain.ErrConfiguration)
	}
	_, err := e.compile(rule)
	return err
}

// Evaluate runs every loaded rule against the transaction in priority order.
//
// A rule that fails is logged and skipped. Store failures and context
// cancellation are not rule failures: they abort the evaluation.
func (e *Engine) Evaluate(ctx context.Context, tx *domain.Transaction, customer *domain.Customer) (*domain.RuleEvaluation, error) {
	if customer == nil {
		return nil, fmt.Errorf("%w: customer is required", domain.ErrValidation)
	}

	e.mu.RLock()
	rules := e.rules
	now := e.now()
	onError := e.onError
	e.mu.RUnlock()

	result := &domain.RuleEvaluation{
		Triggered: []domain.TriggeredRule{},
		Reasons:   []string{},
		RiskScore: decimal.Zero,
	}

	if len(rules) == 0 {
		e.logger.Warn("no active rules loaded", "tx_id", tx.ID)
		return result, nil
	}

	in := &input{tx: tx, customer: customer, now: now, history: e.history}

	for _, c := range rules {
		out, err := c.evaluator.evaluate(ctx, in)
		if err != nil {
			if errors.Is(err, domain.ErrStore) || ctx.Err() != nil {
				return nil, fmt.Errorf("rule %s: %w", c.Rule.ID, err)
			}
			e.logger.Error("rule evaluation failed",
				"rule_id", c.Rule.ID,
				"tx_id", tx.ID,
				"error", err,
			)
			if onError != nil {
				onError(c.Rule.ID, err)
			}
			continue
		}
		result.RulesEvaluated++

		if !out.triggered {
			continue
		}

		raw := clamp(out.score)
		result.Triggered = append(result.Triggered, domain.TriggeredRule{
			RuleID:      c.Rule.ID,
			Name:        c.Rule.Name,
			Description: c.Rule.Description,
			Type:        c.Rule.Type,
			Reason:      out.reason,
			RawScore:    raw,
			Weight:      c.Rule.Weight,
		})
		result.Reasons = append(result.Reasons, out.reason)
		result.RiskScore = result.RiskScore.Add(raw.Mul(c.Rule.Weight))

		e.logger.Debug("rule triggered",
			"rule_id", c.Rule.ID,
			"rule_name", c.Rule.Name,
			"tx_id", tx.ID,
			"raw_score", raw.String(),
		)
	}

	return result, nil
}

// RulesCount returns the number of loaded rules.
func (e *Engine) RulesCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.rules)
}

// LoadedRules returns the loaded rules in evaluation order.
func (e *Engine) LoadedRules() []*domain.Rule {
	e.mu.RLock()
	defer e.mu.RUnlock()

	rules := make([]*domain.Rule, 0, len(e.rules))
	for _, c := range e.rules {
		rules = append(rules, c.Rule)
	}
	return rules
}

func (e *Engine) compile(r *domain.Rule) (*CompiledRule, error) {
	if r.Weight.IsNegative() {
		return nil, fmt.Errorf("%w: weight must be >= 0", domain.ErrConfiguration)
	}

	var (
		ev  evaluator
		err error
	)
	switch r.Type {
	case domain.RuleThreshold:
		var cfg *ThresholdConfig
		if cfg, err = decodeThreshold(r.Config); err == nil {
			ev = &thresholdEvaluator{cfg: cfg}
		}
	case domain.RulePattern:
		var cfg *PatternConfig
		if cfg, err = decodePattern(r.Config); err == nil {
			ev = &patternEvaluator{cfg: cfg}
		}
	case domain.RuleBehavioral:
		var cfg *BehavioralConfig
		if cfg, err = decodeBehavioral(r.Config); err == nil {
			ev = &behavioralEvaluator{cfg: cfg}
		}
	case domain.RuleGeographic:
		var cfg *GeographicConfig
		if cfg, err = decodeGeographic(r.Config); err == nil {
			ev = &geographicEvaluator{cfg: cfg}
		}
	case domain.RuleExpression:
		var cfg *ExpressionConfig
		if cfg, err = decodeExpression(r.Config); err == nil {
			ev, err = compileExpression(e.env, cfg)
			if err != nil {
				err = fmt.Errorf("%w: %v", domain.ErrConfiguration, err)
			}
		}
	default:
		return nil, fmt.Errorf("%w: %q", domain.ErrUnknownRuleType, r.Type)
	}
	if err != nil {
		return nil, err
	}

	return &CompiledRule{Rule: r, evaluator: ev}, nil
}
