package rules

import (
	"context"
	"fmt"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"
	"github.com/shopspring/decimal"
)

// newEnv creates the CEL environment EXPRESSION rules compile against.
func newEnv() (*cel.Env, error) {
	return cel.NewEnv(
		cel.Variable("amount", cel.DoubleType),
		cel.Variable("currency", cel.StringType),
		cel.Variable("tx_type", cel.StringType),
		cel.Variable("sender_country", cel.StringType),
		cel.Variable("receiver_country", cel.StringType),
		cel.Variable("customer_country", cel.StringType),
		cel.Variable("customer_risk_level", cel.StringType),
		cel.Variable("hour", cel.IntType),
	)
}

type expressionEvaluator struct {
	cfg     *ExpressionConfig
	program cel.Program
}

func compileExpression(env *cel.Env, cfg *ExpressionConfig) (*expressionEvaluator, error) {
	ast, issues := env.Compile(cfg.Expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("failed to compile expression: %w", issues.Err())
	}

	outputType := ast.OutputType()
	if outputType != cel.BoolType && outputType != cel.DoubleType && outputType != cel.IntType {
		return nil, fmt.Errorf("expression must return bool, int, or double, got %s", outputType)
	}

	program, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create program: %w", err)
	}

	return &expressionEvaluator{cfg: cfg, program: program}, nil
}

func (e *expressionEvaluator) evaluate(ctx context.Context, in *input) (outcome, error) {
	activation := map[string]any{
		"amount":              in.tx.Amount.InexactFloat64(),
		"currency":            in.tx.Currency,
		"tx_type":             string(in.tx.Type),
		"sender_country":      in.tx.SenderCountry,
		"receiver_country":    in.tx.ReceiverCountry,
		"customer_country":    in.customer.Country,
		"customer_risk_level": string(in.customer.RiskLevel),
		"hour":                int64(in.tx.Timestamp.Hour()),
	}

	val, _, err := e.program.ContextEval(ctx, activation)
	if err != nil {
		return outcome{}, fmt.Errorf("evaluation error: %w", err)
	}

	var out outcome
	switch v := val.(type) {
	case types.Bool:
		if v {
			out.fire(e.cfg.Reason, e.cfg.Score)
		}
	default:
		if score := toScore(v); score.IsPositive() {
			out.fire(e.cfg.Reason, score)
		}
	}
	return out, nil
}

// toScore converts a numeric CEL value to a raw score.
func toScore(val ref.Val) decimal.Decimal {
	switch v := val.(type) {
	case types.Double:
		return decimal.NewFromFloat(float64(v))
	case types.Int:
		return decimal.NewFromInt(int64(v))
	default:
		return decimal.Zero
	}
}
