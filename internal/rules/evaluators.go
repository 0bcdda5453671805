package rules

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/shopspring/decimal"

	"github.com/opensource-finance/heron/internal/domain"
)

// History is the slice of the transaction store the evaluators read.
type History interface {
	CountCompleted(ctx context.Context, customerID string, from, to time.Time) (int, error)
	SumCompleted(ctx context.Context, customerID string, from, to time.Time) (decimal.Decimal, error)
	AvgCompleted(ctx context.Context, customerID string, from, to time.Time) (decimal.NullDecimal, error)
	CountCompletedInBand(ctx context.Context, customerID string, from, to time.Time, band domain.AmountBand) (int, error)
}

// input is what an evaluator sees for one transaction.
type input struct {
	tx       *domain.Transaction
	customer *domain.Customer
	now      time.Time
	history  History
}

// outcome is a single rule's verdict. Score is the raw, unweighted 0-100 score.
type outcome struct {
	triggered bool
	reason    string
	score     decimal.Decimal
}

// fire marks the outcome triggered, replacing reason and score.
func (o *outcome) fire(reason string, score decimal.Decimal) {
	o.triggered = true
	o.reason = reason
	o.score = score
}

type evaluator interface {
	evaluate(ctx context.Context, in *input) (outcome, error)
}

var (
	hundred    = decimal.NewFromInt(100)
	bandFactor = decimal.RequireFromString("0.9")
	day        = 24 * time.Hour
)

type thresholdEvaluator struct {
	cfg *ThresholdConfig
}

func (e *thresholdEvaluator) evaluate(ctx context.Context, in *input) (outcome, error) {
	var out outcome
	amount := in.tx.Amount

	if th := e.cfg.AmountThreshold; th != nil && amount.GreaterThanOrEqual(*th) {
		out.fire(
			fmt.Sprintf("Transaction amount %s exceeds threshold %s", amount, th),
			scaled(amount, *th, 50),
		)
	}

	today := startOfDay(in.now)

	if e.cfg.DailyCountThreshold != nil {
		th := *e.cfg.DailyCountThreshold
		count, err := in.history.CountCompleted(ctx, in.tx.CustomerID, today, in.now)
		if err != nil {
			return outcome{}, err
		}
		if count >= th {
			out.fire(
				fmt.Sprintf("Daily transaction count %d exceeds threshold %d", count, th),
				decimal.Max(out.score, scaled(decimal.NewFromInt(int64(count)), decimal.NewFromInt(int64(th)), 60)),
			)
		}
	}

	if th := e.cfg.DailyAmountThreshold; th != nil {
		total, err := in.history.SumCompleted(ctx, in.tx.CustomerID, today, in.now)
		if err != nil {
			return outcome{}, err
		}
		if total.GreaterThanOrEqual(*th) {
			out.fire(
				fmt.Sprintf("Daily transaction amount %s exceeds threshold %s", total, th),
				decimal.Max(out.score, scaled(total, *th, 50)),
			)
		}
	}

	return out, nil
}

type patternEvaluator struct {
	cfg *PatternConfig
}

func (e *patternEvaluator) evaluate(ctx context.Context, in *input) (outcome, error) {
	var out outcome

	if th := e.cfg.StructuringThreshold; th != nil {
		band := domain.AmountBand{Min: th.Mul(bandFactor), Max: *th}
		if band.Contains(in.tx.Amount) {
			from := in.now.Add(-time.Duration(e.cfg.LookbackDays) * day)
			similar, err := in.history.CountCompletedInBand(ctx, in.tx.CustomerID, from, in.now, band)
			if err != nil {
				return outcome{}, err
			}
			if similar >= e.cfg.StructuringCount {
				out.fire(
					fmt.Sprintf("Potential structuring: %d transactions just below threshold", similar),
					decimal.Min(hundred, decimal.NewFromInt(int64(similar*20))),
				)
			}
		}
	}

	// The rapid check overrides structuring's score when both fire.
	if e.cfg.RapidTransactions {
		from := in.now.Add(-time.Duration(e.cfg.RapidMinutes) * time.Minute)
		recent, err := in.history.CountCompleted(ctx, in.tx.CustomerID, from, in.now)
		if err != nil {
			return outcome{}, err
		}
		if recent >= e.cfg.RapidCount {
			out.fire(
				fmt.Sprintf("Rapid transactions: %d transactions in %d minutes", recent, e.cfg.RapidMinutes),
				decimal.Min(hundred, decimal.NewFromInt(int64(recent*15))),
			)
		}
	}

	return out, nil
}

type behavioralEvaluator struct {
	cfg *BehavioralConfig
}

func (e *behavioralEvaluator) evaluate(ctx context.Context, in *input) (outcome, error) {
	var out outcome
	ts := in.tx.Timestamp

	if th := e.cfg.AmountIncreaseThreshold; th != nil {
		from := ts.Add(-time.Duration(e.cfg.LookbackDays) * day)
		avg, err := in.history.AvgCompleted(ctx, in.tx.CustomerID, from, ts)
		if err != nil {
			return outcome{}, err
		}
		if avg.Valid && avg.Decimal.IsPositive() {
			ratio := in.tx.Amount.Div(avg.Decimal)
			if ratio.GreaterThanOrEqual(*th) {
				out.fire(
					fmt.Sprintf("Sudden amount increase: %s vs avg %s (%sx)",
						in.tx.Amount, avg.Decimal.StringFixed(2), ratio.StringFixed(2)),
					decimal.Min(hundred, ratio.Mul(decimal.NewFromInt(20))),
				)
			}
		}
	}

	if e.cfg.PatternChangeDetection {
		recentStart := ts.Add(-7 * day)
		previousStart := recentStart.Add(-7 * day)

		recent, err := in.history.CountCompleted(ctx, in.tx.CustomerID, recentStart, ts)
		if err != nil {
			return outcome{}, err
		}
		previous, err := in.history.CountCompleted(ctx, in.tx.CustomerID, previousStart, recentStart)
		if err != nil {
			return outcome{}, err
		}
		if previous > 0 {
			ratio := decimal.NewFromInt(int64(recent)).Div(decimal.NewFromInt(int64(previous)))
			if ratio.GreaterThanOrEqual(e.cfg.PatternChangeThreshold) {
				out.fire(
					fmt.Sprintf("Transaction pattern change: %d vs %d transactions", recent, previous),
					decimal.Max(out.score, decimal.Min(hundred, ratio.Mul(decimal.NewFromInt(25)))),
				)
			}
		}
	}

	return out, nil
}

type geographicEvaluator struct {
	cfg *GeographicConfig
}

func (e *geographicEvaluator) evaluate(_ context.Context, in *input) (outcome, error) {
	var out outcome
	receiver := in.tx.ReceiverCountry

	if receiver != "" && slices.Contains(e.cfg.HighRiskCountries, receiver) {
		out.fire(fmt.Sprintf("Transaction to high-risk country: %s", receiver), decimal.NewFromInt(70))
	}

	if th := e.cfg.CrossBorderThreshold; th != nil && in.tx.IsCrossBorder(in.customer.Country) {
		if in.tx.Amount.GreaterThanOrEqual(*th) {
			out.fire(
				fmt.Sprintf("Large cross-border transaction: %s from %s to %s", in.tx.Amount, in.customer.Country, receiver),
				decimal.Max(out.score, scaled(in.tx.Amount, *th, 40)),
			)
		}
	}

	return out, nil
}

// scaled returns min(100, value/threshold * factor).
func scaled(value, threshold decimal.Decimal, factor int64) decimal.Decimal {
	return decimal.Min(hundred, value.Div(threshold).Mul(decimal.NewFromInt(factor)))
}

// clamp bounds a raw score to [0, 100].
func clamp(score decimal.Decimal) decimal.Decimal {
	return decimal.Max(decimal.Zero, decimal.Min(hundred, score))
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
