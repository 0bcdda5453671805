// Package monitor runs transactions through the AML pipeline: rule
// evaluation, risk scoring, customer risk refresh and alert generation.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/opensource-finance/heron/internal/alerting"
	"github.com/opensource-finance/heron/internal/domain"
)

var tracer = otel.Tracer("heron-monitor")

var suspiciousScore = decimal.NewFromInt(70)

// RuleEvaluator applies the active rule set to a transaction.
type RuleEvaluator interface {
	Evaluate(ctx context.Context, tx *domain.Transaction, customer *domain.Customer) (*domain.RuleEvaluation, error)
}

// RiskScorer computes transaction and customer risk scores.
type RiskScorer interface {
	ScoreTransaction(ctx context.Context, tx *domain.Transaction, customer *domain.Customer, ruleScore decimal.Decimal) (*domain.ScoreResult, error)
	ScoreCustomer(ctx context.Context, customer *domain.Customer) (*domain.ScoreResult, error)
}

// Store is the persistence the monitor writes through.
type Store interface {
	GetTransaction(ctx context.Context, txID string) (*domain.Transaction, error)
	SaveTransaction(ctx context.Context, tx *domain.Transaction) error
	GetCustomer(ctx context.Context, customerID string) (*domain.Customer, error)
	SaveCustomer(ctx context.Context, c *domain.Customer) error
	SaveAlert(ctx context.Context, alert *domain.Alert) error
	SaveRiskScore(ctx context.Context, rec *domain.RiskScoreRecord) error
}

// Recorder observes monitoring outcomes. A nil Recorder is ignored.
type Recorder interface {
	ObserveMonitoring(result *domain.MonitoringResult, elapsed time.Duration)
	ObserveFailure(stage string)
}

// Failure stages reported to the Recorder.
const (
	StageValidate = "validate"
	StageRules    = "rules"
	StageScore    = "score"
	StagePersist  = "persist"
	StageCustomer = "customer"
	StageAlert    = "alert"
)

// Monitor orchestrates one transaction at a time through the pipeline.
// Steps run strictly in order for a given transaction; distinct
// transactions may be monitored concurrently.
type Monitor struct {
	rules    RuleEvaluator
	scorer   RiskScorer
	alerts   *alerting.Generator
	store    Store
	recorder Recorder
	logger   *slog.Logger
	cfg      domain.MonitorConfig
	now      func() time.Time
}

// New creates a transaction monitor.
func New(rules RuleEvaluator, scorer RiskScorer, alerts *alerting.Generator, store Store, cfg domain.MonitorConfig, logger *slog.Logger) *Monitor {
	if logger == nil {
		logger = slog.Default()
	}
	if alerts == nil {
		alerts = alerting.NewGenerator()
	}
	if cfg.BatchWorkers <= 0 {
		cfg.BatchWorkers = 1
	}
	return &Monitor{
		rules:  rules,
		scorer: scorer,
		alerts: alerts,
		store:  store,
		logger: logger,
		cfg:    cfg,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// SetRecorder attaches a metrics recorder.
func (m *Monitor) SetRecorder(r Recorder) {
	m.recorder = r
}

// SetClock overrides the clock stamping results and customer updates.
func (m *Monitor) SetClock(now func() time.Time) {
	m.now = now
}

// Monitor records one transaction, evaluates and scores it against history
// that includes it, persists the outcome and refreshes its customer's risk. When an alert is warranted it is generated, attached to
// the result and saved; a failure to save it is logged and does not undo
// the transaction and customer updates.
func (m *Monitor) Monitor(ctx context.Context, tx *domain.Transaction) (*domain.MonitoringResult, error) {
	start := time.Now()

	ctx, span := tracer.Start(ctx, "monitor.transaction",
		trace.WithAttributes(
			attribute.String("tx.id", tx.ID),
			attribute.String("customer.id", tx.CustomerID),
		),
	)
	defer span.End()

	result, err := m.monitor(ctx, tx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		m.logger.Error("transaction monitoring failed",
			"tx_id", tx.ID,
			"customer_id", tx.CustomerID,
			"error", err,
		)
		return nil, err
	}

	elapsed := time.Since(start)
	result.ProcessMs = elapsed.Milliseconds()
	span.SetAttributes(
		attribute.String("risk.score", result.RiskScore.String()),
		attribute.Bool("tx.suspicious", result.IsSuspicious),
		attribute.Int("rules.triggered", len(result.TriggeredRules)),
	)
	if m.recorder != nil {
		m.recorder.ObserveMonitoring(result, elapsed)
	}

	m.logger.Info("transaction monitored",
		"tx_id", tx.ID,
		"customer_id", tx.CustomerID,
		"risk_score", result.RiskScore.String(),
		"suspicious", result.IsSuspicious,
		"rules_triggered", len(result.TriggeredRules),
		"alert_id", result.AlertID,
		"duration_ms", result.ProcessMs,
	)

	return result, nil
}

// MonitorByID loads a stored transaction and monitors it.
func (m *Monitor) MonitorByID(ctx context.Context, txID string) (*domain.MonitoringResult, error) {
	tx, err := m.store.GetTransaction(ctx, txID)
	if err != nil {
		return nil, err
	}
	return m.Monitor(ctx, tx)
}

func (m *Monitor) monitor(ctx context.Context, tx *domain.Transaction) (*domain.MonitoringResult, error) {
	if err := tx.Validate(); err != nil {
		m.fail(StageValidate)
		return nil, err
	}

	customer, err := m.store.GetCustomer(ctx, tx.CustomerID)
	if err != nil {
		m.fail(StageCustomer)
		return nil, fmt.Errorf("load customer %s: %w", tx.CustomerID, err)
	}

	// The transaction is part of its own history: daily, band and rapid
	// windows count it whether it arrived inline or was stored earlier.
	if err := m.store.SaveTransaction(ctx, tx); err != nil {
		m.fail(StagePersist)
		return nil, fmt.Errorf("record transaction: %w", err)
	}

	// 1. Rules
	eval, err := m.rules.Evaluate(ctx, tx, customer)
	if err != nil {
		m.fail(StageRules)
		return nil, fmt.Errorf("evaluate rules: %w", err)
	}

	// 2. Transaction score
	scored, err := m.scorer.ScoreTransaction(ctx, tx, customer, eval.RiskScore)
	if err != nil {
		m.fail(StageScore)
		return nil, fmt.Errorf("score transaction: %w", err)
	}

	// 3. Record the outcome on the transaction
	now := m.now()
	tx.RiskScore = decimal.NewNullDecimal(scored.Score)
	tx.IsSuspicious = len(eval.Triggered) > 0 || scored.Score.GreaterThanOrEqual(suspiciousScore)
	tx.FlaggedReasons = eval.Reasons
	if err := m.store.SaveTransaction(ctx, tx); err != nil {
		m.fail(StagePersist)
		return nil, fmt.Errorf("save transaction: %w", err)
	}
	m.saveScore(ctx, &domain.RiskScoreRecord{
		ID:            uuid.New().String(),
		CustomerID:    tx.CustomerID,
		TransactionID: tx.ID,
		Kind:          domain.ScoreTransaction,
		Score:         scored.Score,
		Factors:       scored.Factors,
		Method:        scored.Method,
		CalculatedAt:  now,
	})

	// 4. Customer risk, recomputed independently of the transaction score
	if _, err := m.refreshCustomer(ctx, customer, now); err != nil {
		m.fail(StageCustomer)
		return nil, err
	}

	result := &domain.MonitoringResult{
		TransactionID:     tx.ID,
		CustomerID:        tx.CustomerID,
		RiskScore:         scored.Score,
		IsSuspicious:      tx.IsSuspicious,
		TriggeredRules:    eval.RuleNames(),
		Reasons:           eval.Reasons,
		Factors:           scored.Factors,
		Severity:          alerting.SeverityFor(scored.Score, len(eval.Triggered)),
		CustomerRiskScore: customer.RiskScore,
		CustomerRiskLevel: customer.RiskLevel,
		ProcessedAt:       now,
	}

	// 5. Alert, best effort
	result.ShouldAlert = alerting.ShouldAlert(tx, len(eval.Triggered), scored.Score)
	if result.ShouldAlert {
		alert := m.alerts.Generate(tx, customer, eval.Triggered, scored.Score, result.Severity, eval.Reasons)
		result.Alert = alert
		result.AlertID = alert.ID
		if err := m.store.SaveAlert(ctx, alert); err != nil {
			m.fail(StageAlert)
			m.logger.Error("failed to save alert",
				"tx_id", tx.ID,
				"alert_id", alert.ID,
				"error", err,
			)
		}
	}

	return result, nil
}

// RefreshCustomer recomputes and persists a customer's risk score and level.
func (m *Monitor) RefreshCustomer(ctx context.Context, customerID string) (*domain.Customer, *domain.ScoreResult, error) {
	customer, err := m.store.GetCustomer(ctx, customerID)
	if err != nil {
		return nil, nil, err
	}
	scored, err := m.refreshCustomer(ctx, customer, m.now())
	if err != nil {
		return nil, nil, err
	}
	return customer, scored, nil
}

func (m *Monitor) refreshCustomer(ctx context.Context, customer *domain.Customer, now time.Time) (*domain.ScoreResult, error) {
	scored, err := m.scorer.ScoreCustomer(ctx, customer)
	if err != nil {
		return nil, fmt.Errorf("score customer %s: %w", customer.ID, err)
	}

	previous := customer.RiskLevel
	customer.RiskScore = scored.Score
	customer.RiskLevel = domain.RiskLevelForScore(scored.Score)
	customer.UpdatedAt = now
	if err := m.store.SaveCustomer(ctx, customer); err != nil {
		return nil, fmt.Errorf("save customer %s: %w", customer.ID, err)
	}

	m.saveScore(ctx, &domain.RiskScoreRecord{
		ID:           uuid.New().String(),
		CustomerID:   customer.ID,
		Kind:         domain.ScoreCustomer,
		Score:        scored.Score,
		Factors:      scored.Factors,
		Method:       scored.Method,
		CalculatedAt: now,
	})

	if previous != customer.RiskLevel {
		m.logger.Info("customer risk level changed",
			"customer_id", customer.ID,
			"from", previous,
			"to", customer.RiskLevel,
			"risk_score", scored.Score.String(),
		)
	}
	return scored, nil
}

// saveScore writes the audit snapshot. Snapshots are not part of the
// pipeline outcome, so a failure is only logged.
func (m *Monitor) saveScore(ctx context.Context, rec *domain.RiskScoreRecord) {
	if err := m.store.SaveRiskScore(ctx, rec); err != nil {
		m.logger.Warn("failed to save risk score",
			"customer_id", rec.CustomerID,
			"tx_id", rec.TransactionID,
			"kind", rec.Kind,
			"error", err,
		)
	}
}

func (m *Monitor) fail(stage string) {
	if m.recorder != nil {
		m.recorder.ObserveFailure(stage)
	}
}

// MonitorBatch monitors transactions independently on a bounded worker pool.
// A failing transaction is counted and does not stop the others. Details
// keep the input order of the transactions that succeeded.
func (m *Monitor) MonitorBatch(ctx context.Context, txs []*domain.Transaction) *domain.BatchResult {
	ctx, span := tracer.Start(ctx, "monitor.batch",
		trace.WithAttributes(attribute.Int("batch.size", len(txs))),
	)
	defer span.End()

	results := make([]*domain.MonitoringResult, len(txs))
	var (
		mu     sync.Mutex
		failed int
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.cfg.BatchWorkers)

	for i, tx := range txs {
		g.Go(func() error {
			res, err := m.monitorOne(gctx, tx)
			if err != nil {
				mu.Lock()
				failed++
				mu.Unlock()
				return nil
			}
			results[i] = res
			return nil
		})
	}
	_ = g.Wait()

	batch := &domain.BatchResult{Errors: failed}
	for _, res := range results {
		if res == nil {
			continue
		}
		batch.Processed++
		if res.IsSuspicious {
			batch.Suspicious++
		}
		if res.AlertID != "" {
			batch.AlertsGenerated++
		}
		batch.Details = append(batch.Details, res)
	}

	span.SetAttributes(
		attribute.Int("batch.processed", batch.Processed),
		attribute.Int("batch.errors", batch.Errors),
	)
	m.logger.Info("batch monitored",
		"total", len(txs),
		"processed", batch.Processed,
		"suspicious", batch.Suspicious,
		"alerts", batch.AlertsGenerated,
		"errors", batch.Errors,
	)
	return batch
}

// UnscoredSource lists transactions that were stored but never monitored.
type UnscoredSource interface {
	ListUnscoredTransactions(ctx context.Context, limit int) ([]*domain.Transaction, error)
}

// MonitorUnscored monitors up to limit stored transactions that have no score yet.
func (m *Monitor) MonitorUnscored(ctx context.Context, source UnscoredSource, limit int) (*domain.BatchResult, error) {
	txs, err := source.ListUnscoredTransactions(ctx, limit)
	if err != nil {
		return nil, err
	}
	return m.MonitorBatch(ctx, txs), nil
}

func (m *Monitor) monitorOne(ctx context.Context, tx *domain.Transaction) (res *domain.MonitoringResult, err error) {
	if m.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.cfg.Timeout)
		defer cancel()
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic monitoring %s: %v", tx.ID, r)
			m.logger.Error("panic during monitoring", "tx_id", tx.ID, "panic", r)
		}
	}()

	res, err = m.Monitor(ctx, tx)
	if errors.Is(err, context.Canceled) {
		m.logger.Warn("batch monitoring cancelled", "tx_id", tx.ID)
	}
	return res, err
}
