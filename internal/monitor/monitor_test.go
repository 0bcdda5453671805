package monitor

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/opensource-finance/heron/internal/alerting"
	"github.com/opensource-finance/heron/internal/domain"
	"github.com/opensource-finance/heron/internal/repository"
	"github.com/opensource-finance/heron/internal/rules"
	"github.com/opensource-finance/heron/internal/scoring"
)

var testNow = time.Date(2025, 3, 14, 15, 0, 0, 0, time.UTC)

type pipeline struct {
	repo    *repository.SQLRepository
	engine  *rules.Engine
	monitor *Monitor
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newPipeline(t *testing.T, store func(*repository.SQLRepository) Store) *pipeline {
	t.Helper()

	tmpFile, err := os.CreateTemp("", "heron-monitor-*.db")
	if err != nil {
		t.Fatalf("failed to create temp file: %v", err)
	}
	tmpPath := tmpFile.Name()
	tmpFile.Close()
	t.Cleanup(func() {
		os.Remove(tmpPath)
		os.Remove(tmpPath + "-wal")
		os.Remove(tmpPath + "-shm")
	})

	repo, err := repository.New(domain.RepositoryConfig{Driver: "sqlite", SQLitePath: tmpPath})
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })

	clock := func() time.Time { return testNow }
	logger := quietLogger()

	engine, err := rules.NewEngine(repo, repo, logger)
	if err != nil {
		t.Fatalf("failed to create engine: %v", err)
	}
	engine.SetClock(clock)

	scorer := scoring.NewScorer(repo, nil, logger)
	scorer.SetClock(clock)

	gen := alerting.NewGenerator()
	gen.SetClock(clock)

	var s Store = repo
	if store != nil {
		s = store(repo)
	}

	m := New(engine, scorer, gen, s, domain.MonitorConfig{BatchWorkers: 4, Timeout: 5 * time.Second}, logger)
	m.SetClock(clock)

	return &pipeline{repo: repo, engine: engine, monitor: m}
}

func (p *pipeline) addCustomer(t *testing.T, id string) *domain.Customer {
	t.Helper()
	c := domain.NewCustomer(id, "AE", testNow.AddDate(-2, 0, 0))
	c.FirstName = "Reza"
	c.LastName = "Ahmadi"
	if err := p.repo.SaveCustomer(context.Background(), c); err != nil {
		t.Fatalf("SaveCustomer failed: %v", err)
	}
	return c
}

func (p *pipeline) addThresholdRule(t *testing.T) {
	t.Helper()
	rule := &domain.Rule{
		ID:       "rule-large",
		Name:     "Large Transaction",
		Type:     domain.RuleThreshold,
		Status:   domain.RuleActive,
		Priority: 1,
		Weight:   decimal.RequireFromString("1.5"),
		Config:   map[string]any{"amount_threshold": 10_000_000},
	}
	ctx := context.Background()
	if err := p.repo.SaveRule(ctx, rule); err != nil {
		t.Fatalf("SaveRule failed: %v", err)
	}
	if n, err := p.engine.Reload(ctx); err != nil || n != 1 {
		t.Fatalf("Reload: n=%d err=%v", n, err)
	}
}

func newTx(id, customerID, amount string) *domain.Transaction {
	return &domain.Transaction{
		ID:         id,
		CustomerID: customerID,
		Type:       domain.TxTransfer,
		Status:     domain.TxCompleted,
		Amount:     decimal.RequireFromString(amount),
		Currency:   "IRR",
		Timestamp:  testNow.Add(-time.Hour),
		CreatedAt:  testNow.Add(-time.Hour),
	}
}

// recorder counts observations.
type recorder struct {
	mu        sync.Mutex
	monitored int
	failures  map[string]int
}

func (r *recorder) ObserveMonitoring(*domain.MonitoringResult, time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.monitored++
}

func (r *recorder) ObserveFailure(stage string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failures == nil {
		r.failures = map[string]int{}
	}
	r.failures[stage]++
}

// failingAlerts rejects every alert write.
type failingAlerts struct {
	Store
}

func (failingAlerts) SaveAlert(context.Context, *domain.Alert) error {
	return errors.New("alerts table unavailable")
}

func TestMonitorLargeTransaction(t *testing.T) {
	p := newPipeline(t, nil)
	p.addCustomer(t, "cust-1")
	p.addThresholdRule(t)
	rec := &recorder{}
	p.monitor.SetRecorder(rec)
	ctx := context.Background()

	tx := newTx("tx-1", "cust-1", "15000000")
	result, err := p.monitor.Monitor(ctx, tx)
	if err != nil {
		t.Fatalf("Monitor failed: %v", err)
	}

	t.Run("Result", func(t *testing.T) {
		if len(result.TriggeredRules) != 1 || result.TriggeredRules[0] != "Large Transaction" {
			t.Errorf("expected Large Transaction to trigger, got %v", result.TriggeredRules)
		}
		if !result.IsSuspicious {
			t.Error("expected suspicious")
		}
		if !result.ShouldAlert {
			t.Error("expected alert decision")
		}
		if result.RiskScore.IsNegative() || result.RiskScore.GreaterThan(decimal.NewFromInt(100)) {
			t.Errorf("score out of range: %s", result.RiskScore)
		}
		if want := alerting.SeverityFor(result.RiskScore, 1); result.Severity != want {
			t.Errorf("expected severity %s, got %s", want, result.Severity)
		}
		if !strings.HasPrefix(result.AlertID, "ALT-20250314-") {
			t.Errorf("unexpected alert id %q", result.AlertID)
		}
		if f, ok := result.Factors[scoring.FactorRules]; !ok || f.Score.String() != "100" {
			t.Errorf("expected clamped rule violations factor, got %+v", f)
		}
	})

	t.Run("TransactionPersisted", func(t *testing.T) {
		got, err := p.repo.GetTransaction(ctx, "tx-1")
		if err != nil {
			t.Fatalf("GetTransaction failed: %v", err)
		}
		if !got.RiskScore.Valid || !got.RiskScore.Decimal.Equal(result.RiskScore) {
			t.Errorf("expected stored score %s, got %v", result.RiskScore, got.RiskScore)
		}
		if !got.IsSuspicious || len(got.FlaggedReasons) != 1 {
			t.Errorf("expected flagged transaction, got %+v", got)
		}
	})

	t.Run("CustomerRefreshed", func(t *testing.T) {
		c, err := p.repo.GetCustomer(ctx, "cust-1")
		if err != nil {
			t.Fatalf("GetCustomer failed: %v", err)
		}
		if !c.RiskScore.Equal(result.CustomerRiskScore) {
			t.Errorf("expected customer score %s, got %s", result.CustomerRiskScore, c.RiskScore)
		}
		if c.RiskLevel != domain.RiskLevelForScore(c.RiskScore) {
			t.Errorf("level %s does not match score %s", c.RiskLevel, c.RiskScore)
		}
	})

	t.Run("AlertPersisted", func(t *testing.T) {
		a, err := p.repo.GetAlert(ctx, result.AlertID)
		if err != nil {
			t.Fatalf("GetAlert failed: %v", err)
		}
		if a.Status != domain.AlertOpen || a.TransactionID != "tx-1" {
			t.Errorf("unexpected alert: %+v", a)
		}
		if len(a.RuleIDs) != 1 || a.RuleIDs[0] != "rule-large" {
			t.Errorf("expected rule ids [rule-large], got %v", a.RuleIDs)
		}
	})

	t.Run("ScoresAudited", func(t *testing.T) {
		recs, err := p.repo.ListRiskScores(ctx, "cust-1", 10)
		if err != nil {
			t.Fatalf("ListRiskScores failed: %v", err)
		}
		if len(recs) != 2 {
			t.Errorf("expected transaction and customer snapshots, got %d", len(recs))
		}
	})

	t.Run("Recorded", func(t *testing.T) {
		if rec.monitored != 1 {
			t.Errorf("expected 1 observation, got %d", rec.monitored)
		}
	})
}

func TestMonitorQuietTransaction(t *testing.T) {
	p := newPipeline(t, nil)
	p.addCustomer(t, "cust-1")
	p.addThresholdRule(t)

	result, err := p.monitor.Monitor(context.Background(), newTx("tx-1", "cust-1", "250000"))
	if err != nil {
		t.Fatalf("Monitor failed: %v", err)
	}
	if len(result.TriggeredRules) != 0 {
		t.Errorf("expected no rules, got %v", result.TriggeredRules)
	}
	if result.ShouldAlert || result.AlertID != "" || result.Alert != nil {
		t.Errorf("expected no alert, got %+v", result)
	}
	if result.IsSuspicious {
		t.Error("expected not suspicious")
	}
	if result.Severity == "" {
		t.Error("expected severity to be assigned")
	}
}

func TestMonitorRejectsInvalidTransaction(t *testing.T) {
	p := newPipeline(t, nil)
	p.addCustomer(t, "cust-1")
	rec := &recorder{}
	p.monitor.SetRecorder(rec)

	tx := newTx("tx-neg", "cust-1", "-10")
	_, err := p.monitor.Monitor(context.Background(), tx)
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
	if _, err := p.repo.GetTransaction(context.Background(), "tx-neg"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("invalid transaction must not be stored, got %v", err)
	}
	if rec.failures[StageValidate] != 1 {
		t.Errorf("expected validate failure recorded, got %v", rec.failures)
	}
}

func TestMonitorUnknownCustomer(t *testing.T) {
	p := newPipeline(t, nil)

	_, err := p.monitor.Monitor(context.Background(), newTx("tx-1", "ghost", "100"))
	if !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestMonitorAlertFailureKeepsScoring(t *testing.T) {
	p := newPipeline(t, func(r *repository.SQLRepository) Store { return failingAlerts{r} })
	p.addCustomer(t, "cust-1")
	p.addThresholdRule(t)
	ctx := context.Background()

	result, err := p.monitor.Monitor(ctx, newTx("tx-1", "cust-1", "15000000"))
	if err != nil {
		t.Fatalf("alert failure must not fail monitoring: %v", err)
	}
	if result.Alert == nil {
		t.Fatal("expected generated alert on the result")
	}

	got, err := p.repo.GetTransaction(ctx, "tx-1")
	if err != nil {
		t.Fatalf("GetTransaction failed: %v", err)
	}
	if !got.RiskScore.Valid || !got.IsSuspicious {
		t.Error("transaction outcome should persist despite alert failure")
	}
	if _, err := p.repo.GetAlert(ctx, result.AlertID); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("expected alert to be missing, got %v", err)
	}
}

func TestMonitorByID(t *testing.T) {
	p := newPipeline(t, nil)
	p.addCustomer(t, "cust-1")
	ctx := context.Background()

	if err := p.repo.SaveTransaction(ctx, newTx("tx-1", "cust-1", "500")); err != nil {
		t.Fatalf("SaveTransaction failed: %v", err)
	}
	result, err := p.monitor.MonitorByID(ctx, "tx-1")
	if err != nil {
		t.Fatalf("MonitorByID failed: %v", err)
	}
	if result.TransactionID != "tx-1" {
		t.Errorf("unexpected result %+v", result)
	}

	if _, err := p.monitor.MonitorByID(ctx, "missing"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestMonitorBatch(t *testing.T) {
	p := newPipeline(t, nil)
	p.addCustomer(t, "cust-1")
	p.addCustomer(t, "cust-2")
	p.addThresholdRule(t)

	txs := []*domain.Transaction{
		newTx("tx-1", "cust-1", "15000000"),
		newTx("tx-2", "ghost", "100"),
		newTx("tx-3", "cust-2", "100"),
		newTx("tx-4", "cust-2", "-5"),
	}

	batch := p.monitor.MonitorBatch(context.Background(), txs)
	if batch.Processed != 2 {
		t.Errorf("expected 2 processed, got %d", batch.Processed)
	}
	if batch.Errors != 2 {
		t.Errorf("expected 2 errors, got %d", batch.Errors)
	}
	if batch.Suspicious != 1 || batch.AlertsGenerated != 1 {
		t.Errorf("expected 1 suspicious and 1 alert, got %d/%d", batch.Suspicious, batch.AlertsGenerated)
	}
	if len(batch.Details) != 2 || batch.Details[0].TransactionID != "tx-1" {
		t.Errorf("unexpected details: %+v", batch.Details)
	}
}

func TestMonitorUnscored(t *testing.T) {
	p := newPipeline(t, nil)
	p.addCustomer(t, "cust-1")
	ctx := context.Background()

	for _, tx := range []*domain.Transaction{newTx("tx-1", "cust-1", "100"), newTx("tx-2", "cust-1", "200")} {
		if err := p.repo.SaveTransaction(ctx, tx); err != nil {
			t.Fatalf("SaveTransaction failed: %v", err)
		}
	}

	batch, err := p.monitor.MonitorUnscored(ctx, p.repo, 10)
	if err != nil {
		t.Fatalf("MonitorUnscored failed: %v", err)
	}
	if batch.Processed != 2 {
		t.Errorf("expected 2 processed, got %d", batch.Processed)
	}

	left, err := p.repo.ListUnscoredTransactions(ctx, 10)
	if err != nil {
		t.Fatalf("ListUnscoredTransactions failed: %v", err)
	}
	if len(left) != 0 {
		t.Errorf("expected no unscored transactions, got %d", len(left))
	}
}

func TestRefreshCustomer(t *testing.T) {
	p := newPipeline(t, nil)
	p.addCustomer(t, "cust-1")

	c, scored, err := p.monitor.RefreshCustomer(context.Background(), "cust-1")
	if err != nil {
		t.Fatalf("RefreshCustomer failed: %v", err)
	}
	if !c.RiskScore.Equal(scored.Score) {
		t.Errorf("customer score %s does not match %s", c.RiskScore, scored.Score)
	}
	if c.RiskLevel != domain.RiskLevelForScore(scored.Score) {
		t.Errorf("unexpected level %s for %s", c.RiskLevel, scored.Score)
	}
}

func (p *pipeline) addDailyCountRule(t *testing.T) {
	t.Helper()
	rule := &domain.Rule{
		ID:       "rule-daily",
		Name:     "Daily Count",
		Type:     domain.RuleThreshold,
		Status:   domain.RuleActive,
		Priority: 1,
		Weight:   decimal.NewFromInt(1),
		Config:   map[string]any{"daily_count_threshold": 1},
	}
	ctx := context.Background()
	if err := p.repo.SaveRule(ctx, rule); err != nil {
		t.Fatalf("SaveRule failed: %v", err)
	}
	if _, err := p.engine.Reload(ctx); err != nil {
		t.Fatalf("Reload failed: %v", err)
	}
}

func TestMonitorCountsTransactionInItsOwnHistory(t *testing.T) {
	p := newPipeline(t, nil)
	p.addCustomer(t, "cust-1")
	p.addDailyCountRule(t)
	ctx := context.Background()

	result, err := p.monitor.Monitor(ctx, newTx("tx-1", "cust-1", "500"))
	if err != nil {
		t.Fatalf("Monitor failed: %v", err)
	}
	if len(result.TriggeredRules) != 1 || result.TriggeredRules[0] != "Daily Count" {
		t.Errorf("expected the first transaction of the day to count, got %v", result.TriggeredRules)
	}
}

func TestRemonitorIsIdempotent(t *testing.T) {
	p := newPipeline(t, nil)
	p.addCustomer(t, "cust-1")
	p.addDailyCountRule(t)
	ctx := context.Background()

	// Settle the customer's level so the history factor is stable.
	if _, _, err := p.monitor.RefreshCustomer(ctx, "cust-1"); err != nil {
		t.Fatalf("RefreshCustomer failed: %v", err)
	}

	first, err := p.monitor.Monitor(ctx, newTx("tx-1", "cust-1", "500"))
	if err != nil {
		t.Fatalf("Monitor failed: %v", err)
	}
	second, err := p.monitor.MonitorByID(ctx, "tx-1")
	if err != nil {
		t.Fatalf("MonitorByID failed: %v", err)
	}

	if !first.RiskScore.Equal(second.RiskScore) {
		t.Errorf("score changed on re-monitor: %s then %s", first.RiskScore, second.RiskScore)
	}
	if strings.Join(first.TriggeredRules, ",") != strings.Join(second.TriggeredRules, ",") {
		t.Errorf("triggers changed on re-monitor: %v then %v", first.TriggeredRules, second.TriggeredRules)
	}
	if first.CustomerRiskLevel != second.CustomerRiskLevel {
		t.Errorf("customer level changed: %s then %s", first.CustomerRiskLevel, second.CustomerRiskLevel)
	}
}
