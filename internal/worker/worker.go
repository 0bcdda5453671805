// Package worker monitors ingested transactions asynchronously off the event bus.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/opensource-finance/heron/internal/domain"
)

// Monitorer runs the monitoring pipeline for a stored transaction.
type Monitorer interface {
	MonitorByID(ctx context.Context, txID string) (*domain.MonitoringResult, error)
}

// ResultCache stores monitoring results for later lookup.
type ResultCache interface {
	SetResult(ctx context.Context, txID string, result *domain.MonitoringResult, ttl time.Duration) error
}

// Worker consumes TopicTransactionIngested, monitors each transaction and
// publishes the outcome on TopicTransactionMonitored and TopicAlertRaised.
//
// A worker holds one subscription, so each event is monitored once per
// process; across processes a NATS queue group does the same. Events are
// handled on a bounded pool, and a full pool holds back the subscription.
type Worker struct {
	bus       domain.EventBus
	monitor   Monitorer
	cache     ResultCache
	resultTTL time.Duration
	logger    *slog.Logger

	mu            sync.Mutex
	subscriptions []domain.Subscription
	ctx           context.Context
	cancel        context.CancelFunc
	inflight      errgroup.Group

	processed atomic.Int64
	failed    atomic.Int64
	alerts    atomic.Int64
}

// Config holds worker configuration.
type Config struct {
	// Concurrency bounds how many ingested transactions are monitored at once.
	Concurrency int
}

// NewWorker creates a new async worker. cache may be nil.
func NewWorker(bus domain.EventBus, monitor Monitorer, cache ResultCache, resultTTL time.Duration, logger *slog.Logger) *Worker {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		bus:       bus,
		monitor:   monitor,
		cache:     cache,
		resultTTL: resultTTL,
		logger:    logger,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Start subscribes to the ingest topic. Calling Start on a running worker
// is an error.
func (w *Worker) Start(cfg Config) error {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.subscriptions) > 0 {
		return errors.New("worker already started")
	}

	w.inflight.SetLimit(cfg.Concurrency)
	sub, err := w.bus.Subscribe(w.ctx, domain.TopicTransactionIngested, w.handleIngested)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", domain.TopicTransactionIngested, err)
	}
	w.subscriptions = append(w.subscriptions, sub)

	w.logger.Info("worker started",
		"topic", domain.TopicTransactionIngested,
		"concurrency", cfg.Concurrency,
	)
	return nil
}

func (w *Worker) handleIngested(ctx context.Context, msg *domain.Message) error {
	var ev domain.IngestedEvent
	if err := json.Unmarshal(msg.Payload, &ev); err != nil {
		w.failed.Add(1)
		w.logger.Error("failed to parse ingested event",
			"message_id", msg.ID,
			"error", err,
		)
		return err
	}
	if ev.TransactionID == "" {
		w.failed.Add(1)
		return fmt.Errorf("%w: ingested event without transaction id", domain.ErrValidation)
	}

	w.inflight.Go(func() error {
		// Process logs and counts its own failures.
		_ = w.Process(ctx, ev.TransactionID)
		return nil
	})
	return nil
}

// Process monitors one transaction and publishes its outcome.
func (w *Worker) Process(ctx context.Context, txID string) error {
	start := time.Now()

	result, err := w.monitor.MonitorByID(ctx, txID)
	if err != nil {
		w.failed.Add(1)
		level := slog.LevelError
		if errors.Is(err, domain.ErrNotFound) || errors.Is(err, domain.ErrValidation) {
			level = slog.LevelWarn
		}
		w.logger.Log(ctx, level, "async monitoring failed",
			"transaction_id", txID,
			"error", err,
		)
		return err
	}
	w.processed.Add(1)

	if w.cache != nil {
		if err := w.cache.SetResult(ctx, txID, result, w.resultTTL); err != nil {
			w.logger.Warn("failed to cache result",
				"transaction_id", txID,
				"error", err,
			)
		}
	}

	w.publish(ctx, domain.TopicTransactionMonitored, txID, result)

	if result.Alert != nil {
		w.alerts.Add(1)
		w.publish(ctx, domain.TopicAlertRaised, txID, result.Alert)
	}

	w.logger.Debug("transaction processed",
		"transaction_id", txID,
		"risk_score", result.RiskScore.String(),
		"should_alert", result.ShouldAlert,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return nil
}

func (w *Worker) publish(ctx context.Context, topic, txID string, v any) {
	payload, err := json.Marshal(v)
	if err != nil {
		w.logger.Error("failed to encode event", "topic", topic, "transaction_id", txID, "error", err)
		return
	}
	if err := w.bus.Publish(ctx, topic, payload); err != nil {
		w.logger.Error("failed to publish event",
			"topic", topic,
			"transaction_id", txID,
			"error", err,
		)
	}
}

// Stop unsubscribes, cancels in-flight monitoring and waits for it to
// return.
func (w *Worker) Stop() error {
	w.cancel()
	defer w.inflight.Wait()

	w.mu.Lock()
	defer w.mu.Unlock()

	var errs []error
	for _, sub := range w.subscriptions {
		if err := sub.Unsubscribe(); err != nil {
			w.logger.Error("failed to unsubscribe",
				"topic", sub.Topic(),
				"error", err,
			)
			errs = append(errs, err)
		}
	}
	w.subscriptions = nil

	w.logger.Info("worker stopped")
	return errors.Join(errs...)
}

// Stats holds worker counters.
type Stats struct {
	SubscriptionCount int      `json:"subscriptionCount"`
	Topics            []string `json:"topics"`
	Processed         int64    `json:"processed"`
	Failed            int64    `json:"failed"`
	AlertsPublished   int64    `json:"alertsPublished"`
}

// GetStats returns current worker statistics.
func (w *Worker) GetStats() Stats {
	w.mu.Lock()
	topics := make([]string, len(w.subscriptions))
	for i, sub := range w.subscriptions {
		topics[i] = sub.Topic()
	}
	w.mu.Unlock()

	return Stats{
		SubscriptionCount: len(topics),
		Topics:            topics,
		Processed:         w.processed.Load(),
		Failed:            w.failed.Load(),
		AlertsPublished:   w.alerts.Load(),
	}
}
