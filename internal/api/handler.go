package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/opensource-finance/heron/internal/alerting"
	"github.com/opensource-finance/heron/internal/domain"
	"github.com/opensource-finance/heron/internal/metrics"
	"github.com/opensource-finance/heron/internal/monitor"
	"github.com/opensource-finance/heron/internal/rules"
)

const (
	maxBodyBytes = 1 << 20
	maxBatchSize = 1000
)

// Deps holds the components the API serves.
type Deps struct {
	Repo    domain.Repository
	Cache   domain.Cache
	Bus     domain.EventBus
	Engine  *rules.Engine
	Monitor *monitor.Monitor

	// Metrics is optional; when set it backs GET /metrics.
	Metrics *metrics.Metrics

	// Async makes POST /transactions enqueue instead of monitoring inline.
	Async     bool
	ResultTTL time.Duration
	Version   string
	Logger    *slog.Logger
}

// Handler holds dependencies for API handlers.
type Handler struct {
	repo      domain.Repository
	cache     domain.Cache
	bus       domain.EventBus
	engine    *rules.Engine
	monitor   *monitor.Monitor
	metrics   *metrics.Metrics
	async     bool
	resultTTL time.Duration
	version   string
	logger    *slog.Logger
	now       func() time.Time
}

// NewHandler creates a new API handler.
func NewHandler(d Deps) *Handler {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	return &Handler{
		repo:      d.Repo,
		cache:     d.Cache,
		bus:       d.Bus,
		engine:    d.Engine,
		monitor:   d.Monitor,
		metrics:   d.Metrics,
		async:     d.Async,
		resultTTL: d.ResultTTL,
		version:   d.Version,
		logger:    d.Logger,
		now:       time.Now,
	}
}

// SetClock overrides the time source for created records.
func (h *Handler) SetClock(now func() time.Time) {
	h.now = now
}

// ============================================================================
// CUSTOMER HANDLERS
// ============================================================================

// CustomerRequest is the request body for POST /customers.
type CustomerRequest struct {
	ID           string     `json:"id"`
	FirstName    string     `json:"firstName"`
	LastName     string     `json:"lastName"`
	Email        string     `json:"email,omitempty"`
	DateOfBirth  *time.Time `json:"dateOfBirth,omitempty"`
	NationalID   string     `json:"nationalId,omitempty"`
	Address      string     `json:"address,omitempty"`
	Phone        string     `json:"phone,omitempty"`
	Country      string     `json:"country"`
	RegisteredAt *time.Time `json:"registeredAt,omitempty"`
}

// CreateCustomer registers a customer at the onboarding risk defaults.
func (h *Handler) CreateCustomer(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req CustomerRequest
	if !h.decode(w, r, &req) {
		return
	}

	registered := h.now()
	if req.RegisteredAt != nil {
		registered = *req.RegisteredAt
	}
	c := domain.NewCustomer(req.ID, req.Country, registered)
	c.FirstName = req.FirstName
	c.LastName = req.LastName
	c.Email = req.Email
	c.DateOfBirth = req.DateOfBirth
	c.NationalID = req.NationalID
	c.Address = req.Address
	c.Phone = req.Phone

	if err := c.Validate(); err != nil {
		h.writeError(w, r, err)
		return
	}

	if _, err := h.repo.GetCustomer(ctx, c.ID); err == nil {
		writeJSON(w, http.StatusConflict, map[string]string{
			"error": fmt.Sprintf("customer %s already exists", c.ID),
		})
		return
	} else if !errors.Is(err, domain.ErrNotFound) {
		h.writeError(w, r, err)
		return
	}

	if err := h.repo.SaveCustomer(ctx, c); err != nil {
		h.writeError(w, r, err)
		return
	}

	h.logger.Info("customer created", "customer_id", c.ID, "country", c.Country)
	writeJSON(w, http.StatusCreated, c)
}

// GetCustomer retrieves a customer by ID.
func (h *Handler) GetCustomer(w http.ResponseWriter, r *http.Request) {
	c, err := h.repo.GetCustomer(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// CustomerTransactions lists a customer's transactions, newest first.
func (h *Handler) CustomerTransactions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")

	if _, err := h.repo.GetCustomer(ctx, id); err != nil {
		h.writeError(w, r, err)
		return
	}
	txs, err := h.repo.ListCustomerTransactions(ctx, id, queryInt(r, "limit", 100))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"customerId":   id,
		"transactions": txs,
		"count":        len(txs),
	})
}

// CustomerAlerts lists a customer's alerts, optionally narrowed by status
// and severity.
func (h *Handler) CustomerAlerts(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")

	filter, err := alertFilter(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if _, err := h.repo.GetCustomer(ctx, id); err != nil {
		h.writeError(w, r, err)
		return
	}
	filter.CustomerID = id

	alerts, err := h.repo.ListAlerts(ctx, filter)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"customerId": id,
		"alerts":     alerts,
		"count":      len(alerts),
	})
}

// CustomerRiskResponse is the response for GET /customers/{id}/risk.
type CustomerRiskResponse struct {
	CustomerID string                    `json:"customerId"`
	RiskScore  decimal.Decimal           `json:"riskScore"`
	RiskLevel  domain.RiskLevel          `json:"riskLevel"`
	Score      *domain.ScoreResult       `json:"score"`
	History    []*domain.RiskScoreRecord `json:"history"`
}

// CustomerRisk recomputes the customer's score and returns it with the
// recent snapshot history.
func (h *Handler) CustomerRisk(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")

	c, score, err := h.monitor.RefreshCustomer(ctx, id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	limit := queryInt(r, "history", 20)
	history, err := h.repo.ListRiskScores(ctx, id, limit)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, CustomerRiskResponse{
		CustomerID: c.ID,
		RiskScore:  c.RiskScore,
		RiskLevel:  c.RiskLevel,
		Score:      score,
		History:    history,
	})
}

// ============================================================================
// TRANSACTION HANDLERS
// ============================================================================

// CreateTransaction records a transaction and monitors it, inline or through
// the event bus.
func (h *Handler) CreateTransaction(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req domain.TransactionRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.ID == "" {
		req.ID = uuid.New().String()
	}

	tx := req.ToTransaction(h.now())
	if err := tx.Validate(); err != nil {
		h.writeError(w, r, err)
		return
	}
	if _, err := h.repo.GetCustomer(ctx, tx.CustomerID); err != nil {
		h.writeError(w, r, err)
		return
	}

	if h.async {
		if err := h.repo.SaveTransaction(ctx, tx); err != nil {
			h.writeError(w, r, err)
			return
		}
		payload, _ := json.Marshal(domain.IngestedEvent{TransactionID: tx.ID})
		if err := h.bus.Publish(ctx, domain.TopicTransactionIngested, payload); err != nil {
			h.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]string{
			"transactionId": tx.ID,
			"status":        "queued",
		})
		return
	}

	result, err := h.monitor.Monitor(ctx, tx)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.afterMonitoring(ctx, result)

	writeJSON(w, http.StatusCreated, result)
}

// GetTransaction retrieves a transaction by ID.
func (h *Handler) GetTransaction(w http.ResponseWriter, r *http.Request) {
	tx, err := h.repo.GetTransaction(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tx)
}

// MonitorTransaction re-runs monitoring for a stored transaction.
func (h *Handler) MonitorTransaction(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	result, err := h.monitor.MonitorByID(ctx, chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.afterMonitoring(ctx, result)

	writeJSON(w, http.StatusOK, result)
}

// GetResult returns the cached monitoring result of a transaction.
func (h *Handler) GetResult(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	result, err := h.cache.GetResult(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if result == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": fmt.Sprintf("no monitoring result for transaction %s", id),
		})
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// BatchRequest is the request body for POST /transactions/batch.
type BatchRequest struct {
	Transactions []domain.TransactionRequest `json:"transactions"`
}

// MonitorBatch monitors a list of transactions concurrently. Per-item
// failures are counted in the result, not returned as an HTTP error.
func (h *Handler) MonitorBatch(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req BatchRequest
	if !h.decode(w, r, &req) {
		return
	}
	if len(req.Transactions) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "transactions is required",
		})
		return
	}
	if len(req.Transactions) > maxBatchSize {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": fmt.Sprintf("batch exceeds %d transactions", maxBatchSize),
		})
		return
	}

	now := h.now()
	txs := make([]*domain.Transaction, len(req.Transactions))
	for i := range req.Transactions {
		if req.Transactions[i].ID == "" {
			req.Transactions[i].ID = uuid.New().String()
		}
		txs[i] = req.Transactions[i].ToTransaction(now)
	}

	result := h.monitor.MonitorBatch(ctx, txs)
	for _, res := range result.Details {
		if res != nil {
			h.afterMonitoring(ctx, res)
		}
	}

	writeJSON(w, http.StatusOK, result)
}

// afterMonitoring caches the result and publishes the outcome events.
// Failures here never fail the request.
func (h *Handler) afterMonitoring(ctx context.Context, result *domain.MonitoringResult) {
	if h.cache != nil {
		if err := h.cache.SetResult(ctx, result.TransactionID, result, h.resultTTL); err != nil {
			h.logger.Warn("failed to cache result",
				"transaction_id", result.TransactionID,
				"error", err,
			)
		}
	}
	if h.bus == nil {
		return
	}

	h.publish(ctx, domain.TopicTransactionMonitored, result)
	if result.Alert != nil {
		h.publish(ctx, domain.TopicAlertRaised, result.Alert)
	}
}

func (h *Handler) publish(ctx context.Context, topic string, v any) {
	payload, err := json.Marshal(v)
	if err == nil {
		err = h.bus.Publish(ctx, topic, payload)
	}
	if err != nil {
		h.logger.Error("failed to publish event", "topic", topic, "error", err)
	}
}

// ============================================================================
// ALERT HANDLERS
// ============================================================================

// GetAlert retrieves an alert by ID.
func (h *Handler) GetAlert(w http.ResponseWriter, r *http.Request) {
	a, err := h.repo.GetAlert(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

// ReviewAlert applies a review transition to an alert.
func (h *Handler) ReviewAlert(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req domain.ReviewRequest
	if !h.decode(w, r, &req) {
		return
	}

	a, err := h.repo.GetAlert(ctx, chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	from := a.Status
	if err := alerting.Review(a, req.Status, req.Reviewer, req.Notes, h.now()); err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := h.repo.SaveAlert(ctx, a); err != nil {
		h.writeError(w, r, err)
		return
	}

	h.logger.Info("alert reviewed",
		"alert_id", a.ID,
		"from", from,
		"to", a.Status,
		"reviewer", a.ReviewedBy,
	)
	writeJSON(w, http.StatusOK, a)
}

// OpenAlerts returns the number of open alerts per severity.
func (h *Handler) OpenAlerts(w http.ResponseWriter, r *http.Request) {
	counts, err := h.repo.OpenAlertCounts(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	total := 0
	for _, n := range counts {
		total += n
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"counts": counts,
		"total":  total,
	})
}

// ListAlerts returns alerts newest first. Query parameters status, severity
// and limit narrow the listing.
func (h *Handler) ListAlerts(w http.ResponseWriter, r *http.Request) {
	filter, err := alertFilter(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	alerts, err := h.repo.ListAlerts(r.Context(), filter)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"alerts": alerts,
		"count":  len(alerts),
	})
}

// AlertStatisticsResponse is the response for GET /alerts/statistics.
type AlertStatisticsResponse struct {
	PeriodDays int `json:"periodDays"`
	*domain.AlertStatistics
}

// AlertStatistics summarizes alerts raised in the last ?days (default 30).
func (h *Handler) AlertStatistics(w http.ResponseWriter, r *http.Request) {
	days := queryInt(r, "days", 30)
	stats, err := h.repo.AlertStatistics(r.Context(), h.now().AddDate(0, 0, -days))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, AlertStatisticsResponse{PeriodDays: days, AlertStatistics: stats})
}

func alertFilter(r *http.Request) (domain.AlertFilter, error) {
	q := r.URL.Query()
	filter := domain.AlertFilter{
		Status:   domain.AlertStatus(q.Get("status")),
		Severity: domain.Severity(q.Get("severity")),
		Limit:    queryInt(r, "limit", 100),
	}
	if filter.Status != "" && !slices.Contains(domain.AlertStatuses, filter.Status) {
		return filter, fmt.Errorf("%w: unknown alert status %q", domain.ErrValidation, filter.Status)
	}
	if filter.Severity != "" && !slices.Contains(domain.Severities, filter.Severity) {
		return filter, fmt.Errorf("%w: unknown severity %q", domain.ErrValidation, filter.Severity)
	}
	return filter, nil
}

// ============================================================================
// RULE HANDLERS
// ============================================================================

// ListRules returns every stored rule, whatever its status.
func (h *Handler) ListRules(w http.ResponseWriter, r *http.Request) {
	stored, err := h.repo.ListRules(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"rules":  stored,
		"count":  len(stored),
		"loaded": h.engine.RulesCount(),
	})
}

// GetRule retrieves a rule by ID.
func (h *Handler) GetRule(w http.ResponseWriter, r *http.Request) {
	rule, err := h.repo.GetRule(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rule)
}

// CreateRule validates a rule against its evaluator and stores it. The rule
// takes effect after POST /rules/reload.
func (h *Handler) CreateRule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var rule domain.Rule
	if !h.decode(w, r, &rule) {
		return
	}

	if rule.Name == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "name is required",
		})
		return
	}
	if rule.ID == "" {
		rule.ID = uuid.New().String()
	}
	if rule.Status == "" {
		rule.Status = domain.RuleDraft
	}
	if rule.Weight.IsZero() {
		rule.Weight = decimal.NewFromInt(1)
	}
	now := h.now().UTC()
	rule.CreatedAt = now
	rule.UpdatedAt = now

	if err := h.engine.Validate(&rule); err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := h.repo.SaveRule(ctx, &rule); err != nil {
		h.writeError(w, r, err)
		return
	}

	h.logger.Info("rule created", "rule_id", rule.ID, "type", rule.Type, "status", rule.Status)
	writeJSON(w, http.StatusCreated, map[string]any{
		"rule":    rule,
		"message": "Rule created. Call POST /rules/reload to apply changes.",
	})
}

// ReloadRules replaces the engine's rule snapshot with the stored active rules.
func (h *Handler) ReloadRules(w http.ResponseWriter, r *http.Request) {
	n, err := h.engine.Reload(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if h.metrics != nil {
		h.metrics.SetRulesLoaded(n)
	}

	h.logger.Info("rules reloaded", "count", n)
	writeJSON(w, http.StatusOK, map[string]any{
		"message": "rules reloaded successfully",
		"count":   n,
	})
}

// ============================================================================
// HEALTH HANDLERS
// ============================================================================

// Health reports the status of every backing component.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	status := "healthy"
	components := map[string]string{}

	check := func(name string, ping func(context.Context) error) {
		if err := ping(ctx); err != nil {
			status = "degraded"
			components[name] = err.Error()
			return
		}
		components[name] = "ok"
	}
	if h.repo != nil {
		check("repository", h.repo.Ping)
	}
	if h.cache != nil {
		check("cache", h.cache.Ping)
	}
	if h.bus != nil {
		check("eventBus", h.bus.Ping)
	}

	code := http.StatusOK
	if status != "healthy" {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]any{
		"status":     status,
		"version":    h.version,
		"components": components,
	})
}

// Ready reports whether the server can accept traffic.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"ready":       true,
		"rulesLoaded": h.engine.RulesCount(),
	})
}

// ============================================================================
// HELPERS
// ============================================================================

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return false
	}
	return true
}

// writeError maps domain errors to HTTP status codes. Unexpected errors are
// logged and reported without detail.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, domain.ErrValidation),
		errors.Is(err, domain.ErrConfiguration),
		errors.Is(err, domain.ErrUnknownRuleType):
		status = http.StatusBadRequest
	case errors.Is(err, domain.ErrInvalidTransition):
		status = http.StatusConflict
	case errors.Is(err, context.DeadlineExceeded):
		status = http.StatusGatewayTimeout
	}

	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"request_id", GetRequestID(r.Context()),
			"error", err,
		)
		writeJSON(w, status, map[string]string{"error": http.StatusText(status)})
		return
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func queryInt(r *http.Request, key string, def int) int {
	v, err := strconv.Atoi(r.URL.Query().Get(key))
	if err != nil || v <= 0 {
		return def
	}
	return v
}
