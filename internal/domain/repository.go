// Package domain defines the core interfaces and types for Heron.
package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// AmountBand is a half-open amount range [Min, Max).
type AmountBand struct {
	Min decimal.Decimal
	Max decimal.Decimal
}

// Contains reports whether amount falls within the band.
func (b AmountBand) Contains(amount decimal.Decimal) bool {
	return amount.GreaterThanOrEqual(b.Min) && amount.LessThan(b.Max)
}

// TransactionStore provides transactions and customer-scoped aggregates.
// Aggregates only consider COMPLETED transactions whose timestamp falls
// in the half-open range [from, to).
type TransactionStore interface {
	SaveTransaction(ctx context.Context, tx *Transaction) error
	GetTransaction(ctx context.Context, txID string) (*Transaction, error)
	ListUnscoredTransactions(ctx context.Context, limit int) ([]*Transaction, error)

	// ListCustomerTransactions returns a customer's transactions, newest first.
	ListCustomerTransactions(ctx context.Context, customerID string, limit int) ([]*Transaction, error)

	CountCompleted(ctx context.Context, customerID string, from, to time.Time) (int, error)
	SumCompleted(ctx context.Context, customerID string, from, to time.Time) (decimal.Decimal, error)
	AvgCompleted(ctx context.Context, customerID string, from, to time.Time) (decimal.NullDecimal, error)
	CountCompletedInBand(ctx context.Context, customerID string, from, to time.Time, band AmountBand) (int, error)
}

// CustomerStore provides customers and their alert history.
type CustomerStore interface {
	SaveCustomer(ctx context.Context, c *Customer) error
	GetCustomer(ctx context.Context, customerID string) (*Customer, error)
	AlertsSince(ctx context.Context, customerID string, from time.Time) ([]AlertRecord, error)
}

// RuleStore provides administered rules.
type RuleStore interface {
	// ActiveRulesByPriority returns ACTIVE rules ordered by priority,
	// then creation time, then id.
	ActiveRulesByPriority(ctx context.Context) ([]*Rule, error)

	SaveRule(ctx context.Context, rule *Rule) error
	GetRule(ctx context.Context, ruleID string) (*Rule, error)
	ListRules(ctx context.Context) ([]*Rule, error)
}

// AlertStore persists alerts and their review history.
type AlertStore interface {
	SaveAlert(ctx context.Context, alert *Alert) error
	GetAlert(ctx context.Context, alertID string) (*Alert, error)

	// ListAlerts returns matching alerts, newest first.
	ListAlerts(ctx context.Context, filter AlertFilter) ([]*Alert, error)

	// OpenAlertCounts returns the number of OPEN alerts per severity.
	OpenAlertCounts(ctx context.Context) (map[Severity]int, error)

	// AlertStatistics counts alerts created at or after since by severity
	// and status, with their mean risk score.
	AlertStatistics(ctx context.Context, since time.Time) (*AlertStatistics, error)
}

// ScoreStore persists score snapshots for audit.
type ScoreStore interface {
	SaveRiskScore(ctx context.Context, rec *RiskScoreRecord) error
	ListRiskScores(ctx context.Context, customerID string, limit int) ([]*RiskScoreRecord, error)
}

// Repository is the full persistence surface.
type Repository interface {
	TransactionStore
	CustomerStore
	RuleStore
	AlertStore
	ScoreStore

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// RepositoryConfig holds configuration for repository initialization.
type RepositoryConfig struct {
	// Driver is the database driver: "sqlite" or "postgres"
	Driver string `mapstructure:"driver"`

	// SQLite specific
	SQLitePath string `mapstructure:"sqlite_path"`

	// PostgreSQL specific
	PostgresHost     string `mapstructure:"postgres_host"`
	PostgresPort     int    `mapstructure:"postgres_port"`
	PostgresUser     string `mapstructure:"postgres_user"`
	PostgresPassword string `mapstructure:"postgres_password"`
	PostgresDB       string `mapstructure:"postgres_db"`
	PostgresSSLMode  string `mapstructure:"postgres_sslmode"`

	// Connection pool settings
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}
