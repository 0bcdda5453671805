package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// RiskLevel is the coarse classification of a customer's risk score.
type RiskLevel string

const (
	RiskLow      RiskLevel = "LOW"
	RiskMedium   RiskLevel = "MEDIUM"
	RiskHigh     RiskLevel = "HIGH"
	RiskCritical RiskLevel = "CRITICAL"
)

var (
	levelCritical = decimal.NewFromInt(80)
	levelHigh     = decimal.NewFromInt(60)
	levelMedium   = decimal.NewFromInt(40)
)

// RiskLevelForScore maps a 0-100 customer score to its risk level.
func RiskLevelForScore(score decimal.Decimal) RiskLevel {
	switch {
	case score.GreaterThanOrEqual(levelCritical):
		return RiskCritical
	case score.GreaterThanOrEqual(levelHigh):
		return RiskHigh
	case score.GreaterThanOrEqual(levelMedium):
		return RiskMedium
	default:
		return RiskLow
	}
}

// Customer is the owner of monitored transactions.
type Customer struct {
	ID        string `json:"id"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Email     string `json:"email,omitempty"`

	// KYC attributes, all optional.
	DateOfBirth *time.Time `json:"dateOfBirth,omitempty"`
	NationalID  string     `json:"nationalId,omitempty"`
	Address     string     `json:"address,omitempty"`
	Phone       string     `json:"phone,omitempty"`

	Country      string    `json:"country"`
	RegisteredAt time.Time `json:"registeredAt"`

	// Refreshed at the end of every monitoring pass.
	RiskLevel RiskLevel       `json:"riskLevel"`
	RiskScore decimal.Decimal `json:"riskScore"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// FullName returns the display name used in alert text.
func (c *Customer) FullName() string {
	return c.FirstName + " " + c.LastName
}

// MissingKYCFields lists the KYC attributes the customer has not provided.
func (c *Customer) MissingKYCFields() []string {
	var missing []string
	if c.DateOfBirth == nil || c.DateOfBirth.IsZero() {
		missing = append(missing, "date_of_birth")
	}
	if c.NationalID == "" {
		missing = append(missing, "national_id")
	}
	if c.Address == "" {
		missing = append(missing, "address")
	}
	if c.Phone == "" {
		missing = append(missing, "phone")
	}
	return missing
}

// Validate checks the fields required to register a customer.
func (c *Customer) Validate() error {
	if c.ID == "" {
		return fmt.Errorf("%w: customer id is required", ErrValidation)
	}
	if c.Country == "" {
		return fmt.Errorf("%w: country is required", ErrValidation)
	}
	if c.RiskScore.IsNegative() || c.RiskScore.GreaterThan(decimal.NewFromInt(100)) {
		return fmt.Errorf("%w: risk score %s outside [0,100]", ErrValidation, c.RiskScore)
	}
	switch c.RiskLevel {
	case RiskLow, RiskMedium, RiskHigh, RiskCritical:
	default:
		return fmt.Errorf("%w: unknown risk level %q", ErrValidation, c.RiskLevel)
	}
	return nil
}

// NewCustomer returns a customer with the onboarding defaults:
// MEDIUM risk level and a score of 50.
func NewCustomer(id, country string, registeredAt time.Time) *Customer {
	return &Customer{
		ID:           id,
		Country:      country,
		RegisteredAt: registeredAt.UTC(),
		RiskLevel:    RiskMedium,
		RiskScore:    decimal.NewFromInt(50),
		CreatedAt:    registeredAt.UTC(),
		UpdatedAt:    registeredAt.UTC(),
	}
}
