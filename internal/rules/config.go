package rules

import (
	"encoding/json"
	"fmt"
	"reflect"

	"github.com/go-viper/mapstructure/v2"
	"github.com/shopspring/decimal"

	"github.com/opensource-finance/heron/internal/domain"
)

// ThresholdConfig configures a THRESHOLD rule. Nil fields are unconfigured.
type ThresholdConfig struct {
	AmountThreshold      *decimal.Decimal `mapstructure:"amount_threshold"`
	DailyCountThreshold  *int             `mapstructure:"daily_count_threshold"`
	DailyAmountThreshold *decimal.Decimal `mapstructure:"daily_amount_threshold"`
}

// PatternConfig configures a PATTERN rule.
type PatternConfig struct {
	StructuringThreshold *decimal.Decimal `mapstructure:"structuring_threshold"`
	StructuringCount     int              `mapstructure:"structuring_count"`
	LookbackDays         int              `mapstructure:"lookback_days"`

	// RapidTransactions enables the rapid-succession check.
	RapidTransactions bool `mapstructure:"rapid_transaction_threshold"`
	RapidMinutes      int  `mapstructure:"rapid_transaction_minutes"`
	RapidCount        int  `mapstructure:"rapid_transaction_count"`
}

// BehavioralConfig configures a BEHAVIORAL rule.
type BehavioralConfig struct {
	// AmountIncreaseThreshold enables the amount-increase check when set.
	// Zero falls back to 3.0.
	AmountIncreaseThreshold *decimal.Decimal `mapstructure:"amount_increase_threshold"`
	LookbackDays            int              `mapstructure:"lookback_days"`

	PatternChangeDetection bool            `mapstructure:"pattern_change_detection"`
	PatternChangeThreshold decimal.Decimal `mapstructure:"pattern_change_threshold"`
}

// GeographicConfig configures a GEOGRAPHIC rule.
type GeographicConfig struct {
	HighRiskCountries    []string         `mapstructure:"high_risk_countries"`
	CrossBorderThreshold *decimal.Decimal `mapstructure:"cross_border_threshold"`
}

// ExpressionConfig configures an EXPRESSION rule.
type ExpressionConfig struct {
	Expression string          `mapstructure:"expression"`
	Score      decimal.Decimal `mapstructure:"score"`
	Reason     string          `mapstructure:"reason"`
}

var (
	defaultStructuringCount = 3
	defaultStructuringDays  = 7
	defaultRapidMinutes     = 10
	defaultRapidCount       = 5
	defaultBehavioralDays   = 30
	defaultIncreaseRatio    = decimal.NewFromInt(3)
	defaultChangeRatio      = decimal.NewFromInt(2)
	defaultExpressionScore  = decimal.NewFromInt(100)
)

func decodeThreshold(raw map[string]any) (*ThresholdConfig, error) {
	var cfg ThresholdConfig
	if err := decodeConfig(raw, &cfg); err != nil {
		return nil, err
	}
	if cfg.AmountThreshold == nil && cfg.DailyCountThreshold == nil && cfg.DailyAmountThreshold == nil {
		return nil, fmt.Errorf("%w: threshold rule has no configured checks", domain.ErrConfiguration)
	}
	if err := positive("amount_threshold", cfg.AmountThreshold); err != nil {
		return nil, err
	}
	if cfg.DailyCountThreshold != nil && *cfg.DailyCountThreshold <= 0 {
		return nil, fmt.Errorf("%w: daily_count_threshold must be > 0", domain.ErrConfiguration)
	}
	if err := positive("daily_amount_threshold", cfg.DailyAmountThreshold); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func decodePattern(raw map[string]any) (*PatternConfig, error) {
	var cfg PatternConfig
	if err := decodeConfig(raw, &cfg); err != nil {
		return nil, err
	}
	if cfg.StructuringThreshold == nil && !cfg.RapidTransactions {
		return nil, fmt.Errorf("%w: pattern rule has no configured checks", domain.ErrConfiguration)
	}
	if err := positive("structuring_threshold", cfg.StructuringThreshold); err != nil {
		return nil, err
	}
	cfg.StructuringCount = orDefault(cfg.StructuringCount, defaultStructuringCount)
	cfg.LookbackDays = orDefault(cfg.LookbackDays, defaultStructuringDays)
	cfg.RapidMinutes = orDefault(cfg.RapidMinutes, defaultRapidMinutes)
	cfg.RapidCount = orDefault(cfg.RapidCount, defaultRapidCount)
	if cfg.StructuringCount < 0 || cfg.LookbackDays < 0 || cfg.RapidMinutes < 0 || cfg.RapidCount < 0 {
		return nil, fmt.Errorf("%w: pattern counts and windows must be positive", domain.ErrConfiguration)
	}
	return &cfg, nil
}

func decodeBehavioral(raw map[string]any) (*BehavioralConfig, error) {
	var cfg BehavioralConfig
	if err := decodeConfig(raw, &cfg); err != nil {
		return nil, err
	}
	if cfg.AmountIncreaseThreshold == nil && !cfg.PatternChangeDetection {
		return nil, fmt.Errorf("%w: behavioral rule has no configured checks", domain.ErrConfiguration)
	}
	if cfg.AmountIncreaseThreshold != nil {
		if cfg.AmountIncreaseThreshold.IsNegative() {
			return nil, fmt.Errorf("%w: amount_increase_threshold must be >= 0", domain.ErrConfiguration)
		}
		if cfg.AmountIncreaseThreshold.IsZero() {
			ratio := defaultIncreaseRatio
			cfg.AmountIncreaseThreshold = &ratio
		}
	}
	if cfg.PatternChangeThreshold.IsNegative() {
		return nil, fmt.Errorf("%w: pattern_change_threshold must be >= 0", domain.ErrConfiguration)
	}
	if cfg.PatternChangeThreshold.IsZero() {
		cfg.PatternChangeThreshold = defaultChangeRatio
	}
	cfg.LookbackDays = orDefault(cfg.LookbackDays, defaultBehavioralDays)
	if cfg.LookbackDays < 0 {
		return nil, fmt.Errorf("%w: lookback_days must be positive", domain.ErrConfiguration)
	}
	return &cfg, nil
}

func decodeGeographic(raw map[string]any) (*GeographicConfig, error) {
	var cfg GeographicConfig
	if err := decodeConfig(raw, &cfg); err != nil {
		return nil, err
	}
	if len(cfg.HighRiskCountries) == 0 && cfg.CrossBorderThreshold == nil {
		return nil, fmt.Errorf("%w: geographic rule has no configured checks", domain.ErrConfiguration)
	}
	if err := positive("cross_border_threshold", cfg.CrossBorderThreshold); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func decodeExpression(raw map[string]any) (*ExpressionConfig, error) {
	var cfg ExpressionConfig
	if err := decodeConfig(raw, &cfg); err != nil {
		return nil, err
	}
	if cfg.Expression == "" {
		return nil, fmt.Errorf("%w: expression is required", domain.ErrConfiguration)
	}
	if cfg.Score.IsZero() {
		cfg.Score = defaultExpressionScore
	}
	if cfg.Reason == "" {
		cfg.Reason = "Expression matched: " + cfg.Expression
	}
	return &cfg, nil
}

// decodeConfig decodes an open configuration map into a typed struct.
// Unknown keys are rejected so typos fail at load.
func decodeConfig(raw map[string]any, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "mapstructure",
		ErrorUnused:      true,
		WeaklyTypedInput: true,
		Result:           out,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			decimalHook(),
			mapstructure.StringToSliceHookFunc(","),
		),
	})
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrConfiguration, err)
	}
	if err := dec.Decode(raw); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrConfiguration, err)
	}
	return nil
}

var decimalType = reflect.TypeOf(decimal.Decimal{})

// decimalHook converts JSON numbers and numeric strings into decimal.Decimal.
func decimalHook() mapstructure.DecodeHookFuncType {
	return func(from reflect.Type, to reflect.Type, data any) (any, error) {
		if to != decimalType {
			return data, nil
		}
		switch v := data.(type) {
		case decimal.Decimal:
			return v, nil
		case string:
			return decimal.NewFromString(v)
		case json.Number:
			return decimal.NewFromString(v.String())
		case float64:
			return decimal.NewFromFloat(v), nil
		case float32:
			return decimal.NewFromFloat32(v), nil
		case int:
			return decimal.NewFromInt(int64(v)), nil
		case int64:
			return decimal.NewFromInt(v), nil
		case int32:
			return decimal.NewFromInt32(v), nil
		default:
			return nil, fmt.Errorf("cannot convert %s to decimal", from)
		}
	}
}

func positive(key string, v *decimal.Decimal) error {
	if v != nil && !v.IsPositive() {
		return fmt.Errorf("%w: %s must be > 0", domain.ErrConfiguration, key)
	}
	return nil
}

func orDefault(v, def int) int {
	if v == 0 {
		return def
	}
	return v
}
