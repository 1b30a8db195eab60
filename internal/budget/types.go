package budget

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Errors for ledger operations
var (
	ErrDuplicateSpend = errors.New("spend already recorded for task")
	ErrNegativeCost   = errors.New("spend cost must not be negative")
	ErrInvalidCost    = errors.New("spend cost must be a finite number")
	ErrMissingTaskID  = errors.New("spend has no task id")
)

// PeriodKind is the length of an accounting window.
type PeriodKind string

const (
	PeriodMonthly PeriodKind = "monthly"
	PeriodDaily   PeriodKind = "daily"
)

// Config holds ledger configuration. Caps are in cost units per period and
// keyed by subscription; a subscription without a cap is never over budget.
type Config struct {
	Enabled     bool               `yaml:"enabled" json:"enabled"`
	Period      PeriodKind         `yaml:"period" json:"period"`
	Caps        map[string]float64 `yaml:"caps" json:"caps"`
	WarnPercent float64            `yaml:"warn_percent" json:"warn_percent"` // alert at this percentage (e.g., 80)
}

// DefaultConfig returns the default ledger configuration. Caps are monthly
// token allowances of the two Copilot subscriptions.
func DefaultConfig() *Config {
	return &Config{
		Enabled: true,
		Period:  PeriodMonthly,
		Caps: map[string]float64{
			"student": 100000,
			"pro":     500000,
		},
		WarnPercent: 80,
	}
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	switch c.Period {
	case PeriodMonthly, PeriodDaily, "":
	default:
		return fmt.Errorf("budget period %q: must be monthly or daily", c.Period)
	}
	for sub, limit := range c.Caps {
		if limit < 0 {
			return fmt.Errorf("budget cap for %q is negative", sub)
		}
	}
	if c.WarnPercent < 0 || c.WarnPercent > 100 {
		return fmt.Errorf("warn_percent %.0f out of range 0-100", c.WarnPercent)
	}
	return nil
}

// Period is the spend of one subscription in one accounting window.
type Period struct {
	ID           string  `json:"id"`
	Subscription string  `json:"subscription"`
	Cap          float64 `json:"cap"` // 0 means uncapped
	Consumed     float64 `json:"consumed"`
}

// Percent returns consumption as a percentage of the cap.
func (p Period) Percent() float64 {
	if p.Cap <= 0 {
		return 0
	}
	return p.Consumed / p.Cap * 100
}

// OverCap reports whether the period has reached its cap.
func (p Period) OverCap() bool {
	return p.Cap > 0 && p.Consumed >= p.Cap
}

// Remaining returns the cost units left before the cap.
func (p Period) Remaining() float64 {
	if p.Cap <= 0 || p.Consumed >= p.Cap {
		return 0
	}
	return p.Cap - p.Consumed
}

// Charge identifies what a spend is for.
type Charge struct {
	TaskID       string
	DecisionID   string
	Subscription string
	Tier         string
}

// SpendRecord is one persisted spend.
type SpendRecord struct {
	TaskID       string    `json:"task_id"`
	DecisionID   string    `json:"decision_id,omitempty"`
	Subscription string    `json:"subscription"`
	Tier         string    `json:"tier,omitempty"`
	PeriodID     string    `json:"period_id"`
	Cost         float64   `json:"cost"`
	RecordedAt   time.Time `json:"recorded_at"`
}

// SpendStore persists spends. AppendSpend must fail with an error wrapping
// ErrDuplicateSpend when the task id was already recorded.
type SpendStore interface {
	AppendSpend(ctx context.Context, rec SpendRecord) error
	ListSpend(ctx context.Context, since time.Time) ([]SpendRecord, error)
}

// AlertCallback is called when a period crosses the warning threshold or
// its cap.
type AlertCallback func(alertType string, message string, severity string)

// UsageEntry is one line of a usage report.
type UsageEntry struct {
	Subscription string  `json:"subscription"`
	PeriodID     string  `json:"period_id"`
	Cap          float64 `json:"cap"`
	Consumed     float64 `json:"consumed"`
	Percent      float64 `json:"percent"`
	Remaining    float64 `json:"remaining"`
}

// UsageReport summarizes current-period usage with recommendations.
type UsageReport struct {
	GeneratedAt     time.Time    `json:"generated_at"`
	Entries         []UsageEntry `json:"entries"`
	Recommendations []string     `json:"recommendations,omitempty"`
}
