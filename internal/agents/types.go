package agents

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lim1712/orchestrator/internal/budget"
)

// Errors for agent selection
var (
	ErrInvalidRequest = errors.New("invalid task request")
	ErrNoTier         = errors.New("no tier available for subscription")
)

// Complexity is the estimated difficulty of a task.
type Complexity int

const (
	ComplexitySimple   Complexity = 1 // typos, syntax, imports
	ComplexityMedium   Complexity = 2 // functions, basic refactoring
	ComplexityComplex  Complexity = 3 // architecture, integration
	ComplexityCritical Complexity = 4 // performance, security, production
)

func (c Complexity) String() string {
	switch c {
	case ComplexitySimple:
		return "simple"
	case ComplexityMedium:
		return "medium"
	case ComplexityComplex:
		return "complex"
	case ComplexityCritical:
		return "critical"
	default:
		return fmt.Sprintf("complexity(%d)", int(c))
	}
}

// ParseComplexity accepts a name or a number 1-4.
func ParseComplexity(s string) (Complexity, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "1", "simple":
		return ComplexitySimple, nil
	case "2", "medium":
		return ComplexityMedium, nil
	case "3", "complex":
		return ComplexityComplex, nil
	case "4", "critical":
		return ComplexityCritical, nil
	}
	return 0, fmt.Errorf("unknown complexity %q", s)
}

// Tier is a model option with its price and capability rank. A tier with
// no subscriptions listed is open to every subscription.
type Tier struct {
	Name          string   `yaml:"name" json:"name"`
	Model         string   `yaml:"model" json:"model"`
	CostPer1K     float64  `yaml:"cost_per_1k" json:"cost_per_1k"`
	Rank          int      `yaml:"rank" json:"rank"`
	MaxContext    int      `yaml:"max_context" json:"max_context"`
	Subscriptions []string `yaml:"subscriptions,omitempty" json:"subscriptions,omitempty"`
}

// AllowedFor reports whether the subscription may use the tier.
func (t Tier) AllowedFor(subscription string) bool {
	if len(t.Subscriptions) == 0 {
		return true
	}
	for _, s := range t.Subscriptions {
		if strings.EqualFold(s, subscription) {
			return true
		}
	}
	return false
}

// Cost returns the predicted cost of the given token count on this tier.
func (t Tier) Cost(tokens int) float64 {
	return float64(tokens) / 1000 * t.CostPer1K
}

// Config holds the tier list and the task type capability table.
type Config struct {
	Tiers               []Tier         `yaml:"tiers"`
	Capabilities        map[string]int `yaml:"capabilities"` // task type -> minimum rank
	DefaultSubscription string         `yaml:"default_subscription"`
}

// DefaultConfig returns the Copilot model lineup.
func DefaultConfig() *Config {
	return &Config{
		Tiers: []Tier{
			{Name: "economy", Model: "gpt-4o-mini", CostPer1K: 0.0015, Rank: 1, MaxContext: 128000},
			{Name: "fast", Model: "claude-haiku", CostPer1K: 0.0025, Rank: 1, MaxContext: 100000},
			{Name: "code", Model: "codestral", CostPer1K: 0.003, Rank: 2, MaxContext: 32000},
			{Name: "premium", Model: "claude-sonnet-4", CostPer1K: 0.015, Rank: 3, MaxContext: 200000, Subscriptions: []string{"pro"}},
		},
		Capabilities: map[string]int{
			"general":        1,
			"completion":     1,
			"explanation":    1,
			"debugging":      2,
			"refactoring":    2,
			"generation":     2,
			"review":         2,
			"large-refactor": 3,
			"architecture":   3,
		},
		DefaultSubscription: "student",
	}
}

// Validate checks the tier list and capability table.
func (c *Config) Validate() error {
	if len(c.Tiers) == 0 {
		return errors.New("agents: no tiers configured")
	}
	seen := make(map[string]bool, len(c.Tiers))
	for i, t := range c.Tiers {
		if t.Name == "" {
			return fmt.Errorf("agents: tier %d has no name", i)
		}
		if seen[t.Name] {
			return fmt.Errorf("agents: duplicate tier %q", t.Name)
		}
		seen[t.Name] = true
		if t.Rank < 1 {
			return fmt.Errorf("agents: tier %q rank must be at least 1", t.Name)
		}
		if t.CostPer1K < 0 {
			return fmt.Errorf("agents: tier %q has negative cost", t.Name)
		}
	}
	for taskType, rank := range c.Capabilities {
		if rank < 1 {
			return fmt.Errorf("agents: capability %q rank must be at least 1", taskType)
		}
	}
	return nil
}

// TaskRequest is one incoming coding task.
type TaskRequest struct {
	ID              string     `json:"id"`
	Type            string     `json:"type"`
	Size            Complexity `json:"size"`
	EstimatedTokens int        `json:"estimated_tokens,omitempty"`
	Subscription    string     `json:"subscription"`
}

// Decision is the immutable outcome of a selection.
type Decision struct {
	ID              string    `json:"id"`
	TaskID          string    `json:"task_id"`
	TaskType        string    `json:"task_type"`
	Tier            string    `json:"tier"`
	Model           string    `json:"model"`
	EstimatedTokens int       `json:"estimated_tokens,omitempty"`
	PredictedCost   float64   `json:"predicted_cost"`
	ForcedDowngrade bool      `json:"forced_downgrade"`
	Preferred       string    `json:"preferred,omitempty"` // tier chosen before a forced downgrade
	Subscription    string    `json:"subscription"`
	Reason          string    `json:"reason,omitempty"`
	Timestamp       time.Time `json:"timestamp"`
}

// Charge returns the ledger charge for this decision.
func (d Decision) Charge() budget.Charge {
	return budget.Charge{
		TaskID:       d.TaskID,
		DecisionID:   d.ID,
		Subscription: d.Subscription,
		Tier:         d.Tier,
	}
}

// CapChecker reports whether a subscription's current period is within cap.
// *budget.Ledger implements it.
type CapChecker interface {
	WithinCap(subscription string) (bool, budget.Period)
}

// DecisionSink receives every decision.
type DecisionSink interface {
	AppendDecision(ctx context.Context, d Decision) error
}
