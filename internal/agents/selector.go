// Package agents picks a model tier for each coding task, trading
// capability against cost and the subscription's budget.
package agents

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/lim1712/orchestrator/internal/logging"
)

// Selector chooses tiers. It only reads the budget; spend is recorded by
// the caller once the task has run.
type Selector struct {
	config *Config
	tiers  []Tier // by cost, then rank descending
	caps   CapChecker
	sink   DecisionSink

	now   func() time.Time
	newID func() string
}

// NewSelector creates a Selector. A nil config uses DefaultConfig; caps and
// sink may be nil.
func NewSelector(config *Config, caps CapChecker, sink DecisionSink) (*Selector, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}

	tiers := make([]Tier, len(config.Tiers))
	copy(tiers, config.Tiers)
	sort.SliceStable(tiers, func(i, j int) bool {
		if tiers[i].CostPer1K != tiers[j].CostPer1K {
			return tiers[i].CostPer1K < tiers[j].CostPer1K
		}
		return tiers[i].Rank > tiers[j].Rank
	})

	return &Selector{
		config: config,
		tiers:  tiers,
		caps:   caps,
		sink:   sink,
		now:    time.Now,
		newID:  uuid.NewString,
	}, nil
}

// RequiredRank returns the minimum tier rank for a request.
func (s *Selector) RequiredRank(req TaskRequest) int {
	rank, ok := s.config.Capabilities[strings.ToLower(req.Type)]
	if !ok {
		rank = s.config.Capabilities["general"]
	}
	switch {
	case req.Size >= ComplexityCritical && rank < 3:
		rank = 3
	case req.Size >= ComplexityComplex && rank < 2:
		rank = 2
	}
	if rank < 1 {
		rank = 1
	}
	return rank
}

// Select picks the cheapest tier the subscription may use whose rank covers
// the task. When the subscription's period is over cap it forces the
// cheapest usable tier and flags the decision.
func (s *Selector) Select(ctx context.Context, req TaskRequest) (Decision, error) {
	if req.ID == "" {
		return Decision{}, fmt.Errorf("%w: missing task id", ErrInvalidRequest)
	}
	if req.EstimatedTokens < 0 {
		return Decision{}, fmt.Errorf("%w: negative token estimate", ErrInvalidRequest)
	}

	sub := strings.ToLower(strings.TrimSpace(req.Subscription))
	if sub == "" {
		sub = s.config.DefaultSubscription
	}

	usable := s.usable(sub)
	if len(usable) == 0 {
		return Decision{}, fmt.Errorf("%w: %s", ErrNoTier, sub)
	}

	minRank := s.RequiredRank(req)
	tier, reason := pickCapable(usable, minRank, req.EstimatedTokens)

	d := Decision{
		ID:              s.newID(),
		TaskID:          req.ID,
		TaskType:        req.Type,
		EstimatedTokens: req.EstimatedTokens,
		Subscription:    sub,
		Timestamp:       s.now(),
	}

	log := logging.WithTask(req.ID).With(slog.String("component", "agents"))

	if s.caps != nil {
		if within, p := s.caps.WithinCap(sub); !within {
			d.ForcedDowngrade = true
			d.Preferred = tier.Name
			tier = usable[0]
			reason = fmt.Sprintf("budget period %s over cap (%.0f / %.0f)", p.ID, p.Consumed, p.Cap)
			log.Warn("Budget forced downgrade",
				slog.String("subscription", sub),
				slog.String("preferred", d.Preferred),
				slog.String("tier", tier.Name),
			)
		}
	}

	d.Tier = tier.Name
	d.Model = tier.Model
	d.PredictedCost = tier.Cost(req.EstimatedTokens)
	d.Reason = reason

	log.Info("Tier selected",
		slog.String("type", req.Type),
		slog.Int("min_rank", minRank),
		slog.String("tier", d.Tier),
		slog.Bool("forced_downgrade", d.ForcedDowngrade),
	)

	if s.sink != nil {
		if err := s.sink.AppendDecision(ctx, d); err != nil {
			log.Error("Failed to record decision",
				slog.String("error", err.Error()),
			)
		}
	}
	return d, nil
}

func (s *Selector) usable(sub string) []Tier {
	var out []Tier
	for _, t := range s.tiers {
		if t.AllowedFor(sub) {
			out = append(out, t)
		}
	}
	return out
}

// pickCapable returns the cheapest tier with enough rank and context. When
// none qualifies it falls back to the highest rank available.
func pickCapable(tiers []Tier, minRank, tokens int) (Tier, string) {
	for _, t := range tiers {
		if t.Rank < minRank {
			continue
		}
		if tokens > 0 && t.MaxContext > 0 && tokens > t.MaxContext {
			continue
		}
		return t, fmt.Sprintf("cheapest tier with rank >= %d", minRank)
	}

	best := tiers[0]
	for _, t := range tiers[1:] {
		if t.Rank > best.Rank {
			best = t
		}
	}
	return best, fmt.Sprintf("no usable tier reaches rank %d; using highest available", minRank)
}
