// Package budget tracks spend per subscription against a per-period cap.
// The ledger never rejects work for being over budget; callers read
// WithinCap and downgrade instead.
package budget

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/lim1712/orchestrator/internal/logging"
)

const (
	alertNone = iota
	alertWarning
	alertExceeded
)

// Ledger owns all period state. Every read and write goes through one
// mutex, so a spend is a single read-modify-write.
type Ledger struct {
	config  *Config
	store   SpendStore
	onAlert AlertCallback

	mu      sync.Mutex
	periods map[string]*Period // by subscription, current period only
	tasks   map[string]string  // task id -> period id
	alerted map[string]int     // subscription -> highest alert fired this period

	now func() time.Time
	log *slog.Logger
}

// NewLedger creates a ledger. A nil store keeps spend in memory only.
func NewLedger(config *Config, store SpendStore) *Ledger {
	if config == nil {
		config = DefaultConfig()
	}
	return &Ledger{
		config:  config,
		store:   store,
		periods: make(map[string]*Period),
		tasks:   make(map[string]string),
		alerted: make(map[string]int),
		now:     time.Now,
		log:     logging.WithComponent("budget"),
	}
}

// OnAlert sets the alert callback
func (l *Ledger) OnAlert(callback AlertCallback) {
	l.mu.Lock()
	l.onAlert = callback
	l.mu.Unlock()
}

// PeriodID names the accounting window containing t.
func PeriodID(kind PeriodKind, t time.Time) string {
	if kind == PeriodDaily {
		return t.Format("2006-01-02")
	}
	return t.Format("2006-01")
}

// PeriodStart returns the first instant of the window containing t.
func PeriodStart(kind PeriodKind, t time.Time) time.Time {
	if kind == PeriodDaily {
		return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
	}
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, t.Location())
}

func (l *Ledger) kind() PeriodKind {
	if l.config.Period == "" {
		return PeriodMonthly
	}
	return l.config.Period
}

func normalizeSubscription(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// current returns the subscription's period for now, starting a fresh one
// when the stored period belongs to an earlier window. Caller holds mu.
func (l *Ledger) current(sub string, now time.Time) *Period {
	id := PeriodID(l.kind(), now)
	p, ok := l.periods[sub]
	if !ok || p.ID != id {
		p = &Period{ID: id, Subscription: sub, Cap: l.config.Caps[sub]}
		l.periods[sub] = p
		delete(l.alerted, sub)
	}
	return p
}

// RecordSpend charges cost to the subscription's current period. It is the
// only mutator of period state and accepts each task id once.
func (l *Ledger) RecordSpend(ctx context.Context, charge Charge, cost float64) (Period, error) {
	if charge.TaskID == "" {
		return Period{}, ErrMissingTaskID
	}
	if math.IsNaN(cost) || math.IsInf(cost, 0) {
		return Period{}, fmt.Errorf("%w: %v", ErrInvalidCost, cost)
	}
	if cost < 0 {
		return Period{}, fmt.Errorf("%w: %.4f", ErrNegativeCost, cost)
	}

	p, notify, err := l.record(ctx, charge, cost)
	if notify != nil {
		notify()
	}
	return p, err
}

func (l *Ledger) record(ctx context.Context, charge Charge, cost float64) (Period, func(), error) {
	sub := normalizeSubscription(charge.Subscription)

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	p := l.current(sub, now)

	if _, dup := l.tasks[charge.TaskID]; dup {
		return *p, nil, fmt.Errorf("%w: %s", ErrDuplicateSpend, charge.TaskID)
	}

	if l.store != nil {
		rec := SpendRecord{
			TaskID:       charge.TaskID,
			DecisionID:   charge.DecisionID,
			Subscription: sub,
			Tier:         charge.Tier,
			PeriodID:     p.ID,
			Cost:         cost,
			RecordedAt:   now,
		}
		if err := l.store.AppendSpend(ctx, rec); err != nil {
			if errors.Is(err, ErrDuplicateSpend) {
				l.tasks[charge.TaskID] = p.ID
				return *p, nil, fmt.Errorf("%w: %s", ErrDuplicateSpend, charge.TaskID)
			}
			return *p, nil, fmt.Errorf("persist spend for task %s: %w", charge.TaskID, err)
		}
	}

	p.Consumed += cost
	l.tasks[charge.TaskID] = p.ID

	l.log.Debug("Spend recorded",
		slog.String("task_id", charge.TaskID),
		slog.String("subscription", sub),
		slog.Float64("cost", cost),
		slog.Float64("consumed", p.Consumed),
	)
	return *p, l.alertFor(*p), nil
}

// WithinCap reports whether the subscription's current period is under
// its cap. A disabled ledger is always within cap.
func (l *Ledger) WithinCap(subscription string) (bool, Period) {
	sub := normalizeSubscription(subscription)

	l.mu.Lock()
	defer l.mu.Unlock()

	p := *l.current(sub, l.now())
	if !l.config.Enabled {
		return true, p
	}
	return !p.OverCap(), p
}

// Status returns the current period of every capped or charged
// subscription, sorted by subscription.
func (l *Ledger) Status() []Period {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	for sub := range l.config.Caps {
		l.current(normalizeSubscription(sub), now)
	}
	for sub := range l.periods {
		l.current(sub, now)
	}

	out := make([]Period, 0, len(l.periods))
	for _, p := range l.periods {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Subscription < out[j].Subscription })
	return out
}

// Rollover drops periods that belong to an earlier window and returns them.
func (l *Ledger) Rollover() []Period {
	l.mu.Lock()
	defer l.mu.Unlock()

	id := PeriodID(l.kind(), l.now())
	var closed []Period
	for sub, p := range l.periods {
		if p.ID == id {
			continue
		}
		closed = append(closed, *p)
		delete(l.periods, sub)
		delete(l.alerted, sub)
	}
	for task, pid := range l.tasks {
		if pid != id {
			delete(l.tasks, task)
		}
	}

	sort.Slice(closed, func(i, j int) bool { return closed[i].Subscription < closed[j].Subscription })
	for _, p := range closed {
		l.log.Info("Budget period closed",
			slog.String("period", p.ID),
			slog.String("subscription", p.Subscription),
			slog.Float64("consumed", p.Consumed),
			slog.Float64("cap", p.Cap),
		)
	}
	return closed
}

// Load rebuilds current-period totals and the recorded task set from the
// store. It replaces any in-memory state.
func (l *Ledger) Load(ctx context.Context) error {
	if l.store == nil {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	records, err := l.store.ListSpend(ctx, PeriodStart(l.kind(), now))
	if err != nil {
		return fmt.Errorf("load spend: %w", err)
	}

	l.periods = make(map[string]*Period)
	l.tasks = make(map[string]string)
	l.alerted = make(map[string]int)

	id := PeriodID(l.kind(), now)
	for _, rec := range records {
		if rec.PeriodID != id {
			continue
		}
		p := l.current(normalizeSubscription(rec.Subscription), now)
		p.Consumed += rec.Cost
		l.tasks[rec.TaskID] = id
	}

	l.log.Info("Budget ledger loaded",
		slog.String("period", id),
		slog.Int("spends", len(l.tasks)),
	)
	return nil
}

// Report summarizes current usage per subscription and suggests changes
// for heavy users.
func (l *Ledger) Report() UsageReport {
	periods := l.Status()

	report := UsageReport{GeneratedAt: l.now()}
	for _, p := range periods {
		report.Entries = append(report.Entries, UsageEntry{
			Subscription: p.Subscription,
			PeriodID:     p.ID,
			Cap:          p.Cap,
			Consumed:     p.Consumed,
			Percent:      p.Percent(),
			Remaining:    p.Remaining(),
		})

		pct := p.Percent()
		if pct > 80 {
			report.Recommendations = append(report.Recommendations,
				fmt.Sprintf("%s: high usage (%.0f%%), prefer cheaper tiers for routine tasks", p.Subscription, pct))
		}
		if p.Subscription == "student" && pct > 50 {
			report.Recommendations = append(report.Recommendations,
				fmt.Sprintf("%s: %.0f%% used, consider upgrading to pro", p.Subscription, pct))
		}
	}
	return report
}

// alertFor returns the callback invocation for a newly crossed threshold,
// or nil. Each threshold fires once per period. Caller holds mu; the
// returned func runs after it is released.
func (l *Ledger) alertFor(p Period) func() {
	cb := l.onAlert
	if cb == nil || p.Cap <= 0 {
		return nil
	}

	level := alertNone
	switch {
	case p.OverCap():
		level = alertExceeded
	case l.config.WarnPercent > 0 && p.Percent() >= l.config.WarnPercent:
		level = alertWarning
	}
	if level <= l.alerted[p.Subscription] {
		return nil
	}
	l.alerted[p.Subscription] = level

	if level == alertExceeded {
		msg := fmt.Sprintf("Budget for %s exceeded in %s: %.0f / %.0f", p.Subscription, p.ID, p.Consumed, p.Cap)
		return func() { cb("budget_exceeded", msg, "critical") }
	}
	msg := fmt.Sprintf("Budget for %s at %.0f%% in %s: %.0f / %.0f", p.Subscription, p.Percent(), p.ID, p.Consumed, p.Cap)
	return func() { cb("budget_warning", msg, "warning") }
}
