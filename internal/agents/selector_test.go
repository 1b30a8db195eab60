package agents

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/lim1712/orchestrator/internal/budget"
	"github.com/lim1712/orchestrator/internal/logging"
)

// mockCaps implements CapChecker
type mockCaps struct {
	over map[string]bool
}

func (m *mockCaps) WithinCap(sub string) (bool, budget.Period) {
	p := budget.Period{ID: "2026-03", Subscription: sub, Cap: 1000}
	if m.over[sub] {
		p.Consumed = 1200
		return false, p
	}
	return true, p
}

// mockSink implements DecisionSink
type mockSink struct {
	decisions []Decision
	err       error
}

func (m *mockSink) AppendDecision(_ context.Context, d Decision) error {
	if m.err != nil {
		return m.err
	}
	m.decisions = append(m.decisions, d)
	return nil
}

func newTestSelector(t *testing.T, caps CapChecker, sink DecisionSink) *Selector {
	t.Helper()
	s, err := NewSelector(nil, caps, sink)
	if err != nil {
		t.Fatalf("NewSelector: %v", err)
	}
	s.now = func() time.Time { return time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC) }
	s.newID = func() string { return "dec-1" }
	return s
}

func TestSelect_CheapestCapableTier(t *testing.T) {
	s := newTestSelector(t, &mockCaps{}, nil)

	tests := []struct {
		name     string
		req      TaskRequest
		wantTier string
	}{
		{"completion on student", TaskRequest{ID: "1", Type: "completion", Subscription: "student"}, "economy"},
		{"debugging on student", TaskRequest{ID: "2", Type: "debugging", Subscription: "student"}, "code"},
		{"architecture on pro", TaskRequest{ID: "3", Type: "architecture", Subscription: "pro"}, "premium"},
		{"unknown type uses general", TaskRequest{ID: "4", Type: "poetry", Subscription: "pro"}, "economy"},
		{"critical size raises rank", TaskRequest{ID: "5", Type: "completion", Size: ComplexityCritical, Subscription: "pro"}, "premium"},
		{"complex size raises rank", TaskRequest{ID: "6", Type: "completion", Size: ComplexityComplex, Subscription: "student"}, "code"},
		{"context too large for code tier", TaskRequest{ID: "7", Type: "review", EstimatedTokens: 50000, Subscription: "pro"}, "premium"},
		{"empty subscription defaults to student", TaskRequest{ID: "8", Type: "architecture"}, "code"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := s.Select(context.Background(), tt.req)
			if err != nil {
				t.Fatalf("Select: %v", err)
			}
			if d.Tier != tt.wantTier {
				t.Errorf("tier = %s, want %s (reason: %s)", d.Tier, tt.wantTier, d.Reason)
			}
			if d.ForcedDowngrade {
				t.Error("unexpected forced downgrade")
			}
		})
	}
}

func TestSelect_LargeRefactorStudentOverCap(t *testing.T) {
	sink := &mockSink{}
	s := newTestSelector(t, &mockCaps{over: map[string]bool{"student": true}}, sink)

	d, err := s.Select(context.Background(), TaskRequest{
		ID:              "task-42",
		Type:            "large-refactor",
		Size:            ComplexityComplex,
		EstimatedTokens: 4000,
		Subscription:    "Student",
	})
	if err != nil {
		t.Fatalf("Select: %v", err)
	}

	if !d.ForcedDowngrade {
		t.Error("expected forced downgrade")
	}
	if d.Tier != "economy" || d.Model != "gpt-4o-mini" {
		t.Errorf("tier = %s/%s, want economy/gpt-4o-mini", d.Tier, d.Model)
	}
	if d.Preferred != "code" {
		t.Errorf("preferred = %q, want code", d.Preferred)
	}
	if d.PredictedCost != 0.006 {
		t.Errorf("predicted cost = %v, want 0.006", d.PredictedCost)
	}
	if len(sink.decisions) != 1 || sink.decisions[0].TaskID != "task-42" {
		t.Errorf("sink got %+v", sink.decisions)
	}
}

func TestSelect_OverCapOnlyAffectsThatSubscription(t *testing.T) {
	s := newTestSelector(t, &mockCaps{over: map[string]bool{"student": true}}, nil)

	d, err := s.Select(context.Background(), TaskRequest{ID: "1", Type: "architecture", Subscription: "pro"})
	if err != nil {
		t.Fatal(err)
	}
	if d.ForcedDowngrade || d.Tier != "premium" {
		t.Errorf("pro decision = %+v", d)
	}
}

func TestSelect_WithRealLedger(t *testing.T) {
	ledger := budget.NewLedger(&budget.Config{
		Enabled: true,
		Period:  budget.PeriodMonthly,
		Caps:    map[string]float64{"student": 100},
	}, nil)
	s := newTestSelector(t, ledger, nil)
	ctx := context.Background()

	d, err := s.Select(ctx, TaskRequest{ID: "a", Type: "debugging", Subscription: "student"})
	if err != nil {
		t.Fatal(err)
	}
	if d.ForcedDowngrade {
		t.Fatal("fresh period should be within cap")
	}
	if _, err := ledger.RecordSpend(ctx, d.Charge(), 150); err != nil {
		t.Fatalf("RecordSpend: %v", err)
	}

	d, err = s.Select(ctx, TaskRequest{ID: "b", Type: "debugging", Subscription: "student"})
	if err != nil {
		t.Fatal(err)
	}
	if !d.ForcedDowngrade || d.Tier != "economy" {
		t.Errorf("after overspend decision = %+v", d)
	}
}

func TestSelect_Errors(t *testing.T) {
	s := newTestSelector(t, nil, nil)
	ctx := context.Background()

	if _, err := s.Select(ctx, TaskRequest{Type: "review"}); !errors.Is(err, ErrInvalidRequest) {
		t.Errorf("missing id: %v", err)
	}
	if _, err := s.Select(ctx, TaskRequest{ID: "1", EstimatedTokens: -5}); !errors.Is(err, ErrInvalidRequest) {
		t.Errorf("negative tokens: %v", err)
	}

	cfg := DefaultConfig()
	cfg.Tiers = []Tier{{Name: "premium", Model: "m", Rank: 3, Subscriptions: []string{"pro"}}}
	s, err := NewSelector(cfg, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.Select(ctx, TaskRequest{ID: "1", Subscription: "student"}); !errors.Is(err, ErrNoTier) {
		t.Errorf("no tier: %v", err)
	}
}

func TestSelect_SinkFailureDoesNotFailSelection(t *testing.T) {
	s := newTestSelector(t, nil, &mockSink{err: errors.New("db locked")})
	if _, err := s.Select(context.Background(), TaskRequest{ID: "1", Type: "completion"}); err != nil {
		t.Errorf("Select: %v", err)
	}
}

func TestSelect_LogsCarryTaskID(t *testing.T) {
	var buf bytes.Buffer
	prev := logging.Logger()
	logging.SetLogger(slog.New(slog.NewJSONHandler(&buf, nil)))
	t.Cleanup(func() { logging.SetLogger(prev) })

	s := newTestSelector(t, &mockCaps{}, nil)
	if _, err := s.Select(context.Background(), TaskRequest{ID: "T-42", Type: "completion"}); err != nil {
		t.Fatal(err)
	}

	var line map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &line); err != nil {
		t.Fatalf("log output %q: %v", buf.String(), err)
	}
	if line["task_id"] != "T-42" || line["component"] != "agents" {
		t.Errorf("log attrs = %v", line)
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name  string
		tiers []Tier
		caps  map[string]int
	}{
		{"no tiers", nil, nil},
		{"unnamed tier", []Tier{{Rank: 1}}, nil},
		{"duplicate tier", []Tier{{Name: "a", Rank: 1}, {Name: "a", Rank: 2}}, nil},
		{"zero rank", []Tier{{Name: "a"}}, nil},
		{"negative cost", []Tier{{Name: "a", Rank: 1, CostPer1K: -1}}, nil},
		{"bad capability", []Tier{{Name: "a", Rank: 1}}, map[string]int{"review": 0}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{Tiers: tt.tiers, Capabilities: tt.caps}
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
	if err := DefaultConfig().Validate(); err != nil {
		t.Errorf("default config invalid: %v", err)
	}
}

func TestParseComplexity(t *testing.T) {
	for in, want := range map[string]Complexity{"": ComplexitySimple, "3": ComplexityComplex, "Critical": ComplexityCritical} {
		got, err := ParseComplexity(in)
		if err != nil || got != want {
			t.Errorf("ParseComplexity(%q) = %v, %v", in, got, err)
		}
	}
	if _, err := ParseComplexity("huge"); err == nil {
		t.Error("expected error for unknown complexity")
	}
}
