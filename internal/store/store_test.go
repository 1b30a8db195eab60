package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/lim1712/orchestrator/internal/agents"
	"github.com/lim1712/orchestrator/internal/budget"
	"github.com/lim1712/orchestrator/internal/confirm"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestNewStore(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "data")
	s, err := NewStore(dir)
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}
	defer func() { _ = s.Close() }()

	if _, err := os.Stat(filepath.Join(dir, DBFile)); err != nil {
		t.Errorf("database file not created: %v", err)
	}
	if s.Path() != dir {
		t.Errorf("Path() = %s, want %s", s.Path(), dir)
	}

	// migrations are idempotent
	s2, err := NewStore(dir)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	_ = s2.Close()
}

func TestEvents(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)

	var events []confirm.Event
	for i, action := range []confirm.Action{confirm.ActionSkippedUnsafe, confirm.ActionConfirmed, confirm.ActionError} {
		inst := "A"
		if i == 1 {
			inst = "B"
		}
		events = append(events, confirm.Event{
			ID:          fmt.Sprintf("ev-%d", i),
			InstanceID:  inst,
			Timestamp:   base.Add(time.Duration(i) * time.Second),
			Action:      action,
			Fingerprint: "fp",
			RuleID:      "run-command",
			Title:       "Allow Copilot to run this command?",
			Attempt:     i,
			Error:       "",
		})
	}
	if err := s.AppendEvents(ctx, events); err != nil {
		t.Fatalf("AppendEvents: %v", err)
	}
	if err := s.AppendEvents(ctx, nil); err != nil {
		t.Errorf("empty batch: %v", err)
	}

	all, err := s.ListEvents(ctx, EventQuery{})
	if err != nil {
		t.Fatalf("ListEvents: %v", err)
	}
	if len(all) != 3 || all[0].ID != "ev-0" || all[2].ID != "ev-2" {
		t.Fatalf("events out of order: %+v", all)
	}
	if !all[1].Timestamp.Equal(base.Add(time.Second)) || all[1].Action != confirm.ActionConfirmed {
		t.Errorf("round trip mismatch: %+v", all[1])
	}

	byInst, _ := s.ListEvents(ctx, EventQuery{InstanceID: "A"})
	if len(byInst) != 2 {
		t.Errorf("instance filter returned %d", len(byInst))
	}

	latest, _ := s.ListEvents(ctx, EventQuery{Limit: 2})
	if len(latest) != 2 || latest[0].ID != "ev-1" || latest[1].ID != "ev-2" {
		t.Errorf("limit should keep the newest, oldest first: %+v", latest)
	}

	confirmed, _ := s.ListEvents(ctx, EventQuery{Action: confirm.ActionConfirmed})
	if len(confirmed) != 1 {
		t.Errorf("action filter returned %d", len(confirmed))
	}

	since, _ := s.ListEvents(ctx, EventQuery{Since: base.Add(2 * time.Second)})
	if len(since) != 1 || since[0].ID != "ev-2" {
		t.Errorf("since filter returned %+v", since)
	}
}

func TestEvents_DuplicateIDRollsBackBatch(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	batch := []confirm.Event{
		{ID: "x", InstanceID: "A", Timestamp: now, Action: confirm.ActionConfirmed, Fingerprint: "f", Title: "t"},
		{ID: "x", InstanceID: "A", Timestamp: now, Action: confirm.ActionConfirmed, Fingerprint: "f", Title: "t"},
	}
	if err := s.AppendEvents(ctx, batch); err == nil {
		t.Fatal("expected duplicate id error")
	}
	all, _ := s.ListEvents(ctx, EventQuery{})
	if len(all) != 0 {
		t.Errorf("partial batch persisted: %d rows", len(all))
	}
}

func TestDecisions(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	d := agents.Decision{
		ID:              "dec-1",
		TaskID:          "task-42",
		TaskType:        "large-refactor",
		Tier:            "economy",
		Model:           "gpt-4o-mini",
		EstimatedTokens: 4000,
		PredictedCost:   0.006,
		ForcedDowngrade: true,
		Preferred:       "code",
		Subscription:    "student",
		Reason:          "budget period 2026-03 over cap",
		Timestamp:       time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC),
	}
	if err := s.AppendDecision(ctx, d); err != nil {
		t.Fatalf("AppendDecision: %v", err)
	}

	got, err := s.GetDecision(ctx, "task-42")
	if err != nil {
		t.Fatalf("GetDecision: %v", err)
	}
	if got.Tier != d.Tier || !got.ForcedDowngrade || got.Preferred != "code" || !got.Timestamp.Equal(d.Timestamp) {
		t.Errorf("round trip mismatch: %+v", got)
	}

	if _, err := s.GetDecision(ctx, "missing"); !errors.Is(err, sql.ErrNoRows) {
		t.Errorf("missing decision: %v, want sql.ErrNoRows", err)
	}
}

func TestSpend(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	march := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)

	recs := []budget.SpendRecord{
		{TaskID: "feb", Subscription: "pro", PeriodID: "2026-02", Cost: 10, RecordedAt: march.AddDate(0, -1, 0)},
		{TaskID: "a", Subscription: "pro", PeriodID: "2026-03", Cost: 20, RecordedAt: march},
		{TaskID: "b", Subscription: "student", Tier: "economy", PeriodID: "2026-03", Cost: 30, RecordedAt: march.Add(time.Hour)},
	}
	for _, r := range recs {
		if err := s.AppendSpend(ctx, r); err != nil {
			t.Fatalf("AppendSpend(%s): %v", r.TaskID, err)
		}
	}

	err := s.AppendSpend(ctx, budget.SpendRecord{TaskID: "a", Subscription: "pro", PeriodID: "2026-03", Cost: 99, RecordedAt: march})
	if !errors.Is(err, budget.ErrDuplicateSpend) {
		t.Errorf("duplicate spend: %v, want ErrDuplicateSpend", err)
	}

	got, err := s.ListSpend(ctx, time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("ListSpend: %v", err)
	}
	if len(got) != 2 || got[0].TaskID != "a" || got[1].TaskID != "b" || got[1].Tier != "economy" {
		t.Errorf("ListSpend = %+v", got)
	}
}

func TestLedgerOverStore(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	cfg := &budget.Config{Enabled: true, Period: budget.PeriodMonthly, Caps: map[string]float64{"student": 100}}

	l := budget.NewLedger(cfg, s)
	if _, err := l.RecordSpend(ctx, budget.Charge{TaskID: "t1", Subscription: "student"}, 60); err != nil {
		t.Fatal(err)
	}
	if _, err := l.RecordSpend(ctx, budget.Charge{TaskID: "t2", Subscription: "student"}, 50); err != nil {
		t.Fatal(err)
	}

	// a restarted process sees the same totals and duplicate set
	restarted := budget.NewLedger(cfg, s)
	if err := restarted.Load(ctx); err != nil {
		t.Fatalf("Load: %v", err)
	}
	ok, p := restarted.WithinCap("student")
	if ok || p.Consumed != 110 {
		t.Errorf("after reload within=%v consumed=%v", ok, p.Consumed)
	}
	if _, err := restarted.RecordSpend(ctx, budget.Charge{TaskID: "t1", Subscription: "student"}, 5); !errors.Is(err, budget.ErrDuplicateSpend) {
		t.Errorf("reloaded duplicate: %v", err)
	}
}
