package budget

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"testing"
	"time"
)

// mockSpendStore implements SpendStore in memory
type mockSpendStore struct {
	mu       sync.Mutex
	records  []SpendRecord
	failNext error
}

func (m *mockSpendStore) AppendSpend(_ context.Context, rec SpendRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failNext != nil {
		err := m.failNext
		m.failNext = nil
		return err
	}
	for _, r := range m.records {
		if r.TaskID == rec.TaskID {
			return fmt.Errorf("insert spend: %w", ErrDuplicateSpend)
		}
	}
	m.records = append(m.records, rec)
	return nil
}

func (m *mockSpendStore) ListSpend(_ context.Context, since time.Time) ([]SpendRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []SpendRecord
	for _, r := range m.records {
		if !r.RecordedAt.Before(since) {
			out = append(out, r)
		}
	}
	return out, nil
}

var march = time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

func newTestLedger(store SpendStore) *Ledger {
	l := NewLedger(&Config{
		Enabled:     true,
		Period:      PeriodMonthly,
		Caps:        map[string]float64{"student": 1000, "pro": 5000},
		WarnPercent: 80,
	}, store)
	l.now = func() time.Time { return march }
	return l
}

func TestRecordSpend_Accumulates(t *testing.T) {
	l := newTestLedger(&mockSpendStore{})
	ctx := context.Background()

	if _, err := l.RecordSpend(ctx, Charge{TaskID: "t1", Subscription: "Student"}, 300); err != nil {
		t.Fatalf("RecordSpend: %v", err)
	}
	p, err := l.RecordSpend(ctx, Charge{TaskID: "t2", Subscription: "student"}, 200)
	if err != nil {
		t.Fatalf("RecordSpend: %v", err)
	}

	if p.Consumed != 500 {
		t.Errorf("consumed = %v, want 500", p.Consumed)
	}
	if p.ID != "2026-03" || p.Subscription != "student" || p.Cap != 1000 {
		t.Errorf("period = %+v", p)
	}
}

func TestRecordSpend_DuplicateRejected(t *testing.T) {
	store := &mockSpendStore{}
	l := newTestLedger(store)
	ctx := context.Background()

	if _, err := l.RecordSpend(ctx, Charge{TaskID: "t1", Subscription: "pro"}, 100); err != nil {
		t.Fatal(err)
	}
	p, err := l.RecordSpend(ctx, Charge{TaskID: "t1", Subscription: "pro"}, 100)
	if !errors.Is(err, ErrDuplicateSpend) {
		t.Fatalf("err = %v, want ErrDuplicateSpend", err)
	}
	if p.Consumed != 100 {
		t.Errorf("consumed after duplicate = %v, want 100", p.Consumed)
	}
	if len(store.records) != 1 {
		t.Errorf("store has %d records, want 1", len(store.records))
	}
}

func TestRecordSpend_DuplicateFromStore(t *testing.T) {
	store := &mockSpendStore{records: []SpendRecord{{TaskID: "old", Subscription: "pro", PeriodID: "2026-02"}}}
	l := newTestLedger(store)

	_, err := l.RecordSpend(context.Background(), Charge{TaskID: "old", Subscription: "pro"}, 50)
	if !errors.Is(err, ErrDuplicateSpend) {
		t.Fatalf("err = %v, want ErrDuplicateSpend", err)
	}
	if _, p := l.WithinCap("pro"); p.Consumed != 0 {
		t.Errorf("consumed = %v, want 0", p.Consumed)
	}
}

func TestRecordSpend_InvalidInput(t *testing.T) {
	tests := []struct {
		name    string
		charge  Charge
		cost    float64
		wantErr error
	}{
		{"negative cost", Charge{TaskID: "t1", Subscription: "pro"}, -1, ErrNegativeCost},
		{"missing task id", Charge{Subscription: "pro"}, 1, ErrMissingTaskID},
		{"NaN cost", Charge{TaskID: "t2", Subscription: "pro"}, math.NaN(), ErrInvalidCost},
		{"infinite cost", Charge{TaskID: "t3", Subscription: "pro"}, math.Inf(1), ErrInvalidCost},
		{"negative infinite cost", Charge{TaskID: "t4", Subscription: "pro"}, math.Inf(-1), ErrInvalidCost},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := newTestLedger(nil)
			if _, err := l.RecordSpend(context.Background(), tt.charge, tt.cost); !errors.Is(err, tt.wantErr) {
				t.Errorf("err = %v, want %v", err, tt.wantErr)
			}
			if _, p := l.WithinCap("pro"); p.Consumed != 0 {
				t.Errorf("consumed = %v after rejected spend", p.Consumed)
			}
		})
	}
}

func TestRecordSpend_NaNDoesNotLiftOverCap(t *testing.T) {
	l := NewLedger(&Config{Enabled: true, Period: PeriodMonthly, Caps: map[string]float64{"student": 100}}, nil)
	ctx := context.Background()

	if _, err := l.RecordSpend(ctx, Charge{TaskID: "a", Subscription: "student"}, 150); err != nil {
		t.Fatal(err)
	}
	if _, err := l.RecordSpend(ctx, Charge{TaskID: "b", Subscription: "student"}, math.NaN()); err == nil {
		t.Fatal("NaN spend accepted")
	}
	within, p := l.WithinCap("student")
	if within || p.Consumed != 150 {
		t.Errorf("within=%v consumed=%v, want over cap at 150", within, p.Consumed)
	}
}

func TestRecordSpend_StoreFailureLeavesPeriodUnchanged(t *testing.T) {
	store := &mockSpendStore{failNext: errors.New("disk full")}
	l := newTestLedger(store)
	ctx := context.Background()

	if _, err := l.RecordSpend(ctx, Charge{TaskID: "t1", Subscription: "pro"}, 100); err == nil {
		t.Fatal("expected store error")
	}
	if _, p := l.WithinCap("pro"); p.Consumed != 0 {
		t.Errorf("consumed = %v after failed persist, want 0", p.Consumed)
	}
	// the task id was never recorded, so a retry is allowed
	if _, err := l.RecordSpend(ctx, Charge{TaskID: "t1", Subscription: "pro"}, 100); err != nil {
		t.Errorf("retry after store failure: %v", err)
	}
}

func TestRecordSpend_ConcurrentSamePeriod(t *testing.T) {
	l := newTestLedger(&mockSpendStore{})
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _ = l.RecordSpend(ctx, Charge{TaskID: fmt.Sprintf("t%d", i), Subscription: "pro"}, 10)
			_, _ = l.RecordSpend(ctx, Charge{TaskID: fmt.Sprintf("t%d", i), Subscription: "pro"}, 10)
		}(i)
	}
	wg.Wait()

	if _, p := l.WithinCap("pro"); p.Consumed != 500 {
		t.Errorf("consumed = %v, want 500", p.Consumed)
	}
}

func TestWithinCap(t *testing.T) {
	tests := []struct {
		name    string
		enabled bool
		sub     string
		spend   float64
		want    bool
	}{
		{"under cap", true, "student", 999, true},
		{"at cap", true, "student", 1000, false},
		{"over cap", true, "student", 1500, false},
		{"uncapped subscription", true, "enterprise", 1e9, true},
		{"disabled ledger", false, "student", 5000, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := newTestLedger(nil)
			l.config.Enabled = tt.enabled
			if _, err := l.RecordSpend(context.Background(), Charge{TaskID: "t", Subscription: tt.sub}, tt.spend); err != nil {
				t.Fatal(err)
			}
			if got, _ := l.WithinCap(tt.sub); got != tt.want {
				t.Errorf("WithinCap = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestAlerts_FireOncePerThreshold(t *testing.T) {
	l := newTestLedger(nil)
	var got []string
	l.OnAlert(func(alertType, message, severity string) {
		got = append(got, alertType+"/"+severity)
	})
	ctx := context.Background()

	for i, cost := range []float64{500, 350, 50, 200, 10} {
		if _, err := l.RecordSpend(ctx, Charge{TaskID: fmt.Sprintf("t%d", i), Subscription: "student"}, cost); err != nil {
			t.Fatal(err)
		}
	}

	want := []string{"budget_warning/warning", "budget_exceeded/critical"}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("alerts = %v, want %v", got, want)
	}
}

func TestAlerts_CallbackMayReadLedger(t *testing.T) {
	l := newTestLedger(nil)
	done := make(chan struct{})
	l.OnAlert(func(string, string, string) {
		l.Status()
		close(done)
	})

	go func() {
		_, _ = l.RecordSpend(context.Background(), Charge{TaskID: "t", Subscription: "student"}, 2000)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("alert callback deadlocked on the ledger")
	}
}

func TestRollover(t *testing.T) {
	l := newTestLedger(nil)
	ctx := context.Background()
	if _, err := l.RecordSpend(ctx, Charge{TaskID: "t1", Subscription: "student"}, 700); err != nil {
		t.Fatal(err)
	}

	if closed := l.Rollover(); len(closed) != 0 {
		t.Errorf("rollover within the period closed %v", closed)
	}

	l.now = func() time.Time { return march.AddDate(0, 1, 0) }
	closed := l.Rollover()
	if len(closed) != 1 || closed[0].ID != "2026-03" || closed[0].Consumed != 700 {
		t.Fatalf("closed = %+v", closed)
	}

	ok, p := l.WithinCap("student")
	if !ok || p.Consumed != 0 || p.ID != "2026-04" {
		t.Errorf("new period = %+v within=%v", p, ok)
	}
}

func TestLoad_RebuildsCurrentPeriod(t *testing.T) {
	store := &mockSpendStore{records: []SpendRecord{
		{TaskID: "old", Subscription: "student", PeriodID: "2026-02", Cost: 900, RecordedAt: march.AddDate(0, -1, 0)},
		{TaskID: "a", Subscription: "student", PeriodID: "2026-03", Cost: 400, RecordedAt: march.Add(-time.Hour)},
		{TaskID: "b", Subscription: "student", PeriodID: "2026-03", Cost: 700, RecordedAt: march.Add(-time.Minute)},
	}}
	l := newTestLedger(store)

	if err := l.Load(context.Background()); err != nil {
		t.Fatalf("Load: %v", err)
	}

	ok, p := l.WithinCap("student")
	if ok || p.Consumed != 1100 {
		t.Errorf("after load within=%v consumed=%v, want false/1100", ok, p.Consumed)
	}
	if _, err := l.RecordSpend(context.Background(), Charge{TaskID: "a", Subscription: "student"}, 1); !errors.Is(err, ErrDuplicateSpend) {
		t.Errorf("loaded task id accepted again: %v", err)
	}
}

func TestReport_Recommendations(t *testing.T) {
	l := newTestLedger(nil)
	ctx := context.Background()
	_, _ = l.RecordSpend(ctx, Charge{TaskID: "s", Subscription: "student"}, 600)
	_, _ = l.RecordSpend(ctx, Charge{TaskID: "p", Subscription: "pro"}, 4500)

	r := l.Report()
	if len(r.Entries) != 2 {
		t.Fatalf("entries = %+v", r.Entries)
	}
	joined := strings.Join(r.Recommendations, "\n")
	if !strings.Contains(joined, "student: 60% used, consider upgrading") {
		t.Errorf("missing upgrade recommendation: %q", joined)
	}
	if !strings.Contains(joined, "pro: high usage (90%)") {
		t.Errorf("missing high usage recommendation: %q", joined)
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"default", *DefaultConfig(), false},
		{"bad period", Config{Period: "weekly"}, true},
		{"negative cap", Config{Caps: map[string]float64{"pro": -1}}, true},
		{"warn out of range", Config{WarnPercent: 120}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestPeriodID(t *testing.T) {
	if got := PeriodID(PeriodDaily, march); got != "2026-03-14" {
		t.Errorf("daily = %s", got)
	}
	if got := PeriodStart(PeriodMonthly, march); !got.Equal(time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("monthly start = %v", got)
	}
}
