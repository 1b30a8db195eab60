package observer

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/lim1712/orchestrator/internal/registry"
)

type fixture struct {
	reg    *registry.Registry
	rootA  string
	rootB  string
	nested string
	exeA   string
	enum   *StaticEnumerator
	obs    *Observer
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	base := t.TempDir()
	f := &fixture{
		reg:   registry.New(),
		rootA: filepath.Join(base, "VS_lim1712"),
		rootB: filepath.Join(base, "VS_helper_Two"),
		exeA:  filepath.Join(base, "VS_lim1712", "Code.exe"),
		enum:  &StaticEnumerator{},
	}
	f.nested = filepath.Join(f.rootB, "nested")
	for _, dir := range []string{f.rootA, f.rootB, f.nested} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			t.Fatal(err)
		}
	}
	for _, cfg := range []registry.InstanceConfig{
		{ID: "A", Root: f.rootA, Executable: f.exeA},
		{ID: "B", Root: f.rootB},
		{ID: "N", Root: f.nested},
	} {
		if _, err := f.reg.Register(cfg); err != nil {
			t.Fatal(err)
		}
	}
	f.obs = New(f.reg, f.enum)
	return f
}

func liveness(t *testing.T, reg *registry.Registry, id string) registry.Liveness {
	t.Helper()
	for _, inst := range reg.List() {
		if inst.ID == id {
			return inst.Liveness
		}
	}
	t.Fatalf("instance %s missing", id)
	return ""
}

func TestObserve_MatchingPolicy(t *testing.T) {
	f := newFixture(t)
	f.enum.Windows = []Window{
		{Ref: "1", Title: "by exe", Executable: f.exeA, WorkDir: f.rootB},
		{Ref: "2", Title: "by cwd", WorkDir: filepath.Join(f.rootB, "src")},
		{Ref: "3", Title: "nested cwd", WorkDir: filepath.Join(f.nested, "x")},
		{Ref: "4", Title: "stranger", Executable: "/usr/bin/other", WorkDir: "/elsewhere"},
	}

	cycle := f.obs.Observe(context.Background())
	if cycle.Degraded {
		t.Fatalf("unexpected degraded cycle: %v", cycle.Err)
	}

	want := map[string]string{"1": "A", "2": "B", "3": "N", "4": ""}
	for _, s := range cycle.Snapshots {
		if s.InstanceID != want[s.Ref] {
			t.Errorf("window %s attributed to %q, want %q", s.Ref, s.InstanceID, want[s.Ref])
		}
		if !s.CapturedAt.Equal(cycle.At) {
			t.Errorf("snapshot timestamp %v differs from cycle %v", s.CapturedAt, cycle.At)
		}
	}

	grouped, unmatched := cycle.ByInstance()
	if len(unmatched) != 1 || unmatched[0].Ref != "4" {
		t.Errorf("unmatched = %+v, want window 4", unmatched)
	}
	if len(grouped["A"]) != 1 || len(grouped["B"]) != 1 || len(grouped["N"]) != 1 {
		t.Errorf("grouping wrong: %+v", grouped)
	}
}

func TestObserve_LivenessTransitions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.enum.Windows = []Window{{Ref: "1", Title: "editor", Executable: f.exeA}}
	f.obs.Observe(ctx)
	if got := liveness(t, f.reg, "A"); got != registry.LivenessStarting {
		t.Errorf("first sighting = %s, want starting", got)
	}
	if got := liveness(t, f.reg, "B"); got != registry.LivenessStopped {
		t.Errorf("unseen instance = %s, want stopped", got)
	}

	f.obs.Observe(ctx)
	if got := liveness(t, f.reg, "A"); got != registry.LivenessRunning {
		t.Errorf("second sighting = %s, want running", got)
	}

	f.enum.Windows = []Window{{Ref: "1", Title: "main.go - Visual Studio Code (Not Responding)", Executable: f.exeA}}
	f.obs.Observe(ctx)
	if got := liveness(t, f.reg, "A"); got != registry.LivenessUnresponsive {
		t.Errorf("hung window = %s, want unresponsive", got)
	}

	f.enum.Windows = nil
	f.obs.Observe(ctx)
	if got := liveness(t, f.reg, "A"); got != registry.LivenessStopped {
		t.Errorf("vanished = %s, want stopped", got)
	}
}

func TestObserve_DegradedCycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.enum.Windows = []Window{{Ref: "1", Executable: f.exeA}}
	f.obs.Observe(ctx)

	f.enum.Err = errors.New("access denied")
	cycle := f.obs.Observe(ctx)

	if !cycle.Degraded {
		t.Fatal("expected degraded cycle")
	}
	if !errors.Is(cycle.Err, ErrObservation) {
		t.Errorf("cycle error = %v, want ErrObservation", cycle.Err)
	}
	if len(cycle.Snapshots) != 0 {
		t.Errorf("degraded cycle should have no snapshots, got %d", len(cycle.Snapshots))
	}
	if got := liveness(t, f.reg, "A"); got != registry.LivenessStarting {
		t.Errorf("degraded cycle changed liveness to %s", got)
	}
}

func TestWithin(t *testing.T) {
	root := filepath.FromSlash("/work/project")
	tests := []struct {
		dir  string
		want bool
	}{
		{"/work/project", true},
		{"/work/project/src/x", true},
		{"/work/project-other", false},
		{"/work", false},
		{"relative/dir", false},
	}
	for _, tt := range tests {
		if got := within(root, filepath.FromSlash(tt.dir)); got != tt.want {
			t.Errorf("within(%s, %s) = %v, want %v", root, tt.dir, got, tt.want)
		}
	}
}
