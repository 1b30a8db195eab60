// Package observer snapshots live editor windows each poll cycle and
// attributes them to registered instances.
package observer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/lim1712/orchestrator/internal/logging"
	"github.com/lim1712/orchestrator/internal/registry"
)

// ErrObservation marks a cycle whose enumeration failed.
var ErrObservation = errors.New("window enumeration failed")

// notRespondingMarker is appended to the title of hung windows on Windows.
const notRespondingMarker = "(not responding)"

// Window is one tuple returned by the enumeration capability.
type Window struct {
	Ref        string `json:"ref"` // opaque handle understood by the dispatcher
	Title      string `json:"title"`
	Executable string `json:"exe"`
	WorkDir    string `json:"cwd"`
	Foreground bool   `json:"foreground"`
}

// Enumerator lists live top-level windows.
type Enumerator interface {
	Enumerate(ctx context.Context) ([]Window, error)
}

// Snapshot is a window captured in one cycle. InstanceID is empty when the
// window could not be attributed.
type Snapshot struct {
	InstanceID string
	Ref        string
	Title      string
	Foreground bool
	CapturedAt time.Time
}

// Cycle is the output of one observation.
type Cycle struct {
	At        time.Time
	Snapshots []Snapshot
	Degraded  bool
	Err       error
}

// ByInstance groups attributed snapshots by instance ID and returns the
// unattributed ones separately.
func (c Cycle) ByInstance() (map[string][]Snapshot, []Snapshot) {
	grouped := make(map[string][]Snapshot)
	var unmatched []Snapshot
	for _, s := range c.Snapshots {
		if s.InstanceID == "" {
			unmatched = append(unmatched, s)
			continue
		}
		grouped[s.InstanceID] = append(grouped[s.InstanceID], s)
	}
	return grouped, unmatched
}

// Config holds observer settings.
type Config struct {
	Interval time.Duration `yaml:"interval"`
	Command  []string      `yaml:"command"` // enumeration helper, prints JSON lines
	Timeout  time.Duration `yaml:"timeout"`
}

// DefaultConfig returns a one second poll interval.
func DefaultConfig() *Config {
	return &Config{
		Interval: time.Second,
		Timeout:  5 * time.Second,
	}
}

// Observer matches enumerated windows against the registry. It is the only
// writer of instance liveness.
type Observer struct {
	registry *registry.Registry
	enum     Enumerator
	now      func() time.Time
	log      *slog.Logger
}

// New creates an Observer.
func New(reg *registry.Registry, enum Enumerator) *Observer {
	return &Observer{
		registry: reg,
		enum:     enum,
		now:      time.Now,
		log:      logging.WithComponent("observer"),
	}
}

// Observe runs one observation. It never returns an error: enumeration
// failures produce a degraded cycle with no snapshots and liveness untouched.
func (o *Observer) Observe(ctx context.Context) Cycle {
	at := o.now()

	windows, err := o.enum.Enumerate(ctx)
	if err != nil {
		o.log.Warn("degraded observation cycle", slog.String("error", err.Error()))
		return Cycle{At: at, Degraded: true, Err: fmt.Errorf("%w: %v", ErrObservation, err)}
	}

	instances := o.registry.List()
	cycle := Cycle{At: at, Snapshots: make([]Snapshot, 0, len(windows))}
	seen := make(map[string]bool, len(instances))
	hung := make(map[string]bool)

	for _, w := range windows {
		id := match(instances, w)
		cycle.Snapshots = append(cycle.Snapshots, Snapshot{
			InstanceID: id,
			Ref:        w.Ref,
			Title:      w.Title,
			Foreground: w.Foreground,
			CapturedAt: at,
		})
		if id == "" {
			continue
		}
		seen[id] = true
		if strings.Contains(strings.ToLower(w.Title), notRespondingMarker) {
			hung[id] = true
		}
	}

	for _, inst := range instances {
		next := nextLiveness(inst.Liveness, seen[inst.ID], hung[inst.ID])
		var seenAt time.Time
		if seen[inst.ID] {
			seenAt = at
		}
		if next != inst.Liveness {
			o.log.Info("instance liveness changed",
				slog.String("instance_id", inst.ID),
				slog.String("from", string(inst.Liveness)),
				slog.String("to", string(next)),
			)
		}
		if err := o.registry.UpdateLiveness(inst.ID, next, seenAt); err != nil {
			o.log.Error("failed to update liveness", slog.String("instance_id", inst.ID), slog.String("error", err.Error()))
		}
	}

	return cycle
}

func nextLiveness(prev registry.Liveness, seen, hung bool) registry.Liveness {
	switch {
	case !seen:
		return registry.LivenessStopped
	case hung:
		return registry.LivenessUnresponsive
	case prev == registry.LivenessUnknown || prev == registry.LivenessStopped:
		return registry.LivenessStarting
	default:
		return registry.LivenessRunning
	}
}

// match attributes a window: exact executable path first, then working
// directory containment under an instance root, else unmatched.
func match(instances []registry.Instance, w Window) string {
	if w.Executable != "" {
		exe := filepath.Clean(w.Executable)
		for _, inst := range instances {
			if inst.Executable != "" && samePath(inst.Executable, exe) {
				return inst.ID
			}
		}
	}
	if w.WorkDir != "" {
		dir := filepath.Clean(w.WorkDir)
		best, bestLen := "", -1
		for _, inst := range instances {
			// the deepest root wins when roots are nested
			if within(inst.Root, dir) && len(inst.Root) > bestLen {
				best, bestLen = inst.ID, len(inst.Root)
			}
		}
		return best
	}
	return ""
}

func samePath(a, b string) bool {
	if runtime.GOOS == "windows" {
		return strings.EqualFold(a, b)
	}
	return a == b
}

func within(root, dir string) bool {
	if root == "" {
		return false
	}
	if runtime.GOOS == "windows" {
		root, dir = strings.ToLower(root), strings.ToLower(dir)
	}
	rel, err := filepath.Rel(root, dir)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}
