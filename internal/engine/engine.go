// Package engine runs one poll cycle at a time: observe, classify, step
// each instance's confirmation machine, persist the events.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/lim1712/orchestrator/internal/classifier"
	"github.com/lim1712/orchestrator/internal/confirm"
	"github.com/lim1712/orchestrator/internal/logging"
	"github.com/lim1712/orchestrator/internal/observer"
	"github.com/lim1712/orchestrator/internal/registry"
)

// EventSink persists confirmation events.
type EventSink interface {
	AppendEvents(ctx context.Context, events []confirm.Event) error
}

// Options tunes the engine.
type Options struct {
	// Concurrency bounds how many instances are stepped at once.
	Concurrency int
}

// Engine owns the poll cycle.
type Engine struct {
	registry   *registry.Registry
	observer   *observer.Observer
	classifier *classifier.Classifier
	machine    *confirm.Machine
	sink       EventSink
	limit      int
	step       func(ctx context.Context, id string, l registry.Liveness, dialogs []confirm.Dialog) []confirm.Event

	paused atomic.Bool
	cycles atomic.Int64

	mu        sync.Mutex
	lastCycle time.Time
	degraded  bool
	windows   map[string]int

	log *slog.Logger
}

// New creates an Engine. sink may be nil.
func New(reg *registry.Registry, obs *observer.Observer, cls *classifier.Classifier, m *confirm.Machine, sink EventSink, opts Options) *Engine {
	limit := opts.Concurrency
	if limit <= 0 {
		limit = 4
	}
	return &Engine{
		registry:   reg,
		observer:   obs,
		classifier: cls,
		machine:    m,
		sink:       sink,
		limit:      limit,
		step:       m.Step,
		windows:    make(map[string]int),
		log:        logging.WithComponent("engine"),
	}
}

// PollOnce runs a single cycle and returns the events it produced, oldest
// first. A degraded observation returns an error wrapping
// observer.ErrObservation and no events. Cancellation skips instances not
// yet started; dispatches already running finish first.
func (e *Engine) PollOnce(ctx context.Context) ([]confirm.Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	n := e.cycles.Add(1)
	ctx = logging.ContextWithCycleID(ctx, fmt.Sprintf("%d", n))
	ctx = logging.ContextWithComponent(ctx, "engine")
	log := logging.WithContext(ctx)

	cycle := e.observer.Observe(ctx)
	if cycle.Degraded {
		e.recordCycle(cycle.At, true, nil)
		log.Warn("Observation failed, cycle degraded", slog.String("error", cycle.Err.Error()))
		return nil, cycle.Err
	}

	grouped, unmatched := cycle.ByInstance()
	e.logUnattributed(log, unmatched)

	paused := e.paused.Load()
	instances := e.registry.List()

	var (
		mu  sync.Mutex
		all []confirm.Event
		g   errgroup.Group
	)
	g.SetLimit(e.limit)

	for _, inst := range instances {
		if ctx.Err() != nil {
			break
		}
		snaps := grouped[inst.ID]
		g.Go(func() error {
			events := e.stepInstance(ctx, inst, snaps, paused)
			if len(events) > 0 {
				mu.Lock()
				all = append(all, events...)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	counts := make(map[string]int, len(instances))
	for _, inst := range instances {
		counts[inst.ID] = len(grouped[inst.ID])
	}
	e.recordCycle(cycle.At, false, counts)

	sort.SliceStable(all, func(i, j int) bool {
		if !all[i].Timestamp.Equal(all[j].Timestamp) {
			return all[i].Timestamp.Before(all[j].Timestamp)
		}
		return all[i].InstanceID < all[j].InstanceID
	})

	if len(all) > 0 && e.sink != nil {
		if err := e.sink.AppendEvents(context.WithoutCancel(ctx), all); err != nil {
			log.Error("Failed to persist events", slog.Int("events", len(all)), slog.String("error", err.Error()))
			return all, fmt.Errorf("persist events: %w", err)
		}
	}
	return all, ctx.Err()
}

// stepInstance classifies one instance's windows and steps its machine.
// A panic is contained to this instance.
func (e *Engine) stepInstance(ctx context.Context, inst registry.Instance, snaps []observer.Snapshot, paused bool) (events []confirm.Event) {
	ctx = logging.ContextWithInstanceID(ctx, inst.ID)
	log := logging.WithContext(ctx)
	defer func() {
		if r := recover(); r != nil {
			log.Error("Instance step panicked",
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())),
			)
			events = nil
		}
	}()

	if ctx.Err() != nil {
		return nil
	}

	dialogs := make([]confirm.Dialog, 0, len(snaps))
	for _, s := range snaps {
		c := e.classifier.Classify(s.Title)
		if c.Verdict == classifier.VerdictNone {
			continue
		}
		if paused && c.Verdict == classifier.VerdictSafe {
			continue
		}
		dialogs = append(dialogs, confirm.Dialog{
			Ref:            s.Ref,
			Title:          s.Title,
			Foreground:     s.Foreground,
			Classification: c,
		})
	}

	return e.step(ctx, inst.ID, inst.Liveness, dialogs)
}

func (e *Engine) logUnattributed(log *slog.Logger, unmatched []observer.Snapshot) {
	for _, s := range unmatched {
		c := e.classifier.Classify(s.Title)
		if c.Verdict == classifier.VerdictNone {
			continue
		}
		log.Info("Dialog outside any registered instance",
			slog.String("ref", s.Ref),
			slog.String("title", s.Title),
			slog.String("verdict", string(c.Verdict)),
		)
	}
}

func (e *Engine) recordCycle(at time.Time, degraded bool, windows map[string]int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.lastCycle = at
	e.degraded = degraded
	if windows != nil {
		e.windows = windows
	}
}

// Pause stops confirms from being sent. Observation and skip logging go on.
func (e *Engine) Pause() {
	if !e.paused.Swap(true) {
		e.log.Warn("Auto-confirm paused")
	}
}

// Resume re-enables confirms.
func (e *Engine) Resume() {
	if e.paused.Swap(false) {
		e.log.Info("Auto-confirm resumed")
	}
}

// Paused reports whether confirms are suspended.
func (e *Engine) Paused() bool {
	return e.paused.Load()
}

// InstanceStatus is one row of the status report.
type InstanceStatus struct {
	ID       string            `json:"id"`
	Label    string            `json:"label"`
	Liveness registry.Liveness `json:"liveness"`
	State    confirm.State     `json:"state"`
	Windows  int               `json:"windows"`
	LastSeen time.Time         `json:"last_seen"`
}

// Status is a point-in-time view of the engine.
type Status struct {
	Paused        bool             `json:"paused"`
	Cycles        int64            `json:"cycles"`
	LastCycle     time.Time        `json:"last_cycle"`
	Degraded      bool             `json:"degraded"`
	Confirmations int64            `json:"confirmations"`
	Instances     []InstanceStatus `json:"instances"`
}

// Status reports per-instance liveness, machine state and window count.
func (e *Engine) Status() Status {
	e.mu.Lock()
	st := Status{
		Paused:        e.paused.Load(),
		Cycles:        e.cycles.Load(),
		LastCycle:     e.lastCycle,
		Degraded:      e.degraded,
		Confirmations: e.machine.Confirmations(),
	}
	windows := e.windows
	e.mu.Unlock()

	for _, inst := range e.registry.List() {
		st.Instances = append(st.Instances, InstanceStatus{
			ID:       inst.ID,
			Label:    inst.Label,
			Liveness: inst.Liveness,
			State:    e.machine.State(inst.ID),
			Windows:  windows[inst.ID],
			LastSeen: inst.LastSeen,
		})
	}
	return st
}
