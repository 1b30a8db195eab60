package confirm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/lim1712/orchestrator/internal/classifier"
	"github.com/lim1712/orchestrator/internal/logging"
	"github.com/lim1712/orchestrator/internal/registry"
)

// record is the whole per-instance memory. Resetting an instance replaces it.
type record struct {
	mu sync.Mutex

	state         State
	cooldownUntil time.Time
	confirmed     map[string]bool
	attempts      map[string]int
	abandoned     map[string]bool
	announced     map[string]bool // skip events already logged for dialogs still on screen
}

func newRecord() *record {
	return &record{
		state:     StateIdle,
		confirmed: make(map[string]bool),
		attempts:  make(map[string]int),
		abandoned: make(map[string]bool),
		announced: make(map[string]bool),
	}
}

// Machine holds one record per instance ID.
type Machine struct {
	cfg        Config
	dispatcher Dispatcher

	mu      sync.Mutex
	records map[string]*record

	confirmations atomic.Int64

	now   func() time.Time
	newID func() string
	log   *slog.Logger
}

// New creates a Machine. A nil cfg uses DefaultConfig.
func New(cfg *Config, d Dispatcher) *Machine {
	c := *DefaultConfig()
	if cfg != nil {
		if cfg.Cooldown > 0 {
			c.Cooldown = cfg.Cooldown
		}
		if cfg.MaxRetries > 0 {
			c.MaxRetries = cfg.MaxRetries
		}
		if cfg.DispatchTimeout > 0 {
			c.DispatchTimeout = cfg.DispatchTimeout
		}
		c.Command = cfg.Command
	}
	return &Machine{
		cfg:        c,
		dispatcher: d,
		records:    make(map[string]*record),
		now:        time.Now,
		newID:      uuid.NewString,
		log:        logging.WithComponent("confirm"),
	}
}

func (m *Machine) record(id string) *record {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[id]
	if !ok {
		rec = newRecord()
		m.records[id] = rec
	}
	return rec
}

// State returns the current state of an instance.
func (m *Machine) State(id string) State {
	rec := m.record(id)
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return rec.state
}

// Confirmations returns the number of confirms sent since start.
func (m *Machine) Confirmations() int64 {
	return m.confirmations.Load()
}

// Remember seeds an instance with fingerprints resolved by an earlier run,
// so a restart does not confirm or retry the same dialog again.
func (m *Machine) Remember(id string, confirmed, abandoned []string) {
	rec := m.record(id)
	rec.mu.Lock()
	defer rec.mu.Unlock()
	for _, fp := range confirmed {
		rec.confirmed[fp] = true
	}
	for _, fp := range abandoned {
		rec.abandoned[fp] = true
	}
}

// Reset returns an instance to idle and forgets its cooldown, fingerprints
// and retry counters.
func (m *Machine) Reset(id string) {
	m.mu.Lock()
	old, ok := m.records[id]
	m.records[id] = newRecord()
	m.mu.Unlock()

	if ok {
		// wait out any step still holding the old record
		old.mu.Lock()
		old.mu.Unlock()
	}
}

// Step consumes one poll cycle for one instance and returns the events it
// produced. Steps for the same instance are serialized; a dispatch started
// here always resolves before Step returns.
func (m *Machine) Step(ctx context.Context, instanceID string, liveness registry.Liveness, dialogs []Dialog) []Event {
	if liveness == registry.LivenessStopped {
		m.Reset(instanceID)
		return nil
	}

	rec := m.record(instanceID)
	rec.mu.Lock()
	defer rec.mu.Unlock()

	log := m.log.With(slog.String("instance_id", instanceID))

	var blocking, safe []Dialog
	for _, d := range dialogs {
		switch d.Classification.Verdict {
		case classifier.VerdictUnsafe, classifier.VerdictUnknown:
			blocking = append(blocking, d)
		case classifier.VerdictSafe:
			safe = append(safe, d)
		}
	}

	events := m.announceBlocking(rec, instanceID, blocking)
	if len(blocking) > 0 {
		if rec.state != StateIdle {
			log.Info("dialog needs a human, returning to idle", slog.String("from", string(rec.state)))
		}
		rec.state = StateIdle
		rec.cooldownUntil = time.Time{}
		return events
	}

	if rec.state == StateCooldown {
		if m.now().Before(rec.cooldownUntil) {
			return events
		}
		rec.state = StateIdle
	}

	if len(safe) == 0 {
		return events
	}

	d := pick(safe)
	fp := Fingerprint(instanceID, d.Classification.RuleID, d.Classification.Normalized)
	if rec.confirmed[fp] || rec.abandoned[fp] {
		return events
	}

	rec.state = StateDialogDetected
	log.Info("safe dialog detected",
		slog.String("rule", d.Classification.RuleID),
		slog.String("title", d.Title),
		slog.String("fingerprint", fp),
	)

	rec.state = StateActionPending
	err := m.dispatch(ctx, d.Ref)

	ev := Event{
		ID:          m.newID(),
		InstanceID:  instanceID,
		Timestamp:   m.now(),
		Fingerprint: fp,
		RuleID:      d.Classification.RuleID,
		Title:       d.Title,
	}

	if err == nil {
		rec.state = StateActionSent
		rec.confirmed[fp] = true
		delete(rec.attempts, fp)
		m.confirmations.Add(1)

		ev.Action = ActionConfirmed
		ev.Attempt = 1
		events = append(events, ev)
		log.Info("dialog confirmed", slog.String("fingerprint", fp))

		rec.state = StateCooldown
		rec.cooldownUntil = ev.Timestamp.Add(m.cfg.Cooldown)
		return events
	}

	rec.attempts[fp]++
	ev.Action = ActionError
	ev.Attempt = rec.attempts[fp]
	ev.Error = err.Error()
	events = append(events, ev)
	log.Warn("confirm dispatch failed",
		slog.String("fingerprint", fp),
		slog.Int("attempt", ev.Attempt),
		slog.String("error", err.Error()),
	)

	if rec.attempts[fp] >= m.cfg.MaxRetries {
		rec.abandoned[fp] = true
		unresolved := ev
		unresolved.ID = m.newID()
		unresolved.Action = ActionUnresolved
		events = append(events, unresolved)
		log.Error("dialog left unresolved after retries", slog.String("fingerprint", fp), slog.Int("attempts", ev.Attempt))
	}

	rec.state = StateIdle
	return events
}

// announceBlocking logs one skip event per unsafe or unknown dialog
// occurrence. An occurrence ends when the dialog is no longer visible.
func (m *Machine) announceBlocking(rec *record, instanceID string, blocking []Dialog) []Event {
	visible := make(map[string]bool, len(blocking))
	var events []Event

	for _, d := range blocking {
		fp := Fingerprint(instanceID, d.Classification.RuleID, d.Classification.Normalized)
		visible[fp] = true
		if rec.announced[fp] {
			continue
		}
		rec.announced[fp] = true

		action := ActionSkippedUnknown
		if d.Classification.Verdict == classifier.VerdictUnsafe {
			action = ActionSkippedUnsafe
		}
		events = append(events, Event{
			ID:          m.newID(),
			InstanceID:  instanceID,
			Timestamp:   m.now(),
			Action:      action,
			Fingerprint: fp,
			RuleID:      d.Classification.RuleID,
			Title:       d.Title,
		})
		m.log.Info("dialog skipped",
			slog.String("instance_id", instanceID),
			slog.String("action", string(action)),
			slog.String("rule", d.Classification.RuleID),
			slog.String("title", d.Title),
		)
	}

	for fp := range rec.announced {
		if !visible[fp] {
			delete(rec.announced, fp)
		}
	}
	return events
}

// dispatch calls the dispatcher with a bounded timeout. Cycle cancellation
// does not interrupt a dispatch in flight.
func (m *Machine) dispatch(ctx context.Context, ref string) error {
	if m.dispatcher == nil {
		return fmt.Errorf("%w: no dispatcher configured", ErrDispatchFailure)
	}

	dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.cfg.DispatchTimeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("dispatcher panic: %v", r)
			}
		}()
		done <- m.dispatcher.SendConfirm(dctx, ref)
	}()

	select {
	case err := <-done:
		if err == nil {
			return nil
		}
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(dctx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("%w after %s: %v", ErrDispatchTimeout, m.cfg.DispatchTimeout, err)
		}
		return fmt.Errorf("%w: %v", ErrDispatchFailure, err)
	case <-dctx.Done():
		return fmt.Errorf("%w after %s", ErrDispatchTimeout, m.cfg.DispatchTimeout)
	}
}

// pick prefers the foreground dialog, then the first one listed.
func pick(dialogs []Dialog) Dialog {
	for _, d := range dialogs {
		if d.Foreground {
			return d
		}
	}
	return dialogs[0]
}
