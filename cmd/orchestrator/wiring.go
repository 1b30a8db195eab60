package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/lim1712/orchestrator/internal/agents"
	"github.com/lim1712/orchestrator/internal/budget"
	"github.com/lim1712/orchestrator/internal/classifier"
	"github.com/lim1712/orchestrator/internal/config"
	"github.com/lim1712/orchestrator/internal/confirm"
	"github.com/lim1712/orchestrator/internal/engine"
	"github.com/lim1712/orchestrator/internal/logging"
	"github.com/lim1712/orchestrator/internal/observer"
	"github.com/lim1712/orchestrator/internal/registry"
	"github.com/lim1712/orchestrator/internal/store"
)

func openStore(cfg *config.Config) (*store.Store, error) {
	st, err := store.NewStore(cfg.Store.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}
	return st, nil
}

func loadRules(cfg *config.Config) (classifier.RuleSet, error) {
	if cfg.Rules == nil || cfg.Rules.Path == "" {
		return classifier.DefaultRuleSet(), nil
	}
	return classifier.LoadRuleSet(cfg.Rules.Path)
}

// newLedger creates the budget ledger and replays persisted spend.
func newLedger(ctx context.Context, cfg *config.Config, st *store.Store) (*budget.Ledger, error) {
	ledger := budget.NewLedger(cfg.Budget, st)
	ledger.OnAlert(func(alertType, message, severity string) {
		log := logging.WithComponent("budget")
		attrs := []any{slog.String("alert", alertType), slog.String("severity", severity)}
		if severity == "critical" {
			log.Error(message, attrs...)
			return
		}
		log.Warn(message, attrs...)
	})
	if err := ledger.Load(ctx); err != nil {
		return nil, fmt.Errorf("failed to load spend history: %w", err)
	}
	return ledger, nil
}

func newSelector(cfg *config.Config, ledger *budget.Ledger, st *store.Store) (*agents.Selector, error) {
	return agents.NewSelector(cfg.Agents, ledger, st)
}

// rememberResolved seeds the machine with every fingerprint already confirmed
// or abandoned in the store.
func rememberResolved(ctx context.Context, st *store.Store, m *confirm.Machine) error {
	confirmed := make(map[string][]string)
	abandoned := make(map[string][]string)
	for action, into := range map[confirm.Action]map[string][]string{
		confirm.ActionConfirmed:  confirmed,
		confirm.ActionUnresolved: abandoned,
	} {
		events, err := st.ListEvents(ctx, store.EventQuery{Action: action})
		if err != nil {
			return fmt.Errorf("failed to load %s events: %w", action, err)
		}
		for _, ev := range events {
			into[ev.InstanceID] = append(into[ev.InstanceID], ev.Fingerprint)
		}
	}

	ids := make(map[string]bool)
	for id := range confirmed {
		ids[id] = true
	}
	for id := range abandoned {
		ids[id] = true
	}
	for id := range ids {
		m.Remember(id, confirmed[id], abandoned[id])
	}
	if len(ids) > 0 {
		logging.WithComponent("confirm").Info("Restored resolved dialogs",
			slog.Int("instances", len(ids)))
	}
	return nil
}

// newEngine builds the registry, classifier and confirmation machine behind
// one Engine. Instances that fail to register are logged and left out.
func newEngine(ctx context.Context, cfg *config.Config, st *store.Store) (*engine.Engine, *classifier.Classifier, error) {
	if len(cfg.Observer.Command) == 0 {
		return nil, nil, errors.New("observer.command is required")
	}
	if len(cfg.Confirm.Command) == 0 {
		return nil, nil, errors.New("confirm.command is required")
	}

	reg := registry.New()
	for _, ic := range cfg.Instances {
		if _, err := reg.Register(ic); err != nil {
			logging.WithInstance(ic.ID).Error("Instance not registered", slog.String("error", err.Error()))
		}
	}
	if len(reg.List()) == 0 {
		return nil, nil, errors.New("no instance could be registered")
	}

	rules, err := loadRules(cfg)
	if err != nil {
		return nil, nil, err
	}
	cls, err := classifier.New(rules)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid rule set: %w", err)
	}

	enum, err := observer.NewCommandEnumerator(cfg.Observer.Command, cfg.Observer.Timeout)
	if err != nil {
		return nil, nil, err
	}
	dispatcher, err := confirm.NewCommandDispatcher(cfg.Confirm.Command)
	if err != nil {
		return nil, nil, err
	}

	machine := confirm.New(cfg.Confirm, dispatcher)
	if err := rememberResolved(ctx, st, machine); err != nil {
		return nil, nil, err
	}

	eng := engine.New(
		reg,
		observer.New(reg, enum),
		cls,
		machine,
		st,
		engine.Options{Concurrency: cfg.Engine.Concurrency},
	)
	return eng, cls, nil
}
