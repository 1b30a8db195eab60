package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/lim1712/orchestrator/internal/budget"
	"github.com/lim1712/orchestrator/internal/engine"
	"github.com/lim1712/orchestrator/internal/logging"
	"github.com/lim1712/orchestrator/internal/observer"
	"github.com/lim1712/orchestrator/internal/scheduler"
)

func newRunCmd() *cobra.Command {
	var paused bool

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the confirmation daemon",
		Long: `Poll the configured editor instances on the observer interval and confirm safe
dialogs until interrupted. Budget periods roll over on schedule. Send SIGUSR1
to pause or resume auto-confirm without stopping the daemon.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			st, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer func() { _ = st.Close() }()

			eng, cls, err := newEngine(ctx, cfg, st)
			if err != nil {
				return err
			}
			ledger, err := newLedger(ctx, cfg, st)
			if err != nil {
				return err
			}
			if paused {
				eng.Pause()
			}

			toggles := make(chan os.Signal, 1)
			notifyPauseToggle(toggles)
			defer signal.Stop(toggles)
			go watchPauseToggle(ctx, eng, toggles)

			if cfg.Rules.Path != "" && cfg.Rules.Watch {
				if err := cls.Watch(ctx, cfg.Rules.Path); err != nil {
					logging.WithComponent("classifier").Warn("Rule hot reload disabled", slog.String("error", err.Error()))
				}
			}

			sched := scheduler.NewScheduler(time.Local,
				scheduler.Job{Name: "poll", Spec: scheduler.Every(cfg.Observer.Interval), Run: pollJob(eng)},
				scheduler.Job{Name: "rollover", Spec: rolloverSpec(cfg.Budget.Period), Run: rolloverJob(ledger)},
			)
			if err := sched.Start(ctx); err != nil {
				return err
			}
			// close periods that ended while the daemon was down
			if err := sched.RunNow(ctx, "rollover"); err != nil {
				return err
			}

			log := logging.WithComponent("daemon")
			log.Info("Orchestrator started",
				slog.Int("instances", len(eng.Status().Instances)),
				slog.Duration("interval", cfg.Observer.Interval),
				slog.Bool("paused", eng.Paused()),
				slog.Time("next_rollover", sched.NextRun("rollover")),
				slog.String("data", st.Path()),
			)

			<-ctx.Done()
			for _, job := range sched.Status() {
				log.Debug("Job status",
					slog.String("job", job.Name),
					slog.String("schedule", job.Schedule),
					slog.Time("last_run", job.LastRun),
				)
			}
			sched.Stop()

			status := eng.Status()
			log.Info("Orchestrator stopped",
				slog.Int64("cycles", status.Cycles),
				slog.Int64("confirmations", status.Confirmations),
			)
			return nil
		},
	}

	cmd.Flags().BoolVar(&paused, "paused", false, "Start with auto-confirm paused")

	return cmd
}

// watchPauseToggle flips auto-confirm once per received signal until ctx ends.
func watchPauseToggle(ctx context.Context, eng *engine.Engine, sigs <-chan os.Signal) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-sigs:
			togglePause(eng)
		}
	}
}

// togglePause reports whether the engine is paused afterwards. The engine
// logs the transition.
func togglePause(eng *engine.Engine) bool {
	if eng.Paused() {
		eng.Resume()
		return false
	}
	eng.Pause()
	return true
}

func pollJob(eng *engine.Engine) func(ctx context.Context) {
	return func(ctx context.Context) {
		events, err := eng.PollOnce(ctx)
		if err != nil {
			if errors.Is(err, observer.ErrObservation) || errors.Is(err, context.Canceled) {
				// already logged by the engine, or shutting down
				return
			}
			logging.WithComponent("daemon").Error("Poll cycle failed", slog.String("error", err.Error()))
			return
		}
		for _, e := range events {
			logging.WithInstance(e.InstanceID).Debug("Event",
				slog.String("action", string(e.Action)),
				slog.String("title", e.Title),
			)
		}
	}
}

func rolloverSpec(kind budget.PeriodKind) string {
	if kind == budget.PeriodDaily {
		return "@daily"
	}
	return "@monthly"
}

func rolloverJob(ledger *budget.Ledger) func(ctx context.Context) {
	return func(context.Context) {
		if closed := ledger.Rollover(); len(closed) > 0 {
			logging.WithComponent("daemon").Debug("Budget rollover", slog.Int("closed", len(closed)))
		}
	}
}
