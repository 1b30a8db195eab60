package main

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/lim1712/orchestrator/internal/confirm"
	"github.com/lim1712/orchestrator/internal/engine"
	"github.com/lim1712/orchestrator/internal/observer"
)

func newPollCmd() *cobra.Command {
	var dryRun bool

	cmd := &cobra.Command{
		Use:   "poll",
		Short: "Run a single poll cycle and show the result",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			st, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer func() { _ = st.Close() }()

			ctx := cmd.Context()
			eng, _, err := newEngine(ctx, cfg, st)
			if err != nil {
				return err
			}
			if dryRun {
				eng.Pause()
			}

			events, err := eng.PollOnce(ctx)
			out := cmd.OutOrStdout()
			printEngineStatus(out, eng.Status())
			printEvents(out, events)
			if errors.Is(err, observer.ErrObservation) {
				return fmt.Errorf("cycle degraded: %w", err)
			}
			return err
		},
	}

	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Classify and log, but do not confirm anything")

	return cmd
}

func printEngineStatus(w io.Writer, st engine.Status) {
	_, _ = fmt.Fprintln(w)
	_, _ = fmt.Fprintln(w, titleStyle.Render("Instances"))
	_, _ = fmt.Fprintln(w, divider)
	for _, inst := range st.Instances {
		label := inst.ID
		if inst.Label != "" {
			label = fmt.Sprintf("%s (%s)", inst.ID, inst.Label)
		}
		_, _ = fmt.Fprintf(w, "%-28s %s  %-16s %d window(s)  seen %s\n",
			label,
			livenessStyle(inst.Liveness).Render(fmt.Sprintf("%-12s", inst.Liveness)),
			inst.State,
			inst.Windows,
			formatAge(inst.LastSeen),
		)
	}
	_, _ = fmt.Fprintln(w)
	if st.Paused {
		_, _ = fmt.Fprintln(w, warnStyle.Render("Auto-confirm is paused"))
	}
	if st.Degraded {
		_, _ = fmt.Fprintln(w, errStyle.Render("Last cycle was degraded"))
	}
}

func printEvents(w io.Writer, events []confirm.Event) {
	if len(events) == 0 {
		_, _ = fmt.Fprintln(w, dimStyle.Render("No events."))
		return
	}
	for _, e := range events {
		line := fmt.Sprintf("%s  %-4s %s %s",
			e.Timestamp.Local().Format("2006-01-02 15:04:05"),
			e.InstanceID,
			actionStyle(e.Action).Render(fmt.Sprintf("%-16s", e.Action)),
			e.Title,
		)
		if e.RuleID != "" {
			line += dimStyle.Render(" [" + e.RuleID + "]")
		}
		if e.Error != "" {
			line += " " + errStyle.Render(e.Error)
		}
		_, _ = fmt.Fprintln(w, line)
	}
}
