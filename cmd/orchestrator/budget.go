package main

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/lim1712/orchestrator/internal/budget"
)

func newBudgetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "budget",
		Short: "View subscription budgets",
		Long:  `View current-period consumption against each subscription's cap.`,
	}

	cmd.AddCommand(
		newBudgetStatusCmd(),
		newBudgetReportCmd(),
	)

	return cmd
}

func newBudgetStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show current budget status",
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

			ledger, err := newLedger(cmd.Context(), cfg, st)
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			_, _ = fmt.Fprintln(w)
			_, _ = fmt.Fprintln(w, titleStyle.Render("Budget Status"))
			_, _ = fmt.Fprintln(w, divider)
			_, _ = fmt.Fprintln(w)

			if !cfg.Budget.Enabled {
				_, _ = fmt.Fprintln(w, warnStyle.Render("   Budget controls are DISABLED"))
				_, _ = fmt.Fprintln(w)
				_, _ = fmt.Fprintln(w, "   Enable in config.yaml:")
				_, _ = fmt.Fprintln(w, "   budget:")
				_, _ = fmt.Fprintln(w, "     enabled: true")
				_, _ = fmt.Fprintln(w)
			}

			printPeriods(w, ledger.Status(), cfg.Budget.WarnPercent)
			_, _ = fmt.Fprintln(w)
			_, _ = fmt.Fprintln(w, divider)
			kind := periodKind(cfg.Budget)
			_, _ = fmt.Fprintf(w, "Period: %s (%s)\n", budget.PeriodID(kind, time.Now()), kind)
			return nil
		},
	}
}

func newBudgetReportCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "report",
		Short: "Show a usage report with recommendations",
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

			ledger, err := newLedger(cmd.Context(), cfg, st)
			if err != nil {
				return err
			}
			report := ledger.Report()

			w := cmd.OutOrStdout()
			if jsonOutput {
				enc := json.NewEncoder(w)
				enc.SetIndent("", "  ")
				return enc.Encode(report)
			}

			_, _ = fmt.Fprintln(w)
			_, _ = fmt.Fprintln(w, titleStyle.Render("Usage Report"))
			_, _ = fmt.Fprintln(w, divider)
			if len(report.Entries) == 0 {
				_, _ = fmt.Fprintln(w, dimStyle.Render("No spend recorded this period."))
			}
			for _, e := range report.Entries {
				_, _ = fmt.Fprintf(w, "%-10s %s  consumed %s  remaining %s\n",
					e.Subscription,
					e.PeriodID,
					percentStyle(e.Percent, cfg.Budget.WarnPercent).Render(formatUnits(e.Consumed)),
					formatUnits(e.Remaining),
				)
			}
			if len(report.Recommendations) > 0 {
				_, _ = fmt.Fprintln(w)
				_, _ = fmt.Fprintln(w, "Recommendations:")
				for _, r := range report.Recommendations {
					_, _ = fmt.Fprintf(w, "   - %s\n", r)
				}
			}
			_, _ = fmt.Fprintln(w)
			_, _ = fmt.Fprintln(w, dimStyle.Render("Generated "+report.GeneratedAt.Format("2006-01-02 15:04:05")))
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

func printPeriods(w io.Writer, periods []budget.Period, warn float64) {
	for _, p := range periods {
		pct := p.Percent()
		capText := formatUnits(p.Cap)
		if p.Cap <= 0 {
			capText = "(uncapped)"
		}
		_, _ = fmt.Fprintf(w, "%-10s %s / %s %s %s\n",
			p.Subscription,
			formatUnits(p.Consumed),
			capText,
			renderProgressBar(pct, 25),
			percentStyle(pct, warn).Render(fmt.Sprintf("%.0f%%", pct)),
		)
	}
}

func periodKind(cfg *budget.Config) budget.PeriodKind {
	if cfg.Period == "" {
		return budget.PeriodMonthly
	}
	return cfg.Period
}
