package main

import (
	"database/sql"
	"errors"
	"fmt"
	"math"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/lim1712/orchestrator/internal/budget"
)

func newSpendCmd() *cobra.Command {
	var subscription string

	cmd := &cobra.Command{
		Use:   "spend <task-id> <cost>",
		Short: "Record the actual cost of a finished task",
		Long: `Charge a task's cost to its subscription's current budget period. The task's
recorded decision supplies the subscription and tier. Each task can be charged once.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			taskID := args[0]
			cost, err := strconv.ParseFloat(args[1], 64)
			if err != nil {
				return fmt.Errorf("invalid cost %q: %w", args[1], err)
			}
			if math.IsNaN(cost) || math.IsInf(cost, 0) || cost < 0 {
				return fmt.Errorf("invalid cost %q: must be a finite, non-negative number", args[1])
			}

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
			ledger, err := newLedger(ctx, cfg, st)
			if err != nil {
				return err
			}

			charge := budget.Charge{TaskID: taskID, Subscription: subscription}
			d, err := st.GetDecision(ctx, taskID)
			switch {
			case err == nil:
				charge = d.Charge()
				if subscription != "" {
					charge.Subscription = subscription
				}
			case errors.Is(err, sql.ErrNoRows):
				if subscription == "" {
					charge.Subscription = cfg.Agents.DefaultSubscription
				}
			default:
				return fmt.Errorf("failed to look up decision: %w", err)
			}

			p, err := ledger.RecordSpend(ctx, charge, cost)
			if err != nil {
				if errors.Is(err, budget.ErrDuplicateSpend) {
					return fmt.Errorf("task %s was already charged", taskID)
				}
				return err
			}

			w := cmd.OutOrStdout()
			_, _ = fmt.Fprintf(w, "Charged %s to %s (%s)\n", formatUnits(cost), p.Subscription, p.ID)
			_, _ = fmt.Fprintf(w, "%s %s / %s %s\n",
				renderProgressBar(p.Percent(), 25),
				formatUnits(p.Consumed),
				formatUnits(p.Cap),
				percentStyle(p.Percent(), cfg.Budget.WarnPercent).Render(fmt.Sprintf("%.0f%%", p.Percent())),
			)
			return nil
		},
	}

	cmd.Flags().StringVar(&subscription, "subscription", "", "Subscription to charge (default: from the task's decision)")

	return cmd
}
