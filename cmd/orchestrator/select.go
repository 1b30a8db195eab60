package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/lim1712/orchestrator/internal/agents"
)

func newSelectCmd() *cobra.Command {
	var (
		taskID       string
		subscription string
		taskType     string
		size         string
		contextLen   int
		tokens       int
		jsonOutput   bool
	)

	cmd := &cobra.Command{
		Use:   "select <description>",
		Short: "Pick a model tier for a coding task",
		Long: `Analyze a task description, pick the cheapest capable tier the subscription may
use, and record the decision. An over-cap subscription is forced onto its cheapest tier.`,
		Args: cobra.MinimumNArgs(1),
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
			ledger, err := newLedger(ctx, cfg, st)
			if err != nil {
				return err
			}
			selector, err := newSelector(cfg, ledger, st)
			if err != nil {
				return err
			}

			if taskID == "" {
				taskID = uuid.NewString()
			}
			profile := agents.Analyze(strings.Join(args, " "), contextLen)
			req := profile.Request(taskID, subscription)
			if taskType != "" {
				req.Type = taskType
			}
			if size != "" {
				c, err := agents.ParseComplexity(size)
				if err != nil {
					return err
				}
				req.Size = c
			}
			if tokens > 0 {
				req.EstimatedTokens = tokens
			}

			d, err := selector.Select(ctx, req)
			if err != nil {
				return err
			}

			if jsonOutput {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(d)
			}
			printDecision(cmd.OutOrStdout(), profile, d)
			return nil
		},
	}

	cmd.Flags().StringVar(&taskID, "task-id", "", "Task ID (default: generated)")
	cmd.Flags().StringVar(&subscription, "subscription", "", "Subscription to charge (default from config)")
	cmd.Flags().StringVar(&taskType, "type", "", "Override the detected task type")
	cmd.Flags().StringVar(&size, "size", "", "Override the detected size: simple, medium, complex, critical")
	cmd.Flags().IntVar(&contextLen, "context-len", 0, "Length of attached context in characters")
	cmd.Flags().IntVar(&tokens, "tokens", 0, "Override the token estimate")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

func printDecision(w io.Writer, p agents.Profile, d agents.Decision) {
	_, _ = fmt.Fprintln(w)
	_, _ = fmt.Fprintln(w, titleStyle.Render("Agent Decision"))
	_, _ = fmt.Fprintln(w, divider)
	_, _ = fmt.Fprintln(w, row("Task", d.TaskID))
	_, _ = fmt.Fprintln(w, row("Type", fmt.Sprintf("%s (%s)", d.TaskType, p.Complexity)))
	_, _ = fmt.Fprintln(w, row("Subscription", d.Subscription))
	_, _ = fmt.Fprintln(w, row("Tier", okStyle.Render(d.Tier)+dimStyle.Render(" "+d.Model)))
	_, _ = fmt.Fprintln(w, row("Tokens", formatUnits(float64(d.EstimatedTokens))))
	_, _ = fmt.Fprintln(w, row("Cost", fmt.Sprintf("%.4f", d.PredictedCost)))
	if d.ForcedDowngrade {
		_, _ = fmt.Fprintln(w, row("Downgraded", warnStyle.Render("from "+d.Preferred)))
	}
	if d.Reason != "" {
		_, _ = fmt.Fprintln(w, row("Reason", d.Reason))
	}
	_, _ = fmt.Fprintln(w, dimStyle.Render("Decision "+d.ID))
}
