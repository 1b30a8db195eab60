package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/lim1712/orchestrator/internal/confirm"
	"github.com/lim1712/orchestrator/internal/store"
)

func newEventsCmd() *cobra.Command {
	var (
		instanceID string
		action     string
		since      time.Duration
		limit      int
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:   "events",
		Short: "Show recent confirmation events",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if instanceID != "" && cfg.GetInstance(instanceID) == nil {
				return fmt.Errorf("unknown instance %q", instanceID)
			}
			st, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer func() { _ = st.Close() }()

			q := store.EventQuery{
				InstanceID: instanceID,
				Action:     confirm.Action(action),
				Limit:      limit,
			}
			if since > 0 {
				q.Since = time.Now().Add(-since)
			}

			events, err := st.ListEvents(cmd.Context(), q)
			if err != nil {
				return fmt.Errorf("failed to list events: %w", err)
			}

			w := cmd.OutOrStdout()
			if jsonOutput {
				enc := json.NewEncoder(w)
				enc.SetIndent("", "  ")
				return enc.Encode(events)
			}
			printEvents(w, events)
			return nil
		},
	}

	cmd.Flags().StringVar(&instanceID, "instance", "", "Filter by instance ID")
	cmd.Flags().StringVar(&action, "action", "", "Filter by action (confirmed, skipped-unsafe, skipped-unknown, error, unresolved)")
	cmd.Flags().DurationVar(&since, "since", 0, "Only events newer than this, e.g. 24h")
	cmd.Flags().IntVar(&limit, "limit", 50, "Maximum number of events")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}
