package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/lim1712/orchestrator/internal/config"
	"github.com/lim1712/orchestrator/internal/health"
)

func newDoctorCmd() *cobra.Command {
	var verbose bool

	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check helpers, instances and configuration",
		Long: `Run health checks on the helper commands, the configured instances, the rule set
and the data directory.

Examples:
  orchestrator doctor           # Run all checks
  orchestrator doctor --verbose # Show how to fix problems`,
		RunE: func(cmd *cobra.Command, args []string) error {
			configPath := cfgFile
			if configPath == "" {
				configPath = config.DefaultConfigPath()
			}
			cfg, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			report := health.RunChecks(cfg)
			w := cmd.OutOrStdout()

			_, _ = fmt.Fprintln(w)
			_, _ = fmt.Fprintln(w, titleStyle.Render("Orchestrator Health Check"))
			_, _ = fmt.Fprintln(w, divider)
			printChecks(w, "Helpers:", report.Helpers, verbose)
			printChecks(w, "Instances:", report.Instances, verbose)
			printChecks(w, "Configuration:", report.Config, verbose)

			errs, warns := report.Summary()
			switch {
			case errs > 0:
				_, _ = fmt.Fprintln(w, errStyle.Render(fmt.Sprintf("%d error(s), %d warning(s)", errs, warns)))
				return fmt.Errorf("%d health check(s) failed", errs)
			case warns > 0:
				_, _ = fmt.Fprintln(w, warnStyle.Render(fmt.Sprintf("%d warning(s)", warns)))
			default:
				_, _ = fmt.Fprintln(w, okStyle.Render("All checks passed"))
			}
			return nil
		},
	}

	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Show fixes")

	return cmd
}

func printChecks(w io.Writer, title string, checks []health.Check, verbose bool) {
	_, _ = fmt.Fprintln(w, title)
	for _, c := range checks {
		symbol := c.Status.Symbol()
		switch c.Status {
		case health.StatusOK:
			symbol = okStyle.Render(symbol)
		case health.StatusWarning:
			symbol = warnStyle.Render(symbol)
		case health.StatusError:
			symbol = errStyle.Render(symbol)
		default:
			symbol = dimStyle.Render(symbol)
		}
		_, _ = fmt.Fprintf(w, "  %s %-12s %s\n", symbol, c.Name, c.Message)
		if verbose && c.Fix != "" && c.Status != health.StatusOK {
			_, _ = fmt.Fprintf(w, "                 → %s\n", c.Fix)
		}
	}
	_, _ = fmt.Fprintln(w)
}
