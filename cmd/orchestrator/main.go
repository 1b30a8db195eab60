package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/lim1712/orchestrator/internal/config"
	"github.com/lim1712/orchestrator/internal/logging"
)

var (
	version = "0.1.0"
	cfgFile string
)

func main() {
	rootCmd := newRootCmd()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "orchestrator",
		Short: "Auto-confirm assistant dialogs across editor instances",
		Long: `Orchestrator watches several editor instances, confirms the assistant's safe
confirmation dialogs, and routes coding tasks to a model tier under a subscription budget.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ~/.orchestrator/config.yaml)")

	rootCmd.AddCommand(
		newInitCmd(),
		newRunCmd(),
		newPollCmd(),
		newSelectCmd(),
		newSpendCmd(),
		newBudgetCmd(),
		newEventsCmd(),
		newRulesCmd(),
		newDoctorCmd(),
		newVersionCmd(),
	)
	return rootCmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show orchestrator version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "orchestrator v%s\n", version)
		},
	}
}

// loadConfig loads, validates and applies the logging section.
func loadConfig() (*config.Config, error) {
	configPath := cfgFile
	if configPath == "" {
		configPath = config.DefaultConfigPath()
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", configPath, err)
	}
	if err := logging.Init(cfg.Logging); err != nil {
		return nil, fmt.Errorf("failed to init logging: %w", err)
	}
	return cfg, nil
}
