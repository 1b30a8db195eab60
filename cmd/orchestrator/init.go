package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/lim1712/orchestrator/internal/config"
)

func newInitCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			configPath := cfgFile
			if configPath == "" {
				configPath = config.DefaultConfigPath()
			}
			w := cmd.OutOrStdout()

			if _, err := os.Stat(configPath); err == nil {
				if !force {
					return fmt.Errorf("config already exists at %s (use --force to replace it)", configPath)
				}
				backupPath := configPath + ".bak"
				if err := os.Rename(configPath, backupPath); err != nil {
					return fmt.Errorf("failed to backup config: %w", err)
				}
				_, _ = fmt.Fprintf(w, "Backed up existing config to %s\n", backupPath)
			}

			if err := config.Save(config.DefaultConfig(), configPath); err != nil {
				return fmt.Errorf("failed to save config: %w", err)
			}

			_, _ = fmt.Fprintln(w, okStyle.Render("Initialized"), configPath)
			_, _ = fmt.Fprintln(w)
			_, _ = fmt.Fprintln(w, "Next steps:")
			_, _ = fmt.Fprintln(w, "  1. Add your editor instances")
			_, _ = fmt.Fprintln(w, "  2. Set observer.command and confirm.command")
			_, _ = fmt.Fprintln(w, "  3. Run 'orchestrator doctor', then 'orchestrator run'")
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Replace an existing config (backs it up to .bak)")

	return cmd
}
