package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/lim1712/orchestrator/internal/classifier"
	"github.com/lim1712/orchestrator/internal/config"
)

func newRulesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rules",
		Short: "Inspect and check dialog rules",
	}

	cmd.AddCommand(
		newRulesTestCmd(),
		newRulesValidateCmd(),
		newRulesShowCmd(),
	)

	return cmd
}

// configuredRules loads the rule set named in the config, or the built-in
// one, without touching the store.
func configuredRules() (classifier.RuleSet, error) {
	configPath := cfgFile
	if configPath == "" {
		configPath = config.DefaultConfigPath()
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return classifier.RuleSet{}, fmt.Errorf("failed to load config: %w", err)
	}
	return loadRules(cfg)
}

func newRulesTestCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "test <title>...",
		Short: "Classify window titles with the configured rules",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rs, err := configuredRules()
			if err != nil {
				return err
			}
			cls, err := classifier.New(rs)
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			for _, title := range args {
				c := cls.Classify(title)
				verdict := fmt.Sprintf("%-8s", c.Verdict)
				switch c.Verdict {
				case classifier.VerdictSafe:
					verdict = okStyle.Render(verdict)
				case classifier.VerdictUnsafe:
					verdict = errStyle.Render(verdict)
				case classifier.VerdictUnknown:
					verdict = warnStyle.Render(verdict)
				default:
					verdict = dimStyle.Render(verdict)
				}
				rule := ""
				if c.RuleID != "" {
					rule = dimStyle.Render(" [" + c.RuleID + "]")
				}
				_, _ = fmt.Fprintf(w, "%s %s%s\n", verdict, title, rule)
			}
			return nil
		},
	}
}

func newRulesValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate [file]",
		Short: "Check a rule-set file (default: the configured one)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var (
				rs  classifier.RuleSet
				err error
			)
			if len(args) == 1 {
				rs, err = classifier.LoadRuleSet(args[0])
			} else {
				rs, err = configuredRules()
			}
			if err != nil {
				return err
			}
			if err := classifier.Validate(rs); err != nil {
				return err
			}

			unsafe, safe := 0, 0
			for _, r := range rs.Rules {
				if r.Verdict == classifier.VerdictUnsafe {
					unsafe++
				} else {
					safe++
				}
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s %d unsafe, %d safe rules, %d markers\n",
				okStyle.Render("OK"), unsafe, safe, len(rs.Markers))
			return nil
		},
	}
}

func newRulesShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the active rule set as YAML",
		RunE: func(cmd *cobra.Command, args []string) error {
			rs, err := configuredRules()
			if err != nil {
				return err
			}
			data, err := yaml.Marshal(rs)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprint(cmd.OutOrStdout(), strings.TrimLeft(string(data), "\n"))
			return nil
		},
	}
}
