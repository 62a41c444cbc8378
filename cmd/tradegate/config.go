package main

import (
	"fmt"

	"tradegate/internal/config"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

func newConfigCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect or validate the configuration",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the effective config (includes merged, defaults applied) as YAML",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(opts.configPath)
			if err != nil {
				return err
			}
			redactSecrets(cfg)
			enc := yaml.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent(2)
			defer enc.Close()
			return enc.Encode(cfg)
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Check that the config loads and passes validation",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(opts.configPath)
			if err != nil {
				return fmt.Errorf("validation failed: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "✓ Configuration valid: %s\n", opts.configPath)
			fmt.Fprintf(cmd.OutOrStdout(), "  Round: every %s (holder=%s, dry_run=%v)\n", cfg.Round.Interval, cfg.Round.Holder, cfg.Round.DryRun)
			fmt.Fprintf(cmd.OutOrStdout(), "  Agents: %d\n", len(cfg.Backend.Agents))
			return nil
		},
	})
	return cmd
}

func redactSecrets(cfg *config.Config) {
	if cfg.Backend.APIToken != "" {
		cfg.Backend.APIToken = "***"
	}
	if cfg.Notify.Telegram.BotToken != "" {
		cfg.Notify.Telegram.BotToken = "***"
	}
}
