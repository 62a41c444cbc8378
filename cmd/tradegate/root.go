package main

import (
	"os"
	"strings"

	"github.com/spf13/cobra"
)

const defaultConfigPath = "configs/config.yaml"

type rootOptions struct {
	configPath string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:   "tradegate",
		Short: "Risk gate for autonomous trading agents",
		Long: `Tradegate sits between trading agents and the execution backend.

Every proposed decision passes the circuit breakers (cooldown, daily trade
count, daily loss, trade size, position concentration, cash) before it is
executed. Rounds are serialized by a process-wide lock and every outbound
dependency is throttled by a token bucket.`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", envConfigPath(), "path to config file")

	root.AddCommand(newServeCmd(opts))
	root.AddCommand(newCheckCmd(opts))
	root.AddCommand(newConfigCmd(opts))
	return root
}

func envConfigPath() string {
	if p := strings.TrimSpace(os.Getenv("TRADEGATE_CONFIG")); p != "" {
		return p
	}
	return defaultConfigPath
}
