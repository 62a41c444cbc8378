package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"tradegate/internal/config"
	"tradegate/internal/decision"
	"tradegate/internal/pkg/circuit"

	"github.com/spf13/cobra"
	"github.com/tidwall/gjson"
)

// checkInput 与 POST /api/live/breaker/check 的请求体一致；decision 也可以是模型原始输出字符串。
type checkInput struct {
	AgentID   string             `json:"agent_id"`
	Decision  json.RawMessage    `json:"decision"`
	Portfolio decision.Portfolio `json:"portfolio"`
}

func newCheckCmd(opts *rootOptions) *cobra.Command {
	var useDefaults bool
	cmd := &cobra.Command{
		Use:   "check <file.json|->",
		Short: "Run a single decision through the circuit breakers",
		Long: `Check evaluates one proposed decision against a fresh breaker built from
the configured thresholds and prints the result as JSON. No trade is
executed and no state is persisted.

The input is {"agent_id", "decision", "portfolio"}; "decision" may be an
object or the raw model output string.

Example:
  tradegate check proposal.json
  cat proposal.json | tradegate check -`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := circuit.DefaultConfig()
			if !useDefaults {
				loaded, err := config.Load(opts.configPath)
				if err != nil {
					return fmt.Errorf("读取配置失败: %w", err)
				}
				cfg = loaded.Breaker.Circuit()
			}
			raw, err := readInput(cmd.InOrStdin(), args[0])
			if err != nil {
				return err
			}
			in, d, err := parseCheckInput(raw)
			if err != nil {
				return err
			}
			res := circuit.New(cfg).Check(in.AgentID, d, in.Portfolio)
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(res)
		},
	}
	cmd.Flags().BoolVar(&useDefaults, "defaults", false, "use built-in breaker thresholds instead of the config file")
	return cmd
}

func readInput(stdin io.Reader, name string) ([]byte, error) {
	if name == "-" {
		return io.ReadAll(stdin)
	}
	raw, err := os.ReadFile(name)
	if err != nil {
		return nil, fmt.Errorf("read input: %w", err)
	}
	return raw, nil
}

func parseCheckInput(raw []byte) (checkInput, decision.Decision, error) {
	var in checkInput
	if err := json.Unmarshal(raw, &in); err != nil {
		return in, decision.Decision{}, fmt.Errorf("parse input: %w", err)
	}
	if strings.TrimSpace(in.AgentID) == "" {
		return in, decision.Decision{}, fmt.Errorf("agent_id is required")
	}
	field := gjson.ParseBytes(in.Decision)
	if !field.Exists() {
		return in, decision.Decision{}, fmt.Errorf("decision is required")
	}
	body := field.Raw
	if field.Type == gjson.String {
		body = field.String()
	}
	d, err := decision.Parse(body)
	if err != nil {
		return in, decision.Decision{}, fmt.Errorf("parse decision: %w", err)
	}
	return in, d, nil
}
