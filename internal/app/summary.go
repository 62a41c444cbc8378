package app

import (
	"fmt"
	"io"
	"os"
	"strings"

	"tradegate/internal/agent/engine"
	"tradegate/internal/config"
	"tradegate/internal/pkg/circuit"
	"tradegate/internal/pkg/ratelimit"
)

type StartupSummary struct {
	Env      string
	HTTPAddr string
	Breaker  circuit.Config
	Limiters []ratelimit.Config
	Agents   []string
	Round    RoundSummary
	Audit    string
	Notify   string
}

type RoundSummary struct {
	Interval       string
	OffsetSeconds  int
	RunImmediately bool
	Jitter         bool
	DryRun         bool
	Holder         string
	LockTTLSeconds int
}

func newStartupSummary(cfg *config.Config, agents []engine.Agent, limiters *ratelimit.Registry) *StartupSummary {
	s := &StartupSummary{
		Env:      cfg.App.Env,
		HTTPAddr: cfg.App.HTTPAddr,
		Breaker:  cfg.Breaker.Circuit(),
		Round: RoundSummary{
			Interval:       cfg.Round.Interval,
			OffsetSeconds:  cfg.Round.OffsetSeconds,
			RunImmediately: cfg.Round.RunImmediately,
			Jitter:         cfg.Round.Jitter,
			DryRun:         cfg.Round.DryRun,
			Holder:         cfg.Round.Holder,
			LockTTLSeconds: cfg.Lock.TTLSeconds,
		},
		Audit:  "disabled",
		Notify: "disabled",
	}
	for _, a := range agents {
		s.Agents = append(s.Agents, a.ID())
	}
	if limiters != nil {
		for _, name := range limiters.Names() {
			if l, ok := limiters.Get(name); ok {
				s.Limiters = append(s.Limiters, l.Config())
			}
		}
	}
	if cfg.Audit.Enabled {
		s.Audit = cfg.Audit.Path
	}
	if cfg.Notify.Telegram.Enabled {
		s.Notify = "telegram"
	}
	return s
}

func (s *StartupSummary) Print() {
	s.Write(os.Stdout)
}

func (s *StartupSummary) Write(w io.Writer) {
	fmt.Fprintln(w, strings.Repeat("=", 80))
	fmt.Fprintf(w, "%*s\n", 40+len("启动配置摘要 (STARTUP SUMMARY)")/2, "启动配置摘要 (STARTUP SUMMARY)")
	fmt.Fprintln(w, strings.Repeat("=", 80))

	fmt.Fprintln(w, "[运行环境 (RUNTIME)]")
	fmt.Fprintf(w, "  环境: %s\n", s.Env)
	fmt.Fprintf(w, "  管理接口: %s\n", s.HTTPAddr)
	fmt.Fprintf(w, "  审计存储: %s\n", s.Audit)
	fmt.Fprintf(w, "  通知渠道: %s\n", s.Notify)
	fmt.Fprintln(w)

	fmt.Fprintln(w, "[熔断阈值 (CIRCUIT BREAKER)]")
	fmt.Fprintf(w, "  单笔上限: %s\n", formatThreshold(s.Breaker.MaxTradeNotional, "$%.2f"))
	fmt.Fprintf(w, "  日亏损上限: %s\n", formatThreshold(s.Breaker.DailyLossLimitPercent, "%.2f%%"))
	fmt.Fprintf(w, "  冷却时间: %s\n", formatThreshold(float64(s.Breaker.CooldownSeconds), "%.0fs"))
	fmt.Fprintf(w, "  持仓占比上限: %s\n", formatThreshold(s.Breaker.PositionLimitPercent, "%.2f%%"))
	fmt.Fprintf(w, "  每日交易次数: %s\n", formatThreshold(float64(s.Breaker.MaxDailyTrades), "%.0f"))
	fmt.Fprintln(w)

	fmt.Fprintln(w, "[限流器 (RATE LIMITERS)]")
	if len(s.Limiters) == 0 {
		fmt.Fprintln(w, "  (无)")
	}
	for _, l := range s.Limiters {
		fmt.Fprintf(w, "  > %-10s tokens=%d refill=%d/%s queue=%d\n", l.Name, l.MaxTokens, l.RefillRate, l.RefillInterval, l.MaxQueueSize)
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "[交易轮次 (TRADING ROUNDS)]")
	fmt.Fprintf(w, "  Agents: %s\n", formatList(s.Agents))
	fmt.Fprintf(w, "  周期: %s (offset %ds, 立即执行=%v)\n", s.Round.Interval, s.Round.OffsetSeconds, s.Round.RunImmediately)
	fmt.Fprintf(w, "  抖动: %v  演练模式: %v\n", s.Round.Jitter, s.Round.DryRun)
	fmt.Fprintf(w, "  锁持有者: %s (TTL %ds)\n", s.Round.Holder, s.Round.LockTTLSeconds)
	fmt.Fprintln(w, strings.Repeat("=", 80))
}

func formatThreshold(v float64, format string) string {
	if v <= 0 {
		return "关闭"
	}
	return fmt.Sprintf(format, v)
}

func formatList(items []string) string {
	if len(items) == 0 {
		return "-"
	}
	return strings.Join(items, ", ")
}
