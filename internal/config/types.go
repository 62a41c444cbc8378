package config

import (
	"strings"
	"time"

	"tradegate/internal/pkg/circuit"
	"tradegate/internal/pkg/ratelimit"
)

// Config 是 tradegate 的主配置载体。
type Config struct {
	App      AppConfig                `toml:"app" yaml:"app"`
	Breaker  BreakerConfig            `toml:"breaker" yaml:"breaker"`
	Limiters map[string]LimiterConfig `toml:"limiters" yaml:"limiters"`
	Lock     LockConfig               `toml:"lock" yaml:"lock"`
	Round    RoundConfig              `toml:"round" yaml:"round"`
	Audit    AuditConfig              `toml:"audit" yaml:"audit"`
	Notify   NotifyConfig             `toml:"notify" yaml:"notify"`
	Backend  BackendConfig            `toml:"backend" yaml:"backend"`
}

type AppConfig struct {
	Env      string `toml:"env" yaml:"env"`
	LogLevel string `toml:"log_level" yaml:"log_level"`
	HTTPAddr string `toml:"http_addr" yaml:"http_addr"`
	LogPath  string `toml:"log_path" yaml:"log_path"`
}

// BreakerConfig 对应熔断器阈值；阈值 <= 0 表示关闭该项检查。
type BreakerConfig struct {
	MaxTradeNotional      float64 `toml:"max_trade_notional" yaml:"max_trade_notional"`
	DailyLossLimitPercent float64 `toml:"daily_loss_limit_percent" yaml:"daily_loss_limit_percent"`
	CooldownSeconds       int     `toml:"cooldown_seconds" yaml:"cooldown_seconds"`
	PositionLimitPercent  float64 `toml:"position_limit_percent" yaml:"position_limit_percent"`
	MaxDailyTrades        int     `toml:"max_daily_trades" yaml:"max_daily_trades"`
	ActivationLogSize     int     `toml:"activation_log_size" yaml:"activation_log_size"`
	StatusRecent          int     `toml:"status_recent" yaml:"status_recent"`
}

func (b BreakerConfig) Circuit() circuit.Config {
	return circuit.Config{
		MaxTradeNotional:      b.MaxTradeNotional,
		DailyLossLimitPercent: b.DailyLossLimitPercent,
		CooldownSeconds:       b.CooldownSeconds,
		PositionLimitPercent:  b.PositionLimitPercent,
		MaxDailyTrades:        b.MaxDailyTrades,
	}
}

// LimiterConfig 描述一个命名限流器；未配置的字段沿用内置默认值。
type LimiterConfig struct {
	MaxTokens        int `toml:"max_tokens" yaml:"max_tokens"`
	RefillRate       int `toml:"refill_rate" yaml:"refill_rate"`
	RefillIntervalMS int `toml:"refill_interval_ms" yaml:"refill_interval_ms"`
	MaxQueueSize     int `toml:"max_queue_size" yaml:"max_queue_size"`
}

func (l LimiterConfig) RateLimit(name string) ratelimit.Config {
	return ratelimit.Config{
		Name:           name,
		MaxTokens:      l.MaxTokens,
		RefillRate:     l.RefillRate,
		RefillInterval: time.Duration(l.RefillIntervalMS) * time.Millisecond,
		MaxQueueSize:   l.MaxQueueSize,
	}
}

// RateLimitConfigs 按名称返回全部限流器配置，可直接交给 ratelimit.NewRegistry。
func (c *Config) RateLimitConfigs() map[string]ratelimit.Config {
	out := make(map[string]ratelimit.Config, len(c.Limiters))
	for name, lc := range c.Limiters {
		out[name] = lc.RateLimit(name)
	}
	return out
}

type LockConfig struct {
	TTLSeconds int `toml:"ttl_seconds" yaml:"ttl_seconds"`
}

func (l LockConfig) TTL() time.Duration {
	return time.Duration(l.TTLSeconds) * time.Second
}

// RoundConfig 控制交易轮次的调度节奏。
type RoundConfig struct {
	Interval       string `toml:"interval" yaml:"interval"`
	OffsetSeconds  int    `toml:"offset_seconds" yaml:"offset_seconds"`
	RunImmediately bool   `toml:"run_immediately" yaml:"run_immediately"`
	Jitter         bool   `toml:"jitter" yaml:"jitter"`
	DryRun         bool   `toml:"dry_run" yaml:"dry_run"`
	Holder         string `toml:"holder" yaml:"holder"`
}

type AuditConfig struct {
	Enabled bool   `toml:"enabled" yaml:"enabled"`
	Path    string `toml:"path" yaml:"path"`
}

type NotifyConfig struct {
	Telegram TelegramConfig `toml:"telegram" yaml:"telegram"`
}

type TelegramConfig struct {
	Enabled  bool   `toml:"enabled" yaml:"enabled"`
	BotToken string `toml:"bot_token" yaml:"bot_token"`
	ChatID   string `toml:"chat_id" yaml:"chat_id"`
}

// BackendConfig 指向托管 agent、组合快照与成交执行的交易后端；URL 为空时不跑轮次。
type BackendConfig struct {
	URL            string   `toml:"url" yaml:"url"`
	APIToken       string   `toml:"api_token" yaml:"api_token"`
	TimeoutSeconds int      `toml:"timeout_seconds" yaml:"timeout_seconds"`
	Agents         []string `toml:"agents" yaml:"agents"`
}

func (b BackendConfig) Enabled() bool {
	return strings.TrimSpace(b.URL) != ""
}

// keySet 用于追踪配置文件中显式设置的字段路径。
type keySet map[string]struct{}

func (k keySet) mark(path string) {
	path = strings.ToLower(strings.TrimSpace(path))
	if path == "" {
		return
	}
	k[path] = struct{}{}
}

func (k keySet) isSet(path string) bool {
	if len(k) == 0 {
		return false
	}
	path = strings.ToLower(strings.TrimSpace(path))
	if path == "" {
		return false
	}
	_, ok := k[path]
	return ok
}

type fieldDefault struct {
	key   string
	need  func() bool
	apply func()
}
