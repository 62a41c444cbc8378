package circuit

import (
	"fmt"
	"time"
)

// 默认阈值：调用方通常会显式传入，这里只保证开箱即用且全部可覆盖。
const (
	DefaultMaxTradeNotional      = 50.0
	DefaultDailyLossLimitPercent = 10.0
	DefaultCooldownSeconds       = 120
	DefaultPositionLimitPercent  = 25.0
	DefaultMaxDailyTrades        = 6

	DefaultActivationLogSize = 200
	DefaultStatusRecent      = 20

	// MinCashFloor 现金低于该值时买单直接拦截。
	MinCashFloor = 1.0
)

// Config 是熔断器的全部阈值。阈值 <= 0 表示关闭对应检查。
type Config struct {
	MaxTradeNotional      float64 `json:"max_trade_notional"`
	DailyLossLimitPercent float64 `json:"daily_loss_limit_percent"`
	CooldownSeconds       int     `json:"cooldown_seconds"`
	PositionLimitPercent  float64 `json:"position_limit_percent"`
	MaxDailyTrades        int     `json:"max_daily_trades"`
}

func DefaultConfig() Config {
	return Config{
		MaxTradeNotional:      DefaultMaxTradeNotional,
		DailyLossLimitPercent: DefaultDailyLossLimitPercent,
		CooldownSeconds:       DefaultCooldownSeconds,
		PositionLimitPercent:  DefaultPositionLimitPercent,
		MaxDailyTrades:        DefaultMaxDailyTrades,
	}
}

func (c Config) Cooldown() time.Duration {
	return time.Duration(c.CooldownSeconds) * time.Second
}

// ConfigPatch 描述一次部分更新，nil 字段保持原值。
type ConfigPatch struct {
	MaxTradeNotional      *float64 `json:"max_trade_notional,omitempty"`
	DailyLossLimitPercent *float64 `json:"daily_loss_limit_percent,omitempty"`
	CooldownSeconds       *int     `json:"cooldown_seconds,omitempty"`
	PositionLimitPercent  *float64 `json:"position_limit_percent,omitempty"`
	MaxDailyTrades        *int     `json:"max_daily_trades,omitempty"`
}

func (p ConfigPatch) Empty() bool {
	return p.MaxTradeNotional == nil && p.DailyLossLimitPercent == nil && p.CooldownSeconds == nil &&
		p.PositionLimitPercent == nil && p.MaxDailyTrades == nil
}

// Validate 拒绝负值与超过 100 的百分比；0 是合法的关闭值。
func (p ConfigPatch) Validate() error {
	switch {
	case p.MaxTradeNotional != nil && *p.MaxTradeNotional < 0:
		return fmt.Errorf("max_trade_notional must be >= 0")
	case p.DailyLossLimitPercent != nil && (*p.DailyLossLimitPercent < 0 || *p.DailyLossLimitPercent > 100):
		return fmt.Errorf("daily_loss_limit_percent must be within [0, 100]")
	case p.CooldownSeconds != nil && *p.CooldownSeconds < 0:
		return fmt.Errorf("cooldown_seconds must be >= 0")
	case p.PositionLimitPercent != nil && (*p.PositionLimitPercent < 0 || *p.PositionLimitPercent > 100):
		return fmt.Errorf("position_limit_percent must be within [0, 100]")
	case p.MaxDailyTrades != nil && *p.MaxDailyTrades < 0:
		return fmt.Errorf("max_daily_trades must be >= 0")
	}
	return nil
}

// Merge 返回应用补丁后的新配置。
func (c Config) Merge(p ConfigPatch) Config {
	if p.MaxTradeNotional != nil {
		c.MaxTradeNotional = *p.MaxTradeNotional
	}
	if p.DailyLossLimitPercent != nil {
		c.DailyLossLimitPercent = *p.DailyLossLimitPercent
	}
	if p.CooldownSeconds != nil {
		c.CooldownSeconds = *p.CooldownSeconds
	}
	if p.PositionLimitPercent != nil {
		c.PositionLimitPercent = *p.PositionLimitPercent
	}
	if p.MaxDailyTrades != nil {
		c.MaxDailyTrades = *p.MaxDailyTrades
	}
	return c
}

// PatchFrom 将完整配置转换为“全字段”补丁。
func PatchFrom(c Config) ConfigPatch {
	return ConfigPatch{
		MaxTradeNotional:      &c.MaxTradeNotional,
		DailyLossLimitPercent: &c.DailyLossLimitPercent,
		CooldownSeconds:       &c.CooldownSeconds,
		PositionLimitPercent:  &c.PositionLimitPercent,
		MaxDailyTrades:        &c.MaxDailyTrades,
	}
}
