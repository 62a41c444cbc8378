package config

import (
	"fmt"
	"strings"

	"tradegate/internal/logger"
	"tradegate/internal/scheduler"
)

// validate 对配置进行基础校验。
func validate(c *Config) error {
	if err := c.App.validate(); err != nil {
		return err
	}
	if err := c.Breaker.validate(); err != nil {
		return err
	}
	for name, lc := range c.Limiters {
		if err := lc.validate(name); err != nil {
			return err
		}
	}
	if c.Lock.TTLSeconds <= 0 {
		return fmt.Errorf("lock.ttl_seconds must be > 0")
	}
	if err := c.Round.validate(); err != nil {
		return err
	}
	if c.Audit.Enabled && strings.TrimSpace(c.Audit.Path) == "" {
		return fmt.Errorf("audit.path is required when audit is enabled")
	}
	if err := c.Notify.validate(); err != nil {
		return err
	}
	if err := c.Backend.validate(); err != nil {
		return err
	}
	return nil
}

func (b BackendConfig) validate() error {
	if b.TimeoutSeconds < 0 {
		return fmt.Errorf("backend.timeout_seconds must be >= 0")
	}
	if !b.Enabled() {
		return nil
	}
	if len(b.Agents) == 0 {
		return fmt.Errorf("backend.agents requires at least one agent id when backend.url is set")
	}
	seen := make(map[string]bool, len(b.Agents))
	for _, id := range b.Agents {
		id = strings.TrimSpace(id)
		if id == "" {
			return fmt.Errorf("backend.agents contains an empty id")
		}
		if seen[id] {
			return fmt.Errorf("backend.agents contains duplicate id %s", id)
		}
		seen[id] = true
	}
	return nil
}

func (a AppConfig) validate() error {
	if !logger.ValidLevel(a.LogLevel) {
		return fmt.Errorf("app.log_level must be one of debug/info/warn/error, got %q", a.LogLevel)
	}
	return nil
}

func (b BreakerConfig) validate() error {
	switch {
	case b.MaxTradeNotional < 0:
		return fmt.Errorf("breaker.max_trade_notional must be >= 0")
	case b.DailyLossLimitPercent < 0 || b.DailyLossLimitPercent > 100:
		return fmt.Errorf("breaker.daily_loss_limit_percent must be within [0, 100]")
	case b.CooldownSeconds < 0:
		return fmt.Errorf("breaker.cooldown_seconds must be >= 0")
	case b.PositionLimitPercent < 0 || b.PositionLimitPercent > 100:
		return fmt.Errorf("breaker.position_limit_percent must be within [0, 100]")
	case b.MaxDailyTrades < 0:
		return fmt.Errorf("breaker.max_daily_trades must be >= 0")
	}
	return nil
}

func (l LimiterConfig) validate(name string) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("limiters contains an entry without name")
	}
	switch {
	case l.MaxTokens <= 0:
		return fmt.Errorf("limiters.%s.max_tokens must be > 0", name)
	case l.RefillRate <= 0:
		return fmt.Errorf("limiters.%s.refill_rate must be > 0", name)
	case l.RefillIntervalMS <= 0:
		return fmt.Errorf("limiters.%s.refill_interval_ms must be > 0", name)
	case l.MaxQueueSize < 0:
		return fmt.Errorf("limiters.%s.max_queue_size must be >= 0", name)
	}
	return nil
}

func (r RoundConfig) validate() error {
	if _, err := scheduler.ParseIntervalDuration(r.Interval); err != nil {
		return fmt.Errorf("round.interval invalid: %w", err)
	}
	if r.OffsetSeconds < 0 {
		return fmt.Errorf("round.offset_seconds must be >= 0")
	}
	return nil
}

func (n NotifyConfig) validate() error {
	tg := n.Telegram
	if !tg.Enabled {
		return nil
	}
	if strings.TrimSpace(tg.BotToken) == "" {
		return fmt.Errorf("notify.telegram.bot_token is required when telegram is enabled")
	}
	if strings.TrimSpace(tg.ChatID) == "" {
		return fmt.Errorf("notify.telegram.chat_id is required when telegram is enabled")
	}
	return nil
}
