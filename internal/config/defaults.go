package config

import (
	"strings"
	"time"

	"tradegate/internal/pkg/circuit"
	"tradegate/internal/pkg/ratelimit"
	"tradegate/internal/pkg/tradelock"
)

// 默认值常量
const (
	defaultAppEnv         = "dev"
	defaultAppLogLevel    = "info"
	defaultAppHTTPAddr    = ":9991"
	defaultRoundInterval  = "15m"
	defaultRoundHolder    = "scheduler"
	defaultAuditPath      = "data/tradegate.db"
	defaultBackendTimeout = 30
)

// applyDefaults 为所有子配置应用默认值。
func (c *Config) applyDefaults(keys keySet) {
	c.App.applyDefaults(keys)
	c.Breaker.applyDefaults(keys)
	c.applyLimiterDefaults(keys)
	c.Lock.applyDefaults(keys)
	c.Round.applyDefaults(keys)
	c.Audit.applyDefaults(keys)
	c.Backend.applyDefaults(keys)
}

func (b *BackendConfig) applyDefaults(keys keySet) {
	if b == nil {
		return
	}
	applyFieldDefaults(keys,
		fieldDefault{
			need:  func() bool { return b.TimeoutSeconds <= 0 },
			apply: func() { b.TimeoutSeconds = defaultBackendTimeout },
		},
	)
}

func (a *AppConfig) applyDefaults(keys keySet) {
	if a == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("app.env", &a.Env, defaultAppEnv),
		stringFieldDefault("app.log_level", &a.LogLevel, defaultAppLogLevel),
		stringFieldDefault("app.http_addr", &a.HTTPAddr, defaultAppHTTPAddr),
	)
}

// 熔断阈值只在未显式设置时补默认值：显式写 0 表示关闭该项检查。
func (b *BreakerConfig) applyDefaults(keys keySet) {
	if b == nil {
		return
	}
	applyFieldDefaults(keys,
		floatFieldDefault("breaker.max_trade_notional", &b.MaxTradeNotional, circuit.DefaultMaxTradeNotional),
		floatFieldDefault("breaker.daily_loss_limit_percent", &b.DailyLossLimitPercent, circuit.DefaultDailyLossLimitPercent),
		intFieldDefault("breaker.cooldown_seconds", &b.CooldownSeconds, circuit.DefaultCooldownSeconds),
		floatFieldDefault("breaker.position_limit_percent", &b.PositionLimitPercent, circuit.DefaultPositionLimitPercent),
		intFieldDefault("breaker.max_daily_trades", &b.MaxDailyTrades, circuit.DefaultMaxDailyTrades),
		fieldDefault{
			need:  func() bool { return b.ActivationLogSize <= 0 },
			apply: func() { b.ActivationLogSize = circuit.DefaultActivationLogSize },
		},
		fieldDefault{
			need:  func() bool { return b.StatusRecent <= 0 },
			apply: func() { b.StatusRecent = circuit.DefaultStatusRecent },
		},
	)
}

// applyLimiterDefaults 保证内置的四个依赖总有限流器，并逐字段补齐缺省参数。
func (c *Config) applyLimiterDefaults(keys keySet) {
	if c.Limiters == nil {
		c.Limiters = make(map[string]LimiterConfig)
	}
	builtin := ratelimit.DefaultConfigs()
	for name := range builtin {
		if _, ok := c.Limiters[name]; !ok {
			c.Limiters[name] = LimiterConfig{}
		}
	}
	for name, lc := range c.Limiters {
		base, ok := builtin[name]
		if !ok {
			base = ratelimit.Config{MaxTokens: 1, RefillRate: 1, RefillInterval: time.Second}
		}
		prefix := "limiters." + strings.ToLower(name) + "."
		applyFieldDefaults(keys,
			intFieldDefault(prefix+"max_tokens", &lc.MaxTokens, base.MaxTokens),
			intFieldDefault(prefix+"refill_rate", &lc.RefillRate, base.RefillRate),
			intFieldDefault(prefix+"refill_interval_ms", &lc.RefillIntervalMS, int(base.RefillInterval/time.Millisecond)),
			intFieldDefault(prefix+"max_queue_size", &lc.MaxQueueSize, base.MaxQueueSize),
		)
		c.Limiters[name] = lc
	}
}

func (l *LockConfig) applyDefaults(keys keySet) {
	if l == nil {
		return
	}
	applyFieldDefaults(keys,
		fieldDefault{
			need:  func() bool { return l.TTLSeconds <= 0 },
			apply: func() { l.TTLSeconds = int(tradelock.DefaultTTL / time.Second) },
		},
	)
}

func (r *RoundConfig) applyDefaults(keys keySet) {
	if r == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("round.interval", &r.Interval, defaultRoundInterval),
		stringFieldDefault("round.holder", &r.Holder, defaultRoundHolder),
	)
}

func (a *AuditConfig) applyDefaults(keys keySet) {
	if a == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("audit.path", &a.Path, defaultAuditPath),
	)
}

// Helper functions

func applyFieldDefaults(keys keySet, defs ...fieldDefault) {
	for _, def := range defs {
		if def.apply == nil {
			continue
		}
		if def.key != "" && keys.isSet(def.key) {
			continue
		}
		if def.need != nil && !def.need() {
			continue
		}
		def.apply()
	}
}

func stringFieldDefault(key string, target *string, def string) fieldDefault {
	return fieldDefault{
		key: key,
		need: func() bool {
			return target != nil && strings.TrimSpace(*target) == ""
		},
		apply: func() {
			if target != nil {
				*target = def
			}
		},
	}
}

func intFieldDefault(key string, target *int, def int) fieldDefault {
	return fieldDefault{
		key:  key,
		need: func() bool { return target != nil && *target == 0 },
		apply: func() {
			if target != nil {
				*target = def
			}
		},
	}
}

func floatFieldDefault(key string, target *float64, def float64) fieldDefault {
	return fieldDefault{
		key:  key,
		need: func() bool { return target != nil && *target == 0 },
		apply: func() {
			if target != nil {
				*target = def
			}
		},
	}
}
