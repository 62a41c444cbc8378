package circuit

import (
	"testing"
	"time"

	"tradegate/internal/decision"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time          { return c.now }
func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newTestBreaker(cfg Config) (*Breaker, *fakeClock) {
	clk := &fakeClock{now: time.Date(2026, 3, 2, 15, 0, 0, 0, time.UTC)}
	return New(cfg, WithClock(clk.Now)), clk
}

func richPortfolio() decision.Portfolio {
	return decision.Portfolio{CashBalance: 100000, TotalValue: 100000}
}

func buy(symbol string, qty float64) decision.Decision {
	return decision.Decision{Action: decision.ActionBuy, Symbol: symbol, Quantity: qty, Reasoning: "thesis"}
}

func TestCheck_HoldAlwaysPasses(t *testing.T) {
	b, _ := newTestBreaker(DefaultConfig())
	b.RecordExecution("agent-a")

	portfolios := []decision.Portfolio{
		{},
		{CashBalance: 0, TotalValue: 1},
		richPortfolio(),
	}
	for _, p := range portfolios {
		d := decision.Decision{Action: decision.ActionHold, Symbol: "AAPLx", Reasoning: "wait"}
		res := b.Check("agent-a", d, p)
		assert.True(t, res.Allowed)
		assert.Empty(t, res.Activations)
		assert.Equal(t, d, res.Decision)
	}
	assert.Zero(t, b.Status().TotalActivations)
}

func TestCheck_MaxTradeSizeClamp(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxTradeNotional = 50
	b, _ := newTestBreaker(cfg)

	in := buy("TSLAx", 200)
	res := b.Check("agent-a", in, richPortfolio())

	require.True(t, res.Allowed)
	assert.Equal(t, 50.0, res.Decision.Quantity)
	require.Len(t, res.Activations, 1)
	assert.Equal(t, MaxTradeSize, res.Activations[0].Breaker)
	assert.Equal(t, OutcomeClamped, res.Activations[0].Outcome)
	assert.Equal(t, 200.0, in.Quantity, "caller decision untouched")
}

func TestCheck_PositionLimitScenario(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxTradeNotional = 5000
	cfg.PositionLimitPercent = 25
	b, _ := newTestBreaker(cfg)

	p := decision.Portfolio{
		CashBalance: 9110,
		TotalValue:  10000,
		Positions:   []decision.Position{{Symbol: "NVDAx", Quantity: 5, AvgCost: 150, CurrentPrice: 178}},
	}
	res := b.Check("agent-a", buy("NVDAx", 2000), p)

	require.True(t, res.Allowed)
	assert.LessOrEqual(t, res.Decision.Quantity, 1610.0)
	assert.Equal(t, 1610.0, res.Decision.Quantity)
	require.Len(t, res.Activations, 1)
	assert.Equal(t, PositionLimit, res.Activations[0].Breaker)
	assert.Equal(t, OutcomeClamped, res.Activations[0].Outcome)
}

func TestCheck_PositionAtCapBlocks(t *testing.T) {
	cfg := DefaultConfig()
	cfg.PositionLimitPercent = 25
	b, _ := newTestBreaker(cfg)

	p := decision.Portfolio{
		CashBalance: 7000,
		TotalValue:  10000,
		Positions:   []decision.Position{{Symbol: "SPYx", Quantity: 5, CurrentPrice: 600}},
	}
	res := b.Check("agent-a", buy("SPYx", 10), p)

	assert.False(t, res.Allowed)
	assert.Equal(t, decision.ActionHold, res.Decision.Action)
	assert.Zero(t, res.Decision.Quantity)
	assert.Contains(t, res.Decision.Reasoning, "thesis")
	require.Len(t, res.Activations, 1)
	assert.Equal(t, PositionLimit, res.Activations[0].Breaker)
	assert.Equal(t, OutcomeBlocked, res.Activations[0].Outcome)
}

func TestCheck_ClampsThreadThrough(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxTradeNotional = 100
	cfg.PositionLimitPercent = 0
	b, _ := newTestBreaker(cfg)

	p := decision.Portfolio{CashBalance: 42.379, TotalValue: 1000}
	res := b.Check("agent-a", buy("COINx", 500), p)

	require.True(t, res.Allowed)
	assert.Equal(t, 42.37, res.Decision.Quantity, "floored, never rounded up")
	require.Len(t, res.Activations, 2)
	assert.Equal(t, MaxTradeSize, res.Activations[0].Breaker)
	assert.Equal(t, InsufficientFunds, res.Activations[1].Breaker)
}

func TestCheck_CashBelowFloorBlocks(t *testing.T) {
	b, _ := newTestBreaker(DefaultConfig())
	res := b.Check("agent-a", buy("GMEx", 10), decision.Portfolio{CashBalance: 0.5, TotalValue: 1000})

	assert.False(t, res.Allowed)
	assert.Equal(t, decision.ActionHold, res.Decision.Action)
	require.Len(t, res.Activations, 1)
	assert.Equal(t, InsufficientFunds, res.Activations[0].Breaker)
	assert.Equal(t, OutcomeBlocked, res.Activations[0].Outcome)
}

func TestCheck_ClampToZeroDegradesToHold(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxTradeNotional = 0.004
	b, _ := newTestBreaker(cfg)

	res := b.Check("agent-a", buy("AAPLx", 10), richPortfolio())
	assert.True(t, res.Allowed)
	assert.Equal(t, decision.ActionHold, res.Decision.Action)
	assert.Equal(t, "[CIRCUIT BREAKER: MAX_TRADE_SIZE] thesis", res.Decision.Reasoning)
}

func TestCheck_SellSkipsClamps(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxTradeNotional = 1
	b, _ := newTestBreaker(cfg)

	sell := decision.Decision{Action: decision.ActionSell, Symbol: "AAPLx", Quantity: 500}
	res := b.Check("agent-a", sell, decision.Portfolio{CashBalance: 0, TotalValue: 1000})
	assert.True(t, res.Allowed)
	assert.Equal(t, sell, res.Decision)
	assert.Empty(t, res.Activations)
}

func TestCheck_CooldownCountsOnlyExecutedTrades(t *testing.T) {
	b, clk := newTestBreaker(DefaultConfig())

	for i := 0; i < 3; i++ {
		res := b.Check("agent-a", buy("AAPLx", 10), richPortfolio())
		assert.True(t, res.Allowed)
		assert.Empty(t, res.Activations)
	}

	b.RecordExecution("agent-a")
	clk.Advance(30 * time.Second)
	res := b.Check("agent-a", buy("AAPLx", 10), richPortfolio())
	assert.False(t, res.Allowed)
	require.Len(t, res.Activations, 1)
	assert.Equal(t, Cooldown, res.Activations[0].Breaker)

	clk.Advance(time.Duration(DefaultCooldownSeconds) * time.Second)
	res = b.Check("agent-a", buy("AAPLx", 10), richPortfolio())
	assert.True(t, res.Allowed)

	other := b.Check("agent-b", buy("AAPLx", 10), richPortfolio())
	assert.True(t, other.Allowed, "cooldown is per agent")
}

func TestCheck_DailyTradeLimitAndRollover(t *testing.T) {
	cfg := DefaultConfig()
	cfg.CooldownSeconds = 0
	cfg.MaxDailyTrades = 2
	b, clk := newTestBreaker(cfg)

	b.RecordExecution("agent-a")
	b.RecordExecution("agent-a")
	res := b.Check("agent-a", buy("AAPLx", 10), richPortfolio())
	assert.False(t, res.Allowed)
	require.Len(t, res.Activations, 1)
	assert.Equal(t, DailyTradeLimit, res.Activations[0].Breaker)

	clk.Advance(12 * time.Hour)
	res = b.Check("agent-a", buy("AAPLx", 10), richPortfolio())
	assert.True(t, res.Allowed, "new UTC day resets the count")
	assert.Equal(t, 0, b.Status().Agents["agent-a"].TradesToday)
}

func TestCheck_DailyLossBaselineRecapturedNextDay(t *testing.T) {
	cfg := DefaultConfig()
	cfg.CooldownSeconds = 0
	cfg.DailyLossLimitPercent = 10
	b, clk := newTestBreaker(cfg)

	assert.True(t, b.Check("agent-a", buy("AAPLx", 10), decision.Portfolio{CashBalance: 5000, TotalValue: 10000}).Allowed)
	down9 := decision.Portfolio{CashBalance: 5000, TotalValue: 9100}
	assert.True(t, b.Check("agent-a", buy("AAPLx", 10), down9).Allowed)

	// 15:00 -> next day 01:00 UTC
	clk.Advance(10 * time.Hour)
	assert.True(t, b.Check("agent-a", buy("AAPLx", 10), down9).Allowed, "first check of the day sets a new baseline")

	nearLimit := decision.Portfolio{CashBalance: 5000, TotalValue: 8200}
	assert.True(t, b.Check("agent-a", buy("AAPLx", 10), nearLimit).Allowed, "9.89% from the new baseline, 18% from the old one")

	atLimit := decision.Portfolio{CashBalance: 5000, TotalValue: 8190}
	res := b.Check("agent-a", buy("AAPLx", 10), atLimit)
	assert.False(t, res.Allowed)
	require.Len(t, res.Activations, 1)
	assert.Equal(t, DailyLossLimit, res.Activations[0].Breaker)
	assert.Contains(t, res.Activations[0].Details, "start=9100.00")
}

func TestCheck_DailyLossLimitInclusive(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DailyLossLimitPercent = 10
	b, _ := newTestBreaker(cfg)

	start := decision.Portfolio{CashBalance: 5000, TotalValue: 10000}
	assert.True(t, b.Check("agent-a", buy("AAPLx", 10), start).Allowed)

	down9 := decision.Portfolio{CashBalance: 5000, TotalValue: 9100}
	assert.True(t, b.Check("agent-a", buy("AAPLx", 10), down9).Allowed)

	down10 := decision.Portfolio{CashBalance: 5000, TotalValue: 9000}
	res := b.Check("agent-a", buy("AAPLx", 10), down10)
	assert.False(t, res.Allowed)
	require.Len(t, res.Activations, 1)
	assert.Equal(t, DailyLossLimit, res.Activations[0].Breaker)
	assert.Equal(t, buy("AAPLx", 10), res.Decision)

	sell := decision.Decision{Action: decision.ActionSell, Symbol: "AAPLx", Quantity: 1}
	assert.False(t, b.Check("agent-a", sell, down10).Allowed, "blocking checks apply to sells too")
}

func TestCheck_BlockingOrderIsFixed(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxDailyTrades = 1
	b, _ := newTestBreaker(cfg)

	b.Check("agent-a", buy("AAPLx", 10), decision.Portfolio{CashBalance: 100, TotalValue: 1000})
	b.RecordExecution("agent-a")

	res := b.Check("agent-a", buy("AAPLx", 10), decision.Portfolio{CashBalance: 100, TotalValue: 10})
	require.Len(t, res.Activations, 1)
	assert.Equal(t, Cooldown, res.Activations[0].Breaker)
}

func TestConfigure_PartialMerge(t *testing.T) {
	b, _ := newTestBreaker(DefaultConfig())
	limit := 75.0
	cfg := b.Configure(ConfigPatch{MaxTradeNotional: &limit})

	assert.Equal(t, 75.0, cfg.MaxTradeNotional)
	assert.Equal(t, DefaultMaxDailyTrades, cfg.MaxDailyTrades)
	assert.Equal(t, cfg, b.Config())
}

func TestStatusAndReset(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxTradeNotional = 10
	b, clk := newTestBreaker(cfg)

	var seen []Activation
	b.SetActivationHandler(func(a Activation) { seen = append(seen, a) })

	b.Check("agent-a", buy("AAPLx", 20), richPortfolio())
	b.RecordExecution("agent-a")
	clk.Advance(time.Minute)
	b.Check("agent-a", buy("AAPLx", 20), richPortfolio())

	st := b.Status()
	assert.Equal(t, 2, st.TotalActivations)
	require.Len(t, st.RecentActivations, 2)
	assert.Equal(t, MaxTradeSize, st.RecentActivations[0].Breaker)
	assert.Equal(t, Cooldown, st.RecentActivations[1].Breaker)
	require.Contains(t, st.Agents, "agent-a")
	assert.Equal(t, 1, st.Agents["agent-a"].TradesToday)
	require.NotNil(t, st.Agents["agent-a"].LastTradeAt)
	assert.Len(t, seen, 2)

	b.ResetAll()
	st = b.Status()
	assert.Zero(t, st.TotalActivations)
	assert.Empty(t, st.RecentActivations)
	assert.Empty(t, st.Agents)
}

func TestActivationLogIsBounded(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxTradeNotional = 1
	clk := &fakeClock{now: time.Date(2026, 3, 2, 15, 0, 0, 0, time.UTC)}
	b := New(cfg, WithClock(clk.Now), WithActivationLogSize(3), WithStatusRecent(2))

	for i := 0; i < 5; i++ {
		b.Check("agent-a", buy("AAPLx", float64(10+i)), richPortfolio())
	}
	all := b.RecentActivations(0)
	require.Len(t, all, 3)
	assert.Contains(t, all[0].Details, "$12.00")
	assert.Contains(t, all[2].Details, "$14.00")
	assert.Len(t, b.Status().RecentActivations, 2)
	assert.Equal(t, 5, b.Status().TotalActivations)
}
