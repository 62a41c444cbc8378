package circuit

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"tradegate/internal/decision"
	"tradegate/internal/logger"

	"github.com/shopspring/decimal"
)

const dayKeyLayout = "2006-01-02"

// agentState 是单个 agent 的当日计数，惰性创建，跨日或 ResetAll 时清零。
type agentState struct {
	tradesToday     int
	lastTradeAt     time.Time
	dayKey          string
	dailyStartValue float64
	startCaptured   bool
}

// Result 是一次检查的结果。Decision 是新值，调用方传入的决策不会被修改。
type Result struct {
	Allowed     bool              `json:"allowed"`
	Decision    decision.Decision `json:"decision"`
	Activations []Activation      `json:"activations"`
}

// AgentStatus 对外暴露的 agent 计数快照。
type AgentStatus struct {
	TradesToday int        `json:"trades_today"`
	LastTradeAt *time.Time `json:"last_trade_at,omitempty"`
}

// Status 汇总配置、触发计数与各 agent 状态。
type Status struct {
	Config            Config                 `json:"config"`
	TotalActivations  int                    `json:"total_activations"`
	RecentActivations []Activation           `json:"recent_activations"`
	Agents            map[string]AgentStatus `json:"agents"`
}

// Breaker 是按 agent 维度的交易前风控闸门。
type Breaker struct {
	mu           sync.Mutex
	cfg          Config
	agents       map[string]*agentState
	log          *activationLog
	statusRecent int
	nowFn        func() time.Time
	onActivation func(Activation)
}

type Option func(*Breaker)

// WithClock 注入时钟，测试用。
func WithClock(now func() time.Time) Option {
	return func(b *Breaker) {
		if now != nil {
			b.nowFn = now
		}
	}
}

// WithActivationLogSize 设置环形缓冲容量。
func WithActivationLogSize(n int) Option {
	return func(b *Breaker) {
		if n > 0 {
			b.log = newActivationLog(n)
		}
	}
}

// WithStatusRecent 设置 Status 返回的最近触发条数。
func WithStatusRecent(n int) Option {
	return func(b *Breaker) {
		if n > 0 {
			b.statusRecent = n
		}
	}
}

func New(cfg Config, opts ...Option) *Breaker {
	b := &Breaker{
		cfg:          cfg,
		agents:       make(map[string]*agentState),
		log:          newActivationLog(DefaultActivationLogSize),
		statusRecent: DefaultStatusRecent,
		nowFn:        time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	return b
}

var (
	defaultOnce    sync.Once
	defaultBreaker *Breaker
)

// Default 返回进程级共享实例，仅为便利；需要隔离的场景请自行 New。
func Default() *Breaker {
	defaultOnce.Do(func() {
		defaultBreaker = New(DefaultConfig())
	})
	return defaultBreaker
}

// SetActivationHandler 注册触发回调；回调在锁外同步执行。
func (b *Breaker) SetActivationHandler(handler func(Activation)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onActivation = handler
}

// Configure 合并部分配置并返回生效后的配置。
func (b *Breaker) Configure(patch ConfigPatch) Config {
	b.mu.Lock()
	b.cfg = b.cfg.Merge(patch)
	cfg := b.cfg
	b.mu.Unlock()
	logger.Infof("CircuitBreaker configured max_trade=%.2f daily_loss=%.2f%% cooldown=%ds position_limit=%.2f%% max_daily_trades=%d",
		cfg.MaxTradeNotional, cfg.DailyLossLimitPercent, cfg.CooldownSeconds, cfg.PositionLimitPercent, cfg.MaxDailyTrades)
	return cfg
}

func (b *Breaker) Config() Config {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.cfg
}

// Check 按固定顺序执行拦截检查，再对买单依次裁剪。只读检查不消耗冷却与次数额度。
func (b *Breaker) Check(agentID string, d decision.Decision, portfolio decision.Portfolio) Result {
	if d.Action == decision.ActionHold {
		return Result{Allowed: true, Decision: d}
	}

	b.mu.Lock()
	now := b.nowFn()
	cfg := b.cfg
	st := b.stateLocked(agentID, now)
	if !st.startCaptured {
		st.dailyStartValue = portfolio.TotalValue
		st.startCaptured = true
	}
	snapshot := *st
	b.mu.Unlock()

	ev := evaluation{agentID: agentID, now: now, cfg: cfg}
	res := ev.run(snapshot, d, portfolio)
	b.record(res.Activations)
	return res
}

// RecordExecution 仅在真实成交后调用，提交当日次数与最近成交时间。
func (b *Breaker) RecordExecution(agentID string) {
	b.mu.Lock()
	now := b.nowFn()
	st := b.stateLocked(agentID, now)
	st.tradesToday++
	st.lastTradeAt = now
	trades := st.tradesToday
	b.mu.Unlock()
	logger.Debugf("CircuitBreaker recorded execution agent=%s trades_today=%d", agentID, trades)
}

// ResetAll 清空全部 agent 状态与触发日志。
func (b *Breaker) ResetAll() {
	b.mu.Lock()
	b.agents = make(map[string]*agentState)
	b.log.reset()
	b.mu.Unlock()
	logger.Infof("CircuitBreaker state reset")
}

func (b *Breaker) Status() Status {
	b.mu.Lock()
	defer b.mu.Unlock()
	agents := make(map[string]AgentStatus, len(b.agents))
	for id, st := range b.agents {
		as := AgentStatus{TradesToday: st.tradesToday}
		if !st.lastTradeAt.IsZero() {
			ts := st.lastTradeAt
			as.LastTradeAt = &ts
		}
		agents[id] = as
	}
	return Status{
		Config:            b.cfg,
		TotalActivations:  b.log.total,
		RecentActivations: b.log.recent(b.statusRecent),
		Agents:            agents,
	}
}

// RecentActivations 返回最近 limit 条触发记录（旧→新），limit <= 0 返回全部缓冲。
func (b *Breaker) RecentActivations(limit int) []Activation {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.log.recent(limit)
}

// AgentIDs 返回已有状态的 agent，按字典序。
func (b *Breaker) AgentIDs() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	ids := make([]string, 0, len(b.agents))
	for id := range b.agents {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (b *Breaker) stateLocked(agentID string, now time.Time) *agentState {
	day := now.UTC().Format(dayKeyLayout)
	st, ok := b.agents[agentID]
	if !ok {
		st = &agentState{dayKey: day}
		b.agents[agentID] = st
		return st
	}
	if st.dayKey != day {
		*st = agentState{dayKey: day}
	}
	return st
}

func (b *Breaker) record(acts []Activation) {
	if len(acts) == 0 {
		return
	}
	b.mu.Lock()
	for _, a := range acts {
		b.log.add(a)
	}
	handler := b.onActivation
	b.mu.Unlock()
	for _, a := range acts {
		logger.Warnf("CircuitBreaker %s %s agent=%s: %s", a.Breaker, a.Outcome, a.AgentID, a.Details)
		if handler != nil {
			handler(a)
		}
	}
}

// evaluation 在状态快照上执行检查，不持锁。
type evaluation struct {
	agentID string
	now     time.Time
	cfg     Config
	acts    []Activation
}

func (e *evaluation) activate(name Name, outcome Outcome, format string, args ...any) {
	e.acts = append(e.acts, Activation{
		Breaker:   name,
		AgentID:   e.agentID,
		Outcome:   outcome,
		Timestamp: e.now,
		Details:   fmt.Sprintf(format, args...),
	})
}

func (e *evaluation) run(st agentState, d decision.Decision, p decision.Portfolio) Result {
	if e.blocked(st, p) {
		return Result{Allowed: false, Decision: d, Activations: e.acts}
	}
	if d.Action != decision.ActionBuy {
		return Result{Allowed: true, Decision: d}
	}
	out, allowed := e.clampBuy(d, p)
	return Result{Allowed: allowed, Decision: out, Activations: e.acts}
}

func (e *evaluation) blocked(st agentState, p decision.Portfolio) bool {
	cfg := e.cfg
	if cfg.CooldownSeconds > 0 && !st.lastTradeAt.IsZero() {
		elapsed := e.now.Sub(st.lastTradeAt)
		if elapsed < cfg.Cooldown() {
			remaining := (cfg.Cooldown() - elapsed).Round(time.Second)
			e.activate(Cooldown, OutcomeBlocked, "cooldown active: %s remaining of %ds", remaining, cfg.CooldownSeconds)
			return true
		}
	}
	if cfg.MaxDailyTrades > 0 && st.tradesToday >= cfg.MaxDailyTrades {
		e.activate(DailyTradeLimit, OutcomeBlocked, "daily trade limit reached: %d/%d", st.tradesToday, cfg.MaxDailyTrades)
		return true
	}
	if cfg.DailyLossLimitPercent > 0 {
		loss := lossPercent(st.dailyStartValue, p.TotalValue)
		if loss.GreaterThanOrEqual(decFromFloat(cfg.DailyLossLimitPercent)) {
			e.activate(DailyLossLimit, OutcomeBlocked, "daily loss %s%% >= limit %.2f%% (start=%.2f now=%.2f)",
				loss.StringFixed(2), cfg.DailyLossLimitPercent, st.dailyStartValue, p.TotalValue)
			return true
		}
	}
	return false
}

// clampBuy 依次执行三项裁剪；返回 false 表示被降级为 hold 拦截。
func (e *evaluation) clampBuy(d decision.Decision, p decision.Portfolio) (decision.Decision, bool) {
	cfg := e.cfg
	out := d
	qty := decFromFloat(d.Quantity)
	changed := false

	if cfg.MaxTradeNotional > 0 {
		limit := decFromFloat(cfg.MaxTradeNotional)
		if qty.GreaterThan(limit) {
			next := floorCents(limit)
			e.activate(MaxTradeSize, OutcomeClamped, "buy $%s clamped to max trade $%s", qty.StringFixed(2), next.StringFixed(2))
			qty = next
			changed = true
			if !qty.IsPositive() {
				return d.Hold(tag(MaxTradeSize)), true
			}
		}
	}

	if cfg.PositionLimitPercent > 0 {
		exposure := decimal.Zero
		if pos, ok := p.Position(d.Symbol); ok {
			exposure = decFromFloat(pos.CurrentPrice).Mul(decFromFloat(pos.Quantity))
		}
		limit := percentOf(p.TotalValue, cfg.PositionLimitPercent)
		headroom := limit.Sub(exposure)
		if !headroom.IsPositive() {
			e.activate(PositionLimit, OutcomeBlocked, "%s exposure $%s already at cap $%s (%.2f%% of $%.2f)",
				strings.ToUpper(d.Symbol), exposure.StringFixed(2), limit.StringFixed(2), cfg.PositionLimitPercent, p.TotalValue)
			return d.Hold(tag(PositionLimit)), false
		}
		if qty.GreaterThan(headroom) {
			next := floorCents(headroom)
			e.activate(PositionLimit, OutcomeClamped, "buy $%s clamped to headroom $%s (cap $%s - exposure $%s)",
				qty.StringFixed(2), next.StringFixed(2), limit.StringFixed(2), exposure.StringFixed(2))
			qty = next
			changed = true
			if !qty.IsPositive() {
				return d.Hold(tag(PositionLimit)), true
			}
		}
	}

	cash := decFromFloat(p.CashBalance)
	if cash.LessThan(decFromFloat(MinCashFloor)) {
		e.activate(InsufficientFunds, OutcomeBlocked, "cash $%s below operating floor $%.2f", cash.StringFixed(2), MinCashFloor)
		return d.Hold(tag(InsufficientFunds)), false
	}
	if qty.GreaterThan(cash) {
		next := floorCents(cash)
		e.activate(InsufficientFunds, OutcomeClamped, "buy $%s clamped to cash balance $%s", qty.StringFixed(2), next.StringFixed(2))
		qty = next
		changed = true
		if !qty.IsPositive() {
			return d.Hold(tag(InsufficientFunds)), true
		}
	}

	if changed {
		out.Quantity = decToFloat(qty)
	}
	return out, true
}

func tag(name Name) string {
	return "CIRCUIT BREAKER: " + string(name)
}
