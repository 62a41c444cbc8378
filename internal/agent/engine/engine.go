package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"tradegate/internal/decision"
	"tradegate/internal/logger"
	"tradegate/internal/pkg/circuit"
	"tradegate/internal/pkg/ratelimit"
	"tradegate/internal/pkg/tradelock"
	"tradegate/internal/scheduler"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

const (
	RoundCompleted = "completed"
	RoundSkipped   = "skipped"
	RoundFailed    = "failed"
)

// Engine 运行交易轮次：持锁 → 并发收集提议 → 按 agent ID 顺序逐个过熔断器 → 执行。
type Engine struct {
	Agents     []Agent
	Portfolios PortfolioSource
	Executor   Executor
	Breaker    *circuit.Breaker
	Lock       *tradelock.Lock
	Limiters   *ratelimit.Registry
	Notifier   Notifier
	Audit      Auditor
	Observer   Observer

	Holder string
	DryRun bool
	Jitter bool

	nowFn   func() time.Time
	newID   func() string
	sleepFn func(context.Context) error
}

type Params struct {
	Agents     []Agent
	Portfolios PortfolioSource
	Executor   Executor
	Breaker    *circuit.Breaker
	Lock       *tradelock.Lock
	Limiters   *ratelimit.Registry
	Notifier   Notifier
	Audit      Auditor
	Observer   Observer
	Holder     string
	DryRun     bool
	Jitter     bool
}

func New(p Params) *Engine {
	agents := make([]Agent, 0, len(p.Agents))
	for _, a := range p.Agents {
		if a != nil {
			agents = append(agents, a)
		}
	}
	sort.SliceStable(agents, func(i, j int) bool { return agents[i].ID() < agents[j].ID() })
	holder := strings.TrimSpace(p.Holder)
	if holder == "" {
		holder = "engine"
	}
	lock := p.Lock
	if lock == nil {
		lock = tradelock.Default()
	}
	breaker := p.Breaker
	if breaker == nil {
		breaker = circuit.Default()
	}
	return &Engine{
		Agents:     agents,
		Portfolios: p.Portfolios,
		Executor:   p.Executor,
		Breaker:    breaker,
		Lock:       lock,
		Limiters:   p.Limiters,
		Notifier:   p.Notifier,
		Audit:      p.Audit,
		Observer:   p.Observer,
		Holder:     holder,
		DryRun:     p.DryRun,
		Jitter:     p.Jitter,
		nowFn:      time.Now,
		newID:      uuid.NewString,
		sleepFn:    ratelimit.SleepJitter,
	}
}

// Run 按调度器节奏循环执行轮次，直到 ctx 结束。
func (e *Engine) Run(ctx context.Context, sched *scheduler.RoundScheduler) error {
	logger.Infof("Engine: starting agents=%d dry_run=%v jitter=%v", len(e.Agents), e.DryRun, e.Jitter)
	return sched.Run(ctx, func(ctx context.Context) {
		if _, err := e.RunRound(ctx); err != nil {
			logger.Errorf("Engine: round failed: %v", err)
		}
	})
}

// RunRound 执行一轮。锁被占用时返回 Skipped 报告而不是错误。
func (e *Engine) RunRound(ctx context.Context) (RoundReport, error) {
	roundID := e.newID()
	startedAt := e.nowFn().UTC()
	out, err := tradelock.WithLock(ctx, e.Lock, e.Holder, func(ctx context.Context) (RoundReport, error) {
		return e.runLocked(ctx, roundID, startedAt)
	})
	if err != nil {
		e.observeRound(RoundFailed, e.nowFn().Sub(startedAt))
		return RoundReport{}, fmt.Errorf("round %s: %w", roundID, err)
	}
	report := out.Result
	if out.Skipped {
		report = RoundReport{
			RoundID:    roundID,
			Holder:     e.Holder,
			StartedAt:  startedAt,
			FinishedAt: e.nowFn().UTC(),
			Skipped:    true,
			DryRun:     e.DryRun,
			Existing:   out.Existing,
		}
		holder := ""
		if out.Existing != nil {
			holder = out.Existing.Holder
		}
		logger.Infof("Round skipped round=%s: lock held by %s", roundID, holder)
		e.observeRound(RoundSkipped, 0)
	} else {
		executed, blocked := report.Counts()
		logger.Infof("Round finished round=%s agents=%d executed=%d blocked=%d duration=%s",
			roundID, len(report.Results), executed, blocked, report.Duration())
		e.observeRound(RoundCompleted, report.Duration())
	}
	if e.Audit != nil {
		if err := e.Audit.SaveRound(ctx, report.Record()); err != nil {
			logger.Warnf("Round audit write failed round=%s: %v", roundID, err)
		}
	}
	e.notifyRound(ctx, report)
	return report, nil
}

func (e *Engine) runLocked(ctx context.Context, roundID string, startedAt time.Time) (RoundReport, error) {
	report := RoundReport{
		RoundID:   roundID,
		Holder:    e.Holder,
		StartedAt: startedAt,
		DryRun:    e.DryRun,
		Results:   make([]AgentResult, len(e.Agents)),
	}
	portfolios := make([]decision.Portfolio, len(e.Agents))
	logger.Infof("Round start round=%s agents=%d", roundID, len(e.Agents))

	// 提议并发收集；单个 agent 失败只记录在结果里，限流器关闭或 ctx 取消则终止整轮。
	group, gctx := errgroup.WithContext(ctx)
	for i, agent := range e.Agents {
		i, agent := i, agent
		report.Results[i].AgentID = agent.ID()
		group.Go(func() error {
			if e.Jitter && e.sleepFn != nil {
				if err := e.sleepFn(gctx); err != nil {
					return err
				}
			}
			p, d, err := e.propose(gctx, agent)
			if err != nil {
				if fatal(gctx, err) {
					return err
				}
				report.Results[i].Error = err.Error()
				logger.Warnf("Round %s agent=%s proposal failed: %v", roundID, agent.ID(), err)
				return nil
			}
			portfolios[i] = p
			report.Results[i].Proposed = &d
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return RoundReport{}, err
	}

	for i := range report.Results {
		res := &report.Results[i]
		if res.Proposed == nil {
			continue
		}
		checked := e.Breaker.Check(res.AgentID, *res.Proposed, portfolios[i])
		final := checked.Decision
		res.Final = &final
		res.Allowed = checked.Allowed
		res.Activations = checked.Activations
		e.observeDecision(string(final.Action), checked.Allowed)

		if !checked.Allowed || final.Action == decision.ActionHold {
			continue
		}
		if e.DryRun {
			logger.Infof("Round %s agent=%s dry run, not executing %s %s %.2f",
				roundID, res.AgentID, final.Action, final.Symbol, final.Quantity)
			continue
		}
		if err := e.execute(ctx, res.AgentID, final); err != nil {
			if fatal(ctx, err) {
				return RoundReport{}, err
			}
			res.Error = err.Error()
			logger.Errorf("Round %s agent=%s execute failed: %v", roundID, res.AgentID, err)
			continue
		}
		res.Executed = true
		e.Breaker.RecordExecution(res.AgentID)
	}
	report.FinishedAt = e.nowFn().UTC()
	return report, nil
}

func (e *Engine) propose(ctx context.Context, agent Agent) (decision.Portfolio, decision.Decision, error) {
	if e.Portfolios == nil {
		return decision.Portfolio{}, decision.Decision{}, fmt.Errorf("no portfolio source configured")
	}
	rpc, err := e.limiter(ratelimit.RPC)
	if err != nil {
		return decision.Portfolio{}, decision.Decision{}, err
	}
	llm, err := e.limiter(ratelimit.LLM)
	if err != nil {
		return decision.Portfolio{}, decision.Decision{}, err
	}
	p, err := ratelimit.Do(ctx, rpc, func(ctx context.Context) (decision.Portfolio, error) {
		return e.Portfolios.Portfolio(ctx, agent.ID())
	})
	if err != nil {
		return decision.Portfolio{}, decision.Decision{}, fmt.Errorf("portfolio: %w", err)
	}
	d, err := ratelimit.Do(ctx, llm, func(ctx context.Context) (decision.Decision, error) {
		return agent.Decide(ctx, p)
	})
	if err != nil {
		return decision.Portfolio{}, decision.Decision{}, fmt.Errorf("decide: %w", err)
	}
	if err := d.Validate(); err != nil {
		return decision.Portfolio{}, decision.Decision{}, fmt.Errorf("decide: %w", err)
	}
	return p, d, nil
}

func (e *Engine) execute(ctx context.Context, agentID string, d decision.Decision) error {
	if e.Executor == nil {
		return fmt.Errorf("no executor configured")
	}
	quote, err := e.limiter(ratelimit.Quote)
	if err != nil {
		return err
	}
	return quote.Execute(ctx, func(ctx context.Context) error {
		return e.Executor.Execute(ctx, agentID, d)
	})
}

// limiter 返回命名限流器。只有未配置注册表时返回 nil（直接放行）；
// 注册表存在但缺少该名称属于装配错误。
func (e *Engine) limiter(name string) (*ratelimit.Limiter, error) {
	if e.Limiters == nil {
		return nil, nil
	}
	return e.Limiters.Lookup(name)
}

func fatal(ctx context.Context, err error) bool {
	return ctx.Err() != nil ||
		errors.Is(err, ratelimit.ErrShuttingDown) ||
		errors.Is(err, ratelimit.ErrUnknownLimiter)
}

func (e *Engine) observeRound(result string, took time.Duration) {
	if e.Observer != nil {
		e.Observer.ObserveRound(result, took)
	}
}

func (e *Engine) observeDecision(action string, allowed bool) {
	if e.Observer != nil {
		e.Observer.ObserveDecision(action, allowed)
	}
}
