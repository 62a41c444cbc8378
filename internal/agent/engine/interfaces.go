package engine

import (
	"context"
	"time"

	"tradegate/internal/decision"
	"tradegate/internal/gateway/notifier"
	"tradegate/internal/store/audit"
)

// Agent 根据当前组合给出一个交易提议。
type Agent interface {
	ID() string
	Decide(ctx context.Context, portfolio decision.Portfolio) (decision.Decision, error)
}

// PortfolioSource 返回某个 agent 的组合快照。
type PortfolioSource interface {
	Portfolio(ctx context.Context, agentID string) (decision.Portfolio, error)
}

// Executor 执行通过风控的决策（持久化/下单层）。
type Executor interface {
	Execute(ctx context.Context, agentID string, d decision.Decision) error
}

// Notifier handles external notifications (e.g. Telegram).
type Notifier interface {
	SendStructured(ctx context.Context, msg notifier.StructuredMessage) error
}

type Auditor interface {
	SaveRound(ctx context.Context, rec audit.RoundRecord) error
}

type Observer interface {
	ObserveRound(result string, took time.Duration)
	ObserveDecision(action string, allowed bool)
}
