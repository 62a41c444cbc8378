package engine

import (
	"encoding/json"
	"time"

	"tradegate/internal/decision"
	"tradegate/internal/pkg/circuit"
	"tradegate/internal/pkg/tradelock"
	"tradegate/internal/store/audit"
)

// AgentResult 记录单个 agent 在一轮中的完整处理链路。
type AgentResult struct {
	AgentID     string               `json:"agent_id"`
	Proposed    *decision.Decision   `json:"proposed,omitempty"`
	Final       *decision.Decision   `json:"final,omitempty"`
	Allowed     bool                 `json:"allowed"`
	Activations []circuit.Activation `json:"activations,omitempty"`
	Executed    bool                 `json:"executed"`
	Error       string               `json:"error,omitempty"`
}

type RoundReport struct {
	RoundID    string            `json:"round_id"`
	Holder     string            `json:"holder"`
	StartedAt  time.Time         `json:"started_at"`
	FinishedAt time.Time         `json:"finished_at"`
	Skipped    bool              `json:"skipped"`
	DryRun     bool              `json:"dry_run"`
	Existing   *tradelock.Record `json:"existing_lock,omitempty"`
	Results    []AgentResult     `json:"results"`
}

// Counts 返回已执行与被拦截（allowed=false）的 agent 数。
func (r RoundReport) Counts() (executed, blocked int) {
	for _, res := range r.Results {
		if res.Executed {
			executed++
		}
		if res.Final != nil && !res.Allowed {
			blocked++
		}
	}
	return executed, blocked
}

func (r RoundReport) Duration() time.Duration {
	if r.FinishedAt.Before(r.StartedAt) {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// Record 转为审计存储的行格式，完整报告序列化到 Report。
func (r RoundReport) Record() audit.RoundRecord {
	executed, blocked := r.Counts()
	raw, err := json.Marshal(r)
	if err != nil {
		raw = nil
	}
	return audit.RoundRecord{
		RoundID:    r.RoundID,
		Holder:     r.Holder,
		Skipped:    r.Skipped,
		DryRun:     r.DryRun,
		Agents:     len(r.Results),
		Executed:   executed,
		Blocked:    blocked,
		Report:     raw,
		StartedAt:  r.StartedAt,
		FinishedAt: r.FinishedAt,
	}
}
