package decision

import "strings"

// 中文说明：
// 本文件定义 agent 提交的交易提案与组合快照，均为已校验的普通数据，风控核心只读不改。

type Action string

const (
	ActionBuy  Action = "buy"
	ActionSell Action = "sell"
	ActionHold Action = "hold"
)

func (a Action) Valid() bool {
	switch a {
	case ActionBuy, ActionSell, ActionHold:
		return true
	default:
		return false
	}
}

// Decision 单个 agent 的交易提案。Quantity 对 buy 为 USD 名义金额，对 sell 为股数。
type Decision struct {
	Action     Action  `json:"action"`
	Symbol     string  `json:"symbol"`
	Quantity   float64 `json:"quantity"`
	Reasoning  string  `json:"reasoning,omitempty"`
	Confidence float64 `json:"confidence,omitempty"`
}

// Hold 返回保留原始推理的 hold 决策，用于风控降级。
func (d Decision) Hold(tag string) Decision {
	out := d
	out.Action = ActionHold
	out.Quantity = 0
	if tag = strings.TrimSpace(tag); tag != "" {
		out.Reasoning = strings.TrimSpace("[" + tag + "] " + d.Reasoning)
	}
	return out
}

// Position 单个持仓。
type Position struct {
	Symbol       string  `json:"symbol"`
	Quantity     float64 `json:"quantity"`
	AvgCost      float64 `json:"avg_cost"`
	CurrentPrice float64 `json:"current_price"`
}

func (p Position) MarketValue() float64 {
	return p.Quantity * p.CurrentPrice
}

// Portfolio 决策时刻的组合快照。
type Portfolio struct {
	CashBalance float64    `json:"cash_balance"`
	Positions   []Position `json:"positions"`
	TotalValue  float64    `json:"total_value"`
	TotalPnl    float64    `json:"total_pnl"`
}

// Position 按 symbol（忽略大小写）查找持仓。
func (p Portfolio) Position(symbol string) (Position, bool) {
	symbol = strings.TrimSpace(symbol)
	for _, pos := range p.Positions {
		if strings.EqualFold(strings.TrimSpace(pos.Symbol), symbol) {
			return pos, true
		}
	}
	return Position{}, false
}
