package circuit

import "time"

// Name 标识触发的检查项。
type Name string

const (
	Cooldown          Name = "COOLDOWN"
	DailyTradeLimit   Name = "DAILY_TRADE_LIMIT"
	DailyLossLimit    Name = "DAILY_LOSS_LIMIT"
	MaxTradeSize      Name = "MAX_TRADE_SIZE"
	PositionLimit     Name = "POSITION_LIMIT"
	InsufficientFunds Name = "INSUFFICIENT_FUNDS"
)

type Outcome string

const (
	OutcomeBlocked Outcome = "blocked"
	OutcomeClamped Outcome = "clamped"
)

// Activation 记录一次熔断触发。
type Activation struct {
	Breaker   Name      `json:"breaker"`
	AgentID   string    `json:"agent_id"`
	Outcome   Outcome   `json:"outcome"`
	Timestamp time.Time `json:"timestamp"`
	Details   string    `json:"details"`
}

// activationLog 是固定容量的环形缓冲，满了覆盖最旧记录。
type activationLog struct {
	buf   []Activation
	next  int
	full  bool
	total int
}

func newActivationLog(capacity int) *activationLog {
	if capacity <= 0 {
		capacity = DefaultActivationLogSize
	}
	return &activationLog{buf: make([]Activation, capacity)}
}

func (l *activationLog) add(a Activation) {
	l.buf[l.next] = a
	l.next = (l.next + 1) % len(l.buf)
	if l.next == 0 {
		l.full = true
	}
	l.total++
}

func (l *activationLog) size() int {
	if l.full {
		return len(l.buf)
	}
	return l.next
}

// recent 返回最近 limit 条，按时间从旧到新。
func (l *activationLog) recent(limit int) []Activation {
	n := l.size()
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]Activation, 0, limit)
	start := l.next - limit
	if start < 0 {
		start += len(l.buf)
	}
	for i := 0; i < limit; i++ {
		out = append(out, l.buf[(start+i)%len(l.buf)])
	}
	return out
}

func (l *activationLog) reset() {
	clear(l.buf)
	l.next = 0
	l.full = false
	l.total = 0
}
