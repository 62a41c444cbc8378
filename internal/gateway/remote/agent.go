package remote

import (
	"context"
	"strings"

	"tradegate/internal/decision"
)

// Agent 把后端托管的 agent 适配为 engine.Agent，输出经 decision.Parse 宽松解析。
type Agent struct {
	id     string
	client *Client
}

func NewAgent(id string, client *Client) *Agent {
	return &Agent{id: strings.TrimSpace(id), client: client}
}

// Agents 为每个 id 构造一个远程 agent，空 id 被忽略。
func (c *Client) Agents(ids []string) []*Agent {
	out := make([]*Agent, 0, len(ids))
	for _, id := range ids {
		if strings.TrimSpace(id) == "" {
			continue
		}
		out = append(out, NewAgent(id, c))
	}
	return out
}

func (a *Agent) ID() string { return a.id }

func (a *Agent) Decide(ctx context.Context, p decision.Portfolio) (decision.Decision, error) {
	raw, err := a.client.decide(ctx, a.id, p)
	if err != nil {
		return decision.Decision{}, err
	}
	return decision.Parse(raw)
}
