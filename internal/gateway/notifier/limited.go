package notifier

import (
	"context"

	"tradegate/internal/pkg/ratelimit"
)

// Limited 让每条消息先经过 broadcast 限流器，避免触发平台的频率封禁。
type Limited struct {
	Next    TextNotifier
	Limiter *ratelimit.Limiter
}

func NewLimited(next TextNotifier, limiter *ratelimit.Limiter) *Limited {
	return &Limited{Next: next, Limiter: limiter}
}

func (l *Limited) SendText(ctx context.Context, text string) error {
	if l.Next == nil {
		return nil
	}
	if l.Limiter == nil {
		return l.Next.SendText(ctx, text)
	}
	return l.Limiter.Execute(ctx, func(ctx context.Context) error {
		return l.Next.SendText(ctx, text)
	})
}
