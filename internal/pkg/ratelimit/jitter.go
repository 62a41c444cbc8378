package ratelimit

import (
	"context"
	"math/rand"
	"time"
)

const (
	minTradeJitter = 1 * time.Second
	maxTradeJitter = 5 * time.Second
)

// TradeJitter 返回 [1s, 5s] 内均匀分布的随机延迟，用于错开不同 agent 的同时请求。
func TradeJitter() time.Duration {
	span := int64(maxTradeJitter - minTradeJitter)
	return minTradeJitter + time.Duration(rand.Int63n(span+1))
}

// SleepJitter 等待一次 TradeJitter，ctx 取消时提前返回其错误。
func SleepJitter(ctx context.Context) error {
	timer := time.NewTimer(TradeJitter())
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
