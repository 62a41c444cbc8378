package scheduler

import (
	"context"
	"time"

	"tradegate/internal/logger"
)

// RoundScheduler 在每个 Interval 边界（UTC 对齐）之后 Offset 处触发一次交易轮次。
// 任务同步执行；任务耗时超过一个周期时，错过的边界不会补跑。
type RoundScheduler struct {
	Interval       time.Duration
	Offset         time.Duration
	RunImmediately bool

	nowFn   func() time.Time
	afterFn func(time.Duration) <-chan time.Time
}

func NewRoundScheduler(interval, offset time.Duration) *RoundScheduler {
	return &RoundScheduler{
		Interval: interval,
		Offset:   offset,
		nowFn:    time.Now,
		afterFn:  time.After,
	}
}

// Run 阻塞直到 ctx 结束，返回 ctx.Err()。
func (s *RoundScheduler) Run(ctx context.Context, task func(context.Context)) error {
	if task == nil {
		logger.Warnf("RoundScheduler: task is nil, exit")
		return nil
	}
	if s.Interval <= 0 {
		logger.Warnf("RoundScheduler: invalid interval=%s, exit", s.Interval)
		return nil
	}
	if s.Offset < 0 {
		logger.Warnf("RoundScheduler: negative offset=%s, clamp to 0", s.Offset)
		s.Offset = 0
	}
	if s.nowFn == nil {
		s.nowFn = time.Now
	}
	if s.afterFn == nil {
		s.afterFn = time.After
	}

	startAt := s.nowFn().UTC()
	logger.Infof("RoundScheduler: started interval=%s offset=%s run_immediately=%v at=%s",
		s.Interval, s.Offset, s.RunImmediately, startAt.Format(time.RFC3339))

	if s.RunImmediately {
		if err := ctx.Err(); err != nil {
			return err
		}
		task(ctx)
	}

	for {
		if err := ctx.Err(); err != nil {
			logger.Infof("RoundScheduler: ctx done, exit")
			return err
		}
		now := s.nowFn().UTC()
		wakeAt := s.NextRun(now)
		wait := wakeAt.Sub(now)
		logger.Debugf("RoundScheduler: next round at=%s (in %s) | uptime=%s",
			wakeAt.Format(time.RFC3339), wait.Truncate(time.Second), now.Sub(startAt).Truncate(time.Second))

		select {
		case <-ctx.Done():
			logger.Infof("RoundScheduler: ctx done, exit")
			return ctx.Err()
		case <-s.afterFn(wait):
		}
		task(ctx)
	}
}

// NextRun 返回 now 之后下一个严格晚于 now 的触发时刻。
func (s *RoundScheduler) NextRun(now time.Time) time.Time {
	now = now.UTC()
	wakeAt := now.Truncate(s.Interval).Add(s.Offset)
	for !wakeAt.After(now) {
		wakeAt = wakeAt.Add(s.Interval)
	}
	return wakeAt
}
