package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"tradegate/internal/logger"
)

var (
	// ErrQueueFull 令牌耗尽且等待队列已满，调用方应退避或丢弃。
	ErrQueueFull = errors.New("rate limiter queue full")
	// ErrShuttingDown 限流器已销毁，被包裹的调用从未执行。
	ErrShuttingDown = errors.New("rate limiter shutting down")
)

// Config 描述单个外部依赖的令牌桶参数。
type Config struct {
	Name           string        `json:"name"`
	MaxTokens      int           `json:"max_tokens"`
	RefillRate     int           `json:"refill_rate"`
	RefillInterval time.Duration `json:"refill_interval"`
	MaxQueueSize   int           `json:"max_queue_size"`
}

func (c Config) normalized() Config {
	if c.MaxTokens <= 0 {
		c.MaxTokens = 1
	}
	if c.RefillRate <= 0 {
		c.RefillRate = 1
	}
	if c.RefillInterval <= 0 {
		c.RefillInterval = time.Second
	}
	if c.MaxQueueSize < 0 {
		c.MaxQueueSize = 0
	}
	return c
}

// waiter 是排队中的延续记录：ready 收到 nil 表示已分到令牌，否则为终止错误。
type waiter struct {
	enqueuedAt time.Time
	ready      chan error
}

// Metrics 是限流器的只读快照。
type Metrics struct {
	Name          string        `json:"name"`
	CurrentTokens int           `json:"current_tokens"`
	MaxTokens     int           `json:"max_tokens"`
	QueueLength   int           `json:"queue_length"`
	TotalRequests int64         `json:"total_requests"`
	RateLimitHits int64         `json:"rate_limit_hits"`
	TotalWait     time.Duration `json:"total_wait"`
	AverageWait   time.Duration `json:"average_wait"`
}

// Limiter 是按固定节拍补充令牌、带有界 FIFO 队列的令牌桶。
type Limiter struct {
	cfg Config

	mu       sync.Mutex
	tokens   int
	queue    []*waiter
	closed   bool
	requests int64
	hits     int64
	settled  int64
	waited   time.Duration

	nowFn    func() time.Time
	stop     chan struct{}
	stopOnce sync.Once
}

// New 创建满桶限流器并启动补充协程；不再使用时必须 Destroy。
func New(cfg Config) *Limiter {
	l := newLimiter(cfg)
	go l.refillLoop()
	return l
}

func newLimiter(cfg Config) *Limiter {
	cfg = cfg.normalized()
	return &Limiter{
		cfg:    cfg,
		tokens: cfg.MaxTokens,
		nowFn:  time.Now,
		stop:   make(chan struct{}),
	}
}

func (l *Limiter) Name() string { return l.cfg.Name }

func (l *Limiter) Config() Config { return l.cfg }

// Execute 在拿到令牌后执行 fn。令牌充足时立即执行；否则排队等待补充，
// 队列满时立即返回 ErrQueueFull。ctx 取消会把调用移出队列。nil 限流器直接执行 fn。
func (l *Limiter) Execute(ctx context.Context, fn func(context.Context) error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if l == nil {
		return fn(ctx)
	}
	if err := l.acquire(ctx); err != nil {
		return err
	}
	return fn(ctx)
}

// Do 是 Execute 的泛型版本。
func Do[T any](ctx context.Context, l *Limiter, fn func(context.Context) (T, error)) (T, error) {
	var out T
	err := l.Execute(ctx, func(ctx context.Context) error {
		var err error
		out, err = fn(ctx)
		return err
	})
	return out, err
}

func (l *Limiter) acquire(ctx context.Context) error {
	l.mu.Lock()
	l.requests++
	if l.closed {
		l.mu.Unlock()
		return fmt.Errorf("%s: %w", l.cfg.Name, ErrShuttingDown)
	}
	if l.tokens > 0 {
		l.tokens--
		l.mu.Unlock()
		return nil
	}
	if len(l.queue) >= l.cfg.MaxQueueSize {
		depth := len(l.queue)
		l.mu.Unlock()
		logger.Warnf("RateLimiter %s queue full depth=%d", l.cfg.Name, depth)
		return fmt.Errorf("%s: %w", l.cfg.Name, ErrQueueFull)
	}
	w := &waiter{enqueuedAt: l.nowFn(), ready: make(chan error, 1)}
	l.queue = append(l.queue, w)
	l.hits++
	l.mu.Unlock()

	select {
	case err := <-w.ready:
		if err != nil {
			return fmt.Errorf("%s: %w", l.cfg.Name, err)
		}
		return nil
	case <-ctx.Done():
		return l.abandon(w, ctx.Err())
	}
}

// abandon 处理排队中途取消：仍在队列则移除；若令牌已同时分到则归还并转给下一个等待者。
func (l *Limiter) abandon(w *waiter, cause error) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i, q := range l.queue {
		if q == w {
			l.queue = append(l.queue[:i], l.queue[i+1:]...)
			return cause
		}
	}
	if err := <-w.ready; err != nil {
		return fmt.Errorf("%s: %w", l.cfg.Name, err)
	}
	if l.tokens < l.cfg.MaxTokens {
		l.tokens++
	}
	l.drainLocked()
	return cause
}

func (l *Limiter) refillLoop() {
	ticker := time.NewTicker(l.cfg.RefillInterval)
	defer ticker.Stop()
	for {
		select {
		case <-l.stop:
			return
		case <-ticker.C:
			l.refill()
		}
	}
}

// refill 补充 RefillRate 个令牌（封顶 MaxTokens），然后按 FIFO 顺序放行等待者。
func (l *Limiter) refill() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return
	}
	l.tokens += l.cfg.RefillRate
	if l.tokens > l.cfg.MaxTokens {
		l.tokens = l.cfg.MaxTokens
	}
	l.drainLocked()
}

func (l *Limiter) drainLocked() {
	now := l.nowFn()
	for l.tokens > 0 && len(l.queue) > 0 {
		w := l.queue[0]
		l.queue[0] = nil
		l.queue = l.queue[1:]
		l.tokens--
		l.settleLocked(w, now, nil)
	}
}

func (l *Limiter) settleLocked(w *waiter, now time.Time, err error) {
	l.settled++
	l.waited += now.Sub(w.enqueuedAt)
	w.ready <- err
}

// Destroy 停止补充并让所有排队调用以 ErrShuttingDown 失败。可重复调用。
func (l *Limiter) Destroy() {
	l.stopOnce.Do(func() {
		close(l.stop)
		l.mu.Lock()
		l.closed = true
		now := l.nowFn()
		pending := len(l.queue)
		for _, w := range l.queue {
			l.settleLocked(w, now, ErrShuttingDown)
		}
		l.queue = nil
		l.mu.Unlock()
		logger.Infof("RateLimiter %s destroyed, failed %d pending calls", l.cfg.Name, pending)
	})
}

func (l *Limiter) Metrics() Metrics {
	l.mu.Lock()
	defer l.mu.Unlock()
	m := Metrics{
		Name:          l.cfg.Name,
		CurrentTokens: l.tokens,
		MaxTokens:     l.cfg.MaxTokens,
		QueueLength:   len(l.queue),
		TotalRequests: l.requests,
		RateLimitHits: l.hits,
		TotalWait:     l.waited,
	}
	if l.settled > 0 {
		m.AverageWait = l.waited / time.Duration(l.settled)
	}
	return m
}
