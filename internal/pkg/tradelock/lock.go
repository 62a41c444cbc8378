package tradelock

import (
	"context"
	"sync"
	"time"

	"tradegate/internal/logger"

	"github.com/google/uuid"
)

// DefaultTTL 应长于最长的一轮交易；持有者崩溃后最多阻塞这么久。
const DefaultTTL = 10 * time.Minute

// Record 是唯一锁槽位的内容。
type Record struct {
	LockID     string    `json:"lock_id"`
	Holder     string    `json:"holder"`
	AcquiredAt time.Time `json:"acquired_at"`
	ExpiresAt  time.Time `json:"expires_at"`
}

// AcquireResult 获取失败时 Existing 为当前持有者，不是错误。
type AcquireResult struct {
	Acquired bool    `json:"acquired"`
	LockID   string  `json:"lock_id,omitempty"`
	Existing *Record `json:"existing_lock,omitempty"`
}

type Status struct {
	Locked bool    `json:"locked"`
	Lock   *Record `json:"lock,omitempty"`
}

// Lock 是进程内非阻塞的轮次互斥锁：只尝试一次，忙则跳过，不排队。
// 过期在下一次 Acquire/Status 时惰性判断，没有后台清扫协程。
type Lock struct {
	mu    sync.Mutex
	slot  *Record
	ttl   time.Duration
	nowFn func() time.Time
	idFn  func() string
}

type Option func(*Lock)

func WithTTL(ttl time.Duration) Option {
	return func(l *Lock) {
		if ttl > 0 {
			l.ttl = ttl
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(l *Lock) {
		if now != nil {
			l.nowFn = now
		}
	}
}

func New(opts ...Option) *Lock {
	l := &Lock{ttl: DefaultTTL, nowFn: time.Now, idFn: uuid.NewString}
	for _, opt := range opts {
		if opt != nil {
			opt(l)
		}
	}
	return l
}

var (
	defaultOnce sync.Once
	defaultLock *Lock
)

// Default 返回进程级共享锁，仅为便利。
func Default() *Lock {
	defaultOnce.Do(func() { defaultLock = New() })
	return defaultLock
}

func (l *Lock) TTL() time.Duration { return l.ttl }

// Acquire 槽位空闲或已过期时占用并返回新 lockID；否则原样返回当前持有者。
func (l *Lock) Acquire(holder string) AcquireResult {
	l.mu.Lock()
	now := l.nowFn()
	if l.slot != nil && now.Before(l.slot.ExpiresAt) {
		existing := *l.slot
		l.mu.Unlock()
		logger.Debugf("TradingLock busy holder=%s requested_by=%s", existing.Holder, holder)
		return AcquireResult{Acquired: false, Existing: &existing}
	}
	if l.slot != nil {
		logger.Warnf("TradingLock expired lock reclaimed holder=%s acquired_at=%s", l.slot.Holder, l.slot.AcquiredAt.Format(time.RFC3339))
	}
	rec := &Record{
		LockID:     l.idFn(),
		Holder:     holder,
		AcquiredAt: now,
		ExpiresAt:  now.Add(l.ttl),
	}
	l.slot = rec
	l.mu.Unlock()
	logger.Infof("TradingLock acquired holder=%s lock_id=%s ttl=%s", holder, rec.LockID, l.ttl)
	return AcquireResult{Acquired: true, LockID: rec.LockID}
}

// Release 仅当 lockID 与当前持有者一致时释放，防止过期调用方误释放他人的锁。
func (l *Lock) Release(lockID string) bool {
	l.mu.Lock()
	if l.slot == nil || l.slot.LockID != lockID {
		l.mu.Unlock()
		return false
	}
	holder := l.slot.Holder
	l.slot = nil
	l.mu.Unlock()
	logger.Infof("TradingLock released holder=%s lock_id=%s", holder, lockID)
	return true
}

// ForceRelease 无条件清空槽位，返回之前是否被占用。
func (l *Lock) ForceRelease() bool {
	l.mu.Lock()
	prev := l.slot
	l.slot = nil
	l.mu.Unlock()
	if prev == nil {
		return false
	}
	logger.Warnf("TradingLock force released holder=%s lock_id=%s", prev.Holder, prev.LockID)
	return true
}

func (l *Lock) Status() Status {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.slot == nil || !l.nowFn().Before(l.slot.ExpiresAt) {
		return Status{}
	}
	rec := *l.slot
	return Status{Locked: true, Lock: &rec}
}

// Outcome 是 WithLock 的结果；Skipped 表示锁被占用，本轮跳过。
type Outcome[T any] struct {
	Skipped  bool
	Existing *Record
	Result   T
}

// WithLock 尝试一次获取锁：失败立即返回 Skipped；成功则执行 fn，
// 无论正常返回、出错还是 panic 都会在返回前释放锁。
func WithLock[T any](ctx context.Context, l *Lock, holder string, fn func(context.Context) (T, error)) (Outcome[T], error) {
	acq := l.Acquire(holder)
	if !acq.Acquired {
		return Outcome[T]{Skipped: true, Existing: acq.Existing}, nil
	}
	defer l.Release(acq.LockID)
	res, err := fn(ctx)
	if err != nil {
		return Outcome[T]{}, err
	}
	return Outcome[T]{Result: res}, nil
}
