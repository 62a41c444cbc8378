package ratelimit

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

// 预置的外部依赖类别。
const (
	RPC       = "rpc"       // 链上 RPC 节点
	LLM       = "llm"       // 大模型 API
	Quote     = "quote"     // 兑换/报价聚合器
	Broadcast = "broadcast" // 通知推送
)

// DefaultConfigs 返回各依赖的保守默认值。
func DefaultConfigs() map[string]Config {
	return map[string]Config{
		RPC:       {Name: RPC, MaxTokens: 10, RefillRate: 10, RefillInterval: time.Second, MaxQueueSize: 100},
		LLM:       {Name: LLM, MaxTokens: 3, RefillRate: 1, RefillInterval: 2 * time.Second, MaxQueueSize: 50},
		Quote:     {Name: Quote, MaxTokens: 5, RefillRate: 5, RefillInterval: time.Second, MaxQueueSize: 50},
		Broadcast: {Name: Broadcast, MaxTokens: 2, RefillRate: 1, RefillInterval: time.Second, MaxQueueSize: 20},
	}
}

// ErrUnknownLimiter 注册表中没有该名称的限流器。
var ErrUnknownLimiter = errors.New("rate limiter not registered")

// Registry 按名称持有预配置的限流器实例，避免调用点各自构造。
type Registry struct {
	mu       sync.RWMutex
	limiters map[string]*Limiter
}

// NewRegistry 为每个配置创建一个限流器；配置名为空时使用 map key。
func NewRegistry(configs map[string]Config) *Registry {
	r := &Registry{limiters: make(map[string]*Limiter, len(configs))}
	for name, cfg := range configs {
		if cfg.Name == "" {
			cfg.Name = name
		}
		r.limiters[name] = New(cfg)
	}
	return r
}

func (r *Registry) Get(name string) (*Limiter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	l, ok := r.limiters[name]
	return l, ok
}

// Lookup 与 Get 相同，但名称不存在时返回 ErrUnknownLimiter。
func (r *Registry) Lookup(name string) (*Limiter, error) {
	l, ok := r.Get(name)
	if !ok {
		return nil, fmt.Errorf("%s: %w", name, ErrUnknownLimiter)
	}
	return l, nil
}

// MustGet 用于启动期装配，名称不存在时 panic。
func (r *Registry) MustGet(name string) *Limiter {
	l, ok := r.Get(name)
	if !ok {
		panic(fmt.Sprintf("ratelimit: limiter %q not registered", name))
	}
	return l
}

func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.limiters))
	for name := range r.limiters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ListAllMetrics 返回所有限流器的指标，按名称排序。
func (r *Registry) ListAllMetrics() []Metrics {
	names := r.Names()
	out := make([]Metrics, 0, len(names))
	for _, name := range names {
		if l, ok := r.Get(name); ok {
			out = append(out, l.Metrics())
		}
	}
	return out
}

// Close 销毁全部限流器。已销毁的实例仍留在注册表中，之后的调用以 ErrShuttingDown 失败。
func (r *Registry) Close() {
	r.mu.RLock()
	limiters := make([]*Limiter, 0, len(r.limiters))
	for _, l := range r.limiters {
		limiters = append(limiters, l)
	}
	r.mu.RUnlock()
	for _, l := range limiters {
		l.Destroy()
	}
}

var (
	defaultOnce     sync.Once
	defaultRegistry *Registry
)

// DefaultRegistry 返回使用 DefaultConfigs 的进程级共享实例，仅为便利。
func DefaultRegistry() *Registry {
	defaultOnce.Do(func() {
		defaultRegistry = NewRegistry(DefaultConfigs())
	})
	return defaultRegistry
}
