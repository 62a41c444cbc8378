package app

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"tradegate/internal/agent/engine"
	"tradegate/internal/config"
	"tradegate/internal/gateway/notifier"
	"tradegate/internal/gateway/remote"
	"tradegate/internal/logger"
	"tradegate/internal/metrics"
	"tradegate/internal/pkg/circuit"
	"tradegate/internal/pkg/ratelimit"
	"tradegate/internal/pkg/tradelock"
	"tradegate/internal/scheduler"
	"tradegate/internal/store/audit"
	livehttp "tradegate/internal/transport/http/live"
)

const activationNotifyTimeout = 30 * time.Second

// Backend 是一组 agent 以及它们共用的组合快照与成交执行来源。
type Backend struct {
	Agents     []engine.Agent
	Portfolios engine.PortfolioSource
	Executor   engine.Executor
}

type AppBuilder struct {
	cfg        *config.Config
	configPath string

	backendFn  func(config.BackendConfig) (*Backend, error)
	notifierFn func(config.NotifyConfig) notifier.TextNotifier
	auditFn    func(config.AuditConfig) (*audit.Store, error)
}

type AppBuilderOption func(*AppBuilder)

// WithConfigPath 启用配置热加载：熔断阈值变更后直接下发到运行中的熔断器。
func WithConfigPath(path string) AppBuilderOption {
	return func(b *AppBuilder) { b.configPath = strings.TrimSpace(path) }
}

// WithBackend 替换远端交易后端，主要用于测试与本地回放。
func WithBackend(backend *Backend) AppBuilderOption {
	return func(b *AppBuilder) {
		b.backendFn = func(config.BackendConfig) (*Backend, error) { return backend, nil }
	}
}

func WithTextNotifier(n notifier.TextNotifier) AppBuilderOption {
	return func(b *AppBuilder) {
		b.notifierFn = func(config.NotifyConfig) notifier.TextNotifier { return n }
	}
}

func NewAppBuilder(cfg *config.Config, opts ...AppBuilderOption) *AppBuilder {
	b := &AppBuilder{
		cfg:        cfg,
		backendFn:  buildRemoteBackend,
		notifierFn: newTelegram,
		auditFn:    openAuditStore,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	return b
}

func (b *AppBuilder) Build(ctx context.Context) (*App, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if b.cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	cfg := b.cfg
	logger.SetLevel(cfg.App.LogLevel)
	logFile, err := setupLogOutput(cfg.App.LogPath)
	if err != nil {
		return nil, err
	}

	breaker := circuit.New(cfg.Breaker.Circuit(),
		circuit.WithActivationLogSize(cfg.Breaker.ActivationLogSize),
		circuit.WithStatusRecent(cfg.Breaker.StatusRecent),
	)
	limiters := ratelimit.NewRegistry(cfg.RateLimitConfigs())
	lock := tradelock.New(tradelock.WithTTL(cfg.Lock.TTL()))

	// 构建失败时回收已创建的资源
	success := false
	var store *audit.Store
	defer func() {
		if success {
			return
		}
		limiters.Close()
		if store != nil {
			_ = store.Close()
		}
		if logFile != nil {
			_ = logFile.Close()
		}
	}()

	store, err = b.auditFn(cfg.Audit)
	if err != nil {
		return nil, fmt.Errorf("初始化审计存储失败: %w", err)
	}

	var structured engine.Notifier
	var text notifier.TextNotifier
	if tn := b.notifierFn(cfg.Notify); tn != nil {
		text = notifier.NewLimited(tn, limiters.MustGet(ratelimit.Broadcast))
		structured = notifier.StructuredNotifier{Text: text}
	}

	reg := metrics.NewRegistry(limiters, breaker, lock)
	breaker.SetActivationHandler(activationFanout(ctx, reg, store, text))

	backend, err := b.backendFn(cfg.Backend)
	if err != nil {
		return nil, fmt.Errorf("初始化交易后端失败: %w", err)
	}
	if backend == nil {
		backend = &Backend{}
	}

	params := engine.Params{
		Agents:     backend.Agents,
		Portfolios: backend.Portfolios,
		Executor:   backend.Executor,
		Breaker:    breaker,
		Lock:       lock,
		Limiters:   limiters,
		Notifier:   structured,
		Observer:   reg,
		Holder:     cfg.Round.Holder,
		DryRun:     cfg.Round.DryRun,
		Jitter:     cfg.Round.Jitter,
	}
	if store != nil {
		params.Audit = store
	}
	eng := engine.New(params)

	interval, err := scheduler.ParseIntervalDuration(cfg.Round.Interval)
	if err != nil {
		return nil, fmt.Errorf("round.interval: %w", err)
	}
	sched := scheduler.NewRoundScheduler(interval, time.Duration(cfg.Round.OffsetSeconds)*time.Second)
	sched.RunImmediately = cfg.Round.RunImmediately

	router := &livehttp.Router{
		Breaker:  breaker,
		Limiters: limiters,
		Lock:     lock,
		Rounds:   eng,
	}
	if store != nil {
		router.Audit = store
	}
	server, err := livehttp.NewServer(livehttp.ServerConfig{
		Addr:    cfg.App.HTTPAddr,
		Router:  router,
		Metrics: reg.Handler(),
	})
	if err != nil {
		return nil, err
	}

	var watcher *config.Watcher
	if b.configPath != "" {
		watcher, err = config.NewWatcher(b.configPath, cfg)
		if err != nil {
			return nil, fmt.Errorf("配置热加载初始化失败: %w", err)
		}
		watcher.Subscribe(func(patch circuit.ConfigPatch) {
			next := breaker.Configure(patch)
			logger.Infof("Breaker config reloaded: max_trade=%.2f loss=%.2f%% cooldown=%ds position=%.2f%% daily=%d",
				next.MaxTradeNotional, next.DailyLossLimitPercent, next.CooldownSeconds, next.PositionLimitPercent, next.MaxDailyTrades)
		})
	}

	success = true
	return &App{
		cfg:       cfg,
		engine:    eng,
		scheduler: sched,
		liveHTTP:  server,
		limiters:  limiters,
		breaker:   breaker,
		lock:      lock,
		audit:     store,
		metrics:   reg,
		watcher:   watcher,
		logFile:   logFile,
		Summary:   newStartupSummary(cfg, eng.Agents, limiters),
	}, nil
}

// activationFanout 把熔断事件同步写入指标与审计，阻断类事件异步推送通知。
func activationFanout(ctx context.Context, reg *metrics.Registry, store *audit.Store, text notifier.TextNotifier) func(circuit.Activation) {
	return func(a circuit.Activation) {
		if reg != nil {
			reg.ObserveActivation(a)
		}
		if store != nil {
			if err := store.SaveActivation(context.WithoutCancel(ctx), a); err != nil {
				logger.Warnf("Audit: save activation failed: %v", err)
			}
		}
		if text == nil || a.Outcome != circuit.OutcomeBlocked {
			return
		}
		msg := notifier.ActivationMessage(a)
		go func() {
			sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), activationNotifyTimeout)
			defer cancel()
			if err := (notifier.StructuredNotifier{Text: text}).SendStructured(sendCtx, msg); err != nil {
				logger.Warnf("Notify: activation %s/%s failed: %v", a.Breaker, a.AgentID, err)
			}
		}()
	}
}

func setupLogOutput(path string) (*os.File, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, nil
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create log dir: %w", err)
		}
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	logger.SetOutput(io.MultiWriter(os.Stdout, f))
	return f, nil
}

func openAuditStore(cfg config.AuditConfig) (*audit.Store, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	return audit.Open(cfg.Path)
}

func newTelegram(cfg config.NotifyConfig) notifier.TextNotifier {
	tg := cfg.Telegram
	if !tg.Enabled {
		return nil
	}
	return notifier.NewTelegram(tg.BotToken, tg.ChatID)
}

func buildRemoteBackend(cfg config.BackendConfig) (*Backend, error) {
	if !cfg.Enabled() {
		logger.Warnf("backend.url 未配置，交易轮次不会调度任何 agent")
		return nil, nil
	}
	client, err := remote.NewClient(remote.Config{
		BaseURL:        cfg.URL,
		APIToken:       cfg.APIToken,
		TimeoutSeconds: cfg.TimeoutSeconds,
	})
	if err != nil {
		return nil, err
	}
	remoteAgents := client.Agents(cfg.Agents)
	agents := make([]engine.Agent, 0, len(remoteAgents))
	for _, a := range remoteAgents {
		agents = append(agents, a)
	}
	return &Backend{Agents: agents, Portfolios: client, Executor: client}, nil
}
