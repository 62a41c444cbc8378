package app

import (
	"context"
	"fmt"
	"net/http"
	"os"

	"tradegate/internal/agent/engine"
	"tradegate/internal/config"
	"tradegate/internal/logger"
	"tradegate/internal/metrics"
	"tradegate/internal/pkg/circuit"
	"tradegate/internal/pkg/ratelimit"
	"tradegate/internal/pkg/tradelock"
	"tradegate/internal/scheduler"
	"tradegate/internal/store/audit"
	livehttp "tradegate/internal/transport/http/live"

	"golang.org/x/sync/errgroup"
)

// App 负责应用级编排：加载配置→初始化风控核心→启动轮次调度与管理接口。
type App struct {
	cfg       *config.Config
	engine    *engine.Engine
	scheduler *scheduler.RoundScheduler
	liveHTTP  *livehttp.Server
	limiters  *ratelimit.Registry
	breaker   *circuit.Breaker
	lock      *tradelock.Lock
	audit     *audit.Store
	metrics   *metrics.Registry
	watcher   *config.Watcher
	logFile   *os.File
	Summary   *StartupSummary
}

// NewApp 根据配置构建应用对象（不启动）
func NewApp(cfg *config.Config, opts ...AppBuilderOption) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	logger.SetLevel(cfg.App.LogLevel)
	return buildAppWithWire(context.Background(), cfg, opts)
}

// Run 启动管理接口与轮次调度，ctx 结束后释放限流器与存储。
func (a *App) Run(ctx context.Context) error {
	if a == nil || a.cfg == nil {
		return fmt.Errorf("app not initialized")
	}
	defer a.Close()

	if a.Summary != nil {
		a.Summary.Print()
	}

	group, ctx := errgroup.WithContext(ctx)
	if a.liveHTTP != nil {
		group.Go(func() error {
			if err := a.liveHTTP.Start(ctx); err != nil {
				return fmt.Errorf("live http server error: %w", err)
			}
			return nil
		})
	}

	if len(a.engine.Agents) == 0 {
		logger.Warnf("未配置任何 agent，仅启动管理接口")
	} else {
		group.Go(func() error {
			err := a.engine.Run(ctx, a.scheduler)
			if ctx.Err() != nil {
				return nil
			}
			return err
		})
	}
	return group.Wait()
}

// Close 停止配置监听，销毁限流器（排队调用以 ErrShuttingDown 失败）并关闭审计库。可重复调用。
func (a *App) Close() {
	if a == nil {
		return
	}
	if a.watcher != nil {
		if err := a.watcher.Close(); err != nil {
			logger.Warnf("Config: close watcher failed: %v", err)
		}
		a.watcher = nil
	}
	if a.limiters != nil {
		a.limiters.Close()
	}
	if a.audit != nil {
		if err := a.audit.Close(); err != nil {
			logger.Warnf("Audit: close failed: %v", err)
		}
		a.audit = nil
	}
	if a.logFile != nil {
		logger.SetOutput(os.Stdout)
		_ = a.logFile.Close()
		a.logFile = nil
	}
}

// Engine exposes the round engine (for tests and one-shot CLI rounds).
func (a *App) Engine() *engine.Engine {
	if a == nil {
		return nil
	}
	return a.engine
}

func (a *App) Breaker() *circuit.Breaker {
	if a == nil {
		return nil
	}
	return a.breaker
}

// Handler 返回管理接口的 http.Handler，不监听端口。
func (a *App) Handler() http.Handler {
	if a == nil || a.liveHTTP == nil {
		return nil
	}
	return a.liveHTTP.Handler()
}
