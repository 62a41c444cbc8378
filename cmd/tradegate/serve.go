package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"tradegate/internal/app"
	"tradegate/internal/config"
	"tradegate/internal/logger"

	"github.com/spf13/cobra"
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	var watch bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the trading round scheduler and the admin HTTP API",
		Long: `Serve loads the config, starts the admin API (/api/live, /metrics, /healthz)
and runs a trading round on every schedule boundary until interrupted.

Example:
  tradegate serve -c configs/config.yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(opts.configPath)
			if err != nil {
				return fmt.Errorf("读取配置失败: %w", err)
			}
			logger.SetLevel(cfg.App.LogLevel)
			logger.Infof("✓ 配置加载成功（环境=%s，配置=%s）", cfg.App.Env, opts.configPath)

			var appOpts []app.AppBuilderOption
			if watch {
				appOpts = append(appOpts, app.WithConfigPath(opts.configPath))
			}
			a, err := app.NewApp(cfg, appOpts...)
			if err != nil {
				return fmt.Errorf("初始化应用失败: %w", err)
			}
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			if err := a.Run(ctx); err != nil {
				return fmt.Errorf("运行失败: %w", err)
			}
			logger.Infof("tradegate stopped")
			return nil
		},
	}
	cmd.Flags().BoolVar(&watch, "watch", true, "hot-reload breaker thresholds when the config file changes")
	return cmd
}
