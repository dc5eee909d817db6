package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mautops/moneylens/internal/api"
	"github.com/mautops/moneylens/internal/config"
	"github.com/mautops/moneylens/internal/container"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// shutdownTimeout 优雅关闭的最长等待时间
const shutdownTimeout = 5 * time.Second

// serverCmd represents the server command
var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Start the API server",
	Long: `Start the MoneyLens API server.
The server provides the transaction store, the chain gateway, the public
ledger view and the live websocket feed, and runs the anchor worker.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		// 1. 加载配置
		cfg, logger, configPath, err := loadRuntime(cmd)
		if err != nil {
			return err
		}
		applyServerFlags(cmd, cfg)
		if config.IsProduction(cfg) {
			gin.SetMode(gin.ReleaseMode)
		}

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		// 2. 初始化容器
		ctr, err := container.NewContainer(ctx, cfg, logger)
		if err != nil {
			return fmt.Errorf("failed to initialize container: %w", err)
		}
		defer ctr.Close()

		// 3. 链路追踪
		shutdownTracing, err := initTracing(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer shutdownTracing()

		// 4. 后台任务与配置热更新
		if err := ctr.Start(ctx); err != nil {
			return err
		}
		watcher := watchConfig(cfg, configPath, logger)
		if watcher != nil {
			defer watcher.Stop()
		}

		// 5. 启动服务器
		router := api.SetupRoutes(ctr.Dependencies())
		return serve(ctx, cfg, router, logger)
	},
}

func init() {
	rootCmd.AddCommand(serverCmd)

	// 服务器配置标志
	serverCmd.Flags().String("host", "", "Server host (overrides config)")
	serverCmd.Flags().Int("port", 0, "Server port (overrides config)")
}

// applyServerFlags 命令行参数优先于配置文件
func applyServerFlags(cmd *cobra.Command, cfg *config.Config) {
	if host, _ := cmd.Flags().GetString("host"); host != "" {
		cfg.Server.Host = host
	}
	if port, _ := cmd.Flags().GetInt("port"); port > 0 {
		cfg.Server.Port = port
	}
}

// initTracing 按配置启用 Jaeger 导出
func initTracing(ctx context.Context, cfg *config.Config, logger *logrus.Logger) (func(), error) {
	if !cfg.Tracing.Enabled {
		return func() {}, nil
	}
	shutdown, err := api.InitTracing(ctx, api.ServiceName, cfg.Tracing.JaegerEndpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize tracing: %w", err)
	}
	return func() {
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := shutdown(sctx); err != nil {
			logger.WithError(err).Warn("failed to flush traces")
		}
	}, nil
}

// watchConfig 配置文件变化时重新应用日志级别
func watchConfig(cfg *config.Config, configPath string, logger *logrus.Logger) *config.ConfigWatcher {
	if configPath == "" {
		return nil
	}
	watcher := config.NewConfigWatcher(cfg, configPath, logger)
	watcher.OnConfigChange(func(next *config.Config) {
		if api.ApplyLevel(logger, next.Log.Level) {
			logger.WithField("level", next.Log.Level).Info("log level updated")
		}
	})
	if err := watcher.Start(); err != nil {
		logger.WithError(err).Warn("config watcher disabled")
		return nil
	}
	return watcher
}

// serve 监听端口直到 ctx 取消，然后优雅关闭
func serve(ctx context.Context, cfg *config.Config, handler http.Handler, logger *logrus.Logger) error {
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.WithField("addr", addr).Info("server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("failed to start server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down server")
	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	logger.Info("server exited")
	return nil
}
