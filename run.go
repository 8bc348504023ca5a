package beans

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gocrud/beans/config"
	"github.com/gocrud/beans/core"
	"github.com/gocrud/beans/logging"
	"go.uber.org/multierr"
)

// ShutdownTimeout 优雅关闭的超时时间
var ShutdownTimeout = 30 * time.Second

// Run 使用默认配置启动应用，阻塞到收到 SIGINT 或 SIGTERM
// BEANS_ENV 选择额外的 beans.<env>.yaml，SIGHUP 触发配置重载
func Run(opts ...core.Option) error {
	rt, err := New(DefaultConfiguration(os.Getenv(EnvPrefix+"ENV")), opts...)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)
	go reloadOn(ctx, rt, hup)

	return Serve(ctx, rt)
}

// Serve 启动运行时，直到 ctx 结束或运行时请求退出，然后优雅关闭
func Serve(ctx context.Context, rt *core.Runtime) error {
	if err := rt.Start(ctx); err != nil {
		return multierr.Append(err, rt.Close())
	}

	select {
	case <-ctx.Done():
		rt.Logger.Info("shutdown signal received")
	case <-rt.Done():
		rt.Logger.Info("shutdown requested")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
	defer cancel()
	err := rt.Stop(shutdownCtx)
	return multierr.Append(err, rt.Close())
}

// reloadOn 每收到一次信号重载一次配置，直到 ctx 结束
func reloadOn(ctx context.Context, rt *core.Runtime, signals <-chan os.Signal) {
	cfg, ok := rt.Configuration.(config.ReloadableConfiguration)
	if !ok {
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-signals:
			if err := cfg.Reload(); err != nil {
				rt.Logger.Warn("configuration reload failed", logging.Err(err))
				continue
			}
			rt.Logger.Info("configuration reloaded", logging.Field{Key: "version", Value: cfg.Version()})
		}
	}
}
