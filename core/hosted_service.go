package core

import (
	"context"
	"errors"
	"fmt"

	"github.com/gocrud/beans/logging"
)

// HostedService 定义了一个具有启动和停止生命周期的托管服务
type HostedService interface {
	// Start 在独立的 goroutine 中调用，允许阻塞到 ctx 取消
	// 返回非 context 取消类错误时运行时会请求退出
	Start(ctx context.Context) error

	// Stop 在应用关闭时调用，必须支持通过 ctx 进行超时控制
	Stop(ctx context.Context) error
}

// WithHostedService 将容器中名为 name 的 bean 作为托管服务运行
// bean 在启动阶段解析，因此可以依赖任意单例
func WithHostedService(name string) Option {
	return func(rt *Runtime) error {
		var (
			svc    HostedService
			cancel context.CancelFunc
		)

		rt.Lifecycle.OnStart(func(ctx context.Context) error {
			v, err := rt.Container.GetInstance(ctx, name)
			if err != nil {
				return fmt.Errorf("runtime: 解析后台服务 %q 失败: %w", name, err)
			}
			hs, ok := v.(HostedService)
			if !ok {
				return fmt.Errorf("runtime: bean %q (%T) 没有实现 core.HostedService", name, v)
			}
			svc = hs

			var svcCtx context.Context
			svcCtx, cancel = context.WithCancel(context.Background())
			rt.Logger.Debug("hosted service starting", logging.Field{Key: "name", Value: name})
			go rt.runBackground(name, func() error { return hs.Start(svcCtx) })
			return nil
		})

		rt.Lifecycle.OnStop(func(ctx context.Context) error {
			if cancel != nil {
				cancel()
			}
			if svc == nil {
				return nil
			}
			if err := svc.Stop(ctx); err != nil {
				return fmt.Errorf("runtime: 停止后台服务 %q 失败: %w", name, err)
			}
			return nil
		})
		return nil
	}
}

// WorkerFunc 定义简单的后台任务函数，通过 ctx.Done() 判断退出
type WorkerFunc func(ctx context.Context) error

// WithWorker 将一个阻塞的函数注册为后台服务
func WithWorker(name string, fn WorkerFunc) Option {
	return func(rt *Runtime) error {
		var cancel context.CancelFunc

		rt.Lifecycle.OnStart(func(ctx context.Context) error {
			var workerCtx context.Context
			workerCtx, cancel = context.WithCancel(context.Background())
			go rt.runBackground(name, func() error { return fn(workerCtx) })
			return nil
		})

		rt.Lifecycle.OnStop(func(ctx context.Context) error {
			if cancel != nil {
				cancel()
			}
			return nil
		})
		return nil
	}
}

// runBackground 执行后台任务，异常退出时记录错误并请求关闭
func (rt *Runtime) runBackground(name string, run func() error) {
	err := run()
	if err == nil || errors.Is(err, context.Canceled) {
		rt.Logger.Debug("background service exited", logging.Field{Key: "name", Value: name})
		return
	}
	if rt.ErrorHandler != nil {
		rt.ErrorHandler(fmt.Errorf("runtime: 后台服务 %q 异常退出: %w", name, err))
	}
	rt.Shutdown()
}

