package core

import (
	"context"
	"fmt"
	"sync"

	"github.com/gocrud/beans/config"
	"github.com/gocrud/beans/di"
	"github.com/gocrud/beans/logging"
	"go.uber.org/multierr"
)

// 容器中预先注册的基础设施 bean 名称
const (
	ConfigurationBean = "configuration"
	LoggerFactoryBean = "loggerFactory"
)

// Runtime 持有容器、配置、日志与生命周期，是所有 Option 的作用对象
type Runtime struct {
	// Container 受管对象容器
	Container *di.Container

	// Configuration 合并后的配置
	Configuration config.Configuration

	// Logging 日志工厂，Logger 为 "runtime" 类别
	Logging logging.LoggerFactory
	Logger  logging.Logger

	// Lifecycle 生命周期钩子
	Lifecycle *LifecycleEvents

	// ErrorHandler 记录后台服务产生的严重错误，默认写 Error 日志
	ErrorHandler func(err error)

	shutdownOnce sync.Once
	shutdownCh   chan struct{}
}

// NewRuntime 按配置创建运行时
// logging 节决定日志输出，container 节绑定到 di.ContainerOptions
func NewRuntime(cfg config.Configuration) (*Runtime, error) {
	logOpts := config.NewOptionsCache(cfg, "logging", logging.Options{Level: logging.LogLevelInfo})
	builder, err := logging.NewLoggingBuilder().Configure(logOpts.Get())
	if err != nil {
		return nil, err
	}
	factory := builder.Build()

	// 重载配置后调整日志级别
	logOpts.OnChange(func(o logging.Options) {
		factory.SetMinimumLevel(o.Level)
	})

	containerOpts := config.NewOptionsCache(cfg, "container", di.ContainerOptions{}).Get()
	return newRuntime(cfg, factory, di.WithOptions(containerOpts))
}

// NewRuntimeWithContainer 使用指定的容器选项和日志工厂创建运行时，主要用于测试
func NewRuntimeWithContainer(cfg config.Configuration, factory logging.LoggerFactory, opts ...di.ContainerOption) (*Runtime, error) {
	return newRuntime(cfg, factory, opts...)
}

func newRuntime(cfg config.Configuration, factory logging.LoggerFactory, opts ...di.ContainerOption) (*Runtime, error) {
	opts = append([]di.ContainerOption{di.WithLogger(factory.CreateLogger("di"))}, opts...)
	rt := &Runtime{
		Container:     di.NewContainer(opts...),
		Configuration: cfg,
		Logging:       factory,
		Logger:        factory.CreateLogger("runtime"),
		Lifecycle:     NewLifecycle(),
		shutdownCh:    make(chan struct{}),
	}
	rt.ErrorHandler = func(err error) {
		rt.Logger.Error("runtime error", logging.Err(err))
	}

	if err := rt.Container.RegisterSingleton(ConfigurationBean, cfg, di.WithTypeOf[config.Configuration]()); err != nil {
		return nil, err
	}
	if err := rt.Container.RegisterSingleton(LoggerFactoryBean, factory, di.WithTypeOf[logging.LoggerFactory]()); err != nil {
		return nil, err
	}
	return rt, nil
}

// Apply 应用多个 Option，遇到第一个错误即返回
func (rt *Runtime) Apply(opts ...Option) error {
	for _, opt := range opts {
		if err := opt(rt); err != nil {
			return err
		}
	}
	return nil
}

// Provide 注册构造函数 (语法糖)
func (rt *Runtime) Provide(name string, fn di.ConstructorFunc, opts ...di.Option) error {
	return rt.Container.Provide(name, fn, opts...)
}

// Start 创建所有非懒加载单例，然后执行启动钩子
// 任一步失败时已创建的单例与已启动的部分都会被回滚
func (rt *Runtime) Start(ctx context.Context) error {
	if err := rt.Container.Start(ctx); err != nil {
		// 已经急切创建的单例随之销毁
		return multierr.Append(fmt.Errorf("runtime: 启动容器失败: %w", err), rt.Container.Stop(ctx))
	}
	if err := rt.Lifecycle.Start(ctx); err != nil {
		return multierr.Append(fmt.Errorf("runtime: 启动钩子失败: %w", err), rt.Stop(ctx))
	}
	rt.Logger.Info("runtime started")
	return nil
}

// Stop 倒序执行停止钩子，再按创建的逆序销毁单例
func (rt *Runtime) Stop(ctx context.Context) error {
	err := rt.Lifecycle.Stop(ctx)
	err = multierr.Append(err, rt.Container.Stop(ctx))
	if err != nil {
		rt.Logger.Error("runtime stopped with errors", logging.Err(err))
	} else {
		rt.Logger.Info("runtime stopped")
	}
	return err
}

// Close 关闭日志工厂，应在 Stop 之后调用
func (rt *Runtime) Close() error {
	return rt.Logging.Close()
}

// Shutdown 请求应用退出
func (rt *Runtime) Shutdown() {
	rt.shutdownOnce.Do(func() {
		close(rt.shutdownCh)
	})
}

// Done 返回一个通道，当应用需要退出时该通道会关闭
func (rt *Runtime) Done() <-chan struct{} {
	return rt.shutdownCh
}
