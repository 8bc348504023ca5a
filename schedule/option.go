package schedule

import (
	"context"
	"fmt"

	"github.com/gocrud/beans/config"
	"github.com/gocrud/beans/core"
	"github.com/gocrud/beans/di"
	"github.com/gocrud/beans/web"
)

// RunnerBean 容器中的调度器名称
const RunnerBean = "schedule.runner"

type job struct {
	spec string
	name string
	fn   JobFunc
}

// Builder 收集任务定义
type Builder struct {
	options      Options
	jobs         []job
	sweepSpec    string
	sweepEnabled bool
}

// BuilderOption 用于配置 Builder
type BuilderOption func(*Builder)

// WithSeconds 启用秒级精度
func WithSeconds() BuilderOption {
	return func(b *Builder) {
		b.options.Seconds = true
	}
}

// WithLocation 设置时区
func WithLocation(location string) BuilderOption {
	return func(b *Builder) {
		b.options.Location = location
	}
}

// AddJob 添加任务
func AddJob(spec, name string, fn JobFunc) BuilderOption {
	return func(b *Builder) {
		b.jobs = append(b.jobs, job{spec: spec, name: name, fn: fn})
	}
}

// WithSessionSweep 定期清理 web 会话，空闲时间取 web 配置节的 sessionTimeout
func WithSessionSweep(spec string) BuilderOption {
	return func(b *Builder) {
		b.sweepSpec = spec
		b.sweepEnabled = true
	}
}

// New 启用定时任务：读取 schedule 配置节，注册 job 作用域和调度器，并接入生命周期
func New(opts ...BuilderOption) core.Option {
	return func(rt *core.Runtime) error {
		b := &Builder{
			options: config.NewOptionsCache(rt.Configuration, "schedule", Options{}).Get(),
		}
		for _, opt := range opts {
			opt(b)
		}

		runner, err := NewRunner(rt.Container, rt.Logging.CreateLogger("schedule"), b.options)
		if err != nil {
			return err
		}
		for _, j := range b.jobs {
			if err := runner.AddJob(j.spec, j.name, j.fn); err != nil {
				return err
			}
		}
		if err := rt.Container.RegisterSingleton(RunnerBean, runner, di.WithTypeOf[*Runner]()); err != nil {
			return fmt.Errorf("schedule: register runner: %w", err)
		}

		rt.Lifecycle.OnStart(func(ctx context.Context) error {
			if b.sweepEnabled {
				store, err := di.Resolve[*web.SessionStore](ctx, rt.Container, web.SessionsBean)
				if err != nil {
					return fmt.Errorf("schedule: session sweep: %w", err)
				}
				webOpts := config.NewOptionsCache(rt.Configuration, "web", web.DefaultOptions()).Get()
				if err := EverySweep(runner, store, b.sweepSpec, webOpts.SessionMaxIdle()); err != nil {
					return err
				}
			}
			return runner.Start(ctx)
		})
		rt.Lifecycle.OnStop(runner.Stop)
		return nil
	}
}
