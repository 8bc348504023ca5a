package schedule

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/gocrud/beans/di"
	"github.com/gocrud/beans/logging"
	"github.com/robfig/cron/v3"
)

// ScopeJob 每次任务执行对应一个 job 作用域
const ScopeJob = "job"

// JobFunc 任务函数，ctx 上附带本次执行的 job 作用域
type JobFunc func(ctx context.Context, c *di.Container) error

// Options schedule 配置节
type Options struct {
	// Seconds 启用秒级精度
	Seconds bool `json:"seconds" yaml:"seconds"`
	// Location 时区，默认 UTC
	Location string `json:"location" yaml:"location"`
	// Verbose 输出 cron 库的调度日志
	Verbose bool `json:"verbose" yaml:"verbose"`
}

// Runner 基于 robfig/cron 的任务调度器
type Runner struct {
	cron      *cron.Cron
	container *di.Container
	logger    logging.Logger

	mu   sync.RWMutex
	jobs map[string]cron.EntryID

	ctx    context.Context
	cancel context.CancelFunc
}

// NewRunner 创建调度器，并在容器上注册 job 作用域
func NewRunner(container *di.Container, logger logging.Logger, opts Options) (*Runner, error) {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	loc := time.UTC
	if opts.Location != "" {
		l, err := time.LoadLocation(opts.Location)
		if err != nil {
			return nil, fmt.Errorf("schedule: location %q: %w", opts.Location, err)
		}
		loc = l
	}
	if err := container.RegisterScope(ScopeJob, di.NewExternalScope(ScopeJob)); err != nil {
		return nil, err
	}

	adapter := newCronLogger(logger)
	cronOpts := []cron.Option{
		cron.WithLocation(loc),
		cron.WithChain(cron.Recover(adapter)),
	}
	if opts.Verbose {
		cronOpts = append(cronOpts, cron.WithLogger(adapter))
	}
	if opts.Seconds {
		cronOpts = append(cronOpts, cron.WithSeconds())
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Runner{
		cron:      cron.New(cronOpts...),
		container: container,
		logger:    logger,
		jobs:      make(map[string]cron.EntryID),
		ctx:       ctx,
		cancel:    cancel,
	}, nil
}

// AddJob 添加定时任务，同名任务会被替换
// spec: cron 表达式，如 "*/5 * * * *" 或 "@every 1m"
func (r *Runner) AddJob(spec, name string, fn JobFunc) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	id, err := r.cron.AddFunc(spec, func() {
		if err := r.RunOnce(r.ctx, name, fn); err != nil {
			r.logger.Error("job failed", logging.Field{Key: "job", Value: name}, logging.Err(err))
		}
	})
	if err != nil {
		return fmt.Errorf("schedule: add job %q: %w", name, err)
	}
	if old, ok := r.jobs[name]; ok {
		r.cron.Remove(old)
	}
	r.jobs[name] = id
	r.logger.Info("job registered",
		logging.Field{Key: "job", Value: name},
		logging.Field{Key: "spec", Value: spec})
	return nil
}

// Remove 移除任务
func (r *Runner) Remove(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if id, ok := r.jobs[name]; ok {
		r.cron.Remove(id)
		delete(r.jobs, name)
		r.logger.Info("job removed", logging.Field{Key: "job", Value: name})
	}
}

// Jobs 已注册的任务名，按名称排序
func (r *Runner) Jobs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.jobs))
	for name := range r.jobs {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Next 任务下一次执行时间，未启动或不存在时为零值
func (r *Runner) Next(name string) time.Time {
	r.mu.RLock()
	id, ok := r.jobs[name]
	r.mu.RUnlock()
	if !ok {
		return time.Time{}
	}
	return r.cron.Entry(id).Next
}

// RunOnce 在新的 job 作用域中执行一次任务，结束后销毁该作用域
func (r *Runner) RunOnce(ctx context.Context, name string, fn JobFunc) (err error) {
	attrs := di.NewAttributes(ScopeJob)
	start := time.Now()
	r.logger.Debug("job started", logging.Field{Key: "job", Value: name})

	defer func() {
		if derr := r.container.CompleteScope(attrs); derr != nil {
			r.logger.Error("job scope disposal failed", logging.Field{Key: "job", Value: name}, logging.Err(derr))
		}
		r.logger.Debug("job completed",
			logging.Field{Key: "job", Value: name},
			logging.Field{Key: "duration", Value: time.Since(start)})
	}()

	return fn(di.WithScopeContext(ctx, ScopeJob, attrs), r.container)
}

// Start 开始调度
func (r *Runner) Start(ctx context.Context) error {
	r.logger.Info("scheduler starting", logging.Field{Key: "jobs", Value: len(r.Jobs())})
	r.cron.Start()
	return nil
}

// Stop 停止调度，等待正在执行的任务结束或 ctx 超时
func (r *Runner) Stop(ctx context.Context) error {
	r.logger.Info("scheduler stopping")
	r.cancel()
	stopCtx := r.cron.Stop()
	select {
	case <-stopCtx.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Sweeper 可以按空闲时间清理的会话存储
type Sweeper interface {
	Sweep(maxIdle time.Duration) (int, error)
}

// EverySweep 定期清理空闲会话
func EverySweep(r *Runner, store Sweeper, spec string, maxIdle time.Duration) error {
	return r.AddJob(spec, "session-sweep", func(ctx context.Context, _ *di.Container) error {
		n, err := store.Sweep(maxIdle)
		if n > 0 {
			r.logger.Info("sessions expired", logging.Field{Key: "count", Value: n})
		}
		return err
	})
}

// cronLogger 适配器：将框架日志接口适配到 cron 的日志接口
type cronLogger struct {
	logger logging.Logger
}

func newCronLogger(logger logging.Logger) cron.Logger {
	return &cronLogger{logger: logger}
}

func (l *cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug(msg, convertToFields(keysAndValues)...)
}

func (l *cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error(msg, append(convertToFields(keysAndValues), logging.Err(err))...)
}

func convertToFields(keysAndValues []any) []logging.Field {
	fields := make([]logging.Field, 0, len(keysAndValues)/2)
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		fields = append(fields, logging.Field{Key: fmt.Sprint(keysAndValues[i]), Value: keysAndValues[i+1]})
	}
	return fields
}
