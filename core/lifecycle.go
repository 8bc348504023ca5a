package core

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/multierr"
)

// Hook 生命周期钩子
type Hook func(context.Context) error

type lifecycleState int

const (
	stateIdle lifecycleState = iota
	stateStarted
	stateStopped
)

// LifecycleEvents 保存启动与停止钩子
// 停止钩子倒序执行且只执行一次，之后再注册的钩子不会运行
type LifecycleEvents struct {
	mu      sync.Mutex
	state   lifecycleState
	onStart []Hook
	onStop  []Hook
}

func NewLifecycle() *LifecycleEvents {
	return &LifecycleEvents{}
}

func (l *LifecycleEvents) OnStart(fn Hook) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.onStart = append(l.onStart, fn)
}

func (l *LifecycleEvents) OnStop(fn Hook) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.onStop = append(l.onStop, fn)
}

// Start 按注册顺序执行启动钩子，ctx 结束或某个钩子失败时立即返回
func (l *LifecycleEvents) Start(ctx context.Context) error {
	l.mu.Lock()
	if l.state != stateIdle {
		l.mu.Unlock()
		return fmt.Errorf("runtime: 生命周期已经启动")
	}
	l.state = stateStarted
	hooks := append([]Hook(nil), l.onStart...)
	l.mu.Unlock()

	for i, fn := range hooks {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(ctx); err != nil {
			return fmt.Errorf("启动钩子 %d: %w", i, err)
		}
	}
	return nil
}

// Stop 倒序执行全部停止钩子，单个失败不影响其余钩子，错误合并返回
func (l *LifecycleEvents) Stop(ctx context.Context) error {
	l.mu.Lock()
	if l.state == stateStopped {
		l.mu.Unlock()
		return nil
	}
	l.state = stateStopped
	hooks := append([]Hook(nil), l.onStop...)
	l.mu.Unlock()

	var errs error
	for i := len(hooks) - 1; i >= 0; i-- {
		errs = multierr.Append(errs, hooks[i](ctx))
	}
	return errs
}
